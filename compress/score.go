package compress

import (
	"math"
	"sort"
	"strings"

	"github.com/randalmurphal/llmflow/provider"
)

// scoreMessages returns a scored copy of the older segment. System
// messages and existing summaries are pinned at importance 1.0; other
// messages decay by age with the configured half-life, weighted by role.
// The input slice is never mutated.
func (e *Engine) scoreMessages(older []provider.Message) []provider.Message {
	scored := make([]provider.Message, len(older))
	copy(scored, older)

	for i := range scored {
		if scored[i].Role == provider.RoleSystem || scored[i].IsSummary {
			scored[i].Importance = 1.0
			continue
		}
		weight, ok := e.roleWeights[scored[i].Role]
		if !ok {
			weight = 0.5
		}
		age := float64(len(scored) - 1 - i)
		scored[i].Importance = weight * math.Pow(0.5, age/e.halfLife)
	}
	return scored
}

// run is a maximal contiguous range of unpinned messages, a candidate
// summarization batch.
type run struct {
	start, end    int // half-open [start, end)
	avgImportance float64
}

// candidateRuns finds contiguous runs of messages with importance below
// 1.0.
func candidateRuns(scored []provider.Message) []run {
	var runs []run
	start := -1
	for i, m := range scored {
		if m.Importance < 1.0 {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			runs = append(runs, newRun(scored, start, i))
			start = -1
		}
	}
	if start >= 0 {
		runs = append(runs, newRun(scored, start, len(scored)))
	}
	return runs
}

func newRun(scored []provider.Message, start, end int) run {
	sum := 0.0
	for _, m := range scored[start:end] {
		sum += m.Importance
	}
	return run{start: start, end: end, avgImportance: sum / float64(end-start)}
}

// runsByImportance returns run indices ordered lowest average importance
// first, so the least valuable content is summarized away first.
func runsByImportance(runs []run) []int {
	idx := make([]int, len(runs))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool {
		if runs[idx[a]].avgImportance != runs[idx[b]].avgImportance {
			return runs[idx[a]].avgImportance < runs[idx[b]].avgImportance
		}
		return runs[idx[a]].start < runs[idx[b]].start
	})
	return idx
}

// joinRun flattens a batch into the text handed to the summarizer.
func joinRun(batch []provider.Message) string {
	var sb strings.Builder
	for _, m := range batch {
		sb.WriteString("[")
		sb.WriteString(string(m.Role))
		sb.WriteString("]\n")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}

// segmentList rebuilds the older segment with summarized runs spliced in
// place of their original ranges (replace-by-range).
type segmentList struct {
	scored   []provider.Message
	runs     []run
	replaced map[int]provider.Message
}

func makeSegments(scored []provider.Message, runs []run) *segmentList {
	return &segmentList{
		scored:   scored,
		runs:     runs,
		replaced: make(map[int]provider.Message),
	}
}

// replace records the summary standing in for a run.
func (s *segmentList) replace(runIdx int, summary provider.Message) {
	s.replaced[runIdx] = summary
}

// messages materializes the segment: pinned messages verbatim, replaced
// runs as their single summary, unreplaced runs untouched.
func (s *segmentList) messages() []provider.Message {
	var out []provider.Message
	i := 0
	for i < len(s.scored) {
		if idx, r, ok := s.runAt(i); ok {
			if summary, done := s.replaced[idx]; done {
				out = append(out, summary)
			} else {
				out = append(out, s.scored[r.start:r.end]...)
			}
			i = r.end
			continue
		}
		out = append(out, s.scored[i])
		i++
	}
	return out
}

func (s *segmentList) runAt(pos int) (int, run, bool) {
	for idx, r := range s.runs {
		if r.start == pos {
			return idx, r, true
		}
	}
	return 0, run{}, false
}
