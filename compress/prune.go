package compress

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/randalmurphal/llmflow/provider"
)

// pruneExcerptLen caps the excerpt carried in the one-line prune summary.
const pruneExcerptLen = 120

// PruneResult is the outcome of a prune pass.
type PruneResult struct {
	// Messages is the pruned history: one synthetic summary line followed
	// by the retained recent exchanges.
	Messages []provider.Message

	// Dropped is the number of messages replaced by the summary.
	Dropped int
}

// Prune drops all but the last keepExchanges exchanges, replacing the
// dropped content with a single best-effort one-line summary. This is a
// looser guarantee than Compress (detail is lost) but needs no external
// summarizer and always succeeds when the retained window itself fits.
func Prune(history []provider.Message, keepExchanges int) PruneResult {
	if keepExchanges <= 0 {
		keepExchanges = DefaultKeepRecentExchanges
	}
	keep := keepExchanges * 2
	if len(history) <= keep {
		return PruneResult{Messages: history}
	}

	dropped := history[:len(history)-keep]
	recent := history[len(history)-keep:]

	out := make([]provider.Message, 0, len(recent)+1)
	out = append(out, provider.NewSummary(pruneLine(dropped), dropped[len(dropped)-1].Timestamp))
	out = append(out, recent...)
	return PruneResult{Messages: out, Dropped: len(dropped)}
}

// pruneLine builds the one-line synthetic summary for dropped messages:
// a count plus a boundary-truncated excerpt of the first user message.
func pruneLine(dropped []provider.Message) string {
	excerpt := ""
	for _, m := range dropped {
		if m.Role == provider.RoleUser && m.Content != "" {
			excerpt = smartCut(oneLine(m.Content), pruneExcerptLen)
			break
		}
	}
	if excerpt == "" {
		return fmt.Sprintf("[%d earlier messages omitted]", len(dropped))
	}
	return fmt.Sprintf("[%d earlier messages omitted; began with: %s]", len(dropped), excerpt)
}

// oneLine collapses whitespace so the summary stays a single line.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// smartCut truncates at a word or sentence boundary near maxLen, falling
// back to a hard cut when no good break point exists.
func smartCut(text string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if utf8.RuneCountInString(text) <= maxLen {
		return text
	}

	runes := []rune(text)
	breakPoint := maxLen - 3 // reserve for "..."

	for i := breakPoint; i > maxLen/2; i-- {
		if runes[i] == '.' || runes[i] == '!' || runes[i] == '?' {
			return string(runes[:i+1])
		}
	}
	for i := breakPoint; i > maxLen/2; i-- {
		if runes[i] == ' ' {
			return string(runes[:i]) + "..."
		}
	}
	return string(runes[:breakPoint]) + "..."
}
