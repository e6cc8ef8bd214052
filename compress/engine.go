package compress

import (
	"context"
	"errors"
	"fmt"

	"github.com/randalmurphal/llmflow/provider"
	"github.com/randalmurphal/llmflow/tokens"
)

// ErrBudgetTooSmall indicates the target budget cannot be met even with
// full summarization: the mandatory retained-recent window alone exceeds
// it. Callers should escalate to pruning or a model switch.
var ErrBudgetTooSmall = errors.New("target budget smaller than retained recent window")

// DefaultKeepRecentExchanges is the number of most recent exchanges
// (user/assistant pairs) always retained verbatim.
const DefaultKeepRecentExchanges = 5

// minSummaryTokens is the floor for a batch summary's output budget.
const minSummaryTokens = 64

// Summarizer reduces text to at most maxOutputTokens. Pluggable; may
// itself be a provider call.
type Summarizer interface {
	Summarize(ctx context.Context, text string, maxOutputTokens int) (string, error)
}

// Result is the outcome of a compression pass.
type Result struct {
	// Messages is the reduced history. When Reduced is false it is the
	// input history unchanged.
	Messages []provider.Message

	// TokenCount is the measured token count of Messages.
	TokenCount int

	// Reduced reports whether the pass changed anything. A pass that
	// fails to reduce usage is a no-op, never a silent success.
	Reduced bool
}

// Engine compresses message histories to fit a token budget. Summaries
// replace ranges of prior messages; originals are never mutated in place.
type Engine struct {
	acct          *tokens.Accountant
	summarizer    Summarizer
	keepExchanges int
	halfLife      float64
	roleWeights   map[provider.Role]float64
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithKeepRecent overrides the number of verbatim-retained recent
// exchanges.
func WithKeepRecent(exchanges int) EngineOption {
	return func(e *Engine) {
		if exchanges > 0 {
			e.keepExchanges = exchanges
		}
	}
}

// WithDecayHalfLife sets the message-age half-life used in importance
// scoring. Age is measured in messages from the end of the older
// segment.
func WithDecayHalfLife(messages float64) EngineOption {
	return func(e *Engine) {
		if messages > 0 {
			e.halfLife = messages
		}
	}
}

// WithRoleWeight overrides the importance weight for a role.
func WithRoleWeight(role provider.Role, weight float64) EngineOption {
	return func(e *Engine) { e.roleWeights[role] = weight }
}

// NewEngine creates a compression engine.
func NewEngine(acct *tokens.Accountant, summarizer Summarizer, opts ...EngineOption) *Engine {
	e := &Engine{
		acct:          acct,
		summarizer:    summarizer,
		keepExchanges: DefaultKeepRecentExchanges,
		halfLife:      20,
		roleWeights: map[provider.Role]float64{
			provider.RoleUser:      0.8,
			provider.RoleAssistant: 0.6,
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CountHistory measures a history's token count under the named model,
// including per-message overhead.
func (e *Engine) CountHistory(history []provider.Message, modelID string) (int, error) {
	contents := make([]string, len(history))
	for i, m := range history {
		contents[i] = m.Content
	}
	est, err := e.acct.CountMessages(contents, modelID)
	if err != nil {
		return 0, err
	}
	return est.Tokens, nil
}

// Compress reduces history to fit targetBudget tokens under the named
// model.
//
// The most recent keep-recent exchanges are always retained verbatim.
// Older messages are importance-scored (system messages pinned at 1.0),
// and contiguous low-importance runs are greedily summarized, lowest
// importance first, until the retained set fits. Compressing a history
// already under budget returns it unchanged.
//
// Fails with ErrBudgetTooSmall when the retained-recent window alone
// exceeds the budget, or when even full summarization cannot fit.
func (e *Engine) Compress(ctx context.Context, history []provider.Message, targetBudget int, modelID string) (Result, error) {
	total, err := e.CountHistory(history, modelID)
	if err != nil {
		return Result{}, err
	}
	if total <= targetBudget {
		return Result{Messages: history, TokenCount: total, Reduced: false}, nil
	}

	recentStart := len(history) - e.keepExchanges*2
	if recentStart < 0 {
		recentStart = 0
	}
	older := history[:recentStart]
	recent := history[recentStart:]

	recentCount, err := e.CountHistory(recent, modelID)
	if err != nil {
		return Result{}, err
	}
	if recentCount > targetBudget {
		return Result{}, fmt.Errorf("compress to %d tokens for %q: %w", targetBudget, modelID, ErrBudgetTooSmall)
	}

	scored := e.scoreMessages(older)
	runs := candidateRuns(scored)

	// Budget available for summaries once pinned and recent messages are
	// accounted for; spread across batches with a floor so a summary is
	// never squeezed into nothing.
	perBatch := minSummaryTokens
	if len(runs) > 0 {
		pinned := 0
		for _, m := range scored {
			if m.Importance >= 1.0 {
				pinned++
			}
		}
		slack := targetBudget - recentCount
		if share := slack / (len(runs) + pinned + 1); share > perBatch {
			perBatch = share
		}
	}

	// Summarize lowest-importance runs first until the result fits.
	segments := makeSegments(scored, runs)
	for _, runIdx := range runsByImportance(runs) {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		run := runs[runIdx]
		text := joinRun(scored[run.start:run.end])
		summary, err := e.summarizer.Summarize(ctx, text, perBatch)
		if err != nil {
			return Result{}, fmt.Errorf("summarize batch [%d:%d]: %w", run.start, run.end, err)
		}
		segments.replace(runIdx, provider.NewSummary(summary, scored[run.end-1].Timestamp))

		candidate := append(segments.messages(), recent...)
		count, err := e.CountHistory(candidate, modelID)
		if err != nil {
			return Result{}, err
		}
		if count <= targetBudget {
			return Result{Messages: candidate, TokenCount: count, Reduced: true}, nil
		}
	}

	// All runs summarized and still over budget.
	candidate := append(segments.messages(), recent...)
	count, err := e.CountHistory(candidate, modelID)
	if err != nil {
		return Result{}, err
	}
	if count <= targetBudget {
		return Result{Messages: candidate, TokenCount: count, Reduced: true}, nil
	}
	return Result{}, fmt.Errorf("compress to %d tokens for %q: full summarization still %d tokens: %w",
		targetBudget, modelID, count, ErrBudgetTooSmall)
}
