package degrade

import (
	"context"
	"errors"
	"fmt"

	"github.com/randalmurphal/llmflow/compress"
	"github.com/randalmurphal/llmflow/contextwindow"
	"github.com/randalmurphal/llmflow/provider"
)

// ErrExhausted indicates every degradation strategy failed. The request
// must be rejected; the caller should start a new conversation.
var ErrExhausted = errors.New("all degradation strategies failed: start a new conversation")

// Strategy names one degradation approach, in escalation order.
type Strategy string

// Strategies in strict attempt order.
const (
	StrategyCompress    Strategy = "compress"
	StrategyPrune       Strategy = "prune"
	StrategySwitchModel Strategy = "switch-model"
)

// DefaultTargetPercent is the compression target as a percentage of
// model capacity. A configuration default, not a hard requirement.
const DefaultTargetPercent = 50

// Attempt records one strategy attempt for observability. Attempts are
// reported regardless of outcome and discarded after the request unless
// external audit logging persists them.
type Attempt struct {
	Strategy         Strategy
	Err              error
	ResultingPercent float64
}

// Outcome is the result of a successful policy pass.
type Outcome struct {
	// Strategy is the strategy that succeeded.
	Strategy Strategy

	// Attempts lists every strategy tried, including the winner.
	Attempts []Attempt

	// Messages is the history after degradation.
	Messages []provider.Message

	// ProviderID and ModelID name the execution target after
	// degradation; they differ from the input only on a model switch.
	ProviderID string
	ModelID    string

	// Percent is the tracker usage percentage after degradation.
	Percent float64
}

// Policy attempts compression, pruning, and model switching, in strict
// order, when a conversation approaches its context capacity.
type Policy struct {
	engine        *compress.Engine
	tracker       *contextwindow.Tracker
	registry      *provider.Registry
	targetPercent int
	keepExchanges int
}

// PolicyOption configures a Policy.
type PolicyOption func(*Policy)

// WithTargetPercent overrides the compression target percentage.
func WithTargetPercent(pct int) PolicyOption {
	return func(p *Policy) {
		if pct > 0 && pct <= 100 {
			p.targetPercent = pct
		}
	}
}

// WithKeepExchanges overrides the exchanges retained by the prune
// strategy.
func WithKeepExchanges(n int) PolicyOption {
	return func(p *Policy) {
		if n > 0 {
			p.keepExchanges = n
		}
	}
}

// NewPolicy creates a degradation policy over the given collaborators.
func NewPolicy(engine *compress.Engine, tracker *contextwindow.Tracker, registry *provider.Registry, opts ...PolicyOption) *Policy {
	p := &Policy{
		engine:        engine,
		tracker:       tracker,
		registry:      registry,
		targetPercent: DefaultTargetPercent,
		keepExchanges: compress.DefaultKeepRecentExchanges,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Apply runs the strategy chain for one conversation. required carries
// the capability tags a switched model must still satisfy.
//
// On success the tracker for the active pair has been reset and re-seeded
// from the degraded history, and Outcome names the surviving target. On
// total failure the error is ErrExhausted and the returned Outcome still
// carries the attempt log.
func (p *Policy) Apply(ctx context.Context, conversationID string, history []provider.Message, providerID, modelID string, required []string) (Outcome, error) {
	out := Outcome{ProviderID: providerID, ModelID: modelID, Messages: history}

	desc, err := p.registry.Get(providerID)
	if err != nil {
		return out, err
	}
	model, ok := desc.Model(modelID)
	if !ok {
		return out, fmt.Errorf("degrade conversation %q: model %q not offered by %q", conversationID, modelID, providerID)
	}
	target := model.Capacity * p.targetPercent / 100

	// 1. Compress to the target share of capacity.
	if done, o := p.tryCompress(ctx, &out, conversationID, history, target, modelID); done {
		return o, nil
	}

	// 2. Prune to the last K exchanges.
	if done, o := p.tryPrune(&out, conversationID, history, target, modelID); done {
		return o, nil
	}

	// 3. Switch to a larger-capacity model with compatible capabilities.
	if done, o := p.trySwitch(&out, conversationID, history, model.Capacity, required); done {
		return o, nil
	}

	return out, fmt.Errorf("degrade conversation %q: %w", conversationID, ErrExhausted)
}

func (p *Policy) tryCompress(ctx context.Context, out *Outcome, conversationID string, history []provider.Message, target int, modelID string) (bool, Outcome) {
	res, err := p.engine.Compress(ctx, history, target, modelID)
	switch {
	case err != nil:
		p.record(out, StrategyCompress, err, conversationID, modelID)
		return false, Outcome{}
	case !res.Reduced:
		// Reducing nothing is a no-op, not a success.
		p.record(out, StrategyCompress, errors.New("compression reduced nothing"), conversationID, modelID)
		return false, Outcome{}
	}

	p.tracker.Reset(conversationID, modelID)
	if err := p.tracker.Seed(conversationID, modelID, res.TokenCount); err != nil {
		p.record(out, StrategyCompress, err, conversationID, modelID)
		return false, Outcome{}
	}
	p.record(out, StrategyCompress, nil, conversationID, modelID)
	out.Strategy = StrategyCompress
	out.Messages = res.Messages
	out.Percent, _ = p.tracker.UsagePercent(conversationID, modelID)
	return true, *out
}

func (p *Policy) tryPrune(out *Outcome, conversationID string, history []provider.Message, target int, modelID string) (bool, Outcome) {
	res := compress.Prune(history, p.keepExchanges)
	if res.Dropped == 0 {
		p.record(out, StrategyPrune, errors.New("nothing to prune"), conversationID, modelID)
		return false, Outcome{}
	}
	count, err := p.engine.CountHistory(res.Messages, modelID)
	if err != nil {
		p.record(out, StrategyPrune, err, conversationID, modelID)
		return false, Outcome{}
	}
	if count > target {
		p.record(out, StrategyPrune, fmt.Errorf("pruned history still %d tokens over target %d", count, target), conversationID, modelID)
		return false, Outcome{}
	}

	p.tracker.Reset(conversationID, modelID)
	if err := p.tracker.Seed(conversationID, modelID, count); err != nil {
		p.record(out, StrategyPrune, err, conversationID, modelID)
		return false, Outcome{}
	}
	p.record(out, StrategyPrune, nil, conversationID, modelID)
	out.Strategy = StrategyPrune
	out.Messages = res.Messages
	out.Percent, _ = p.tracker.UsagePercent(conversationID, modelID)
	return true, *out
}

func (p *Policy) trySwitch(out *Outcome, conversationID string, history []provider.Message, currentCapacity int, required []string) (bool, Outcome) {
	candidates, err := p.registry.Find(required, provider.FindOptions{MinCapacity: currentCapacity + 1})
	if err != nil {
		p.record(out, StrategySwitchModel, err, conversationID, out.ModelID)
		return false, Outcome{}
	}

	for _, c := range candidates {
		// The history migrates uncompressed; the new model must be able
		// to count it and hold it.
		count, err := p.engine.CountHistory(history, c.Model.ID)
		if err != nil {
			continue
		}
		if count > c.Model.Capacity {
			continue
		}
		p.tracker.DeclareCapacity(c.Model.ID, c.Model.Capacity)
		p.tracker.Reset(conversationID, c.Model.ID)
		if err := p.tracker.Seed(conversationID, c.Model.ID, count); err != nil {
			continue
		}
		p.record(out, StrategySwitchModel, nil, conversationID, c.Model.ID)
		out.Strategy = StrategySwitchModel
		out.ProviderID = c.ProviderID
		out.ModelID = c.Model.ID
		out.Messages = history
		out.Percent, _ = p.tracker.UsagePercent(conversationID, c.Model.ID)
		return true, *out
	}

	p.record(out, StrategySwitchModel, errors.New("no larger-capacity candidate can hold the history"), conversationID, out.ModelID)
	return false, Outcome{}
}

// record appends one attempt with the tracker's current percentage.
func (p *Policy) record(out *Outcome, s Strategy, err error, conversationID, modelID string) {
	pct, _ := p.tracker.UsagePercent(conversationID, modelID)
	out.Attempts = append(out.Attempts, Attempt{Strategy: s, Err: err, ResultingPercent: pct})
}
