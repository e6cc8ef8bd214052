package degrade

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/llmflow/compress"
	"github.com/randalmurphal/llmflow/contextwindow"
	"github.com/randalmurphal/llmflow/provider"
	"github.com/randalmurphal/llmflow/tokens"
)

type stubSummarizer struct {
	summary string
}

func (s stubSummarizer) Summarize(_ context.Context, _ string, _ int) (string, error) {
	return s.summary, nil
}

// byteAccountant counts one token per byte for exact test arithmetic.
func byteAccountant(models ...string) *tokens.Accountant {
	acct := tokens.NewAccountant()
	for _, m := range models {
		acct.Register(m, tokens.ExactFunc(func(text string) int { return len(text) }))
	}
	return acct
}

func history(n, contentLen int) []provider.Message {
	msgs := make([]provider.Message, n)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range msgs {
		role := provider.RoleUser
		if i%2 == 1 {
			role = provider.RoleAssistant
		}
		msgs[i] = provider.Message{
			Role:      role,
			Content:   strings.Repeat("x", contentLen),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}
	}
	return msgs
}

func TestApply_CompressSucceeds(t *testing.T) {
	const model = "big-context"
	acct := byteAccountant(model)
	engine := compress.NewEngine(acct, stubSummarizer{summary: "recap of earlier work"})
	tracker := contextwindow.NewTracker()
	tracker.DeclareCapacity(model, 200000)

	reg := provider.NewRegistry()
	reg.Register(provider.Descriptor{
		ID: "anthropic",
		Models: []provider.ModelInfo{{
			ID: model, Capacity: 200000, Capabilities: []string{"chat"},
		}},
	})

	// History totaling ~190K tokens: 95% of capacity.
	msgs := history(30, 6300)
	count, err := engine.CountHistory(msgs, model)
	require.NoError(t, err)
	_, err = tracker.RecordUsage("conv", model, count, contextwindow.Input)
	require.NoError(t, err)
	pct, err := tracker.UsagePercent("conv", model)
	require.NoError(t, err)
	require.Greater(t, pct, 90.0)

	policy := NewPolicy(engine, tracker, reg)
	out, err := policy.Apply(context.Background(), "conv", msgs, "anthropic", model, []string{"chat"})
	require.NoError(t, err)

	assert.Equal(t, StrategyCompress, out.Strategy)
	assert.Less(t, out.Percent, 50.0, "usage after compression must be under the target")
	assert.Equal(t, "anthropic", out.ProviderID)
	assert.Equal(t, model, out.ModelID)
	require.Len(t, out.Attempts, 1)
	assert.NoError(t, out.Attempts[0].Err)

	// Tracker was reset and re-seeded from the compressed history.
	pct, err = tracker.UsagePercent("conv", model)
	require.NoError(t, err)
	assert.Less(t, pct, 50.0)
}

func TestApply_BudgetTooSmallFallsThroughToPrune(t *testing.T) {
	const model = "mid-context"
	acct := byteAccountant(model)
	// Engine retains 5 exchanges verbatim; the policy prunes down to 2.
	engine := compress.NewEngine(acct, stubSummarizer{summary: "recap"})
	tracker := contextwindow.NewTracker()
	tracker.DeclareCapacity(model, 100000)

	reg := provider.NewRegistry()
	reg.Register(provider.Descriptor{
		ID: "openai",
		Models: []provider.ModelInfo{{
			ID: model, Capacity: 100000, Capabilities: []string{"chat"},
		}},
	})

	// 20 messages of 4500 tokens each: the 10-message retained window
	// (~45K) alone exceeds the 50% target of 50K... keep it tighter:
	// target is 50K, retained window is 45K + overhead, so shrink the
	// budget by raising per-message size.
	msgs := history(20, 5500)
	count, err := engine.CountHistory(msgs, model)
	require.NoError(t, err)
	require.NoError(t, tracker.Seed("conv", model, count))

	policy := NewPolicy(engine, tracker, reg, WithKeepExchanges(2))
	out, err := policy.Apply(context.Background(), "conv", msgs, "openai", model, []string{"chat"})
	require.NoError(t, err)

	assert.Equal(t, StrategyPrune, out.Strategy)
	require.Len(t, out.Attempts, 2)
	assert.ErrorIs(t, out.Attempts[0].Err, compress.ErrBudgetTooSmall)
	assert.NoError(t, out.Attempts[1].Err)

	// Pruned history: one summary line plus the last 2 exchanges.
	require.Len(t, out.Messages, 5)
	assert.True(t, out.Messages[0].IsSummary)
}

func TestApply_SwitchModel(t *testing.T) {
	const small = "small-context"
	const large = "large-context"
	acct := byteAccountant(small, large)
	engine := compress.NewEngine(acct, stubSummarizer{summary: "recap"})
	tracker := contextwindow.NewTracker()
	tracker.DeclareCapacity(small, 32000)

	reg := provider.NewRegistry()
	reg.Register(provider.Descriptor{
		ID: "openai",
		Models: []provider.ModelInfo{{
			ID: small, Capacity: 32000, Capabilities: []string{"chat"},
		}},
	})
	reg.Register(provider.Descriptor{
		ID: "anthropic",
		Models: []provider.ModelInfo{{
			ID: large, Capacity: 200000, Capabilities: []string{"chat"},
		}},
	})

	// Six huge messages: inside the retained window, nothing to compress
	// or prune away, so only a switch can help.
	msgs := history(6, 5000)
	count, err := engine.CountHistory(msgs, small)
	require.NoError(t, err)
	require.NoError(t, tracker.Seed("conv", small, count))

	policy := NewPolicy(engine, tracker, reg, WithKeepExchanges(2))
	out, err := policy.Apply(context.Background(), "conv", msgs, "openai", small, []string{"chat"})
	require.NoError(t, err)

	assert.Equal(t, StrategySwitchModel, out.Strategy)
	assert.Equal(t, "anthropic", out.ProviderID)
	assert.Equal(t, large, out.ModelID)
	assert.Len(t, out.Messages, 6, "history migrates uncompressed")
	assert.Less(t, out.Percent, 50.0)

	// The new pair's tracker is seeded with the migrated history.
	pct, err := tracker.UsagePercent("conv", large)
	require.NoError(t, err)
	assert.Greater(t, pct, 0.0)
}

func TestApply_Exhausted(t *testing.T) {
	const model = "small-context"
	acct := byteAccountant(model)
	engine := compress.NewEngine(acct, stubSummarizer{summary: "recap"})
	tracker := contextwindow.NewTracker()
	tracker.DeclareCapacity(model, 32000)

	reg := provider.NewRegistry()
	reg.Register(provider.Descriptor{
		ID: "openai",
		Models: []provider.ModelInfo{{
			ID: model, Capacity: 32000, Capabilities: []string{"chat"},
		}},
	})

	msgs := history(6, 5000)
	count, err := engine.CountHistory(msgs, model)
	require.NoError(t, err)
	require.NoError(t, tracker.Seed("conv", model, count))

	policy := NewPolicy(engine, tracker, reg, WithKeepExchanges(2))
	out, err := policy.Apply(context.Background(), "conv", msgs, "openai", model, []string{"chat"})
	require.ErrorIs(t, err, ErrExhausted)

	// Every strategy was attempted and logged.
	require.Len(t, out.Attempts, 3)
	assert.Equal(t, StrategyCompress, out.Attempts[0].Strategy)
	assert.Equal(t, StrategyPrune, out.Attempts[1].Strategy)
	assert.Equal(t, StrategySwitchModel, out.Attempts[2].Strategy)
	for _, a := range out.Attempts {
		assert.Error(t, a.Err)
	}
}

func TestLevelFor(t *testing.T) {
	tests := []struct {
		percent float64
		want    Level
	}{
		{0, Normal},
		{49.9, Normal},
		{50, Warning},
		{89.9, Warning},
		{90, Critical},
		{100, Critical},
	}
	for _, tt := range tests {
		got := LevelFor(tt.percent, DefaultWarningPercent, DefaultCriticalPercent)
		assert.Equal(t, tt.want, got, "percent %v", tt.percent)
	}
}
