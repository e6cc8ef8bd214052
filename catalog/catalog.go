package catalog

import "github.com/randalmurphal/llmflow/provider"

// Capability tags used by the built-in descriptors.
const (
	CapTools       = "tools"
	CapVision      = "vision"
	CapReasoning   = "reasoning"
	CapLongContext = "long-context"
)

// Default returns descriptors for well-known providers with published
// per-million-token pricing (as of 2025). Deployments with their own
// provider config override these entirely; they exist so an empty config
// still yields a working registry.
func Default() []provider.Descriptor {
	return []provider.Descriptor{
		{
			ID:     "anthropic",
			Health: provider.Healthy,
			Models: []provider.ModelInfo{
				{
					ID:                "claude-opus-4",
					Capacity:          200_000,
					InputCostPerMTok:  15.0,
					OutputCostPerMTok: 75.0,
					Capabilities:      []string{CapTools, CapVision, CapReasoning},
				},
				{
					ID:                "claude-sonnet-4",
					Capacity:          200_000,
					InputCostPerMTok:  3.0,
					OutputCostPerMTok: 15.0,
					Capabilities:      []string{CapTools, CapVision},
				},
				{
					ID:                "claude-haiku-3-5",
					Capacity:          200_000,
					InputCostPerMTok:  0.25,
					OutputCostPerMTok: 1.25,
					Capabilities:      []string{CapTools},
				},
			},
		},
		{
			ID:     "openai",
			Health: provider.Healthy,
			Models: []provider.ModelInfo{
				{
					ID:                "gpt-5",
					Capacity:          400_000,
					InputCostPerMTok:  1.25,
					OutputCostPerMTok: 10.0,
					Capabilities:      []string{CapTools, CapVision, CapReasoning, CapLongContext},
				},
				{
					ID:                "gpt-5-mini",
					Capacity:          400_000,
					InputCostPerMTok:  0.25,
					OutputCostPerMTok: 2.0,
					Capabilities:      []string{CapTools, CapLongContext},
				},
			},
		},
		{
			ID:     "google",
			Health: provider.Healthy,
			Models: []provider.ModelInfo{
				{
					ID:                "gemini-2.5-pro",
					Capacity:          1_048_576,
					InputCostPerMTok:  1.25,
					OutputCostPerMTok: 10.0,
					Capabilities:      []string{CapTools, CapVision, CapReasoning, CapLongContext},
				},
				{
					ID:                "gemini-2.5-flash",
					Capacity:          1_048_576,
					InputCostPerMTok:  0.30,
					OutputCostPerMTok: 2.50,
					Capabilities:      []string{CapTools, CapVision, CapLongContext},
				},
			},
		},
	}
}

// Lookup finds a model by id across the built-in descriptors.
func Lookup(modelID string) (providerID string, m provider.ModelInfo, ok bool) {
	for _, d := range Default() {
		if m, ok := d.Model(modelID); ok {
			return d.ID, m, true
		}
	}
	return "", provider.ModelInfo{}, false
}
