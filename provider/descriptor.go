package provider

import (
	"time"
)

// Health is the externally monitored availability state of a provider.
// The registry only stores and reads the flag; health checking itself
// lives outside the core.
type Health string

// Health states.
const (
	Healthy     Health = "healthy"
	Degraded    Health = "degraded"
	Unavailable Health = "unavailable"
)

// ModelInfo describes one model offered by a provider.
type ModelInfo struct {
	// ID is the provider-specific model name.
	ID string `json:"id" toml:"id" yaml:"id"`

	// Capacity is the model's context window in tokens.
	Capacity int `json:"capacity" toml:"capacity" yaml:"capacity"`

	// InputCostPerMTok and OutputCostPerMTok are USD per million tokens.
	InputCostPerMTok  float64 `json:"input_cost_per_mtok" toml:"input_cost_per_mtok" yaml:"input_cost_per_mtok"`
	OutputCostPerMTok float64 `json:"output_cost_per_mtok" toml:"output_cost_per_mtok" yaml:"output_cost_per_mtok"`

	// Capabilities tags what the model supports (e.g. "tools", "vision",
	// "long-context"). Selection matches required tags against this set.
	Capabilities []string `json:"capabilities" toml:"capabilities" yaml:"capabilities"`
}

// HasCapability checks a capability tag. Tags are case-sensitive.
func (m ModelInfo) HasCapability(tag string) bool {
	for _, c := range m.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}

// HasCapabilities checks that every required tag is present.
func (m ModelInfo) HasCapabilities(required []string) bool {
	for _, tag := range required {
		if !m.HasCapability(tag) {
			return false
		}
	}
	return true
}

// metricsAlpha is the smoothing factor for rolling metrics. Higher values
// weight recent calls more heavily.
const metricsAlpha = 0.2

// Metrics holds exponentially weighted rolling performance figures for a
// provider, updated after every call.
type Metrics struct {
	// Latency is the rolling average call latency.
	Latency time.Duration `json:"latency"`

	// SuccessRate is the rolling fraction of successful calls in [0,1].
	SuccessRate float64 `json:"success_rate"`

	// CostPerCall is the rolling average cost per call in USD.
	CostPerCall float64 `json:"cost_per_call"`

	// Calls is the total number of observations.
	Calls int `json:"calls"`
}

// observe folds one call outcome into the rolling figures.
func (m *Metrics) observe(latency time.Duration, success bool, cost float64) {
	m.Calls++
	if m.Calls == 1 {
		m.Latency = latency
		m.CostPerCall = cost
		if success {
			m.SuccessRate = 1.0
		}
		return
	}
	m.Latency = time.Duration(float64(m.Latency)*(1-metricsAlpha) + float64(latency)*metricsAlpha)
	m.CostPerCall = m.CostPerCall*(1-metricsAlpha) + cost*metricsAlpha
	s := 0.0
	if success {
		s = 1.0
	}
	m.SuccessRate = m.SuccessRate*(1-metricsAlpha) + s*metricsAlpha
}

// Descriptor holds registered metadata for one provider. Descriptors are
// registered at startup or config load and replaced by re-registration,
// never deleted during process lifetime.
type Descriptor struct {
	// ID uniquely identifies the provider ("anthropic", "openai", ...).
	ID string `json:"id" toml:"id" yaml:"id"`

	// Models lists the models this provider offers.
	Models []ModelInfo `json:"models" toml:"models" yaml:"models"`

	// Health is the current availability flag.
	Health Health `json:"health" toml:"health" yaml:"health"`

	// RatePerSecond caps request dispatch to this provider. Zero means
	// unlimited.
	RatePerSecond float64 `json:"rate_per_second,omitempty" toml:"rate_per_second" yaml:"rate_per_second"`
}

// Model returns the named model's info.
func (d Descriptor) Model(id string) (ModelInfo, bool) {
	for _, m := range d.Models {
		if m.ID == id {
			return m, true
		}
	}
	return ModelInfo{}, false
}
