package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/randalmurphal/llmflow/compress"
	"github.com/randalmurphal/llmflow/contextwindow"
	"github.com/randalmurphal/llmflow/degrade"
	"github.com/randalmurphal/llmflow/ledger"
	"github.com/randalmurphal/llmflow/provider"
	"github.com/randalmurphal/llmflow/tokens"
)

// DefaultFailoverRetries is how many alternate providers the orchestrator
// tries after the first one fails.
const DefaultFailoverRetries = 2

// Config holds the full orchestration configuration: token estimation
// ratios, context window thresholds, compression and degradation tuning,
// provider descriptors, and per-user budgets.
type Config struct {
	// --- Context Window ---

	// Thresholds are the usage percentages at which window events fire.
	// Must be ascending, each in (0, 100].
	Thresholds []int `json:"thresholds" toml:"thresholds" yaml:"thresholds"`

	// WarningPercent and CriticalPercent bound the degradation levels.
	WarningPercent  float64 `json:"warning_percent" toml:"warning_percent" yaml:"warning_percent"`
	CriticalPercent float64 `json:"critical_percent" toml:"critical_percent" yaml:"critical_percent"`

	// --- Compression ---

	// CompressTargetPercent is the post-compression usage target as a
	// percentage of model capacity.
	CompressTargetPercent int `json:"compress_target_percent" toml:"compress_target_percent" yaml:"compress_target_percent"`

	// KeepRecentExchanges is how many recent user/assistant exchanges
	// survive compression verbatim.
	KeepRecentExchanges int `json:"keep_recent_exchanges" toml:"keep_recent_exchanges" yaml:"keep_recent_exchanges"`

	// --- Token Estimation ---

	// CharsPerToken is the character ratio for heuristic counting.
	CharsPerToken float64 `json:"chars_per_token" toml:"chars_per_token" yaml:"chars_per_token"`

	// WordMultiplier is the word ratio for the fallback counter.
	WordMultiplier float64 `json:"word_multiplier" toml:"word_multiplier" yaml:"word_multiplier"`

	// --- Failover ---

	// FailoverRetries is how many alternate providers to try after the
	// first failure. 0 disables failover.
	FailoverRetries int `json:"failover_retries" toml:"failover_retries" yaml:"failover_retries"`

	// --- Providers ---

	// Providers are registered into the provider registry at startup.
	Providers []provider.Descriptor `json:"providers" toml:"providers" yaml:"providers"`

	// --- Budgets ---

	// Budgets seed the cost ledger with per-user spending limits.
	Budgets []ledger.Budget `json:"budgets" toml:"budgets" yaml:"budgets"`
}

// DefaultConfig returns a Config with sensible defaults and no providers
// or budgets.
func DefaultConfig() Config {
	return Config{
		Thresholds:            append([]int(nil), contextwindow.DefaultThresholds...),
		WarningPercent:        degrade.DefaultWarningPercent,
		CriticalPercent:       degrade.DefaultCriticalPercent,
		CompressTargetPercent: degrade.DefaultTargetPercent,
		KeepRecentExchanges:   compress.DefaultKeepRecentExchanges,
		CharsPerToken:         tokens.DefaultCharsPerToken,
		WordMultiplier:        tokens.DefaultWordMultiplier,
		FailoverRetries:       DefaultFailoverRetries,
	}
}

// LoadFromEnv populates config fields from environment variables.
// Environment variables use the LLMFLOW_ prefix and take precedence over
// existing values.
//
// Supported variables:
//   - LLMFLOW_THRESHOLDS: Comma-separated percentages (e.g., "50,80,95")
//   - LLMFLOW_WARNING_PERCENT: Warning level boundary
//   - LLMFLOW_CRITICAL_PERCENT: Critical level boundary
//   - LLMFLOW_COMPRESS_TARGET_PERCENT: Post-compression usage target
//   - LLMFLOW_KEEP_RECENT_EXCHANGES: Exchanges kept verbatim
//   - LLMFLOW_CHARS_PER_TOKEN: Heuristic character ratio
//   - LLMFLOW_WORD_MULTIPLIER: Fallback word multiplier
//   - LLMFLOW_FAILOVER_RETRIES: Alternate providers to try
func (c *Config) LoadFromEnv() {
	if v := os.Getenv("LLMFLOW_THRESHOLDS"); v != "" {
		if ts, err := parseThresholds(v); err == nil {
			c.Thresholds = ts
		}
	}
	if v := os.Getenv("LLMFLOW_WARNING_PERCENT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.WarningPercent = f
		}
	}
	if v := os.Getenv("LLMFLOW_CRITICAL_PERCENT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.CriticalPercent = f
		}
	}
	if v := os.Getenv("LLMFLOW_COMPRESS_TARGET_PERCENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.CompressTargetPercent = n
		}
	}
	if v := os.Getenv("LLMFLOW_KEEP_RECENT_EXCHANGES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.KeepRecentExchanges = n
		}
	}
	if v := os.Getenv("LLMFLOW_CHARS_PER_TOKEN"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.CharsPerToken = f
		}
	}
	if v := os.Getenv("LLMFLOW_WORD_MULTIPLIER"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.WordMultiplier = f
		}
	}
	if v := os.Getenv("LLMFLOW_FAILOVER_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.FailoverRetries = n
		}
	}
}

// FromEnv creates a Config from environment variables with defaults.
func FromEnv() Config {
	cfg := DefaultConfig()
	cfg.LoadFromEnv()
	return cfg
}

func parseThresholds(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	ts := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		ts = append(ts, n)
	}
	return ts, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	prev := 0
	for _, t := range c.Thresholds {
		if t <= 0 || t > 100 {
			return fmt.Errorf("threshold must be in (0, 100], got %d", t)
		}
		if t <= prev {
			return fmt.Errorf("thresholds must be strictly ascending, got %v", c.Thresholds)
		}
		prev = t
	}
	if c.WarningPercent <= 0 || c.WarningPercent > 100 {
		return fmt.Errorf("warning_percent must be in (0, 100], got %v", c.WarningPercent)
	}
	if c.CriticalPercent <= c.WarningPercent || c.CriticalPercent > 100 {
		return fmt.Errorf("critical_percent must be in (warning_percent, 100], got %v", c.CriticalPercent)
	}
	if c.CompressTargetPercent <= 0 || c.CompressTargetPercent >= 100 {
		return fmt.Errorf("compress_target_percent must be in (0, 100), got %d", c.CompressTargetPercent)
	}
	if c.KeepRecentExchanges < 1 {
		return fmt.Errorf("keep_recent_exchanges must be >= 1, got %d", c.KeepRecentExchanges)
	}
	if c.CharsPerToken <= 0 {
		return fmt.Errorf("chars_per_token must be > 0, got %v", c.CharsPerToken)
	}
	if c.WordMultiplier <= 0 {
		return fmt.Errorf("word_multiplier must be > 0, got %v", c.WordMultiplier)
	}
	if c.FailoverRetries < 0 {
		return fmt.Errorf("failover_retries must be >= 0, got %d", c.FailoverRetries)
	}
	for i, d := range c.Providers {
		if d.ID == "" {
			return fmt.Errorf("providers[%d]: id is required", i)
		}
		if len(d.Models) == 0 {
			return fmt.Errorf("provider %q: at least one model is required", d.ID)
		}
		for _, m := range d.Models {
			if m.ID == "" {
				return fmt.Errorf("provider %q: model id is required", d.ID)
			}
			if m.Capacity <= 0 {
				return fmt.Errorf("provider %q model %q: capacity must be > 0, got %d", d.ID, m.ID, m.Capacity)
			}
			if m.InputCostPerMTok < 0 || m.OutputCostPerMTok < 0 {
				return fmt.Errorf("provider %q model %q: costs must be >= 0", d.ID, m.ID)
			}
		}
		if d.RatePerSecond < 0 {
			return fmt.Errorf("provider %q: rate_per_second must be >= 0, got %v", d.ID, d.RatePerSecond)
		}
	}
	for i, b := range c.Budgets {
		if b.UserID == "" {
			return fmt.Errorf("budgets[%d]: user_id is required", i)
		}
		if b.Limit < 0 {
			return fmt.Errorf("budget %q: limit must be >= 0, got %v", b.UserID, b.Limit)
		}
		switch b.Period {
		case ledger.Daily, ledger.Weekly, ledger.Monthly, ledger.Total:
		default:
			return fmt.Errorf("budget %q: unknown period %q", b.UserID, b.Period)
		}
		for _, r := range b.Rules {
			if r.ThresholdPercent <= 0 {
				return fmt.Errorf("budget %q: rule threshold must be > 0, got %v", b.UserID, r.ThresholdPercent)
			}
			if r.Action != ledger.Notify && r.Action != ledger.Block {
				return fmt.Errorf("budget %q: unknown rule action %q", b.UserID, r.Action)
			}
		}
	}
	return nil
}

// WithThresholds returns a copy of the config with the specified window
// thresholds.
func (c Config) WithThresholds(ts ...int) Config {
	c.Thresholds = ts
	return c
}

// WithCompressTarget returns a copy of the config with the specified
// compression target percentage.
func (c Config) WithCompressTarget(percent int) Config {
	c.CompressTargetPercent = percent
	return c
}

// WithFailoverRetries returns a copy of the config with the specified
// failover retry budget.
func (c Config) WithFailoverRetries(n int) Config {
	c.FailoverRetries = n
	return c
}

// WithProvider returns a copy of the config with the descriptor appended.
func (c Config) WithProvider(d provider.Descriptor) Config {
	c.Providers = append(append([]provider.Descriptor(nil), c.Providers...), d)
	return c
}

// WithBudget returns a copy of the config with the budget appended.
func (c Config) WithBudget(b ledger.Budget) Config {
	c.Budgets = append(append([]ledger.Budget(nil), c.Budgets...), b)
	return c
}
