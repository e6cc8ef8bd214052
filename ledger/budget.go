package ledger

import (
	"time"
)

// Period is the window a budget limit covers.
type Period string

// Budget periods.
const (
	Daily   Period = "daily"
	Weekly  Period = "weekly"
	Monthly Period = "monthly"
	Total   Period = "total"
)

// Action is what happens when an alert rule's threshold is crossed.
type Action string

// Alert actions.
const (
	// Notify emits an event through the notification sink and lets the
	// request proceed.
	Notify Action = "notify"

	// Block rejects the request (fails closed).
	Block Action = "block"
)

// AlertRule pairs a spend threshold with an action.
type AlertRule struct {
	// ThresholdPercent is the share of the limit, in percent, at which
	// the rule triggers.
	ThresholdPercent float64 `json:"threshold_percent" toml:"threshold_percent" yaml:"threshold_percent"`

	Action Action `json:"action" toml:"action" yaml:"action"`
}

// DefaultRules block at the limit and warn at 80%.
var DefaultRules = []AlertRule{
	{ThresholdPercent: 80, Action: Notify},
	{ThresholdPercent: 100, Action: Block},
}

// Budget is one user's spending ceiling over a period.
type Budget struct {
	UserID string  `json:"user_id" toml:"user_id" yaml:"user_id"`
	Limit  float64 `json:"limit" toml:"limit" yaml:"limit"`
	Period Period  `json:"period" toml:"period" yaml:"period"`

	// Consumed is the settled spend inside the current period.
	Consumed float64 `json:"consumed" toml:"consumed" yaml:"consumed"`

	// Rules are evaluated in order on every authorization. Empty rules
	// fall back to DefaultRules.
	Rules []AlertRule `json:"rules,omitempty" toml:"rules" yaml:"rules"`

	// PeriodStart anchors the current period window.
	PeriodStart time.Time `json:"period_start" toml:"period_start" yaml:"period_start"`
}

// EstimateCost computes USD cost from per-million-token pricing.
func EstimateCost(inputPerMTok, outputPerMTok float64, inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1_000_000*inputPerMTok +
		float64(outputTokens)/1_000_000*outputPerMTok
}

// periodStart truncates t to the start of the period containing it.
func periodStart(p Period, t time.Time) time.Time {
	switch p {
	case Daily:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	case Weekly:
		// Weeks start on Monday.
		d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
		offset := (int(d.Weekday()) + 6) % 7
		return d.AddDate(0, 0, -offset)
	case Monthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	default:
		return time.Time{}
	}
}

// expired reports whether the period anchored at start has ended by t.
func expired(p Period, start, t time.Time) bool {
	if p == Total || start.IsZero() {
		return false
	}
	return periodStart(p, t).After(start)
}
