package orchestrate

import (
	"time"

	"github.com/randalmurphal/llmflow/degrade"
)

// State is a request lifecycle state. Every request moves through
// Received, ProviderSelected, BudgetChecked, and Executing before ending
// in Streaming, Completed, or Failed.
type State string

const (
	StateReceived         State = "received"
	StateProviderSelected State = "provider_selected"
	StateBudgetChecked    State = "budget_checked"
	StateExecuting        State = "executing"
	StateStreaming        State = "streaming"
	StateCompleted        State = "completed"
	StateFailed           State = "failed"
)

// Record is one audit entry emitted per state transition. External
// compliance logging subscribes via AuditFunc.
type Record struct {
	RequestID      string
	ConversationID string
	UserID         string
	State          State
	ProviderID     string
	ModelID        string

	// Strategy is set when a degradation pass ran before this
	// transition.
	Strategy degrade.Strategy

	// CostUSD is set on Completed records.
	CostUSD float64

	// Err is set on Failed records.
	Err error

	Time time.Time
}

// AuditFunc receives audit records. The orchestrator calls it inline and
// best-effort; implementations must not block.
type AuditFunc func(Record)

func (o *Orchestrator) emit(rec Record) {
	rec.Time = time.Now()
	o.logger.Debug("request transition",
		"request_id", rec.RequestID,
		"conversation_id", rec.ConversationID,
		"state", string(rec.State),
		"provider", rec.ProviderID,
		"model", rec.ModelID,
	)
	if o.audit != nil {
		o.audit(rec)
	}
}
