package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Sentinel errors for ledger operations.
var (
	// ErrBudgetExceeded indicates the request would push spend past a
	// blocking alert rule. Terminal and user-facing.
	ErrBudgetExceeded = errors.New("budget exceeded")

	// ErrDuplicateRecord indicates the request id was already settled.
	// Guards against double-billing on retries.
	ErrDuplicateRecord = errors.New("request already recorded")

	// ErrUnknownUser indicates no budget exists for the user.
	ErrUnknownUser = errors.New("no budget for user")
)

// Event is an alert-rule notification.
type Event struct {
	UserID           string
	ThresholdPercent float64
	Consumed         float64
	Reserved         float64
	Limit            float64
}

// NotifyFunc receives alert events. Must not block.
type NotifyFunc func(Event)

// userState serializes all ledger operations for one user, so two
// concurrent authorizations can never jointly exceed the limit.
type userState struct {
	mu       sync.Mutex
	budget   Budget
	reserved map[string]float64 // request id -> reserved amount
	settled  map[string]bool    // request ids already recorded
	notified map[float64]bool   // rule thresholds notified this period
}

func (u *userState) reservedTotal() float64 {
	total := 0.0
	for _, amt := range u.reserved {
		total += amt
	}
	return total
}

// rollover resets consumed spend when the period boundary has passed.
// Reservations for in-flight requests survive the boundary, and so do
// settled request ids: record idempotence is per request id for the
// request's lifetime, not per period.
func (u *userState) rollover(now time.Time) {
	if !expired(u.budget.Period, u.budget.PeriodStart, now) {
		return
	}
	u.budget.Consumed = 0
	u.budget.PeriodStart = periodStart(u.budget.Period, now)
	u.notified = make(map[float64]bool)
}

// Ledger accumulates spend per user and enforces budgets via two-phase
// reservation: Authorize reserves the estimated amount, Record settles
// it to the actual amount, Release drops it on a failed execution.
// Safe for concurrent use; operations serialize per user.
type Ledger struct {
	mu     sync.RWMutex
	users  map[string]*userState
	notify NotifyFunc
	now    func() time.Time
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithNotify sets the alert event sink.
func WithNotify(fn NotifyFunc) LedgerOption {
	return func(l *Ledger) { l.notify = fn }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) { l.now = now }
}

// NewLedger creates an empty ledger.
func NewLedger(opts ...LedgerOption) *Ledger {
	l := &Ledger{
		users: make(map[string]*userState),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SetBudget creates or replaces a user's budget. A mid-period limit
// change applies to subsequent authorizations only; consumed spend and
// open reservations carry over.
func (l *Ledger) SetBudget(b Budget) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(b.Rules) == 0 {
		b.Rules = DefaultRules
	}
	if b.PeriodStart.IsZero() {
		b.PeriodStart = periodStart(b.Period, l.now())
	}
	if u, ok := l.users[b.UserID]; ok {
		u.mu.Lock()
		u.budget.Limit = b.Limit
		u.budget.Period = b.Period
		u.budget.Rules = b.Rules
		u.mu.Unlock()
		return
	}
	l.users[b.UserID] = &userState{
		budget:   b,
		reserved: make(map[string]float64),
		settled:  make(map[string]bool),
		notified: make(map[float64]bool),
	}
}

// Budget returns a snapshot of the user's budget.
func (l *Ledger) Budget(userID string) (Budget, error) {
	u, err := l.user(userID)
	if err != nil {
		return Budget{}, err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.rollover(l.now())
	return u.budget, nil
}

func (l *Ledger) user(userID string) (*userState, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	u, ok := l.users[userID]
	if !ok {
		return nil, fmt.Errorf("user %q: %w", userID, ErrUnknownUser)
	}
	return u, nil
}

// Authorize reserves the estimated amount against the user's budget and
// returns the remaining headroom after the reservation. Fails closed
// with ErrBudgetExceeded when the projected spend crosses a rule whose
// action is Block; Notify rules fire their event at most once per
// period and let the request proceed.
func (l *Ledger) Authorize(userID, requestID string, estimated float64) (float64, error) {
	u, err := l.user(userID)
	if err != nil {
		return 0, err
	}

	u.mu.Lock()
	u.rollover(l.now())

	projected := u.budget.Consumed + u.reservedTotal() + estimated
	projectedPct := 0.0
	if u.budget.Limit > 0 {
		projectedPct = projected / u.budget.Limit * 100
	}

	var fired []Event
	blocked := false
	for _, rule := range u.budget.Rules {
		if projectedPct < rule.ThresholdPercent {
			continue
		}
		switch rule.Action {
		case Block:
			blocked = true
		case Notify:
			if !u.notified[rule.ThresholdPercent] {
				u.notified[rule.ThresholdPercent] = true
				fired = append(fired, Event{
					UserID:           userID,
					ThresholdPercent: rule.ThresholdPercent,
					Consumed:         u.budget.Consumed,
					Reserved:         u.reservedTotal(),
					Limit:            u.budget.Limit,
				})
			}
		}
	}

	consumed, limit := u.budget.Consumed, u.budget.Limit
	remaining := limit - projected
	if !blocked {
		u.reserved[requestID] = estimated
	}
	u.mu.Unlock()

	if l.notify != nil {
		for _, e := range fired {
			l.notify(e)
		}
	}
	if blocked {
		return 0, fmt.Errorf("authorize %.4f for %q (consumed %.4f of %.4f): %w",
			estimated, userID, consumed, limit, ErrBudgetExceeded)
	}
	return remaining, nil
}

// Record settles a request to its actual cost, releasing its reservation.
// Idempotent per request id: a duplicate record fails with
// ErrDuplicateRecord and does not double-bill.
func (l *Ledger) Record(userID, requestID string, actual float64) error {
	u, err := l.user(userID)
	if err != nil {
		return err
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	u.rollover(l.now())

	if u.settled[requestID] {
		return fmt.Errorf("record %q for %q: %w", requestID, userID, ErrDuplicateRecord)
	}
	delete(u.reserved, requestID)
	u.settled[requestID] = true
	u.budget.Consumed += actual
	return nil
}

// Release drops a reservation without billing, used when execution
// fails after authorization. Unknown request ids are a no-op.
func (l *Ledger) Release(userID, requestID string) {
	u, err := l.user(userID)
	if err != nil {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.reserved, requestID)
}

// Remaining returns the user's headroom after consumed spend and open
// reservations.
func (l *Ledger) Remaining(userID string) (float64, error) {
	u, err := l.user(userID)
	if err != nil {
		return 0, err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.rollover(l.now())
	return u.budget.Limit - u.budget.Consumed - u.reservedTotal(), nil
}
