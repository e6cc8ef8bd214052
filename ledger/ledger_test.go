package ledger

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateCost(t *testing.T) {
	// 1M input at $3/MTok plus 100K output at $15/MTok.
	got := EstimateCost(3.0, 15.0, 1_000_000, 100_000)
	assert.InDelta(t, 4.5, got, 1e-9)

	assert.Zero(t, EstimateCost(3.0, 15.0, 0, 0))
}

func TestAuthorize_UnknownUser(t *testing.T) {
	l := NewLedger()
	_, err := l.Authorize("ghost", "req-1", 1.0)
	assert.ErrorIs(t, err, ErrUnknownUser)
}

func TestAuthorize_BlocksAtLimit(t *testing.T) {
	l := NewLedger()
	l.SetBudget(Budget{UserID: "u", Limit: 10, Period: Monthly})

	remaining, err := l.Authorize("u", "req-1", 7)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, remaining, 1e-9)

	// Second reservation would project 14 > 10: fails closed.
	_, err = l.Authorize("u", "req-2", 7)
	assert.ErrorIs(t, err, ErrBudgetExceeded)
}

func TestAuthorize_NotifyRuleFiresOncePerPeriod(t *testing.T) {
	var events []Event
	l := NewLedger(WithNotify(func(e Event) { events = append(events, e) }))
	l.SetBudget(Budget{UserID: "u", Limit: 10, Period: Monthly})

	// 85% projected: crosses the default 80% notify rule.
	_, err := l.Authorize("u", "req-1", 8.5)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 80.0, events[0].ThresholdPercent)

	// Still above 80%: no duplicate notification.
	require.NoError(t, l.Record("u", "req-1", 8.5))
	_, err = l.Authorize("u", "req-2", 0.5)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestConcurrentAuthorize_NeverJointlyExceeds(t *testing.T) {
	l := NewLedger()
	l.SetBudget(Budget{UserID: "u", Limit: 10, Period: Monthly})

	// Two concurrent $7 requests against a $10 budget: exactly one may
	// pass.
	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = l.Authorize("u", "req-"+string(rune('a'+i)), 7)
		}(i)
	}
	wg.Wait()

	okCount := 0
	for _, err := range results {
		if err == nil {
			okCount++
		} else {
			assert.ErrorIs(t, err, ErrBudgetExceeded)
		}
	}
	assert.Equal(t, 1, okCount, "exactly one authorization must succeed")
}

func TestConcurrentAuthorize_ManySmall(t *testing.T) {
	l := NewLedger()
	l.SetBudget(Budget{UserID: "u", Limit: 10, Period: Monthly})

	const workers = 50
	var wg sync.WaitGroup
	granted := make(chan float64, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := l.Authorize("u", "req-"+string(rune(i)), 1); err == nil {
				granted <- 1
			}
		}(i)
	}
	wg.Wait()
	close(granted)

	total := 0.0
	for amt := range granted {
		total += amt
	}
	assert.LessOrEqual(t, total, 10.0, "grants must never jointly exceed the limit")
}

func TestRecord_SettlesReservation(t *testing.T) {
	l := NewLedger()
	l.SetBudget(Budget{UserID: "u", Limit: 10, Period: Monthly})

	_, err := l.Authorize("u", "req-1", 7)
	require.NoError(t, err)

	// Actual cost came in lower than the estimate.
	require.NoError(t, l.Record("u", "req-1", 4))

	remaining, err := l.Remaining("u")
	require.NoError(t, err)
	assert.InDelta(t, 6.0, remaining, 1e-9)
}

func TestRecord_DuplicateRejected(t *testing.T) {
	l := NewLedger()
	l.SetBudget(Budget{UserID: "u", Limit: 10, Period: Monthly})

	_, err := l.Authorize("u", "req-1", 2)
	require.NoError(t, err)
	require.NoError(t, l.Record("u", "req-1", 2))

	err = l.Record("u", "req-1", 2)
	assert.ErrorIs(t, err, ErrDuplicateRecord)

	// The duplicate did not double-bill.
	remaining, err := l.Remaining("u")
	require.NoError(t, err)
	assert.InDelta(t, 8.0, remaining, 1e-9)
}

func TestRelease_FreesReservation(t *testing.T) {
	l := NewLedger()
	l.SetBudget(Budget{UserID: "u", Limit: 10, Period: Monthly})

	_, err := l.Authorize("u", "req-1", 7)
	require.NoError(t, err)
	l.Release("u", "req-1")

	// Full headroom again.
	_, err = l.Authorize("u", "req-2", 7)
	assert.NoError(t, err)
}

func TestPeriodRollover(t *testing.T) {
	current := time.Date(2026, 8, 31, 23, 0, 0, 0, time.UTC)
	l := NewLedger(WithClock(func() time.Time { return current }))
	l.SetBudget(Budget{UserID: "u", Limit: 10, Period: Daily})

	_, err := l.Authorize("u", "req-1", 9)
	require.NoError(t, err)
	require.NoError(t, l.Record("u", "req-1", 9))

	_, err = l.Authorize("u", "req-2", 5)
	require.ErrorIs(t, err, ErrBudgetExceeded)

	// Next day: consumed resets, the same request succeeds.
	current = current.Add(2 * time.Hour)
	_, err = l.Authorize("u", "req-2", 5)
	assert.NoError(t, err)

	b, err := l.Budget("u")
	require.NoError(t, err)
	assert.Zero(t, b.Consumed)
}

func TestRecordIdempotentAcrossRollover(t *testing.T) {
	current := time.Date(2026, 8, 31, 23, 0, 0, 0, time.UTC)
	l := NewLedger(WithClock(func() time.Time { return current }))
	l.SetBudget(Budget{UserID: "u", Limit: 10, Period: Daily})

	_, err := l.Authorize("u", "req-1", 4)
	require.NoError(t, err)
	require.NoError(t, l.Record("u", "req-1", 4))

	// The retry lands after the period boundary. Rollover resets
	// consumed spend but the request stays settled.
	current = current.Add(2 * time.Hour)
	require.ErrorIs(t, l.Record("u", "req-1", 4), ErrDuplicateRecord)

	b, err := l.Budget("u")
	require.NoError(t, err)
	assert.Zero(t, b.Consumed)
}

func TestSetBudget_MidPeriodLimitChange(t *testing.T) {
	l := NewLedger()
	l.SetBudget(Budget{UserID: "u", Limit: 10, Period: Monthly})

	_, err := l.Authorize("u", "req-1", 7)
	require.NoError(t, err)
	require.NoError(t, l.Record("u", "req-1", 7))

	// Raise the limit mid-period; consumed carries over.
	l.SetBudget(Budget{UserID: "u", Limit: 20, Period: Monthly})

	remaining, err := l.Remaining("u")
	require.NoError(t, err)
	assert.InDelta(t, 13.0, remaining, 1e-9)
}

func TestPeriodStart(t *testing.T) {
	ref := time.Date(2026, 8, 29, 15, 30, 0, 0, time.UTC) // a Saturday

	tests := []struct {
		period Period
		want   time.Time
	}{
		{Daily, time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)},
		{Weekly, time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)}, // Monday
		{Monthly, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)},
		{Total, time.Time{}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, periodStart(tt.period, ref), "period %s", tt.period)
	}
}
