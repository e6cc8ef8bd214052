package contextwindow

import (
	"errors"
	"sync"
	"testing"
)

func TestRecordUsage_CapacityUnknown(t *testing.T) {
	tr := NewTracker()

	_, err := tr.RecordUsage("conv", "mystery", 100, Input)
	if !errors.Is(err, ErrCapacityUnknown) {
		t.Errorf("expected ErrCapacityUnknown, got %v", err)
	}
}

func TestRecordUsage_Percent(t *testing.T) {
	tr := NewTracker()
	tr.DeclareCapacity("m", 1000)

	pct, err := tr.RecordUsage("conv", "m", 250, Input)
	if err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	if pct != 25.0 {
		t.Errorf("expected 25%%, got %v", pct)
	}

	pct, err = tr.RecordUsage("conv", "m", 250, Output)
	if err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	if pct != 50.0 {
		t.Errorf("expected 50%%, got %v", pct)
	}

	u, ok := tr.Usage("conv", "m")
	if !ok {
		t.Fatal("expected usage snapshot")
	}
	if u.InputTokens != 250 || u.OutputTokens != 250 {
		t.Errorf("unexpected counters: %+v", u)
	}
}

func TestRecordUsage_PercentClamped(t *testing.T) {
	tr := NewTracker()
	tr.DeclareCapacity("m", 100)

	pct, err := tr.RecordUsage("conv", "m", 500, Input)
	if err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	if pct != 100.0 {
		t.Errorf("percent must clamp at 100, got %v", pct)
	}
}

func TestThresholds_OneShot(t *testing.T) {
	var mu sync.Mutex
	var events []Event
	tr := NewTracker(WithNotify(func(e Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}))
	tr.DeclareCapacity("m", 100)

	// 55%: crosses 50 only.
	if _, err := tr.RecordUsage("conv", "m", 55, Input); err != nil {
		t.Fatal(err)
	}
	// 60%: no new threshold, no duplicate event.
	if _, err := tr.RecordUsage("conv", "m", 5, Input); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	got := len(events)
	mu.Unlock()
	if got != 1 {
		t.Fatalf("expected exactly 1 event, got %d", got)
	}
	if events[0].Threshold != 50 {
		t.Errorf("expected threshold 50, got %d", events[0].Threshold)
	}
}

func TestThresholds_JumpFiresEachOnce(t *testing.T) {
	var events []Event
	tr := NewTracker(WithNotify(func(e Event) { events = append(events, e) }))
	tr.DeclareCapacity("m", 100)

	// 40% then straight to 96%: 50, 80, 90 and 95 each fire once.
	if _, err := tr.RecordUsage("conv", "m", 40, Input); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.RecordUsage("conv", "m", 56, Input); err != nil {
		t.Fatal(err)
	}

	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d: %+v", len(events), events)
	}
	want := []int{50, 80, 90, 95}
	for i, th := range want {
		if events[i].Threshold != th {
			t.Errorf("event %d: expected threshold %d, got %d", i, th, events[i].Threshold)
		}
	}
}

func TestThresholds_ResetRearms(t *testing.T) {
	var events []Event
	tr := NewTracker(WithNotify(func(e Event) { events = append(events, e) }))
	tr.DeclareCapacity("m", 100)

	if _, err := tr.RecordUsage("conv", "m", 60, Input); err != nil {
		t.Fatal(err)
	}
	tr.Reset("conv", "m")
	if _, err := tr.RecordUsage("conv", "m", 60, Input); err != nil {
		t.Fatal(err)
	}

	if len(events) != 2 {
		t.Fatalf("expected threshold to fire again after reset, got %d events", len(events))
	}

	pct, err := tr.UsagePercent("conv", "m")
	if err != nil {
		t.Fatal(err)
	}
	if pct != 60.0 {
		t.Errorf("expected 60%% after reset+record, got %v", pct)
	}
}

func TestSeed(t *testing.T) {
	tr := NewTracker()
	tr.DeclareCapacity("m", 1000)

	if _, err := tr.RecordUsage("conv", "m", 900, Input); err != nil {
		t.Fatal(err)
	}
	tr.Reset("conv", "m")
	if err := tr.Seed("conv", "m", 400); err != nil {
		t.Fatal(err)
	}

	pct, err := tr.UsagePercent("conv", "m")
	if err != nil {
		t.Fatal(err)
	}
	if pct != 40.0 {
		t.Errorf("expected 40%% after seed, got %v", pct)
	}
}

func TestPairsAreIndependent(t *testing.T) {
	tr := NewTracker()
	tr.DeclareCapacity("m1", 100)
	tr.DeclareCapacity("m2", 100)

	if _, err := tr.RecordUsage("conv", "m1", 80, Input); err != nil {
		t.Fatal(err)
	}
	pct, err := tr.UsagePercent("conv", "m2")
	if err != nil {
		t.Fatal(err)
	}
	if pct != 0 {
		t.Errorf("pairs must not share counters, got %v%% for m2", pct)
	}
}

func TestRecordUsage_ConcurrentSamePair(t *testing.T) {
	tr := NewTracker()
	tr.DeclareCapacity("m", 1_000_000)

	const goroutines = 16
	const perGoroutine = 100

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				if _, err := tr.RecordUsage("conv", "m", 1, Input); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	u, _ := tr.Usage("conv", "m")
	if u.InputTokens != goroutines*perGoroutine {
		t.Errorf("lost updates: expected %d tokens, got %d", goroutines*perGoroutine, u.InputTokens)
	}
}
