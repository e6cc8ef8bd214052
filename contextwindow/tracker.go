package contextwindow

import (
	"errors"
	"fmt"
	"sync"
)

// ErrCapacityUnknown indicates no capacity has been declared for the
// model, so usage cannot be expressed as a percentage.
var ErrCapacityUnknown = errors.New("model capacity unknown")

// Direction distinguishes prompt tokens from completion tokens.
type Direction string

// Usage directions.
const (
	Input  Direction = "input"
	Output Direction = "output"
)

// DefaultThresholds are the notification thresholds in percent. These are
// configuration defaults, not hard requirements.
var DefaultThresholds = []int{50, 80, 90, 95}

// Event is a threshold crossing emitted at most once per threshold per
// (conversation, model) pair between resets.
type Event struct {
	ConversationID string
	ModelID        string
	Threshold      int
	Percent        float64
}

// NotifyFunc receives threshold events. Implementations must not block;
// the tracker calls the sink outside its per-pair lock but on the
// recording goroutine.
type NotifyFunc func(Event)

// Usage is a snapshot of one (conversation, model) counter.
type Usage struct {
	ModelID      string `json:"model_id"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	Capacity     int    `json:"capacity"`
}

// Total returns input plus output tokens.
func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

// Percent returns consumed capacity in [0,100].
func (u Usage) Percent() float64 {
	if u.Capacity <= 0 {
		return 0
	}
	p := float64(u.Total()) / float64(u.Capacity) * 100
	if p > 100 {
		p = 100
	}
	return p
}

type pairKey struct {
	conversationID string
	modelID        string
}

// pairState carries one counter and its own lock. Requests for the same
// (conversation, model) pair serialize on this lock; different pairs
// proceed in parallel.
type pairState struct {
	mu       sync.Mutex
	usage    Usage
	notified map[int]bool
}

// Tracker maintains running token counters per (conversation, model)
// pair against declared model capacities. Safe for concurrent use.
type Tracker struct {
	mu         sync.RWMutex
	capacities map[string]int
	pairs      map[pairKey]*pairState
	thresholds []int
	notify     NotifyFunc
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithThresholds overrides the notification thresholds.
func WithThresholds(thresholds []int) Option {
	return func(t *Tracker) {
		if len(thresholds) > 0 {
			t.thresholds = thresholds
		}
	}
}

// WithNotify sets the threshold event sink.
func WithNotify(fn NotifyFunc) Option {
	return func(t *Tracker) { t.notify = fn }
}

// NewTracker creates a tracker with the default thresholds.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		capacities: make(map[string]int),
		pairs:      make(map[pairKey]*pairState),
		thresholds: DefaultThresholds,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// DeclareCapacity registers a model's context window size. Usage for a
// model cannot be recorded until its capacity is known.
func (t *Tracker) DeclareCapacity(modelID string, capacity int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.capacities[modelID] = capacity
}

// pair returns the state for a key, creating it on first use.
func (t *Tracker) pair(key pairKey, capacity int) *pairState {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pairs[key]
	if !ok {
		p = &pairState{
			usage:    Usage{ModelID: key.modelID, Capacity: capacity},
			notified: make(map[int]bool),
		}
		t.pairs[key] = p
	}
	return p
}

// RecordUsage adds tokens to the pair's counter and returns the new usage
// percentage. Crossing a notification threshold emits a one-shot event
// per threshold until Reset is called; a jump across several thresholds
// fires each of them exactly once.
// Fails with ErrCapacityUnknown if the model has no declared capacity.
func (t *Tracker) RecordUsage(conversationID, modelID string, tokenCount int, dir Direction) (float64, error) {
	t.mu.RLock()
	capacity, ok := t.capacities[modelID]
	t.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("record usage for %q: %w", modelID, ErrCapacityUnknown)
	}

	p := t.pair(pairKey{conversationID, modelID}, capacity)

	p.mu.Lock()
	p.usage.Capacity = capacity
	if dir == Output {
		p.usage.OutputTokens += tokenCount
	} else {
		p.usage.InputTokens += tokenCount
	}
	percent := p.usage.Percent()

	var crossed []int
	for _, th := range t.thresholds {
		if percent >= float64(th) && !p.notified[th] {
			p.notified[th] = true
			crossed = append(crossed, th)
		}
	}
	p.mu.Unlock()

	if t.notify != nil {
		for _, th := range crossed {
			t.notify(Event{
				ConversationID: conversationID,
				ModelID:        modelID,
				Threshold:      th,
				Percent:        percent,
			})
		}
	}
	return percent, nil
}

// UsagePercent returns consumed capacity in [0,100] for the pair.
// Pairs never recorded against report zero.
func (t *Tracker) UsagePercent(conversationID, modelID string) (float64, error) {
	t.mu.RLock()
	_, ok := t.capacities[modelID]
	p := t.pairs[pairKey{conversationID, modelID}]
	t.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("usage for %q: %w", modelID, ErrCapacityUnknown)
	}
	if p == nil {
		return 0, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.usage.Percent(), nil
}

// Usage returns a snapshot of the pair's counter.
func (t *Tracker) Usage(conversationID, modelID string) (Usage, bool) {
	t.mu.RLock()
	p := t.pairs[pairKey{conversationID, modelID}]
	t.mu.RUnlock()
	if p == nil {
		return Usage{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.usage, true
}

// Reset zeroes the pair's counters and clears notified thresholds, so
// each threshold may fire again. Counters are reset, not deleted: the
// pair's capacity binding survives.
func (t *Tracker) Reset(conversationID, modelID string) {
	t.mu.RLock()
	p := t.pairs[pairKey{conversationID, modelID}]
	t.mu.RUnlock()
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.usage.InputTokens = 0
	p.usage.OutputTokens = 0
	p.notified = make(map[int]bool)
}

// Seed sets the pair's input counter to an absolute value, used to
// re-seed after compression replaces the history. Seeding does not fire
// threshold notifications.
func (t *Tracker) Seed(conversationID, modelID string, inputTokens int) error {
	t.mu.RLock()
	capacity, ok := t.capacities[modelID]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("seed usage for %q: %w", modelID, ErrCapacityUnknown)
	}

	p := t.pair(pairKey{conversationID, modelID}, capacity)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.usage.InputTokens = inputTokens
	p.usage.OutputTokens = 0
	return nil
}
