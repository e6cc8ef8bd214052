package provider

import (
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Candidate is one ranked selection result from Find.
type Candidate struct {
	ProviderID string
	Model      ModelInfo
	Score      float64
}

// Ranking weights for candidate scoring. The weighted sum combines
// capability match, rolling success rate, rolling latency, and cost
// efficiency; ties break on highest success rate.
const (
	weightCapability = 0.35
	weightSuccess    = 0.30
	weightLatency    = 0.20
	weightCost       = 0.15

	// latencyScale normalizes latency into a 0-1 score; calls at or
	// above this latency score zero.
	latencyScale = 30 * time.Second

	// costScale normalizes blended per-MTok cost into a 0-1 score.
	costScale = 100.0
)

// Registry stores provider descriptors, their rolling metrics, and their
// rate limiters. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	limiters map[string]*rate.Limiter
}

type entry struct {
	desc    Descriptor
	metrics Metrics
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries:  make(map[string]*entry),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Register adds or replaces a provider descriptor. Re-registering an id
// replaces the descriptor but preserves accumulated metrics.
func (r *Registry) Register(desc Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if desc.Health == "" {
		desc.Health = Healthy
	}
	if existing, ok := r.entries[desc.ID]; ok {
		existing.desc = desc
	} else {
		r.entries[desc.ID] = &entry{desc: desc}
	}
	if desc.RatePerSecond > 0 {
		burst := int(desc.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		r.limiters[desc.ID] = rate.NewLimiter(rate.Limit(desc.RatePerSecond), burst)
	} else {
		delete(r.limiters, desc.ID)
	}
}

// Unregister removes a provider. Primarily useful for tests; production
// code replaces descriptors by re-registration instead.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
	delete(r.limiters, id)
}

// Get returns the descriptor for a provider id.
func (r *Registry) Get(id string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return Descriptor{}, NewError(id, "get", ErrUnknownProvider, false)
	}
	return e.desc, nil
}

// SetHealth updates a provider's availability flag.
func (r *Registry) SetHealth(id string, h Health) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return NewError(id, "set health", ErrUnknownProvider, false)
	}
	e.desc.Health = h
	return nil
}

// UpdateMetrics folds one call outcome into a provider's rolling metrics.
// Unknown ids are ignored: the call may race with re-registration.
func (r *Registry) UpdateMetrics(id string, latency time.Duration, success bool, cost float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		e.metrics.observe(latency, success, cost)
	}
}

// Metrics returns a copy of a provider's rolling metrics.
func (r *Registry) Metrics(id string) (Metrics, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return Metrics{}, false
	}
	return e.metrics, true
}

// FindOptions constrains candidate selection.
type FindOptions struct {
	// MinCapacity excludes models with a smaller context window.
	MinCapacity int

	// ExcludeProviders removes specific provider ids from consideration,
	// used during failover to skip providers that already failed.
	ExcludeProviders []string
}

// Find returns candidates matching the required capability tags, ranked
// best-first. Providers flagged Unavailable are excluded until they
// recover. Returns ErrNoCandidates when nothing matches.
func (r *Registry) Find(required []string, opts FindOptions) ([]Candidate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	excluded := make(map[string]bool, len(opts.ExcludeProviders))
	for _, id := range opts.ExcludeProviders {
		excluded[id] = true
	}

	var out []Candidate
	for id, e := range r.entries {
		if e.desc.Health == Unavailable || excluded[id] {
			continue
		}
		for _, m := range e.desc.Models {
			if !m.HasCapabilities(required) {
				continue
			}
			if opts.MinCapacity > 0 && m.Capacity < opts.MinCapacity {
				continue
			}
			out = append(out, Candidate{
				ProviderID: id,
				Model:      m,
				Score:      score(m, required, e.metrics),
			})
		}
	}
	if len(out) == 0 {
		return nil, NewError("", "find", ErrNoCandidates, false)
	}

	success := make(map[string]float64, len(r.entries))
	for id, e := range r.entries {
		success[id] = e.metrics.SuccessRate
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if success[out[i].ProviderID] != success[out[j].ProviderID] {
			return success[out[i].ProviderID] > success[out[j].ProviderID]
		}
		// Stable order for reproducible selection.
		if out[i].ProviderID != out[j].ProviderID {
			return out[i].ProviderID < out[j].ProviderID
		}
		return out[i].Model.ID < out[j].Model.ID
	})
	return out, nil
}

// score computes the weighted selection score for one model.
func score(m ModelInfo, required []string, metrics Metrics) float64 {
	// Capability match: required tags already hold; extra tags beyond the
	// requirement dilute the match slightly, favoring the tightest fit.
	capScore := 1.0
	if len(m.Capabilities) > 0 {
		capScore = float64(len(required)+1) / float64(len(m.Capabilities)+1)
		if capScore > 1 {
			capScore = 1
		}
	}

	successScore := metrics.SuccessRate
	if metrics.Calls == 0 {
		// No history yet: assume healthy until observed otherwise.
		successScore = 1.0
	}

	latencyScore := 1.0
	if metrics.Latency > 0 {
		latencyScore = 1.0 - float64(metrics.Latency)/float64(latencyScale)
		if latencyScore < 0 {
			latencyScore = 0
		}
	}

	blendedCost := m.InputCostPerMTok*0.75 + m.OutputCostPerMTok*0.25
	costScore := 1.0 - blendedCost/costScale
	if costScore < 0 {
		costScore = 0
	}

	return weightCapability*capScore +
		weightSuccess*successScore +
		weightLatency*latencyScore +
		weightCost*costScore
}

// Reserve consumes one token from the provider's rate limiter. Returns
// ErrThrottled when the limiter has no capacity; providers without a
// configured rate always succeed.
func (r *Registry) Reserve(id string) error {
	r.mu.RLock()
	lim, ok := r.limiters[id]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	if !lim.Allow() {
		return NewError(id, "reserve", ErrThrottled, true)
	}
	return nil
}

// Available returns the ids of all registered providers, sorted for
// consistent ordering.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsRegistered checks if a provider id is registered.
func (r *Registry) IsRegistered(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[id]
	return ok
}
