package tokens

import (
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownModel indicates the model id has not been registered with
// the accountant.
var ErrUnknownModel = errors.New("unknown model")

// Per-message counting overhead, covering role markers and formatting
// the tokenizer never sees. Conservative values for unknown chat
// templates.
const (
	// MessageOverheadTokens is added once per message.
	MessageOverheadTokens = 15

	// RequestOverheadTokens is added once per request.
	RequestOverheadTokens = 10
)

// Estimate is a token count plus its provenance. Approximate counts
// should be treated with a safety margin by callers.
type Estimate struct {
	Tokens      int
	Approximate bool
}

// Accountant counts tokens for text against a named model's tokenization
// scheme. Counting is pure: results depend only on (text, model id) and
// are cacheable by that pair. Safe for concurrent use.
type Accountant struct {
	mu         sync.RWMutex
	tokenizers map[string]Tokenizer
	fallback   Tokenizer
}

// NewAccountant creates an accountant with the word-count fallback for
// models registered without an exact tokenizer.
func NewAccountant() *Accountant {
	return &Accountant{
		tokenizers: make(map[string]Tokenizer),
		fallback:   NewWordTokenizer(DefaultWordMultiplier),
	}
}

// Register binds a tokenizer to a model id. Passing nil registers the
// model with the accountant-wide approximate fallback.
func (a *Accountant) Register(modelID string, tok Tokenizer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if tok == nil {
		tok = a.fallback
	}
	a.tokenizers[modelID] = tok
}

// SetFallback replaces the approximate fallback tokenizer. Models already
// registered against the previous fallback keep it.
func (a *Accountant) SetFallback(tok Tokenizer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if tok != nil {
		a.fallback = tok
	}
}

// IsRegistered checks if a model id is known to the accountant.
func (a *Accountant) IsRegistered(modelID string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.tokenizers[modelID]
	return ok
}

// Count returns the token estimate for text under the named model.
// Fails with ErrUnknownModel if the model id was never registered.
func (a *Accountant) Count(text, modelID string) (Estimate, error) {
	a.mu.RLock()
	tok, ok := a.tokenizers[modelID]
	a.mu.RUnlock()
	if !ok {
		return Estimate{}, fmt.Errorf("count tokens for %q: %w", modelID, ErrUnknownModel)
	}
	return Estimate{
		Tokens:      tok.Count(text),
		Approximate: tok.Kind() == Approximate,
	}, nil
}

// CountMessages counts a sequence of message contents, adding the
// per-message and per-request formatting overhead.
func (a *Accountant) CountMessages(contents []string, modelID string) (Estimate, error) {
	a.mu.RLock()
	tok, ok := a.tokenizers[modelID]
	a.mu.RUnlock()
	if !ok {
		return Estimate{}, fmt.Errorf("count messages for %q: %w", modelID, ErrUnknownModel)
	}

	total := RequestOverheadTokens
	for _, c := range contents {
		total += MessageOverheadTokens + tok.Count(c)
	}
	return Estimate{
		Tokens:      total,
		Approximate: tok.Kind() == Approximate,
	}, nil
}

// Tokenizer returns the tokenizer bound to a model id, for callers that
// need raw counting (e.g. compression).
func (a *Accountant) Tokenizer(modelID string) (Tokenizer, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	tok, ok := a.tokenizers[modelID]
	if !ok {
		return nil, fmt.Errorf("tokenizer for %q: %w", modelID, ErrUnknownModel)
	}
	return tok, nil
}
