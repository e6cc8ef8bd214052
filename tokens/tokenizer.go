package tokens

import (
	"strings"
	"unicode/utf8"
)

// DefaultCharsPerToken is the default character-to-token ratio.
// Approximately 4 characters equals 1 token for English text.
const DefaultCharsPerToken = 4.0

// DefaultWordMultiplier is the default word-to-token multiplier for the
// word-count fallback. English text averages ~1.3 tokens per word.
const DefaultWordMultiplier = 1.3

// Kind classifies how a tokenizer produces its count.
type Kind int

const (
	// Approximate counts come from a heuristic and should be treated
	// with a safety margin.
	Approximate Kind = iota

	// Exact counts come from the model's real tokenizer.
	Exact
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case Exact:
		return "exact"
	default:
		return "approximate"
	}
}

// Tokenizer counts tokens for text under one model's tokenization scheme.
type Tokenizer interface {
	// Count returns the number of tokens in the given text.
	Count(text string) int

	// Kind reports whether counts are exact or approximate.
	Kind() Kind
}

// HeuristicTokenizer estimates using a character-to-token ratio.
// Default ratio is ~4 chars per token.
type HeuristicTokenizer struct {
	// CharsPerToken is the average characters per token.
	CharsPerToken float64
}

// NewHeuristicTokenizer creates a character-ratio tokenizer.
// If charsPerToken is <= 0, the default ratio (4.0) is used.
func NewHeuristicTokenizer(charsPerToken float64) *HeuristicTokenizer {
	if charsPerToken <= 0 {
		charsPerToken = DefaultCharsPerToken
	}
	return &HeuristicTokenizer{CharsPerToken: charsPerToken}
}

// Count estimates the number of tokens in the given text.
// Counts runes rather than bytes for better accuracy on non-ASCII text.
func (t *HeuristicTokenizer) Count(text string) int {
	runeCount := utf8.RuneCountInString(text)
	return int(float64(runeCount)/t.CharsPerToken + 0.5)
}

// Kind reports Approximate.
func (t *HeuristicTokenizer) Kind() Kind { return Approximate }

// WordTokenizer estimates using a word-count multiplier. This is the
// documented fallback applied when a model has no exact tokenizer.
type WordTokenizer struct {
	// Multiplier is the tokens-per-word factor.
	Multiplier float64
}

// NewWordTokenizer creates a word-count tokenizer.
// If multiplier is <= 0, the default (1.3) is used.
func NewWordTokenizer(multiplier float64) *WordTokenizer {
	if multiplier <= 0 {
		multiplier = DefaultWordMultiplier
	}
	return &WordTokenizer{Multiplier: multiplier}
}

// Count estimates tokens as word count times the multiplier. The result
// rounds up so that any non-empty text counts at least one token.
func (t *WordTokenizer) Count(text string) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	est := float64(words) * t.Multiplier
	n := int(est)
	if est > float64(n) {
		n++
	}
	return n
}

// Kind reports Approximate.
func (t *WordTokenizer) Kind() Kind { return Approximate }

// ExactFunc adapts a model's real tokenizer function into a Tokenizer.
type ExactFunc func(text string) int

// Count invokes the wrapped tokenizer.
func (f ExactFunc) Count(text string) int { return f(text) }

// Kind reports Exact.
func (f ExactFunc) Kind() Kind { return Exact }
