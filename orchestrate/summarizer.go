package orchestrate

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/randalmurphal/llmflow/tokens"
)

// ExcerptSummarizer is the fallback summarizer used when no model-backed
// one is configured. It keeps the head of the text up to the output
// budget, cutting at a sentence or word boundary. Deployments should
// plug a real Summarizer; this one preserves tokens, not meaning.
type ExcerptSummarizer struct{}

// Summarize implements compress.Summarizer.
func (ExcerptSummarizer) Summarize(_ context.Context, text string, maxOutputTokens int) (string, error) {
	maxLen := int(float64(maxOutputTokens) * tokens.DefaultCharsPerToken)
	if utf8.RuneCountInString(text) <= maxLen {
		return text, nil
	}
	if maxLen < 1 {
		return "", nil
	}

	// Cut on rune boundaries so the excerpt stays valid UTF-8.
	cut := string([]rune(text)[:maxLen])

	// Prefer a sentence boundary in the back half of the excerpt.
	for _, sep := range []string{". ", "! ", "? ", "\n"} {
		if idx := strings.LastIndex(cut, sep); idx > maxLen/2 {
			return strings.TrimSpace(cut[:idx+1]), nil
		}
	}
	if idx := strings.LastIndex(cut, " "); idx > maxLen/2 {
		return cut[:idx] + "...", nil
	}
	return cut + "...", nil
}
