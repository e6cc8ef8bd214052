// Package tokens counts and estimates tokens for text against a named
// model's tokenization scheme.
//
// The Accountant holds a tokenizer per registered model. Models with an
// exact tokenizer (wrapped via ExactFunc) report exact counts; models
// registered without one fall back to a word-count approximation
// (~1.3 tokens per word) and tag the result Approximate so callers can
// apply safety margins.
//
//	acct := tokens.NewAccountant()
//	acct.Register("claude-sonnet-4", nil) // word-count fallback
//	est, err := acct.Count("Hello, world!", "claude-sonnet-4")
//	// est.Tokens == 3, est.Approximate == true
//
// Counting unregistered models fails with ErrUnknownModel.
//
// Counts are pure functions of (text, model id) and may be cached by
// that pair; the accountant itself keeps no per-call state.
package tokens
