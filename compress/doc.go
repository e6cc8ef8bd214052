// Package compress reduces conversation histories to fit a token budget.
//
// The engine partitions a history by recency: the most recent N exchanges
// (default 5) are always retained verbatim. Older messages are scored by
// role weight and recency decay, with system messages and existing
// summaries pinned at importance 1.0. Contiguous low-importance runs are
// greedily summarized through a pluggable Summarizer, lowest importance
// first, each batch replaced by a single synthetic summary message until
// the retained set fits the budget.
//
// Compression is idempotent: a history already under budget is returned
// unchanged. When the retained-recent window alone exceeds the budget,
// Compress fails with ErrBudgetTooSmall — the caller escalates to Prune,
// which keeps the last K exchanges behind a one-line synthetic summary
// and needs no summarizer.
package compress
