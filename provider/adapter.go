package provider

import "context"

// Adapter executes requests against one external provider. Each vendor
// integration implements this interface outside the core; the core treats
// it as an opaque capability keyed by provider id.
// Implementations must be safe for concurrent use.
type Adapter interface {
	// Execute sends a request and returns the full response.
	// The context controls cancellation and timeouts.
	Execute(ctx context.Context, req Request) (*Response, error)

	// Stream sends a request and returns a channel of response chunks.
	// The channel is closed after the final chunk (check Chunk.Done).
	// Errors during streaming are returned via Chunk.Err.
	Stream(ctx context.Context, req Request) (<-chan Chunk, error)

	// EstimateTokenCount estimates tokens for text using the provider's
	// own tokenization, when available.
	EstimateTokenCount(text string) int
}
