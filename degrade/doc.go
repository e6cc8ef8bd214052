// Package degrade decides how a conversation stays within its model's
// context capacity once usage crosses the critical threshold.
//
// Strategies run in strict order until one succeeds:
//
//  1. Compress the history to the target share of capacity (default 50%)
//     and re-seed the tracker from the compressed token count.
//  2. Prune to the last K exchanges behind a one-line synthetic summary.
//  3. Switch to a larger-capacity model with compatible capability tags,
//     migrating the uncompressed history to the new pair's tracker.
//
// Every attempt is recorded in the Outcome's attempt log regardless of
// result. If nothing succeeds the request fails with ErrExhausted and
// the caller must start a new conversation.
package degrade
