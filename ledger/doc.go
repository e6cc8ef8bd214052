// Package ledger accumulates spend per user and enforces per-period
// budgets with configurable alert rules.
//
// Enforcement is two-phase: Authorize reserves the estimated cost up
// front, Record settles the reservation to the actual cost after
// execution, Release drops it when execution fails. Because open
// reservations count against the limit, two concurrent requests can
// never jointly exceed a blocking rule — the race where both pass an
// optimistic check before either records is closed by construction.
//
// Recording is idempotent per request id, so a retried delivery of the
// same settlement cannot double-bill.
//
// Budgets reset at their period boundary (daily/weekly/monthly; Total
// never resets). The reset is lazy: it happens on the first operation
// past the boundary. Mid-period limit changes apply to subsequent
// authorizations only.
package ledger
