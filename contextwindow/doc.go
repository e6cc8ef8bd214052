// Package contextwindow tracks token consumption per (conversation,
// model) pair against each model's context capacity.
//
// Counters serialize per pair: two in-flight requests for the same
// conversation and model never interleave their updates, while unrelated
// pairs proceed in parallel.
//
// Crossing a notification threshold (default 50/80/90/95%) emits a
// one-shot Event per threshold per pair. Thresholds already notified are
// remembered in the counter and cleared only on Reset, which prevents
// notification storms when usage hovers around a boundary.
package contextwindow
