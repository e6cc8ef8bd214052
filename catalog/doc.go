// Package catalog holds built-in provider descriptors with published
// model pricing and context capacities.
//
// The orchestrator falls back to catalog.Default() when a config names
// no providers, so a zero-config setup can still select, track, and
// bill against real models.
package catalog
