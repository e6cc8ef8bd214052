// Package provider holds provider descriptors, capability-tagged model
// selection, and the adapter contract for external LLM vendors.
//
// The Registry stores what the process knows about each provider: its
// models, their context capacities and pricing, capability tags, a health
// flag maintained by external monitoring, and rolling performance metrics
// folded in after every call.
//
// # Selection
//
// Find ranks candidates by a weighted combination of capability match,
// rolling success rate, rolling latency, and cost efficiency:
//
//	reg := provider.NewRegistry()
//	reg.Register(provider.Descriptor{
//	    ID: "anthropic",
//	    Models: []provider.ModelInfo{{
//	        ID: "claude-sonnet-4", Capacity: 200000,
//	        InputCostPerMTok: 3.0, OutputCostPerMTok: 15.0,
//	        Capabilities: []string{"tools", "vision"},
//	    }},
//	})
//	candidates, err := reg.Find([]string{"tools"}, provider.FindOptions{})
//
// Providers flagged Unavailable are excluded from candidates until the
// external health monitor flips them back.
//
// # Adapters
//
// The Adapter interface is the execution boundary: the orchestrator hands
// a ranked candidate's request to the adapter bound for that provider id.
// Vendor integrations live outside this module.
package provider
