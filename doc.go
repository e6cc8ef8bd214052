// Package llmflow orchestrates LLM requests across providers with
// context window budgeting and spend enforcement.
//
// llmflow is a library, not a service: each subpackage can be used
// independently, and the orchestrate package ties them together:
//
//   - orchestrate: request façade with provider failover and auditing
//   - provider: provider registry, ranked selection, adapter contract
//   - tokens: token estimation with per-model tokenizers
//   - contextwindow: per-conversation usage tracking with thresholds
//   - compress: importance-scored history compression and pruning
//   - degrade: compress → prune → switch-model degradation chain
//   - ledger: per-user spend budgets with two-phase reservation
//   - catalog: built-in model descriptors with published pricing
//   - config: TOML/YAML/JSON configuration with live reload
//   - store: key-value persistence boundary
//
// # Quick Start
//
// Token counting:
//
//	import "github.com/randalmurphal/llmflow/tokens"
//	acct := tokens.NewAccountant()
//	est, _ := acct.Count("Hello, World!", "claude-sonnet-4")
//
// Full pipeline:
//
//	import (
//		"github.com/randalmurphal/llmflow/config"
//		"github.com/randalmurphal/llmflow/orchestrate"
//	)
//
//	cfg, _ := config.Load("llmflow.toml")
//	orc, err := orchestrate.New(cfg,
//		orchestrate.WithAdapter("anthropic", adapter),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	resp, err := orc.Send(ctx, "conv-1", "alice", "Hello!", nil)
//
// Provider adapters implement provider.Adapter and live outside this
// module; orchestrate.MockAdapter serves for tests.
package llmflow
