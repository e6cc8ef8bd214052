// Package config loads and validates orchestration configuration from
// TOML, YAML, or JSON files, with environment variable overrides and
// live reloading.
//
// A minimal TOML config:
//
//	thresholds = [50, 80, 90, 95]
//	compress_target_percent = 50
//
//	[[providers]]
//	id = "anthropic"
//
//	[[providers.models]]
//	id = "claude-sonnet-4"
//	capacity = 200000
//	input_cost_per_mtok = 3.0
//	output_cost_per_mtok = 15.0
//	capabilities = ["tools", "vision"]
//
//	[[budgets]]
//	user_id = "alice"
//	limit = 25.0
//	period = "daily"
//
// Load in code:
//
//	cfg, err := config.Load("llmflow.toml")
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Environment variables with the LLMFLOW_ prefix override file values;
// see Config.LoadFromEnv for the full list.
package config
