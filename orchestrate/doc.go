// Package orchestrate is the façade tying provider selection, context
// window tracking, compression, degradation, and cost accounting into a
// single request pipeline.
//
// Each request moves through a fixed state machine: Received →
// ProviderSelected → BudgetChecked → Executing → Streaming, Completed,
// or Failed. Every transition is logged and offered to the audit hook.
//
// Basic usage:
//
//	cfg, err := config.Load("llmflow.toml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	orc, err := orchestrate.New(cfg,
//		orchestrate.WithAdapter("anthropic", anthropicAdapter),
//		orchestrate.WithSummarizer(summarizer),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	resp, err := orc.Send(ctx, "conv-1", "alice", "Hello!", nil)
//
// Requests within one (conversation, model) pair serialize their usage
// counter updates; requests across conversations run in parallel.
// Provider calls honor context cancellation, and a cancelled call never
// mutates counters or settles cost.
package orchestrate
