package orchestrate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/randalmurphal/llmflow/catalog"
	"github.com/randalmurphal/llmflow/compress"
	"github.com/randalmurphal/llmflow/config"
	"github.com/randalmurphal/llmflow/contextwindow"
	"github.com/randalmurphal/llmflow/degrade"
	"github.com/randalmurphal/llmflow/ledger"
	"github.com/randalmurphal/llmflow/provider"
	"github.com/randalmurphal/llmflow/store"
	"github.com/randalmurphal/llmflow/tokens"
)

// defaultOutputEstimateTokens is the assumed response length for budget
// authorization when the caller sets no explicit limit. Actual spend is
// settled from real usage after the call.
const defaultOutputEstimateTokens = 1024

// Orchestrator ties the registry, tracker, compression engine,
// degradation policy, and cost ledger together behind a single request
// interface. Safe for concurrent use; requests for the same
// (conversation, model) pair serialize their counter updates.
type Orchestrator struct {
	cfg config.Config

	registry *provider.Registry
	tracker  *contextwindow.Tracker
	engine   *compress.Engine
	policy   *degrade.Policy
	ledger   *ledger.Ledger
	acct     *tokens.Accountant

	store  store.Store
	logger *slog.Logger
	audit  AuditFunc

	summarizer   compress.Summarizer
	windowNotify contextwindow.NotifyFunc
	budgetNotify ledger.NotifyFunc
	tokenizers   map[string]tokens.Tokenizer

	mu       sync.RWMutex
	adapters map[string]provider.Adapter
	convs    map[string]*Conversation
	locks    map[pairKey]*sync.Mutex
	users    map[string]bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithAdapter binds an execution adapter to a provider id.
func WithAdapter(providerID string, a provider.Adapter) Option {
	return func(o *Orchestrator) { o.adapters[providerID] = a }
}

// WithSummarizer sets the summarizer used by the compression engine.
// Without one, compression falls back to excerpt truncation.
func WithSummarizer(s compress.Summarizer) Option {
	return func(o *Orchestrator) { o.summarizer = s }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithAudit sets the audit hook receiving one record per request state
// transition.
func WithAudit(fn AuditFunc) Option {
	return func(o *Orchestrator) { o.audit = fn }
}

// WithStore sets the persistence store for conversation snapshots.
func WithStore(s store.Store) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithWindowNotify forwards context window threshold events to an
// external sink.
func WithWindowNotify(fn contextwindow.NotifyFunc) Option {
	return func(o *Orchestrator) { o.windowNotify = fn }
}

// WithBudgetNotify forwards budget alert events to an external sink.
func WithBudgetNotify(fn ledger.NotifyFunc) Option {
	return func(o *Orchestrator) { o.budgetNotify = fn }
}

// WithTokenizer registers an exact tokenizer for a model, replacing the
// heuristic default.
func WithTokenizer(modelID string, tok tokens.Tokenizer) Option {
	return func(o *Orchestrator) { o.tokenizers[modelID] = tok }
}

// New builds an Orchestrator from a validated config: providers are
// registered, model capacities declared, budgets seeded, and the token
// accountant primed with a heuristic tokenizer per configured model.
// A config naming no providers falls back to the built-in catalog.
func New(cfg config.Config, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("orchestrator config: %w", err)
	}

	o := &Orchestrator{
		cfg:        cfg,
		logger:     slog.Default(),
		adapters:   make(map[string]provider.Adapter),
		convs:      make(map[string]*Conversation),
		locks:      make(map[pairKey]*sync.Mutex),
		users:      make(map[string]bool),
		tokenizers: make(map[string]tokens.Tokenizer),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.summarizer == nil {
		o.summarizer = ExcerptSummarizer{}
	}

	o.registry = provider.NewRegistry()
	o.acct = tokens.NewAccountant()
	o.acct.SetFallback(tokens.NewWordTokenizer(cfg.WordMultiplier))
	for id, tok := range o.tokenizers {
		o.acct.Register(id, tok)
	}

	o.tracker = contextwindow.NewTracker(
		contextwindow.WithThresholds(cfg.Thresholds),
		contextwindow.WithNotify(o.onWindowEvent),
	)

	descs := cfg.Providers
	if len(descs) == 0 {
		descs = catalog.Default()
	}
	for _, d := range descs {
		o.registerProvider(d)
	}

	o.engine = compress.NewEngine(o.acct, o.summarizer,
		compress.WithKeepRecent(cfg.KeepRecentExchanges))
	o.policy = degrade.NewPolicy(o.engine, o.tracker, o.registry,
		degrade.WithTargetPercent(cfg.CompressTargetPercent),
		degrade.WithKeepExchanges(cfg.KeepRecentExchanges))

	o.ledger = ledger.NewLedger(ledger.WithNotify(o.onBudgetEvent))
	for _, b := range cfg.Budgets {
		o.ledger.SetBudget(b)
	}

	return o, nil
}

// RegisterProvider adds or replaces a provider descriptor at runtime,
// declaring capacities and priming tokenizers for its models.
func (o *Orchestrator) RegisterProvider(d provider.Descriptor) {
	o.registerProvider(d)
}

func (o *Orchestrator) registerProvider(d provider.Descriptor) {
	o.registry.Register(d)
	for _, m := range d.Models {
		o.tracker.DeclareCapacity(m.ID, m.Capacity)
		if !o.acct.IsRegistered(m.ID) {
			o.acct.Register(m.ID, tokens.NewHeuristicTokenizer(o.cfg.CharsPerToken))
		}
	}
}

// Registry exposes the provider registry for health and metrics updates.
func (o *Orchestrator) Registry() *provider.Registry { return o.registry }

// Ledger exposes the cost ledger for budget administration.
func (o *Orchestrator) Ledger() *ledger.Ledger { return o.ledger }

// Tracker exposes the context window tracker for usage queries.
func (o *Orchestrator) Tracker() *contextwindow.Tracker { return o.tracker }

func (o *Orchestrator) onWindowEvent(ev contextwindow.Event) {
	o.logger.Info("context window threshold crossed",
		"conversation_id", ev.ConversationID,
		"model", ev.ModelID,
		"threshold", ev.Threshold,
		"percent", ev.Percent,
	)
	if o.windowNotify != nil {
		o.windowNotify(ev)
	}
}

func (o *Orchestrator) onBudgetEvent(ev ledger.Event) {
	o.logger.Warn("budget threshold crossed",
		"user_id", ev.UserID,
		"threshold", ev.ThresholdPercent,
		"consumed", ev.Consumed,
	)
	if o.budgetNotify != nil {
		o.budgetNotify(ev)
	}
}

// callPlan carries one request through its states.
type callPlan struct {
	requestID string
	conv      *Conversation
	userID    string
	required  []string

	providerID string
	modelID    string
	model      provider.ModelInfo

	userMsg      provider.Message
	history      []provider.Message
	promptTokens int
	deltaTokens  int
	strategy     degrade.Strategy
}

// Send runs one completion request through the full pipeline: provider
// selection, degradation when the window reaches the critical level,
// budget authorization, execution with bounded failover, and settlement
// of actual tokens and cost.
//
// Terminal errors surface to the caller: ErrBudgetExceeded when spend
// authorization fails, degrade.ErrExhausted when no degradation strategy
// can make the conversation fit. A cancelled context aborts the provider
// call without mutating usage counters.
func (o *Orchestrator) Send(ctx context.Context, conversationID, userID, content string, required []string) (*provider.Response, error) {
	p, err := o.prepare(ctx, conversationID, userID, content, required)
	if err != nil {
		return nil, err
	}

	resp, err := o.executeWithFailover(ctx, p)
	if err != nil {
		o.ledger.Release(p.userID, p.requestID)
		o.emit(Record{
			RequestID: p.requestID, ConversationID: conversationID, UserID: userID,
			State: StateFailed, ProviderID: p.providerID, ModelID: p.modelID, Err: err,
		})
		return nil, err
	}

	cost := o.commit(p, resp)
	o.emit(Record{
		RequestID: p.requestID, ConversationID: conversationID, UserID: userID,
		State: StateCompleted, ProviderID: p.providerID, ModelID: p.modelID,
		Strategy: p.strategy, CostUSD: cost,
	})
	return resp, nil
}

// prepare moves a request through Received, ProviderSelected, and
// BudgetChecked, running the degradation policy when recorded usage is
// at or past the warning level.
func (o *Orchestrator) prepare(ctx context.Context, conversationID, userID, content string, required []string) (*callPlan, error) {
	p := &callPlan{
		requestID: xid.New().String(),
		userID:    userID,
		required:  required,
	}
	p.conv = o.conversation(conversationID, userID)
	o.noteUser(userID)

	o.emit(Record{RequestID: p.requestID, ConversationID: conversationID, UserID: userID, State: StateReceived})

	if err := o.selectTarget(p, nil); err != nil {
		o.emit(Record{RequestID: p.requestID, ConversationID: conversationID, UserID: userID, State: StateFailed, Err: err})
		return nil, err
	}
	o.emit(Record{
		RequestID: p.requestID, ConversationID: conversationID, UserID: userID,
		State: StateProviderSelected, ProviderID: p.providerID, ModelID: p.modelID,
	})

	p.userMsg = provider.NewMessage(provider.RoleUser, content)

	if err := o.degradeIfNeeded(ctx, p); err != nil {
		o.emit(Record{
			RequestID: p.requestID, ConversationID: conversationID, UserID: userID,
			State: StateFailed, ProviderID: p.providerID, ModelID: p.modelID, Err: err,
		})
		return nil, err
	}

	if err := o.countAndAuthorize(p); err != nil {
		o.emit(Record{
			RequestID: p.requestID, ConversationID: conversationID, UserID: userID,
			State: StateFailed, ProviderID: p.providerID, ModelID: p.modelID, Err: err,
		})
		return nil, err
	}
	o.emit(Record{
		RequestID: p.requestID, ConversationID: conversationID, UserID: userID,
		State: StateBudgetChecked, ProviderID: p.providerID, ModelID: p.modelID, Strategy: p.strategy,
	})
	return p, nil
}

// selectTarget binds the request to a provider and model. A conversation
// keeps its existing binding while the provider stays usable; otherwise
// the registry ranks candidates.
func (o *Orchestrator) selectTarget(p *callPlan, exclude []string) error {
	o.mu.RLock()
	boundProvider, boundModel := p.conv.ProviderID, p.conv.ModelID
	o.mu.RUnlock()

	if boundProvider != "" && !contains(exclude, boundProvider) {
		if desc, err := o.registry.Get(boundProvider); err == nil && desc.Health != provider.Unavailable {
			if m, ok := desc.Model(boundModel); ok && m.HasCapabilities(p.required) {
				p.providerID, p.modelID, p.model = boundProvider, boundModel, m
				return nil
			}
		}
	}

	cands, err := o.registry.Find(p.required, provider.FindOptions{ExcludeProviders: exclude})
	if err != nil {
		return fmt.Errorf("select provider: %w", err)
	}
	best := cands[0]
	p.providerID, p.modelID, p.model = best.ProviderID, best.Model.ID, best.Model
	o.tracker.DeclareCapacity(p.modelID, p.model.Capacity)
	o.bindConversation(p)
	return nil
}

func (o *Orchestrator) bindConversation(p *callPlan) {
	o.mu.Lock()
	p.conv.ProviderID, p.conv.ModelID = p.providerID, p.modelID
	o.mu.Unlock()
}

// degradeIfNeeded runs the degradation policy when the pair's recorded
// usage reaches the critical level, adopting the degraded history and
// any new execution target. The warning band only notifies; strategies
// are destructive and wait for critical. It also assembles the prompt
// history.
func (o *Orchestrator) degradeIfNeeded(ctx context.Context, p *callPlan) error {
	lock := o.lockPair(p.conv.ID, p.modelID)
	lock.Lock()
	defer lock.Unlock()

	o.mu.RLock()
	msgs := append([]provider.Message(nil), p.conv.Messages...)
	o.mu.RUnlock()

	pct, err := o.tracker.UsagePercent(p.conv.ID, p.modelID)
	if err == nil && degrade.LevelFor(pct, o.cfg.WarningPercent, o.cfg.CriticalPercent) >= degrade.Critical {
		outcome, derr := o.policy.Apply(ctx, p.conv.ID, msgs, p.providerID, p.modelID, p.required)
		if derr != nil {
			return derr
		}
		msgs = outcome.Messages
		o.mu.Lock()
		p.conv.Messages = outcome.Messages
		o.mu.Unlock()
		p.strategy = outcome.Strategy

		if outcome.ProviderID != p.providerID || outcome.ModelID != p.modelID {
			desc, err := o.registry.Get(outcome.ProviderID)
			if err != nil {
				return fmt.Errorf("adopt degraded target: %w", err)
			}
			m, ok := desc.Model(outcome.ModelID)
			if !ok {
				return fmt.Errorf("adopt degraded target: model %q not offered by %q", outcome.ModelID, outcome.ProviderID)
			}
			p.providerID, p.modelID, p.model = outcome.ProviderID, outcome.ModelID, m
		}
		o.bindConversation(p)
		o.logger.Info("degradation applied",
			"conversation_id", p.conv.ID,
			"strategy", string(outcome.Strategy),
			"percent", outcome.Percent,
		)
	}

	p.history = make([]provider.Message, 0, len(msgs)+1)
	p.history = append(p.history, msgs...)
	p.history = append(p.history, p.userMsg)
	return nil
}

// countAndAuthorize estimates prompt tokens and reserves the estimated
// cost against the user's budget.
func (o *Orchestrator) countAndAuthorize(p *callPlan) error {
	contents := make([]string, len(p.history))
	for i, m := range p.history {
		contents[i] = m.Content
	}
	est, err := o.acct.CountMessages(contents, p.modelID)
	if err != nil {
		return fmt.Errorf("count prompt tokens: %w", err)
	}
	p.promptTokens = est.Tokens

	delta, err := o.acct.CountMessages([]string{p.userMsg.Content}, p.modelID)
	if err != nil {
		return fmt.Errorf("count message tokens: %w", err)
	}
	p.deltaTokens = delta.Tokens

	estimated := ledger.EstimateCost(
		p.model.InputCostPerMTok, p.model.OutputCostPerMTok,
		p.promptTokens, defaultOutputEstimateTokens,
	)
	if _, err := o.ledger.Authorize(p.userID, p.requestID, estimated); err != nil {
		return fmt.Errorf("authorize request %s: %w", p.requestID, err)
	}
	return nil
}

// executeWithFailover hands the request to the bound adapter, retrying
// on retryable provider errors with the next-ranked candidate, up to the
// configured retry count.
func (o *Orchestrator) executeWithFailover(ctx context.Context, p *callPlan) (*provider.Response, error) {
	var exclude []string
	for attempt := 0; ; attempt++ {
		resp, err := o.executeOnce(ctx, p)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		if !provider.IsRetryable(err) || attempt >= o.cfg.FailoverRetries {
			return nil, err
		}

		o.registry.UpdateMetrics(p.providerID, 0, false, 0)
		exclude = append(exclude, p.providerID)
		o.logger.Warn("provider failed, trying next candidate",
			"request_id", p.requestID,
			"provider", p.providerID,
			"attempt", attempt+1,
			"error", err,
		)
		if ferr := o.failover(p, exclude); ferr != nil {
			return nil, fmt.Errorf("failover after %v: %w", err, ferr)
		}
	}
}

// failover rebinds the plan to the next candidate and migrates the
// conversation's window accounting to the new model.
func (o *Orchestrator) failover(p *callPlan, exclude []string) error {
	if err := o.selectTarget(p, exclude); err != nil {
		return err
	}

	lock := o.lockPair(p.conv.ID, p.modelID)
	lock.Lock()
	defer lock.Unlock()

	o.mu.RLock()
	msgs := append([]provider.Message(nil), p.conv.Messages...)
	o.mu.RUnlock()

	count, err := o.engine.CountHistory(msgs, p.modelID)
	if err != nil {
		return err
	}
	o.tracker.Reset(p.conv.ID, p.modelID)
	return o.tracker.Seed(p.conv.ID, p.modelID, count)
}

func (o *Orchestrator) executeOnce(ctx context.Context, p *callPlan) (*provider.Response, error) {
	o.mu.RLock()
	adapter, ok := o.adapters[p.providerID]
	o.mu.RUnlock()
	if !ok {
		return nil, provider.NewError(p.providerID, "execute", provider.ErrNoAdapter, false)
	}
	if err := o.registry.Reserve(p.providerID); err != nil {
		return nil, err
	}

	o.emit(Record{
		RequestID: p.requestID, ConversationID: p.conv.ID, UserID: p.userID,
		State: StateExecuting, ProviderID: p.providerID, ModelID: p.modelID,
	})
	return adapter.Execute(ctx, provider.Request{
		ConversationID: p.conv.ID,
		Messages:       p.history,
		ProviderID:     p.providerID,
		Model:          p.modelID,
	})
}

// commit settles a successful call: appends the exchange to the
// conversation, records actual tokens to the tracker, then settles
// actual cost with the ledger. A cost-recording failure is logged and
// never fails the user-visible response.
func (o *Orchestrator) commit(p *callPlan, resp *provider.Response) float64 {
	usage := resp.Usage
	if usage.InputTokens == 0 {
		usage.InputTokens = p.promptTokens
	}
	if usage.OutputTokens == 0 {
		if est, err := o.acct.Count(resp.Content, p.modelID); err == nil {
			usage.OutputTokens = est.Tokens
		}
	}

	lock := o.lockPair(p.conv.ID, p.modelID)
	lock.Lock()
	o.mu.Lock()
	p.conv.Messages = append(p.conv.Messages, p.userMsg, provider.NewMessage(provider.RoleAssistant, resp.Content))
	o.mu.Unlock()
	if _, err := o.tracker.RecordUsage(p.conv.ID, p.modelID, p.deltaTokens, contextwindow.Input); err != nil {
		o.logger.Error("record input usage failed", "request_id", p.requestID, "error", err)
	}
	if _, err := o.tracker.RecordUsage(p.conv.ID, p.modelID, usage.OutputTokens, contextwindow.Output); err != nil {
		o.logger.Error("record output usage failed", "request_id", p.requestID, "error", err)
	}
	lock.Unlock()

	actual := ledger.EstimateCost(
		p.model.InputCostPerMTok, p.model.OutputCostPerMTok,
		usage.InputTokens, usage.OutputTokens,
	)
	if err := o.ledger.Record(p.userID, p.requestID, actual); err != nil {
		o.logger.Error("cost recording failed",
			"request_id", p.requestID,
			"user_id", p.userID,
			"cost_usd", actual,
			"error", err,
		)
	}
	o.registry.UpdateMetrics(p.providerID, resp.Duration, true, actual)
	return actual
}

// Stream runs one request with a streaming response. The returned
// channel carries content chunks and closes after the final chunk;
// usage counters and cost settle when the final chunk arrives. A stream
// that errors or is cancelled mid-flight releases the budget
// reservation without mutating counters.
func (o *Orchestrator) Stream(ctx context.Context, conversationID, userID, content string, required []string) (<-chan provider.Chunk, error) {
	p, err := o.prepare(ctx, conversationID, userID, content, required)
	if err != nil {
		return nil, err
	}

	src, err := o.openStream(ctx, p)
	if err != nil {
		o.ledger.Release(p.userID, p.requestID)
		o.emit(Record{
			RequestID: p.requestID, ConversationID: conversationID, UserID: userID,
			State: StateFailed, ProviderID: p.providerID, ModelID: p.modelID, Err: err,
		})
		return nil, err
	}

	o.emit(Record{
		RequestID: p.requestID, ConversationID: conversationID, UserID: userID,
		State: StateStreaming, ProviderID: p.providerID, ModelID: p.modelID,
	})

	out := make(chan provider.Chunk, 16)
	go o.pump(ctx, p, src, out)
	return out, nil
}

// openStream opens the adapter stream with the same bounded failover as
// Send. Failures after the stream opens do not fail over.
func (o *Orchestrator) openStream(ctx context.Context, p *callPlan) (<-chan provider.Chunk, error) {
	var exclude []string
	for attempt := 0; ; attempt++ {
		src, err := o.openStreamOnce(ctx, p)
		if err == nil {
			return src, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		if !provider.IsRetryable(err) || attempt >= o.cfg.FailoverRetries {
			return nil, err
		}
		o.registry.UpdateMetrics(p.providerID, 0, false, 0)
		exclude = append(exclude, p.providerID)
		if ferr := o.failover(p, exclude); ferr != nil {
			return nil, fmt.Errorf("failover after %v: %w", err, ferr)
		}
	}
}

func (o *Orchestrator) openStreamOnce(ctx context.Context, p *callPlan) (<-chan provider.Chunk, error) {
	o.mu.RLock()
	adapter, ok := o.adapters[p.providerID]
	o.mu.RUnlock()
	if !ok {
		return nil, provider.NewError(p.providerID, "stream", provider.ErrNoAdapter, false)
	}
	if err := o.registry.Reserve(p.providerID); err != nil {
		return nil, err
	}
	return adapter.Stream(ctx, provider.Request{
		ConversationID: p.conv.ID,
		Messages:       p.history,
		ProviderID:     p.providerID,
		Model:          p.modelID,
	})
}

// pump forwards chunks to the caller and settles the request when the
// final chunk arrives.
func (o *Orchestrator) pump(ctx context.Context, p *callPlan, src <-chan provider.Chunk, out chan<- provider.Chunk) {
	defer close(out)

	var full strings.Builder
	var usage provider.TokenUsage
	start := time.Now()
	settled := false

	abort := func(err error) {
		o.ledger.Release(p.userID, p.requestID)
		o.emit(Record{
			RequestID: p.requestID, ConversationID: p.conv.ID, UserID: p.userID,
			State: StateFailed, ProviderID: p.providerID, ModelID: p.modelID, Err: err,
		})
	}

	for chunk := range src {
		if chunk.Err != nil {
			abort(chunk.Err)
			select {
			case out <- chunk:
			case <-ctx.Done():
			}
			return
		}
		full.WriteString(chunk.Content)
		if chunk.Usage != nil {
			usage.Add(*chunk.Usage)
		}

		select {
		case out <- chunk:
		case <-ctx.Done():
			abort(ctx.Err())
			return
		}

		if chunk.Done {
			cost := o.commit(p, &provider.Response{
				Content:  full.String(),
				Usage:    usage,
				Model:    p.modelID,
				Duration: time.Since(start),
			})
			o.emit(Record{
				RequestID: p.requestID, ConversationID: p.conv.ID, UserID: p.userID,
				State: StateCompleted, ProviderID: p.providerID, ModelID: p.modelID,
				Strategy: p.strategy, CostUSD: cost,
			})
			settled = true
		}
	}

	// Source closed without a final chunk: the call never finished.
	if !settled {
		abort(ctx.Err())
	}
}

func (o *Orchestrator) noteUser(userID string) {
	o.mu.Lock()
	o.users[userID] = true
	o.mu.Unlock()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
