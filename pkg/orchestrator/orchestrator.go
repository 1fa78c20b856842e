// Package orchestrator wires configuration, adapters, workers and job
// tracking into the operations exposed at the boundary.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/zen-systems/agentgate/pkg/adapter"
	"github.com/zen-systems/agentgate/pkg/agent"
	"github.com/zen-systems/agentgate/pkg/apperr"
	"github.com/zen-systems/agentgate/pkg/archive"
	"github.com/zen-systems/agentgate/pkg/complexity"
	"github.com/zen-systems/agentgate/pkg/config"
	"github.com/zen-systems/agentgate/pkg/dispatch"
	"github.com/zen-systems/agentgate/pkg/engine"
	"github.com/zen-systems/agentgate/pkg/jobs"
	"github.com/zen-systems/agentgate/pkg/router"
	"github.com/zen-systems/agentgate/pkg/schema"
	"github.com/zen-systems/agentgate/pkg/search"
	"github.com/zen-systems/agentgate/pkg/worker"
)

// DefaultCleanupAge applies when a cleanup request names no age.
const DefaultCleanupAge = 24 * time.Hour

// Orchestrator owns the execution engine and the job manager.
type Orchestrator struct {
	routing    *config.RoutingConfig
	translator *worker.Translator
	registry   *worker.Registry
	engine     *engine.Engine
	jobs       *jobs.Manager
	search     *search.Registry
	memory     *search.MemorySource
	store      archive.Store
	logger     *slog.Logger
}

type options struct {
	adapters  map[string]adapter.Adapter
	processor jobs.Processor
	store     archive.Store
	sources   []search.Source
	clock     func() time.Time
	logger    *slog.Logger
}

// Option configures New.
type Option func(*options)

// WithAdapters supplies adapters instead of building them from credentials.
func WithAdapters(adapters map[string]adapter.Adapter) Option {
	return func(o *options) {
		o.adapters = adapters
	}
}

// WithProcessor replaces the configured batch processor.
func WithProcessor(p jobs.Processor) Option {
	return func(o *options) {
		o.processor = p
	}
}

// WithStore replaces the configured archive store.
func WithStore(s archive.Store) Option {
	return func(o *options) {
		o.store = s
	}
}

// WithSearchSource registers an extra knowledge-base source.
func WithSearchSource(s search.Source) Option {
	return func(o *options) {
		o.sources = append(o.sources, s)
	}
}

// WithClock replaces time.Now for job bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.clock = now
	}
}

// WithLogger sets the logger handed to every component.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// New builds an orchestrator from cfg. It fails if any kind the router can
// produce has no registered worker.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Orchestrator, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger

	routing := cfg.RoutingConfig
	if routing == nil {
		routing = config.DefaultRoutingConfig()
	}
	translator, err := routing.Translator()
	if err != nil {
		return nil, fmt.Errorf("kind aliases: %w", err)
	}

	adapters := o.adapters
	if adapters == nil {
		adapters, err = CreateAdapters(ctx, cfg)
		if err != nil {
			return nil, err
		}
	}
	local, err := bind(adapters, "local", routing.Backends.Local)
	if err != nil {
		return nil, err
	}
	remote, err := bind(adapters, "remote", routing.Backends.Remote)
	if err != nil {
		return nil, err
	}
	backends, err := agent.NewBackends(local, remote, routing, agent.WithBackendsLogger(logger))
	if err != nil {
		return nil, err
	}

	settings, err := routing.WorkerSettings()
	if err != nil {
		return nil, err
	}
	registry := worker.NewRegistry()
	if err := agent.RegisterAll(registry, backends, agent.DefaultProfiles(), settings); err != nil {
		return nil, err
	}
	registry.Seal()

	r, err := router.New(routing, router.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	batchKind, err := translator.Parse(routing.Batch.Worker)
	if err != nil {
		return nil, fmt.Errorf("batch.worker: %w", err)
	}
	if err := registry.Validate(append(r.Kinds(), batchKind)...); err != nil {
		return nil, err
	}

	timeouts := make(map[worker.Kind]time.Duration)
	for _, kind := range registry.Kinds() {
		timeouts[kind] = routing.Timeout(settings, kind)
	}
	d := dispatch.New(registry,
		dispatch.WithTimeouts(timeouts, time.Duration(routing.DefaultTimeoutMs)*time.Millisecond),
		dispatch.WithLogger(logger),
	)
	eng := engine.New(complexity.NewAnalyzer(routing.Complexity), r, d, routing.Hybrid, engine.WithLogger(logger))

	processor := o.processor
	if processor == nil {
		processor, err = newProcessor(cfg, routing, eng, batchKind, logger)
		if err != nil {
			return nil, err
		}
	}

	store := o.store
	if store == nil {
		store, err = archive.Open(cfg.StoreDriver, cfg.StorePath, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open archive: %w", err)
		}
	}

	jobOpts := []jobs.Option{
		jobs.WithArchive(store),
		jobs.WithSessionConfig(jobs.SessionConfig{DefaultVoice: routing.Sessions.DefaultVoice}),
		jobs.WithLogger(logger),
	}
	if o.clock != nil {
		jobOpts = append(jobOpts, jobs.WithClock(o.clock))
	}

	memory := search.NewMemorySource()
	if len(routing.Search.Documents) > 0 {
		n, err := memory.LoadPaths(ctx, routing.Search.Documents)
		if err != nil {
			return nil, err
		}
		logger.Info("knowledge base loaded", "files", n)
	}
	searchReg := search.NewRegistry(logger)
	searchReg.Register(memory)
	if cfg.VectorStoreID != "" && cfg.OpenAIAPIKey != "" {
		vs, err := search.NewVectorStoreSource(cfg.OpenAIAPIKey, cfg.VectorStoreID)
		if err != nil {
			return nil, err
		}
		searchReg.Register(vs)
	}
	for _, s := range o.sources {
		searchReg.Register(s)
	}

	orch := &Orchestrator{
		routing:    routing,
		translator: translator,
		registry:   registry,
		engine:     eng,
		jobs:       jobs.NewManager(processor, jobOpts...),
		search:     searchReg,
		memory:     memory,
		store:      store,
		logger:     logger.With("component", "orchestrator"),
	}
	orch.logger.Info("orchestrator ready",
		"workers", len(registry.Kinds()),
		"local", routing.Backends.Local.Adapter+"/"+local.Model,
		"remote", routing.Backends.Remote.Adapter+"/"+remote.Model,
		"batch_processor", processor.Name(),
		"batch_worker", batchKind,
		"search_sources", searchReg.Len(),
	)
	return orch, nil
}

func bind(adapters map[string]adapter.Adapter, which string, target config.RouteTarget) (agent.Binding, error) {
	a, ok := adapters[target.Adapter]
	if !ok {
		return agent.Binding{}, fmt.Errorf("%s backend adapter %q is not configured", which, target.Adapter)
	}
	return agent.Binding{Adapter: a, Model: target.Model}, nil
}

func newProcessor(cfg *config.Config, routing *config.RoutingConfig, eng *engine.Engine, kind worker.Kind, logger *slog.Logger) (jobs.Processor, error) {
	switch routing.Batch.Processor {
	case "openai":
		api, err := jobs.NewOpenAIBatchAPI(cfg.OpenAIAPIKey)
		if err != nil {
			return nil, fmt.Errorf("batch processor: %w", err)
		}
		return jobs.NewOpenAIBatchProcessor(api, routing.ResolveModel(routing.Batch.Model), logger), nil
	default:
		return jobs.NewLocalProcessor(eng, kind, routing.Batch.Concurrency, logger), nil
	}
}

// Dispatch runs one task synchronously.
func (o *Orchestrator) Dispatch(ctx context.Context, req schema.DispatchRequest) (schema.DispatchResponse, error) {
	if strings.TrimSpace(req.Query) == "" {
		return schema.DispatchResponse{}, apperr.AmbiguousRequest("query is empty")
	}
	r := schema.Request{Query: req.Query, Context: req.Context, ForceLocal: req.ForceLocal}
	if req.WorkerKind != "" {
		kind, err := o.translator.Parse(req.WorkerKind)
		if err != nil {
			return schema.DispatchResponse{}, err
		}
		r.WorkerKind = kind
	}
	if req.SessionID != "" {
		if err := o.jobs.TouchSession(req.SessionID); err != nil {
			return schema.DispatchResponse{}, err
		}
	}
	if req.UseKnowledgeBase {
		r.Context = o.knowledgeContext(ctx, req.Query, req.Context)
	}

	res, err := o.engine.Execute(ctx, r)
	if err != nil {
		return schema.DispatchResponse{}, err
	}
	resp := schema.DispatchResponse{
		Output:          res.Output,
		WorkerUsed:      string(res.WorkerUsed),
		BackendUsed:     string(res.Backend),
		ElapsedMS:       res.Elapsed.Milliseconds(),
		FallbackUsed:    res.FallbackUsed,
		Model:           res.Model,
		ComplexityScore: res.Score.Value,
		ComplexityTier:  string(res.Decision.Tier),
		CostUSD:         res.Cost.Amount,
	}
	if res.Usage.TotalTokens > 0 {
		usage := res.Usage
		resp.Usage = &usage
	}
	return resp, nil
}

// knowledgeContext prepends retrieved snippets to the caller's context.
// Search failures degrade to the caller's context alone.
func (o *Orchestrator) knowledgeContext(ctx context.Context, query, callerContext string) string {
	snippets, err := o.search.Search(ctx, query, o.routing.Search.MaxSnippets)
	if err != nil {
		o.logger.Warn("knowledge base search failed", "error", err)
		return callerContext
	}
	kb := search.BuildContext(snippets, o.routing.Search.MaxSnippets, o.routing.Search.MaxChars)
	switch {
	case kb == "":
		return callerContext
	case callerContext == "":
		return kb
	default:
		return callerContext + "\n\n" + kb
	}
}

// AddKnowledge stores text in the in-memory knowledge base consulted by
// dispatches that set use_knowledge_base.
func (o *Orchestrator) AddKnowledge(req schema.KnowledgeAddRequest) (schema.KnowledgeAddResponse, error) {
	if strings.TrimSpace(req.Text) == "" {
		return schema.KnowledgeAddResponse{}, apperr.InvalidArgument("text is required")
	}
	id := o.memory.AddRef(req.Ref, req.Text)
	return schema.KnowledgeAddResponse{ID: id, Entries: o.memory.Len()}, nil
}

func (o *Orchestrator) SubmitBatch(ctx context.Context, req schema.BatchSubmitRequest) (schema.BatchSubmitResponse, error) {
	return o.jobs.SubmitBatch(ctx, jobs.BatchSpec{
		Documents:      req.Documents,
		ProcessingKind: req.ProcessingKind,
		Instructions:   req.Instructions,
	})
}

func (o *Orchestrator) BatchStatus(ctx context.Context, id string) (schema.BatchStatusResponse, error) {
	return o.jobs.BatchStatus(ctx, id)
}

func (o *Orchestrator) BatchResults(ctx context.Context, id string) (schema.BatchResultsResponse, error) {
	return o.jobs.BatchResults(ctx, id)
}

func (o *Orchestrator) CancelBatch(ctx context.Context, id string) (schema.BatchStatusResponse, error) {
	return o.jobs.CancelBatch(ctx, id)
}

func (o *Orchestrator) StartSession(req schema.SessionStartRequest) (schema.SessionResponse, error) {
	return o.jobs.StartSession(req)
}

func (o *Orchestrator) EndSession(req schema.SessionEndRequest) (schema.SessionEndResponse, error) {
	if strings.TrimSpace(req.SessionID) == "" {
		return schema.SessionEndResponse{}, apperr.InvalidArgument("session_id is required")
	}
	return o.jobs.EndSession(req.SessionID)
}

// Status reports engine counters together with job and session counts.
func (o *Orchestrator) Status() schema.StatusSnapshot {
	s := o.engine.Stats()
	sessions, active, total := o.jobs.Counts()
	return schema.StatusSnapshot{
		LocalCount:       s.LocalCount,
		RemoteCount:      s.RemoteCount,
		FallbackCount:    s.FallbackCount,
		FailureCount:     s.FailureCount,
		TotalLatencyMS:   s.TotalLatencyMs,
		AvgLatencyMS:     s.AvgLatencyMs,
		LocalRatio:       s.LocalRatio,
		LocalRatioTarget: s.LocalRatioTarget,
		EstimatedCostUSD: s.EstimatedCostUSD,
		ActiveSessions:   sessions,
		ActiveBatchJobs:  active,
		TotalBatchJobs:   total,
		Workers:          len(o.registry.Kinds()),
	}
}

// Cleanup purges terminal jobs and sessions older than max_age_hours
// (default 24).
func (o *Orchestrator) Cleanup(ctx context.Context, req schema.CleanupRequest) (schema.CleanupResponse, error) {
	if req.MaxAgeHours < 0 {
		return schema.CleanupResponse{}, apperr.InvalidArgument("max_age_hours must not be negative")
	}
	age := DefaultCleanupAge
	if req.MaxAgeHours > 0 {
		age = time.Duration(req.MaxAgeHours * float64(time.Hour))
	}
	res, err := o.jobs.Cleanup(ctx, age)
	resp := schema.CleanupResponse{ExpiredJobsCleaned: res.Jobs, ExpiredSessionsCleaned: res.Sessions}
	if err != nil {
		return resp, apperr.Internal("archive expired jobs", err)
	}
	return resp, nil
}

// Run ends idle sessions and purges expired jobs until ctx is done.
func (o *Orchestrator) Run(ctx context.Context) error {
	interval := time.Duration(o.routing.Sessions.SweepIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	idle := time.Duration(o.routing.Sessions.IdleTimeoutMinutes) * time.Minute
	maxAge := time.Duration(o.routing.Sessions.MaxAgeHours) * time.Hour

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			o.jobs.SweepIdleSessions(idle)
			if maxAge > 0 {
				if _, err := o.jobs.Cleanup(ctx, maxAge); err != nil {
					o.logger.Error("janitor cleanup failed", "error", err)
				}
			}
		}
	}
}

// Close releases the archive store.
func (o *Orchestrator) Close() error {
	return o.store.Close()
}

// Engine exposes the execution engine.
func (o *Orchestrator) Engine() *engine.Engine {
	return o.engine
}

// Registry exposes the sealed worker registry.
func (o *Orchestrator) Registry() *worker.Registry {
	return o.registry
}

// Routing returns the active routing configuration.
func (o *Orchestrator) Routing() *config.RoutingConfig {
	return o.routing
}
