// Package engine runs scored and routed requests on the local or remote
// backend, falling back from local to remote when allowed.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/zen-systems/agentgate/pkg/apperr"
	"github.com/zen-systems/agentgate/pkg/complexity"
	"github.com/zen-systems/agentgate/pkg/config"
	"github.com/zen-systems/agentgate/pkg/dispatch"
	"github.com/zen-systems/agentgate/pkg/router"
	"github.com/zen-systems/agentgate/pkg/schema"
	"github.com/zen-systems/agentgate/pkg/worker"
)

// Result is a TaskResult plus the score and decision that produced it.
type Result struct {
	dispatch.TaskResult
	Score    complexity.Score
	Decision router.Decision
}

// Engine is the hybrid execution engine. It is safe for concurrent use.
type Engine struct {
	analyzer      *complexity.Analyzer
	router        *router.TriageRouter
	dispatcher    *dispatch.Dispatcher
	allowFallback bool
	threshold     float64
	ratioTarget   float64
	stats         Stats
	logger        *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New wires the engine's collaborators.
func New(analyzer *complexity.Analyzer, r *router.TriageRouter, d *dispatch.Dispatcher, hybrid config.HybridConfig, opts ...Option) *Engine {
	e := &Engine{
		analyzer:      analyzer,
		router:        r,
		dispatcher:    d,
		allowFallback: hybrid.FallbackEnabled(),
		threshold:     hybrid.LocalThreshold,
		ratioTarget:   hybrid.LocalRatioTarget,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "engine")
	return e
}

// Execute scores, routes and runs req. The returned error is non-nil exactly
// when the result did not succeed; routing errors return an empty Result.
func (e *Engine) Execute(ctx context.Context, req schema.Request) (Result, error) {
	start := time.Now()
	score := e.analyzer.Score(req)
	decision, err := e.router.Route(req, score)
	if err != nil {
		return Result{Score: score}, err
	}

	res := e.run(ctx, decision, req)
	res.Elapsed = time.Since(start)

	e.stats.recordRequest(res.Elapsed, res.Cost.Amount, !res.Succeeded, res.FallbackUsed)
	e.logger.Info("request executed",
		"worker_kind", res.WorkerUsed,
		"backend", res.Backend,
		"score", score.Value,
		"tier", decision.Tier,
		"fallback", res.FallbackUsed,
		"succeeded", res.Succeeded,
		"elapsed", res.Elapsed,
	)
	return Result{TaskResult: res, Score: score, Decision: decision}, res.Err
}

// run executes on the decided backend, then once on remote if a local
// attempt failed. The remote attempt starts only after local has returned.
func (e *Engine) run(ctx context.Context, decision router.Decision, req schema.Request) dispatch.TaskResult {
	e.stats.recordAttempt(decision.Backend)
	res := e.dispatcher.Execute(ctx, decision, req)
	if res.Succeeded || !e.shouldFallback(ctx, decision, req, res) {
		return res
	}

	e.logger.Warn("local execution failed, falling back to remote",
		"worker_kind", decision.Kind,
		"kind", res.ErrorKind(),
		"error", res.Err,
	)
	remote := decision
	remote.Backend = worker.BackendRemote
	e.stats.recordAttempt(worker.BackendRemote)
	fb := e.dispatcher.Execute(ctx, remote, req)
	fb.FallbackUsed = true
	// Tokens spent on the failed local attempt still count.
	fb.Usage = res.Usage.Add(fb.Usage)
	fb.Cost.Amount += res.Cost.Amount
	return fb
}

// shouldFallback reports whether a failed local attempt may move to remote.
// force_local pins the request to local, and a cancelled caller gets nothing.
func (e *Engine) shouldFallback(ctx context.Context, decision router.Decision, req schema.Request, res dispatch.TaskResult) bool {
	if !e.allowFallback || decision.Backend != worker.BackendLocal || req.ForceLocal {
		return false
	}
	if ctx.Err() != nil {
		return false
	}
	switch res.ErrorKind() {
	case apperr.CodeTimeout, apperr.CodeWorkerError:
		return true
	default:
		return false
	}
}

// SelectBackend scores req and picks the backend it would run on first.
func (e *Engine) SelectBackend(req schema.Request) worker.Backend {
	return router.SelectBackend(req, e.analyzer.Score(req).Value, e.threshold)
}

// Stats returns a snapshot of the execution counters.
func (e *Engine) Stats() Snapshot {
	return e.stats.Snapshot(e.ratioTarget)
}
