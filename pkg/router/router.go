// Package router maps a scored request onto a worker kind, tier and backend.
package router

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/zen-systems/agentgate/pkg/apperr"
	"github.com/zen-systems/agentgate/pkg/complexity"
	"github.com/zen-systems/agentgate/pkg/config"
	"github.com/zen-systems/agentgate/pkg/schema"
	"github.com/zen-systems/agentgate/pkg/worker"
)

// RouteInfo describes a routing rule.
type RouteInfo struct {
	Category string
	Triggers []string
	AllOf    [][]string
	Kind     worker.Kind
}

// TriageRouter routes requests using the compiled rule table. It holds no
// mutable state and is safe for concurrent use.
type TriageRouter struct {
	rules          *RuleSet
	defaultKind    worker.Kind
	tiers          config.TierConfig
	localThreshold float64
	routes         []RouteInfo
	logger         *slog.Logger
}

// Option configures a TriageRouter.
type Option func(*TriageRouter)

// WithLogger sets the logger used for debug decisions.
func WithLogger(l *slog.Logger) Option {
	return func(r *TriageRouter) {
		if l != nil {
			r.logger = l
		}
	}
}

// New compiles the routing config into a router.
func New(cfg *config.RoutingConfig, opts ...Option) (*TriageRouter, error) {
	if cfg == nil {
		return nil, fmt.Errorf("router: nil routing config")
	}
	tr, err := cfg.Translator()
	if err != nil {
		return nil, err
	}
	rules, err := NewRuleSet(cfg, tr)
	if err != nil {
		return nil, err
	}
	def, err := tr.Parse(cfg.DefaultWorker)
	if err != nil {
		return nil, fmt.Errorf("default_worker: %w", err)
	}

	r := &TriageRouter{
		rules:          rules,
		defaultKind:    def,
		tiers:          cfg.Tiers,
		localThreshold: cfg.Hybrid.LocalThreshold,
		logger:         slog.Default(),
	}
	for _, name := range cfg.CategoryNames() {
		cat := cfg.Categories[name]
		kind, _ := tr.Parse(cat.Worker)
		r.routes = append(r.routes, RouteInfo{Category: name, Triggers: cat.Triggers, AllOf: cat.AllOf, Kind: kind})
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "router")
	return r, nil
}

// Route decides worker kind, tier and backend for req. The only failure is an
// empty query.
func (r *TriageRouter) Route(req schema.Request, score complexity.Score) (Decision, error) {
	if strings.TrimSpace(req.Query) == "" {
		return Decision{}, apperr.AmbiguousRequest("query is empty")
	}

	d := Decision{
		Score:   score.Value,
		Tier:    TierFor(score.Value, r.tiers.Medium, r.tiers.High),
		Backend: SelectBackend(req, score.Value, r.localThreshold),
	}

	candidates := r.rules.Match(req.Query)
	if len(candidates) > 3 {
		candidates = candidates[:3]
	}
	d.Candidates = candidates

	switch {
	case req.HasOverride():
		d.Kind = req.WorkerKind
		d.Override = true
		d.Confidence = 1
		d.Reasons = append(d.Reasons, "worker_kind set by caller")
	case len(candidates) == 0:
		d.Kind = r.defaultKind
		d.Reasons = append(d.Reasons, "no triggers matched; using default")
	default:
		d.Kind = candidates[0].Kind
		d.Category = candidates[0].Category
		d.Confidence = confidence(candidates)
		second := 0
		if len(candidates) > 1 {
			second = candidates[1].Score
		}
		d.Reasons = append(d.Reasons, fmt.Sprintf("top_score=%d second_score=%d", candidates[0].Score, second))
	}

	if req.ForceLocal {
		d.Reasons = append(d.Reasons, "force_local")
	}

	r.logger.Debug("routed",
		"worker_kind", d.Kind,
		"tier", d.Tier,
		"backend", d.Backend,
		"score", d.Score,
		"category", d.Category,
	)
	return d, nil
}

// Kinds lists every kind Route can produce without a caller override.
func (r *TriageRouter) Kinds() []worker.Kind {
	kinds := r.rules.Kinds()
	for _, k := range kinds {
		if k == r.defaultKind {
			return kinds
		}
	}
	return append(kinds, r.defaultKind)
}

// DefaultKind returns the kind used when nothing matches.
func (r *TriageRouter) DefaultKind() worker.Kind {
	return r.defaultKind
}

// Routes returns the configured rule table.
func (r *TriageRouter) Routes() []RouteInfo {
	return r.routes
}

// SelectBackend applies the hybrid rule: force_local always wins, otherwise
// scores under threshold run locally.
func SelectBackend(req schema.Request, score, threshold float64) worker.Backend {
	if req.ForceLocal || score < threshold {
		return worker.BackendLocal
	}
	return worker.BackendRemote
}
