package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/zen-systems/agentgate/pkg/adapter"
	"github.com/zen-systems/agentgate/pkg/apperr"
	"github.com/zen-systems/agentgate/pkg/config"
	"github.com/zen-systems/agentgate/pkg/worker"
)

// Binding ties a backend to an adapter and its default model.
type Binding struct {
	Adapter adapter.Adapter
	Model   string
}

// Call is one completion against a backend.
type Call struct {
	Backend   worker.Backend
	Model     string // empty uses the binding default
	System    string
	Prompt    string
	MaxTokens int
}

// Backends performs completions on the local or remote substrate with retry
// on transient errors. Only the remote backend is rate limited.
type Backends struct {
	bindings map[worker.Backend]Binding
	retry    config.RetryConfig
	pricing  config.PricingConfig
	aliases  *config.RoutingConfig
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// BackendsOption configures Backends.
type BackendsOption func(*Backends)

// WithBackendsLogger sets the logger.
func WithBackendsLogger(l *slog.Logger) BackendsOption {
	return func(b *Backends) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithRemoteLimiter replaces the remote rate limiter. nil disables limiting.
func WithRemoteLimiter(l *rate.Limiter) BackendsOption {
	return func(b *Backends) {
		b.limiter = l
	}
}

// NewBackends binds local and remote adapters using cfg for retry, pricing,
// rate limits and model aliases.
func NewBackends(local, remote Binding, cfg *config.RoutingConfig, opts ...BackendsOption) (*Backends, error) {
	if local.Adapter == nil {
		return nil, errors.New("agent: local backend has no adapter")
	}
	if remote.Adapter == nil {
		return nil, errors.New("agent: remote backend has no adapter")
	}
	if cfg == nil {
		cfg = config.DefaultRoutingConfig()
	}
	b := &Backends{
		bindings: map[worker.Backend]Binding{
			worker.BackendLocal:  local,
			worker.BackendRemote: remote,
		},
		retry:   cfg.Retry,
		pricing: cfg.Pricing,
		aliases: cfg,
		limiter: remoteLimiter(cfg.RateLimit),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "backends")
	return b, nil
}

// Binding returns the adapter bound to backend.
func (b *Backends) Binding(backend worker.Backend) (Binding, bool) {
	bind, ok := b.bindings[backend]
	return bind, ok
}

// Complete runs call and returns normalized output. Errors are classified:
// deadline expiry becomes Timeout, everything else WorkerError.
func (b *Backends) Complete(ctx context.Context, call Call) (worker.Output, error) {
	bind, ok := b.Binding(call.Backend)
	if !ok {
		return worker.Output{}, apperr.Internal(fmt.Sprintf("unknown backend %q", call.Backend), nil)
	}
	model := call.Model
	if model == "" {
		model = bind.Model
	}
	model = b.aliases.ResolveModel(model)
	req := adapter.Request{Model: model, System: call.System, Prompt: call.Prompt, MaxTokens: call.MaxTokens}

	var lastErr error
	for attempt := 0; attempt <= b.retry.MaxRetries; attempt++ {
		if call.Backend == worker.BackendRemote && b.limiter != nil {
			if err := b.limiter.Wait(ctx); err != nil {
				return worker.Output{}, classify(ctx, call.Backend, err)
			}
		}

		resp, err := bind.Adapter.Generate(ctx, req)
		if err == nil {
			var usage adapter.Usage
			if resp != nil && resp.Usage != nil {
				usage = resp.Usage.Normalize()
			}
			cost, _ := EstimateCost(b.pricing, bind.Adapter.Name(), model, usage)
			out := worker.Output{
				Adapter: bind.Adapter.Name(),
				Model:   model,
				Usage:   usage,
				Cost:    cost,
			}
			if resp == nil || strings.TrimSpace(resp.Content) == "" {
				// Usage is returned with the error; the tokens were billed.
				return out, apperr.WorkerError(fmt.Sprintf("%s backend returned no content", call.Backend), adapter.ErrEmptyResponse)
			}
			out.Text = resp.Content
			return out, nil
		}

		lastErr = err
		if !adapter.IsTransient(err) || attempt == b.retry.MaxRetries {
			break
		}
		backoff := computeBackoff(b.retry.BaseBackoffMs, b.retry.MaxBackoffMs, attempt)
		b.logger.Warn("transient backend error, retrying",
			"backend", call.Backend,
			"adapter", bind.Adapter.Name(),
			"attempt", attempt+1,
			"backoff", backoff,
			"error", err,
		)
		if err := sleepWithContext(ctx, backoff); err != nil {
			return worker.Output{}, classify(ctx, call.Backend, err)
		}
	}
	return worker.Output{}, classify(ctx, call.Backend, lastErr)
}

func remoteLimiter(cfg config.RateLimitConfig) *rate.Limiter {
	if cfg.RequestsPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), max(cfg.Burst, 1))
}

func classify(ctx context.Context, backend worker.Backend, err error) error {
	if _, ok := apperr.As(err); ok {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperr.Timeout(fmt.Sprintf("%s backend exceeded its deadline", backend), err)
	}
	return apperr.WorkerError(fmt.Sprintf("%s backend failed: %v", backend, err), err)
}

func computeBackoff(baseMs, maxMs, attempt int) time.Duration {
	backoff := time.Duration(baseMs) * time.Millisecond
	for i := 0; i < attempt; i++ {
		backoff *= 2
		if backoff >= time.Duration(maxMs)*time.Millisecond {
			return time.Duration(maxMs) * time.Millisecond
		}
	}
	if backoff > time.Duration(maxMs)*time.Millisecond {
		return time.Duration(maxMs) * time.Millisecond
	}
	return backoff
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
