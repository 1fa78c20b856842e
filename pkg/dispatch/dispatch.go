// Package dispatch invokes the worker a routing decision selected and turns
// whatever it produced into a TaskResult.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/zen-systems/agentgate/pkg/adapter"
	"github.com/zen-systems/agentgate/pkg/apperr"
	"github.com/zen-systems/agentgate/pkg/router"
	"github.com/zen-systems/agentgate/pkg/schema"
	"github.com/zen-systems/agentgate/pkg/worker"
)

// DefaultTimeout bounds a worker call when no per-kind timeout is set.
const DefaultTimeout = 60 * time.Second

// TaskResult is the normalized outcome of one worker invocation.
// Succeeded is false exactly when Err is set.
type TaskResult struct {
	Succeeded    bool
	Output       string
	WorkerUsed   worker.Kind
	WorkerName   string
	Backend      worker.Backend
	Elapsed      time.Duration
	FallbackUsed bool
	Adapter      string
	Model        string
	Usage        adapter.Usage
	Cost         adapter.Cost
	Err          error
}

// ErrorKind returns the machine-readable error code, or "" on success.
func (r TaskResult) ErrorKind() apperr.Code {
	if r.Err == nil {
		return ""
	}
	return apperr.CodeOf(r.Err)
}

// Dispatcher resolves and invokes workers. It never retries.
type Dispatcher struct {
	registry       *worker.Registry
	timeouts       map[worker.Kind]time.Duration
	defaultTimeout time.Duration
	logger         *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTimeouts sets per-kind timeouts and the fallback default.
func WithTimeouts(perKind map[worker.Kind]time.Duration, def time.Duration) Option {
	return func(d *Dispatcher) {
		for k, v := range perKind {
			if v > 0 {
				d.timeouts[k] = v
			}
		}
		if def > 0 {
			d.defaultTimeout = def
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// New creates a dispatcher over a sealed registry.
func New(registry *worker.Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry:       registry,
		timeouts:       make(map[worker.Kind]time.Duration),
		defaultTimeout: DefaultTimeout,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "dispatcher")
	return d
}

// Timeout returns the bound applied to kind.
func (d *Dispatcher) Timeout(kind worker.Kind) time.Duration {
	if t, ok := d.timeouts[kind]; ok {
		return t
	}
	return d.defaultTimeout
}

// Execute runs req on the worker and backend named by decision.
func (d *Dispatcher) Execute(ctx context.Context, decision router.Decision, req schema.Request) TaskResult {
	start := time.Now()
	res := TaskResult{WorkerUsed: decision.Kind, Backend: decision.Backend}

	w, err := d.registry.Resolve(decision.Kind)
	if err != nil {
		// Startup validation makes this unreachable unless routing and
		// registration disagree.
		d.logger.Error("worker resolution failed",
			"bug", "routing_registry_desync",
			"worker_kind", decision.Kind,
			"error", err,
		)
		res.Err = err
		res.Elapsed = time.Since(start)
		return res
	}
	res.WorkerName = w.Name

	task := worker.Task{
		Kind:         decision.Kind,
		Query:        req.Query,
		Context:      req.Context,
		Instructions: req.Instructions,
		Backend:      decision.Backend,
	}

	timeout := d.Timeout(decision.Kind)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := d.invoke(ctx, w, task, timeout)
	res.Elapsed = time.Since(start)
	if err == nil && strings.TrimSpace(out.Text) == "" {
		err = apperr.WorkerError(fmt.Sprintf("worker %s returned an empty response", decision.Kind), adapter.ErrEmptyResponse)
	}
	if err != nil {
		if _, ok := apperr.As(err); !ok {
			err = apperr.WorkerError(err.Error(), err)
		}
		// A failed call may still have consumed tokens.
		res.Usage = out.Usage
		res.Cost = out.Cost
		res.Err = err
		d.logger.Warn("worker failed",
			"worker_kind", decision.Kind,
			"backend", decision.Backend,
			"kind", apperr.CodeOf(err),
			"elapsed", res.Elapsed,
			"error", err,
		)
		return res
	}

	res.Succeeded = true
	res.Output = out.Text
	res.Adapter = out.Adapter
	res.Model = out.Model
	res.Usage = out.Usage
	res.Cost = out.Cost
	return res
}

// invoke branches once on the worker variant. Both conventions are awaited
// under the same deadline; a late outcome is dropped on the buffered channel.
func (d *Dispatcher) invoke(ctx context.Context, w worker.Worker, task worker.Task, timeout time.Duration) (worker.Output, error) {
	var ch <-chan worker.Outcome
	switch w.Mode() {
	case worker.ModeSync:
		impl, _ := w.AsSync()
		sc := make(chan worker.Outcome, 1)
		go func() {
			out, err := impl.Run(ctx, task)
			sc <- worker.Outcome{Output: out, Err: err}
		}()
		ch = sc
	case worker.ModeAsync:
		impl, _ := w.AsAsync()
		ch = impl.Start(ctx, task)
		if ch == nil {
			return worker.Output{}, apperr.WorkerError(fmt.Sprintf("worker %s returned no result channel", task.Kind), nil)
		}
	default:
		return worker.Output{}, apperr.Internal(fmt.Sprintf("worker %s has no calling convention", task.Kind), nil)
	}

	select {
	case o, ok := <-ch:
		if !ok {
			return worker.Output{}, apperr.WorkerError(fmt.Sprintf("worker %s closed without a result", task.Kind), nil)
		}
		if o.Err != nil && errors.Is(o.Err, context.DeadlineExceeded) {
			return worker.Output{}, timeoutErr(task, timeout, o.Err)
		}
		return o.Output, o.Err
	case <-ctx.Done():
		return worker.Output{}, timeoutErr(task, timeout, ctx.Err())
	}
}

func timeoutErr(task worker.Task, timeout time.Duration, cause error) error {
	if errors.Is(cause, context.Canceled) {
		return apperr.Timeout(fmt.Sprintf("worker %s on %s backend cancelled", task.Kind, task.Backend), cause)
	}
	return apperr.Timeout(fmt.Sprintf("worker %s on %s backend exceeded %s", task.Kind, task.Backend, timeout), cause)
}
