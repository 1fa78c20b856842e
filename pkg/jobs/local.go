package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/zen-systems/agentgate/pkg/apperr"
	"github.com/zen-systems/agentgate/pkg/engine"
	"github.com/zen-systems/agentgate/pkg/schema"
	"github.com/zen-systems/agentgate/pkg/worker"
)

// Executor runs one request. *engine.Engine satisfies it.
type Executor interface {
	Execute(ctx context.Context, req schema.Request) (engine.Result, error)
}

// LocalProcessor runs every document through the execution engine in-process
// with bounded concurrency.
type LocalProcessor struct {
	exec        Executor
	kind        worker.Kind
	concurrency int
	logger      *slog.Logger

	mu   sync.Mutex
	runs map[string]*localRun
}

type localRun struct {
	cancel    context.CancelFunc
	total     int
	completed atomic.Int64
	failed    atomic.Int64
	results   []schema.DocumentResult
	done      chan struct{}
}

// NewLocalProcessor creates a processor that hands documents to kind workers.
func NewLocalProcessor(exec Executor, kind worker.Kind, concurrency int, logger *slog.Logger) *LocalProcessor {
	if concurrency <= 0 {
		concurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalProcessor{
		exec:        exec,
		kind:        kind,
		concurrency: concurrency,
		logger:      logger.With("component", "local_processor"),
		runs:        make(map[string]*localRun),
	}
}

func (p *LocalProcessor) Name() string { return "local" }

// Start launches the run detached from ctx; it outlives the submitting request.
func (p *LocalProcessor) Start(_ context.Context, sub Submission) (string, error) {
	runCtx, cancel := context.WithCancel(context.Background())
	run := &localRun{
		cancel:  cancel,
		total:   len(sub.Items),
		results: make([]schema.DocumentResult, len(sub.Items)),
		done:    make(chan struct{}),
	}

	p.mu.Lock()
	if _, exists := p.runs[sub.BatchID]; exists {
		p.mu.Unlock()
		cancel()
		return "", apperr.Internal(fmt.Sprintf("batch %s already running", sub.BatchID), nil)
	}
	p.runs[sub.BatchID] = run
	p.mu.Unlock()

	go p.run(runCtx, run, sub)
	return sub.BatchID, nil
}

func (p *LocalProcessor) run(ctx context.Context, run *localRun, sub Submission) {
	defer close(run.done)

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, item := range sub.Items {
		g.Go(func() error {
			res := schema.DocumentResult{CustomID: item.CustomID, DocumentIndex: item.Index, Title: item.Title}
			if ctx.Err() != nil {
				res.Status = schema.DocumentFailed
				res.Error = "cancelled"
				run.results[i] = res
				run.failed.Add(1)
				return nil
			}

			out, err := p.exec.Execute(ctx, schema.Request{
				Query:        item.Prompt,
				Instructions: sub.TaskPrompt,
				WorkerKind:   p.kind,
			})
			if err != nil {
				res.Status = schema.DocumentFailed
				res.Error = err.Error()
				run.failed.Add(1)
			} else {
				usage := out.Usage
				res.Status = schema.DocumentSucceeded
				res.Output = out.Output
				res.Usage = &usage
				run.completed.Add(1)
			}
			run.results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	p.logger.Debug("batch run finished",
		"batch_id", sub.BatchID,
		"completed", run.completed.Load(),
		"failed", run.failed.Load(),
	)
}

func (p *LocalProcessor) lookup(handle string) (*localRun, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	run, ok := p.runs[handle]
	if !ok {
		return nil, apperr.JobNotFound(fmt.Sprintf("no local run %s", handle))
	}
	return run, nil
}

// Poll reports counters; a run is done when every document has an outcome.
func (p *LocalProcessor) Poll(_ context.Context, handle string) (Progress, error) {
	run, err := p.lookup(handle)
	if err != nil {
		return Progress{}, err
	}
	prog := Progress{
		State:     RunRunning,
		Total:     run.total,
		Completed: int(run.completed.Load()),
		Failed:    int(run.failed.Load()),
	}
	select {
	case <-run.done:
		prog.State = RunDone
	default:
	}
	return prog, nil
}

// Collect returns the results of a finished run and forgets it.
func (p *LocalProcessor) Collect(_ context.Context, handle string) ([]schema.DocumentResult, error) {
	run, err := p.lookup(handle)
	if err != nil {
		return nil, err
	}
	select {
	case <-run.done:
	default:
		return nil, apperr.ResultNotReady(fmt.Sprintf("local run %s still running", handle))
	}

	p.mu.Lock()
	delete(p.runs, handle)
	p.mu.Unlock()
	run.cancel()

	out := make([]schema.DocumentResult, len(run.results))
	copy(out, run.results)
	return out, nil
}

// Cancel stops scheduling new documents and forgets the run. Documents already
// in flight finish in the background and are discarded.
func (p *LocalProcessor) Cancel(_ context.Context, handle string) error {
	p.mu.Lock()
	run, ok := p.runs[handle]
	delete(p.runs, handle)
	p.mu.Unlock()
	if ok {
		run.cancel()
	}
	return nil
}
