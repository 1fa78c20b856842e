// Package worker defines specialized workers, their calling conventions and the registry holding them.
package worker

import (
	"context"

	"github.com/zen-systems/agentgate/pkg/adapter"
)

// Mode is the calling convention a worker declares.
type Mode string

const (
	ModeSync  Mode = "sync"
	ModeAsync Mode = "async"
)

// Task is the unit of work handed to a worker.
type Task struct {
	Kind         Kind
	Query        string
	Context      string
	Instructions string
	Backend      Backend
}

// Output is what a worker produced on a backend.
type Output struct {
	Text    string
	Adapter string
	Model   string
	Usage   adapter.Usage
	Cost    adapter.Cost
}

// Outcome is delivered once on an async worker's channel.
type Outcome struct {
	Output Output
	Err    error
}

// SyncWorker blocks until the output is available.
type SyncWorker interface {
	Run(ctx context.Context, task Task) (Output, error)
}

// AsyncWorker returns immediately; the channel receives exactly one Outcome.
// Implementations must buffer the channel so an abandoned wait does not leak.
type AsyncWorker interface {
	Start(ctx context.Context, task Task) <-chan Outcome
}

// SyncFunc adapts a function to SyncWorker.
type SyncFunc func(ctx context.Context, task Task) (Output, error)

func (f SyncFunc) Run(ctx context.Context, task Task) (Output, error) {
	return f(ctx, task)
}

// AsyncFunc adapts a function to AsyncWorker.
type AsyncFunc func(ctx context.Context, task Task) <-chan Outcome

func (f AsyncFunc) Start(ctx context.Context, task Task) <-chan Outcome {
	return f(ctx, task)
}

// Worker is a tagged variant: exactly one of the sync or async implementations is set.
type Worker struct {
	Kind  Kind
	Name  string
	mode  Mode
	sync  SyncWorker
	async AsyncWorker
}

// NewSync wraps a blocking implementation.
func NewSync(kind Kind, name string, impl SyncWorker) Worker {
	return Worker{Kind: kind, Name: name, mode: ModeSync, sync: impl}
}

// NewAsync wraps a future-returning implementation.
func NewAsync(kind Kind, name string, impl AsyncWorker) Worker {
	return Worker{Kind: kind, Name: name, mode: ModeAsync, async: impl}
}

// Mode reports the calling convention.
func (w Worker) Mode() Mode {
	return w.mode
}

// AsSync returns the blocking implementation when the worker is synchronous.
func (w Worker) AsSync() (SyncWorker, bool) {
	return w.sync, w.mode == ModeSync && w.sync != nil
}

// AsAsync returns the future-returning implementation when the worker is asynchronous.
func (w Worker) AsAsync() (AsyncWorker, bool) {
	return w.async, w.mode == ModeAsync && w.async != nil
}
