package worker

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/zen-systems/agentgate/pkg/apperr"
)

// ErrSealed is returned when registering after startup completed.
var ErrSealed = errors.New("worker registry is sealed")

// Registry maps kinds to workers. It is written during startup only; after
// Seal it is read concurrently without locking.
type Registry struct {
	workers map[Kind]Worker
	sealed  bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{workers: make(map[Kind]Worker)}
}

// Register adds a worker for kind.
func (r *Registry) Register(kind Kind, w Worker) error {
	if r.sealed {
		return ErrSealed
	}
	if !kind.Valid() {
		return fmt.Errorf("register: unknown worker kind %q", kind)
	}
	if _, ok := w.AsSync(); !ok {
		if _, ok := w.AsAsync(); !ok {
			return fmt.Errorf("register %s: worker has no implementation", kind)
		}
	}
	if _, exists := r.workers[kind]; exists {
		return fmt.Errorf("register %s: worker already registered", kind)
	}
	w.Kind = kind
	r.workers[kind] = w
	return nil
}

// Seal ends the registration phase.
func (r *Registry) Seal() {
	r.sealed = true
}

// Resolve returns the worker for kind.
func (r *Registry) Resolve(kind Kind) (Worker, error) {
	w, ok := r.workers[kind]
	if !ok {
		return Worker{}, apperr.NoWorkerAvailable(fmt.Sprintf("no worker registered for %q", kind))
	}
	return w, nil
}

// Kinds returns the registered kinds sorted by name.
func (r *Registry) Kinds() []Kind {
	out := make([]Kind, 0, len(r.workers))
	for k := range r.workers {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Workers returns the registered workers sorted by kind.
func (r *Registry) Workers() []Worker {
	kinds := r.Kinds()
	out := make([]Worker, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, r.workers[k])
	}
	return out
}

// Validate checks that every required kind has a worker.
func (r *Registry) Validate(required ...Kind) error {
	var missing []string
	seen := make(map[Kind]bool)
	for _, k := range required {
		if seen[k] {
			continue
		}
		seen[k] = true
		if _, ok := r.workers[k]; !ok {
			missing = append(missing, string(k))
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return apperr.NoWorkerAvailable("no worker registered for: " + strings.Join(missing, ", "))
}
