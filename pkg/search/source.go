// Package search provides the knowledge-base collaborator used to build
// request context before dispatch.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Snippet is one ranked piece of retrieved text.
type Snippet struct {
	Text   string
	Source string  // source name
	Ref    string  // file name, memory id or other locator
	Score  float64 // 0-1, higher is more relevant
}

// Source searches one knowledge store.
type Source interface {
	Name() string
	Search(ctx context.Context, query string, limit int) ([]Snippet, error)
}

// Registry fans a query out to every registered source.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Source
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sources: make(map[string]Source),
		logger:  logger.With("component", "search"),
	}
}

// Register adds a source, replacing any source with the same name.
func (r *Registry) Register(s Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[s.Name()] = s
}

// Len returns the number of registered sources.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sources)
}

// Search queries all sources in parallel and merges their snippets by score.
// A failing source is logged and skipped; the call fails only when every
// source failed.
func (r *Registry) Search(ctx context.Context, query string, limit int) ([]Snippet, error) {
	r.mu.RLock()
	srcs := make([]Source, 0, len(r.sources))
	for _, s := range r.sources {
		srcs = append(srcs, s)
	}
	r.mu.RUnlock()
	if len(srcs) == 0 {
		return nil, nil
	}

	per := make([][]Snippet, len(srcs))
	errs := make([]error, len(srcs))
	g, gctx := errgroup.WithContext(ctx)
	for i, s := range srcs {
		g.Go(func() error {
			snips, err := s.Search(gctx, query, limit)
			if err != nil {
				r.logger.Warn("source search failed", "source", s.Name(), "error", err)
				errs[i] = err
				return nil
			}
			per[i] = snips
			return nil
		})
	}
	_ = g.Wait()

	var merged []Snippet
	failed := 0
	for i := range srcs {
		if errs[i] != nil {
			failed++
			continue
		}
		merged = append(merged, per[i]...)
	}
	if failed == len(srcs) {
		return nil, fmt.Errorf("all %d search sources failed: %w", failed, errs[0])
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].Source < merged[j].Source
	})
	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}
