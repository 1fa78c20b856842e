// Package jobs tracks long-running work: batch jobs and sessions.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/zen-systems/agentgate/pkg/archive"
)

// Manager owns every batch job and session. Its mutex guards table lookups
// and state transitions only; processor calls happen outside it.
type Manager struct {
	mu        sync.Mutex
	batches   *arena[*batchJob]
	sessions  *arena[*session]
	processor Processor
	archive   archive.Store
	sessCfg   SessionConfig
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithArchive keeps terminal jobs in store when cleanup removes them.
func WithArchive(store archive.Store) Option {
	return func(m *Manager) {
		m.archive = store
	}
}

// WithSessionConfig overrides session defaults.
func WithSessionConfig(cfg SessionConfig) Option {
	return func(m *Manager) {
		m.sessCfg = cfg.withDefaults()
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager creates a manager running batches on processor.
func NewManager(processor Processor, opts ...Option) *Manager {
	m := &Manager{
		batches:   newArena[*batchJob](),
		sessions:  newArena[*session](),
		processor: processor,
		sessCfg:   SessionConfig{}.withDefaults(),
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "jobs")
	return m
}

// Processor returns the batch processor in use.
func (m *Manager) Processor() Processor {
	return m.processor
}

// Counts reports active sessions, processing batches and all tracked batches.
func (m *Manager) Counts() (activeSessions, activeBatches, totalBatches int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions.each(func(_ ref, s *session) {
		if s.status == SessionActive {
			activeSessions++
		}
	})
	m.batches.each(func(_ ref, j *batchJob) {
		if !j.status.Terminal() {
			activeBatches++
		}
	})
	return activeSessions, activeBatches, m.batches.len()
}

// CleanupResult counts what Cleanup purged.
type CleanupResult struct {
	Jobs     int
	Sessions int
}

// Cleanup purges terminal batch jobs that finished before now-maxAge and
// sessions created before it. Processing jobs are never removed. Purged jobs
// are archived first when an archive is configured.
func (m *Manager) Cleanup(ctx context.Context, maxAge time.Duration) (CleanupResult, error) {
	cutoff := m.now().Add(-maxAge)

	type candidate struct {
		r   ref
		rec archive.Record
	}
	var jobs []candidate
	var sessions []ref

	m.mu.Lock()
	m.batches.each(func(r ref, j *batchJob) {
		if j.status.Terminal() && j.finishedAt.Before(cutoff) {
			jobs = append(jobs, candidate{r: r, rec: j.record()})
		}
	})
	m.sessions.each(func(r ref, s *session) {
		if s.createdAt.Before(cutoff) {
			sessions = append(sessions, r)
		}
	})
	m.mu.Unlock()

	var res CleanupResult
	var firstErr error
	archived := make([]ref, 0, len(jobs))
	for _, c := range jobs {
		if m.archive != nil {
			if err := m.archive.Put(ctx, c.rec); err != nil {
				m.logger.Error("archive batch failed", "batch_id", c.rec.ID, "error", err)
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
		}
		archived = append(archived, c.r)
	}

	m.mu.Lock()
	for _, r := range archived {
		if m.batches.remove(r) {
			res.Jobs++
		}
	}
	for _, r := range sessions {
		if m.sessions.remove(r) {
			res.Sessions++
		}
	}
	m.mu.Unlock()

	if res.Jobs > 0 || res.Sessions > 0 {
		m.logger.Info("cleanup", "jobs", res.Jobs, "sessions", res.Sessions, "max_age", maxAge)
	}
	return res, firstErr
}
