package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/zen-systems/agentgate/pkg/apperr"
	"github.com/zen-systems/agentgate/pkg/archive"
	"github.com/zen-systems/agentgate/pkg/schema"
)

// Status is a batch job state.
type Status string

const (
	StatusSubmitted  Status = "submitted"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type batchJob struct {
	id         string
	kind       ProcessingKind
	items      []Item
	status     Status
	progress   float64
	completed  int
	failed     int
	err        string
	handle     string
	createdAt  time.Time
	finishedAt time.Time
	collecting bool
	results    []schema.DocumentResult
}

func (j *batchJob) snapshot() schema.BatchStatusResponse {
	return schema.BatchStatusResponse{
		BatchID:           j.id,
		Status:            string(j.status),
		Progress:          j.progress,
		TotalRequests:     len(j.items),
		CompletedRequests: j.completed,
		FailedRequests:    j.failed,
		Error:             j.err,
	}
}

func (j *batchJob) record() archive.Record {
	return archive.Record{
		ID:             j.id,
		ProcessingKind: string(j.kind),
		Status:         string(j.status),
		Error:          j.err,
		DocumentCount:  len(j.items),
		CreatedAt:      j.createdAt,
		CompletedAt:    j.finishedAt,
		Results:        j.results,
	}
}

func (j *batchJob) fail(msg string, at time.Time) {
	j.status = StatusFailed
	j.err = msg
	j.finishedAt = at
}

// BatchSpec is a validated batch submission.
type BatchSpec struct {
	Documents      []schema.Document
	ProcessingKind string
	Instructions   string
}

// SubmitBatch accepts the documents and returns a batch id. The job is
// already processing when this returns, so an immediate poll finds it.
func (m *Manager) SubmitBatch(ctx context.Context, spec BatchSpec) (schema.BatchSubmitResponse, error) {
	if len(spec.Documents) == 0 {
		return schema.BatchSubmitResponse{}, apperr.InvalidArgument("documents must not be empty")
	}
	kind, err := ParseProcessingKind(spec.ProcessingKind)
	if err != nil {
		return schema.BatchSubmitResponse{}, err
	}
	prompt, err := TaskPrompt(kind, spec.Instructions)
	if err != nil {
		return schema.BatchSubmitResponse{}, err
	}

	job := &batchJob{
		id:        "batch_" + uuid.NewString(),
		kind:      kind,
		items:     NewItems(spec.Documents),
		status:    StatusSubmitted,
		createdAt: m.now(),
	}

	m.mu.Lock()
	job.status = StatusProcessing
	r := m.batches.insert(job.id, job)
	m.mu.Unlock()

	handle, err := m.processor.Start(ctx, Submission{BatchID: job.id, Kind: kind, TaskPrompt: prompt, Items: job.items})

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, current := m.batches.get(r); !current {
		// Cancelled while starting; the processor run is orphaned.
		if err == nil {
			go m.processor.Cancel(context.Background(), handle)
		}
		return schema.BatchSubmitResponse{BatchID: job.id, DocumentCount: len(job.items)}, nil
	}
	if err != nil {
		job.fail(err.Error(), m.now())
		m.logger.Error("batch start failed", "batch_id", job.id, "processor", m.processor.Name(), "error", err)
		if _, ok := apperr.As(err); !ok {
			err = apperr.WorkerError("start batch", err)
		}
		return schema.BatchSubmitResponse{}, err
	}
	job.handle = handle
	m.logger.Info("batch submitted",
		"batch_id", job.id,
		"processing_kind", kind,
		"documents", len(job.items),
		"processor", m.processor.Name(),
	)
	return schema.BatchSubmitResponse{BatchID: job.id, DocumentCount: len(job.items)}, nil
}

// BatchStatus polls the processor and advances the job. Progress never
// decreases and stays below 100 until results are published.
func (m *Manager) BatchStatus(ctx context.Context, id string) (schema.BatchStatusResponse, error) {
	m.mu.Lock()
	r, job, err := m.batchLocked(id)
	if err != nil {
		m.mu.Unlock()
		return m.archivedStatus(ctx, id)
	}
	if job.status.Terminal() || job.handle == "" || job.collecting {
		snap := job.snapshot()
		m.mu.Unlock()
		return snap, nil
	}
	handle := job.handle
	m.mu.Unlock()

	prog, perr := m.processor.Poll(ctx, handle)

	m.mu.Lock()
	job, ok := m.batches.get(r)
	if !ok {
		// Cancelled or purged during the poll; report whatever replaced it.
		m.mu.Unlock()
		return m.currentStatus(ctx, id)
	}
	// Another poller finished or is collecting the batch meanwhile; its
	// outcome stands, and a poll error against a forgotten run is moot.
	if job.status.Terminal() || job.collecting {
		snap := job.snapshot()
		m.mu.Unlock()
		return snap, nil
	}
	if perr != nil {
		snap := job.snapshot()
		m.mu.Unlock()
		return snap, perr
	}
	job.completed = max(job.completed, prog.Completed)
	job.failed = max(job.failed, prog.Failed)
	if total := len(job.items); total > 0 {
		est := float64(job.completed+job.failed) / float64(total) * 100
		job.progress = max(job.progress, min(est, 99))
	}

	switch prog.State {
	case RunFailed:
		job.fail(prog.Err, m.now())
		snap := job.snapshot()
		m.mu.Unlock()
		m.logger.Warn("batch failed", "batch_id", id, "error", prog.Err)
		return snap, nil
	case RunDone:
		job.collecting = true
	default:
		snap := job.snapshot()
		m.mu.Unlock()
		return snap, nil
	}
	m.mu.Unlock()

	results, cerr := m.processor.Collect(ctx, handle)

	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok = m.batches.get(r)
	if !ok {
		return m.currentStatusLocked(id)
	}
	if job.status.Terminal() {
		return job.snapshot(), nil
	}
	job.collecting = false
	if cerr != nil {
		job.fail("collect results: "+cerr.Error(), m.now())
		return job.snapshot(), nil
	}
	// Publish results before the status flag so no poller sees completed
	// without them.
	job.results = results
	job.completed, job.failed = 0, 0
	for _, res := range results {
		if res.Status == schema.DocumentSucceeded {
			job.completed++
		} else {
			job.failed++
		}
	}
	job.progress = 100
	job.finishedAt = m.now()
	job.status = StatusCompleted
	m.logger.Info("batch completed", "batch_id", id, "succeeded", job.completed, "failed", job.failed)
	return job.snapshot(), nil
}

// BatchResults returns the materialized results of a completed batch.
func (m *Manager) BatchResults(ctx context.Context, id string) (schema.BatchResultsResponse, error) {
	m.mu.Lock()
	_, job, err := m.batchLocked(id)
	if err != nil {
		m.mu.Unlock()
		return m.archivedResults(ctx, id)
	}
	status, msg := job.status, job.err
	results := append([]schema.DocumentResult(nil), job.results...)
	m.mu.Unlock()

	switch status {
	case StatusCompleted:
		return schema.BatchResultsResponse{BatchID: id, Results: results}, nil
	case StatusFailed:
		return schema.BatchResultsResponse{}, apperr.WorkerError(fmt.Sprintf("batch %s failed: %s", id, msg), nil)
	default:
		return schema.BatchResultsResponse{}, apperr.ResultNotReady(fmt.Sprintf("batch %s is %s", id, status))
	}
}

// CancelBatch terminates a running batch. The generation bump discards any
// completion already in flight. Cancelling a terminal batch changes nothing.
func (m *Manager) CancelBatch(ctx context.Context, id string) (schema.BatchStatusResponse, error) {
	m.mu.Lock()
	r, job, err := m.batchLocked(id)
	if err != nil {
		m.mu.Unlock()
		return schema.BatchStatusResponse{}, err
	}
	if job.status.Terminal() {
		snap := job.snapshot()
		m.mu.Unlock()
		return snap, nil
	}
	m.batches.bump(r)
	job.collecting = false
	job.fail("cancelled", m.now())
	handle := job.handle
	snap := job.snapshot()
	m.mu.Unlock()

	if handle != "" {
		if err := m.processor.Cancel(ctx, handle); err != nil {
			m.logger.Warn("processor cancel failed", "batch_id", id, "error", err)
		}
	}
	m.logger.Info("batch cancelled", "batch_id", id)
	return snap, nil
}

func (m *Manager) batchLocked(id string) (ref, *batchJob, error) {
	r, ok := m.batches.lookup(id)
	if !ok {
		return ref{}, nil, apperr.JobNotFound(fmt.Sprintf("batch %s not found", id))
	}
	job, ok := m.batches.get(r)
	if !ok {
		return ref{}, nil, apperr.JobNotFound(fmt.Sprintf("batch %s not found", id))
	}
	return r, job, nil
}

func (m *Manager) currentStatus(ctx context.Context, id string) (schema.BatchStatusResponse, error) {
	m.mu.Lock()
	_, job, err := m.batchLocked(id)
	if err != nil {
		m.mu.Unlock()
		return m.archivedStatus(ctx, id)
	}
	snap := job.snapshot()
	m.mu.Unlock()
	return snap, nil
}

func (m *Manager) currentStatusLocked(id string) (schema.BatchStatusResponse, error) {
	_, job, err := m.batchLocked(id)
	if err != nil {
		return schema.BatchStatusResponse{}, err
	}
	return job.snapshot(), nil
}

func (m *Manager) archived(ctx context.Context, id string) (archive.Record, error) {
	if m.archive == nil {
		return archive.Record{}, apperr.JobNotFound(fmt.Sprintf("batch %s not found", id))
	}
	rec, err := m.archive.Get(ctx, id)
	if err != nil {
		return archive.Record{}, apperr.JobNotFound(fmt.Sprintf("batch %s not found", id))
	}
	return rec, nil
}

func (m *Manager) archivedStatus(ctx context.Context, id string) (schema.BatchStatusResponse, error) {
	rec, err := m.archived(ctx, id)
	if err != nil {
		return schema.BatchStatusResponse{}, err
	}
	resp := schema.BatchStatusResponse{
		BatchID:       rec.ID,
		Status:        rec.Status,
		TotalRequests: rec.DocumentCount,
		Error:         rec.Error,
	}
	if rec.Status == string(StatusCompleted) {
		resp.Progress = 100
	}
	for _, r := range rec.Results {
		if r.Status == schema.DocumentSucceeded {
			resp.CompletedRequests++
		} else {
			resp.FailedRequests++
		}
	}
	return resp, nil
}

func (m *Manager) archivedResults(ctx context.Context, id string) (schema.BatchResultsResponse, error) {
	rec, err := m.archived(ctx, id)
	if err != nil {
		return schema.BatchResultsResponse{}, err
	}
	if rec.Status != string(StatusCompleted) {
		return schema.BatchResultsResponse{}, apperr.WorkerError(fmt.Sprintf("batch %s failed: %s", id, rec.Error), nil)
	}
	return schema.BatchResultsResponse{BatchID: id, Results: rec.Results}, nil
}
