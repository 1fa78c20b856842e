package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zen-systems/agentgate/pkg/apperr"
	"github.com/zen-systems/agentgate/pkg/archive"
	"github.com/zen-systems/agentgate/pkg/dispatch"
	"github.com/zen-systems/agentgate/pkg/engine"
	"github.com/zen-systems/agentgate/pkg/schema"
	"github.com/zen-systems/agentgate/pkg/worker"
)

// fakeProcessor reports whatever progress the test sets and counts Collect calls.
type fakeProcessor struct {
	mu        sync.Mutex
	startErr  error
	progress  Progress
	results   []schema.DocumentResult
	collects  int
	cancelled []string
	release   chan struct{} // when set, Collect blocks until closed
	pollHold  chan struct{} // when set, the next Poll announces itself and waits
	subs      []Submission
}

func (p *fakeProcessor) Name() string { return "fake" }

func (p *fakeProcessor) Start(_ context.Context, sub Submission) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startErr != nil {
		return "", p.startErr
	}
	p.subs = append(p.subs, sub)
	p.progress.Total = len(sub.Items)
	return "h-" + sub.BatchID, nil
}

func (p *fakeProcessor) Poll(context.Context, string) (Progress, error) {
	p.mu.Lock()
	prog := p.progress
	hold := p.pollHold
	p.pollHold = nil
	p.mu.Unlock()
	if hold != nil {
		hold <- struct{}{}
		<-hold
	}
	return prog, nil
}

func (p *fakeProcessor) Collect(context.Context, string) ([]schema.DocumentResult, error) {
	p.mu.Lock()
	p.collects++
	release := p.release
	p.mu.Unlock()
	if release != nil {
		<-release
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]schema.DocumentResult(nil), p.results...), nil
}

func (p *fakeProcessor) Cancel(_ context.Context, handle string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = append(p.cancelled, handle)
	return nil
}

func (p *fakeProcessor) set(fn func(p *fakeProcessor)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *clock {
	return &clock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func docs(n int) []schema.Document {
	out := make([]schema.Document, n)
	for i := range out {
		out[i] = schema.Document{Title: fmt.Sprintf("Doc %d", i), Content: fmt.Sprintf("content %d", i)}
	}
	return out
}

func TestSubmitBatchIsImmediatelyProcessing(t *testing.T) {
	p := &fakeProcessor{}
	m := NewManager(p)

	sub, err := m.SubmitBatch(context.Background(), BatchSpec{Documents: docs(3), ProcessingKind: "Summarize"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sub.BatchID, "batch_"))
	assert.Equal(t, 3, sub.DocumentCount)

	st, err := m.BatchStatus(context.Background(), sub.BatchID)
	require.NoError(t, err)
	assert.Equal(t, string(StatusProcessing), st.Status)
	assert.Equal(t, 3, st.TotalRequests)

	require.Len(t, p.subs, 1)
	assert.Equal(t, KindSummarize, p.subs[0].Kind)
	assert.NotEmpty(t, p.subs[0].TaskPrompt)
}

func TestSubmitBatchValidation(t *testing.T) {
	m := NewManager(&fakeProcessor{})
	ctx := context.Background()

	_, err := m.SubmitBatch(ctx, BatchSpec{ProcessingKind: "summarize"})
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))

	_, err = m.SubmitBatch(ctx, BatchSpec{Documents: docs(1), ProcessingKind: "translate"})
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))

	_, err = m.SubmitBatch(ctx, BatchSpec{Documents: docs(1), ProcessingKind: "custom"})
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))

	_, _, total := m.Counts()
	assert.Zero(t, total)
}

func TestSubmitBatchStartFailureMarksFailed(t *testing.T) {
	p := &fakeProcessor{startErr: errors.New("quota exceeded")}
	m := NewManager(p)

	_, err := m.SubmitBatch(context.Background(), BatchSpec{Documents: docs(2), ProcessingKind: "sentiment_analysis"})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeWorkerError, apperr.CodeOf(err))

	active, processing, total := m.Counts()
	assert.Zero(t, active)
	assert.Zero(t, processing)
	assert.Equal(t, 1, total)
}

func TestBatchProgressIsMonotonicAndCapped(t *testing.T) {
	p := &fakeProcessor{}
	m := NewManager(p)
	ctx := context.Background()
	sub, err := m.SubmitBatch(ctx, BatchSpec{Documents: docs(4), ProcessingKind: "questions"})
	require.NoError(t, err)

	p.set(func(p *fakeProcessor) { p.progress.Completed = 2 })
	st, err := m.BatchStatus(ctx, sub.BatchID)
	require.NoError(t, err)
	assert.InDelta(t, 50, st.Progress, 0.001)

	// A provider report going backwards does not lower progress.
	p.set(func(p *fakeProcessor) { p.progress.Completed = 1 })
	st, err = m.BatchStatus(ctx, sub.BatchID)
	require.NoError(t, err)
	assert.InDelta(t, 50, st.Progress, 0.001)
	assert.Equal(t, 2, st.CompletedRequests)

	// Every document reported but results not yet collected stays below 100.
	p.set(func(p *fakeProcessor) { p.progress.Completed = 4 })
	st, err = m.BatchStatus(ctx, sub.BatchID)
	require.NoError(t, err)
	assert.InDelta(t, 99, st.Progress, 0.001)
	assert.Equal(t, string(StatusProcessing), st.Status)

	_, err = m.BatchResults(ctx, sub.BatchID)
	assert.Equal(t, apperr.CodeResultNotReady, apperr.CodeOf(err))
}

func TestBatchResultsMaterializeOnce(t *testing.T) {
	p := &fakeProcessor{results: []schema.DocumentResult{
		{CustomID: "doc-0-a", DocumentIndex: 0, Status: schema.DocumentSucceeded, Output: "one"},
		{CustomID: "doc-1-b", DocumentIndex: 1, Status: schema.DocumentFailed, Error: "boom"},
	}}
	m := NewManager(p)
	ctx := context.Background()
	sub, err := m.SubmitBatch(ctx, BatchSpec{Documents: docs(2), ProcessingKind: "extract-keywords"})
	require.NoError(t, err)

	p.set(func(p *fakeProcessor) {
		p.progress.State = RunDone
		p.progress.Completed = 1
		p.progress.Failed = 1
	})
	st, err := m.BatchStatus(ctx, sub.BatchID)
	require.NoError(t, err)
	assert.Equal(t, string(StatusCompleted), st.Status)
	assert.InDelta(t, 100, st.Progress, 0.001)
	assert.Equal(t, 1, st.CompletedRequests)
	assert.Equal(t, 1, st.FailedRequests)

	first, err := m.BatchResults(ctx, sub.BatchID)
	require.NoError(t, err)

	again, err := m.BatchStatus(ctx, sub.BatchID)
	require.NoError(t, err)
	assert.Equal(t, st, again)

	second, err := m.BatchResults(ctx, sub.BatchID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, second.Results, 2)
	assert.Equal(t, 1, p.collects)
}

func TestBatchRemoteFailure(t *testing.T) {
	p := &fakeProcessor{}
	m := NewManager(p)
	ctx := context.Background()
	sub, err := m.SubmitBatch(ctx, BatchSpec{Documents: docs(1), ProcessingKind: "summarize"})
	require.NoError(t, err)

	p.set(func(p *fakeProcessor) {
		p.progress.State = RunFailed
		p.progress.Err = "remote batch expired"
	})
	st, err := m.BatchStatus(ctx, sub.BatchID)
	require.NoError(t, err)
	assert.Equal(t, string(StatusFailed), st.Status)
	assert.Equal(t, "remote batch expired", st.Error)

	_, err = m.BatchResults(ctx, sub.BatchID)
	assert.Equal(t, apperr.CodeWorkerError, apperr.CodeOf(err))
	assert.Zero(t, p.collects)
}

func TestOverlappingPollsCompleteOnce(t *testing.T) {
	hold := make(chan struct{})
	p := &fakeProcessor{results: []schema.DocumentResult{
		{CustomID: "doc-0-a", Status: schema.DocumentSucceeded, Output: "one"},
	}}
	m := NewManager(p)
	ctx := context.Background()
	sub, err := m.SubmitBatch(ctx, BatchSpec{Documents: docs(1), ProcessingKind: "summarize"})
	require.NoError(t, err)
	p.set(func(p *fakeProcessor) {
		p.progress.State = RunDone
		p.progress.Completed = 1
		p.pollHold = hold
	})

	type outcome struct {
		st  schema.BatchStatusResponse
		err error
	}
	slow := make(chan outcome, 1)
	go func() {
		st, err := m.BatchStatus(ctx, sub.BatchID)
		slow <- outcome{st, err}
	}()
	<-hold // the slow poller has seen the run finish

	fast, err := m.BatchStatus(ctx, sub.BatchID)
	require.NoError(t, err)
	assert.Equal(t, string(StatusCompleted), fast.Status)

	hold <- struct{}{}
	late := <-slow
	require.NoError(t, late.err)
	assert.Equal(t, fast, late.st)

	res, err := m.BatchResults(ctx, sub.BatchID)
	require.NoError(t, err)
	assert.Len(t, res.Results, 1)
	assert.Equal(t, 1, p.collects)
}

// stallingProcessor parks the first Poll that reaches it, either before
// asking the wrapped processor or after it reported the run done.
type stallingProcessor struct {
	*LocalProcessor
	before bool
	hold   chan struct{}
	parked atomic.Bool
}

func (s *stallingProcessor) stall() {
	if s.parked.CompareAndSwap(false, true) {
		s.hold <- struct{}{}
		<-s.hold
	}
}

func (s *stallingProcessor) Poll(ctx context.Context, handle string) (Progress, error) {
	if s.before {
		s.stall()
		return s.LocalProcessor.Poll(ctx, handle)
	}
	prog, err := s.LocalProcessor.Poll(ctx, handle)
	if err == nil && prog.State == RunDone {
		s.stall()
	}
	return prog, err
}

func TestOverlappingPollsOnLocalRun(t *testing.T) {
	for _, tc := range []struct {
		name   string
		before bool
	}{
		{"stalled after done", false},
		{"stalled before poll", true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			exec := &echoExecutor{}
			local := NewLocalProcessor(exec, "", 2, nil)
			proc := &stallingProcessor{LocalProcessor: local, before: tc.before, hold: make(chan struct{})}
			m := NewManager(proc)
			ctx := context.Background()

			sub, err := m.SubmitBatch(ctx, BatchSpec{Documents: docs(2), ProcessingKind: "summarize"})
			require.NoError(t, err)
			require.Eventually(t, func() bool {
				prog, err := local.Poll(ctx, sub.BatchID)
				return err == nil && prog.State == RunDone
			}, 2*time.Second, 5*time.Millisecond)

			type outcome struct {
				st  schema.BatchStatusResponse
				err error
			}
			slow := make(chan outcome, 1)
			go func() {
				st, err := m.BatchStatus(ctx, sub.BatchID)
				slow <- outcome{st, err}
			}()
			<-proc.hold

			fast, err := m.BatchStatus(ctx, sub.BatchID)
			require.NoError(t, err)
			assert.Equal(t, string(StatusCompleted), fast.Status)

			proc.hold <- struct{}{}
			late := <-slow
			require.NoError(t, late.err)
			assert.Equal(t, string(StatusCompleted), late.st.Status)

			after, err := m.BatchStatus(ctx, sub.BatchID)
			require.NoError(t, err)
			assert.Equal(t, fast, after)

			res, err := m.BatchResults(ctx, sub.BatchID)
			require.NoError(t, err)
			assert.Len(t, res.Results, 2)
		})
	}
}

func TestUnknownBatch(t *testing.T) {
	m := NewManager(&fakeProcessor{})
	ctx := context.Background()

	_, err := m.BatchStatus(ctx, "batch_missing")
	assert.Equal(t, apperr.CodeJobNotFound, apperr.CodeOf(err))
	_, err = m.BatchResults(ctx, "batch_missing")
	assert.Equal(t, apperr.CodeJobNotFound, apperr.CodeOf(err))
	_, err = m.CancelBatch(ctx, "batch_missing")
	assert.Equal(t, apperr.CodeJobNotFound, apperr.CodeOf(err))
}

func TestCancelWinsOverInflightCompletion(t *testing.T) {
	release := make(chan struct{})
	p := &fakeProcessor{
		release: release,
		results: []schema.DocumentResult{{CustomID: "doc-0-a", Status: schema.DocumentSucceeded, Output: "late"}},
	}
	m := NewManager(p)
	ctx := context.Background()
	sub, err := m.SubmitBatch(ctx, BatchSpec{Documents: docs(1), ProcessingKind: "summarize"})
	require.NoError(t, err)
	p.set(func(p *fakeProcessor) { p.progress.State = RunDone })

	done := make(chan schema.BatchStatusResponse, 1)
	go func() {
		st, _ := m.BatchStatus(ctx, sub.BatchID)
		done <- st
	}()
	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.collects == 1
	}, time.Second, 5*time.Millisecond)

	st, err := m.CancelBatch(ctx, sub.BatchID)
	require.NoError(t, err)
	assert.Equal(t, string(StatusFailed), st.Status)
	assert.Equal(t, "cancelled", st.Error)

	close(release)
	late := <-done
	assert.Equal(t, string(StatusFailed), late.Status)

	_, err = m.BatchResults(ctx, sub.BatchID)
	assert.Equal(t, apperr.CodeWorkerError, apperr.CodeOf(err))
	assert.Equal(t, []string{"h-" + sub.BatchID}, p.cancelled)

	// Cancelling again is a no-op.
	again, err := m.CancelBatch(ctx, sub.BatchID)
	require.NoError(t, err)
	assert.Equal(t, st, again)
	assert.Len(t, p.cancelled, 1)
}

func TestCleanupNeverRemovesProcessingJobs(t *testing.T) {
	clk := newClock()
	p := &fakeProcessor{}
	m := NewManager(p, WithClock(clk.Now))
	ctx := context.Background()

	running, err := m.SubmitBatch(ctx, BatchSpec{Documents: docs(1), ProcessingKind: "summarize"})
	require.NoError(t, err)

	failing := &fakeProcessor{startErr: errors.New("down")}
	m.processor = failing
	_, err = m.SubmitBatch(ctx, BatchSpec{Documents: docs(1), ProcessingKind: "summarize"})
	require.Error(t, err)
	m.processor = p

	_, err = m.StartSession(schema.SessionStartRequest{})
	require.NoError(t, err)

	clk.Advance(48 * time.Hour)
	res, err := m.Cleanup(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Jobs)
	assert.Equal(t, 1, res.Sessions)

	st, err := m.BatchStatus(ctx, running.BatchID)
	require.NoError(t, err)
	assert.Equal(t, string(StatusProcessing), st.Status)

	_, processing, total := m.Counts()
	assert.Equal(t, 1, processing)
	assert.Equal(t, 1, total)
}

func TestCleanupKeepsRecentTerminalJobs(t *testing.T) {
	clk := newClock()
	p := &fakeProcessor{}
	m := NewManager(p, WithClock(clk.Now))
	ctx := context.Background()
	sub, err := m.SubmitBatch(ctx, BatchSpec{Documents: docs(1), ProcessingKind: "summarize"})
	require.NoError(t, err)

	// Old job that only just finished.
	clk.Advance(30 * time.Hour)
	_, err = m.CancelBatch(ctx, sub.BatchID)
	require.NoError(t, err)

	res, err := m.Cleanup(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, res.Jobs)
}

func TestCleanupArchivesPurgedJobs(t *testing.T) {
	clk := newClock()
	p := &fakeProcessor{results: []schema.DocumentResult{{CustomID: "doc-0-a", Status: schema.DocumentSucceeded, Output: "kept"}}}
	store, err := archive.NewFileStore(t.TempDir())
	require.NoError(t, err)
	m := NewManager(p, WithClock(clk.Now), WithArchive(store))
	ctx := context.Background()

	sub, err := m.SubmitBatch(ctx, BatchSpec{Documents: docs(1), ProcessingKind: "summarize"})
	require.NoError(t, err)
	p.set(func(p *fakeProcessor) { p.progress.State = RunDone })
	_, err = m.BatchStatus(ctx, sub.BatchID)
	require.NoError(t, err)

	clk.Advance(25 * time.Hour)
	res, err := m.Cleanup(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Jobs)

	st, err := m.BatchStatus(ctx, sub.BatchID)
	require.NoError(t, err)
	assert.Equal(t, string(StatusCompleted), st.Status)
	assert.Equal(t, 1, st.CompletedRequests)

	got, err := m.BatchResults(ctx, sub.BatchID)
	require.NoError(t, err)
	require.Len(t, got.Results, 1)
	assert.Equal(t, "kept", got.Results[0].Output)
}

// echoExecutor answers every request with a deterministic output.
type echoExecutor struct {
	mu    sync.Mutex
	calls int
	kinds []worker.Kind
	fail  string
}

func (e *echoExecutor) Execute(_ context.Context, req schema.Request) (engine.Result, error) {
	e.mu.Lock()
	e.calls++
	e.kinds = append(e.kinds, req.WorkerKind)
	e.mu.Unlock()
	if e.fail != "" && strings.Contains(req.Query, e.fail) {
		err := apperr.WorkerError("model refused", nil)
		return engine.Result{TaskResult: dispatch.TaskResult{Err: err}}, err
	}
	return engine.Result{TaskResult: dispatch.TaskResult{
		Succeeded: true,
		Output:    "summary of " + strings.SplitN(req.Query, "\n", 2)[0],
	}}, nil
}

func waitCompleted(t *testing.T, m *Manager, id string) schema.BatchStatusResponse {
	t.Helper()
	var st schema.BatchStatusResponse
	require.Eventually(t, func() bool {
		var err error
		st, err = m.BatchStatus(context.Background(), id)
		require.NoError(t, err)
		return st.Status == string(StatusCompleted)
	}, 2*time.Second, 5*time.Millisecond)
	return st
}

func TestLocalBatchSummarizesDocuments(t *testing.T) {
	exec := &echoExecutor{}
	m := NewManager(NewLocalProcessor(exec, worker.KindExecutor, 2, nil))
	ctx := context.Background()

	sub, err := m.SubmitBatch(ctx, BatchSpec{Documents: docs(3), ProcessingKind: "summarize"})
	require.NoError(t, err)

	st := waitCompleted(t, m, sub.BatchID)
	assert.Equal(t, 3, st.TotalRequests)
	assert.Equal(t, 3, st.CompletedRequests)
	assert.Zero(t, st.FailedRequests)

	res, err := m.BatchResults(ctx, sub.BatchID)
	require.NoError(t, err)
	require.Len(t, res.Results, 3)
	for i, r := range res.Results {
		assert.Equal(t, i, r.DocumentIndex)
		assert.True(t, strings.HasPrefix(r.CustomID, fmt.Sprintf("doc-%d-", i)))
		assert.Equal(t, fmt.Sprintf("summary of Document title: Doc %d", i), r.Output)
		assert.Equal(t, schema.DocumentSucceeded, r.Status)
	}

	again, err := m.BatchResults(ctx, sub.BatchID)
	require.NoError(t, err)
	assert.Equal(t, res, again)
	assert.Equal(t, 3, exec.calls)
	assert.Equal(t, []worker.Kind{worker.KindExecutor, worker.KindExecutor, worker.KindExecutor}, exec.kinds)
}

func TestLocalBatchRecordsPerDocumentFailures(t *testing.T) {
	exec := &echoExecutor{fail: "content 1"}
	m := NewManager(NewLocalProcessor(exec, "", 4, nil))
	ctx := context.Background()

	sub, err := m.SubmitBatch(ctx, BatchSpec{Documents: docs(3), ProcessingKind: "custom", Instructions: "List the nouns."})
	require.NoError(t, err)

	st := waitCompleted(t, m, sub.BatchID)
	assert.Equal(t, 2, st.CompletedRequests)
	assert.Equal(t, 1, st.FailedRequests)

	res, err := m.BatchResults(ctx, sub.BatchID)
	require.NoError(t, err)
	assert.Equal(t, schema.DocumentFailed, res.Results[1].Status)
	assert.Contains(t, res.Results[1].Error, "model refused")
}
