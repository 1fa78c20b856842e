package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zen-systems/agentgate/pkg/adapter"
	"github.com/zen-systems/agentgate/pkg/apperr"
	"github.com/zen-systems/agentgate/pkg/config"
	"github.com/zen-systems/agentgate/pkg/schema"
	"github.com/zen-systems/agentgate/pkg/search"
)

type mocks struct {
	local  *adapter.MockAdapter
	remote *adapter.MockAdapter
}

func testConfig() *config.Config {
	return &config.Config{
		StoreDriver:   "none",
		RoutingConfig: config.DefaultRoutingConfig(),
	}
}

func newOrchestrator(t *testing.T, cfg *config.Config, opts ...Option) (*Orchestrator, mocks) {
	t.Helper()
	m := mocks{local: adapter.NewNamedMockAdapter("ollama"), remote: adapter.NewNamedMockAdapter("anthropic")}
	opts = append([]Option{WithAdapters(map[string]adapter.Adapter{"ollama": m.local, "anthropic": m.remote})}, opts...)
	o, err := New(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close() })
	return o, m
}

func TestNewRequiresBackendAdapters(t *testing.T) {
	_, err := New(context.Background(), testConfig(), WithAdapters(map[string]adapter.Adapter{
		"ollama": adapter.NewNamedMockAdapter("ollama"),
	}))
	assert.ErrorContains(t, err, `remote backend adapter "anthropic"`)
}

func TestNewFailsWhenRoutedKindHasNoWorker(t *testing.T) {
	cfg := testConfig()
	cfg.RoutingConfig.Workers = map[string]config.WorkerConfig{"code-debugger": {Disabled: true}}

	_, err := New(context.Background(), cfg, WithAdapters(map[string]adapter.Adapter{
		"ollama":    adapter.NewNamedMockAdapter("ollama"),
		"anthropic": adapter.NewNamedMockAdapter("anthropic"),
	}))
	require.Error(t, err)
	assert.Equal(t, apperr.CodeNoWorkerAvailable, apperr.CodeOf(err))
}

func TestDispatchSimpleQueryRunsLocally(t *testing.T) {
	o, m := newOrchestrator(t, testConfig())

	resp, err := o.Dispatch(context.Background(), schema.DispatchRequest{Query: "What is the weather today?"})
	require.NoError(t, err)
	assert.Equal(t, "local", resp.BackendUsed)
	assert.Equal(t, "orchestrator", resp.WorkerUsed)
	assert.Contains(t, resp.Output, "What is the weather today?")
	assert.EqualValues(t, 1, m.local.Calls())
	assert.Zero(t, m.remote.Calls())

	st := o.Status()
	assert.EqualValues(t, 1, st.LocalCount)
	assert.Positive(t, st.Workers)
}

func TestDispatchTranslatesWorkerKind(t *testing.T) {
	o, _ := newOrchestrator(t, testConfig())

	resp, err := o.Dispatch(context.Background(), schema.DispatchRequest{Query: "hello there", WorkerKind: "Research"})
	require.NoError(t, err)
	assert.Equal(t, "researcher", resp.WorkerUsed)

	_, err = o.Dispatch(context.Background(), schema.DispatchRequest{Query: "hello there", WorkerKind: "astrologer"})
	assert.Equal(t, apperr.CodeAmbiguousRequest, apperr.CodeOf(err))

	_, err = o.Dispatch(context.Background(), schema.DispatchRequest{Query: "   "})
	assert.Equal(t, apperr.CodeAmbiguousRequest, apperr.CodeOf(err))
}

func TestDispatchFallsBackToRemote(t *testing.T) {
	o, m := newOrchestrator(t, testConfig())
	m.local.Err = errors.New("model not loaded")

	resp, err := o.Dispatch(context.Background(), schema.DispatchRequest{Query: "What is the weather today?"})
	require.NoError(t, err)
	assert.True(t, resp.FallbackUsed)
	assert.Equal(t, "remote", resp.BackendUsed)

	_, err = o.Dispatch(context.Background(), schema.DispatchRequest{Query: "What is the weather today?", ForceLocal: true})
	assert.Equal(t, apperr.CodeWorkerError, apperr.CodeOf(err))
	assert.EqualValues(t, 1, o.Status().FallbackCount)
}

type failingSource struct{}

func (failingSource) Name() string { return "offline" }

func (failingSource) Search(context.Context, string, int) ([]search.Snippet, error) {
	return nil, errors.New("offline")
}

func TestDispatchUsesKnowledgeBase(t *testing.T) {
	o, _ := newOrchestrator(t, testConfig(), WithSearchSource(failingSource{}))
	_, err := o.AddKnowledge(schema.KnowledgeAddRequest{Text: "The weather station on the roof reports sunny skies."})
	require.NoError(t, err)

	resp, err := o.Dispatch(context.Background(), schema.DispatchRequest{
		Query:            "What is the weather today?",
		Context:          "User is in Lisbon.",
		UseKnowledgeBase: true,
	})
	require.NoError(t, err)
	assert.Contains(t, resp.Output, "User is in Lisbon.")
	assert.Contains(t, resp.Output, "sunny skies")
}

func TestDispatchTouchesSession(t *testing.T) {
	o, _ := newOrchestrator(t, testConfig())

	_, err := o.Dispatch(context.Background(), schema.DispatchRequest{Query: "hi", SessionID: "sess_missing"})
	assert.Equal(t, apperr.CodeJobNotFound, apperr.CodeOf(err))

	s, err := o.StartSession(schema.SessionStartRequest{})
	require.NoError(t, err)
	_, err = o.Dispatch(context.Background(), schema.DispatchRequest{Query: "hi", SessionID: s.SessionID})
	require.NoError(t, err)

	end, err := o.EndSession(schema.SessionEndRequest{SessionID: s.SessionID})
	require.NoError(t, err)
	assert.Equal(t, "ended", end.Status)

	_, err = o.EndSession(schema.SessionEndRequest{})
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))
}

func TestLocalBatchEndToEnd(t *testing.T) {
	o, _ := newOrchestrator(t, testConfig())
	ctx := context.Background()

	sub, err := o.SubmitBatch(ctx, schema.BatchSubmitRequest{
		Documents: []schema.Document{
			{Title: "Q1", Content: "Revenue grew."},
			{Content: "Costs fell."},
		},
		ProcessingKind: "summarize",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, sub.DocumentCount)

	require.Eventually(t, func() bool {
		st, err := o.BatchStatus(ctx, sub.BatchID)
		require.NoError(t, err)
		return st.Status == "completed"
	}, 2*time.Second, 5*time.Millisecond)

	res, err := o.BatchResults(ctx, sub.BatchID)
	require.NoError(t, err)
	require.Len(t, res.Results, 2)
	assert.Contains(t, res.Results[0].Output, "Revenue grew.")
	assert.Contains(t, res.Results[1].Output, "Document title: Untitled")

	st := o.Status()
	assert.Equal(t, 1, st.TotalBatchJobs)
	assert.Zero(t, st.ActiveBatchJobs)
}

// recordingAdapter remembers the system prompt of every call.
type recordingAdapter struct {
	*adapter.MockAdapter
	mu      sync.Mutex
	systems []string
}

func (a *recordingAdapter) Generate(ctx context.Context, req adapter.Request) (*adapter.Response, error) {
	a.mu.Lock()
	a.systems = append(a.systems, req.System)
	a.mu.Unlock()
	return a.MockAdapter.Generate(ctx, req)
}

func (a *recordingAdapter) Systems() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.systems...)
}

func TestLocalBatchUsesBatchWorker(t *testing.T) {
	local := &recordingAdapter{MockAdapter: adapter.NewNamedMockAdapter("ollama")}
	remote := &recordingAdapter{MockAdapter: adapter.NewNamedMockAdapter("anthropic")}
	o, err := New(context.Background(), testConfig(), WithAdapters(map[string]adapter.Adapter{
		"ollama":    local,
		"anthropic": remote,
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close() })
	ctx := context.Background()

	// Either document would route to a specialist if dispatched on its own.
	sub, err := o.SubmitBatch(ctx, schema.BatchSubmitRequest{
		Documents: []schema.Document{
			{Title: "Upload", Content: "Users report a bug where the photo upload crashes."},
			{Title: "Pitch", Content: "A picture of our roadmap for next quarter."},
		},
		ProcessingKind: "summarize",
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		st, err := o.BatchStatus(ctx, sub.BatchID)
		require.NoError(t, err)
		return st.Status == "completed"
	}, 2*time.Second, 5*time.Millisecond)

	systems := append(local.Systems(), remote.Systems()...)
	require.Len(t, systems, 2)
	for _, sys := range systems {
		assert.True(t, strings.HasPrefix(sys, "You are an executor agent"), "system prompt %q", sys)
	}
}

func TestNewRejectsUnknownBatchWorker(t *testing.T) {
	cfg := testConfig()
	cfg.RoutingConfig.Batch.Worker = "accountant"

	_, err := New(context.Background(), cfg, WithAdapters(map[string]adapter.Adapter{
		"ollama":    adapter.NewNamedMockAdapter("ollama"),
		"anthropic": adapter.NewNamedMockAdapter("anthropic"),
	}))
	assert.ErrorContains(t, err, "batch.worker")
}

func TestKnowledgeBaseLoadsConfiguredDocuments(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "refunds.md"), []byte("Refunds are issued within five business days."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "logo.png"), []byte("binary"), 0o644))

	cfg := testConfig()
	cfg.RoutingConfig.Search.Documents = []string{dir}
	o, _ := newOrchestrator(t, cfg)

	resp, err := o.Dispatch(context.Background(), schema.DispatchRequest{
		Query:            "How long do refunds take?",
		UseKnowledgeBase: true,
	})
	require.NoError(t, err)
	assert.Contains(t, resp.Output, "five business days")

	added, err := o.AddKnowledge(schema.KnowledgeAddRequest{Text: "Shipping is free over 50 euros."})
	require.NoError(t, err)
	assert.Equal(t, 2, added.Entries)

	_, err = o.AddKnowledge(schema.KnowledgeAddRequest{})
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))
}

func TestCleanup(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	o, _ := newOrchestrator(t, testConfig(), WithClock(func() time.Time { return now }))

	_, err := o.StartSession(schema.SessionStartRequest{})
	require.NoError(t, err)

	resp, err := o.Cleanup(context.Background(), schema.CleanupRequest{})
	require.NoError(t, err)
	assert.Zero(t, resp.ExpiredSessionsCleaned)

	now = now.Add(25 * time.Hour)
	resp, err = o.Cleanup(context.Background(), schema.CleanupRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.ExpiredSessionsCleaned)

	_, err = o.Cleanup(context.Background(), schema.CleanupRequest{MaxAgeHours: -1})
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))
}

func TestRunStopsWithContext(t *testing.T) {
	o, _ := newOrchestrator(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
