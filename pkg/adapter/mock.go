package adapter

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// MockAdapter returns deterministic responses for local runs and tests.
type MockAdapter struct {
	name            string
	responses       map[string]string
	defaultResponse string
	Usage           *Usage
	// Err, when set, is returned from every call.
	Err error
	// Delay is slept (honouring ctx) before answering.
	Delay time.Duration
	calls atomic.Int64
}

// NewMockAdapter creates a mock adapter with a default response.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		name:            "mock",
		responses:       make(map[string]string),
		defaultResponse: "mock response:",
	}
}

// NewMockAdapterWithResponses creates a mock adapter with predefined responses keyed by prompt.
func NewMockAdapterWithResponses(responses map[string]string, defaultResponse string) *MockAdapter {
	m := NewMockAdapter()
	m.responses = responses
	if defaultResponse != "" {
		m.defaultResponse = defaultResponse
	}
	return m
}

// NewNamedMockAdapter creates a mock reporting a custom adapter name.
func NewNamedMockAdapter(name string) *MockAdapter {
	m := NewMockAdapter()
	m.name = name
	return m
}

// Name returns the adapter identifier.
func (a *MockAdapter) Name() string {
	return a.name
}

// Models returns the list of supported mock models.
func (a *MockAdapter) Models() []string {
	return []string{"mock-1"}
}

// Calls reports how many times Generate ran.
func (a *MockAdapter) Calls() int64 {
	return a.calls.Load()
}

// Generate returns a deterministic response for the prompt.
func (a *MockAdapter) Generate(ctx context.Context, req Request) (*Response, error) {
	a.calls.Add(1)

	if a.Delay > 0 {
		timer := time.NewTimer(a.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if a.Err != nil {
		return nil, a.Err
	}

	model := req.Model
	if model == "" {
		model = "mock-1"
	}
	content, ok := a.responses[req.Prompt]
	if !ok {
		content = fmt.Sprintf("%s\n%s", a.defaultResponse, req.Prompt)
	}
	return &Response{Content: content, Adapter: a.Name(), Model: model, Usage: a.Usage}, nil
}
