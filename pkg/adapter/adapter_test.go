package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newLocalServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("failed to listen for httptest server: %v", err)
	}
	server := httptest.NewUnstartedServer(handler)
	server.Listener = listener
	server.Start()
	t.Cleanup(server.Close)
	return server
}

func TestOllamaAdapter_Generate(t *testing.T) {
	server := newLocalServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %s, want /api/chat", r.URL.Path)
		}
		var req ollamaChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		if req.Stream {
			t.Errorf("expected non-streaming request")
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Content != "hello" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}
		_ = json.NewEncoder(w).Encode(ollamaChatResponse{
			Model:           req.Model,
			Message:         ollamaMessage{Role: "assistant", Content: "hi there"},
			Done:            true,
			PromptEvalCount: 12,
			EvalCount:       3,
		})
	}))

	a := NewOllamaAdapter(server.URL, WithOllamaModels("qwen2.5:7b"))
	resp, err := a.Generate(context.Background(), Request{System: "be brief", Prompt: "hello"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if resp.Content != "hi there" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.Model != "qwen2.5:7b" {
		t.Errorf("model = %q, want default from options", resp.Model)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 15 {
		t.Errorf("usage not normalized: %+v", resp.Usage)
	}
}

func TestOllamaAdapter_ModelNotFound(t *testing.T) {
	server := newLocalServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := NewOllamaAdapter(server.URL).Generate(context.Background(), Request{Model: "missing", Prompt: "x"})
	var adapterErr *AdapterError
	if !errors.As(err, &adapterErr) || adapterErr.Status != http.StatusNotFound {
		t.Fatalf("expected 404 AdapterError, got %v", err)
	}
	if IsTransient(err) {
		t.Fatalf("model not found must not be transient")
	}
}

func TestDeepSeekAdapter_StatusError(t *testing.T) {
	server := newLocalServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("authorization = %q", got)
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded"}}`))
	}))

	a, err := NewDeepSeekAdapter("key", WithDeepSeekBaseURL(server.URL))
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	_, err = a.Generate(context.Background(), Request{Model: "deepseek-chat", Prompt: "x"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !IsTransient(err) {
		t.Fatalf("503 should be transient: %v", err)
	}
}

func TestDeepSeekAdapter_Generate(t *testing.T) {
	server := newLocalServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"model":"deepseek-chat","choices":[{"message":{"role":"assistant","content":"ok"}}],"usage":{"prompt_tokens":4,"completion_tokens":1,"total_tokens":5}}`))
	}))

	a, _ := NewDeepSeekAdapter("key", WithDeepSeekBaseURL(server.URL))
	resp, err := a.Generate(context.Background(), Request{Model: "deepseek-chat", Prompt: "x"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if resp.Content != "ok" || resp.Usage.TotalTokens != 5 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestMockAdapter(t *testing.T) {
	m := NewMockAdapterWithResponses(map[string]string{"ping": "pong"}, "")
	resp, err := m.Generate(context.Background(), Request{Prompt: "ping"})
	if err != nil || resp.Content != "pong" {
		t.Fatalf("Generate(ping) = %+v, %v", resp, err)
	}
	resp, _ = m.Generate(context.Background(), Request{Prompt: "other"})
	if resp.Content != "mock response:\nother" {
		t.Fatalf("default response = %q", resp.Content)
	}
	if m.Calls() != 2 {
		t.Fatalf("calls = %d, want 2", m.Calls())
	}

	m.Err = fmt.Errorf("down")
	if _, err := m.Generate(context.Background(), Request{Prompt: "ping"}); err == nil {
		t.Fatalf("expected injected error")
	}
}

func TestMockAdapterDelayHonoursContext(t *testing.T) {
	m := NewMockAdapter()
	m.Delay = time.Second
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := m.Generate(ctx, Request{Prompt: "x"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", &AdapterError{Status: 429}, true},
		{"server error", fmt.Errorf("wrap: %w", &AdapterError{Status: 502}), true},
		{"bad request", &AdapterError{Status: 400}, false},
		{"temporary flag", &AdapterError{Temporary: true}, true},
		{"deadline", context.DeadlineExceeded, false},
		{"canceled", context.Canceled, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
