package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	defaultOllamaURL   = "http://127.0.0.1:11434"
	defaultOllamaModel = "llama3.2"
)

// OllamaAdapter runs prompts against a local Ollama server. It is the low-cost backend.
type OllamaAdapter struct {
	baseURL    string
	models     []string
	httpClient *http.Client
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	NumPredict int `json:"num_predict,omitempty"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	DoneReason      string        `json:"done_reason,omitempty"`
	PromptEvalCount int           `json:"prompt_eval_count,omitempty"`
	EvalCount       int           `json:"eval_count,omitempty"`
}

type ollamaError struct {
	Error string `json:"error"`
}

// OllamaOption configures an OllamaAdapter.
type OllamaOption func(*OllamaAdapter)

// WithOllamaModels declares which locally pulled models the adapter offers.
func WithOllamaModels(models ...string) OllamaOption {
	return func(a *OllamaAdapter) {
		a.models = append([]string(nil), models...)
	}
}

// WithOllamaTimeout bounds each HTTP request.
func WithOllamaTimeout(d time.Duration) OllamaOption {
	return func(a *OllamaAdapter) {
		a.httpClient.Timeout = d
	}
}

// NewOllamaAdapter creates an adapter for the Ollama server at baseURL.
func NewOllamaAdapter(baseURL string, opts ...OllamaOption) *OllamaAdapter {
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	a := &OllamaAdapter{
		baseURL:    strings.TrimRight(baseURL, "/"),
		models:     []string{defaultOllamaModel},
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name returns the adapter identifier.
func (a *OllamaAdapter) Name() string {
	return "ollama"
}

// Models returns the configured local models.
func (a *OllamaAdapter) Models() []string {
	return a.models
}

// Generate posts a non-streaming chat request to /api/chat.
func (a *OllamaAdapter) Generate(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" && len(a.models) > 0 {
		model = a.models[0]
	}

	var messages []ollamaMessage
	if req.System != "" {
		messages = append(messages, ollamaMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, ollamaMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(ollamaChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   false,
		Options:  &ollamaOptions{NumPredict: maxTokens(req)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &AdapterError{Err: fmt.Errorf("ollama is not reachable at %s: %w", a.baseURL, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, &AdapterError{Status: resp.StatusCode, Err: fmt.Errorf("ollama model %q not found", model)}
	}
	if resp.StatusCode != http.StatusOK {
		var oe ollamaError
		if err := json.NewDecoder(resp.Body).Decode(&oe); err == nil && oe.Error != "" {
			return nil, &AdapterError{Status: resp.StatusCode, Err: fmt.Errorf("ollama: %s", oe.Error)}
		}
		return nil, &AdapterError{Status: resp.StatusCode, Err: fmt.Errorf("ollama chat request failed: %s", resp.Status)}
	}

	var result ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode ollama response: %w", err)
	}

	usage := Usage{
		PromptTokens:     result.PromptEvalCount,
		CompletionTokens: result.EvalCount,
	}.Normalize()

	return &Response{
		Content: result.Message.Content,
		Adapter: a.Name(),
		Model:   model,
		Usage:   &usage,
	}, nil
}
