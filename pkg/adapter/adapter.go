// Package adapter provides the interchangeable completion backends workers run against.
package adapter

import (
	"context"
)

// Request is a single completion call.
type Request struct {
	Model     string
	System    string
	Prompt    string
	MaxTokens int
}

// Adapter defines the interface for LLM provider adapters.
type Adapter interface {
	// Generate sends a prompt to the model and returns its response.
	Generate(ctx context.Context, req Request) (*Response, error)

	// Name returns the adapter's identifier.
	Name() string

	// Models returns the list of supported models.
	Models() []string
}

const defaultMaxTokens = 4096

func maxTokens(req Request) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return defaultMaxTokens
}
