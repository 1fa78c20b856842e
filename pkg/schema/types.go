// Package schema holds the orchestration request value and the JSON bodies exchanged at the boundary.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/zen-systems/agentgate/pkg/adapter"
	"github.com/zen-systems/agentgate/pkg/worker"
)

// Request is an inbound task after boundary translation. Treat it as immutable.
type Request struct {
	Query        string
	Context      string
	Instructions string
	WorkerKind   worker.Kind // empty when the router decides
	ForceLocal   bool
}

// HasOverride reports whether the caller pinned a worker kind.
func (r Request) HasOverride() bool {
	return r.WorkerKind != ""
}

// === Dispatch ===

type DispatchRequest struct {
	Query            string `json:"query"`
	WorkerKind       string `json:"worker_kind,omitempty"`
	Context          string `json:"context,omitempty"`
	ForceLocal       bool   `json:"force_local,omitempty"`
	SessionID        string `json:"session_id,omitempty"`
	UseKnowledgeBase bool   `json:"use_knowledge_base,omitempty"`
}

type DispatchResponse struct {
	Output          string         `json:"output"`
	WorkerUsed      string         `json:"worker_used"`
	BackendUsed     string         `json:"backend_used"`
	ElapsedMS       int64          `json:"elapsed_ms"`
	FallbackUsed    bool           `json:"fallback_used"`
	Model           string         `json:"model,omitempty"`
	ComplexityScore float64        `json:"complexity_score"`
	ComplexityTier  string         `json:"complexity_tier"`
	Usage           *adapter.Usage `json:"usage,omitempty"`
	CostUSD         float64        `json:"cost_usd,omitempty"`
}

// ErrorBody is the structured failure returned for every error.
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// === Batches ===

// Document is one batch input. It decodes from a bare string or a {title, content} object.
type Document struct {
	Title   string `json:"title,omitempty"`
	Content string `json:"content"`
}

func (d *Document) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "\"") {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		d.Title = ""
		d.Content = s
		return nil
	}
	type plain Document
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("document must be a string or {title, content}: %w", err)
	}
	*d = Document(p)
	return nil
}

type BatchSubmitRequest struct {
	Documents      []Document `json:"documents"`
	ProcessingKind string     `json:"processing_kind"`
	Instructions   string     `json:"instructions,omitempty"`
}

type BatchSubmitResponse struct {
	BatchID       string `json:"batch_id"`
	DocumentCount int    `json:"document_count"`
}

type BatchStatusResponse struct {
	BatchID           string  `json:"batch_id"`
	Status            string  `json:"status"`
	Progress          float64 `json:"progress"`
	TotalRequests     int     `json:"total_requests"`
	CompletedRequests int     `json:"completed_requests"`
	FailedRequests    int     `json:"failed_requests"`
	Error             string  `json:"error,omitempty"`
}

// DocumentResult is the outcome for one document, tagged with its source.
type DocumentResult struct {
	CustomID      string         `json:"custom_id"`
	DocumentIndex int            `json:"document_index"`
	Title         string         `json:"title,omitempty"`
	Status        string         `json:"status"`
	Output        string         `json:"output,omitempty"`
	Error         string         `json:"error,omitempty"`
	Usage         *adapter.Usage `json:"usage,omitempty"`
}

const (
	DocumentSucceeded = "succeeded"
	DocumentFailed    = "failed"
)

type BatchResultsResponse struct {
	BatchID string           `json:"batch_id"`
	Results []DocumentResult `json:"results"`
}

// === Sessions ===

type SessionStartRequest struct {
	SessionID    string `json:"session_id,omitempty"`
	Voice        string `json:"voice,omitempty"`
	Instructions string `json:"instructions,omitempty"`
}

type SessionResponse struct {
	SessionID    string    `json:"session_id"`
	Voice        string    `json:"voice"`
	Instructions string    `json:"instructions,omitempty"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

type SessionEndRequest struct {
	SessionID string `json:"session_id"`
}

type SessionEndResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

// === Knowledge base ===

type KnowledgeAddRequest struct {
	Text string `json:"text"`
	Ref  string `json:"ref,omitempty"`
}

type KnowledgeAddResponse struct {
	ID      string `json:"id"`
	Entries int    `json:"entries"`
}

// === Status and cleanup ===

type StatusSnapshot struct {
	LocalCount       int64   `json:"local_count"`
	RemoteCount      int64   `json:"remote_count"`
	FallbackCount    int64   `json:"fallback_count"`
	FailureCount     int64   `json:"failure_count"`
	TotalLatencyMS   int64   `json:"total_latency_ms"`
	AvgLatencyMS     float64 `json:"avg_latency_ms"`
	LocalRatio       float64 `json:"local_ratio"`
	LocalRatioTarget float64 `json:"local_ratio_target"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
	ActiveSessions   int     `json:"active_sessions"`
	ActiveBatchJobs  int     `json:"active_batch_jobs"`
	TotalBatchJobs   int     `json:"total_batch_jobs"`
	Workers          int     `json:"workers"`
}

type CleanupRequest struct {
	MaxAgeHours float64 `json:"max_age_hours"`
}

type CleanupResponse struct {
	ExpiredJobsCleaned     int `json:"expired_jobs_cleaned"`
	ExpiredSessionsCleaned int `json:"expired_sessions_cleaned"`
}
