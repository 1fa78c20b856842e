package router

import "github.com/zen-systems/agentgate/pkg/worker"

// Tier buckets a complexity score.
type Tier string

const (
	TierLow    Tier = "low"
	TierMedium Tier = "medium"
	TierHigh   Tier = "high"
)

// TierFor maps score onto a tier: score < medium is low, medium <= score < high
// is medium, score >= high is high.
func TierFor(score, medium, high float64) Tier {
	switch {
	case score >= high:
		return TierHigh
	case score >= medium:
		return TierMedium
	default:
		return TierLow
	}
}

// Candidate captures a category that matched the query.
type Candidate struct {
	Category string      `json:"category"`
	Kind     worker.Kind `json:"worker_kind"`
	Score    int         `json:"score"`
	Triggers []string    `json:"triggers,omitempty"`
	longest  int
}

// Decision captures routing decision details.
type Decision struct {
	Kind       worker.Kind    `json:"worker_kind"`
	Tier       Tier           `json:"complexity_tier"`
	Backend    worker.Backend `json:"backend"`
	Score      float64        `json:"complexity_score"`
	Category   string         `json:"category,omitempty"`
	Override   bool           `json:"override,omitempty"`
	Confidence float64        `json:"confidence"`
	Reasons    []string       `json:"reasons,omitempty"`
	Candidates []Candidate    `json:"candidates,omitempty"`
}
