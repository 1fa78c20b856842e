package engine

import (
	"sync/atomic"
	"time"

	"github.com/zen-systems/agentgate/pkg/worker"
)

// Stats holds process-wide execution counters. All fields are updated
// atomically and never under a lock held across a backend call.
type Stats struct {
	local      atomic.Int64
	remote     atomic.Int64
	fallback   atomic.Int64
	failure    atomic.Int64
	latencyMs  atomic.Int64
	costMicros atomic.Int64
}

// Snapshot is a point-in-time copy of Stats.
type Snapshot struct {
	LocalCount       int64   `json:"local_count"`
	RemoteCount      int64   `json:"remote_count"`
	FallbackCount    int64   `json:"fallback_count"`
	FailureCount     int64   `json:"failure_count"`
	TotalLatencyMs   int64   `json:"total_latency_ms"`
	AvgLatencyMs     float64 `json:"avg_latency_ms"`
	LocalRatio       float64 `json:"local_ratio"`
	LocalRatioTarget float64 `json:"local_ratio_target"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}

func (s *Stats) recordAttempt(b worker.Backend) {
	if b == worker.BackendLocal {
		s.local.Add(1)
		return
	}
	s.remote.Add(1)
}

func (s *Stats) recordRequest(elapsed time.Duration, costUSD float64, failed, fellBack bool) {
	s.latencyMs.Add(elapsed.Milliseconds())
	s.costMicros.Add(int64(costUSD * 1e6))
	if fellBack {
		s.fallback.Add(1)
	}
	if failed {
		s.failure.Add(1)
	}
}

// Snapshot returns the current counters. The local ratio target is reported
// for comparison only.
func (s *Stats) Snapshot(target float64) Snapshot {
	snap := Snapshot{
		LocalCount:       s.local.Load(),
		RemoteCount:      s.remote.Load(),
		FallbackCount:    s.fallback.Load(),
		FailureCount:     s.failure.Load(),
		TotalLatencyMs:   s.latencyMs.Load(),
		LocalRatioTarget: target,
		EstimatedCostUSD: float64(s.costMicros.Load()) / 1e6,
	}
	if total := snap.LocalCount + snap.RemoteCount; total > 0 {
		snap.LocalRatio = float64(snap.LocalCount) / float64(total)
		requests := total - snap.FallbackCount
		if requests > 0 {
			snap.AvgLatencyMs = float64(snap.TotalLatencyMs) / float64(requests)
		}
	}
	return snap
}
