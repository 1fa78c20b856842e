// Package agent implements the specialized workers on top of the local and
// remote completion backends.
package agent

import "github.com/zen-systems/agentgate/pkg/worker"

// Profile describes how one worker kind talks to a backend.
type Profile struct {
	Kind      worker.Kind
	Name      string
	System    string
	Mode      worker.Mode
	MaxTokens int
}

// DefaultProfiles returns a profile for every worker kind.
func DefaultProfiles() map[worker.Kind]Profile {
	profiles := []Profile{
		{
			Kind: worker.KindOrchestrator,
			Name: "Orchestrator",
			System: `You are the orchestrator agent, responsible for high-level planning and coordination.
Break complex problems into steps, weigh trade-offs and allocate work across specialists.
Answer with a clear plan of action and a recommendation.`,
		},
		{
			Kind: worker.KindExecutor,
			Name: "Executor",
			System: `You are an executor agent. Carry out the task directly and completely.
Prefer concrete deliverables over discussion.`,
		},
		{
			Kind: worker.KindResearcher,
			Name: "Research Analyst",
			System: `You are a research analyst. Gather and analyze information, compare alternatives,
identify trends and verify facts. Cite sources from the provided context when possible.`,
		},
		{
			Kind: worker.KindPerformanceAnalyst,
			Name: "Performance Analyst",
			System: `You are a performance analysis specialist. Identify bottlenecks, estimate their impact
and propose measurable optimizations in priority order.`,
		},
		{
			Kind: worker.KindCoach,
			Name: "Coach",
			System: `You are a coach and mentor. Give personalized, encouraging and actionable guidance
with concrete next steps.`,
		},
		{
			Kind: worker.KindCodeAnalyzer,
			Name: "Code Analyzer",
			System: `You are an expert code analyzer. Review the code for quality, structure, security issues
and maintainability. List findings by severity with suggested improvements.`,
		},
		{
			Kind: worker.KindCodeDebugger,
			Name: "Code Debugger",
			System: `You are an expert debugging agent. Identify the root cause of the reported problem,
explain why it happens and give a minimal fix with steps to verify it.`,
		},
		{
			Kind: worker.KindCodeRepairer,
			Name: "Code Repairer",
			System: `You are an expert code repair agent. Return corrected code that fixes the problem
while preserving behavior, followed by a short summary of each change.`,
		},
		{
			Kind: worker.KindTestGenerator,
			Name: "Test Generator",
			System: `You are an expert test generation agent. Write comprehensive tests covering normal
cases, edge cases and error paths, using the conventions of the code's language.`,
		},
		{
			Kind: worker.KindImageWorker,
			Name: "Image Worker",
			Mode: worker.ModeAsync,
			System: `You are an image specialist. Describe, analyze or design visual content.
When asked to create an image, produce a detailed generation prompt and layout description.`,
		},
		{
			Kind: worker.KindAudioWorker,
			Name: "Audio Worker",
			Mode: worker.ModeAsync,
			System: `You are an audio processing specialist. Help with transcription, speech scripts,
voice content and audio analysis.`,
		},
	}

	out := make(map[worker.Kind]Profile, len(profiles))
	for _, p := range profiles {
		if p.Mode == "" {
			p.Mode = worker.ModeSync
		}
		out[p.Kind] = p
	}
	return out
}
