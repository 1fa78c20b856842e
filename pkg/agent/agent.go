package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/zen-systems/agentgate/pkg/config"
	"github.com/zen-systems/agentgate/pkg/worker"
)

// Agent is a model-backed worker for one kind. It satisfies both calling
// conventions; the profile's mode decides which one is registered.
type Agent struct {
	profile  Profile
	backends *Backends
	settings config.WorkerConfig
}

// New creates an agent for profile.
func New(profile Profile, backends *Backends, settings config.WorkerConfig) *Agent {
	if settings.Mode != "" {
		profile.Mode = worker.Mode(settings.Mode)
	}
	if settings.MaxTokens > 0 {
		profile.MaxTokens = settings.MaxTokens
	}
	return &Agent{profile: profile, backends: backends, settings: settings}
}

// Profile returns the effective profile.
func (a *Agent) Profile() Profile {
	return a.profile
}

// Run executes task and blocks for the result.
func (a *Agent) Run(ctx context.Context, task worker.Task) (worker.Output, error) {
	return a.backends.Complete(ctx, Call{
		Backend:   task.Backend,
		Model:     a.model(task.Backend),
		System:    a.profile.System,
		Prompt:    BuildPrompt(task),
		MaxTokens: a.profile.MaxTokens,
	})
}

// Start executes task in the background. The returned channel is buffered
// and receives exactly one outcome.
func (a *Agent) Start(ctx context.Context, task worker.Task) <-chan worker.Outcome {
	out := make(chan worker.Outcome, 1)
	go func() {
		output, err := a.Run(ctx, task)
		out <- worker.Outcome{Output: output, Err: err}
	}()
	return out
}

// Worker wraps the agent in the variant matching its mode.
func (a *Agent) Worker() worker.Worker {
	if a.profile.Mode == worker.ModeAsync {
		return worker.NewAsync(a.profile.Kind, a.profile.Name, a)
	}
	return worker.NewSync(a.profile.Kind, a.profile.Name, a)
}

func (a *Agent) model(backend worker.Backend) string {
	if backend == worker.BackendLocal {
		return a.settings.LocalModel
	}
	return a.settings.RemoteModel
}

// BuildPrompt joins the task's context, query and instructions.
func BuildPrompt(task worker.Task) string {
	var sb strings.Builder
	if c := strings.TrimSpace(task.Context); c != "" {
		sb.WriteString("Context:\n")
		sb.WriteString(c)
		sb.WriteString("\n\n")
	}
	if in := strings.TrimSpace(task.Instructions); in != "" {
		sb.WriteString("Instructions:\n")
		sb.WriteString(in)
		sb.WriteString("\n\n")
	}
	if sb.Len() == 0 {
		return task.Query
	}
	sb.WriteString("Request:\n")
	sb.WriteString(task.Query)
	return sb.String()
}

// RegisterAll registers an agent for every enabled kind with a profile.
func RegisterAll(reg *worker.Registry, backends *Backends, profiles map[worker.Kind]Profile, settings map[worker.Kind]config.WorkerConfig) error {
	for _, kind := range worker.Kinds() {
		p, ok := profiles[kind]
		if !ok {
			continue
		}
		s := settings[kind]
		if s.Disabled {
			continue
		}
		if err := reg.Register(kind, New(p, backends, s).Worker()); err != nil {
			return fmt.Errorf("register %s: %w", kind, err)
		}
	}
	return nil
}
