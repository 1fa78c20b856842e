package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/zen-systems/agentgate/pkg/complexity"
	"github.com/zen-systems/agentgate/pkg/worker"
)

// RoutingConfig holds the triage rule table and execution policy.
type RoutingConfig struct {
	Categories       map[string]Category     `yaml:"categories" toml:"categories"`
	DefaultWorker    string                  `yaml:"default_worker" toml:"default_worker"`
	Tiers            TierConfig              `yaml:"tiers,omitempty" toml:"tiers"`
	Hybrid           HybridConfig            `yaml:"hybrid,omitempty" toml:"hybrid"`
	Backends         BackendsConfig          `yaml:"backends" toml:"backends"`
	Workers          map[string]WorkerConfig `yaml:"workers,omitempty" toml:"workers"`
	DefaultTimeoutMs int                     `yaml:"default_timeout_ms,omitempty" toml:"default_timeout_ms"`
	Retry            RetryConfig             `yaml:"retry,omitempty" toml:"retry"`
	RateLimit        RateLimitConfig         `yaml:"rate_limit,omitempty" toml:"rate_limit"`
	Pricing          PricingConfig           `yaml:"pricing,omitempty" toml:"pricing"`
	Complexity       complexity.Config       `yaml:"complexity,omitempty" toml:"complexity"`
	Batch            BatchConfig             `yaml:"batch,omitempty" toml:"batch"`
	Sessions         SessionConfig           `yaml:"sessions,omitempty" toml:"sessions"`
	Search           SearchConfig            `yaml:"search,omitempty" toml:"search"`
	KindAliases      map[string]string       `yaml:"kind_aliases,omitempty" toml:"kind_aliases"`
	ModelAliases     map[string]string       `yaml:"model_aliases,omitempty" toml:"model_aliases"`
}

// Category is one row of the rule table. Any trigger matches; every word of an
// all_of group must appear for the group to match.
type Category struct {
	Triggers []string   `yaml:"triggers" toml:"triggers"`
	AllOf    [][]string `yaml:"all_of,omitempty" toml:"all_of"`
	Worker   string     `yaml:"worker" toml:"worker"`
}

// TierConfig holds the score thresholds: low < Medium <= medium < High <= high.
type TierConfig struct {
	Medium float64 `yaml:"medium,omitempty" toml:"medium"`
	High   float64 `yaml:"high,omitempty" toml:"high"`
}

// HybridConfig controls local/remote selection.
type HybridConfig struct {
	LocalThreshold   float64 `yaml:"local_threshold,omitempty" toml:"local_threshold"`
	AllowFallback    *bool   `yaml:"allow_fallback,omitempty" toml:"allow_fallback"`
	LocalRatioTarget float64 `yaml:"local_ratio_target,omitempty" toml:"local_ratio_target"`
}

// FallbackEnabled reports whether failed local runs are retried remotely.
func (h HybridConfig) FallbackEnabled() bool {
	return h.AllowFallback == nil || *h.AllowFallback
}

// RouteTarget specifies an adapter and model combination.
type RouteTarget struct {
	Adapter string `yaml:"adapter" toml:"adapter"`
	Model   string `yaml:"model" toml:"model"`
}

// BackendsConfig binds the two execution substrates to adapters.
type BackendsConfig struct {
	Local  RouteTarget `yaml:"local" toml:"local"`
	Remote RouteTarget `yaml:"remote" toml:"remote"`
}

// WorkerConfig overrides per-kind behaviour.
type WorkerConfig struct {
	TimeoutMs   int    `yaml:"timeout_ms,omitempty" toml:"timeout_ms"`
	Disabled    bool   `yaml:"disabled,omitempty" toml:"disabled"`
	Mode        string `yaml:"mode,omitempty" toml:"mode"`
	LocalModel  string `yaml:"local_model,omitempty" toml:"local_model"`
	RemoteModel string `yaml:"remote_model,omitempty" toml:"remote_model"`
	MaxTokens   int    `yaml:"max_tokens,omitempty" toml:"max_tokens"`
}

// RetryConfig defines retry and backoff behavior for transient backend errors.
type RetryConfig struct {
	MaxRetries    int `yaml:"max_retries,omitempty" toml:"max_retries"`
	BaseBackoffMs int `yaml:"base_backoff_ms,omitempty" toml:"base_backoff_ms"`
	MaxBackoffMs  int `yaml:"max_backoff_ms,omitempty" toml:"max_backoff_ms"`
}

// RateLimitConfig caps calls to the remote backend.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty" toml:"requests_per_second"`
	Burst             int     `yaml:"burst,omitempty" toml:"burst"`
}

// PricingConfig maps adapter -> model -> pricing.
type PricingConfig map[string]map[string]ModelPricing

// ModelPricing defines per-1k token pricing.
type ModelPricing struct {
	PromptPer1K     float64 `yaml:"prompt_per_1k,omitempty" toml:"prompt_per_1k"`
	CompletionPer1K float64 `yaml:"completion_per_1k,omitempty" toml:"completion_per_1k"`
}

// BatchConfig selects and tunes the batch processor.
type BatchConfig struct {
	Processor   string `yaml:"processor,omitempty" toml:"processor"`
	Concurrency int    `yaml:"concurrency,omitempty" toml:"concurrency"`
	Model       string `yaml:"model,omitempty" toml:"model"`

	// Worker handles every document of an in-process batch; documents are
	// never routed by their own content.
	Worker string `yaml:"worker,omitempty" toml:"worker"`
}

// SessionConfig tunes session defaults and expiry.
type SessionConfig struct {
	DefaultVoice       string `yaml:"default_voice,omitempty" toml:"default_voice"`
	IdleTimeoutMinutes int    `yaml:"idle_timeout_minutes,omitempty" toml:"idle_timeout_minutes"`
	MaxAgeHours        int    `yaml:"max_age_hours,omitempty" toml:"max_age_hours"`
	SweepIntervalSec   int    `yaml:"sweep_interval_sec,omitempty" toml:"sweep_interval_sec"`
}

// SearchConfig bounds the context built from knowledge-base snippets.
type SearchConfig struct {
	MaxSnippets int `yaml:"max_snippets,omitempty" toml:"max_snippets"`
	MaxChars    int `yaml:"max_chars,omitempty" toml:"max_chars"`

	// Documents lists files or directories loaded into the in-memory
	// knowledge base at startup.
	Documents []string `yaml:"documents,omitempty" toml:"documents"`
}

// LoadRoutingConfig reads routing configuration from a YAML or TOML file.
func LoadRoutingConfig(path string) (*RoutingConfig, error) {
	var cfg RoutingConfig

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}

	applyRoutingDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid routing config %s: %w", path, err)
	}
	return &cfg, nil
}

// DefaultRoutingConfig returns the default routing configuration.
func DefaultRoutingConfig() *RoutingConfig {
	cfg := &RoutingConfig{
		Categories: map[string]Category{
			"debugging": {
				Triggers: []string{"debug", "bug", "stack trace", "traceback", "exception", "crash", "segfault"},
				Worker:   "code-debugger",
			},
			"test_generation": {
				Triggers: []string{"unit test", "unit tests", "test case", "test cases", "test suite", "write tests"},
				AllOf:    [][]string{{"test", "generate"}, {"tests", "generate"}},
				Worker:   "test-generator",
			},
			"code_repair": {
				Triggers: []string{"fix", "repair", "patch", "refactor"},
				Worker:   "code-repairer",
			},
			"code_analysis": {
				Triggers: []string{"code", "code review", "lint", "static analysis", "function", "codebase"},
				Worker:   "code-analyzer",
			},
			"performance": {
				Triggers: []string{"performance", "optimize", "latency", "bottleneck", "profiling", "throughput", "slow"},
				Worker:   "performance-analyst",
			},
			"research": {
				Triggers: []string{"research", "investigate", "sources", "literature", "look up", "find out"},
				Worker:   "researcher",
			},
			"coaching": {
				Triggers: []string{"coach", "coaching", "mentor", "career", "motivate", "feedback on my"},
				Worker:   "coach",
			},
			"image": {
				Triggers: []string{"image", "picture", "photo", "diagram", "illustration", "draw"},
				Worker:   "image-worker",
			},
			"audio": {
				Triggers: []string{"audio", "speech", "transcribe", "podcast", "voiceover"},
				Worker:   "audio-worker",
			},
			"planning": {
				Triggers: []string{"complex", "strategy", "roadmap", "business plan", "prioritize"},
				Worker:   "orchestrator",
			},
			"execution": {
				Triggers: []string{"implement", "execute", "draft", "write", "build", "create"},
				Worker:   "executor",
			},
		},
		DefaultWorker: "orchestrator",
		Backends: BackendsConfig{
			Local:  RouteTarget{Adapter: "ollama", Model: "llama3.2"},
			Remote: RouteTarget{Adapter: "anthropic", Model: "claude-sonnet-4-20250514"},
		},
		Workers: map[string]WorkerConfig{
			"image-worker": {TimeoutMs: 120000, Mode: "async"},
			"audio-worker": {TimeoutMs: 120000, Mode: "async"},
		},
		Pricing: PricingConfig{
			"anthropic": {
				"claude-sonnet-4-20250514": {PromptPer1K: 0.003, CompletionPer1K: 0.015},
				"claude-opus-4-20250514":   {PromptPer1K: 0.015, CompletionPer1K: 0.075},
			},
			"openai": {
				"gpt-4o":      {PromptPer1K: 0.0025, CompletionPer1K: 0.01},
				"gpt-4o-mini": {PromptPer1K: 0.00015, CompletionPer1K: 0.0006},
			},
			"deepseek": {
				"deepseek-chat": {PromptPer1K: 0.00027, CompletionPer1K: 0.0011},
			},
		},
		KindAliases: map[string]string{},
		ModelAliases: map[string]string{
			"fast":    "llama3.2",
			"quality": "claude-sonnet-4-20250514",
		},
	}

	applyRoutingDefaults(cfg)
	return cfg
}

func applyRoutingDefaults(cfg *RoutingConfig) {
	if cfg == nil {
		return
	}
	if cfg.DefaultWorker == "" {
		cfg.DefaultWorker = string(worker.KindOrchestrator)
	}
	if cfg.Tiers.Medium == 0 {
		cfg.Tiers.Medium = 0.4
	}
	if cfg.Tiers.High == 0 {
		cfg.Tiers.High = 0.7
	}
	if cfg.Hybrid.LocalThreshold == 0 {
		cfg.Hybrid.LocalThreshold = 0.5
	}
	if cfg.Hybrid.LocalRatioTarget == 0 {
		cfg.Hybrid.LocalRatioTarget = 0.8
	}
	if cfg.DefaultTimeoutMs == 0 {
		cfg.DefaultTimeoutMs = 60000
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry.MaxRetries = 2
	}
	if cfg.Retry.BaseBackoffMs == 0 {
		cfg.Retry.BaseBackoffMs = 200
	}
	if cfg.Retry.MaxBackoffMs == 0 {
		cfg.Retry.MaxBackoffMs = 2000
	}
	if cfg.Retry.MaxBackoffMs < cfg.Retry.BaseBackoffMs {
		cfg.Retry.MaxBackoffMs = cfg.Retry.BaseBackoffMs
	}
	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = 10
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 20
	}
	if cfg.Batch.Processor == "" {
		cfg.Batch.Processor = "local"
	}
	if cfg.Batch.Concurrency == 0 {
		cfg.Batch.Concurrency = 4
	}
	if cfg.Batch.Model == "" {
		cfg.Batch.Model = "gpt-4o"
	}
	if cfg.Batch.Worker == "" {
		cfg.Batch.Worker = string(worker.KindExecutor)
	}
	if cfg.Sessions.DefaultVoice == "" {
		cfg.Sessions.DefaultVoice = "nova"
	}
	if cfg.Sessions.IdleTimeoutMinutes == 0 {
		cfg.Sessions.IdleTimeoutMinutes = 30
	}
	if cfg.Sessions.MaxAgeHours == 0 {
		cfg.Sessions.MaxAgeHours = 24
	}
	if cfg.Sessions.SweepIntervalSec == 0 {
		cfg.Sessions.SweepIntervalSec = 60
	}
	if cfg.Search.MaxSnippets == 0 {
		cfg.Search.MaxSnippets = 5
	}
	if cfg.Search.MaxChars == 0 {
		cfg.Search.MaxChars = 4000
	}
}

// CategoryNames returns category names sorted for deterministic iteration.
func (c *RoutingConfig) CategoryNames() []string {
	names := make([]string, 0, len(c.Categories))
	for name := range c.Categories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate reports every structural problem in the configuration at once.
func (c *RoutingConfig) Validate() error {
	var errs []error

	if c.Tiers.Medium <= 0 || c.Tiers.High > 1 || c.Tiers.Medium >= c.Tiers.High {
		errs = append(errs, fmt.Errorf("tiers: need 0 < medium (%.2f) < high (%.2f) <= 1", c.Tiers.Medium, c.Tiers.High))
	}
	if c.Hybrid.LocalThreshold < 0 || c.Hybrid.LocalThreshold > 1 {
		errs = append(errs, fmt.Errorf("hybrid.local_threshold %.2f outside [0, 1]", c.Hybrid.LocalThreshold))
	}
	if c.Hybrid.LocalRatioTarget < 0 || c.Hybrid.LocalRatioTarget > 1 {
		errs = append(errs, fmt.Errorf("hybrid.local_ratio_target %.2f outside [0, 1]", c.Hybrid.LocalRatioTarget))
	}
	if c.Backends.Local.Adapter == "" {
		errs = append(errs, errors.New("backends.local.adapter is required"))
	}
	if c.Backends.Remote.Adapter == "" {
		errs = append(errs, errors.New("backends.remote.adapter is required"))
	}
	if c.DefaultTimeoutMs < 0 {
		errs = append(errs, errors.New("default_timeout_ms must not be negative"))
	}

	tr, err := c.Translator()
	if err != nil {
		errs = append(errs, fmt.Errorf("kind_aliases: %w", err))
	} else {
		if _, err := tr.Parse(c.DefaultWorker); err != nil {
			errs = append(errs, fmt.Errorf("default_worker: %w", err))
		}
		for _, name := range c.CategoryNames() {
			cat := c.Categories[name]
			if len(cat.Triggers) == 0 && len(cat.AllOf) == 0 {
				errs = append(errs, fmt.Errorf("category %s: no triggers", name))
			}
			if _, err := tr.Parse(cat.Worker); err != nil {
				errs = append(errs, fmt.Errorf("category %s: %w", name, err))
			}
		}
		if _, err := tr.Parse(c.Batch.Worker); err != nil {
			errs = append(errs, fmt.Errorf("batch.worker: %w", err))
		}
		for name, wc := range c.Workers {
			if _, err := tr.Parse(name); err != nil {
				errs = append(errs, fmt.Errorf("workers.%s: %w", name, err))
			}
			if wc.TimeoutMs < 0 {
				errs = append(errs, fmt.Errorf("workers.%s: timeout_ms must not be negative", name))
			}
			switch wc.Mode {
			case "", string(worker.ModeSync), string(worker.ModeAsync):
			default:
				errs = append(errs, fmt.Errorf("workers.%s: unknown mode %q", name, wc.Mode))
			}
		}
	}

	switch c.Batch.Processor {
	case "local", "openai":
	default:
		errs = append(errs, fmt.Errorf("batch.processor %q must be local or openai", c.Batch.Processor))
	}

	return errors.Join(errs...)
}
