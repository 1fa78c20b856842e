package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/zen-systems/agentgate/pkg/worker"
)

// Translator builds the canonical worker-kind translator including configured aliases.
func (c *RoutingConfig) Translator() (*worker.Translator, error) {
	return worker.NewTranslator(c.KindAliases)
}

// ResolveModel maps a model alias to its canonical name; unknown names pass through.
func (c *RoutingConfig) ResolveModel(model string) string {
	if c == nil || c.ModelAliases == nil {
		return model
	}
	if canonical, ok := c.ModelAliases[model]; ok {
		return canonical
	}
	return model
}

// WorkerSettings returns the per-kind overrides, keyed by canonical kind.
func (c *RoutingConfig) WorkerSettings() (map[worker.Kind]WorkerConfig, error) {
	tr, err := c.Translator()
	if err != nil {
		return nil, err
	}
	out := make(map[worker.Kind]WorkerConfig, len(c.Workers))
	names := make([]string, 0, len(c.Workers))
	for name := range c.Workers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		kind, err := tr.Parse(name)
		if err != nil {
			return nil, fmt.Errorf("workers.%s: %w", name, err)
		}
		out[kind] = c.Workers[name]
	}
	return out, nil
}

// Timeout returns the configured timeout for kind, or the default.
func (c *RoutingConfig) Timeout(settings map[worker.Kind]WorkerConfig, kind worker.Kind) time.Duration {
	if wc, ok := settings[kind]; ok && wc.TimeoutMs > 0 {
		return time.Duration(wc.TimeoutMs) * time.Millisecond
	}
	return time.Duration(c.DefaultTimeoutMs) * time.Millisecond
}

// RuleKinds lists every kind the rule table can produce, the default included.
func (c *RoutingConfig) RuleKinds() ([]worker.Kind, error) {
	tr, err := c.Translator()
	if err != nil {
		return nil, err
	}
	seen := make(map[worker.Kind]bool)
	var kinds []worker.Kind

	add := func(raw string) error {
		k, err := tr.Parse(raw)
		if err != nil {
			return err
		}
		if !seen[k] {
			seen[k] = true
			kinds = append(kinds, k)
		}
		return nil
	}

	if err := add(c.DefaultWorker); err != nil {
		return nil, fmt.Errorf("default_worker: %w", err)
	}
	for _, name := range c.CategoryNames() {
		if err := add(c.Categories[name].Worker); err != nil {
			return nil, fmt.Errorf("category %s: %w", name, err)
		}
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds, nil
}
