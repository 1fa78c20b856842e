package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/zen-systems/agentgate/pkg/textmatch"
)

// Entry is a document held by a MemorySource.
type Entry struct {
	ID   string
	Text string
}

// MemorySource is a keyword-overlap source over entries held in memory.
type MemorySource struct {
	mu       sync.RWMutex
	name     string
	entries  []Entry
	maxItems int
	nextID   int
}

// MemoryOption configures a MemorySource.
type MemoryOption func(*MemorySource)

// WithMaxItems caps stored entries; the oldest are dropped first.
func WithMaxItems(n int) MemoryOption {
	return func(m *MemorySource) {
		m.maxItems = n
	}
}

// WithName overrides the source name.
func WithName(name string) MemoryOption {
	return func(m *MemorySource) {
		m.name = name
	}
}

// NewMemorySource creates an empty memory source.
func NewMemorySource(opts ...MemoryOption) *MemorySource {
	m := &MemorySource{name: "memory", maxItems: 1000}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemorySource) Name() string { return m.name }

// Add stores text and returns its id.
func (m *MemorySource) Add(text string) string {
	return m.AddRef("", text)
}

// AddRef stores text under ref, such as the file it came from. An empty ref
// gets a generated id.
func (m *MemorySource) AddRef(ref, text string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := ref
	if id == "" {
		id = fmt.Sprintf("mem_%d", m.nextID)
	}
	m.entries = append(m.entries, Entry{ID: id, Text: text})
	if m.maxItems > 0 && len(m.entries) > m.maxItems {
		m.entries = m.entries[len(m.entries)-m.maxItems:]
	}
	return id
}

// Len returns the number of stored entries.
func (m *MemorySource) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Search scores entries by the share of query words they contain.
func (m *MemorySource) Search(ctx context.Context, query string, limit int) ([]Snippet, error) {
	words := keywords(query)
	if len(words) == 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Snippet
	for _, e := range m.entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text := strings.ToLower(e.Text)
		hits := 0
		for _, w := range words {
			if textmatch.ContainsPhrase(text, w) {
				hits++
			}
		}
		score := float64(hits) / float64(len(words))
		if score > 0.1 {
			out = append(out, Snippet{Text: e.Text, Source: m.name, Ref: e.ID, Score: score})
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true, "be": true,
	"by": true, "for": true, "from": true, "how": true, "in": true, "is": true, "it": true,
	"of": true, "on": true, "or": true, "that": true, "the": true, "this": true, "to": true,
	"was": true, "what": true, "when": true, "where": true, "which": true, "who": true,
	"why": true, "with": true,
}

func keywords(query string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, w := range textmatch.Words(query) {
		if len(w) < 3 || stopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}
