package search

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource struct {
	name     string
	snippets []Snippet
	err      error
}

func (s staticSource) Name() string { return s.name }

func (s staticSource) Search(context.Context, string, int) ([]Snippet, error) {
	return s.snippets, s.err
}

func TestMemorySourceRanksByKeywordOverlap(t *testing.T) {
	m := NewMemorySource()
	m.Add("Quarterly revenue grew in the retail segment.")
	m.Add("Revenue and customer satisfaction both rose in the retail segment.")
	m.Add("The cafeteria menu changes on Mondays.")

	got, err := m.Search(context.Background(), "customer satisfaction and revenue", 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "mem_2", got[0].Ref)
	assert.InDelta(t, 1.0, got[0].Score, 0.001)
	assert.Equal(t, "memory", got[0].Source)
}

func TestMemorySourceCapsEntries(t *testing.T) {
	m := NewMemorySource(WithMaxItems(2), WithName("notes"))
	m.Add("alpha report")
	m.Add("beta report")
	m.Add("gamma report")
	assert.Equal(t, 2, m.Len())

	got, err := m.Search(context.Background(), "alpha", 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRegistryMergesAndSkipsFailures(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(staticSource{name: "a", snippets: []Snippet{{Text: "low", Source: "a", Score: 0.2}}})
	r.Register(staticSource{name: "b", snippets: []Snippet{{Text: "high", Source: "b", Score: 0.9}}})
	r.Register(staticSource{name: "broken", err: errors.New("offline")})

	got, err := r.Search(context.Background(), "q", 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "high", got[0].Text)

	got, err = r.Search(context.Background(), "q", 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestRegistryAllSourcesFail(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(staticSource{name: "broken", err: errors.New("offline")})

	_, err := r.Search(context.Background(), "q", 5)
	assert.ErrorContains(t, err, "offline")

	empty := NewRegistry(nil)
	got, err := empty.Search(context.Background(), "q", 5)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestBuildContext(t *testing.T) {
	snips := []Snippet{
		{Text: "first fact", Source: "memory", Ref: "mem_1"},
		{Text: "second fact", Source: "vector_store", Ref: "guide.pdf"},
		{Text: "third fact", Source: "memory"},
	}

	got := BuildContext(snips, 2, 0)
	assert.Equal(t, "[1] memory: mem_1\nfirst fact\n\n[2] vector_store: guide.pdf\nsecond fact", got)

	short := BuildContext(snips, 0, 30)
	assert.LessOrEqual(t, len(short), 30)
	assert.True(t, strings.HasPrefix(short, "[1] memory: mem_1"))

	assert.Empty(t, BuildContext(nil, 5, 100))
}

func TestMemorySourceLoadPaths(t *testing.T) {
	dir := t.TempDir()
	write := func(rel, text string) string {
		path := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
		return path
	}
	faq := write("faq.md", "Refunds are issued within five business days.")
	write("nested/policy.txt", "Shipping is free for orders over fifty euros.")
	write("nested/empty.txt", "   ")
	write("image.png", "not text")
	write(".git/config.yaml", "hidden: true")
	single := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(single, []byte("Support hours are nine to five."), 0o644))

	m := NewMemorySource()
	n, err := m.LoadPaths(context.Background(), []string{dir, single})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, m.Len())

	got, err := m.Search(context.Background(), "when are refunds issued", 5)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, faq, got[0].Ref)

	_, err = m.LoadPaths(context.Background(), []string{filepath.Join(dir, "missing")})
	assert.Error(t, err)
}
