package complexity

import (
	"strings"
	"testing"

	"github.com/zen-systems/agentgate/pkg/schema"
)

func TestScoreReferenceQueries(t *testing.T) {
	a := NewAnalyzer(Config{})

	simple := a.Score(schema.Request{Query: "What is the weather today?"})
	if simple.Value >= 0.5 {
		t.Fatalf("simple query scored %.2f, want < 0.5 (%+v)", simple.Value, simple)
	}

	hard := a.Score(schema.Request{Query: "Analyze the complex relationship between customer satisfaction and revenue trends across multiple business units"})
	if hard.Value <= 0.5 {
		t.Fatalf("complex query scored %.2f, want > 0.5 (%+v)", hard.Value, hard)
	}
}

func TestScoreBounds(t *testing.T) {
	a := NewAnalyzer(Config{})
	long := strings.Repeat("analyze compare strategy relationship across multiple ", 40)

	queries := []schema.Request{
		{Query: ""},
		{Query: "   "},
		{Query: "list"},
		{Query: "Why " + long + "?", Context: strings.Repeat("x", 10000)},
		{Query: "show list define what is name"},
	}
	for _, q := range queries {
		s := a.Score(q)
		if s.Value < 0 || s.Value > 1 {
			t.Fatalf("score %.3f out of bounds for %q", s.Value, q.Query)
		}
		if s.Length > 0.3 {
			t.Fatalf("length signal %.3f exceeds cap", s.Length)
		}
		if s.Pattern < 0 {
			t.Fatalf("pattern signal %.3f below floor", s.Pattern)
		}
	}
}

func TestInterrogativeSignal(t *testing.T) {
	a := NewAnalyzer(Config{})
	tests := []struct {
		query string
		want  float64
	}{
		{"Why does the cache miss?", 0.2},
		{"how do I rotate keys", 0.2},
		{"Where is the config file?", 0.1},
		{"Can you explain how the scheduler works?", 0.2},
		{"Rotate the keys", 0},
	}
	for _, tt := range tests {
		if got := a.Score(schema.Request{Query: tt.query}).Interrogative; got != tt.want {
			t.Errorf("interrogative(%q) = %.2f, want %.2f", tt.query, got, tt.want)
		}
	}
}

func TestContextSignal(t *testing.T) {
	a := NewAnalyzer(Config{ContextThreshold: 10})
	small := a.Score(schema.Request{Query: "summarize", Context: "short"})
	if small.Context != 0 {
		t.Fatalf("small context should not contribute, got %.2f", small.Context)
	}
	big := a.Score(schema.Request{Query: "summarize", Context: strings.Repeat("word ", 20)})
	if big.Context != 0.15 {
		t.Fatalf("large context contribution = %.2f, want 0.15", big.Context)
	}
}

func TestScoreDeterministic(t *testing.T) {
	a := NewAnalyzer(Config{})
	req := schema.Request{Query: "Compare the pros and cons of two caching strategies", Context: "ctx"}
	first := a.Score(req)
	for i := 0; i < 10; i++ {
		if got := a.Score(req); got.Value != first.Value {
			t.Fatalf("non-deterministic score: %.4f vs %.4f", got.Value, first.Value)
		}
	}
}

func TestSimplePatternsFloorAtZero(t *testing.T) {
	a := NewAnalyzer(Config{})
	s := a.Score(schema.Request{Query: "list show define"})
	if s.Pattern != 0 {
		t.Fatalf("pattern signal = %.2f, want floor 0", s.Pattern)
	}
	if len(s.Simple) != 3 {
		t.Fatalf("simple matches = %v", s.Simple)
	}
}
