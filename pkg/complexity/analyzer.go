// Package complexity scores how hard a request is from cheap lexical signals.
// Scoring is pure and deterministic; it never calls a model.
package complexity

import (
	"math"
	"strings"

	"github.com/zen-systems/agentgate/pkg/schema"
	"github.com/zen-systems/agentgate/pkg/textmatch"
)

// Config tunes the signal weights. Zero fields take defaults.
type Config struct {
	LengthCap        float64  `yaml:"length_cap,omitempty" toml:"length_cap,omitempty"`
	LengthPerWord    float64  `yaml:"length_per_word,omitempty" toml:"length_per_word,omitempty"`
	PatternCap       float64  `yaml:"pattern_cap,omitempty" toml:"pattern_cap,omitempty"`
	ComplexWeight    float64  `yaml:"complex_weight,omitempty" toml:"complex_weight,omitempty"`
	SimpleWeight     float64  `yaml:"simple_weight,omitempty" toml:"simple_weight,omitempty"`
	ComplexPatterns  []string `yaml:"complex_patterns,omitempty" toml:"complex_patterns,omitempty"`
	SimplePatterns   []string `yaml:"simple_patterns,omitempty" toml:"simple_patterns,omitempty"`
	WhyHowWeight     float64  `yaml:"why_how_weight,omitempty" toml:"why_how_weight,omitempty"`
	OtherWhWeight    float64  `yaml:"other_wh_weight,omitempty" toml:"other_wh_weight,omitempty"`
	ContextThreshold int      `yaml:"context_token_threshold,omitempty" toml:"context_token_threshold,omitempty"`
	ContextWeight    float64  `yaml:"context_weight,omitempty" toml:"context_weight,omitempty"`
}

// DefaultComplexPatterns indicate multi-step reasoning.
var DefaultComplexPatterns = []string{
	"analyze", "analyse", "analysis", "compare", "comparison", "relationship", "relationships",
	"strategy", "strategic", "evaluate", "evaluation", "complex", "multiple", "across",
	"trade-off", "trade-offs", "tradeoff", "implications", "optimize", "architecture",
	"correlation", "impact", "comprehensive", "in-depth", "step by step", "pros and cons",
	"root cause", "design",
}

// DefaultSimplePatterns indicate lookups and listings.
var DefaultSimplePatterns = []string{
	"what is", "list", "show", "define", "who is", "when is", "name", "hello", "thanks",
}

// DefaultConfig returns the stock weights.
func DefaultConfig() Config {
	return Config{
		LengthCap:        0.3,
		LengthPerWord:    0.01,
		PatternCap:       0.45,
		ComplexWeight:    0.1,
		SimpleWeight:     0.1,
		ComplexPatterns:  DefaultComplexPatterns,
		SimplePatterns:   DefaultSimplePatterns,
		WhyHowWeight:     0.2,
		OtherWhWeight:    0.1,
		ContextThreshold: 500,
		ContextWeight:    0.15,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.LengthCap <= 0 {
		c.LengthCap = d.LengthCap
	}
	if c.LengthPerWord <= 0 {
		c.LengthPerWord = d.LengthPerWord
	}
	if c.PatternCap <= 0 {
		c.PatternCap = d.PatternCap
	}
	if c.ComplexWeight <= 0 {
		c.ComplexWeight = d.ComplexWeight
	}
	if c.SimpleWeight <= 0 {
		c.SimpleWeight = d.SimpleWeight
	}
	if len(c.ComplexPatterns) == 0 {
		c.ComplexPatterns = d.ComplexPatterns
	}
	if len(c.SimplePatterns) == 0 {
		c.SimplePatterns = d.SimplePatterns
	}
	if c.WhyHowWeight <= 0 {
		c.WhyHowWeight = d.WhyHowWeight
	}
	if c.OtherWhWeight <= 0 {
		c.OtherWhWeight = d.OtherWhWeight
	}
	if c.ContextThreshold <= 0 {
		c.ContextThreshold = d.ContextThreshold
	}
	if c.ContextWeight <= 0 {
		c.ContextWeight = d.ContextWeight
	}
	return c
}

// Score is a difficulty estimate in [0, 1] with the signals that produced it.
type Score struct {
	Value         float64  `json:"value"`
	Length        float64  `json:"length"`
	Pattern       float64  `json:"pattern"`
	Interrogative float64  `json:"interrogative"`
	Context       float64  `json:"context"`
	Words         int      `json:"words"`
	ContextTokens int      `json:"context_tokens"`
	Complex       []string `json:"complex_patterns,omitempty"`
	Simple        []string `json:"simple_patterns,omitempty"`
}

// Analyzer computes complexity scores.
type Analyzer struct {
	cfg     Config
	complex []string
	simple  []string
}

// NewAnalyzer creates an analyzer; zero config fields take defaults.
func NewAnalyzer(cfg Config) *Analyzer {
	cfg = cfg.withDefaults()
	return &Analyzer{
		cfg:     cfg,
		complex: lowerAll(cfg.ComplexPatterns),
		simple:  lowerAll(cfg.SimplePatterns),
	}
}

// Score combines the length, pattern, interrogative and context signals.
func (a *Analyzer) Score(req schema.Request) Score {
	query := strings.ToLower(strings.TrimSpace(req.Query))
	words := textmatch.Words(query)

	s := Score{Words: len(words)}
	s.Length = math.Min(float64(len(words))*a.cfg.LengthPerWord, a.cfg.LengthCap)

	s.Complex = textmatch.Matches(query, a.complex)
	s.Simple = textmatch.Matches(query, a.simple)
	net := float64(len(s.Complex))*a.cfg.ComplexWeight - float64(len(s.Simple))*a.cfg.SimpleWeight
	s.Pattern = clamp(net, 0, a.cfg.PatternCap)

	s.Interrogative = a.interrogative(query, words)

	s.ContextTokens = EstimateTokens(req.Context)
	if s.ContextTokens > a.cfg.ContextThreshold {
		s.Context = a.cfg.ContextWeight
	}

	s.Value = clamp(s.Length+s.Pattern+s.Interrogative+s.Context, 0, 1)
	return s
}

func (a *Analyzer) interrogative(query string, words []string) float64 {
	if len(words) == 0 {
		return 0
	}
	switch words[0] {
	case "why", "how":
		return a.cfg.WhyHowWeight
	case "what", "when", "where", "who", "whom", "whose", "which":
		return a.cfg.OtherWhWeight
	}
	// "Can you explain why ...?" style questions.
	if strings.HasSuffix(query, "?") {
		for _, w := range words[1:] {
			if w == "why" || w == "how" {
				return a.cfg.WhyHowWeight
			}
		}
	}
	return 0
}

// EstimateTokens approximates a token count at four characters per token.
func EstimateTokens(text string) int {
	n := len(strings.TrimSpace(text))
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
