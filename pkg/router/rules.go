package router

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zen-systems/agentgate/pkg/config"
	"github.com/zen-systems/agentgate/pkg/textmatch"
	"github.com/zen-systems/agentgate/pkg/worker"
)

// RuleSet contains the compiled routing rules for phrase matching.
type RuleSet struct {
	categories []compiledCategory
}

type compiledCategory struct {
	name     string
	kind     worker.Kind
	triggers []string
	allOf    [][]string
}

// NewRuleSet compiles the rule table, translating each category's worker
// string to a Kind exactly once.
func NewRuleSet(cfg *config.RoutingConfig, tr *worker.Translator) (*RuleSet, error) {
	rs := &RuleSet{}
	for _, name := range cfg.CategoryNames() {
		cat := cfg.Categories[name]
		kind, err := tr.Parse(cat.Worker)
		if err != nil {
			return nil, fmt.Errorf("category %s: %w", name, err)
		}
		cc := compiledCategory{name: name, kind: kind}
		for _, trig := range cat.Triggers {
			if t := strings.ToLower(strings.TrimSpace(trig)); t != "" {
				cc.triggers = append(cc.triggers, t)
			}
		}
		for _, group := range cat.AllOf {
			var words []string
			for _, w := range group {
				if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
					words = append(words, w)
				}
			}
			if len(words) > 0 {
				cc.allOf = append(cc.allOf, words)
			}
		}
		rs.categories = append(rs.categories, cc)
	}
	return rs, nil
}

// Kinds returns the distinct kinds the rule table can produce.
func (rs *RuleSet) Kinds() []worker.Kind {
	seen := make(map[worker.Kind]bool)
	var out []worker.Kind
	for _, c := range rs.categories {
		if !seen[c.kind] {
			seen[c.kind] = true
			out = append(out, c.kind)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Match scores every category against query. Candidates are ordered by
// score, then longest matched trigger, then category name.
func (rs *RuleSet) Match(query string) []Candidate {
	lower := strings.ToLower(query)

	var candidates []Candidate
	for _, c := range rs.categories {
		var matched []string
		longest := 0
		for _, trig := range c.triggers {
			if textmatch.ContainsPhrase(lower, trig) {
				matched = append(matched, trig)
				longest = max(longest, len(trig))
			}
		}
		for _, group := range c.allOf {
			if len(textmatch.Matches(lower, group)) == len(group) {
				label := strings.Join(group, "+")
				matched = append(matched, label)
				longest = max(longest, len(label))
			}
		}
		if len(matched) == 0 {
			continue
		}
		candidates = append(candidates, Candidate{
			Category: c.name,
			Kind:     c.kind,
			Score:    len(matched),
			Triggers: matched,
			longest:  longest,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.longest != b.longest {
			return a.longest > b.longest
		}
		return a.Category < b.Category
	})
	return candidates
}

// confidence follows the margin between the top two candidates.
func confidence(candidates []Candidate) float64 {
	if len(candidates) == 0 {
		return 0
	}
	topScore := candidates[0].Score
	secondScore := 0
	if len(candidates) > 1 {
		secondScore = candidates[1].Score
	}

	margin := float64(topScore-secondScore) / float64(max(topScore, 1))
	strength := float64(min(topScore, 5)) / 5.0
	c := 0.75*margin + 0.25*strength
	if topScore >= 2 && secondScore == 0 {
		c = max(c, 0.9)
	}
	if topScore >= 3 {
		c = min(c+0.15, 1.0)
	}
	return c
}
