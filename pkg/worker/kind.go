package worker

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/zen-systems/agentgate/pkg/apperr"
)

// Kind identifies a specialized worker. The set is closed; new kinds require a redeploy.
type Kind string

const (
	KindOrchestrator       Kind = "orchestrator"
	KindExecutor           Kind = "executor"
	KindResearcher         Kind = "researcher"
	KindPerformanceAnalyst Kind = "performance-analyst"
	KindCoach              Kind = "coach"
	KindCodeAnalyzer       Kind = "code-analyzer"
	KindCodeDebugger       Kind = "code-debugger"
	KindCodeRepairer       Kind = "code-repairer"
	KindTestGenerator      Kind = "test-generator"
	KindImageWorker        Kind = "image-worker"
	KindAudioWorker        Kind = "audio-worker"
)

var allKinds = []Kind{
	KindOrchestrator,
	KindExecutor,
	KindResearcher,
	KindPerformanceAnalyst,
	KindCoach,
	KindCodeAnalyzer,
	KindCodeDebugger,
	KindCodeRepairer,
	KindTestGenerator,
	KindImageWorker,
	KindAudioWorker,
}

// builtinAliases maps external names used by older clients onto kinds.
var builtinAliases = map[string]Kind{
	"ceo":              KindOrchestrator,
	"business-advisor": KindOrchestrator,
	"triage":           KindOrchestrator,
	"research":         KindResearcher,
	"performance":      KindPerformanceAnalyst,
	"coaching":         KindCoach,
	"code-repair":      KindCodeRepairer,
	"debugger":         KindCodeDebugger,
	"tests":            KindTestGenerator,
	"image":            KindImageWorker,
	"audio":            KindAudioWorker,
}

// Kinds returns every known worker kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, len(allKinds))
	copy(out, allKinds)
	return out
}

// Valid reports whether k is a member of the closed enumeration.
func (k Kind) Valid() bool {
	for _, known := range allKinds {
		if k == known {
			return true
		}
	}
	return false
}

func (k Kind) String() string {
	return string(k)
}

var folder = cases.Fold()

// Canonicalize normalizes an external name: NFKC, case folded, trimmed, and with
// spaces, underscores and dots collapsed into single hyphens.
func Canonicalize(raw string) string {
	s := norm.NFKC.String(raw)
	s = folder.String(strings.TrimSpace(s))

	var b strings.Builder
	lastHyphen := false
	for _, r := range s {
		switch r {
		case ' ', '\t', '_', '.', '-':
			if !lastHyphen && b.Len() > 0 {
				b.WriteByte('-')
				lastHyphen = true
			}
		default:
			b.WriteRune(r)
			lastHyphen = false
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// Translator is the single place external kind names become Kind values.
type Translator struct {
	aliases map[string]Kind
}

// NewTranslator builds a translator with the builtin aliases plus extra
// alias -> kind pairs. An alias pointing at an unknown kind is an error.
func NewTranslator(extra map[string]string) (*Translator, error) {
	t := &Translator{aliases: make(map[string]Kind, len(builtinAliases)+len(extra))}
	for alias, kind := range builtinAliases {
		t.aliases[alias] = kind
	}

	names := make([]string, 0, len(extra))
	for alias := range extra {
		names = append(names, alias)
	}
	sort.Strings(names)

	for _, alias := range names {
		target := Kind(Canonicalize(extra[alias]))
		if mapped, ok := t.aliases[string(target)]; ok {
			target = mapped
		}
		if !target.Valid() {
			return nil, fmt.Errorf("alias %q points at unknown worker kind %q", alias, extra[alias])
		}
		t.aliases[Canonicalize(alias)] = target
	}
	return t, nil
}

// Parse translates raw into a Kind. Unknown or empty names are ambiguous requests.
func (t *Translator) Parse(raw string) (Kind, error) {
	c := Canonicalize(raw)
	if c == "" {
		return "", apperr.AmbiguousRequest("worker kind is empty")
	}
	if k := Kind(c); k.Valid() {
		return k, nil
	}
	if t != nil {
		if k, ok := t.aliases[c]; ok {
			return k, nil
		}
	}
	return "", apperr.AmbiguousRequest(fmt.Sprintf("unknown worker kind %q", raw))
}

var defaultTranslator, _ = NewTranslator(nil)

// ParseKind translates raw using only the builtin aliases.
func ParseKind(raw string) (Kind, error) {
	return defaultTranslator.Parse(raw)
}
