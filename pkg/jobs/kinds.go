package jobs

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zen-systems/agentgate/pkg/apperr"
	"github.com/zen-systems/agentgate/pkg/worker"
)

// ProcessingKind names what a batch does to each document.
type ProcessingKind string

const (
	KindSummarize         ProcessingKind = "summarize"
	KindExtractKeywords   ProcessingKind = "extract_keywords"
	KindSentimentAnalysis ProcessingKind = "sentiment_analysis"
	KindQuestions         ProcessingKind = "questions"
	KindCustom            ProcessingKind = "custom"
)

var taskPrompts = map[ProcessingKind]string{
	KindSummarize:         "Summarize this document concisely, highlighting key points.",
	KindExtractKeywords:   "Extract the main keywords and topics from this document.",
	KindSentimentAnalysis: "Analyze the sentiment and tone of this document.",
	KindQuestions:         "Generate relevant questions based on this document content.",
}

// ProcessingKinds lists the supported kinds sorted by name.
func ProcessingKinds() []ProcessingKind {
	out := []ProcessingKind{KindCustom}
	for k := range taskPrompts {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseProcessingKind accepts any casing and separator style.
func ParseProcessingKind(raw string) (ProcessingKind, error) {
	c := worker.Canonicalize(raw)
	if c == "" {
		return "", apperr.InvalidArgument("processing_kind is required")
	}
	for _, k := range ProcessingKinds() {
		if worker.Canonicalize(string(k)) == c {
			return k, nil
		}
	}
	return "", apperr.InvalidArgument(fmt.Sprintf("unknown processing_kind %q", raw))
}

// TaskPrompt returns the per-document instruction. Custom batches must carry
// their own instructions.
func TaskPrompt(kind ProcessingKind, instructions string) (string, error) {
	instructions = strings.TrimSpace(instructions)
	if kind == KindCustom {
		if instructions == "" {
			return "", apperr.InvalidArgument("processing_kind custom requires instructions")
		}
		return instructions, nil
	}
	p := taskPrompts[kind]
	if instructions != "" {
		p += "\n" + instructions
	}
	return p, nil
}
