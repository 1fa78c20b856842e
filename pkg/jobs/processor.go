package jobs

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/zen-systems/agentgate/pkg/schema"
)

// Item is one document prepared for processing.
type Item struct {
	CustomID string
	Index    int
	Title    string
	Prompt   string
}

// Submission is everything a processor needs to run a batch.
type Submission struct {
	BatchID    string
	Kind       ProcessingKind
	TaskPrompt string
	Items      []Item
}

// RunState is a processor's view of a run.
type RunState string

const (
	RunRunning RunState = "running"
	RunDone    RunState = "done"
	RunFailed  RunState = "failed"
)

// Progress is reported by Poll.
type Progress struct {
	State     RunState
	Total     int
	Completed int
	Failed    int
	Err       string
}

// Processor executes batches in the background. Start must return without
// waiting for the documents; Collect is called once, after Poll reports done.
type Processor interface {
	Name() string
	Start(ctx context.Context, sub Submission) (handle string, err error)
	Poll(ctx context.Context, handle string) (Progress, error)
	Collect(ctx context.Context, handle string) ([]schema.DocumentResult, error)
	Cancel(ctx context.Context, handle string) error
}

// NewItems tags documents with custom ids of the form doc-{index}-{8 hex}.
func NewItems(docs []schema.Document) []Item {
	items := make([]Item, len(docs))
	for i, d := range docs {
		title := d.Title
		if title == "" {
			title = "Untitled"
		}
		items[i] = Item{
			CustomID: fmt.Sprintf("doc-%d-%s", i, uuid.NewString()[:8]),
			Index:    i,
			Title:    d.Title,
			Prompt:   fmt.Sprintf("Document title: %s\n\nContent: %s", title, d.Content),
		}
	}
	return items
}
