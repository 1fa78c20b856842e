package jobs

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/zen-systems/agentgate/pkg/adapter"
	"github.com/zen-systems/agentgate/pkg/apperr"
	"github.com/zen-systems/agentgate/pkg/schema"
)

// RemoteBatch is the provider's view of a batch.
type RemoteBatch struct {
	Status       string
	Total        int
	Completed    int
	Failed       int
	OutputFileID string
	ErrorFileID  string
}

// BatchAPI is the subset of the provider's Files and Batches endpoints the
// processor needs.
type BatchAPI interface {
	Upload(ctx context.Context, filename string, jsonl []byte) (fileID string, err error)
	Create(ctx context.Context, inputFileID string) (batchID string, err error)
	Retrieve(ctx context.Context, batchID string) (RemoteBatch, error)
	Download(ctx context.Context, fileID string) ([]byte, error)
	Cancel(ctx context.Context, batchID string) error
}

type openAIBatchAPI struct {
	client openai.Client
}

// NewOpenAIBatchAPI returns a BatchAPI backed by the OpenAI SDK.
func NewOpenAIBatchAPI(apiKey string, opts ...option.RequestOption) (BatchAPI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &openAIBatchAPI{client: openai.NewClient(opts...)}, nil
}

func (a *openAIBatchAPI) Upload(ctx context.Context, filename string, jsonl []byte) (string, error) {
	f, err := a.client.Files.New(ctx, openai.FileNewParams{
		File:    openai.File(bytes.NewReader(jsonl), filename, "application/jsonl"),
		Purpose: openai.FilePurposeBatch,
	})
	if err != nil {
		return "", err
	}
	return f.ID, nil
}

func (a *openAIBatchAPI) Create(ctx context.Context, inputFileID string) (string, error) {
	b, err := a.client.Batches.New(ctx, openai.BatchNewParams{
		CompletionWindow: openai.BatchNewParamsCompletionWindow24h,
		Endpoint:         openai.BatchNewParamsEndpointV1ChatCompletions,
		InputFileID:      inputFileID,
	})
	if err != nil {
		return "", err
	}
	return b.ID, nil
}

func (a *openAIBatchAPI) Retrieve(ctx context.Context, batchID string) (RemoteBatch, error) {
	b, err := a.client.Batches.Get(ctx, batchID)
	if err != nil {
		return RemoteBatch{}, err
	}
	return RemoteBatch{
		Status:       string(b.Status),
		Total:        int(b.RequestCounts.Total),
		Completed:    int(b.RequestCounts.Completed),
		Failed:       int(b.RequestCounts.Failed),
		OutputFileID: b.OutputFileID,
		ErrorFileID:  b.ErrorFileID,
	}, nil
}

func (a *openAIBatchAPI) Download(ctx context.Context, fileID string) ([]byte, error) {
	resp, err := a.client.Files.Content(ctx, fileID)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (a *openAIBatchAPI) Cancel(ctx context.Context, batchID string) error {
	_, err := a.client.Batches.Cancel(ctx, batchID)
	return err
}

// OpenAIBatchProcessor runs batches through the provider's asynchronous batch
// endpoint: one JSONL line per document.
type OpenAIBatchProcessor struct {
	api       BatchAPI
	model     string
	maxTokens int
	logger    *slog.Logger

	mu    sync.Mutex
	items map[string][]Item
}

// NewOpenAIBatchProcessor creates a processor using model for every document.
func NewOpenAIBatchProcessor(api BatchAPI, model string, logger *slog.Logger) *OpenAIBatchProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIBatchProcessor{
		api:       api,
		model:     model,
		maxTokens: 1000,
		logger:    logger.With("component", "openai_processor"),
		items:     make(map[string][]Item),
	}
}

func (p *OpenAIBatchProcessor) Name() string { return "openai" }

type batchLine struct {
	CustomID string        `json:"custom_id"`
	Method   string        `json:"method"`
	URL      string        `json:"url"`
	Body     batchLineBody `json:"body"`
}

type batchLineBody struct {
	Model       string        `json:"model"`
	Messages    []lineMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type lineMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// EncodeJSONL renders sub as batch input lines.
func (p *OpenAIBatchProcessor) EncodeJSONL(sub Submission) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, item := range sub.Items {
		line := batchLine{
			CustomID: item.CustomID,
			Method:   "POST",
			URL:      "/v1/chat/completions",
			Body: batchLineBody{
				Model: p.model,
				Messages: []lineMessage{
					{Role: "system", Content: "You are a document processor. Task: " + sub.TaskPrompt},
					{Role: "user", Content: item.Prompt},
				},
				MaxTokens:   p.maxTokens,
				Temperature: 0.3,
			},
		}
		if err := enc.Encode(line); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// Start uploads the input file and creates the remote batch.
func (p *OpenAIBatchProcessor) Start(ctx context.Context, sub Submission) (string, error) {
	data, err := p.EncodeJSONL(sub)
	if err != nil {
		return "", apperr.Internal("encode batch input", err)
	}
	fileID, err := p.api.Upload(ctx, sub.BatchID+".jsonl", data)
	if err != nil {
		return "", apperr.WorkerError("upload batch input", err)
	}
	remoteID, err := p.api.Create(ctx, fileID)
	if err != nil {
		return "", apperr.WorkerError("create remote batch", err)
	}

	p.mu.Lock()
	p.items[remoteID] = sub.Items
	p.mu.Unlock()

	p.logger.Info("remote batch created", "batch_id", sub.BatchID, "remote_id", remoteID, "documents", len(sub.Items))
	return remoteID, nil
}

// Poll maps the remote status onto a RunState.
func (p *OpenAIBatchProcessor) Poll(ctx context.Context, handle string) (Progress, error) {
	rb, err := p.api.Retrieve(ctx, handle)
	if err != nil {
		return Progress{}, apperr.WorkerError("retrieve remote batch", err)
	}
	prog := Progress{State: RunRunning, Total: rb.Total, Completed: rb.Completed, Failed: rb.Failed}
	switch rb.Status {
	case "completed":
		prog.State = RunDone
	case "failed", "expired", "cancelled":
		prog.State = RunFailed
		prog.Err = "remote batch " + rb.Status
	}
	return prog, nil
}

type outputLine struct {
	CustomID string `json:"custom_id"`
	Response *struct {
		StatusCode int `json:"status_code"`
		Body       struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
			Usage *adapter.Usage `json:"usage"`
		} `json:"body"`
	} `json:"response"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Collect downloads the output and error files and returns one result per
// submitted document, in submission order.
func (p *OpenAIBatchProcessor) Collect(ctx context.Context, handle string) ([]schema.DocumentResult, error) {
	p.mu.Lock()
	items, ok := p.items[handle]
	p.mu.Unlock()
	if !ok {
		return nil, apperr.JobNotFound(fmt.Sprintf("no remote batch %s", handle))
	}

	rb, err := p.api.Retrieve(ctx, handle)
	if err != nil {
		return nil, apperr.WorkerError("retrieve remote batch", err)
	}

	lines := make(map[string]outputLine)
	for _, fileID := range []string{rb.OutputFileID, rb.ErrorFileID} {
		if fileID == "" {
			continue
		}
		data, err := p.api.Download(ctx, fileID)
		if err != nil {
			return nil, apperr.WorkerError("download batch output", err)
		}
		if err := parseOutput(data, lines); err != nil {
			return nil, apperr.WorkerError("parse batch output", err)
		}
	}

	results := make([]schema.DocumentResult, len(items))
	for i, item := range items {
		res := schema.DocumentResult{CustomID: item.CustomID, DocumentIndex: item.Index, Title: item.Title, Status: schema.DocumentFailed}
		line, ok := lines[item.CustomID]
		switch {
		case !ok:
			res.Error = "no output for document"
		case line.Error != nil:
			res.Error = line.Error.Message
		case line.Response == nil || line.Response.StatusCode != 200:
			res.Error = "request failed"
			if line.Response != nil {
				res.Error = fmt.Sprintf("request failed with status %d", line.Response.StatusCode)
			}
		case len(line.Response.Body.Choices) == 0 || line.Response.Body.Choices[0].Message.Content == "":
			res.Error = adapter.ErrEmptyResponse.Error()
		default:
			res.Status = schema.DocumentSucceeded
			res.Output = line.Response.Body.Choices[0].Message.Content
			if u := line.Response.Body.Usage; u != nil {
				n := u.Normalize()
				res.Usage = &n
			}
		}
		results[i] = res
	}

	p.mu.Lock()
	delete(p.items, handle)
	p.mu.Unlock()
	return results, nil
}

func parseOutput(data []byte, into map[string]outputLine) error {
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var line outputLine
		if err := json.Unmarshal(raw, &line); err != nil {
			return err
		}
		into[line.CustomID] = line
	}
	return sc.Err()
}

// Cancel asks the provider to stop the batch.
func (p *OpenAIBatchProcessor) Cancel(ctx context.Context, handle string) error {
	p.mu.Lock()
	delete(p.items, handle)
	p.mu.Unlock()
	if err := p.api.Cancel(ctx, handle); err != nil {
		return apperr.WorkerError("cancel remote batch", err)
	}
	return nil
}
