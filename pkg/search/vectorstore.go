package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// VectorStoreSource searches an OpenAI vector store.
type VectorStoreSource struct {
	client  openai.Client
	storeID string
}

// NewVectorStoreSource creates a source over the vector store storeID.
func NewVectorStoreSource(apiKey, storeID string, opts ...option.RequestOption) (*VectorStoreSource, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	if storeID == "" {
		return nil, fmt.Errorf("vector store id is required")
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &VectorStoreSource{client: openai.NewClient(opts...), storeID: storeID}, nil
}

func (v *VectorStoreSource) Name() string { return "vector_store" }

func (v *VectorStoreSource) Search(ctx context.Context, query string, limit int) ([]Snippet, error) {
	params := openai.VectorStoreSearchParams{
		Query: openai.VectorStoreSearchParamsQueryUnion{OfString: openai.String(query)},
	}
	if limit > 0 {
		params.MaxNumResults = openai.Int(int64(limit))
	}
	page, err := v.client.VectorStores.Search(ctx, v.storeID, params)
	if err != nil {
		return nil, fmt.Errorf("vector store search: %w", err)
	}

	out := make([]Snippet, 0, len(page.Data))
	for _, hit := range page.Data {
		var parts []string
		for _, c := range hit.Content {
			if c.Text != "" {
				parts = append(parts, c.Text)
			}
		}
		if len(parts) == 0 {
			continue
		}
		out = append(out, Snippet{
			Text:   strings.Join(parts, "\n"),
			Source: v.Name(),
			Ref:    hit.Filename,
			Score:  hit.Score,
		})
	}
	return out, nil
}
