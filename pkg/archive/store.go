// Package archive keeps terminal batch jobs after they leave memory.
package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zen-systems/agentgate/pkg/schema"
)

// ErrNotFound is returned by Get for unknown ids.
var ErrNotFound = errors.New("archive: record not found")

// Record is an archived batch job.
type Record struct {
	ID             string                  `json:"id"`
	ProcessingKind string                  `json:"processing_kind"`
	Status         string                  `json:"status"`
	Error          string                  `json:"error,omitempty"`
	DocumentCount  int                     `json:"document_count"`
	CreatedAt      time.Time               `json:"created_at"`
	CompletedAt    time.Time               `json:"completed_at"`
	Results        []schema.DocumentResult `json:"results,omitempty"`
}

// Store persists records. Put overwrites an existing id.
type Store interface {
	Put(ctx context.Context, rec Record) error
	Get(ctx context.Context, id string) (Record, error)
	Close() error
}

// Open returns the store for driver: file, sqlite or postgres. memory and none
// keep nothing once jobs are purged.
func Open(driver, path, dsn string) (Store, error) {
	switch driver {
	case "", "file":
		return NewFileStore(path)
	case "sqlite":
		return NewSQLiteStore(path)
	case "postgres":
		return NewPostgresStore(dsn)
	case "memory", "none":
		return nopStore{}, nil
	default:
		return nil, fmt.Errorf("archive: unknown driver %q", driver)
	}
}

type nopStore struct{}

func (nopStore) Put(context.Context, Record) error { return nil }
func (nopStore) Get(context.Context, string) (Record, error) {
	return Record{}, ErrNotFound
}
func (nopStore) Close() error { return nil }
