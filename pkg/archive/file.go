package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStore manages a content-addressed archive on disk. Records live under
// objects/<shard>/<sha256>.json; indexes/<id> points at the current hash.
type FileStore struct {
	BasePath string
}

// NewFileStore creates a new archive store.
func NewFileStore(basePath string) (*FileStore, error) {
	if basePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		basePath = filepath.Join(home, ".agentgate", "archive")
	}

	dirs := []string{
		filepath.Join(basePath, "objects"),
		filepath.Join(basePath, "indexes"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return nil, err
		}
	}

	return &FileStore{BasePath: basePath}, nil
}

// Put stores rec by its SHA256 content hash and updates the id index.
func (s *FileStore) Put(_ context.Context, rec Record) error {
	if err := validID(rec.ID); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	hashBytes := sha256.Sum256(data)
	hash := hex.EncodeToString(hashBytes[:])

	// Shard by first 2 chars
	dir := filepath.Join(s.BasePath, "objects", hash[:2])
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, hash+".json"), data, 0644); err != nil {
		return err
	}

	// Write the index through a temp file so readers never see a partial hash.
	index := filepath.Join(s.BasePath, "indexes", rec.ID)
	tmp := index + ".tmp"
	if err := os.WriteFile(tmp, []byte(hash), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, index)
}

// Get loads the record indexed under id.
func (s *FileStore) Get(_ context.Context, id string) (Record, error) {
	if err := validID(id); err != nil {
		return Record{}, err
	}
	hash, err := os.ReadFile(filepath.Join(s.BasePath, "indexes", id))
	if errors.Is(err, os.ErrNotExist) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	h := strings.TrimSpace(string(hash))
	if len(h) < 2 {
		return Record{}, fmt.Errorf("archive: corrupt index for %s", id)
	}

	data, err := os.ReadFile(filepath.Join(s.BasePath, "objects", h[:2], h+".json"))
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Close is a no-op.
func (s *FileStore) Close() error {
	return nil
}

func validID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return fmt.Errorf("archive: invalid id %q", id)
	}
	return nil
}
