package search

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// loadExtensions are the file types read into the knowledge base.
var loadExtensions = map[string]bool{
	".md":   true,
	".txt":  true,
	".json": true,
	".yaml": true,
	".yml":  true,
}

const maxLoadSize = 1024 * 1024 // 1MB

// LoadPaths reads every file named in paths into m. Directories are walked,
// skipping hidden ones; files with other extensions or over 1MB are ignored.
// A path that does not exist is an error. Returns the number of files added.
func (m *MemorySource) LoadPaths(ctx context.Context, paths []string) (int, error) {
	added := 0
	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return added, fmt.Errorf("knowledge base path: %w", err)
		}
		if !info.IsDir() {
			ok, err := m.loadFile(root, info.Size())
			if err != nil {
				return added, err
			}
			if ok {
				added++
			}
			continue
		}

		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if d.IsDir() {
				if path != root && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			fi, err := d.Info()
			if err != nil {
				return nil
			}
			ok, err := m.loadFile(path, fi.Size())
			if err != nil {
				return err
			}
			if ok {
				added++
			}
			return nil
		})
		if err != nil {
			return added, err
		}
	}
	return added, nil
}

func (m *MemorySource) loadFile(path string, size int64) (bool, error) {
	if !loadExtensions[strings.ToLower(filepath.Ext(path))] || size > maxLoadSize {
		return false, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return false, nil
	}
	m.AddRef(path, text)
	return true, nil
}
