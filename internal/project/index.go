package project

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"
)

// FileIndex records every artifact path the engine has written for the
// current objective. Each path appears exactly once regardless of how many
// times the file is rewritten.
type FileIndex struct {
	mu   sync.RWMutex
	path string

	files   map[string]struct{}
	ordered []string
}

type indexFile struct {
	Files     []string  `json:"files"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LoadIndex reads the index at path, or starts an empty one if the file
// does not exist yet.
func LoadIndex(path string) (*FileIndex, error) {
	idx := &FileIndex{path: path, files: make(map[string]struct{})}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return idx, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read file index: %w", err)
	}

	var raw indexFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse file index: %w", err)
	}
	for _, f := range raw.Files {
		if _, seen := idx.files[f]; seen {
			continue
		}
		idx.files[f] = struct{}{}
		idx.ordered = append(idx.ordered, f)
	}
	return idx, nil
}

// Add records a relative path. Re-adding an existing path is a no-op, so a
// file rewritten across iterations still holds a single entry.
func (x *FileIndex) Add(rel string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, seen := x.files[rel]; seen {
		return false
	}
	x.files[rel] = struct{}{}
	x.ordered = append(x.ordered, rel)
	return true
}

// Drop removes a path from the index.
func (x *FileIndex) Drop(rel string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, seen := x.files[rel]; !seen {
		return
	}
	delete(x.files, rel)
	for i, f := range x.ordered {
		if f == rel {
			x.ordered = append(x.ordered[:i], x.ordered[i+1:]...)
			break
		}
	}
}

// Has reports whether the path is already indexed.
func (x *FileIndex) Has(rel string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, seen := x.files[rel]
	return seen
}

// Files returns the indexed paths in insertion order.
func (x *FileIndex) Files() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]string, len(x.ordered))
	copy(out, x.ordered)
	return out
}

// Sorted returns the indexed paths lexically sorted.
func (x *FileIndex) Sorted() []string {
	out := x.Files()
	sort.Strings(out)
	return out
}

// Len returns the number of indexed paths.
func (x *FileIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.ordered)
}

// Save flushes the index to disk as JSON.
func (x *FileIndex) Save() error {
	x.mu.RLock()
	raw := indexFile{Files: append([]string(nil), x.ordered...), UpdatedAt: time.Now().UTC()}
	x.mu.RUnlock()

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal file index: %w", err)
	}
	if err := os.WriteFile(x.path, data, 0o644); err != nil {
		return fmt.Errorf("save file index: %w", err)
	}
	return nil
}
