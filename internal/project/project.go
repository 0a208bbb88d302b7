// Package project manages the on-disk directory for one objective: the
// scaffold, the engine-private .state subtree, and the file index that every
// written artifact is recorded in.
package project

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"foreman/internal/task"
)

// StateDir is the engine-private subtree inside every project.
const StateDir = ".state"

// DefaultIgnorePatterns are excluded from tree scans and retrieval walks.
var DefaultIgnorePatterns = []string{
	".git/**",
	".state/**",
	"node_modules/**",
	"__pycache__/**",
	"**/*.pyc",
	"venv/**",
	".venv/**",
	"dist/**",
	"build/**",
}

// Project is the artifact directory for one objective.
type Project struct {
	Root string
	Slug string
	Type task.ProjectType

	index   *FileIndex
	ignores []string
}

// Open creates (or reopens) the project directory under projectsDir,
// scaffolds the type's standard subfolders, and loads the file index.
func Open(projectsDir, slug string, ptype task.ProjectType) (*Project, error) {
	root := filepath.Join(projectsDir, slug)
	if err := os.MkdirAll(filepath.Join(root, StateDir), 0o755); err != nil {
		return nil, fmt.Errorf("create project dir: %w", err)
	}
	for _, sub := range task.SpecFor(ptype).Scaffold {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return nil, fmt.Errorf("scaffold %s: %w", sub, err)
		}
	}

	idx, err := LoadIndex(filepath.Join(root, StateDir, "file_index.json"))
	if err != nil {
		return nil, err
	}

	return &Project{
		Root:    root,
		Slug:    slug,
		Type:    ptype,
		index:   idx,
		ignores: DefaultIgnorePatterns,
	}, nil
}

// Index exposes the file index.
func (p *Project) Index() *FileIndex { return p.index }

// SafeJoin resolves rel against the project root, rejecting absolute paths
// and any traversal outside the root.
func (p *Project) SafeJoin(rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("empty path")
	}
	if filepath.IsAbs(rel) || strings.Contains(rel, "..") {
		return "", fmt.Errorf("path %q escapes project", rel)
	}
	clean := filepath.Clean(rel)
	if clean == "." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || clean == ".." {
		return "", fmt.Errorf("path %q escapes project", rel)
	}
	return filepath.Join(p.Root, clean), nil
}

// WriteFile persists data at the relative path, records it in the file
// index, and flushes the index. The index entry lands before WriteFile
// returns so the next step always sees it.
func (p *Project) WriteFile(rel string, data []byte) error {
	abs, err := p.SafeJoin(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}
	if err := os.WriteFile(abs, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}
	p.index.Add(filepath.ToSlash(filepath.Clean(rel)))
	return p.index.Save()
}

// ReadFile reads a project-relative file.
func (p *Project) ReadFile(rel string) ([]byte, error) {
	abs, err := p.SafeJoin(rel)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(abs)
}

// Exists reports whether a project-relative file exists on disk.
func (p *Project) Exists(rel string) bool {
	abs, err := p.SafeJoin(rel)
	if err != nil {
		return false
	}
	_, statErr := os.Stat(abs)
	return statErr == nil
}

// Size returns the byte size of an existing file, or -1.
func (p *Project) Size(rel string) int64 {
	abs, err := p.SafeJoin(rel)
	if err != nil {
		return -1
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return -1
	}
	return fi.Size()
}

// Remove deletes a project-relative file and drops it from the index.
func (p *Project) Remove(rel string) error {
	abs, err := p.SafeJoin(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		return err
	}
	p.index.Drop(filepath.ToSlash(filepath.Clean(rel)))
	return p.index.Save()
}

// Ignored reports whether a relative path matches the ignore patterns.
func (p *Project) Ignored(rel string) bool {
	rel = filepath.ToSlash(rel)
	for _, pat := range p.ignores {
		if ok, _ := doublestar.Match(pat, rel); ok {
			return true
		}
	}
	return false
}

// ScanTree walks the project on disk and returns the relative paths of all
// regular files, ignore patterns applied, in lexical order.
func (p *Project) ScanTree() ([]string, error) {
	var files []string
	err := filepath.Walk(p.Root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(p.Root, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		if info.IsDir() {
			if rel != "." && p.Ignored(rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if p.Ignored(rel) {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan project: %w", err)
	}
	return files, nil
}

// StatePath returns the absolute path of a file under .state/.
func (p *Project) StatePath(name string) string {
	return filepath.Join(p.Root, StateDir, name)
}
