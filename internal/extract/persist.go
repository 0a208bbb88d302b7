package extract

import (
	"path"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"foreman/internal/project"
)

// protectedNames never get overwritten by a smaller or similar-sized
// replacement unless the existing content is itself a placeholder.
var protectedNames = map[string]bool{
	"paper.md":    true,
	"readme.md":   true,
	"glossary.md": true,
}

// sourceExts are subject to the shrink rule of the overwrite policy.
var sourceExts = map[string]bool{
	".py": true, ".js": true, ".jsx": true, ".ts": true, ".tsx": true,
	".css": true, ".html": true, ".sql": true, ".md": true,
}

var (
	placeholderMarkers = []string{"TODO", "TBD", "NotImplementedError", "[Insert", "[insert", "FIXME"}
	passOnlyBody       = regexp.MustCompile(`(?m)^\s*def\s+\w+\([^)]*\):\s*\n\s*pass\s*$`)
	ellipsisOnlyBody   = regexp.MustCompile(`(?m)^\s*def\s+\w+\([^)]*\):\s*\n\s*\.\.\.\s*$`)
)

// HasPlaceholders reports whether content carries stub markers.
func HasPlaceholders(content []byte) bool {
	s := string(content)
	for _, m := range placeholderMarkers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return passOnlyBody.MatchString(s) || ellipsisOnlyBody.MatchString(s)
}

// Written records one successful persist.
type Written struct {
	Path  string
	Bytes int
}

// Persist applies the overwrite policy and writes the surviving artifacts
// into the project. Every write records the relative path in the file index
// before Persist returns.
func (e *Extractor) Persist(p *project.Project, artifacts []Artifact) ([]Written, []Skip, error) {
	var written []Written
	var skips []Skip

	for _, a := range artifacts {
		if reason := overwriteDecision(p, a); reason != "" {
			e.logger.Info("won't overwrite",
				zap.String("path", a.Path),
				zap.String("reason", reason))
			skips = append(skips, Skip{Path: a.Path, Reason: reason})
			continue
		}
		if err := p.WriteFile(a.Path, a.Content); err != nil {
			return written, skips, err
		}
		written = append(written, Written{Path: a.Path, Bytes: len(a.Content)})
	}
	return written, skips, nil
}

// overwriteDecision returns a non-empty skip reason when the existing file
// must be preserved. Rules run in order: shrink, protected, placeholder.
func overwriteDecision(p *project.Project, a Artifact) string {
	existing, err := p.ReadFile(a.Path)
	if err != nil {
		return "" // absent: write
	}

	newLen, oldLen := len(a.Content), len(existing)
	ext := strings.ToLower(path.Ext(a.Path))

	// Exactly 50% skips; 51% proceeds.
	if sourceExts[ext] && oldLen > 0 && newLen*2 <= oldLen {
		return "won't overwrite: new content is under half the existing size"
	}

	if protectedNames[strings.ToLower(path.Base(a.Path))] &&
		float64(newLen) <= 1.2*float64(oldLen) &&
		!HasPlaceholders(existing) {
		return "won't overwrite: protected file without placeholders"
	}

	if HasPlaceholders(a.Content) && !HasPlaceholders(existing) {
		return "won't overwrite: new content has placeholders, existing does not"
	}

	return ""
}
