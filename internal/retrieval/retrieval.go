// Package retrieval supplies just-in-time project context for step prompts.
// Files are keyword-scored against the step text and role, and the winners
// contribute excerpts around their matches, never whole-project dumps.
package retrieval

import (
	"context"
	"path"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"foreman/internal/project"
)

// Config tunes the retriever.
type Config struct {
	// MaxTokens caps the returned context (4 chars per token estimate).
	MaxTokens int
	// MaxFiles caps how many files contribute excerpts.
	MaxFiles int
	// ExcerptLines is how many lines around each match are kept.
	ExcerptLines int
	// Ignore holds doublestar patterns excluded from scoring.
	Ignore []string
}

// DefaultConfig returns retrieval defaults.
func DefaultConfig() Config {
	return Config{
		MaxTokens:    2000,
		MaxFiles:     5,
		ExcerptLines: 6,
		Ignore: []string{
			"node_modules/**", ".git/**", "**/*.min.js", "**/*.lock",
			"dist/**", "build/**", "__pycache__/**", ".state/**",
		},
	}
}

// Retriever scores indexed files against step keywords.
type Retriever struct {
	cfg    Config
	logger *zap.Logger
}

// New builds a retriever.
func New(cfg Config, logger *zap.Logger) *Retriever {
	def := DefaultConfig()
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = def.MaxFiles
	}
	if cfg.ExcerptLines <= 0 {
		cfg.ExcerptLines = def.ExcerptLines
	}
	if cfg.Ignore == nil {
		cfg.Ignore = def.Ignore
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{cfg: cfg, logger: logger.Named("retrieval")}
}

type scored struct {
	rel   string
	score int
}

// Retrieve returns excerpts from the files most relevant to the step,
// truncated to the token budget. An empty result means no file matched.
func (r *Retriever) Retrieve(ctx context.Context, step, role string, p *project.Project) (string, error) {
	keywords := keywordsFor(step, role)
	if len(keywords) == 0 {
		return "", nil
	}

	var candidates []scored
	for _, rel := range p.Index().Sorted() {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if r.ignored(rel) {
			continue
		}
		score := r.scoreFile(p, rel, keywords)
		if score > 0 {
			candidates = append(candidates, scored{rel: rel, score: score})
		}
	}
	if len(candidates) == 0 {
		return "", nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > r.cfg.MaxFiles {
		candidates = candidates[:r.cfg.MaxFiles]
	}

	var b strings.Builder
	budget := r.cfg.MaxTokens * 4
	for _, c := range candidates {
		content, err := p.ReadFile(c.rel)
		if err != nil {
			continue
		}
		excerpt := r.excerpt(string(content), keywords)
		if excerpt == "" {
			continue
		}
		section := "--- " + c.rel + " ---\n" + excerpt + "\n"
		if b.Len()+len(section) > budget {
			remaining := budget - b.Len()
			if remaining > 80 {
				b.WriteString(section[:remaining])
				b.WriteString("\n[truncated]")
			}
			break
		}
		b.WriteString(section)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (r *Retriever) ignored(rel string) bool {
	for _, pattern := range r.cfg.Ignore {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// scoreFile counts keyword hits: path hits weigh triple.
func (r *Retriever) scoreFile(p *project.Project, rel string, keywords []string) int {
	score := 0
	lowerPath := strings.ToLower(rel)
	for _, kw := range keywords {
		if strings.Contains(lowerPath, kw) {
			score += 3
		}
	}

	content, err := p.ReadFile(rel)
	if err != nil {
		return score
	}
	lower := strings.ToLower(string(content))
	for _, kw := range keywords {
		score += strings.Count(lower, kw)
	}
	return score
}

// excerpt keeps a window of lines around each matching line.
func (r *Retriever) excerpt(content string, keywords []string) string {
	lines := strings.Split(content, "\n")
	keep := make([]bool, len(lines))
	half := r.cfg.ExcerptLines / 2
	for i, line := range lines {
		lower := strings.ToLower(line)
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				lo := i - half
				if lo < 0 {
					lo = 0
				}
				hi := i + half
				if hi >= len(lines) {
					hi = len(lines) - 1
				}
				for j := lo; j <= hi; j++ {
					keep[j] = true
				}
				break
			}
		}
	}

	var out []string
	inGap := false
	for i, line := range lines {
		if keep[i] {
			out = append(out, line)
			inGap = false
		} else if !inGap && len(out) > 0 {
			out = append(out, "...")
			inGap = true
		}
	}
	if len(out) > 0 && out[len(out)-1] == "..." {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}

// stopWords are dropped before scoring.
var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "create": true, "for": true, "from": true,
	"in": true, "is": true, "it": true, "its": true, "of": true, "on": true,
	"or": true, "that": true, "the": true, "to": true, "with": true,
	"add": true, "build": true, "implement": true, "make": true,
	"new": true, "set": true, "up": true, "use": true, "write": true,
}

// keywordsFor extracts scoring keywords from the step text plus the role
// name.
func keywordsFor(step, role string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(w string) {
		w = strings.ToLower(strings.Trim(w, ".,:;()[]{}'\""))
		if len(w) < 3 || stopWords[w] || seen[w] {
			return
		}
		// Path-looking tokens score by basename too.
		if strings.ContainsAny(w, "/") {
			base := path.Base(w)
			if !seen[base] && len(base) >= 3 {
				seen[base] = true
				out = append(out, base)
			}
		}
		seen[w] = true
		out = append(out, w)
	}
	for _, w := range strings.Fields(step) {
		add(w)
	}
	if role != "" && role != "generalist" {
		add(role)
	}
	return out
}
