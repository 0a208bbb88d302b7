// Package validate syntax-checks written artifacts and audits their imports
// and asset references. Both passes are advisory: findings feed repair
// prompts, nothing here ever aborts a run.
package validate

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"foreman/internal/project"
)

// Issue is one validator finding.
type Issue struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Message string `json:"message"`
	// Kind is "syntax", "missing_module", or "missing_asset".
	Kind string `json:"kind"`
}

// Validator checks files concurrently with a bounded worker group.
type Validator struct {
	logger *zap.Logger
	// VerifiedPackages are third-party packages known installable; imports
	// resolving here are never reported missing.
	VerifiedPackages map[string]bool

	mu      sync.Mutex
	parsers map[string]*sitter.Parser
}

// New builds a validator.
func New(verified map[string]bool, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if verified == nil {
		verified = defaultVerifiedPackages()
	}
	return &Validator{
		logger:           logger.Named("validate"),
		VerifiedPackages: verified,
		parsers:          make(map[string]*sitter.Parser),
	}
}

// Check runs the syntax pass and the dependency/asset audits over the given
// project-relative files. Results come back in deterministic file order.
func (v *Validator) Check(ctx context.Context, p *project.Project, files []string) ([]Issue, error) {
	ordered := append([]string(nil), files...)
	sort.Strings(ordered)

	results := make([][]Issue, len(ordered))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for i, rel := range ordered {
		g.Go(func() error {
			content, err := p.ReadFile(rel)
			if err != nil {
				results[i] = []Issue{{File: rel, Message: "unreadable: " + err.Error(), Kind: "syntax"}}
				return nil
			}
			var issues []Issue
			issues = append(issues, v.checkSyntax(gctx, rel, content)...)
			issues = append(issues, v.auditImports(p, rel, content)...)
			issues = append(issues, v.auditAssets(p, rel, content)...)
			results[i] = issues
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []Issue
	for _, r := range results {
		all = append(all, r...)
	}
	v.logger.Debug("validation pass complete",
		zap.Int("files", len(ordered)),
		zap.Int("issues", len(all)))
	return all, nil
}

// checkSyntax parses one file with the grammar its extension selects.
func (v *Validator) checkSyntax(ctx context.Context, rel string, content []byte) []Issue {
	switch strings.ToLower(path.Ext(rel)) {
	case ".py":
		return v.treeSitterCheck(ctx, rel, content, "python")
	case ".js", ".jsx":
		return v.treeSitterCheck(ctx, rel, content, "javascript")
	case ".ts":
		return v.treeSitterCheck(ctx, rel, content, "typescript")
	case ".tsx":
		return v.treeSitterCheck(ctx, rel, content, "tsx")
	case ".html", ".htm":
		return checkHTML(rel, content)
	case ".css":
		return checkCSS(rel, content)
	case ".json":
		if !json.Valid(content) {
			return []Issue{{File: rel, Line: 1, Message: "invalid JSON", Kind: "syntax"}}
		}
	}
	return nil
}

// parserFor returns a cached parser per grammar. tree-sitter parsers are not
// safe for concurrent use, so access is serialized per call.
func (v *Validator) treeSitterCheck(ctx context.Context, rel string, content []byte, grammar string) []Issue {
	v.mu.Lock()
	defer v.mu.Unlock()

	parser, ok := v.parsers[grammar]
	if !ok {
		parser = sitter.NewParser()
		switch grammar {
		case "python":
			parser.SetLanguage(python.GetLanguage())
		case "javascript":
			parser.SetLanguage(javascript.GetLanguage())
		case "typescript":
			parser.SetLanguage(typescript.GetLanguage())
		case "tsx":
			parser.SetLanguage(tsx.GetLanguage())
		}
		v.parsers[grammar] = parser
	}

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return []Issue{{File: rel, Line: 1, Message: "parse failed: " + err.Error(), Kind: "syntax"}}
	}
	defer tree.Close()

	var issues []Issue
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n.Type() == "ERROR" {
			issues = append(issues, Issue{
				File:    rel,
				Line:    int(n.StartPoint().Row) + 1,
				Message: fmt.Sprintf("syntax error near %q", excerpt(content, n)),
				Kind:    "syntax",
			})
			return // nested errors add noise, report the outermost
		}
		if n.IsMissing() {
			issues = append(issues, Issue{
				File:    rel,
				Line:    int(n.StartPoint().Row) + 1,
				Message: "missing " + n.Type(),
				Kind:    "syntax",
			})
			return
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(tree.RootNode())
	return issues
}

func excerpt(content []byte, n *sitter.Node) string {
	start, end := n.StartByte(), n.EndByte()
	if end > uint32(len(content)) {
		end = uint32(len(content))
	}
	s := string(content[start:end])
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > 40 {
		s = s[:40] + "..."
	}
	return s
}

// checkCSS is a brace/paren balance scan; tree-sitter ships no CSS grammar
// in the toolchain this project carries.
func checkCSS(rel string, content []byte) []Issue {
	braces, parens := 0, 0
	line := 1
	for _, c := range string(content) {
		switch c {
		case '\n':
			line++
		case '{':
			braces++
		case '}':
			braces--
		case '(':
			parens++
		case ')':
			parens--
		}
		if braces < 0 || parens < 0 {
			return []Issue{{File: rel, Line: line, Message: "unbalanced braces", Kind: "syntax"}}
		}
	}
	if braces != 0 || parens != 0 {
		return []Issue{{File: rel, Line: line, Message: "unbalanced braces at end of file", Kind: "syntax"}}
	}
	return nil
}
