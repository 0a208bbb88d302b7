// Package dispatch routes plan steps to roles and assembles the prompt for
// each step. Routing is an ordered keyword table, the same data the planner
// uses to categorize parsed steps.
package dispatch

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"foreman/internal/config"
	"foreman/internal/project"
	"foreman/internal/roles"
	"foreman/internal/task"
)

// routeRule maps step keywords to a category and role. Rules are checked in
// order; the first hit wins.
type routeRule struct {
	keywords []string
	category task.Category
	role     string
}

var routeTable = []routeRule{
	{[]string{"ui", "component", "css", "react", "layout", "style", "page", "navbar", "frontend", "jsx", "responsive"}, task.CategoryFrontend, "frontend"},
	{[]string{"api", "endpoint", "database", "auth", "server", "backend", "route", "model", "schema", "migration", "sql"}, task.CategoryBackend, "backend"},
	{[]string{"test", "lint", "qa", "coverage", "assertion"}, task.CategoryQA, "qa"},
	{[]string{"deploy", "docker", "ci", "cd", "pipeline", "infra", "release"}, task.CategoryOps, "ops"},
	{[]string{"research", "investigate", "compare", "literature", "survey", "benchmark"}, task.CategoryResearch, "research"},
	{[]string{"paper", "abstract", "citation", "glossary", "theorem", "proof"}, task.CategoryAcademic, "academic"},
	{[]string{"write", "copy", "blog", "documentation", "readme", "article"}, task.CategoryContent, "content"},
	{[]string{"business plan", "market", "pricing", "revenue", "strategy", "competitor"}, task.CategoryBusiness, "business"},
	{[]string{"slide", "deck", "presentation"}, task.CategoryPresentation, "presentation"},
	{[]string{"architecture", "system design", "adr"}, task.CategoryArchitecture, "architect"},
}

// taggedPrefixes short-circuit routing for explicitly tagged steps.
var taggedPrefixes = map[string]routeRule{
	"[COMPONENT]":    {category: task.CategoryFrontend, role: "frontend"},
	"[ARCHITECTURE]": {category: task.CategoryArchitecture, role: "architect"},
	"[INTEGRATION]":  {category: task.CategoryBackend, role: "backend"},
}

// Categorize assigns a category to step text using the routing table.
func Categorize(text string) task.Category {
	category, _ := route(text)
	return category
}

// RoleFor maps a category back to its role name.
func RoleFor(category task.Category) string {
	for _, rule := range routeTable {
		if rule.category == category {
			return rule.role
		}
	}
	return "generalist"
}

func route(text string) (task.Category, string) {
	trimmed := strings.TrimSpace(text)
	for prefix, rule := range taggedPrefixes {
		if strings.HasPrefix(strings.ToUpper(trimmed), prefix) {
			return rule.category, rule.role
		}
	}
	lower := strings.ToLower(trimmed)
	words := tokenize(lower)
	for _, rule := range routeTable {
		for _, kw := range rule.keywords {
			if matchKeyword(lower, words, kw) {
				return rule.category, rule.role
			}
		}
	}
	return task.CategoryCore, "generalist"
}

// matchKeyword matches single keywords at word boundaries (plural tolerated)
// so "test" does not fire on "latest". Multi-word keywords match as
// substrings.
func matchKeyword(text string, words map[string]bool, keyword string) bool {
	if strings.Contains(keyword, " ") {
		return strings.Contains(text, keyword)
	}
	return words[keyword] || words[keyword+"s"]
}

func tokenize(text string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range strings.FieldsFunc(text, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	}) {
		words[w] = true
	}
	return words
}

// ContextRetriever supplies just-in-time project context for a step.
type ContextRetriever interface {
	Retrieve(ctx context.Context, step, role string, p *project.Project) (string, error)
}

// Dispatch is the routed, prompt-assembled form of one step.
type Dispatch struct {
	Role     Role
	Prompt   string
	Context  string
	Category task.Category
}

// Role pairs the role name with its persona.
type Role struct {
	Name    string
	Persona string
}

// Dispatcher assembles role, context, and prompt for each step.
type Dispatcher struct {
	roles     roles.Provider
	retriever ContextRetriever
	budgets   config.Budgets
	logger    *zap.Logger
}

// New builds a dispatcher. retriever may be nil to skip context retrieval.
func New(provider roles.Provider, retriever ContextRetriever, budgets config.Budgets, logger *zap.Logger) *Dispatcher {
	if provider == nil {
		provider = roles.NewStatic(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{roles: provider, retriever: retriever, budgets: budgets, logger: logger.Named("dispatch")}
}

// outputFormat is the rigid response contract every step prompt ends with.
const outputFormat = `OUTPUT FORMAT (strict):
- Every file goes in a fenced code block with the filename attribute:
  ` + "```" + `python filename="path/to/file.py"
  <full file content>
  ` + "```" + `
- Shell commands go on their own line as: [COMMAND]: <command>
- Output complete files only, never diffs or snippets.
- No prose outside code fences and [COMMAND] lines.`

// Dispatch routes one step and assembles its prompt.
func (d *Dispatcher) Dispatch(ctx context.Context, step task.Step, typeFragment string, p *project.Project) (Dispatch, error) {
	category := step.Category
	roleName := RoleFor(category)
	if category == "" {
		category, roleName = route(step.Text)
	}

	retrieved := ""
	if d.retriever != nil && p != nil {
		var err error
		retrieved, err = d.retriever.Retrieve(ctx, step.Text, roleName, p)
		if err != nil {
			d.logger.Warn("context retrieval failed", zap.Error(err))
			retrieved = ""
		}
		if max := d.budgets.RetrievalTokens * 4; max > 0 && len(retrieved) > max {
			retrieved = retrieved[:max] + "\n[context truncated]"
		}
	}

	persona := d.roles.SystemPrompt(roleName)

	var b strings.Builder
	if typeFragment != "" {
		b.WriteString(typeFragment)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "CURRENT STEP: %s\n", step.Text)
	if retrieved != "" {
		fmt.Fprintf(&b, "\nRELEVANT PROJECT CONTEXT:\n%s\n", retrieved)
	}
	b.WriteString("\n")
	b.WriteString(outputFormat)

	d.logger.Debug("step dispatched",
		zap.String("role", roleName),
		zap.String("category", string(category)))

	return Dispatch{
		Role:     Role{Name: roleName, Persona: persona},
		Prompt:   b.String(),
		Context:  retrieved,
		Category: category,
	}, nil
}
