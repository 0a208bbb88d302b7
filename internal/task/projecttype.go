package task

import (
	"path/filepath"
	"strings"
)

// ProjectType classifies the artifact shape of a run. Detected once at
// intake and locked.
type ProjectType string

const (
	TypeReact     ProjectType = "react"
	TypePython    ProjectType = "python"
	TypeFullstack ProjectType = "fullstack"
	TypeResearch  ProjectType = "research"
	TypeLanding   ProjectType = "landing"
)

// TypeSpec declares what a project type allows and how every dispatch is
// framed for it. The table is data; nothing about a type is hard-coded
// elsewhere.
type TypeSpec struct {
	Type           ProjectType
	DetectKeywords []string
	AllowedExt     []string
	ForbiddenExt   []string
	Scaffold       []string
	PromptFragment string
	// RequiredFiles is the research completion gate; empty for other types.
	RequiredFiles []string
}

// typeTable is consulted in order; the first keyword hit wins and python is
// the fallback.
var typeTable = []TypeSpec{
	{
		Type:           TypeResearch,
		DetectKeywords: []string{"research", "paper", "study", "novel", "algorithm", "benchmark", "literature", "hypothesis"},
		AllowedExt:     []string{".py", ".md", ".txt", ".json", ".csv", ".yaml", ".bib"},
		ForbiddenExt:   []string{".jsx", ".tsx", ".html"},
		Scaffold:       []string{"data", "figures", "docs"},
		PromptFragment: "This is a research project. Produce complete, self-contained files: a glossary, the core algorithm, data generation, a simulation or benchmark, analysis, and the paper. Every file must be complete on delivery; no stubs.",
		RequiredFiles:  []string{"glossary.md", "algorithm.py", "simulation.py", "analysis.py", "paper.md"},
	},
	{
		Type:           TypeLanding,
		DetectKeywords: []string{"landing page", "landing", "marketing page", "homepage", "splash"},
		AllowedExt:     []string{".html", ".css", ".js", ".md", ".json", ".svg"},
		ForbiddenExt:   []string{".py"},
		Scaffold:       []string{"assets", "css", "js"},
		PromptFragment: "This is a single-page static landing site. Produce index.html plus supporting css/js; no build tooling, no server code.",
	},
	{
		Type:           TypeReact,
		DetectKeywords: []string{"react", "spa", "frontend app", "dashboard", "component library"},
		AllowedExt:     []string{".js", ".jsx", ".ts", ".tsx", ".css", ".html", ".json", ".md", ".svg"},
		ForbiddenExt:   []string{".py"},
		Scaffold:       []string{"src", filepath.Join("src", "components"), "public", "tests"},
		PromptFragment: "This is a React application. Components live under src/, one component per file, with package.json at the root. Use functional components.",
	},
	{
		Type:           TypeFullstack,
		DetectKeywords: []string{"fullstack", "full-stack", "full stack", "saas", "web app", "platform", "e-commerce", "marketplace"},
		AllowedExt:     []string{".py", ".js", ".jsx", ".ts", ".tsx", ".css", ".html", ".json", ".md", ".sql", ".yaml", ".txt"},
		Scaffold:       []string{"frontend", "backend", "tests", "docs"},
		PromptFragment: "This is a fullstack project split into frontend/ and backend/ trees. Backend code is Python, frontend is JavaScript/JSX; keep the two sides in their own trees.",
	},
	{
		Type:           TypePython,
		DetectKeywords: nil, // fallback
		AllowedExt:     []string{".py", ".txt", ".md", ".json", ".yaml", ".toml", ".csv"},
		ForbiddenExt:   []string{".jsx", ".tsx"},
		Scaffold:       []string{"tests", "docs", "data"},
		PromptFragment: "This is a plain Python project. Produce complete modules with tests under tests/; pin any third-party requirement in requirements.txt.",
	},
}

// TypeTable returns the detection table in evaluation order.
func TypeTable() []TypeSpec {
	out := make([]TypeSpec, len(typeTable))
	copy(out, typeTable)
	return out
}

// DetectProjectType classifies an objective by keyword; python is the
// default when nothing matches.
func DetectProjectType(objective string) ProjectType {
	lower := strings.ToLower(objective)
	for _, spec := range typeTable {
		for _, kw := range spec.DetectKeywords {
			if strings.Contains(lower, kw) {
				return spec.Type
			}
		}
	}
	return TypePython
}

// SpecFor returns the table entry for a type; unknown types get the python
// spec.
func SpecFor(t ProjectType) TypeSpec {
	for _, spec := range typeTable {
		if spec.Type == t {
			return spec
		}
	}
	return typeTable[len(typeTable)-1]
}

// ExtAllowed reports whether a file extension may be written for this type.
func (s TypeSpec) ExtAllowed(ext string) bool {
	ext = strings.ToLower(ext)
	for _, f := range s.ForbiddenExt {
		if ext == f {
			return false
		}
	}
	for _, a := range s.AllowedExt {
		if ext == a {
			return true
		}
	}
	return false
}
