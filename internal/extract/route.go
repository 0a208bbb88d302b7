package extract

import (
	"regexp"
	"strings"

	"foreman/internal/task"
)

// routeRule sends a fenced block without an explicit filename to a default
// path when any of its signals appears in the body. Rules are evaluated in
// order per language; the first hit wins.
type routeRule struct {
	lang         string
	researchOnly bool
	signals      []string
	path         string
	// variants override path per project type.
	variants map[task.ProjectType]string
}

var requirementLine = regexp.MustCompile(`(?m)^[\w.-]+==[\w.]+\s*$`)

// routeTable is the heuristic routing table. Signals are matched as
// substrings against the block body.
var routeTable = []routeRule{
	{lang: "python", signals: []string{"@app.route", "@router.", "FastAPI(", "Flask(", "APIRouter"}, path: "backend/api.py"},
	{lang: "python", signals: []string{"jwt", "bcrypt", "password", "authenticate", "login_required"}, path: "backend/auth.py"},
	{lang: "python", signals: []string{"declarative_base", "Column(", "CREATE TABLE", "session.query", "sqlalchemy"}, path: "backend/models.py"},
	{lang: "python", signals: []string{"unittest", "pytest", "def test_"}, path: "tests/test_generated.py"},
	{lang: "python", researchOnly: true, signals: []string{"matplotlib", "pandas", "plt."}, path: "analysis.py"},
	{lang: "python", researchOnly: true, signals: []string{"simulate", "benchmark", "timeit"}, path: "simulation.py"},
	{lang: "python", researchOnly: true, path: "algorithm.py"},
	{lang: "python", path: "main.py", variants: map[task.ProjectType]string{task.TypeFullstack: "backend/main.py"}},
	{lang: "javascript", signals: []string{"express", "app.listen", "require("}, path: "backend/server.js", variants: map[task.ProjectType]string{task.TypeReact: "src/index.js"}},
	{lang: "javascript", path: "backend/server.js", variants: map[task.ProjectType]string{task.TypeReact: "src/index.js", task.TypeLanding: "js/main.js"}},
	{lang: "jsx", path: "src/App.jsx"},
	{lang: "typescript", path: "src/index.ts"},
	{lang: "tsx", path: "src/App.tsx"},
	{lang: "html", path: "index.html"},
	{lang: "css", path: "styles.css", variants: map[task.ProjectType]string{task.TypeReact: "src/styles.css"}},
	{lang: "json", signals: []string{`"dependencies"`, `"scripts"`}, path: "package.json"},
	{lang: "json", path: "data.json"},
	{lang: "sql", path: "backend/schema.sql"},
	{lang: "markdown", path: "docs/notes.md"},
}

// langAliases normalize fence language tags before routing.
var langAliases = map[string]string{
	"py":   "python",
	"js":   "javascript",
	"ts":   "typescript",
	"md":   "markdown",
	"htm":  "html",
	"text": "plain",
	"txt":  "plain",
}

func normalizeLang(lang string) string {
	if a, ok := langAliases[lang]; ok {
		return a
	}
	return lang
}

// heuristicRoute assigns default paths to untagged blocks. Shell blocks are
// command input, never artifacts, and plain-text blocks only route when they
// look like a requirements file.
func (e *Extractor) heuristicRoute(blocks []fencedBlock) []Artifact {
	var arts []Artifact
	for _, b := range blocks {
		lang := normalizeLang(b.Lang)
		switch lang {
		case "bash", "sh", "shell", "":
			continue
		case "plain":
			if requirementLine.MatchString(b.Body) {
				arts = append(arts, Artifact{Path: "requirements.txt", Content: []byte(b.Body), Lang: lang})
			}
			continue
		}
		if p := e.routeBlock(lang, b.Body); p != "" {
			arts = append(arts, Artifact{Path: p, Content: []byte(b.Body), Lang: lang})
		}
	}
	return arts
}

func (e *Extractor) routeBlock(lang, body string) string {
	for _, rule := range routeTable {
		if rule.lang != lang {
			continue
		}
		if rule.researchOnly && e.ptype != task.TypeResearch {
			continue
		}
		if len(rule.signals) > 0 && !containsAny(body, rule.signals) {
			continue
		}
		if v, ok := rule.variants[e.ptype]; ok {
			return v
		}
		return rule.path
	}
	return ""
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func langForExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".py":
		return "python"
	case ".js":
		return "javascript"
	case ".jsx":
		return "jsx"
	case ".ts":
		return "typescript"
	case ".tsx":
		return "tsx"
	case ".html", ".htm":
		return "html"
	case ".css":
		return "css"
	case ".json":
		return "json"
	case ".sql":
		return "sql"
	case ".md":
		return "markdown"
	default:
		return ""
	}
}

func knownExt(ext string) bool { return langForExt(ext) != "" || ext == ".txt" || ext == ".yaml" || ext == ".csv" || ext == ".toml" || ext == ".bib" || ext == ".svg" }
