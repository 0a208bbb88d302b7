package validate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"foreman/internal/project"
	"foreman/internal/task"
)

func testProject(t *testing.T, ptype task.ProjectType) *project.Project {
	t.Helper()
	p, err := project.Open(t.TempDir(), "validate-proj", ptype)
	require.NoError(t, err)
	return p
}

func write(t *testing.T, p *project.Project, rel, content string) {
	t.Helper()
	require.NoError(t, p.WriteFile(rel, []byte(content)))
}

func TestPythonSyntaxClean(t *testing.T) {
	p := testProject(t, task.TypePython)
	write(t, p, "main.py", "def add(a, b):\n    return a + b\n")

	v := New(nil, nil)
	issues, err := v.Check(context.Background(), p, []string{"main.py"})
	require.NoError(t, err)
	require.Empty(t, issues)
}

func TestPythonSyntaxError(t *testing.T) {
	p := testProject(t, task.TypePython)
	write(t, p, "broken.py", "def add(a, b:\n    return a + b\n")

	v := New(nil, nil)
	issues, err := v.Check(context.Background(), p, []string{"broken.py"})
	require.NoError(t, err)
	require.NotEmpty(t, issues)
	require.Equal(t, "syntax", issues[0].Kind)
	require.Equal(t, "broken.py", issues[0].File)
	require.GreaterOrEqual(t, issues[0].Line, 1)
}

func TestJavaScriptSyntaxError(t *testing.T) {
	p := testProject(t, task.TypeReact)
	write(t, p, "src/app.js", "function f( { return 1 }\n")

	v := New(nil, nil)
	issues, err := v.Check(context.Background(), p, []string{"src/app.js"})
	require.NoError(t, err)
	require.NotEmpty(t, issues)
}

func TestJSONAndCSSChecks(t *testing.T) {
	p := testProject(t, task.TypeLanding)
	write(t, p, "data.json", `{"ok": tru}`)
	write(t, p, "css/site.css", "body { margin: 0;\n")

	v := New(nil, nil)
	issues, err := v.Check(context.Background(), p, []string{"data.json", "css/site.css"})
	require.NoError(t, err)
	require.Len(t, issues, 2)
	// Deterministic file order: css/site.css sorts before data.json.
	require.Equal(t, "css/site.css", issues[0].File)
	require.Equal(t, "data.json", issues[1].File)
}

func TestMissingModuleReported(t *testing.T) {
	p := testProject(t, task.TypePython)
	write(t, p, "main.py", "import os\nimport helpers\nimport flask\nimport mystery_pkg\n")

	v := New(nil, nil)
	issues, err := v.Check(context.Background(), p, []string{"main.py"})
	require.NoError(t, err)

	var missing []string
	for _, is := range issues {
		if is.Kind == "missing_module" {
			missing = append(missing, is.Message)
		}
	}
	// os is stdlib, flask is verified; helpers and mystery_pkg are not.
	require.ElementsMatch(t, []string{"missing module helpers", "missing module mystery_pkg"}, missing)
}

func TestLocalModuleResolvesViaIndex(t *testing.T) {
	p := testProject(t, task.TypePython)
	write(t, p, "helpers.py", "def util():\n    return 1\n")
	write(t, p, "main.py", "import helpers\n")

	v := New(nil, nil)
	issues, err := v.Check(context.Background(), p, []string{"main.py"})
	require.NoError(t, err)
	require.Empty(t, issues)
}

func TestRelativePythonImportSkipped(t *testing.T) {
	p := testProject(t, task.TypePython)
	write(t, p, "pkg/mod.py", "from .sibling import thing\n")

	v := New(nil, nil)
	issues, err := v.Check(context.Background(), p, []string{"pkg/mod.py"})
	require.NoError(t, err)
	require.Empty(t, issues)
}

func TestJSImportAudit(t *testing.T) {
	p := testProject(t, task.TypeReact)
	write(t, p, "src/util.js", "export const x = 1\n")
	write(t, p, "src/index.js",
		"import React from 'react'\n"+
			"import { x } from './util'\n"+
			"import missing from './nowhere'\n"+
			"import weird from 'unheard-of-pkg'\n")

	v := New(nil, nil)
	issues, err := v.Check(context.Background(), p, []string{"src/index.js"})
	require.NoError(t, err)

	var missing []string
	for _, is := range issues {
		if is.Kind == "missing_module" {
			missing = append(missing, is.Message)
		}
	}
	require.ElementsMatch(t, []string{"missing module ./nowhere", "missing module unheard-of-pkg"}, missing)
}

func TestHTMLAssetAudit(t *testing.T) {
	p := testProject(t, task.TypeLanding)
	write(t, p, "css/styles.css", "body{}")
	write(t, p, "index.html",
		`<html><head><link href="css/styles.css" rel="stylesheet"></head>`+
			`<body><script src="js/app.js"></script>`+
			`<a href="https://example.com/x.js">ext</a></body></html>`)

	v := New(nil, nil)
	issues, err := v.Check(context.Background(), p, []string{"index.html"})
	require.NoError(t, err)
	require.Len(t, issues, 1)
	require.Equal(t, "missing_asset", issues[0].Kind)
	require.Contains(t, issues[0].Message, "js/app.js")
}
