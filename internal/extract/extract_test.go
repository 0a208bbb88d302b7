package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"foreman/internal/project"
	"foreman/internal/task"
)

func testProject(t *testing.T, ptype task.ProjectType) *project.Project {
	t.Helper()
	p, err := project.Open(t.TempDir(), "test-proj", ptype)
	require.NoError(t, err)
	return p
}

func TestFencedFilenameRoundTrip(t *testing.T) {
	e := New(task.TypePython, nil)
	body := "def add(a, b):\n    return a + b"
	resp := "```python filename=\"add_numbers.py\"\n" + body + "\n```\n"

	ext := e.Extract(resp)
	require.Len(t, ext.Artifacts, 1)
	require.Equal(t, "add_numbers.py", ext.Artifacts[0].Path)
	require.Equal(t, body, string(ext.Artifacts[0].Content))

	p := testProject(t, task.TypePython)
	written, skips, err := e.Persist(p, ext.Artifacts)
	require.NoError(t, err)
	require.Empty(t, skips)
	require.Len(t, written, 1)

	got, err := p.ReadFile("add_numbers.py")
	require.NoError(t, err)
	require.Equal(t, body, string(got))
	require.True(t, p.Index().Has("add_numbers.py"))
}

func TestCommentHeaderSplit(t *testing.T) {
	e := New(task.TypeFullstack, nil)
	resp := strings.Join([]string{
		"# backend/api.py",
		"from flask import Flask",
		"app = Flask(__name__)",
		"",
		"# backend/models.py",
		"class User:",
		"    pass",
	}, "\n")

	ext := e.Extract(resp)
	require.Len(t, ext.Artifacts, 2)
	require.Equal(t, "backend/api.py", ext.Artifacts[0].Path)
	require.Contains(t, string(ext.Artifacts[0].Content), "Flask(__name__)")
	require.Equal(t, "backend/models.py", ext.Artifacts[1].Path)
}

func TestFirstLineCommentInFence(t *testing.T) {
	e := New(task.TypeReact, nil)
	resp := "```jsx\n// src/components/Button.jsx\nexport const Button = () => <button/>;\n```"

	ext := e.Extract(resp)
	require.Len(t, ext.Artifacts, 1)
	require.Equal(t, "src/components/Button.jsx", ext.Artifacts[0].Path)
	require.NotContains(t, string(ext.Artifacts[0].Content), "Button.jsx")
}

func TestHeuristicRouting(t *testing.T) {
	cases := []struct {
		name  string
		ptype task.ProjectType
		lang  string
		body  string
		path  string
	}{
		{"flask to api", task.TypeFullstack, "python", "from flask import Flask\napp = Flask(__name__)\n@app.route('/')", "backend/api.py"},
		{"auth keywords", task.TypeFullstack, "python", "import jwt\ndef login(password):\n    return None", "backend/auth.py"},
		{"orm to models", task.TypeFullstack, "python", "from sqlalchemy import Column\nclass U: x = Column()", "backend/models.py"},
		{"tests routed", task.TypePython, "python", "import pytest\ndef test_x():\n    assert True", "tests/test_generated.py"},
		{"plain python main", task.TypePython, "python", "x = 1\nprint(x)", "main.py"},
		{"fullstack main variant", task.TypeFullstack, "python", "x = 1\nprint(x)", "backend/main.py"},
		{"research default algorithm", task.TypeResearch, "python", "def solve(n):\n    return n", "algorithm.py"},
		{"research analysis", task.TypeResearch, "python", "import matplotlib\nplt.plot([1])", "analysis.py"},
		{"jsx app", task.TypeReact, "jsx", "export default function App() { return null }", "src/App.jsx"},
		{"html index", task.TypeLanding, "html", "<html><body>hi</body></html>", "index.html"},
		{"react css variant", task.TypeReact, "css", "body { margin: 0 }", "src/styles.css"},
		{"package json", task.TypeReact, "json", "{\"dependencies\": {\"react\": \"18\"}}", "package.json"},
		{"sql schema", task.TypeFullstack, "sql", "SELECT 1", "backend/schema.sql"},
		{"requirements", task.TypePython, "text", "flask==2.0.1\nrequests==2.31.0", "requirements.txt"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := New(tc.ptype, nil)
			resp := "```" + tc.lang + "\n" + tc.body + "\n```"
			ext := e.Extract(resp)
			require.Len(t, ext.Artifacts, 1, "expected one artifact")
			require.Equal(t, tc.path, ext.Artifacts[0].Path)
		})
	}
}

func TestShadowFilenameRejected(t *testing.T) {
	e := New(task.TypePython, nil)
	resp := "```python filename=\"asyncio.py\"\nimport time\n```"

	ext := e.Extract(resp)
	require.Empty(t, ext.Artifacts)
	require.Len(t, ext.Skips, 1)
	require.Contains(t, ext.Skips[0].Reason, "standard library")
}

func TestJunkFileRejected(t *testing.T) {
	e := New(task.TypePython, nil)
	resp := "```python filename=\"run_until_complete.py\"\nloop = 1\n```"

	ext := e.Extract(resp)
	require.Empty(t, ext.Artifacts)
	require.Contains(t, ext.Skips[0].Reason, "junk")
}

func TestPathEscapeRejected(t *testing.T) {
	e := New(task.TypePython, nil)
	for _, p := range []string{"../outside.py", "a/../../b.py", "/etc/x.py"} {
		resp := "```python filename=\"" + p + "\"\nx = 1\n```"
		ext := e.Extract(resp)
		require.Empty(t, ext.Artifacts, p)
	}
}

func TestForbiddenExtensionForType(t *testing.T) {
	e := New(task.TypePython, nil)
	resp := "```jsx filename=\"src/App.jsx\"\nexport default 1\n```"
	ext := e.Extract(resp)
	require.Empty(t, ext.Artifacts)
	require.Contains(t, ext.Skips[0].Reason, "not allowed")
}

func TestCommandExtraction(t *testing.T) {
	e := New(task.TypePython, nil)
	resp := strings.Join([]string{
		"Run these:",
		"[COMMAND]: pip install flask",
		"```bash",
		"# comment is skipped",
		"python main.py",
		"pytest tests/",
		"```",
	}, "\n")

	ext := e.Extract(resp)
	require.Equal(t, []string{"pip install flask", "python main.py", "pytest tests/"}, ext.Commands)
}

func TestProseStripping(t *testing.T) {
	e := New(task.TypePython, nil)
	resp := "```python filename=\"main.py\"\nprint('hi')\n\nThis implements the greeting.\nLet me know if you need changes!\n```"

	ext := e.Extract(resp)
	require.Len(t, ext.Artifacts, 1)
	require.Equal(t, "print('hi')", string(ext.Artifacts[0].Content))
}

func TestOverwriteShrinkBoundary(t *testing.T) {
	e := New(task.TypePython, nil)
	p := testProject(t, task.TypePython)

	existing := strings.Repeat("x", 100)
	require.NoError(t, p.WriteFile("mod.py", []byte(existing)))

	// Exactly 50%: skip.
	_, skips, err := e.Persist(p, []Artifact{{Path: "mod.py", Content: []byte(strings.Repeat("y", 50))}})
	require.NoError(t, err)
	require.Len(t, skips, 1)
	require.Contains(t, skips[0].Reason, "half")

	// 51%: write.
	written, skips, err := e.Persist(p, []Artifact{{Path: "mod.py", Content: []byte(strings.Repeat("y", 51))}})
	require.NoError(t, err)
	require.Empty(t, skips)
	require.Len(t, written, 1)
}

func TestProtectedFilePreserved(t *testing.T) {
	e := New(task.TypeResearch, nil)
	p := testProject(t, task.TypeResearch)

	full := strings.Repeat("solid prose ", 700) // ~8kB, no placeholders
	require.NoError(t, p.WriteFile("paper.md", []byte(full)))

	smaller := strings.Repeat("new draft ", 300) // ~3kB
	_, skips, err := e.Persist(p, []Artifact{{Path: "paper.md", Content: []byte(smaller)}})
	require.NoError(t, err)
	require.Len(t, skips, 1)
	require.Contains(t, skips[0].Reason, "won't overwrite")

	got, err := p.ReadFile("paper.md")
	require.NoError(t, err)
	require.Equal(t, full, string(got))
}

func TestPlaceholderNeverReplacesReal(t *testing.T) {
	e := New(task.TypePython, nil)
	p := testProject(t, task.TypePython)

	real := "def add(a, b):\n    return a + b\n" + strings.Repeat("# detail\n", 5)
	require.NoError(t, p.WriteFile("calc.py", []byte(real)))

	stub := "def add(a, b):\n    # TODO implement\n    raise NotImplementedError\n" + strings.Repeat("# pad\n", 20)
	_, skips, err := e.Persist(p, []Artifact{{Path: "calc.py", Content: []byte(stub)}})
	require.NoError(t, err)
	require.Len(t, skips, 1)
	require.Contains(t, skips[0].Reason, "placeholders")
}

func TestIndexRecordsPathExactlyOnce(t *testing.T) {
	e := New(task.TypePython, nil)
	p := testProject(t, task.TypePython)

	art := []Artifact{{Path: "main.py", Content: []byte("print(1)\n# version one padding padding")}}
	_, _, err := e.Persist(p, art)
	require.NoError(t, err)

	art[0].Content = []byte("print(2)\n# version two padding padding more")
	_, _, err = e.Persist(p, art)
	require.NoError(t, err)

	count := 0
	for _, f := range p.Index().Files() {
		if f == "main.py" {
			count++
		}
	}
	require.Equal(t, 1, count)
}

func TestHasPlaceholders(t *testing.T) {
	require.True(t, HasPlaceholders([]byte("x = 1 # TODO fix")))
	require.True(t, HasPlaceholders([]byte("def f():\n    pass")))
	require.True(t, HasPlaceholders([]byte("raise NotImplementedError")))
	require.False(t, HasPlaceholders([]byte("def f():\n    return 1")))
}
