package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"foreman/internal/project"
	"foreman/internal/task"
)

func TestSweepTreeSparesIndexedSmallFiles(t *testing.T) {
	cfg := testSettings(t)
	llm := &fakeLLM{planList: "1. unused", steps: []string{"unused"}}
	eng := newTestEngine(t, llm, cfg, "")

	p, err := project.Open(cfg.ProjectsDir(), "sweep-check", task.TypePython)
	require.NoError(t, err)

	// Indexed small file: went through the writer, the sweep leaves it alone
	// even though it is under the stub floor and carries a stub marker.
	require.NoError(t, p.WriteFile("notes.md", []byte("TODO: flesh out")))

	// Non-indexed empty stub and stdlib shadow appeared outside the writer.
	require.NoError(t, os.WriteFile(filepath.Join(p.Root, "scratch.md"), []byte("  \n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(p.Root, "asyncio.py"), []byte("x = 1\n"), 0o644))

	r := &run{project: p}
	eng.sweepTree(r)

	require.True(t, p.Exists("notes.md"))
	require.False(t, p.Exists("scratch.md"))
	require.False(t, p.Exists("asyncio.py"))
}
