package recycle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"foreman/internal/config"
	"foreman/internal/task"
)

func testRecycler(t *testing.T, cfg config.RecyclerConfig) *Recycler {
	t.Helper()
	r, err := New(cfg, t.TempDir(), nil)
	require.NoError(t, err)
	return r
}

func TestEstimateTokens(t *testing.T) {
	require.Equal(t, 0, EstimateTokens(""))
	require.Equal(t, 25, EstimateTokens(strings.Repeat("a", 100)))
}

func TestInclusiveThresholdBoundary(t *testing.T) {
	r := testRecycler(t, config.RecyclerConfig{MaxTokens: 10000, Threshold: 0.75})

	r.Observe(7499)
	require.False(t, r.NeedsRecycle())

	// Exactly threshold*max triggers.
	r.Observe(1)
	require.True(t, r.NeedsRecycle())
}

func TestSaveToDomainUnknownDomain(t *testing.T) {
	r := testRecycler(t, config.RecyclerConfig{})
	require.Error(t, r.SaveToDomain("nonsense", "text"))
}

func TestSetTaskSeedsNotesAndArchivesOld(t *testing.T) {
	dir := t.TempDir()
	r, err := New(config.RecyclerConfig{}, dir, nil)
	require.NoError(t, err)

	require.NoError(t, r.SetTask("build a thing", []string{"step one", "step two"}))
	require.NoError(t, r.SaveToDomain(DomainBackend, "made an endpoint"))

	state, err := os.ReadFile(filepath.Join(dir, "task_state.md"))
	require.NoError(t, err)
	require.Contains(t, string(state), "build a thing")
	require.Contains(t, string(state), "1. step one")

	// A second task archives the first task's notes.
	require.NoError(t, r.SetTask("another thing", []string{"only step"}))
	archive := filepath.Join(dir, "archive")
	entries, err := os.ReadDir(archive)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	archived, err := os.ReadFile(filepath.Join(archive, entries[0].Name()))
	require.NoError(t, err)
	require.Contains(t, string(archived), "made an endpoint")

	// Fresh notes no longer mention the old task.
	backend, err := os.ReadFile(filepath.Join(dir, "backend.md"))
	require.NoError(t, err)
	require.NotContains(t, string(backend), "made an endpoint")
}

func TestRecycleContinuationContents(t *testing.T) {
	r := testRecycler(t, config.RecyclerConfig{MaxTokens: 10000, Threshold: 0.75})
	require.NoError(t, r.SetTask("build a REST api for recipes", []string{"a", "b", "c"}))

	plan := task.NewPlan("build a REST api for recipes", []task.Step{
		{Text: "create the server", Category: task.CategoryBackend},
		{Text: "add the recipes endpoint", Category: task.CategoryBackend},
		{Text: "write tests", Category: task.CategoryQA},
	})
	require.NoError(t, plan.MarkInProgress(0))
	require.NoError(t, plan.MarkDone(0))

	r.Observe(9000)
	require.True(t, r.NeedsRecycle())

	summarize := func(_ context.Context, objective string, done, pending []string, _ int) (string, error) {
		return fmt.Sprintf("Finished the api server skeleton for %q.", objective), nil
	}
	cont, err := r.Recycle(context.Background(), summarize, plan)
	require.NoError(t, err)

	// The continuation restates the objective, the summary, and the pending
	// steps, and the token count is reset.
	require.Contains(t, cont, "build a REST api for recipes")
	require.Contains(t, cont, "api server skeleton")
	require.Contains(t, cont, "1. add the recipes endpoint")
	require.Contains(t, cont, "2. write tests")
	require.NotContains(t, cont, "create the server\n1.")
	require.Equal(t, 0, r.Tokens())
	require.False(t, r.NeedsRecycle())
}

func TestRecycleKeywordRouting(t *testing.T) {
	dir := t.TempDir()
	r, err := New(config.RecyclerConfig{}, dir, nil)
	require.NoError(t, err)
	require.NoError(t, r.SetTask("obj", nil))

	summarize := func(context.Context, string, []string, []string, int) (string, error) {
		return "Built the login endpoint and the navbar component.", nil
	}
	_, err = r.Recycle(context.Background(), summarize, task.NewPlan("obj", nil))
	require.NoError(t, err)

	backend, err := os.ReadFile(filepath.Join(dir, "backend.md"))
	require.NoError(t, err)
	require.Contains(t, string(backend), "login endpoint")

	frontend, err := os.ReadFile(filepath.Join(dir, "frontend.md"))
	require.NoError(t, err)
	require.Contains(t, string(frontend), "navbar component")

	database, err := os.ReadFile(filepath.Join(dir, "database.md"))
	require.NoError(t, err)
	require.NotContains(t, string(database), "navbar")
}

func TestRecycleSummarizerFailureFallsBack(t *testing.T) {
	r := testRecycler(t, config.RecyclerConfig{})
	require.NoError(t, r.SetTask("obj", []string{"a"}))

	plan := task.NewPlan("obj", []task.Step{{Text: "first step"}, {Text: "second step"}})
	require.NoError(t, plan.MarkInProgress(0))
	require.NoError(t, plan.MarkDone(0))

	failing := func(context.Context, string, []string, []string, int) (string, error) {
		return "", fmt.Errorf("llm down")
	}
	cont, err := r.Recycle(context.Background(), failing, plan)
	require.NoError(t, err)
	require.Contains(t, cont, "1 steps completed, 1 pending")
	require.Contains(t, cont, "first step")
}

func TestRecycleUnwritableNotesStillResets(t *testing.T) {
	dir := t.TempDir()
	notes := filepath.Join(dir, "context")
	r, err := New(config.RecyclerConfig{MaxTokens: 10000, Threshold: 0.75}, notes, nil)
	require.NoError(t, err)
	require.NoError(t, r.SetTask("survive disk loss", []string{"a", "b"}))

	// Replace the notes dir with a plain file so every note write fails.
	require.NoError(t, os.RemoveAll(notes))
	require.NoError(t, os.WriteFile(notes, []byte("in the way"), 0o644))

	plan := task.NewPlan("survive disk loss", []task.Step{
		{Text: "first step"}, {Text: "second step"},
	})
	require.NoError(t, plan.MarkInProgress(0))
	require.NoError(t, plan.MarkDone(0))

	r.Observe(9000)
	require.True(t, r.NeedsRecycle())

	summarize := func(context.Context, string, []string, []string, int) (string, error) {
		return "Finished the first step.", nil
	}
	cont, err := r.Recycle(context.Background(), summarize, plan)
	require.NoError(t, err)
	require.Contains(t, cont, "Original objective: survive disk loss")
	require.Contains(t, cont, "1. second step")

	// The count resets even though nothing reached disk, so the next check
	// does not immediately demand another recycle.
	require.Equal(t, 0, r.Tokens())
	require.False(t, r.NeedsRecycle())
}

func TestClearDomains(t *testing.T) {
	dir := t.TempDir()
	r, err := New(config.RecyclerConfig{}, dir, nil)
	require.NoError(t, err)
	require.NoError(t, r.SetTask("obj", nil))
	require.NoError(t, r.SaveToDomain(DomainResearch, "old findings"))
	require.NoError(t, r.SaveToDomain(DomainDecisions, "old choice"))

	require.NoError(t, r.ClearDomains(DomainResearch, DomainDecisions))

	research, err := os.ReadFile(filepath.Join(dir, "research.md"))
	require.NoError(t, err)
	require.NotContains(t, string(research), "old findings")
	require.Error(t, r.ClearDomains("bogus"))
}

func TestNoteTailCutsAtLineBoundary(t *testing.T) {
	r := testRecycler(t, config.RecyclerConfig{NotesTailBytes: 64})
	require.NoError(t, r.SetTask("obj", nil))
	for i := 0; i < 20; i++ {
		require.NoError(t, r.SaveToDomain(DomainBackend, fmt.Sprintf("entry number %d", i)))
	}
	tail := r.noteTail(DomainBackend)
	require.LessOrEqual(t, len(tail), 64)
	require.Contains(t, tail, "entry number 19")
}
