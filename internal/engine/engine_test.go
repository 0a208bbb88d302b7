package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"foreman/internal/checkpoint"
	"foreman/internal/config"
	"foreman/internal/critic"
	"foreman/internal/dispatch"
	"foreman/internal/perception"
	"foreman/internal/plan"
	"foreman/internal/recycle"
	"foreman/internal/retrieval"
	"foreman/internal/roles"
	"foreman/internal/sandbox"
	"foreman/internal/validate"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeLLM routes prompts by intent: critiques pass, plans come from a fixed
// list, and step prompts consume a response queue.
type fakeLLM struct {
	mu          sync.Mutex
	planList    string
	steps       []string
	stepCalls   int
	stepPrompts []string
	onStep      func(n int)
}

func (f *fakeLLM) Complete(_ context.Context, prompt string, _ perception.Options) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case strings.Contains(prompt, "pessimistic reviewer"):
		return "[]", nil
	case strings.Contains(prompt, "Break this"), strings.Contains(prompt, "Revise the remaining"):
		return f.planList, nil
	case strings.Contains(prompt, "Summarize the progress"):
		return "Progress summary: finished the completed steps and recorded decisions.", nil
	default:
		f.stepCalls++
		f.stepPrompts = append(f.stepPrompts, prompt)
		if f.onStep != nil {
			f.onStep(f.stepCalls)
		}
		idx := f.stepCalls - 1
		if idx >= len(f.steps) {
			idx = len(f.steps) - 1
		}
		return f.steps[idx], nil
	}
}

func testSettings(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Workspace = t.TempDir()
	cfg.Engine.RefineShorterThan = 0
	cfg.Planner.MinStepsGeneral = 1
	cfg.Planner.MinStepsComplex = 1
	cfg.Planner.MinStepsResearch = 1
	cfg.Checkpoints.Every = 1
	return cfg
}

func newTestEngine(t *testing.T, llm perception.Client, cfg *config.Config, resumeID string) *Engine {
	t.Helper()

	recycler, err := recycle.New(cfg.Recycler, cfg.ContextDir(), nil)
	require.NoError(t, err)
	checkpoints, err := checkpoint.New(cfg.CheckpointsDir(), cfg.Checkpoints.Keep, nil)
	require.NoError(t, err)

	eng, err := New(Config{
		LLM:         llm,
		Planner:     plan.New(llm, cfg.Planner, nil),
		Dispatcher:  dispatch.New(roles.NewStatic(nil), retrieval.New(retrieval.Config{MaxTokens: cfg.Budgets.RetrievalTokens}, nil), cfg.Budgets, nil),
		Sandbox:     sandbox.New(sandbox.DefaultPolicy(), sandbox.DefaultConfig(), nil),
		Validator:   validate.New(nil, nil),
		Critic:      critic.New(llm, cfg.Engine.CriticRounds, nil),
		Recycler:    recycler,
		Checkpoints: checkpoints,
		Settings:    cfg,
		ResumeID:    resumeID,
	})
	require.NoError(t, err)
	return eng
}

func pyResponse(path, body string) string {
	return "```python filename=\"" + path + "\"\n" + body + "```\n"
}

func TestRunHelloFile(t *testing.T) {
	cfg := testSettings(t)
	llm := &fakeLLM{
		planList: "1. Create the main script that prints a greeting",
		steps: []string{
			pyResponse("main.py", "print('hello')\n") + "\nPROJECT COMPLETE\n",
		},
	}
	eng := newTestEngine(t, llm, cfg, "")

	res := eng.Run(context.Background(), "print a greeting to the console")
	require.NoError(t, res.Err)
	require.Equal(t, StatusComplete, res.Status)
	require.Equal(t, 1, res.Iterations)
	require.NotEmpty(t, res.ProjectPath)

	data, err := readProjectFile(res.ProjectPath, "main.py")
	require.NoError(t, err)
	require.Equal(t, "print('hello')", strings.TrimSpace(string(data)))

	// Run end state is checkpointed.
	store, err := checkpoint.New(cfg.CheckpointsDir(), cfg.Checkpoints.Keep, nil)
	require.NoError(t, err)
	rec, ok := store.Latest()
	require.True(t, ok)
	require.Contains(t, rec.CompletedSteps, "Create the main script that prints a greeting")
	require.Empty(t, rec.PendingSteps)
}

func TestRunBlockedCommandFeedsNextPrompt(t *testing.T) {
	cfg := testSettings(t)
	llm := &fakeLLM{
		planList: "1. Prepare the data directory\n2. Create the loader module",
		steps: []string{
			pyResponse("setup.py", "ready = True\n") + "\n[COMMAND]: sudo rm -rf /\n",
			pyResponse("loader.py", "def load():\n    return []\n") + "\nPROJECT COMPLETE\n",
		},
	}
	eng := newTestEngine(t, llm, cfg, "")

	res := eng.Run(context.Background(), "build a small data loader")
	require.Equal(t, StatusComplete, res.Status)

	// The block is reported and the reason reaches the next prompt.
	require.True(t, containsSubstring(res.Log, "blocked"))
	require.Len(t, llm.stepPrompts, 2)
	require.Contains(t, llm.stepPrompts[1], "Do not use it again")
	require.Contains(t, llm.stepPrompts[1], "sudo rm -rf /")
}

func TestRunShadowFilenameSkipped(t *testing.T) {
	cfg := testSettings(t)
	llm := &fakeLLM{
		planList: "1. Create the async helper module",
		steps: []string{
			pyResponse("asyncio.py", "def run():\n    pass\n") +
				pyResponse("helpers.py", "def run():\n    return 1\n") +
				"\nPROJECT COMPLETE\n",
		},
	}
	eng := newTestEngine(t, llm, cfg, "")

	res := eng.Run(context.Background(), "build async helpers")
	require.Equal(t, StatusComplete, res.Status)

	_, err := readProjectFile(res.ProjectPath, "asyncio.py")
	require.Error(t, err)
	_, err = readProjectFile(res.ProjectPath, "helpers.py")
	require.NoError(t, err)
	require.True(t, containsSubstring(res.Log, "shadows a standard library module"))
}

func TestRunOversizeExistingPreserved(t *testing.T) {
	cfg := testSettings(t)
	big := strings.Repeat("record_0 = 0\n", 60)
	small := "data = []\n"
	llm := &fakeLLM{
		planList: "1. Generate the dataset module\n2. Refine the dataset module",
		steps: []string{
			pyResponse("dataset.py", big),
			pyResponse("dataset.py", small) + "\nPROJECT COMPLETE\n",
		},
	}
	eng := newTestEngine(t, llm, cfg, "")

	res := eng.Run(context.Background(), "generate a dataset module")
	require.Equal(t, StatusComplete, res.Status)

	data, err := readProjectFile(res.ProjectPath, "dataset.py")
	require.NoError(t, err)
	require.Equal(t, strings.TrimSpace(big), strings.TrimSpace(string(data)))
	require.True(t, containsSubstring(res.Log, "won't overwrite"))
}

func TestRunRecycleMidRun(t *testing.T) {
	cfg := testSettings(t)
	cfg.Recycler.MaxTokens = 1024

	bigBody := func(prefix string) string {
		var b strings.Builder
		for i := 0; i < 400; i++ {
			fmt.Fprintf(&b, "%s_%d = %d\n", prefix, i, i)
		}
		return b.String()
	}
	llm := &fakeLLM{
		planList: "1. Generate the first values module\n2. Generate the second values module",
		steps: []string{
			pyResponse("first.py", bigBody("first")),
			pyResponse("second.py", bigBody("second")) + "\nPROJECT COMPLETE\n",
		},
	}
	eng := newTestEngine(t, llm, cfg, "")

	objective := "generate two large value modules"
	res := eng.Run(context.Background(), objective)
	require.Equal(t, StatusComplete, res.Status)
	require.True(t, containsSubstring(res.Log, "context recycled"))

	// The continuation restates the original objective in the next prompt.
	require.Len(t, llm.stepPrompts, 2)
	require.Contains(t, llm.stepPrompts[1], "Original objective: "+objective)
	require.Contains(t, llm.stepPrompts[1], "Remaining steps:")
}

func TestRunRecycleNotesFailureDoesNotStall(t *testing.T) {
	cfg := testSettings(t)
	cfg.Recycler.MaxTokens = 1024

	bigBody := func(prefix string) string {
		var b strings.Builder
		for i := 0; i < 400; i++ {
			fmt.Fprintf(&b, "%s_%d = %d\n", prefix, i, i)
		}
		return b.String()
	}
	llm := &fakeLLM{
		planList: "1. Generate the first values module\n2. Generate the second values module",
		steps: []string{
			pyResponse("first.py", bigBody("first")),
			pyResponse("second.py", bigBody("second")) + "\nPROJECT COMPLETE\n",
		},
	}
	eng := newTestEngine(t, llm, cfg, "")

	// Replace the notes dir with a plain file so every note write fails.
	require.NoError(t, os.RemoveAll(cfg.ContextDir()))
	require.NoError(t, os.WriteFile(cfg.ContextDir(), []byte("in the way"), 0o644))

	objective := "generate two large value modules"
	res := eng.Run(context.Background(), objective)
	require.Equal(t, StatusComplete, res.Status)

	// The failed recycle costs only the on-disk notes; the run still advances
	// one step per model call and the continuation still reaches the prompt.
	require.Equal(t, 2, llm.stepCalls)
	require.Contains(t, llm.stepPrompts[1], "Original objective: "+objective)
}

func TestRunStopAndResume(t *testing.T) {
	cfg := testSettings(t)
	llm := &fakeLLM{
		planList: "1. Create the first module file\n2. Create the second module file\n3. Create the third module file",
		steps: []string{
			pyResponse("one.py", "a = 1\n"),
			pyResponse("two.py", "b = 2\n"),
			pyResponse("three.py", "c = 3\n") + "\nPROJECT COMPLETE\n",
		},
	}
	eng := newTestEngine(t, llm, cfg, "")
	llm.onStep = func(n int) {
		if n == 2 {
			eng.Stop()
		}
	}

	res := eng.Run(context.Background(), "create three small modules")
	require.Equal(t, StatusStopped, res.Status)
	require.Equal(t, 2, res.Iterations)
	require.Equal(t, 2, llm.stepCalls)

	store, err := checkpoint.New(cfg.CheckpointsDir(), cfg.Checkpoints.Keep, nil)
	require.NoError(t, err)
	rec, ok := store.Latest()
	require.True(t, ok)
	require.Len(t, rec.CompletedSteps, 2)
	require.Len(t, rec.PendingSteps, 1)
	require.Equal(t, 2, rec.Iteration)

	// Resume from the checkpoint; only the remaining step runs.
	llm.onStep = nil
	eng2 := newTestEngine(t, llm, cfg, rec.ID)
	res2 := eng2.Run(context.Background(), rec.Objective)
	require.Equal(t, StatusComplete, res2.Status)
	require.Equal(t, 3, llm.stepCalls)
	require.Equal(t, 3, res2.Iterations)
	require.Equal(t, res.ProjectPath, res2.ProjectPath)

	for _, f := range []string{"one.py", "two.py", "three.py"} {
		_, err := readProjectFile(res2.ProjectPath, f)
		require.NoError(t, err, f)
	}
}

func TestCompletionSignalLineMatching(t *testing.T) {
	cfg := testSettings(t)
	eng := newTestEngine(t, &fakeLLM{}, cfg, "")

	// Outside fenced code, exact case, anywhere on a line.
	require.True(t, eng.hasCompletionSignal("all done\nPROJECT COMPLETE\n"))
	require.True(t, eng.hasCompletionSignal(pyResponse("a.py", "x = 1\n")+"\nPROJECT COMPLETE\n"))

	// Quoted inside an artifact body, or with different casing, is not a signal.
	require.False(t, eng.hasCompletionSignal(pyResponse("a.py", "print('PROJECT COMPLETE')\n")))
	require.False(t, eng.hasCompletionSignal("nearly project complete\n"))
}

func TestResumeObjectiveMismatchRejected(t *testing.T) {
	cfg := testSettings(t)
	llm := &fakeLLM{
		planList: "1. Create the only module file",
		steps:    []string{pyResponse("only.py", "x = 1\n") + "\nPROJECT COMPLETE\n"},
	}
	eng := newTestEngine(t, llm, cfg, "")
	res := eng.Run(context.Background(), "create one module")
	require.Equal(t, StatusComplete, res.Status)

	store, err := checkpoint.New(cfg.CheckpointsDir(), cfg.Checkpoints.Keep, nil)
	require.NoError(t, err)
	rec, ok := store.Latest()
	require.True(t, ok)

	eng2 := newTestEngine(t, llm, cfg, rec.ID)
	res2 := eng2.Run(context.Background(), "a completely different objective")
	require.Equal(t, StatusError, res2.Status)
	require.Error(t, res2.Err)
}

func readProjectFile(root, rel string) ([]byte, error) {
	return os.ReadFile(filepath.Join(root, rel))
}

func containsSubstring(log []string, sub string) bool {
	for _, line := range log {
		if strings.Contains(line, sub) {
			return true
		}
	}
	return false
}
