package dispatch

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"foreman/internal/config"
	"foreman/internal/project"
	"foreman/internal/roles"
	"foreman/internal/task"
)

func TestCategorizeKeywordTable(t *testing.T) {
	cases := []struct {
		text string
		want task.Category
	}{
		{"Create the navbar component with responsive layout", task.CategoryFrontend},
		{"Add the /users endpoint to the server", task.CategoryBackend},
		{"Write unit tests for the parser", task.CategoryQA},
		{"Set up the CI pipeline", task.CategoryOps},
		{"Investigate existing approaches in the literature", task.CategoryResearch},
		{"Draft the paper abstract", task.CategoryAcademic},
		{"Write the README documentation", task.CategoryContent},
		{"Analyze competitor pricing", task.CategoryBusiness},
		{"Build the pitch deck", task.CategoryPresentation},
		{"Produce an ADR for the storage choice", task.CategoryArchitecture},
		{"Do the thing", task.CategoryCore},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, Categorize(tc.text), "text: %s", tc.text)
	}
}

func TestCategorizeWordBoundaries(t *testing.T) {
	// "latest" must not fire the "test" rule; it should fall through.
	require.Equal(t, task.CategoryCore, Categorize("Fetch the latest news items"))
	require.Equal(t, task.CategoryCore, Categorize("greatest hits compilation"))
}

func TestTaggedPrefixesShortCircuit(t *testing.T) {
	require.Equal(t, task.CategoryFrontend, Categorize("[COMPONENT] something about databases"))
	require.Equal(t, task.CategoryArchitecture, Categorize("[ARCHITECTURE] pick the css framework"))
	require.Equal(t, task.CategoryBackend, Categorize("[INTEGRATION] hook up the ui"))
}

func TestRoleFor(t *testing.T) {
	require.Equal(t, "frontend", RoleFor(task.CategoryFrontend))
	require.Equal(t, "architect", RoleFor(task.CategoryArchitecture))
	require.Equal(t, "generalist", RoleFor(task.CategoryCore))
}

type fakeRetriever struct {
	result string
	err    error
	calls  int
}

func (f *fakeRetriever) Retrieve(_ context.Context, _, _ string, _ *project.Project) (string, error) {
	f.calls++
	return f.result, f.err
}

func TestDispatchPromptAssemblyOrder(t *testing.T) {
	p, err := project.Open(t.TempDir(), "proj", task.TypePython)
	require.NoError(t, err)

	retr := &fakeRetriever{result: "def existing(): ..."}
	d := New(roles.NewStatic(nil), retr, config.Budgets{RetrievalTokens: 2000}, nil)

	step := task.Step{Text: "Add the login endpoint", Category: task.CategoryBackend}
	out, err := d.Dispatch(context.Background(), step, "TYPE: python project", p)
	require.NoError(t, err)

	require.Equal(t, "backend", out.Role.Name)
	require.Contains(t, out.Role.Persona, "backend engineer")
	require.Equal(t, 1, retr.calls)

	// Assembly order: type fragment, step, retrieved context, output format.
	iType := indexOf(t, out.Prompt, "TYPE: python project")
	iStep := indexOf(t, out.Prompt, "Add the login endpoint")
	iCtx := indexOf(t, out.Prompt, "def existing()")
	iFmt := indexOf(t, out.Prompt, "OUTPUT FORMAT")
	require.Less(t, iType, iStep)
	require.Less(t, iStep, iCtx)
	require.Less(t, iCtx, iFmt)
	require.Contains(t, out.Prompt, `filename=`)
	require.Contains(t, out.Prompt, "[COMMAND]:")
}

func TestDispatchRetrievalFailureNonFatal(t *testing.T) {
	p, err := project.Open(t.TempDir(), "proj", task.TypePython)
	require.NoError(t, err)

	retr := &fakeRetriever{err: fmt.Errorf("index unavailable")}
	d := New(roles.NewStatic(nil), retr, config.Budgets{}, nil)

	out, err := d.Dispatch(context.Background(), task.Step{Text: "write tests", Category: task.CategoryQA}, "", p)
	require.NoError(t, err)
	require.Empty(t, out.Context)
	require.Contains(t, out.Prompt, "write tests")
}

func TestDispatchTruncatesContextToBudget(t *testing.T) {
	p, err := project.Open(t.TempDir(), "proj", task.TypePython)
	require.NoError(t, err)

	big := make([]byte, 1000)
	for i := range big {
		big[i] = 'x'
	}
	retr := &fakeRetriever{result: string(big)}
	d := New(roles.NewStatic(nil), retr, config.Budgets{RetrievalTokens: 100}, nil)

	out, err := d.Dispatch(context.Background(), task.Step{Text: "anything", Category: task.CategoryCore}, "", p)
	require.NoError(t, err)
	require.Contains(t, out.Prompt, "[context truncated]")
}

func indexOf(t *testing.T, s, sub string) int {
	t.Helper()
	i := strings.Index(s, sub)
	require.GreaterOrEqual(t, i, 0, "missing %q", sub)
	return i
}
