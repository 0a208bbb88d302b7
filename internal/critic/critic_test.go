package critic

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"foreman/internal/perception"
)

// scriptedLLM returns canned responses in order, then repeats the last one.
type scriptedLLM struct {
	responses []string
	calls     int
	err       error
}

func (s *scriptedLLM) Complete(_ context.Context, _ string, _ perception.Options) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	idx := s.calls - 1
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	return s.responses[idx], nil
}

func TestVerdictMapping(t *testing.T) {
	cases := []struct {
		name     string
		response string
		want     Verdict
	}{
		{"clean", `[]`, VerdictPass},
		{"critical blocks", `[{"risk":"critical","title":"sql injection","description":"raw query"}]`, VerdictFixRequired},
		{"major warns", `[{"risk":"major","title":"no error handling","description":"bare except"}]`, VerdictReviewRequired},
		{"minor passes", `[{"risk":"minor","title":"naming","description":"style"}]`, VerdictPass},
		{"critical beats major", `[{"risk":"major","title":"a","description":"b"},{"risk":"critical","title":"c","description":"d"}]`, VerdictFixRequired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := New(&scriptedLLM{responses: []string{tc.response}}, 3, nil)
			review, err := c.Review(context.Background(), "content-"+tc.name, KindCode)
			require.NoError(t, err)
			require.Equal(t, tc.want, review.Verdict)
		})
	}
}

func TestOscillationCapForcesPass(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		`[{"risk":"critical","title":"bad","description":"still bad"}]`,
	}}
	c := New(llm, 3, nil)

	content := "def f():\n    pass\n"
	for i := 0; i < 3; i++ {
		review, err := c.Review(context.Background(), content, KindCode)
		require.NoError(t, err)
		require.Equal(t, VerdictFixRequired, review.Verdict)
	}

	// Fourth round on identical content short-circuits without an LLM call.
	before := llm.calls
	review, err := c.Review(context.Background(), content, KindCode)
	require.NoError(t, err)
	require.Equal(t, VerdictPass, review.Verdict)
	require.Equal(t, MaxRoundsNote, review.Note)
	require.Equal(t, before, llm.calls)
}

func TestDifferentContentResetsRounds(t *testing.T) {
	llm := &scriptedLLM{responses: []string{`[{"risk":"critical","title":"x","description":"y"}]`}}
	c := New(llm, 1, nil)

	review, err := c.Review(context.Background(), "version one", KindCode)
	require.NoError(t, err)
	require.Equal(t, VerdictFixRequired, review.Verdict)

	// Same content again is over the cap.
	review, err = c.Review(context.Background(), "version one", KindCode)
	require.NoError(t, err)
	require.Equal(t, VerdictPass, review.Verdict)

	// Changed content gets a fresh budget.
	review, err = c.Review(context.Background(), "version two", KindCode)
	require.NoError(t, err)
	require.Equal(t, VerdictFixRequired, review.Verdict)
}

func TestProseWrappedJSONParses(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		"Here is my review:\n```json\n[{\"risk\":\"major\",\"title\":\"t\",\"description\":\"d\"}]\n```\nDone.",
	}}
	c := New(llm, 3, nil)
	review, err := c.Review(context.Background(), "wrapped", KindPlan)
	require.NoError(t, err)
	require.Equal(t, VerdictReviewRequired, review.Verdict)
	require.Len(t, review.Issues, 1)
}

func TestUnknownRiskDowngradedToInfo(t *testing.T) {
	issues, err := parseIssues(`[{"risk":"catastrophic","title":"t","description":"d"}]`)
	require.NoError(t, err)
	require.Equal(t, RiskInfo, issues[0].Risk)
}

func TestMechanicalFallbackOnLLMError(t *testing.T) {
	llm := &scriptedLLM{err: fmt.Errorf("connection refused")}
	c := New(llm, 3, nil)

	review, err := c.Review(context.Background(), "os.system('rm -rf /tmp/x')", KindCode)
	require.NoError(t, err)
	require.Equal(t, VerdictFixRequired, review.Verdict)
	require.Equal(t, RiskCritical, review.Issues[0].Risk)
}

func TestMechanicalFallbackOnGarbageResponse(t *testing.T) {
	llm := &scriptedLLM{responses: []string{"I cannot review this content."}}
	c := New(llm, 3, nil)

	review, err := c.Review(context.Background(), "raise NotImplementedError", KindCode)
	require.NoError(t, err)
	require.Equal(t, VerdictReviewRequired, review.Verdict)
	require.Equal(t, RiskMajor, review.Issues[0].Risk)
}

func TestMechanicalScanEmptyContent(t *testing.T) {
	issues := mechanicalScan("   ", KindGeneral)
	require.Len(t, issues, 1)
	require.Equal(t, RiskInfo, issues[0].Risk)
}

func TestNoLLMUsesMechanicalScan(t *testing.T) {
	c := New(nil, 3, nil)
	review, err := c.Review(context.Background(), "clean content with nothing wrong", KindGeneral)
	require.NoError(t, err)
	require.Equal(t, VerdictPass, review.Verdict)
}
