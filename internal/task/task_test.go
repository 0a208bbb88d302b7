package task

import (
	"strings"
	"testing"
	"time"
)

func TestPlanTransitions(t *testing.T) {
	p := NewPlan("obj", []Step{
		{Text: "one", Category: CategoryBackend},
		{Text: "two", Category: CategoryQA},
	})

	i, ok := p.NextPending()
	if !ok || i != 0 {
		t.Fatalf("NextPending = %d,%v", i, ok)
	}
	if err := p.MarkInProgress(0); err != nil {
		t.Fatal(err)
	}
	if err := p.MarkDone(0); err != nil {
		t.Fatal(err)
	}

	// A done step can never transition again.
	if err := p.MarkInProgress(0); err == nil {
		t.Error("expected error re-starting a done step")
	}
	if err := p.MarkDone(0); err == nil {
		t.Error("expected error re-completing a done step")
	}

	// Done is only reachable from in-progress.
	if err := p.MarkDone(1); err == nil {
		t.Error("expected error completing a pending step")
	}

	if err := p.MarkAbandoned(1); err != nil {
		t.Fatal(err)
	}
	if _, ok := p.NextPending(); ok {
		t.Error("no steps should remain pending")
	}

	pending, inProgress, done, abandoned := p.Counts()
	if pending != 0 || inProgress != 0 || done != 1 || abandoned != 1 {
		t.Errorf("counts = %d/%d/%d/%d", pending, inProgress, done, abandoned)
	}
}

func TestAbandonPendingCoding(t *testing.T) {
	p := NewPlan("obj", []Step{
		{Text: "build api", Category: CategoryBackend},
		{Text: "write docs", Category: CategoryContent},
		{Text: "build ui", Category: CategoryFrontend},
		{Text: "deploy", Category: CategoryOps},
	})
	if n := p.AbandonPendingCoding(); n != 2 {
		t.Fatalf("abandoned %d coding steps, want 2", n)
	}
	texts := p.PendingTexts()
	if len(texts) != 2 || texts[0] != "write docs" || texts[1] != "deploy" {
		t.Errorf("pending after abandon = %v", texts)
	}
}

func TestAppendDefaultsToPending(t *testing.T) {
	p := NewPlan("obj", nil)
	p.Append(Step{Text: "late addition", Category: CategoryCore})
	if p.Steps[0].Status != StepPending {
		t.Errorf("appended step status = %q", p.Steps[0].Status)
	}
}

func TestSlug(t *testing.T) {
	now := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	got := Slug("Create a Python function that adds two numbers", now)
	want := "create-python-function-adds-20260314-150926"
	if got != want {
		t.Errorf("Slug = %q, want %q", got, want)
	}

	// Punctuation and case are flattened.
	got = Slug("Build THE BEST(!) SaaS, now", now)
	if !strings.HasPrefix(got, "build-best-saas-now-") {
		t.Errorf("Slug = %q", got)
	}

	// Degenerate objective still yields a usable id.
	got = Slug("a the of", now)
	if !strings.HasPrefix(got, "task-") {
		t.Errorf("Slug fallback = %q", got)
	}
}

func TestDetectProjectType(t *testing.T) {
	cases := []struct {
		objective string
		want      ProjectType
	}{
		{"write a research paper on sorting", TypeResearch},
		{"build a landing page for my product", TypeLanding},
		{"create a react dashboard", TypeReact},
		{"ship a saas platform with billing", TypeFullstack},
		{"create a python function that adds two numbers", TypePython},
		{"make something nice", TypePython},
	}
	for _, tc := range cases {
		if got := DetectProjectType(tc.objective); got != tc.want {
			t.Errorf("DetectProjectType(%q) = %v, want %v", tc.objective, got, tc.want)
		}
	}
}

func TestExtAllowed(t *testing.T) {
	react := SpecFor(TypeReact)
	if !react.ExtAllowed(".jsx") {
		t.Error("react should allow .jsx")
	}
	if react.ExtAllowed(".py") {
		t.Error("react must forbid .py")
	}
	python := SpecFor(TypePython)
	if python.ExtAllowed(".tsx") {
		t.Error("python must forbid .tsx")
	}
	if !python.ExtAllowed(".md") {
		t.Error("python should allow .md")
	}
}

func TestCodingCategories(t *testing.T) {
	if !CategoryBackend.Coding() || !CategoryFrontend.Coding() || !CategoryCore.Coding() {
		t.Error("frontend/backend/core are coding categories")
	}
	if CategoryContent.Coding() || CategoryOps.Coding() {
		t.Error("content/ops are not coding categories")
	}
}
