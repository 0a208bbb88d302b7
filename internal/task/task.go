// Package task holds the run data model: the objective, the plan and its
// steps, and the project type table. The engine is the single writer of a
// Plan; these types carry no locking of their own.
package task

import (
	"fmt"
	"strings"
	"time"
)

// Category tags a step with the specialist domain it belongs to.
type Category string

const (
	CategoryFrontend     Category = "FRONTEND"
	CategoryBackend      Category = "BACKEND"
	CategoryResearch     Category = "RESEARCH"
	CategoryAcademic     Category = "ACADEMIC"
	CategoryQA           Category = "QA"
	CategoryOps          Category = "OPS"
	CategoryContent      Category = "CONTENT"
	CategoryBusiness     Category = "BUSINESS"
	CategoryPresentation Category = "PRESENTATION"
	CategoryCore         Category = "CORE"
	CategoryArchitecture Category = "ARCHITECTURE"
)

// codingCategories drive the separate coding-iteration cap in the engine.
var codingCategories = map[Category]bool{
	CategoryFrontend: true,
	CategoryBackend:  true,
	CategoryCore:     true,
}

// Coding reports whether steps of this category count against the
// coding-iteration cap.
func (c Category) Coding() bool { return codingCategories[c] }

// StepStatus is the lifecycle state of a step.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in-progress"
	StepDone       StepStatus = "done"
	StepAbandoned  StepStatus = "abandoned"
)

// Step is one directive dispatched to one specialist role.
type Step struct {
	Text     string     `json:"text"`
	Category Category   `json:"category"`
	Status   StepStatus `json:"status"`
}

// Plan is the ordered step sequence for one objective. Step lifecycle
// transitions happen exactly once per run: pending -> in-progress ->
// (done | abandoned); the Mark methods enforce that.
type Plan struct {
	Objective string `json:"objective"`
	Steps     []Step `json:"steps"`
}

// NewPlan builds a plan with all steps pending.
func NewPlan(objective string, steps []Step) *Plan {
	for i := range steps {
		if steps[i].Status == "" {
			steps[i].Status = StepPending
		}
	}
	return &Plan{Objective: objective, Steps: steps}
}

// NextPending returns the index of the first pending step.
func (p *Plan) NextPending() (int, bool) {
	for i := range p.Steps {
		if p.Steps[i].Status == StepPending {
			return i, true
		}
	}
	return 0, false
}

// MarkInProgress transitions a pending step.
func (p *Plan) MarkInProgress(i int) error {
	return p.transition(i, StepPending, StepInProgress)
}

// MarkDone transitions an in-progress step.
func (p *Plan) MarkDone(i int) error {
	return p.transition(i, StepInProgress, StepDone)
}

// MarkAbandoned abandons a pending or in-progress step.
func (p *Plan) MarkAbandoned(i int) error {
	if i < 0 || i >= len(p.Steps) {
		return fmt.Errorf("step index %d out of range", i)
	}
	s := p.Steps[i].Status
	if s != StepPending && s != StepInProgress {
		return fmt.Errorf("step %d: cannot abandon from %q", i, s)
	}
	p.Steps[i].Status = StepAbandoned
	return nil
}

func (p *Plan) transition(i int, from, to StepStatus) error {
	if i < 0 || i >= len(p.Steps) {
		return fmt.Errorf("step index %d out of range", i)
	}
	if p.Steps[i].Status != from {
		return fmt.Errorf("step %d: cannot move %q -> %q", i, p.Steps[i].Status, to)
	}
	p.Steps[i].Status = to
	return nil
}

// Append adds steps to the end of the plan, pending.
func (p *Plan) Append(steps ...Step) {
	for _, s := range steps {
		if s.Status == "" {
			s.Status = StepPending
		}
		p.Steps = append(p.Steps, s)
	}
}

// AbandonPendingCoding abandons every remaining pending coding step so the
// later phases (git, deploy) still run after the coding cap is hit. Returns
// how many steps were abandoned.
func (p *Plan) AbandonPendingCoding() int {
	n := 0
	for i := range p.Steps {
		if p.Steps[i].Status == StepPending && p.Steps[i].Category.Coding() {
			p.Steps[i].Status = StepAbandoned
			n++
		}
	}
	return n
}

// Pending returns copies of the pending steps, in order.
func (p *Plan) Pending() []Step {
	var out []Step
	for _, s := range p.Steps {
		if s.Status == StepPending {
			out = append(out, s)
		}
	}
	return out
}

// Completed returns copies of the done steps, in order.
func (p *Plan) Completed() []Step {
	var out []Step
	for _, s := range p.Steps {
		if s.Status == StepDone {
			out = append(out, s)
		}
	}
	return out
}

// PendingTexts returns the texts of pending steps, in order.
func (p *Plan) PendingTexts() []string {
	var out []string
	for _, s := range p.Steps {
		if s.Status == StepPending {
			out = append(out, s.Text)
		}
	}
	return out
}

// Counts reports step totals per lifecycle state.
func (p *Plan) Counts() (pending, inProgress, done, abandoned int) {
	for _, s := range p.Steps {
		switch s.Status {
		case StepPending:
			pending++
		case StepInProgress:
			inProgress++
		case StepDone:
			done++
		case StepAbandoned:
			abandoned++
		}
	}
	return
}

// slugStopwords are dropped when deriving the objective id.
var slugStopwords = map[string]bool{
	"a": true, "an": true, "the": true, "for": true, "and": true,
	"or": true, "to": true, "of": true, "with": true, "that": true,
	"in": true, "on": true, "into": true, "is": true,
}

// Slug derives the filesystem-safe objective id: the first four content
// words joined by dashes plus a timestamp suffix.
func Slug(objective string, now time.Time) string {
	var words []string
	for _, w := range strings.Fields(strings.ToLower(objective)) {
		var b strings.Builder
		for _, r := range w {
			if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
				b.WriteRune(r)
			}
		}
		w = b.String()
		if w == "" || slugStopwords[w] {
			continue
		}
		words = append(words, w)
		if len(words) == 4 {
			break
		}
	}
	if len(words) == 0 {
		words = []string{"task"}
	}
	return strings.Join(words, "-") + "-" + now.Format("20060102-150405")
}
