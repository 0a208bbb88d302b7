// Package plan turns an objective into an ordered step list. Objective
// classification and minimum step counts are data; parsing is deliberately
// permissive because models format lists however they please.
package plan

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"foreman/internal/config"
	"foreman/internal/dispatch"
	"foreman/internal/perception"
	"foreman/internal/task"
)

// ErrPlanTooSmall means both the first ask and the minimum-count retry came
// back under the configured floor.
var ErrPlanTooSmall = errors.New("plan has too few steps")

// class is the objective classification driving prompt choice.
type class string

const (
	classComplex  class = "complex"
	classResearch class = "research"
	classGeneral  class = "general"
)

// complexKeywords mark business/platform scale objectives.
var complexKeywords = []string{
	"business", "startup", "saas", "platform", "company", "enterprise",
	"e-commerce", "marketplace",
}

const complexLengthThreshold = 400

// Planner generates and revises plans through the LLM.
type Planner struct {
	llm    perception.Client
	cfg    config.PlannerConfig
	logger *zap.Logger
}

// New builds a planner.
func New(llm perception.Client, cfg config.PlannerConfig, logger *zap.Logger) *Planner {
	if cfg.MinStepsComplex <= 0 {
		cfg.MinStepsComplex = 40
	}
	if cfg.MinStepsResearch <= 0 {
		cfg.MinStepsResearch = 10
	}
	if cfg.MinStepsGeneral <= 0 {
		cfg.MinStepsGeneral = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{llm: llm, cfg: cfg, logger: logger.Named("plan")}
}

func classify(objective string, ptype task.ProjectType) class {
	if ptype == task.TypeResearch {
		return classResearch
	}
	lower := strings.ToLower(objective)
	for _, kw := range complexKeywords {
		if strings.Contains(lower, kw) {
			return classComplex
		}
	}
	if len(objective) > complexLengthThreshold {
		return classComplex
	}
	return classGeneral
}

func (p *Planner) minSteps(c class) int {
	switch c {
	case classComplex:
		return p.cfg.MinStepsComplex
	case classResearch:
		return p.cfg.MinStepsResearch
	default:
		return p.cfg.MinStepsGeneral
	}
}

func promptFor(c class, objective string) string {
	switch c {
	case classComplex:
		return fmt.Sprintf(`Break this large objective into a deep-work plan of 10-20 substantial steps.
Each step must name ONE concrete file to produce and end with the word COMPLETE.
Output a numbered list, one step per line, nothing else.

OBJECTIVE: %s`, objective)
	case classResearch:
		return fmt.Sprintf(`Break this research objective into 10-15 steps. Each step produces one complete
file. The plan must cover, in order: a glossary of terms, the core algorithm,
data generation, a simulation or benchmark, analysis of the results, and the
final paper. Output a numbered list, one step per line, nothing else.

OBJECTIVE: %s`, objective)
	default:
		return fmt.Sprintf(`Break this objective into 20-50 small, concrete steps. Each step should be a
single action producing or changing one thing. Output a numbered list, one
step per line, nothing else.

OBJECTIVE: %s`, objective)
	}
}

// Plan asks the LLM for a step list. Under the minimum it re-asks once with
// an explicit floor; a non-empty retry is accepted as-is.
func (p *Planner) Plan(ctx context.Context, objective string, ptype task.ProjectType) (*task.Plan, error) {
	c := classify(objective, ptype)
	min := p.minSteps(c)

	steps, err := p.ask(ctx, promptFor(c, objective), planTemperature)
	if err != nil {
		return nil, fmt.Errorf("plan generation: %w", err)
	}

	if len(steps) < min {
		p.logger.Info("plan under minimum, retrying",
			zap.Int("got", len(steps)),
			zap.Int("min", min))
		retryPrompt := promptFor(c, objective) +
			fmt.Sprintf("\n\nIMPORTANT: produce a minimum of %d steps.", min)
		retry, err := p.ask(ctx, retryPrompt, planTemperature)
		if err == nil && len(retry) > 0 {
			steps = retry
		}
	}
	if len(steps) == 0 {
		return nil, ErrPlanTooSmall
	}

	p.logger.Info("plan generated",
		zap.String("class", string(c)),
		zap.Int("steps", len(steps)))
	return task.NewPlan(objective, steps), nil
}

// Replan revises a plan from critique feedback, preserving completed steps.
func (p *Planner) Replan(ctx context.Context, old *task.Plan, feedback string) (*task.Plan, error) {
	done := old.Completed()
	var pendingList strings.Builder
	for i, s := range old.PendingTexts() {
		fmt.Fprintf(&pendingList, "%d. %s\n", i+1, s)
	}

	prompt := fmt.Sprintf(`Revise the remaining steps of this plan to address the critique. Keep the
original intent. Output a numbered list of the revised remaining steps, one
per line, nothing else.

OBJECTIVE: %s

CRITIQUE:
%s

REMAINING STEPS:
%s`, old.Objective, feedback, pendingList.String())

	steps, err := p.ask(ctx, prompt, replanTemperature)
	if err != nil {
		return nil, fmt.Errorf("replan: %w", err)
	}
	if len(steps) == 0 {
		return nil, ErrPlanTooSmall
	}

	revised := task.NewPlan(old.Objective, nil)
	for _, s := range done {
		revised.Append(task.Step{Text: s.Text, Category: s.Category, Status: task.StepDone})
	}
	revised.Append(steps...)
	return revised, nil
}

// Revisions run colder than initial planning so the revised list stays close
// to the critique instead of re-inventing the plan.
const (
	planTemperature   = 0.4
	replanTemperature = 0.2
)

func (p *Planner) ask(ctx context.Context, prompt string, temperature float64) ([]task.Step, error) {
	if p.llm == nil {
		return nil, fmt.Errorf("no LLM client")
	}
	resp, err := p.llm.Complete(ctx, prompt, perception.Options{
		MaxTokens:   2048,
		Temperature: temperature,
	})
	if err != nil {
		return nil, err
	}
	return ParseSteps(resp), nil
}

var (
	numberedRe = regexp.MustCompile(`(?i)^(?:step\s+)?\d+[.):]\s*(.+)$`)
	bulletRe   = regexp.MustCompile(`^[-*\x{2022}]\s+(.+)$`)
	boldRe     = regexp.MustCompile(`^\*\*(.+?)\*\*:?\s*(.*)$`)
	bracketRe  = regexp.MustCompile(`^(\[[A-Z]+\]\s*.+)$`)
)

// ParseSteps extracts step lines from free-form model output. Pure section
// headers are rejected; everything that plausibly names an action is kept
// and categorized with the routing table.
func ParseSteps(text string) []task.Step {
	var steps []task.Step
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "```") {
			continue
		}

		var candidate string
		switch {
		case numberedRe.MatchString(line):
			candidate = numberedRe.FindStringSubmatch(line)[1]
		case bracketRe.MatchString(line):
			candidate = bracketRe.FindStringSubmatch(line)[1]
		case bulletRe.MatchString(line):
			candidate = bulletRe.FindStringSubmatch(line)[1]
		case boldRe.MatchString(line):
			m := boldRe.FindStringSubmatch(line)
			candidate = strings.TrimSpace(m[1] + " " + m[2])
		default:
			continue
		}

		candidate = strings.TrimSpace(candidate)
		if candidate == "" || isSectionHeader(candidate) {
			continue
		}
		steps = append(steps, task.Step{
			Text:     candidate,
			Category: dispatch.Categorize(candidate),
		})
	}
	return steps
}

// isSectionHeader rejects lines like "Phase 1:" that structure a list but
// name no action.
func isSectionHeader(line string) bool {
	if !strings.HasSuffix(line, ":") {
		return false
	}
	return len(strings.Fields(strings.TrimSuffix(line, ":"))) < 4
}
