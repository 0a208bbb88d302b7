// Package engine is the executor core: it owns the run loop that turns an
// objective into a finished project through planning, dispatch, extraction,
// sandboxed execution, validation, and critique. One goroutine drives one
// run; pause and stop are only observed at step boundaries.
package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"foreman/internal/browser"
	"foreman/internal/checkpoint"
	"foreman/internal/config"
	"foreman/internal/critic"
	"foreman/internal/dispatch"
	"foreman/internal/extract"
	"foreman/internal/memory"
	"foreman/internal/perception"
	"foreman/internal/plan"
	"foreman/internal/project"
	"foreman/internal/recycle"
	"foreman/internal/sandbox"
	"foreman/internal/task"
	"foreman/internal/validate"
)

// Status is the terminal state of a run.
type Status string

const (
	StatusComplete Status = "complete"
	StatusError    Status = "error"
	StatusStopped  Status = "stopped"
)

// Result is what Run hands back.
type Result struct {
	Status        Status
	Iterations    int
	ProjectPath   string
	GitHubURL     string
	DeploymentURL string
	Log           []string
	Err           error
}

// RepoHost pushes a finished project to a remote host. Nil disables.
type RepoHost interface {
	CreateAndPush(ctx context.Context, projectDir, name string) (string, error)
}

// Deployer publishes a finished project. Nil disables.
type Deployer interface {
	Deploy(ctx context.Context, projectDir string) (string, error)
}

// Config is the engine's full dependency set. Everything is injected;
// nothing is read from package-level state.
type Config struct {
	LLM         perception.Client
	Planner     *plan.Planner
	Dispatcher  *dispatch.Dispatcher
	Sandbox     *sandbox.Runner
	Validator   *validate.Validator
	Critic      *critic.Critic
	Recycler    *recycle.Recycler
	Checkpoints *checkpoint.Store
	Memory      *memory.Store
	Browser     *browser.QA
	RepoHost    RepoHost
	Deployer    Deployer
	Broadcaster *Broadcaster
	Logger      *zap.Logger
	Settings    *config.Config

	// NewExtractor builds the artifact extractor once the project type is
	// locked. Defaults to extract.New.
	NewExtractor func(task.ProjectType) *extract.Extractor

	// ResumeID resumes from a checkpoint instead of planning fresh.
	ResumeID string
	// ForceType skips type detection.
	ForceType task.ProjectType
	// ForceResume skips the objective match check on resume.
	ForceResume bool
}

// Engine drives one run at a time.
type Engine struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	paused  bool
	resume  chan struct{}
	stopped bool
	stopCh  chan struct{}
}

// New builds an engine. Logger and Broadcaster default when nil; the other
// dependencies are the caller's responsibility.
func New(cfg Config) (*Engine, error) {
	if cfg.Settings == nil {
		return nil, errors.New("engine: Settings is required")
	}
	if cfg.LLM == nil {
		return nil, errors.New("engine: LLM client is required")
	}
	if cfg.Planner == nil || cfg.Dispatcher == nil || cfg.Sandbox == nil ||
		cfg.Validator == nil || cfg.Critic == nil || cfg.Recycler == nil ||
		cfg.Checkpoints == nil {
		return nil, errors.New("engine: planner, dispatcher, sandbox, validator, critic, recycler, and checkpoints are all required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Broadcaster == nil {
		cfg.Broadcaster = NewBroadcaster()
	}
	if cfg.NewExtractor == nil {
		cfg.NewExtractor = func(pt task.ProjectType) *extract.Extractor {
			return extract.New(pt, cfg.Logger)
		}
	}
	return &Engine{
		cfg:    cfg,
		logger: cfg.Logger.Named("engine"),
		stopCh: make(chan struct{}),
	}, nil
}

// Events exposes the broadcaster for subscribers.
func (e *Engine) Events() *Broadcaster { return e.cfg.Broadcaster }

// Stop requests termination. The run finishes its in-flight step and exits
// at the next boundary.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	e.stopped = true
	close(e.stopCh)
	e.paused = false
	if e.resume != nil {
		close(e.resume)
		e.resume = nil
	}
}

// Pause requests a pause at the next step boundary. Idempotent.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.paused || e.stopped {
		return
	}
	e.paused = true
	e.resume = make(chan struct{})
}

// Resume releases a paused run. Idempotent.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.paused {
		return
	}
	e.paused = false
	if e.resume != nil {
		close(e.resume)
		e.resume = nil
	}
}

func (e *Engine) stopRequested() bool {
	select {
	case <-e.stopCh:
		return true
	default:
		return false
	}
}

// waitIfPaused blocks while paused. It returns false when the run should
// stop instead of continuing.
func (e *Engine) waitIfPaused(ctx context.Context, r *run) bool {
	e.mu.Lock()
	paused := e.paused
	resume := e.resume
	e.mu.Unlock()
	if !paused {
		return !e.stopRequested() && ctx.Err() == nil
	}

	e.emit(EventStatus, "paused", "", r.iteration)
	r.checkpoint(e)
	select {
	case <-resume:
	case <-ctx.Done():
		return false
	}
	if e.stopRequested() {
		return false
	}
	e.emit(EventStatus, "executing", "", r.iteration)
	return true
}

func (e *Engine) emit(kind EventKind, content, step string, iteration int) {
	e.cfg.Broadcaster.Publish(Event{Kind: kind, Content: content, Step: step, Iteration: iteration})
}

// run is the per-run mutable state.
type run struct {
	objective string
	ptype     task.ProjectType
	spec      task.TypeSpec
	plan      *task.Plan
	project   *project.Project
	extractor *extract.Extractor
	iteration int
	coding    int
	carry     string // continuation text injected after a recycle
	log       []string
	slug      string
}

func (r *run) note(format string, args ...any) string {
	line := fmt.Sprintf(format, args...)
	r.log = append(r.log, line)
	return line
}

// checkpoint snapshots the run; failures are logged, never fatal.
func (r *run) checkpoint(e *Engine) {
	var done []string
	for _, s := range r.plan.Completed() {
		done = append(done, s.Text)
	}
	rec := checkpoint.Record{
		Objective:      r.objective,
		Iteration:      r.iteration,
		CompletedSteps: done,
		PendingSteps:   r.plan.PendingTexts(),
		ProjectPath:    r.project.Root,
		Metadata: map[string]string{
			"project_type": string(r.ptype),
			"slug":         r.slug,
		},
	}
	if _, err := e.cfg.Checkpoints.Save(rec); err != nil {
		e.logger.Warn("checkpoint save failed", zap.Error(err))
		e.emit(EventError, "checkpoint: "+err.Error(), "", r.iteration)
	}
}

// Run executes one objective to completion.
func (e *Engine) Run(ctx context.Context, objective string) Result {
	r := &run{}
	e.emit(EventStatus, "planning", "", 0)

	var err error
	if e.cfg.ResumeID != "" {
		err = e.restore(ctx, r, objective)
	} else {
		err = e.intake(ctx, r, objective)
	}
	if err != nil {
		e.emit(EventError, err.Error(), "", 0)
		return Result{Status: StatusError, Log: r.log, Err: err}
	}

	e.emit(EventStatus, "executing", "", r.iteration)
	status := e.loop(ctx, r)

	if status != StatusStopped {
		e.emit(EventStatus, "finalizing", "", r.iteration)
		e.finalize(ctx, r)
	}
	r.checkpoint(e)

	res := Result{
		Status:      status,
		Iterations:  r.iteration,
		ProjectPath: r.project.Root,
		Log:         r.log,
	}
	if status == StatusComplete {
		e.postPhases(ctx, r, &res)
	}
	e.emit(EventStatus, string(status), "", r.iteration)
	return res
}

// intake refines the objective, locks the project type, plans, and prepares
// the project directory.
func (e *Engine) intake(ctx context.Context, r *run, objective string) error {
	objective = strings.TrimSpace(objective)
	if objective == "" {
		return errors.New("empty objective")
	}

	if n := e.cfg.Settings.Engine.RefineShorterThan; n > 0 && len(objective) < n {
		refined, err := e.cfg.LLM.Complete(ctx,
			"Expand this one-line task into a single concrete paragraph describing what to build. Reply with the paragraph only.\n\nTASK: "+objective,
			perception.Options{MaxTokens: 256, Temperature: 0.3})
		if err == nil && strings.TrimSpace(refined) != "" {
			objective = strings.TrimSpace(refined)
			e.emit(EventLog, "objective refined", "", 0)
		}
	}
	r.objective = objective

	r.ptype = e.cfg.ForceType
	if r.ptype == "" {
		r.ptype = task.DetectProjectType(objective)
	}
	r.spec = task.SpecFor(r.ptype)
	e.emit(EventLog, "project type locked: "+string(r.ptype), "", 0)

	// Novelty phrasing invalidates carried-over research context.
	lower := strings.ToLower(objective)
	for _, marker := range []string{"novel", "invent", "propose new"} {
		if strings.Contains(lower, marker) {
			if err := e.cfg.Recycler.ClearDomains(recycle.DomainResearch, recycle.DomainDecisions); err != nil {
				e.logger.Warn("clearing notes failed", zap.Error(err))
			}
			break
		}
	}

	p, err := e.cfg.Planner.Plan(ctx, objective, r.ptype)
	if err != nil {
		return fmt.Errorf("planning: %w", err)
	}
	r.plan = p

	// Plan critique; a FIX_REQUIRED verdict buys exactly one replan.
	review, err := e.cfg.Critic.Review(ctx, planText(p), critic.KindPlan)
	if err == nil && review.Verdict == critic.VerdictFixRequired {
		feedback := critiqueText(review)
		if revised, rerr := e.cfg.Planner.Replan(ctx, p, feedback); rerr == nil {
			r.plan = revised
			e.emit(EventLog, "plan revised after critique", "", 0)
		}
	}

	if err := e.cfg.Recycler.SetTask(r.objective, r.plan.PendingTexts()); err != nil {
		e.logger.Warn("seeding task notes failed", zap.Error(err))
	}

	// Recall of similar past runs feeds the decisions notes, best-effort.
	if e.cfg.Memory != nil {
		if hits, err := e.cfg.Memory.Search(ctx, strings.Fields(lower), 3); err == nil {
			for _, h := range hits {
				_ = e.cfg.Recycler.SaveToDomain(recycle.DomainDecisions,
					fmt.Sprintf("Past run (%s): %s — %s", h.Status, h.Objective, h.Summary))
			}
		}
	}

	r.slug = task.Slug(r.objective, time.Now())
	r.project, err = project.Open(e.cfg.Settings.ProjectsDir(), r.slug, r.ptype)
	if err != nil {
		return fmt.Errorf("prepare project: %w", err)
	}
	r.extractor = e.cfg.NewExtractor(r.ptype)
	r.note("project at %s", r.project.Root)
	return nil
}

// restore rebuilds run state from a checkpoint.
func (e *Engine) restore(ctx context.Context, r *run, objective string) error {
	rec, err := e.cfg.Checkpoints.ByID(e.cfg.ResumeID)
	if err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	if objective != "" && !e.cfg.ForceResume && !strings.EqualFold(strings.TrimSpace(objective), strings.TrimSpace(rec.Objective)) {
		return fmt.Errorf("resume: objective does not match checkpoint %s", rec.ID)
	}

	r.objective = rec.Objective
	r.iteration = rec.Iteration
	r.ptype = task.ProjectType(rec.Metadata["project_type"])
	if r.ptype == "" {
		r.ptype = task.DetectProjectType(rec.Objective)
	}
	r.spec = task.SpecFor(r.ptype)
	r.slug = rec.Metadata["slug"]
	if r.slug == "" {
		r.slug = filepath.Base(rec.ProjectPath)
	}

	var steps []task.Step
	for _, text := range rec.CompletedSteps {
		steps = append(steps, task.Step{Text: text, Category: dispatch.Categorize(text), Status: task.StepDone})
	}
	for _, text := range rec.PendingSteps {
		steps = append(steps, task.Step{Text: text, Category: dispatch.Categorize(text)})
	}
	r.plan = task.NewPlan(rec.Objective, steps)

	r.project, err = project.Open(e.cfg.Settings.ProjectsDir(), r.slug, r.ptype)
	if err != nil {
		return fmt.Errorf("resume project: %w", err)
	}
	r.extractor = e.cfg.NewExtractor(r.ptype)

	if err := e.cfg.Recycler.SetTask(r.objective, r.plan.PendingTexts()); err != nil {
		e.logger.Warn("seeding task notes failed", zap.Error(err))
	}
	r.note("resumed from checkpoint %s at iteration %d", rec.ID, rec.Iteration)
	e.emit(EventLog, r.log[len(r.log)-1], "", r.iteration)
	return nil
}

// loop is the main step loop.
func (e *Engine) loop(ctx context.Context, r *run) Status {
	eng := e.cfg.Settings.Engine
	for {
		if e.stopRequested() || ctx.Err() != nil {
			return StatusStopped
		}
		if !e.waitIfPaused(ctx, r) {
			return StatusStopped
		}

		if e.cfg.Recycler.NeedsRecycle() {
			cont, err := e.cfg.Recycler.Recycle(ctx, e.summarizer(), r.plan)
			if err != nil {
				e.logger.Warn("recycle failed", zap.Error(err))
				e.emit(EventError, "recycler: "+err.Error(), "", r.iteration)
			} else {
				r.carry = cont
				e.emit(EventProgress, r.note("context recycled at iteration %d", r.iteration), "", r.iteration)
			}
			continue
		}

		idx, ok := r.plan.NextPending()
		if !ok {
			if e.researchGateBlocked(ctx, r) {
				continue
			}
			return StatusComplete
		}
		if r.iteration >= eng.MaxIterations {
			e.emit(EventProgress, r.note("iteration cap %d reached", eng.MaxIterations), "", r.iteration)
			return StatusComplete
		}

		step := r.plan.Steps[idx]
		if step.Category.Coding() {
			if r.coding >= eng.MaxCodingIterations {
				n := r.plan.AbandonPendingCoding()
				e.emit(EventProgress, r.note("coding cap reached, abandoned %d coding steps", n), "", r.iteration)
				continue
			}
			r.coding++
		}
		if err := r.plan.MarkInProgress(idx); err != nil {
			e.logger.Warn("step transition failed", zap.Error(err))
			continue
		}
		r.iteration++
		e.emit(EventProgress, fmt.Sprintf("step %d/%d: %s", r.iteration, len(r.plan.Steps), step.Text), step.Text, r.iteration)

		done, signal := e.executeStep(ctx, r, idx, step)
		if done {
			if err := r.plan.MarkDone(idx); err != nil {
				e.logger.Warn("step completion failed", zap.Error(err))
			}
			if err := e.cfg.Recycler.RecordStepDone(step.Text); err != nil {
				e.logger.Warn("recording step failed", zap.Error(err))
			}
		} else if err := r.plan.MarkAbandoned(idx); err != nil {
			e.logger.Warn("step abandon failed", zap.Error(err))
		}

		if signal {
			e.emit(EventProgress, r.note("completion signal received"), step.Text, r.iteration)
			return StatusComplete
		}
		if e.cfg.Settings.Checkpoints.Every > 0 && r.iteration%e.cfg.Settings.Checkpoints.Every == 0 {
			r.checkpoint(e)
		}
	}
}

// executeStep runs the dispatch → LLM → extract → sandbox → validate →
// critique pipeline for one step. It reports whether the step completed and
// whether the response carried a completion signal.
func (e *Engine) executeStep(ctx context.Context, r *run, idx int, step task.Step) (bool, bool) {
	d, err := e.cfg.Dispatcher.Dispatch(ctx, step, r.spec.PromptFragment, r.project)
	if err != nil {
		e.emit(EventError, "dispatch: "+err.Error(), step.Text, r.iteration)
		return false, false
	}

	prompt := d.Prompt
	if r.carry != "" {
		prompt = r.carry + "\n\n" + prompt
		r.carry = ""
	}

	response, err := e.completeWithRecovery(ctx, prompt, d.Role.Persona)
	if err != nil {
		e.emit(EventError, r.note("llm: step failed: %v", err), step.Text, r.iteration)
		return false, false
	}
	e.cfg.Recycler.Observe(recycle.EstimateTokens(prompt) + recycle.EstimateTokens(response))
	e.emit(EventResponse, firstLine(response), step.Text, r.iteration)

	signal := e.hasCompletionSignal(response)

	written := e.applyResponse(ctx, r, step, response)

	// Validator issues buy bounded repair rounds.
	retries := e.cfg.Settings.Engine.ValidationRetries
	for round := 0; round < retries; round++ {
		issues := e.validateFiles(ctx, r, written)
		if len(issues) == 0 {
			break
		}
		e.emit(EventProgress, r.note("validator: %d issue(s), repair round %d", len(issues), round+1), step.Text, r.iteration)
		repair := repairPrompt(step.Text, issues, written)
		response, err = e.completeWithRecovery(ctx, repair, d.Role.Persona)
		if err != nil {
			e.emit(EventError, "llm repair: "+err.Error(), step.Text, r.iteration)
			break
		}
		e.cfg.Recycler.Observe(recycle.EstimateTokens(repair) + recycle.EstimateTokens(response))
		written = append(written, e.applyResponse(ctx, r, step, response)...)
	}

	// Critic pass on the step's output.
	review, err := e.cfg.Critic.Review(ctx, response, criticKind(step.Category))
	if err == nil && review.Verdict == critic.VerdictFixRequired {
		e.emit(EventProgress, r.note("critic: fix required on step %q", step.Text), step.Text, r.iteration)
		repair := "A reviewer found these problems with your previous output:\n" + critiqueText(review) +
			"\nProduce corrected files in the same output format."
		if fixed, ferr := e.completeWithRecovery(ctx, repair, d.Role.Persona); ferr == nil {
			e.cfg.Recycler.Observe(recycle.EstimateTokens(repair) + recycle.EstimateTokens(fixed))
			e.applyResponse(ctx, r, step, fixed)
		}
	}

	summary := fmt.Sprintf("%s (files: %d)", step.Text, len(written))
	if err := e.cfg.Recycler.SaveToDomain(domainFor(step.Category), summary); err != nil {
		e.logger.Warn("domain note failed", zap.Error(err))
	}
	return true, signal
}

// applyResponse extracts artifacts and commands from a response, persists
// the artifacts, and runs the commands through the sandbox. It returns the
// relative paths written.
func (e *Engine) applyResponse(ctx context.Context, r *run, step task.Step, response string) []string {
	extraction := r.extractor.Extract(response)

	written, skips, err := r.extractor.Persist(r.project, extraction.Artifacts)
	if err != nil {
		e.emit(EventError, "writer: "+err.Error(), step.Text, r.iteration)
	}
	for _, s := range skips {
		e.emit(EventProgress, r.note("skipped %s: %s", s.Path, s.Reason), step.Text, r.iteration)
	}

	var paths []string
	for _, w := range written {
		paths = append(paths, w.Path)
		e.emit(EventProgress, fmt.Sprintf("wrote %s (%d bytes)", w.Path, w.Bytes), step.Text, r.iteration)
	}

	for _, cmd := range extraction.Commands {
		res, err := e.cfg.Sandbox.Run(ctx, cmd, r.project.Root)
		switch {
		case err != nil:
			e.emit(EventError, r.note("sandbox: %v", err), step.Text, r.iteration)
		case res.Blocked:
			e.emit(EventProgress, r.note("command %q %s", cmd, res.BlockReason), step.Text, r.iteration)
			r.carry = appendFeedback(r.carry, fmt.Sprintf("The command %q was %s. Do not use it again.", cmd, res.BlockReason))
		case res.TimedOut:
			e.emit(EventProgress, r.note("command %q timed out", cmd), step.Text, r.iteration)
			r.carry = appendFeedback(r.carry, fmt.Sprintf("The command %q timed out.", cmd))
		case res.ExitCode != 0:
			e.emit(EventProgress, r.note("command %q exited %d", cmd, res.ExitCode), step.Text, r.iteration)
			r.carry = appendFeedback(r.carry, fmt.Sprintf("The command %q failed (exit %d):\n%s", cmd, res.ExitCode, res.Stderr))
		default:
			e.emit(EventProgress, fmt.Sprintf("command ok: %s", cmd), step.Text, r.iteration)
		}
		for _, created := range res.CreatedFiles {
			if !r.project.Ignored(created) {
				r.project.Index().Add(created)
			}
		}
	}
	if err := r.project.Index().Save(); err != nil {
		e.logger.Warn("index save failed", zap.Error(err))
	}
	return paths
}

func (e *Engine) validateFiles(ctx context.Context, r *run, files []string) []validate.Issue {
	if len(files) == 0 {
		return nil
	}
	issues, err := e.cfg.Validator.Check(ctx, r.project, dedupe(files))
	if err != nil {
		e.logger.Warn("validation failed", zap.Error(err))
		return nil
	}
	return issues
}

// completeWithRecovery retries LLM calls; an empty response counts as a
// failure.
func (e *Engine) completeWithRecovery(ctx context.Context, prompt, system string) (string, error) {
	retries := e.cfg.Settings.Engine.LLMRetries
	if retries < 0 {
		retries = 0
	}
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
		resp, err := e.cfg.LLM.Complete(ctx, prompt, perception.Options{
			MaxTokens: e.cfg.Settings.LLM.MaxTokens,
			System:    system,
		})
		if err != nil {
			lastErr = err
			continue
		}
		if strings.TrimSpace(resp) == "" {
			lastErr = errors.New("empty response")
			continue
		}
		return resp, nil
	}
	return "", fmt.Errorf("after %d attempts: %w", retries+1, lastErr)
}

// hasCompletionSignal reports whether a response line outside fenced code
// carries a completion signal. Matching is case-sensitive and line-based so
// a signal quoted inside an artifact body never ends the run.
func (e *Engine) hasCompletionSignal(response string) bool {
	inFence := false
	for _, raw := range strings.Split(response, "\n") {
		line := strings.TrimSpace(raw)
		if strings.HasPrefix(line, "```") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		for _, sig := range e.cfg.Settings.Engine.CompletionSignals {
			if sig != "" && strings.Contains(line, sig) {
				return true
			}
		}
	}
	return false
}

// summarizer adapts the LLM to the recycler's callback.
func (e *Engine) summarizer() recycle.Summarizer {
	return func(ctx context.Context, objective string, done, pending []string, maxWords int) (string, error) {
		prompt := fmt.Sprintf(`Summarize the progress of this task in at most %d words. State what has been
built and any decisions that must carry forward. Reply with the summary only.

OBJECTIVE: %s

COMPLETED (%d):
%s

PENDING (%d):
%s`, maxWords, objective, len(done), strings.Join(done, "\n"), len(pending), strings.Join(pending, "\n"))
		return e.cfg.LLM.Complete(ctx, prompt, perception.Options{MaxTokens: 1024, Temperature: 0.3})
	}
}

// researchGateBlocked enforces the research completion gate: required files
// exist and carry no placeholders. Failing files are turned into remediation
// steps exactly once.
func (e *Engine) researchGateBlocked(ctx context.Context, r *run) bool {
	if len(r.spec.RequiredFiles) == 0 || r.gateChecked(r.plan) {
		return false
	}
	var missing []string
	for _, rel := range r.spec.RequiredFiles {
		data, err := r.project.ReadFile(rel)
		if err != nil || len(data) == 0 {
			missing = append(missing, rel)
			continue
		}
		if extract.HasPlaceholders(data) {
			missing = append(missing, rel)
		}
	}
	if len(missing) == 0 {
		return false
	}
	for _, rel := range missing {
		text := fmt.Sprintf("Produce the complete final version of %s with no placeholders", rel)
		r.plan.Append(task.Step{Text: text, Category: dispatch.Categorize(text)})
	}
	e.emit(EventProgress, r.note("completion gate: %d required file(s) unfinished", len(missing)), "", r.iteration)
	return true
}

// gateChecked reports whether remediation steps were already appended, so
// the gate fires at most once.
func (r *run) gateChecked(p *task.Plan) bool {
	for _, s := range p.Steps {
		if strings.HasPrefix(s.Text, "Produce the complete final version of ") {
			return true
		}
	}
	return false
}

func planText(p *task.Plan) string {
	var b strings.Builder
	b.WriteString("Objective: " + p.Objective + "\n")
	for i, s := range p.Steps {
		fmt.Fprintf(&b, "%d. %s\n", i+1, s.Text)
	}
	return b.String()
}

func critiqueText(review critic.Review) string {
	var b strings.Builder
	for _, is := range review.Issues {
		fmt.Fprintf(&b, "- [%s] %s: %s", is.Risk, is.Title, is.Description)
		if is.SuggestedFix != "" {
			fmt.Fprintf(&b, " (fix: %s)", is.SuggestedFix)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func repairPrompt(step string, issues []validate.Issue, files []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The files you produced for the step %q have problems:\n", step)
	for _, is := range issues {
		if is.Line > 0 {
			fmt.Fprintf(&b, "- %s:%d: %s\n", is.File, is.Line, is.Message)
		} else {
			fmt.Fprintf(&b, "- %s: %s\n", is.File, is.Message)
		}
	}
	fmt.Fprintf(&b, "\nFiles in play: %s\n", strings.Join(dedupe(files), ", "))
	b.WriteString("Re-emit each broken file, complete and corrected, in the same output format.")
	return b.String()
}

func criticKind(c task.Category) critic.Kind {
	switch {
	case c.Coding():
		return critic.KindCode
	case c == task.CategoryResearch || c == task.CategoryAcademic:
		return critic.KindResearch
	case c == task.CategoryBusiness:
		return critic.KindBusiness
	default:
		return critic.KindGeneral
	}
}

func domainFor(c task.Category) string {
	switch c {
	case task.CategoryFrontend:
		return recycle.DomainFrontend
	case task.CategoryBackend:
		return recycle.DomainBackend
	case task.CategoryResearch, task.CategoryAcademic:
		return recycle.DomainResearch
	default:
		return recycle.DomainDecisions
	}
}

func appendFeedback(carry, line string) string {
	if carry == "" {
		return line
	}
	return carry + "\n" + line
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 160 {
		s = s[:160] + "..."
	}
	return s
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
