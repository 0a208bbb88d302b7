package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"foreman/internal/critic"
	"foreman/internal/extract"
	"foreman/internal/memory"
)

// stubExts are the extensions the zero-content sweep inspects.
var stubExts = map[string]bool{
	".py": true, ".js": true, ".jsx": true, ".ts": true, ".tsx": true,
	".md": true, ".html": true, ".css": true,
}

const stubByteFloor = 100

// finalize cleans the project tree and writes the closing reports. Every
// part is best-effort; a failed report never fails the run.
func (e *Engine) finalize(ctx context.Context, r *run) {
	e.sweepTree(r)

	files, err := r.project.ScanTree()
	if err != nil {
		e.logger.Warn("final scan failed", zap.Error(err))
		files = r.project.Index().Sorted()
	}

	issues := e.validateFiles(ctx, r, files)
	var issueLines []string
	for _, is := range issues {
		issueLines = append(issueLines, fmt.Sprintf("%s:%d: %s", is.File, is.Line, is.Message))
	}

	reviewNote := ""
	if review, rerr := e.cfg.Critic.Review(ctx, inventoryText(r, files), critic.KindGeneral); rerr == nil {
		reviewNote = string(review.Verdict)
		e.writeCodeReviewJSON(r, files, issueLines, review)
	}
	e.writeDocumentation(r, files, reviewNote)

	pending, inProgress, done, abandoned := r.plan.Counts()
	e.emit(EventProgress, r.note("finalized: %d files, %d syntax issue(s), steps %d done / %d abandoned / %d pending / %d in progress",
		len(files), len(issues), done, abandoned, pending, inProgress), "", r.iteration)
}

// sweepTree removes stdlib-shadow files and near-empty stubs that slipped
// onto disk outside the writer's guards.
func (e *Engine) sweepTree(r *run) {
	files, err := r.project.ScanTree()
	if err != nil {
		e.logger.Warn("sweep scan failed", zap.Error(err))
		return
	}
	for _, rel := range files {
		base := filepath.Base(rel)
		if extract.IsShadowName(base) {
			if err := r.project.Remove(rel); err == nil {
				e.emit(EventProgress, r.note("removed %s: shadows a standard library module", rel), "", r.iteration)
			}
			continue
		}
		if !stubExts[strings.ToLower(filepath.Ext(rel))] {
			continue
		}
		// Indexed files went through the writer's filters; the stub sweep only
		// targets small files that appeared outside it.
		if r.project.Index().Has(rel) {
			continue
		}
		if size := r.project.Size(rel); size >= 0 && size < stubByteFloor {
			data, rerr := r.project.ReadFile(rel)
			if rerr != nil || len(strings.TrimSpace(string(data))) == 0 || extract.HasPlaceholders(data) {
				if err := r.project.Remove(rel); err == nil {
					e.emit(EventProgress, r.note("removed %s: empty stub", rel), "", r.iteration)
				}
			}
		}
	}
}

type codeReview struct {
	Objective   string   `json:"objective"`
	ProjectType string   `json:"project_type"`
	Verdict     string   `json:"verdict"`
	Files       []string `json:"files"`
	Issues      []string `json:"issues"`
	Notes       []string `json:"notes,omitempty"`
}

// writeCodeReviewJSON persists the final QA outcome under .state/.
func (e *Engine) writeCodeReviewJSON(r *run, files, issueLines []string, review critic.Review) {
	cr := codeReview{
		Objective:   r.objective,
		ProjectType: string(r.ptype),
		Verdict:     string(review.Verdict),
		Files:       files,
		Issues:      issueLines,
	}
	for _, is := range review.Issues {
		cr.Notes = append(cr.Notes, fmt.Sprintf("[%s] %s: %s", is.Risk, is.Title, is.Description))
	}
	data, err := json.MarshalIndent(cr, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(r.project.StatePath("code_review.json"), data, 0o644); err != nil {
		e.logger.Warn("code review write failed", zap.Error(err))
	}
}

// writeDocumentation emits the final file inventory document.
func (e *Engine) writeDocumentation(r *run, files []string, verdict string) {
	var b strings.Builder
	fmt.Fprintf(&b, "# Project Documentation\n\n")
	fmt.Fprintf(&b, "**Objective:** %s\n\n", r.objective)
	fmt.Fprintf(&b, "**Type:** %s\n\n", r.ptype)
	if verdict != "" {
		fmt.Fprintf(&b, "**Final review:** %s\n\n", verdict)
	}
	b.WriteString("## Files\n\n")
	sorted := append([]string(nil), files...)
	sort.Strings(sorted)
	for _, f := range sorted {
		fmt.Fprintf(&b, "- `%s` (%d bytes)\n", f, r.project.Size(f))
	}
	b.WriteString("\n## Steps\n\n")
	for _, s := range r.plan.Steps {
		fmt.Fprintf(&b, "- [%s] %s\n", s.Status, s.Text)
	}
	if err := os.WriteFile(r.project.StatePath("CODE_DOCUMENTATION.md"), []byte(b.String()), 0o644); err != nil {
		e.logger.Warn("documentation write failed", zap.Error(err))
	}
}

func inventoryText(r *run, files []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Objective: %s\nProject type: %s\nFiles:\n", r.objective, r.ptype)
	for _, f := range files {
		fmt.Fprintf(&b, "- %s (%d bytes)\n", f, r.project.Size(f))
	}
	return b.String()
}

// postPhases runs the optional after-completion work: visual QA, git
// snapshot, memory entry, repo push, deployment. Each is best-effort.
func (e *Engine) postPhases(ctx context.Context, r *run, res *Result) {
	if e.cfg.Browser != nil && r.project.Exists("index.html") {
		entry := filepath.Join(r.project.Root, "index.html")
		if report, err := e.cfg.Browser.Inspect(ctx, entry, r.project.StatePath("")); err != nil {
			e.logger.Info("visual QA skipped", zap.Error(err))
		} else {
			e.emit(EventProgress, r.note("visual QA screenshot at %s", report.ScreenshotPath), "", r.iteration)
		}
	}

	for _, cmd := range []string{"git init", "git add .", "git commit -m snapshot"} {
		out, err := e.cfg.Sandbox.Run(ctx, cmd, r.project.Root)
		if err != nil || !out.OK {
			e.logger.Info("git snapshot incomplete", zap.String("cmd", cmd))
			break
		}
	}

	if e.cfg.Memory != nil {
		_, err := e.cfg.Memory.Record(ctx, memory.Entry{
			Objective:   r.objective,
			ProjectType: string(r.ptype),
			ProjectPath: r.project.Root,
			Status:      string(StatusComplete),
			Summary:     strings.Join(lastN(r.log, 5), "; "),
		})
		if err != nil {
			e.logger.Warn("memory record failed", zap.Error(err))
		}
	}

	if e.cfg.RepoHost != nil {
		if url, err := e.cfg.RepoHost.CreateAndPush(ctx, r.project.Root, r.slug); err != nil {
			e.logger.Warn("repo push failed", zap.Error(err))
			e.emit(EventError, "repo host: "+err.Error(), "", r.iteration)
		} else {
			res.GitHubURL = url
		}
	}
	if e.cfg.Deployer != nil {
		if url, err := e.cfg.Deployer.Deploy(ctx, r.project.Root); err != nil {
			e.logger.Warn("deployment failed", zap.Error(err))
			e.emit(EventError, "deployer: "+err.Error(), "", r.iteration)
		} else {
			res.DeploymentURL = url
		}
	}
}

func lastN(in []string, n int) []string {
	if len(in) <= n {
		return in
	}
	return in[len(in)-n:]
}
