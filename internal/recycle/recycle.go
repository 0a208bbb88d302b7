// Package recycle manages the running token budget and the summarize-and-
// reseed cycle that keeps long tasks inside the model's context window.
// Domain note files carry state across recycles; the continuation prompt
// reseeds the conversation from them.
package recycle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"foreman/internal/config"
	"foreman/internal/task"
)

// Domain note names. task_state is reserved for objective/step bookkeeping;
// the rest hold per-concern working notes.
const (
	DomainFrontend  = "frontend"
	DomainBackend   = "backend"
	DomainDatabase  = "database"
	DomainResearch  = "research"
	DomainDecisions = "decisions"
	DomainTaskState = "task_state"
)

var domainNames = []string{
	DomainFrontend, DomainBackend, DomainDatabase,
	DomainResearch, DomainDecisions, DomainTaskState,
}

// domainKeywords routes summary text into matching note files.
var domainKeywords = map[string][]string{
	DomainFrontend: {"component", "ui", "css"},
	DomainBackend:  {"api", "endpoint", "server"},
	DomainDatabase: {"schema", "table", "migration"},
}

// EstimateTokens approximates token usage at four characters per token.
func EstimateTokens(text string) int {
	return len(text) / 4
}

// Summarizer produces a progress summary for a recycle, typically backed by
// the LLM. The word limit is advisory.
type Summarizer func(ctx context.Context, objective string, done, pending []string, maxWords int) (string, error)

// Recycler tracks token consumption and rebuilds context when the budget
// threshold is crossed.
type Recycler struct {
	cfg      config.RecyclerConfig
	notesDir string
	logger   *zap.Logger

	mu        sync.Mutex
	tokens    int
	objective string
}

// New builds a recycler writing domain notes under notesDir.
func New(cfg config.RecyclerConfig, notesDir string, logger *zap.Logger) (*Recycler, error) {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 16384
	}
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		cfg.Threshold = 0.75
	}
	if cfg.SummaryWords <= 0 {
		cfg.SummaryWords = 500
	}
	if cfg.NotesTailBytes <= 0 {
		cfg.NotesTailBytes = 3 * 1024
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(notesDir, 0o755); err != nil {
		return nil, fmt.Errorf("create notes dir: %w", err)
	}
	return &Recycler{cfg: cfg, notesDir: notesDir, logger: logger.Named("recycle")}, nil
}

// Observe adds tokens to the running count.
func (r *Recycler) Observe(tokens int) {
	if tokens <= 0 {
		return
	}
	r.mu.Lock()
	r.tokens += tokens
	r.mu.Unlock()
}

// Tokens reports the current count.
func (r *Recycler) Tokens() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tokens
}

// NeedsRecycle reports whether the count has reached the threshold. The
// boundary is inclusive: exactly threshold*max triggers a recycle.
func (r *Recycler) NeedsRecycle() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return float64(r.tokens) >= r.cfg.Threshold*float64(r.cfg.MaxTokens)
}

func (r *Recycler) domainPath(domain string) string {
	return filepath.Join(r.notesDir, domain+".md")
}

func validDomain(domain string) bool {
	for _, d := range domainNames {
		if d == domain {
			return true
		}
	}
	return false
}

// SaveToDomain appends a timestamped entry to the named note file.
func (r *Recycler) SaveToDomain(domain, text string) error {
	if !validDomain(domain) {
		return fmt.Errorf("unknown domain %q", domain)
	}
	entry := fmt.Sprintf("\n## %s\n%s\n", time.Now().Format(time.RFC3339), text)
	f, err := os.OpenFile(r.domainPath(domain), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open domain note %s: %w", domain, err)
	}
	defer f.Close()
	if _, err := f.WriteString(entry); err != nil {
		return fmt.Errorf("append domain note %s: %w", domain, err)
	}
	return nil
}

// SetTask archives any existing notes and seeds fresh ones for a new
// objective.
func (r *Recycler) SetTask(objective string, steps []string) error {
	r.mu.Lock()
	r.objective = objective
	r.tokens = 0
	r.mu.Unlock()

	if err := r.archiveExisting(); err != nil {
		r.logger.Warn("archive of previous notes failed", zap.Error(err))
	}

	for _, d := range domainNames {
		header := fmt.Sprintf("# %s notes\n", d)
		if err := os.WriteFile(r.domainPath(d), []byte(header), 0o644); err != nil {
			return fmt.Errorf("seed domain note %s: %w", d, err)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Objective: %s\n\nInitial plan:\n", objective)
	for i, s := range steps {
		fmt.Fprintf(&b, "%d. %s\n", i+1, s)
	}
	return r.SaveToDomain(DomainTaskState, b.String())
}

// archiveExisting concatenates the current notes into context/archive.
func (r *Recycler) archiveExisting() error {
	var parts []string
	for _, d := range domainNames {
		data, err := os.ReadFile(r.domainPath(d))
		if err != nil || len(strings.TrimSpace(string(data))) == 0 {
			continue
		}
		parts = append(parts, fmt.Sprintf("# domain: %s\n\n%s", d, string(data)))
	}
	if len(parts) == 0 {
		return nil
	}
	archiveDir := filepath.Join(r.notesDir, "archive")
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return err
	}
	name := fmt.Sprintf("task_%s.md", time.Now().Format("20060102-150405"))
	return os.WriteFile(filepath.Join(archiveDir, name), []byte(strings.Join(parts, "\n\n---\n\n")), 0o644)
}

// RecordStepDone appends a completed step line to task_state.
func (r *Recycler) RecordStepDone(step string) error {
	return r.SaveToDomain(DomainTaskState, "DONE: "+step)
}

// ClearDomains truncates the named note files back to their headers.
func (r *Recycler) ClearDomains(domains ...string) error {
	for _, d := range domains {
		if !validDomain(d) {
			return fmt.Errorf("unknown domain %q", d)
		}
		header := fmt.Sprintf("# %s notes\n", d)
		if err := os.WriteFile(r.domainPath(d), []byte(header), 0o644); err != nil {
			return fmt.Errorf("clear domain %s: %w", d, err)
		}
	}
	return nil
}

// Recycle summarizes progress, zeroes the token count, saves the summary
// into domain notes, and returns a continuation prompt that restates the
// objective, the summary, the remaining steps, and the tail of every note.
// Note writes are best-effort: an unwritable notes dir loses the on-disk
// summary but the count still resets and the continuation is still returned,
// so the run keeps moving.
func (r *Recycler) Recycle(ctx context.Context, summarize Summarizer, plan *task.Plan) (string, error) {
	r.mu.Lock()
	objective := r.objective
	r.mu.Unlock()
	if objective == "" && plan != nil {
		objective = plan.Objective
	}

	var done, pending []string
	if plan != nil {
		for _, s := range plan.Completed() {
			done = append(done, s.Text)
		}
		pending = plan.PendingTexts()
	}

	summary := ""
	if summarize != nil {
		s, err := summarize(ctx, objective, done, pending, r.cfg.SummaryWords)
		if err != nil {
			r.logger.Warn("summarizer failed, using mechanical summary", zap.Error(err))
		} else {
			summary = strings.TrimSpace(s)
		}
	}
	if summary == "" {
		summary = mechanicalSummary(done, pending)
	}

	r.mu.Lock()
	r.tokens = 0
	r.mu.Unlock()

	if err := r.SaveToDomain(DomainDecisions, "Recycle summary:\n"+summary); err != nil {
		r.logger.Warn("saving recycle summary failed", zap.Error(err))
	}
	for domain, keywords := range domainKeywords {
		lower := strings.ToLower(summary)
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				if err := r.SaveToDomain(domain, "Recycle summary (routed):\n"+summary); err != nil {
					r.logger.Warn("saving routed recycle summary failed", zap.Error(err))
				}
				break
			}
		}
	}

	r.logger.Info("context recycled",
		zap.Int("done", len(done)),
		zap.Int("pending", len(pending)))

	return r.continuation(objective, summary, pending), nil
}

func (r *Recycler) continuation(objective, summary string, pending []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Continuing task. Original objective: %s\n\n", objective)
	fmt.Fprintf(&b, "Progress so far:\n%s\n\n", summary)
	b.WriteString("Remaining steps:\n")
	for i, s := range pending {
		fmt.Fprintf(&b, "%d. %s\n", i+1, s)
	}
	b.WriteString("\nWorking notes:\n")
	for _, d := range domainNames {
		tail := r.noteTail(d)
		if tail == "" {
			continue
		}
		fmt.Fprintf(&b, "\n### %s\n%s\n", d, tail)
	}
	return b.String()
}

// noteTail returns the last NotesTailBytes of a domain note, cut at a line
// boundary.
func (r *Recycler) noteTail(domain string) string {
	data, err := os.ReadFile(r.domainPath(domain))
	if err != nil {
		return ""
	}
	text := strings.TrimSpace(string(data))
	if text == "" || text == strings.TrimSpace("# "+domain+" notes") {
		return ""
	}
	if len(text) > r.cfg.NotesTailBytes {
		text = text[len(text)-r.cfg.NotesTailBytes:]
		if i := strings.IndexByte(text, '\n'); i >= 0 {
			text = text[i+1:]
		}
	}
	return text
}

func mechanicalSummary(done, pending []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d steps completed, %d pending.", len(done), len(pending))
	if n := len(done); n > 0 {
		start := n - 5
		if start < 0 {
			start = 0
		}
		b.WriteString(" Recently completed:")
		for _, s := range done[start:] {
			b.WriteString("\n- " + s)
		}
	}
	return b.String()
}

// Domains lists the note files present on disk, sorted.
func (r *Recycler) Domains() []string {
	entries, err := os.ReadDir(r.notesDir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		out = append(out, strings.TrimSuffix(e.Name(), ".md"))
	}
	sort.Strings(out)
	return out
}
