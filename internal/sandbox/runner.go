// Package sandbox runs extracted shell commands inside the project directory
// under a four-layer deny policy. Blocked, timed-out, and non-zero results
// are reported in the Result, never returned as errors; the engine never
// aborts a run because of a sandbox failure.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ExitTimedOut is the distinguished exit code reported when the process tree
// is killed on deadline.
const ExitTimedOut = 124

// Result is the outcome of one Run call.
type Result struct {
	OK           bool          `json:"ok"`
	Blocked      bool          `json:"blocked"`
	BlockReason  string        `json:"block_reason,omitempty"`
	TimedOut     bool          `json:"timed_out"`
	ExitCode     int           `json:"exit_code"`
	Stdout       string        `json:"stdout"`
	Stderr       string        `json:"stderr"`
	Duration     time.Duration `json:"duration"`
	CreatedFiles []string      `json:"created_files,omitempty"`
}

// AuditEntry records one Run call in the audit ring.
type AuditEntry struct {
	ID       string        `json:"id"`
	Time     time.Time     `json:"time"`
	Command  string        `json:"command"`
	Dir      string        `json:"dir"`
	Blocked  bool          `json:"blocked"`
	Reason   string        `json:"reason,omitempty"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// Config sizes the runner. Zero values fall back to defaults.
type Config struct {
	Timeout        time.Duration
	MaxStdoutBytes int
	MaxStderrBytes int
	AuditSize      int
	// AuditFile mirrors audit entries as JSONL when non-empty.
	AuditFile string
}

// DefaultConfig returns the baseline runner limits.
func DefaultConfig() Config {
	return Config{
		Timeout:        120 * time.Second,
		MaxStdoutBytes: 10 * 1024,
		MaxStderrBytes: 5 * 1024,
		AuditSize:      100,
	}
}

// Tracker observes the project tree during command execution and reports
// files created by the process. Implemented by Watcher; nil disables.
type Tracker interface {
	Start(dir string) error
	Stop() []string
}

// spawner runs the prepared command; tests replace it to prove that denied
// commands never reach the OS process API.
type spawner func(cmd *exec.Cmd) error

// Runner executes allow-listed commands with bounded output capture.
type Runner struct {
	mu      sync.Mutex
	policy  Policy
	cfg     Config
	logger  *zap.Logger
	tracker Tracker
	spawn   spawner

	audit     []AuditEntry
	auditNext int
	auditFull bool
}

// New builds a runner. A nil logger is replaced with a no-op one.
func New(policy Policy, cfg Config, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxStdoutBytes <= 0 {
		cfg.MaxStdoutBytes = def.MaxStdoutBytes
	}
	if cfg.MaxStderrBytes <= 0 {
		cfg.MaxStderrBytes = def.MaxStderrBytes
	}
	if cfg.AuditSize <= 0 {
		cfg.AuditSize = def.AuditSize
	}
	return &Runner{
		policy: policy,
		cfg:    cfg,
		logger: logger.Named("sandbox"),
		audit:  make([]AuditEntry, 0, cfg.AuditSize),
		spawn:  func(cmd *exec.Cmd) error { return cmd.Run() },
	}
}

// SetTracker attaches a file-activity tracker.
func (r *Runner) SetTracker(t Tracker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tracker = t
}

// Run executes one command inside projectDir. Only a malformed call (empty
// command) produces an error; every operational failure is in the Result.
func (r *Runner) Run(ctx context.Context, command, projectDir string) (Result, error) {
	if strings.TrimSpace(command) == "" {
		return Result{}, fmt.Errorf("empty command")
	}

	start := time.Now()

	if reason := r.policy.Check(command); reason != "" {
		res := Result{OK: false, Blocked: true, BlockReason: reason, ExitCode: -1}
		r.logger.Warn("command blocked",
			zap.String("command", command),
			zap.String("reason", reason))
		r.record(command, projectDir, res, time.Since(start))
		return res, nil
	}

	fields := strings.Fields(command)

	r.mu.Lock()
	tracker := r.tracker
	r.mu.Unlock()
	tracking := false
	if tracker != nil {
		if err := tracker.Start(projectDir); err != nil {
			// Watch failure degrades to no tracking.
			r.logger.Debug("file tracking unavailable", zap.Error(err))
		} else {
			tracking = true
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, fields[0], fields[1:]...)
	cmd.Dir = projectDir
	cmd.Env = sanitizeEnv(os.Environ())
	setProcessGroup(cmd)

	var stdoutBuf, stderrBuf bytes.Buffer
	stdout := &limitedWriter{w: &stdoutBuf, max: int64(r.cfg.MaxStdoutBytes)}
	stderr := &limitedWriter{w: &stderrBuf, max: int64(r.cfg.MaxStderrBytes)}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := r.spawn(cmd)
	duration := time.Since(start)

	res := Result{
		Stdout:   capped(stdoutBuf.String(), stdout),
		Stderr:   capped(stderrBuf.String(), stderr),
		Duration: duration,
	}

	switch {
	case execCtx.Err() == context.DeadlineExceeded:
		killProcessGroup(cmd)
		res.TimedOut = true
		res.ExitCode = ExitTimedOut
		r.logger.Warn("command timed out",
			zap.String("command", command),
			zap.Duration("timeout", r.cfg.Timeout))
	case err == nil:
		res.OK = true
		res.ExitCode = 0
	default:
		var exitErr *exec.ExitError
		if asExitError(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
			res.Stderr = appendLine(res.Stderr, err.Error())
		}
		r.logger.Debug("command exited non-zero",
			zap.String("command", command),
			zap.Int("exit_code", res.ExitCode))
	}

	if tracking {
		res.CreatedFiles = tracker.Stop()
	}

	r.record(command, projectDir, res, duration)
	return res, nil
}

// Audit returns a copy of the retained audit entries, oldest first.
func (r *Runner) Audit() []AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.auditFull {
		out := make([]AuditEntry, len(r.audit))
		copy(out, r.audit)
		return out
	}
	out := make([]AuditEntry, 0, len(r.audit))
	out = append(out, r.audit[r.auditNext:]...)
	out = append(out, r.audit[:r.auditNext]...)
	return out
}

func (r *Runner) record(command, dir string, res Result, d time.Duration) {
	entry := AuditEntry{
		ID:       uuid.NewString(),
		Time:     time.Now().UTC(),
		Command:  command,
		Dir:      dir,
		Blocked:  res.Blocked,
		Reason:   res.BlockReason,
		ExitCode: res.ExitCode,
		Duration: d,
	}

	r.mu.Lock()
	if len(r.audit) < r.cfg.AuditSize {
		r.audit = append(r.audit, entry)
	} else {
		r.audit[r.auditNext] = entry
		r.auditNext = (r.auditNext + 1) % r.cfg.AuditSize
		r.auditFull = true
	}
	file := r.cfg.AuditFile
	r.mu.Unlock()

	if file != "" {
		appendJSONL(file, entry)
	}
}

// sanitizeEnv drops entries whose key smells like a credential.
func sanitizeEnv(env []string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		key := kv
		if i := strings.IndexByte(kv, '='); i >= 0 {
			key = kv[:i]
		}
		upper := strings.ToUpper(key)
		if strings.Contains(upper, "SECRET") ||
			strings.Contains(upper, "KEY") ||
			strings.Contains(upper, "TOKEN") ||
			strings.Contains(upper, "PASSWORD") ||
			strings.Contains(upper, "PRIVATE") {
			continue
		}
		out = append(out, kv)
	}
	return out
}

func capped(s string, lw *limitedWriter) string {
	if lw.truncated {
		return s + fmt.Sprintf("\n[output truncated, %d bytes discarded]", lw.discarded)
	}
	return s
}

func appendLine(s, line string) string {
	if s == "" {
		return line
	}
	return s + "\n" + line
}

// limitedWriter caps total bytes written, counting what it discards.
type limitedWriter struct {
	w         io.Writer
	max       int64
	written   int64
	truncated bool
	discarded int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if lw.written >= lw.max {
		lw.truncated = true
		lw.discarded += int64(n)
		return n, nil
	}
	remaining := lw.max - lw.written
	if int64(n) > remaining {
		lw.truncated = true
		lw.discarded += int64(n) - remaining
		written, err := lw.w.Write(p[:remaining])
		lw.written += int64(written)
		return n, err
	}
	written, err := lw.w.Write(p)
	lw.written += int64(written)
	return written, err
}
