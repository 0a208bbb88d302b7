// Package browser runs the post-completion visual QA pass: load the
// project's entry page headless, screenshot it, and hand the result to the
// critic. Everything here is best-effort; a missing Chrome never fails a run.
package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// Config tunes the QA session.
type Config struct {
	Enabled bool
	Timeout time.Duration
}

// DefaultConfig returns browser defaults.
func DefaultConfig() Config {
	return Config{Enabled: false, Timeout: 30 * time.Second}
}

// Report is the outcome of one visual QA pass.
type Report struct {
	URL            string
	ScreenshotPath string
	Title          string
}

// QA drives one-shot page inspections.
type QA struct {
	cfg    Config
	logger *zap.Logger
}

// New builds the visual QA helper.
func New(cfg Config, logger *zap.Logger) *QA {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QA{cfg: cfg, logger: logger.Named("browser")}
}

// Inspect loads the page at entryPath (a local HTML file) in a headless
// browser and writes a screenshot next to outDir. Disabled or failing
// sessions return an error the caller logs and moves past.
func (q *QA) Inspect(ctx context.Context, entryPath, outDir string) (Report, error) {
	if !q.cfg.Enabled {
		return Report{}, fmt.Errorf("visual QA disabled")
	}
	if _, err := os.Stat(entryPath); err != nil {
		return Report{}, fmt.Errorf("entry page: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, q.cfg.Timeout)
	defer cancel()

	controlURL, err := launcher.New().Headless(true).Launch()
	if err != nil {
		return Report{}, fmt.Errorf("launch browser: %w", err)
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		return Report{}, fmt.Errorf("connect browser: %w", err)
	}
	defer b.Close()

	url := "file://" + entryPath
	page, err := b.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return Report{}, fmt.Errorf("open page: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return Report{}, fmt.Errorf("wait for load: %w", err)
	}

	title := ""
	if info, err := page.Info(); err == nil {
		title = info.Title
	}

	shot, err := page.Screenshot(true, nil)
	if err != nil {
		return Report{}, fmt.Errorf("screenshot: %w", err)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return Report{}, fmt.Errorf("create screenshot dir: %w", err)
	}
	shotPath := filepath.Join(outDir, "visual_qa.png")
	if err := os.WriteFile(shotPath, shot, 0o644); err != nil {
		return Report{}, fmt.Errorf("write screenshot: %w", err)
	}

	q.logger.Info("visual QA captured",
		zap.String("url", url),
		zap.String("screenshot", shotPath))
	return Report{URL: url, ScreenshotPath: shotPath, Title: title}, nil
}
