package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"foreman/internal/browser"
	"foreman/internal/checkpoint"
	"foreman/internal/config"
	"foreman/internal/critic"
	"foreman/internal/dispatch"
	"foreman/internal/engine"
	"foreman/internal/memory"
	"foreman/internal/perception"
	"foreman/internal/plan"
	"foreman/internal/recycle"
	"foreman/internal/retrieval"
	"foreman/internal/roles"
	"foreman/internal/sandbox"
	"foreman/internal/task"
	"foreman/internal/tui"
	"foreman/internal/validate"
)

var (
	projectType   string
	resumeID      string
	forceResume   bool
	useTUI        bool
	maxIterations int
)

// runCmd starts (or resumes) an autonomous run
var runCmd = &cobra.Command{
	Use:   "run [objective]",
	Short: "Run an objective to completion",
	Long: `Plans the objective, then iterates: dispatch a step to the model,
extract and write artifacts, execute commands in the sandbox, validate,
critique, and checkpoint. Ctrl+C stops at the next step boundary; resume
later with --resume and the checkpoint ID.

Examples:
  foreman run "build a landing page for a coffee shop"
  foreman run --type python "write a CSV deduplication script"
  foreman run --resume 01J8ZK3... "build a landing page for a coffee shop"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runObjective,
}

func init() {
	runCmd.Flags().StringVarP(&projectType, "type", "t", "", "Force the project type (react, python, fullstack, research, landing)")
	runCmd.Flags().StringVarP(&resumeID, "resume", "r", "", "Resume from a checkpoint ID")
	runCmd.Flags().BoolVar(&forceResume, "force-resume", false, "Resume even when the objective does not match the checkpoint")
	runCmd.Flags().BoolVar(&useTUI, "tui", false, "Show the interactive dashboard")
	runCmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "Override the iteration cap")
}

func runObjective(cmd *cobra.Command, args []string) error {
	objective := strings.Join(args, " ")
	ctx := cmd.Context()

	if maxIterations > 0 {
		cfg.Engine.MaxIterations = maxIterations
	}

	eng, cleanup, err := buildEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		if _, ok := <-sigCh; ok {
			eng.Stop()
		}
	}()

	events, cancel := eng.Events().Subscribe()

	resCh := make(chan engine.Result, 1)
	go func() {
		resCh <- eng.Run(ctx, objective)
		cancel()
	}()

	if useTUI {
		model := tui.New(objective, events, eng.Stop)
		if _, err := tea.NewProgram(model).Run(); err != nil {
			return fmt.Errorf("dashboard: %w", err)
		}
	} else {
		printEvents(events)
	}

	res := <-resCh
	fmt.Print(tui.RenderSummary(res))
	if res.Status == engine.StatusError {
		if res.Err != nil {
			return res.Err
		}
		return fmt.Errorf("run failed")
	}
	return nil
}

// printEvents streams events to stdout until the run ends.
func printEvents(events <-chan engine.Event) {
	for ev := range events {
		switch ev.Kind {
		case engine.EventError:
			fmt.Printf("[%s] ERROR %s\n", ev.Time.Format("15:04:05"), ev.Content)
		case engine.EventStatus:
			fmt.Printf("[%s] status: %s\n", ev.Time.Format("15:04:05"), ev.Content)
		default:
			fmt.Printf("[%s] %s\n", ev.Time.Format("15:04:05"), ev.Content)
		}
	}
}

// buildEngine wires the full dependency graph from config. The returned
// cleanup closes the stores.
func buildEngine(ctx context.Context, cfg *config.Config) (*engine.Engine, func(), error) {
	llm, err := buildClient(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	runner := sandbox.New(policyFromConfig(cfg.Sandbox), sandboxConfig(cfg), logger)
	runner.SetTracker(sandbox.NewWatcher())

	recycler, err := recycle.New(cfg.Recycler, cfg.ContextDir(), logger)
	if err != nil {
		return nil, nil, err
	}
	checkpoints, err := checkpoint.New(cfg.CheckpointsDir(), cfg.Checkpoints.Keep, logger)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {}
	var mem *memory.Store
	if cfg.Memory.Enabled {
		mem, err = memory.Open(cfg.MemoryDBPath(), logger)
		if err != nil {
			return nil, nil, err
		}
		cleanup = func() { _ = mem.Close() }
	}

	var qa *browser.QA
	if cfg.Browser.Enabled {
		qa = browser.New(browser.Config{
			Enabled: true,
			Timeout: parseDuration(cfg.Browser.Timeout, 30*time.Second),
		}, logger)
	}

	retriever := retrieval.New(retrieval.Config{MaxTokens: cfg.Budgets.RetrievalTokens}, logger)

	eng, err := engine.New(engine.Config{
		LLM:         llm,
		Planner:     plan.New(llm, cfg.Planner, logger),
		Dispatcher:  dispatch.New(roles.NewStatic(nil), retriever, cfg.Budgets, logger),
		Sandbox:     runner,
		Validator:   validate.New(nil, logger),
		Critic:      critic.New(llm, cfg.Engine.CriticRounds, logger),
		Recycler:    recycler,
		Checkpoints: checkpoints,
		Memory:      mem,
		Browser:     qa,
		Logger:      logger,
		Settings:    cfg,
		ResumeID:    resumeID,
		ForceType:   task.ProjectType(strings.ToLower(projectType)),
		ForceResume: forceResume,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return eng, cleanup, nil
}

// buildClient selects the model client by provider.
func buildClient(ctx context.Context, cfg *config.Config) (perception.Client, error) {
	switch cfg.LLM.Provider {
	case "gemini":
		return perception.NewGeminiClient(ctx, perception.GeminiConfig{
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
		}, logger)
	case "", "local":
		return perception.NewLocalClient(perception.LocalConfig{
			BaseURL:     cfg.LLM.BaseURL,
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			Timeout:     parseDuration(cfg.LLM.Timeout, 300*time.Second),
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}

// policyFromConfig starts from the default deny tables and swaps in any
// non-empty overrides.
func policyFromConfig(sc config.SandboxConfig) sandbox.Policy {
	policy := sandbox.DefaultPolicy()
	if len(sc.BlockedExact) > 0 {
		policy.BlockedExact = sc.BlockedExact
	}
	if len(sc.BlockedPattern) > 0 {
		policy.BlockedPatterns = sc.BlockedPattern
	}
	if len(sc.BlockedKeyword) > 0 {
		policy.BlockedKeywords = sc.BlockedKeyword
	}
	if len(sc.Allowed) > 0 {
		policy.Allowed = sc.Allowed
	}
	return policy
}

func sandboxConfig(cfg *config.Config) sandbox.Config {
	auditFile := ""
	if cfg.Sandbox.AuditFile != "" {
		auditFile = filepath.Join(cfg.LogsDir(), cfg.Sandbox.AuditFile)
	}
	return sandbox.Config{
		Timeout:        parseDuration(cfg.Sandbox.Timeout, 120*time.Second),
		MaxStdoutBytes: cfg.Sandbox.MaxStdoutBytes,
		MaxStderrBytes: cfg.Sandbox.MaxStderrBytes,
		AuditSize:      cfg.Sandbox.AuditSize,
		AuditFile:      auditFile,
	}
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
