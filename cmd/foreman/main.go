package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"foreman/internal/checkpoint"
	"foreman/internal/config"
	"foreman/internal/logging"
	"foreman/internal/memory"
)

var (
	// Global flags
	verbose    bool
	configPath string
	workspace  string

	// Loaded once in PersistentPreRunE
	cfg      *config.Config
	logger   *zap.Logger
	logClose func()
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "foreman",
	Short: "foreman - autonomous task executor",
	Long: `foreman takes a natural-language objective and drives it to a finished
project: it plans the work, dispatches each step to a role-tuned LLM prompt,
extracts and persists the artifacts, runs commands in a sandboxed allow-list,
validates and critiques the output, and checkpoints progress so runs can be
stopped and resumed.

Start a run with:
  foreman run "build a todo app with react"`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if workspace != "" {
			cfg.Workspace = workspace
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		logger, logClose, err = logging.Build(cfg.Logging, cfg.LogsDir())
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logClose != nil {
			logClose()
		}
	},
}

// checkpointsCmd groups checkpoint inspection commands
var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "Inspect and manage run checkpoints",
}

var checkpointsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved checkpoints, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := checkpoint.New(cfg.CheckpointsDir(), cfg.Checkpoints.Keep, logger)
		if err != nil {
			return err
		}
		recs := store.List()
		if len(recs) == 0 {
			fmt.Println("no checkpoints")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTIME\tITER\tDONE\tPENDING\tOBJECTIVE")
		for _, r := range recs {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n",
				r.ID, r.Timestamp, r.Iteration,
				len(r.CompletedSteps), len(r.PendingSteps), truncate(r.Objective, 50))
		}
		return w.Flush()
	},
}

var checkpointsShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show one checkpoint in full",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := checkpoint.New(cfg.CheckpointsDir(), cfg.Checkpoints.Keep, logger)
		if err != nil {
			return err
		}
		rec, err := store.ByID(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("ID:         %s\n", rec.ID)
		fmt.Printf("Time:       %s\n", rec.Timestamp)
		fmt.Printf("Objective:  %s\n", rec.Objective)
		fmt.Printf("Iteration:  %d\n", rec.Iteration)
		fmt.Printf("Project:    %s\n", rec.ProjectPath)
		fmt.Println("Completed:")
		for _, s := range rec.CompletedSteps {
			fmt.Printf("  [x] %s\n", s)
		}
		fmt.Println("Pending:")
		for _, s := range rec.PendingSteps {
			fmt.Printf("  [ ] %s\n", s)
		}
		return nil
	},
}

var checkpointsDeleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete one checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := checkpoint.New(cfg.CheckpointsDir(), cfg.Checkpoints.Keep, logger)
		if err != nil {
			return err
		}
		if err := store.Delete(args[0]); err != nil {
			return err
		}
		fmt.Printf("deleted %s\n", args[0])
		return nil
	},
}

var checkpointsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all checkpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := checkpoint.New(cfg.CheckpointsDir(), cfg.Checkpoints.Keep, logger)
		if err != nil {
			return err
		}
		if err := store.Clear(); err != nil {
			return err
		}
		fmt.Println("checkpoints cleared")
		return nil
	},
}

// statusCmd shows the latest checkpoint and the live task state notes
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the latest run state",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := checkpoint.New(cfg.CheckpointsDir(), cfg.Checkpoints.Keep, logger)
		if err != nil {
			return err
		}
		rec, ok := store.Latest()
		if !ok {
			fmt.Println("no runs recorded yet")
			return nil
		}
		fmt.Printf("Latest checkpoint %s (%s)\n", rec.ID, rec.Timestamp)
		fmt.Printf("Objective: %s\n", rec.Objective)
		fmt.Printf("Iteration %d, %d step(s) done, %d pending\n",
			rec.Iteration, len(rec.CompletedSteps), len(rec.PendingSteps))
		if rec.ProjectPath != "" {
			fmt.Printf("Project:   %s\n", rec.ProjectPath)
		}

		notes := tailFile(cfg.ContextDir()+"/task_state.md", 20)
		if notes != "" {
			fmt.Println("\nRecent task notes:")
			fmt.Println(notes)
		}
		return nil
	},
}

// memoryCmd groups cross-run memory commands
var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect the cross-run memory store",
}

var memoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List remembered runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := memory.Open(cfg.MemoryDBPath(), logger)
		if err != nil {
			return err
		}
		defer store.Close()
		entries, err := store.List(cmd.Context(), 20)
		if err != nil {
			return err
		}
		printMemory(entries)
		return nil
	},
}

var memorySearchCmd = &cobra.Command{
	Use:   "search [keyword...]",
	Short: "Search remembered runs by keyword",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := memory.Open(cfg.MemoryDBPath(), logger)
		if err != nil {
			return err
		}
		defer store.Close()
		entries, err := store.Search(cmd.Context(), args, 20)
		if err != nil {
			return err
		}
		printMemory(entries)
		return nil
	},
}

// configCmd groups configuration commands
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage foreman configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("%s already exists", configPath)
		}
		if err := config.Default().Save(configPath); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", configPath)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		fmt.Print(string(data))
		return nil
	},
}

func printMemory(entries []memory.Entry) {
	if len(entries) == 0 {
		fmt.Println("no entries")
		return
	}
	for _, e := range entries {
		fmt.Printf("#%d  %s  [%s/%s]\n", e.ID, e.CreatedAt.Format("2006-01-02"), e.ProjectType, e.Status)
		fmt.Printf("    %s\n", e.Objective)
		if e.Summary != "" {
			fmt.Printf("    %s\n", truncate(e.Summary, 100))
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// tailFile returns the last n lines of a file, or "" when unreadable.
func tailFile(path string, n int) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "foreman.yaml", "Configuration file path")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (overrides config)")

	checkpointsCmd.AddCommand(checkpointsListCmd)
	checkpointsCmd.AddCommand(checkpointsShowCmd)
	checkpointsCmd.AddCommand(checkpointsDeleteCmd)
	checkpointsCmd.AddCommand(checkpointsClearCmd)

	memoryCmd.AddCommand(memoryListCmd)
	memoryCmd.AddCommand(memorySearchCmd)

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkpointsCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(memoryCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
