package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all foreman configuration. Every cap, budget, and table knob
// lives here as data; components receive the slice they need through their
// constructors.
type Config struct {
	// Workspace is the root under which projects/, context/, checkpoints/
	// and logs/ are created.
	Workspace string `yaml:"workspace"`

	LLM         LLMConfig        `yaml:"llm"`
	Sandbox     SandboxConfig    `yaml:"sandbox"`
	Recycler    RecyclerConfig   `yaml:"recycler"`
	Checkpoints CheckpointConfig `yaml:"checkpoints"`
	Planner     PlannerConfig    `yaml:"planner"`
	Budgets     Budgets          `yaml:"budgets"`
	Engine      EngineConfig     `yaml:"engine"`
	Browser     BrowserConfig    `yaml:"browser"`
	Memory      MemoryConfig     `yaml:"memory"`
	Logging     LoggingConfig    `yaml:"logging"`
}

// LLMConfig configures the model client.
type LLMConfig struct {
	Provider    string  `yaml:"provider"` // local, gemini
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Timeout     string  `yaml:"timeout"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// SandboxConfig configures the command runner. The four deny tables default
// to sandbox.DefaultPolicy(); non-empty values here replace the defaults.
type SandboxConfig struct {
	Timeout        string   `yaml:"timeout"`
	MaxStdoutBytes int      `yaml:"max_stdout_bytes"`
	MaxStderrBytes int      `yaml:"max_stderr_bytes"`
	AuditSize      int      `yaml:"audit_size"`
	AuditFile      string   `yaml:"audit_file"` // relative to workspace logs dir, empty disables
	BlockedExact   []string `yaml:"blocked_exact,omitempty"`
	BlockedPattern []string `yaml:"blocked_patterns,omitempty"`
	BlockedKeyword []string `yaml:"blocked_keywords,omitempty"`
	// Allowed maps first token -> permitted second tokens (empty list = any).
	Allowed map[string][]string `yaml:"allowed,omitempty"`
}

// RecyclerConfig configures context recycling.
type RecyclerConfig struct {
	MaxTokens      int     `yaml:"max_tokens"`
	Threshold      float64 `yaml:"threshold"`
	SummaryWords   int     `yaml:"summary_words"`
	NotesTailBytes int     `yaml:"notes_tail_bytes"`
}

// CheckpointConfig configures snapshot persistence.
type CheckpointConfig struct {
	Keep  int `yaml:"keep"`
	Every int `yaml:"every"` // iterations between saves
}

// PlannerConfig configures plan generation. Minimum step counts drive the
// single re-ask when a parse comes up short.
type PlannerConfig struct {
	MinStepsComplex  int `yaml:"min_steps_complex"`
	MinStepsResearch int `yaml:"min_steps_research"`
	MinStepsGeneral  int `yaml:"min_steps_general"`
}

// Budgets holds token budgets consumed by the dispatcher. Passed as a
// struct, never read from process-global state.
type Budgets struct {
	RetrievalTokens int `yaml:"retrieval_tokens"`
	PromptTokens    int `yaml:"prompt_tokens"`
}

// EngineConfig configures the core loop.
type EngineConfig struct {
	MaxIterations       int      `yaml:"max_iterations"`
	MaxCodingIterations int      `yaml:"max_coding_iterations"`
	ValidationRetries   int      `yaml:"validation_retries"`
	LLMRetries          int      `yaml:"llm_retries"`
	CriticRounds        int      `yaml:"critic_rounds"`
	CompletionSignals   []string `yaml:"completion_signals"`
	RefineShorterThan   int      `yaml:"refine_shorter_than"`
}

// BrowserConfig configures the visual QA post-phase.
type BrowserConfig struct {
	Enabled bool   `yaml:"enabled"`
	Timeout string `yaml:"timeout"`
}

// MemoryConfig configures the cross-run store.
type MemoryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DatabasePath string `yaml:"database_path"` // relative to workspace when not absolute
}

// LoggingConfig configures zap output.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	File  string `yaml:"file"`  // relative to workspace logs dir, empty disables
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Workspace: "workspace",

		LLM: LLMConfig{
			Provider:    "local",
			BaseURL:     "http://localhost:8080/v1",
			Model:       "local-model",
			Timeout:     "300s",
			MaxTokens:   4096,
			Temperature: 0.7,
		},

		Sandbox: SandboxConfig{
			Timeout:        "120s",
			MaxStdoutBytes: 10 * 1024,
			MaxStderrBytes: 5 * 1024,
			AuditSize:      100,
			AuditFile:      "sandbox_audit.jsonl",
		},

		Recycler: RecyclerConfig{
			MaxTokens:      16384,
			Threshold:      0.75,
			SummaryWords:   500,
			NotesTailBytes: 3 * 1024,
		},

		Checkpoints: CheckpointConfig{
			Keep:  10,
			Every: 5,
		},

		Planner: PlannerConfig{
			MinStepsComplex:  40,
			MinStepsResearch: 10,
			MinStepsGeneral:  10,
		},

		Budgets: Budgets{
			RetrievalTokens: 2000,
			PromptTokens:    6000,
		},

		Engine: EngineConfig{
			MaxIterations:       100,
			MaxCodingIterations: 40,
			ValidationRetries:   2,
			LLMRetries:          2,
			CriticRounds:        3,
			CompletionSignals:   []string{"PROJECT COMPLETE", "ALL STEPS COMPLETE"},
			RefineShorterThan:   80,
		},

		Browser: BrowserConfig{
			Enabled: false,
			Timeout: "30s",
		},

		Memory: MemoryConfig{
			Enabled:      true,
			DatabasePath: "foreman.db",
		},

		Logging: LoggingConfig{
			Level: "info",
			File:  "foreman.log",
		},
	}
}

// Load reads a YAML file over the defaults. A missing file returns the
// defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Workspace == "" {
		return fmt.Errorf("workspace must not be empty")
	}
	if c.Recycler.Threshold <= 0 || c.Recycler.Threshold > 1 {
		return fmt.Errorf("recycler threshold must be in (0, 1], got %v", c.Recycler.Threshold)
	}
	if c.Recycler.MaxTokens < 1024 {
		return fmt.Errorf("recycler max_tokens must be >= 1024")
	}
	if c.Checkpoints.Keep < 1 {
		return fmt.Errorf("checkpoints keep must be >= 1")
	}
	if c.Checkpoints.Every < 1 {
		return fmt.Errorf("checkpoints every must be >= 1")
	}
	if c.Engine.MaxIterations < 1 {
		return fmt.Errorf("engine max_iterations must be >= 1")
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("FOREMAN_LLM_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("FOREMAN_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("FOREMAN_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" && c.LLM.Provider == "gemini" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("FOREMAN_WORKSPACE"); v != "" {
		c.Workspace = v
	}
}

// Path helpers. All engine-owned directories hang off the workspace root.

func (c *Config) ProjectsDir() string    { return filepath.Join(c.Workspace, "projects") }
func (c *Config) ContextDir() string     { return filepath.Join(c.Workspace, "context") }
func (c *Config) CheckpointsDir() string { return filepath.Join(c.Workspace, "checkpoints") }
func (c *Config) LogsDir() string        { return filepath.Join(c.Workspace, "logs") }

// MemoryDBPath resolves the memory database location against the workspace.
func (c *Config) MemoryDBPath() string {
	if filepath.IsAbs(c.Memory.DatabasePath) {
		return c.Memory.DatabasePath
	}
	return filepath.Join(c.Workspace, c.Memory.DatabasePath)
}
