package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Recycler.Threshold != 0.75 {
		t.Errorf("expected threshold 0.75, got %v", cfg.Recycler.Threshold)
	}
	if cfg.Checkpoints.Keep != 10 || cfg.Checkpoints.Every != 5 {
		t.Errorf("unexpected checkpoint defaults: keep=%d every=%d",
			cfg.Checkpoints.Keep, cfg.Checkpoints.Every)
	}
	if cfg.Sandbox.MaxStdoutBytes != 10*1024 {
		t.Errorf("expected 10kB stdout cap, got %d", cfg.Sandbox.MaxStdoutBytes)
	}
	if cfg.Planner.MinStepsComplex != 40 {
		t.Errorf("expected complex minimum 40, got %d", cfg.Planner.MinStepsComplex)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load on missing file: %v", err)
	}
	if cfg.Recycler.MaxTokens != Default().Recycler.MaxTokens {
		t.Errorf("missing file should yield defaults")
	}
}

func TestLoadOverlaysFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "foreman.yaml")
	body := []byte("workspace: /tmp/ws\nrecycler:\n  max_tokens: 2048\nengine:\n  max_iterations: 7\n")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Workspace != "/tmp/ws" {
		t.Errorf("workspace = %q", cfg.Workspace)
	}
	if cfg.Recycler.MaxTokens != 2048 {
		t.Errorf("max_tokens = %d", cfg.Recycler.MaxTokens)
	}
	if cfg.Engine.MaxIterations != 7 {
		t.Errorf("max_iterations = %d", cfg.Engine.MaxIterations)
	}
	// Untouched values keep their defaults.
	if cfg.Recycler.Threshold != 0.75 {
		t.Errorf("threshold should stay default, got %v", cfg.Recycler.Threshold)
	}
}

func TestLoadRejectsBadThreshold(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "foreman.yaml")
	if err := os.WriteFile(path, []byte("recycler:\n  threshold: 1.5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for threshold 1.5")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	for _, v := range []string{"FOREMAN_LLM_BASE_URL", "FOREMAN_LLM_MODEL", "FOREMAN_API_KEY", "GEMINI_API_KEY", "FOREMAN_WORKSPACE"} {
		t.Setenv(v, "")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "foreman.yaml")

	cfg := Default()
	cfg.Workspace = "/srv/foreman"
	cfg.Engine.MaxCodingIterations = 12
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(cfg, loaded); diff != "" {
		t.Errorf("round trip changed config (-saved +loaded):\n%s", diff)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("FOREMAN_LLM_BASE_URL", "http://10.0.0.5:9000/v1")
	dir := t.TempDir()
	path := filepath.Join(dir, "foreman.yaml")
	if err := os.WriteFile(path, []byte("llm:\n  base_url: http://file/v1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.BaseURL != "http://10.0.0.5:9000/v1" {
		t.Errorf("env override lost: %q", cfg.LLM.BaseURL)
	}
}

func TestPathHelpers(t *testing.T) {
	cfg := Default()
	cfg.Workspace = "/ws"
	if got := cfg.CheckpointsDir(); got != filepath.Join("/ws", "checkpoints") {
		t.Errorf("CheckpointsDir = %q", got)
	}
	cfg.Memory.DatabasePath = "mem.db"
	if got := cfg.MemoryDBPath(); got != filepath.Join("/ws", "mem.db") {
		t.Errorf("MemoryDBPath = %q", got)
	}
	cfg.Memory.DatabasePath = "/var/lib/foreman.db"
	if got := cfg.MemoryDBPath(); got != "/var/lib/foreman.db" {
		t.Errorf("absolute MemoryDBPath = %q", got)
	}
}
