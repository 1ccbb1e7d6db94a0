package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Agent.Command != "gao-agent" {
		t.Errorf("Agent.Command = %q, want gao-agent", cfg.Agent.Command)
	}
	if cfg.Timeouts.Step != 30*time.Minute {
		t.Errorf("Timeouts.Step = %v, want 30m", cfg.Timeouts.Step)
	}
	if cfg.Timeouts.Ceremony != 10*time.Minute {
		t.Errorf("Timeouts.Ceremony = %v, want 10m", cfg.Timeouts.Ceremony)
	}
	if cfg.Safety.StandupCooldown != 12*time.Hour {
		t.Errorf("Safety.StandupCooldown = %v, want 12h", cfg.Safety.StandupCooldown)
	}
	if cfg.Safety.MaxPerEpic != 10 {
		t.Errorf("Safety.MaxPerEpic = %d, want 10", cfg.Safety.MaxPerEpic)
	}
	if cfg.Safety.CircuitThreshold != 3 {
		t.Errorf("Safety.CircuitThreshold = %d, want 3", cfg.Safety.CircuitThreshold)
	}
	if cfg.Learning.ScoreThreshold != 0.3 {
		t.Errorf("Learning.ScoreThreshold = %v, want 0.3", cfg.Learning.ScoreThreshold)
	}
	if cfg.Retry.MaxRetries != 2 {
		t.Errorf("Retry.MaxRetries = %d, want 2", cfg.Retry.MaxRetries)
	}
}

func TestLoadFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
agent:
  command: my-agent
  args: ["--fast"]
timeouts:
  step: 5m
safety:
  max_per_epic: 4
learning:
  score_threshold: 0.5
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}

	if cfg.Agent.Command != "my-agent" {
		t.Errorf("Agent.Command = %q, want my-agent", cfg.Agent.Command)
	}
	if len(cfg.Agent.Args) != 1 || cfg.Agent.Args[0] != "--fast" {
		t.Errorf("Agent.Args = %v, want [--fast]", cfg.Agent.Args)
	}
	if cfg.Timeouts.Step != 5*time.Minute {
		t.Errorf("Timeouts.Step = %v, want 5m", cfg.Timeouts.Step)
	}
	if cfg.Safety.MaxPerEpic != 4 {
		t.Errorf("Safety.MaxPerEpic = %d, want 4", cfg.Safety.MaxPerEpic)
	}
	if cfg.Learning.ScoreThreshold != 0.5 {
		t.Errorf("Learning.ScoreThreshold = %v, want 0.5", cfg.Learning.ScoreThreshold)
	}

	// Unset fields keep defaults.
	if cfg.Timeouts.Ceremony != 10*time.Minute {
		t.Errorf("Timeouts.Ceremony = %v, want default 10m", cfg.Timeouts.Ceremony)
	}
	if cfg.Safety.CircuitThreshold != 3 {
		t.Errorf("Safety.CircuitThreshold = %d, want default 3", cfg.Safety.CircuitThreshold)
	}
}

func TestLoadFromPath_MissingFile(t *testing.T) {
	if _, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("LoadFromPath on missing file = nil, want error")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("GAODEV_AGENT_COMMAND", "env-agent")
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Agent.Command != "env-agent" {
		t.Errorf("Agent.Command = %q, want env override env-agent", cfg.Agent.Command)
	}
}

func TestSaveAndReload(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg := Default()
	cfg.Agent.Command = "saved-agent"
	cfg.Safety.MaxPerEpic = 7

	if err := Save(cfg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := LoadFromPath(GetUserConfigPath())
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if loaded.Agent.Command != "saved-agent" {
		t.Errorf("Agent.Command = %q, want saved-agent", loaded.Agent.Command)
	}
	if loaded.Safety.MaxPerEpic != 7 {
		t.Errorf("Safety.MaxPerEpic = %d, want 7", loaded.Safety.MaxPerEpic)
	}
}
