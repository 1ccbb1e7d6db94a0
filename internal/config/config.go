// Package config handles configuration loading for the orchestration
// engine. It supports XDG config paths, project-level overrides, and
// environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all engine configuration.
type Config struct {
	Agent    AgentConfig    `mapstructure:"agent"`
	Timeouts TimeoutsConfig `mapstructure:"timeouts"`
	Safety   SafetyConfig   `mapstructure:"safety"`
	Learning LearningConfig `mapstructure:"learning"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
}

// AgentConfig describes how to invoke the external agent process.
type AgentConfig struct {
	// Command is the agent executable.
	Command string `mapstructure:"command"`
	// Args are fixed arguments prepended to every invocation.
	Args []string `mapstructure:"args"`
	// StagingDir is where agents drop artifacts before they are
	// committed; relative paths resolve against the project root.
	StagingDir string `mapstructure:"staging_dir"`
}

// TimeoutsConfig holds deadlines for external calls.
type TimeoutsConfig struct {
	// Step bounds one workflow step's agent invocation.
	Step time.Duration `mapstructure:"step"`
	// Ceremony bounds one ceremony's agent invocation.
	Ceremony time.Duration `mapstructure:"ceremony"`
	// AbandonGrace is how long a cancelled call may keep running before
	// its output is discarded.
	AbandonGrace time.Duration `mapstructure:"abandon_grace"`
}

// SafetyConfig holds ceremony safety limits.
type SafetyConfig struct {
	// StandupCooldown is the minimum gap between standups.
	StandupCooldown time.Duration `mapstructure:"standup_cooldown"`
	// CeremonyCooldown is the minimum gap for planning and retrospectives.
	CeremonyCooldown time.Duration `mapstructure:"ceremony_cooldown"`
	// MaxPerEpic caps ceremonies per epic across all types.
	MaxPerEpic int `mapstructure:"max_per_epic"`
	// CircuitThreshold is the consecutive-failure count that opens the circuit.
	CircuitThreshold int `mapstructure:"circuit_threshold"`
}

// LearningConfig holds learning selection settings.
type LearningConfig struct {
	// ScoreThreshold is the minimum relevance score for selection.
	ScoreThreshold float64 `mapstructure:"score_threshold"`
	// MaxSelected caps the learnings injected into one context.
	MaxSelected int `mapstructure:"max_selected"`
}

// RetryConfig holds retry settings for transient failures.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int `mapstructure:"max_retries"`
	// BaseDelay is the first backoff delay; it doubles per retry.
	BaseDelay time.Duration `mapstructure:"base_delay"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum level (debug, info, warn, error).
	Level string `mapstructure:"level"`
	// Dir overrides the log directory; empty means .gao-dev/logs.
	Dir string `mapstructure:"dir"`
}

// WorkflowConfig holds workflow selection settings.
type WorkflowConfig struct {
	// CatalogDir overrides the workflow catalog directory; empty uses
	// the built-in catalog.
	CatalogDir string `mapstructure:"catalog_dir"`
	// StandupInterval overrides how many completed stories trigger a
	// standup; 0 uses the scale default.
	StandupInterval int `mapstructure:"standup_interval"`
}

// Load loads configuration with the usual precedence, highest first:
// environment variables (GAODEV_*), project config (.gao-dev.yaml in
// the current directory or a parent), user config
// (~/.config/gao-dev/config.yaml), built-in defaults.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("GAODEV")
	v.AutomaticEnv()
	v.BindEnv("agent.command", "GAODEV_AGENT_COMMAND")
	v.BindEnv("logging.level", "GAODEV_LOG_LEVEL")
	v.BindEnv("learning.score_threshold", "GAODEV_LEARNING_THRESHOLD")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return cfg, nil
}

// LoadFromPath loads configuration from a specific file.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(filepath.Join(userConfigDir, "config.yaml"))

	v.Set("agent.command", cfg.Agent.Command)
	v.Set("agent.args", cfg.Agent.Args)
	v.Set("agent.staging_dir", cfg.Agent.StagingDir)
	v.Set("timeouts.step", cfg.Timeouts.Step.String())
	v.Set("timeouts.ceremony", cfg.Timeouts.Ceremony.String())
	v.Set("timeouts.abandon_grace", cfg.Timeouts.AbandonGrace.String())
	v.Set("safety.standup_cooldown", cfg.Safety.StandupCooldown.String())
	v.Set("safety.ceremony_cooldown", cfg.Safety.CeremonyCooldown.String())
	v.Set("safety.max_per_epic", cfg.Safety.MaxPerEpic)
	v.Set("safety.circuit_threshold", cfg.Safety.CircuitThreshold)
	v.Set("learning.score_threshold", cfg.Learning.ScoreThreshold)
	v.Set("learning.max_selected", cfg.Learning.MaxSelected)
	v.Set("retry.max_retries", cfg.Retry.MaxRetries)
	v.Set("retry.base_delay", cfg.Retry.BaseDelay.String())
	v.Set("logging.level", cfg.Logging.Level)
	v.Set("logging.dir", cfg.Logging.Dir)
	v.Set("workflow.catalog_dir", cfg.Workflow.CatalogDir)
	v.Set("workflow.standup_interval", cfg.Workflow.StandupInterval)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if
// one exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("agent.command", "gao-agent")
	v.SetDefault("agent.args", []string{})
	v.SetDefault("agent.staging_dir", ".gao-dev/staging")

	v.SetDefault("timeouts.step", "30m")
	v.SetDefault("timeouts.ceremony", "10m")
	v.SetDefault("timeouts.abandon_grace", "30s")

	v.SetDefault("safety.standup_cooldown", "12h")
	v.SetDefault("safety.ceremony_cooldown", "24h")
	v.SetDefault("safety.max_per_epic", 10)
	v.SetDefault("safety.circuit_threshold", 3)

	v.SetDefault("learning.score_threshold", 0.3)
	v.SetDefault("learning.max_selected", 5)

	v.SetDefault("retry.max_retries", 2)
	v.SetDefault("retry.base_delay", "2s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.dir", "")

	v.SetDefault("workflow.catalog_dir", "")
	v.SetDefault("workflow.standup_interval", 0)
}

// getUserConfigDir returns the XDG config directory for the engine.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "gao-dev")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "gao-dev")
	}
	return filepath.Join(home, ".config", "gao-dev")
}

// findProjectConfig searches for .gao-dev.yaml in the current directory
// and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".gao-dev.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Command:    "gao-agent",
			StagingDir: ".gao-dev/staging",
		},
		Timeouts: TimeoutsConfig{
			Step:         30 * time.Minute,
			Ceremony:     10 * time.Minute,
			AbandonGrace: 30 * time.Second,
		},
		Safety: SafetyConfig{
			StandupCooldown:  12 * time.Hour,
			CeremonyCooldown: 24 * time.Hour,
			MaxPerEpic:       10,
			CircuitThreshold: 3,
		},
		Learning: LearningConfig{
			ScoreThreshold: 0.3,
			MaxSelected:    5,
		},
		Retry: RetryConfig{
			MaxRetries: 2,
			BaseDelay:  2 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
