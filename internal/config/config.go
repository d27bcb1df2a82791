// Package config loads solve configuration with viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/yarlson/go-solve/internal/logging"
)

// Config holds all solve configuration.
type Config struct {
	Agent   AgentConfig    `mapstructure:"agent" yaml:"agent"`
	Retry   RetryConfig    `mapstructure:"retry" yaml:"retry"`
	Restart RestartConfig  `mapstructure:"restart" yaml:"restart"`
	Watch   WatchConfig    `mapstructure:"watch" yaml:"watch"`
	GitHub  GitHubConfig   `mapstructure:"github" yaml:"github"`
	Git     GitConfig      `mapstructure:"git" yaml:"git"`
	Logging logging.Config `mapstructure:"logging" yaml:"logging"`
	Prompt  PromptConfig   `mapstructure:"prompt" yaml:"prompt"`
}

// AgentConfig selects and configures the agent CLI.
type AgentConfig struct {
	Provider string `mapstructure:"provider" yaml:"provider"`
	// Command overrides the binary; extra elements are base arguments.
	Command         []string `mapstructure:"command" yaml:"command"`
	Args            []string `mapstructure:"args" yaml:"args"`
	Model           string   `mapstructure:"model" yaml:"model"`
	SkipPermissions bool     `mapstructure:"skip_permissions" yaml:"skip_permissions"`
	// Env holds KEY=VALUE entries. A list keeps keys case-sensitive.
	Env []string `mapstructure:"env" yaml:"env"`
}

// EnvMap parses Env into a map. Entries without '=' are skipped.
func (a AgentConfig) EnvMap() map[string]string {
	if len(a.Env) == 0 {
		return nil
	}
	env := make(map[string]string, len(a.Env))
	for _, kv := range a.Env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		env[k] = v
	}
	return env
}

// RetryConfig holds overload backoff settings.
type RetryConfig struct {
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
}

// RestartConfig holds restart cycle settings.
type RestartConfig struct {
	MaxIterations       int           `mapstructure:"max_iterations" yaml:"max_iterations"`
	UncommittedPolicy   string        `mapstructure:"uncommitted_policy" yaml:"uncommitted_policy"`
	AutoContinueOnLimit bool          `mapstructure:"auto_continue_on_limit" yaml:"auto_continue_on_limit"`
	ResetBuffer         time.Duration `mapstructure:"reset_buffer" yaml:"reset_buffer"`
	MaxResetWait        time.Duration `mapstructure:"max_reset_wait" yaml:"max_reset_wait"`
	MaxDuration         time.Duration `mapstructure:"max_duration" yaml:"max_duration"`
	MaxCostUSD          float64       `mapstructure:"max_cost_usd" yaml:"max_cost_usd"`
}

// WatchConfig holds watch mode settings.
type WatchConfig struct {
	Enabled              bool          `mapstructure:"enabled" yaml:"enabled"`
	Interval             time.Duration `mapstructure:"interval" yaml:"interval"`
	MaxConsecutiveErrors int           `mapstructure:"max_consecutive_errors" yaml:"max_consecutive_errors"`
}

// GitHubConfig holds feedback polling settings.
type GitHubConfig struct {
	// IgnoreAuthors lists logins whose comments never count as feedback.
	IgnoreAuthors []string `mapstructure:"ignore_authors" yaml:"ignore_authors"`

	// IgnoreSelf adds the authenticated gh login to IgnoreAuthors, so the
	// agent's own comments do not trigger cycles.
	IgnoreSelf bool `mapstructure:"ignore_self" yaml:"ignore_self"`
}

// GitConfig holds working copy settings.
type GitConfig struct {
	Remote       string `mapstructure:"remote" yaml:"remote"`
	BranchPrefix string `mapstructure:"branch_prefix" yaml:"branch_prefix"`
}

// PromptConfig holds prompt size limits.
type PromptConfig struct {
	MaxFeedbackBytes int `mapstructure:"max_feedback_bytes" yaml:"max_feedback_bytes"`
	MaxFilesBytes    int `mapstructure:"max_files_bytes" yaml:"max_files_bytes"`
}

// LoadConfigWithFile loads configuration from a specific file if provided,
// otherwise falls back to LoadConfig with the working directory.
func LoadConfigWithFile(workDir, configFile string) (*Config, error) {
	if configFile != "" {
		return LoadConfigFromPath(configFile)
	}
	return LoadConfig(workDir)
}

// LoadConfig loads solve.yaml from dir on top of the global config.
// Missing files yield defaults.
func LoadConfig(dir string) (*Config, error) {
	return load(filepath.Join(dir, FileName+".yaml"))
}

// LoadConfigFromPath loads configuration from a specific file path on top
// of the global config. A missing file yields defaults.
func LoadConfigFromPath(configPath string) (*Config, error) {
	return load(configPath)
}

func load(localPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	paths := []string{localPath}
	if global, err := GlobalConfigPath(); err == nil {
		paths = []string{global, localPath}
	}

	for _, path := range paths {
		if err := mergeFile(v, path); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func mergeFile(v *viper.Viper, path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	v.SetConfigFile(path)
	if err := v.MergeInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Restart.UncommittedPolicy)) {
	case "", "restart", "commit", "ignore":
	default:
		return fmt.Errorf("restart.uncommitted_policy must be restart, commit or ignore, got %q", c.Restart.UncommittedPolicy)
	}
	if c.Retry.MaxRetries < 0 {
		return errors.New("retry.max_retries cannot be negative")
	}
	if c.Retry.BaseDelay < 0 {
		return errors.New("retry.base_delay cannot be negative")
	}
	if c.Restart.MaxIterations < 1 {
		return errors.New("restart.max_iterations must be at least 1")
	}
	if c.Watch.Interval <= 0 {
		return errors.New("watch.interval must be positive")
	}
	if c.Prompt.MaxFeedbackBytes < 0 || c.Prompt.MaxFilesBytes < 0 {
		return errors.New("prompt size limits cannot be negative")
	}
	return nil
}

// setDefaults sets all default values for configuration.
func setDefaults(v *viper.Viper) {
	v.SetDefault("agent.provider", DefaultProvider)
	v.SetDefault("agent.command", []string{})
	v.SetDefault("agent.args", []string{})
	v.SetDefault("agent.model", "")
	v.SetDefault("agent.skip_permissions", DefaultSkipPermissions)
	v.SetDefault("agent.env", []string{})

	v.SetDefault("retry.max_retries", DefaultMaxRetries)
	v.SetDefault("retry.base_delay", DefaultBaseDelay)

	v.SetDefault("restart.max_iterations", DefaultMaxIterations)
	v.SetDefault("restart.uncommitted_policy", DefaultUncommittedPolicy)
	v.SetDefault("restart.auto_continue_on_limit", DefaultAutoContinueOnLimit)
	v.SetDefault("restart.reset_buffer", DefaultResetBuffer)
	v.SetDefault("restart.max_reset_wait", DefaultMaxResetWait)
	v.SetDefault("restart.max_duration", time.Duration(0))
	v.SetDefault("restart.max_cost_usd", 0.0)

	v.SetDefault("watch.enabled", false)
	v.SetDefault("watch.interval", DefaultWatchInterval)
	v.SetDefault("watch.max_consecutive_errors", DefaultMaxConsecutiveErrors)

	v.SetDefault("github.ignore_authors", []string{})
	v.SetDefault("github.ignore_self", DefaultIgnoreSelf)

	v.SetDefault("git.remote", DefaultRemote)
	v.SetDefault("git.branch_prefix", DefaultBranchPrefix)

	logDefaults := logging.DefaultConfig()
	v.SetDefault("logging.level", logDefaults.Level)
	v.SetDefault("logging.format", logDefaults.Format)
	v.SetDefault("logging.output", logDefaults.Output)

	v.SetDefault("prompt.max_feedback_bytes", DefaultMaxFeedbackBytes)
	v.SetDefault("prompt.max_files_bytes", DefaultMaxFilesBytes)
}
