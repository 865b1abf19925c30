// Package config handles configuration loading and management for mcc.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/zaggy/mcc/pkg/models"
)

// Config holds all configuration for mcc.
type Config struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Defaults  DefaultsConfig  `mapstructure:"defaults"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Budget    BudgetConfig    `mapstructure:"budget"`
	Agents    []AgentConfig   `mapstructure:"agents"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey     string `mapstructure:"api_key"`
	UseBedrock bool   `mapstructure:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
}

// DefaultsConfig holds default values for dispatched calls.
type DefaultsConfig struct {
	Model     string `mapstructure:"model"`
	MaxTokens int    `mapstructure:"max_tokens"`
}

// RetryConfig holds dispatch retry settings.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	Multiplier  float64       `mapstructure:"multiplier"`
	Cap         time.Duration `mapstructure:"cap"`
}

// BudgetConfig holds budget behavior settings.
type BudgetConfig struct {
	// AlertThreshold is the default warn fraction for new limits.
	AlertThreshold float64 `mapstructure:"alert_threshold"`
}

// AgentConfig describes one agent in the roster.
type AgentConfig struct {
	// Name is the display name, used for @mentions.
	Name string `mapstructure:"name"`
	// Type is the workflow role (orchestrator, architect, coder, tester, reviewer).
	Type string `mapstructure:"type"`
	// Model pins this agent to a model; empty means the default model.
	Model string `mapstructure:"model"`
}

// Validate checks the agent entry against the known roles.
func (a AgentConfig) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("agent entry missing name")
	}
	if !models.AgentType(a.Type).Valid() {
		return fmt.Errorf("agent %s: unknown type %q", a.Name, a.Type)
	}
	return nil
}

// RetryPolicy converts the retry section into the dispatcher's policy.
func (c *Config) RetryPolicy() models.RetryPolicy {
	p := models.RetryPolicy{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   c.Retry.BaseDelay,
		Multiplier:  c.Retry.Multiplier,
		Cap:         c.Retry.Cap,
	}
	if p.MaxAttempts <= 0 {
		p = models.DefaultRetryPolicy
	}
	return p
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY)
// 2. Project config (.mcc.yaml in current directory or parent)
// 3. User config (~/.config/mcc/config.yaml)
// 4. Built-in defaults
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

	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			// Project config takes precedence
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("anthropic.aws_region", "AWS_REGION")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR} references
	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)

	for _, a := range cfg.Agents {
		if err := a.Validate(); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	}

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
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

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)

	for _, a := range cfg.Agents {
		if err := a.Validate(); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}

	return cfg, nil
}

// Save writes the current configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(userConfigDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)

	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("anthropic.use_bedrock", cfg.Anthropic.UseBedrock)
	v.Set("anthropic.aws_region", cfg.Anthropic.AWSRegion)
	v.Set("anthropic.aws_profile", cfg.Anthropic.AWSProfile)
	v.Set("defaults.model", cfg.Defaults.Model)
	v.Set("defaults.max_tokens", cfg.Defaults.MaxTokens)
	v.Set("retry.max_attempts", cfg.Retry.MaxAttempts)
	v.Set("retry.base_delay", cfg.Retry.BaseDelay.String())
	v.Set("retry.multiplier", cfg.Retry.Multiplier)
	v.Set("retry.cap", cfg.Retry.Cap.String())
	v.Set("budget.alert_threshold", cfg.Budget.AlertThreshold)

	agents := make([]map[string]any, 0, len(cfg.Agents))
	for _, a := range cfg.Agents {
		agents = append(agents, map[string]any{
			"name": a.Name, "type": a.Type, "model": a.Model,
		})
	}
	v.Set("agents", agents)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.use_bedrock", false)
	v.SetDefault("anthropic.aws_region", "")
	v.SetDefault("anthropic.aws_profile", "")

	v.SetDefault("defaults.model", "claude-sonnet-4-20250514")
	v.SetDefault("defaults.max_tokens", 8192)

	v.SetDefault("retry.max_attempts", models.DefaultRetryPolicy.MaxAttempts)
	v.SetDefault("retry.base_delay", models.DefaultRetryPolicy.BaseDelay.String())
	v.SetDefault("retry.multiplier", models.DefaultRetryPolicy.Multiplier)
	v.SetDefault("retry.cap", models.DefaultRetryPolicy.Cap.String())

	v.SetDefault("budget.alert_threshold", models.DefaultAlertThreshold)
}

// getUserConfigDir returns the XDG config directory for mcc.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "mcc")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "mcc")
	}
	return filepath.Join(home, ".config", "mcc")
}

// findProjectConfig searches for .mcc.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".mcc.yaml")
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

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Defaults: DefaultsConfig{
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 8192,
		},
		Retry: RetryConfig{
			MaxAttempts: models.DefaultRetryPolicy.MaxAttempts,
			BaseDelay:   models.DefaultRetryPolicy.BaseDelay,
			Multiplier:  models.DefaultRetryPolicy.Multiplier,
			Cap:         models.DefaultRetryPolicy.Cap,
		},
		Budget: BudgetConfig{
			AlertThreshold: models.DefaultAlertThreshold,
		},
		Agents: DefaultAgents(),
	}
}

// DefaultAgents returns the standard five-role roster.
func DefaultAgents() []AgentConfig {
	return []AgentConfig{
		{Name: "orchestrator", Type: string(models.AgentOrchestrator)},
		{Name: "architect", Type: string(models.AgentArchitect), Model: "claude-opus-4-20250514"},
		{Name: "coder", Type: string(models.AgentCoder)},
		{Name: "tester", Type: string(models.AgentTester)},
		{Name: "reviewer", Type: string(models.AgentReviewer)},
	}
}
