package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/zaggy/mcc/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify mcc configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/mcc/config.yaml
Project-specific overrides can be placed in .mcc.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
		case 1:
			displayConfigKey(cfg, args[0])
		default:
			setConfigKey(cfg, args[0], args[1])
		}
	},
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	fmt.Printf("anthropic.api_key: %s\n", config.MaskAPIKey(cfg.Anthropic.APIKey))
	fmt.Printf("anthropic.use_bedrock: %t\n", cfg.Anthropic.UseBedrock)
	fmt.Printf("anthropic.aws_region: %s\n", cfg.Anthropic.AWSRegion)
	fmt.Printf("anthropic.aws_profile: %s\n", cfg.Anthropic.AWSProfile)
	fmt.Printf("defaults.model: %s\n", cfg.Defaults.Model)
	fmt.Printf("defaults.max_tokens: %d\n", cfg.Defaults.MaxTokens)
	fmt.Printf("retry.max_attempts: %d\n", cfg.Retry.MaxAttempts)
	fmt.Printf("retry.base_delay: %s\n", cfg.Retry.BaseDelay)
	fmt.Printf("retry.multiplier: %g\n", cfg.Retry.Multiplier)
	fmt.Printf("retry.cap: %s\n", cfg.Retry.Cap)
	fmt.Printf("budget.alert_threshold: %g\n", cfg.Budget.AlertThreshold)
	for _, a := range cfg.Agents {
		model := a.Model
		if model == "" {
			model = "(default)"
		}
		fmt.Printf("agent %s: type=%s model=%s\n", a.Name, a.Type, model)
	}
}

// displayConfigKey prints a single configuration value.
func displayConfigKey(cfg *config.Config, key string) {
	value, err := getConfigValue(cfg, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(value)
}

// setConfigKey sets a configuration value and saves the config.
func setConfigKey(cfg *config.Config, key, value string) {
	if err := setConfigValue(cfg, key, value); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Set %s = %s\n", key, value)
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch strings.ToLower(key) {
	case "anthropic.api_key":
		return config.MaskAPIKey(cfg.Anthropic.APIKey), nil
	case "anthropic.use_bedrock":
		return strconv.FormatBool(cfg.Anthropic.UseBedrock), nil
	case "anthropic.aws_region":
		return cfg.Anthropic.AWSRegion, nil
	case "anthropic.aws_profile":
		return cfg.Anthropic.AWSProfile, nil
	case "defaults.model":
		return cfg.Defaults.Model, nil
	case "defaults.max_tokens":
		return strconv.Itoa(cfg.Defaults.MaxTokens), nil
	case "retry.max_attempts":
		return strconv.Itoa(cfg.Retry.MaxAttempts), nil
	case "retry.base_delay":
		return cfg.Retry.BaseDelay.String(), nil
	case "retry.multiplier":
		return strconv.FormatFloat(cfg.Retry.Multiplier, 'g', -1, 64), nil
	case "retry.cap":
		return cfg.Retry.Cap.String(), nil
	case "budget.alert_threshold":
		return strconv.FormatFloat(cfg.Budget.AlertThreshold, 'g', -1, 64), nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.Config, key, value string) error {
	switch strings.ToLower(key) {
	case "anthropic.api_key":
		if err := config.ValidateAPIKey(value); err != nil {
			return err
		}
		cfg.Anthropic.APIKey = value
	case "anthropic.use_bedrock":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %s", value)
		}
		cfg.Anthropic.UseBedrock = b
	case "anthropic.aws_region":
		cfg.Anthropic.AWSRegion = value
	case "anthropic.aws_profile":
		cfg.Anthropic.AWSProfile = value
	case "defaults.model":
		cfg.Defaults.Model = value
	case "defaults.max_tokens":
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid max_tokens: %s", value)
		}
		cfg.Defaults.MaxTokens = n
	case "retry.max_attempts":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return fmt.Errorf("invalid max_attempts: %s", value)
		}
		cfg.Retry.MaxAttempts = n
	case "retry.base_delay":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration: %s", value)
		}
		cfg.Retry.BaseDelay = d
	case "retry.multiplier":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil || f < 1 {
			return fmt.Errorf("invalid multiplier: %s", value)
		}
		cfg.Retry.Multiplier = f
	case "retry.cap":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration: %s", value)
		}
		cfg.Retry.Cap = d
	case "budget.alert_threshold":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil || f <= 0 || f > 1 {
			return fmt.Errorf("invalid threshold (must be in (0,1]): %s", value)
		}
		cfg.Budget.AlertThreshold = f
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}
