// Package config assembles watcher configuration from an optional YAML file
// and the environment. The resulting Config is built once at startup and
// passed by reference into every component; there is no ambient global state.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/danielscholl/claude-sdlc/internal/logging"
)

// Environment variables consumed at startup.
const (
	EnvGitHubToken = "GITHUB_TOKEN"
	EnvGitLabToken = "GITLAB_TOKEN"
	EnvTunnelID    = "DEVTUNNEL_ID"
)

// Config represents the main configuration.
type Config struct {
	Version  string          `yaml:"version"`
	Gateway  *GatewayConfig  `yaml:"gateway"`
	Tunnel   *TunnelConfig   `yaml:"tunnel"`
	Workflow *WorkflowConfig `yaml:"workflow"`
	Logging  *logging.Config `yaml:"logging"`

	// Tokens are resolved from the environment, never from the YAML file.
	GitHubToken string `yaml:"-"`
	GitLabToken string `yaml:"-"`
}

// GatewayConfig holds webhook listener settings.
type GatewayConfig struct {
	// Host is the network interface to bind to (e.g., "127.0.0.1" or "0.0.0.0").
	Host string `yaml:"host"`
	// Port is the TCP port number to listen on.
	Port int `yaml:"port"`
}

// TunnelConfig holds devtunnel settings.
type TunnelConfig struct {
	// ID overrides tunnel ID resolution. When empty, the DEVTUNNEL_ID
	// environment variable is consulted, then the git repository name.
	ID string `yaml:"id"`
	// ReconcileSchedule is a cron expression for webhook drift reconciliation
	// while hosting. Empty disables reconciliation.
	ReconcileSchedule string `yaml:"reconcile_schedule"`
}

// WorkflowConfig holds orchestrator settings.
type WorkflowConfig struct {
	// TriggerTokens activate the resolver when present in issue/comment text.
	TriggerTokens []string `yaml:"trigger_tokens"`
	// FallbackType is used when classification is unavailable.
	FallbackType string `yaml:"fallback_type"`
	// Model passed to the agent CLI.
	Model string `yaml:"model"`
	// StageTimeout bounds each external stage call.
	StageTimeout time.Duration `yaml:"stage_timeout"`
	// ExecutionsRoot is where per-execution log scopes live.
	ExecutionsRoot string `yaml:"executions_root"`
	// DataPath is where the execution audit database lives.
	DataPath string `yaml:"data_path"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Version: "1.0",
		Gateway: &GatewayConfig{
			Host: "0.0.0.0",
			Port: 8001,
		},
		Tunnel: &TunnelConfig{
			ReconcileSchedule: "@every 5m",
		},
		Workflow: &WorkflowConfig{
			TriggerTokens:  []string{"sdlc", "@agent"},
			FallbackType:   "chore",
			Model:          "sonnet",
			StageTimeout:   10 * time.Minute,
			ExecutionsRoot: "agents",
			DataPath:       filepath.Join(homeDir, ".sdlc", "data"),
		},
		Logging:     logging.DefaultConfig(),
		GitHubToken: os.Getenv(EnvGitHubToken),
		GitLabToken: os.Getenv(EnvGitLabToken),
	}
}

// Load reads configuration from a YAML file, layering it over defaults.
// A missing file is not an error; defaults are returned.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	if c.Gateway == nil || c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("invalid gateway port")
	}
	if c.Workflow == nil {
		return fmt.Errorf("workflow config missing")
	}
	switch c.Workflow.FallbackType {
	case "feature", "bug", "chore":
	default:
		return fmt.Errorf("invalid fallback type: %q", c.Workflow.FallbackType)
	}
	if len(c.Workflow.TriggerTokens) == 0 {
		return fmt.Errorf("at least one trigger token is required")
	}
	if c.Workflow.StageTimeout <= 0 {
		return fmt.Errorf("stage timeout must be positive")
	}
	return nil
}

// TunnelID returns the configured tunnel ID override, falling back to the
// DEVTUNNEL_ID environment variable. Empty means "derive from repository".
func (c *Config) TunnelID() string {
	if c.Tunnel != nil && c.Tunnel.ID != "" {
		return c.Tunnel.ID
	}
	return os.Getenv(EnvTunnelID)
}
