// Copyright 2025 Certen Protocol
//
// Package config loads orchestrator configuration from a YAML file, with
// environment variable substitution via ${VAR_NAME} / ${VAR_NAME:-default}.

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// ==============================================================================
// Configuration Structures
// ==============================================================================

// Config holds all configuration for the orchestrator service.
type Config struct {
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`

	Bounds     BoundsSettings     `yaml:"bounds"`
	Checkpoint CheckpointSettings `yaml:"checkpoint"`
	Gate       GateSettings       `yaml:"gate"`
	Signing    SigningSettings    `yaml:"signing"`
	Executor   ExecutorSettings   `yaml:"executor"`
	Swarm      SwarmSettings      `yaml:"swarm"`
	EventLog   EventLogSettings   `yaml:"event_log"`
	Server     ServerSettings     `yaml:"server"`
	Security   SecuritySettings   `yaml:"security"`
	Monitoring MonitoringSettings `yaml:"monitoring"`
}

// BoundsSettings configures the default ContextBounds applied to root
// intents that don't declare their own, and the per-intent violation
// ring-buffer capacity.
type BoundsSettings struct {
	AllowedCommands  []string `yaml:"allowed_commands"`
	AllowedPaths     []string `yaml:"allowed_paths"`
	AllowedEndpoints []string `yaml:"allowed_endpoints"`
	MaxCPUPercent    float64  `yaml:"max_cpu_percent"`
	MaxMemoryMB      uint64   `yaml:"max_memory_mb"`
	ViolationHistory int      `yaml:"violation_history"`
}

// CheckpointSettings configures the checkpoint manager.
type CheckpointSettings struct {
	MaxCheckpoints  int    `yaml:"max_checkpoints"`
	RollbackBaseDir string `yaml:"rollback_base_dir"`
}

// GateSettings mirrors proof.GateConfig for YAML loading.
type GateSettings struct {
	RequireVerificationEvent bool     `yaml:"require_verification_event"`
	MinConfidenceThreshold   float64  `yaml:"min_confidence_threshold"`
	MaxRetryAttempts         int      `yaml:"max_retry_attempts"`
	Timeout                  Duration `yaml:"timeout"`
	AllowPartialSuccess      bool     `yaml:"allow_partial_success"`
}

// SigningSettings configures proof signing.
type SigningSettings struct {
	Enabled        bool   `yaml:"enabled"`
	PrivateKeyPath string `yaml:"private_key_path"`
}

// ExecutorSettings configures the verified executor's level-based
// scheduler.
type ExecutorSettings struct {
	MaxParallel int `yaml:"max_parallel"`
}

// SwarmSettings configures the swarm coordinator.
type SwarmSettings struct {
	HeartbeatTimeout   Duration `yaml:"heartbeat_timeout"`
	ConsensusVerifiers int      `yaml:"consensus_verifiers"`
	ConsensusMode      string   `yaml:"consensus_mode"` // "Strong" or "Weak"
}

// EventLogSettings selects and configures the event log backend.
type EventLogSettings struct {
	Backend        string `yaml:"backend"` // "memory" or "postgres"
	DatabaseURL    string `yaml:"database_url"`
	MaxConnections int    `yaml:"max_connections"`
}

// ServerSettings configures the HTTP server exposing health and metrics.
type ServerSettings struct {
	ListenAddr  string `yaml:"listen_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// SecuritySettings contains security configuration carried over from the
// teacher's TLS/auth conventions.
type SecuritySettings struct {
	TLS  TLSSettings  `yaml:"tls"`
	Auth AuthSettings `yaml:"auth"`
}

// TLSSettings contains TLS configuration.
type TLSSettings struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// AuthSettings contains authentication configuration.
type AuthSettings struct {
	Enabled   bool     `yaml:"enabled"`
	JWTSecret string   `yaml:"jwt_secret"`
	JWTExpiry Duration `yaml:"jwt_expiry"`
}

// MonitoringSettings contains logging and metrics configuration.
type MonitoringSettings struct {
	Logging LoggingSettings `yaml:"logging"`
	Metrics MetricsSettings `yaml:"metrics"`
}

// LoggingSettings contains logging configuration.
type LoggingSettings struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// MetricsSettings contains Prometheus metrics configuration.
type MetricsSettings struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// ==============================================================================
// Duration Type for YAML Parsing
// ==============================================================================

// Duration wraps time.Duration for YAML unmarshaling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// ==============================================================================
// Configuration Loading
// ==============================================================================

// Load reads orchestrator configuration from a YAML file at path.
// ${VAR_NAME} and ${VAR_NAME:-default} references are substituted against
// the process environment before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	expanded := substituteEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults sets default values for unset fields.
func (c *Config) applyDefaults() {
	if c.Bounds.ViolationHistory == 0 {
		c.Bounds.ViolationHistory = 256
	}
	if c.Checkpoint.MaxCheckpoints == 0 {
		c.Checkpoint.MaxCheckpoints = 50
	}
	if c.Gate.MinConfidenceThreshold == 0 {
		c.Gate.MinConfidenceThreshold = 0.8
	}
	if c.Gate.MaxRetryAttempts == 0 {
		c.Gate.MaxRetryAttempts = 3
	}
	if c.Gate.Timeout == 0 {
		c.Gate.Timeout = Duration(300 * time.Second)
	}
	if c.Executor.MaxParallel == 0 {
		c.Executor.MaxParallel = 4
	}
	if c.Swarm.HeartbeatTimeout == 0 {
		c.Swarm.HeartbeatTimeout = Duration(30 * time.Second)
	}
	if c.Swarm.ConsensusVerifiers == 0 {
		c.Swarm.ConsensusVerifiers = 3
	}
	if c.Swarm.ConsensusMode == "" {
		c.Swarm.ConsensusMode = "Weak"
	}
	if c.EventLog.Backend == "" {
		c.EventLog.Backend = "memory"
	}
	if c.EventLog.MaxConnections == 0 {
		c.EventLog.MaxConnections = 10
	}
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = "0.0.0.0:8080"
	}
	if c.Server.MetricsAddr == "" {
		c.Server.MetricsAddr = "0.0.0.0:9090"
	}
	if c.Security.Auth.JWTExpiry == 0 {
		c.Security.Auth.JWTExpiry = Duration(24 * time.Hour)
	}
	if c.Monitoring.Logging.Level == "" {
		c.Monitoring.Logging.Level = "info"
	}
	if c.Monitoring.Logging.Format == "" {
		c.Monitoring.Logging.Format = "json"
	}
	if c.Monitoring.Logging.Output == "" {
		c.Monitoring.Logging.Output = "stdout"
	}
	if c.Monitoring.Metrics.Path == "" {
		c.Monitoring.Metrics.Path = "/metrics"
	}
}

// ==============================================================================
// Environment Variable Substitution
// ==============================================================================

// envVarPattern matches ${VAR_NAME} or ${VAR_NAME:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// substituteEnvVars replaces ${VAR_NAME} with environment variable values.
func substituteEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}

		varName := groups[1]
		defaultValue := ""
		if len(groups) >= 4 {
			defaultValue = groups[3]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}

// ==============================================================================
// Validation
// ==============================================================================

// Validate checks the configuration for internally consistent values.
func (c *Config) Validate() error {
	var errs []string

	if c.Gate.MinConfidenceThreshold < 0 || c.Gate.MinConfidenceThreshold > 1 {
		errs = append(errs, "gate.min_confidence_threshold must be in [0,1]")
	}
	if c.EventLog.Backend != "memory" && c.EventLog.Backend != "postgres" {
		errs = append(errs, "event_log.backend must be \"memory\" or \"postgres\"")
	}
	if c.EventLog.Backend == "postgres" && c.EventLog.DatabaseURL == "" {
		errs = append(errs, "event_log.database_url is required when event_log.backend is \"postgres\"")
	}
	if c.Swarm.ConsensusMode != "Strong" && c.Swarm.ConsensusMode != "Weak" {
		errs = append(errs, "swarm.consensus_mode must be \"Strong\" or \"Weak\"")
	}
	if c.Signing.Enabled && c.Signing.PrivateKeyPath == "" {
		errs = append(errs, "signing.private_key_path is required when signing.enabled is true")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", joinErrs(errs))
	}
	return nil
}

func joinErrs(errs []string) string {
	out := errs[0]
	for _, e := range errs[1:] {
		out += "\n  - " + e
	}
	return out
}
