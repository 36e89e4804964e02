package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadSubstitutesEnvVarsAndAppliesDefaults(t *testing.T) {
	t.Setenv("GATE_THRESHOLD", "0.95")
	os.Unsetenv("SWARM_MODE")

	dir := t.TempDir()
	path := filepath.Join(dir, "orchestrator.yaml")
	yamlContent := `
environment: staging
gate:
  min_confidence_threshold: ${GATE_THRESHOLD}
swarm:
  consensus_mode: ${SWARM_MODE:-Weak}
`
	if err := os.WriteFile(path, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Gate.MinConfidenceThreshold != 0.95 {
		t.Fatalf("expected substituted threshold 0.95, got %f", cfg.Gate.MinConfidenceThreshold)
	}
	if cfg.Swarm.ConsensusMode != "Weak" {
		t.Fatalf("expected default consensus mode Weak, got %s", cfg.Swarm.ConsensusMode)
	}
	if cfg.Checkpoint.MaxCheckpoints != 50 {
		t.Fatalf("expected default max checkpoints 50, got %d", cfg.Checkpoint.MaxCheckpoints)
	}
	if cfg.Gate.Timeout.Duration() != 300*time.Second {
		t.Fatalf("expected default gate timeout 300s, got %s", cfg.Gate.Timeout.Duration())
	}
}

func TestValidateRejectsPostgresBackendWithoutURL(t *testing.T) {
	cfg := LoadFromEnv()
	cfg.EventLog.Backend = "postgres"
	cfg.EventLog.DatabaseURL = ""

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for postgres backend without a database URL")
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg := LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default env-loaded config to validate, got %v", err)
	}
}

func TestLoadFromEnvReadsOverrides(t *testing.T) {
	t.Setenv("GATE_MIN_CONFIDENCE", "0.5")
	t.Setenv("SWARM_CONSENSUS_MODE", "Strong")

	cfg := LoadFromEnv()
	if cfg.Gate.MinConfidenceThreshold != 0.5 {
		t.Fatalf("expected GATE_MIN_CONFIDENCE override, got %f", cfg.Gate.MinConfidenceThreshold)
	}
	if cfg.Swarm.ConsensusMode != "Strong" {
		t.Fatalf("expected SWARM_CONSENSUS_MODE override, got %s", cfg.Swarm.ConsensusMode)
	}
}
