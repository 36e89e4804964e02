package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadFromEnv builds a Config directly from environment variables, for
// quick-start and development use without a YAML file on disk. A YAML file
// loaded via Load takes precedence in production deployments.
func LoadFromEnv() *Config {
	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Version:     getEnv("ORCHESTRATOR_VERSION", "1.0.0"),

		Bounds: BoundsSettings{
			AllowedCommands:  splitCSV(getEnv("BOUNDS_ALLOWED_COMMANDS", "")),
			AllowedPaths:     splitCSV(getEnv("BOUNDS_ALLOWED_PATHS", "")),
			AllowedEndpoints: splitCSV(getEnv("BOUNDS_ALLOWED_ENDPOINTS", "")),
			MaxCPUPercent:    getEnvFloat("BOUNDS_MAX_CPU_PERCENT", 80),
			MaxMemoryMB:      uint64(getEnvInt("BOUNDS_MAX_MEMORY_MB", 1024)),
			ViolationHistory: getEnvInt("BOUNDS_VIOLATION_HISTORY", 256),
		},

		Checkpoint: CheckpointSettings{
			MaxCheckpoints:  getEnvInt("CHECKPOINT_MAX", 50),
			RollbackBaseDir: getEnv("CHECKPOINT_ROLLBACK_DIR", "./data/checkpoints"),
		},

		Gate: GateSettings{
			RequireVerificationEvent: getEnvBool("GATE_REQUIRE_VERIFICATION_EVENT", true),
			MinConfidenceThreshold:   getEnvFloat("GATE_MIN_CONFIDENCE", 0.8),
			MaxRetryAttempts:         getEnvInt("GATE_MAX_RETRY_ATTEMPTS", 3),
			Timeout:                  Duration(getEnvDuration("GATE_TIMEOUT", 300*time.Second)),
			AllowPartialSuccess:      getEnvBool("GATE_ALLOW_PARTIAL_SUCCESS", false),
		},

		Signing: SigningSettings{
			Enabled:        getEnvBool("SIGNING_ENABLED", false),
			PrivateKeyPath: getEnv("SIGNING_PRIVATE_KEY_PATH", ""),
		},

		Executor: ExecutorSettings{
			MaxParallel: getEnvInt("EXECUTOR_MAX_PARALLEL", 4),
		},

		Swarm: SwarmSettings{
			HeartbeatTimeout:   Duration(getEnvDuration("SWARM_HEARTBEAT_TIMEOUT", 30*time.Second)),
			ConsensusVerifiers: getEnvInt("SWARM_CONSENSUS_VERIFIERS", 3),
			ConsensusMode:      getEnv("SWARM_CONSENSUS_MODE", "Weak"),
		},

		EventLog: EventLogSettings{
			Backend:        getEnv("EVENT_LOG_BACKEND", "memory"),
			DatabaseURL:    getEnv("EVENT_LOG_DATABASE_URL", ""),
			MaxConnections: getEnvInt("EVENT_LOG_MAX_CONNECTIONS", 10),
		},

		Server: ServerSettings{
			ListenAddr:  getEnv("API_HOST", "0.0.0.0") + ":" + getEnv("API_PORT", "8080"),
			MetricsAddr: getEnv("API_HOST", "0.0.0.0") + ":" + getEnv("METRICS_PORT", "9090"),
		},

		Security: SecuritySettings{
			TLS: TLSSettings{
				Enabled:  getEnvBool("TLS_ENABLED", false),
				CertFile: getEnv("TLS_CERT_FILE", ""),
				KeyFile:  getEnv("TLS_KEY_FILE", ""),
			},
			Auth: AuthSettings{
				Enabled:   getEnvBool("AUTH_ENABLED", false),
				JWTSecret: getEnv("JWT_SECRET", ""),
				JWTExpiry: Duration(getEnvDuration("JWT_EXPIRY", 24*time.Hour)),
			},
		},

		Monitoring: MonitoringSettings{
			Logging: LoggingSettings{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
				Output: getEnv("LOG_OUTPUT", "stdout"),
			},
			Metrics: MetricsSettings{
				Enabled: getEnvBool("METRICS_ENABLED", true),
				Path:    getEnv("METRICS_PATH", "/metrics"),
			},
		},
	}

	cfg.applyDefaults()
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
