// Copyright 2025 Certen Protocol
//
// cmd/orchestrator runs the verified-execution orchestrator as a standalone
// service: it loads configuration, wires an orchestrator.Orchestrator, and
// exposes /health and /metrics over HTTP.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/certen/verified-intent/pkg/checkpoint"
	"github.com/certen/verified-intent/pkg/config"
	"github.com/certen/verified-intent/pkg/eventlog"
	"github.com/certen/verified-intent/pkg/orchestrator"
	"github.com/certen/verified-intent/pkg/proof"
)

// noopRollback is the RollbackHandler installed when no domain-specific
// rollback side effects are wired in; checkpoints are still recorded, they
// simply have nothing external to restore.
type noopRollback struct{}

func (noopRollback) Rollback(cp checkpoint.Checkpoint) error { return nil }
func (noopRollback) CanRollback(checkpoint.Checkpoint) bool  { return true }
func (noopRollback) Cleanup(checkpoint.Checkpoint) error     { return nil }

// HealthStatus tracks the health of the orchestrator's wired components for
// the /health endpoint.
type HealthStatus struct {
	Status        string `json:"status"` // "ok", "degraded", "error"
	EventLog      string `json:"event_log"`
	Signing       string `json:"signing"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	startTime     time.Time
	mu            sync.RWMutex
}

var healthStatus = &HealthStatus{
	Status:    "starting",
	EventLog:  "unknown",
	Signing:   "unknown",
	startTime: time.Now(),
}

func (h *HealthStatus) set(eventLog, signing string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.EventLog = eventLog
	h.Signing = signing
	if h.EventLog == "disconnected" {
		h.Status = "degraded"
	} else {
		h.Status = "ok"
	}
}

func (h *HealthStatus) ToJSON() []byte {
	h.mu.Lock()
	h.UptimeSeconds = int64(time.Since(h.startTime).Seconds())
	h.mu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()
	data, _ := json.Marshal(h)
	return data
}

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Printf("starting verified-execution orchestrator")

	var (
		configPath = flag.String("config", "", "Path to YAML config file (falls back to environment variables)")
		showHelp   = flag.Bool("help", false, "Show help message")
	)
	flag.Parse()

	if *showHelp {
		printHelp()
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	log.Printf("environment=%s event_log.backend=%s executor.max_parallel=%d swarm.consensus_mode=%s",
		cfg.Environment, cfg.EventLog.Backend, cfg.Executor.MaxParallel, cfg.Swarm.ConsensusMode)

	var signer proof.Signer
	if cfg.Signing.Enabled {
		priv, err := loadOrGenerateEd25519Key(cfg.Signing.PrivateKeyPath)
		if err != nil {
			log.Fatalf("failed to load signing key: %v", err)
		}
		signer = proof.NewEd25519Signer(priv)
		healthStatus.set(healthStatus.EventLog, "enabled")
		log.Printf("proof signing enabled")
	} else {
		healthStatus.set(healthStatus.EventLog, "disabled")
		log.Printf("proof signing disabled — proofs will be unsigned")
	}

	events, err := newEventLog(cfg)
	if err != nil {
		if cfg.EventLog.Backend == "postgres" {
			log.Fatalf("event log backend %q required but unavailable: %v", cfg.EventLog.Backend, err)
		}
		log.Printf("falling back to in-memory event log: %v", err)
		events = eventlog.NewMemoryLog()
		healthStatus.set("disconnected", healthStatus.Signing)
	} else {
		healthStatus.set("connected", healthStatus.Signing)
	}
	defer events.Close()

	reg := prometheus.NewRegistry()
	orc, err := orchestrator.New(cfg, signer, noopRollback{}, events, log.New(log.Writer(), "[orchestrator] ", log.LstdFlags), reg)
	if err != nil {
		log.Fatalf("failed to construct orchestrator: %v", err)
	}
	log.Printf("orchestrator wired: monitor, checkpoint manager, verifier suite, proof gate, executor, swarm coordinator")

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if healthStatus.Status == "ok" {
			w.WriteHeader(http.StatusOK)
		} else if healthStatus.Status == "degraded" {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		w.Write(healthStatus.ToJSON())
	})

	metricsMux := http.NewServeMux()
	metricsMux.Handle(cfg.Monitoring.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	httpServer := &http.Server{Addr: cfg.Server.ListenAddr, Handler: mux}
	metricsServer := &http.Server{Addr: cfg.Server.MetricsAddr, Handler: metricsMux}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = ctx // reserved for background sweeps (e.g. swarm.Coordinator.SweepOffline) once a transport is wired

	go func() {
		log.Printf("orchestrator API listening on %s", cfg.Server.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	if cfg.Monitoring.Metrics.Enabled {
		go func() {
			log.Printf("metrics listening on %s%s", cfg.Server.MetricsAddr, cfg.Monitoring.Metrics.Path)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("metrics server failed: %v", err)
			}
		}()
	}

	log.Printf("verified-execution orchestrator ready (%d intents submitted so far)", orc.Forest.TotalIntents())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("shutting down orchestrator...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics server shutdown error: %v", err)
	}

	log.Printf("orchestrator stopped")
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	if envPath := os.Getenv("ORCHESTRATOR_CONFIG_PATH"); envPath != "" {
		return config.Load(envPath)
	}
	return config.LoadFromEnv(), nil
}

func newEventLog(cfg *config.Config) (eventlog.Log, error) {
	switch cfg.EventLog.Backend {
	case "postgres":
		return eventlog.NewPostgresLog(context.Background(), cfg.EventLog.DatabaseURL)
	default:
		return eventlog.NewMemoryLog(), nil
	}
}

// loadOrGenerateEd25519Key securely loads or generates an Ed25519 private
// key used to sign verification proofs. Keys are never derived from
// configuration values; they are generated with a CSPRNG and persisted.
func loadOrGenerateEd25519Key(keyPath string) (ed25519.PrivateKey, error) {
	if keyPath == "" {
		keyPath = filepath.Join("data", "ed25519_key.hex")
	}

	keyDir := filepath.Dir(keyPath)
	if err := os.MkdirAll(keyDir, 0700); err != nil {
		return nil, fmt.Errorf("create key directory %s: %w", keyDir, err)
	}

	if _, err := os.Stat(keyPath); os.IsNotExist(err) {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate ed25519 key: %w", err)
		}
		if err := os.WriteFile(keyPath, []byte(hex.EncodeToString(priv)), 0600); err != nil {
			return nil, fmt.Errorf("save ed25519 key to %s: %w", keyPath, err)
		}
		log.Printf("generated and saved new signing key: %s", keyPath)
		return priv, nil
	}

	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read ed25519 key from %s: %w", keyPath, err)
	}
	keyBytes, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("decode ed25519 key from %s: %w", keyPath, err)
	}
	if len(keyBytes) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid ed25519 key size: expected %d, got %d", ed25519.PrivateKeySize, len(keyBytes))
	}
	return ed25519.PrivateKey(keyBytes), nil
}

func printHelp() {
	fmt.Println("verified-execution orchestrator")
	fmt.Println()
	fmt.Println("Usage: orchestrator [flags]")
	fmt.Println()
	flag.PrintDefaults()
}
