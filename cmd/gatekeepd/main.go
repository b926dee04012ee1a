// Package main is the entry point for the gatekeep decision service.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"gatekeep/internal/api"
	"gatekeep/internal/audit"
	"gatekeep/internal/behavior"
	"gatekeep/internal/config"
	"gatekeep/internal/intel"
	"gatekeep/internal/kafka"
	"gatekeep/internal/logging"
	"gatekeep/internal/metrics"
	"gatekeep/internal/normalize"
	"gatekeep/internal/pipeline"
	"gatekeep/internal/quarantine"
	"gatekeep/internal/response"
	"gatekeep/internal/rules"
	"gatekeep/internal/schema"
	"gatekeep/internal/trust"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	slog.Info("configuration loaded",
		"http_port", cfg.Server.HTTPPort,
		"rules_source", cfg.Rules.Source,
		"quarantine_backend", cfg.Quarantine.Backend,
		"audit_backend", cfg.Audit.Backend,
		"intel_feeds", len(cfg.Intel.Feeds),
	)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	// Kafka producer is shared by the audit sink and alert emitter when
	// either is configured to publish.
	var producer *kafka.Producer
	var sink audit.Sink
	var alerts response.AlertEmitter

	if cfg.Audit.Backend == "kafka" {
		producer, err = kafka.NewProducer(cfg.Audit.Kafka, logger)
		if err != nil {
			slog.Error("failed to create kafka producer", "error", err)
			os.Exit(1)
		}
		sink = audit.NewKafkaSink(producer, cfg.Audit.Kafka, logger)
		alerts = response.NewKafkaEmitter(producer, cfg.Audit.Kafka.AlertTopic)
	} else {
		sink = audit.NewMemorySink()
		alerts = response.NewLogEmitter(logger)
	}

	// Rule store: builtin set or a hot-reloaded YAML file. Tampered
	// rules raise an alert on the same emitter escalations use.
	integrityAlert := func(ruleID, reason string) {
		logger.Warn("rule integrity alert", "rule_id", ruleID, "reason", reason)
		if err := alerts.Emit(context.Background(), response.IntegrityAlert(ruleID, reason)); err != nil {
			logger.Error("integrity alert emission failed", "rule_id", ruleID, "error", err)
		}
	}
	var ruleStore *rules.Store
	if cfg.Rules.Source == "" || cfg.Rules.Source == "builtin" {
		ruleStore, err = rules.NewStore(rules.BuiltinRules(), integrityAlert, logger)
	} else {
		ruleStore, err = rules.NewFileStore(cfg.Rules.Source, cfg.Rules.ReloadInterval, integrityAlert, logger)
	}
	if err != nil {
		slog.Error("failed to load rules", "error", err)
		os.Exit(1)
	}

	// Threat intel cache with background feed refresh.
	iocCache := intel.NewCache()
	refresher := intel.NewRefresher(iocCache, cfg.Intel, m, logger)
	refresher.Start()

	// Behavioral baselines and zero-trust profiles.
	baselines := behavior.NewStore(cfg.Behavior)
	profiles := trust.NewProfileStore()

	// Quarantine store backend.
	var qstore quarantine.Store
	switch cfg.Quarantine.Backend {
	case "redis":
		client, err := quarantine.NewGoRedisClient(cfg.Quarantine.Redis)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		qstore = quarantine.NewRedisStore(client, "", logger)
	default:
		qstore = quarantine.NewMemoryStore(logger)
	}

	layers := []pipeline.DetectionLayer{
		rules.NewMatcher(ruleStore),
		intel.NewLayer(iocCache),
		behavior.NewLayer(baselines),
		trust.NewVerifier(profiles, cfg.Trust),
	}

	pl := pipeline.New(cfg.Pipeline, layers, qstore, m, logger)
	executor := response.NewExecutor(qstore, alerts, logger)

	server := api.NewServer(cfg, api.Deps{
		Normalizer: normalize.New(schema.NewValidator()),
		Pipeline:   pl,
		Executor:   executor,
		Sink:       sink,
		Quarantine: qstore,
		Metrics:    m,
		Registry:   registry,
		Logger:     logger,
	})

	go func() {
		if err := server.Start(); err != nil {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	refresher.Stop()
	ruleStore.Stop()

	if err := qstore.Close(); err != nil {
		slog.Error("quarantine store close error", "error", err)
	}
	if err := sink.Close(); err != nil {
		slog.Error("audit sink close error", "error", err)
	}
	if producer != nil {
		pm := producer.GetMetrics()
		slog.Info("producer metrics",
			"messages", pm.MessagesProduced,
			"bytes", pm.BytesProduced,
			"errors", pm.Errors,
		)
	}

	slog.Info("shutdown complete")
}

// newLogger builds the process logger from config. Unknown values fall
// back to JSON at info level.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: logging.RedactAttr,
	}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
