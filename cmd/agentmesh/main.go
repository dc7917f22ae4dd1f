// Command agentmesh runs the collaboration runtime behind its HTTP
// adapter.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/agentmesh/api"
	"github.com/BaSui01/agentmesh/config"
	"github.com/BaSui01/agentmesh/conversation"
	"github.com/BaSui01/agentmesh/failure"
	"github.com/BaSui01/agentmesh/internal/metrics"
	"github.com/BaSui01/agentmesh/internal/server"
	"github.com/BaSui01/agentmesh/orchestrator"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config")
	flag.Parse()

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := buildLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	memory := conversation.NewMemory(
		conversation.WithTTL(cfg.Memory.TTL),
		conversation.WithMaxThreads(cfg.Memory.MaxThreads),
		conversation.WithLogger(logger))

	collector := metrics.NewCollector("agentmesh")
	orch := orchestrator.New(
		orchestrator.WithLogger(logger),
		orchestrator.WithMemory(memory),
		orchestrator.WithMetrics(collector),
		orchestrator.WithBreakerConfig(failure.BreakerConfig{
			FailureThreshold: cfg.Failure.FailureThreshold,
			OpenTimeout:      cfg.Failure.OpenTimeout,
			SuccessThreshold: cfg.Failure.SuccessThreshold,
		}))
	orch.StartMessageProcessor()

	apiServer := api.NewServer(orch,
		api.WithLogger(logger),
		api.WithMetrics(collector),
		api.WithRateLimit(cfg.Server.RateLimit, cfg.Server.RateBurst))

	manager := server.NewManager(apiServer.Handler(), server.Config{
		Addr:            cfg.Server.Addr,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     120 * time.Second,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger)

	if err := manager.Start(); err != nil {
		logger.Fatal("server start failed", zap.Error(err))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-manager.Errors():
		logger.Error("server failed", zap.Error(err))
	}

	if err := manager.Shutdown(context.Background()); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
	orch.Shutdown()
}

func buildLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	var zcfg zap.Config
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}
