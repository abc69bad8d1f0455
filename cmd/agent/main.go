package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xpadev-net/kiosk-agent/internal/api"
	"github.com/xpadev-net/kiosk-agent/internal/config"
	"github.com/xpadev-net/kiosk-agent/internal/health"
	"github.com/xpadev-net/kiosk-agent/internal/history"
	"github.com/xpadev-net/kiosk-agent/internal/log"
	"github.com/xpadev-net/kiosk-agent/internal/manifest"
	"github.com/xpadev-net/kiosk-agent/internal/pipeline"
)

const (
	readTimeout     = 30 * time.Second
	writeTimeout    = 30 * time.Second
	shutdownTimeout = 15 * time.Second
	drainTimeout    = 10 * time.Second
)

func main() {
	// Load configuration
	cfg, err := config.LoadAgentConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := log.Init(cfg.Environment, cfg.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting kiosk agent",
		zap.String("agent_id", cfg.AgentID),
		zap.String("environment", cfg.Environment),
		zap.Int("port", cfg.Port),
		zap.String("scratch_dir", cfg.ScratchDir),
		zap.Int("scheduled_commands", len(cfg.Schedule)),
	)

	if err := os.MkdirAll(cfg.ScratchDir, 0o755); err != nil {
		log.Fatal("failed to create scratch directory", zap.Error(err))
	}

	// History journal is optional
	var recorder history.Recorder = history.Nop{}
	if cfg.DatabaseURL != "" {
		connectCtx, connectCancel := context.WithTimeout(context.Background(), 30*time.Second)
		journal, err := history.New(connectCtx, cfg.DatabaseURL)
		connectCancel()
		if err != nil {
			log.Fatal("failed to open history journal", zap.Error(err))
		}
		defer journal.Close()
		recorder = journal
		log.Info("history journal enabled")
	}

	agent, err := pipeline.New(cfg, pipeline.Deps{
		Collector: health.NewCollector(0, health.Default(cfg.RepoDir, cfg.ScratchDir)...),
		History:   recorder,
		Fatal:     log.Fatal,
	})
	if err != nil {
		log.Fatal("failed to build pipeline", zap.Error(err))
	}

	// Set Gin mode based on environment
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	handler := api.NewHandler(agent, manifest.NewFetcher(cfg.DownloadTimeout))
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewRouter(handler, cfg.APIKey),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	agentDone := make(chan error, 1)
	go func() {
		agentDone <- agent.Run(ctx)
	}()

	// Start server in a goroutine
	go func() {
		log.Info("starting HTTP server", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	cancel()
	select {
	case err := <-agentDone:
		if err != nil {
			log.Error("pipeline stopped with errors", zap.Error(err))
		}
	case <-time.After(drainTimeout):
		log.Warn("pipeline did not stop in time")
	}

	log.Info("agent stopped")
}
