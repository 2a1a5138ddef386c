package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hireloop/interview-engine/internal/api"
	"github.com/hireloop/interview-engine/internal/config"
	"github.com/hireloop/interview-engine/internal/feedback"
	"github.com/hireloop/interview-engine/internal/observability"
	"github.com/hireloop/interview-engine/internal/session"
	"github.com/hireloop/interview-engine/internal/storage/sqlite"
	"github.com/hireloop/interview-engine/internal/transport"
	"github.com/hireloop/interview-engine/internal/websocket"
	"github.com/hireloop/interview-engine/pkg/logger"
)

var (
	// Version is injected at build time
	Version = "dev"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (optional - will search in configs/ and root directory)")
	flag.Parse()

	cfg, err := config.LoadWithFallback(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting interview engine",
		logger.String("version", Version),
		logger.String("config_path", *configPath),
	)

	// Storage (optional)
	var (
		db             *sql.DB
		sessionStorage *sqlite.SessionStorage
		transcripts    *sqlite.TranscriptStorage
	)
	if cfg.Storage.Enabled {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.DBPath), 0755); err != nil {
			log.Error("Failed to create database directory", logger.Error(err))
			os.Exit(1)
		}
		db, err = sqlite.NewDatabase(cfg.Storage.DBPath, log)
		if err != nil {
			log.Error("Failed to open database", logger.Error(err))
			os.Exit(1)
		}
		defer db.Close()

		sessionStorage, err = sqlite.NewSessionStorage(db, log)
		if err != nil {
			log.Error("Failed to initialize session storage", logger.Error(err))
			os.Exit(1)
		}
		transcripts, err = sqlite.NewTranscriptStorage(db, log)
		if err != nil {
			log.Error("Failed to initialize transcript storage", logger.Error(err))
			os.Exit(1)
		}
		log.Info("Using SQLite storage", logger.String("path", cfg.Storage.DBPath))
	} else {
		log.Info("Persistence disabled, sessions are memory only")
	}

	// Metrics (optional)
	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics(cfg.Metrics.Namespace)
		log.Info("Prometheus metrics enabled", logger.String("namespace", cfg.Metrics.Namespace))
	}

	// Observer WebSocket hub
	wsServer := websocket.NewServer(log)
	go wsServer.Run()

	// Upstream transport settings shared by all sessions
	transportCfg := transport.Config{
		Host:            cfg.Gemini.Host,
		Credential:      cfg.Gemini.APIKey,
		InputSampleRate: cfg.Gemini.InputSampleRate,
		SetupTimeout:    time.Duration(cfg.Gemini.SetupTimeoutSec) * time.Second,
	}

	sessionService := session.NewService(
		sessionConfig(cfg),
		transportCfg,
		cfg.Tuning(),
		sessionStorage,
		transcripts,
		metrics,
		log,
	)

	// Feedback generation (optional)
	var generator *feedback.Generator
	if cfg.Feedback.Enabled {
		generator = feedback.NewGenerator(feedback.Config{
			APIKey:  cfg.Gemini.APIKey,
			Model:   cfg.Feedback.Model,
			Timeout: time.Duration(cfg.Feedback.TimeoutSec) * time.Second,
		}, log)
	}

	router := api.NewRouter(
		sessionService,
		sessionStorage,
		generator,
		cfg.SessionDefaults(),
		wsServer,
		metrics,
		cfg.Server.StaticFilesDir,
		log,
	)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router.Routes(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSecs) * time.Second,
	}

	go func() {
		log.Info("Starting HTTP server", logger.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", logger.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down server...")

	sessionService.Shutdown()
	log.Info("Session service stopped.")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", logger.Error(err))
	}

	log.Info("Server stopped.")
}

func sessionConfig(cfg *config.Config) session.Config {
	sc := session.DefaultConfig()
	if cfg.Session.TokenTTLMin > 0 {
		sc.TokenTTL = time.Duration(cfg.Session.TokenTTLMin) * time.Minute
	}
	if cfg.Session.RetentionMin > 0 {
		sc.Retention = time.Duration(cfg.Session.RetentionMin) * time.Minute
	}
	if cfg.Session.CleanupIntervalSec > 0 {
		sc.CleanupInterval = time.Duration(cfg.Session.CleanupIntervalSec) * time.Second
	}
	if cfg.Session.MaxConcurrent > 0 {
		sc.MaxConcurrent = cfg.Session.MaxConcurrent
	}
	return sc
}
