// Package main provides the API server entry point for the tuning platform.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/tuning-platform/internal/api"
	"github.com/tuning-platform/internal/config"
	"github.com/tuning-platform/internal/logging"
	"github.com/tuning-platform/internal/queue"
	"github.com/tuning-platform/internal/service"
	"github.com/tuning-platform/internal/staging"
	"github.com/tuning-platform/internal/storage"
	"github.com/tuning-platform/internal/vault"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)
	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	// Database connections
	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	redis, err := storage.NewRedisDB(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redis.Close()

	logger.Info("Database connections established")

	// Repositories
	credentialRepo := storage.NewCredentialRepository(postgres)
	jobRepo := storage.NewSlaveJobRepository(postgres)
	requestRepo := storage.NewRequestRepository(postgres)
	scriptRepo := storage.NewScriptRepository(postgres)

	// Credential vault
	masterKey, err := cfg.Vault.Key()
	if err != nil {
		logger.WithError(err).Fatal("Invalid vault master key")
	}
	cipher, err := vault.NewFieldCipher(masterKey)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize field cipher")
	}
	credentials := vault.NewStore(credentialRepo, cipher)

	// File staging
	gateway := staging.NewGateway(
		filepath.Join(cfg.Staging.ScratchDir, "tuning-jobs"),
		staging.NewFSObjectStore(filepath.Join(cfg.Staging.ScratchDir, "tuning-artifacts")),
	)

	producer := queue.NewProducer(redis)

	fileService := service.NewFileService(
		requestRepo,
		jobRepo,
		scriptRepo,
		gateway,
		producer,
		service.NopDirectory{},
		service.NopNotifier{},
		logger,
	)

	serverConfig := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		StandardTierRPS: cfg.RateLimit.StandardTierRPS,
		ProTierRPS:      cfg.RateLimit.ProTierRPS,
	}

	server := api.NewServer(serverConfig, fileService, credentials, logger)

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("API server started")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server shutdown failed")
	}
	logger.Info("Server stopped")
}
