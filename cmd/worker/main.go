// Package main provides the pipeline worker entry point. It consumes the
// decode, build and encode queues and talks to the slave-tool vendors.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/tuning-platform/internal/adapter"
	"github.com/tuning-platform/internal/config"
	"github.com/tuning-platform/internal/logging"
	"github.com/tuning-platform/internal/models"
	"github.com/tuning-platform/internal/pipeline"
	"github.com/tuning-platform/internal/queue"
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

	clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to ClickHouse")
	}
	defer clickhouse.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := storage.EnsurePipelineEventsTable(ctx, clickhouse); err != nil {
		logger.WithError(err).Fatal("Failed to ensure pipeline_events table")
	}

	logger.Info("Database connections established")

	// Repositories
	credentialRepo := storage.NewCredentialRepository(postgres)
	jobRepo := storage.NewSlaveJobRepository(postgres)
	requestRepo := storage.NewRequestRepository(postgres)
	scriptRepo := storage.NewScriptRepository(postgres)
	eventRepo := storage.NewPipelineEventRepository(clickhouse)

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

	// Vendor adapters
	alientech := adapter.NewAlientechAdapter(adapter.AlientechConfig{
		BaseURL:     cfg.Vendors.AlientechBaseURL,
		HTTPTimeout: cfg.Vendors.HTTPTimeout,
		PollTimeout: cfg.Vendors.PollTimeout,
	}, credentials, gateway)
	alientech.OnProgress(func(ctx context.Context, job *models.SlaveJob) {
		if err := jobRepo.Update(ctx, job); err != nil {
			logger.WithField("job_id", job.UniqueID).WithError(err).Warn("Failed to persist job phase")
		}
	})

	registry, err := adapter.NewRegistry(
		alientech,
		adapter.NewAutoTunerAdapter(adapter.SyncConfig{
			BaseURL:     cfg.Vendors.AutoTunerBaseURL,
			HTTPTimeout: cfg.Vendors.HTTPTimeout,
		}, credentials, gateway),
		adapter.NewMagicAdapter(adapter.SyncConfig{
			BaseURL:     cfg.Vendors.MagicBaseURL,
			HTTPTimeout: cfg.Vendors.HTTPTimeout,
		}, credentials, gateway),
		adapter.NewDimsportAdapter(adapter.SyncConfig{
			BaseURL:     cfg.Vendors.DimsportBaseURL,
			HTTPTimeout: cfg.Vendors.HTTPTimeout,
		}, credentials, gateway),
	)
	if err != nil {
		logger.WithError(err).Fatal("Failed to build vendor adapter registry")
	}

	producer := queue.NewProducer(redis)

	pipe := pipeline.New(requestRepo, jobRepo, scriptRepo, eventRepo, registry, gateway, producer, logger)

	consumers := []*queue.Consumer{
		queue.NewConsumer(redis, queue.KindDecode, pipe.DecodeHandler(), cfg.Queue.DecodeWorkers, cfg.Queue.MaxRetries, logger),
		queue.NewConsumer(redis, queue.KindBuild, pipe.BuildHandler(), cfg.Queue.BuildWorkers, cfg.Queue.MaxRetries, logger),
		queue.NewConsumer(redis, queue.KindEncode, pipe.EncodeHandler(), cfg.Queue.EncodeWorkers, cfg.Queue.MaxRetries, logger),
	}

	for _, c := range consumers {
		c.OnExhausted(pipe.Exhausted)
		if err := c.Start(ctx); err != nil {
			logger.WithError(err).Fatal("Failed to start queue consumer")
		}
	}

	logger.WithFields(map[string]interface{}{
		"decode_workers": cfg.Queue.DecodeWorkers,
		"build_workers":  cfg.Queue.BuildWorkers,
		"encode_workers": cfg.Queue.EncodeWorkers,
	}).Info("Pipeline worker started")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("Shutting down pipeline worker...")
	cancel()
	for _, c := range consumers {
		c.Stop()
	}
	logger.Info("Pipeline worker stopped")
}
