package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"quota/internal/amqp"
	"quota/internal/config"
	applog "quota/internal/log"
	"quota/internal/services"
	"quota/internal/storage"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := applog.New(applog.Config{Component: applog.ComponentRecurring})
	applog.SetDefault(logger)

	logger.Info("Starting recurring-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	// AMQP client for announcing created expenses to the sync-worker.
	var publisher services.Publisher
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing in SQLite-only mode", "error", err)
		} else {
			defer amqpClient.Close()
			publisher = amqpClient
			logger.Info("AMQP client initialized - expenses will export via sync-worker")
		}
	} else {
		logger.Info("AMQP disabled - expenses will not export to Google Sheets")
	}

	processor := services.NewRecurringProcessor(repo, publisher)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Recurring expense processor configured",
		"interval", cfg.ProcessInterval,
		"sqlite_db", cfg.SQLiteDBPath)

	// Run once on startup, then on every tick.
	runProcessor(ctx, logger, processor)

	ticker := time.NewTicker(cfg.ProcessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Recurring-worker shutdown complete")
			return
		case <-ticker.C:
			runProcessor(ctx, logger, processor)
		}
	}
}

func runProcessor(ctx context.Context, logger *applog.Logger, processor *services.RecurringProcessor) {
	logger.Info("Processing due recurring expenses...")

	result, err := processor.ProcessDue(ctx, time.Now())
	if err != nil {
		logger.Error("Processing failed", "error", err)
		return
	}

	logger.Info("Processing complete",
		applog.FieldCreated, result.Created,
		applog.FieldUpdated, result.UpdatedTemplates,
		applog.FieldFailed, len(result.Failed))

	for _, f := range result.Failed {
		logger.Warn("Template skipped",
			applog.FieldTemplateID, f.TemplateID,
			applog.FieldError, f.Err.Error())
	}
}
