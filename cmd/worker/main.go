package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/statement-ingest/internal/app"
	"github.com/dvloznov/statement-ingest/internal/config"
	"github.com/dvloznov/statement-ingest/internal/jobs"
	"github.com/dvloznov/statement-ingest/internal/jobs/inmemory"
	"github.com/dvloznov/statement-ingest/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := logger.New()
		l.Fatal().Err(err).Msg("Invalid configuration")
	}

	log := logger.NewWithOptions(logger.Options{Level: cfg.LogLevel, JSON: cfg.LogJSON})

	// Create context that cancels on interrupt
	ctx, cancel := context.WithCancel(logger.WithContext(context.Background(), log))
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize pipeline")
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to release resources")
		}
	}()

	// Single-instance queue; statement claims in the database keep a second
	// worker from processing the same statement.
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(inmemory.Config{
		BufferSize: cfg.QueueBuffer,
		Workers:    cfg.WorkerCount,
	}, jobStore)

	log.Info().
		Int("workers", cfg.WorkerCount).
		Dur("poll_interval", cfg.PollInterval).
		Msg("Starting worker service")

	if err := jobQueue.Start(ctx, jobs.StatementHandler(a.Orchestrator)); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	dispatcher := jobs.NewDispatcher(a.DB, jobQueue, cfg.QueueBuffer, cfg.StaleClaimAfter).WithJobStore(jobStore)
	done := make(chan struct{})
	go func() {
		defer close(done)
		dispatcher.Run(ctx, cfg.PollInterval, a.Orchestrator, cfg.StaleClaimAfter)
	}()

	log.Info().Msg("Worker service started, waiting for statements...")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker service...")

	// Cancel context to stop polling and workers
	cancel()
	<-done

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop the queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}

	if counts, err := jobStore.Counts(shutdownCtx); err == nil {
		log.Info().
			Int("completed", counts[jobs.JobStatusCompleted]).
			Int("failed", counts[jobs.JobStatusFailed]).
			Int("unfinished", counts[jobs.JobStatusPending]+counts[jobs.JobStatusRunning]+counts[jobs.JobStatusRetrying]).
			Msg("Job summary")
	}

	log.Info().Msg("Worker service exited")
}
