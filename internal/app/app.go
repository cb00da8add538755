// Package app wires the ingestion pipeline from configuration. Commands
// build one App and share it between their subcommands.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dvloznov/statement-ingest/internal/config"
	"github.com/dvloznov/statement-ingest/internal/extract"
	"github.com/dvloznov/statement-ingest/internal/infra/bigquery"
	"github.com/dvloznov/statement-ingest/internal/infra/sqlite"
	"github.com/dvloznov/statement-ingest/internal/logger"
	"github.com/dvloznov/statement-ingest/internal/pipeline"
	"github.com/dvloznov/statement-ingest/internal/storage"
)

// App holds the long-lived resources of a command.
type App struct {
	Config       *config.Config
	DB           *sqlite.DB
	Files        storage.FileStore
	Orchestrator *pipeline.Orchestrator

	closers []io.Closer
}

// New opens the database, migrates it, and builds the orchestrator.
func New(ctx context.Context, cfg *config.Config) (a *App, err error) {
	log := logger.FromContext(ctx)
	a = &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	db, err := sqlite.Open(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	a.DB = db
	a.closers = append(a.closers, db)
	if err := db.Migrate(ctx); err != nil {
		return nil, err
	}

	files, err := storage.Open(ctx, cfg.GCSBucket, cfg.StorageRoot)
	if err != nil {
		return nil, fmt.Errorf("open file storage: %w", err)
	}
	a.Files = files
	if c, ok := files.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	selector, err := a.selector(ctx)
	if err != nil {
		return nil, err
	}

	var auditor pipeline.Auditor = pipeline.NopAuditor{}
	if cfg.AuditEnabled() {
		bq, err := bigquery.NewAuditor(ctx, cfg.BigQueryProject, cfg.BigQueryDataset)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, bq)
		auditor = bq
	}

	a.Orchestrator = pipeline.New(pipeline.Deps{
		Statements:   db,
		Transactions: db,
		Categories:   db,
		Exclusions:   db,
		Cards:        db,
		Files:        files,
		Strategies:   selector,
		Auditor:      auditor,
	}, pipeline.Options{
		BaseCurrency:    cfg.BaseCurrency,
		MaxRetries:      cfg.MaxRetries,
		KeywordCacheTTL: cfg.KeywordCacheTTL,
		ModelName:       cfg.GeminiModel,
	})

	log.Debug().
		Str("database", cfg.DatabasePath).
		Str("primary_strategy", cfg.PrimaryStrategy).
		Bool("llm", selector.LLM != nil).
		Bool("audit", cfg.AuditEnabled()).
		Msg("Pipeline initialized")
	return a, nil
}

// selector builds the extraction strategies. The model is only configured
// when it is the primary strategy or an API key is set.
func (a *App) selector(ctx context.Context) (*extract.Selector, error) {
	cfg := a.Config
	sel := &extract.Selector{
		Pattern:         extract.NewPatternStrategy(),
		Table:           extract.NewTableStrategy(),
		Primary:         cfg.PrimaryStrategy,
		FallbackEnabled: cfg.FallbackEnabled,
	}

	if cfg.PrimaryStrategy == config.StrategyLLM || cfg.GeminiAPIKey != "" {
		client, err := extract.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, err
		}
		sel.LLM = extract.NewGeminiStrategy(client, extract.GeminiOptions{
			Timeout:       cfg.ExtractionTimeout,
			MaxInputChars: cfg.ExtractionMaxInputChars,
			MaxPages:      cfg.ExtractionMaxPages,
			RatePerMinute: cfg.ExtractionRatePerMinute,
		})
	}
	return sel, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
