// Package bigquery is the analytics and audit sink. Every extraction attempt,
// the model's raw output and committed transactions are written to a BigQuery
// dataset so that runs can be inspected and reconciled outside the service.
package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/statement-ingest/internal/domain"
	"github.com/dvloznov/statement-ingest/internal/logger"
	"golang.org/x/sync/errgroup"
)

const (
	extractionRunsTable = "extraction_runs"
	modelOutputsTable   = "model_outputs"
	transactionsTable   = "transactions"
)

// Auditor writes audit rows to one dataset.
type Auditor struct {
	client    *bigquery.Client
	datasetID string
}

// NewAuditor opens a BigQuery client for projectID.
func NewAuditor(ctx context.Context, projectID, datasetID string) (*Auditor, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewAuditor: bigquery client: %w", err)
	}
	return NewAuditorWithClient(client, datasetID), nil
}

// NewAuditorWithClient wraps an existing client.
func NewAuditorWithClient(client *bigquery.Client, datasetID string) *Auditor {
	return &Auditor{client: client, datasetID: datasetID}
}

// Close releases the underlying client.
func (a *Auditor) Close() error {
	return a.client.Close()
}

// RecordExtraction stores the run row and, when present, the raw model output.
// Both inserts run concurrently.
func (a *Auditor) RecordExtraction(ctx context.Context, run domain.ExtractionRun) error {
	log := logger.FromContext(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return insertExtractionRunWithClient(gctx, a.client, a.datasetID, ToExtractionRunRow(run))
	})
	if run.RawOutput != "" {
		g.Go(func() error {
			return insertModelOutputWithClient(gctx, a.client, a.datasetID, ToModelOutputRow(run))
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	log.Debug().
		Str("run_id", run.ID).
		Str("statement_id", run.StatementID).
		Str("strategy", run.Strategy).
		Str("status", run.Status).
		Msg("Recorded extraction run")
	return nil
}

// ExportTransactions streams committed transactions into the dataset.
func (a *Auditor) ExportTransactions(ctx context.Context, txs []domain.Transaction) error {
	return ExportTransactionsWithClient(ctx, a.client, a.datasetID, txs)
}
