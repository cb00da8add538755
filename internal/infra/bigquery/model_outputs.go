package bigquery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/statement-ingest/internal/domain"
	"github.com/google/uuid"
)

type ModelOutputRow struct {
	OutputID    string `bigquery:"output_id"`    // REQUIRED
	RunID       string `bigquery:"run_id"`       // REQUIRED
	StatementID string `bigquery:"statement_id"` // REQUIRED

	ModelName string `bigquery:"model_name"` // REQUIRED

	// RawJSON holds the response when it parses as JSON; RawText always holds it.
	RawJSON bigquery.NullJSON `bigquery:"raw_json"`
	RawText string            `bigquery:"raw_text"`

	CreatedTS time.Time `bigquery:"created_ts"`
}

// ToModelOutputRow converts the raw output of a run for insertion.
func ToModelOutputRow(run domain.ExtractionRun) ModelOutputRow {
	created := run.FinishedAt
	if created.IsZero() {
		created = time.Now()
	}
	return ModelOutputRow{
		OutputID:    uuid.NewString(),
		RunID:       run.ID,
		StatementID: run.StatementID,
		ModelName:   run.ModelName,
		RawJSON:     bigquery.NullJSON{JSONVal: run.RawOutput, Valid: json.Valid([]byte(run.RawOutput))},
		RawText:     run.RawOutput,
		CreatedTS:   created.UTC(),
	}
}

// insertModelOutputWithClient streams one row into model_outputs.
func insertModelOutputWithClient(ctx context.Context, client *bigquery.Client, datasetID string, row ModelOutputRow) error {
	inserter := client.Dataset(datasetID).Table(modelOutputsTable).Inserter()
	if err := inserter.Put(ctx, &row); err != nil {
		return fmt.Errorf("insertModelOutput: inserting row: %w", err)
	}
	return nil
}
