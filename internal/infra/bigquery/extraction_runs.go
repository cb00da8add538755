package bigquery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/statement-ingest/internal/domain"
)

const maxErrorLen = 2000

type ExtractionRunRow struct {
	RunID       string `bigquery:"run_id"`       // REQUIRED
	StatementID string `bigquery:"statement_id"` // REQUIRED
	UserID      string `bigquery:"user_id"`      // NULLABLE

	Strategy  string `bigquery:"strategy"`   // REQUIRED
	ModelName string `bigquery:"model_name"` // NULLABLE

	StartedTS  time.Time `bigquery:"started_ts"`  // REQUIRED
	FinishedTS time.Time `bigquery:"finished_ts"` // REQUIRED
	DurationMS int64     `bigquery:"duration_ms"`

	Status       string `bigquery:"status"`        // SUCCESS | FAILED
	ErrorMessage string `bigquery:"error_message"` // empty on success

	Candidates int64 `bigquery:"candidates"`
	Accepted   int64 `bigquery:"accepted"`
	Excluded   int64 `bigquery:"excluded"`

	PromptTokens int64 `bigquery:"prompt_tokens"`
	OutputTokens int64 `bigquery:"output_tokens"`

	// SkippedJSON maps skip reasons to counts.
	SkippedJSON string `bigquery:"skipped_json"`
}

// ToExtractionRunRow converts a run for insertion.
func ToExtractionRunRow(run domain.ExtractionRun) ExtractionRunRow {
	errMsg := run.Error
	if len(errMsg) > maxErrorLen {
		errMsg = errMsg[:maxErrorLen]
	}

	skipped := "{}"
	if len(run.Skipped) > 0 {
		if b, err := json.Marshal(run.Skipped); err == nil {
			skipped = string(b)
		}
	}

	return ExtractionRunRow{
		RunID:        run.ID,
		StatementID:  run.StatementID,
		UserID:       run.UserID,
		Strategy:     run.Strategy,
		ModelName:    run.ModelName,
		StartedTS:    run.StartedAt.UTC(),
		FinishedTS:   run.FinishedAt.UTC(),
		DurationMS:   run.FinishedAt.Sub(run.StartedAt).Milliseconds(),
		Status:       run.Status,
		ErrorMessage: errMsg,
		Candidates:   int64(run.Candidates),
		Accepted:     int64(run.Accepted),
		Excluded:     int64(run.Excluded),
		PromptTokens: run.PromptTokens,
		OutputTokens: run.OutputTokens,
		SkippedJSON:  skipped,
	}
}

// insertExtractionRunWithClient inserts one finished run with a DML statement.
func insertExtractionRunWithClient(ctx context.Context, client *bigquery.Client, datasetID string, row ExtractionRunRow) error {
	q := client.Query(fmt.Sprintf(`
		INSERT %s.%s (
			run_id,
			statement_id,
			user_id,
			strategy,
			model_name,
			started_ts,
			finished_ts,
			duration_ms,
			status,
			error_message,
			candidates,
			accepted,
			excluded,
			prompt_tokens,
			output_tokens,
			skipped_json
		)
		VALUES (
			@run_id,
			@statement_id,
			@user_id,
			@strategy,
			@model_name,
			@started_ts,
			@finished_ts,
			@duration_ms,
			@status,
			@error_message,
			@candidates,
			@accepted,
			@excluded,
			@prompt_tokens,
			@output_tokens,
			@skipped_json
		)
	`, datasetID, extractionRunsTable))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "run_id", Value: row.RunID},
		{Name: "statement_id", Value: row.StatementID},
		{Name: "user_id", Value: row.UserID},
		{Name: "strategy", Value: row.Strategy},
		{Name: "model_name", Value: row.ModelName},
		{Name: "started_ts", Value: row.StartedTS},
		{Name: "finished_ts", Value: row.FinishedTS},
		{Name: "duration_ms", Value: row.DurationMS},
		{Name: "status", Value: row.Status},
		{Name: "error_message", Value: row.ErrorMessage},
		{Name: "candidates", Value: row.Candidates},
		{Name: "accepted", Value: row.Accepted},
		{Name: "excluded", Value: row.Excluded},
		{Name: "prompt_tokens", Value: row.PromptTokens},
		{Name: "output_tokens", Value: row.OutputTokens},
		{Name: "skipped_json", Value: row.SkippedJSON},
	}

	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("insertExtractionRun: running insert query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("insertExtractionRun: waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("insertExtractionRun: job error: %w", err)
	}

	return nil
}
