package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/statement-ingest/internal/config"
	infraBQ "github.com/dvloznov/statement-ingest/internal/infra/bigquery"
	"github.com/dvloznov/statement-ingest/internal/infra/sqlite"
	"github.com/dvloznov/statement-ingest/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := logger.New()
		l.Fatal().Err(err).Msg("Invalid configuration")
	}
	log := logger.NewWithOptions(logger.Options{Level: cfg.LogLevel, JSON: cfg.LogJSON})
	ctx := logger.WithContext(context.Background(), log)

	if err := run(ctx, cfg, os.Args[1:], os.Stdout); err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
}

// run executes one migrate command:
//
//	migrate [-target sqlite] up|down [N]|version
//	migrate -target bigquery [-project P] [-dataset D] up
func run(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	target := fs.String("target", "sqlite", "Migration target: sqlite or bigquery")
	dbPath := fs.String("db", cfg.DatabasePath, "SQLite database path")
	projectID := fs.String("project", cfg.BigQueryProject, "GCP project ID for the bigquery target")
	datasetID := fs.String("dataset", cfg.BigQueryDataset, "BigQuery dataset ID")
	appliedBy := fs.String("applied-by", "migrate-cli", "Name of the tool applying migrations")
	if err := fs.Parse(args); err != nil {
		return err
	}

	command := "up"
	if fs.NArg() > 0 {
		command = fs.Arg(0)
	}

	switch *target {
	case "sqlite":
		return runSQLite(ctx, *dbPath, command, fs.Args(), out)
	case "bigquery":
		if command != "up" {
			return fmt.Errorf("bigquery target only supports up, got %q", command)
		}
		return runBigQuery(ctx, *projectID, *datasetID, *appliedBy, out)
	default:
		return fmt.Errorf("unknown target %q", *target)
	}
}

func runSQLite(ctx context.Context, path, command string, args []string, out io.Writer) error {
	db, err := sqlite.Open(ctx, path)
	if err != nil {
		return err
	}
	defer db.Close()

	switch command {
	case "up":
		if err := db.Migrate(ctx); err != nil {
			return err
		}
	case "down":
		steps := 1
		if len(args) > 1 {
			if steps, err = strconv.Atoi(args[1]); err != nil || steps <= 0 {
				return fmt.Errorf("down: invalid step count %q", args[1])
			}
		}
		if err := db.MigrateDown(ctx, steps); err != nil {
			return err
		}
	case "version":
	default:
		return fmt.Errorf("unknown command %q", command)
	}

	version, dirty, err := db.MigrationVersion()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "version %d (dirty: %t)\n", version, dirty)
	return nil
}

func runBigQuery(ctx context.Context, projectID, datasetID, appliedBy string, out io.Writer) error {
	if projectID == "" {
		return fmt.Errorf("-project (or BIGQUERY_PROJECT) is required for the bigquery target")
	}

	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return fmt.Errorf("failed to create BigQuery client: %w", err)
	}
	defer client.Close()

	applied, err := infraBQ.Migrate(ctx, client, projectID, datasetID, appliedBy)
	if err != nil {
		return err
	}
	if applied == 0 {
		fmt.Fprintln(out, "No new migrations to apply. Dataset is up to date.")
		return nil
	}
	fmt.Fprintf(out, "Successfully applied %d migration(s)\n", applied)
	return nil
}
