package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dvloznov/statement-ingest/internal/app"
	"github.com/dvloznov/statement-ingest/internal/config"
	"github.com/dvloznov/statement-ingest/internal/domain"
	"github.com/dvloznov/statement-ingest/internal/logger"
	"github.com/dvloznov/statement-ingest/internal/pipeline"
	"github.com/dvloznov/statement-ingest/internal/storage"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		l := logger.New()
		l.Fatal().Err(err).Msg("Invalid configuration")
	}
	log := logger.NewWithOptions(logger.Options{Level: cfg.LogLevel, JSON: cfg.LogJSON})

	switch os.Args[1] {
	case "ingest":
		runIngest(cfg, log)
	case "retry":
		runRetry(cfg, log)
	case "status":
		runStatus(cfg, log)
	case "keywords":
		runKeywords(cfg, log)
	case "categories":
		runCategories(cfg, log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Statement Ingest CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  ingest      Register and process local or gs:// statement files")
	fmt.Println("  retry       Retry the failed phase of a statement")
	fmt.Println("  status      Show the status and transactions of a statement")
	fmt.Println("  keywords    Manage excluded keywords (add, list, seed)")
	fmt.Println("  categories  Manage categories (list, create, add-keyword)")
	fmt.Println("  help        Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

// open builds the pipeline for a command; the returned context carries log.
func open(cfg *config.Config, log zerolog.Logger, timeout time.Duration) (context.Context, *app.App, func()) {
	ctx, cancel := context.WithTimeout(logger.WithContext(context.Background(), log), timeout)
	a, err := app.New(ctx, cfg)
	if err != nil {
		cancel()
		log.Fatal().Err(err).Msg("Failed to initialize pipeline")
	}
	return ctx, a, func() {
		if err := a.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to release resources")
		}
		cancel()
	}
}

func runIngest(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	userID := fs.String("user", "", "Owner of the statements")
	cardID := fs.String("card", "", "Card ID (defaults to a placeholder card per file)")
	password := fs.String("password", "", "Password for encrypted PDFs")
	parallel := fs.Int("parallel", 2, "Number of files processed at once")
	fs.Parse(os.Args[2:])

	if *userID == "" || fs.NArg() == 0 {
		log.Fatal().Msg("Usage: cli ingest -user ID [-card ID] [-password PW] FILE|gs://URI...")
	}

	ctx, a, closeApp := open(cfg, log, 30*time.Minute)
	defer closeApp()

	type outcome struct {
		file string
		view domain.StatusView
		err  error
	}
	results := make([]outcome, fs.NArg())

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(*parallel, 1))
	for i, file := range fs.Args() {
		g.Go(func() error {
			results[i] = outcome{file: file}
			data, err := readInput(gctx, a, file)
			if err != nil {
				results[i].err = err
				return nil
			}

			s, err := a.Orchestrator.Register(gctx, pipeline.Upload{
				UserID:   *userID,
				Filename: storage.Filename(file),
				Data:     data,
				CardID:   *cardID,
			})
			if err != nil {
				results[i].err = err
				return nil
			}

			// A failed statement is reported, not fatal to the batch.
			results[i].err = a.Orchestrator.ProcessWith(gctx, s.ID, pipeline.RunOptions{Password: *password})
			results[i].view, _ = a.Orchestrator.Status(gctx, s.ID)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("Ingestion interrupted")
	}

	failed := 0
	for _, r := range results {
		if r.err != nil {
			failed++
			fmt.Printf("FAIL  %s  %s  %v\n", r.file, r.view.StatementID, r.err)
			continue
		}
		fmt.Printf("OK    %s  %s  %d transactions\n", r.file, r.view.StatementID, r.view.TransactionsCount)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

// readInput reads a local file or a gs:// object.
func readInput(ctx context.Context, a *app.App, file string) ([]byte, error) {
	if !strings.HasPrefix(file, "gs://") {
		return os.ReadFile(file)
	}
	if gcs, ok := a.Files.(*storage.GCS); ok {
		return gcs.Get(ctx, file)
	}

	bucket, _, err := storage.ParseGCSURI(file)
	if err != nil {
		return nil, err
	}
	gcs, err := storage.NewGCS(ctx, bucket)
	if err != nil {
		return nil, err
	}
	defer gcs.Close()
	return gcs.Get(ctx, file)
}

func runRetry(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("retry", flag.ExitOnError)
	statementID := fs.String("statement", "", "Statement ID")
	phase := fs.String("phase", string(domain.PhaseExtraction), "Phase to retry: extraction or categorization")
	password := fs.String("password", "", "Password for encrypted PDFs")
	fs.Parse(os.Args[2:])

	if *statementID == "" {
		log.Fatal().Msg("Error: -statement is required")
	}
	p := domain.Phase(strings.ToLower(*phase))
	if p != domain.PhaseExtraction && p != domain.PhaseCategorization {
		log.Fatal().Str("phase", *phase).Msg("Unknown phase")
	}

	ctx, a, closeApp := open(cfg, log, 10*time.Minute)
	defer closeApp()

	if err := a.Orchestrator.RetryWith(ctx, *statementID, p, pipeline.RunOptions{Password: *password}); err != nil {
		log.Error().Err(err).Str("class", string(pipeline.Classify(err))).Msg("Retry failed")
		printStatus(ctx, a, *statementID)
		os.Exit(1)
	}
	printStatus(ctx, a, *statementID)
}

func runStatus(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	statementID := fs.String("statement", "", "Statement ID")
	withTxns := fs.Bool("transactions", false, "Also list committed transactions")
	fs.Parse(os.Args[2:])

	if *statementID == "" {
		log.Fatal().Msg("Error: -statement is required")
	}

	ctx, a, closeApp := open(cfg, log, time.Minute)
	defer closeApp()

	if !printStatus(ctx, a, *statementID) || !*withTxns {
		return
	}

	txns, err := a.Orchestrator.Transactions(ctx, *statementID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list transactions")
	}
	fmt.Printf("\n=== Transactions (%d) ===\n", len(txns))
	for i, t := range txns {
		fmt.Printf("\n%d. %s\n", i+1, t.Merchant)
		fmt.Printf("   Date:     %s\n", t.Date)
		fmt.Printf("   Amount:   %s %s\n", t.Amount.StringFixed(2), t.Currency)
		fmt.Printf("   Category: %s (%.2f)\n", t.CategoryName(), t.Confidence)
	}
	fmt.Println()
}

func printStatus(ctx context.Context, a *app.App, statementID string) bool {
	view, err := a.Orchestrator.Status(ctx, statementID)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return false
	}
	out, _ := json.MarshalIndent(view, "", "  ")
	fmt.Println(string(out))
	return true
}

func runKeywords(cfg *config.Config, log zerolog.Logger) {
	if len(os.Args) < 3 {
		log.Fatal().Msg("Usage: cli keywords add|list|seed -user ID [KEYWORD]")
	}
	action := os.Args[2]
	fs := flag.NewFlagSet("keywords "+action, flag.ExitOnError)
	userID := fs.String("user", "", "Owner of the keywords")
	fs.Parse(os.Args[3:])

	if *userID == "" {
		log.Fatal().Msg("Error: -user is required")
	}

	ctx, a, closeApp := open(cfg, log, time.Minute)
	defer closeApp()

	switch action {
	case "add":
		if fs.NArg() == 0 {
			log.Fatal().Msg("Usage: cli keywords add -user ID KEYWORD...")
		}
		for _, k := range fs.Args() {
			kw, err := a.Orchestrator.Exclusions().Add(ctx, *userID, k)
			if err != nil {
				log.Fatal().Err(err).Str("keyword", k).Msg("Failed to add keyword")
			}
			fmt.Printf("Added %q (%s)\n", kw.Keyword, kw.Normalized)
		}
	case "seed":
		n, err := a.Orchestrator.Exclusions().Seed(ctx, *userID)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to seed keywords")
		}
		fmt.Printf("Seeded %d keywords\n", n)
	case "list":
		keywords, err := a.DB.ListExcludedKeywords(ctx, *userID)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to list keywords")
		}
		for _, k := range keywords {
			fmt.Printf("%s\t%s\n", k.ID, k.Keyword)
		}
	default:
		log.Fatal().Str("action", action).Msg("Unknown keywords action")
	}
}

func runCategories(cfg *config.Config, log zerolog.Logger) {
	if len(os.Args) < 3 {
		log.Fatal().Msg("Usage: cli categories list|create|add-keyword -user ID ...")
	}
	action := os.Args[2]
	fs := flag.NewFlagSet("categories "+action, flag.ExitOnError)
	userID := fs.String("user", "", "Owner of the categories")
	name := fs.String("name", "", "Category name")
	keywords := fs.String("keywords", "", "Comma-separated keywords")
	fs.Parse(os.Args[3:])

	if *userID == "" {
		log.Fatal().Msg("Error: -user is required")
	}

	ctx, a, closeApp := open(cfg, log, time.Minute)
	defer closeApp()
	svc := a.Orchestrator.Categories()

	switch action {
	case "list":
		categories, err := svc.Categories(ctx, *userID)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to list categories")
		}
		for _, c := range categories {
			fmt.Printf("%s\t%s\n", c.Name, strings.Join(c.Keywords, ", "))
		}
	case "create":
		if *name == "" {
			log.Fatal().Msg("Error: -name is required")
		}
		c, err := svc.CreateCategory(ctx, *userID, *name, splitList(*keywords))
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create category")
		}
		fmt.Printf("Created %s (%d keywords)\n", c.Name, len(c.Keywords))
	case "add-keyword":
		if *name == "" || *keywords == "" {
			log.Fatal().Msg("Error: -name and -keywords are required")
		}
		for _, k := range splitList(*keywords) {
			if err := svc.AddKeyword(ctx, *userID, *name, k); err != nil {
				log.Fatal().Err(err).Str("keyword", k).Msg("Failed to add keyword")
			}
		}
		fmt.Println("Keywords added.")
	default:
		log.Fatal().Str("action", action).Msg("Unknown categories action")
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
