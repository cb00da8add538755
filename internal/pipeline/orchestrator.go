// Package pipeline runs statements end to end: the file is read, candidates
// are extracted, normalized, filtered and categorized, and the resulting
// transactions are committed together with the statement's final state.
//
// The same Orchestrator serves inline callers and queue workers.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/statement-ingest/internal/categorize"
	"github.com/dvloznov/statement-ingest/internal/domain"
	"github.com/dvloznov/statement-ingest/internal/exclusion"
	"github.com/dvloznov/statement-ingest/internal/logger"
	"github.com/dvloznov/statement-ingest/internal/normalize"
	"github.com/dvloznov/statement-ingest/internal/statement"
	"github.com/dvloznov/statement-ingest/internal/storage"
	"github.com/google/uuid"
)

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Statements   StatementStore
	Transactions TransactionStore
	Categories   CategoryStore
	Exclusions   ExclusionStore
	Cards        CardStore
	Files        storage.FileStore
	Strategies   StrategySelector
	// Auditor is optional.
	Auditor Auditor
}

// Options tune an Orchestrator.
type Options struct {
	BaseCurrency    string
	MaxRetries      int
	KeywordCacheTTL time.Duration
	// ModelName is recorded on audited runs that called the model.
	ModelName string
}

// RunOptions are per-request inputs that are never persisted.
type RunOptions struct {
	Password string
}

// Orchestrator sequences the components for one statement at a time.
type Orchestrator struct {
	statements   StatementStore
	transactions TransactionStore
	cards        CardStore
	files        storage.FileStore
	strategies   StrategySelector
	auditor      Auditor

	machine    *statement.Machine
	categories *categorize.Service
	exclusions *exclusion.Service

	opts Options
	now  func() time.Time
}

// New creates an Orchestrator.
func New(deps Deps, opts Options) *Orchestrator {
	if opts.BaseCurrency == "" {
		opts.BaseCurrency = "PEN"
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = domain.DefaultMaxRetries
	}
	auditor := deps.Auditor
	if auditor == nil {
		auditor = NopAuditor{}
	}

	return &Orchestrator{
		statements:   deps.Statements,
		transactions: deps.Transactions,
		cards:        deps.Cards,
		files:        deps.Files,
		strategies:   deps.Strategies,
		auditor:      auditor,
		machine:      statement.NewMachine(deps.Statements),
		categories:   categorize.NewService(deps.Categories, opts.KeywordCacheTTL),
		exclusions:   exclusion.NewService(deps.Exclusions),
		opts:         opts,
		now:          time.Now,
	}
}

// Categories returns the categorization service the orchestrator reads
// keywords through. Edits made with it invalidate the keyword cache.
func (o *Orchestrator) Categories() *categorize.Service { return o.categories }

// Exclusions returns the excluded keyword service.
func (o *Orchestrator) Exclusions() *exclusion.Service { return o.exclusions }

// Process runs a statement from upload to completion.
func (o *Orchestrator) Process(ctx context.Context, statementID string) error {
	return o.ProcessWith(ctx, statementID, RunOptions{})
}

// ProcessWith is Process with per-request options. A statement left in
// extracted by an interrupted run resumes at categorization.
func (o *Orchestrator) ProcessWith(ctx context.Context, statementID string, run RunOptions) error {
	current, err := o.machine.Get(ctx, statementID)
	if err != nil {
		return fmt.Errorf("Process %s: %w", statementID, err)
	}
	if current.Status == domain.StatusExtracted {
		return o.resumeCategorization(ctx, current)
	}

	s, err := o.machine.Begin(ctx, statementID)
	if err != nil {
		return fmt.Errorf("Process %s: %w", statementID, err)
	}
	s.Password = run.Password
	return o.fromExtraction(ctx, s)
}

// Retry re-runs the failed phase of a statement. A categorization retry
// starts from the stored extraction snapshot.
func (o *Orchestrator) Retry(ctx context.Context, statementID string, phase domain.Phase) error {
	return o.RetryWith(ctx, statementID, phase, RunOptions{})
}

// RetryWith is Retry with per-request options.
func (o *Orchestrator) RetryWith(ctx context.Context, statementID string, phase domain.Phase, run RunOptions) error {
	s, err := o.machine.Retry(ctx, statementID, phase)
	if err != nil {
		return fmt.Errorf("Retry %s %s: %w", statementID, phase, err)
	}
	s.Password = run.Password

	if phase == domain.PhaseExtraction {
		return o.fromExtraction(ctx, s)
	}
	rows, err := decodeRows(s.ProcessedSnapshot)
	if err != nil {
		return o.fail(logger.WithStatement(ctx, s.ID, string(phase)), s, phase, err)
	}
	return o.categorize(ctx, s, rows)
}

// Status returns the status view of a statement.
func (o *Orchestrator) Status(ctx context.Context, statementID string) (domain.StatusView, error) {
	s, err := o.machine.Get(ctx, statementID)
	if err != nil {
		return domain.StatusView{}, fmt.Errorf("Status %s: %w", statementID, err)
	}
	return s.View(), nil
}

// Transactions lists the committed transactions of a statement.
func (o *Orchestrator) Transactions(ctx context.Context, statementID string) ([]domain.Transaction, error) {
	return o.transactions.ListTransactions(ctx, statementID)
}

// ReleaseStale fails claims abandoned for longer than olderThan.
func (o *Orchestrator) ReleaseStale(ctx context.Context, olderThan time.Duration) (int, error) {
	return o.machine.ReleaseStale(ctx, olderThan)
}

func (o *Orchestrator) fromExtraction(ctx context.Context, s *domain.Statement) error {
	s, rows, err := o.extract(ctx, s)
	if err != nil {
		return err
	}
	return o.claimAndCategorize(ctx, s, rows)
}

func (o *Orchestrator) resumeCategorization(ctx context.Context, s *domain.Statement) error {
	rows, err := decodeRows(s.ProcessedSnapshot)
	if err != nil {
		return fmt.Errorf("Process %s: %w", s.ID, err)
	}
	return o.claimAndCategorize(ctx, s, rows)
}

func (o *Orchestrator) claimAndCategorize(ctx context.Context, s *domain.Statement, rows []normalize.Row) error {
	t, err := statement.ClaimCategorization(s, o.now())
	if err != nil {
		return fmt.Errorf("Process %s: %w", s.ID, err)
	}
	claimed, err := o.machine.Apply(ctx, s, t)
	if err != nil {
		return fmt.Errorf("Process %s: claim categorization: %w", s.ID, err)
	}
	return o.categorize(ctx, claimed, rows)
}

// extract runs the extraction phase of a claimed statement and records it.
func (o *Orchestrator) extract(ctx context.Context, s *domain.Statement) (*domain.Statement, []normalize.Row, error) {
	ctx = logger.WithStatement(ctx, s.ID, string(domain.PhaseExtraction))
	log := logger.FromContext(ctx)

	state := &PipelineState{Statement: s, Password: s.Password}
	started := o.now()
	err := NewPipeline(
		&FetchFileStep{Files: o.files},
		&ReadDocumentStep{},
		&ExtractStep{Strategies: o.strategies, Categories: o.categories},
		&NormalizeStep{BaseCurrency: o.opts.BaseCurrency, now: o.now},
		&ExcludeStep{Exclusions: o.exclusions},
	).Execute(ctx, state)
	o.recordExtraction(ctx, state, started, err)
	if err != nil {
		return nil, nil, o.fail(ctx, s, domain.PhaseExtraction, err)
	}

	snapshot, err := encodeRows(state.Rows)
	if err != nil {
		return nil, nil, o.fail(ctx, s, domain.PhaseExtraction, err)
	}
	t, err := statement.CompleteExtraction(s, snapshot, len(state.Rows))
	if err != nil {
		return nil, nil, o.fail(ctx, s, domain.PhaseExtraction, err)
	}
	if state.Period != nil {
		t.Patch.PeriodStart = &state.Period.Start
		t.Patch.PeriodEnd = &state.Period.End
	}
	next, err := o.machine.Apply(ctx, s, t)
	if err != nil {
		return nil, nil, o.fail(ctx, s, domain.PhaseExtraction, persistence(err))
	}

	log.Info().
		Str("strategy", state.Strategy).
		Int("candidates", len(state.Candidates)).
		Int("accepted", len(state.Rows)).
		Int("excluded", state.ExcludedTotal()).
		Interface("skipped", state.Skipped).
		Msg("Extraction completed")
	return next, state.Rows, nil
}

// categorize runs the categorization phase of a claimed statement and
// commits its transactions.
func (o *Orchestrator) categorize(ctx context.Context, s *domain.Statement, rows []normalize.Row) error {
	ctx = logger.WithStatement(ctx, s.ID, string(domain.PhaseCategorization))
	log := logger.FromContext(ctx)

	state := &PipelineState{Statement: s, Rows: rows}
	err := NewPipeline(
		&CategorizeStep{Categories: o.categories},
		&EnsureCardStep{Cards: o.cards},
		&BuildTransactionsStep{now: o.now},
	).Execute(ctx, state)
	if err != nil {
		return o.fail(ctx, s, domain.PhaseCategorization, err)
	}

	snapshot, err := encodeTransactions(state.Transactions)
	if err != nil {
		return o.fail(ctx, s, domain.PhaseCategorization, err)
	}
	t, err := statement.CompleteCategorization(s, snapshot, len(state.Transactions))
	if err != nil {
		return o.fail(ctx, s, domain.PhaseCategorization, err)
	}
	if s.CardID == "" {
		t.Patch.CardID = &state.Card.ID
	}

	if err := o.transactions.ReplaceStatementTransactions(ctx, s.ID, state.Transactions, t.From, t.Patch); err != nil {
		return o.fail(ctx, s, domain.PhaseCategorization, persistence(fmt.Errorf("commit transactions: %w", err)))
	}

	if err := o.auditor.ExportTransactions(ctx, state.Transactions); err != nil {
		log.Warn().Err(err).Msg("Failed to export transactions")
	}

	log.Info().
		Int("transactions", len(state.Transactions)).
		Int("categorized", state.Stats.Categorized).
		Int("uncategorized", state.Stats.Uncategorized).
		Str("card_id", state.Card.ID).
		Msg("Statement completed")
	return nil
}

// fail moves a claimed statement to failed and returns the error for the
// caller. This is the only place a phase failure is logged.
func (o *Orchestrator) fail(ctx context.Context, s *domain.Statement, phase domain.Phase, cause error) error {
	log := logger.FromContext(ctx)
	perr := &PhaseError{StatementID: s.ID, Phase: phase, Class: Classify(cause), Err: cause}

	t, err := statement.Fail(s, cause)
	if err == nil {
		// The failure must be recorded even when the run was cancelled.
		_, err = o.machine.Apply(context.WithoutCancel(ctx), s, t)
	}
	if err != nil {
		if errors.Is(err, statement.ErrAlreadyClaimed) {
			log.Warn().Err(cause).Msg("Statement changed hands before the failure was recorded")
		} else {
			log.Error().Err(err).Msg("Failed to record statement failure")
		}
		perr.Err = errors.Join(cause, err)
	}

	log.Error().
		Err(cause).
		Str("class", string(perr.Class)).
		Int("retries", s.Retries(phase)+1).
		Msg("Statement phase failed")
	return perr
}

func (o *Orchestrator) recordExtraction(ctx context.Context, state *PipelineState, started time.Time, runErr error) {
	if state.Strategy == "" {
		return
	}

	run := domain.ExtractionRun{
		ID:           uuid.NewString(),
		StatementID:  state.Statement.ID,
		UserID:       state.Statement.UserID,
		Strategy:     state.Strategy,
		StartedAt:    started,
		FinishedAt:   o.now(),
		Status:       domain.RunSucceeded,
		Candidates:   len(state.Candidates),
		Accepted:     len(state.Rows),
		Excluded:     state.ExcludedTotal(),
		Skipped:      state.Skipped,
		PromptTokens: state.Usage.PromptTokens,
		OutputTokens: state.Usage.OutputTokens,
		RawOutput:    state.Usage.RawOutput,
	}
	if state.Usage.Calls > 0 {
		run.ModelName = o.opts.ModelName
	}
	if runErr != nil {
		run.Status = domain.RunFailed
		run.Error = statement.ErrorMessage(runErr)
	}

	if err := o.auditor.RecordExtraction(ctx, run); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Msg("Failed to record extraction run")
	}
}
