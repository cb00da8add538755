package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/statement-ingest/internal/categorize"
	"github.com/dvloznov/statement-ingest/internal/domain"
	"github.com/dvloznov/statement-ingest/internal/exclusion"
	"github.com/dvloznov/statement-ingest/internal/extract"
	"github.com/dvloznov/statement-ingest/internal/normalize"
	"github.com/dvloznov/statement-ingest/internal/reader"
	"github.com/dvloznov/statement-ingest/internal/storage"
	"github.com/google/uuid"
)

// PipelineStep represents a single step of a statement phase.
type PipelineStep interface {
	Name() string
	Execute(ctx context.Context, state *PipelineState) error
}

// PipelineState holds the shared state across the steps of one run.
type PipelineState struct {
	Statement *domain.Statement
	Password  string

	FileBytes []byte
	Document  *reader.Document
	Period    *normalize.Period

	Strategy   string
	Usage      extract.Usage
	Candidates []domain.Candidate

	Rows     []normalize.Row
	Skipped  map[string]int
	Excluded map[string]int

	Assignments []categorize.Assignment
	Stats       categorize.Stats

	Card         *domain.Card
	Transactions []domain.Transaction
}

// ExcludedTotal is the number of rows dropped by exclusion keywords.
func (s *PipelineState) ExcludedTotal() int {
	n := 0
	for _, c := range s.Excluded {
		n += c
	}
	return n
}

// FetchFileStep loads the statement file from storage.
type FetchFileStep struct {
	Files storage.FileStore
}

func (s *FetchFileStep) Name() string { return "fetch_file" }

func (s *FetchFileStep) Execute(ctx context.Context, state *PipelineState) error {
	data, err := s.Files.Get(ctx, state.Statement.StoragePath)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", state.Statement.StoragePath, err)
	}
	state.FileBytes = data
	return nil
}

// ReadDocumentStep decodes the file and detects the statement period.
type ReadDocumentStep struct{}

func (s *ReadDocumentStep) Name() string { return "read_document" }

func (s *ReadDocumentStep) Execute(ctx context.Context, state *PipelineState) error {
	doc, err := reader.Read(state.FileBytes, state.Statement.FileKind, state.Password)
	if err != nil {
		return err
	}
	state.Document = doc

	if p, ok := normalize.DetectPeriod(doc.Text); ok {
		state.Period = &p
	} else if state.Statement.PeriodStart != nil && state.Statement.PeriodEnd != nil {
		state.Period = &normalize.Period{Start: *state.Statement.PeriodStart, End: *state.Statement.PeriodEnd}
	}
	return nil
}

// ExtractStep runs the selected strategy. The user's category names are
// offered to model-based strategies as suggestions.
type ExtractStep struct {
	Strategies StrategySelector
	Categories *categorize.Service
}

func (s *ExtractStep) Name() string { return "extract" }

func (s *ExtractStep) Execute(ctx context.Context, state *PipelineState) error {
	strategy := s.Strategies.For(state.Document.Kind)
	state.Strategy = strategy.Name()

	var names []string
	if s.Categories != nil {
		cats, err := s.Categories.Categories(ctx, state.Statement.UserID)
		if err != nil {
			return persistence(fmt.Errorf("loading categories: %w", err))
		}
		for _, c := range cats {
			names = append(names, c.Name)
		}
	}

	uctx, rec := extract.WithUsage(ctx)
	candidates, err := strategy.Extract(uctx, extract.Input{
		Document:   state.Document,
		Period:     state.Period,
		Categories: names,
	})
	state.Usage = rec.Usage()
	if err != nil {
		return err
	}
	state.Candidates = candidates
	return nil
}

// NormalizeStep validates candidates. Skipped rows are counted, and a run
// where every row is skipped fails.
type NormalizeStep struct {
	BaseCurrency string
	now          func() time.Time
}

func (s *NormalizeStep) Name() string { return "normalize" }

func (s *NormalizeStep) Execute(ctx context.Context, state *PipelineState) error {
	n := normalize.New(s.BaseCurrency, state.Period)
	n.DedupSources[extract.SourceGemini] = true
	if s.now != nil {
		n.SetClock(s.now)
	}

	res := n.NormalizeAll(state.Candidates)
	state.Rows = res.Rows
	state.Skipped = res.Skipped
	if len(res.Rows) == 0 {
		return fmt.Errorf("%w: %d candidates skipped", ErrNoValidTransactions, res.SkippedTotal())
	}
	return nil
}

// ExcludeStep drops rows matching the user's excluded keywords.
type ExcludeStep struct {
	Exclusions *exclusion.Service
}

func (s *ExcludeStep) Name() string { return "exclude" }

func (s *ExcludeStep) Execute(ctx context.Context, state *PipelineState) error {
	filter, err := s.Exclusions.FilterFor(ctx, state.Statement.UserID)
	if err != nil {
		return persistence(fmt.Errorf("loading excluded keywords: %w", err))
	}
	state.Rows, state.Excluded = filter.Apply(state.Rows)
	return nil
}

// CategorizeStep assigns categories by keyword. Rows without a match are
// uncategorized; that is not an error.
type CategorizeStep struct {
	Categories *categorize.Service
}

func (s *CategorizeStep) Name() string { return "categorize" }

func (s *CategorizeStep) Execute(ctx context.Context, state *PipelineState) error {
	assignments, stats, err := s.Categories.CategorizeRows(ctx, state.Statement.UserID, state.Rows)
	if err != nil {
		return persistence(err)
	}
	state.Assignments = assignments
	state.Stats = stats
	return nil
}

// EnsureCardStep resolves the card owning the transactions, creating a
// placeholder card when the statement names none.
type EnsureCardStep struct {
	Cards CardStore
}

func (s *EnsureCardStep) Name() string { return "ensure_card" }

func (s *EnsureCardStep) Execute(ctx context.Context, state *PipelineState) error {
	card, err := ensureCard(ctx, s.Cards, state.Statement)
	if err != nil {
		return persistence(err)
	}
	state.Card = card
	return nil
}

// BuildTransactionsStep turns categorized rows into transactions.
type BuildTransactionsStep struct {
	now func() time.Time
}

func (s *BuildTransactionsStep) Name() string { return "build_transactions" }

func (s *BuildTransactionsStep) Execute(ctx context.Context, state *PipelineState) error {
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	created := now().UTC()
	statementID := state.Statement.ID

	txs := make([]domain.Transaction, 0, len(state.Rows))
	for i, r := range state.Rows {
		category := domain.Uncategorized
		confidence := 0.0
		if i < len(state.Assignments) {
			category = state.Assignments[i].Category
			confidence = state.Assignments[i].Confidence
		}
		txs = append(txs, domain.Transaction{
			ID:          uuid.NewString(),
			UserID:      state.Statement.UserID,
			CardID:      state.Card.ID,
			StatementID: &statementID,
			Merchant:    r.Merchant,
			Description: r.Description,
			Amount:      r.Amount.Abs().Round(2),
			Currency:    r.Currency,
			Date:        r.Date,
			Category:    &category,
			Confidence:  confidence,
			CreatedAt:   created,
		})
	}
	state.Transactions = txs
	return nil
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps sequentially and stops at the first failure.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState) error {
	for _, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %s failed: %w", step.Name(), err)
		}
	}
	return nil
}
