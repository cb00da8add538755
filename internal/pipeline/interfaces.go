package pipeline

import (
	"context"

	"github.com/dvloznov/statement-ingest/internal/categorize"
	"github.com/dvloznov/statement-ingest/internal/domain"
	"github.com/dvloznov/statement-ingest/internal/exclusion"
	"github.com/dvloznov/statement-ingest/internal/extract"
	"github.com/dvloznov/statement-ingest/internal/statement"
)

// StatementStore persists statements with an atomic claim.
type StatementStore interface {
	statement.Store
}

// TransactionStore commits the transactions of a statement. The replace and
// the statement transition happen in one unit: either both or neither.
type TransactionStore interface {
	ReplaceStatementTransactions(ctx context.Context, statementID string, txs []domain.Transaction, from []domain.Status, patch domain.StatementPatch) error
	ListTransactions(ctx context.Context, statementID string) ([]domain.Transaction, error)
}

// CategoryStore persists categories and keywords.
type CategoryStore interface {
	categorize.Store
}

// ExclusionStore persists excluded keywords.
type ExclusionStore interface {
	exclusion.Store
}

// CardStore looks up and creates the cards transactions belong to.
// FindCardByName returns nil, nil when no card matches.
type CardStore interface {
	FindCardByName(ctx context.Context, userID, name string) (*domain.Card, error)
	CreateCard(ctx context.Context, c domain.Card) error
}

// StrategySelector picks the extraction strategy for a file kind.
type StrategySelector interface {
	For(kind domain.FileKind) extract.Strategy
}

// Auditor receives extraction runs and committed transactions. Failures are
// logged by the caller and never fail a run.
type Auditor interface {
	RecordExtraction(ctx context.Context, run domain.ExtractionRun) error
	ExportTransactions(ctx context.Context, txs []domain.Transaction) error
}

// NopAuditor discards everything.
type NopAuditor struct{}

func (NopAuditor) RecordExtraction(context.Context, domain.ExtractionRun) error { return nil }

func (NopAuditor) ExportTransactions(context.Context, []domain.Transaction) error { return nil }
