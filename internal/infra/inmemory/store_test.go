package inmemory

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/statement-ingest/internal/domain"
	"github.com/dvloznov/statement-ingest/internal/statement"
)

func TestStore_ClaimIsCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	require.NoError(t, store.CreateStatement(ctx, &domain.Statement{ID: "s1", Status: domain.StatusPending, Password: "secret"}))

	extracting := domain.StatusExtracting
	patch := domain.StatementPatch{Status: &extracting}
	require.NoError(t, store.ClaimStatement(ctx, "s1", []domain.Status{domain.StatusPending}, patch))

	err := store.ClaimStatement(ctx, "s1", []domain.Status{domain.StatusPending}, patch)
	assert.ErrorIs(t, err, statement.ErrAlreadyClaimed)

	err = store.ClaimStatement(ctx, "missing", []domain.Status{domain.StatusPending}, patch)
	assert.ErrorIs(t, err, statement.ErrNotFound)

	got, err := store.GetStatement(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExtracting, got.Status)
	assert.Empty(t, got.Password)
}

func TestStore_StatementsByStatus(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	base := time.Now().Add(-time.Hour)
	for i, st := range []domain.Status{domain.StatusUploaded, domain.StatusCompleted, domain.StatusPending} {
		id := []string{"a", "b", "c"}[i]
		require.NoError(t, store.CreateStatement(ctx, &domain.Statement{ID: id, Status: st, CreatedAt: base.Add(time.Duration(i) * time.Minute)}))
	}

	got, err := store.StatementsByStatus(ctx, []domain.Status{domain.StatusPending, domain.StatusUploaded}, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "c", got[1].ID)

	got, err = store.StatementsByStatus(ctx, []domain.Status{domain.StatusPending, domain.StatusUploaded}, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestStore_ReplaceStatementTransactionsRespectsClaim(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	require.NoError(t, store.CreateStatement(ctx, &domain.Statement{ID: "s1", Status: domain.StatusCategorizing}))

	completed := domain.StatusCompleted
	patch := domain.StatementPatch{Status: &completed}
	txs := []domain.Transaction{
		{ID: "t2", Amount: decimal.RequireFromString("5"), Date: civil.Date{Year: 2024, Month: 5, Day: 12}},
		{ID: "t1", Amount: decimal.RequireFromString("17.50"), Date: civil.Date{Year: 2024, Month: 5, Day: 1}},
	}

	err := store.ReplaceStatementTransactions(ctx, "s1", txs, []domain.Status{domain.StatusExtracting}, patch)
	assert.ErrorIs(t, err, statement.ErrAlreadyClaimed)
	got, err := store.ListTransactions(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, store.ReplaceStatementTransactions(ctx, "s1", txs, []domain.Status{domain.StatusCategorizing}, patch))
	got, err = store.ListTransactions(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "t1", got[0].ID)
	assert.False(t, got[0].CreatedAt.IsZero())

	s, err := store.GetStatement(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, s.Status)
}
