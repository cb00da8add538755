package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/statement-ingest/internal/domain"
	"github.com/dvloznov/statement-ingest/internal/extract"
	"github.com/dvloznov/statement-ingest/internal/infra/inmemory"
	"github.com/dvloznov/statement-ingest/internal/pipeline"
	"github.com/dvloznov/statement-ingest/internal/reader"
	"github.com/dvloznov/statement-ingest/internal/statement"
	"github.com/dvloznov/statement-ingest/internal/storage"
)

const userID = "user-1"

type memFiles struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newMemFiles() *memFiles { return &memFiles{files: map[string][]byte{}} }

func (m *memFiles) Get(_ context.Context, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[path]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return data, nil
}

func (m *memFiles) Put(_ context.Context, path string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = data
	return nil
}

// stubStrategy returns fixed candidates, or err when set.
type stubStrategy struct {
	candidates []domain.Candidate
	err        error
	calls      atomic.Int32
}

func (s *stubStrategy) Name() string { return "stub" }

func (s *stubStrategy) Extract(ctx context.Context, in extract.Input) ([]domain.Candidate, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return s.candidates, nil
}

type stubSelector struct{ strategy extract.Strategy }

func (s stubSelector) For(domain.FileKind) extract.Strategy { return s.strategy }

type recordingAuditor struct {
	mu       sync.Mutex
	runs     []domain.ExtractionRun
	exported []domain.Transaction
}

func (a *recordingAuditor) RecordExtraction(_ context.Context, run domain.ExtractionRun) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runs = append(a.runs, run)
	return nil
}

func (a *recordingAuditor) ExportTransactions(_ context.Context, txs []domain.Transaction) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.exported = append(a.exported, txs...)
	return nil
}

// flakyCommit fails the next failures commits.
type flakyCommit struct {
	*inmemory.Store
	failures int
}

func (f *flakyCommit) ReplaceStatementTransactions(ctx context.Context, id string, txs []domain.Transaction, from []domain.Status, patch domain.StatementPatch) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("database is locked")
	}
	return f.Store.ReplaceStatementTransactions(ctx, id, txs, from, patch)
}

type fixture struct {
	store    *inmemory.Store
	files    *memFiles
	strategy *stubStrategy
	auditor  *recordingAuditor
	orch     *pipeline.Orchestrator
}

// newFixture wires an orchestrator over one in-memory store. wrapTx, when
// set, replaces the transaction store.
func newFixture(t *testing.T, strategy *stubStrategy, wrapTx func(*inmemory.Store) pipeline.TransactionStore) *fixture {
	t.Helper()
	store := inmemory.NewStore()
	var txStore pipeline.TransactionStore = store
	if wrapTx != nil {
		txStore = wrapTx(store)
	}
	f := &fixture{
		store:    store,
		files:    newMemFiles(),
		strategy: strategy,
		auditor:  &recordingAuditor{},
	}
	f.orch = pipeline.New(pipeline.Deps{
		Statements:   store,
		Transactions: txStore,
		Categories:   store,
		Exclusions:   store,
		Cards:        store,
		Files:        f.files,
		Strategies:   stubSelector{strategy: strategy},
		Auditor:      f.auditor,
	}, pipeline.Options{BaseCurrency: "PEN", MaxRetries: 3})
	return f
}

// addStatement registers a CSV statement for the April-May 2024 period.
func (f *fixture) addStatement(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	s, err := f.orch.Register(ctx, pipeline.Upload{
		UserID:   userID,
		Filename: "estado.csv",
		Data:     []byte("fecha,descripcion,importe\n12/05/2024,RAPPI,17.50\n"),
	})
	require.NoError(t, err)

	start := civil.Date{Year: 2024, Month: 4, Day: 16}
	end := civil.Date{Year: 2024, Month: 5, Day: 15}
	require.NoError(t, f.store.UpdateStatement(ctx, s.ID, domain.StatementPatch{PeriodStart: &start, PeriodEnd: &end}))
	return s.ID
}

func rappiCandidates() []domain.Candidate {
	return []domain.Candidate{
		{DateString: "12May", MerchantGuess: "DLC*RAPPI PERU", Description: "DLC*RAPPI PERU LIMA PE", AmountString: "17.50", Source: extract.SourcePattern},
		{DateString: "13May", MerchantGuess: "UNKNOWN STORE X", Description: "UNKNOWN STORE X LIMA PE", AmountString: "20.00", Source: extract.SourcePattern},
		{DateString: "14May", MerchantGuess: "SEGURO DESGRAVAMEN", Description: "SEGURO DESGRAVAMEN", AmountString: "9.90", Source: extract.SourcePattern},
		{DateString: "??", MerchantGuess: "BROKEN", Description: "BROKEN", AmountString: "1.00", Source: extract.SourcePattern},
	}
}

func TestProcess_CompletesStatement(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &stubStrategy{candidates: rappiCandidates()}, nil)

	_, err := f.orch.Categories().CreateCategory(ctx, userID, "Food", []string{"rappi"})
	require.NoError(t, err)
	_, err = f.orch.Exclusions().Add(ctx, userID, "seguro")
	require.NoError(t, err)

	id := f.addStatement(t)
	require.NoError(t, f.orch.Process(ctx, id))

	view, err := f.orch.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, view.Status)
	assert.Equal(t, domain.PhaseCompleted, view.ExtractionStatus)
	assert.Equal(t, domain.PhaseCompleted, view.CategorizationStatus)
	assert.Equal(t, 2, view.TransactionsCount)
	assert.Empty(t, view.ErrorMessage)

	txs, err := f.orch.Transactions(ctx, id)
	require.NoError(t, err)
	require.Len(t, txs, 2)

	rappi := txs[0]
	assert.Equal(t, civil.Date{Year: 2024, Month: 5, Day: 12}, rappi.Date)
	assert.Equal(t, "DLC*RAPPI PERU", rappi.Merchant)
	assert.Equal(t, "17.50", rappi.Amount.StringFixed(2))
	assert.Equal(t, "PEN", rappi.Currency)
	assert.Equal(t, "Food", rappi.CategoryName())
	assert.Greater(t, rappi.Confidence, 0.0)

	unknown := txs[1]
	assert.Equal(t, domain.Uncategorized, unknown.CategoryName())
	assert.Equal(t, 0.0, unknown.Confidence)

	for _, tx := range txs {
		assert.NotContains(t, tx.Merchant, "SEGURO")
		require.NotNil(t, tx.StatementID)
		assert.Equal(t, id, *tx.StatementID)
	}

	card, err := f.store.FindCardByName(ctx, userID, "Default Card - estado.csv")
	require.NoError(t, err)
	require.NotNil(t, card)
	assert.Equal(t, domain.CardCredit, card.Kind)
	assert.Equal(t, "Unknown Bank", card.BankName)
	assert.Equal(t, "VISA", card.Network)
	assert.Equal(t, card.ID, txs[0].CardID)

	require.Len(t, f.auditor.runs, 1)
	run := f.auditor.runs[0]
	assert.Equal(t, domain.RunSucceeded, run.Status)
	assert.Equal(t, 4, run.Candidates)
	assert.Equal(t, 2, run.Accepted)
	assert.Equal(t, 1, run.Excluded)
	assert.Len(t, f.auditor.exported, 2)
}

func TestProcess_ReusesPlaceholderCard(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &stubStrategy{candidates: rappiCandidates()[:1]}, nil)

	first := f.addStatement(t)
	second := f.addStatement(t)
	require.NoError(t, f.orch.Process(ctx, first))
	require.NoError(t, f.orch.Process(ctx, second))

	a, err := f.orch.Transactions(ctx, first)
	require.NoError(t, err)
	b, err := f.orch.Transactions(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, a[0].CardID, b[0].CardID)
}

func TestProcess_ExtractionFailuresExhaustRetries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &stubStrategy{err: extract.ErrNoTransactionsFound}, nil)
	id := f.addStatement(t)

	err := f.orch.Process(ctx, id)
	require.Error(t, err)
	var perr *pipeline.PhaseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, domain.PhaseExtraction, perr.Phase)
	assert.Equal(t, pipeline.ClassExtraction, pipeline.Classify(err))
	assert.True(t, pipeline.Retryable(err))

	for i := 0; i < 2; i++ {
		err = f.orch.Retry(ctx, id, domain.PhaseExtraction)
		require.Error(t, err)
		assert.ErrorIs(t, err, extract.ErrNoTransactionsFound)
	}

	view, err := f.orch.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, view.Status)
	assert.Equal(t, domain.PhaseFailed, view.ExtractionStatus)
	assert.Equal(t, 3, view.ExtractionRetries)
	assert.Contains(t, view.ErrorMessage, "no transactions found")

	err = f.orch.Retry(ctx, id, domain.PhaseExtraction)
	assert.ErrorIs(t, err, statement.ErrRetryLimitExceeded)
	assert.False(t, pipeline.Retryable(err))

	view, err = f.orch.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, view.Status)
	assert.Equal(t, domain.PhaseFailed, view.ExtractionStatus)
	assert.Equal(t, int32(3), f.strategy.calls.Load())
	assert.Len(t, f.auditor.runs, 3)
}

func TestProcess_AllRowsInvalidFailsExtraction(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &stubStrategy{candidates: []domain.Candidate{
		{DateString: "nope", MerchantGuess: "X", Description: "X", AmountString: "1.00"},
	}}, nil)
	id := f.addStatement(t)

	err := f.orch.Process(ctx, id)
	assert.ErrorIs(t, err, pipeline.ErrNoValidTransactions)

	view, err := f.orch.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseFailed, view.ExtractionStatus)
	assert.Equal(t, 1, view.ExtractionRetries)
}

func TestProcess_InputErrorIsNotRetryable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &stubStrategy{candidates: rappiCandidates()}, nil)
	id := f.addStatement(t)

	s, err := f.store.GetStatement(ctx, id)
	require.NoError(t, err)
	require.NoError(t, f.files.Put(ctx, s.StoragePath, []byte("   ")))

	err = f.orch.Process(ctx, id)
	assert.ErrorIs(t, err, reader.ErrEmptyFile)
	assert.Equal(t, pipeline.ClassInput, pipeline.Classify(err))
	assert.False(t, pipeline.Retryable(err))
	assert.Zero(t, f.strategy.calls.Load())
}

func TestRetry_CategorizationReusesExtraction(t *testing.T) {
	ctx := context.Background()
	strategy := &stubStrategy{candidates: rappiCandidates()[:2]}
	f := newFixture(t, strategy, func(s *inmemory.Store) pipeline.TransactionStore {
		return &flakyCommit{Store: s, failures: 1}
	})

	id := f.addStatement(t)

	err := f.orch.Process(ctx, id)
	require.Error(t, err)
	assert.Equal(t, pipeline.ClassPersistence, pipeline.Classify(err))

	view, err := f.orch.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, view.Status)
	assert.Equal(t, domain.PhaseCompleted, view.ExtractionStatus)
	assert.Equal(t, domain.PhaseFailed, view.CategorizationStatus)
	assert.Equal(t, 1, view.CategorizationRetries)

	txs, err := f.orch.Transactions(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, txs)

	err = f.orch.Retry(ctx, id, domain.PhaseExtraction)
	assert.ErrorIs(t, err, statement.ErrInvalidTransition)

	require.NoError(t, f.orch.Retry(ctx, id, domain.PhaseCategorization))

	view, err = f.orch.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, view.Status)
	assert.Equal(t, 2, view.TransactionsCount)
	assert.Equal(t, int32(1), strategy.calls.Load())
}

func TestProcess_ConcurrentCallsRunOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &stubStrategy{candidates: rappiCandidates()[:1]}, nil)
	id := f.addStatement(t)

	const workers = 8
	var wg sync.WaitGroup
	var succeeded, rejected atomic.Int32
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := f.orch.Process(ctx, id)
			if err == nil {
				succeeded.Add(1)
				return
			}
			if pipeline.Classify(err) == pipeline.ClassLifecycle {
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), succeeded.Load())
	assert.Equal(t, int32(workers-1), rejected.Load())
	assert.Equal(t, int32(1), f.strategy.calls.Load())

	txs, err := f.orch.Transactions(ctx, id)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestProcess_CompletedStatementIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &stubStrategy{candidates: rappiCandidates()[:1]}, nil)
	id := f.addStatement(t)
	require.NoError(t, f.orch.Process(ctx, id))

	err := f.orch.Process(ctx, id)
	assert.ErrorIs(t, err, statement.ErrInvalidTransition)
	assert.Equal(t, pipeline.ClassLifecycle, pipeline.Classify(err))
}

func TestRegister_RejectsUnsupportedFiles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &stubStrategy{}, nil)

	_, err := f.orch.Register(ctx, pipeline.Upload{UserID: userID, Filename: "photo.png", Data: []byte{0x89, 'P', 'N', 'G', 0, 0, 0}})
	assert.ErrorIs(t, err, reader.ErrUnsupportedKind)

	_, err = f.orch.Register(ctx, pipeline.Upload{UserID: userID, Filename: "empty.csv"})
	assert.ErrorIs(t, err, reader.ErrEmptyFile)

	assert.Empty(t, f.files.files)
}

func TestStatus_UnknownStatement(t *testing.T) {
	f := newFixture(t, &stubStrategy{}, nil)
	_, err := f.orch.Status(context.Background(), "missing")
	assert.ErrorIs(t, err, statement.ErrNotFound)
}
