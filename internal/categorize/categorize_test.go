package categorize

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dvloznov/statement-ingest/internal/domain"
	"github.com/dvloznov/statement-ingest/internal/normalize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategorize_FoodScenario(t *testing.T) {
	e := NewEngine()
	cats := []domain.Category{{ID: "c1", Name: "Food", Keywords: []string{"rappi"}}}

	m, ok := e.Categorize(cats, "DLC*RAPPI PERU", "DLC*RAPPI PERU LIMA PE")
	require.True(t, ok)
	assert.Equal(t, "Food", m.Category)
	assert.Greater(t, m.Confidence, 0.0)

	a := e.Assign(cats, "UNKNOWN STORE X", "UNKNOWN STORE X", "")
	assert.Equal(t, domain.Uncategorized, a.Category)
	assert.Equal(t, 0.0, a.Confidence)
	assert.Equal(t, SourceNone, a.Source)
}

func TestCategorize_ConfidenceFormula(t *testing.T) {
	e := NewEngine()
	tests := []struct {
		name     string
		keywords []string
		merchant string
		want     float64
	}{
		{"single short keyword of one", []string{"kfc"}, "KFC LARCO", 1.0},
		{"one of four, short", []string{"wong", "metro", "tottus", "vivanda"}, "WONG BENAVIDES", 0.25},
		{"one of four, long", []string{"wong", "metro", "tottus", "vivanda"}, "TOTTUS SURCO", 0.30},
		{"two of four, one long", []string{"rappi", "pizza", "delivery", "kfc"}, "RAPPI DELIVERY", 0.65},
		{"capped at one", []string{"netflix", "streaming"}, "NETFLIX STREAMING", 1.0},
		{"keyword with spaces and accents", []string{"plaza vea", "café"}, "PLAZAVEA SURCO", 0.55},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cats := []domain.Category{{Name: "X", Keywords: tt.keywords}}
			m, ok := e.Categorize(cats, tt.merchant, "")
			require.True(t, ok)
			assert.InDelta(t, tt.want, m.Confidence, 1e-9)
		})
	}
}

func TestCategorize_HighestWinsAndTiesGoFirst(t *testing.T) {
	e := NewEngine()

	cats := []domain.Category{
		{Name: "Groceries", Keywords: []string{"tottus", "wong", "metro", "vivanda"}},
		{Name: "Supermarket", Keywords: []string{"tottus"}},
	}
	m, ok := e.Categorize(cats, "TOTTUS SURCO", "")
	require.True(t, ok)
	assert.Equal(t, "Supermarket", m.Category)

	tied := []domain.Category{
		{Name: "Transport", Keywords: []string{"uber"}},
		{Name: "Food", Keywords: []string{"uber"}},
	}
	m, ok = e.Categorize(tied, "UBER *EATS", "")
	require.True(t, ok)
	assert.Equal(t, "Transport", m.Category)
}

func TestCategorize_NoKeywordsNeverGuesses(t *testing.T) {
	e := NewEngine()
	cats := []domain.Category{
		{Name: "Food"},
		{Name: "Transport", Keywords: []string{}},
		{Name: "Blank", Keywords: []string{"  ", "'"}},
	}
	for _, merchant := range []string{"DLC*RAPPI PERU", "UBER", "", "A"} {
		_, ok := e.Categorize(cats, merchant, merchant)
		assert.False(t, ok, merchant)
	}
}

func TestAssign_SuggestedOnlyWithoutKeywordMatch(t *testing.T) {
	e := NewEngine()
	cats := []domain.Category{
		{Name: "Food", Keywords: []string{"rappi", "pizza", "burger", "sushi", "kfc", "chifa", "cevicheria", "polleria", "panaderia", "cafe"}},
		{Name: "Entertainment", Keywords: []string{"cine"}},
	}

	// A weak keyword match beats any suggestion.
	a := e.Assign(cats, "RAPPI", "", "Entertainment")
	assert.Equal(t, "Food", a.Category)
	assert.Equal(t, SourceKeyword, a.Source)

	a = e.Assign(cats, "STEAMGAMES.COM", "", "entertainment")
	assert.Equal(t, "Entertainment", a.Category)
	assert.Equal(t, SourceSuggested, a.Source)
	assert.Equal(t, SuggestedConfidence, a.Confidence)

	a = e.Assign(cats, "STEAMGAMES.COM", "", "Gaming")
	assert.Equal(t, domain.Uncategorized, a.Category, "unknown suggestions are ignored")
}

func TestBulk_StatsAndIdempotence(t *testing.T) {
	e := NewEngine()
	cats := []domain.Category{
		{Name: "Food", Keywords: []string{"rappi", "kfc"}},
		{Name: "Transport", Keywords: []string{"uber", "cabify"}},
	}
	rows := []normalize.Row{
		{Merchant: "DLC*RAPPI PERU"},
		{Merchant: "UBER *TRIP"},
		{Merchant: "UNKNOWN STORE X"},
		{Merchant: "NETFLIX.COM", SuggestedCategory: "Transport"},
	}

	first, stats := e.Bulk(cats, rows)
	assert.Equal(t, Stats{Total: 4, Categorized: 3, Uncategorized: 1, FromSuggested: 1}, stats)

	second, _ := e.Bulk(cats, rows)
	assert.Equal(t, first, second)
}

type countingStore struct {
	cats   map[string][]domain.Category
	lists  int
	addErr error
}

func (s *countingStore) ListCategories(ctx context.Context, userID string) ([]domain.Category, error) {
	s.lists++
	return append([]domain.Category(nil), s.cats[userID]...), nil
}

func (s *countingStore) CreateCategory(ctx context.Context, c domain.Category) error {
	s.cats[c.UserID] = append(s.cats[c.UserID], c)
	return nil
}

func (s *countingStore) AddCategoryKeyword(ctx context.Context, userID, categoryID, keyword string) error {
	if s.addErr != nil {
		return s.addErr
	}
	for i, c := range s.cats[userID] {
		if c.ID == categoryID {
			s.cats[userID][i].Keywords = append(c.Keywords, keyword)
		}
	}
	return nil
}

func (s *countingStore) RemoveCategoryKeyword(ctx context.Context, userID, categoryID, keyword string) error {
	return nil
}

func TestService_CacheInvalidatedOnKeywordChange(t *testing.T) {
	store := &countingStore{cats: map[string][]domain.Category{}}
	svc := NewService(store, time.Minute)
	ctx := context.Background()

	_, err := svc.CreateCategory(ctx, "u1", "Food", []string{"Rappi", "rappi", " "})
	require.NoError(t, err)

	rows := []normalize.Row{{Merchant: "KFC LARCO"}}
	assignments, stats, err := svc.CategorizeRows(ctx, "u1", rows)
	require.NoError(t, err)
	assert.Equal(t, domain.Uncategorized, assignments[0].Category)
	assert.Equal(t, 1, stats.Uncategorized)

	cachedLists := store.lists
	_, _, err = svc.CategorizeRows(ctx, "u1", rows)
	require.NoError(t, err)
	assert.Equal(t, cachedLists, store.lists, "second read must be served from cache")

	require.NoError(t, svc.AddKeyword(ctx, "u1", "food", "KFC"))
	listsBefore := store.lists

	assignments, _, err = svc.CategorizeRows(ctx, "u1", rows)
	require.NoError(t, err)
	assert.Equal(t, "Food", assignments[0].Category)
	assert.Greater(t, store.lists, listsBefore, "keyword change must reload categories")
}

func TestService_KeywordEditingErrors(t *testing.T) {
	store := &countingStore{cats: map[string][]domain.Category{
		"u1": {{ID: "sys", UserID: "u1", Name: "Pagos", IsSystem: true}},
	}}
	svc := NewService(store, 0)
	ctx := context.Background()

	err := svc.AddKeyword(ctx, "u1", "Pagos", "bcp")
	assert.True(t, errors.Is(err, ErrSystemCategory))

	err = svc.AddKeyword(ctx, "u1", "Viajes", "latam")
	assert.True(t, errors.Is(err, ErrCategoryNotFound))
}
