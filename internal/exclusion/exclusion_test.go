package exclusion

import (
	"context"
	"errors"
	"testing"

	"github.com/dvloznov/statement-ingest/internal/domain"
	"github.com/dvloznov/statement-ingest/internal/normalize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	keywords []domain.ExcludedKeyword
	addErr   error
}

func (m *memStore) ListExcludedKeywords(ctx context.Context, userID string) ([]domain.ExcludedKeyword, error) {
	var out []domain.ExcludedKeyword
	for _, k := range m.keywords {
		if k.UserID == userID {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *memStore) AddExcludedKeyword(ctx context.Context, kw domain.ExcludedKeyword) error {
	if m.addErr != nil {
		return m.addErr
	}
	m.keywords = append(m.keywords, kw)
	return nil
}

func (m *memStore) DeleteExcludedKeyword(ctx context.Context, userID, id string) error {
	return nil
}

func TestNormalize(t *testing.T) {
	tests := map[string]string{
		"COMISIÓN  de Membresía": "comision de membresia",
		"Desgravamen":            "desgravamen",
		"  PEÑA ":                "pena",
		"":                       "",
	}
	for in, want := range tests {
		assert.Equal(t, want, Normalize(in), in)
	}
}

func TestFilter_Excluded(t *testing.T) {
	f := NewFilter(DefaultKeywords)

	kw, ok := f.Excluded("INTERÉSES DEL PERIODO", "")
	assert.True(t, ok)
	assert.Equal(t, "intereses", kw)

	_, ok = f.Excluded("DLC*RAPPI PERU", "compra en línea")
	assert.False(t, ok)

	_, ok = f.Excluded("BCP", "Seguro de desgravamen")
	assert.True(t, ok)
}

func TestFilter_ApplyNeverKeepsExcludedRows(t *testing.T) {
	f := NewFilter([]string{"uber", "Comisión"})
	rows := []normalize.Row{
		{Merchant: "UBER *TRIP", Description: "UBER *TRIP LIMA PE"},
		{Merchant: "TOTTUS", Description: "TOTTUS SURCO PE"},
		{Merchant: "BCP", Description: "COMISION ENVIO EECC"},
		{Merchant: "WONG", Description: "WONG BENAVIDES"},
	}

	kept, dropped := f.Apply(rows)
	require.Len(t, kept, 2)
	assert.Equal(t, "TOTTUS", kept[0].Merchant)
	assert.Equal(t, "WONG", kept[1].Merchant)
	assert.Equal(t, 1, dropped["uber"])
	assert.Equal(t, 1, dropped["comision"])

	for _, r := range kept {
		_, excluded := f.Excluded(r.Merchant, r.Description)
		assert.False(t, excluded)
	}
}

func TestFilter_EmptyKeepsEverything(t *testing.T) {
	f := NewFilter(nil)
	kept, dropped := f.Apply([]normalize.Row{{Merchant: "A"}, {Merchant: "B"}})
	assert.Len(t, kept, 2)
	assert.Empty(t, dropped)
}

func TestService_AddRejectsNormalizedDuplicates(t *testing.T) {
	store := &memStore{}
	svc := NewService(store)
	ctx := context.Background()

	kw, err := svc.Add(ctx, "u1", "Comisión")
	require.NoError(t, err)
	assert.Equal(t, "comision", kw.Normalized)

	_, err = svc.Add(ctx, "u1", "  COMISION ")
	assert.True(t, errors.Is(err, ErrDuplicateKeyword))

	_, err = svc.Add(ctx, "u2", "comision")
	assert.NoError(t, err, "uniqueness is per user")

	_, err = svc.Add(ctx, "u1", "   ")
	assert.Error(t, err)
}

func TestService_Seed(t *testing.T) {
	store := &memStore{}
	svc := NewService(store)
	ctx := context.Background()

	n, err := svc.Seed(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, len(DefaultKeywords), n)

	n, err = svc.Seed(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, n, "seeding is a no-op once keywords exist")

	f, err := svc.FilterFor(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, len(DefaultKeywords), f.Len())
}
