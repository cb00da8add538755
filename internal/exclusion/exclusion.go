// Package exclusion drops transactions whose merchant or description contains
// one of the user's excluded keywords, compared without case or diacritics.
package exclusion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/statement-ingest/internal/domain"
	"github.com/dvloznov/statement-ingest/internal/normalize"
	"github.com/dvloznov/statement-ingest/internal/textnorm"
	"github.com/google/uuid"
)

// DefaultKeywords are installed for users that have none: card fees and
// financing charges that are not purchases.
var DefaultKeywords = []string{
	"INTERESES",
	"CONSUMO REVOLVENTE",
	"DESGRAVAMEN",
	"COMISIONES",
	"OTROS CARGOS",
	"SEGURO",
}

// ErrDuplicateKeyword is returned when the normalized keyword already exists
// for the user.
var ErrDuplicateKeyword = errors.New("excluded keyword already exists")

// Normalize lowercases s, strips diacritics and collapses whitespace.
func Normalize(s string) string {
	return strings.Join(strings.Fields(textnorm.Fold(s)), " ")
}

// Filter matches rows against a fixed keyword set.
type Filter struct {
	keywords []string
}

// NewFilter builds a filter from raw or already-normalized keywords.
func NewFilter(keywords []string) *Filter {
	f := &Filter{}
	seen := make(map[string]bool)
	for _, k := range keywords {
		n := Normalize(k)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		f.keywords = append(f.keywords, n)
	}
	return f
}

// FromKeywords builds a filter from stored keywords.
func FromKeywords(keywords []domain.ExcludedKeyword) *Filter {
	raw := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k.Normalized != "" {
			raw = append(raw, k.Normalized)
		} else {
			raw = append(raw, k.Keyword)
		}
	}
	return NewFilter(raw)
}

// Len returns the number of active keywords.
func (f *Filter) Len() int { return len(f.keywords) }

// Excluded reports whether merchant or description contains a keyword, and
// which one.
func (f *Filter) Excluded(merchant, description string) (string, bool) {
	if len(f.keywords) == 0 {
		return "", false
	}
	m := Normalize(merchant)
	d := Normalize(description)
	for _, k := range f.keywords {
		if strings.Contains(m, k) || strings.Contains(d, k) {
			return k, true
		}
	}
	return "", false
}

// Apply splits rows into kept and dropped, preserving order. The map counts
// dropped rows per matching keyword.
func (f *Filter) Apply(rows []normalize.Row) (kept []normalize.Row, dropped map[string]int) {
	dropped = make(map[string]int)
	for _, r := range rows {
		if k, ok := f.Excluded(r.Merchant, r.Description); ok {
			dropped[k]++
			continue
		}
		kept = append(kept, r)
	}
	return kept, dropped
}

// Store persists excluded keywords.
type Store interface {
	ListExcludedKeywords(ctx context.Context, userID string) ([]domain.ExcludedKeyword, error)
	AddExcludedKeyword(ctx context.Context, kw domain.ExcludedKeyword) error
	DeleteExcludedKeyword(ctx context.Context, userID, id string) error
}

// Service manages a user's excluded keywords.
type Service struct {
	store Store
}

// NewService creates a Service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Add stores keyword for userID, rejecting duplicates by normalized form.
func (s *Service) Add(ctx context.Context, userID, keyword string) (domain.ExcludedKeyword, error) {
	normalized := Normalize(keyword)
	if normalized == "" {
		return domain.ExcludedKeyword{}, fmt.Errorf("Add: empty keyword")
	}

	existing, err := s.store.ListExcludedKeywords(ctx, userID)
	if err != nil {
		return domain.ExcludedKeyword{}, fmt.Errorf("Add: listing keywords: %w", err)
	}
	for _, k := range existing {
		if k.Normalized == normalized {
			return domain.ExcludedKeyword{}, fmt.Errorf("Add: %q: %w", keyword, ErrDuplicateKeyword)
		}
	}

	kw := domain.ExcludedKeyword{
		ID:         uuid.NewString(),
		UserID:     userID,
		Keyword:    strings.TrimSpace(keyword),
		Normalized: normalized,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.AddExcludedKeyword(ctx, kw); err != nil {
		return domain.ExcludedKeyword{}, fmt.Errorf("Add: storing keyword: %w", err)
	}
	return kw, nil
}

// Seed installs DefaultKeywords for a user without any keywords. It returns
// the number of keywords added.
func (s *Service) Seed(ctx context.Context, userID string) (int, error) {
	existing, err := s.store.ListExcludedKeywords(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("Seed: listing keywords: %w", err)
	}
	if len(existing) > 0 {
		return 0, nil
	}

	added := 0
	for _, k := range DefaultKeywords {
		if _, err := s.Add(ctx, userID, k); err != nil {
			return added, fmt.Errorf("Seed: %w", err)
		}
		added++
	}
	return added, nil
}

// FilterFor loads the user's keywords into a Filter.
func (s *Service) FilterFor(ctx context.Context, userID string) (*Filter, error) {
	keywords, err := s.store.ListExcludedKeywords(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("FilterFor: listing keywords: %w", err)
	}
	return FromKeywords(keywords), nil
}
