// Package inmemory is a map-backed implementation of the pipeline's
// persistence interfaces. It is safe for concurrent use; data is lost when
// the process exits.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dvloznov/statement-ingest/internal/domain"
	"github.com/dvloznov/statement-ingest/internal/exclusion"
	"github.com/dvloznov/statement-ingest/internal/statement"
)

// Store holds statements, transactions, cards, categories and excluded
// keywords. Values are copied on the way in and out.
type Store struct {
	mu           sync.RWMutex
	statements   map[string]*domain.Statement
	transactions map[string][]domain.Transaction
	cards        []domain.Card
	categories   []domain.Category
	excluded     []domain.ExcludedKeyword
	now          func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		statements:   make(map[string]*domain.Statement),
		transactions: make(map[string][]domain.Transaction),
		now:          time.Now,
	}
}

func copyStatement(s *domain.Statement) *domain.Statement {
	cp := *s
	cp.Password = ""
	if s.ProcessedSnapshot != nil {
		cp.ProcessedSnapshot = append([]byte(nil), s.ProcessedSnapshot...)
	}
	return &cp
}

// CreateStatement stores a new statement.
func (s *Store) CreateStatement(_ context.Context, st *domain.Statement) error {
	if st.ID == "" {
		return fmt.Errorf("CreateStatement: statement ID is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.statements[st.ID]; exists {
		return fmt.Errorf("CreateStatement: statement %s already exists", st.ID)
	}
	now := s.now().UTC()
	if st.CreatedAt.IsZero() {
		st.CreatedAt = now
	}
	st.UpdatedAt = now
	s.statements[st.ID] = copyStatement(st)
	return nil
}

// GetStatement returns a copy of a statement.
func (s *Store) GetStatement(_ context.Context, id string) (*domain.Statement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.statements[id]
	if !ok {
		return nil, fmt.Errorf("GetStatement %s: %w", id, statement.ErrNotFound)
	}
	return copyStatement(st), nil
}

// ListStatements returns the user's statements, newest first.
func (s *Store) ListStatements(_ context.Context, userID string) ([]*domain.Statement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Statement
	for _, st := range s.statements {
		if st.UserID == userID {
			out = append(out, copyStatement(st))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// StatementsByStatus returns up to limit statements in one of statuses,
// oldest first.
func (s *Store) StatementsByStatus(_ context.Context, statuses []domain.Status, limit int) ([]*domain.Statement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := make(map[domain.Status]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	var out []*domain.Statement
	for _, st := range s.statements {
		if want[st.Status] {
			out = append(out, copyStatement(st))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ClaimStatement applies patch while the status is one of from.
func (s *Store) ClaimStatement(_ context.Context, id string, from []domain.Status, patch domain.StatementPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claimLocked(id, from, patch)
}

func (s *Store) claimLocked(id string, from []domain.Status, patch domain.StatementPatch) error {
	st, ok := s.statements[id]
	if !ok {
		return fmt.Errorf("ClaimStatement %s: %w", id, statement.ErrNotFound)
	}
	for _, status := range from {
		if st.Status == status {
			patch.Apply(st)
			st.UpdatedAt = s.now().UTC()
			return nil
		}
	}
	return fmt.Errorf("ClaimStatement %s: %w", id, statement.ErrAlreadyClaimed)
}

// UpdateStatement applies patch unconditionally.
func (s *Store) UpdateStatement(_ context.Context, id string, patch domain.StatementPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.statements[id]
	if !ok {
		return fmt.Errorf("UpdateStatement %s: %w", id, statement.ErrNotFound)
	}
	patch.Apply(st)
	st.UpdatedAt = s.now().UTC()
	return nil
}

// StaleClaims lists in-progress statements claimed before claimedBefore.
func (s *Store) StaleClaims(_ context.Context, claimedBefore time.Time) ([]*domain.Statement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Statement
	for _, st := range s.statements {
		if st.ClaimedAt == nil || !st.ClaimedAt.Before(claimedBefore) {
			continue
		}
		if st.Status == domain.StatusExtracting || st.Status == domain.StatusCategorizing {
			out = append(out, copyStatement(st))
		}
	}
	return out, nil
}

// ReplaceStatementTransactions swaps the statement's transactions and
// applies patch in one critical section.
func (s *Store) ReplaceStatementTransactions(_ context.Context, statementID string, txs []domain.Transaction, from []domain.Status, patch domain.StatementPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.claimLocked(statementID, from, patch); err != nil {
		return fmt.Errorf("ReplaceStatementTransactions: %w", err)
	}
	now := s.now().UTC()
	cp := make([]domain.Transaction, len(txs))
	for i, t := range txs {
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		cp[i] = t
	}
	s.transactions[statementID] = cp
	return nil
}

// ListTransactions returns the statement's transactions ordered by date.
func (s *Store) ListTransactions(_ context.Context, statementID string) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := append([]domain.Transaction(nil), s.transactions[statementID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// FindCardByName returns the user's card with the given name, or nil.
func (s *Store) FindCardByName(_ context.Context, userID, name string) (*domain.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.cards {
		if c.UserID == userID && c.Name == name {
			cp := c
			return &cp, nil
		}
	}
	return nil, nil
}

// CreateCard stores a card.
func (s *Store) CreateCard(_ context.Context, c domain.Card) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.cards {
		if existing.UserID == c.UserID && existing.Name == c.Name {
			return fmt.Errorf("CreateCard: card %q already exists", c.Name)
		}
	}
	s.cards = append(s.cards, c)
	return nil
}

// ListCategories returns the user's categories in creation order.
func (s *Store) ListCategories(_ context.Context, userID string) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Category
	for _, c := range s.categories {
		if c.UserID == userID {
			c.Keywords = append([]string(nil), c.Keywords...)
			out = append(out, c)
		}
	}
	return out, nil
}

// CreateCategory stores a category.
func (s *Store) CreateCategory(_ context.Context, c domain.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.categories {
		if existing.UserID == c.UserID && existing.Name == c.Name {
			return fmt.Errorf("CreateCategory: category %q already exists", c.Name)
		}
	}
	c.Keywords = append([]string(nil), c.Keywords...)
	s.categories = append(s.categories, c)
	return nil
}

// AddCategoryKeyword appends keyword unless present.
func (s *Store) AddCategoryKeyword(_ context.Context, userID, categoryID, keyword string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.categories {
		c := &s.categories[i]
		if c.ID != categoryID || c.UserID != userID {
			continue
		}
		for _, k := range c.Keywords {
			if k == keyword {
				return nil
			}
		}
		c.Keywords = append(c.Keywords, keyword)
	}
	return nil
}

// RemoveCategoryKeyword deletes keyword from the category.
func (s *Store) RemoveCategoryKeyword(_ context.Context, userID, categoryID, keyword string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.categories {
		c := &s.categories[i]
		if c.ID != categoryID || c.UserID != userID {
			continue
		}
		kept := c.Keywords[:0]
		for _, k := range c.Keywords {
			if k != keyword {
				kept = append(kept, k)
			}
		}
		c.Keywords = kept
	}
	return nil
}

// ListExcludedKeywords returns the user's excluded keywords.
func (s *Store) ListExcludedKeywords(_ context.Context, userID string) ([]domain.ExcludedKeyword, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.ExcludedKeyword
	for _, k := range s.excluded {
		if k.UserID == userID {
			out = append(out, k)
		}
	}
	return out, nil
}

// AddExcludedKeyword stores a keyword, unique by normalized form per user.
func (s *Store) AddExcludedKeyword(_ context.Context, kw domain.ExcludedKeyword) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range s.excluded {
		if k.UserID == kw.UserID && k.Normalized == kw.Normalized {
			return fmt.Errorf("AddExcludedKeyword %q: %w", kw.Keyword, exclusion.ErrDuplicateKeyword)
		}
	}
	s.excluded = append(s.excluded, kw)
	return nil
}

// DeleteExcludedKeyword removes a keyword of the user.
func (s *Store) DeleteExcludedKeyword(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.excluded[:0]
	for _, k := range s.excluded {
		if !(k.UserID == userID && k.ID == id) {
			kept = append(kept, k)
		}
	}
	s.excluded = kept
	return nil
}
