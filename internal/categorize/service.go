package categorize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/statement-ingest/internal/domain"
	"github.com/dvloznov/statement-ingest/internal/normalize"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

var (
	// ErrCategoryNotFound is returned when a named category does not exist.
	ErrCategoryNotFound = errors.New("category not found")
	// ErrSystemCategory is returned when editing a system-owned category.
	ErrSystemCategory = errors.New("system categories are read-only")
)

// Store persists categories and their keywords.
type Store interface {
	ListCategories(ctx context.Context, userID string) ([]domain.Category, error)
	CreateCategory(ctx context.Context, c domain.Category) error
	AddCategoryKeyword(ctx context.Context, userID, categoryID, keyword string) error
	RemoveCategoryKeyword(ctx context.Context, userID, categoryID, keyword string) error
}

// KeywordCache keeps each user's categories in memory for a bounded time.
// Every mutation made through Service invalidates the user's entry.
type KeywordCache struct {
	store Store
	items *cache.Cache
}

// NewKeywordCache creates a cache with the given TTL. A non-positive TTL
// disables caching.
func NewKeywordCache(store Store, ttl time.Duration) *KeywordCache {
	kc := &KeywordCache{store: store}
	if ttl > 0 {
		kc.items = cache.New(ttl, 2*ttl)
	}
	return kc
}

// Categories returns the user's categories, loading them on a miss.
func (kc *KeywordCache) Categories(ctx context.Context, userID string) ([]domain.Category, error) {
	if kc.items != nil {
		if v, ok := kc.items.Get(userID); ok {
			return v.([]domain.Category), nil
		}
	}

	cats, err := kc.store.ListCategories(ctx, userID)
	if err != nil {
		return nil, err
	}
	if kc.items != nil {
		kc.items.SetDefault(userID, cats)
	}
	return cats, nil
}

// Invalidate drops the cached entry of userID.
func (kc *KeywordCache) Invalidate(userID string) {
	if kc.items != nil {
		kc.items.Delete(userID)
	}
}

// Service categorizes statement rows and manages keywords.
type Service struct {
	store  Store
	cache  *KeywordCache
	engine *Engine
}

// NewService creates a Service whose reads go through a KeywordCache.
func NewService(store Store, ttl time.Duration) *Service {
	return &Service{
		store:  store,
		cache:  NewKeywordCache(store, ttl),
		engine: NewEngine(),
	}
}

// CategorizeRows assigns a category to each row using the user's keywords.
// Only a failure to load keywords is an error; rows without a match are
// Uncategorized.
func (s *Service) CategorizeRows(ctx context.Context, userID string, rows []normalize.Row) ([]Assignment, Stats, error) {
	cats, err := s.cache.Categories(ctx, userID)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("CategorizeRows: loading categories: %w", err)
	}
	assignments, stats := s.engine.Bulk(cats, rows)
	return assignments, stats, nil
}

// CreateCategory adds a user category with initial keywords.
func (s *Service) CreateCategory(ctx context.Context, userID, name string, keywords []string) (domain.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Category{}, fmt.Errorf("CreateCategory: empty name")
	}

	c := domain.Category{
		ID:       uuid.NewString(),
		UserID:   userID,
		Name:     name,
		Keywords: uniqueLower(keywords),
	}
	if err := s.store.CreateCategory(ctx, c); err != nil {
		return domain.Category{}, fmt.Errorf("CreateCategory: %w", err)
	}
	s.cache.Invalidate(userID)
	return c, nil
}

// AddKeyword adds a lowercase keyword to the named category.
func (s *Service) AddKeyword(ctx context.Context, userID, categoryName, keyword string) error {
	c, err := s.find(ctx, userID, categoryName)
	if err != nil {
		return fmt.Errorf("AddKeyword: %w", err)
	}
	if c.IsSystem {
		return fmt.Errorf("AddKeyword: %q: %w", c.Name, ErrSystemCategory)
	}

	kw := strings.ToLower(strings.TrimSpace(keyword))
	if kw == "" {
		return fmt.Errorf("AddKeyword: empty keyword")
	}
	for _, existing := range c.Keywords {
		if existing == kw {
			return nil
		}
	}

	if err := s.store.AddCategoryKeyword(ctx, userID, c.ID, kw); err != nil {
		return fmt.Errorf("AddKeyword: %w", err)
	}
	s.cache.Invalidate(userID)
	return nil
}

// RemoveKeyword removes a keyword from the named category.
func (s *Service) RemoveKeyword(ctx context.Context, userID, categoryName, keyword string) error {
	c, err := s.find(ctx, userID, categoryName)
	if err != nil {
		return fmt.Errorf("RemoveKeyword: %w", err)
	}
	if c.IsSystem {
		return fmt.Errorf("RemoveKeyword: %q: %w", c.Name, ErrSystemCategory)
	}

	if err := s.store.RemoveCategoryKeyword(ctx, userID, c.ID, strings.ToLower(strings.TrimSpace(keyword))); err != nil {
		return fmt.Errorf("RemoveKeyword: %w", err)
	}
	s.cache.Invalidate(userID)
	return nil
}

// Categories lists the user's categories.
func (s *Service) Categories(ctx context.Context, userID string) ([]domain.Category, error) {
	return s.cache.Categories(ctx, userID)
}

func (s *Service) find(ctx context.Context, userID, name string) (domain.Category, error) {
	cats, err := s.store.ListCategories(ctx, userID)
	if err != nil {
		return domain.Category{}, err
	}
	if found, ok := lookupCategory(cats, name); ok {
		for _, c := range cats {
			if c.Name == found {
				return c, nil
			}
		}
	}
	return domain.Category{}, fmt.Errorf("%q: %w", name, ErrCategoryNotFound)
}

func uniqueLower(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	seen := make(map[string]bool)
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}
