package statement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/statement-ingest/internal/domain"
	"github.com/dvloznov/statement-ingest/internal/logger"
)

// Store persists statements. ClaimStatement is an atomic compare-and-swap:
// the patch is written only while the stored status is one of from, and
// ErrAlreadyClaimed is returned otherwise.
type Store interface {
	GetStatement(ctx context.Context, id string) (*domain.Statement, error)
	CreateStatement(ctx context.Context, s *domain.Statement) error
	ClaimStatement(ctx context.Context, id string, from []domain.Status, patch domain.StatementPatch) error
	UpdateStatement(ctx context.Context, id string, patch domain.StatementPatch) error
	StaleClaims(ctx context.Context, claimedBefore time.Time) ([]*domain.Statement, error)
}

// Machine applies transitions against a Store.
type Machine struct {
	store Store
	now   func() time.Time
}

// NewMachine creates a Machine over store.
func NewMachine(store Store) *Machine {
	return &Machine{store: store, now: time.Now}
}

// Get loads a statement.
func (m *Machine) Get(ctx context.Context, id string) (*domain.Statement, error) {
	return m.store.GetStatement(ctx, id)
}

// Apply writes t for s with a compare-and-swap and returns the updated copy.
func (m *Machine) Apply(ctx context.Context, s *domain.Statement, t Transition) (*domain.Statement, error) {
	if err := m.store.ClaimStatement(ctx, s.ID, t.From, t.Patch); err != nil {
		return nil, err
	}
	next := *s
	t.Patch.Apply(&next)
	return &next, nil
}

// Begin claims the extraction phase of a fresh statement.
func (m *Machine) Begin(ctx context.Context, id string) (*domain.Statement, error) {
	s, err := m.store.GetStatement(ctx, id)
	if err != nil {
		return nil, err
	}
	t, err := ClaimExtraction(s, m.now())
	if err != nil {
		return nil, err
	}
	return m.Apply(ctx, s, t)
}

// Retry claims phase of a failed statement again.
func (m *Machine) Retry(ctx context.Context, id string, phase domain.Phase) (*domain.Statement, error) {
	s, err := m.store.GetStatement(ctx, id)
	if err != nil {
		return nil, err
	}
	t, err := Retry(s, phase, m.now())
	if err != nil {
		return nil, err
	}
	return m.Apply(ctx, s, t)
}

// ReleaseStale fails every claim older than olderThan so that the phase
// becomes retryable again. It returns the number of released statements.
func (m *Machine) ReleaseStale(ctx context.Context, olderThan time.Duration) (int, error) {
	log := logger.FromContext(ctx)

	stale, err := m.store.StaleClaims(ctx, m.now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("ReleaseStale: list claims: %w", err)
	}

	released := 0
	for _, s := range stale {
		t, err := Fail(s, fmt.Errorf("claim abandoned after %s", olderThan))
		if err != nil {
			continue
		}
		if _, err := m.Apply(ctx, s, t); err != nil {
			if errors.Is(err, ErrAlreadyClaimed) {
				continue
			}
			return released, fmt.Errorf("ReleaseStale: release %s: %w", s.ID, err)
		}
		log.Warn().Str("statement_id", s.ID).Str("status", string(s.Status)).Msg("released stale claim")
		released++
	}
	return released, nil
}
