package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dvloznov/statement-ingest/internal/domain"
)

// FindCardByName returns the user's card with the given name, or nil when
// there is none.
func (d *DB) FindCardByName(ctx context.Context, userID, name string) (*domain.Card, error) {
	var c domain.Card
	var kind string
	err := d.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, kind, bank_name, network
		FROM cards WHERE user_id = ? AND name = ?`, userID, name).
		Scan(&c.ID, &c.UserID, &c.Name, &kind, &c.BankName, &c.Network)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("FindCardByName: %w", err)
	}
	c.Kind = domain.CardKind(kind)
	return &c, nil
}

// CreateCard inserts a card.
func (d *DB) CreateCard(ctx context.Context, c domain.Card) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO cards (id, user_id, name, kind, bank_name, network, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Name, string(c.Kind), c.BankName, c.Network, formatTime(d.now()))
	if err != nil {
		return fmt.Errorf("CreateCard: %w", err)
	}
	return nil
}
