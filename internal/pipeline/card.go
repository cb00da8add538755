package pipeline

import (
	"context"
	"fmt"

	"github.com/dvloznov/statement-ingest/internal/domain"
	"github.com/google/uuid"
)

// Placeholder card attributes used when a statement names no card.
const (
	placeholderCardPrefix = "Default Card - "
	placeholderBank       = "Unknown Bank"
	placeholderNetwork    = "VISA"
)

// PlaceholderCardName is the name of the card created for a statement
// uploaded without one.
func PlaceholderCardName(filename string) string {
	return placeholderCardPrefix + filename
}

func ensureCard(ctx context.Context, cards CardStore, s *domain.Statement) (*domain.Card, error) {
	if s.CardID != "" {
		return &domain.Card{ID: s.CardID, UserID: s.UserID}, nil
	}

	name := PlaceholderCardName(s.Filename)
	card, err := cards.FindCardByName(ctx, s.UserID, name)
	if err != nil {
		return nil, fmt.Errorf("find card %q: %w", name, err)
	}
	if card != nil {
		return card, nil
	}

	card = &domain.Card{
		ID:       uuid.NewString(),
		UserID:   s.UserID,
		Name:     name,
		Kind:     domain.CardCredit,
		BankName: placeholderBank,
		Network:  placeholderNetwork,
	}
	if err := cards.CreateCard(ctx, *card); err != nil {
		return nil, fmt.Errorf("create card %q: %w", name, err)
	}
	return card, nil
}
