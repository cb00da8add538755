package domain

import "time"

// Category is a per-user category with its lowercase keyword set.
type Category struct {
	ID         string
	UserID     string
	Name       string
	Keywords   []string
	IsSystem   bool
	IsAISeeded bool
}

// CategoryPatch enumerates the mutable fields of a category.
type CategoryPatch struct {
	Name       *string
	IsAISeeded *bool
}

// ExcludedKeyword causes matching candidates to be dropped before
// categorization. Normalized is unique per user.
type ExcludedKeyword struct {
	ID         string
	UserID     string
	Keyword    string
	Normalized string
	CreatedAt  time.Time
}

// CardKind is the kind of payment card.
type CardKind string

const (
	CardCredit CardKind = "credit"
	CardDebit  CardKind = "debit"
)

// Card owns transactions.
type Card struct {
	ID       string
	UserID   string
	Name     string
	Kind     CardKind
	BankName string
	Network  string
}
