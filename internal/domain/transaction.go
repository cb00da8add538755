package domain

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Uncategorized is the category assigned when no keyword matches.
const Uncategorized = "Sin categoría"

// Candidate is an unvalidated transaction row produced by an extraction
// strategy. It is consumed by the normalizer and never persisted.
type Candidate struct {
	DateString    string `json:"date"`
	Description   string `json:"description"`
	MerchantGuess string `json:"merchant"`
	AmountString  string `json:"amount"`
	CurrencyHint  string `json:"currency,omitempty"`
	OperationType string `json:"operation_type,omitempty"`

	// SuggestedCategory is the category proposed by the external service, if any.
	SuggestedCategory string `json:"category,omitempty"`

	// Source names the strategy that produced the row ("pattern", "gemini").
	Source string `json:"source,omitempty"`
}

// Transaction is a validated, categorized financial event.
// Amount is always non-negative; direction is implied by the statement.
type Transaction struct {
	ID          string
	UserID      string
	CardID      string
	StatementID *string

	Merchant    string
	Description string
	Amount      decimal.Decimal
	Currency    string
	Date        civil.Date

	Category   *string
	Confidence float64

	CreatedAt time.Time
}

// CategoryName returns the assigned category or Uncategorized.
func (t *Transaction) CategoryName() string {
	if t.Category == nil || *t.Category == "" {
		return Uncategorized
	}
	return *t.Category
}

// SnapshotRow is the serialized form of a processed transaction kept on the
// statement for audit and for categorization retries.
type SnapshotRow struct {
	Date              string  `json:"date"`
	Merchant          string  `json:"merchant"`
	Description       string  `json:"description"`
	Amount            string  `json:"amount"`
	Currency          string  `json:"currency"`
	Category          string  `json:"category,omitempty"`
	Confidence        float64 `json:"confidence"`
	SuggestedCategory string  `json:"suggested_category,omitempty"`
}
