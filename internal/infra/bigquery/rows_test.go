package bigquery

import (
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/statement-ingest/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToExtractionRunRow(t *testing.T) {
	started := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	run := domain.ExtractionRun{
		ID:           "run-1",
		StatementID:  "st-1",
		UserID:       "u-1",
		Strategy:     "gemini",
		StartedAt:    started,
		FinishedAt:   started.Add(1500 * time.Millisecond),
		Status:       domain.RunFailed,
		Error:        strings.Repeat("x", 2500),
		Candidates:   10,
		Accepted:     7,
		Skipped:      map[string]int{"invalid_date": 3},
		PromptTokens: 1200,
		OutputTokens: 300,
	}

	row := ToExtractionRunRow(run)

	assert.Equal(t, "run-1", row.RunID)
	assert.Equal(t, int64(1500), row.DurationMS)
	assert.Len(t, row.ErrorMessage, 2000)
	assert.Equal(t, int64(7), row.Accepted)
	assert.JSONEq(t, `{"invalid_date":3}`, row.SkippedJSON)
}

func TestToExtractionRunRow_EmptySkipped(t *testing.T) {
	row := ToExtractionRunRow(domain.ExtractionRun{ID: "r", Status: domain.RunSucceeded})
	assert.Equal(t, "{}", row.SkippedJSON)
	assert.Empty(t, row.ErrorMessage)
}

func TestToModelOutputRow(t *testing.T) {
	row := ToModelOutputRow(domain.ExtractionRun{ID: "r", StatementID: "s", ModelName: "m", RawOutput: `[{"date":"01/02"}]`})
	assert.True(t, row.RawJSON.Valid)
	assert.NotEmpty(t, row.OutputID)

	row = ToModelOutputRow(domain.ExtractionRun{ID: "r", RawOutput: "```json\n[{\"date\": "})
	assert.False(t, row.RawJSON.Valid)
	assert.Contains(t, row.RawText, "```json")
}

func TestTransactionRowRoundTrip(t *testing.T) {
	statementID := "st-1"
	category := "Comida"
	tx := domain.Transaction{
		ID:          "tx-1",
		UserID:      "u-1",
		CardID:      "card-1",
		StatementID: &statementID,
		Merchant:    "RAPPI",
		Description: "RAPPI LIMA PE",
		Amount:      decimal.RequireFromString("1234.50"),
		Currency:    "PEN",
		Date:        civil.Date{Year: 2024, Month: 2, Day: 14},
		Category:    &category,
		Confidence:  0.8,
		CreatedAt:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}

	row := ToTransactionRow(tx)
	require.NotNil(t, row.Amount)
	assert.Equal(t, "1234.50", row.Amount.FloatString(2))
	assert.True(t, row.StatementID.Valid)
	assert.Equal(t, "Comida", row.CategoryName.StringVal)

	back := FromTransactionRow(row)
	assert.True(t, tx.Amount.Equal(back.Amount))
	assert.Equal(t, tx.Date, back.Date)
	require.NotNil(t, back.Category)
	assert.Equal(t, "Comida", *back.Category)
}

func TestToTransactionRow_Uncategorized(t *testing.T) {
	row := ToTransactionRow(domain.Transaction{ID: "tx", Amount: decimal.NewFromInt(5)})
	assert.False(t, row.CategoryName.Valid)
	assert.False(t, row.StatementID.Valid)
}
