package bigquery

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/statement-ingest/internal/domain"
	"github.com/shopspring/decimal"
	"google.golang.org/api/iterator"
)

type TransactionRow struct {
	TransactionID string `bigquery:"transaction_id"` // REQUIRED

	UserID      string              `bigquery:"user_id"`      // REQUIRED
	CardID      string              `bigquery:"card_id"`      // REQUIRED
	StatementID bigquery.NullString `bigquery:"statement_id"` // NULLABLE

	TransactionDate civil.Date `bigquery:"transaction_date"` // REQUIRED

	Amount   *big.Rat `bigquery:"amount"`   // REQUIRED NUMERIC
	Currency string   `bigquery:"currency"` // REQUIRED STRING

	Merchant       string `bigquery:"merchant"`        // REQUIRED
	RawDescription string `bigquery:"raw_description"` // REQUIRED

	CategoryName bigquery.NullString `bigquery:"category_name"` // NULLABLE
	Confidence   float64             `bigquery:"confidence"`

	CreatedTS time.Time `bigquery:"created_ts"`
}

// ToTransactionRow converts a committed transaction for export.
func ToTransactionRow(tx domain.Transaction) TransactionRow {
	row := TransactionRow{
		TransactionID:   tx.ID,
		UserID:          tx.UserID,
		CardID:          tx.CardID,
		TransactionDate: tx.Date,
		Amount:          tx.Amount.Rat(),
		Currency:        tx.Currency,
		Merchant:        tx.Merchant,
		RawDescription:  tx.Description,
		Confidence:      tx.Confidence,
		CreatedTS:       tx.CreatedAt.UTC(),
	}
	if tx.StatementID != nil {
		row.StatementID = bigquery.NullString{StringVal: *tx.StatementID, Valid: true}
	}
	if tx.Category != nil && *tx.Category != "" {
		row.CategoryName = bigquery.NullString{StringVal: *tx.Category, Valid: true}
	}
	return row
}

// FromTransactionRow is the inverse of ToTransactionRow.
func FromTransactionRow(row TransactionRow) domain.Transaction {
	tx := domain.Transaction{
		ID:          row.TransactionID,
		UserID:      row.UserID,
		CardID:      row.CardID,
		Merchant:    row.Merchant,
		Description: row.RawDescription,
		Currency:    row.Currency,
		Date:        row.TransactionDate,
		Confidence:  row.Confidence,
		CreatedAt:   row.CreatedTS,
	}
	if row.Amount != nil {
		if amount, err := decimal.NewFromString(row.Amount.FloatString(2)); err == nil {
			tx.Amount = amount
		}
	}
	if row.StatementID.Valid {
		id := row.StatementID.StringVal
		tx.StatementID = &id
	}
	if row.CategoryName.Valid {
		name := row.CategoryName.StringVal
		tx.Category = &name
	}
	return tx
}

// ExportTransactionsWithClient streams transactions into the transactions table.
func ExportTransactionsWithClient(ctx context.Context, client *bigquery.Client, datasetID string, txs []domain.Transaction) error {
	if len(txs) == 0 {
		return nil
	}

	rows := make([]*TransactionRow, 0, len(txs))
	for _, tx := range txs {
		row := ToTransactionRow(tx)
		rows = append(rows, &row)
	}

	inserter := client.Dataset(datasetID).Table(transactionsTable).Inserter()
	if err := inserter.Put(ctx, rows); err != nil {
		return fmt.Errorf("ExportTransactions: inserting %d rows: %w", len(rows), err)
	}
	return nil
}

// QueryTransactionsByDateRange returns a user's exported transactions with
// transaction_date in [start, end], oldest first.
func (a *Auditor) QueryTransactionsByDateRange(ctx context.Context, userID string, start, end civil.Date) ([]domain.Transaction, error) {
	return QueryTransactionsByDateRangeWithClient(ctx, a.client, a.datasetID, userID, start, end)
}

// QueryTransactionsByDateRangeWithClient is QueryTransactionsByDateRange with
// an explicit client.
func QueryTransactionsByDateRangeWithClient(ctx context.Context, client *bigquery.Client, datasetID, userID string, start, end civil.Date) ([]domain.Transaction, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT *
		FROM %s.%s
		WHERE user_id = @user_id
		  AND transaction_date BETWEEN @start_date AND @end_date
		ORDER BY transaction_date, created_ts
	`, datasetID, transactionsTable))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
		{Name: "start_date", Value: start},
		{Name: "end_date", Value: end},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("QueryTransactionsByDateRange: running query: %w", err)
	}

	var txs []domain.Transaction
	for {
		var row TransactionRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("QueryTransactionsByDateRange: reading row: %w", err)
		}
		txs = append(txs, FromTransactionRow(row))
	}

	return txs, nil
}
