package pipeline

import (
	"encoding/json"
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/statement-ingest/internal/domain"
	"github.com/dvloznov/statement-ingest/internal/normalize"
	"github.com/shopspring/decimal"
)

// encodeRows snapshots extracted rows before categorization.
func encodeRows(rows []normalize.Row) ([]byte, error) {
	out := make([]domain.SnapshotRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.SnapshotRow{
			Date:              r.Date.String(),
			Merchant:          r.Merchant,
			Description:       r.Description,
			Amount:            r.Amount.StringFixed(2),
			Currency:          r.Currency,
			SuggestedCategory: r.SuggestedCategory,
		})
	}
	return json.Marshal(out)
}

// encodeTransactions snapshots committed transactions.
func encodeTransactions(txs []domain.Transaction) ([]byte, error) {
	out := make([]domain.SnapshotRow, 0, len(txs))
	for i := range txs {
		tx := &txs[i]
		out = append(out, domain.SnapshotRow{
			Date:        tx.Date.String(),
			Merchant:    tx.Merchant,
			Description: tx.Description,
			Amount:      tx.Amount.StringFixed(2),
			Currency:    tx.Currency,
			Category:    tx.CategoryName(),
			Confidence:  tx.Confidence,
		})
	}
	return json.Marshal(out)
}

// decodeRows restores the rows a categorization retry starts from.
func decodeRows(snapshot []byte) ([]normalize.Row, error) {
	if len(snapshot) == 0 {
		return nil, fmt.Errorf("statement has no extracted snapshot")
	}
	var in []domain.SnapshotRow
	if err := json.Unmarshal(snapshot, &in); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	rows := make([]normalize.Row, 0, len(in))
	for i, r := range in {
		date, err := civil.ParseDate(r.Date)
		if err != nil {
			return nil, fmt.Errorf("snapshot row %d: %w", i, err)
		}
		amount, err := decimal.NewFromString(r.Amount)
		if err != nil {
			return nil, fmt.Errorf("snapshot row %d: %w", i, err)
		}
		rows = append(rows, normalize.Row{
			Date:              date,
			Merchant:          r.Merchant,
			Description:       r.Description,
			Amount:            amount,
			Currency:          r.Currency,
			SuggestedCategory: r.SuggestedCategory,
		})
	}
	return rows, nil
}
