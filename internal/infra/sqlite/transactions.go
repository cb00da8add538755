package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/statement-ingest/internal/domain"
)

// ReplaceStatementTransactions atomically deletes the transactions of an
// earlier run of the statement, inserts txs and applies patch with a
// compare-and-swap on from. Nothing is written if any step fails.
func (d *DB) ReplaceStatementTransactions(ctx context.Context, statementID string, txs []domain.Transaction, from []domain.Status, patch domain.StatementPatch) (err error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ReplaceStatementTransactions: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM transactions WHERE statement_id = ?`, statementID); err != nil {
		return fmt.Errorf("ReplaceStatementTransactions: delete previous: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO transactions (
			id, user_id, card_id, statement_id, merchant, description,
			amount, currency, date, category, confidence, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("ReplaceStatementTransactions: prepare insert: %w", err)
	}
	defer stmt.Close()

	now := d.now()
	for _, t := range txs {
		created := t.CreatedAt
		if created.IsZero() {
			created = now
		}
		if _, err = stmt.ExecContext(ctx,
			t.ID, t.UserID, t.CardID, nullString(t.StatementID), t.Merchant, t.Description,
			t.Amount.StringFixed(2), t.Currency, t.Date.String(), nullString(t.Category), t.Confidence,
			formatTime(created),
		); err != nil {
			return fmt.Errorf("ReplaceStatementTransactions: insert %s: %w", t.ID, err)
		}
	}

	if err = claimStatement(ctx, tx, now, statementID, from, patch); err != nil {
		return fmt.Errorf("ReplaceStatementTransactions: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("ReplaceStatementTransactions: commit: %w", err)
	}
	return nil
}

// ListTransactions returns the transactions of a statement ordered by date.
func (d *DB) ListTransactions(ctx context.Context, statementID string) ([]domain.Transaction, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, user_id, card_id, statement_id, merchant, description,
		       amount, currency, date, category, confidence, created_at
		FROM transactions
		WHERE statement_id = ?
		ORDER BY date, rowid`, statementID)
	if err != nil {
		return nil, fmt.Errorf("ListTransactions: %w", err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		var (
			t                       domain.Transaction
			stID, category          sql.NullString
			amount, date, createdAt string
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.CardID, &stID, &t.Merchant, &t.Description,
			&amount, &t.Currency, &date, &category, &t.Confidence, &createdAt); err != nil {
			return nil, fmt.Errorf("ListTransactions: scan: %w", err)
		}
		if stID.Valid {
			id := stID.String
			t.StatementID = &id
		}
		if category.Valid {
			c := category.String
			t.Category = &c
		}
		if t.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("ListTransactions: amount %q: %w", amount, err)
		}
		if t.Date, err = civil.ParseDate(date); err != nil {
			return nil, fmt.Errorf("ListTransactions: date %q: %w", date, err)
		}
		if t.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("ListTransactions: created_at: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
