package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/dvloznov/statement-ingest/internal/domain"
	"github.com/dvloznov/statement-ingest/internal/exclusion"
)

// ListExcludedKeywords returns the user's excluded keywords.
func (d *DB) ListExcludedKeywords(ctx context.Context, userID string) ([]domain.ExcludedKeyword, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, user_id, keyword, normalized, created_at
		FROM excluded_keywords
		WHERE user_id = ?
		ORDER BY created_at, rowid`, userID)
	if err != nil {
		return nil, fmt.Errorf("ListExcludedKeywords: %w", err)
	}
	defer rows.Close()

	var out []domain.ExcludedKeyword
	for rows.Next() {
		var k domain.ExcludedKeyword
		var created string
		if err := rows.Scan(&k.ID, &k.UserID, &k.Keyword, &k.Normalized, &created); err != nil {
			return nil, fmt.Errorf("ListExcludedKeywords: scan: %w", err)
		}
		if k.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("ListExcludedKeywords: created_at: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// AddExcludedKeyword inserts a keyword. A second keyword with the same
// normalized form returns exclusion.ErrDuplicateKeyword.
func (d *DB) AddExcludedKeyword(ctx context.Context, kw domain.ExcludedKeyword) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO excluded_keywords (id, user_id, keyword, normalized, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		kw.ID, kw.UserID, kw.Keyword, kw.Normalized, formatTime(kw.CreatedAt))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("AddExcludedKeyword %q: %w", kw.Keyword, exclusion.ErrDuplicateKeyword)
		}
		return fmt.Errorf("AddExcludedKeyword: %w", err)
	}
	return nil
}

// DeleteExcludedKeyword removes a keyword of the user.
func (d *DB) DeleteExcludedKeyword(ctx context.Context, userID, id string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM excluded_keywords WHERE id = ? AND user_id = ?`, id, userID); err != nil {
		return fmt.Errorf("DeleteExcludedKeyword: %w", err)
	}
	return nil
}
