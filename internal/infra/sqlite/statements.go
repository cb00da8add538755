package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/statement-ingest/internal/domain"
	"github.com/dvloznov/statement-ingest/internal/statement"
)

const statementColumns = `id, user_id, card_id, filename, storage_path, file_kind,
	status, extraction_status, categorization_status,
	extraction_retries, categorization_retries, max_retries,
	error_message, transaction_count, processed_snapshot,
	period_start, period_end, claimed_at, created_at, updated_at`

// CreateStatement inserts a new statement.
func (d *DB) CreateStatement(ctx context.Context, s *domain.Statement) error {
	now := d.now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now

	var snapshot sql.NullString
	if len(s.ProcessedSnapshot) > 0 {
		snapshot = sql.NullString{String: string(s.ProcessedSnapshot), Valid: true}
	}
	var cardID sql.NullString
	if s.CardID != "" {
		cardID = sql.NullString{String: s.CardID, Valid: true}
	}

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO statements (`+statementColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.UserID, cardID, s.Filename, s.StoragePath, string(s.FileKind),
		string(s.Status), string(s.ExtractionStatus), string(s.CategorizationStatus),
		s.ExtractionRetries, s.CategorizationRetries, s.MaxRetries,
		s.ErrorMessage, s.TransactionCount, snapshot,
		nullDate(s.PeriodStart), nullDate(s.PeriodEnd), nullTime(s.ClaimedAt),
		formatTime(s.CreatedAt), formatTime(s.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("CreateStatement: %w", err)
	}
	return nil
}

// GetStatement loads a statement by id.
func (d *DB) GetStatement(ctx context.Context, id string) (*domain.Statement, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+statementColumns+` FROM statements WHERE id = ?`, id)
	s, err := scanStatement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("GetStatement %s: %w", id, statement.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("GetStatement %s: %w", id, err)
	}
	return s, nil
}

// ListStatements returns the user's statements, newest first.
func (d *DB) ListStatements(ctx context.Context, userID string) ([]*domain.Statement, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+statementColumns+` FROM statements
		WHERE user_id = ?
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("ListStatements: %w", err)
	}
	defer rows.Close()

	var out []*domain.Statement
	for rows.Next() {
		s, err := scanStatement(rows)
		if err != nil {
			return nil, fmt.Errorf("ListStatements: scan: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// StatementsByStatus returns up to limit statements in one of statuses,
// oldest first.
func (d *DB) StatementsByStatus(ctx context.Context, statuses []domain.Status, limit int) ([]*domain.Statement, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(statuses)+1)
	for _, st := range statuses {
		args = append(args, string(st))
	}
	args = append(args, limit)

	rows, err := d.db.QueryContext(ctx, `
		SELECT `+statementColumns+` FROM statements
		WHERE status IN (`+placeholders(len(statuses))+`)
		ORDER BY created_at
		LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("StatementsByStatus: %w", err)
	}
	defer rows.Close()

	var out []*domain.Statement
	for rows.Next() {
		s, err := scanStatement(rows)
		if err != nil {
			return nil, fmt.Errorf("StatementsByStatus: scan: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ClaimStatement writes patch only while the statement's status is one of
// from.
func (d *DB) ClaimStatement(ctx context.Context, id string, from []domain.Status, patch domain.StatementPatch) error {
	return claimStatement(ctx, d.db, d.now(), id, from, patch)
}

// UpdateStatement writes patch unconditionally.
func (d *DB) UpdateStatement(ctx context.Context, id string, patch domain.StatementPatch) error {
	sets, args := patchClauses(patch, d.now())
	args = append(args, id)

	res, err := d.db.ExecContext(ctx, `UPDATE statements SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("UpdateStatement %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("UpdateStatement %s: %w", id, statement.ErrNotFound)
	}
	return nil
}

// StaleClaims lists statements claimed before claimedBefore that are still
// in an in-progress status.
func (d *DB) StaleClaims(ctx context.Context, claimedBefore time.Time) ([]*domain.Statement, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+statementColumns+` FROM statements
		WHERE claimed_at IS NOT NULL
		  AND claimed_at < ?
		  AND status IN (?, ?)
		ORDER BY claimed_at`,
		formatTime(claimedBefore), string(domain.StatusExtracting), string(domain.StatusCategorizing))
	if err != nil {
		return nil, fmt.Errorf("StaleClaims: %w", err)
	}
	defer rows.Close()

	var out []*domain.Statement
	for rows.Next() {
		s, err := scanStatement(rows)
		if err != nil {
			return nil, fmt.Errorf("StaleClaims: scan: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func claimStatement(ctx context.Context, db execer, now time.Time, id string, from []domain.Status, patch domain.StatementPatch) error {
	if len(from) == 0 {
		return fmt.Errorf("ClaimStatement %s: no source statuses", id)
	}

	sets, args := patchClauses(patch, now)
	args = append(args, id)
	for _, st := range from {
		args = append(args, string(st))
	}

	res, err := db.ExecContext(ctx,
		`UPDATE statements SET `+strings.Join(sets, ", ")+
			` WHERE id = ? AND status IN (`+placeholders(len(from))+`)`, args...)
	if err != nil {
		return fmt.Errorf("ClaimStatement %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ClaimStatement %s: rows affected: %w", id, err)
	}
	if n == 1 {
		return nil
	}

	var exists int
	err = db.QueryRowContext(ctx, `SELECT 1 FROM statements WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("ClaimStatement %s: %w", id, statement.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("ClaimStatement %s: %w", id, err)
	}
	return fmt.Errorf("ClaimStatement %s: %w", id, statement.ErrAlreadyClaimed)
}

// patchClauses renders the non-nil fields of p as SET clauses. updated_at is
// always set.
func patchClauses(p domain.StatementPatch, now time.Time) ([]string, []any) {
	var sets []string
	var args []any
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}

	if p.Status != nil {
		add("status", string(*p.Status))
	}
	if p.ExtractionStatus != nil {
		add("extraction_status", string(*p.ExtractionStatus))
	}
	if p.CategorizationStatus != nil {
		add("categorization_status", string(*p.CategorizationStatus))
	}
	if p.ExtractionRetries != nil {
		add("extraction_retries", *p.ExtractionRetries)
	}
	if p.CategorizationRetries != nil {
		add("categorization_retries", *p.CategorizationRetries)
	}
	if p.ErrorMessage != nil {
		add("error_message", *p.ErrorMessage)
	}
	if p.TransactionCount != nil {
		add("transaction_count", *p.TransactionCount)
	}
	if p.ProcessedSnapshot != nil {
		add("processed_snapshot", string(p.ProcessedSnapshot))
	}
	if p.CardID != nil {
		add("card_id", *p.CardID)
	}
	if p.PeriodStart != nil {
		add("period_start", p.PeriodStart.String())
	}
	if p.PeriodEnd != nil {
		add("period_end", p.PeriodEnd.String())
	}
	if p.ClaimedAt != nil {
		add("claimed_at", formatTime(*p.ClaimedAt))
	} else if p.ClearClaim {
		add("claimed_at", nil)
	}
	add("updated_at", formatTime(now))
	return sets, args
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStatement(sc scanner) (*domain.Statement, error) {
	var (
		s                                 domain.Statement
		cardID, snapshot                  sql.NullString
		periodStart, periodEnd, claimedAt sql.NullString
		fileKind, status, extSt, catSt    string
		createdAt, updatedAt              string
	)
	if err := sc.Scan(
		&s.ID, &s.UserID, &cardID, &s.Filename, &s.StoragePath, &fileKind,
		&status, &extSt, &catSt,
		&s.ExtractionRetries, &s.CategorizationRetries, &s.MaxRetries,
		&s.ErrorMessage, &s.TransactionCount, &snapshot,
		&periodStart, &periodEnd, &claimedAt, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	s.CardID = cardID.String
	s.FileKind = domain.FileKind(fileKind)
	s.Status = domain.Status(status)
	s.ExtractionStatus = domain.PhaseStatus(extSt)
	s.CategorizationStatus = domain.PhaseStatus(catSt)
	if snapshot.Valid {
		s.ProcessedSnapshot = []byte(snapshot.String)
	}

	var err error
	if s.PeriodStart, err = scanNullDate(periodStart); err != nil {
		return nil, fmt.Errorf("period_start: %w", err)
	}
	if s.PeriodEnd, err = scanNullDate(periodEnd); err != nil {
		return nil, fmt.Errorf("period_end: %w", err)
	}
	if s.ClaimedAt, err = scanNullTime(claimedAt); err != nil {
		return nil, fmt.Errorf("claimed_at: %w", err)
	}
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("created_at: %w", err)
	}
	if s.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("updated_at: %w", err)
	}
	return &s, nil
}

// placeholders returns n comma-separated bind markers.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
