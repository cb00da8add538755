package sqlite

import (
	"context"
	"fmt"

	"github.com/dvloznov/statement-ingest/internal/domain"
)

// ListCategories returns the user's categories with their keywords, in
// creation order. Keywords keep their insertion order.
func (d *DB) ListCategories(ctx context.Context, userID string) ([]domain.Category, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, user_id, name, is_system, is_ai_seeded
		FROM categories
		WHERE user_id = ?
		ORDER BY created_at, rowid`, userID)
	if err != nil {
		return nil, fmt.Errorf("ListCategories: %w", err)
	}

	var cats []domain.Category
	index := make(map[string]int)
	for rows.Next() {
		var c domain.Category
		var system, seeded int
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &system, &seeded); err != nil {
			rows.Close()
			return nil, fmt.Errorf("ListCategories: scan: %w", err)
		}
		c.IsSystem, c.IsAISeeded = system == 1, seeded == 1
		index[c.ID] = len(cats)
		cats = append(cats, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListCategories: %w", err)
	}

	kwRows, err := d.db.QueryContext(ctx, `
		SELECT k.category_id, k.keyword
		FROM category_keywords k
		JOIN categories c ON c.id = k.category_id
		WHERE c.user_id = ?
		ORDER BY k.category_id, k.position`, userID)
	if err != nil {
		return nil, fmt.Errorf("ListCategories: keywords: %w", err)
	}
	defer kwRows.Close()

	for kwRows.Next() {
		var categoryID, keyword string
		if err := kwRows.Scan(&categoryID, &keyword); err != nil {
			return nil, fmt.Errorf("ListCategories: scan keyword: %w", err)
		}
		if i, ok := index[categoryID]; ok {
			cats[i].Keywords = append(cats[i].Keywords, keyword)
		}
	}
	return cats, kwRows.Err()
}

// CreateCategory inserts a category and its keywords.
func (d *DB) CreateCategory(ctx context.Context, c domain.Category) (err error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("CreateCategory: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO categories (id, user_id, name, is_system, is_ai_seeded, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Name, boolInt(c.IsSystem), boolInt(c.IsAISeeded), formatTime(d.now())); err != nil {
		return fmt.Errorf("CreateCategory: %w", err)
	}
	for i, kw := range c.Keywords {
		if _, err = tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO category_keywords (category_id, keyword, position)
			VALUES (?, ?, ?)`, c.ID, kw, i); err != nil {
			return fmt.Errorf("CreateCategory: keyword %q: %w", kw, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("CreateCategory: commit: %w", err)
	}
	return nil
}

// AddCategoryKeyword appends a keyword to a category of the user.
func (d *DB) AddCategoryKeyword(ctx context.Context, userID, categoryID, keyword string) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO category_keywords (category_id, keyword, position)
		SELECT c.id, ?, COALESCE((SELECT MAX(position) + 1 FROM category_keywords WHERE category_id = c.id), 0)
		FROM categories c
		WHERE c.id = ? AND c.user_id = ?`, keyword, categoryID, userID)
	if err != nil {
		return fmt.Errorf("AddCategoryKeyword: %w", err)
	}
	return nil
}

// RemoveCategoryKeyword deletes a keyword from a category of the user.
func (d *DB) RemoveCategoryKeyword(ctx context.Context, userID, categoryID, keyword string) error {
	_, err := d.db.ExecContext(ctx, `
		DELETE FROM category_keywords
		WHERE category_id = ? AND keyword = ?
		  AND category_id IN (SELECT id FROM categories WHERE user_id = ?)`,
		categoryID, keyword, userID)
	if err != nil {
		return fmt.Errorf("RemoveCategoryKeyword: %w", err)
	}
	return nil
}
