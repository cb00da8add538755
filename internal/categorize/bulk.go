package categorize

import (
	"github.com/dvloznov/statement-ingest/internal/domain"
	"github.com/dvloznov/statement-ingest/internal/normalize"
)

// Stats counts the outcome of a bulk run.
type Stats struct {
	Total         int `json:"total"`
	Categorized   int `json:"categorized"`
	Uncategorized int `json:"uncategorized"`
	FromSuggested int `json:"from_suggested"`
}

// Bulk assigns a category to every row, in order.
func (e *Engine) Bulk(categories []domain.Category, rows []normalize.Row) ([]Assignment, Stats) {
	out := make([]Assignment, len(rows))
	stats := Stats{Total: len(rows)}

	for i, r := range rows {
		a := e.Assign(categories, r.Merchant, r.Description, r.SuggestedCategory)
		out[i] = a

		switch a.Source {
		case SourceKeyword:
			stats.Categorized++
		case SourceSuggested:
			stats.Categorized++
			stats.FromSuggested++
		default:
			stats.Uncategorized++
		}
	}
	return out, stats
}
