// Package categorize assigns categories to transactions by matching the
// user's keyword lists against the merchant and description.
package categorize

import (
	"strings"
	"unicode/utf8"

	"github.com/dvloznov/statement-ingest/internal/domain"
	"github.com/dvloznov/statement-ingest/internal/textnorm"
)

// SuggestedConfidence is the confidence of a category taken from the
// external-service suggestion when no keyword matched.
const SuggestedConfidence = 0.05

// Scoring weights.
const (
	multiMatchBonus  = 0.1
	longKeywordBonus = 0.05
	longKeywordLen   = 5
)

// Source tells how a category was chosen.
type Source string

const (
	SourceKeyword   Source = "keyword"
	SourceSuggested Source = "suggested"
	SourceNone      Source = "none"
)

// Match is the winning category for one transaction.
type Match struct {
	Category        string
	CategoryID      string
	Confidence      float64
	MatchedKeywords []string
}

// Engine scores categories against transactions. It holds no state and is
// safe for concurrent use.
type Engine struct{}

// NewEngine creates an Engine.
func NewEngine() *Engine { return &Engine{} }

// Categorize returns the best keyword match for merchant and description.
// The second result is false when no category has a matching keyword.
//
// For a category with t keywords of which m match, the confidence is
// min(1, m/t + 0.1*max(0, m-1) + 0.05*(matched keywords longer than 5)).
// The highest confidence wins; ties go to the category listed first.
func (e *Engine) Categorize(categories []domain.Category, merchant, description string) (Match, bool) {
	text := textnorm.Compact(merchant + " " + description)
	if text == "" {
		return Match{}, false
	}

	var best Match
	found := false
	for _, c := range categories {
		keywords := compactKeywords(c.Keywords)
		if len(keywords) == 0 {
			continue
		}

		var matched []string
		long := 0
		for _, k := range keywords {
			if strings.Contains(text, k) {
				matched = append(matched, k)
				if utf8.RuneCountInString(k) > longKeywordLen {
					long++
				}
			}
		}
		if len(matched) == 0 {
			continue
		}

		confidence := float64(len(matched)) / float64(len(keywords))
		if len(matched) > 1 {
			confidence += multiMatchBonus * float64(len(matched)-1)
		}
		confidence += longKeywordBonus * float64(long)
		if confidence > 1 {
			confidence = 1
		}

		if !found || confidence > best.Confidence {
			best = Match{
				Category:        c.Name,
				CategoryID:      c.ID,
				Confidence:      confidence,
				MatchedKeywords: matched,
			}
			found = true
		}
	}
	return best, found
}

// compactKeywords normalizes keywords like the comparison text and drops
// empties and duplicates.
func compactKeywords(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, k := range raw {
		c := textnorm.Compact(k)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// Assignment is the category given to one transaction.
type Assignment struct {
	Category        string
	Confidence      float64
	Source          Source
	MatchedKeywords []string
}

// Assign categorizes one transaction, falling back to the suggested category
// when it names one of the user's categories, and to domain.Uncategorized
// with confidence 0 otherwise.
func (e *Engine) Assign(categories []domain.Category, merchant, description, suggested string) Assignment {
	if m, ok := e.Categorize(categories, merchant, description); ok {
		return Assignment{
			Category:        m.Category,
			Confidence:      m.Confidence,
			Source:          SourceKeyword,
			MatchedKeywords: m.MatchedKeywords,
		}
	}

	if name, ok := lookupCategory(categories, suggested); ok {
		return Assignment{Category: name, Confidence: SuggestedConfidence, Source: SourceSuggested}
	}

	return Assignment{Category: domain.Uncategorized, Confidence: 0, Source: SourceNone}
}

func lookupCategory(categories []domain.Category, name string) (string, bool) {
	want := textnorm.Fold(strings.TrimSpace(name))
	if want == "" || want == textnorm.Fold(domain.Uncategorized) {
		return "", false
	}
	for _, c := range categories {
		if textnorm.Fold(c.Name) == want {
			return c.Name, true
		}
	}
	return "", false
}
