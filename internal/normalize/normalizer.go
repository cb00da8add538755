// Package normalize turns raw extraction candidates into validated rows:
// dates, amounts and currencies are parsed and boilerplate is rejected.
package normalize

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/statement-ingest/internal/domain"
	"github.com/shopspring/decimal"
)

// ErrSkippedInvalid marks a row-level rejection. The pipeline skips the row
// and continues.
var ErrSkippedInvalid = errors.New("row skipped")

// Skip reasons.
const (
	ReasonInvalidDate     = "invalid_date"
	ReasonInvalidAmount   = "invalid_amount"
	ReasonArtifact        = "artifact"
	ReasonMissingMerchant = "missing_merchant"
	ReasonDuplicate       = "duplicate"
)

// SkipError describes why a candidate was rejected.
type SkipError struct {
	Reason string
	Err    error
}

func (e *SkipError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrSkippedInvalid, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrSkippedInvalid, e.Reason)
}

func (e *SkipError) Is(target error) bool { return target == ErrSkippedInvalid }

func (e *SkipError) Unwrap() error { return e.Err }

// Row is a validated candidate, ready for exclusion and categorization.
type Row struct {
	Date              civil.Date
	Merchant          string
	Description       string
	Amount            decimal.Decimal
	Currency          string
	SuggestedCategory string
	Source            string
}

// Normalizer validates candidates of one statement.
type Normalizer struct {
	BaseCurrency string
	Period       *Period

	// DedupSources lists candidate sources whose exact duplicates are
	// collapsed by NormalizeAll. External-service output repeats rows.
	DedupSources map[string]bool

	now func() time.Time
}

// New creates a Normalizer. period may be nil.
func New(baseCurrency string, period *Period) *Normalizer {
	return &Normalizer{
		BaseCurrency: strings.ToUpper(baseCurrency),
		Period:       period,
		DedupSources: map[string]bool{},
		now:          time.Now,
	}
}

// SetClock replaces the clock used for year inference when no period is known.
func (n *Normalizer) SetClock(now func() time.Time) {
	n.now = now
}

// Normalize validates a single candidate.
func (n *Normalizer) Normalize(c domain.Candidate) (Row, error) {
	description := cleanText(c.Description)
	merchant := cleanText(c.MerchantGuess)
	if merchant == "" {
		merchant = description
	}
	if description == "" {
		description = merchant
	}
	if merchant == "" {
		return Row{}, &SkipError{Reason: ReasonMissingMerchant}
	}
	if IsArtifact(merchant) || IsArtifact(description) {
		return Row{}, &SkipError{Reason: ReasonArtifact}
	}

	date, err := ParseDate(c.DateString, n.Period, n.now())
	if err != nil {
		return Row{}, &SkipError{Reason: ReasonInvalidDate, Err: err}
	}

	amount, err := ParseAmount(c.AmountString)
	if err != nil {
		return Row{}, &SkipError{Reason: ReasonInvalidAmount, Err: err}
	}

	return Row{
		Date:              date,
		Merchant:          merchant,
		Description:       description,
		Amount:            amount,
		Currency:          ResolveCurrency(c.CurrencyHint, description, n.BaseCurrency),
		SuggestedCategory: strings.TrimSpace(c.SuggestedCategory),
		Source:            c.Source,
	}, nil
}

// Result is the outcome of NormalizeAll.
type Result struct {
	Rows    []Row
	Skipped map[string]int
}

// SkippedTotal returns the number of rejected candidates.
func (r Result) SkippedTotal() int {
	total := 0
	for _, n := range r.Skipped {
		total += n
	}
	return total
}

// NormalizeAll validates candidates in order, counting skips by reason.
func (n *Normalizer) NormalizeAll(candidates []domain.Candidate) Result {
	res := Result{Skipped: map[string]int{}}
	seen := make(map[string]bool)

	for _, c := range candidates {
		row, err := n.Normalize(c)
		if err != nil {
			var skip *SkipError
			if errors.As(err, &skip) {
				res.Skipped[skip.Reason]++
			}
			continue
		}

		if n.DedupSources[row.Source] {
			key := row.key()
			if seen[key] {
				res.Skipped[ReasonDuplicate]++
				continue
			}
			seen[key] = true
		}
		res.Rows = append(res.Rows, row)
	}
	return res
}

func (r Row) key() string {
	return strings.Join([]string{r.Date.String(), strings.ToUpper(r.Merchant), r.Amount.StringFixed(2), r.Currency}, "|")
}

func cleanText(s string) string {
	s = strings.ToValidUTF8(s, "")
	return strings.Join(strings.Fields(s), " ")
}
