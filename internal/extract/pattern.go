package extract

import (
	"context"
	"regexp"
	"strings"

	"github.com/dvloznov/statement-ingest/internal/domain"
	"github.com/dvloznov/statement-ingest/internal/normalize"
	"github.com/dvloznov/statement-ingest/internal/reader"
)

// operationTokens are the operation-type columns of the card statement
// layout. Purchases are CONSUMO and COMPRA; the rest are matched only so
// that they can be dropped.
const operationTokens = `CONSUMO|COMPRA|PAGO|CARGO|ABONO|EXTORNO|DEVOLUCION|INTERESES|INTERES|COMISIONES|COMISION|SEGURO|DESGRAVAMEN|MEMBRESIA|PENALIDAD|TRANSFERENCIA|REVERSO`

const (
	dateToken   = `(\d{1,2}[A-Za-z]{3})`
	amountToken = `([\d,]+(?:\.\d+)?-?)`
)

var (
	// 03May 12May DLC*RAPPI PERU LIMA PE CONSUMO 17.50
	datePairRe = regexp.MustCompile(`^` + dateToken + `\s+` + dateToken + `\s+(.+?)\s+(` + operationTokens + `)\s+` + amountToken + `(?:\s|$)`)
	// 12May DLC*RAPPI PERU LIMA PE CONSUMO 17.50
	singleDateRe = regexp.MustCompile(`^` + dateToken + `\s+(.+?)\s+(` + operationTokens + `)\s+` + amountToken + `(?:\s|$)`)
	// COOLBOX T76 LIMA PE CONSUMO 29.90 12May 09May
	trailingDatesRe = regexp.MustCompile(`^(.+?)\s+(` + operationTokens + `)\s+` + amountToken + `\s+` + dateToken + `(?:\s+` + dateToken + `)?\s*$`)
	// 23MAY 22MAY APPLE.COM/BILL 866-712-7753 CA 9.77
	noOperationRe = regexp.MustCompile(`^` + dateToken + `\s+` + dateToken + `\s+(.+?)\s+(\d[\d,]*\.\d{2}-?)\s*$`)

	locationSuffixRe = regexp.MustCompile(`\s+[A-Z]{2}$`)
	phoneSuffixRe    = regexp.MustCompile(`\s+[\d-]{7,}$`)
	spacesRe         = regexp.MustCompile(`\s+`)
)

// cities are location words printed after the merchant name.
var cities = []string{
	"SAN ISIDRO", "SAN BORJA", "SAN MIGUEL", "LOS OLIVOS", "LA MOLINA",
	"JESUS MARIA", "MAGDALENA", "MIRAFLORES", "BARRANCO", "SURQUILLO",
	"SURCO", "INDEPENDENCIA", "CALLAO", "AREQUIPA", "TRUJILLO", "CHICLAYO",
	"CUSCO", "PIURA", "LIMA",
}

// PatternStrategy matches one line per transaction in the layout of Peruvian
// credit card statements: process and consumption dates, description,
// operation type and amount.
type PatternStrategy struct{}

// NewPatternStrategy creates a PatternStrategy.
func NewPatternStrategy() *PatternStrategy { return &PatternStrategy{} }

func (s *PatternStrategy) Name() string { return SourcePattern }

// Extract scans every line of the document.
func (s *PatternStrategy) Extract(ctx context.Context, in Input) ([]domain.Candidate, error) {
	if in.Document == nil {
		return nil, ErrNoTransactionsFound
	}

	var out []domain.Candidate
	for _, line := range in.Document.Lines() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c, ok := MatchLine(line)
		if !ok {
			continue
		}
		out = append(out, c)
	}

	if len(out) == 0 {
		return nil, ErrNoTransactionsFound
	}
	return out, nil
}

// MatchLine parses a single statement line. It reports false for lines that
// are not purchases.
func MatchLine(line string) (domain.Candidate, bool) {
	line = flatten(line)
	if line == "" {
		return domain.Candidate{}, false
	}

	var date, description, operation, amount string
	if m := datePairRe.FindStringSubmatch(line); m != nil && isDate(m[1]) && isDate(m[2]) {
		date, description, operation, amount = m[2], m[3], m[4], m[5]
	} else if m := singleDateRe.FindStringSubmatch(line); m != nil && isDate(m[1]) {
		date, description, operation, amount = m[1], m[2], m[3], m[4]
	} else if m := trailingDatesRe.FindStringSubmatch(line); m != nil && isDate(m[4]) {
		date = m[4]
		if m[5] != "" && isDate(m[5]) {
			date = m[5]
		}
		description, operation, amount = m[1], m[2], m[3]
	} else if m := noOperationRe.FindStringSubmatch(line); m != nil && isDate(m[1]) && isDate(m[2]) {
		date, description, operation, amount = m[2], m[3], "CONSUMO", m[4]
	} else {
		return domain.Candidate{}, false
	}

	// A trailing minus marks a payment or reversal.
	if strings.HasSuffix(amount, "-") {
		return domain.Candidate{}, false
	}
	description = strings.TrimSpace(description)
	if IsNonPurchase(operation, description) {
		return domain.Candidate{}, false
	}

	return domain.Candidate{
		DateString:    date,
		Description:   description,
		MerchantGuess: MerchantGuess(description),
		AmountString:  amount,
		OperationType: operation,
		Source:        SourcePattern,
	}, true
}

// MerchantGuess strips the location suffix (country code, phone number and
// one known city name) from a statement description.
func MerchantGuess(description string) string {
	m := stripCodes(strings.TrimSpace(description))
	upper := strings.ToUpper(m)
	for _, city := range cities {
		if strings.HasSuffix(upper, " "+city) {
			m = stripCodes(strings.TrimSpace(m[:len(m)-len(city)]))
			break
		}
	}
	if m == "" {
		return strings.TrimSpace(description)
	}
	return m
}

func stripCodes(s string) string {
	for {
		next := phoneSuffixRe.ReplaceAllString(locationSuffixRe.ReplaceAllString(s, ""), "")
		if next == s {
			return s
		}
		s = next
	}
}

func flatten(line string) string {
	line = strings.ReplaceAll(line, reader.CellSeparator, " ")
	return strings.TrimSpace(spacesRe.ReplaceAllString(line, " "))
}

func isDate(token string) bool {
	return len(token) >= 4 && normalize.IsMonthAbbreviation(token[len(token)-3:])
}
