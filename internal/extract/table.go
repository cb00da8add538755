package extract

import (
	"context"
	"strings"

	"github.com/dvloznov/statement-ingest/internal/domain"
	"github.com/dvloznov/statement-ingest/internal/textnorm"
)

// SourceTable marks candidates read from CSV columns.
const SourceTable = "table"

// column headers, folded.
var (
	dateHeaders        = []string{"fecha de consumo", "fecha consumo", "fecha", "date", "transaction date", "data"}
	descriptionHeaders = []string{"descripcion", "description", "comercio", "concepto", "detalle", "merchant", "descricao"}
	amountHeaders      = []string{"monto", "importe", "amount", "valor", "cargo", "debit"}
	currencyHeaders    = []string{"moneda", "currency", "divisa"}
	operationHeaders   = []string{"tipo", "tipo de operacion", "operacion", "type"}
	categoryHeaders    = []string{"categoria", "category"}
)

type columns struct {
	date, description, amount, currency, operation, category int
}

// TableStrategy maps CSV columns to candidates using the header row.
type TableStrategy struct{}

// NewTableStrategy creates a TableStrategy.
func NewTableStrategy() *TableStrategy { return &TableStrategy{} }

func (s *TableStrategy) Name() string { return SourceTable }

// Extract finds the header row and reads every following row.
func (s *TableStrategy) Extract(ctx context.Context, in Input) ([]domain.Candidate, error) {
	if in.Document == nil || len(in.Document.Rows) == 0 {
		return nil, ErrNoTransactionsFound
	}

	rows := in.Document.Rows
	headerAt, cols, ok := findHeader(rows)
	if !ok {
		return nil, ErrNoTransactionsFound
	}

	var out []domain.Candidate
	for _, row := range rows[headerAt+1:] {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c, ok := cols.candidate(row)
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

func findHeader(rows [][]string) (int, columns, bool) {
	for i, row := range rows {
		cols := columns{date: -1, description: -1, amount: -1, currency: -1, operation: -1, category: -1}
		for j, cell := range row {
			h := strings.TrimSpace(textnorm.Fold(cell))
			switch {
			case cols.date < 0 && oneOf(h, dateHeaders):
				cols.date = j
			case cols.description < 0 && oneOf(h, descriptionHeaders):
				cols.description = j
			case cols.amount < 0 && oneOf(h, amountHeaders):
				cols.amount = j
			case cols.currency < 0 && oneOf(h, currencyHeaders):
				cols.currency = j
			case cols.operation < 0 && oneOf(h, operationHeaders):
				cols.operation = j
			case cols.category < 0 && oneOf(h, categoryHeaders):
				cols.category = j
			}
		}
		if cols.date >= 0 && cols.description >= 0 && cols.amount >= 0 {
			return i, cols, true
		}
	}
	return 0, columns{}, false
}

func (c columns) candidate(row []string) (domain.Candidate, bool) {
	cell := func(i int) string {
		if i < 0 || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	amount := cell(c.amount)
	description := cell(c.description)
	operation := cell(c.operation)
	if cell(c.date) == "" || description == "" || amount == "" {
		return domain.Candidate{}, false
	}
	// Negative amounts are credits to the card.
	if strings.HasPrefix(amount, "-") || strings.HasSuffix(amount, "-") || strings.HasPrefix(amount, "(") {
		return domain.Candidate{}, false
	}
	if IsNonPurchase(operation, description) {
		return domain.Candidate{}, false
	}

	return domain.Candidate{
		DateString:        cell(c.date),
		Description:       description,
		MerchantGuess:     MerchantGuess(description),
		AmountString:      amount,
		CurrencyHint:      cell(c.currency),
		OperationType:     operation,
		SuggestedCategory: cell(c.category),
		Source:            SourceTable,
	}, true
}

func oneOf(s string, options []string) bool {
	for _, o := range options {
		if s == o {
			return true
		}
	}
	return false
}
