package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/dvloznov/statement-ingest/internal/normalize"
	"github.com/dvloznov/statement-ingest/internal/textnorm"
)

var (
	sectionStartRe = []*regexp.Regexp{
		regexp.MustCompile(`^\s*\d{1,2}[a-z]{3}\s+\d{1,2}[a-z]{3}\b`),
		regexp.MustCompile(`fecha de\s+\|?\s*fecha de`),
		regexp.MustCompile(`saldo anterior`),
		regexp.MustCompile(`^\s*\d{1,2}/\d{1,2}(/\d{2,4})?\s`),
	}
	sectionEnd = []string{
		"subtotal",
		"monto total facturado",
		"detalle plan cuotas",
		"informacion importante",
		"como esta compuesta su deuda",
		"si solo realiza el pago minimo",
	}
)

// transactionSection keeps the lines between transaction-section start and
// end markers. Several sections (one per card holder) are concatenated.
// It returns text unchanged when no start marker is found.
func transactionSection(text string) string {
	var b strings.Builder
	in, found := false, false

	for _, line := range strings.Split(text, "\n") {
		folded := textnorm.Fold(line)
		if in {
			if hasEndMarker(folded) {
				in = false
				continue
			}
			b.WriteString(line)
			b.WriteByte('\n')
			continue
		}
		if hasStartMarker(folded) {
			in, found = true, true
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}

	if !found {
		return text
	}
	return b.String()
}

func hasStartMarker(folded string) bool {
	for _, re := range sectionStartRe {
		if re.MatchString(folded) {
			return true
		}
	}
	return false
}

func hasEndMarker(folded string) bool {
	for _, m := range sectionEnd {
		if strings.Contains(folded, m) {
			return true
		}
	}
	return false
}

// boundInput reduces text to at most limit bytes: first to the transaction
// section, then by cutting at the last line boundary.
func boundInput(text string, limit int) string {
	if limit <= 0 || len(text) <= limit {
		return text
	}
	text = transactionSection(text)
	if len(text) <= limit {
		return text
	}
	cut := text[:limit]
	if idx := strings.LastIndex(cut, "\n"); idx > 0 {
		return cut[:idx]
	}
	// A single oversized line: back off to a rune boundary.
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	return text[:limit]
}

func buildPrompt(text string, period *normalize.Period, categories []string) string {
	var b strings.Builder
	b.WriteString("You are a parser for credit and debit card statements from Latin American banks.\n\n")
	b.WriteString("Task:\n")
	b.WriteString("- Extract ALL purchase transactions (merchant charges) from the statement.\n")
	b.WriteString("- EXCLUDE payments, transfers, reversals, refunds, interest, fees, insurance and balance lines.\n")
	b.WriteString("- Output a JSON array of objects, one per transaction.\n\n")
	b.WriteString("Each object must have these fields:\n")
	b.WriteString("- \"date\": string, ISO format \"YYYY-MM-DD\"\n")
	b.WriteString("- \"merchant\": string, the merchant name without city, country code or store numbers\n")
	b.WriteString("- \"description\": string, the line as printed\n")
	b.WriteString("- \"amount\": number, positive, dot as decimal separator\n")
	b.WriteString("- \"currency\": string, ISO 4217 code (PEN, USD, EUR...)\n")
	b.WriteString("- \"operation_type\": string, the operation column if printed (CONSUMO, PAGO...), else \"\"\n")
	b.WriteString("- \"category\": string, see below\n\n")

	if period != nil {
		b.WriteString("The statement period is " + period.Start.String() + " to " + period.End.String() +
			". Use it to infer the year of dates printed without one.\n\n")
	} else {
		b.WriteString("Infer the year of dates printed without one from the statement header.\n\n")
	}

	if len(categories) > 0 {
		b.WriteString("For \"category\" use EXACTLY one of these names, or \"\" if none fits:\n")
		for _, c := range categories {
			b.WriteString("  - " + c + "\n")
		}
		b.WriteString("\n")
	} else {
		b.WriteString("Leave \"category\" as \"\".\n\n")
	}

	b.WriteString("Return ONLY valid raw JSON.\n")
	b.WriteString("Do NOT wrap the response in code fences.\n")
	b.WriteString("Output must begin with \"[\" and end with \"]\".\n")

	if text != "" {
		b.WriteString("\nSTATEMENT CONTENT:\n")
		b.WriteString(text)
	}
	return b.String()
}
