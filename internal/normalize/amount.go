package normalize

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	commaThousandsRe = regexp.MustCompile(`^[1-9]\d{0,2}(,\d{3})+$`)
	dotThousandsRe   = regexp.MustCompile(`^[1-9]\d{0,2}(\.\d{3})+$`)
)

// ParseAmount parses a positive monetary amount written with either decimal
// convention ("1,234.56", "1.234,56", "17,50", "S/ 17.50"). The separator
// that appears last is the decimal separator; a lone comma or dot followed by
// exactly three-digit groups is a thousands separator. Negative, zero,
// unparsable and sub-cent amounts are rejected.
func ParseAmount(s string) (decimal.Decimal, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}
	if strings.HasPrefix(raw, "-") || strings.HasSuffix(raw, "-") ||
		(strings.HasPrefix(raw, "(") && strings.HasSuffix(raw, ")")) {
		return decimal.Zero, fmt.Errorf("non-positive amount %q", s)
	}

	var b strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == ',' || r == '.' {
			b.WriteRune(r)
		}
	}
	// Separators left over from symbols such as "S/." are not part of the number.
	num := strings.Trim(b.String(), ".,")
	if num == "" {
		return decimal.Zero, fmt.Errorf("no digits in amount %q", s)
	}

	lastComma := strings.LastIndex(num, ",")
	lastDot := strings.LastIndex(num, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			num = strings.ReplaceAll(num, ".", "")
			num = strings.Replace(num, ",", ".", 1)
		} else {
			num = strings.ReplaceAll(num, ",", "")
		}
	case lastComma >= 0:
		if commaThousandsRe.MatchString(num) {
			num = strings.ReplaceAll(num, ",", "")
		} else {
			num = strings.Replace(num, ",", ".", 1)
		}
	case lastDot >= 0:
		if dotThousandsRe.MatchString(num) {
			num = strings.ReplaceAll(num, ".", "")
		}
	}

	amount, err := decimal.NewFromString(num)
	if err != nil {
		return decimal.Zero, fmt.Errorf("unparsable amount %q: %w", s, err)
	}
	if amount.Exponent() < -2 && !amount.Equal(amount.Round(2)) {
		return decimal.Zero, fmt.Errorf("amount %q has more than two decimal places", s)
	}
	amount = amount.Round(2)
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("non-positive amount %q", s)
	}
	return amount, nil
}
