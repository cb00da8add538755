package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// maxRepairAttempts bounds how many rewrites of a malformed response are tried.
const maxRepairAttempts = 3

// thousandsAmountRe finds unquoted amounts written with thousands commas,
// which are not valid JSON numbers.
var thousandsAmountRe = regexp.MustCompile(`("amount"\s*:\s*)(\d{1,3}(?:,\d{3})+(?:\.\d+)?)`)

var errNoJSONArray = errors.New("no JSON array in model response")

// modelTransaction is one element of the model's JSON array.
type modelTransaction struct {
	Date          string     `json:"date"`
	Merchant      string     `json:"merchant"`
	Description   string     `json:"description"`
	Amount        flexString `json:"amount"`
	Currency      string     `json:"currency"`
	OperationType string     `json:"operation_type"`
	Category      string     `json:"category"`
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(b)
	return nil
}

// cleanModelJSON strips Markdown fences and isolates the outer array. When
// the closing bracket is missing (truncated output) everything from the
// first '[' is kept.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	start := strings.Index(s, "[")
	if start == -1 {
		return s
	}
	if end := strings.LastIndex(s, "]"); end > start {
		return strings.TrimSpace(s[start : end+1])
	}
	return strings.TrimSpace(s[start:])
}

// quoteThousands rewrites "amount": 1,234.50 as "amount": "1,234.50".
func quoteThousands(s string) string {
	return thousandsAmountRe.ReplaceAllString(s, `$1"$2"`)
}

// closeTruncated keeps the complete objects of a truncated array and closes
// it, dropping any trailing partial object.
func closeTruncated(s string) string {
	depth := 0
	inString, escaped := false, false
	lastComplete := -1

	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '[', '{':
			depth++
		case ']', '}':
			depth--
			if ch == '}' && depth == 1 {
				lastComplete = i
			}
		}
	}

	if lastComplete == -1 {
		return "[]"
	}
	return s[:lastComplete+1] + "]"
}

// decodeTransactions parses a model response, trying a bounded series of
// repairs before giving up.
func decodeTransactions(raw string) ([]modelTransaction, error) {
	cleaned := cleanModelJSON(raw)
	if !strings.HasPrefix(cleaned, "[") {
		return nil, errNoJSONArray
	}

	repairs := []func(string) string{
		func(s string) string { return s },
		quoteThousands,
		func(s string) string { return closeTruncated(quoteThousands(s)) },
	}

	var lastErr error
	for i, repair := range repairs[:maxRepairAttempts] {
		var items []modelTransaction
		err := json.Unmarshal([]byte(repair(cleaned)), &items)
		if err == nil {
			return items, nil
		}
		lastErr = fmt.Errorf("attempt %d: %w", i+1, err)
	}
	return nil, fmt.Errorf("decode model response: %w", lastErr)
}
