package normalize

import (
	"regexp"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

var (
	// "Periodo de facturación: 20/04/2024 al 19/05/2024", "Del 01/04/2024 - 30/04/2024"
	periodRangeRe = regexp.MustCompile(`(?i)(\d{1,2}[/\-.]\d{1,2}[/\-.]\d{2,4})\s*(?:al|a|hasta|to|-)\s*(\d{1,2}[/\-.]\d{1,2}[/\-.]\d{2,4})`)
	// "Fecha de cierre 19/05/2024", "Fecha de corte: 19/05/2024"
	closingDateRe = regexp.MustCompile(`(?i)fecha\s+de\s+(?:cierre|corte|facturaci[oó]n)\s*:?\s*(\d{1,2}[/\-.]\d{1,2}[/\-.]\d{2,4})`)
)

// headerWindow bounds how much of the document is searched for the period;
// it is printed in the first-page header.
const headerWindow = 4000

// DetectPeriod finds the statement period in the document header. A closing
// date alone yields the month ending on it. The second result is false when
// nothing usable is found.
func DetectPeriod(text string) (Period, bool) {
	head := text
	if len(head) > headerWindow {
		head = head[:headerWindow]
	}
	head = strings.ReplaceAll(head, " | ", " ")

	if m := periodRangeRe.FindStringSubmatch(head); m != nil {
		start, err1 := ParseDate(m[1], nil, time.Time{})
		end, err2 := ParseDate(m[2], nil, time.Time{})
		if err1 == nil && err2 == nil && !end.Before(start) {
			return Period{Start: start, End: end}, true
		}
	}

	if m := closingDateRe.FindStringSubmatch(head); m != nil {
		end, err := ParseDate(m[1], nil, time.Time{})
		if err == nil {
			start := civil.DateOf(end.In(time.UTC).AddDate(0, -1, 1))
			return Period{Start: start, End: end}, true
		}
	}

	return Period{}, false
}
