package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// monthAbbreviations maps lowercase three-letter month names to month numbers.
// Spanish first (Set is the Peruvian spelling of September), then English and
// Portuguese forms that do not collide.
var monthAbbreviations = map[string]time.Month{
	"ene": time.January, "feb": time.February, "mar": time.March, "abr": time.April,
	"may": time.May, "jun": time.June, "jul": time.July, "ago": time.August,
	"set": time.September, "sep": time.September, "oct": time.October,
	"nov": time.November, "dic": time.December,

	"jan": time.January, "apr": time.April, "aug": time.August, "dec": time.December,
	"fev": time.February, "mai": time.May, "out": time.October, "dez": time.December,
}

var (
	dayMonthRe = regexp.MustCompile(`^(\d{1,2})[\s\-/.]*([A-Za-z]{3})[A-Za-z]*\.?(?:[\s\-/.]*(\d{4}|\d{2}))?$`)
	numericRe  = regexp.MustCompile(`^(\d{1,2})[/\-.](\d{1,2})[/\-.](\d{4}|\d{2})$`)
	isoRe      = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})`)
	compactRe  = regexp.MustCompile(`^(\d{4})(\d{2})(\d{2})$`)
)

// Period is the date range a statement covers.
type Period struct {
	Start civil.Date
	End   civil.Date
}

// Contains reports whether d falls inside the period, bounds included.
func (p Period) Contains(d civil.Date) bool {
	return !d.Before(p.Start) && !d.After(p.End)
}

// ParseDate parses ISO (YYYY-MM-DD), numeric day-first (DD/MM/YYYY) and
// abbreviated month (12May, 12 Abr 2024) dates. When the input has no year it
// is inferred from period, or from now when period is nil. Unparsable or
// impossible dates are an error; callers drop the row.
func ParseDate(s string, period *Period, now time.Time) (civil.Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return civil.Date{}, fmt.Errorf("empty date")
	}

	if m := isoRe.FindStringSubmatch(s); m != nil {
		return buildDate(atoi(m[1]), atoi(m[2]), atoi(m[3]))
	}
	if m := compactRe.FindStringSubmatch(s); m != nil {
		return buildDate(atoi(m[1]), atoi(m[2]), atoi(m[3]))
	}

	if m := numericRe.FindStringSubmatch(s); m != nil {
		day, month, year := atoi(m[1]), atoi(m[2]), expandYear(atoi(m[3]), len(m[3]))
		// Day-first unless that is impossible and month-first is not.
		if month > 12 && day <= 12 {
			day, month = month, day
		}
		return buildDate(year, month, day)
	}

	if m := dayMonthRe.FindStringSubmatch(s); m != nil {
		day := atoi(m[1])
		month, ok := monthAbbreviations[strings.ToLower(m[2])]
		if !ok {
			return civil.Date{}, fmt.Errorf("unknown month %q in date %q", m[2], s)
		}
		if m[3] != "" {
			return buildDate(expandYear(atoi(m[3]), len(m[3])), int(month), day)
		}
		return buildDate(InferYear(month, day, period, now), int(month), day)
	}

	return civil.Date{}, fmt.Errorf("unrecognized date %q", s)
}

// InferYear picks the year for a day and month without one. With a period
// the year is the one that places the date inside the period or, failing
// that, nearest to it, so postings a few days past the closing date keep the
// period's year. Without a period the current year is used.
func InferYear(month time.Month, day int, period *Period, now time.Time) int {
	if period == nil {
		return now.Year()
	}

	best, bestDistance := period.End.Year, -1
	for year := period.End.Year + 1; year >= period.Start.Year-1; year-- {
		d := civil.Date{Year: year, Month: month, Day: day}
		if !d.IsValid() {
			continue
		}
		distance := 0
		switch {
		case d.Before(period.Start):
			distance = period.Start.DaysSince(d)
		case d.After(period.End):
			distance = d.DaysSince(period.End)
		}
		if bestDistance < 0 || distance < bestDistance {
			best, bestDistance = year, distance
		}
	}
	return best
}

func buildDate(year, month, day int) (civil.Date, error) {
	d := civil.Date{Year: year, Month: time.Month(month), Day: day}
	if !d.IsValid() {
		return civil.Date{}, fmt.Errorf("invalid date %04d-%02d-%02d", year, month, day)
	}
	return d, nil
}

func expandYear(year, digits int) int {
	if digits == 2 {
		return 2000 + year
	}
	return year
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// IsMonthAbbreviation reports whether s is a known three-letter month name.
func IsMonthAbbreviation(s string) bool {
	_, ok := monthAbbreviations[strings.ToLower(s)]
	return ok
}
