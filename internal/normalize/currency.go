package normalize

import (
	"strings"
)

// DomesticLocation is the location code printed on domestic card purchases.
const DomesticLocation = "PE"

const (
	domesticCurrency = "PEN"
	foreignCurrency  = "USD"
)

var currencyAliases = map[string]string{
	"S/": "PEN", "S/.": "PEN", "PEN": "PEN", "SOLES": "PEN", "SOL": "PEN",
	"$": "USD", "US$": "USD", "USD": "USD", "DOLARES": "USD", "DÓLARES": "USD",
	"€": "EUR", "EUR": "EUR", "EUROS": "EUR",
	"£": "GBP", "GBP": "GBP",
	"JPY": "JPY", "BRL": "BRL", "R$": "BRL", "INR": "INR",
	"CLP": "CLP", "COP": "COP", "MXN": "MXN", "ARS": "ARS",
}

// foreignLocations are trailing location codes (countries and US states)
// that mark an international purchase.
var foreignLocations = map[string]bool{
	"US": true, "CA": true, "MX": true, "CL": true, "CO": true, "AR": true,
	"BR": true, "ES": true, "GB": true, "IE": true, "NL": true, "DE": true,
	"FR": true, "SG": true, "HK": true, "LU": true, "CN": true,
	"FL": true, "NY": true, "WA": true, "MN": true, "TX": true, "NV": true,
	"IL": true, "GA": true, "NJ": true, "MA": true,
}

// usdIndicators are merchants and places that always bill in US dollars.
var usdIndicators = []string{
	"ORLANDO FL", "MIAMI FL", "KISSIMMEE FL", "SAINT CLOUD FL", "BURBANK CA",
	"OPENAI", "APPLE.COM", "NETFLIX.COM", "AMAZON", "STEAMGAMES.COM",
	"DISNEY PLUS", "FRONTENDMASTERS.COM",
}

// ResolveCurrency returns the ISO code for a row. An explicit hint wins; then
// the trailing location code of the description (domestic → PEN, foreign →
// USD); then the USD merchant list; otherwise base.
func ResolveCurrency(hint, description, base string) string {
	if code, ok := currencyAliases[strings.ToUpper(strings.TrimSpace(hint))]; ok {
		return code
	}

	desc := strings.ToUpper(strings.TrimSpace(description))
	if loc := LocationCode(desc); loc != "" {
		if loc == DomesticLocation {
			return domesticCurrency
		}
		if foreignLocations[loc] {
			return foreignCurrency
		}
	}

	for _, indicator := range usdIndicators {
		if strings.Contains(desc, indicator) {
			return foreignCurrency
		}
	}
	return strings.ToUpper(base)
}

// LocationCode returns the trailing two-letter uppercase token of a
// multi-word description, or "".
func LocationCode(description string) string {
	fields := strings.Fields(description)
	if len(fields) < 2 {
		return ""
	}
	last := fields[len(fields)-1]
	if len(last) != 2 || strings.ToUpper(last) != last {
		return ""
	}
	for _, r := range last {
		if r < 'A' || r > 'Z' {
			return ""
		}
	}
	return last
}
