package normalize

import (
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/statement-ingest/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var aprilMay2024 = &Period{
	Start: civil.Date{Year: 2024, Month: time.April, Day: 1},
	End:   civil.Date{Year: 2024, Month: time.May, Day: 31},
}

func fixedNow() time.Time { return time.Date(2026, time.March, 3, 10, 0, 0, 0, time.UTC) }

func TestParseDate_FormatsAgree(t *testing.T) {
	want := civil.Date{Year: 2024, Month: time.May, Day: 12}
	inputs := []string{
		"2024-05-12",
		"2024-05-12T00:00:00Z",
		"20240512",
		"12/05/2024",
		"12-05-2024",
		"12.05.24",
		"12May",
		"12MAY",
		"12 may",
		"12May2024",
		"12-May-2024",
		"12 Mayo",
	}

	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			got, err := ParseDate(in, aprilMay2024, fixedNow())
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestParseDate_SpanishMonths(t *testing.T) {
	months := map[string]time.Month{
		"Ene": time.January, "Feb": time.February, "Mar": time.March, "Abr": time.April,
		"May": time.May, "Jun": time.June, "Jul": time.July, "Ago": time.August,
		"Set": time.September, "Oct": time.October, "Nov": time.November, "Dic": time.December,
	}
	for abbr, month := range months {
		got, err := ParseDate("05"+abbr, nil, fixedNow())
		require.NoError(t, err, abbr)
		assert.Equal(t, civil.Date{Year: 2026, Month: month, Day: 5}, got, abbr)
	}
}

func TestParseDate_Rejects(t *testing.T) {
	for _, in := range []string{"", "hoy", "31Feb", "12Xyz", "2024-13-01", "99/99/2024"} {
		_, err := ParseDate(in, aprilMay2024, fixedNow())
		assert.Error(t, err, in)
	}
}

func TestParseDate_PostingAfterClosingDateKeepsYear(t *testing.T) {
	period := &Period{
		Start: civil.Date{Year: 2024, Month: time.April, Day: 20},
		End:   civil.Date{Year: 2024, Month: time.May, Day: 19},
	}
	for in, want := range map[string]civil.Date{
		"12May": {Year: 2024, Month: time.May, Day: 12},
		"20May": {Year: 2024, Month: time.May, Day: 20},
		"22May": {Year: 2024, Month: time.May, Day: 22},
		"18Abr": {Year: 2024, Month: time.April, Day: 18},
	} {
		got, err := ParseDate(in, period, fixedNow())
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestParseDate_MonthFirstWhenDayFirstImpossible(t *testing.T) {
	got, err := ParseDate("05/13/2024", nil, fixedNow())
	require.NoError(t, err)
	assert.Equal(t, civil.Date{Year: 2024, Month: time.May, Day: 13}, got)
}

func TestInferYear(t *testing.T) {
	closesMay19 := &Period{
		Start: civil.Date{Year: 2024, Month: time.April, Day: 20},
		End:   civil.Date{Year: 2024, Month: time.May, Day: 19},
	}
	novDec2023 := &Period{
		Start: civil.Date{Year: 2023, Month: time.November, Day: 26},
		End:   civil.Date{Year: 2023, Month: time.December, Day: 25},
	}
	decJan := &Period{
		Start: civil.Date{Year: 2023, Month: time.December, Day: 20},
		End:   civil.Date{Year: 2024, Month: time.January, Day: 19},
	}

	tests := []struct {
		name   string
		month  time.Month
		day    int
		period *Period
		want   int
	}{
		{"inside period", time.May, 12, aprilMay2024, 2024},
		{"december of a year-crossing period", time.December, 28, decJan, 2023},
		{"january of a year-crossing period", time.January, 5, decJan, 2024},
		{"late posting before the period", time.November, 30, decJan, 2023},
		{"day after the closing date", time.May, 20, closesMay19, 2024},
		{"days after the closing date", time.May, 22, closesMay19, 2024},
		{"inside a mid-month period", time.May, 12, closesMay19, 2024},
		{"january after a december close", time.January, 3, novDec2023, 2024},
		{"no period uses current year", time.May, 12, nil, 2026},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InferYear(tt.month, tt.day, tt.period, fixedNow()))
		})
	}
}

func TestParseAmount_LocaleConventionsAgree(t *testing.T) {
	want := decimal.RequireFromString("1234.56")
	for _, in := range []string{"1234.56", "1,234.56", "1.234,56", "1234,56", "S/ 1,234.56", "US$1.234,56", "1 234,56", "S/. 1,234.56", "1.234,56 S/."} {
		t.Run(in, func(t *testing.T) {
			got, err := ParseAmount(in)
			require.NoError(t, err)
			assert.True(t, want.Equal(got), "got %s", got)
		})
	}
}

func TestParseAmount_ThousandsSeparatorsAgree(t *testing.T) {
	for _, pair := range [][2]string{{"1,234", "1.234"}, {"12,345", "12.345"}, {"€1,234", "€1.234"}} {
		comma, err := ParseAmount(pair[0])
		require.NoError(t, err)
		dot, err := ParseAmount(pair[1])
		require.NoError(t, err)
		assert.True(t, comma.Equal(dot), "%s = %s, %s = %s", pair[0], comma, pair[1], dot)
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"17.50", "17.5", false},
		{"17,50", "17.5", false},
		{"1,234", "1234", false},
		{"1.234", "1234", false},
		{"€1.234", "1234", false},
		{"1.234.567", "1234567", false},
		{"S/. 17.50", "17.5", false},
		{"S/.17.50", "17.5", false},
		{"17.50 S/.", "17.5", false},
		{"17.500", "17500", false},
		{"0.004", "", true},
		{"0.505", "", true},
		{"12.3456", "", true},
		{"0.00", "", true},
		{"-17.50", "", true},
		{"17.50-", "", true},
		{"(17.50)", "", true},
		{"abc", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAmount(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(got), "got %s", got)
		})
	}
}

func TestResolveCurrency(t *testing.T) {
	tests := []struct {
		name        string
		hint        string
		description string
		want        string
	}{
		{"explicit code", "usd", "TIENDA LIMA PE", "USD"},
		{"explicit symbol", "S/", "", "PEN"},
		{"domestic location", "", "DLC*RAPPI PERU LIMA PE", "PEN"},
		{"foreign state", "", "DISNEY ORLANDO FL", "USD"},
		{"foreign country", "", "APPLE.COM/BILL 866-712-7753 CA", "USD"},
		{"usd merchant", "", "NETFLIX.COM", "USD"},
		{"usd merchant lowercase", "", "Disney Plus", "USD"},
		{"unknown hint ignored", "XYZ", "PANADERIA", "PEN"},
		{"no signal uses base", "", "PANADERIA SAN JOSE", "PEN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveCurrency(tt.hint, tt.description, "pen"))
		})
	}
}

func TestIsArtifact(t *testing.T) {
	assert.True(t, IsArtifact("SALDO ANTERIOR"))
	assert.True(t, IsArtifact("Fecha de proceso"))
	assert.True(t, IsArtifact("13,60 EURO IN"))
	assert.True(t, IsArtifact("---------"))
	assert.False(t, IsArtifact("DLC*RAPPI PERU"))
	assert.False(t, IsArtifact("TOTTUS SURCO"))
}

func TestDetectPeriod(t *testing.T) {
	p, ok := DetectPeriod("ESTADO DE CUENTA | VISA\nPeriodo de facturación: 20/04/2024 al 19/05/2024\n12May DLC*RAPPI")
	require.True(t, ok)
	assert.Equal(t, civil.Date{Year: 2024, Month: time.April, Day: 20}, p.Start)
	assert.Equal(t, civil.Date{Year: 2024, Month: time.May, Day: 19}, p.End)

	p, ok = DetectPeriod("Fecha de cierre: 19/05/2024")
	require.True(t, ok)
	assert.Equal(t, civil.Date{Year: 2024, Month: time.April, Day: 20}, p.Start)

	_, ok = DetectPeriod("no dates here")
	assert.False(t, ok)
}

func TestNormalize_RappiScenario(t *testing.T) {
	n := New("PEN", aprilMay2024)
	n.now = fixedNow

	row, err := n.Normalize(domain.Candidate{
		DateString:    "12May",
		Description:   "DLC*RAPPI PERU LIMA PE",
		MerchantGuess: "DLC*RAPPI PERU",
		AmountString:  "17.50",
	})
	require.NoError(t, err)
	assert.Equal(t, civil.Date{Year: 2024, Month: time.May, Day: 12}, row.Date)
	assert.Equal(t, "DLC*RAPPI PERU", row.Merchant)
	assert.Equal(t, "17.50", row.Amount.StringFixed(2))
	assert.Equal(t, "PEN", row.Currency)
}

func TestNormalize_SkipReasons(t *testing.T) {
	n := New("PEN", aprilMay2024)
	n.now = fixedNow

	tests := []struct {
		name   string
		c      domain.Candidate
		reason string
	}{
		{"bad date", domain.Candidate{DateString: "??", Description: "TIENDA", AmountString: "1.00"}, ReasonInvalidDate},
		{"bad amount", domain.Candidate{DateString: "12May", Description: "TIENDA", AmountString: "x"}, ReasonInvalidAmount},
		{"artifact", domain.Candidate{DateString: "12May", Description: "SALDO ANTERIOR", AmountString: "1.00"}, ReasonArtifact},
		{"no merchant", domain.Candidate{DateString: "12May", AmountString: "1.00"}, ReasonMissingMerchant},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.Normalize(tt.c)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrSkippedInvalid))
			var skip *SkipError
			require.True(t, errors.As(err, &skip))
			assert.Equal(t, tt.reason, skip.Reason)
		})
	}
}

func TestNormalizeAll_DropsInvalidAndDedupsExternalRows(t *testing.T) {
	n := New("PEN", aprilMay2024)
	n.now = fixedNow
	n.DedupSources["gemini"] = true

	dup := domain.Candidate{DateString: "2024-05-03", Description: "NETFLIX.COM", AmountString: "9.90", Source: "gemini"}
	twice := domain.Candidate{DateString: "04May", Description: "CAFE LIMA PE", AmountString: "8.00", Source: "pattern"}

	res := n.NormalizeAll([]domain.Candidate{
		dup, dup, twice, twice,
		{DateString: "no date", Description: "X", AmountString: "1", Source: "pattern"},
	})

	assert.Len(t, res.Rows, 3)
	assert.Equal(t, 1, res.Skipped[ReasonDuplicate])
	assert.Equal(t, 1, res.Skipped[ReasonInvalidDate])
	assert.Equal(t, 2, res.SkippedTotal())
	assert.Equal(t, "USD", res.Rows[0].Currency)
}
