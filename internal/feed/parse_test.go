package feed

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalColumn(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"tax_year", "tax_year"},
		{"Tax Year", "tax_year"},
		{" YEAR ", "tax_year"},
		{"Rev-Proc", "revproc_number"},
		{"State", "jurisdiction_code"},
		{`"filing_status"`, "filing_status"},
		{"Something Else", "something_else"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, canonicalColumn(tt.in))
		})
	}
}

func TestMapColumns_FirstWins(t *testing.T) {
	m := mapColumns([]string{"year", "Tax Year", "key"})
	assert.Equal(t, 0, m["tax_year"])
	assert.Equal(t, 2, m["key"])
}

func TestGetCol(t *testing.T) {
	idx := map[string]int{"key": 0, "value": 5}
	assert.Equal(t, "k", getCol([]string{" k "}, idx, "key"))
	assert.Empty(t, getCol([]string{"k"}, idx, "value"))
	assert.Empty(t, getCol([]string{"k"}, idx, "missing"))
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in   string
		want *float64
	}{
		{"14600", ptr(14600.0)},
		{"$14,600.00", ptr(14600.0)},
		{" 0.22 ", ptr(0.22)},
		{"10%", ptr(0.1)},
		{"-5", ptr(-5.0)},
		{"", nil},
		{"n/a", nil},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := parseNumber(tt.in)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.InDelta(t, *tt.want, *got, 1e-9)
		})
	}
}

func TestParseNumber_NaNPassesThrough(t *testing.T) {
	got := parseNumber("NaN")
	require.NotNil(t, got)
	assert.True(t, math.IsNaN(*got))
}

func TestParseYear(t *testing.T) {
	assert.Equal(t, 2024, *parseYear("2024"))
	assert.Equal(t, 2024, *parseYear("2024.0"))
	assert.Nil(t, parseYear("2024.5"))
	assert.Nil(t, parseYear("twenty"))
	assert.Nil(t, parseYear(""))
	assert.Nil(t, parseYear("Inf"))
}

func TestParseDate(t *testing.T) {
	want := time.Date(2023, 11, 9, 0, 0, 0, 0, time.UTC)
	for _, in := range []string{
		"2023-11-09",
		"2023-11-09T14:30:00Z",
		"11/09/2023",
		"11/9/2023",
		"November 9, 2023",
		"Nov 9, 2023",
		"45239",
	} {
		t.Run(in, func(t *testing.T) {
			got := parseDate(in)
			require.NotNil(t, got)
			assert.True(t, want.Equal(*got), "got %s", got)
		})
	}

	assert.Nil(t, parseDate(""))
	assert.Nil(t, parseDate("sometime in fall"))
}

func TestParseRecord(t *testing.T) {
	fields := map[string]string{
		colTaxYear:           "2024",
		colJurisdictionLevel: "federal",
		colJurisdictionCode:  "US",
		colSection:           "standard_deduction",
		colFilingStatus:      "S",
		colKey:               "standard_deduction_single",
		colValue:             "$14,600",
		colValueNumeric:      "14600",
		colRevProcNumber:     "2023-34",
		colSourceURL:         "https://www.irs.gov/pub/irs-drop/rp-23-34.pdf",
		colPublishedDate:     "2023-11-09",
		colConfidence:        "0.97",
	}
	item := ParseRecord(func(col string) string { return fields[col] })

	require.NotNil(t, item.TaxYear)
	assert.Equal(t, 2024, *item.TaxYear)
	assert.Equal(t, "US", *item.JurisdictionCode)
	assert.Equal(t, "$14,600", *item.Value)
	assert.InDelta(t, 14600.0, *item.ValueNumeric, 0)
	assert.InDelta(t, 0.97, *item.Confidence, 1e-9)
	assert.Nil(t, item.TaxRate)
	assert.Nil(t, item.IncomeRangeMin)
	assert.Nil(t, item.IncomeRangeMax)
	assert.Equal(t, "2023-11-09", item.PublishedDate.Format(time.DateOnly))
}

func TestParseRecord_EmptyBecomesNull(t *testing.T) {
	item := ParseRecord(func(string) string { return "  " })
	assert.Nil(t, item.TaxYear)
	assert.Nil(t, item.Section)
	assert.Nil(t, item.Key)
	assert.Nil(t, item.Value)
	assert.Nil(t, item.PublishedDate)
}

func ptr[T any](v T) *T { return &v }
