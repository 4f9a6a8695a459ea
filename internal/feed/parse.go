package feed

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/taxrules/internal/rules"
)

// excelEpoch is day zero of the 1900 date system as Excel counts it.
var excelEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

var dateFormats = []string{
	time.DateOnly,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"January 2, 2006",
	"Jan 2, 2006",
}

// ParseRecord maps one row of canonical-column cells onto a RevProcItem.
// Cells that are empty or do not parse become null.
func ParseRecord(get func(col string) string) rules.RevProcItem {
	return rules.RevProcItem{
		TaxYear:           parseYear(get(colTaxYear)),
		JurisdictionLevel: optString(get(colJurisdictionLevel)),
		JurisdictionCode:  optString(get(colJurisdictionCode)),
		Section:           optString(get(colSection)),
		FilingStatus:      optString(get(colFilingStatus)),
		Key:               optString(get(colKey)),
		Value:             optString(get(colValue)),
		ValueNumeric:      parseNumber(get(colValueNumeric)),
		TaxRate:           parseNumber(get(colTaxRate)),
		IncomeRangeMin:    parseNumber(get(colIncomeRangeMin)),
		IncomeRangeMax:    parseNumber(get(colIncomeRangeMax)),
		RevProcNumber:     optString(get(colRevProcNumber)),
		SourceURL:         optString(get(colSourceURL)),
		PublishedDate:     parseDate(get(colPublishedDate)),
		Confidence:        parseNumber(get(colConfidence)),
	}
}

// parseRow is ParseRecord over a positional row and its header index.
func parseRow(record []string, colIdx map[string]int) rules.RevProcItem {
	return ParseRecord(func(col string) string {
		return getCol(record, colIdx, col)
	})
}

func optString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// parseNumber accepts plain and currency-formatted numbers ("$14,600",
// "29200.00"). A trailing percent sign divides by 100 ("10%" → 0.1).
func parseNumber(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	percent := strings.HasSuffix(s, "%")
	s = strings.TrimSuffix(s, "%")
	s = strings.NewReplacer("$", "", ",", "", " ", "").Replace(s)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	if percent {
		v /= 100
	}
	return &v
}

// parseYear accepts "2024" and integral floats such as "2024.0" from
// spreadsheet exports.
func parseYear(s string) *int {
	f := parseNumber(s)
	if f == nil || math.IsNaN(*f) || math.IsInf(*f, 0) || *f != math.Trunc(*f) {
		return nil
	}
	y := int(*f)
	return &y
}

// parseDate tries the common export formats, then an Excel serial day number.
func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			return &d
		}
	}
	if serial, err := strconv.ParseFloat(s, 64); err == nil && serial >= 1 && serial < 2958466 {
		d := excelEpoch.AddDate(0, 0, int(serial))
		return &d
	}
	return nil
}
