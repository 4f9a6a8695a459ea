// Package feed decodes extracted revenue procedure line items from CSV, JSON
// and XLSX exports, local or remote.
package feed

import "strings"

// Canonical field names of a RevProcItem row.
const (
	colTaxYear           = "tax_year"
	colJurisdictionLevel = "jurisdiction_level"
	colJurisdictionCode  = "jurisdiction_code"
	colSection           = "section"
	colFilingStatus      = "filing_status"
	colKey               = "key"
	colValue             = "value"
	colValueNumeric      = "value_numeric"
	colTaxRate           = "tax_rate"
	colIncomeRangeMin    = "income_range_min"
	colIncomeRangeMax    = "income_range_max"
	colRevProcNumber     = "revproc_number"
	colSourceURL         = "source_url"
	colPublishedDate     = "published_date"
	colConfidence        = "confidence"
)

// columnAliases maps header spellings seen in extraction exports to the
// canonical field name.
var columnAliases = map[string]string{
	"year":                  colTaxYear,
	"level":                 colJurisdictionLevel,
	"jurisdiction":          colJurisdictionCode,
	"state":                 colJurisdictionCode,
	"code":                  colJurisdictionCode,
	"status":                colFilingStatus,
	"filing":                colFilingStatus,
	"item_key":              colKey,
	"item_value":            colValue,
	"amount":                colValueNumeric,
	"numeric_value":         colValueNumeric,
	"rate":                  colTaxRate,
	"min_income":            colIncomeRangeMin,
	"income_min":            colIncomeRangeMin,
	"bracket_min":           colIncomeRangeMin,
	"max_income":            colIncomeRangeMax,
	"income_max":            colIncomeRangeMax,
	"bracket_max":           colIncomeRangeMax,
	"revproc":               colRevProcNumber,
	"rev_proc":              colRevProcNumber,
	"rev_proc_number":       colRevProcNumber,
	"revenue_procedure":     colRevProcNumber,
	"url":                   colSourceURL,
	"source":                colSourceURL,
	"published":             colPublishedDate,
	"publication_date":      colPublishedDate,
	"date_published":        colPublishedDate,
	"extraction_confidence": colConfidence,
}

// canonicalColumn normalizes a header cell ("Tax Year", "tax-year") and
// resolves aliases. Unknown columns come back normalized but unaliased.
func canonicalColumn(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Trim(s, `"`)
	s = strings.NewReplacer(" ", "_", "-", "_", ".", "_").Replace(s)
	if c, ok := columnAliases[s]; ok {
		return c
	}
	return s
}

// mapColumns builds a canonical column name → index map. The first
// occurrence of a column wins.
func mapColumns(header []string) map[string]int {
	m := make(map[string]int, len(header))
	for i, col := range header {
		c := canonicalColumn(col)
		if _, dup := m[c]; !dup {
			m[c] = i
		}
	}
	return m
}

// getCol returns the trimmed cell for a canonical column, or "" when absent.
func getCol(record []string, colIdx map[string]int, name string) string {
	idx, ok := colIdx[name]
	if !ok || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}
