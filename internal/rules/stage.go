package rules

import (
	"math"
	"strings"
)

// StageOptions tunes the staging pass.
type StageOptions struct {
	// MinConfidence drops items whose extraction confidence is known and below
	// this value. Zero disables the check.
	MinConfidence float64
}

// StageStats counts what the staging pass excluded.
type StageStats struct {
	Read           int `json:"read"`
	Staged         int `json:"staged"`
	MissingFields  int `json:"missing_fields"`
	NoJurisdiction int `json:"no_jurisdiction"`
	LowConfidence  int `json:"low_confidence"`
	UnknownFilings int `json:"unknown_filing_status"`
}

// Stage keeps only items whose tax year, section, key, value and jurisdiction
// code are present and projects them into StagedItem with normalized text.
// Rows that fail the check are dropped without error; upstream extraction is
// allowed to be partial. The code is required because it forms the package id.
func Stage(items []RevProcItem, opts StageOptions) ([]StagedItem, StageStats) {
	stats := StageStats{Read: len(items)}
	out := make([]StagedItem, 0, len(items))

	for _, it := range items {
		section := lower(it.Section)
		key := trim(it.Key)
		value := trim(it.Value)
		if it.TaxYear == nil || section == "" || key == "" || value == "" {
			stats.MissingFields++
			continue
		}
		code := strings.ToUpper(trim(it.JurisdictionCode))
		if code == "" {
			stats.NoJurisdiction++
			continue
		}
		if opts.MinConfidence > 0 && it.Confidence != nil && *it.Confidence < opts.MinConfidence {
			stats.LowConfidence++
			continue
		}

		s := StagedItem{
			TaxYear:           *it.TaxYear,
			JurisdictionLevel: JurisdictionLevel(lower(it.JurisdictionLevel)),
			JurisdictionCode:  code,
			Section:           Section(section),
			Key:               key,
			Value:             value,
			ValueNumeric:      finite(it.ValueNumeric),
			TaxRate:           finite(it.TaxRate),
			IncomeRangeMin:    finite(it.IncomeRangeMin),
			IncomeRangeMax:    finite(it.IncomeRangeMax),
			RevProcNumber:     trim(it.RevProcNumber),
			SourceURL:         trim(it.SourceURL),
			PublishedDate:     it.PublishedDate,
			Confidence:        it.Confidence,
		}

		if raw := trim(it.FilingStatus); raw != "" {
			if fs, ok := ParseFilingStatus(raw); ok {
				s.FilingStatus = fs
			} else {
				// Kept verbatim; the aggregator ignores statuses it does not know.
				s.FilingStatus = FilingStatus(strings.ToUpper(raw))
				stats.UnknownFilings++
			}
		}

		out = append(out, s)
	}

	stats.Staged = len(out)
	return out, stats
}

func trim(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

func lower(s *string) string {
	return strings.ToLower(trim(s))
}

// finite maps NaN and infinities to null.
func finite(f *float64) *float64 {
	if f == nil || math.IsNaN(*f) || math.IsInf(*f, 0) {
		return nil
	}
	return f
}
