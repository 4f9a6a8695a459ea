package rules

import "time"

func strp(s string) *string     { return &s }
func intp(i int) *int           { return &i }
func f64p(f float64) *float64   { return &f }
func datep(s string) *time.Time { t, _ := time.Parse(time.DateOnly, s); return &t }

// rawItem builds a fully populated federal item; callers null out what they need.
func rawItem(year int, section, status, key, value string) RevProcItem {
	return RevProcItem{
		TaxYear:           intp(year),
		JurisdictionLevel: strp("federal"),
		JurisdictionCode:  strp("US"),
		Section:           strp(section),
		FilingStatus:      strp(status),
		Key:               strp(key),
		Value:             strp(value),
		RevProcNumber:     strp("2023-34"),
		SourceURL:         strp("https://www.irs.gov/pub/irs-drop/rp-23-34.pdf"),
		PublishedDate:     datep("2023-11-09"),
	}
}

func stagedItem(year int, section Section, status FilingStatus) StagedItem {
	return StagedItem{
		TaxYear:           year,
		JurisdictionLevel: Federal,
		JurisdictionCode:  "US",
		Section:           section,
		FilingStatus:      status,
		Key:               "k",
		Value:             "v",
		RevProcNumber:     "2023-34",
		SourceURL:         "https://www.irs.gov/pub/irs-drop/rp-23-34.pdf",
		PublishedDate:     datep("2023-11-09"),
	}
}
