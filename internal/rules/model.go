// Package rules builds versioned, checksummed tax-rule packages from extracted
// revenue procedure line items and selects the current package per
// jurisdiction and tax year.
package rules

import (
	"fmt"
	"strings"
	"time"
)

// JurisdictionLevel is the taxing authority level.
type JurisdictionLevel string

const (
	Federal JurisdictionLevel = "federal"
	State   JurisdictionLevel = "state"
)

// Section identifies the kind of rule an extracted item describes.
type Section string

const (
	SectionStandardDeduction Section = "standard_deduction"
	SectionTaxBrackets       Section = "tax_brackets"
)

// FilingStatus is the IRS filing status abbreviation.
type FilingStatus string

const (
	Single                  FilingStatus = "S"
	MarriedFilingJointly    FilingStatus = "MFJ"
	MarriedFilingSeparately FilingStatus = "MFS"
	HeadOfHousehold         FilingStatus = "HOH"
)

// FilingStatuses lists every known filing status in package order.
var FilingStatuses = []FilingStatus{Single, MarriedFilingJointly, MarriedFilingSeparately, HeadOfHousehold}

var filingStatusAliases = map[string]FilingStatus{
	"s":                         Single,
	"single":                    Single,
	"mfj":                       MarriedFilingJointly,
	"married_filing_jointly":    MarriedFilingJointly,
	"mfs":                       MarriedFilingSeparately,
	"married_filing_separately": MarriedFilingSeparately,
	"hoh":                       HeadOfHousehold,
	"head_of_household":         HeadOfHousehold,
}

// ParseFilingStatus canonicalizes an abbreviation or long form
// ("married filing jointly", "MFJ") into a FilingStatus.
func ParseFilingStatus(s string) (FilingStatus, bool) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	fs, ok := filingStatusAliases[key]
	return fs, ok
}

// RevProcItem is one raw extracted fact. Every field may be null until the
// staging normalizer has run.
type RevProcItem struct {
	TaxYear           *int       `json:"tax_year"`
	JurisdictionLevel *string    `json:"jurisdiction_level"`
	JurisdictionCode  *string    `json:"jurisdiction_code"`
	Section           *string    `json:"section"`
	FilingStatus      *string    `json:"filing_status"`
	Key               *string    `json:"key"`
	Value             *string    `json:"value"`
	ValueNumeric      *float64   `json:"value_numeric"`
	TaxRate           *float64   `json:"tax_rate"`
	IncomeRangeMin    *float64   `json:"income_range_min"`
	IncomeRangeMax    *float64   `json:"income_range_max"`
	RevProcNumber     *string    `json:"revproc_number"`
	SourceURL         *string    `json:"source_url"`
	PublishedDate     *time.Time `json:"published_date"`
	Confidence        *float64   `json:"confidence"`
}

// StagedItem is a RevProcItem that passed staging: tax year, section, key and
// value are always present. Optional text fields use "" for null.
type StagedItem struct {
	TaxYear           int
	JurisdictionLevel JurisdictionLevel
	JurisdictionCode  string
	Section           Section
	FilingStatus      FilingStatus
	Key               string
	Value             string
	ValueNumeric      *float64
	TaxRate           *float64
	IncomeRangeMin    *float64
	IncomeRangeMax    *float64
	RevProcNumber     string
	SourceURL         string
	PublishedDate     *time.Time
	Confidence        *float64
}

// StandardDeduction holds the standard deduction amount per filing status.
type StandardDeduction struct {
	Single                  float64 `json:"single" yaml:"single"`
	MarriedFilingJointly    float64 `json:"married_filing_jointly" yaml:"married_filing_jointly"`
	MarriedFilingSeparately float64 `json:"married_filing_separately" yaml:"married_filing_separately"`
	HeadOfHousehold         float64 `json:"head_of_household" yaml:"head_of_household"`
}

// Bracket is one marginal rate band. A nil Max is an open-ended top bracket.
type Bracket struct {
	Rate        float64  `json:"rate" yaml:"rate"`
	Min         *float64 `json:"min" yaml:"min"`
	Max         *float64 `json:"max" yaml:"max"`
	Description string   `json:"description" yaml:"description"`
}

// TaxBrackets holds the ordered bracket list per filing status.
type TaxBrackets struct {
	Single                  []Bracket `json:"single" yaml:"single"`
	MarriedFilingJointly    []Bracket `json:"married_filing_jointly" yaml:"married_filing_jointly"`
	MarriedFilingSeparately []Bracket `json:"married_filing_separately" yaml:"married_filing_separately"`
	HeadOfHousehold         []Bracket `json:"head_of_household" yaml:"head_of_household"`
}

// For returns the bracket list for a filing status.
func (tb TaxBrackets) For(fs FilingStatus) []Bracket {
	switch fs {
	case Single:
		return tb.Single
	case MarriedFilingJointly:
		return tb.MarriedFilingJointly
	case MarriedFilingSeparately:
		return tb.MarriedFilingSeparately
	case HeadOfHousehold:
		return tb.HeadOfHousehold
	default:
		return nil
	}
}

// Source cites the revenue procedure a package was built from.
type Source struct {
	Type          string     `json:"type" yaml:"type"`
	Number        string     `json:"number" yaml:"number"`
	URL           string     `json:"url" yaml:"url"`
	PublishedDate *time.Time `json:"published_date,omitempty" yaml:"published_date,omitempty"`
	Title         string     `json:"title" yaml:"title"`
}

// SourceTypeRevProc is the Source.Type of revenue procedure citations.
const SourceTypeRevProc = "revenue_procedure"

// RulesPackage is one versioned bundle of tax rules for a jurisdiction and year.
type RulesPackage struct {
	PackageID         string            `json:"package_id" yaml:"package_id"`
	JurisdictionLevel JurisdictionLevel `json:"jurisdiction_level" yaml:"jurisdiction_level"`
	JurisdictionCode  string            `json:"jurisdiction_code" yaml:"jurisdiction_code"`
	TaxYear           int               `json:"tax_year" yaml:"tax_year"`
	PackageVersion    int               `json:"package_version" yaml:"package_version"`
	EffectiveDate     *time.Time        `json:"effective_date" yaml:"effective_date"`
	LastUpdated       *time.Time        `json:"last_updated" yaml:"last_updated"`
	StandardDeduction StandardDeduction `json:"standard_deduction" yaml:"standard_deduction"`
	TaxBrackets       TaxBrackets       `json:"tax_brackets" yaml:"tax_brackets"`
	Sources           []Source          `json:"sources" yaml:"sources"`
	SourceCount       int               `json:"source_count" yaml:"source_count"`
	TotalItems        int               `json:"total_items" yaml:"total_items"`
	ChecksumSHA256    string            `json:"checksum_sha256" yaml:"checksum_sha256"`
	IsActive          bool              `json:"is_active" yaml:"is_active"`
	IsPromoted        bool              `json:"is_promoted" yaml:"is_promoted"`
	CreatedAt         time.Time         `json:"created_at" yaml:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at" yaml:"updated_at"`
}

// GroupKey identifies a jurisdiction and tax year.
type GroupKey struct {
	JurisdictionLevel JurisdictionLevel
	JurisdictionCode  string
	TaxYear           int
}

// Key returns the package's jurisdiction/year group.
func (p RulesPackage) Key() GroupKey {
	return GroupKey{JurisdictionLevel: p.JurisdictionLevel, JurisdictionCode: p.JurisdictionCode, TaxYear: p.TaxYear}
}

// PackageID formats the package identifier "{code}_{year}_v{version}".
func PackageID(code string, year, version int) string {
	return fmt.Sprintf("%s_%d_v%d", code, year, version)
}
