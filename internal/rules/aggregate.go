package rules

import (
	"cmp"
	"slices"
	"time"
)

// DefaultPackageVersion is the version assigned to every package of a batch.
const DefaultPackageVersion = 1

// Duplicate records a group with more than one standard deduction value for
// the same filing status. The maximum is used; the duplicate is only reported.
type Duplicate struct {
	Key          GroupKey     `json:"key"`
	FilingStatus FilingStatus `json:"filing_status"`
	Values       []float64    `json:"values"`
}

// Collision records groups that differ only by jurisdiction level and would
// share a package id. Only Kept is emitted.
type Collision struct {
	PackageID string     `json:"package_id"`
	Kept      GroupKey   `json:"kept"`
	Dropped   []GroupKey `json:"dropped"`
}

// BuildResult is the output of one aggregation pass.
type BuildResult struct {
	Packages   []RulesPackage
	Duplicates []Duplicate
	Collisions []Collision
}

type sourceKey struct {
	number string
	url    string
	date   string
}

// group accumulates one (tax year, level, code) candidate.
type group struct {
	key        GroupKey
	totalItems int
	deductions map[FilingStatus][]float64
	brackets   map[FilingStatus][]Bracket
	sources    map[sourceKey]Source
	revprocs   map[string]struct{}
	earliest   *time.Time
	latest     *time.Time
}

func newGroup(key GroupKey) *group {
	return &group{
		key:        key,
		deductions: make(map[FilingStatus][]float64),
		brackets:   make(map[FilingStatus][]Bracket),
		sources:    make(map[sourceKey]Source),
		revprocs:   make(map[string]struct{}),
	}
}

func (g *group) add(it StagedItem) {
	g.totalItems++

	switch it.Section {
	case SectionStandardDeduction:
		if isKnownStatus(it.FilingStatus) && it.ValueNumeric != nil {
			g.deductions[it.FilingStatus] = append(g.deductions[it.FilingStatus], *it.ValueNumeric)
		}
	case SectionTaxBrackets:
		if isKnownStatus(it.FilingStatus) && it.TaxRate != nil {
			g.brackets[it.FilingStatus] = append(g.brackets[it.FilingStatus], Bracket{
				Rate:        *it.TaxRate,
				Min:         it.IncomeRangeMin,
				Max:         it.IncomeRangeMax,
				Description: it.Value,
			})
		}
	}

	if it.RevProcNumber != "" {
		g.revprocs[it.RevProcNumber] = struct{}{}
	}
	if it.RevProcNumber != "" && it.SourceURL != "" {
		sk := sourceKey{number: it.RevProcNumber, url: it.SourceURL, date: dateKey(it.PublishedDate)}
		if _, ok := g.sources[sk]; !ok {
			g.sources[sk] = Source{
				Type:          SourceTypeRevProc,
				Number:        it.RevProcNumber,
				URL:           it.SourceURL,
				PublishedDate: it.PublishedDate,
				Title:         "Rev. Proc. " + it.RevProcNumber,
			}
		}
	}

	if d := it.PublishedDate; d != nil {
		if g.earliest == nil || d.Before(*g.earliest) {
			t := *d
			g.earliest = &t
		}
		if g.latest == nil || d.After(*g.latest) {
			t := *d
			g.latest = &t
		}
	}
}

// standardDeduction takes the max value per filing status and reports
// statuses that had more than one row.
func (g *group) standardDeduction() (StandardDeduction, []Duplicate) {
	var sd StandardDeduction
	var dups []Duplicate
	for _, fs := range FilingStatuses {
		vals := g.deductions[fs]
		if len(vals) == 0 {
			continue
		}
		m := slices.Max(vals)
		switch fs {
		case Single:
			sd.Single = m
		case MarriedFilingJointly:
			sd.MarriedFilingJointly = m
		case MarriedFilingSeparately:
			sd.MarriedFilingSeparately = m
		case HeadOfHousehold:
			sd.HeadOfHousehold = m
		}
		if len(vals) > 1 {
			dups = append(dups, Duplicate{Key: g.key, FilingStatus: fs, Values: slices.Clone(vals)})
		}
	}
	return sd, dups
}

func (g *group) taxBrackets() TaxBrackets {
	sorted := func(fs FilingStatus) []Bracket {
		b := slices.Clone(g.brackets[fs])
		if b == nil {
			b = []Bracket{}
		}
		slices.SortStableFunc(b, compareBrackets)
		return b
	}
	return TaxBrackets{
		Single:                  sorted(Single),
		MarriedFilingJointly:    sorted(MarriedFilingJointly),
		MarriedFilingSeparately: sorted(MarriedFilingSeparately),
		HeadOfHousehold:         sorted(HeadOfHousehold),
	}
}

func (g *group) sourceList() []Source {
	out := make([]Source, 0, len(g.sources))
	for _, s := range g.sources {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b Source) int {
		if c := compareTimes(a.PublishedDate, b.PublishedDate); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Number, b.Number); c != 0 {
			return c
		}
		return cmp.Compare(a.URL, b.URL)
	})
	return out
}

// Build groups staged items by (tax year, jurisdiction level, jurisdiction
// code) and emits one package per non-empty group. builtAt stamps
// created_at/updated_at. Packages come back ordered by level, code and year;
// bracket lists are ascending by income_range_min.
func Build(items []StagedItem, builtAt time.Time) BuildResult {
	groups := make(map[GroupKey]*group)
	for _, it := range items {
		key := GroupKey{JurisdictionLevel: it.JurisdictionLevel, JurisdictionCode: it.JurisdictionCode, TaxYear: it.TaxYear}
		g, ok := groups[key]
		if !ok {
			g = newGroup(key)
			groups[key] = g
		}
		g.add(it)
	}

	var res BuildResult
	for _, g := range groups {
		if g.totalItems == 0 {
			continue
		}

		sd, dups := g.standardDeduction()
		tb := g.taxBrackets()
		res.Duplicates = append(res.Duplicates, dups...)

		res.Packages = append(res.Packages, RulesPackage{
			PackageID:         PackageID(g.key.JurisdictionCode, g.key.TaxYear, DefaultPackageVersion),
			JurisdictionLevel: g.key.JurisdictionLevel,
			JurisdictionCode:  g.key.JurisdictionCode,
			TaxYear:           g.key.TaxYear,
			PackageVersion:    DefaultPackageVersion,
			EffectiveDate:     g.earliest,
			LastUpdated:       g.latest,
			StandardDeduction: sd,
			TaxBrackets:       tb,
			Sources:           g.sourceList(),
			SourceCount:       len(g.revprocs),
			TotalItems:        g.totalItems,
			ChecksumSHA256:    Checksum(sd, tb),
			IsActive:          true,
			IsPromoted:        false,
			CreatedAt:         builtAt,
			UpdatedAt:         builtAt,
		})
	}

	slices.SortFunc(res.Packages, func(a, b RulesPackage) int {
		return compareKeys(a.Key(), b.Key())
	})
	res.Packages, res.Collisions = uniqueIDs(res.Packages)
	slices.SortFunc(res.Duplicates, func(a, b Duplicate) int {
		if c := compareKeys(a.Key, b.Key); c != 0 {
			return c
		}
		return cmp.Compare(a.FilingStatus, b.FilingStatus)
	})
	return res
}

// uniqueIDs keeps one package per package id. The winner has a known
// jurisdiction level, then the most items, then the lowest group key. pkgs
// must be sorted by key; the result keeps that order.
func uniqueIDs(pkgs []RulesPackage) ([]RulesPackage, []Collision) {
	byID := make(map[string][]int, len(pkgs))
	for i, p := range pkgs {
		byID[p.PackageID] = append(byID[p.PackageID], i)
	}

	drop := make(map[int]bool)
	var collisions []Collision
	for id, idx := range byID {
		if len(idx) < 2 {
			continue
		}
		best := idx[0]
		for _, i := range idx[1:] {
			if preferPackage(pkgs[i], pkgs[best]) {
				best = i
			}
		}
		c := Collision{PackageID: id, Kept: pkgs[best].Key()}
		for _, i := range idx {
			if i != best {
				drop[i] = true
				c.Dropped = append(c.Dropped, pkgs[i].Key())
			}
		}
		collisions = append(collisions, c)
	}
	if len(collisions) == 0 {
		return pkgs, nil
	}

	out := make([]RulesPackage, 0, len(pkgs)-len(drop))
	for i, p := range pkgs {
		if !drop[i] {
			out = append(out, p)
		}
	}
	slices.SortFunc(collisions, func(a, b Collision) int {
		return cmp.Compare(a.PackageID, b.PackageID)
	})
	return out, collisions
}

// preferPackage reports whether a wins a package id collision against b.
func preferPackage(a, b RulesPackage) bool {
	ak, bk := isKnownLevel(a.JurisdictionLevel), isKnownLevel(b.JurisdictionLevel)
	if ak != bk {
		return ak
	}
	if a.TotalItems != b.TotalItems {
		return a.TotalItems > b.TotalItems
	}
	return compareKeys(a.Key(), b.Key()) < 0
}

func isKnownLevel(l JurisdictionLevel) bool {
	return l == Federal || l == State
}

func isKnownStatus(fs FilingStatus) bool {
	return slices.Contains(FilingStatuses, fs)
}

// compareBrackets orders by min ascending with null mins last, then rate, then
// max (null last) so equal mins still sort deterministically.
func compareBrackets(a, b Bracket) int {
	if c := compareNullableLast(a.Min, b.Min); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Rate, b.Rate); c != 0 {
		return c
	}
	return compareNullableLast(a.Max, b.Max)
}

func compareNullableLast(a, b *float64) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	default:
		return cmp.Compare(*a, *b)
	}
}

// compareTimes orders nil before any time.
func compareTimes(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	default:
		return a.Compare(*b)
	}
}

func compareKeys(a, b GroupKey) int {
	if c := cmp.Compare(a.JurisdictionLevel, b.JurisdictionLevel); c != 0 {
		return c
	}
	if c := cmp.Compare(a.JurisdictionCode, b.JurisdictionCode); c != 0 {
		return c
	}
	return cmp.Compare(a.TaxYear, b.TaxYear)
}

func dateKey(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.DateOnly)
}
