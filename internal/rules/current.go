package rules

import (
	"cmp"
	"slices"
	"time"
)

// DefaultCurrentWindow is how many prior tax years stay visible next to the
// current one.
const DefaultCurrentWindow = 2

// MinCurrentYear returns the oldest tax year SelectCurrent keeps.
func MinCurrentYear(now time.Time, window int) int {
	return now.Year() - window
}

// SelectCurrent returns at most one package per (jurisdiction level,
// jurisdiction code, tax year) for tax years >= now.Year()-window: the active
// package with the latest last_updated. Equal last_updated values fall back to
// the highest package_id; a nil last_updated ranks below any date.
func SelectCurrent(pkgs []RulesPackage, now time.Time, window int) []RulesPackage {
	minYear := MinCurrentYear(now, window)

	best := make(map[GroupKey]RulesPackage)
	for _, p := range pkgs {
		if !p.IsActive || p.TaxYear < minYear {
			continue
		}
		cur, ok := best[p.Key()]
		if !ok || newerPackage(p, cur) {
			best[p.Key()] = p
		}
	}

	out := make([]RulesPackage, 0, len(best))
	for _, p := range best {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b RulesPackage) int {
		return compareKeys(a.Key(), b.Key())
	})
	return out
}

// newerPackage reports whether a ranks ahead of b.
func newerPackage(a, b RulesPackage) bool {
	if c := compareTimes(a.LastUpdated, b.LastUpdated); c != 0 {
		return c > 0
	}
	return cmp.Compare(a.PackageID, b.PackageID) > 0
}
