package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pkg(id, code string, year int, lastUpdated string, active bool) RulesPackage {
	p := RulesPackage{
		PackageID:         id,
		JurisdictionLevel: Federal,
		JurisdictionCode:  code,
		TaxYear:           year,
		IsActive:          active,
	}
	if lastUpdated != "" {
		p.LastUpdated = datep(lastUpdated)
	}
	return p
}

var now2025 = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func TestSelectCurrent_PicksLatestActive(t *testing.T) {
	pkgs := []RulesPackage{
		pkg("US_2025_v1", "US", 2025, "2024-10-22", true),
		pkg("US_2025_v2", "US", 2025, "2024-12-01", true),
		pkg("US_2025_v3", "US", 2025, "2025-01-05", false),
	}
	got := SelectCurrent(pkgs, now2025, DefaultCurrentWindow)
	require.Len(t, got, 1)
	assert.Equal(t, "US_2025_v2", got[0].PackageID)
}

func TestSelectCurrent_ExcludesOldYears(t *testing.T) {
	pkgs := []RulesPackage{
		pkg("US_2022_v1", "US", 2022, "2021-11-10", true),
		pkg("US_2023_v1", "US", 2023, "2022-10-18", true),
		pkg("US_2024_v1", "US", 2024, "2023-11-09", true),
		pkg("US_2025_v1", "US", 2025, "2024-10-22", true),
	}
	got := SelectCurrent(pkgs, now2025, DefaultCurrentWindow)
	require.Len(t, got, 3)
	for _, p := range got {
		assert.GreaterOrEqual(t, p.TaxYear, 2023)
	}
	assert.Equal(t, 2023, MinCurrentYear(now2025, DefaultCurrentWindow))
}

func TestSelectCurrent_OneRowPerGroup(t *testing.T) {
	ca := pkg("CA_2025_v1", "CA", 2025, "2024-11-01", true)
	ca.JurisdictionLevel = State
	pkgs := []RulesPackage{
		pkg("US_2025_v1", "US", 2025, "2024-10-22", true),
		pkg("US_2025_v2", "US", 2025, "2024-10-22", true),
		pkg("US_2024_v1", "US", 2024, "2023-11-09", true),
		ca,
	}
	got := SelectCurrent(pkgs, now2025, DefaultCurrentWindow)
	require.Len(t, got, 3)

	seen := make(map[GroupKey]bool)
	for _, p := range got {
		assert.False(t, seen[p.Key()], "duplicate group %v", p.Key())
		seen[p.Key()] = true
	}
	assert.Equal(t, "US_2024_v1", got[0].PackageID)
	assert.Equal(t, "US_2025_v2", got[1].PackageID, "equal last_updated falls back to highest package_id")
	assert.Equal(t, "CA_2025_v1", got[2].PackageID)
}

func TestSelectCurrent_TieBreakIndependentOfInputOrder(t *testing.T) {
	a := pkg("US_2025_v1", "US", 2025, "2024-10-22", true)
	b := pkg("US_2025_v2", "US", 2025, "2024-10-22", true)

	got1 := SelectCurrent([]RulesPackage{a, b}, now2025, DefaultCurrentWindow)
	got2 := SelectCurrent([]RulesPackage{b, a}, now2025, DefaultCurrentWindow)
	assert.Equal(t, got1, got2)
}

func TestSelectCurrent_NilLastUpdatedRanksLowest(t *testing.T) {
	pkgs := []RulesPackage{
		pkg("US_2025_v9", "US", 2025, "", true),
		pkg("US_2025_v1", "US", 2025, "2024-10-22", true),
	}
	got := SelectCurrent(pkgs, now2025, DefaultCurrentWindow)
	require.Len(t, got, 1)
	assert.Equal(t, "US_2025_v1", got[0].PackageID)
}

func TestSelectCurrent_NoActive(t *testing.T) {
	got := SelectCurrent([]RulesPackage{pkg("US_2025_v1", "US", 2025, "2024-10-22", false)}, now2025, DefaultCurrentWindow)
	assert.Empty(t, got)
}
