package engine

import "time"

// AnnualAfter reports whether a rebuild is due for a source that publishes
// once a year starting in releaseMonth. It fires once per year, on the first
// run after the release month begins.
func AnnualAfter(now time.Time, lastBuild *time.Time, releaseMonth time.Month) bool {
	if lastBuild == nil {
		return true
	}
	release := time.Date(now.Year(), releaseMonth, 1, 0, 0, 0, 0, time.UTC)
	return !now.Before(release) && lastBuild.Before(release)
}

// fingerprintsChanged compares fresh source fingerprints with those recorded
// by the last successful build. Sources reporting no fingerprint never count
// as changed.
func fingerprintsChanged(meta map[string]any, current map[string]string) bool {
	prev, _ := meta[metaFingerprints].(map[string]any)
	for source, fp := range current {
		if fp == "" {
			continue
		}
		old, _ := prev[source].(string)
		if old != fp {
			return true
		}
	}
	return false
}
