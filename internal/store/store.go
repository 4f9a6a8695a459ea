// Package store persists raw revenue procedure items, built rules packages
// and the build log in Postgres or SQLite.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/taxrules/internal/rules"
)

// ErrNotFound is returned when a package id does not exist.
var ErrNotFound = eris.New("store: not found")

// PackageFilter narrows package listings. Zero values match everything.
type PackageFilter struct {
	JurisdictionCode string `json:"jurisdiction,omitempty"`
	TaxYear          int    `json:"year,omitempty"`
}

// Match reports whether p passes the filter.
func (f PackageFilter) Match(p rules.RulesPackage) bool {
	if f.JurisdictionCode != "" && p.JurisdictionCode != f.JurisdictionCode {
		return false
	}
	if f.TaxYear != 0 && p.TaxYear != f.TaxYear {
		return false
	}
	return true
}

// BuildStatus is the state of a build log entry.
type BuildStatus string

const (
	BuildRunning  BuildStatus = "running"
	BuildComplete BuildStatus = "complete"
	BuildFailed   BuildStatus = "failed"
)

// BuildEntry is one row of the build log.
type BuildEntry struct {
	ID            string         `json:"id"`
	Status        BuildStatus    `json:"status"`
	StartedAt     time.Time      `json:"started_at"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	ItemsRead     int            `json:"items_read"`
	ItemsStaged   int            `json:"items_staged"`
	PackagesBuilt int            `json:"packages_built"`
	Error         string         `json:"error,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// BuildSummary holds the outcome of a build, passed to CompleteBuild.
type BuildSummary struct {
	ItemsRead     int            `json:"items_read"`
	ItemsStaged   int            `json:"items_staged"`
	PackagesBuilt int            `json:"packages_built"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Store defines the persistence interface for the rules builder.
type Store interface {
	// Raw items
	ReplaceItems(ctx context.Context, items []rules.RevProcItem) (int64, error)
	Items(ctx context.Context) ([]rules.RevProcItem, error)

	// Packages
	ReplacePackages(ctx context.Context, pkgs []rules.RulesPackage) error
	Packages(ctx context.Context, filter PackageFilter) ([]rules.RulesPackage, error)
	Package(ctx context.Context, packageID string) (*rules.RulesPackage, error)
	Current(ctx context.Context, now time.Time, window int) ([]rules.RulesPackage, error)
	Promote(ctx context.Context, packageID string) error

	// Build log
	StartBuild(ctx context.Context) (string, error)
	CompleteBuild(ctx context.Context, buildID string, summary *BuildSummary) error
	FailBuild(ctx context.Context, buildID string, errMsg string) error
	LastSuccess(ctx context.Context) (*BuildEntry, error)
	Builds(ctx context.Context, limit int) ([]BuildEntry, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
