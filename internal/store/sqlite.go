package store

import (
	"context"
	"database/sql"
	"embed"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/taxrules/internal/rules"
)

//go:embed migrations/sqlite/*.sql
var sqliteMigrations embed.FS

const sqliteMigrationDir = "migrations/sqlite"

// Fixed-width so stored timestamps sort lexicographically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements Store on a local SQLite file.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(path string) (*SQLiteStore, error) {
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Migrate applies the embedded goose migrations.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	goose.SetBaseFS(sqliteMigrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(string(goose.DialectSQLite3)); err != nil {
		return eris.Wrap(err, "sqlite: set migration dialect")
	}
	if err := goose.UpContext(ctx, s.db.DB, sqliteMigrationDir); err != nil {
		return eris.Wrap(err, "sqlite: migrate")
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type sqliteItem struct {
	TaxYear           sql.NullInt64   `db:"tax_year"`
	JurisdictionLevel sql.NullString  `db:"jurisdiction_level"`
	JurisdictionCode  sql.NullString  `db:"jurisdiction_code"`
	Section           sql.NullString  `db:"section"`
	FilingStatus      sql.NullString  `db:"filing_status"`
	Key               sql.NullString  `db:"key"`
	Value             sql.NullString  `db:"value"`
	ValueNumeric      sql.NullFloat64 `db:"value_numeric"`
	TaxRate           sql.NullFloat64 `db:"tax_rate"`
	IncomeRangeMin    sql.NullFloat64 `db:"income_range_min"`
	IncomeRangeMax    sql.NullFloat64 `db:"income_range_max"`
	RevProcNumber     sql.NullString  `db:"revproc_number"`
	SourceURL         sql.NullString  `db:"source_url"`
	PublishedDate     sql.NullString  `db:"published_date"`
	Confidence        sql.NullFloat64 `db:"confidence"`
}

func (r sqliteItem) toItem() rules.RevProcItem {
	it := rules.RevProcItem{
		JurisdictionLevel: nullString(r.JurisdictionLevel),
		JurisdictionCode:  nullString(r.JurisdictionCode),
		Section:           nullString(r.Section),
		FilingStatus:      nullString(r.FilingStatus),
		Key:               nullString(r.Key),
		Value:             nullString(r.Value),
		ValueNumeric:      nullFloat(r.ValueNumeric),
		TaxRate:           nullFloat(r.TaxRate),
		IncomeRangeMin:    nullFloat(r.IncomeRangeMin),
		IncomeRangeMax:    nullFloat(r.IncomeRangeMax),
		RevProcNumber:     nullString(r.RevProcNumber),
		SourceURL:         nullString(r.SourceURL),
		PublishedDate:     parseSQLiteDate(r.PublishedDate),
		Confidence:        nullFloat(r.Confidence),
	}
	if r.TaxYear.Valid {
		y := int(r.TaxYear.Int64)
		it.TaxYear = &y
	}
	return it
}

// ReplaceItems swaps the raw item table for items in one transaction.
func (s *SQLiteStore) ReplaceItems(ctx context.Context, items []rules.RevProcItem) (int64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: replace items: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, "DELETE FROM revproc_items"); err != nil {
		return 0, eris.Wrap(err, "sqlite: clear items")
	}

	stmt, err := tx.PreparexContext(ctx, `INSERT INTO revproc_items (`+strings.Join(itemColumns, ", ")+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare item insert")
	}
	defer stmt.Close() //nolint:errcheck

	for _, it := range items {
		if _, err := stmt.ExecContext(ctx,
			it.TaxYear, it.JurisdictionLevel, it.JurisdictionCode, it.Section, it.FilingStatus,
			it.Key, it.Value, it.ValueNumeric, it.TaxRate, it.IncomeRangeMin, it.IncomeRangeMax,
			it.RevProcNumber, it.SourceURL, formatSQLiteDate(it.PublishedDate), it.Confidence,
		); err != nil {
			return 0, eris.Wrap(err, "sqlite: insert item")
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: replace items: commit tx")
	}
	return int64(len(items)), nil
}

// Items returns every raw item in load order.
func (s *SQLiteStore) Items(ctx context.Context) ([]rules.RevProcItem, error) {
	var rows []sqliteItem
	if err := s.db.SelectContext(ctx, &rows,
		"SELECT "+strings.Join(itemColumns, ", ")+" FROM revproc_items ORDER BY id",
	); err != nil {
		return nil, eris.Wrap(err, "sqlite: query items")
	}
	items := make([]rules.RevProcItem, len(rows))
	for i, r := range rows {
		items[i] = r.toItem()
	}
	return items, nil
}

type sqlitePackage struct {
	PackageID         string         `db:"package_id"`
	JurisdictionLevel string         `db:"jurisdiction_level"`
	JurisdictionCode  string         `db:"jurisdiction_code"`
	TaxYear           int            `db:"tax_year"`
	PackageVersion    int            `db:"package_version"`
	EffectiveDate     sql.NullString `db:"effective_date"`
	LastUpdated       sql.NullString `db:"last_updated"`
	StandardDeduction string         `db:"standard_deduction"`
	TaxBrackets       string         `db:"tax_brackets"`
	Sources           string         `db:"sources"`
	SourceCount       int            `db:"source_count"`
	TotalItems        int            `db:"total_items"`
	ChecksumSHA256    string         `db:"checksum_sha256"`
	IsActive          bool           `db:"is_active"`
	IsPromoted        bool           `db:"is_promoted"`
	CreatedAt         string         `db:"created_at"`
	UpdatedAt         string         `db:"updated_at"`
}

func (r sqlitePackage) toPackage() (rules.RulesPackage, error) {
	p := rules.RulesPackage{
		PackageID:         r.PackageID,
		JurisdictionLevel: rules.JurisdictionLevel(r.JurisdictionLevel),
		JurisdictionCode:  r.JurisdictionCode,
		TaxYear:           r.TaxYear,
		PackageVersion:    r.PackageVersion,
		EffectiveDate:     parseSQLiteDate(r.EffectiveDate),
		LastUpdated:       parseSQLiteDate(r.LastUpdated),
		SourceCount:       r.SourceCount,
		TotalItems:        r.TotalItems,
		ChecksumSHA256:    r.ChecksumSHA256,
		IsActive:          r.IsActive,
		IsPromoted:        r.IsPromoted,
		CreatedAt:         parseSQLiteTime(r.CreatedAt),
		UpdatedAt:         parseSQLiteTime(r.UpdatedAt),
	}
	if err := decodePackage(&p, []byte(r.StandardDeduction), []byte(r.TaxBrackets), []byte(r.Sources)); err != nil {
		return rules.RulesPackage{}, err
	}
	return p, nil
}

// ReplacePackages upserts pkgs and deletes every package the run did not
// produce, in one transaction. Promotion, activation and creation time of
// surviving packages are preserved.
func (s *SQLiteStore) ReplacePackages(ctx context.Context, pkgs []rules.RulesPackage) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: replace packages: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	sets := make([]string, len(packageUpdateColumns))
	for i, c := range packageUpdateColumns {
		sets[i] = c + " = excluded." + c
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(packageColumns)), ", ")
	stmt, err := tx.PreparexContext(ctx, `INSERT INTO rules_packages (`+strings.Join(packageColumns, ", ")+`)
		VALUES (`+placeholders+`)
		ON CONFLICT (package_id) DO UPDATE SET `+strings.Join(sets, ", "))
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare package upsert")
	}
	defer stmt.Close() //nolint:errcheck

	ids := make([]string, 0, len(pkgs))
	for _, p := range pkgs {
		doc, err := encodePackage(p)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			p.PackageID, string(p.JurisdictionLevel), p.JurisdictionCode, p.TaxYear, p.PackageVersion,
			formatSQLiteDate(p.EffectiveDate), formatSQLiteDate(p.LastUpdated),
			doc.standardDeduction, doc.taxBrackets, doc.sources,
			p.SourceCount, p.TotalItems, p.ChecksumSHA256, p.IsActive, p.IsPromoted,
			formatSQLiteTime(p.CreatedAt), formatSQLiteTime(p.UpdatedAt),
		); err != nil {
			return eris.Wrapf(err, "sqlite: upsert package %s", p.PackageID)
		}
		ids = append(ids, p.PackageID)
	}

	if len(ids) == 0 {
		if _, err := tx.ExecContext(ctx, "DELETE FROM rules_packages"); err != nil {
			return eris.Wrap(err, "sqlite: delete stale packages")
		}
	} else {
		query, args, err := sqlx.In("DELETE FROM rules_packages WHERE package_id NOT IN (?)", ids)
		if err != nil {
			return eris.Wrap(err, "sqlite: build stale package delete")
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
			return eris.Wrap(err, "sqlite: delete stale packages")
		}
	}

	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "sqlite: replace packages: commit tx")
	}
	return nil
}

// Packages lists packages matching filter ordered by level, code and year.
func (s *SQLiteStore) Packages(ctx context.Context, filter PackageFilter) ([]rules.RulesPackage, error) {
	query := "SELECT " + strings.Join(packageColumns, ", ") + " FROM rules_packages"
	var where []string
	var args []any
	if filter.JurisdictionCode != "" {
		where = append(where, "jurisdiction_code = ?")
		args = append(args, filter.JurisdictionCode)
	}
	if filter.TaxYear != 0 {
		where = append(where, "tax_year = ?")
		args = append(args, filter.TaxYear)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY jurisdiction_level, jurisdiction_code, tax_year, package_id"

	return s.selectPackages(ctx, query, args...)
}

// Package returns one package or ErrNotFound.
func (s *SQLiteStore) Package(ctx context.Context, packageID string) (*rules.RulesPackage, error) {
	pkgs, err := s.selectPackages(ctx,
		"SELECT "+strings.Join(packageColumns, ", ")+" FROM rules_packages WHERE package_id = ?",
		packageID,
	)
	if err != nil {
		return nil, err
	}
	if len(pkgs) == 0 {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: package %s", packageID)
	}
	return &pkgs[0], nil
}

// Current loads the active packages inside the window and ranks them with
// rules.SelectCurrent.
func (s *SQLiteStore) Current(ctx context.Context, now time.Time, window int) ([]rules.RulesPackage, error) {
	pkgs, err := s.selectPackages(ctx,
		"SELECT "+strings.Join(packageColumns, ", ")+" FROM rules_packages WHERE is_active = 1 AND tax_year >= ?",
		rules.MinCurrentYear(now, window),
	)
	if err != nil {
		return nil, err
	}
	return rules.SelectCurrent(pkgs, now, window), nil
}

// Promote marks a package as promoted.
func (s *SQLiteStore) Promote(ctx context.Context, packageID string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE rules_packages SET is_promoted = 1, updated_at = ? WHERE package_id = ?",
		formatSQLiteTime(time.Now()), packageID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: promote %s", packageID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: package %s", packageID)
	}
	return nil
}

func (s *SQLiteStore) selectPackages(ctx context.Context, query string, args ...any) ([]rules.RulesPackage, error) {
	var rows []sqlitePackage
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, eris.Wrap(err, "sqlite: query packages")
	}
	out := make([]rules.RulesPackage, 0, len(rows))
	for _, r := range rows {
		p, err := r.toPackage()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

type sqliteBuild struct {
	ID            string         `db:"id"`
	Status        string         `db:"status"`
	StartedAt     string         `db:"started_at"`
	CompletedAt   sql.NullString `db:"completed_at"`
	ItemsRead     int            `db:"items_read"`
	ItemsStaged   int            `db:"items_staged"`
	PackagesBuilt int            `db:"packages_built"`
	Error         sql.NullString `db:"error"`
	Metadata      sql.NullString `db:"metadata"`
}

func (r sqliteBuild) toEntry() BuildEntry {
	e := BuildEntry{
		ID:            r.ID,
		Status:        BuildStatus(r.Status),
		StartedAt:     parseSQLiteTime(r.StartedAt),
		ItemsRead:     r.ItemsRead,
		ItemsStaged:   r.ItemsStaged,
		PackagesBuilt: r.PackagesBuilt,
		Error:         r.Error.String,
		Metadata:      unmarshalMetadata([]byte(r.Metadata.String)),
	}
	if r.CompletedAt.Valid {
		t := parseSQLiteTime(r.CompletedAt.String)
		e.CompletedAt = &t
	}
	return e
}

const sqliteBuildSelect = `SELECT id, status, started_at, completed_at, items_read, items_staged,
	packages_built, error, metadata FROM build_log`

// StartBuild records the beginning of a build and returns its ID.
func (s *SQLiteStore) StartBuild(ctx context.Context) (string, error) {
	id := uuid.NewString()
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO build_log (id, status, started_at) VALUES (?, 'running', ?)",
		id, formatSQLiteTime(time.Now()),
	); err != nil {
		return "", eris.Wrap(err, "buildlog: start build")
	}
	return id, nil
}

// CompleteBuild marks a build as successfully completed.
func (s *SQLiteStore) CompleteBuild(ctx context.Context, buildID string, summary *BuildSummary) error {
	if summary == nil {
		summary = &BuildSummary{}
	}
	meta, err := marshalMetadata(summary.Metadata)
	if err != nil {
		return err
	}
	var metaArg any
	if meta != nil {
		metaArg = string(meta)
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE build_log SET status = 'complete', completed_at = ?, items_read = ?, items_staged = ?,
		 packages_built = ?, metadata = ? WHERE id = ?`,
		formatSQLiteTime(time.Now()), summary.ItemsRead, summary.ItemsStaged, summary.PackagesBuilt, metaArg, buildID,
	); err != nil {
		return eris.Wrapf(err, "buildlog: complete build %s", buildID)
	}
	return nil
}

// FailBuild marks a build as failed with an error message.
func (s *SQLiteStore) FailBuild(ctx context.Context, buildID string, errMsg string) error {
	if _, err := s.db.ExecContext(ctx,
		"UPDATE build_log SET status = 'failed', completed_at = ?, error = ? WHERE id = ?",
		formatSQLiteTime(time.Now()), errMsg, buildID,
	); err != nil {
		return eris.Wrapf(err, "buildlog: fail build %s", buildID)
	}
	return nil
}

// LastSuccess returns the most recent completed build, or nil if none.
func (s *SQLiteStore) LastSuccess(ctx context.Context) (*BuildEntry, error) {
	var rows []sqliteBuild
	if err := s.db.SelectContext(ctx, &rows,
		sqliteBuildSelect+" WHERE status = 'complete' ORDER BY started_at DESC LIMIT 1",
	); err != nil {
		return nil, eris.Wrap(err, "buildlog: last success")
	}
	if len(rows) == 0 {
		return nil, nil
	}
	e := rows[0].toEntry()
	return &e, nil
}

// Builds returns up to limit entries, most recent first. limit <= 0 returns all.
func (s *SQLiteStore) Builds(ctx context.Context, limit int) ([]BuildEntry, error) {
	query := sqliteBuildSelect + " ORDER BY started_at DESC"
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	var rows []sqliteBuild
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, eris.Wrap(err, "buildlog: list builds")
	}
	entries := make([]BuildEntry, len(rows))
	for i, r := range rows {
		entries[i] = r.toEntry()
	}
	return entries, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullFloat(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	f := nf.Float64
	return &f
}

func formatSQLiteDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.DateOnly)
}

func parseSQLiteDate(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.DateOnly, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseSQLiteTime(s string) time.Time {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}
