package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/taxrules/internal/db"
	"github.com/sells-group/taxrules/internal/rules"
)

const (
	itemsTable    = "tax_rules.revproc_items"
	packagesTable = "tax_rules.rules_packages"
)

var itemColumns = []string{
	"tax_year", "jurisdiction_level", "jurisdiction_code", "section", "filing_status",
	"key", "value", "value_numeric", "tax_rate", "income_range_min", "income_range_max",
	"revproc_number", "source_url", "published_date", "confidence",
}

var packageColumns = []string{
	"package_id", "jurisdiction_level", "jurisdiction_code", "tax_year", "package_version",
	"effective_date", "last_updated", "standard_deduction", "tax_brackets", "sources",
	"source_count", "total_items", "checksum_sha256", "is_active", "is_promoted",
	"created_at", "updated_at",
}

// packageUpdateColumns are rewritten when a rebuild hits an existing
// package_id. Promotion, activation and creation time survive rebuilds.
var packageUpdateColumns = []string{
	"jurisdiction_level", "jurisdiction_code", "tax_year", "package_version",
	"effective_date", "last_updated", "standard_deduction", "tax_brackets", "sources",
	"source_count", "total_items", "checksum_sha256", "updated_at",
}

var packageSelect = "SELECT " + strings.Join(packageColumns, ", ") + " FROM " + packagesTable

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Migrate applies the embedded Postgres migrations.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	return migratePostgres(ctx, s.pool)
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// ReplaceItems swaps the raw item table for items in one transaction.
func (s *PostgresStore) ReplaceItems(ctx context.Context, items []rules.RevProcItem) (int64, error) {
	rows := make([][]any, len(items))
	for i, it := range items {
		rows[i] = []any{
			it.TaxYear, it.JurisdictionLevel, it.JurisdictionCode, it.Section, it.FilingStatus,
			it.Key, it.Value, it.ValueNumeric, it.TaxRate, it.IncomeRangeMin, it.IncomeRangeMax,
			it.RevProcNumber, it.SourceURL, dateOnly(it.PublishedDate), it.Confidence,
		}
	}
	n, err := db.ReplaceAll(ctx, s.pool, itemsTable, itemColumns, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: replace items")
	}
	return n, nil
}

// Items returns every raw item in load order.
func (s *PostgresStore) Items(ctx context.Context) ([]rules.RevProcItem, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+strings.Join(itemColumns, ", ")+" FROM "+itemsTable+" ORDER BY id",
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query items")
	}
	defer rows.Close()

	var items []rules.RevProcItem
	for rows.Next() {
		var it rules.RevProcItem
		if err := rows.Scan(
			&it.TaxYear, &it.JurisdictionLevel, &it.JurisdictionCode, &it.Section, &it.FilingStatus,
			&it.Key, &it.Value, &it.ValueNumeric, &it.TaxRate, &it.IncomeRangeMin, &it.IncomeRangeMax,
			&it.RevProcNumber, &it.SourceURL, &it.PublishedDate, &it.Confidence,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan item")
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// ReplacePackages upserts pkgs and deletes every package the run did not
// produce, in one transaction.
func (s *PostgresStore) ReplacePackages(ctx context.Context, pkgs []rules.RulesPackage) error {
	rows := make([][]any, 0, len(pkgs))
	ids := make([]string, 0, len(pkgs))
	for _, p := range pkgs {
		doc, err := encodePackage(p)
		if err != nil {
			return err
		}
		rows = append(rows, []any{
			p.PackageID, string(p.JurisdictionLevel), p.JurisdictionCode, p.TaxYear, p.PackageVersion,
			dateOnly(p.EffectiveDate), dateOnly(p.LastUpdated), doc.standardDeduction, doc.taxBrackets, doc.sources,
			p.SourceCount, p.TotalItems, p.ChecksumSHA256, p.IsActive, p.IsPromoted,
			p.CreatedAt, p.UpdatedAt,
		})
		ids = append(ids, p.PackageID)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: replace packages: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	n, err := db.BulkUpsertTx(ctx, tx, db.UpsertConfig{
		Table:        packagesTable,
		Columns:      packageColumns,
		ConflictKeys: []string{"package_id"},
		UpdateCols:   packageUpdateColumns,
	}, rows)
	if err != nil {
		return eris.Wrap(err, "postgres: replace packages")
	}

	tag, err := tx.Exec(ctx,
		"DELETE FROM "+packagesTable+" WHERE NOT (package_id = ANY($1))",
		ids,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: delete stale packages")
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "postgres: replace packages: commit tx")
	}

	zap.L().With(zap.String("component", "store.postgres")).Info("packages replaced",
		zap.Int64("upserted", n),
		zap.Int64("deleted", tag.RowsAffected()),
	)
	return nil
}

// Packages lists packages matching filter ordered by level, code and year.
func (s *PostgresStore) Packages(ctx context.Context, filter PackageFilter) ([]rules.RulesPackage, error) {
	query := packageSelect
	var where []string
	var args []any
	if filter.JurisdictionCode != "" {
		args = append(args, filter.JurisdictionCode)
		where = append(where, fmt.Sprintf("jurisdiction_code = $%d", len(args)))
	}
	if filter.TaxYear != 0 {
		args = append(args, filter.TaxYear)
		where = append(where, fmt.Sprintf("tax_year = $%d", len(args)))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY jurisdiction_level, jurisdiction_code, tax_year, package_id"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list packages")
	}
	return collectPackages(rows)
}

// Package returns one package or ErrNotFound.
func (s *PostgresStore) Package(ctx context.Context, packageID string) (*rules.RulesPackage, error) {
	rows, err := s.pool.Query(ctx, packageSelect+" WHERE package_id = $1", packageID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get package %s", packageID)
	}
	pkgs, err := collectPackages(rows)
	if err != nil {
		return nil, err
	}
	if len(pkgs) == 0 {
		return nil, eris.Wrapf(ErrNotFound, "postgres: package %s", packageID)
	}
	return &pkgs[0], nil
}

// Current ranks active packages per jurisdiction and year the same way
// rules.SelectCurrent does, in SQL.
func (s *PostgresStore) Current(ctx context.Context, now time.Time, window int) ([]rules.RulesPackage, error) {
	query := `SELECT ` + strings.Join(packageColumns, ", ") + ` FROM (
		SELECT p.*, row_number() OVER (
			PARTITION BY jurisdiction_level, jurisdiction_code, tax_year
			ORDER BY last_updated DESC NULLS LAST, package_id DESC
		) AS rn
		FROM ` + packagesTable + ` p
		WHERE is_active AND tax_year >= $1
	) ranked
	WHERE rn = 1
	ORDER BY jurisdiction_level, jurisdiction_code, tax_year`

	rows, err := s.pool.Query(ctx, query, rules.MinCurrentYear(now, window))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: current packages")
	}
	return collectPackages(rows)
}

// Promote marks a package as promoted.
func (s *PostgresStore) Promote(ctx context.Context, packageID string) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE "+packagesTable+" SET is_promoted = true, updated_at = now() WHERE package_id = $1",
		packageID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: promote %s", packageID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: package %s", packageID)
	}
	return nil
}

func collectPackages(rows pgx.Rows) ([]rules.RulesPackage, error) {
	defer rows.Close()

	var out []rules.RulesPackage
	for rows.Next() {
		var (
			p                 rules.RulesPackage
			level             string
			sd, tb, sourceDoc []byte
		)
		if err := rows.Scan(
			&p.PackageID, &level, &p.JurisdictionCode, &p.TaxYear, &p.PackageVersion,
			&p.EffectiveDate, &p.LastUpdated, &sd, &tb, &sourceDoc,
			&p.SourceCount, &p.TotalItems, &p.ChecksumSHA256, &p.IsActive, &p.IsPromoted,
			&p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan package")
		}
		p.JurisdictionLevel = rules.JurisdictionLevel(level)
		if err := decodePackage(&p, sd, tb, sourceDoc); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate packages")
	}
	return out, nil
}
