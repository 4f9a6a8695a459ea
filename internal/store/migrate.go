package store

import (
	"context"
	"embed"
	"io/fs"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/taxrules/internal/db"
)

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

const postgresMigrationDir = "migrations/postgres"

// migrationLockID keys the advisory lock held while migrations run.
const migrationLockID = 8675309

// migratePostgres runs all pending SQL migrations in lexicographic order.
// It creates the tax_rules schema and schema_migrations tracking table if
// needed, then applies any .sql files not yet recorded, all in one
// transaction.
func migratePostgres(ctx context.Context, pool db.Pool) error {
	log := zap.L().With(zap.String("component", "store.migrate"))

	tx, err := pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "store: migrate: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Held until commit so overlapping deploys never apply the same file twice.
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLockID); err != nil {
		return eris.Wrap(err, "store: acquire migration advisory lock")
	}

	if err := ensureMigrationTable(ctx, tx); err != nil {
		return err
	}

	entries, err := fs.ReadDir(postgresMigrations, postgresMigrationDir)
	if err != nil {
		return eris.Wrap(err, "store: read migration dir")
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	applied, err := appliedMigrations(ctx, tx)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		name := entry.Name()
		if applied[name] {
			continue
		}

		data, err := postgresMigrations.ReadFile(postgresMigrationDir + "/" + name)
		if err != nil {
			return eris.Wrapf(err, "store: read migration %s", name)
		}

		log.Info("applying migration", zap.String("file", name))

		if _, err := tx.Exec(ctx, string(data)); err != nil {
			return eris.Wrapf(err, "store: apply migration %s", name)
		}
		if _, err := tx.Exec(ctx,
			"INSERT INTO tax_rules.schema_migrations (filename, applied_at) VALUES ($1, now())",
			name,
		); err != nil {
			return eris.Wrapf(err, "store: record migration %s", name)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "store: migrate: commit tx")
	}
	return nil
}

func ensureMigrationTable(ctx context.Context, q db.Querier) error {
	sql := `
		CREATE SCHEMA IF NOT EXISTS tax_rules;
		CREATE TABLE IF NOT EXISTS tax_rules.schema_migrations (
			id         SERIAL PRIMARY KEY,
			filename   TEXT NOT NULL UNIQUE,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`
	if _, err := q.Exec(ctx, sql); err != nil {
		return eris.Wrap(err, "store: ensure migration table")
	}
	return nil
}

func appliedMigrations(ctx context.Context, q db.Querier) (map[string]bool, error) {
	rows, err := q.Query(ctx, "SELECT filename FROM tax_rules.schema_migrations")
	if err != nil {
		return nil, eris.Wrap(err, "store: query applied migrations")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "store: scan migration row")
		}
		applied[name] = true
	}
	return applied, rows.Err()
}
