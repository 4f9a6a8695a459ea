package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

const buildLogTable = "tax_rules.build_log"

// StartBuild records the beginning of a build and returns its ID.
func (s *PostgresStore) StartBuild(ctx context.Context) (string, error) {
	id := uuid.NewString()
	if _, err := s.pool.Exec(ctx,
		"INSERT INTO "+buildLogTable+" (id, status, started_at) VALUES ($1, 'running', now())",
		id,
	); err != nil {
		return "", eris.Wrap(err, "buildlog: start build")
	}
	return id, nil
}

// CompleteBuild marks a build as successfully completed.
func (s *PostgresStore) CompleteBuild(ctx context.Context, buildID string, summary *BuildSummary) error {
	if summary == nil {
		summary = &BuildSummary{}
	}
	meta, err := marshalMetadata(summary.Metadata)
	if err != nil {
		return err
	}

	if _, err := s.pool.Exec(ctx,
		`UPDATE `+buildLogTable+`
		 SET status = 'complete', completed_at = now(), items_read = $1, items_staged = $2,
		     packages_built = $3, metadata = $4
		 WHERE id = $5`,
		summary.ItemsRead, summary.ItemsStaged, summary.PackagesBuilt, meta, buildID,
	); err != nil {
		return eris.Wrapf(err, "buildlog: complete build %s", buildID)
	}
	return nil
}

// FailBuild marks a build as failed with an error message.
func (s *PostgresStore) FailBuild(ctx context.Context, buildID string, errMsg string) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE `+buildLogTable+`
		 SET status = 'failed', completed_at = now(), error = $1
		 WHERE id = $2`,
		errMsg, buildID,
	); err != nil {
		return eris.Wrapf(err, "buildlog: fail build %s", buildID)
	}
	return nil
}

// LastSuccess returns the most recent completed build, or nil if none.
func (s *PostgresStore) LastSuccess(ctx context.Context) (*BuildEntry, error) {
	entries, err := s.queryBuilds(ctx,
		buildSelect+" WHERE status = 'complete' ORDER BY started_at DESC LIMIT 1",
	)
	if err != nil {
		return nil, eris.Wrap(err, "buildlog: last success")
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

// Builds returns up to limit entries, most recent first. limit <= 0 returns all.
func (s *PostgresStore) Builds(ctx context.Context, limit int) ([]BuildEntry, error) {
	query := buildSelect + " ORDER BY started_at DESC"
	var args []any
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}
	entries, err := s.queryBuilds(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "buildlog: list builds")
	}
	return entries, nil
}

const buildSelect = `SELECT id::text, status, started_at, completed_at, items_read, items_staged,
	packages_built, error, metadata FROM ` + buildLogTable

func (s *PostgresStore) queryBuilds(ctx context.Context, query string, args ...any) ([]BuildEntry, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []BuildEntry
	for rows.Next() {
		var (
			e           BuildEntry
			status      string
			completedAt *time.Time
			errStr      *string
			meta        []byte
		)
		if err := rows.Scan(&e.ID, &status, &e.StartedAt, &completedAt, &e.ItemsRead, &e.ItemsStaged,
			&e.PackagesBuilt, &errStr, &meta); err != nil {
			return nil, eris.Wrap(err, "scan entry")
		}
		e.Status = BuildStatus(status)
		e.CompletedAt = completedAt
		if errStr != nil {
			e.Error = *errStr
		}
		e.Metadata = unmarshalMetadata(meta)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
