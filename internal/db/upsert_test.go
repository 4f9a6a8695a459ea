package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkUpsertTx_EmptyRows(t *testing.T) {
	n, err := BulkUpsertTx(context.TODO(), nil, UpsertConfig{
		Table:        "tax_rules.rules_packages",
		Columns:      []string{"package_id", "checksum_sha256"},
		ConflictKeys: []string{"package_id"},
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsertTx_NoColumns(t *testing.T) {
	_, err := BulkUpsertTx(context.TODO(), nil, UpsertConfig{
		Table:        "tax_rules.rules_packages",
		ConflictKeys: []string{"package_id"},
	}, [][]any{{"US_2024_v1", "abc"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkUpsertTx_NoConflictKeys(t *testing.T) {
	_, err := BulkUpsertTx(context.TODO(), nil, UpsertConfig{
		Table:   "tax_rules.rules_packages",
		Columns: []string{"package_id", "checksum_sha256"},
	}, [][]any{{"US_2024_v1", "abc"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestBulkUpsertTx_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cols := []string{"package_id", "checksum_sha256"}
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_tax_rules_rules_packages"}, cols).WillReturnResult(2)
	mock.ExpectExec("INSERT INTO").WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	ctx := context.Background()
	tx, err := mock.Begin(ctx)
	require.NoError(t, err)
	n, err := BulkUpsertTx(ctx, tx, UpsertConfig{
		Table:        "tax_rules.rules_packages",
		Columns:      cols,
		ConflictKeys: []string{"package_id"},
	}, [][]any{{"US_2024_v1", "a"}, {"CA_2024_v1", "b"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.NoError(t, tx.Commit(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsertTx_CopyError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cols := []string{"package_id"}
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_tax_rules_rules_packages"}, cols).WillReturnError(errors.New("db down"))

	ctx := context.Background()
	tx, err := mock.Begin(ctx)
	require.NoError(t, err)
	_, err = BulkUpsertTx(ctx, tx, UpsertConfig{
		Table:        "tax_rules.rules_packages",
		Columns:      cols,
		ConflictKeys: []string{"package_id"},
	}, [][]any{{"US_2024_v1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY into temp table")
}

func TestUpsertSQL_UpdateCols(t *testing.T) {
	sql := upsertSQL(UpsertConfig{
		Table:        "tax_rules.rules_packages",
		Columns:      []string{"package_id", "checksum_sha256", "is_promoted"},
		ConflictKeys: []string{"package_id"},
		UpdateCols:   []string{"checksum_sha256"},
	}, "_tmp")

	assert.Contains(t, sql, `INSERT INTO "tax_rules"."rules_packages"`)
	assert.Contains(t, sql, `ON CONFLICT ("package_id") DO UPDATE SET "checksum_sha256" = EXCLUDED."checksum_sha256"`)
	assert.NotContains(t, sql, `"is_promoted" = EXCLUDED`)
}

func TestUpsertSQL_DefaultUpdateCols(t *testing.T) {
	sql := upsertSQL(UpsertConfig{
		Table:        "t",
		Columns:      []string{"id", "name", "value"},
		ConflictKeys: []string{"id"},
	}, "_tmp")
	assert.Contains(t, sql, `"name" = EXCLUDED."name", "value" = EXCLUDED."value"`)
}

func TestUpsertSQL_NothingToUpdate(t *testing.T) {
	sql := upsertSQL(UpsertConfig{
		Table:        "t",
		Columns:      []string{"id"},
		ConflictKeys: []string{"id"},
	}, "_tmp")
	assert.Contains(t, sql, "DO NOTHING")
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"tax_rules.rules_packages", `"tax_rules"."rules_packages"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeTable(tt.input))
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	assert.Equal(t, `"id", "name", "value"`, quoteAndJoin([]string{"id", "name", "value"}))
}
