package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var siteCols = []string{"sewershed_id", "region", "category"}

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:        "sites",
		Columns:      siteCols,
		ConflictKeys: []string{"sewershed_id"},
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_NoColumns(t *testing.T) {
	_, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:        "sites",
		ConflictKeys: []string{"sewershed_id"},
	}, [][]any{{"1", "Ohio"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkUpsert_NoConflictKeys(t *testing.T) {
	_, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:   "sites",
		Columns: siteCols,
	}, [][]any{{"1", "Ohio"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestBulkUpsert_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_sites" \(LIKE "sites" INCLUDING DEFAULTS\)`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_sites"}, siteCols).WillReturnResult(2)
	mock.ExpectExec(`DELETE FROM "_tmp_upsert_sites" a USING "_tmp_upsert_sites" b WHERE a.ctid < b.ctid AND a."sewershed_id" IS NOT DISTINCT FROM b."sewershed_id"`).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`INSERT INTO "sites" .* ON CONFLICT \("sewershed_id"\) DO UPDATE SET "region" = EXCLUDED."region", "category" = EXCLUDED."category"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "sites",
		Columns:      siteCols,
		ConflictKeys: []string{"sewershed_id"},
	}, [][]any{{"1", "Ohio", "Low"}, {"2", "Ohio", "High"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_AllKeyColumnsDoNothing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_tags"}, []string{"name"}).WillReturnResult(1)
	mock.ExpectExec("DELETE FROM").WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`ON CONFLICT \("name"\) DO NOTHING`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "tags",
		Columns:      []string{"name"},
		ConflictKeys: []string{"name"},
	}, [][]any{{"x"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_CopyFails(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_sites"}, siteCols).WillReturnError(fmt.Errorf("conn reset"))
	mock.ExpectRollback()

	_, err = BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "sites",
		Columns:      siteCols,
		ConflictKeys: []string{"sewershed_id"},
	}, [][]any{{"1", "Ohio", "Low"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY into temp table for sites")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"sites", `"sites"`},
		{"surveillance.sites", `"surveillance"."sites"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeTable(tt.input))
		})
	}
}

func TestTempTableName(t *testing.T) {
	assert.Equal(t, "_tmp_upsert_sites", TempTableName("sites"))
	assert.Equal(t, "_tmp_upsert_surveillance_sites", TempTableName("surveillance.sites"))
}

func TestQuoteAndJoin(t *testing.T) {
	assert.Equal(t, `"region", "ending_date", "category"`, quoteAndJoin([]string{"region", "ending_date", "category"}))
}
