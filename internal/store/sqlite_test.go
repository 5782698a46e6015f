package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackdeye/LAHacks/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	require.NoError(t, st.Migrate(context.Background()))
}

func TestSQLite_OpenBadPath(t *testing.T) {
	_, err := NewSQLite(filepath.Join(t.TempDir(), "missing", "dir", "test.db"))
	require.Error(t, err)
}

func TestSQLite_EmptyBatches(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	n, err := st.UpsertReadings(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = st.UpsertSites(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, st.ReplaceForecasts(ctx, nil))
	list, err := st.ListForecasts(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSQLite_EndingDateStoredAsISODate(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.UpsertReadings(ctx, []model.RegionReading{reading("Maine", "2024-12-28", "Low", 2)})
	require.NoError(t, err)

	var raw string
	require.NoError(t, st.db.QueryRowContext(ctx, `SELECT ending_date FROM region_readings`).Scan(&raw))
	assert.Equal(t, "2024-12-28", raw)
}

func TestSQLite_FailRunUnknown(t *testing.T) {
	st := newTestSQLiteStore(t)
	err := st.FailRun(context.Background(), "nope", "boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ingest run nope")
}

func TestSQLite_MatchFoldsUnicode(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.UpsertReadings(ctx, []model.RegionReading{reading("Ñuble", "2025-01-04", "High", 6)})
	require.NoError(t, err)
	_, err = st.UpsertSites(ctx, []model.Site{
		{Region: "New Mexico", SiteID: "3101", CountiesServed: "Doña Ana", Category: "Moderate", ReportingWeek: "2025-01-04"},
	})
	require.NoError(t, err)

	got, err := st.LatestReading(ctx, "ñUBLE")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Ñuble", got.Region)

	history, err := st.ReadingHistory(ctx, "ñub")
	require.NoError(t, err)
	assert.Len(t, history, 1)

	sites, err := st.FindSites(ctx, "new mexico", "DOÑA")
	require.NoError(t, err)
	require.Len(t, sites, 1)
	assert.Equal(t, "3101", sites[0].SiteID)
}
