package ingest

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	fetchermocks "github.com/jackdeye/LAHacks/internal/fetcher/mocks"
	"github.com/jackdeye/LAHacks/internal/model"
	"github.com/jackdeye/LAHacks/internal/observability"
	"github.com/jackdeye/LAHacks/internal/store"
)

const (
	testCountyURL = "https://cdc.test/county.csv"
	testStateURL  = "https://cdc.test/state.csv"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func body(s string) io.ReadCloser {
	return io.NopCloser(strings.NewReader(s))
}

func newTestLoader(t *testing.T, st store.Store, f *fetchermocks.MockFetcher, latestOnly bool) *Loader {
	t.Helper()
	return NewLoader(st, f, Options{
		CountyURL:  testCountyURL,
		StateURL:   testStateURL,
		LatestOnly: latestOnly,
	}, observability.NewMetricsForTesting())
}

func TestLoader_RunAll(t *testing.T) {
	st := newTestStore(t)
	f := fetchermocks.NewMockFetcher(t)
	f.EXPECT().Download(mock.Anything, testCountyURL).Return(body(countyCSV), nil)
	f.EXPECT().Download(mock.Anything, testStateURL).Return(body(stateCSV), nil)

	summary := newTestLoader(t, st, f, true).Run(context.Background())
	require.Len(t, summary.Steps, 2)
	assert.Zero(t, summary.Failed())
	assert.Equal(t, int64(4), summary.Rows())

	ctx := context.Background()
	sites, err := st.FindSites(ctx, "California", "")
	require.NoError(t, err)
	assert.Len(t, sites, 1)

	latest, err := st.LatestReading(ctx, "Ohio")
	require.NoError(t, err)
	assert.Equal(t, "2025-01-11", latest.EndingDateString())

	runs, err := st.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	for _, r := range runs {
		assert.Equal(t, model.RunStatusComplete, r.Status)
	}
}

func TestLoader_FullHistory(t *testing.T) {
	st := newTestStore(t)
	f := fetchermocks.NewMockFetcher(t)
	f.EXPECT().Download(mock.Anything, testStateURL).Return(body(stateCSV), nil)

	summary := newTestLoader(t, st, f, false).Run(context.Background(), SourceState)
	require.Len(t, summary.Steps, 1)
	assert.Equal(t, int64(4), summary.Steps[0].Rows)

	hist, err := st.RegionHistory(context.Background(), "Alabama")
	require.NoError(t, err)
	assert.Len(t, hist, 2)
}

func TestLoader_OneStepFailsOtherContinues(t *testing.T) {
	st := newTestStore(t)
	f := fetchermocks.NewMockFetcher(t)
	f.EXPECT().Download(mock.Anything, testCountyURL).Return(nil, errors.New("download: unexpected status 503"))
	f.EXPECT().Download(mock.Anything, testStateURL).Return(body(stateCSV), nil)

	summary := newTestLoader(t, st, f, true).Run(context.Background())
	assert.Equal(t, 1, summary.Failed())

	var county, state StepResult
	for _, s := range summary.Steps {
		switch s.Source {
		case SourceCounty:
			county = s
		case SourceState:
			state = s
		}
	}
	require.Error(t, county.Err)
	assert.Contains(t, county.Err.Error(), "503")
	require.NoError(t, state.Err)
	assert.Equal(t, int64(2), state.Rows)

	runs, err := st.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	statuses := map[string]model.RunStatus{}
	errs := map[string]string{}
	for _, r := range runs {
		statuses[r.Source] = r.Status
		errs[r.Source] = r.Error
	}
	assert.Equal(t, model.RunStatusFailed, statuses[SourceCounty])
	assert.Contains(t, errs[SourceCounty], "503")
	assert.Equal(t, model.RunStatusComplete, statuses[SourceState])
}

func TestLoader_MissingColumnsFailsStep(t *testing.T) {
	st := newTestStore(t)
	f := fetchermocks.NewMockFetcher(t)
	f.EXPECT().Download(mock.Anything, testStateURL).Return(body("State/Territory,Coverage\nOhio,Full\n"), nil)

	summary := newTestLoader(t, st, f, true).Run(context.Background(), SourceState)
	require.Equal(t, 1, summary.Failed())
	assert.Contains(t, summary.Steps[0].Err.Error(), "Week_Ending_Date")

	regions, err := st.ListRegions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, regions)
}

func TestLoader_EmptyAfterFilteringWritesNothing(t *testing.T) {
	st := newTestStore(t)
	f := fetchermocks.NewMockFetcher(t)
	input := strings.Join(readingColumns, ",") + "\nOhio,never,,1,1,1,Low,Full\n"
	f.EXPECT().Download(mock.Anything, testStateURL).Return(body(input), nil)

	summary := newTestLoader(t, st, f, true).Run(context.Background(), SourceState)
	assert.Zero(t, summary.Failed())
	assert.Zero(t, summary.Rows())
}

func TestLoader_UnknownSource(t *testing.T) {
	st := newTestStore(t)
	f := fetchermocks.NewMockFetcher(t)

	summary := newTestLoader(t, st, f, true).Run(context.Background(), "sewersheds")
	require.Equal(t, 1, summary.Failed())
	assert.Contains(t, summary.Steps[0].Err.Error(), "unknown source")
}
