package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackdeye/LAHacks/internal/model"
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func fp(v float64) *float64 { return &v }

func day(s string) time.Time {
	t, err := time.Parse(model.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func reading(region, date, category string, score float64) model.RegionReading {
	return model.RegionReading{
		Region:               region,
		EndingDate:           day(date),
		DataCollectionPeriod: "2024-2025",
		StateWVAL:            fp(score),
		NationalWVAL:         fp(4.2),
		RegionalWVAL:         fp(3.1),
		Category:             category,
		Coverage:             "Full",
	}
}

func TestSQLiteStore(t *testing.T) {
	storeTestSuite(t, newTestSQLite)
}

func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("UpsertAndLatestReading", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		n, err := s.UpsertReadings(ctx, []model.RegionReading{
			reading("California", "2025-01-04", "Low", 3.0),
			reading("California", "2025-01-11", "Medium", 5.5),
			reading("Ohio", "2025-01-11", "High", 9.0),
		})
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)

		got, err := s.LatestReading(ctx, "california")
		require.NoError(t, err)
		assert.Equal(t, "California", got.Region)
		assert.Equal(t, "2025-01-11", got.EndingDateString())
		assert.Equal(t, "Medium", got.Category)
		require.NotNil(t, got.StateWVAL)
		assert.InDelta(t, 5.5, *got.StateWVAL, 1e-9)
		assert.Equal(t, "Full", got.Coverage)
	})

	t.Run("UpsertOverwritesSamePeriod", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.UpsertReadings(ctx, []model.RegionReading{reading("Utah", "2025-02-01", "Low", 2.0)})
		require.NoError(t, err)
		_, err = s.UpsertReadings(ctx, []model.RegionReading{reading("Utah", "2025-02-01", "High", 8.0)})
		require.NoError(t, err)

		hist, err := s.RegionHistory(ctx, "Utah")
		require.NoError(t, err)
		require.Len(t, hist, 1)
		assert.Equal(t, "High", hist[0].Category)
	})

	t.Run("UpsertDuplicatesInBatchKeepLast", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		n, err := s.UpsertReadings(ctx, []model.RegionReading{
			reading("Iowa", "2025-02-01", "Low", 2.0),
			reading("Iowa", "2025-02-01", "Medium", 4.0),
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		got, err := s.LatestReading(ctx, "Iowa")
		require.NoError(t, err)
		assert.Equal(t, "Medium", got.Category)
	})

	t.Run("UpsertRejectsMissingDate", func(t *testing.T) {
		s := newStore(t)
		_, err := s.UpsertReadings(context.Background(), []model.RegionReading{{Region: "Ohio"}})
		require.Error(t, err)
	})

	t.Run("NullScoresRoundTrip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		r := reading("Guam", "2025-03-01", "", 0)
		r.StateWVAL = nil
		r.RegionalWVAL = nil
		_, err := s.UpsertReadings(ctx, []model.RegionReading{r})
		require.NoError(t, err)

		got, err := s.LatestReading(ctx, "guam")
		require.NoError(t, err)
		assert.Nil(t, got.StateWVAL)
		assert.Nil(t, got.RegionalWVAL)
		require.NotNil(t, got.NationalWVAL)
	})

	t.Run("LatestReadingNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.LatestReading(context.Background(), "Atlantis")
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("ReadingHistorySubstringAscending", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.UpsertReadings(ctx, []model.RegionReading{
			reading("West Virginia", "2025-01-11", "Low", 2.5),
			reading("Virginia", "2025-01-18", "Low", 3.0),
			reading("Virginia", "2025-01-04", "Very Low", 1.0),
			reading("Texas", "2025-01-04", "High", 9.0),
		})
		require.NoError(t, err)

		hist, err := s.ReadingHistory(ctx, "VIRGINIA")
		require.NoError(t, err)
		require.Len(t, hist, 3)
		assert.Equal(t, "2025-01-04", hist[0].EndingDateString())
		assert.Equal(t, "West Virginia", hist[1].Region)
		assert.Equal(t, "2025-01-18", hist[2].EndingDateString())
	})

	t.Run("RegionHistoryExactDescending", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.UpsertReadings(ctx, []model.RegionReading{
			reading("West Virginia", "2025-01-11", "Low", 2.5),
			reading("Virginia", "2025-01-04", "Very Low", 1.0),
			reading("Virginia", "2025-01-18", "Low", 3.0),
		})
		require.NoError(t, err)

		hist, err := s.RegionHistory(ctx, "Virginia")
		require.NoError(t, err)
		require.Len(t, hist, 2)
		assert.Equal(t, "2025-01-18", hist[0].EndingDateString())
		assert.Equal(t, "2025-01-04", hist[1].EndingDateString())
	})

	t.Run("ListRegions", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		regions, err := s.ListRegions(ctx)
		require.NoError(t, err)
		assert.Empty(t, regions)

		_, err = s.UpsertReadings(ctx, []model.RegionReading{
			reading("Texas", "2025-01-04", "High", 9.0),
			reading("Alabama", "2025-01-04", "Low", 2.0),
			reading("Texas", "2025-01-11", "High", 9.5),
		})
		require.NoError(t, err)

		regions, err = s.ListRegions(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"Alabama", "Texas"}, regions)
	})

	t.Run("SitesUpsertAndFind", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		n, err := s.UpsertSites(ctx, []model.Site{
			{Region: "California", SiteID: "2", CountiesServed: "Los Angeles, Orange", Population: fp(1000), Category: "High", ReportingWeek: "2025-01-11"},
			{Region: "California", SiteID: "1", CountiesServed: "Alameda", Category: "Low", ReportingWeek: "2025-01-11"},
			{Region: "Oregon", SiteID: "3", CountiesServed: "Multnomah", Category: "Medium", ReportingWeek: "2025-01-11"},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)

		sites, err := s.FindSites(ctx, "calif", "")
		require.NoError(t, err)
		require.Len(t, sites, 2)
		assert.Equal(t, "1", sites[0].SiteID)
		assert.Nil(t, sites[0].Population)
		require.NotNil(t, sites[1].Population)
		assert.InDelta(t, 1000, *sites[1].Population, 1e-9)

		sites, err = s.FindSites(ctx, "California", "orange")
		require.NoError(t, err)
		require.Len(t, sites, 1)
		assert.Equal(t, "2", sites[0].SiteID)

		_, err = s.UpsertSites(ctx, []model.Site{{Region: "California", SiteID: "1", CountiesServed: "Alameda", Category: "Very High"}})
		require.NoError(t, err)
		sites, err = s.FindSites(ctx, "California", "Alameda")
		require.NoError(t, err)
		require.Len(t, sites, 1)
		assert.Equal(t, "Very High", sites[0].Category)

		sites, err = s.FindSites(ctx, "Nevada", "")
		require.NoError(t, err)
		assert.Empty(t, sites)
	})

	t.Run("SitesRequireID", func(t *testing.T) {
		s := newStore(t)
		_, err := s.UpsertSites(context.Background(), []model.Site{{Region: "Ohio"}})
		require.Error(t, err)
	})

	t.Run("ForecastsReplace", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		trained := time.Date(2025, 1, 20, 12, 0, 0, 0, time.UTC)

		require.NoError(t, s.ReplaceForecasts(ctx, []model.Forecast{
			{Region: "Texas", Weeks: [4]float64{1, 2, 3, 4}, Model: "ols", MAE: fp(0.5), TrainedAt: trained},
			{Region: "Alabama", Weeks: [4]float64{5, 6, 7, 8}, Model: "ols", TrainedAt: trained},
		}))

		list, err := s.ListForecasts(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "Alabama", list[0].Region)
		assert.Nil(t, list[0].MAE)
		assert.Equal(t, [4]float64{1, 2, 3, 4}, list[1].Weeks)
		assert.True(t, trained.Equal(list[1].TrainedAt))

		require.NoError(t, s.ReplaceForecasts(ctx, []model.Forecast{
			{Region: "Texas", Weeks: [4]float64{9, 9, 9, 9}, Model: "import"},
		}))
		list, err = s.ListForecasts(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)

		got, err := s.GetForecast(ctx, "texas")
		require.NoError(t, err)
		assert.Equal(t, "import", got.Model)
		assert.False(t, got.TrainedAt.IsZero())

		_, err = s.GetForecast(ctx, "Alabama")
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("SubscribersCreateAndList", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.CreateSubscriber(ctx, model.Subscriber{Email: "a@example.com", Region: "California"}))
		require.NoError(t, s.CreateSubscriber(ctx, model.Subscriber{Email: "b@example.com", Region: "Ohio"}))
		require.NoError(t, s.CreateSubscriber(ctx, model.Subscriber{Email: "c@example.com", Region: "california"}))

		err := s.CreateSubscriber(ctx, model.Subscriber{Email: "a@example.com", Region: "Texas"})
		assert.True(t, errors.Is(err, ErrDuplicate))

		subs, err := s.ListSubscribers(ctx, "CALIFORNIA")
		require.NoError(t, err)
		require.Len(t, subs, 2)
		emails := []string{subs[0].Email, subs[1].Email}
		assert.ElementsMatch(t, []string{"a@example.com", "c@example.com"}, emails)

		all, err := s.ListSubscribers(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 3)

		none, err := s.ListSubscribers(ctx, "Calif")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("IngestRunsLifecycle", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.StartRun(ctx, "state")
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusRunning, run.Status)
		require.NoError(t, s.CompleteRun(ctx, run.ID, 42))

		failed, err := s.StartRun(ctx, "county")
		require.NoError(t, err)
		require.NoError(t, s.FailRun(ctx, failed.ID, "download: unexpected status 503"))

		runs, err := s.ListRuns(ctx, 10)
		require.NoError(t, err)
		require.Len(t, runs, 2)

		byID := map[string]model.IngestRun{}
		for _, r := range runs {
			byID[r.ID] = r
		}
		assert.Equal(t, model.RunStatusComplete, byID[run.ID].Status)
		assert.Equal(t, int64(42), byID[run.ID].RowsWritten)
		assert.NotNil(t, byID[run.ID].CompletedAt)
		assert.Equal(t, model.RunStatusFailed, byID[failed.ID].Status)
		assert.Contains(t, byID[failed.ID].Error, "503")

		limited, err := s.ListRuns(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})

	t.Run("CompleteUnknownRun", func(t *testing.T) {
		s := newStore(t)
		err := s.CompleteRun(context.Background(), "missing", 1)
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("Ping", func(t *testing.T) {
		s := newStore(t)
		assert.NoError(t, s.Ping(context.Background()))
	})
}

func TestDedupeReadings(t *testing.T) {
	in := []model.RegionReading{
		reading("Ohio", "2025-01-04", "Low", 1),
		reading("Utah", "2025-01-04", "Low", 2),
		reading("Ohio", "2025-01-04", "High", 3),
	}
	out := dedupeReadings(in)
	require.Len(t, out, 2)
	assert.Equal(t, "Ohio", out[0].Region)
	assert.Equal(t, "High", out[0].Category)
	assert.Equal(t, "Utah", out[1].Region)
}
