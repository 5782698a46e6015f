// Package store persists surveillance readings, site snapshots, forecasts,
// subscribers and ingestion runs behind a single Store interface.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/jackdeye/LAHacks/internal/model"
)

var (
	// ErrNotFound is returned when a lookup matches no rows.
	ErrNotFound = eris.New("store: not found")
	// ErrDuplicate is returned when an insert collides with an existing key.
	ErrDuplicate = eris.New("store: duplicate")
)

// Store defines the persistence interface used by ingestion, the API and the
// notification job. Every name match is a case-insensitive substring match
// unless stated otherwise.
type Store interface {
	// Region readings
	UpsertReadings(ctx context.Context, readings []model.RegionReading) (int64, error)
	LatestReading(ctx context.Context, match string) (*model.RegionReading, error)
	ReadingHistory(ctx context.Context, match string) ([]model.RegionReading, error)
	ListRegions(ctx context.Context) ([]string, error)
	// RegionHistory matches region exactly and returns newest first.
	RegionHistory(ctx context.Context, region string) ([]model.RegionReading, error)

	// Site snapshots
	UpsertSites(ctx context.Context, sites []model.Site) (int64, error)
	FindSites(ctx context.Context, stateMatch, countyMatch string) ([]model.Site, error)

	// Forecasts
	ReplaceForecasts(ctx context.Context, forecasts []model.Forecast) error
	ListForecasts(ctx context.Context) ([]model.Forecast, error)
	GetForecast(ctx context.Context, region string) (*model.Forecast, error)

	// Subscribers
	CreateSubscriber(ctx context.Context, sub model.Subscriber) error
	// ListSubscribers matches region exactly, ignoring case. Empty lists all.
	ListSubscribers(ctx context.Context, region string) ([]model.Subscriber, error)

	// Ingestion runs
	StartRun(ctx context.Context, source string) (*model.IngestRun, error)
	CompleteRun(ctx context.Context, id string, rows int64) error
	FailRun(ctx context.Context, id string, errMsg string) error
	ListRuns(ctx context.Context, limit int) ([]model.IngestRun, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// defaultRunLimit caps ListRuns when the caller passes a non-positive limit.
const defaultRunLimit = 50

// dedupeReadings keeps the last reading for each (region, date) pair, in
// first-seen order.
func dedupeReadings(readings []model.RegionReading) []model.RegionReading {
	type key struct {
		region string
		date   string
	}
	pos := make(map[key]int, len(readings))
	out := make([]model.RegionReading, 0, len(readings))
	for _, r := range readings {
		k := key{r.Region, r.EndingDateString()}
		if i, ok := pos[k]; ok {
			out[i] = r
			continue
		}
		pos[k] = len(out)
		out = append(out, r)
	}
	return out
}

func validateReading(r model.RegionReading) error {
	if r.Region == "" {
		return eris.New("store: reading without region")
	}
	if r.EndingDate.IsZero() {
		return eris.Errorf("store: reading for %s without ending date", r.Region)
	}
	return nil
}
