package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/jackdeye/LAHacks/internal/db"
	"github.com/jackdeye/LAHacks/internal/model"
)

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

// pgQueries holds the per-request lookups behind the API. pgx caches their
// prepared forms per connection.
var pgQueries = map[string]string{
	"latest_reading":  `SELECT ` + pgReadingCols + ` FROM region_readings WHERE strpos(lower(region), lower($1)) > 0 ORDER BY ending_date DESC, region ASC LIMIT 1`,
	"reading_history": `SELECT ` + pgReadingCols + ` FROM region_readings WHERE strpos(lower(region), lower($1)) > 0 ORDER BY ending_date ASC, region ASC`,
	"region_history":  `SELECT ` + pgReadingCols + ` FROM region_readings WHERE region = $1 ORDER BY ending_date DESC`,
	"find_sites":      `SELECT sewershed_id, region, counties_served, population_served, category, reporting_week FROM sites WHERE strpos(lower(region), lower($1)) > 0 AND strpos(lower(counties_served), lower($2)) > 0 ORDER BY sewershed_id`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
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

const postgresMigration = `
CREATE TABLE IF NOT EXISTS region_readings (
	region                 TEXT NOT NULL,
	ending_date            DATE NOT NULL,
	data_collection_period TEXT NOT NULL DEFAULT '',
	state_wval             DOUBLE PRECISION CHECK (state_wval >= 0),
	national_wval          DOUBLE PRECISION CHECK (national_wval >= 0),
	regional_wval          DOUBLE PRECISION CHECK (regional_wval >= 0),
	category               TEXT NOT NULL DEFAULT '',
	coverage               TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (region, ending_date)
);

CREATE TABLE IF NOT EXISTS sites (
	sewershed_id      TEXT PRIMARY KEY,
	region            TEXT NOT NULL,
	counties_served   TEXT NOT NULL DEFAULT '',
	population_served DOUBLE PRECISION,
	category          TEXT NOT NULL DEFAULT '',
	reporting_week    TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS forecasts (
	region     TEXT PRIMARY KEY,
	week_1     DOUBLE PRECISION NOT NULL,
	week_2     DOUBLE PRECISION NOT NULL,
	week_3     DOUBLE PRECISION NOT NULL,
	week_4     DOUBLE PRECISION NOT NULL,
	model      TEXT NOT NULL DEFAULT '',
	mae        DOUBLE PRECISION,
	trained_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS subscribers (
	email      TEXT PRIMARY KEY,
	region     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS ingest_runs (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	source       TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	rows_written BIGINT NOT NULL DEFAULT 0,
	error        TEXT NOT NULL DEFAULT '',
	started_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_region_readings_ending_date ON region_readings(ending_date);
CREATE INDEX IF NOT EXISTS idx_sites_region ON sites(region);
CREATE INDEX IF NOT EXISTS idx_subscribers_region ON subscribers(lower(region));
CREATE INDEX IF NOT EXISTS idx_ingest_runs_started_at ON ingest_runs(started_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Region readings ---

const pgReadingCols = `region, ending_date, data_collection_period, state_wval, national_wval, regional_wval, category, coverage`

var readingUpsert = db.UpsertConfig{
	Table: "region_readings",
	Columns: []string{
		"region", "ending_date", "data_collection_period",
		"state_wval", "national_wval", "regional_wval", "category", "coverage",
	},
	ConflictKeys: []string{"region", "ending_date"},
}

func (s *PostgresStore) UpsertReadings(ctx context.Context, readings []model.RegionReading) (int64, error) {
	rows := make([][]any, 0, len(readings))
	for _, r := range dedupeReadings(readings) {
		if err := validateReading(r); err != nil {
			return 0, err
		}
		rows = append(rows, []any{
			r.Region, r.EndingDate, r.DataCollectionPeriod,
			r.StateWVAL, r.NationalWVAL, r.RegionalWVAL, r.Category, r.Coverage,
		})
	}
	n, err := db.BulkUpsert(ctx, s.pool, readingUpsert, rows)
	return n, eris.Wrap(err, "postgres: upsert readings")
}

func (s *PostgresStore) LatestReading(ctx context.Context, match string) (*model.RegionReading, error) {
	r, err := scanPgReading(s.pool.QueryRow(ctx, pgQueries["latest_reading"], match))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: latest reading")
	}
	return r, nil
}

func (s *PostgresStore) ReadingHistory(ctx context.Context, match string) ([]model.RegionReading, error) {
	return s.queryReadings(ctx, "reading history", pgQueries["reading_history"], match)
}

func (s *PostgresStore) RegionHistory(ctx context.Context, region string) ([]model.RegionReading, error) {
	return s.queryReadings(ctx, "region history", pgQueries["region_history"], region)
}

func (s *PostgresStore) ListRegions(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT region FROM region_readings ORDER BY region`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list regions")
	}
	defer rows.Close()

	var regions []string
	for rows.Next() {
		var region string
		if err := rows.Scan(&region); err != nil {
			return nil, eris.Wrap(err, "postgres: scan region")
		}
		regions = append(regions, region)
	}
	return regions, eris.Wrap(rows.Err(), "postgres: list regions iterate")
}

func (s *PostgresStore) queryReadings(ctx context.Context, op, query string, args ...any) ([]model.RegionReading, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: %s", op)
	}
	defer rows.Close()

	var out []model.RegionReading
	for rows.Next() {
		r, err := scanPgReading(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: %s: scan", op)
		}
		out = append(out, *r)
	}
	return out, eris.Wrapf(rows.Err(), "postgres: %s iterate", op)
}

// --- Sites ---

var siteUpsert = db.UpsertConfig{
	Table:        "sites",
	Columns:      []string{"sewershed_id", "region", "counties_served", "population_served", "category", "reporting_week"},
	ConflictKeys: []string{"sewershed_id"},
}

func (s *PostgresStore) UpsertSites(ctx context.Context, sites []model.Site) (int64, error) {
	rows := make([][]any, 0, len(sites))
	for _, site := range sites {
		if site.SiteID == "" {
			return 0, eris.Errorf("postgres: site in %s without sewershed id", site.Region)
		}
		rows = append(rows, []any{
			site.SiteID, site.Region, site.CountiesServed, site.Population, site.Category, site.ReportingWeek,
		})
	}
	n, err := db.BulkUpsert(ctx, s.pool, siteUpsert, rows)
	return n, eris.Wrap(err, "postgres: upsert sites")
}

func (s *PostgresStore) FindSites(ctx context.Context, stateMatch, countyMatch string) ([]model.Site, error) {
	rows, err := s.pool.Query(ctx, pgQueries["find_sites"], stateMatch, countyMatch)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find sites")
	}
	defer rows.Close()

	var out []model.Site
	for rows.Next() {
		var site model.Site
		if err := rows.Scan(&site.SiteID, &site.Region, &site.CountiesServed, &site.Population, &site.Category, &site.ReportingWeek); err != nil {
			return nil, eris.Wrap(err, "postgres: scan site")
		}
		out = append(out, site)
	}
	return out, eris.Wrap(rows.Err(), "postgres: find sites iterate")
}

// --- Forecasts ---

var forecastCols = []string{"region", "week_1", "week_2", "week_3", "week_4", "model", "mae", "trained_at"}

func (s *PostgresStore) ReplaceForecasts(ctx context.Context, forecasts []model.Forecast) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: replace forecasts: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM forecasts`); err != nil {
		return eris.Wrap(err, "postgres: replace forecasts: clear")
	}

	seen := make(map[string]int, len(forecasts))
	rows := make([][]any, 0, len(forecasts))
	for _, f := range forecasts {
		trainedAt := f.TrainedAt
		if trainedAt.IsZero() {
			trainedAt = time.Now().UTC()
		}
		row := []any{f.Region, f.Weeks[0], f.Weeks[1], f.Weeks[2], f.Weeks[3], f.Model, f.MAE, trainedAt}
		if i, ok := seen[f.Region]; ok {
			rows[i] = row
			continue
		}
		seen[f.Region] = len(rows)
		rows = append(rows, row)
	}

	if _, err := db.CopyFrom(ctx, tx, "forecasts", forecastCols, rows); err != nil {
		return eris.Wrap(err, "postgres: replace forecasts")
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: replace forecasts: commit")
}

func (s *PostgresStore) ListForecasts(ctx context.Context) ([]model.Forecast, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT region, week_1, week_2, week_3, week_4, model, mae, trained_at FROM forecasts ORDER BY region`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list forecasts")
	}
	defer rows.Close()

	var out []model.Forecast
	for rows.Next() {
		var f model.Forecast
		if err := rows.Scan(&f.Region, &f.Weeks[0], &f.Weeks[1], &f.Weeks[2], &f.Weeks[3], &f.Model, &f.MAE, &f.TrainedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan forecast")
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list forecasts iterate")
}

func (s *PostgresStore) GetForecast(ctx context.Context, region string) (*model.Forecast, error) {
	var f model.Forecast
	err := s.pool.QueryRow(ctx,
		`SELECT region, week_1, week_2, week_3, week_4, model, mae, trained_at
		 FROM forecasts WHERE lower(region) = lower($1)`,
		region,
	).Scan(&f.Region, &f.Weeks[0], &f.Weeks[1], &f.Weeks[2], &f.Weeks[3], &f.Model, &f.MAE, &f.TrainedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get forecast %s", region)
	}
	return &f, nil
}

// --- Subscribers ---

func (s *PostgresStore) CreateSubscriber(ctx context.Context, sub model.Subscriber) error {
	createdAt := sub.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO subscribers (email, region, created_at) VALUES ($1, $2, $3)
		 ON CONFLICT (email) DO NOTHING`,
		sub.Email, sub.Region, createdAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: create subscriber %s", sub.Email)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicate
	}
	return nil
}

func (s *PostgresStore) ListSubscribers(ctx context.Context, region string) ([]model.Subscriber, error) {
	query := `SELECT email, region, created_at FROM subscribers`
	var args []any
	if region != "" {
		query += ` WHERE lower(region) = lower($1)`
		args = append(args, region)
	}
	query += ` ORDER BY created_at, email`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list subscribers")
	}
	defer rows.Close()

	var out []model.Subscriber
	for rows.Next() {
		var sub model.Subscriber
		if err := rows.Scan(&sub.Email, &sub.Region, &sub.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan subscriber")
		}
		out = append(out, sub)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list subscribers iterate")
}

// --- Ingestion runs ---

func (s *PostgresStore) StartRun(ctx context.Context, source string) (*model.IngestRun, error) {
	run := &model.IngestRun{
		ID:        uuid.New().String(),
		Source:    source,
		Status:    model.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ingest_runs (id, source, status, started_at) VALUES ($1, $2, $3, $4)`,
		run.ID, run.Source, string(run.Status), run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: start run %s", source)
	}
	return run, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, id string, rows int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE ingest_runs SET status = $1, rows_written = $2, completed_at = now() WHERE id = $3`,
		string(model.RunStatusComplete), rows, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "ingest run %s", id)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, id string, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE ingest_runs SET status = $1, error = $2, completed_at = now() WHERE id = $3`,
		string(model.RunStatusFailed), errMsg, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "ingest run %s", id)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]model.IngestRun, error) {
	if limit <= 0 {
		limit = defaultRunLimit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, source, status, rows_written, error, started_at, completed_at
		 FROM ingest_runs ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var out []model.IngestRun
	for rows.Next() {
		var run model.IngestRun
		var status string
		if err := rows.Scan(&run.ID, &run.Source, &status, &run.RowsWritten, &run.Error, &run.StartedAt, &run.CompletedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		run.Status = model.RunStatus(status)
		out = append(out, run)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func scanPgReading(row pgx.Row) (*model.RegionReading, error) {
	var r model.RegionReading
	if err := row.Scan(
		&r.Region, &r.EndingDate, &r.DataCollectionPeriod,
		&r.StateWVAL, &r.NationalWVAL, &r.RegionalWVAL, &r.Category, &r.Coverage,
	); err != nil {
		return nil, err
	}
	return &r, nil
}
