package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"modernc.org/sqlite"

	"github.com/jackdeye/LAHacks/internal/model"
	"github.com/jackdeye/LAHacks/internal/severity"
)

// fold(x) exposes Unicode case folding to queries so substring matches
// agree with severity.Contains.
func init() {
	sqlite.MustRegisterDeterministicScalarFunction("fold", 1, func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
		switch v := args[0].(type) {
		case string:
			return severity.Fold(v), nil
		case []byte:
			return severity.Fold(string(v)), nil
		default:
			return v, nil
		}
	})
}

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
// busy_timeout rides on the DSN so every pooled connection gets it.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", dsn+sep+"_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS region_readings (
	region                 TEXT NOT NULL,
	ending_date            TEXT NOT NULL,
	data_collection_period TEXT NOT NULL DEFAULT '',
	state_wval             REAL,
	national_wval          REAL,
	regional_wval          REAL,
	category               TEXT NOT NULL DEFAULT '',
	coverage               TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (region, ending_date)
);

CREATE TABLE IF NOT EXISTS sites (
	sewershed_id      TEXT PRIMARY KEY,
	region            TEXT NOT NULL,
	counties_served   TEXT NOT NULL DEFAULT '',
	population_served REAL,
	category          TEXT NOT NULL DEFAULT '',
	reporting_week    TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS forecasts (
	region     TEXT PRIMARY KEY,
	week_1     REAL NOT NULL,
	week_2     REAL NOT NULL,
	week_3     REAL NOT NULL,
	week_4     REAL NOT NULL,
	model      TEXT NOT NULL DEFAULT '',
	mae        REAL,
	trained_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS subscribers (
	email      TEXT PRIMARY KEY,
	region     TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS ingest_runs (
	id           TEXT PRIMARY KEY,
	source       TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	rows_written INTEGER NOT NULL DEFAULT 0,
	error        TEXT NOT NULL DEFAULT '',
	started_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_region_readings_ending_date ON region_readings(ending_date);
CREATE INDEX IF NOT EXISTS idx_sites_region ON sites(region);
CREATE INDEX IF NOT EXISTS idx_subscribers_region ON subscribers(lower(region));
CREATE INDEX IF NOT EXISTS idx_ingest_runs_started_at ON ingest_runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Region readings ---

const sqliteReadingCols = `region, ending_date, data_collection_period, state_wval, national_wval, regional_wval, category, coverage`

func (s *SQLiteStore) UpsertReadings(ctx context.Context, readings []model.RegionReading) (int64, error) {
	if len(readings) == 0 {
		return 0, nil
	}
	for _, r := range readings {
		if err := validateReading(r); err != nil {
			return 0, err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert readings: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO region_readings (`+sqliteReadingCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (region, ending_date) DO UPDATE SET
			data_collection_period = excluded.data_collection_period,
			state_wval = excluded.state_wval,
			national_wval = excluded.national_wval,
			regional_wval = excluded.regional_wval,
			category = excluded.category,
			coverage = excluded.coverage`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert readings: prepare")
	}
	defer stmt.Close() //nolint:errcheck

	var n int64
	for _, r := range dedupeReadings(readings) {
		if _, err := stmt.ExecContext(ctx,
			r.Region, r.EndingDateString(), r.DataCollectionPeriod,
			r.StateWVAL, r.NationalWVAL, r.RegionalWVAL, r.Category, r.Coverage,
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert reading %s %s", r.Region, r.EndingDateString())
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert readings: commit")
	}
	return n, nil
}

func (s *SQLiteStore) LatestReading(ctx context.Context, match string) (*model.RegionReading, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteReadingCols+` FROM region_readings
		 WHERE instr(fold(region), fold(?)) > 0
		 ORDER BY ending_date DESC, region ASC LIMIT 1`,
		match,
	)
	r, err := scanSQLiteReading(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest reading")
	}
	return r, nil
}

func (s *SQLiteStore) ReadingHistory(ctx context.Context, match string) ([]model.RegionReading, error) {
	return s.queryReadings(ctx, "reading history",
		`SELECT `+sqliteReadingCols+` FROM region_readings
		 WHERE instr(fold(region), fold(?)) > 0
		 ORDER BY ending_date ASC, region ASC`,
		match,
	)
}

func (s *SQLiteStore) RegionHistory(ctx context.Context, region string) ([]model.RegionReading, error) {
	return s.queryReadings(ctx, "region history",
		`SELECT `+sqliteReadingCols+` FROM region_readings
		 WHERE region = ?
		 ORDER BY ending_date DESC`,
		region,
	)
}

func (s *SQLiteStore) ListRegions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT region FROM region_readings ORDER BY region`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list regions")
	}
	defer rows.Close() //nolint:errcheck

	var regions []string
	for rows.Next() {
		var region string
		if err := rows.Scan(&region); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan region")
		}
		regions = append(regions, region)
	}
	return regions, eris.Wrap(rows.Err(), "sqlite: list regions iterate")
}

func (s *SQLiteStore) queryReadings(ctx context.Context, op, query string, args ...any) ([]model.RegionReading, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: %s", op)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.RegionReading
	for rows.Next() {
		r, err := scanSQLiteReading(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: %s: scan", op)
		}
		out = append(out, *r)
	}
	return out, eris.Wrapf(rows.Err(), "sqlite: %s iterate", op)
}

// --- Sites ---

func (s *SQLiteStore) UpsertSites(ctx context.Context, sites []model.Site) (int64, error) {
	if len(sites) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert sites: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO sites
		(sewershed_id, region, counties_served, population_served, category, reporting_week)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (sewershed_id) DO UPDATE SET
			region = excluded.region,
			counties_served = excluded.counties_served,
			population_served = excluded.population_served,
			category = excluded.category,
			reporting_week = excluded.reporting_week`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert sites: prepare")
	}
	defer stmt.Close() //nolint:errcheck

	var n int64
	for _, site := range sites {
		if site.SiteID == "" {
			return 0, eris.Errorf("sqlite: site in %s without sewershed id", site.Region)
		}
		if _, err := stmt.ExecContext(ctx,
			site.SiteID, site.Region, site.CountiesServed, site.Population, site.Category, site.ReportingWeek,
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert site %s", site.SiteID)
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert sites: commit")
	}
	return n, nil
}

func (s *SQLiteStore) FindSites(ctx context.Context, stateMatch, countyMatch string) ([]model.Site, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sewershed_id, region, counties_served, population_served, category, reporting_week
		 FROM sites
		 WHERE instr(fold(region), fold(?)) > 0
		   AND instr(fold(counties_served), fold(?)) > 0
		 ORDER BY sewershed_id`,
		stateMatch, countyMatch,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find sites")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Site
	for rows.Next() {
		var site model.Site
		var pop sql.NullFloat64
		if err := rows.Scan(&site.SiteID, &site.Region, &site.CountiesServed, &pop, &site.Category, &site.ReportingWeek); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan site")
		}
		site.Population = nullFloat(pop)
		out = append(out, site)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: find sites iterate")
}

// --- Forecasts ---

func (s *SQLiteStore) ReplaceForecasts(ctx context.Context, forecasts []model.Forecast) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: replace forecasts: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM forecasts`); err != nil {
		return eris.Wrap(err, "sqlite: replace forecasts: clear")
	}

	for _, f := range forecasts {
		trainedAt := f.TrainedAt
		if trainedAt.IsZero() {
			trainedAt = time.Now().UTC()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO forecasts (region, week_1, week_2, week_3, week_4, model, mae, trained_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (region) DO UPDATE SET
				week_1 = excluded.week_1, week_2 = excluded.week_2,
				week_3 = excluded.week_3, week_4 = excluded.week_4,
				model = excluded.model, mae = excluded.mae, trained_at = excluded.trained_at`,
			f.Region, f.Weeks[0], f.Weeks[1], f.Weeks[2], f.Weeks[3], f.Model, f.MAE, trainedAt.UTC(),
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert forecast %s", f.Region)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: replace forecasts: commit")
}

func (s *SQLiteStore) ListForecasts(ctx context.Context) ([]model.Forecast, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT region, week_1, week_2, week_3, week_4, model, mae, trained_at FROM forecasts ORDER BY region`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list forecasts")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Forecast
	for rows.Next() {
		f, err := scanSQLiteForecast(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan forecast")
		}
		out = append(out, *f)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list forecasts iterate")
}

func (s *SQLiteStore) GetForecast(ctx context.Context, region string) (*model.Forecast, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT region, week_1, week_2, week_3, week_4, model, mae, trained_at
		 FROM forecasts WHERE lower(region) = lower(?)`,
		region,
	)
	f, err := scanSQLiteForecast(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get forecast %s", region)
	}
	return f, nil
}

// --- Subscribers ---

func (s *SQLiteStore) CreateSubscriber(ctx context.Context, sub model.Subscriber) error {
	createdAt := sub.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO subscribers (email, region, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (email) DO NOTHING`,
		sub.Email, sub.Region, createdAt.UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: create subscriber %s", sub.Email)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return ErrDuplicate
	}
	return nil
}

func (s *SQLiteStore) ListSubscribers(ctx context.Context, region string) ([]model.Subscriber, error) {
	query := `SELECT email, region, created_at FROM subscribers`
	var args []any
	if region != "" {
		query += ` WHERE lower(region) = lower(?)`
		args = append(args, region)
	}
	query += ` ORDER BY created_at, email`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list subscribers")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Subscriber
	for rows.Next() {
		var sub model.Subscriber
		if err := rows.Scan(&sub.Email, &sub.Region, &sub.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan subscriber")
		}
		out = append(out, sub)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list subscribers iterate")
}

// --- Ingestion runs ---

func (s *SQLiteStore) StartRun(ctx context.Context, source string) (*model.IngestRun, error) {
	run := &model.IngestRun{
		ID:        uuid.New().String(),
		Source:    source,
		Status:    model.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ingest_runs (id, source, status, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.Source, string(run.Status), run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: start run %s", source)
	}
	return run, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, id string, rows int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ingest_runs SET status = ?, rows_written = ?, completed_at = ? WHERE id = ?`,
		string(model.RunStatusComplete), rows, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", id)
	}
	return checkRowsAffected(res, "ingest run", id)
}

func (s *SQLiteStore) FailRun(ctx context.Context, id string, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ingest_runs SET status = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(model.RunStatusFailed), errMsg, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", id)
	}
	return checkRowsAffected(res, "ingest run", id)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]model.IngestRun, error) {
	if limit <= 0 {
		limit = defaultRunLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, status, rows_written, error, started_at, completed_at
		 FROM ingest_runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.IngestRun
	for rows.Next() {
		var run model.IngestRun
		var completed sql.NullTime
		if err := rows.Scan(&run.ID, &run.Source, &run.Status, &run.RowsWritten, &run.Error, &run.StartedAt, &completed); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		if completed.Valid {
			t := completed.Time
			run.CompletedAt = &t
		}
		out = append(out, run)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteReading(row scannable) (*model.RegionReading, error) {
	var r model.RegionReading
	var date string
	var state, national, regional sql.NullFloat64
	if err := row.Scan(&r.Region, &date, &r.DataCollectionPeriod, &state, &national, &regional, &r.Category, &r.Coverage); err != nil {
		return nil, err
	}
	d, err := time.Parse(model.DateLayout, date)
	if err != nil {
		return nil, eris.Wrapf(err, "parse ending date %q", date)
	}
	r.EndingDate = d
	r.StateWVAL = nullFloat(state)
	r.NationalWVAL = nullFloat(national)
	r.RegionalWVAL = nullFloat(regional)
	return &r, nil
}

func scanSQLiteForecast(row scannable) (*model.Forecast, error) {
	var f model.Forecast
	var mae sql.NullFloat64
	if err := row.Scan(&f.Region, &f.Weeks[0], &f.Weeks[1], &f.Weeks[2], &f.Weeks[3], &f.Model, &mae, &f.TrainedAt); err != nil {
		return nil, err
	}
	f.MAE = nullFloat(mae)
	return &f, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
