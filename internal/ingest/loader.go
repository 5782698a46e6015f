package ingest

import (
	"context"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jackdeye/LAHacks/internal/fetcher"
	"github.com/jackdeye/LAHacks/internal/observability"
	"github.com/jackdeye/LAHacks/internal/store"
)

// Ingestion step names, also recorded as the run source.
const (
	SourceCounty = "county"
	SourceState  = "state"
)

// Sources lists every ingestion step in execution order.
var Sources = []string{SourceCounty, SourceState}

// Options configures a Loader.
type Options struct {
	CountyURL  string
	StateURL   string
	LatestOnly bool
}

// StepResult reports the outcome of one ingestion step.
type StepResult struct {
	Source   string        `json:"source"`
	RunID    string        `json:"run_id,omitempty"`
	Rows     int64         `json:"rows"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// Summary collects the results of a Loader run.
type Summary struct {
	Steps []StepResult `json:"steps"`
}

// Failed returns the number of steps that ended in error.
func (s Summary) Failed() int {
	n := 0
	for _, step := range s.Steps {
		if step.Err != nil {
			n++
		}
	}
	return n
}

// Rows returns the total rows written across steps.
func (s Summary) Rows() int64 {
	var n int64
	for _, step := range s.Steps {
		n += step.Rows
	}
	return n
}

// Loader downloads the CDC files and writes them to the store. Each step is
// independent: a failure in one never stops the other.
type Loader struct {
	store   store.Store
	fetcher fetcher.Fetcher
	opts    Options
	metrics *observability.Metrics
}

// NewLoader creates a Loader.
func NewLoader(st store.Store, f fetcher.Fetcher, opts Options, m *observability.Metrics) *Loader {
	return &Loader{store: st, fetcher: f, opts: opts, metrics: m}
}

// Run executes the named steps concurrently, or all of them when none are
// named. Unknown step names are reported as failed steps.
func (l *Loader) Run(ctx context.Context, steps ...string) Summary {
	if len(steps) == 0 {
		steps = Sources
	}

	results := make([]StepResult, len(steps))
	var g errgroup.Group
	for i, source := range steps {
		g.Go(func() error {
			results[i] = l.runStep(ctx, source)
			return nil
		})
	}
	_ = g.Wait()

	return Summary{Steps: results}
}

func (l *Loader) runStep(ctx context.Context, source string) StepResult {
	log := zap.L().With(zap.String("component", "ingest"), zap.String("source", source))
	start := time.Now()
	res := StepResult{Source: source}

	if !slices.Contains(Sources, source) {
		res.Err = eris.Errorf("ingest: unknown source %q", source)
		log.Error("ingest step rejected", zap.Error(res.Err))
		l.metrics.IngestFailed(source)
		return res
	}

	run, err := l.store.StartRun(ctx, source)
	if err != nil {
		res.Err = eris.Wrap(err, "ingest: start run")
		log.Error("ingest step failed", zap.Error(res.Err))
		l.metrics.IngestFailed(source)
		return res
	}
	res.RunID = run.ID

	log.Info("ingest step starting", zap.String("run_id", run.ID))
	rows, err := l.load(ctx, source)
	res.Rows = rows
	res.Duration = time.Since(start)

	if err != nil {
		res.Err = err
		log.Error("ingest step failed", zap.String("run_id", run.ID), zap.Error(err))
		l.metrics.IngestFailed(source)
		if ferr := l.store.FailRun(context.WithoutCancel(ctx), run.ID, err.Error()); ferr != nil {
			log.Warn("record failed run", zap.Error(ferr))
		}
		return res
	}

	if err := l.store.CompleteRun(ctx, run.ID, rows); err != nil {
		log.Warn("record completed run", zap.Error(err))
	}
	l.metrics.IngestSucceeded(source, rows)
	log.Info("ingest step complete",
		zap.String("run_id", run.ID),
		zap.Int64("rows", rows),
		zap.Duration("elapsed", res.Duration),
	)
	return res
}

func (l *Loader) load(ctx context.Context, source string) (int64, error) {
	switch source {
	case SourceCounty:
		return l.loadSites(ctx)
	default:
		return l.loadReadings(ctx)
	}
}

func (l *Loader) loadSites(ctx context.Context) (int64, error) {
	body, err := l.fetcher.Download(ctx, l.opts.CountyURL)
	if err != nil {
		return 0, eris.Wrap(err, "ingest: county download")
	}
	defer body.Close() //nolint:errcheck

	sites, err := ParseSites(ctx, body)
	if err != nil {
		return 0, err
	}
	if len(sites) == 0 {
		zap.L().Warn("county file has no usable rows; nothing written")
		return 0, nil
	}

	n, err := l.store.UpsertSites(ctx, sites)
	if err != nil {
		return 0, eris.Wrap(err, "ingest: store sites")
	}
	return n, nil
}

func (l *Loader) loadReadings(ctx context.Context) (int64, error) {
	body, err := l.fetcher.Download(ctx, l.opts.StateURL)
	if err != nil {
		return 0, eris.Wrap(err, "ingest: state download")
	}
	defer body.Close() //nolint:errcheck

	readings, err := ParseReadings(ctx, body, l.opts.LatestOnly)
	if err != nil {
		return 0, err
	}
	if len(readings) == 0 {
		zap.L().Warn("state file is empty after removing rows with invalid dates; nothing written")
		return 0, nil
	}

	n, err := l.store.UpsertReadings(ctx, readings)
	if err != nil {
		return 0, eris.Wrap(err, "ingest: store readings")
	}
	return n, nil
}
