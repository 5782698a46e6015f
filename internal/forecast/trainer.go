package forecast

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/jackdeye/LAHacks/internal/model"
	"github.com/jackdeye/LAHacks/internal/observability"
	"github.com/jackdeye/LAHacks/internal/store"
)

// TrainSummary reports the outcome of a Trainer run.
type TrainSummary struct {
	Regions int `json:"regions" yaml:"regions"`
	Written int `json:"written" yaml:"written"`
	Skipped int `json:"skipped" yaml:"skipped"`
}

// Trainer fits a Model to every region's history and stores the predictions.
type Trainer struct {
	store   store.Store
	model   Model
	clock   clockwork.Clock
	metrics *observability.Metrics
}

// NewTrainer creates a Trainer. A nil clock uses the real clock.
func NewTrainer(st store.Store, m Model, clock clockwork.Clock, metrics *observability.Metrics) *Trainer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Trainer{store: st, model: m, clock: clock, metrics: metrics}
}

// Run predicts every region and replaces the stored forecasts. Regions with
// too little history are skipped. When no region can be predicted the
// stored forecasts are left untouched.
func (t *Trainer) Run(ctx context.Context) (TrainSummary, error) {
	log := zap.L().With(zap.String("component", "forecast"))

	regions, err := t.store.ListRegions(ctx)
	if err != nil {
		return TrainSummary{}, eris.Wrap(err, "forecast: list regions")
	}

	summary := TrainSummary{Regions: len(regions)}
	trainedAt := t.clock.Now().UTC()
	forecasts := make([]model.Forecast, 0, len(regions))

	for _, region := range regions {
		if err := ctx.Err(); err != nil {
			return summary, eris.Wrap(err, "forecast: run cancelled")
		}

		history, err := t.store.RegionHistory(ctx, region)
		if err != nil {
			return summary, eris.Wrapf(err, "forecast: history for %s", region)
		}

		fc, err := t.fit(region, history, trainedAt)
		if errors.Is(err, ErrInsufficientData) {
			log.Debug("skipping region", zap.String("region", region), zap.Int("points", len(history)))
			summary.Skipped++
			continue
		}
		if err != nil {
			return summary, err
		}
		forecasts = append(forecasts, fc)
	}

	if len(forecasts) == 0 {
		log.Warn("no region has enough history; forecasts left unchanged",
			zap.Int("regions", len(regions)),
			zap.Int("min_points", t.model.window()+1),
		)
		return summary, nil
	}

	if err := t.store.ReplaceForecasts(ctx, forecasts); err != nil {
		return summary, eris.Wrap(err, "forecast: store")
	}
	summary.Written = len(forecasts)
	t.metrics.ForecastsStored(len(forecasts))

	log.Info("forecasts trained",
		zap.Int("regions", summary.Regions),
		zap.Int("written", summary.Written),
		zap.Int("skipped", summary.Skipped),
	)
	return summary, nil
}

// fit turns a newest-first history into a forecast record.
func (t *Trainer) fit(region string, history []model.RegionReading, trainedAt time.Time) (model.Forecast, error) {
	series := Series(history)

	preds, err := t.model.Predict(series)
	if err != nil {
		return model.Forecast{}, err
	}
	mae, err := t.model.Backtest(series)
	if err != nil {
		return model.Forecast{}, err
	}

	fc := model.Forecast{
		Region:    region,
		Weeks:     fillWeeks(preds),
		Model:     t.model.Name(),
		MAE:       &mae,
		TrainedAt: trainedAt,
	}
	return fc, nil
}

// Series extracts scores oldest first from a newest-first history. Readings
// without a score are skipped.
func Series(history []model.RegionReading) []float64 {
	series := make([]float64, 0, len(history))
	for _, r := range history {
		if v, ok := r.Score(); ok {
			series = append(series, v)
		}
	}
	slices.Reverse(series)
	return series
}

// fillWeeks copies predictions into a fixed record; weeks past the model
// horizon repeat the last prediction.
func fillWeeks(preds []float64) [model.ForecastHorizon]float64 {
	var weeks [model.ForecastHorizon]float64
	for i := range weeks {
		switch {
		case i < len(preds):
			weeks[i] = preds[i]
		case len(preds) > 0:
			weeks[i] = preds[len(preds)-1]
		}
	}
	return weeks
}
