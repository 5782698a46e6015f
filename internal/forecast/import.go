package forecast

import (
	"context"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/jackdeye/LAHacks/internal/fetcher"
	"github.com/jackdeye/LAHacks/internal/model"
)

// ImportedModel labels forecasts loaded from an external metrics file.
const ImportedModel = "lstm"

const (
	colState  = "State"
	colMAE    = "mae"
	colValMAE = "val_mae"
)

var weekColumns = [model.ForecastHorizon]string{"week1", "week2", "week3", "week4"}

// ParseMetricsCSV reads an externally trained model's metrics file (State,
// loss, mae, val_loss, val_mae, week1..week4). Rows without a state or with a
// non-numeric prediction are skipped. Negative predictions are clamped to
// zero. The MAE is taken from val_mae, falling back to mae.
func ParseMetricsCSV(ctx context.Context, r io.Reader) ([]model.Forecast, error) {
	required := append([]string{colState}, weekColumns[:]...)

	headerCh := make(chan []string, 1)
	rowCh, errCh := fetcher.StreamCSV(ctx, r, fetcher.CSVOptions{
		HasHeader: true,
		HeaderCh:  headerCh,
		TrimSpace: true,
	})

	var (
		idx       fetcher.HeaderIndex
		headerErr error
		out       []model.Forecast
		skipped   int
	)
	for row := range rowCh {
		if idx == nil && headerErr == nil {
			idx = fetcher.NewHeaderIndex(<-headerCh)
			headerErr = idx.Require(required...)
		}
		if headerErr != nil {
			continue
		}

		fc, ok := parseMetricsRow(idx, row)
		if !ok {
			skipped++
			continue
		}
		out = append(out, fc)
	}
	if err := <-errCh; err != nil {
		return nil, eris.Wrap(err, "forecast: read metrics csv")
	}
	if headerErr != nil {
		return nil, eris.Wrap(headerErr, "forecast: metrics csv")
	}
	if idx == nil {
		select {
		case header := <-headerCh:
			if err := fetcher.NewHeaderIndex(header).Require(required...); err != nil {
				return nil, eris.Wrap(err, "forecast: metrics csv")
			}
		default:
			return nil, eris.New("forecast: metrics csv is empty")
		}
	}

	if skipped > 0 {
		zap.L().Warn("skipped unusable forecast rows", zap.Int("rows", skipped))
	}
	return out, nil
}

func parseMetricsRow(idx fetcher.HeaderIndex, row []string) (model.Forecast, bool) {
	region := strings.Trim(idx.Get(row, colState), `'"`)
	if region == "" {
		return model.Forecast{}, false
	}

	fc := model.Forecast{Region: region, Model: ImportedModel}
	for i, col := range weekColumns {
		v, ok := parseFloat(idx.Get(row, col))
		if !ok {
			return model.Forecast{}, false
		}
		fc.Weeks[i] = math.Max(0, v)
	}

	if v, ok := parseFloat(idx.Get(row, colValMAE)); ok {
		fc.MAE = &v
	} else if v, ok := parseFloat(idx.Get(row, colMAE)); ok {
		fc.MAE = &v
	}
	return fc, true
}

func parseFloat(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// ImportCSV replaces the stored forecasts with the rows of a metrics file and
// returns how many were written. A file with no usable rows leaves the store
// untouched.
func (t *Trainer) ImportCSV(ctx context.Context, r io.Reader) (int, error) {
	forecasts, err := ParseMetricsCSV(ctx, r)
	if err != nil {
		return 0, err
	}
	if len(forecasts) == 0 {
		zap.L().Warn("metrics file has no usable rows; forecasts left unchanged")
		return 0, nil
	}

	trainedAt := t.clock.Now().UTC()
	for i := range forecasts {
		forecasts[i].TrainedAt = trainedAt
	}

	if err := t.store.ReplaceForecasts(ctx, forecasts); err != nil {
		return 0, eris.Wrap(err, "forecast: store imported")
	}
	t.metrics.ForecastsStored(len(forecasts))
	zap.L().Info("forecasts imported", zap.Int("written", len(forecasts)))
	return len(forecasts), nil
}
