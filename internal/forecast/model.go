// Package forecast produces per-region 4-week score predictions.
package forecast

import (
	"math"
	"slices"

	"github.com/rotisserie/eris"
)

// ErrInsufficientData is returned when a series is too short to fit.
var ErrInsufficientData = eris.New("forecast: not enough data")

// Defaults for Model.
const (
	DefaultWindow  = 4
	DefaultHorizon = 4
)

// Model is a rolling least-squares trend. Each step fits a line to the
// trailing Window points and extrapolates one period; the prediction is then
// appended and the window advances.
type Model struct {
	Window  int
	Horizon int
}

// DefaultModel returns a Model with the default window and horizon.
func DefaultModel() Model {
	return Model{Window: DefaultWindow, Horizon: DefaultHorizon}
}

// Name identifies the model on stored forecasts.
func (m Model) Name() string {
	return "ols-rolling"
}

func (m Model) window() int {
	if m.Window < 2 {
		return DefaultWindow
	}
	return m.Window
}

func (m Model) horizon() int {
	if m.Horizon < 1 {
		return DefaultHorizon
	}
	return m.Horizon
}

// Predict returns Horizon future values for series, oldest first in input.
// Predictions never go below zero.
func (m Model) Predict(series []float64) ([]float64, error) {
	w := m.window()
	if len(series) < w+1 {
		return nil, eris.Wrapf(ErrInsufficientData, "need %d points, have %d", w+1, len(series))
	}

	window := slices.Clone(series[len(series)-w:])
	out := make([]float64, 0, m.horizon())
	for range m.horizon() {
		next := math.Max(0, nextValue(window))
		out = append(out, next)
		window = append(window[1:], next)
	}
	return out, nil
}

// Backtest walks the series and predicts every point from the Window points
// before it, returning the mean absolute one-step error.
func (m Model) Backtest(series []float64) (float64, error) {
	w := m.window()
	if len(series) < w+1 {
		return 0, eris.Wrapf(ErrInsufficientData, "need %d points, have %d", w+1, len(series))
	}

	var sum float64
	n := 0
	for i := w; i < len(series); i++ {
		pred := math.Max(0, nextValue(series[i-w:i]))
		sum += math.Abs(series[i] - pred)
		n++
	}
	return sum / float64(n), nil
}

// nextValue fits y = a + b*x over x = 0..len(vals)-1 and evaluates it at
// x = len(vals).
func nextValue(vals []float64) float64 {
	n := float64(len(vals))
	if len(vals) == 0 {
		return 0
	}

	var sumX, sumY, sumXY, sumX2 float64
	for i, v := range vals {
		x := float64(i)
		sumX += x
		sumY += v
		sumXY += x * v
		sumX2 += x * x
	}

	denominator := n*sumX2 - sumX*sumX
	if denominator == 0 {
		return vals[len(vals)-1]
	}

	slope := (n*sumXY - sumX*sumY) / denominator
	intercept := (sumY - slope*sumX) / n
	return intercept + slope*n
}
