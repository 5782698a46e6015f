package model

import (
	"encoding/json"
	"time"
)

// ForecastHorizon is the number of future weeks predicted per region.
const ForecastHorizon = 4

// Forecast holds the point predictions for the next ForecastHorizon weeks of a
// region's score. One record per region; replaced wholesale on every run.
type Forecast struct {
	Region    string                   `json:"state"`
	Weeks     [ForecastHorizon]float64 `json:"-"`
	Model     string                   `json:"model"`
	MAE       *float64                 `json:"mae,omitempty"`
	TrainedAt time.Time                `json:"trained_at"`
}

// Values returns the predictions as a slice.
func (f Forecast) Values() []float64 {
	out := make([]float64, ForecastHorizon)
	copy(out, f.Weeks[:])
	return out
}

type forecastJSON struct {
	Region    string    `json:"state"`
	Week1     float64   `json:"week_1_prediction"`
	Week2     float64   `json:"week_2_prediction"`
	Week3     float64   `json:"week_3_prediction"`
	Week4     float64   `json:"week_4_prediction"`
	Model     string    `json:"model,omitempty"`
	MAE       *float64  `json:"mae,omitempty"`
	TrainedAt time.Time `json:"trained_at"`
}

// MarshalJSON renders the predictions as week_N_prediction keys, the shape
// the dashboard reads.
func (f Forecast) MarshalJSON() ([]byte, error) {
	return json.Marshal(forecastJSON{
		Region:    f.Region,
		Week1:     f.Weeks[0],
		Week2:     f.Weeks[1],
		Week3:     f.Weeks[2],
		Week4:     f.Weeks[3],
		Model:     f.Model,
		MAE:       f.MAE,
		TrainedAt: f.TrainedAt,
	})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (f *Forecast) UnmarshalJSON(data []byte) error {
	var raw forecastJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*f = Forecast{
		Region:    raw.Region,
		Weeks:     [ForecastHorizon]float64{raw.Week1, raw.Week2, raw.Week3, raw.Week4},
		Model:     raw.Model,
		MAE:       raw.MAE,
		TrainedAt: raw.TrainedAt,
	}
	return nil
}
