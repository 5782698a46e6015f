// Package trend decides whether a region's recent wastewater readings warrant
// alerting subscribers.
package trend

import (
	"math"
	"sort"

	"github.com/jackdeye/LAHacks/internal/model"
	"github.com/jackdeye/LAHacks/internal/severity"
)

// DefaultThreshold is the relative change that counts as a sharp move.
const DefaultThreshold = 0.325

// Tier identifies which alert condition fired. Lower tiers take precedence.
type Tier int

const (
	TierNone Tier = iota
	TierSevere
	TierRisingFromLow
	TierSharpChange
	TierForecastRisk
)

func (t Tier) String() string {
	switch t {
	case TierSevere:
		return "severe"
	case TierRisingFromLow:
		return "rising_from_low"
	case TierSharpChange:
		return "sharp_change"
	case TierForecastRisk:
		return "forecast_risk"
	default:
		return "none"
	}
}

// Decision is the outcome of classifying one region.
type Decision struct {
	Region   string
	Decided  bool
	Reason   string
	Tier     Tier
	Latest   model.RegionReading
	Previous model.RegionReading
	// Change is the relative score change from Previous to Latest, when defined.
	Change *float64
}

// Alert reports whether the decision should notify subscribers.
func (d Decision) Alert() bool {
	return d.Decided && d.Tier != TierNone
}

// Classifier applies the tiered alert rules.
type Classifier struct {
	scale     *severity.Scale
	threshold float64
}

// NewClassifier creates a Classifier. A non-positive threshold selects
// DefaultThreshold.
func NewClassifier(scale *severity.Scale, threshold float64) *Classifier {
	if scale == nil {
		scale = severity.DefaultScale()
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Classifier{scale: scale, threshold: threshold}
}

// Threshold returns the relative-change threshold in use.
func (c *Classifier) Threshold() float64 {
	return c.threshold
}

// Classify evaluates a region's readings, in any order, plus an optional
// forecast for the weeks after the latest reading.
func (c *Classifier) Classify(region string, readings []model.RegionReading, fc *model.Forecast) Decision {
	d := Decision{Region: region}

	history := CollapseByPeriod(readings)
	if len(history) < 2 {
		d.Reason = "need two readings to compare"
		return d
	}
	d.Latest, d.Previous = history[0], history[1]

	latestScore, ok := d.Latest.Score()
	if !ok {
		d.Reason = "latest reading has no score"
		return d
	}
	latestCat, ok := c.scale.Parse(d.Latest.Category)
	if !ok {
		d.Reason = "latest reading has no recognized category"
		return d
	}
	prevScore, ok := d.Previous.Score()
	if !ok {
		d.Reason = "previous reading has no score"
		return d
	}
	prevCat, ok := c.scale.Parse(d.Previous.Category)
	if !ok {
		d.Reason = "previous reading has no recognized category"
		return d
	}
	d.Decided = true

	if change, ok := RelativeChange(prevScore, latestScore); ok {
		d.Change = &change
	}

	switch {
	case latestCat == severity.High || latestCat == severity.VeryHigh:
		d.Tier = TierSevere
	case latestCat == severity.Medium && (prevCat == severity.Low || prevCat == severity.VeryLow):
		d.Tier = TierRisingFromLow
	case latestCat == severity.VeryLow:
		d.Tier = TierNone
	case d.Change != nil && *d.Change > c.threshold:
		d.Tier = TierSharpChange
	case fc != nil && c.forecastDeviates(latestScore, fc):
		d.Tier = TierForecastRisk
	}
	return d
}

// forecastDeviates reports whether any predicted week moves more than the
// threshold away from the latest score.
func (c *Classifier) forecastDeviates(latest float64, fc *model.Forecast) bool {
	for _, predicted := range fc.Weeks {
		if change, ok := RelativeChange(latest, predicted); ok && change > c.threshold {
			return true
		}
	}
	return false
}

// RelativeChange returns |to-from|/from. It is undefined, and reports false,
// when from is zero.
func RelativeChange(from, to float64) (float64, bool) {
	if from == 0 {
		return 0, false
	}
	return math.Abs(to-from) / math.Abs(from), true
}

// CollapseByPeriod orders readings newest first and drops readings whose
// period end date was already seen, keeping the first one encountered.
func CollapseByPeriod(readings []model.RegionReading) []model.RegionReading {
	sorted := make([]model.RegionReading, len(readings))
	copy(sorted, readings)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].EndingDate.After(sorted[j].EndingDate)
	})

	out := sorted[:0]
	seen := make(map[string]bool, len(sorted))
	for _, r := range sorted {
		key := r.EndingDateString()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}
