// Package model defines the plain records persisted and served by wastewatch.
package model

import "time"

// DateLayout is the wire and storage format for period dates.
const DateLayout = "2006-01-02"

// RegionReading is one reporting week of state-level wastewater viral activity.
// Readings are unique by (Region, EndingDate).
type RegionReading struct {
	Region               string    `json:"state_territory"`
	EndingDate           time.Time `json:"-"`
	DataCollectionPeriod string    `json:"data_collection_period"`
	StateWVAL            *float64  `json:"state_territory_wval"`
	NationalWVAL         *float64  `json:"national_wval"`
	RegionalWVAL         *float64  `json:"regional_wval"`
	Category             string    `json:"wval_category"`
	Coverage             string    `json:"coverage"`
}

// EndingDateString returns the period end date formatted as YYYY-MM-DD.
func (r RegionReading) EndingDateString() string {
	if r.EndingDate.IsZero() {
		return ""
	}
	return r.EndingDate.Format(DateLayout)
}

// Score returns the state score and whether it is present.
func (r RegionReading) Score() (float64, bool) {
	if r.StateWVAL == nil {
		return 0, false
	}
	return *r.StateWVAL, true
}
