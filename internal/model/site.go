package model

import "strings"

// Site is the latest known snapshot of one wastewater collection site
// (sewershed). Sites are keyed by SiteID and are not time-versioned.
type Site struct {
	Region         string   `json:"state_territory"`
	SiteID         string   `json:"sewershed_id"`
	CountiesServed string   `json:"counties_served"`
	Population     *float64 `json:"population_served"`
	Category       string   `json:"wval_category"`
	ReportingWeek  string   `json:"reporting_week"`
}

// Counties splits CountiesServed into trimmed, non-empty county names.
func (s Site) Counties() []string {
	var out []string
	for _, name := range strings.Split(s.CountiesServed, ",") {
		if name = strings.TrimSpace(name); name != "" {
			out = append(out, name)
		}
	}
	return out
}
