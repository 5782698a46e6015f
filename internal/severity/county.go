package severity

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/jackdeye/LAHacks/internal/model"
)

// CountySummary is the averaged category of every site serving one county.
type CountySummary struct {
	Region        string   `json:"state_territory"`
	County        string   `json:"counties_served"`
	Category      Category `json:"wval_category"`
	ReportingWeek string   `json:"reporting_week"`
}

// AggregateCounties groups site categories by county and averages each group.
// Counties appear in the order they are first seen. Region and reporting week
// are taken from the first site, as every site in one query shares a state.
func AggregateCounties(sites []model.Site, scale *Scale) []CountySummary {
	if len(sites) == 0 {
		return nil
	}

	var order []string
	groups := make(map[string][]string)
	for _, site := range sites {
		if site.Category == "" {
			continue
		}
		for _, county := range site.Counties() {
			if _, seen := groups[county]; !seen {
				order = append(order, county)
			}
			groups[county] = append(groups[county], site.Category)
		}
	}

	first := sites[0]
	out := make([]CountySummary, 0, len(order))
	for _, county := range order {
		avg, ok := scale.Average(groups[county])
		if !ok {
			continue
		}
		out = append(out, CountySummary{
			Region:        first.Region,
			County:        county,
			Category:      avg,
			ReportingWeek: first.ReportingWeek,
		})
	}
	return out
}

// AverageSites averages the categories of all given sites.
func AverageSites(sites []model.Site, scale *Scale) (Category, bool) {
	labels := make([]string, 0, len(sites))
	for _, s := range sites {
		labels = append(labels, s.Category)
	}
	return scale.Average(labels)
}

// Contains reports whether needle occurs in haystack under Unicode case
// folding. An empty needle matches everything.
func Contains(haystack, needle string) bool {
	return strings.Contains(Fold(haystack), Fold(needle))
}

// Fold returns the Unicode case-folded form of s.
func Fold(s string) string {
	return cases.Fold().String(s)
}
