package severity

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jackdeye/LAHacks/internal/model"
)

func TestAggregateCounties(t *testing.T) {
	sites := []model.Site{
		{Region: "New York", SiteID: "1", CountiesServed: "Kings, Queens", Category: "High", ReportingWeek: "2025-04-19"},
		{Region: "New York", SiteID: "2", CountiesServed: "Queens", Category: "Low", ReportingWeek: "2025-04-19"},
		{Region: "New York", SiteID: "3", CountiesServed: "Albany", Category: "Very Low", ReportingWeek: "2025-04-19"},
		{Region: "New York", SiteID: "4", CountiesServed: "Erie", Category: ""},
	}

	got := AggregateCounties(sites, DefaultScale())

	assert.Equal(t, []CountySummary{
		{Region: "New York", County: "Kings", Category: High, ReportingWeek: "2025-04-19"},
		{Region: "New York", County: "Queens", Category: Medium, ReportingWeek: "2025-04-19"},
		{Region: "New York", County: "Albany", Category: VeryLow, ReportingWeek: "2025-04-19"},
	}, got)
}

func TestAggregateCounties_UnrecognizedOnly(t *testing.T) {
	sites := []model.Site{
		{Region: "Ohio", CountiesServed: "Franklin", Category: "Pending"},
	}
	assert.Empty(t, AggregateCounties(sites, DefaultScale()))
	assert.Nil(t, AggregateCounties(nil, DefaultScale()))
}

func TestAverageSites(t *testing.T) {
	sites := []model.Site{
		{Category: "Very High"},
		{Category: "High"},
		{Category: "Medium"},
	}
	got, ok := AverageSites(sites, DefaultScale())
	assert.True(t, ok)
	assert.Equal(t, High, got)

	_, ok = AverageSites(nil, DefaultScale())
	assert.False(t, ok)
}

func TestFold(t *testing.T) {
	assert.Equal(t, "ñuble", Fold("ÑUBLE"))
	assert.Equal(t, Fold("doña ana"), Fold("DOÑA ANA"))
}

func TestContains(t *testing.T) {
	assert.True(t, Contains("Doña Ana", "DOÑA"))
	assert.True(t, Contains("West Virginia", "virginia"))
	assert.True(t, Contains("Ohio", ""))
	assert.False(t, Contains("Ohio", "Iowa"))
}
