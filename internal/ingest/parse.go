// Package ingest loads the CDC wastewater CSV files into the store.
package ingest

import (
	"context"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/jackdeye/LAHacks/internal/fetcher"
	"github.com/jackdeye/LAHacks/internal/model"
)

// ErrEmptyFile is returned when a CSV has no header row.
var ErrEmptyFile = eris.New("ingest: csv file is empty")

// Column names as published by CDC.
const (
	colRegion               = "State/Territory"
	colSiteID               = "Sewershed_ID"
	colCounties             = "Counties_Served"
	colPopulation           = "Population_Served"
	colCategory             = "WVAL_Category"
	colReportingWeek        = "Reporting_Week"
	colEndingDate           = "Week_Ending_Date"
	colDataCollectionPeriod = "Data_Collection_Period"
	colStateWVAL            = "State/Territory_WVAL"
	colNationalWVAL         = "National_WVAL"
	colRegionalWVAL         = "Regional_WVAL"
	colCoverage             = "Coverage"
)

var siteColumns = []string{colRegion, colSiteID, colCounties, colPopulation, colCategory, colReportingWeek}

var readingColumns = []string{
	colRegion, colEndingDate, colDataCollectionPeriod, colStateWVAL,
	colNationalWVAL, colRegionalWVAL, colCategory, colCoverage,
}

// ParseSites reads the per-site snapshot CSV. Rows without a site id are
// dropped; an unparseable population becomes null.
func ParseSites(ctx context.Context, r io.Reader) ([]model.Site, error) {
	var sites []model.Site
	err := streamRows(ctx, r, siteColumns, func(idx fetcher.HeaderIndex, row []string) {
		id := idx.Get(row, colSiteID)
		if id == "" {
			return
		}
		sites = append(sites, model.Site{
			Region:         idx.Get(row, colRegion),
			SiteID:         id,
			CountiesServed: idx.Get(row, colCounties),
			Population:     parseNonNegative(idx.Get(row, colPopulation)),
			Category:       idx.Get(row, colCategory),
			ReportingWeek:  idx.Get(row, colReportingWeek),
		})
	})
	if err != nil {
		return nil, eris.Wrap(err, "ingest: parse sites")
	}
	return sites, nil
}

// ParseReadings reads the state-level timeseries CSV. Rows with a missing
// region or an unparseable date are dropped. Scores that are not valid
// non-negative numbers become null. With latestOnly only the most recent row
// per region is kept (the first one wins on equal dates). The result is
// ordered by region, then date.
func ParseReadings(ctx context.Context, r io.Reader, latestOnly bool) ([]model.RegionReading, error) {
	var readings []model.RegionReading
	err := streamRows(ctx, r, readingColumns, func(idx fetcher.HeaderIndex, row []string) {
		region := idx.Get(row, colRegion)
		date, ok := ParseDate(idx.Get(row, colEndingDate))
		if region == "" || !ok {
			return
		}
		readings = append(readings, model.RegionReading{
			Region:               region,
			EndingDate:           date,
			DataCollectionPeriod: idx.Get(row, colDataCollectionPeriod),
			StateWVAL:            parseNonNegative(idx.Get(row, colStateWVAL)),
			NationalWVAL:         parseNonNegative(idx.Get(row, colNationalWVAL)),
			RegionalWVAL:         parseNonNegative(idx.Get(row, colRegionalWVAL)),
			Category:             idx.Get(row, colCategory),
			Coverage:             idx.Get(row, colCoverage),
		})
	})
	if err != nil {
		return nil, eris.Wrap(err, "ingest: parse readings")
	}

	if latestOnly {
		readings = latestPerRegion(readings)
	}
	sort.SliceStable(readings, func(i, j int) bool {
		if readings[i].Region != readings[j].Region {
			return readings[i].Region < readings[j].Region
		}
		return readings[i].EndingDate.Before(readings[j].EndingDate)
	})
	return readings, nil
}

// streamRows validates the header against required and hands every data row
// to fn.
func streamRows(ctx context.Context, r io.Reader, required []string, fn func(fetcher.HeaderIndex, []string)) error {
	headerCh := make(chan []string, 1)
	rowCh, errCh := fetcher.StreamCSV(ctx, r, fetcher.CSVOptions{
		HasHeader:  true,
		HeaderCh:   headerCh,
		LazyQuotes: true,
	})

	var idx fetcher.HeaderIndex
	var headerErr error
	for row := range rowCh {
		if idx == nil && headerErr == nil {
			idx = fetcher.NewHeaderIndex(<-headerCh)
			headerErr = idx.Require(required...)
		}
		if headerErr != nil {
			continue
		}
		fn(idx, row)
	}
	if err := <-errCh; err != nil {
		return err
	}
	if headerErr != nil {
		return headerErr
	}
	if idx == nil {
		select {
		case header := <-headerCh:
			return fetcher.NewHeaderIndex(header).Require(required...)
		default:
			return ErrEmptyFile
		}
	}
	return nil
}

func latestPerRegion(readings []model.RegionReading) []model.RegionReading {
	latest := make(map[string]int, 64)
	var order []string
	for i, r := range readings {
		j, ok := latest[r.Region]
		if !ok {
			latest[r.Region] = i
			order = append(order, r.Region)
			continue
		}
		if r.EndingDate.After(readings[j].EndingDate) {
			latest[r.Region] = i
		}
	}
	out := make([]model.RegionReading, 0, len(order))
	for _, region := range order {
		out = append(out, readings[latest[region]])
	}
	return out
}

var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006/01/02",
	"Jan 2, 2006",
	"January 2, 2006",
}

// ParseDate parses a CDC period date in any of the layouts seen in the
// published files and truncates it to a UTC calendar day.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

func parseNonNegative(s string) *float64 {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return nil
	}
	return &v
}
