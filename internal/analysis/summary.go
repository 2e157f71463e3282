package analysis

import (
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"lst-platform/internal/models"
)

// BandSummary holds descriptive statistics for one band of a series
type BandSummary struct {
	Band   string
	Count  int
	Mean   float64
	StdDev float64
	Min    float64
	Max    float64
}

// SeriesSummary describes a normalized time series
type SeriesSummary struct {
	Samples int
	First   time.Time
	Last    time.Time
	Bands   []BandSummary
}

// Summarize computes per-band statistics in the series' band order.
// Band statistics are zero for an empty series.
func Summarize(series *models.TimeSeries) *SeriesSummary {
	summary := &SeriesSummary{Samples: series.Len()}
	if series == nil {
		return summary
	}

	if first, last, ok := series.TimeRange(); ok {
		summary.First = time.UnixMilli(first).UTC()
		summary.Last = time.UnixMilli(last).UTC()
	}

	for _, band := range series.Bands {
		bs := BandSummary{Band: band, Count: series.Len()}
		if bs.Count > 0 {
			values := series.Values(band)
			bs.Mean, bs.StdDev = stat.MeanStdDev(values, nil)
			if bs.Count == 1 {
				bs.StdDev = 0
			}
			bs.Min = floats.Min(values)
			bs.Max = floats.Max(values)
		}
		summary.Bands = append(summary.Bands, bs)
	}
	return summary
}

// Band returns the summary of band
func (s *SeriesSummary) Band(band string) (BandSummary, bool) {
	for _, bs := range s.Bands {
		if bs.Band == band {
			return bs, true
		}
	}
	return BandSummary{}, false
}
