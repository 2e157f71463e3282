package models

import (
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
)

// Required columns of every region response header besides the bands.
const (
	ColumnLongitude = "longitude"
	ColumnLatitude  = "latitude"
	ColumnTime      = "time"
)

// RawRecord is one row of a provider region response. Field meaning is
// defined only by the Header row at the same position.
type RawRecord []interface{}

// RawResponse is the provider's tabular payload: element 0 is the header
// row, every following element is a RawRecord aligned to it.
type RawResponse []RawRecord

// Header is the ordered list of column names of a RawResponse
type Header []string

// Index returns the position of column name in the header, or -1
func (h Header) Index(name string) int {
	for i, col := range h {
		if col == name {
			return i
		}
	}
	return -1
}

// Sample is one normalized observation. Every requested band is present.
type Sample struct {
	Time     int64              `json:"time"`
	Datetime time.Time          `json:"datetime"`
	Bands    map[string]float64 `json:"bands"`
}

// NewSample builds a Sample whose Datetime is the UTC rendering of timeMS
func NewSample(timeMS int64, bands map[string]float64) Sample {
	return Sample{
		Time:     timeMS,
		Datetime: time.UnixMilli(timeMS).UTC(),
		Bands:    bands,
	}
}

// TimeSeries is an ordered sequence of samples for a fixed band list.
// It is not modified after construction.
type TimeSeries struct {
	Bands   []string `json:"bands"`
	Samples []Sample `json:"samples"`
}

// Len returns the number of samples
func (ts *TimeSeries) Len() int {
	if ts == nil {
		return 0
	}
	return len(ts.Samples)
}

// HasBand reports whether band is part of the series
func (ts *TimeSeries) HasBand(band string) bool {
	if ts == nil {
		return false
	}
	for _, b := range ts.Bands {
		if b == band {
			return true
		}
	}
	return false
}

// Times returns the sample times as float64 milliseconds, in series order
func (ts *TimeSeries) Times() []float64 {
	out := make([]float64, ts.Len())
	for i, s := range ts.Samples {
		out[i] = float64(s.Time)
	}
	return out
}

// Values returns the values of band in series order
func (ts *TimeSeries) Values(band string) []float64 {
	out := make([]float64, ts.Len())
	for i, s := range ts.Samples {
		out[i] = s.Bands[band]
	}
	return out
}

// TimeRange returns the earliest and latest sample times in milliseconds
func (ts *TimeSeries) TimeRange() (first, last int64, ok bool) {
	if ts.Len() == 0 {
		return 0, 0, false
	}
	first, last = ts.Samples[0].Time, ts.Samples[0].Time
	for _, s := range ts.Samples[1:] {
		if s.Time < first {
			first = s.Time
		}
		if s.Time > last {
			last = s.Time
		}
	}
	return first, last, true
}

// SeasonalParams are the four parameters of the seasonal sinusoid.
// Period is in milliseconds, Phase in radians.
type SeasonalParams struct {
	Baseline  float64 `json:"baseline"`
	Amplitude float64 `json:"amplitude"`
	Period    float64 `json:"period"`
	Phase     float64 `json:"phase"`
}

// IsFinite reports whether every parameter is a finite number
func (p SeasonalParams) IsFinite() bool {
	for _, v := range [...]float64{p.Baseline, p.Amplitude, p.Period, p.Phase} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// SeasonalModel is a fitted annual cycle:
//
//	f(t) = Baseline + (Amplitude/2) * sin(2*pi*t/Period + Phase)
//
// with t in milliseconds since the Unix epoch.
type SeasonalModel struct {
	SeasonalParams
}

// Evaluate returns the model value at t milliseconds
func (m SeasonalModel) Evaluate(t float64) float64 {
	return SeasonalValue(m.SeasonalParams, t)
}

// EvaluateTime returns the model value at the given instant
func (m SeasonalModel) EvaluateTime(t time.Time) float64 {
	return m.Evaluate(float64(t.UnixMilli()))
}

// SeasonalValue evaluates the seasonal sinusoid for p at t milliseconds
func SeasonalValue(p SeasonalParams, t float64) float64 {
	return p.Baseline + (p.Amplitude/2)*math.Sin(2*math.Pi*t/p.Period+p.Phase)
}

// SeasonalFit is a fitted SeasonalModel with its goodness-of-fit diagnostics
type SeasonalFit struct {
	Model      SeasonalModel
	Band       string
	Samples    int
	Iterations int
	// RSS is the residual sum of squares at the solution.
	RSS      float64
	RMSE     float64
	RSquared float64
	// Covariance of (baseline, amplitude, period, phase), nil when it
	// cannot be estimated.
	Covariance *mat.SymDense
}

// StdErrors returns the one-sigma uncertainty of each parameter, or nil
func (f *SeasonalFit) StdErrors() *SeasonalParams {
	if f == nil || f.Covariance == nil {
		return nil
	}
	sd := func(i int) float64 {
		return math.Sqrt(math.Max(f.Covariance.At(i, i), 0))
	}
	return &SeasonalParams{Baseline: sd(0), Amplitude: sd(1), Period: sd(2), Phase: sd(3)}
}

// RegionQuery describes the point time series requested from the provider
type RegionQuery struct {
	Collection string
	Bands      []string
	Longitude  float64
	Latitude   float64
	// Scale is the sampling resolution in meters.
	Scale float64
	// StartDate is inclusive, EndDate exclusive; both are ISO dates.
	StartDate string
	EndDate   string
}
