package analysis

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"lst-platform/internal/models"
)

const yearMS = 365.0 * 24 * 3600 * 1000

func syntheticSeries(band string, times []float64, f func(t float64) float64) *models.TimeSeries {
	ts := &models.TimeSeries{Bands: []string{band}}
	for _, t := range times {
		ts.Samples = append(ts.Samples, models.NewSample(int64(t), map[string]float64{band: f(float64(int64(t)))}))
	}
	return ts
}

func evenTimes(start, span float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Round(start + span*float64(i)/float64(n-1))
	}
	return out
}

func assertWithinPercent(t *testing.T, want, got, percent float64, name string) {
	t.Helper()
	assert.InDelta(t, want, got, math.Abs(want)*percent/100, "%s = %v, want %v ±%v%%", name, got, want, percent)
}

func TestSeasonalFitter_RecoversNoiseFreeSinusoid(t *testing.T) {
	// f(t) = 10 + 5 sin(2πt/T + 0.3): baseline 10, peak-to-peak amplitude 10.
	truth := models.SeasonalParams{Baseline: 10, Amplitude: 10, Period: yearMS, Phase: 0.3}
	series := syntheticSeries(lstBand, evenTimes(0, 3*yearMS, 3*365), func(t float64) float64 {
		return models.SeasonalValue(truth, t)
	})

	guess := models.SeasonalParams{Baseline: 8, Amplitude: 8, Period: 1.02 * yearMS, Phase: 0.2}
	fit, err := NewSeasonalFitter(FitOptions{}).Fit(series, lstBand, guess)
	require.NoError(t, err)

	got := fit.Model.SeasonalParams
	assertWithinPercent(t, truth.Baseline, got.Baseline, 1, "baseline")
	assertWithinPercent(t, truth.Amplitude, got.Amplitude, 1, "amplitude")
	assertWithinPercent(t, truth.Period, got.Period, 1, "period")
	assertWithinPercent(t, truth.Phase, got.Phase, 1, "phase")

	assert.True(t, got.IsFinite())
	assert.Less(t, fit.RMSE, 1e-6)
	assert.InDelta(t, 1.0, fit.RSquared, 1e-9)
	assert.Equal(t, series.Len(), fit.Samples)
	assert.Greater(t, fit.Iterations, 0)
}

func TestSeasonalFitter_RealisticDailySeries(t *testing.T) {
	// Twenty-three years of daily samples on epoch milliseconds, seeded
	// with the production initial guess.
	truth := models.SeasonalParams{Baseline: 14, Amplitude: 36, Period: 365.25 * 24 * 3600 * 1000, Phase: 0.6}
	rng := rand.New(rand.NewSource(42))
	start := 951350400000.0 // 2000-02-24
	times := evenTimes(start, 23*yearMS, 23*365)

	series := syntheticSeries(lstBand, times, func(t float64) float64 {
		return models.SeasonalValue(truth, t) + rng.NormFloat64()*3
	})

	guess := models.SeasonalParams{
		Baseline:  20,
		Amplitude: 40,
		Period:    yearMS,
		Phase:     2 * math.Pi * 4 * 30.5 * 3600 * 1000 / yearMS,
	}
	fit, err := NewSeasonalFitter(DefaultFitOptions()).Fit(series, lstBand, guess)
	require.NoError(t, err)

	got := fit.Model
	assertWithinPercent(t, truth.Baseline, got.Baseline, 2, "baseline")
	assertWithinPercent(t, truth.Amplitude, got.Amplitude, 2, "amplitude")
	assertWithinPercent(t, truth.Period, got.Period, 0.1, "period")

	for _, at := range []float64{times[0], times[len(times)/2], times[len(times)-1]} {
		assert.InDelta(t, models.SeasonalValue(truth, at), got.Evaluate(at), 1.0)
	}

	assert.InDelta(t, 3.0, fit.RMSE, 0.2)
	require.NotNil(t, fit.Covariance)
	stdErr := fit.StdErrors()
	require.NotNil(t, stdErr)
	assert.Greater(t, stdErr.Baseline, 0.0)
	assert.Less(t, stdErr.Baseline, 0.5)
}

func TestSeasonalFitter_IsDeterministic(t *testing.T) {
	truth := models.SeasonalParams{Baseline: 10, Amplitude: 10, Period: yearMS, Phase: 1.1}
	series := syntheticSeries(lstBand, evenTimes(0, 2*yearMS, 200), func(t float64) float64 {
		return models.SeasonalValue(truth, t) + math.Sin(t/1e7)
	})
	guess := models.SeasonalParams{Baseline: 9, Amplitude: 12, Period: yearMS, Phase: 1}

	fitter := NewSeasonalFitter(DefaultFitOptions())
	a, err := fitter.Fit(series, lstBand, guess)
	require.NoError(t, err)
	b, err := fitter.Fit(series, lstBand, guess)
	require.NoError(t, err)

	assert.Equal(t, a.Model, b.Model)
	assert.Equal(t, a.Iterations, b.Iterations)
}

func TestSeasonalFitter_CanonicalizesNegativeAmplitude(t *testing.T) {
	truth := models.SeasonalParams{Baseline: 5, Amplitude: 20, Period: yearMS, Phase: 0.5}
	series := syntheticSeries(lstBand, evenTimes(0, 2*yearMS, 400), func(t float64) float64 {
		return models.SeasonalValue(truth, t)
	})

	// Opposite sign, phase shifted by pi: the same curve.
	guess := models.SeasonalParams{Baseline: 5, Amplitude: -18, Period: yearMS, Phase: 0.5 + math.Pi + 0.1}
	fit, err := NewSeasonalFitter(FitOptions{}).Fit(series, lstBand, guess)
	require.NoError(t, err)

	assert.InDelta(t, 20, fit.Model.Amplitude, 1e-3)
	assert.InDelta(t, 0.5, fit.Model.Phase, 1e-3)
	assert.GreaterOrEqual(t, fit.Model.Phase, 0.0)
	assert.Less(t, fit.Model.Phase, 2*math.Pi)
}

func TestSeasonalFitter_Errors(t *testing.T) {
	three := syntheticSeries(lstBand, []float64{0, 1000, 2000}, func(t float64) float64 { return t })
	four := syntheticSeries(lstBand, []float64{0, 1e9, 2e9, 3e9}, func(t float64) float64 { return math.Sin(t / 1e9) })
	good := models.SeasonalParams{Baseline: 0, Amplitude: 2, Period: yearMS, Phase: 0}

	tests := []struct {
		name    string
		series  *models.TimeSeries
		band    string
		guess   models.SeasonalParams
		wantErr error
	}{
		{"fewer samples than parameters", three, lstBand, good, models.ErrInsufficientSamples},
		{"empty series", &models.TimeSeries{Bands: []string{lstBand}}, lstBand, good, models.ErrInsufficientSamples},
		{"unknown band", four, "LST_Night_1km", good, models.ErrUnknownBand},
		{"zero period guess", four, lstBand, models.SeasonalParams{Amplitude: 1}, models.ErrInvalidGuess},
		{"non-finite guess", four, lstBand, models.SeasonalParams{Baseline: math.NaN(), Period: yearMS}, models.ErrInvalidGuess},
	}

	fitter := NewSeasonalFitter(DefaultFitOptions())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fit, err := fitter.Fit(tt.series, tt.band, tt.guess)

			assert.Nil(t, fit)
			var fitErr *models.FitError
			require.True(t, errors.As(err, &fitErr), "error = %v, want *models.FitError", err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSeasonalFitter_ReportsNonConvergence(t *testing.T) {
	truth := models.SeasonalParams{Baseline: 10, Amplitude: 10, Period: yearMS, Phase: 0.3}
	series := syntheticSeries(lstBand, evenTimes(0, 3*yearMS, 500), func(t float64) float64 {
		return models.SeasonalValue(truth, t)
	})
	guess := models.SeasonalParams{Baseline: 0, Amplitude: 1, Period: 0.7 * yearMS, Phase: 2}

	_, err := NewSeasonalFitter(FitOptions{MaxIterations: 1}).Fit(series, lstBand, guess)

	var fitErr *models.FitError
	require.True(t, errors.As(err, &fitErr))
	assert.ErrorIs(t, err, models.ErrNotConverged)
}

func TestSeasonalFitter_FlatSeriesConverges(t *testing.T) {
	series := syntheticSeries(lstBand, evenTimes(0, 2*yearMS, 2*365), func(float64) float64 {
		return 7
	})
	guess := models.SeasonalParams{Baseline: 20, Amplitude: 40, Period: yearMS, Phase: 0.6}

	fit, err := NewSeasonalFitter(DefaultFitOptions()).Fit(series, lstBand, guess)
	require.NoError(t, err)

	got := fit.Model.SeasonalParams
	assert.InDelta(t, 7.0, got.Baseline, 1e-6)
	assert.InDelta(t, 0.0, got.Amplitude, 1e-6)
	assert.Greater(t, got.Period, 0.0)
	assert.True(t, got.Phase >= 0 && got.Phase < 2*math.Pi, "phase = %v", got.Phase)
	assert.Less(t, fit.RMSE, 1e-6)
	assert.True(t, math.IsNaN(fit.RSquared), "R^2 of a constant series = %v", fit.RSquared)
}

func TestSolveNormal_SingularFallsBackToMinimumNorm(t *testing.T) {
	a := mat.NewSymDense(2, []float64{
		1, 0,
		0, 0,
	})
	b := mat.NewVecDense(2, []float64{2, 0})

	var x mat.VecDense
	require.True(t, solveNormal(&x, a, b))
	assert.InDelta(t, 2.0, x.AtVec(0), 1e-12)
	assert.InDelta(t, 0.0, x.AtVec(1), 1e-12)

	var zero mat.VecDense
	assert.False(t, solveNormal(&zero, mat.NewSymDense(2, nil), b))
}

func TestWrapPhase(t *testing.T) {
	assert.InDelta(t, 0.5, wrapPhase(0.5), 1e-12)
	assert.InDelta(t, 0.5, wrapPhase(0.5+4*math.Pi), 1e-12)
	assert.InDelta(t, 2*math.Pi-0.5, wrapPhase(-0.5), 1e-12)
}
