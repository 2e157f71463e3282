package analysis

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"lst-platform/internal/models"
)

// seasonalParamCount is the number of free parameters of the seasonal model.
const seasonalParamCount = 4

// FitOptions controls the Levenberg-Marquardt solver
type FitOptions struct {
	MaxIterations int
	// FTol stops when an accepted step reduces the cost by less than this fraction.
	FTol float64
	// XTol stops when a step is this small relative to the parameter norm.
	XTol float64
	// GTol stops when the residuals are this close to orthogonal to the Jacobian.
	GTol float64
}

// DefaultFitOptions mirrors MINPACK's lmdif defaults as used by curve_fit
func DefaultFitOptions() FitOptions {
	return FitOptions{
		MaxIterations: 200,
		FTol:          1.49012e-08,
		XTol:          1.49012e-08,
		GTol:          0,
	}
}

// SeasonalFitter fits the four-parameter seasonal sinusoid to a band
type SeasonalFitter struct {
	opts FitOptions
}

// NewSeasonalFitter creates a fitter; zero-valued options take their defaults
func NewSeasonalFitter(opts FitOptions) *SeasonalFitter {
	def := DefaultFitOptions()
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = def.MaxIterations
	}
	if opts.FTol <= 0 {
		opts.FTol = def.FTol
	}
	if opts.XTol <= 0 {
		opts.XTol = def.XTol
	}
	if opts.GTol < 0 {
		opts.GTol = def.GTol
	}
	return &SeasonalFitter{opts: opts}
}

// Fit estimates baseline, amplitude, period and phase of band by nonlinear
// least squares, seeded with guess. It may settle in a local minimum near
// guess; no global search is attempted.
//
// The returned model is canonical: amplitude is non-negative and phase lies
// in [0, 2*pi).
func (f *SeasonalFitter) Fit(series *models.TimeSeries, band string, guess models.SeasonalParams) (*models.SeasonalFit, error) {
	fail := func(iterations int, err error) (*models.SeasonalFit, error) {
		return nil, &models.FitError{Band: band, Samples: series.Len(), Iterations: iterations, Err: err}
	}

	if !series.HasBand(band) {
		return fail(0, models.ErrUnknownBand)
	}
	n := series.Len()
	if n < seasonalParamCount {
		return fail(0, models.ErrInsufficientSamples)
	}
	if !guess.IsFinite() || guess.Period <= 0 {
		return fail(0, models.ErrInvalidGuess)
	}

	times := series.Times()
	values := series.Values(band)

	// Fit on a centered time axis in units of the initial period; raw epoch
	// milliseconds make the normal equations nearly singular.
	center := stat.Mean(times, nil)
	unit := guess.Period
	s := make([]float64, n)
	for i, t := range times {
		s[i] = (t - center) / unit
	}

	p0 := []float64{
		guess.Baseline,
		guess.Amplitude,
		1,
		wrapPhase(guess.Phase + 2*math.Pi*center/guess.Period),
	}

	residual := func(p, r []float64) {
		for i := range s {
			if p[2] <= 0 {
				r[i] = math.Inf(1)
				continue
			}
			r[i] = values[i] - (p[0] + p[1]/2*math.Sin(2*math.Pi*s[i]/p[2]+p[3]))
		}
	}
	jacobian := func(p []float64, j *mat.Dense) {
		for i := range s {
			u := 2*math.Pi*s[i]/p[2] + p[3]
			sin, cos := math.Sincos(u)
			j.Set(i, 0, 1)
			j.Set(i, 1, sin/2)
			j.Set(i, 2, -p[1]/2*cos*2*math.Pi*s[i]/(p[2]*p[2]))
			j.Set(i, 3, p[1]/2*cos)
		}
	}

	res, err := levenbergMarquardt(n, p0, residual, jacobian, lmSettings{
		maxIterations: f.opts.MaxIterations,
		ftol:          f.opts.FTol,
		xtol:          f.opts.XTol,
		gtol:          f.opts.GTol,
		initialLambda: 1e-3,
		maxLambda:     1e16,
		costFloor:     roundingFloor(values),
	})
	if err != nil {
		return fail(res.iterations, err)
	}

	period := res.params[2] * unit
	params := models.SeasonalParams{
		Baseline:  res.params[0],
		Amplitude: res.params[1],
		Period:    period,
		Phase:     res.params[3] - 2*math.Pi*center/period,
	}
	flipped := params.Amplitude < 0
	if flipped {
		params.Amplitude = -params.Amplitude
		params.Phase += math.Pi
	}
	params.Phase = wrapPhase(params.Phase)

	if !params.IsFinite() || params.Period <= 0 {
		return fail(res.iterations, models.ErrNonFinite)
	}

	fit := &models.SeasonalFit{
		Model:      models.SeasonalModel{SeasonalParams: params},
		Band:       band,
		Samples:    n,
		Iterations: res.iterations,
		RSS:        res.cost,
		RMSE:       math.Sqrt(res.cost / float64(n)),
		RSquared:   rSquared(values, res.cost),
		Covariance: covariance(res, n, center, unit, flipped),
	}
	return fit, nil
}

// roundingFloor is the cost of residuals at about 1e-10 of the largest
// observation, below which no fit can be meaningfully improved.
func roundingFloor(values []float64) float64 {
	scale := 1.0
	for _, v := range values {
		scale = math.Max(scale, math.Abs(v))
	}
	r := 1e-10 * scale
	return float64(len(values)) * r * r
}

func wrapPhase(phase float64) float64 {
	phase = math.Mod(phase, 2*math.Pi)
	if phase < 0 {
		phase += 2 * math.Pi
	}
	return phase
}

func rSquared(values []float64, rss float64) float64 {
	mean := stat.Mean(values, nil)
	tss := 0.0
	for _, v := range values {
		tss += (v - mean) * (v - mean)
	}
	if tss == 0 {
		return math.NaN()
	}
	return 1 - rss/tss
}

// covariance estimates the parameter covariance in absolute units as
// s^2 (J^T J)^-1, mapped through the centering transform. It returns nil
// when the residual variance or the inverse cannot be estimated.
func covariance(res *lmResult, n int, center, unit float64, flipped bool) *mat.SymDense {
	dof := n - seasonalParamCount
	if dof <= 0 || res.normal == nil {
		return nil
	}

	var chol mat.Cholesky
	if !chol.Factorize(res.normal) {
		return nil
	}
	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil
		}
	}
	inv.ScaleSym(res.cost/float64(dof), &inv)

	// d(absolute)/d(internal): period = rho*unit, phase = phi - 2*pi*center/(rho*unit).
	rho := res.params[2]
	sign := 1.0
	if flipped {
		sign = -1
	}
	t := mat.NewDense(seasonalParamCount, seasonalParamCount, []float64{
		1, 0, 0, 0,
		0, sign, 0, 0,
		0, 0, unit, 0,
		0, 0, 2 * math.Pi * center / (rho * rho * unit), 1,
	})

	var tmp, full mat.Dense
	tmp.Mul(t, &inv)
	full.Mul(&tmp, t.T())

	out := mat.NewSymDense(seasonalParamCount, nil)
	for i := 0; i < seasonalParamCount; i++ {
		for j := i; j < seasonalParamCount; j++ {
			out.SetSym(i, j, full.At(i, j))
		}
	}
	return out
}
