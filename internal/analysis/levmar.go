package analysis

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"lst-platform/internal/models"
)

// residualFunc writes y - f(p) for every observation into r.
type residualFunc func(p, r []float64)

// jacobianFunc writes df/dp for every observation into j (n x m).
type jacobianFunc func(p []float64, j *mat.Dense)

type lmSettings struct {
	maxIterations int
	ftol          float64
	xtol          float64
	gtol          float64
	initialLambda float64
	maxLambda     float64
	// costFloor is the cost at which the residuals are treated as rounding
	// noise and the current parameters accepted.
	costFloor float64
}

type lmResult struct {
	params     []float64
	residuals  []float64
	cost       float64
	iterations int
	// normal holds J^T J at the solution, for covariance estimation.
	normal *mat.SymDense
}

// levenbergMarquardt minimizes the sum of squared residuals over n
// observations starting from p0. It uses Marquardt's diagonal scaling, so the
// damping is invariant to the units of each parameter. It never consults
// randomness or the clock.
func levenbergMarquardt(n int, p0 []float64, residual residualFunc, jacobian jacobianFunc, s lmSettings) (*lmResult, error) {
	m := len(p0)
	p := append([]float64(nil), p0...)
	r := make([]float64, n)
	residual(p, r)
	cost := floats.Dot(r, r)
	if !isFinite(cost) {
		return &lmResult{params: p}, fmt.Errorf("%w: initial guess", models.ErrNonFinite)
	}

	J := mat.NewDense(n, m, nil)
	var A mat.SymDense
	damped := mat.NewSymDense(m, nil)
	var step mat.VecDense
	g := mat.NewVecDense(m, nil)
	pNew := make([]float64, m)
	rNew := make([]float64, n)
	lambda := s.initialLambda

	result := func(iter int) *lmResult {
		jacobian(p, J)
		var normal mat.SymDense
		normal.SymOuterK(1, J.T())
		return &lmResult{params: p, residuals: r, cost: cost, iterations: iter, normal: &normal}
	}

	for iter := 1; iter <= s.maxIterations; iter++ {
		if cost <= s.costFloor {
			return result(iter - 1), nil
		}

		jacobian(p, J)
		A.SymOuterK(1, J.T())
		g.MulVec(J.T(), mat.NewVecDense(n, r))

		// Gradient test: every column of J is orthogonal to r.
		gnorm := 0.0
		for i := 0; i < m; i++ {
			if d := A.At(i, i); d > 0 {
				gnorm = math.Max(gnorm, math.Abs(g.AtVec(i))/math.Sqrt(d*cost))
			}
		}
		if gnorm <= s.gtol {
			return result(iter - 1), nil
		}

		for {
			damped.CopySym(&A)
			for i := 0; i < m; i++ {
				d := A.At(i, i)
				if d <= 0 {
					d = 1e-12
				}
				damped.SetSym(i, i, A.At(i, i)+lambda*d)
			}

			solved := solveNormal(&step, damped, g)

			small := false
			if solved {
				for i := 0; i < m; i++ {
					pNew[i] = p[i] + step.AtVec(i)
				}
				small = floats.Norm(step.RawVector().Data, 2) <= s.xtol*(floats.Norm(p, 2)+s.xtol)

				residual(pNew, rNew)
				newCost := floats.Dot(rNew, rNew)
				if isFinite(newCost) && newCost < cost {
					reduction := (cost - newCost) / cost
					copy(p, pNew)
					copy(r, rNew)
					cost = newCost
					lambda = math.Max(lambda/10, 1e-15)
					if reduction <= s.ftol || small {
						return result(iter), nil
					}
					break
				}
			}

			// The proposed update is below resolution: p is a minimum.
			if small {
				return result(iter), nil
			}

			lambda *= 10
			if lambda > s.maxLambda {
				if cost <= s.costFloor {
					return result(iter), nil
				}
				return &lmResult{params: p, cost: cost, iterations: iter},
					fmt.Errorf("%w: residuals could not be reduced (damping %.3g)", models.ErrNotConverged, lambda)
			}
		}
	}

	return &lmResult{params: p, cost: cost, iterations: s.maxIterations},
		fmt.Errorf("%w: %d iterations exhausted", models.ErrNotConverged, s.maxIterations)
}

// solveNormal solves a*x = b. A matrix that is not numerically positive
// definite, as when a parameter stops influencing the model, falls back to
// the minimum norm solution over the well-conditioned subspace.
func solveNormal(x *mat.VecDense, a *mat.SymDense, b *mat.VecDense) bool {
	var chol mat.Cholesky
	if chol.Factorize(a) && chol.SolveVecTo(x, b) == nil {
		return true
	}

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return false
	}
	rank := svd.Rank(1e-12)
	if rank == 0 {
		return false
	}
	svd.SolveVecTo(x, b, rank)
	return true
}
