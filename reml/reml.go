// Package reml fits composition hyperparameters by restricted maximum
// likelihood: the basis-marginalized negative log likelihood is minimized
// over the free hyperparameters with Nelder-Mead, searching in log space so
// scale parameters stay positive. Candidates whose covariance cannot be
// factored are rejected with an infinite objective instead of aborting the
// search.
package reml

import (
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/fagan2888/PyGeoNS/condition"
	"github.com/fagan2888/PyGeoNS/dataset"
	"github.com/fagan2888/PyGeoNS/kernel"
	"github.com/fagan2888/PyGeoNS/process"
)

// Config controls the fit. Free, Lower and Upper align with the prior's
// flat hyperparameter vector followed by the noise's.
type Config struct {
	Free    []bool    // nil marks every hyperparameter free
	Lower   []float64 // optional per-hyperparameter bounds, original units
	Upper   []float64
	MaxIter int     // Nelder-Mead iteration budget; default 500
	Tol     float64 // absolute function-convergence tolerance; default 1e-8
	Logger  *zap.Logger
}

// Result is the fitted hyperparameter state. StdErrs aligns with the
// combined vector and is NaN for fixed hyperparameters and for fits whose
// curvature could not be resolved.
type Result struct {
	PriorParams []float64
	NoiseParams []float64
	StdErrs     []float64
	NLL         float64
	Converged   bool
	Evaluations int
}

// Fit estimates the free hyperparameters of the prior and noise
// compositions from one component's observations. Non-convergence within
// the iteration budget is reported through Result.Converged, with the best
// iterate still returned.
func Fit(obs *dataset.Observations, prior, noise *process.Composition, cfg Config) (Result, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxIter <= 0 {
		cfg.MaxIter = 500
	}
	if cfg.Tol <= 0 {
		cfg.Tol = 1e-8
	}

	nPrior := prior.NumParams()
	full := append(prior.Params(), noise.Params()...)
	total := len(full)

	free := cfg.Free
	if free == nil {
		free = make([]bool, total)
		for i := range free {
			free[i] = true
		}
	}
	if len(free) != total {
		return Result{}, fmt.Errorf("%w: %d free-parameter flags for %d hyperparameters",
			dataset.ErrDimensionMismatch, len(free), total)
	}
	if cfg.Lower != nil && len(cfg.Lower) != total || cfg.Upper != nil && len(cfg.Upper) != total {
		return Result{}, fmt.Errorf("%w: bound vectors must have length %d",
			dataset.ErrDimensionMismatch, total)
	}

	var freeIdx []int
	for i, f := range free {
		if f {
			freeIdx = append(freeIdx, i)
		}
	}

	// A structural failure (insufficient data, bad shapes) should surface
	// before the search starts.
	sys, err := condition.Decompose(obs, prior, noise, logger)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		PriorParams: append([]float64(nil), full[:nPrior]...),
		NoiseParams: append([]float64(nil), full[nPrior:]...),
		StdErrs:     nanVector(total),
		NLL:         sys.RestrictedNLL(),
		Converged:   true,
		Evaluations: 1,
	}
	if len(freeIdx) == 0 {
		return res, nil
	}

	evals := 0
	objective := func(x []float64) float64 {
		evals++
		theta := append([]float64(nil), full...)
		for i, idx := range freeIdx {
			v := math.Exp(x[i])
			if cfg.Lower != nil && v < cfg.Lower[idx] || cfg.Upper != nil && v > cfg.Upper[idx] {
				return math.Inf(1)
			}
			theta[idx] = v
		}
		p2, err := prior.WithParams(theta[:nPrior])
		if err != nil {
			return math.Inf(1)
		}
		n2, err := noise.WithParams(theta[nPrior:])
		if err != nil {
			return math.Inf(1)
		}
		sys, err := condition.Decompose(obs, p2, n2, logger)
		if err != nil {
			logger.Debug("rejecting hyperparameter candidate", zap.Error(err))
			return math.Inf(1)
		}
		nll := sys.RestrictedNLL()
		logger.Debug("objective evaluated",
			zap.Float64s("hyperparameters", theta), zap.Float64("nll", nll))
		return nll
	}

	x0 := make([]float64, len(freeIdx))
	for i, idx := range freeIdx {
		if full[idx] <= 0 {
			return Result{}, fmt.Errorf("%w: free hyperparameter %d must be positive, got %v",
				kernel.ErrInvalidModelSpec, idx, full[idx])
		}
		x0[i] = math.Log(full[idx])
	}

	problem := optimize.Problem{Func: objective}
	settings := &optimize.Settings{
		MajorIterations: cfg.MaxIter,
		Converger: &optimize.FunctionConverge{
			Absolute:   cfg.Tol,
			Iterations: 5 * len(freeIdx),
		},
	}
	opt, err := optimize.Minimize(problem, x0, settings, &optimize.NelderMead{})
	if opt == nil {
		return Result{}, fmt.Errorf("hyperparameter search failed: %w", err)
	}
	converged := err == nil &&
		opt.Status != optimize.IterationLimit &&
		opt.Status != optimize.FunctionEvaluationLimit
	if !converged {
		logger.Warn("hyperparameter search did not converge, returning best iterate",
			zap.Int("iterations", opt.Stats.MajorIterations),
			zap.Stringer("status", opt.Status))
	}

	for i, idx := range freeIdx {
		full[idx] = math.Exp(opt.X[i])
	}
	res.PriorParams = append([]float64(nil), full[:nPrior]...)
	res.NoiseParams = append([]float64(nil), full[nPrior:]...)
	res.NLL = opt.F
	res.Converged = converged
	res.Evaluations = evals

	stdErrs(&res, objective, opt.X, freeIdx, full, logger)
	logger.Info("hyperparameters fitted",
		zap.Float64s("prior", res.PriorParams),
		zap.Float64s("noise", res.NoiseParams),
		zap.Float64("nll", res.NLL),
		zap.Bool("converged", res.Converged))
	return res, nil
}

// stdErrs fills asymptotic standard errors from the observed Fisher
// information at the optimum: the finite-difference Hessian of the
// objective in log space, inverted and mapped back through the delta
// method.
func stdErrs(res *Result, objective func([]float64) float64, x []float64, freeIdx []int, full []float64, logger *zap.Logger) {
	k := len(x)
	hess := mat.NewSymDense(k, nil)
	fd.Hessian(hess, objective, x, nil)
	var chol mat.Cholesky
	if ok := chol.Factorize(hess); !ok {
		logger.Warn("observed information is not positive definite, standard errors unavailable")
		return
	}
	cov := mat.NewSymDense(k, nil)
	if err := chol.InverseTo(cov); err != nil {
		logger.Warn("could not invert observed information", zap.Error(err))
		return
	}
	for i, idx := range freeIdx {
		res.StdErrs[idx] = full[idx] * math.Sqrt(cov.At(i, i))
	}
}

func nanVector(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
