// Package condition implements Bayesian Gaussian-process regression with an
// unconstrained basis: the universal-kriging decomposition that jointly
// estimates fixed-effect basis coefficients by generalized least squares and
// conditions the residual process on the observations. The same
// decomposition yields the restricted log likelihood used for REML
// hyperparameter estimation and the leave-one-out residuals used for
// outlier detection.
package condition

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/fagan2888/PyGeoNS/dataset"
	"github.com/fagan2888/PyGeoNS/kernel"
	"github.com/fagan2888/PyGeoNS/process"
	"github.com/fagan2888/PyGeoNS/utils"
)

var (
	ErrSingularCovariance = errors.New("singular covariance")
	ErrInsufficientData   = errors.New("insufficient data")
)

// jitterScale sets the deterministic jitter added to the diagonal, relative
// to the mean diagonal entry, when a factorization fails.
const jitterScale = 1e-10

// factorizer abstracts the dense Cholesky and the banded Cholesky used for
// compact-support compositions. Solves are read-only and safe to call
// concurrently.
type factorizer interface {
	solveVec(dst *mat.VecDense, b mat.Vector) error
	solve(dst *mat.Dense, b mat.Matrix) error
	logDet() float64
	invDiag() []float64
	size() int
}

type denseFactor struct {
	chol mat.Cholesky
	n    int
}

func (f *denseFactor) solveVec(dst *mat.VecDense, b mat.Vector) error {
	return f.chol.SolveVecTo(dst, b)
}
func (f *denseFactor) solve(dst *mat.Dense, b mat.Matrix) error { return f.chol.SolveTo(dst, b) }
func (f *denseFactor) logDet() float64                          { return f.chol.LogDet() }
func (f *denseFactor) size() int                                { return f.n }

func (f *denseFactor) invDiag() []float64 {
	inv := mat.NewSymDense(f.n, nil)
	if err := f.chol.InverseTo(inv); err != nil {
		return nil
	}
	out := make([]float64, f.n)
	for i := range out {
		out[i] = inv.At(i, i)
	}
	return out
}

type bandFactor struct {
	chol mat.BandCholesky
	n    int
}

func (f *bandFactor) solveVec(dst *mat.VecDense, b mat.Vector) error {
	return f.chol.SolveVecTo(dst, b)
}
func (f *bandFactor) solve(dst *mat.Dense, b mat.Matrix) error { return f.chol.SolveTo(dst, b) }
func (f *bandFactor) logDet() float64                          { return f.chol.LogDet() }
func (f *bandFactor) size() int                                { return f.n }

func (f *bandFactor) invDiag() []float64 {
	out := make([]float64, f.n)
	e := mat.NewVecDense(f.n, nil)
	x := mat.NewVecDense(f.n, nil)
	for i := 0; i < f.n; i++ {
		if i > 0 {
			e.SetVec(i-1, 0)
		}
		e.SetVec(i, 1)
		if err := f.chol.SolveVecTo(x, e); err != nil {
			return nil
		}
		out[i] = x.AtVec(i)
	}
	return out
}

// System is the factored generalized-least-squares decomposition of one
// conditioning problem. It is read-only after Decompose and safe for
// concurrent posterior evaluation.
type System struct {
	obs          *dataset.Observations
	prior, noise *process.Composition
	logger       *zap.Logger

	fact      factorizer
	ref       float64 // basis reference epoch, MJD
	h         *mat.Dense
	p         int // basis columns
	priorCols int // leading columns of h contributed by the prior

	a       *mat.Dense // Kyy^-1 H
	sChol   mat.Cholesky
	beta    *mat.VecDense
	w       *mat.VecDense // Kyy^-1 (y - H beta)
	logDetK float64
	logDetS float64
	quad    float64 // r^T Kyy^-1 r
}

// Decompose assembles Kyy = Prior + Noise + diag(sigma^2) over the observed
// points, augments it with the union basis design matrix of both
// compositions, and factors the generalized least squares system. When
// every kernel is sparse-representable the covariance is assembled and
// factored in banded form.
func Decompose(obs *dataset.Observations, prior, noise *process.Composition, logger *zap.Logger) (*System, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := len(obs.Y)
	if n == 0 {
		return nil, fmt.Errorf("%w: no observations", ErrInsufficientData)
	}
	if len(obs.Points) != n || len(obs.Sigma) != n || len(obs.Sta) != n {
		return nil, fmt.Errorf("%w: observation arrays have lengths %d/%d/%d/%d",
			dataset.ErrDimensionMismatch, len(obs.Points), n, len(obs.Sigma), len(obs.Sta))
	}

	sys := &System{obs: obs, prior: prior, noise: noise, logger: logger}
	sys.ref = meanTime(obs.Points)

	var d0 kernel.Diff
	hp := prior.BasisMatrix(obs.Points, obs.Sta, obs.NumStations, d0, sys.ref)
	hn := noise.BasisMatrix(obs.Points, obs.Sta, obs.NumStations, d0, sys.ref)
	sys.h = utils.HStack(hp, hn)
	if hp != nil {
		_, sys.priorCols = hp.Dims()
	}
	if sys.h != nil {
		_, sys.p = sys.h.Dims()
	}
	if n <= sys.p {
		return nil, fmt.Errorf("%w: %d observations for %d basis coefficients",
			ErrInsufficientData, n, sys.p)
	}

	fact, err := factorize(obs, prior, noise, logger)
	if err != nil {
		return nil, err
	}
	sys.fact = fact
	sys.logDetK = fact.logDet()

	y := mat.NewVecDense(n, nil)
	for i, v := range obs.Y {
		y.SetVec(i, v)
	}

	r := mat.NewVecDense(n, nil)
	if sys.p > 0 {
		sys.a = mat.NewDense(n, sys.p, nil)
		if err := fact.solve(sys.a, sys.h); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSingularCovariance, err)
		}
		s := mat.NewDense(sys.p, sys.p, nil)
		s.Mul(sys.h.T(), sys.a)
		sSym := mat.NewSymDense(sys.p, nil)
		for i := 0; i < sys.p; i++ {
			for j := i; j < sys.p; j++ {
				sSym.SetSym(i, j, 0.5*(s.At(i, j)+s.At(j, i)))
			}
		}
		if ok := sys.sChol.Factorize(sSym); !ok {
			return nil, fmt.Errorf("%w: basis projection matrix is not positive definite",
				ErrSingularCovariance)
		}
		sys.logDetS = sys.sChol.LogDet()

		v := mat.NewVecDense(n, nil)
		if err := fact.solveVec(v, y); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSingularCovariance, err)
		}
		rhs := mat.NewVecDense(sys.p, nil)
		rhs.MulVec(sys.h.T(), v)
		sys.beta = mat.NewVecDense(sys.p, nil)
		if err := sys.sChol.SolveVecTo(sys.beta, rhs); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSingularCovariance, err)
		}
		r.MulVec(sys.h, sys.beta)
		r.SubVec(y, r)
	} else {
		r.CopyVec(y)
	}

	sys.w = mat.NewVecDense(n, nil)
	if err := fact.solveVec(sys.w, r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingularCovariance, err)
	}
	sys.quad = mat.Dot(r, sys.w)
	return sys, nil
}

func meanTime(pts []kernel.Point) float64 {
	s := 0.0
	for _, p := range pts {
		s += p.T
	}
	return s / float64(len(pts))
}

// factorize builds and factors Kyy, retrying once with a deterministic
// diagonal jitter on a degenerate factorization.
func factorize(obs *dataset.Observations, prior, noise *process.Composition, logger *zap.Logger) (factorizer, error) {
	n := len(obs.Y)
	if prior.Sparse() && noise.Sparse() {
		radius := math.Max(prior.SupportRadius(), noise.SupportRadius())
		width := process.Bandwidth(obs.Points, radius)
		if width < n-1 {
			return factorizeBand(obs, prior, noise, width, logger)
		}
		// Band spans the whole matrix; dense is cheaper.
	}
	return factorizeDense(obs, prior, noise, logger)
}

func factorizeDense(obs *dataset.Observations, prior, noise *process.Composition, logger *zap.Logger) (factorizer, error) {
	n := len(obs.Y)
	kyy := mat.NewSymDense(n, nil)
	prior.CovarianceSym(kyy, obs.Points, obs.Sta)
	noise.CovarianceSym(kyy, obs.Points, obs.Sta)
	trace := 0.0
	for i := 0; i < n; i++ {
		kyy.SetSym(i, i, kyy.At(i, i)+obs.Sigma[i]*obs.Sigma[i])
		trace += kyy.At(i, i)
	}
	f := &denseFactor{n: n}
	if ok := f.chol.Factorize(kyy); ok {
		return f, nil
	}
	eps := jitterScale * trace / float64(n)
	logger.Warn("covariance factorization failed, retrying with jitter",
		zap.Float64("jitter", eps))
	for i := 0; i < n; i++ {
		kyy.SetSym(i, i, kyy.At(i, i)+eps)
	}
	if ok := f.chol.Factorize(kyy); ok {
		return f, nil
	}
	return nil, fmt.Errorf("%w: covariance matrix of order %d is not positive definite",
		ErrSingularCovariance, n)
}

func factorizeBand(obs *dataset.Observations, prior, noise *process.Composition, width int, logger *zap.Logger) (factorizer, error) {
	n := len(obs.Y)
	kyy := mat.NewSymBandDense(n, width, nil)
	prior.CovarianceBand(kyy, obs.Points, obs.Sta)
	noise.CovarianceBand(kyy, obs.Points, obs.Sta)
	trace := 0.0
	for i := 0; i < n; i++ {
		kyy.SetSymBand(i, i, kyy.At(i, i)+obs.Sigma[i]*obs.Sigma[i])
		trace += kyy.At(i, i)
	}
	f := &bandFactor{n: n}
	if ok := f.chol.Factorize(kyy); ok {
		return f, nil
	}
	eps := jitterScale * trace / float64(n)
	logger.Warn("banded covariance factorization failed, retrying with jitter",
		zap.Float64("jitter", eps), zap.Int("bandwidth", width))
	for i := 0; i < n; i++ {
		kyy.SetSymBand(i, i, kyy.At(i, i)+eps)
	}
	if ok := f.chol.Factorize(kyy); ok {
		return f, nil
	}
	return nil, fmt.Errorf("%w: banded covariance matrix of order %d is not positive definite",
		ErrSingularCovariance, n)
}

// RestrictedNLL is the restricted negative log marginal likelihood of the
// observations: the basis-marginalized -log p(y | hyperparameters),
//
//	1/2 [ log|Kyy| + log|H' Kyy^-1 H| + r' Kyy^-1 r + (n-p) log 2pi ].
func (s *System) RestrictedNLL() float64 {
	n := float64(len(s.obs.Y) - s.p)
	return 0.5 * (s.logDetK + s.logDetS + s.quad + n*math.Log(2*math.Pi))
}

// LOOResiduals returns the leave-one-out standardized residual of each
// observation: the misfit between the observed value and the predictive
// distribution conditioned on all other observations, in units of its
// predictive standard deviation (observation noise included). With the
// projected precision P = Kyy^-1 - Kyy^-1 H S^-1 H' Kyy^-1, the residual is
// [Py]_i / sqrt(P_ii).
func (s *System) LOOResiduals() ([]float64, error) {
	n := len(s.obs.Y)
	diag := s.fact.invDiag()
	if diag == nil {
		return nil, fmt.Errorf("%w: cannot invert covariance for leave-one-out residuals",
			ErrSingularCovariance)
	}
	if s.p > 0 {
		// Subtract the basis-projection contribution row by row.
		x := mat.NewDense(s.p, n, nil)
		if err := s.sChol.SolveTo(x, s.a.T()); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSingularCovariance, err)
		}
		for i := 0; i < n; i++ {
			dot := 0.0
			for j := 0; j < s.p; j++ {
				dot += s.a.At(i, j) * x.At(j, i)
			}
			diag[i] -= dot
		}
	}
	z := make([]float64, n)
	for i := 0; i < n; i++ {
		if diag[i] <= 0 {
			z[i] = 0
			continue
		}
		z[i] = s.w.AtVec(i) / math.Sqrt(diag[i])
	}
	return z, nil
}
