package condition

import (
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/fagan2888/PyGeoNS/dataset"
	"github.com/fagan2888/PyGeoNS/kernel"
	"github.com/fagan2888/PyGeoNS/process"
)

// Posterior is the conditioned process evaluated at a set of query points,
// tagged with the unit exponents under which it was computed.
type Posterior struct {
	Mean     []float64
	Variance []float64
	Cov      *mat.SymDense // full covariance, only when requested
	TimeExp  int
	SpaceExp int
}

// Options controls posterior evaluation.
type Options struct {
	// FullCov materializes the full query covariance instead of only the
	// marginal variances.
	FullCov bool
	// Diff applies partial-derivative orders on the query side, turning a
	// posterior over displacement into one over the chosen derivative.
	Diff kernel.Diff
	// Workers bounds the parallel query chunks; <= 0 uses GOMAXPROCS.
	Workers int
}

// Condition performs one full conditioning pass: decompose the generalized
// least squares system and evaluate the posterior at the query points.
// qsta carries the station index of each query point, or -1 for points not
// at an observed station.
func Condition(obs *dataset.Observations, prior, noise *process.Composition, query []kernel.Point, qsta []int, opts Options) (*Posterior, error) {
	sys, err := Decompose(obs, prior, noise, nil)
	if err != nil {
		return nil, err
	}
	return sys.Posterior(query, qsta, opts)
}

// Differentiate conditions and evaluates the posterior of the requested
// space/time derivative of the underlying process, with the unit exponents
// decremented by the differentiation order along each axis.
func Differentiate(obs *dataset.Observations, prior, noise *process.Composition, query []kernel.Point, qsta []int, d kernel.Diff, opts Options) (*Posterior, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("%w: derivative orders must be 0 or 1, got (%d,%d,%d)",
			kernel.ErrInvalidModelSpec, d.T, d.X, d.Y)
	}
	opts.Diff = d
	return Condition(obs, prior, noise, query, qsta, opts)
}

// Posterior evaluates the conditioned process at the query points. The
// posterior mean is Hq beta + Kqy Kyy^-1 r and the covariance is
// Kqq - Kqy Kyy^-1 Kyq + R S^-1 R' with R = Hq - Kqy Kyy^-1 H, where the
// query-side kernels and basis columns are differentiated per opts.Diff.
func (s *System) Posterior(query []kernel.Point, qsta []int, opts Options) (*Posterior, error) {
	if !opts.Diff.Valid() {
		return nil, fmt.Errorf("%w: derivative orders must be 0 or 1, got (%d,%d,%d)",
			kernel.ErrInvalidModelSpec, opts.Diff.T, opts.Diff.X, opts.Diff.Y)
	}
	m := len(query)
	if qsta != nil && len(qsta) != m {
		return nil, fmt.Errorf("%w: %d query points with %d station indices",
			dataset.ErrDimensionMismatch, m, len(qsta))
	}
	if !s.prior.HasNetwork() {
		for i := 0; i < m; i++ {
			if qsta == nil || qsta[i] < 0 {
				return nil, fmt.Errorf("%w: station-only prior cannot interpolate away from observed stations",
					kernel.ErrInvalidModelSpec)
			}
		}
	}

	post := &Posterior{
		Mean:     make([]float64, m),
		Variance: make([]float64, m),
		TimeExp:  s.obs.TimeExp - opts.Diff.T,
		SpaceExp: s.obs.SpaceExp - opts.Diff.X - opts.Diff.Y,
	}
	if m == 0 {
		return post, nil
	}

	// Basis columns at the query side: the prior's own terms,
	// differentiated, padded with zeros over the noise columns. Noise basis
	// coefficients are part of the noise model, not of the predicted
	// signal.
	var hq *mat.Dense
	if s.p > 0 {
		hq = mat.NewDense(m, s.p, nil)
		if s.priorCols > 0 {
			hp := s.prior.BasisMatrix(query, qsta, s.obs.NumStations, opts.Diff, s.ref)
			if hp != nil {
				hq.Slice(0, m, 0, s.priorCols).(*mat.Dense).Copy(hp)
			}
		}
	}

	if opts.FullCov {
		if err := s.fullCovariance(post, query, qsta, hq, opts.Diff); err != nil {
			return nil, err
		}
		return post, nil
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	chunk := (m + workers - 1) / workers
	var g errgroup.Group
	for lo := 0; lo < m; lo += chunk {
		lo, hi := lo, lo+chunk
		if hi > m {
			hi = m
		}
		g.Go(func() error {
			return s.evalChunk(post, query, qsta, hq, opts.Diff, lo, hi)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return post, nil
}

var diff0 kernel.Diff

// evalChunk computes mean and marginal variance for query rows [lo, hi).
// All shared state is read-only.
func (s *System) evalChunk(post *Posterior, query []kernel.Point, qsta []int, hq *mat.Dense, d kernel.Diff, lo, hi int) error {
	n := len(s.obs.Y)
	mc := hi - lo
	kq := mat.NewDense(mc, n, nil)
	s.prior.Covariance(kq, query[lo:hi], sliceSta(qsta, lo, hi), d, s.obs.Points, s.obs.Sta, diff0)

	// X = Kyy^-1 Kyq for this chunk.
	x := mat.NewDense(n, mc, nil)
	if err := s.fact.solve(x, kq.T()); err != nil {
		return fmt.Errorf("%w: %v", ErrSingularCovariance, err)
	}

	rho := mat.NewVecDense(maxInt(s.p, 1), nil)
	u := mat.NewVecDense(maxInt(s.p, 1), nil)
	for i := 0; i < mc; i++ {
		qi := lo + i
		si := -1
		if qsta != nil {
			si = qsta[qi]
		}
		mean := 0.0
		for j := 0; j < n; j++ {
			mean += kq.At(i, j) * s.w.AtVec(j)
		}
		vr := s.prior.CovValue(query[qi], si, d, query[qi], si, d)
		for j := 0; j < n; j++ {
			vr -= kq.At(i, j) * x.At(j, i)
		}
		if s.p > 0 {
			for j := 0; j < s.p; j++ {
				mean += hq.At(qi, j) * s.beta.AtVec(j)
			}
			// rho = hq_i - A' kq_i
			for j := 0; j < s.p; j++ {
				dot := 0.0
				for l := 0; l < n; l++ {
					dot += s.a.At(l, j) * kq.At(i, l)
				}
				rho.SetVec(j, hq.At(qi, j)-dot)
			}
			if err := s.sChol.SolveVecTo(u, rho); err != nil {
				return fmt.Errorf("%w: %v", ErrSingularCovariance, err)
			}
			vr += mat.Dot(rho, u)
		}
		if vr < 0 {
			vr = 0
		}
		post.Mean[qi] = mean
		post.Variance[qi] = vr
	}
	return nil
}

// fullCovariance materializes the complete query covariance matrix.
func (s *System) fullCovariance(post *Posterior, query []kernel.Point, qsta []int, hq *mat.Dense, d kernel.Diff) error {
	n := len(s.obs.Y)
	m := len(query)

	kqq := mat.NewDense(m, m, nil)
	s.prior.Covariance(kqq, query, qsta, d, query, qsta, d)
	kq := mat.NewDense(m, n, nil)
	s.prior.Covariance(kq, query, qsta, d, s.obs.Points, s.obs.Sta, diff0)

	x := mat.NewDense(n, m, nil)
	if err := s.fact.solve(x, kq.T()); err != nil {
		return fmt.Errorf("%w: %v", ErrSingularCovariance, err)
	}
	var red mat.Dense
	red.Mul(kq, x)
	kqq.Sub(kqq, &red)

	mean := mat.NewVecDense(m, nil)
	mean.MulVec(kq, s.w)

	if s.p > 0 {
		var hb mat.VecDense
		hb.MulVec(hq, s.beta)
		mean.AddVec(mean, &hb)

		rho := mat.NewDense(m, s.p, nil)
		rho.Mul(kq, s.a)
		rho.Sub(hq, rho)
		su := mat.NewDense(s.p, m, nil)
		if err := s.sChol.SolveTo(su, rho.T()); err != nil {
			return fmt.Errorf("%w: %v", ErrSingularCovariance, err)
		}
		var corr mat.Dense
		corr.Mul(rho, su)
		kqq.Add(kqq, &corr)
	}

	post.Cov = mat.NewSymDense(m, nil)
	for i := 0; i < m; i++ {
		post.Mean[i] = mean.AtVec(i)
		for j := i; j < m; j++ {
			post.Cov.SetSym(i, j, 0.5*(kqq.At(i, j)+kqq.At(j, i)))
		}
		v := post.Cov.At(i, i)
		if v < 0 {
			v = 0
		}
		post.Variance[i] = v
	}
	return nil
}

// Sum combines two posteriors over independent processes evaluated at the
// same query points, such as the two orthogonal gradient components of a
// strain estimate. The unit exponents must agree.
func Sum(a, b *Posterior) (*Posterior, error) {
	if a.TimeExp != b.TimeExp || a.SpaceExp != b.SpaceExp {
		return nil, fmt.Errorf("%w: unit exponents (%d,%d) vs (%d,%d)",
			dataset.ErrDimensionMismatch, a.TimeExp, a.SpaceExp, b.TimeExp, b.SpaceExp)
	}
	if len(a.Mean) != len(b.Mean) {
		return nil, fmt.Errorf("%w: posterior lengths %d vs %d",
			dataset.ErrDimensionMismatch, len(a.Mean), len(b.Mean))
	}
	out := &Posterior{
		Mean:     make([]float64, len(a.Mean)),
		Variance: make([]float64, len(a.Mean)),
		TimeExp:  a.TimeExp,
		SpaceExp: a.SpaceExp,
	}
	floats.AddTo(out.Mean, a.Mean, b.Mean)
	floats.AddTo(out.Variance, a.Variance, b.Variance)
	if a.Cov != nil && b.Cov != nil {
		m := len(a.Mean)
		out.Cov = mat.NewSymDense(m, nil)
		for i := 0; i < m; i++ {
			for j := i; j < m; j++ {
				out.Cov.SetSym(i, j, a.Cov.At(i, j)+b.Cov.At(i, j))
			}
		}
	}
	return out, nil
}

func sliceSta(sta []int, lo, hi int) []int {
	if sta == nil {
		return nil
	}
	return sta[lo:hi]
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
