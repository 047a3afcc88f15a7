package kernel_test

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/fagan2888/PyGeoNS/kernel"
)

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		model  string
		params []float64
		ok     bool
	}{
		{name: "wen12-se", model: "wen12-se", params: []float64{1, 0.1, 100}, ok: true},
		{name: "spwen12-se", model: "spwen12-se", params: []float64{1, 0.1, 100}, ok: true},
		{name: "se-se", model: "se-se", params: []float64{1, 0.1, 100}, ok: true},
		{name: "ibm-se", model: "ibm-se", params: []float64{1, 50000, 100}, ok: true},
		{name: "fogm", model: "fogm", params: []float64{0.5, 10}, ok: true},
		{name: "bm", model: "bm", params: []float64{0.5, 50000}, ok: true},
		{name: "linear", model: "linear", params: nil, ok: true},
		{name: "per", model: "per", params: nil, ok: true},
		{name: "poly", model: "p2", params: nil, ok: true},
		{name: "unknown model", model: "matern32", params: []float64{1}, ok: false},
		{name: "missing params", model: "se-se", params: []float64{1, 0.1}, ok: false},
		{name: "extra params", model: "fogm", params: []float64{1, 2, 3}, ok: false},
		{name: "poly with params", model: "p1", params: []float64{1}, ok: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := kernel.New(tc.model, tc.params)
			if tc.ok {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, kernel.ErrInvalidModelSpec)
			}
		})
	}
}

func TestArity(t *testing.T) {
	t.Parallel()

	for model, want := range map[string]int{
		"wen12-se": 3, "spwen12-se": 3, "se-se": 3, "ibm-se": 3,
		"fogm": 2, "bm": 2, "linear": 0, "per": 0, "p0": 0, "p3": 0,
	} {
		got, err := kernel.Arity(model)
		require.NoError(t, err, model)
		require.Equal(t, want, got, model)
	}
	_, err := kernel.Arity("nope")
	require.ErrorIs(t, err, kernel.ErrInvalidModelSpec)
}

func TestDiff(t *testing.T) {
	t.Parallel()

	require.True(t, kernel.Diff{}.Valid())
	require.True(t, kernel.Diff{T: 1, X: 1, Y: 1}.Valid())
	require.False(t, kernel.Diff{T: 2}.Valid())
	require.False(t, kernel.Diff{X: -1}.Valid())
	require.Equal(t, 2, kernel.Diff{T: 1, X: 1}.Order())
}

func TestPolyOrder(t *testing.T) {
	t.Parallel()

	lin, err := kernel.New("linear", nil)
	require.NoError(t, err)
	require.Equal(t, 1, lin.PolyOrder())
	require.True(t, lin.IsBasis())

	p3, err := kernel.New("p3", nil)
	require.NoError(t, err)
	require.Equal(t, 3, p3.PolyOrder())

	se, err := kernel.New("se-se", []float64{1, 0.1, 100})
	require.NoError(t, err)
	require.Equal(t, -1, se.PolyOrder())
	require.False(t, se.IsBasis())
}

func TestSupportRadius(t *testing.T) {
	t.Parallel()

	k, err := kernel.New("wen12-se", []float64{1, 0.2, 100})
	require.NoError(t, err)
	require.InDelta(t, 0.2*kernel.DaysPerYear, k.SupportRadius(), 1e-12)
	require.True(t, k.Sparse())

	se, err := kernel.New("se-se", []float64{1, 0.2, 100})
	require.NoError(t, err)
	require.True(t, math.IsInf(se.SupportRadius(), 1))
	require.False(t, se.Sparse())
}

func TestCovSymmetry(t *testing.T) {
	t.Parallel()

	p := kernel.Point{T: 50010, X: 20000, Y: -10000}
	q := kernel.Point{T: 50025, X: 5000, Y: 8000}
	var d0 kernel.Diff

	for _, tc := range []struct {
		model  string
		params []float64
	}{
		{"wen12-se", []float64{2, 0.2, 100}},
		{"se-se", []float64{2, 0.2, 100}},
		{"ibm-se", []float64{2, 50000, 100}},
		{"fogm", []float64{0.5, 10}},
		{"bm", []float64{0.5, 50000}},
	} {
		k, err := kernel.New(tc.model, tc.params)
		require.NoError(t, err)
		require.InDelta(t, k.Cov(p, q, d0, d0), k.Cov(q, p, d0, d0), 1e-18, tc.model)
	}
}

func TestWendlandSupport(t *testing.T) {
	t.Parallel()

	k, err := kernel.New("wen12-se", []float64{2, 0.1, 100})
	require.NoError(t, err)
	p := kernel.Point{T: 50000}
	var d0 kernel.Diff

	// Inside the support radius of 0.1 years.
	q := kernel.Point{T: 50000 + 30}
	require.Greater(t, k.Cov(p, q, d0, d0), 0.0)

	// Structurally zero beyond it, derivatives included.
	q = kernel.Point{T: 50000 + 40}
	require.Zero(t, k.Cov(p, q, d0, d0))
	require.Zero(t, k.Cov(p, q, kernel.Diff{T: 1}, d0))
	require.Zero(t, k.Cov(p, q, kernel.Diff{T: 1}, kernel.Diff{T: 1}))
}

func TestStationKernelSpatialDerivatives(t *testing.T) {
	t.Parallel()

	p := kernel.Point{T: 50010}
	q := kernel.Point{T: 50020}
	for _, tc := range []struct {
		model  string
		params []float64
	}{
		{"fogm", []float64{0.5, 10}},
		{"bm", []float64{0.5, 50000}},
	} {
		k, err := kernel.New(tc.model, tc.params)
		require.NoError(t, err)
		require.Equal(t, kernel.Station, k.Domain())
		require.Zero(t, k.Cov(p, q, kernel.Diff{X: 1}, kernel.Diff{}), tc.model)
		require.Zero(t, k.Cov(p, q, kernel.Diff{}, kernel.Diff{Y: 1}), tc.model)
	}
}

// fdT is the central finite difference of the covariance with respect to the
// first point's time.
func fdT(k kernel.Kernel, p, q kernel.Point, h float64) float64 {
	hi, lo := p, p
	hi.T += h
	lo.T -= h
	var d0 kernel.Diff
	return (k.Cov(hi, q, d0, d0) - k.Cov(lo, q, d0, d0)) / (2 * h)
}

func fdX(k kernel.Kernel, p, q kernel.Point, h float64) float64 {
	hi, lo := p, p
	hi.X += h
	lo.X -= h
	var d0 kernel.Diff
	return (k.Cov(hi, q, d0, d0) - k.Cov(lo, q, d0, d0)) / (2 * h)
}

func TestCovDerivatives(t *testing.T) {
	t.Parallel()

	p := kernel.Point{T: 50010, X: 20000, Y: -10000}
	q := kernel.Point{T: 50025, X: 5000, Y: 8000}

	for _, tc := range []struct {
		model  string
		params []float64
	}{
		{"wen12-se", []float64{2, 0.2, 100}},
		{"se-se", []float64{2, 0.2, 100}},
		{"ibm-se", []float64{2, 49000, 100}},
	} {
		k, err := kernel.New(tc.model, tc.params)
		require.NoError(t, err)

		got := k.Cov(p, q, kernel.Diff{T: 1}, kernel.Diff{})
		require.InEpsilon(t, fdT(k, p, q, 0.05), got, 1e-4, "%s d/dt", tc.model)

		got = k.Cov(p, q, kernel.Diff{X: 1}, kernel.Diff{})
		require.InEpsilon(t, fdX(k, p, q, 20), got, 1e-4, "%s d/dx", tc.model)

		// Cross time derivative against a second-order finite difference on
		// both arguments.
		h := 0.05
		var d0 kernel.Diff
		pp, pm := p, p
		pp.T += h
		pm.T -= h
		qp, qm := q, q
		qp.T += h
		qm.T -= h
		fd := (k.Cov(pp, qp, d0, d0) - k.Cov(pp, qm, d0, d0) -
			k.Cov(pm, qp, d0, d0) + k.Cov(pm, qm, d0, d0)) / (4 * h * h)
		got = k.Cov(p, q, kernel.Diff{T: 1}, kernel.Diff{T: 1})
		require.InEpsilon(t, fd, got, 1e-3, "%s d2/dtdt'", tc.model)
	}
}

// TestCovPositiveSemidefinite checks the eigenvalues of the covariance
// matrix of each kind over a scattered point set.
func TestCovPositiveSemidefinite(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(13<<32 | 37))
	n := 20
	pts := make([]kernel.Point, n)
	for i := range pts {
		pts[i] = kernel.Point{
			T: 50000 + 200*rng.Float64(),
			X: 100e3 * rng.NormFloat64(),
			Y: 100e3 * rng.NormFloat64(),
		}
	}

	for _, tc := range []struct {
		model  string
		params []float64
	}{
		{"wen12-se", []float64{2, 0.2, 100}},
		{"spwen12-se", []float64{2, 0.2, 100}},
		{"se-se", []float64{2, 0.2, 100}},
		{"ibm-se", []float64{2, 50050, 100}},
		{"fogm", []float64{0.5, 10}},
		{"bm", []float64{0.5, 50050}},
	} {
		k, err := kernel.New(tc.model, tc.params)
		require.NoError(t, err)

		var d0 kernel.Diff
		cov := mat.NewSymDense(n, nil)
		scale := 0.0
		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				cov.SetSym(i, j, k.Cov(pts[i], pts[j], d0, d0))
			}
			scale = math.Max(scale, cov.At(i, i))
		}

		var eig mat.EigenSym
		require.True(t, eig.Factorize(cov, false), tc.model)
		for _, v := range eig.Values(nil) {
			require.GreaterOrEqual(t, v, -1e-12*scale, tc.model)
		}
	}
}

func TestIBMBeforeOnset(t *testing.T) {
	t.Parallel()

	k, err := kernel.New("ibm-se", []float64{2, 50000, 100})
	require.NoError(t, err)
	var d0 kernel.Diff
	p := kernel.Point{T: 49990}
	q := kernel.Point{T: 50010}
	require.Zero(t, k.Cov(p, q, d0, d0))
	require.Zero(t, k.Cov(p, p, d0, d0))
	require.Greater(t, k.Cov(q, q, d0, d0), 0.0)
}

func TestFOGMStationarity(t *testing.T) {
	t.Parallel()

	k, err := kernel.New("fogm", []float64{0.5, 10})
	require.NoError(t, err)
	var d0 kernel.Diff
	a := kernel.Point{T: 50000}
	b := kernel.Point{T: 50007}
	c := kernel.Point{T: 51000}
	d := kernel.Point{T: 51007}
	require.InDelta(t, k.Cov(a, b, d0, d0), k.Cov(c, d, d0, d0), 1e-18)
	// Variance exceeds any off-diagonal value.
	require.Greater(t, k.Cov(a, a, d0, d0), k.Cov(a, b, d0, d0))
}
