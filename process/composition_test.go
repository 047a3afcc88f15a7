package process_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fagan2888/PyGeoNS/kernel"
	"github.com/fagan2888/PyGeoNS/process"
)

func TestBuild(t *testing.T) {
	t.Parallel()

	t.Run("consumes params left to right", func(t *testing.T) {
		c, err := process.Build([]string{"se-se", "fogm"},
			[]float64{2, 0.1, 100, 0.5, 10}, kernel.Network)
		require.ErrorIs(t, err, kernel.ErrInvalidModelSpec) // fogm is a station model

		c, err = process.Build([]string{"wen12-se"},
			[]float64{2, 0.1, 100}, kernel.Network)
		require.NoError(t, err)
		require.Equal(t, []float64{2, 0.1, 100}, c.Params())
		require.Equal(t, 3, c.NumParams())
		require.True(t, c.HasNetwork())
	})

	t.Run("leftover params", func(t *testing.T) {
		_, err := process.Build([]string{"fogm"}, []float64{0.5, 10, 7}, kernel.Station)
		require.ErrorIs(t, err, kernel.ErrInvalidModelSpec)
	})

	t.Run("missing params", func(t *testing.T) {
		_, err := process.Build([]string{"fogm"}, []float64{0.5}, kernel.Station)
		require.ErrorIs(t, err, kernel.ErrInvalidModelSpec)
	})

	t.Run("unknown model", func(t *testing.T) {
		_, err := process.Build([]string{"matern"}, nil, kernel.Network)
		require.ErrorIs(t, err, kernel.ErrInvalidModelSpec)
	})

	t.Run("basis terms take no params", func(t *testing.T) {
		c, err := process.Build([]string{"linear", "per", "fogm"},
			[]float64{0.5, 10}, kernel.Station)
		require.NoError(t, err)
		require.Len(t, c.Kernels(), 1)
		require.Equal(t, []string{"linear", "per", "fogm"}, c.Names())
		b := c.Basis()
		require.Equal(t, 1, b.PolyOrder)
		require.True(t, b.Annual)
		require.True(t, b.Semiannual)
		require.Equal(t, 6, b.Terms()) // 1, t, and two sinusoid pairs
	})
}

func TestWithParams(t *testing.T) {
	t.Parallel()

	c, err := process.Build([]string{"linear", "fogm"}, []float64{0.5, 10}, kernel.Station)
	require.NoError(t, err)
	c2, err := c.WithParams([]float64{0.7, 20})
	require.NoError(t, err)
	require.Equal(t, []float64{0.7, 20}, c2.Params())
	require.Equal(t, c.Names(), c2.Names())
	require.Equal(t, c.Basis(), c2.Basis())
	// The original is untouched.
	require.Equal(t, []float64{0.5, 10}, c.Params())

	_, err = c.WithParams([]float64{0.7})
	require.ErrorIs(t, err, kernel.ErrInvalidModelSpec)
}

// Rebuilding a composition from its own names and params must give
// identical covariances.
func TestNamesParamsRoundTrip(t *testing.T) {
	t.Parallel()

	c, err := process.Build([]string{"wen12-se", "se-se"},
		[]float64{2, 0.1, 50, 1, 0.3, 200}, kernel.Network)
	require.NoError(t, err)

	c2, err := process.Build(c.Names(), c.Params(), kernel.Network)
	require.NoError(t, err)

	var d0 kernel.Diff
	dt := kernel.Diff{T: 1}
	pts := []kernel.Point{
		{T: 50000, X: 0, Y: 0},
		{T: 50020, X: 30e3, Y: -10e3},
		{T: 50100, X: -80e3, Y: 40e3},
	}
	for _, p := range pts {
		for _, q := range pts {
			require.Equal(t, c.CovValue(p, -1, d0, q, -1, d0), c2.CovValue(p, -1, d0, q, -1, d0))
			require.Equal(t, c.CovValue(p, -1, dt, q, -1, d0), c2.CovValue(p, -1, dt, q, -1, d0))
		}
	}
}

func TestSparse(t *testing.T) {
	t.Parallel()

	sparse, err := process.Build([]string{"spwen12-se"}, []float64{2, 0.1, 50}, kernel.Network)
	require.NoError(t, err)
	require.True(t, sparse.Sparse())
	require.InDelta(t, 0.1*kernel.DaysPerYear, sparse.SupportRadius(), 1e-12)

	dense, err := process.Build([]string{"se-se"}, []float64{2, 0.1, 50}, kernel.Network)
	require.NoError(t, err)
	require.False(t, dense.Sparse())

	basisOnly, err := process.Build([]string{"linear"}, nil, kernel.Station)
	require.NoError(t, err)
	require.True(t, basisOnly.Sparse())
	require.Zero(t, basisOnly.SupportRadius())
}

func TestSubsetUnion(t *testing.T) {
	t.Parallel()

	prior, err := process.Build([]string{"wen12-se"}, []float64{2, 0.1, 50}, kernel.Network)
	require.NoError(t, err)
	noise, err := process.Build([]string{"linear", "fogm"}, []float64{0.5, 10}, kernel.Station)
	require.NoError(t, err)

	all := prior.Union(noise)
	require.Len(t, all.Kernels(), 2)
	require.Equal(t, 1, all.Basis().PolyOrder)

	net := all.Subset(kernel.Network)
	require.Len(t, net.Kernels(), 1)
	require.Equal(t, []string{"wen12-se"}, net.Names())
	require.Zero(t, net.Basis().Terms()) // basis terms are per-station
	require.False(t, net.Empty())

	sta := all.Subset(kernel.Station)
	require.Len(t, sta.Kernels(), 1)
	require.Equal(t, 2, sta.Basis().Terms())

	empty := prior.Subset(kernel.Station)
	require.True(t, empty.Empty())
}

func TestCovValueStationGating(t *testing.T) {
	t.Parallel()

	c, err := process.Build([]string{"fogm"}, []float64{0.5, 10}, kernel.Station)
	require.NoError(t, err)
	p := kernel.Point{T: 50000}
	q := kernel.Point{T: 50010}
	var d0 kernel.Diff

	require.Greater(t, c.CovValue(p, 0, d0, q, 0, d0), 0.0)
	require.Zero(t, c.CovValue(p, 0, d0, q, 1, d0))
	require.Zero(t, c.CovValue(p, -1, d0, q, -1, d0))
}

func TestBasisMatrix(t *testing.T) {
	t.Parallel()

	c, err := process.Build([]string{"linear"}, nil, kernel.Station)
	require.NoError(t, err)

	ref := 50000.0
	pts := []kernel.Point{{T: 50000}, {T: 50000 + kernel.DaysPerYear}, {T: 50000}}
	sta := []int{0, 0, 1}

	h := c.BasisMatrix(pts, sta, 2, kernel.Diff{}, ref)
	require.NotNil(t, h)
	r, cols := h.Dims()
	require.Equal(t, 3, r)
	require.Equal(t, 4, cols) // 2 stations x (1, t)

	// Station 0 rows fill its own columns only.
	require.InDelta(t, 1.0, h.At(0, 0), 1e-12)
	require.InDelta(t, 0.0, h.At(0, 1), 1e-12)
	require.InDelta(t, 1.0, h.At(1, 1), 1e-12) // one year after ref
	require.Zero(t, h.At(0, 2))
	require.InDelta(t, 1.0, h.At(2, 2), 1e-12)

	t.Run("time derivative", func(t *testing.T) {
		hd := c.BasisMatrix(pts, sta, 2, kernel.Diff{T: 1}, ref)
		require.Zero(t, hd.At(0, 0)) // constant term
		require.InDelta(t, 1/kernel.DaysPerYear, hd.At(0, 1), 1e-15)
	})

	t.Run("spatial derivative is zero", func(t *testing.T) {
		hd := c.BasisMatrix(pts, sta, 2, kernel.Diff{X: 1}, ref)
		require.NotNil(t, hd)
		for i := 0; i < 3; i++ {
			for j := 0; j < 4; j++ {
				require.Zero(t, hd.At(i, j))
			}
		}
	})

	t.Run("off-station rows are zero", func(t *testing.T) {
		hd := c.BasisMatrix(pts, []int{-1, 0, 1}, 2, kernel.Diff{}, ref)
		require.Zero(t, hd.At(0, 0))
		require.Zero(t, hd.At(0, 2))
	})

	t.Run("seasonal terms", func(t *testing.T) {
		per, err := process.Build([]string{"per"}, nil, kernel.Station)
		require.NoError(t, err)
		hp := per.BasisMatrix(pts, sta, 2, kernel.Diff{}, ref)
		_, cols := hp.Dims()
		require.Equal(t, 8, cols)
		// One full year: annual sine is back at zero, cosine at one.
		require.InDelta(t, 0.0, hp.At(1, 0), 1e-9)
		require.InDelta(t, 1.0, hp.At(1, 1), 1e-9)
	})
}

func TestBandwidth(t *testing.T) {
	t.Parallel()

	pts := []kernel.Point{{T: 0}, {T: 10}, {T: 20}, {T: 100}, {T: 105}}
	require.Equal(t, 2, process.Bandwidth(pts, 25))
	require.Equal(t, 0, process.Bandwidth(pts, 1))
	require.Equal(t, 4, process.Bandwidth(pts, math.Inf(1)))
}
