package dataset_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fagan2888/PyGeoNS/dataset"
)

func record(id string, lon, lat float64, times []int, value float64) *dataset.Record {
	n := len(times)
	rec := &dataset.Record{
		ID: id, Lon: lon, Lat: lat, Times: times,
		TimeExp: 0, SpaceExp: 1,
	}
	for i := 0; i < n; i++ {
		rec.East = append(rec.East, value)
		rec.North = append(rec.North, value)
		rec.Vertical = append(rec.Vertical, value)
		rec.EastSigma = append(rec.EastSigma, 0.001)
		rec.NorthSigma = append(rec.NorthSigma, 0.001)
		rec.VerticalSigma = append(rec.VerticalSigma, 0.001)
	}
	return rec
}

func TestFromRecords(t *testing.T) {
	t.Parallel()

	a := record("AAAA", -120, 40, []int{50000, 50001, 50002}, 0.01)
	b := record("BBBB", -121, 41, []int{50001, 50002, 50003}, 0.02)

	d, err := dataset.FromRecords([]*dataset.Record{a, b})
	require.NoError(t, err)
	require.Equal(t, 2, d.NumStations())
	require.Equal(t, []int{50000, 50001, 50002, 50003}, d.Times)
	require.Equal(t, 0, d.TimeExp)
	require.Equal(t, 1, d.SpaceExp)

	// Epochs outside a station's record stay missing.
	require.InDelta(t, 0.01, d.East.Value.At(0, 0), 1e-12)
	require.True(t, dataset.Missing(d.East.Value.At(0, 1), d.East.Sigma.At(0, 1)))
	require.True(t, dataset.Missing(d.East.Value.At(3, 0), d.East.Sigma.At(3, 0)))
	require.InDelta(t, 0.02, d.East.Value.At(3, 1), 1e-12)
}

func TestFromRecordsErrors(t *testing.T) {
	t.Parallel()

	t.Run("empty", func(t *testing.T) {
		_, err := dataset.FromRecords(nil)
		require.ErrorIs(t, err, dataset.ErrDimensionMismatch)
	})

	t.Run("unit exponents differ", func(t *testing.T) {
		a := record("AAAA", -120, 40, []int{50000}, 0.01)
		b := record("BBBB", -121, 41, []int{50000}, 0.02)
		b.TimeExp = -1
		_, err := dataset.FromRecords([]*dataset.Record{a, b})
		require.ErrorIs(t, err, dataset.ErrDimensionMismatch)
	})

	t.Run("ragged components", func(t *testing.T) {
		a := record("AAAA", -120, 40, []int{50000, 50001}, 0.01)
		a.North = a.North[:1]
		_, err := dataset.FromRecords([]*dataset.Record{a})
		require.ErrorIs(t, err, dataset.ErrDimensionMismatch)
	})
}

func TestObservations(t *testing.T) {
	t.Parallel()

	a := record("AAAA", -120, 40, []int{50000, 50001}, 0.01)
	b := record("BBBB", -121, 41, []int{50000, 50001}, 0.02)
	d, err := dataset.FromRecords([]*dataset.Record{a, b})
	require.NoError(t, err)
	d.Project(func(lon, lat float64) (float64, float64) { return lon * 1000, lat * 1000 })

	d.East.Value.Set(1, 0, math.NaN())
	obs := d.Observations(&d.East)
	require.Len(t, obs.Y, 3)
	require.Equal(t, 2, obs.NumStations)

	// Epoch-major order, skipping the missing entry.
	require.Equal(t, [][2]int{{0, 0}, {0, 1}, {1, 1}}, obs.Index)
	require.Equal(t, []int{0, 1, 1}, obs.Sta)
	require.InDelta(t, 50000.0, obs.Points[0].T, 1e-12)
	require.InDelta(t, -120000.0, obs.Points[0].X, 1e-12)
	require.InDelta(t, 0.02, obs.Y[2], 1e-12)
	require.InDelta(t, 0.001, obs.Sigma[0], 1e-12)
}

func TestCopy(t *testing.T) {
	t.Parallel()

	a := record("AAAA", -120, 40, []int{50000, 50001}, 0.01)
	d, err := dataset.FromRecords([]*dataset.Record{a})
	require.NoError(t, err)

	c := d.Copy()
	c.East.Value.Set(0, 0, math.NaN())
	c.X[0] = 99

	require.InDelta(t, 0.01, d.East.Value.At(0, 0), 1e-12)
	require.Zero(t, d.X[0])
}

func TestCheckUnitsMatch(t *testing.T) {
	t.Parallel()

	a, err := dataset.FromRecords([]*dataset.Record{record("AAAA", -120, 40, []int{50000}, 0.01)})
	require.NoError(t, err)
	b := a.Copy()
	require.NoError(t, dataset.CheckUnitsMatch(a, b))
	b.TimeExp = -1
	require.ErrorIs(t, dataset.CheckUnitsMatch(a, b), dataset.ErrDimensionMismatch)
}

func TestStationPoints(t *testing.T) {
	t.Parallel()

	a := record("AAAA", -120, 40, []int{50000}, 0.01)
	b := record("BBBB", -121, 41, []int{50000}, 0.02)
	d, err := dataset.FromRecords([]*dataset.Record{a, b})
	require.NoError(t, err)
	d.Project(func(lon, lat float64) (float64, float64) { return lon, lat })

	pts, sta := d.StationPoints([]int{50000, 50001})
	require.Len(t, pts, 4)
	require.Equal(t, []int{0, 1, 0, 1}, sta)
	require.InDelta(t, 50001.0, pts[2].T, 1e-12)
	require.InDelta(t, -120.0, pts[2].X, 1e-12)
}
