// Package dataset holds station displacement time series: a shared epoch
// set, station coordinates, and per-component observation matrices with
// one-standard-deviation uncertainties. A missing entry is NaN with an
// infinite uncertainty, and every consumer treats the two encodings as one.
package dataset

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/fagan2888/PyGeoNS/kernel"
	"github.com/fagan2888/PyGeoNS/utils"
)

var ErrDimensionMismatch = errors.New("dimension mismatch")

// Component is one displacement component (east, north or vertical) as
// epoch x station value and uncertainty matrices.
type Component struct {
	Value *mat.Dense
	Sigma *mat.Dense
}

// Dataset is a read-only collection of observations on a station network.
// TimeExp and SpaceExp are the integer unit exponents: displacements in
// meters carry (0, 1), velocities in meters per day (-1, 1).
type Dataset struct {
	IDs      []string
	Lon, Lat []float64
	X, Y     []float64 // projected planar coordinates, meters
	Times    []int     // MJD, shared across stations
	TimeExp  int
	SpaceExp int

	East, North, Vertical Component
}

// New allocates a dataset over the given stations and epochs with every
// entry missing.
func New(ids []string, lon, lat []float64, times []int) *Dataset {
	ne, ns := len(times), len(ids)
	d := &Dataset{
		IDs:      ids,
		Lon:      lon,
		Lat:      lat,
		X:        make([]float64, ns),
		Y:        make([]float64, ns),
		Times:    times,
		SpaceExp: 1,
	}
	for _, c := range []*Component{&d.East, &d.North, &d.Vertical} {
		c.Value = mat.NewDense(ne, ns, nil)
		c.Sigma = mat.NewDense(ne, ns, nil)
		for i := 0; i < ne; i++ {
			for j := 0; j < ns; j++ {
				c.Value.Set(i, j, math.NaN())
				c.Sigma.Set(i, j, math.Inf(1))
			}
		}
	}
	return d
}

// Missing reports whether a (value, sigma) pair encodes a missing entry.
func Missing(value, sigma float64) bool {
	return math.IsNaN(value) || math.IsInf(sigma, 1)
}

func (d *Dataset) NumStations() int { return len(d.IDs) }
func (d *Dataset) NumEpochs() int   { return len(d.Times) }

// Components returns the three displacement components keyed by name.
func (d *Dataset) Components() map[string]*Component {
	return map[string]*Component{
		"east":     &d.East,
		"north":    &d.North,
		"vertical": &d.Vertical,
	}
}

// Copy returns a deep copy. The outlier detector mutates a working copy
// across iterations, never the original.
func (d *Dataset) Copy() *Dataset {
	out := &Dataset{
		IDs:      append([]string(nil), d.IDs...),
		Lon:      append([]float64(nil), d.Lon...),
		Lat:      append([]float64(nil), d.Lat...),
		X:        append([]float64(nil), d.X...),
		Y:        append([]float64(nil), d.Y...),
		Times:    append([]int(nil), d.Times...),
		TimeExp:  d.TimeExp,
		SpaceExp: d.SpaceExp,
	}
	copyComp := func(dst, src *Component) {
		dst.Value = mat.DenseCopyOf(src.Value)
		dst.Sigma = mat.DenseCopyOf(src.Sigma)
	}
	copyComp(&out.East, &d.East)
	copyComp(&out.North, &d.North)
	copyComp(&out.Vertical, &d.Vertical)
	return out
}

// Project fills the planar coordinates by applying the projection
// collaborator to each station's longitude and latitude.
func (d *Dataset) Project(proj func(lon, lat float64) (x, y float64)) {
	for i := range d.IDs {
		d.X[i], d.Y[i] = proj(d.Lon[i], d.Lat[i])
	}
}

// CheckUnitsMatch fails with ErrDimensionMismatch when two datasets carry
// different unit exponents and so must not be combined.
func CheckUnitsMatch(a, b *Dataset) error {
	if a.TimeExp != b.TimeExp || a.SpaceExp != b.SpaceExp {
		return fmt.Errorf("%w: unit exponents (%d,%d) vs (%d,%d)",
			ErrDimensionMismatch, a.TimeExp, a.SpaceExp, b.TimeExp, b.SpaceExp)
	}
	return nil
}

// Observations is one component's non-missing entries flattened in
// epoch-major order, the form consumed by the conditioning engine.
type Observations struct {
	Points      []kernel.Point
	Sta         []int
	Y           []float64
	Sigma       []float64
	Index       [][2]int // (epoch, station) of each flattened entry
	NumStations int
	TimeExp     int
	SpaceExp    int
}

// Observations flattens the non-missing entries of one component. The
// dataset must be projected first.
func (d *Dataset) Observations(c *Component) *Observations {
	obs := &Observations{
		NumStations: d.NumStations(),
		TimeExp:     d.TimeExp,
		SpaceExp:    d.SpaceExp,
	}
	for i, t := range d.Times {
		for j := range d.IDs {
			v := c.Value.At(i, j)
			s := c.Sigma.At(i, j)
			if Missing(v, s) {
				continue
			}
			obs.Points = append(obs.Points, kernel.Point{T: float64(t), X: d.X[j], Y: d.Y[j]})
			obs.Sta = append(obs.Sta, j)
			obs.Y = append(obs.Y, v)
			obs.Sigma = append(obs.Sigma, s)
			obs.Index = append(obs.Index, [2]int{i, j})
		}
	}
	return obs
}

// StationPoints is the epoch-major grid of all stations at the given MJD
// epochs, for conditioning back onto the network.
func (d *Dataset) StationPoints(times []int) ([]kernel.Point, []int) {
	ts := make([]float64, len(times))
	for i, t := range times {
		ts[i] = float64(t)
	}
	return utils.Grid(ts, d.X, d.Y)
}

// Record is a single station's series as produced by the file parsers.
type Record struct {
	ID                                   string
	Lon, Lat                             float64
	Times                                []int
	East, North, Vertical                []float64
	EastSigma, NorthSigma, VerticalSigma []float64
	TimeExp, SpaceExp                    int
}

// FromRecords merges per-station records into one dataset over the union
// of their epochs. Entries absent from a record stay missing. Records with
// inconsistent unit exponents cannot be merged.
func FromRecords(recs []*Record) (*Dataset, error) {
	if len(recs) == 0 {
		return nil, fmt.Errorf("%w: no station records", ErrDimensionMismatch)
	}
	epochSet := map[int]struct{}{}
	for _, r := range recs {
		if r.TimeExp != recs[0].TimeExp || r.SpaceExp != recs[0].SpaceExp {
			return nil, fmt.Errorf("%w: station %s has unit exponents (%d,%d), want (%d,%d)",
				ErrDimensionMismatch, r.ID, r.TimeExp, r.SpaceExp, recs[0].TimeExp, recs[0].SpaceExp)
		}
		for _, t := range r.Times {
			epochSet[t] = struct{}{}
		}
	}
	times := make([]int, 0, len(epochSet))
	for t := range epochSet {
		times = append(times, t)
	}
	sort.Ints(times)
	epochIdx := make(map[int]int, len(times))
	for i, t := range times {
		epochIdx[t] = i
	}

	ids := make([]string, len(recs))
	lon := make([]float64, len(recs))
	lat := make([]float64, len(recs))
	for j, r := range recs {
		ids[j] = r.ID
		lon[j] = r.Lon
		lat[j] = r.Lat
	}
	d := New(ids, lon, lat, times)
	d.TimeExp = recs[0].TimeExp
	d.SpaceExp = recs[0].SpaceExp
	for j, r := range recs {
		n := len(r.Times)
		if len(r.East) != n || len(r.North) != n || len(r.Vertical) != n ||
			len(r.EastSigma) != n || len(r.NorthSigma) != n || len(r.VerticalSigma) != n {
			return nil, fmt.Errorf("%w: station %s has ragged component arrays", ErrDimensionMismatch, r.ID)
		}
		for k, t := range r.Times {
			i := epochIdx[t]
			d.East.Value.Set(i, j, r.East[k])
			d.East.Sigma.Set(i, j, r.EastSigma[k])
			d.North.Value.Set(i, j, r.North[k])
			d.North.Sigma.Set(i, j, r.NorthSigma[k])
			d.Vertical.Value.Set(i, j, r.Vertical[k])
			d.Vertical.Sigma.Set(i, j, r.VerticalSigma[k])
		}
	}
	return d, nil
}
