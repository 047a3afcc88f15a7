package process

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/fagan2888/PyGeoNS/kernel"
)

// BasisMatrix evaluates the unconstrained-basis design matrix at the given
// points: one column per (station, term), len(pts) rows. ref is the epoch
// (MJD) used as the origin of the polynomial and seasonal terms; one
// conditioning problem must evaluate observation and query rows with the
// same ref. d differentiates the columns symbolically. Returns nil when the
// composition has no basis terms.
func (c *Composition) BasisMatrix(pts []kernel.Point, sta []int, nsta int, d kernel.Diff, ref float64) *mat.Dense {
	terms := c.basis.Terms()
	if terms == 0 || nsta == 0 {
		return nil
	}
	h := mat.NewDense(len(pts), nsta*terms, nil)
	if d.X > 0 || d.Y > 0 {
		// Basis terms are temporal; any spatial derivative is zero.
		return h
	}
	for i, pt := range pts {
		s := -1
		if sta != nil {
			s = sta[i]
		}
		if s < 0 {
			continue
		}
		ty := (pt.T - ref) / kernel.DaysPerYear
		for j := 0; j < terms; j++ {
			h.Set(i, s*terms+j, c.basisTerm(j, ty, d.T))
		}
	}
	return h
}

// basisTerm evaluates the j-th basis function at time ty (years from the
// reference epoch), differentiated dt times. Derivatives are returned per
// day to match the working time axis.
func (c *Composition) basisTerm(j int, ty float64, dt int) float64 {
	b := c.basis
	if b.PolyOrder >= 0 {
		if j <= b.PolyOrder {
			if dt == 0 {
				return math.Pow(ty, float64(j))
			}
			if j == 0 {
				return 0
			}
			return float64(j) * math.Pow(ty, float64(j-1)) / kernel.DaysPerYear
		}
		j -= b.PolyOrder + 1
	}
	if b.Annual {
		if j < 2 {
			return sinusoid(j, 2*math.Pi, ty, dt)
		}
		j -= 2
	}
	if b.Semiannual && j < 2 {
		return sinusoid(j, 4*math.Pi, ty, dt)
	}
	return 0
}

// sinusoid evaluates sin (j=0) or cos (j=1) at angular frequency w per
// year, differentiated dt times with the per-day chain factor.
func sinusoid(j int, w, ty float64, dt int) float64 {
	if dt == 0 {
		if j == 0 {
			return math.Sin(w * ty)
		}
		return math.Cos(w * ty)
	}
	if j == 0 {
		return w * math.Cos(w*ty) / kernel.DaysPerYear
	}
	return -w * math.Sin(w*ty) / kernel.DaysPerYear
}
