package process

import (
	"gonum.org/v1/gonum/mat"

	"github.com/fagan2888/PyGeoNS/kernel"
)

// CovValue is the summed kernel covariance between two points. psta and
// qsta are station indices, or -1 for points not tied to a station;
// station-domain kernels contribute only between points at the same
// station.
func (c *Composition) CovValue(p kernel.Point, psta int, dp kernel.Diff, q kernel.Point, qsta int, dq kernel.Diff) float64 {
	v := 0.0
	for _, k := range c.kernels {
		if k.Domain() == kernel.Station && (psta < 0 || psta != qsta) {
			continue
		}
		v += k.Cov(p, q, dp, dq)
	}
	return v
}

// Covariance accumulates the summed kernel covariance between the row
// points p and the column points q into dst, which must be
// len(p) x len(q). A nil station-index slice treats every point as
// off-station.
func (c *Composition) Covariance(dst *mat.Dense, p []kernel.Point, psta []int, dp kernel.Diff, q []kernel.Point, qsta []int, dq kernel.Diff) {
	for i, pi := range p {
		si := -1
		if psta != nil {
			si = psta[i]
		}
		for j, qj := range q {
			sj := -1
			if qsta != nil {
				sj = qsta[j]
			}
			v := c.CovValue(pi, si, dp, qj, sj, dq)
			if v != 0 {
				dst.Set(i, j, dst.At(i, j)+v)
			}
		}
	}
}

// CovarianceSym accumulates the covariance over a single point set into the
// symmetric matrix dst.
func (c *Composition) CovarianceSym(dst *mat.SymDense, pts []kernel.Point, sta []int) {
	var d kernel.Diff
	for i, pi := range pts {
		si := -1
		if sta != nil {
			si = sta[i]
		}
		for j := i; j < len(pts); j++ {
			sj := -1
			if sta != nil {
				sj = sta[j]
			}
			v := c.CovValue(pi, si, d, pts[j], sj, d)
			if v != 0 {
				dst.SetSym(i, j, dst.At(i, j)+v)
			}
		}
	}
}

// CovarianceBand accumulates the covariance over a time-ordered point set
// into the symmetric banded matrix dst. Only valid when Sparse() holds:
// entries beyond the band are structurally zero by compact support.
func (c *Composition) CovarianceBand(dst *mat.SymBandDense, pts []kernel.Point, sta []int) {
	var d kernel.Diff
	n, width := dst.SymBand()
	for i, pi := range pts {
		si := -1
		if sta != nil {
			si = sta[i]
		}
		hi := i + width
		if hi > n-1 {
			hi = n - 1
		}
		for j := i; j <= hi; j++ {
			sj := -1
			if sta != nil {
				sj = sta[j]
			}
			v := c.CovValue(pi, si, d, pts[j], sj, d)
			if v != 0 {
				dst.SetSymBand(i, j, dst.At(i, j)+v)
			}
		}
	}
}

// Bandwidth returns the half-bandwidth of the covariance over the
// time-ordered point set, given a compact support radius in days.
func Bandwidth(pts []kernel.Point, radius float64) int {
	width := 0
	for i := range pts {
		j := i + 1
		for j < len(pts) && pts[j].T-pts[i].T < radius {
			j++
		}
		if j-1-i > width {
			width = j - 1 - i
		}
	}
	return width
}
