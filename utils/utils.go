package utils

import (
	"gonum.org/v1/gonum/mat"

	"github.com/fagan2888/PyGeoNS/kernel"
)

// HStack concatenates matrices left to right. Nil blocks are skipped;
// returns nil when no columns remain.
func HStack(blocks ...*mat.Dense) *mat.Dense {
	rows, cols := 0, 0
	for _, b := range blocks {
		if b == nil {
			continue
		}
		r, c := b.Dims()
		rows = r
		cols += c
	}
	if cols == 0 {
		return nil
	}
	out := mat.NewDense(rows, cols, nil)
	offset := 0
	for _, b := range blocks {
		if b == nil {
			continue
		}
		_, c := b.Dims()
		out.Slice(0, rows, offset, offset+c).(*mat.Dense).Copy(b)
		offset += c
	}
	return out
}

// Grid flattens epochs x stations into epoch-major space-time points,
// returning the parallel station indices.
func Grid(times []float64, x, y []float64) ([]kernel.Point, []int) {
	pts := make([]kernel.Point, 0, len(times)*len(x))
	sta := make([]int, 0, len(times)*len(x))
	for _, t := range times {
		for s := range x {
			pts = append(pts, kernel.Point{T: t, X: x[s], Y: y[s]})
			sta = append(sta, s)
		}
	}
	return pts, sta
}
