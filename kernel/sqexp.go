package kernel

import "math"

// sqexp is the one-dimensional squared-exponential factor
// exp(-(a-b)^2 / (2 s^2)), with optional first-order partial derivatives
// with respect to a (da) and b (db). The two-dimensional spatial factor
// exp(-|dx|^2 / (2 l^2)) is the product of one sqexp per axis.
func sqexp(a, b, s float64, da, db int) float64 {
	u := (a - b) / s
	v := math.Exp(-0.5 * u * u)
	switch {
	case da == 0 && db == 0:
		return v
	case da == 1 && db == 0:
		return -u / s * v
	case da == 0 && db == 1:
		return u / s * v
	default:
		return (1 - u*u) / (s * s) * v
	}
}
