package kernel

import "math"

// fogm is the first-order Gauss-Markov covariance
//
//	C(a,b) = beta^2 / (2 alpha) * exp(-alpha |a-b|)
//
// on times in years, with beta in m/yr^0.5 and alpha in 1/yr. The process
// is not mean-square differentiable; derivative requests return the
// almost-everywhere value, with the diagonal of the cross derivative
// clamped to its positive magnitude.
func fogm(a, b, beta, alpha float64, da, db int) float64 {
	u := a - b
	c := beta * beta / (2 * alpha) * math.Exp(-alpha*math.Abs(u))
	switch da + db {
	case 0:
		return c
	case 2:
		if u == 0 {
			return c * alpha * alpha
		}
		return -c * alpha * alpha
	default:
		s := sign(u)
		if db == 1 {
			s = -s
		}
		return -c * alpha * s
	}
}
