package kernel

import "math"

// ibm is the integrated-Brownian-motion covariance factor
//
//	C(a,b) = min(a,b)^2 (3 max(a,b) - min(a,b)) / 6
//
// on times a, b measured in years since the onset, zero before it. Its
// cross derivative is the Brownian-motion covariance min(a,b), as expected
// for the derivative process.
func ibm(a, b float64, da, db int) float64 {
	if a <= 0 || b <= 0 {
		return 0
	}
	m := math.Min(a, b)
	switch {
	case da == 0 && db == 0:
		return m * m * (3*math.Max(a, b) - m) / 6
	case da == 1 && db == 1:
		return m
	case da == 1:
		return m*b - m*m/2
	default:
		return m*a - m*m/2
	}
}

// brownian is the Brownian-motion covariance min(a,b) on times in years
// since the onset. Brownian motion is not mean-square differentiable, so
// derivative requests return the almost-everywhere value.
func brownian(a, b float64, da, db int) float64 {
	if a <= 0 || b <= 0 {
		return 0
	}
	switch {
	case da == 0 && db == 0:
		return math.Min(a, b)
	case da == 1 && db == 1:
		return 0
	case da == 1:
		if a < b {
			return 1
		}
		return 0
	default:
		if b < a {
			return 1
		}
		return 0
	}
}
