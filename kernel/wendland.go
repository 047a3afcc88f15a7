package kernel

import "math"

// The compactly supported Wendland function
//
//	phi(r) = (1-r)^5 (8r^2 + 5r + 1),  0 <= r <= 1
//
// and its first two derivatives. phi is C^4 on [0, inf), so first-order
// derivative kernels are well defined everywhere.
func wendPhi(r float64) float64 {
	v := 1 - r
	v2 := v * v
	return v2 * v2 * v * (8*r*r + 5*r + 1)
}

func wendPhi1(r float64) float64 {
	v := 1 - r
	v2 := v * v
	return -14 * r * (4*r + 1) * v2 * v2
}

func wendPhi2(r float64) float64 {
	v := 1 - r
	return -14 * v * v * v * (1 + 3*r - 24*r*r)
}

// wendland evaluates phi(|a-b|/tau) with optional first-order partial
// derivatives with respect to a (da) and b (db). Zero beyond the support
// radius tau.
func wendland(a, b, tau float64, da, db int) float64 {
	u := a - b
	r := math.Abs(u) / tau
	if r >= 1 {
		return 0
	}
	switch da + db {
	case 0:
		return wendPhi(r)
	case 2:
		return -wendPhi2(r) / (tau * tau)
	default:
		s := sign(u) / tau
		if db == 1 {
			s = -s
		}
		return wendPhi1(r) * s
	}
}
