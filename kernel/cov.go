package kernel

// Cov evaluates the covariance contribution between points p and q, with
// partial-derivative orders dp applied to the p side and dq to the q side.
// Basis kernels have no proper covariance and contribute zero.
func (k Kernel) Cov(p, q Point, dp, dq Diff) float64 {
	switch k.kind {
	case Wen12SE, SpWen12SE:
		amp := k.params[0] * mmToM
		tau := k.params[1] * DaysPerYear
		ell := k.params[2] * kmToM
		return amp * amp *
			wendland(p.T, q.T, tau, dp.T, dq.T) *
			sqexp(p.X, q.X, ell, dp.X, dq.X) *
			sqexp(p.Y, q.Y, ell, dp.Y, dq.Y)

	case SESE:
		amp := k.params[0] * mmToM
		tau := k.params[1] * DaysPerYear
		ell := k.params[2] * kmToM
		return amp * amp *
			sqexp(p.T, q.T, tau, dp.T, dq.T) *
			sqexp(p.X, q.X, ell, dp.X, dq.X) *
			sqexp(p.Y, q.Y, ell, dp.Y, dq.Y)

	case IBMSE:
		// The second hyperparameter is the onset epoch in MJD; the process
		// is identically zero before it.
		amp := k.params[0] * mmToM
		t0 := k.params[1]
		ell := k.params[2] * kmToM
		a := (p.T - t0) / DaysPerYear
		b := (q.T - t0) / DaysPerYear
		return amp * amp * ibm(a, b, dp.T, dq.T) * timeChain(dp.T+dq.T) *
			sqexp(p.X, q.X, ell, dp.X, dq.X) *
			sqexp(p.Y, q.Y, ell, dp.Y, dq.Y)

	case FOGM:
		if dp.X+dp.Y+dq.X+dq.Y > 0 {
			return 0
		}
		beta := k.params[0] * mmToM
		alpha := k.params[1]
		a := p.T / DaysPerYear
		b := q.T / DaysPerYear
		return fogm(a, b, beta, alpha, dp.T, dq.T) * timeChain(dp.T+dq.T)

	case BM:
		if dp.X+dp.Y+dq.X+dq.Y > 0 {
			return 0
		}
		beta := k.params[0] * mmToM
		t0 := k.params[1]
		a := (p.T - t0) / DaysPerYear
		b := (q.T - t0) / DaysPerYear
		return beta * beta * brownian(a, b, dp.T, dq.T) * timeChain(dp.T+dq.T)

	default:
		return 0
	}
}

// timeChain converts derivatives taken on the year-scaled time axis back to
// per-day derivatives.
func timeChain(order int) float64 {
	switch order {
	case 0:
		return 1
	case 1:
		return 1 / DaysPerYear
	default:
		return 1 / (DaysPerYear * DaysPerYear)
	}
}

func sign(u float64) float64 {
	switch {
	case u > 0:
		return 1
	case u < 0:
		return -1
	default:
		return 0
	}
}
