// Package kernel provides the fixed catalogue of covariance kernels used to
// model transient geodetic displacement. Network kernels factor into a
// temporal and a spatial part, C((x,t),(x',t')) = T(t,t')*X(x,x'); station
// kernels depend on time only and apply between observations of a single
// station. Each proper kernel also evaluates its closed-form partial
// derivatives up to first order in t, t' and each spatial coordinate, which
// is what lets a posterior over displacement be transformed into a posterior
// over velocity or strain.
//
// Working units are days (modified Julian date) for time, meters for
// positions and displacements. Hyperparameters are given in the conventional
// field units (mm, yr, km) and converted on evaluation.
package kernel

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
)

var ErrInvalidModelSpec = errors.New("invalid model specification")

const (
	mmToM = 1e-3
	kmToM = 1e3

	// DaysPerYear converts between the internal day-based time axis and
	// hyperparameters expressed in years.
	DaysPerYear = 365.25
)

// Domain tells whether a kernel couples the whole network or a single
// station.
type Domain int

const (
	Network Domain = iota
	Station
)

func (d Domain) String() string {
	switch d {
	case Network:
		return "network"
	case Station:
		return "station"
	default:
		return "unknown"
	}
}

// Kind enumerates the catalogue. The set is closed: consumers switch
// exhaustively over it instead of dispatching through an interface.
type Kind int

const (
	Wen12SE Kind = iota
	SpWen12SE
	SESE
	IBMSE
	FOGM
	BM
	Linear
	Per
	Poly
)

// Point is a space-time location: T in days (MJD), X and Y in meters.
type Point struct {
	T, X, Y float64
}

// Diff selects partial-derivative orders along each axis. Only orders 0 and
// 1 are supported.
type Diff struct {
	T, X, Y int
}

// Order is the total differentiation order.
func (d Diff) Order() int { return d.T + d.X + d.Y }

// Valid reports whether every axis order is 0 or 1.
func (d Diff) Valid() bool {
	return d.T >= 0 && d.T <= 1 && d.X >= 0 && d.X <= 1 && d.Y >= 0 && d.Y <= 1
}

type spec struct {
	kind   Kind
	domain Domain
	arity  int
	sparse bool
	basis  bool
}

var catalogue = map[string]spec{
	"wen12-se":   {Wen12SE, Network, 3, true, false},
	"spwen12-se": {SpWen12SE, Network, 3, true, false},
	"se-se":      {SESE, Network, 3, false, false},
	"ibm-se":     {IBMSE, Network, 3, false, false},
	"fogm":       {FOGM, Station, 2, false, false},
	"bm":         {BM, Station, 2, false, false},
	"linear":     {Linear, Station, 0, false, true},
	"per":        {Per, Station, 0, false, true},
}

var polyRe = regexp.MustCompile(`^p([0-9]+)$`)

// Kernel is an immutable tagged covariance term. Proper kernels contribute
// to the covariance operator; basis kernels (linear, per, pN) contribute
// improper, infinite-variance terms handled as fixed effects by generalized
// least squares instead.
type Kernel struct {
	kind   Kind
	name   string
	domain Domain
	params []float64
	sparse bool
	basis  bool
	order  int // polynomial order, Poly only
}

// Arity returns the number of hyperparameters the named model takes.
func Arity(name string) (int, error) {
	if s, ok := catalogue[name]; ok {
		return s.arity, nil
	}
	if polyRe.MatchString(name) {
		return 0, nil
	}
	return 0, fmt.Errorf("%w: unknown model %q", ErrInvalidModelSpec, name)
}

// New constructs a kernel from its model name and hyperparameter vector.
func New(name string, params []float64) (Kernel, error) {
	s, ok := catalogue[name]
	if !ok {
		if m := polyRe.FindStringSubmatch(name); m != nil {
			order, err := strconv.Atoi(m[1])
			if err != nil {
				return Kernel{}, fmt.Errorf("%w: unknown model %q", ErrInvalidModelSpec, name)
			}
			s = spec{Poly, Station, 0, false, true}
			if len(params) != 0 {
				return Kernel{}, fmt.Errorf("%w: model %q takes no hyperparameters, got %d",
					ErrInvalidModelSpec, name, len(params))
			}
			return Kernel{kind: Poly, name: name, domain: Station, basis: true, order: order}, nil
		}
		return Kernel{}, fmt.Errorf("%w: unknown model %q", ErrInvalidModelSpec, name)
	}
	if len(params) != s.arity {
		return Kernel{}, fmt.Errorf("%w: model %q takes %d hyperparameters, got %d",
			ErrInvalidModelSpec, name, s.arity, len(params))
	}
	p := make([]float64, len(params))
	copy(p, params)
	return Kernel{
		kind:   s.kind,
		name:   name,
		domain: s.domain,
		params: p,
		sparse: s.sparse,
		basis:  s.basis,
	}, nil
}

func (k Kernel) Kind() Kind     { return k.kind }
func (k Kernel) Name() string   { return k.name }
func (k Kernel) Domain() Domain { return k.domain }

// Sparse reports whether the kernel's covariance matrix is
// sparse-representable (structurally zero beyond a compact support radius).
func (k Kernel) Sparse() bool { return k.sparse }

// IsBasis reports whether the kernel is an improper basis term rather than
// a proper covariance.
func (k Kernel) IsBasis() bool { return k.basis }

// PolyOrder is the polynomial trend order contributed by a basis kernel, or
// -1 for kernels that contribute none.
func (k Kernel) PolyOrder() int {
	switch k.kind {
	case Linear:
		return 1
	case Poly:
		return k.order
	default:
		return -1
	}
}

// Params returns a copy of the hyperparameter vector in its original units.
func (k Kernel) Params() []float64 {
	p := make([]float64, len(k.params))
	copy(p, k.params)
	return p
}

// SupportRadius is the time lag in days beyond which the covariance is
// structurally zero, or +Inf for kernels without compact support.
func (k Kernel) SupportRadius() float64 {
	switch k.kind {
	case Wen12SE, SpWen12SE:
		return k.params[1] * DaysPerYear
	default:
		return math.Inf(1)
	}
}
