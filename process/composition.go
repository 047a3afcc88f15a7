// Package process combines covariance kernels and unconstrained basis terms
// into a single prior or noise specification. Independent processes sum, so
// the proper kernels of a composition are summed; improper basis terms
// (polynomial trends, seasonal sinusoids) are collected into a fixed-effect
// design matrix handled by generalized least squares.
package process

import (
	"fmt"
	"math"

	"github.com/fagan2888/PyGeoNS/kernel"
)

// BasisSpec describes the unconstrained basis of a composition. PolyOrder
// -1 disables polynomial terms; order p contributes columns 1, t, ..., t^p
// per station. Annual and Semiannual each add a sine and cosine column per
// station.
type BasisSpec struct {
	PolyOrder  int
	Annual     bool
	Semiannual bool
}

// Terms is the number of basis columns contributed per station.
func (b BasisSpec) Terms() int {
	n := 0
	if b.PolyOrder >= 0 {
		n = b.PolyOrder + 1
	}
	if b.Annual {
		n += 2
	}
	if b.Semiannual {
		n += 2
	}
	return n
}

// Composition is an ordered, immutable set of kernels plus the basis they
// imply.
type Composition struct {
	kernels []kernel.Kernel // proper kernels only
	names   []string        // all model names, in build order
	basis   BasisSpec
}

// NewEmpty returns a composition with no kernels and no basis terms. The
// zero value is not usable: BasisSpec's zero PolyOrder means a constant
// term, not absence.
func NewEmpty() *Composition {
	return &Composition{basis: BasisSpec{PolyOrder: -1}}
}

// Build assembles a composition from model names and a flat hyperparameter
// vector, consumed left to right. Every named model must belong to the
// given domain.
func Build(names []string, params []float64, domain kernel.Domain) (*Composition, error) {
	c := &Composition{basis: BasisSpec{PolyOrder: -1}}
	rest := params
	for _, name := range names {
		arity, err := kernel.Arity(name)
		if err != nil {
			return nil, err
		}
		if len(rest) < arity {
			return nil, fmt.Errorf("%w: model %q takes %d hyperparameters, %d remain",
				kernel.ErrInvalidModelSpec, name, arity, len(rest))
		}
		k, err := kernel.New(name, rest[:arity])
		if err != nil {
			return nil, err
		}
		if k.Domain() != domain {
			return nil, fmt.Errorf("%w: model %q is a %s model, want %s",
				kernel.ErrInvalidModelSpec, name, k.Domain(), domain)
		}
		rest = rest[arity:]
		c.names = append(c.names, name)
		if k.IsBasis() {
			c.addBasis(k)
		} else {
			c.kernels = append(c.kernels, k)
		}
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: %d unused hyperparameters", kernel.ErrInvalidModelSpec, len(rest))
	}
	return c, nil
}

func (c *Composition) addBasis(k kernel.Kernel) {
	if p := k.PolyOrder(); p > c.basis.PolyOrder {
		c.basis.PolyOrder = p
	}
	if k.Kind() == kernel.Per {
		c.basis.Annual = true
		c.basis.Semiannual = true
	}
}

// WithParams returns a copy of the composition with a new flat
// hyperparameter vector, split by the same model names.
func (c *Composition) WithParams(params []float64) (*Composition, error) {
	out := &Composition{basis: BasisSpec{PolyOrder: -1}, names: c.names}
	rest := params
	for _, name := range c.names {
		arity, err := kernel.Arity(name)
		if err != nil {
			return nil, err
		}
		if len(rest) < arity {
			return nil, fmt.Errorf("%w: model %q takes %d hyperparameters, %d remain",
				kernel.ErrInvalidModelSpec, name, arity, len(rest))
		}
		k, err := kernel.New(name, rest[:arity])
		if err != nil {
			return nil, err
		}
		rest = rest[arity:]
		if k.IsBasis() {
			out.addBasis(k)
		} else {
			out.kernels = append(out.kernels, k)
		}
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: %d unused hyperparameters", kernel.ErrInvalidModelSpec, len(rest))
	}
	return out, nil
}

// Union returns a composition containing the kernels and basis terms of
// both operands. Used to mix network and station terms in a noise model.
func (c *Composition) Union(o *Composition) *Composition {
	out := &Composition{basis: c.basis}
	out.kernels = append(out.kernels, c.kernels...)
	out.kernels = append(out.kernels, o.kernels...)
	out.names = append(out.names, c.names...)
	out.names = append(out.names, o.names...)
	if o.basis.PolyOrder > out.basis.PolyOrder {
		out.basis.PolyOrder = o.basis.PolyOrder
	}
	out.basis.Annual = out.basis.Annual || o.basis.Annual
	out.basis.Semiannual = out.basis.Semiannual || o.basis.Semiannual
	return out
}

// Kernels returns the proper kernels of the composition.
func (c *Composition) Kernels() []kernel.Kernel {
	out := make([]kernel.Kernel, len(c.kernels))
	copy(out, c.kernels)
	return out
}

// Names returns the model names in build order, basis terms included.
func (c *Composition) Names() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// Params returns the flat hyperparameter vector in build order.
func (c *Composition) Params() []float64 {
	var out []float64
	for _, k := range c.kernels {
		out = append(out, k.Params()...)
	}
	return out
}

// NumParams is the length of the flat hyperparameter vector.
func (c *Composition) NumParams() int {
	n := 0
	for _, k := range c.kernels {
		n += len(k.Params())
	}
	return n
}

// Basis returns the accumulated unconstrained-basis specification.
func (c *Composition) Basis() BasisSpec { return c.basis }

// HasNetwork reports whether any proper kernel couples the whole network.
// A composition used as a prior must have one to interpolate away from the
// observed stations.
func (c *Composition) HasNetwork() bool {
	for _, k := range c.kernels {
		if k.Domain() == kernel.Network {
			return true
		}
	}
	return false
}

// Sparse reports whether every proper kernel is sparse-representable, in
// which case the covariance matrix can be assembled and factored in banded
// form. Vacuously true for basis-only compositions.
func (c *Composition) Sparse() bool {
	for _, k := range c.kernels {
		if !k.Sparse() {
			return false
		}
	}
	return true
}

// SupportRadius is the largest compact-support radius of the proper
// kernels, in days. Zero for basis-only compositions, +Inf when any kernel
// lacks compact support.
func (c *Composition) SupportRadius() float64 {
	r := 0.0
	for _, k := range c.kernels {
		r = math.Max(r, k.SupportRadius())
	}
	return r
}

// Subset returns the composition restricted to proper kernels of the given
// domain. Basis terms are kept only in the station subset, since they are
// per-station temporal terms.
func (c *Composition) Subset(domain kernel.Domain) *Composition {
	out := &Composition{basis: BasisSpec{PolyOrder: -1}}
	for _, k := range c.kernels {
		if k.Domain() == domain {
			out.kernels = append(out.kernels, k)
			out.names = append(out.names, k.Name())
		}
	}
	if domain == kernel.Station {
		out.basis = c.basis
		for _, name := range c.names {
			if a, err := kernel.Arity(name); err == nil && a == 0 {
				if k, err := kernel.New(name, nil); err == nil && k.IsBasis() {
					out.names = append(out.names, name)
				}
			}
		}
	}
	return out
}

// Empty reports whether the composition has neither kernels nor basis terms.
func (c *Composition) Empty() bool {
	return len(c.kernels) == 0 && c.basis.Terms() == 0
}
