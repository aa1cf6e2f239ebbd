package optim

import (
	"fmt"
	"math"

	"github.com/cwbudde/deconvolve/internal/vec"
)

// Projector clamps variables to separable bound constraints
// lower <= x <= upper. An infinite bound means the side is absent.
type Projector[T vec.Float] struct {
	space        *vec.Space[T]
	lower, upper float64
}

// NewProjector creates a projector on the given space. Use -Inf or +Inf
// for an absent bound.
func NewProjector[T vec.Float](space *vec.Space[T], lower, upper float64) (*Projector[T], error) {
	if space == nil {
		return nil, fmt.Errorf("optim: nil space")
	}
	if math.IsNaN(lower) || math.IsNaN(upper) || lower > upper {
		return nil, fmt.Errorf("optim: invalid bounds [%g, %g]", lower, upper)
	}
	return &Projector[T]{space: space, lower: lower, upper: upper}, nil
}

func (p *Projector[T]) Space() *vec.Space[T] { return p.space }
func (p *Projector[T]) Lower() float64       { return p.lower }
func (p *Projector[T]) Upper() float64       { return p.upper }

// Project clamps x into the feasible set in place. Projecting an
// already feasible point leaves it unchanged.
func (p *Projector[T]) Project(x *vec.Vector[T]) error {
	if !p.space.Owns(x) {
		return vec.ErrSpaceMismatch
	}
	lo, hi := T(p.lower), T(p.upper)
	data := x.Data()
	if !math.IsInf(p.lower, -1) {
		for i, v := range data {
			if v < lo {
				data[i] = lo
			}
		}
	}
	if !math.IsInf(p.upper, 1) {
		for i, v := range data {
			if v > hi {
				data[i] = hi
			}
		}
	}
	return nil
}

// ProjectedGradient writes into dst the gradient g with the components
// zeroed that point outside the feasible set at x. Its norm is the
// stationarity measure of the bounded problem: it vanishes exactly at a
// constrained minimum.
func (p *Projector[T]) ProjectedGradient(dst, x, g *vec.Vector[T]) error {
	if err := p.space.Copy(dst, g); err != nil {
		return err
	}
	if !p.space.Owns(x) {
		return vec.ErrSpaceMismatch
	}
	lo, hi := T(p.lower), T(p.upper)
	xd, d := x.Data(), dst.Data()
	for i, v := range xd {
		if (v <= lo && d[i] > 0) || (v >= hi && d[i] < 0) {
			d[i] = 0
		}
	}
	return nil
}

// FreeDirection zeroes in place the components of the search direction
// d that would immediately leave the feasible set at x.
func (p *Projector[T]) FreeDirection(d, x *vec.Vector[T]) error {
	if !p.space.Owns(d) || !p.space.Owns(x) {
		return vec.ErrSpaceMismatch
	}
	lo, hi := T(p.lower), T(p.upper)
	xd, dd := x.Data(), d.Data()
	for i, v := range xd {
		if (v <= lo && dd[i] < 0) || (v >= hi && dd[i] > 0) {
			dd[i] = 0
		}
	}
	return nil
}
