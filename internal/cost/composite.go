package cost

import (
	"errors"
	"math"

	"github.com/cwbudde/deconvolve/internal/vec"
)

// Term pairs a differentiable cost with its scalar weight inside a
// composite.
type Term[T vec.Float] struct {
	Weight float64
	Fn     Differentiable[T]
}

// Composite is an ordered weighted sum of differentiable costs sharing
// one variable space:
//
//	f(x) = sum_i w_i * f_i(x)
type Composite[T vec.Float] struct {
	space *vec.Space[T]
	terms []Term[T]
}

// NewComposite builds a composite from the given terms. All terms must
// share the same space and carry finite weights.
func NewComposite[T vec.Float](terms ...Term[T]) (*Composite[T], error) {
	if len(terms) == 0 {
		return nil, errors.New("cost: composite needs at least one term")
	}
	space := terms[0].Fn.Space()
	for _, t := range terms {
		if t.Fn.Space() != space {
			return nil, vec.ErrSpaceMismatch
		}
		if math.IsNaN(t.Weight) || math.IsInf(t.Weight, 0) {
			return nil, errors.New("cost: composite weight must be finite")
		}
	}
	return &Composite[T]{space: space, terms: terms}, nil
}

func (c *Composite[T]) Space() *vec.Space[T] { return c.space }

// Evaluate returns alpha * sum_i w_i * f_i(x).
func (c *Composite[T]) Evaluate(alpha float64, x *vec.Vector[T]) (float64, error) {
	if alpha == 0 {
		return 0, nil
	}
	var total float64
	for _, t := range c.terms {
		f, err := t.Fn.Evaluate(alpha*t.Weight, x)
		if err != nil {
			return total, err
		}
		total += f
	}
	return total, nil
}

// EvaluateGradient accumulates the weighted costs and gradients of all
// terms. Only the first term clears gx; the rest accumulate. When
// alpha == 0, no component is evaluated at all: callers rely on this to
// skip expensive transforms.
func (c *Composite[T]) EvaluateGradient(alpha float64, x, gx *vec.Vector[T], clear bool) (float64, error) {
	if alpha == 0 {
		if clear {
			if err := c.space.Zero(gx); err != nil {
				return 0, err
			}
		}
		return 0, nil
	}
	var total float64
	for i, t := range c.terms {
		f, err := t.Fn.EvaluateGradient(alpha*t.Weight, x, gx, clear && i == 0)
		if err != nil {
			return total, err
		}
		total += f
	}
	return total, nil
}
