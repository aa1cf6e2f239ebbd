package cost

import (
	"github.com/cwbudde/deconvolve/internal/op"
	"github.com/cwbudde/deconvolve/internal/vec"
)

// Quadratic is the weighted data-fidelity cost
//
//	f(x) = (1/2) * sum_i w_i * r_i^2,  r = H(x) - y
//
// against a linear direct model H. The gradient is H^T (w .* r). A nil
// model means H is the identity; a nil weight vector means unit weights.
// Residual and gradient buffers are allocated lazily on first use and
// reused across evaluations.
type Quadratic[T vec.Float] struct {
	model   op.Operator[T]
	data    *vec.Vector[T]
	weights *vec.Vector[T]
	space   *vec.Space[T]

	r  *vec.Vector[T] // residual, data space
	gs *vec.Vector[T] // adjoint result, variable space
}

// NewQuadratic builds a quadratic cost. data (and weights, if given)
// must live in the model's output space; with a nil model they define
// the variable space directly.
func NewQuadratic[T vec.Float](model op.Operator[T], data, weights *vec.Vector[T]) (*Quadratic[T], error) {
	space := data.Space()
	if model != nil {
		if !model.Output().Owns(data) {
			return nil, vec.ErrSpaceMismatch
		}
		space = model.Input()
	}
	if weights != nil && !data.Space().Owns(weights) {
		return nil, vec.ErrSpaceMismatch
	}
	return &Quadratic[T]{model: model, data: data, weights: weights, space: space}, nil
}

func (q *Quadratic[T]) Space() *vec.Space[T] { return q.space }

// residual computes r = H(x) - y into the lazily-allocated scratch.
func (q *Quadratic[T]) residual(x *vec.Vector[T]) error {
	out := q.data.Space()
	if q.r == nil {
		q.r = out.Create()
	}
	if q.model == nil {
		if err := out.Copy(q.r, x); err != nil {
			return err
		}
	} else if err := q.model.Apply(q.r, x, op.Direct); err != nil {
		return err
	}
	return out.AddScaled(q.r, -1, q.data)
}

// weightedResidualNorm returns sum_i w_i r_i^2 and scales r in place by
// the weights for gradient reuse.
func (q *Quadratic[T]) weightedResidualNorm() (float64, error) {
	out := q.data.Space()
	if q.weights == nil {
		return out.Dot(q.r, q.r)
	}
	s, err := out.WDot(q.weights, q.r, q.r)
	if err != nil {
		return 0, err
	}
	return s, out.Multiply(q.r, q.weights, q.r)
}

func (q *Quadratic[T]) Evaluate(alpha float64, x *vec.Vector[T]) (float64, error) {
	if alpha == 0 {
		return 0, nil
	}
	if !q.space.Owns(x) {
		return 0, vec.ErrSpaceMismatch
	}
	if err := q.residual(x); err != nil {
		return 0, err
	}
	out := q.data.Space()
	var s float64
	var err error
	if q.weights == nil {
		s, err = out.Dot(q.r, q.r)
	} else {
		s, err = out.WDot(q.weights, q.r, q.r)
	}
	return 0.5 * alpha * s, err
}

func (q *Quadratic[T]) EvaluateGradient(alpha float64, x, gx *vec.Vector[T], clear bool) (float64, error) {
	if alpha == 0 {
		if clear {
			return 0, q.space.Zero(gx)
		}
		return 0, nil
	}
	if !q.space.Owns(x) || !q.space.Owns(gx) {
		return 0, vec.ErrSpaceMismatch
	}
	if err := q.residual(x); err != nil {
		return 0, err
	}
	s, err := q.weightedResidualNorm()
	if err != nil {
		return 0, err
	}
	if q.model == nil {
		if clear {
			err = q.space.Combine(gx, alpha, q.r, 0, gx)
		} else {
			err = q.space.AddScaled(gx, alpha, q.r)
		}
		return 0.5 * alpha * s, err
	}
	if q.gs == nil {
		q.gs = q.space.Create()
	}
	if err := q.model.Apply(q.gs, q.r, op.Adjoint); err != nil {
		return 0, err
	}
	if clear {
		err = q.space.Combine(gx, alpha, q.gs, 0, gx)
	} else {
		err = q.space.AddScaled(gx, alpha, q.gs)
	}
	return 0.5 * alpha * s, err
}
