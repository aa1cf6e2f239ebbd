package cost

import "github.com/cwbudde/deconvolve/internal/vec"

// Tikhonov is the plain squared-norm regularizer
//
//	f(x) = (1/2) * sum_i x_i^2
//
// It is positively homogeneous of degree 2, which makes it usable by the
// scale-balancing outer loop.
type Tikhonov[T vec.Float] struct {
	space *vec.Space[T]
}

// NewTikhonov builds the regularizer on the given space.
func NewTikhonov[T vec.Float](space *vec.Space[T]) *Tikhonov[T] {
	return &Tikhonov[T]{space: space}
}

func (t *Tikhonov[T]) Space() *vec.Space[T] { return t.space }

func (t *Tikhonov[T]) Degree() float64 { return 2 }

func (t *Tikhonov[T]) Evaluate(alpha float64, x *vec.Vector[T]) (float64, error) {
	if alpha == 0 {
		return 0, nil
	}
	s, err := t.space.Dot(x, x)
	return 0.5 * alpha * s, err
}

func (t *Tikhonov[T]) EvaluateGradient(alpha float64, x, gx *vec.Vector[T], clear bool) (float64, error) {
	if alpha == 0 {
		if clear {
			return 0, t.space.Zero(gx)
		}
		return 0, nil
	}
	s, err := t.space.Dot(x, x)
	if err != nil {
		return 0, err
	}
	if clear {
		err = t.space.Combine(gx, alpha, x, 0, gx)
	} else {
		err = t.space.AddScaled(gx, alpha, x)
	}
	return 0.5 * alpha * s, err
}
