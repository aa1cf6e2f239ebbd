package deconv

import (
	"fmt"

	"github.com/cwbudde/deconvolve/internal/cost"
	"github.com/cwbudde/deconvolve/internal/op"
	"github.com/cwbudde/deconvolve/internal/vec"
)

// GaussianLikelihood is the co-log-likelihood of data with Gaussian
// noise under a linear direct model:
//
//	f(x) = (alpha/2) * sum_i w_i * (H(x) - y)_i^2
//
// It binds a WeightedData container to the model and defers to the
// container's lazy validation: the first evaluation triggers Check.
type GaussianLikelihood[T vec.Float] struct {
	model op.Operator[T]
	wd    *WeightedData[T]
	quad  *cost.Quadratic[T]
	space *vec.Space[T]
}

// NewGaussianLikelihood binds a direct model and weighted data. A nil
// model means the identity (denoising instead of deconvolution).
func NewGaussianLikelihood[T vec.Float](model op.Operator[T], wd *WeightedData[T]) (*GaussianLikelihood[T], error) {
	if wd == nil {
		return nil, fmt.Errorf("deconv: nil weighted data")
	}
	space := wd.Space()
	if model != nil {
		if model.Output() != wd.Space() {
			return nil, vec.ErrSpaceMismatch
		}
		space = model.Input()
	}
	return &GaussianLikelihood[T]{model: model, wd: wd, space: space}, nil
}

func (l *GaussianLikelihood[T]) Space() *vec.Space[T] { return l.space }

// prepare validates the data on first use and builds the underlying
// quadratic cost.
func (l *GaussianLikelihood[T]) prepare() error {
	if l.quad != nil {
		return nil
	}
	if err := l.wd.Check(); err != nil {
		return err
	}
	q, err := cost.NewQuadratic(l.model, l.wd.Data(), l.wd.Weights())
	if err != nil {
		return err
	}
	l.quad = q
	return nil
}

func (l *GaussianLikelihood[T]) Evaluate(alpha float64, x *vec.Vector[T]) (float64, error) {
	if alpha == 0 {
		return 0, nil
	}
	if err := l.prepare(); err != nil {
		return 0, err
	}
	return l.quad.Evaluate(alpha, x)
}

func (l *GaussianLikelihood[T]) EvaluateGradient(alpha float64, x, gx *vec.Vector[T], clear bool) (float64, error) {
	if alpha == 0 {
		if clear {
			return 0, l.space.Zero(gx)
		}
		return 0, nil
	}
	if err := l.prepare(); err != nil {
		return 0, err
	}
	return l.quad.EvaluateGradient(alpha, x, gx, clear)
}
