// Package cost defines the differentiable cost-function contract the
// optimizers evaluate through reverse communication, and the concrete
// costs used for deconvolution: a weighted quadratic data-fidelity term,
// an edge-preserving hyperbolic total-variation regularizer, and a fused
// weighted-convolution cost that performs at most one forward and one
// adjoint transform per evaluation.
package cost

import (
	"errors"

	"github.com/cwbudde/deconvolve/internal/vec"
)

// ErrNonFiniteWeight reports an invalid (negative or non-finite) weight.
var ErrNonFiniteWeight = errors.New("cost: weights must be finite and nonnegative")

// Function is a scalar function of a vector, evaluated with a scale
// factor alpha: Evaluate returns alpha*f(x). Callers rely on alpha == 0
// returning 0 without touching x.
type Function[T vec.Float] interface {
	// Space returns the space of the function's variables.
	Space() *vec.Space[T]
	// Evaluate returns alpha*f(x).
	Evaluate(alpha float64, x *vec.Vector[T]) (float64, error)
}

// Differentiable extends Function with gradient computation.
type Differentiable[T vec.Float] interface {
	Function[T]
	// EvaluateGradient returns alpha*f(x) and writes alpha*grad f(x)
	// into gx: overwriting it when clear is true, accumulating into it
	// otherwise. When alpha == 0 the call must cost nothing beyond
	// clearing gx if requested.
	EvaluateGradient(alpha float64, x, gx *vec.Vector[T], clear bool) (float64, error)
}

// Homogeneous is an optional capability: a cost that is positively
// homogeneous of known degree q, that is f(t*x) = t^q * f(x) for t > 0.
// Scale-balancing outer loops use it; the optimizers never require it.
type Homogeneous interface {
	Degree() float64
}
