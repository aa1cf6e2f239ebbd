// Package deconv wires cost functions and optimizers into an image
// deconvolution driver.
package deconv

import (
	"errors"
	"fmt"
	"math"

	"github.com/cwbudde/deconvolve/internal/vec"
)

var (
	// ErrAlreadySet is returned when data or weights are assigned twice;
	// silent overwrite is forbidden.
	ErrAlreadySet = errors.New("deconv: field already set")
	// ErrNoValidData is returned when every data point has zero weight.
	ErrNoValidData = errors.New("deconv: no valid data points")
)

// WeightedData pairs a data vector with a nonnegative weight vector of
// the same shape. Validation is lazy: invariants are enforced on the
// first call to Check, since earlier detection would need redundant
// scans.
type WeightedData[T vec.Float] struct {
	space   *vec.Space[T]
	data    *vec.Vector[T]
	weights *vec.Vector[T]
	checked bool
	valid   int
}

// NewWeightedData creates an empty container on the given space.
func NewWeightedData[T vec.Float](space *vec.Space[T]) (*WeightedData[T], error) {
	if space == nil {
		return nil, fmt.Errorf("deconv: nil space")
	}
	return &WeightedData[T]{space: space}, nil
}

func (w *WeightedData[T]) Space() *vec.Space[T] { return w.space }

// SetData assigns the data vector. It can only be called once.
func (w *WeightedData[T]) SetData(data *vec.Vector[T]) error {
	if w.data != nil {
		return fmt.Errorf("%w: data", ErrAlreadySet)
	}
	if !w.space.Owns(data) {
		return vec.ErrSpaceMismatch
	}
	w.data = data
	w.checked = false
	return nil
}

// SetWeights assigns an explicit weight vector. It can only be called
// once; when absent, Check derives default weights from the data.
func (w *WeightedData[T]) SetWeights(weights *vec.Vector[T]) error {
	if w.weights != nil {
		return fmt.Errorf("%w: weights", ErrAlreadySet)
	}
	if !w.space.Owns(weights) {
		return vec.ErrSpaceMismatch
	}
	w.weights = weights
	w.checked = false
	return nil
}

// Check enforces the pairing invariants once:
//
//   - weights are finite and nonnegative;
//   - a non-finite datum has zero weight and is replaced by zero;
//   - at least one point keeps a positive weight.
//
// Without explicit weights a default mask is derived: one where the
// datum is finite, zero elsewhere. Check is idempotent.
func (w *WeightedData[T]) Check() error {
	if w.checked {
		return nil
	}
	if w.data == nil {
		return fmt.Errorf("deconv: no data set")
	}
	if w.weights == nil {
		w.weights = w.space.Create()
		wd, dd := w.weights.Data(), w.data.Data()
		for i, v := range dd {
			if isFinite(float64(v)) {
				wd[i] = 1
			} else {
				dd[i] = 0
			}
		}
	} else {
		wd, dd := w.weights.Data(), w.data.Data()
		for i, v := range wd {
			f := float64(v)
			if !isFinite(f) || f < 0 {
				return fmt.Errorf("deconv: weight[%d] = %g is not finite and nonnegative", i, f)
			}
			if !isFinite(float64(dd[i])) {
				if f > 0 {
					return fmt.Errorf("deconv: non-finite datum[%d] has positive weight %g", i, f)
				}
				dd[i] = 0
			}
		}
	}
	w.valid = 0
	for _, v := range w.weights.Data() {
		if v > 0 {
			w.valid++
		}
	}
	if w.valid == 0 {
		return ErrNoValidData
	}
	w.checked = true
	return nil
}

// Data returns the data vector. Check must have succeeded first.
func (w *WeightedData[T]) Data() *vec.Vector[T] { return w.data }

// Weights returns the weight vector, derived or explicit. Check must
// have succeeded first.
func (w *WeightedData[T]) Weights() *vec.Vector[T] { return w.weights }

// ValidCount reports the number of positive-weight points counted by
// the last successful Check.
func (w *WeightedData[T]) ValidCount() int { return w.valid }

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
