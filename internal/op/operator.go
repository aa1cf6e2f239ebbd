// Package op defines the linear operator contract between vector spaces
// and the concrete operators used as direct models: a dense matrix
// operator and an FFT-based circular convolution.
package op

import (
	"errors"

	"github.com/cwbudde/deconvolve/internal/vec"
)

// Job selects which form of an operator to apply.
type Job int

const (
	// Direct applies the forward operator (input space to output space).
	Direct Job = iota
	// Adjoint applies the transpose (output space to input space).
	Adjoint
	// Inverse applies the inverse, when the operator supports one.
	Inverse
)

func (j Job) String() string {
	switch j {
	case Direct:
		return "direct"
	case Adjoint:
		return "adjoint"
	case Inverse:
		return "inverse"
	}
	return "unknown"
}

// ErrUnsupportedJob is returned by operators asked for a form they do
// not implement (typically Inverse).
var ErrUnsupportedJob = errors.New("op: unsupported job")

// Operator maps vectors of one space to vectors of another. Direct goes
// from the input space to the output space; Adjoint goes the other way.
// Implementations are stateless with respect to Apply: dst is fully
// overwritten, src is never modified.
type Operator[T vec.Float] interface {
	// Input returns the space of direct-model arguments (the variables).
	Input() *vec.Space[T]
	// Output returns the space of direct-model results (the data).
	Output() *vec.Space[T]
	// Apply computes dst = Op(src) for the requested job. For Direct,
	// src must belong to the input space and dst to the output space;
	// for Adjoint the roles are reversed.
	Apply(dst, src *vec.Vector[T], job Job) error
}
