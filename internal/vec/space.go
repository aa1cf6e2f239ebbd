// Package vec provides flat, shaped vector spaces over a single
// floating-point precision and the algebraic operations the optimizers
// and cost functions are built on.
//
// A Space is a factory for Vectors of one fixed length and precision.
// All operations between vectors require the operands to belong to the
// same space; a mismatch is reported as ErrSpaceMismatch.
package vec

import (
	"errors"
	"fmt"
)

// Float is the set of element precisions a space can be built over.
// The precision is fixed at space construction time; there is no
// implicit promotion between spaces of different precision.
type Float interface {
	~float32 | ~float64
}

// ErrSpaceMismatch is returned when an operation mixes vectors that do
// not belong to the same space.
var ErrSpaceMismatch = errors.New("vec: vector does not belong to this space")

// Space describes a vector space of fixed element count and optional
// shape. It owns no data itself; it is a factory for Vectors and the
// home of all operations on them.
type Space[T Float] struct {
	size  int
	shape []int
}

// NewSpace creates a space for row-major arrays of the given shape.
// Every dimension must be positive.
func NewSpace[T Float](shape ...int) (*Space[T], error) {
	if len(shape) == 0 {
		return nil, errors.New("vec: space needs at least one dimension")
	}
	size := 1
	for _, n := range shape {
		if n <= 0 {
			return nil, fmt.Errorf("vec: invalid dimension %d", n)
		}
		size *= n
	}
	s := &Space[T]{size: size, shape: make([]int, len(shape))}
	copy(s.shape, shape)
	return s, nil
}

// Size returns the total number of elements of vectors in this space.
func (s *Space[T]) Size() int { return s.size }

// Rank returns the number of dimensions of the space's shape.
func (s *Space[T]) Rank() int { return len(s.shape) }

// Shape returns a copy of the space's shape.
func (s *Space[T]) Shape() []int {
	out := make([]int, len(s.shape))
	copy(out, s.shape)
	return out
}

func (s *Space[T]) String() string {
	return fmt.Sprintf("Space%v", s.shape)
}

// Create returns a new zero-filled vector owned by this space.
func (s *Space[T]) Create() *Vector[T] {
	return &Vector[T]{space: s, data: make([]T, s.size)}
}

// CreateFilled returns a new vector with every element set to alpha.
func (s *Space[T]) CreateFilled(alpha float64) *Vector[T] {
	v := s.Create()
	s.Fill(v, alpha)
	return v
}

// Wrap builds a vector sharing the given storage. The slice length must
// equal the space size. The caller keeps a view on the same elements;
// mutating through both views concurrently is undefined behavior.
func (s *Space[T]) Wrap(data []T) (*Vector[T], error) {
	if len(data) != s.size {
		return nil, fmt.Errorf("vec: cannot wrap %d elements into %v", len(data), s)
	}
	return &Vector[T]{space: s, data: data}, nil
}

// CopyOf builds a vector holding a private copy of the given storage.
func (s *Space[T]) CopyOf(data []T) (*Vector[T], error) {
	if len(data) != s.size {
		return nil, fmt.Errorf("vec: cannot copy %d elements into %v", len(data), s)
	}
	v := s.Create()
	copy(v.data, data)
	return v, nil
}

// Clone returns a new vector with the same contents as x.
func (s *Space[T]) Clone(x *Vector[T]) (*Vector[T], error) {
	if err := s.owns(x); err != nil {
		return nil, err
	}
	v := s.Create()
	copy(v.data, x.data)
	return v, nil
}

// Owns reports whether x was created by (or wrapped into) this space.
func (s *Space[T]) Owns(x *Vector[T]) bool {
	return x != nil && x.space == s
}

func (s *Space[T]) owns(vectors ...*Vector[T]) error {
	for _, v := range vectors {
		if v == nil || v.space != s {
			return ErrSpaceMismatch
		}
	}
	return nil
}
