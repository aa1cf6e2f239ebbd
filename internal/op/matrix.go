package op

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/deconvolve/internal/vec"
)

// Matrix is a dense linear operator backed by a gonum matrix. It exists
// mostly for small problems and for testing larger operators against an
// explicit reference; gonum/mat is float64-only, so the operator is too.
type Matrix struct {
	in, out *vec.Space[float64]
	a       *mat.Dense
}

// NewMatrix builds an operator mapping the input space to the output
// space through the r-by-c matrix a, where r is the output size and c
// the input size.
func NewMatrix(out, in *vec.Space[float64], a *mat.Dense) (*Matrix, error) {
	r, c := a.Dims()
	if r != out.Size() || c != in.Size() {
		return nil, fmt.Errorf("op: %dx%d matrix does not map %v to %v", r, c, in, out)
	}
	return &Matrix{in: in, out: out, a: a}, nil
}

func (m *Matrix) Input() *vec.Space[float64]  { return m.in }
func (m *Matrix) Output() *vec.Space[float64] { return m.out }

func (m *Matrix) Apply(dst, src *vec.Vector[float64], job Job) error {
	switch job {
	case Direct:
		if !m.in.Owns(src) || !m.out.Owns(dst) {
			return vec.ErrSpaceMismatch
		}
		y := mat.NewVecDense(dst.Len(), dst.Data())
		y.MulVec(m.a, mat.NewVecDense(src.Len(), src.Data()))
		return nil
	case Adjoint:
		if !m.out.Owns(src) || !m.in.Owns(dst) {
			return vec.ErrSpaceMismatch
		}
		y := mat.NewVecDense(dst.Len(), dst.Data())
		y.MulVec(m.a.T(), mat.NewVecDense(src.Len(), src.Data()))
		return nil
	default:
		return ErrUnsupportedJob
	}
}
