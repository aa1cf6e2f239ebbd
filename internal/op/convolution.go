package op

import (
	"errors"
	"fmt"

	"github.com/cwbudde/deconvolve/internal/vec"
)

// ErrNoKernel is returned when a convolution is applied before a kernel
// has been set.
var ErrNoKernel = errors.New("op: convolution kernel not set")

// Convolution models circular convolution with a fixed kernel (the
// point-spread function) as an endomorphism of one space:
//
//	Direct:  dst = IFFT(FFT(src) * K)
//	Adjoint: dst = IFFT(FFT(src) * conj(K))
//
// where K is the pre-transformed kernel, computed once by SetKernel and
// cached until the kernel changes. The kernel must be supplied in
// wrap-around order (peak at index 0); see WrapKernel for converting a
// centered PSF.
type Convolution[T vec.Float] struct {
	space *vec.Space[T]
	fft   Transform
	mtf   []complex128
	rbuf  []float64
	cbuf  []complex128
	src64 []float64
}

// NewConvolution creates a convolution operator on the given space,
// using the supplied transform. The transform shape must match the
// space shape.
func NewConvolution[T vec.Float](space *vec.Space[T], fft Transform) (*Convolution[T], error) {
	if fft.Size() != space.Size() || !sameShape(fft.Shape(), space.Shape()) {
		return nil, fmt.Errorf("op: transform shape %v does not match %v", fft.Shape(), space)
	}
	n := space.Size()
	return &Convolution[T]{
		space: space,
		fft:   fft,
		rbuf:  make([]float64, n),
		cbuf:  make([]complex128, n),
		src64: make([]float64, n),
	}, nil
}

func (c *Convolution[T]) Input() *vec.Space[T]  { return c.space }
func (c *Convolution[T]) Output() *vec.Space[T] { return c.space }

// SetKernel transforms and caches the kernel. Calling it again replaces
// the cached spectrum.
func (c *Convolution[T]) SetKernel(psf *vec.Vector[T]) error {
	if !c.space.Owns(psf) {
		return vec.ErrSpaceMismatch
	}
	if c.mtf == nil {
		c.mtf = make([]complex128, c.space.Size())
	}
	c.fft.Forward(c.mtf, toReal(c.src64, psf.Data()))
	return nil
}

// Apply computes the direct or adjoint convolution. Inverse is not
// supported: deconvolution is what the optimizer is for.
func (c *Convolution[T]) Apply(dst, src *vec.Vector[T], job Job) error {
	if job != Direct && job != Adjoint {
		return ErrUnsupportedJob
	}
	if !c.space.Owns(dst) || !c.space.Owns(src) {
		return vec.ErrSpaceMismatch
	}
	if c.mtf == nil {
		return ErrNoKernel
	}
	c.fft.Forward(c.cbuf, toReal(c.src64, src.Data()))
	if job == Direct {
		for i, k := range c.mtf {
			c.cbuf[i] *= k
		}
	} else {
		for i, k := range c.mtf {
			c.cbuf[i] *= complex(real(k), -imag(k))
		}
	}
	c.fft.Backward(c.rbuf, c.cbuf)
	fromReal(dst.Data(), c.rbuf)
	return nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// toReal returns src as a []float64, converting through dst only when
// the element type is not already float64.
func toReal[T vec.Float](dst []float64, src []T) []float64 {
	if s, ok := any(src).([]float64); ok {
		return s
	}
	for i, v := range src {
		dst[i] = float64(v)
	}
	return dst[:len(src)]
}

// fromReal stores src into dst, converting element-wise unless both
// share the float64 representation.
func fromReal[T vec.Float](dst []T, src []float64) {
	if d, ok := any(dst).([]float64); ok {
		if &d[0] != &src[0] {
			copy(d, src)
		}
		return
	}
	for i, v := range src {
		dst[i] = T(v)
	}
}
