package op

import (
	"fmt"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Transform is the FFT collaborator used by the convolution operators.
// Forward maps a real array to its (unnormalized) complex spectrum;
// Backward maps a spectrum back to a real array, including the 1/N
// normalization so that Backward(Forward(x)) == x.
//
// The shape is fixed at construction. Both methods panic if a slice of
// the wrong length is supplied; that is a programmer error, not a
// runtime condition.
type Transform interface {
	Shape() []int
	Size() int
	Forward(dst []complex128, src []float64)
	Backward(dst []float64, src []complex128)
}

// FFT implements Transform on top of gonum's complex FFT, applied along
// each axis of a row-major array of rank 1 to 3. Plans are created once
// and cached for the lifetime of the instance; the cache is scoped to
// the instance, never process-wide.
type FFT struct {
	shape   []int
	strides []int
	size    int
	plans   []*fourier.CmplxFFT
	line    []complex128
	work    []complex128
}

// NewFFT creates a transform for the given shape (rank 1 to 3).
func NewFFT(shape ...int) (*FFT, error) {
	if len(shape) < 1 || len(shape) > 3 {
		return nil, fmt.Errorf("op: FFT supports rank 1 to 3, got %d", len(shape))
	}
	size := 1
	for _, n := range shape {
		if n <= 0 {
			return nil, fmt.Errorf("op: invalid FFT dimension %d", n)
		}
		size *= n
	}
	f := &FFT{
		shape:   append([]int(nil), shape...),
		strides: make([]int, len(shape)),
		size:    size,
		plans:   make([]*fourier.CmplxFFT, len(shape)),
		work:    make([]complex128, size),
	}
	longest := 0
	stride := 1
	for a := len(shape) - 1; a >= 0; a-- {
		f.strides[a] = stride
		stride *= shape[a]
		f.plans[a] = fourier.NewCmplxFFT(shape[a])
		if shape[a] > longest {
			longest = shape[a]
		}
	}
	f.line = make([]complex128, longest)
	return f, nil
}

func (f *FFT) Shape() []int {
	return append([]int(nil), f.shape...)
}

func (f *FFT) Size() int { return f.size }

// Forward fills dst with the unnormalized spectrum of src.
func (f *FFT) Forward(dst []complex128, src []float64) {
	if len(dst) != f.size || len(src) != f.size {
		panic("op: FFT buffer length mismatch")
	}
	for i, v := range src {
		dst[i] = complex(v, 0)
	}
	for a := range f.shape {
		f.transformAxis(dst, a, true)
	}
}

// Backward fills dst with the normalized inverse transform of src.
// src is left untouched.
func (f *FFT) Backward(dst []float64, src []complex128) {
	if len(dst) != f.size || len(src) != f.size {
		panic("op: FFT buffer length mismatch")
	}
	copy(f.work, src)
	for a := range f.shape {
		f.transformAxis(f.work, a, false)
	}
	scale := 1 / float64(f.size)
	for i, z := range f.work {
		dst[i] = real(z) * scale
	}
}

// transformAxis runs the cached 1D plan over every line of the array
// along axis a, in place.
func (f *FFT) transformAxis(data []complex128, a int, forward bool) {
	n := f.shape[a]
	stride := f.strides[a]
	plan := f.plans[a]
	line := f.line[:n]
	block := n * stride
	for base := 0; base < f.size; base += block {
		for off := 0; off < stride; off++ {
			if stride == 1 {
				// Contiguous line: transform directly in place.
				seg := data[base : base+n]
				if forward {
					plan.Coefficients(seg, seg)
				} else {
					plan.Sequence(seg, seg)
				}
				continue
			}
			for k := 0; k < n; k++ {
				line[k] = data[base+off+k*stride]
			}
			if forward {
				plan.Coefficients(line, line)
			} else {
				plan.Sequence(line, line)
			}
			for k := 0; k < n; k++ {
				data[base+off+k*stride] = line[k]
			}
		}
	}
}
