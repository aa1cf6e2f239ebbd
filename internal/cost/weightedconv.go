package cost

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/cwbudde/deconvolve/internal/op"
	"github.com/cwbudde/deconvolve/internal/vec"
)

// WeightedConvolution fuses a circular-convolution direct model with the
// weighted quadratic data term:
//
//	f(x) = (1/2) * sum_i w_i * ((H x)_i - y_i)^2
//
// where the sum runs over the data region only. The variable space may
// be padded (zero-extended) relative to the data space to reduce
// wraparound artifacts; offset places the data region inside the padded
// array. A full cost+gradient evaluation performs exactly one forward
// and one adjoint transform, which makes this the hot path of a
// deconvolution run; evaluation count and cumulative time are tracked so
// callers can measure it independently.
type WeightedConvolution[T vec.Float] struct {
	space   *vec.Space[T] // variable space, possibly padded
	dshape  []int         // data shape
	offset  []int
	fft     op.Transform
	mtf     []complex128
	y, w    []float64 // data and weights, flat in data shape

	cbuf  []complex128
	rbuf  []float64 // variable-space real scratch
	res   []float64 // data-space residual
	src64 []float64

	evals   int
	elapsed time.Duration
}

// NewWeightedConvolution builds the fused cost. The transform must match
// the variable space; psf lives in the variable space in wrap-around
// order; data and weights (weights may be nil for unit weights) are flat
// data-region buffers placed at offset inside the variable array. A nil
// offset centers zero: the data region starts at the origin.
func NewWeightedConvolution[T vec.Float](space *vec.Space[T], fft op.Transform, psf *vec.Vector[T], data, weights []float64, dshape, offset []int) (*WeightedConvolution[T], error) {
	shape := space.Shape()
	if fft.Size() != space.Size() {
		return nil, fmt.Errorf("cost: transform size %d does not match %v", fft.Size(), space)
	}
	if len(dshape) != len(shape) {
		return nil, fmt.Errorf("cost: data rank %d does not match variable rank %d", len(dshape), len(shape))
	}
	if offset == nil {
		offset = make([]int, len(shape))
	}
	dn := 1
	for a := range dshape {
		if dshape[a] <= 0 || offset[a] < 0 || offset[a]+dshape[a] > shape[a] {
			return nil, fmt.Errorf("cost: data region out of bounds on axis %d", a)
		}
		dn *= dshape[a]
	}
	if len(data) != dn {
		return nil, fmt.Errorf("cost: data length %d does not match shape %v", len(data), dshape)
	}
	if weights != nil && len(weights) != dn {
		return nil, fmt.Errorf("cost: weight length %d does not match shape %v", len(weights), dshape)
	}
	for _, wi := range weights {
		if wi < 0 || math.IsInf(wi, 0) || math.IsNaN(wi) {
			return nil, ErrNonFiniteWeight
		}
	}
	if !space.Owns(psf) {
		return nil, vec.ErrSpaceMismatch
	}
	n := space.Size()
	wc := &WeightedConvolution[T]{
		space:  space,
		dshape: append([]int(nil), dshape...),
		offset: append([]int(nil), offset...),
		fft:    fft,
		mtf:    make([]complex128, n),
		y:      data,
		w:      weights,
		cbuf:   make([]complex128, n),
		rbuf:   make([]float64, n),
		res:    make([]float64, dn),
		src64:  make([]float64, n),
	}
	wc.fft.Forward(wc.mtf, realOf(wc.src64, psf.Data()))
	return wc, nil
}

func (wc *WeightedConvolution[T]) Space() *vec.Space[T] { return wc.space }

// Evaluations returns the number of cost or cost+gradient evaluations.
func (wc *WeightedConvolution[T]) Evaluations() int { return wc.evals }

// EvalTime returns the cumulative wall time spent in evaluations.
func (wc *WeightedConvolution[T]) EvalTime() time.Duration { return wc.elapsed }

// ResetCounters clears the evaluation counters.
func (wc *WeightedConvolution[T]) ResetCounters() {
	wc.evals = 0
	wc.elapsed = 0
}

// residual performs the forward transform pass, leaving the weighted
// residual in wc.res and returning sum_i w_i r_i^2.
func (wc *WeightedConvolution[T]) residual(x *vec.Vector[T]) (float64, error) {
	wc.fft.Forward(wc.cbuf, realOf(wc.src64, x.Data()))
	for i, k := range wc.mtf {
		wc.cbuf[i] *= k
	}
	wc.fft.Backward(wc.rbuf, wc.cbuf)
	if err := op.ExtractRegion(wc.res, wc.dshape, wc.rbuf, wc.space.Shape(), wc.offset); err != nil {
		return 0, err
	}
	floats.Sub(wc.res, wc.y)
	if wc.w == nil {
		return floats.Dot(wc.res, wc.res), nil
	}
	var s float64
	for i, ri := range wc.res {
		s += wc.w[i] * ri * ri
		wc.res[i] = wc.w[i] * ri
	}
	return s, nil
}

func (wc *WeightedConvolution[T]) Evaluate(alpha float64, x *vec.Vector[T]) (float64, error) {
	if alpha == 0 {
		return 0, nil
	}
	if !wc.space.Owns(x) {
		return 0, vec.ErrSpaceMismatch
	}
	start := time.Now()
	defer func() {
		wc.evals++
		wc.elapsed += time.Since(start)
	}()
	s, err := wc.residual(x)
	return 0.5 * alpha * s, err
}

func (wc *WeightedConvolution[T]) EvaluateGradient(alpha float64, x, gx *vec.Vector[T], clear bool) (float64, error) {
	if alpha == 0 {
		if clear {
			return 0, wc.space.Zero(gx)
		}
		return 0, nil
	}
	if !wc.space.Owns(x) || !wc.space.Owns(gx) {
		return 0, vec.ErrSpaceMismatch
	}
	start := time.Now()
	defer func() {
		wc.evals++
		wc.elapsed += time.Since(start)
	}()
	s, err := wc.residual(x)
	if err != nil {
		return 0, err
	}
	// Adjoint pass: embed the weighted residual back into the padded
	// array and convolve with the conjugate spectrum.
	if err := op.InjectRegion(wc.rbuf, wc.space.Shape(), wc.res, wc.dshape, wc.offset); err != nil {
		return 0, err
	}
	wc.fft.Forward(wc.cbuf, wc.rbuf)
	for i, k := range wc.mtf {
		wc.cbuf[i] *= complex(real(k), -imag(k))
	}
	wc.fft.Backward(wc.rbuf, wc.cbuf)
	gd := gx.Data()
	if clear {
		for i, g := range wc.rbuf {
			gd[i] = T(alpha * g)
		}
	} else {
		for i, g := range wc.rbuf {
			gd[i] = T(float64(gd[i]) + alpha*g)
		}
	}
	return 0.5 * alpha * s, nil
}

// realOf returns src as []float64, converting through dst only when the
// element type is not float64.
func realOf[T vec.Float](dst []float64, src []T) []float64 {
	if s, ok := any(src).([]float64); ok {
		return s
	}
	for i, v := range src {
		dst[i] = float64(v)
	}
	return dst[:len(src)]
}
