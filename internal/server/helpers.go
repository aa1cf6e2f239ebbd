package server

import (
	"fmt"
	"math"

	"github.com/cwbudde/deconvolve/internal/op"
)

// extractDataRegion pulls the data-shaped window out of a padded
// solution image, using the same centered placement as the driver.
func extractDataRegion(sol []float64, shape, dshape []int) ([]float64, error) {
	if len(shape) != len(dshape) {
		return nil, fmt.Errorf("rank mismatch: %v vs %v", shape, dshape)
	}
	offset := make([]int, len(shape))
	n := 1
	for a := range shape {
		if dshape[a] > shape[a] {
			return nil, fmt.Errorf("data shape %v exceeds solution shape %v", dshape, shape)
		}
		offset[a] = (shape[a] - dshape[a]) / 2
		n *= dshape[a]
	}
	out := make([]float64, n)
	if err := op.ExtractRegion(out, dshape, sol, shape, offset); err != nil {
		return nil, err
	}
	return out, nil
}

// residualImage returns |a - b| rescaled so the largest deviation maps
// to full intensity; a flat difference yields a black image.
func residualImage(a, b []float64) ([]float64, error) {
	if len(a) != len(b) {
		return nil, fmt.Errorf("length mismatch: %d vs %d", len(a), len(b))
	}
	out := make([]float64, len(a))
	peak := 0.0
	for i := range a {
		d := math.Abs(a[i] - b[i])
		if math.IsNaN(d) {
			d = 0
		}
		out[i] = d
		if d > peak {
			peak = d
		}
	}
	if peak > 0 {
		for i := range out {
			out[i] /= peak
		}
	}
	return out, nil
}
