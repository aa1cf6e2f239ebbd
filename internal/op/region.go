package op

import "fmt"

// WrapKernel embeds a centered kernel into a (possibly larger) array in
// wrap-around order: the kernel's central sample lands at index zero and
// the quadrants wrap to the array corners, which is the layout circular
// convolution expects. dst is fully overwritten with zeros outside the
// kernel support.
func WrapKernel(dst []float64, shape []int, src []float64, kshape []int) error {
	if len(shape) != len(kshape) {
		return fmt.Errorf("op: kernel rank %d does not match array rank %d", len(kshape), len(shape))
	}
	dn, kn := 1, 1
	for a := range shape {
		if kshape[a] > shape[a] {
			return fmt.Errorf("op: kernel dimension %d exceeds array dimension %d", kshape[a], shape[a])
		}
		dn *= shape[a]
		kn *= kshape[a]
	}
	if len(dst) != dn || len(src) != kn {
		return fmt.Errorf("op: kernel buffer length mismatch")
	}
	for i := range dst {
		dst[i] = 0
	}
	rank := len(shape)
	idx := make([]int, rank)
	for i := 0; i < kn; i++ {
		// Map the multi-index of src element i to its wrapped position.
		pos := 0
		for a := 0; a < rank; a++ {
			j := idx[a] - kshape[a]/2
			if j < 0 {
				j += shape[a]
			}
			pos = pos*shape[a] + j
		}
		dst[pos] = src[i]
		for a := rank - 1; a >= 0; a-- {
			idx[a]++
			if idx[a] < kshape[a] {
				break
			}
			idx[a] = 0
		}
	}
	return nil
}

// ExtractRegion copies the sub-array of src (shape sshape) starting at
// offset into dst (shape dshape). Used to read the data region out of a
// padded variable array.
func ExtractRegion(dst []float64, dshape []int, src []float64, sshape, offset []int) error {
	return copyRegion(dst, dshape, nil, src, sshape, offset)
}

// InjectRegion zeroes dst (shape dshape) and copies src (shape sshape)
// into the sub-array starting at offset. Used to embed a data-sized
// residual back into a padded variable array.
func InjectRegion(dst []float64, dshape []int, src []float64, sshape, offset []int) error {
	for i := range dst {
		dst[i] = 0
	}
	return copyRegion(src, sshape, offset, dst, dshape, nil)
}

// copyRegion copies between a small array and a region of a large one.
// Exactly one of smallOff/largeOff is non-nil: it is the offset of the
// small array inside the large one, attached to whichever side is large.
func copyRegion(small []float64, smallShape, intoOff []int, large []float64, largeShape, fromOff []int) error {
	if len(smallShape) != len(largeShape) {
		return fmt.Errorf("op: region rank mismatch")
	}
	offset := intoOff
	toLarge := offset != nil
	if offset == nil {
		offset = fromOff
	}
	if offset == nil {
		offset = make([]int, len(smallShape))
	}
	for a := range smallShape {
		if offset[a] < 0 || offset[a]+smallShape[a] > largeShape[a] {
			return fmt.Errorf("op: region out of bounds on axis %d", a)
		}
	}
	rank := len(smallShape)
	strides := make([]int, rank)
	stride := 1
	for a := rank - 1; a >= 0; a-- {
		strides[a] = stride
		stride *= largeShape[a]
	}
	base := 0
	for a := range offset {
		base += offset[a] * strides[a]
	}
	idx := make([]int, rank)
	n := len(small)
	for i := 0; i < n; i++ {
		pos := base
		for a := 0; a < rank; a++ {
			pos += idx[a] * strides[a]
		}
		if toLarge {
			large[pos] = small[i]
		} else {
			small[i] = large[pos]
		}
		for a := rank - 1; a >= 0; a-- {
			idx[a]++
			if idx[a] < smallShape[a] {
				break
			}
			idx[a] = 0
		}
	}
	return nil
}
