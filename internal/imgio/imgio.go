// Package imgio loads and saves grayscale images as flat float64
// buffers in row-major order, the format the deconvolution core works
// on.
package imgio

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg" // registered for Decode
	"image/png"
	"io"
	"math"
	"os"

	"github.com/nfnt/resize"
)

// LoadGray decodes an image file and converts it to a flat grayscale
// buffer with intensities in [0, 1]. It returns the buffer and the
// image height and width.
func LoadGray(path string) ([]float64, int, int, error) {
	return LoadGrayScaled(path, 1)
}

// LoadGrayScaled is LoadGray with an optional prescale factor applied
// before conversion; scale 1 keeps the original size.
func LoadGrayScaled(path string, scale float64) ([]float64, int, int, error) {
	if !(scale > 0) {
		return nil, 0, 0, fmt.Errorf("imgio: scale must be positive, got %g", scale)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("imgio: open %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("imgio: decode %s: %w", path, err)
	}
	if scale != 1 {
		b := img.Bounds()
		w := uint(math.Round(float64(b.Dx()) * scale))
		h := uint(math.Round(float64(b.Dy()) * scale))
		if w == 0 || h == 0 {
			return nil, 0, 0, fmt.Errorf("imgio: scale %g collapses %dx%d to zero size", scale, b.Dx(), b.Dy())
		}
		img = resize.Resize(w, h, img, resize.Lanczos3)
	}

	b := img.Bounds()
	h, w := b.Dy(), b.Dx()
	buf := make([]float64, h*w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			g := color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
			buf[y*w+x] = float64(g.Y) / 65535
		}
	}
	return buf, h, w, nil
}

// SaveGray writes a flat buffer as a grayscale PNG, clamping values to
// [0, 1].
func SaveGray(path string, buf []float64, h, w int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("imgio: create %s: %w", path, err)
	}
	if err := EncodeGray(f, buf, h, w); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// EncodeGray encodes a flat buffer as a grayscale PNG, clamping values
// to [0, 1].
func EncodeGray(w io.Writer, buf []float64, height, width int) error {
	if len(buf) != height*width {
		return fmt.Errorf("imgio: buffer length %d does not match %dx%d", len(buf), height, width)
	}
	img := image.NewGray16(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := buf[y*width+x]
			if v < 0 || math.IsNaN(v) {
				v = 0
			} else if v > 1 {
				v = 1
			}
			img.SetGray16(x, y, color.Gray16{Y: uint16(math.Round(v * 65535))})
		}
	}
	return png.Encode(w, img)
}

// Normalize scales buf in place so it sums to one. PSF kernels need
// this so convolution preserves total flux.
func Normalize(buf []float64) error {
	var s float64
	for _, v := range buf {
		s += v
	}
	if !(s > 0) || math.IsInf(s, 1) || math.IsNaN(s) {
		return fmt.Errorf("imgio: cannot normalize buffer with sum %g", s)
	}
	for i := range buf {
		buf[i] /= s
	}
	return nil
}
