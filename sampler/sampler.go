/*
Package sampler defines the functions that feed pixel data into a
pyramid build: given co-indexed arrays of sky coordinates (the centers
of the pixels in a tile under construction), a sampler returns one
value per coordinate.  NaN is the first-class "no data" value for
scalar samplers, zero alpha for color ones; builds skip tiles whose
samples are entirely no-data, which is what keeps sparse pyramids
sparse.

Samplers compose by ordinary function composition; Normalize is the
stock example, mapping arbitrary-range scientific values onto the
display range.
*/
package sampler

import (
	"image/color"
	"math"
)

// Sampler maps sky coordinates in radians to scalar pixel values.  The
// input slices are co-indexed and of equal length; the result has the
// same length.  NaN marks coordinates with no source coverage.
type Sampler func(ra, dec []float64) []float64

// ColorSampler is the multi-channel variant.  Alpha zero marks
// coordinates with no source coverage.
type ColorSampler func(ra, dec []float64) []color.NRGBA

// Constant returns a sampler yielding the same value everywhere,
// useful for solid backdrops and tests.
func Constant(v float64) Sampler {
	return func(ra, dec []float64) []float64 {
		out := make([]float64, len(ra))
		for i := range out {
			out[i] = v
		}
		return out
	}
}

// Checkerboard returns a sampler alternating between lo and hi on a
// sky grid with the given cell size in radians.  Handy for eyeballing
// projection orientation.
func Checkerboard(cell, lo, hi float64) Sampler {
	return func(ra, dec []float64) []float64 {
		out := make([]float64, len(ra))
		for i := range out {
			cx := int(math.Floor(ra[i] / cell))
			cy := int(math.Floor((dec[i] + math.Pi/2) / cell))
			if (cx+cy)&1 == 0 {
				out[i] = lo
			} else {
				out[i] = hi
			}
		}
		return out
	}
}
