package sampler

import (
	"math"
)

// PlateCarree samples an equirectangular all-sky array laid out in the
// astronomical convention: row 0 is +90 degrees declination, and right
// ascension increases leftward with ra=0 at the center column, so
// column 0 starts just below ra=pi.  The conventional aspect is
// width = 2*height covering the full sphere.  Coordinates that map
// outside the array, and non-finite coordinates, yield NaN.
func PlateCarree(data []float64, width, height int) Sampler {
	return plateCarree(data, width, height, false)
}

// PlateCarreePlanet is PlateCarree with the longitude sense flipped:
// longitude increases rightward, the convention for planetary surface
// maps.
func PlateCarreePlanet(data []float64, width, height int) Sampler {
	return plateCarree(data, width, height, true)
}

func plateCarree(data []float64, width, height int, planet bool) Sampler {
	return func(ra, dec []float64) []float64 {
		out := make([]float64, len(ra))
		for i := range out {
			out[i] = math.NaN()
			if math.IsNaN(ra[i]) || math.IsNaN(dec[i]) {
				continue
			}
			lon := math.Mod(ra[i]+math.Pi, 2*math.Pi)
			if lon < 0 {
				lon += 2 * math.Pi
			}
			frac := lon / (2 * math.Pi)
			if !planet {
				frac = 1 - frac
			}
			x := int(float64(width) * frac)
			if x < 0 || x >= width {
				x = clampIndex(x, width)
			}
			y := int(float64(height) * (1 - (dec[i]+math.Pi/2)/math.Pi))
			if y < 0 || y >= height {
				if dec[i] < -math.Pi/2 || dec[i] > math.Pi/2 {
					continue
				}
				y = clampIndex(y, height)
			}
			out[i] = data[y*width+x]
		}
		return out
	}
}

// clampIndex pins edge-of-domain indexes back onto the array, so the
// exact poles and the RA seam sample the boundary row or column.
func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
