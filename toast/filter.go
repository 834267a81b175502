package toast

import (
	"math"

	"github.com/starfield-io/skytile/pyramid"
)

// BBoxFilter returns a filter admitting coordinates whose projected
// footprint may intersect the given sky rectangle, radians.  raMin >
// raMax means the interval crosses the 0/2pi seam.  Declination bounds
// are clamped to [-pi/2, +pi/2].
//
// The footprint test is conservative: each tile is covered by the
// spherical cap around its center through its corners, and the filter
// rejects only when the cap provably clears the rectangle.  A tile
// that truly intersects is therefore never rejected, which keeps the
// filter safe for subtree-pruning walks.
func BBoxFilter(raMin, raMax, decMin, decMax float64) pyramid.Filter {
	// A span of 2pi or more covers every right ascension; normalizing
	// the endpoints would collapse it to a zero-width interval.
	fullRA := raMax-raMin >= 2*math.Pi
	raMin = normalizeRA(raMin)
	raMax = normalizeRA(raMax)
	decMin = math.Max(decMin, -math.Pi/2)
	decMax = math.Min(decMax, math.Pi/2)

	return func(c pyramid.Coord) bool {
		if decMin > decMax {
			return false
		}
		if c.Depth == 0 {
			return true
		}
		t := TileAt(c)
		center := t.Center()
		radius := 0.0
		for _, corner := range [4]Vec{t.UL, t.UR, t.LR, t.LL} {
			if a := arc(center, corner); a > radius {
				radius = a
			}
		}
		ra0, dec0 := center.Sky()

		var ddec float64
		switch {
		case dec0 > decMax:
			ddec = dec0 - decMax
		case dec0 < decMin:
			ddec = decMin - dec0
		}

		var dra float64
		if !fullRA {
			dra = raDistance(ra0, raMin, raMax)
			// Shrink the RA separation by the widest parallel it could
			// be measured along, so the bound never exceeds the true
			// arc.
			maxAbsDec := math.Max(math.Abs(dec0), math.Max(math.Abs(decMin), math.Abs(decMax)))
			dra *= math.Cos(maxAbsDec)
		}

		return math.Max(ddec, dra) <= radius
	}
}

// raDistance returns the circular distance from ra to the interval
// [raMin, raMax], zero if inside.  raMin > raMax wraps through zero.
func raDistance(ra, raMin, raMax float64) float64 {
	inside := ra >= raMin && ra <= raMax
	if raMin > raMax {
		inside = ra >= raMin || ra <= raMax
	}
	if inside {
		return 0
	}
	d1 := math.Abs(ra - raMin)
	d1 = math.Min(d1, 2*math.Pi-d1)
	d2 := math.Abs(ra - raMax)
	d2 = math.Min(d2, 2*math.Pi-d2)
	return math.Min(d1, d2)
}
