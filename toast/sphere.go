package toast

import (
	"math"
)

// Vec is a position on the unit sphere as a 3-vector (x, y, z).
type Vec [3]float64

// SkyToVec converts equatorial sky coordinates in radians to a unit
// vector.  ra is measured eastward from the x axis, dec from the
// equatorial plane toward +z.
func SkyToVec(ra, dec float64) Vec {
	cd := math.Cos(dec)
	return Vec{cd * math.Cos(ra), cd * math.Sin(ra), math.Sin(dec)}
}

// Sky converts a unit vector back to (ra, dec) in radians, ra in
// [0, 2pi).  The poles return ra = 0.
func (v Vec) Sky() (ra, dec float64) {
	ra = math.Atan2(v[1], v[0])
	if ra < 0 {
		ra += 2 * math.Pi
	}
	dec = math.Atan2(v[2], math.Hypot(v[0], v[1]))
	return
}

func (v Vec) dot(o Vec) float64 {
	return v[0]*o[0] + v[1]*o[1] + v[2]*o[2]
}

func (v Vec) cross(o Vec) Vec {
	return Vec{
		v[1]*o[2] - v[2]*o[1],
		v[2]*o[0] - v[0]*o[2],
		v[0]*o[1] - v[1]*o[0],
	}
}

func (v Vec) length() float64 {
	return math.Sqrt(v.dot(v))
}

func (v Vec) unit() Vec {
	l := v.length()
	return Vec{v[0] / l, v[1] / l, v[2] / l}
}

// mid returns the great-circle midpoint of the shorter arc between two
// unit vectors.  Antipodal inputs are undefined; the subdivision scheme
// never produces them.
func mid(a, b Vec) Vec {
	return Vec{a[0] + b[0], a[1] + b[1], a[2] + b[2]}.unit()
}

// arc returns the angle between two unit vectors in radians.
func arc(a, b Vec) float64 {
	return math.Atan2(a.cross(b).length(), a.dot(b))
}

// normalizeRA maps any finite right ascension into [0, 2pi).
func normalizeRA(ra float64) float64 {
	ra = math.Mod(ra, 2*math.Pi)
	if ra < 0 {
		ra += 2 * math.Pi
	}
	return ra
}
