/*
Package toast implements the TOAST projection: the mapping between sky
coordinates and positions on the power-of-two tile grid.

The sphere is laid onto the unit square octahedrally.  The north pole
sits at the center of the depth-0 square and the south pole at its four
corners, with the equator running along the inscribed diamond: (ra=0,
dec=0) is the midpoint of the right edge, ra=pi/2 the top, ra=pi the
left, and ra=3pi/2 the bottom.  Depth 1 therefore consists of four
lunes, each spanning 90 degrees of right ascension from pole to pole.
Finer depths come from recursive subdivision of tile corners by
great-circle midpoints, so tile edges are geodesics and the subdivision
is exact at every depth.

All functions here are pure: no shared mutable state, safe to call from
any number of goroutines.
*/
package toast

import (
	"errors"
	"fmt"
	"math"

	"github.com/starfield-io/skytile"
	"github.com/starfield-io/skytile/pyramid"
)

// ErrDomain flags sky coordinates outside the projection's domain:
// non-finite values, or declination beyond +-pi/2.  Out-of-range
// declination is rejected, never clamped.
var ErrDomain = errors.New("sky coordinate outside projection domain")

// pixelLevels is the number of quad subdivisions from a tile to its
// pixel grid: 2^pixelLevels == skytile.TileSize.
const pixelLevels = 8

// Tile binds a coordinate to its spherical geometry: the four corner
// unit vectors in grid order and the orientation of the diagonal that
// splits the tile into two triangles.  An increasing tile splits along
// lower-left to upper-right; its center is the midpoint of that
// diagonal.  The orientation is fixed per depth-1 lune and inherited by
// every descendant, keeping pole-to-pole diagonals (whose midpoint is
// undefined) out of the subdivision.
type Tile struct {
	Coord          pyramid.Coord
	UL, UR, LR, LL Vec
	Increasing     bool
}

// Center returns the tile's central point on the sphere.
func (t Tile) Center() Vec {
	if t.Increasing {
		return mid(t.LL, t.UR)
	}
	return mid(t.UL, t.LR)
}

var (
	southPole = Vec{0, 0, -1}
	northPole = Vec{0, 0, 1}
	eqRA0     = Vec{1, 0, 0}
	eqRA90    = Vec{0, 1, 0}
	eqRA180   = Vec{-1, 0, 0}
	eqRA270   = Vec{0, -1, 0}
)

// The depth-0 square is not a geometric tile: all four corners collapse
// onto the south pole.  Descents from it go through the fixed lune
// table below instead of midpoint subdivision.
var rootTile = Tile{Coord: pyramid.Root, UL: southPole, UR: southPole, LR: southPole, LL: southPole, Increasing: true}

// The four depth-1 lunes, indexed like pyramid child order: (0,0),
// (1,0), (0,1), (1,1).  Corner placement follows the square layout in
// the package comment; the split diagonal always joins the two equator
// corners, so x == y tiles are increasing.
var level1 = [4]Tile{
	{Coord: pyramid.Coord{Depth: 1, X: 0, Y: 0}, UL: southPole, UR: eqRA90, LR: northPole, LL: eqRA180, Increasing: true},
	{Coord: pyramid.Coord{Depth: 1, X: 1, Y: 0}, UL: eqRA90, UR: southPole, LR: eqRA0, LL: northPole, Increasing: false},
	{Coord: pyramid.Coord{Depth: 1, X: 0, Y: 1}, UL: eqRA180, UR: northPole, LR: eqRA270, LL: southPole, Increasing: false},
	{Coord: pyramid.Coord{Depth: 1, X: 1, Y: 1}, UL: northPole, UR: eqRA0, LR: southPole, LL: eqRA270, Increasing: true},
}

// childTiles subdivides a tile into its four children, indexed like
// pyramid child order: upper-left, upper-right, lower-left,
// lower-right.
func childTiles(t Tile) [4]Tile {
	if t.Coord.Depth == 0 {
		return level1
	}
	um := mid(t.UL, t.UR)
	lm := mid(t.LL, t.LR)
	le := mid(t.UL, t.LL)
	re := mid(t.UR, t.LR)
	cm := t.Center()
	c := t.Coord.Children()
	return [4]Tile{
		{Coord: c[0], UL: t.UL, UR: um, LR: cm, LL: le, Increasing: t.Increasing},
		{Coord: c[1], UL: um, UR: t.UR, LR: re, LL: cm, Increasing: t.Increasing},
		{Coord: c[2], UL: le, UR: cm, LR: lm, LL: t.LL, Increasing: t.Increasing},
		{Coord: c[3], UL: cm, UR: re, LR: t.LR, LL: lm, Increasing: t.Increasing},
	}
}

// TileAt returns the geometry for a coordinate by descending its bit
// path from the top of the pyramid.  The depth-0 coordinate returns the
// degenerate root square whose corners all sit on the south pole.
func TileAt(c pyramid.Coord) Tile {
	t := rootTile
	for level := c.Depth; level > 0; level-- {
		shift := level - 1
		qx := (c.X >> shift) & 1
		qy := (c.Y >> shift) & 1
		t = childTiles(t)[2*qy+qx]
	}
	return t
}

// GridToSky returns the sky position of the center of pixel
// (floor(px), floor(py)) within the given tile.  It descends the
// tile's bit path and then eight further subdivisions to the pixel
// quad, returning the quad's central point, so composing with
// SkyToGrid recovers the same pixel.
func GridToSky(c pyramid.Coord, px, py float64) (ra, dec float64, err error) {
	if !c.Valid() {
		return 0, 0, fmt.Errorf("invalid tile coordinate %s", c)
	}
	if !(px >= 0 && px < skytile.TileSize) || !(py >= 0 && py < skytile.TileSize) {
		return 0, 0, fmt.Errorf("pixel offset (%g, %g) outside %d x %d tile", px, py, skytile.TileSize, skytile.TileSize)
	}
	t := TileAt(c)
	ix := uint32(px)
	iy := uint32(py)
	for shift := pixelLevels - 1; shift >= 0; shift-- {
		qx := (ix >> shift) & 1
		qy := (iy >> shift) & 1
		t = childTiles(t)[2*qy+qx]
	}
	ra, dec = t.Center().Sky()
	return ra, dec, nil
}

// tileContains tests spherical point-in-quad membership using the two
// triangles on either side of the tile's split diagonal.  Boundary
// points may satisfy more than one tile; descents take the first match.
func tileContains(t Tile, v Vec) bool {
	if t.Increasing {
		return inTriangle(t.LL, t.UR, t.UL, v) || inTriangle(t.LL, t.LR, t.UR, v)
	}
	return inTriangle(t.UL, t.LR, t.LL, v) || inTriangle(t.UL, t.UR, t.LR, v)
}

// inTriangle tests whether v lies within the spherical triangle (a, b,
// c) by requiring a consistent sign against all three edge planes.  The
// tolerance admits points on edges and vertices.  Sign tests against
// great circles cannot tell a triangle from its antipodal shadow when v
// sits on extended edge circles, so v must also share the triangle's
// hemisphere.
func inTriangle(a, b, c, v Vec) bool {
	const eps = 1e-12
	if (a[0]+b[0]+c[0])*v[0]+(a[1]+b[1]+c[1])*v[1]+(a[2]+b[2]+c[2])*v[2] <= 0 {
		return false
	}
	d1 := a.cross(b).dot(v)
	d2 := b.cross(c).dot(v)
	d3 := c.cross(a).dot(v)
	if d1 >= -eps && d2 >= -eps && d3 >= -eps {
		return true
	}
	return d1 <= eps && d2 <= eps && d3 <= eps
}

// SkyToGrid locates the tile and pixel covering a sky position at the
// given depth.  It returns the center offset of the covering pixel, so
// the result composed with GridToSky is stable.  Non-finite input or
// declination outside [-pi/2, +pi/2] fails with ErrDomain; right
// ascension is accepted at any finite value and normalized modulo 2pi.
func SkyToGrid(ra, dec float64, depth uint8) (c pyramid.Coord, px, py float64, err error) {
	if depth > pyramid.MaxDepth {
		return c, 0, 0, fmt.Errorf("depth %d exceeds maximum %d", depth, pyramid.MaxDepth)
	}
	if math.IsNaN(ra) || math.IsInf(ra, 0) || math.IsNaN(dec) {
		return c, 0, 0, fmt.Errorf("ra %g, dec %g: %w", ra, dec, ErrDomain)
	}
	if dec < -math.Pi/2 || dec > math.Pi/2 {
		return c, 0, 0, fmt.Errorf("dec %g beyond +-pi/2: %w", dec, ErrDomain)
	}
	v := SkyToVec(normalizeRA(ra), dec)

	t := rootTile
	var ix, iy uint64
	levels := int(depth) + pixelLevels
	for level := 0; level < levels; level++ {
		kids := childTiles(t)
		q := -1
		for i := range kids {
			if tileContains(kids[i], v) {
				q = i
				break
			}
		}
		if q < 0 {
			// Numerical crack between children: fall back to the
			// nearest child center so every point on the sphere
			// descends somewhere.
			best := math.Inf(-1)
			for i := range kids {
				if d := kids[i].Center().dot(v); d > best {
					best = d
					q = i
				}
			}
		}
		ix = ix<<1 | uint64(q&1)
		iy = iy<<1 | uint64(q>>1)
		t = kids[q]
	}
	c = pyramid.Coord{Depth: depth, X: uint32(ix >> pixelLevels), Y: uint32(iy >> pixelLevels)}
	px = float64(ix&(1<<pixelLevels-1)) + 0.5
	py = float64(iy&(1<<pixelLevels-1)) + 0.5
	return c, px, py, nil
}

// fillCenters recursively subdivides t down to single pixels, writing
// each pixel-center sky position into the row-major output arrays at
// patch origin (x0, y0).
func fillCenters(t Tile, level, x0, y0 int, ra, dec []float64) {
	if level == 0 {
		r, d := t.Center().Sky()
		idx := y0*skytile.TileSize + x0
		ra[idx] = r
		dec[idx] = d
		return
	}
	half := 1 << (level - 1)
	kids := childTiles(t)
	fillCenters(kids[0], level-1, x0, y0, ra, dec)
	fillCenters(kids[1], level-1, x0+half, y0, ra, dec)
	fillCenters(kids[2], level-1, x0, y0+half, ra, dec)
	fillCenters(kids[3], level-1, x0+half, y0+half, ra, dec)
}

// TilePixelCenters returns the sky positions of all TileSize x TileSize
// pixel centers of a tile, row-major.  These are the input arrays for
// a sampler filling the tile.
func TilePixelCenters(t Tile) (ra, dec []float64) {
	n := skytile.TileSize * skytile.TileSize
	ra = make([]float64, n)
	dec = make([]float64, n)
	fillCenters(t, pixelLevels, 0, 0, ra, dec)
	return ra, dec
}

// PixelCenters is TilePixelCenters for a bare coordinate.  It works at
// every depth including 0, where the pixel grid spans all four lunes.
func PixelCenters(c pyramid.Coord) (ra, dec []float64, err error) {
	if !c.Valid() {
		return nil, nil, fmt.Errorf("invalid tile coordinate %s", c)
	}
	ra, dec = TilePixelCenters(TileAt(c))
	return ra, dec, nil
}

// GenerateTiles walks the pyramid's live coordinates bound to their
// projection geometry, in the pyramid's postorder (children before
// parents).  With bottomOnly set, only tiles at the maximum depth are
// yielded, which is the sampling phase's input.  The depth-0
// coordinate is never yielded since the root square has no proper
// spherical geometry; callers assembling a depth-0 image should sample
// it via PixelCenters.
func GenerateTiles(p pyramid.Pyramid, bottomOnly bool, fn func(Tile) error) error {
	f := p.Filter()
	live := func(c pyramid.Coord) bool {
		return f == nil || f(c)
	}
	if !live(p.Root()) {
		return nil
	}
	var walk func(t Tile) error
	walk = func(t Tile) error {
		if t.Coord.Depth < p.MaxDepth() {
			for _, child := range childTiles(t) {
				if !live(child.Coord) {
					continue
				}
				if err := walk(child); err != nil {
					return err
				}
			}
		}
		if t.Coord.Depth == 0 {
			return nil
		}
		if bottomOnly && t.Coord.Depth != p.MaxDepth() {
			return nil
		}
		return fn(t)
	}
	return walk(TileAt(p.Root()))
}

// PixelScale returns the approximate mean angular size of one pixel at
// the given depth, in radians: the sphere's 4pi steradians spread over
// the (2^depth * TileSize)^2 pixel grid.  Useful for choosing a build
// depth to match a source image's resolution.
func PixelScale(depth uint8) float64 {
	grid := float64(uint64(1)<<depth) * skytile.TileSize
	return math.Sqrt(4*math.Pi) / grid
}
