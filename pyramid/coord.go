package pyramid

import (
	"fmt"
	"strconv"
	"strings"
)

// MaxDepth is the deepest level a pyramid may address.  The cap keeps
// tile counts within uint64 range: NumTiles(30) = (4^31 - 1) / 3.
const MaxDepth = 30

// Coord identifies a single tile by depth and grid position.  At depth d
// the grid is 2^d x 2^d, so X and Y must be < 1<<d.
type Coord struct {
	Depth uint8
	X     uint32
	Y     uint32
}

// Root is the sole coordinate at depth 0.
var Root = Coord{}

func (c Coord) String() string {
	return fmt.Sprintf("%d/%d/%d", c.Depth, c.X, c.Y)
}

// Valid returns true if the position fits the grid at this depth.
func (c Coord) Valid() bool {
	if c.Depth > MaxDepth {
		return false
	}
	n := uint32(1) << c.Depth
	return c.X < n && c.Y < n
}

// ParseCoord reads a coordinate in "depth/x/y" form.  Comma separators
// are accepted as well since query strings tend to use them.
func ParseCoord(s string) (Coord, error) {
	sep := "/"
	if !strings.Contains(s, "/") {
		sep = ","
	}
	parts := strings.Split(s, sep)
	if len(parts) != 3 {
		return Coord{}, fmt.Errorf("tile coordinate %q must have 3 fields, not %d", s, len(parts))
	}
	depth, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 8)
	if err != nil {
		return Coord{}, fmt.Errorf("bad depth in tile coordinate %q: %v", s, err)
	}
	x, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 32)
	if err != nil {
		return Coord{}, fmt.Errorf("bad x in tile coordinate %q: %v", s, err)
	}
	y, err := strconv.ParseUint(strings.TrimSpace(parts[2]), 10, 32)
	if err != nil {
		return Coord{}, fmt.Errorf("bad y in tile coordinate %q: %v", s, err)
	}
	c := Coord{Depth: uint8(depth), X: uint32(x), Y: uint32(y)}
	if !c.Valid() {
		return Coord{}, fmt.Errorf("tile coordinate %q outside the %d x %d grid at depth %d", s, uint32(1)<<c.Depth, uint32(1)<<c.Depth, c.Depth)
	}
	return c, nil
}

// Parent returns the enclosing tile one level up.  The second return is
// false at depth 0, which has no parent.
func (c Coord) Parent() (Coord, bool) {
	if c.Depth == 0 {
		return Coord{}, false
	}
	return Coord{Depth: c.Depth - 1, X: c.X / 2, Y: c.Y / 2}, true
}

// Children returns the four tiles one level down in row-major order:
// upper-left, upper-right, lower-left, lower-right.
func (c Coord) Children() [4]Coord {
	d := c.Depth + 1
	x, y := c.X*2, c.Y*2
	return [4]Coord{
		{d, x, y},
		{d, x + 1, y},
		{d, x, y + 1},
		{d, x + 1, y + 1},
	}
}

// Quadrant gives the tile's position within its parent: (0|1, 0|1).
func (c Coord) Quadrant() (qx, qy uint32) {
	return c.X & 1, c.Y & 1
}

// AncestorAt returns the ancestor of c at the given shallower depth.
// The second return is false if depth exceeds c.Depth.
func (c Coord) AncestorAt(depth uint8) (Coord, bool) {
	if depth > c.Depth {
		return Coord{}, false
	}
	shift := c.Depth - depth
	return Coord{Depth: depth, X: c.X >> shift, Y: c.Y >> shift}, true
}

// Covers returns true if d lies within the subtree rooted at c,
// including c itself.
func (c Coord) Covers(d Coord) bool {
	a, ok := d.AncestorAt(c.Depth)
	return ok && a == c
}
