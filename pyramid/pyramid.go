package pyramid

import (
	"fmt"
)

// Pyramid describes a quadtree of tiles rooted at some coordinate and
// extending down to a maximum depth, optionally restricted by a filter.
// The zero-filter pyramid rooted at depth 0 covers the full sky grid.
type Pyramid struct {
	maxDepth uint8
	root     Coord
	filter   Filter
}

// New returns the full pyramid over depths 0 through maxDepth.
func New(maxDepth uint8) (Pyramid, error) {
	return NewFiltered(maxDepth, nil)
}

// NewFiltered returns the full pyramid restricted to coordinates the
// filter accepts.  Filters must be spatially contiguous (see Filter):
// walks prune an entire subtree when its root is rejected.
func NewFiltered(maxDepth uint8, f Filter) (Pyramid, error) {
	if maxDepth > MaxDepth {
		return Pyramid{}, fmt.Errorf("pyramid depth %d exceeds maximum %d", maxDepth, MaxDepth)
	}
	return Pyramid{maxDepth: maxDepth, root: Root, filter: f}, nil
}

// Subpyramid restricts p to the subtree under root, keeping p's depth
// and filter.  Walks over the result cover root's descendants, and at
// depths above root only the single chain of its ancestors.
func (p Pyramid) Subpyramid(root Coord) (Pyramid, error) {
	if !root.Valid() {
		return Pyramid{}, fmt.Errorf("invalid subpyramid root %s", root)
	}
	if root.Depth > p.maxDepth {
		return Pyramid{}, fmt.Errorf("subpyramid root %s deeper than pyramid depth %d", root, p.maxDepth)
	}
	if !p.root.Covers(root) {
		return Pyramid{}, fmt.Errorf("subpyramid root %s outside pyramid rooted at %s", root, p.root)
	}
	p.root = root
	return p, nil
}

// MaxDepth returns the deepest level walks will reach.
func (p Pyramid) MaxDepth() uint8 { return p.maxDepth }

// Root returns the coordinate the pyramid hangs from.
func (p Pyramid) Root() Coord { return p.root }

// Filter returns the restriction applied to walks, nil if none.
func (p Pyramid) Filter() Filter { return p.filter }

func (p Pyramid) live(c Coord) bool {
	return p.filter == nil || p.filter(c)
}

// Walk visits every live coordinate from the root down to the maximum
// depth in postorder: each subtree is exhausted before the next sibling
// starts, all four children precede their parent, and the root comes
// last.  Pyramid construction leans on this order, since a parent can
// be assembled the moment the walk reaches it.  Returning an error from
// fn aborts the walk and returns that error.
func (p Pyramid) Walk(fn func(Coord) error) error {
	if !p.live(p.root) {
		return nil
	}
	return p.walkSubtree(p.root, fn)
}

func (p Pyramid) walkSubtree(c Coord, fn func(Coord) error) error {
	if c.Depth < p.maxDepth {
		for _, child := range c.Children() {
			if !p.live(child) {
				continue
			}
			if err := p.walkSubtree(child, fn); err != nil {
				return err
			}
		}
	}
	return fn(c)
}

// WalkDepth visits the live coordinates of a single depth in z-order.
// For depths above the root only the root's ancestor at that depth is
// considered, so subpyramid merges can continue past their root toward
// depth 0.
func (p Pyramid) WalkDepth(depth uint8, fn func(Coord) error) error {
	if depth > p.maxDepth {
		return fmt.Errorf("depth %d exceeds pyramid depth %d", depth, p.maxDepth)
	}
	if depth < p.root.Depth {
		a, _ := p.root.AncestorAt(depth)
		if !p.live(a) {
			return nil
		}
		return fn(a)
	}
	if !p.live(p.root) {
		return nil
	}
	return p.walkLevel(p.root, depth, fn)
}

func (p Pyramid) walkLevel(c Coord, depth uint8, fn func(Coord) error) error {
	if c.Depth == depth {
		return fn(c)
	}
	for _, child := range c.Children() {
		if !p.live(child) {
			continue
		}
		if err := p.walkLevel(child, depth, fn); err != nil {
			return err
		}
	}
	return nil
}

// CountLiveTiles returns the number of coordinates Walk would visit.
// Unfiltered pyramids use the closed form; filtered ones are counted by
// walking, which costs time proportional to the live set.
func (p Pyramid) CountLiveTiles() uint64 {
	if p.filter == nil {
		return NumTiles(p.maxDepth - p.root.Depth)
	}
	var n uint64
	p.Walk(func(Coord) error {
		n++
		return nil
	})
	return n
}

// CountTilesAtDepth returns the number of coordinates WalkDepth(depth)
// would visit.
func (p Pyramid) CountTilesAtDepth(depth uint8) uint64 {
	if depth > p.maxDepth {
		return 0
	}
	if p.filter == nil {
		if depth <= p.root.Depth {
			return 1
		}
		return uint64(1) << (2 * uint(depth-p.root.Depth))
	}
	var n uint64
	p.WalkDepth(depth, func(Coord) error {
		n++
		return nil
	})
	return n
}

// CountOperations predicts the amount of work a build over p performs:
// one sampling operation per tile at the maximum depth, plus, unless
// baseOnly is set, one downsampling operation per tile at each depth
// from maxDepth-1 up to topLayer.  The count matches what a build
// reports, letting progress be sized before any tile exists.
func (p Pyramid) CountOperations(baseOnly bool, topLayer uint8) (uint64, error) {
	if topLayer > p.maxDepth {
		return 0, fmt.Errorf("top layer %d exceeds pyramid depth %d", topLayer, p.maxDepth)
	}
	total := p.CountTilesAtDepth(p.maxDepth)
	if baseOnly {
		return total, nil
	}
	for d := p.maxDepth; d > topLayer; d-- {
		total += p.CountTilesAtDepth(d - 1)
	}
	return total, nil
}

// NumTiles returns the total tile count of a full pyramid of the given
// depth: (4^(depth+1) - 1) / 3.
func NumTiles(depth uint8) uint64 {
	return ((uint64(1) << (2 * (uint(depth) + 1))) - 1) / 3
}
