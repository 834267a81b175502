package pyramid

// Filter restricts a pyramid to a subset of coordinates.  Filters must
// be spatially contiguous: if a coordinate is rejected, every strict
// descendant must be rejected too.  Walks rely on this to prune whole
// subtrees at the rejected node.
type Filter func(Coord) bool

// And composes filters by conjunction.  A nil element is treated as
// accept-all.
func And(filters ...Filter) Filter {
	return func(c Coord) bool {
		for _, f := range filters {
			if f != nil && !f(c) {
				return false
			}
		}
		return true
	}
}

// AncestorFilter accepts the subtree under root plus the chain of
// root's own ancestors.  The chain keeps walks from depth 0 able to
// descend to the subtree, and those are exactly the tiles a build
// restricted to root materializes above it.
func AncestorFilter(root Coord) Filter {
	return func(c Coord) bool {
		if c.Depth <= root.Depth {
			a, _ := root.AncestorAt(c.Depth)
			return a == c
		}
		return root.Covers(c)
	}
}
