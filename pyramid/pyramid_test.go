package pyramid

import (
	"testing"
)

func TestCoordParse(t *testing.T) {
	for _, s := range []string{"0/0/0", "3/7/2", "2,3,1", "30/1073741823/0"} {
		c, err := ParseCoord(s)
		if err != nil {
			t.Fatalf("unable to parse %q: %v\n", s, err)
		}
		round, err := ParseCoord(c.String())
		if err != nil {
			t.Fatalf("unable to reparse %q: %v\n", c.String(), err)
		}
		if round != c {
			t.Errorf("coordinate %q reparsed to %s\n", s, round)
		}
	}
	for _, s := range []string{"", "1/2", "1/2/3/4", "a/0/0", "2/4/0", "2/0/4", "31/0/0", "-1/0/0"} {
		if _, err := ParseCoord(s); err == nil {
			t.Errorf("expected error parsing %q, got none\n", s)
		}
	}
}

func TestCoordRelations(t *testing.T) {
	c := Coord{Depth: 3, X: 5, Y: 2}
	parent, ok := c.Parent()
	if !ok || parent != (Coord{Depth: 2, X: 2, Y: 1}) {
		t.Errorf("bad parent of %s: %s, %t\n", c, parent, ok)
	}
	if _, ok := Root.Parent(); ok {
		t.Errorf("root should have no parent\n")
	}
	children := parent.Children()
	want := [4]Coord{{3, 4, 2}, {3, 5, 2}, {3, 4, 3}, {3, 5, 3}}
	if children != want {
		t.Errorf("bad children of %s: %v\n", parent, children)
	}
	for _, child := range children {
		back, ok := child.Parent()
		if !ok || back != parent {
			t.Errorf("child %s does not map back to %s\n", child, parent)
		}
		if !parent.Covers(child) {
			t.Errorf("%s should cover %s\n", parent, child)
		}
	}
	qx, qy := c.Quadrant()
	if qx != 1 || qy != 0 {
		t.Errorf("bad quadrant for %s: %d, %d\n", c, qx, qy)
	}
	a, ok := c.AncestorAt(1)
	if !ok || a != (Coord{Depth: 1, X: 1, Y: 0}) {
		t.Errorf("bad ancestor of %s at depth 1: %s\n", c, a)
	}
	if _, ok := c.AncestorAt(4); ok {
		t.Errorf("ancestor lookup deeper than coordinate should fail\n")
	}
	if c.Covers(parent) {
		t.Errorf("%s should not cover its parent\n", c)
	}
}

func TestNumTiles(t *testing.T) {
	want := []uint64{1, 5, 21, 85, 341}
	for depth, n := range want {
		if got := NumTiles(uint8(depth)); got != n {
			t.Errorf("NumTiles(%d) = %d, want %d\n", depth, got, n)
		}
	}
}

func TestWalkOrder(t *testing.T) {
	p, err := New(2)
	if err != nil {
		t.Fatalf("couldn't create pyramid: %v\n", err)
	}
	var visited []Coord
	if err := p.Walk(func(c Coord) error {
		visited = append(visited, c)
		return nil
	}); err != nil {
		t.Fatalf("walk failed: %v\n", err)
	}
	if uint64(len(visited)) != NumTiles(2) {
		t.Fatalf("walk visited %d tiles, want %d\n", len(visited), NumTiles(2))
	}

	// The first subtree should be exhausted leaves-first.
	head := []Coord{{2, 0, 0}, {2, 1, 0}, {2, 0, 1}, {2, 1, 1}, {1, 0, 0}}
	for i, want := range head {
		if visited[i] != want {
			t.Errorf("walk position %d = %s, want %s\n", i, visited[i], want)
		}
	}
	if visited[len(visited)-1] != Root {
		t.Errorf("walk should end at the root, got %s\n", visited[len(visited)-1])
	}

	// Every parent must come after all of its children.
	order := make(map[Coord]int, len(visited))
	for i, c := range visited {
		if _, dup := order[c]; dup {
			t.Errorf("walk visited %s twice\n", c)
		}
		order[c] = i
	}
	for _, c := range visited {
		if c.Depth == p.MaxDepth() {
			continue
		}
		for _, child := range c.Children() {
			ci, ok := order[child]
			if !ok {
				t.Errorf("walk never visited %s, child of %s\n", child, c)
				continue
			}
			if ci > order[c] {
				t.Errorf("child %s visited after parent %s\n", child, c)
			}
		}
	}
}

func TestWalkDepth(t *testing.T) {
	p, err := New(3)
	if err != nil {
		t.Fatalf("couldn't create pyramid: %v\n", err)
	}
	for depth := uint8(0); depth <= 3; depth++ {
		var n uint64
		if err := p.WalkDepth(depth, func(c Coord) error {
			if c.Depth != depth {
				t.Errorf("WalkDepth(%d) yielded %s\n", depth, c)
			}
			n++
			return nil
		}); err != nil {
			t.Fatalf("WalkDepth(%d) failed: %v\n", depth, err)
		}
		if want := p.CountTilesAtDepth(depth); n != want {
			t.Errorf("WalkDepth(%d) visited %d tiles, want %d\n", depth, n, want)
		}
		if want := uint64(1) << (2 * uint(depth)); n != want {
			t.Errorf("depth %d has %d tiles, want %d\n", depth, n, want)
		}
	}
	if err := p.WalkDepth(4, func(Coord) error { return nil }); err == nil {
		t.Errorf("expected error walking beyond the pyramid depth\n")
	}
}

func TestCountOperations(t *testing.T) {
	p, err := New(2)
	if err != nil {
		t.Fatalf("couldn't create pyramid: %v\n", err)
	}
	if n := p.CountLiveTiles(); n != 21 {
		t.Errorf("depth-2 pyramid has %d live tiles, want 21\n", n)
	}
	ops, err := p.CountOperations(false, 0)
	if err != nil {
		t.Fatalf("CountOperations failed: %v\n", err)
	}
	if ops != 21 {
		t.Errorf("full build of depth-2 pyramid = %d operations, want 21\n", ops)
	}
	ops, err = p.CountOperations(true, 0)
	if err != nil {
		t.Fatalf("CountOperations failed: %v\n", err)
	}
	if ops != 16 {
		t.Errorf("base-only build of depth-2 pyramid = %d operations, want 16\n", ops)
	}
	ops, err = p.CountOperations(false, 1)
	if err != nil {
		t.Fatalf("CountOperations failed: %v\n", err)
	}
	if ops != 20 {
		t.Errorf("build stopping at depth 1 = %d operations, want 20\n", ops)
	}
	if _, err := p.CountOperations(false, 3); err == nil {
		t.Errorf("expected error for top layer below pyramid depth\n")
	}
}

func TestDepthZero(t *testing.T) {
	p, err := New(0)
	if err != nil {
		t.Fatalf("couldn't create pyramid: %v\n", err)
	}
	var visited []Coord
	p.Walk(func(c Coord) error {
		visited = append(visited, c)
		return nil
	})
	if len(visited) != 1 || visited[0] != Root {
		t.Errorf("depth-0 walk = %v, want just the root\n", visited)
	}
	ops, err := p.CountOperations(false, 0)
	if err != nil {
		t.Fatalf("CountOperations failed: %v\n", err)
	}
	if ops != 1 {
		t.Errorf("depth-0 build = %d operations, want 1 sample and no merges\n", ops)
	}
}

func TestSubpyramid(t *testing.T) {
	p, err := New(3)
	if err != nil {
		t.Fatalf("couldn't create pyramid: %v\n", err)
	}
	sub, err := p.Subpyramid(Coord{Depth: 1, X: 1, Y: 0})
	if err != nil {
		t.Fatalf("couldn't create subpyramid: %v\n", err)
	}
	if n := sub.CountLiveTiles(); n != 21 {
		t.Errorf("depth 1..3 subtree has %d live tiles, want 21\n", n)
	}
	var last Coord
	sub.Walk(func(c Coord) error {
		if !sub.Root().Covers(c) {
			t.Errorf("subpyramid walk escaped to %s\n", c)
		}
		last = c
		return nil
	})
	if last != sub.Root() {
		t.Errorf("subpyramid walk should end at its root, got %s\n", last)
	}

	// Above the subpyramid root, only the ancestor chain remains.
	var above []Coord
	sub.WalkDepth(0, func(c Coord) error {
		above = append(above, c)
		return nil
	})
	if len(above) != 1 || above[0] != Root {
		t.Errorf("WalkDepth(0) over subpyramid = %v, want just the root\n", above)
	}

	if _, err := p.Subpyramid(Coord{Depth: 4, X: 0, Y: 0}); err == nil {
		t.Errorf("expected error for subpyramid root below pyramid depth\n")
	}
	if _, err := p.Subpyramid(Coord{Depth: 2, X: 9, Y: 0}); err == nil {
		t.Errorf("expected error for invalid subpyramid root\n")
	}
}

func TestAncestorFilter(t *testing.T) {
	target := Coord{Depth: 1, X: 1, Y: 0}
	p, err := NewFiltered(3, AncestorFilter(target))
	if err != nil {
		t.Fatalf("couldn't create pyramid: %v\n", err)
	}

	// 4^(3-1) descendants survive at the finest depth.
	if n := p.CountTilesAtDepth(3); n != 16 {
		t.Errorf("ancestor filter left %d tiles at depth 3, want 16\n", n)
	}

	// Descendants at every depth plus the ancestor chain above target.
	if n := p.CountLiveTiles(); n != 16+4+1+1 {
		t.Errorf("ancestor filter left %d live tiles, want 22\n", n)
	}
	p.Walk(func(c Coord) error {
		if c.Depth > target.Depth && !target.Covers(c) {
			t.Errorf("filtered walk escaped to %s\n", c)
		}
		return nil
	})
}

func TestFilteredRootRejected(t *testing.T) {
	reject := func(Coord) bool { return false }
	p, err := NewFiltered(2, reject)
	if err != nil {
		t.Fatalf("couldn't create pyramid: %v\n", err)
	}
	if n := p.CountLiveTiles(); n != 0 {
		t.Errorf("all-rejecting filter left %d live tiles\n", n)
	}
	called := false
	p.Walk(func(Coord) error {
		called = true
		return nil
	})
	if called {
		t.Errorf("walk over an all-rejecting filter should visit nothing\n")
	}
}

func TestAndFilter(t *testing.T) {
	inTarget := AncestorFilter(Coord{Depth: 1, X: 0, Y: 0})
	f := And(inTarget, nil)
	if !f(Root) {
		t.Errorf("conjunction with nil should keep accepted coordinates\n")
	}
	if f(Coord{Depth: 1, X: 1, Y: 1}) {
		t.Errorf("conjunction should reject what a member rejects\n")
	}
}
