package toast

import (
	"errors"
	"math"
	"testing"

	"github.com/starfield-io/skytile/pyramid"
)

func TestLevel1Layout(t *testing.T) {
	// Each lune spans 90 degrees of RA pole to pole.
	quads := []struct {
		ra   float64
		x, y uint32
	}{
		{0.1, 1, 0},
		{math.Pi/2 + 0.1, 0, 0},
		{math.Pi + 0.1, 0, 1},
		{3*math.Pi/2 + 0.1, 1, 1},
	}
	for _, q := range quads {
		c, _, _, err := SkyToGrid(q.ra, 0, 1)
		if err != nil {
			t.Fatalf("SkyToGrid(%g, 0, 1) failed: %v\n", q.ra, err)
		}
		if c.X != q.x || c.Y != q.y {
			t.Errorf("ra %g landed on tile %s, want 1/%d/%d\n", q.ra, c, q.x, q.y)
		}
	}

	// Lune centers sit on the equator at odd multiples of pi/4, and
	// the split diagonal makes x == y lunes increasing.
	centers := map[pyramid.Coord]float64{
		{Depth: 1, X: 1, Y: 0}: math.Pi / 4,
		{Depth: 1, X: 0, Y: 0}: 3 * math.Pi / 4,
		{Depth: 1, X: 0, Y: 1}: 5 * math.Pi / 4,
		{Depth: 1, X: 1, Y: 1}: 7 * math.Pi / 4,
	}
	for c, wantRA := range centers {
		tile := TileAt(c)
		if tile.Increasing != (c.X == c.Y) {
			t.Errorf("tile %s increasing = %t\n", c, tile.Increasing)
		}
		ra, dec := tile.Center().Sky()
		if math.Abs(ra-wantRA) > 1e-12 || math.Abs(dec) > 1e-12 {
			t.Errorf("tile %s center at (%g, %g), want (%g, 0)\n", c, ra, dec, wantRA)
		}
	}

	if gotLR := TileAt(pyramid.Coord{Depth: 1, X: 1, Y: 0}).LR; arc(gotLR, eqRA0) > 1e-12 {
		t.Errorf("tile 1/1/0 lower-right corner should be (ra=0, dec=0), got %v\n", gotLR)
	}
}

func TestRoundTrip(t *testing.T) {
	pixels := [][2]float64{{0, 0}, {255, 255}, {0, 255}, {255, 0}, {128, 128}, {17, 200}}
	for depth := uint8(0); depth <= 5; depth++ {
		n := uint32(1) << depth
		tiles := []pyramid.Coord{
			{Depth: depth, X: 0, Y: 0},
			{Depth: depth, X: n - 1, Y: n - 1},
			{Depth: depth, X: n - 1, Y: 0},
			{Depth: depth, X: n / 2, Y: n / 3},
		}
		for _, c := range tiles {
			for _, p := range pixels {
				ra, dec, err := GridToSky(c, p[0], p[1])
				if err != nil {
					t.Fatalf("GridToSky(%s, %g, %g) failed: %v\n", c, p[0], p[1], err)
				}
				c2, px, py, err := SkyToGrid(ra, dec, depth)
				if err != nil {
					t.Fatalf("SkyToGrid(%g, %g, %d) failed: %v\n", ra, dec, depth, err)
				}
				if c2 != c {
					t.Errorf("pixel (%g, %g) of %s round-tripped to tile %s\n", p[0], p[1], c, c2)
					continue
				}
				if math.Abs(px-(p[0]+0.5)) >= 0.5 || math.Abs(py-(p[1]+0.5)) >= 0.5 {
					t.Errorf("pixel (%g, %g) of %s round-tripped to offset (%g, %g)\n", p[0], p[1], c, px, py)
				}
			}
		}
	}
}

func TestPolesFinite(t *testing.T) {
	// The north pole is the corner shared by all four lunes; the pixels
	// touching it must still have finite, near-polar centers.
	polar := map[pyramid.Coord][2]float64{
		{Depth: 1, X: 0, Y: 0}: {255, 255},
		{Depth: 1, X: 1, Y: 0}: {0, 255},
		{Depth: 1, X: 0, Y: 1}: {255, 0},
		{Depth: 1, X: 1, Y: 1}: {0, 0},
	}
	for c, p := range polar {
		ra, dec, err := GridToSky(c, p[0], p[1])
		if err != nil {
			t.Fatalf("GridToSky(%s, %g, %g) failed: %v\n", c, p[0], p[1], err)
		}
		if math.IsNaN(ra) || math.IsNaN(dec) {
			t.Fatalf("polar pixel of %s gave non-finite (%g, %g)\n", c, ra, dec)
		}
		if dec < math.Pi/2-0.02 {
			t.Errorf("polar pixel of %s has dec %g, expected within 0.02 of pi/2\n", c, dec)
		}
	}

	// Exact poles and the RA seam transform without error at any depth.
	for _, depth := range []uint8{0, 1, 4, 8} {
		for _, sky := range [][2]float64{{0, math.Pi / 2}, {0, -math.Pi / 2}, {0, 0}, {math.Pi, 0}, {2 * math.Pi, 0.3}} {
			c, _, _, err := SkyToGrid(sky[0], sky[1], depth)
			if err != nil {
				t.Fatalf("SkyToGrid(%g, %g, %d) failed: %v\n", sky[0], sky[1], depth, err)
			}
			if !c.Valid() {
				t.Errorf("SkyToGrid(%g, %g, %d) gave invalid coordinate %s\n", sky[0], sky[1], depth, c)
			}
		}
	}
}

func TestDomainErrors(t *testing.T) {
	bad := [][2]float64{
		{0, math.Pi/2 + 1e-6},
		{0, -math.Pi/2 - 1e-6},
		{0, math.NaN()},
		{math.NaN(), 0},
		{math.Inf(1), 0},
	}
	for _, sky := range bad {
		if _, _, _, err := SkyToGrid(sky[0], sky[1], 3); !errors.Is(err, ErrDomain) {
			t.Errorf("SkyToGrid(%g, %g) error = %v, want domain rejection\n", sky[0], sky[1], err)
		}
	}

	// Negative RA is normalized, not rejected.
	c1, px1, py1, err := SkyToGrid(-0.25, 0.5, 4)
	if err != nil {
		t.Fatalf("SkyToGrid(-0.25, 0.5, 4) failed: %v\n", err)
	}
	c2, px2, py2, err := SkyToGrid(2*math.Pi-0.25, 0.5, 4)
	if err != nil {
		t.Fatalf("SkyToGrid(2pi-0.25, 0.5, 4) failed: %v\n", err)
	}
	if c1 != c2 || px1 != px2 || py1 != py2 {
		t.Errorf("negative RA mapped to %s (%g, %g), wrapped RA to %s (%g, %g)\n", c1, px1, py1, c2, px2, py2)
	}

	if _, _, err := GridToSky(pyramid.Coord{Depth: 2, X: 9, Y: 0}, 0, 0); err == nil {
		t.Errorf("expected error for out-of-grid coordinate\n")
	}
	if _, _, err := GridToSky(pyramid.Root, 256, 0); err == nil {
		t.Errorf("expected error for out-of-tile pixel offset\n")
	}
}

func TestSphereCoverage(t *testing.T) {
	// Every direction must land on a valid tile, deterministically.
	for i := 0; i < 64; i++ {
		ra := 2 * math.Pi * float64(i) / 64
		for j := 0; j < 33; j++ {
			dec := -math.Pi/2 + math.Pi*float64(j)/32
			c, px, py, err := SkyToGrid(ra, dec, 3)
			if err != nil {
				t.Fatalf("SkyToGrid(%g, %g, 3) failed: %v\n", ra, dec, err)
			}
			if !c.Valid() {
				t.Fatalf("SkyToGrid(%g, %g, 3) gave invalid %s\n", ra, dec, c)
			}
			c2, px2, py2, err := SkyToGrid(ra, dec, 3)
			if err != nil || c2 != c || px2 != px || py2 != py {
				t.Fatalf("SkyToGrid(%g, %g, 3) is not deterministic\n", ra, dec)
			}
		}
	}
}

func TestPixelCentersMatchGridToSky(t *testing.T) {
	c := pyramid.Coord{Depth: 2, X: 1, Y: 3}
	ra, dec, err := PixelCenters(c)
	if err != nil {
		t.Fatalf("PixelCenters(%s) failed: %v\n", c, err)
	}
	if len(ra) != 256*256 || len(dec) != 256*256 {
		t.Fatalf("PixelCenters gave %d x %d samples\n", len(ra), len(dec))
	}
	for _, p := range [][2]int{{0, 0}, {255, 255}, {31, 200}, {128, 7}} {
		wantRA, wantDec, err := GridToSky(c, float64(p[0]), float64(p[1]))
		if err != nil {
			t.Fatalf("GridToSky failed: %v\n", err)
		}
		idx := p[1]*256 + p[0]
		if math.Abs(ra[idx]-wantRA) > 1e-12 || math.Abs(dec[idx]-wantDec) > 1e-12 {
			t.Errorf("pixel (%d, %d): PixelCenters (%g, %g) vs GridToSky (%g, %g)\n",
				p[0], p[1], ra[idx], dec[idx], wantRA, wantDec)
		}
	}

	// The depth-0 grid spans all four lunes and must still be finite.
	ra, dec, err = PixelCenters(pyramid.Root)
	if err != nil {
		t.Fatalf("PixelCenters(root) failed: %v\n", err)
	}
	for i := range ra {
		if math.IsNaN(ra[i]) || math.IsNaN(dec[i]) || dec[i] < -math.Pi/2 || dec[i] > math.Pi/2 {
			t.Fatalf("root pixel %d has bad center (%g, %g)\n", i, ra[i], dec[i])
		}
	}
}

func TestGenerateTiles(t *testing.T) {
	p, err := pyramid.New(2)
	if err != nil {
		t.Fatalf("couldn't create pyramid: %v\n", err)
	}

	var all []Tile
	if err := GenerateTiles(p, false, func(tile Tile) error {
		all = append(all, tile)
		return nil
	}); err != nil {
		t.Fatalf("GenerateTiles failed: %v\n", err)
	}
	if len(all) != 20 {
		t.Fatalf("full walk yielded %d tiles, want 4 + 16 = 20\n", len(all))
	}
	seen := make(map[pyramid.Coord]int, len(all))
	for i, tile := range all {
		seen[tile.Coord] = i
	}
	for _, tile := range all {
		if tile.Coord.Depth == 2 {
			continue
		}
		for _, child := range tile.Coord.Children() {
			ci, ok := seen[child]
			if !ok || ci > seen[tile.Coord] {
				t.Errorf("child %s not yielded before parent %s\n", child, tile.Coord)
			}
		}
	}

	var bottom int
	if err := GenerateTiles(p, true, func(tile Tile) error {
		if tile.Coord.Depth != 2 {
			t.Errorf("bottom-only walk yielded %s\n", tile.Coord)
		}
		bottom++
		return nil
	}); err != nil {
		t.Fatalf("GenerateTiles failed: %v\n", err)
	}
	if bottom != 16 {
		t.Errorf("bottom-only walk yielded %d tiles, want 16\n", bottom)
	}

	target := pyramid.Coord{Depth: 1, X: 1, Y: 0}
	fp, err := pyramid.NewFiltered(3, pyramid.AncestorFilter(target))
	if err != nil {
		t.Fatalf("couldn't create filtered pyramid: %v\n", err)
	}
	var filtered int
	GenerateTiles(fp, true, func(tile Tile) error {
		if !target.Covers(tile.Coord) {
			t.Errorf("filtered walk escaped to %s\n", tile.Coord)
		}
		filtered++
		return nil
	})
	if filtered != 16 {
		t.Errorf("filtered bottom walk yielded %d tiles, want 16\n", filtered)
	}

	zero, err := pyramid.New(0)
	if err != nil {
		t.Fatalf("couldn't create pyramid: %v\n", err)
	}
	GenerateTiles(zero, false, func(tile Tile) error {
		t.Errorf("depth-0 pyramid yielded geometric tile %s\n", tile.Coord)
		return nil
	})
}

func TestBBoxFilter(t *testing.T) {
	whole := BBoxFilter(0, 2*math.Pi, -math.Pi/2, math.Pi/2)
	p, err := pyramid.NewFiltered(2, whole)
	if err != nil {
		t.Fatalf("couldn't create pyramid: %v\n", err)
	}
	if n := p.CountTilesAtDepth(2); n != 16 {
		t.Errorf("whole-sky box admits %d depth-2 tiles, want 16\n", n)
	}

	// A small box keeps the covering tile and drops the far side of
	// the sphere.
	box := BBoxFilter(math.Pi/4-0.01, math.Pi/4+0.01, -0.01, 0.01)
	in, _, _, err := SkyToGrid(math.Pi/4, 0, 3)
	if err != nil {
		t.Fatalf("SkyToGrid failed: %v\n", err)
	}
	if !box(in) {
		t.Errorf("box filter rejected covering tile %s\n", in)
	}
	out, _, _, err := SkyToGrid(math.Pi+math.Pi/4, 0, 3)
	if err != nil {
		t.Fatalf("SkyToGrid failed: %v\n", err)
	}
	if box(out) {
		t.Errorf("box filter admitted antipodal tile %s\n", out)
	}

	// RA wraparound: an interval crossing zero admits tiles on both
	// sides of the seam.
	seam := BBoxFilter(2*math.Pi-0.1, 0.1, -0.2, 0.2)
	for _, ra := range []float64{0.05, 2*math.Pi - 0.05} {
		c, _, _, err := SkyToGrid(ra, 0, 3)
		if err != nil {
			t.Fatalf("SkyToGrid failed: %v\n", err)
		}
		if !seam(c) {
			t.Errorf("seam box rejected tile %s at ra %g\n", c, ra)
		}
	}

	// An empty declination interval admits nothing below the root.
	empty := BBoxFilter(0, 1, 0.5, 0.2)
	if empty(in) {
		t.Errorf("empty box admitted tile %s\n", in)
	}

	// Pruning safety: an admitted coordinate implies an admitted
	// parent, for every coordinate at modest depth.
	boxes := []pyramid.Filter{box, seam, BBoxFilter(1, 2, 0.3, 1.2)}
	for bi, f := range boxes {
		for depth := uint8(1); depth <= 3; depth++ {
			n := uint32(1) << depth
			for y := uint32(0); y < n; y++ {
				for x := uint32(0); x < n; x++ {
					c := pyramid.Coord{Depth: depth, X: x, Y: y}
					if !f(c) {
						continue
					}
					parent, _ := c.Parent()
					if !f(parent) {
						t.Errorf("box %d admits %s but rejects parent %s\n", bi, c, parent)
					}
				}
			}
		}
	}
}

func TestPixelScale(t *testing.T) {
	for depth := uint8(0); depth < 10; depth++ {
		s0 := PixelScale(depth)
		s1 := PixelScale(depth + 1)
		if s0 <= 0 || s1 <= 0 {
			t.Fatalf("pixel scale must be positive, got %g and %g\n", s0, s1)
		}
		if math.Abs(s0/s1-2) > 1e-12 {
			t.Errorf("pixel scale should halve per depth: %g vs %g\n", s0, s1)
		}
	}
}
