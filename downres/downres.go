/*
Package downres derives a parent tile from its four children: each
child's 256x256 content lands in one quadrant of a logical 512x512
mosaic, and every 2x2 block of that mosaic reduces to one parent pixel.
The reduction is an unweighted per-channel mean over the block's live
samples; no-data samples are excluded rather than averaged in, and a
block with no live samples stays no-data.  That exclusion is what lets
sparse sky regions collapse upward without smearing sentinel values
into real data.

The package is pure arithmetic: no I/O, no locks, safe to run on
disjoint parents from any number of goroutines.  The cascade discipline
that orders whole depths lives in the tiler.
*/
package downres

import (
	"fmt"
	"image"
	"math"

	"github.com/starfield-io/skytile"
)

// Downsample merges up to four child tiles into one parent tile at
// half resolution.  Children are indexed by quadrant bit 2*qy + qx; a
// nil entry is an absent child (never built, or outside the filtered
// region) and contributes only no-data.  When paritySign is +1 the
// child rows are swapped vertically, matching bottom-up pixel formats
// whose tile grid still runs top-down.
//
// A parent with no live pixels at all returns (nil, nil): the tile is
// empty and should not be persisted.  Children of differing kinds are
// an error.
func Downsample(children [4]*skytile.TileImage, paritySign int) (*skytile.TileImage, error) {
	kind, err := childKind(children)
	if err != nil || kind == nil {
		return nil, err
	}

	var parent *skytile.TileImage
	switch *kind {
	case skytile.KindF32:
		parent = skytile.NewF32Tile()
	case skytile.KindNRGBA:
		parent = skytile.NewNRGBATile()
	default:
		return nil, fmt.Errorf("cannot downsample tile kind %s", *kind)
	}

	live := false
	for i, child := range children {
		if child == nil {
			continue
		}
		qx := i & 1
		qy := i >> 1
		if paritySign > 0 {
			qy = 1 - qy
		}
		if mergeQuadrant(parent, child, qx, qy) {
			live = true
		}
	}
	if !live {
		return nil, nil
	}
	return parent, nil
}

// childKind returns the common kind of the non-nil children, nil if
// every child is absent.
func childKind(children [4]*skytile.TileImage) (*skytile.ImageKind, error) {
	var kind *skytile.ImageKind
	for _, child := range children {
		if child == nil {
			continue
		}
		k := child.Which
		if kind == nil {
			kind = &k
		} else if *kind != k {
			return nil, fmt.Errorf("cannot downsample mixed tile kinds %s and %s", *kind, k)
		}
	}
	return kind, nil
}

// mergeQuadrant reduces one child into the parent quadrant at
// (qx, qy), reporting whether any live pixel was produced.
func mergeQuadrant(parent, child *skytile.TileImage, qx, qy int) bool {
	const half = skytile.TileSize / 2
	ox := qx * half
	oy := qy * half
	live := false

	switch child.Which {
	case skytile.KindF32:
		src := child.F32
		dst := parent.F32
		for py := 0; py < half; py++ {
			for px := 0; px < half; px++ {
				var sum float64
				var n int
				for _, s := range blockSamplesF32(src, 2*px, 2*py) {
					if !math.IsNaN(s) {
						sum += s
						n++
					}
				}
				if n > 0 {
					dst.Pix[dst.PixOffset(ox+px, oy+py)] = float32(sum / float64(n))
					live = true
				}
			}
		}

	case skytile.KindNRGBA:
		src := child.NRGBA
		dst := parent.NRGBA
		for py := 0; py < half; py++ {
			for px := 0; px < half; px++ {
				var r, g, b, a, n uint32
				for _, off := range blockOffsetsNRGBA(src, 2*px, 2*py) {
					alpha := src.Pix[off+3]
					if alpha == 0 {
						continue
					}
					r += uint32(src.Pix[off])
					g += uint32(src.Pix[off+1])
					b += uint32(src.Pix[off+2])
					a += uint32(alpha)
					n++
				}
				if n > 0 {
					off := dst.PixOffset(ox+px, oy+py)
					dst.Pix[off] = uint8(r / n)
					dst.Pix[off+1] = uint8(g / n)
					dst.Pix[off+2] = uint8(b / n)
					dst.Pix[off+3] = uint8(a / n)
					live = true
				}
			}
		}
	}
	return live
}

func blockSamplesF32(src *skytile.Float32Image, x, y int) [4]float64 {
	off := src.PixOffset(x, y)
	return [4]float64{
		float64(src.Pix[off]),
		float64(src.Pix[off+1]),
		float64(src.Pix[off+src.Stride]),
		float64(src.Pix[off+src.Stride+1]),
	}
}

func blockOffsetsNRGBA(src *image.NRGBA, x, y int) [4]int {
	off := src.PixOffset(x, y)
	return [4]int{off, off + 4, off + src.Stride, off + src.Stride + 4}
}
