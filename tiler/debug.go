package tiler

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync/atomic"

	"github.com/fogleman/gg"
	"golang.org/x/sync/errgroup"

	"github.com/starfield-io/skytile"
	"github.com/starfield-io/skytile/pyramid"
	"github.com/starfield-io/skytile/storage"
)

// BuildDebug writes an annotated tile at every live coordinate of
// every depth: a checkered background, a border, the coordinate label
// at center, and a "top" marker under the upper edge.  Loading the
// result in a viewer makes layout mistakes obvious, a tile whose label
// disagrees with its position or whose marker sits at the bottom is
// misplaced or vertically flipped.  No cascade runs; each depth's
// tiles are rendered directly, and each render counts as a sample
// operation in the Report.
func BuildDebug(ctx context.Context, store storage.TileStore, maxDepth int, cfg Config) (Report, error) {
	if err := validate(store, maxDepth, cfg, false); err != nil {
		return Report{}, err
	}
	p, err := pyramid.NewFiltered(uint8(maxDepth), cfg.Filter)
	if err != nil {
		return Report{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	b := newBuild(store, cfg, nil)
	tlog := skytile.NewTimeLog()

	g, gctx := errgroup.WithContext(ctx)
	workers := b.cfg.workers()
	coords := make(chan pyramid.Coord, 4*workers)
	g.Go(func() error {
		defer close(coords)
		return p.Walk(func(c pyramid.Coord) error {
			if cfg.BaseLevelOnly && int(c.Depth) != maxDepth {
				return nil
			}
			if c.Depth < cfg.TopLayer {
				return nil
			}
			select {
			case coords <- c:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	})
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for c := range coords {
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := b.debugTile(gctx, c); err != nil {
					return err
				}
			}
			return nil
		})
	}
	err = g.Wait()
	r := b.ctrs.report(b.start)
	if err == nil {
		tlog.Infof("Debug build %s wrote %d tiles to depth %d", b.id, r.Written, maxDepth)
	}
	return r, err
}

func (b *build) debugTile(ctx context.Context, c pyramid.Coord) error {
	if !b.cfg.Overwrite {
		exists, err := b.store.Exists(ctx, c)
		if err != nil {
			b.tileFailed(c, fmt.Errorf("existence probe: %v", err))
			return ctx.Err()
		}
		if exists {
			atomic.AddUint64(&b.ctrs.skippedExisting, 1)
			return nil
		}
	}
	atomic.AddUint64(&b.ctrs.sampleOps, 1)
	img := renderDebugTile(c)
	if err := b.writeTile(ctx, c, img, storage.MetaFor(img, b.id)); err != nil {
		b.tileFailed(c, err)
		return ctx.Err()
	}
	return nil
}

func renderDebugTile(c pyramid.Coord) *skytile.TileImage {
	const size = skytile.TileSize
	dc := gg.NewContext(size, size)

	// Checkered so neighbors are distinguishable at a glance.
	shade := 0.18
	if (c.X+c.Y)&1 == 1 {
		shade = 0.30
	}
	dc.SetRGB(shade, shade, 0.45)
	dc.Clear()

	dc.SetRGB(1, 1, 1)
	dc.SetLineWidth(2)
	dc.DrawRectangle(1, 1, size-2, size-2)
	dc.Stroke()

	dc.DrawStringAnchored(c.String(), size/2, size/2, 0.5, 0.5)
	dc.SetRGB(1, 0.8, 0.2)
	dc.DrawStringAnchored("top", size/2, 16, 0.5, 0.5)

	out := image.NewNRGBA(image.Rect(0, 0, size, size))
	draw.Draw(out, out.Bounds(), dc.Image(), image.Point{}, draw.Src)
	return skytile.TileFromNRGBA(out)
}

// BlankTile renders a uniform placeholder in the given color, handy
// for priming viewer layouts before real data lands.  A zero-alpha
// color yields an all-no-data tile.
func BlankTile(bg color.NRGBA) *skytile.TileImage {
	dc := gg.NewContext(skytile.TileSize, skytile.TileSize)
	dc.SetColor(bg)
	dc.Clear()
	out := image.NewNRGBA(image.Rect(0, 0, skytile.TileSize, skytile.TileSize))
	draw.Draw(out, out.Bounds(), dc.Image(), image.Point{}, draw.Src)
	return skytile.TileFromNRGBA(out)
}
