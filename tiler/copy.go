package tiler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/starfield-io/skytile"
	"github.com/starfield-io/skytile/pyramid"
	"github.com/starfield-io/skytile/storage"
)

// CopyConfig adjusts a store-to-store copy.
type CopyConfig struct {
	// Filter restricts the copy to coordinates it accepts.
	Filter pyramid.Filter

	// Overwrite replaces tiles already present in the destination.
	Overwrite bool

	// Parallelism is the worker count; zero or negative means one per
	// logical CPU.
	Parallelism int
}

// Copy publishes a pyramid from one store into another, every depth
// from the root down to the given one.  Sparseness is preserved:
// coordinates absent in the source stay absent in the destination, and
// sidecar metadata travels with each tile.  The typical use is pushing
// a locally built pyramid into a bucket.
//
// Both stores must agree on vertical parity, since the quadrant layout
// of every cascaded tile was fixed by the source's parity at build
// time.  Re-encoding across formats of equal parity is fine; the
// destination encodes each tile on write as usual.
func Copy(ctx context.Context, src, dst storage.TileStore, depth int, cfg CopyConfig) (Report, error) {
	if depth < 0 || depth > pyramid.MaxDepth {
		return Report{}, fmt.Errorf("%w: copy depth %d outside [0, %d]", ErrConfig, depth, pyramid.MaxDepth)
	}
	if src.VerticalParitySign() != dst.VerticalParitySign() {
		return Report{}, fmt.Errorf("%w: source and destination disagree on vertical parity", ErrConfig)
	}
	p, err := pyramid.NewFiltered(uint8(depth), cfg.Filter)
	if err != nil {
		return Report{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	b := newBuild(dst, Config{Overwrite: cfg.Overwrite, Parallelism: cfg.Parallelism}, nil)
	tlog := skytile.NewTimeLog()

	g, gctx := errgroup.WithContext(ctx)
	workers := b.cfg.workers()
	coords := make(chan pyramid.Coord, 4*workers)
	g.Go(func() error {
		defer close(coords)
		return p.Walk(func(c pyramid.Coord) error {
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
				if err := b.copyTile(gctx, src, c); err != nil {
					return err
				}
			}
			return nil
		})
	}
	err = g.Wait()
	r := b.ctrs.report(b.start)
	if err == nil {
		tlog.Infof("Copied %d tiles (%s) from %s to %s", r.Written, humanize.Bytes(r.Bytes), src, dst)
	}
	return r, err
}

// copyTile moves one coordinate's tile and sidecar.  Absence in the
// source is the sparse case, not an error.
func (b *build) copyTile(ctx context.Context, src storage.TileStore, c pyramid.Coord) error {
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
	img, err := src.ReadImage(ctx, c)
	if err != nil {
		if errors.Is(err, storage.ErrTileNotFound) {
			atomic.AddUint64(&b.ctrs.skippedEmpty, 1)
			return nil
		}
		b.tileFailed(c, err)
		return ctx.Err()
	}
	if err := b.store.WriteImage(ctx, c, img); err != nil {
		b.tileFailed(c, err)
		return ctx.Err()
	}
	m, err := storage.ReadTileMeta(ctx, src, c)
	switch {
	case err == nil:
		if err := storage.WriteTileMeta(ctx, b.store, c, m); err != nil {
			b.tileFailed(c, fmt.Errorf("metadata: %v", err))
			return ctx.Err()
		}
	case errors.Is(err, storage.ErrTileNotFound):
		// Tile without sidecar, copy what exists.
	default:
		b.tileFailed(c, fmt.Errorf("metadata: %v", err))
		return ctx.Err()
	}
	b.ctrs.addWritten(payloadBytes(img))
	skytile.LogActivity(map[string]interface{}{
		"action": "tile-copy",
		"tile":   c.String(),
		"build":  b.id,
	})
	return nil
}
