package tiler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/starfield-io/skytile"
	"github.com/starfield-io/skytile/downres"
	"github.com/starfield-io/skytile/pyramid"
	"github.com/starfield-io/skytile/storage"
)

// Cascade fills the depths above an already-sampled base, maxDepth-1
// down to cfg.TopLayer, deriving each parent from its four children in
// the store.  It is the second half of Build, callable on its own to
// finish a run that stopped after the sample phase or to rebuild upper
// depths after base tiles changed.
//
// Depths complete strictly in order: every parent at one depth is
// settled before the next shallower depth reads them.  Within a depth,
// parents are independent and fan out across workers.
func Cascade(ctx context.Context, store storage.TileStore, maxDepth int, cfg Config) (Report, error) {
	if cfg.BaseLevelOnly {
		return Report{}, fmt.Errorf("%w: base level only excludes the cascade", ErrConfig)
	}
	if err := validate(store, maxDepth, cfg, false); err != nil {
		return Report{}, err
	}
	b := newBuild(store, cfg, nil)
	if maxDepth == 0 {
		return b.ctrs.report(b.start), nil
	}
	err := b.cascadePhase(ctx, uint8(maxDepth))
	return b.ctrs.report(b.start), err
}

func (b *build) cascadePhase(ctx context.Context, maxDepth uint8) error {
	p, err := pyramid.NewFiltered(maxDepth, b.cfg.Filter)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	for pd := int(maxDepth) - 1; pd >= int(b.cfg.TopLayer); pd-- {
		tlog := skytile.NewTimeLog()
		if err := b.cascadeDepth(ctx, p, uint8(pd)); err != nil {
			return err
		}
		tlog.Infof("Build %s cascaded depth %d", b.id, pd)
		b.phaseDone("cascade", uint8(pd), b.ctrs.report(b.start))
	}
	return nil
}

// cascadeDepth settles one depth.  The errgroup join is the barrier
// the next depth waits behind.
func (b *build) cascadeDepth(ctx context.Context, p pyramid.Pyramid, depth uint8) error {
	g, gctx := errgroup.WithContext(ctx)
	workers := b.cfg.workers()
	coords := make(chan pyramid.Coord, 4*workers)

	g.Go(func() error {
		defer close(coords)
		return p.WalkDepth(depth, func(c pyramid.Coord) error {
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
				if err := b.cascadeTile(gctx, c); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// cascadeTile derives one parent.  An absent child contributes only
// no-data; a child that exists but cannot be read fails the parent
// rather than producing a silently thinner tile.
func (b *build) cascadeTile(ctx context.Context, c pyramid.Coord) error {
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
	atomic.AddUint64(&b.ctrs.downresOps, 1)

	var children [4]*skytile.TileImage
	var childMeta [4]*storage.TileMeta
	for i, cc := range c.Children() {
		img, err := b.store.ReadImage(ctx, cc)
		if err != nil {
			if errors.Is(err, storage.ErrTileNotFound) {
				continue
			}
			b.tileFailed(c, fmt.Errorf("child %s: %v", cc, err))
			return ctx.Err()
		}
		children[i] = img
		if m, err := storage.ReadTileMeta(ctx, b.store, cc); err == nil {
			childMeta[i] = &m
		}
	}

	parent, err := downres.Downsample(children, b.store.VerticalParitySign())
	if err != nil {
		b.tileFailed(c, err)
		return ctx.Err()
	}
	if parent == nil {
		atomic.AddUint64(&b.ctrs.skippedEmpty, 1)
		return nil
	}

	m := storage.MetaFor(parent, b.id)
	for _, cm := range childMeta {
		if cm != nil {
			m.MergeRange(*cm)
		}
	}
	if err := b.writeTile(ctx, c, parent, m); err != nil {
		b.tileFailed(c, err)
		return ctx.Err()
	}
	return nil
}
