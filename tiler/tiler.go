/*
Package tiler orchestrates pyramid construction: a sample phase that
fills every live base tile from a sampler, then a cascade phase that
derives each coarser depth from the one below it.  Projection,
sampling, and downsampling stay pure; this package owns the I/O, the
worker pools, and the bookkeeping.

Builds are resumable.  Tiles land in the store one at a time, each
fully written before it becomes visible, so a crashed or canceled run
leaves a valid partial pyramid and a rerun with Overwrite off picks up
where it stopped.  A single tile's failure is counted and logged, not
fatal: the run keeps going and the Report says how much is missing.
*/
package tiler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/twinj/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/starfield-io/skytile"
	"github.com/starfield-io/skytile/pyramid"
	"github.com/starfield-io/skytile/sampler"
	"github.com/starfield-io/skytile/storage"
	"github.com/starfield-io/skytile/toast"
)

// ErrConfig wraps build configuration rejections.  Nothing has touched
// the store when a build fails with it.
var ErrConfig = errors.New("invalid build configuration")

// Config adjusts a build run.
type Config struct {
	// Filter restricts the build to coordinates it accepts.  Nil
	// builds the whole sky.
	Filter pyramid.Filter

	// BaseLevelOnly stops after the sample phase, leaving the cascade
	// for a later run.
	BaseLevelOnly bool

	// TopLayer is the shallowest depth the cascade fills.  Zero
	// cascades all the way to the root tile.
	TopLayer uint8

	// Overwrite rebuilds tiles that already exist.  Off, existing
	// tiles are skipped, which is the resume path.
	Overwrite bool

	// Parallelism is the worker count per phase; zero or negative
	// means one worker per logical CPU.
	Parallelism int

	// Format, when set, must name the tile encoding the store was
	// opened with.  It guards against building into a store whose
	// on-disk format is not what the caller planned around.
	Format string
}

func (cfg Config) workers() int {
	if cfg.Parallelism <= 0 {
		return runtime.NumCPU()
	}
	return cfg.Parallelism
}

// fillFunc samples one tile's pixel grid, returning nil when every
// sample came back no-data.
type fillFunc func(t toast.Tile) (*skytile.TileImage, error)

// Build constructs a scalar pyramid: sample phase at maxDepth, then
// the cascade unless cfg says otherwise.  The store must encode f32
// tiles since image formats cannot hold scalar samples.  The returned
// Report is meaningful even when err != nil: it tallies whatever
// completed before the failure or cancellation.
func Build(ctx context.Context, store storage.TileStore, s sampler.Sampler, maxDepth int, cfg Config) (Report, error) {
	if err := validate(store, maxDepth, cfg, true); err != nil {
		return Report{}, err
	}
	return run(ctx, store, maxDepth, cfg, fillScalar(s))
}

// BuildColor constructs a color pyramid.  Any store format works:
// image formats encode the pixels directly and f32 carries them
// through the binary envelope.
func BuildColor(ctx context.Context, store storage.TileStore, s sampler.ColorSampler, maxDepth int, cfg Config) (Report, error) {
	if err := validate(store, maxDepth, cfg, false); err != nil {
		return Report{}, err
	}
	return run(ctx, store, maxDepth, cfg, fillColor(s))
}

func validate(store storage.TileStore, maxDepth int, cfg Config, scalar bool) error {
	if maxDepth < 0 || maxDepth > pyramid.MaxDepth {
		return fmt.Errorf("%w: build depth %d outside [0, %d]", ErrConfig, maxDepth, pyramid.MaxDepth)
	}
	if int(cfg.TopLayer) > maxDepth {
		return fmt.Errorf("%w: top layer %d exceeds build depth %d", ErrConfig, cfg.TopLayer, maxDepth)
	}
	if cfg.BaseLevelOnly && cfg.TopLayer != 0 {
		return fmt.Errorf("%w: top layer %d is meaningless with base level only", ErrConfig, cfg.TopLayer)
	}
	name := store.DefaultFormat().Name()
	if scalar && name != "f32" {
		return fmt.Errorf("%w: store format %q cannot hold scalar tiles, use f32", ErrConfig, name)
	}
	if cfg.Format != "" {
		f, err := storage.FormatByName(cfg.Format)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrConfig, err)
		}
		if f.Name() != name {
			return fmt.Errorf("%w: requested format %q but store encodes %q", ErrConfig, f.Name(), name)
		}
	}
	return nil
}

// build carries the state shared by one run's workers.
type build struct {
	store storage.TileStore
	cfg   Config
	fill  fillFunc
	id    string
	start time.Time
	ctrs  counters
}

func newBuild(store storage.TileStore, cfg Config, fill fillFunc) *build {
	return &build{
		store: store,
		cfg:   cfg,
		fill:  fill,
		id:    fmt.Sprintf("%x", uuid.NewV4().Bytes()),
		start: time.Now(),
	}
}

func run(ctx context.Context, store storage.TileStore, maxDepth int, cfg Config, fill fillFunc) (Report, error) {
	p, err := pyramid.NewFiltered(uint8(maxDepth), cfg.Filter)
	if err != nil {
		return Report{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	b := newBuild(store, cfg, fill)
	tlog := skytile.NewTimeLog()
	skytile.Infof("Build %s: sampling depth %d into %s\n", b.id, maxDepth, store)

	if err := b.samplePhase(ctx, p); err != nil {
		return b.ctrs.report(b.start), err
	}
	r := b.ctrs.report(b.start)
	tlog.Infof("Build %s sample phase done, %s", b.id, r)
	b.phaseDone("sample", uint8(maxDepth), r)

	if cfg.BaseLevelOnly || maxDepth == 0 {
		return b.ctrs.report(b.start), nil
	}

	if err := b.cascadePhase(ctx, uint8(maxDepth)); err != nil {
		return b.ctrs.report(b.start), err
	}
	r = b.ctrs.report(b.start)
	tlog.Infof("Build %s complete, %s", b.id, r)
	return r, nil
}

// samplePhase fills every live coordinate at the pyramid's maximum
// depth.  A feeder walks the projection while workers sample and
// write; the walk order does not matter here since base tiles are
// independent.
func (b *build) samplePhase(ctx context.Context, p pyramid.Pyramid) error {
	g, gctx := errgroup.WithContext(ctx)
	workers := b.cfg.workers()
	tiles := make(chan toast.Tile, 4*workers)

	g.Go(func() error {
		defer close(tiles)
		if p.MaxDepth() == 0 {
			// The generator never yields the root; the all-sky
			// depth-0 image is sampled directly.
			if f := p.Filter(); f != nil && !f(p.Root()) {
				return nil
			}
			select {
			case tiles <- toast.TileAt(p.Root()):
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return toast.GenerateTiles(p, true, func(t toast.Tile) error {
			select {
			case tiles <- t:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	})
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for t := range tiles {
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := b.sampleTile(gctx, t); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// sampleTile processes one base tile.  Its own failures are tallied,
// not returned; the only error out of here is the context's, so a
// cancellation stops the pool while an unreadable or unwritable tile
// does not.
func (b *build) sampleTile(ctx context.Context, t toast.Tile) error {
	c := t.Coord
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
	img, err := b.fill(t)
	if err != nil {
		b.tileFailed(c, err)
		return ctx.Err()
	}
	if img == nil {
		atomic.AddUint64(&b.ctrs.skippedEmpty, 1)
		return nil
	}
	if err := b.writeTile(ctx, c, img, storage.MetaFor(img, b.id)); err != nil {
		b.tileFailed(c, err)
		return ctx.Err()
	}
	return nil
}

// writeTile persists pixels then sidecar and records the activity.
func (b *build) writeTile(ctx context.Context, c pyramid.Coord, img *skytile.TileImage, m storage.TileMeta) error {
	if err := b.store.WriteImage(ctx, c, img); err != nil {
		return err
	}
	if err := storage.WriteTileMeta(ctx, b.store, c, m); err != nil {
		return fmt.Errorf("metadata: %v", err)
	}
	b.ctrs.addWritten(payloadBytes(img))
	skytile.LogActivity(map[string]interface{}{
		"action": "tile-write",
		"tile":   c.String(),
		"build":  b.id,
	})
	return nil
}

func (b *build) tileFailed(c pyramid.Coord, err error) {
	atomic.AddUint64(&b.ctrs.failed, 1)
	skytile.Errorf("Build %s tile %s failed: %v\n", b.id, c, err)
	skytile.LogActivity(map[string]interface{}{
		"action": "tile-fail",
		"tile":   c.String(),
		"error":  err.Error(),
		"build":  b.id,
	})
}

func (b *build) phaseDone(phase string, depth uint8, r Report) {
	skytile.LogActivity(map[string]interface{}{
		"action":  "phase-complete",
		"phase":   phase,
		"depth":   depth,
		"written": r.Written,
		"failed":  r.Failed,
		"build":   b.id,
	})
}

// fillScalar adapts a scalar sampler into a tile filler.  Sample i
// lands at pixel i: both the center arrays and the f32 pixel buffer
// run row-major over the tile.
func fillScalar(s sampler.Sampler) fillFunc {
	return func(t toast.Tile) (*skytile.TileImage, error) {
		ra, dec := toast.TilePixelCenters(t)
		vals := s(ra, dec)
		if len(vals) != len(ra) {
			return nil, fmt.Errorf("sampler returned %d values for %d pixels", len(vals), len(ra))
		}
		img := skytile.NewF32Tile()
		live := false
		for i, v := range vals {
			img.F32.Pix[i] = float32(v)
			if !math.IsNaN(v) {
				live = true
			}
		}
		if !live {
			return nil, nil
		}
		return img, nil
	}
}

func fillColor(s sampler.ColorSampler) fillFunc {
	return func(t toast.Tile) (*skytile.TileImage, error) {
		ra, dec := toast.TilePixelCenters(t)
		px := s(ra, dec)
		if len(px) != len(ra) {
			return nil, fmt.Errorf("sampler returned %d pixels for %d centers", len(px), len(ra))
		}
		img := skytile.NewNRGBATile()
		live := false
		for i, p := range px {
			o := i * 4
			img.NRGBA.Pix[o] = p.R
			img.NRGBA.Pix[o+1] = p.G
			img.NRGBA.Pix[o+2] = p.B
			img.NRGBA.Pix[o+3] = p.A
			if p.A != 0 {
				live = true
			}
		}
		if !live {
			return nil, nil
		}
		return img, nil
	}
}

// payloadBytes is the in-memory pixel size of a tile, the quantity a
// Report's Bytes accumulates.  Engines may compress on the way down.
func payloadBytes(img *skytile.TileImage) uint64 {
	switch img.Which {
	case skytile.KindF32:
		return uint64(len(img.F32.Pix)) * 4
	case skytile.KindNRGBA:
		return uint64(len(img.NRGBA.Pix))
	}
	return 0
}
