/*
Package storetest exercises the storage.TileStore contract against any
engine.  An engine's test package supplies a function that opens a
fresh store for the requested tile format:

	storetest.RunTileStoreTests(t, func(t *testing.T, format string) storage.TileStore {
		config := skytile.StoreConfig{
			Config: skytile.Config{"path": t.TempDir(), "format": format},
			Engine: "tilefile",
		}
		store, _, err := storage.NewStore(config)
		if err != nil {
			t.Fatalf("can't open store: %v\n", err)
		}
		t.Cleanup(store.Close)
		return store
	})

Every subtest gets its own store, so the opener must return an empty
one each call.
*/
package storetest

import (
	"context"
	"errors"
	"image/color"
	"math"
	"sync"
	"testing"

	"github.com/starfield-io/skytile"
	"github.com/starfield-io/skytile/pyramid"
	"github.com/starfield-io/skytile/storage"
)

// Maker opens a fresh, empty store configured for the given tile
// format and registers its cleanup with t.
type Maker func(t *testing.T, format string) storage.TileStore

// scalarTile builds a deterministic f32 tile with a NaN hole.
func scalarTile(base float32) *skytile.TileImage {
	img := skytile.NewF32Tile()
	for y := 0; y < skytile.TileSize; y++ {
		for x := 0; x < skytile.TileSize; x++ {
			img.F32.SetValue(x, y, base+float32(x)-0.5*float32(y))
		}
	}
	img.F32.SetValue(13, 77, float32(math.NaN()))
	return img
}

// colorTile builds a deterministic NRGBA tile with a transparent
// corner block.
func colorTile() *skytile.TileImage {
	img := skytile.NewNRGBATile()
	for y := 8; y < skytile.TileSize; y++ {
		for x := 0; x < skytile.TileSize; x++ {
			img.NRGBA.SetNRGBA(x, y, color.NRGBA{uint8(x), uint8(y), uint8((x + y) % 256), 0xff})
		}
	}
	return img
}

func sameScalar(t *testing.T, want, got *skytile.TileImage) {
	t.Helper()
	if got.Which != skytile.KindF32 {
		t.Fatalf("read back %s tile, expected f32\n", got.Which)
	}
	if got.Bounds() != want.Bounds() {
		t.Fatalf("read back bounds %v, expected %v\n", got.Bounds(), want.Bounds())
	}
	for y := 0; y < skytile.TileSize; y++ {
		for x := 0; x < skytile.TileSize; x++ {
			w := want.F32.Value(x, y)
			g := got.F32.Value(x, y)
			if math.IsNaN(float64(w)) != math.IsNaN(float64(g)) {
				t.Fatalf("pixel (%d, %d): no-data mismatch, wrote %v read %v\n", x, y, w, g)
			}
			if !math.IsNaN(float64(w)) && w != g {
				t.Fatalf("pixel (%d, %d): wrote %v read %v\n", x, y, w, g)
			}
		}
	}
}

func sameColor(t *testing.T, want, got *skytile.TileImage) {
	t.Helper()
	if got.Which != skytile.KindNRGBA {
		t.Fatalf("read back %s tile, expected nrgba\n", got.Which)
	}
	if got.Bounds() != want.Bounds() {
		t.Fatalf("read back bounds %v, expected %v\n", got.Bounds(), want.Bounds())
	}
	for y := 0; y < skytile.TileSize; y++ {
		for x := 0; x < skytile.TileSize; x++ {
			w := want.NRGBA.NRGBAAt(x, y)
			g := got.NRGBA.NRGBAAt(x, y)
			if w != g {
				t.Fatalf("pixel (%d, %d): wrote %v read %v\n", x, y, w, g)
			}
		}
	}
}

// RunTileStoreTests runs the TileStore conformance suite against the
// engine behind the opener.
func RunTileStoreTests(t *testing.T, open Maker) {
	ctx := context.Background()

	t.Run("ReadMissing", func(t *testing.T) {
		store := open(t, "f32")
		c := pyramid.Coord{Depth: 2, X: 1, Y: 3}
		if _, err := store.ReadImage(ctx, c); !errors.Is(err, storage.ErrTileNotFound) {
			t.Errorf("read of missing tile returned %v, expected ErrTileNotFound\n", err)
		}
		found, err := store.Exists(ctx, c)
		if err != nil {
			t.Fatalf("exists probe: %v\n", err)
		}
		if found {
			t.Errorf("missing tile reported as existing\n")
		}
		if _, err := store.OpenMetadataForRead(ctx, c); !errors.Is(err, storage.ErrTileNotFound) {
			t.Errorf("read of missing metadata returned %v, expected ErrTileNotFound\n", err)
		}
	})

	t.Run("WriteReadScalar", func(t *testing.T) {
		store := open(t, "f32")
		c := pyramid.Coord{Depth: 4, X: 9, Y: 2}
		want := scalarTile(100)
		if err := store.WriteImage(ctx, c, want); err != nil {
			t.Fatalf("write: %v\n", err)
		}
		found, err := store.Exists(ctx, c)
		if err != nil || !found {
			t.Fatalf("written tile not found: found %t, err %v\n", found, err)
		}
		got, err := store.ReadImage(ctx, c)
		if err != nil {
			t.Fatalf("read: %v\n", err)
		}
		sameScalar(t, want, got)
	})

	t.Run("WriteReadColor", func(t *testing.T) {
		store := open(t, "png")
		c := pyramid.Coord{Depth: 3, X: 0, Y: 7}
		want := colorTile()
		if err := store.WriteImage(ctx, c, want); err != nil {
			t.Fatalf("write: %v\n", err)
		}
		got, err := store.ReadImage(ctx, c)
		if err != nil {
			t.Fatalf("read: %v\n", err)
		}
		sameColor(t, want, got)
	})

	t.Run("OverwriteReplaces", func(t *testing.T) {
		store := open(t, "f32")
		c := pyramid.Coord{Depth: 1, X: 1, Y: 0}
		if err := store.WriteImage(ctx, c, scalarTile(1)); err != nil {
			t.Fatalf("first write: %v\n", err)
		}
		want := scalarTile(2)
		if err := store.WriteImage(ctx, c, want); err != nil {
			t.Fatalf("second write: %v\n", err)
		}
		got, err := store.ReadImage(ctx, c)
		if err != nil {
			t.Fatalf("read: %v\n", err)
		}
		sameScalar(t, want, got)
	})

	t.Run("UpdateCreates", func(t *testing.T) {
		store := open(t, "f32")
		c := pyramid.Coord{Depth: 5, X: 30, Y: 12}
		err := store.UpdateImage(ctx, c, func(img *skytile.TileImage) (*skytile.TileImage, error) {
			if img != nil {
				t.Errorf("mutator got a tile for an unwritten coordinate\n")
			}
			out := skytile.NewF32Tile()
			out.F32.SetValue(3, 4, 42)
			return out, nil
		})
		if err != nil {
			t.Fatalf("update: %v\n", err)
		}
		got, err := store.ReadImage(ctx, c)
		if err != nil {
			t.Fatalf("read after update: %v\n", err)
		}
		if v := got.F32.Value(3, 4); v != 42 {
			t.Errorf("updated pixel is %v, expected 42\n", v)
		}
		if n := got.LiveCount(); n != 1 {
			t.Errorf("updated tile has %d live pixels, expected 1\n", n)
		}
	})

	t.Run("UpdateMutates", func(t *testing.T) {
		store := open(t, "f32")
		c := pyramid.Coord{Depth: 2, X: 3, Y: 3}
		seed := skytile.NewF32Tile()
		seed.F32.SetValue(10, 10, 5)
		if err := store.WriteImage(ctx, c, seed); err != nil {
			t.Fatalf("seed write: %v\n", err)
		}
		err := store.UpdateImage(ctx, c, func(img *skytile.TileImage) (*skytile.TileImage, error) {
			if img == nil {
				t.Fatalf("mutator got nil for a written coordinate\n")
			}
			if v := img.F32.Value(10, 10); v != 5 {
				t.Errorf("mutator sees pixel %v, expected 5\n", v)
			}
			img.F32.SetValue(20, 20, 7)
			return img, nil
		})
		if err != nil {
			t.Fatalf("update: %v\n", err)
		}
		got, err := store.ReadImage(ctx, c)
		if err != nil {
			t.Fatalf("read after update: %v\n", err)
		}
		if v := got.F32.Value(10, 10); v != 5 {
			t.Errorf("pre-existing pixel is %v after update, expected 5\n", v)
		}
		if v := got.F32.Value(20, 20); v != 7 {
			t.Errorf("mutated pixel is %v, expected 7\n", v)
		}
	})

	t.Run("UpdateNoop", func(t *testing.T) {
		store := open(t, "f32")
		c := pyramid.Coord{Depth: 2, X: 0, Y: 1}
		seed := scalarTile(9)
		if err := store.WriteImage(ctx, c, seed); err != nil {
			t.Fatalf("seed write: %v\n", err)
		}
		noop := func(img *skytile.TileImage) (*skytile.TileImage, error) { return nil, nil }
		if err := store.UpdateImage(ctx, c, noop); err != nil {
			t.Fatalf("no-op update: %v\n", err)
		}
		got, err := store.ReadImage(ctx, c)
		if err != nil {
			t.Fatalf("read after no-op: %v\n", err)
		}
		sameScalar(t, seed, got)

		// A no-op on an unwritten coordinate creates nothing.
		missing := pyramid.Coord{Depth: 2, X: 1, Y: 1}
		if err := store.UpdateImage(ctx, missing, noop); err != nil {
			t.Fatalf("no-op update of missing tile: %v\n", err)
		}
		if found, _ := store.Exists(ctx, missing); found {
			t.Errorf("no-op update created a tile\n")
		}
	})

	t.Run("UpdateError", func(t *testing.T) {
		store := open(t, "f32")
		c := pyramid.Coord{Depth: 3, X: 2, Y: 2}
		seed := scalarTile(3)
		if err := store.WriteImage(ctx, c, seed); err != nil {
			t.Fatalf("seed write: %v\n", err)
		}
		boom := errors.New("mutator failure")
		err := store.UpdateImage(ctx, c, func(img *skytile.TileImage) (*skytile.TileImage, error) {
			img.F32.SetValue(0, 0, -1)
			return nil, boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("update returned %v, expected the mutator's error\n", err)
		}
		got, err := store.ReadImage(ctx, c)
		if err != nil {
			t.Fatalf("read after failed update: %v\n", err)
		}
		sameScalar(t, seed, got)
	})

	t.Run("Metadata", func(t *testing.T) {
		store := open(t, "f32")
		c := pyramid.Coord{Depth: 6, X: 40, Y: 41}
		want := storage.MetaFor(scalarTile(-4), "storetest")
		if err := storage.WriteTileMeta(ctx, store, c, want); err != nil {
			t.Fatalf("write metadata: %v\n", err)
		}
		got, err := storage.ReadTileMeta(ctx, store, c)
		if err != nil {
			t.Fatalf("read metadata: %v\n", err)
		}
		if got.Min != want.Min || got.Max != want.Max || got.Live != want.Live || got.Builder != want.Builder {
			t.Errorf("metadata round trip: wrote %+v read %+v\n", want, got)
		}
		if !got.Written.Equal(want.Written) {
			t.Errorf("metadata timestamp: wrote %v read %v\n", want.Written, got.Written)
		}
	})

	t.Run("TilePaths", func(t *testing.T) {
		store := open(t, "f32")
		coords := []pyramid.Coord{
			{Depth: 0, X: 0, Y: 0},
			{Depth: 1, X: 0, Y: 0},
			{Depth: 1, X: 0, Y: 1},
			{Depth: 1, X: 1, Y: 0},
			{Depth: 5, X: 17, Y: 17},
			{Depth: 5, X: 17, Y: 18},
		}
		seen := make(map[string]pyramid.Coord, len(coords))
		for _, c := range coords {
			p := store.TilePath(c)
			if p == "" {
				t.Fatalf("empty path for %s\n", c)
			}
			if prev, dup := seen[p]; dup {
				t.Errorf("coordinates %s and %s share path %q\n", prev, c, p)
			}
			seen[p] = c
			if again := store.TilePath(c); again != p {
				t.Errorf("path for %s is unstable: %q then %q\n", c, p, again)
			}
		}
	})

	t.Run("ConcurrentUpdates", func(t *testing.T) {
		store := open(t, "f32")
		c := pyramid.Coord{Depth: 7, X: 100, Y: 100}
		const writers = 8
		var wg sync.WaitGroup
		errs := make(chan error, writers)
		for g := 0; g < writers; g++ {
			wg.Add(1)
			go func(g int) {
				defer wg.Done()
				errs <- store.UpdateImage(ctx, c, func(img *skytile.TileImage) (*skytile.TileImage, error) {
					if img == nil {
						img = skytile.NewF32Tile()
					}
					img.F32.SetValue(g, 0, float32(g+1))
					return img, nil
				})
			}(g)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("concurrent update: %v\n", err)
			}
		}
		got, err := store.ReadImage(ctx, c)
		if err != nil {
			t.Fatalf("read after concurrent updates: %v\n", err)
		}
		for g := 0; g < writers; g++ {
			if v := got.F32.Value(g, 0); v != float32(g+1) {
				t.Errorf("writer %d's pixel is %v, expected %d\n", g, v, g+1)
			}
		}
		if n := got.LiveCount(); n != writers {
			t.Errorf("tile has %d live pixels after %d writers\n", n, writers)
		}
	})

	t.Run("ParityMatchesFormat", func(t *testing.T) {
		store := open(t, "f32")
		if got, want := store.VerticalParitySign(), store.DefaultFormat().ParitySign(); got != want {
			t.Errorf("store parity %d, format parity %d\n", got, want)
		}
		store2 := open(t, "png")
		if got := store2.VerticalParitySign(); got != -1 {
			t.Errorf("png store parity %d, expected -1\n", got)
		}
	})
}
