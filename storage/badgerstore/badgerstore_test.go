package badgerstore

import (
	"context"
	"testing"

	"github.com/starfield-io/skytile"
	"github.com/starfield-io/skytile/pyramid"
	"github.com/starfield-io/skytile/storage"
	"github.com/starfield-io/skytile/storage/storetest"
)

func openAt(t *testing.T, path, format string) storage.TileStore {
	t.Helper()
	config := skytile.StoreConfig{
		Config: skytile.Config{"path": path, "format": format},
		Engine: "badgerstore",
	}
	store, _, err := storage.NewStore(config)
	if err != nil {
		t.Fatalf("can't open badgerstore: %v\n", err)
	}
	return store
}

func TestTileStoreContract(t *testing.T) {
	storetest.RunTileStoreTests(t, func(t *testing.T, format string) storage.TileStore {
		store := openAt(t, t.TempDir(), format)
		t.Cleanup(store.Close)
		return store
	})
}

func TestReopenPersists(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	c := pyramid.Coord{Depth: 3, X: 6, Y: 1}

	store := openAt(t, dir, "f32")
	img := skytile.NewF32Tile()
	img.F32.SetValue(100, 200, 3.5)
	if err := store.WriteImage(ctx, c, img); err != nil {
		t.Fatalf("write: %v\n", err)
	}
	meta := storage.MetaFor(img, "badgerstore test")
	if err := storage.WriteTileMeta(ctx, store, c, meta); err != nil {
		t.Fatalf("write metadata: %v\n", err)
	}
	store.Close()

	store = openAt(t, dir, "f32")
	defer store.Close()
	got, err := store.ReadImage(ctx, c)
	if err != nil {
		t.Fatalf("read after reopen: %v\n", err)
	}
	if v := got.F32.Value(100, 200); v != 3.5 {
		t.Errorf("pixel after reopen is %v, expected 3.5\n", v)
	}
	gotMeta, err := storage.ReadTileMeta(ctx, store, c)
	if err != nil {
		t.Fatalf("read metadata after reopen: %v\n", err)
	}
	if gotMeta.Live != meta.Live || gotMeta.Min != meta.Min || gotMeta.Max != meta.Max {
		t.Errorf("metadata after reopen %+v, expected %+v\n", gotMeta, meta)
	}
}

func TestEngineRegistered(t *testing.T) {
	e := storage.GetEngine("badgerstore")
	if e == nil {
		t.Fatalf("badgerstore engine not registered\n")
	}
	if e.GetName() != "badgerstore" {
		t.Errorf("engine name %q\n", e.GetName())
	}
	if e.GetDescription() == "" {
		t.Errorf("engine has no description\n")
	}
}
