package skytile

import (
	"image/color"
	"math"
	"testing"
)

func TestF32TileNoData(t *testing.T) {
	tile := NewF32Tile()
	if !tile.AllNoData() {
		t.Errorf("Fresh f32 tile should be all no-data\n")
	}
	tile.F32.SetValue(3, 7, 42.5)
	if tile.AllNoData() {
		t.Errorf("Tile with one live pixel reported as all no-data\n")
	}
	if n := tile.LiveCount(); n != 1 {
		t.Errorf("LiveCount got %d, expected 1\n", n)
	}
	if tile.NoDataAt(3, 7) {
		t.Errorf("Live pixel reported as no-data\n")
	}
	if !tile.NoDataAt(0, 0) {
		t.Errorf("NaN pixel not reported as no-data\n")
	}
}

func TestNRGBATileNoData(t *testing.T) {
	tile := NewNRGBATile()
	if !tile.AllNoData() {
		t.Errorf("Fresh NRGBA tile should be all no-data\n")
	}
	tile.NRGBA.SetNRGBA(10, 20, color.NRGBA{100, 100, 100, 255})
	if got := tile.LiveCount(); got != 1 {
		t.Errorf("LiveCount got %d, expected 1\n", got)
	}
	if tile.NoDataAt(10, 20) {
		t.Errorf("Opaque pixel reported as no-data\n")
	}
}

func TestF32TileMarshalRoundTrip(t *testing.T) {
	tile := NewF32Tile()
	tile.F32.SetValue(0, 0, -1.5)
	tile.F32.SetValue(255, 255, 3.25)
	tile.F32.SetValue(17, 200, 100)

	b, err := tile.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v\n", err)
	}
	var restored TileImage
	if err := restored.UnmarshalBinary(b); err != nil {
		t.Fatalf("UnmarshalBinary: %v\n", err)
	}
	if restored.Which != KindF32 {
		t.Fatalf("Restored kind %s, expected %s\n", restored.Which, KindF32)
	}
	if got := restored.F32.Value(0, 0); got != -1.5 {
		t.Errorf("Pixel (0,0) got %g, expected -1.5\n", got)
	}
	if got := restored.F32.Value(255, 255); got != 3.25 {
		t.Errorf("Pixel (255,255) got %g, expected 3.25\n", got)
	}
	// NaN no-data must survive bit-exactly.
	if !math.IsNaN(float64(restored.F32.Value(128, 128))) {
		t.Errorf("No-data pixel lost NaN through marshal round trip\n")
	}
	if got, want := restored.LiveCount(), 3; got != want {
		t.Errorf("Restored LiveCount got %d, expected %d\n", got, want)
	}
}

func TestNRGBATileSerializeRoundTrip(t *testing.T) {
	tile := NewNRGBATile()
	tile.NRGBA.SetNRGBA(1, 2, color.NRGBA{10, 20, 30, 255})
	tile.NRGBA.SetNRGBA(200, 100, color.NRGBA{40, 50, 60, 128})

	for _, compression := range []Compression{Uncompressed, Snappy, LZ4, Gzip} {
		s, err := tile.Serialize(compression, CRC32)
		if err != nil {
			t.Fatalf("Serialize with %s: %v\n", compression, err)
		}
		var restored TileImage
		if err := restored.Deserialize(s); err != nil {
			t.Fatalf("Deserialize with %s: %v\n", compression, err)
		}
		if got := restored.NRGBA.NRGBAAt(1, 2); got != (color.NRGBA{10, 20, 30, 255}) {
			t.Errorf("Pixel (1,2) got %v after %s round trip\n", got, compression)
		}
		if got := restored.NRGBA.NRGBAAt(200, 100); got != (color.NRGBA{40, 50, 60, 128}) {
			t.Errorf("Pixel (200,100) got %v after %s round trip\n", got, compression)
		}
	}
}

func TestValueRange(t *testing.T) {
	tile := NewF32Tile()
	if _, _, ok := tile.ValueRange(); ok {
		t.Errorf("All no-data tile should have no value range\n")
	}
	tile.F32.SetValue(0, 0, -2)
	tile.F32.SetValue(5, 5, 7)
	tile.F32.SetValue(9, 9, 3)
	min, max, ok := tile.ValueRange()
	if !ok {
		t.Fatalf("Expected a value range\n")
	}
	if min != -2 || max != 7 {
		t.Errorf("ValueRange got [%g, %g], expected [-2, 7]\n", min, max)
	}

	rgba := NewNRGBATile()
	if _, _, ok := rgba.ValueRange(); ok {
		t.Errorf("NRGBA tile should have no scalar value range\n")
	}
}

func TestTileCopyIsDeep(t *testing.T) {
	tile := NewF32Tile()
	tile.F32.SetValue(4, 4, 1)
	dup := tile.Copy()
	dup.F32.SetValue(4, 4, 2)
	if got := tile.F32.Value(4, 4); got != 1 {
		t.Errorf("Copy shares pixel storage: original changed to %g\n", got)
	}
}
