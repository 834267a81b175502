/*
	This file holds the tile encoding registry shared by all engines.
*/

package storage

import (
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"
	"io"
	"sort"
	"strings"

	"golang.org/x/image/tiff"

	"github.com/starfield-io/skytile"
)

// Format encodes tile pixel buffers to persisted bytes and back.  A
// store is opened with one format and uses it for every tile.
type Format interface {
	// Name is the registry key, also accepted in store configs.
	Name() string

	// Ext is the filename extension used by the path scheme.
	Ext() string

	// ParitySign is +1 for bottom-up row order (FITS-like), -1 for
	// top-down (PNG-like).  Downsampling consults it to place child
	// quadrants within the parent.
	ParitySign() int

	Encode(w io.Writer, img *skytile.TileImage) error
	Decode(r io.Reader) (*skytile.TileImage, error)
}

var formats = map[string]Format{
	"png":  pngFormat{},
	"jpg":  jpgFormat{},
	"tiff": tiffFormat{},
	"f32":  f32Format{},
}

// FormatByName resolves a format registry key, accepting "jpeg" as an
// alias for "jpg".  The empty string resolves to png.
func FormatByName(name string) (Format, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	switch key {
	case "":
		key = "png"
	case "jpeg":
		key = "jpg"
	}
	f, found := formats[key]
	if !found {
		return nil, fmt.Errorf("unknown tile format %q, choices: %s", name, FormatNames())
	}
	return f, nil
}

// FormatNames lists the registered format keys for error messages.
func FormatNames() string {
	names := make([]string, 0, len(formats))
	for name := range formats {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// toNRGBA returns src as an NRGBA image, converting when the decoder
// produced a different in-memory representation.
func toNRGBA(src image.Image) *image.NRGBA {
	if n, ok := src.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return n
	}
	b := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

// ---- Format implementation: png -----

type pngFormat struct{}

func (pngFormat) Name() string    { return "png" }
func (pngFormat) Ext() string     { return "png" }
func (pngFormat) ParitySign() int { return -1 }

func (pngFormat) Encode(w io.Writer, img *skytile.TileImage) error {
	if img.Which != skytile.KindNRGBA {
		return fmt.Errorf("png format cannot encode %s tiles", img.Which)
	}
	return png.Encode(w, img.NRGBA)
}

func (pngFormat) Decode(r io.Reader) (*skytile.TileImage, error) {
	src, err := png.Decode(r)
	if err != nil {
		return nil, err
	}
	return skytile.TileFromNRGBA(toNRGBA(src)), nil
}

// ---- Format implementation: jpg -----

// jpegQuality trades file size against ringing around point sources.
const jpegQuality = 90

type jpgFormat struct{}

func (jpgFormat) Name() string    { return "jpg" }
func (jpgFormat) Ext() string     { return "jpg" }
func (jpgFormat) ParitySign() int { return -1 }

// Encode flattens the tile to opaque JPEG.  The format has no alpha
// channel, so the no-data distinction does not survive a round trip;
// builds that must resume from stored tiles should prefer png.
func (jpgFormat) Encode(w io.Writer, img *skytile.TileImage) error {
	if img.Which != skytile.KindNRGBA {
		return fmt.Errorf("jpg format cannot encode %s tiles", img.Which)
	}
	return jpeg.Encode(w, img.NRGBA, &jpeg.Options{Quality: jpegQuality})
}

func (jpgFormat) Decode(r io.Reader) (*skytile.TileImage, error) {
	src, err := jpeg.Decode(r)
	if err != nil {
		return nil, err
	}
	return skytile.TileFromNRGBA(toNRGBA(src)), nil
}

// ---- Format implementation: tiff -----

type tiffFormat struct{}

func (tiffFormat) Name() string    { return "tiff" }
func (tiffFormat) Ext() string     { return "tiff" }
func (tiffFormat) ParitySign() int { return -1 }

func (tiffFormat) Encode(w io.Writer, img *skytile.TileImage) error {
	if img.Which != skytile.KindNRGBA {
		return fmt.Errorf("tiff format cannot encode %s tiles", img.Which)
	}
	return tiff.Encode(w, img.NRGBA, &tiff.Options{Compression: tiff.Deflate})
}

func (tiffFormat) Decode(r io.Reader) (*skytile.TileImage, error) {
	src, err := tiff.Decode(r)
	if err != nil {
		return nil, err
	}
	return skytile.TileFromNRGBA(toNRGBA(src)), nil
}

// ---- Format implementation: f32 -----

// f32Format persists the tile's own binary marshaling inside the
// compressed, checksummed serialization envelope.  It is the only
// format that preserves scalar samples and NaN no-data exactly, and
// the only one that accepts both tile kinds.
type f32Format struct{}

func (f32Format) Name() string    { return "f32" }
func (f32Format) Ext() string     { return "f32" }
func (f32Format) ParitySign() int { return 1 }

func (f32Format) Encode(w io.Writer, img *skytile.TileImage) error {
	b, err := img.Serialize(skytile.DefaultCompression, skytile.DefaultChecksum)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

func (f32Format) Decode(r io.Reader) (*skytile.TileImage, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var img skytile.TileImage
	if err := img.Deserialize(b); err != nil {
		return nil, err
	}
	return &img, nil
}
