/*
	This file holds the tile image union type and its no-data conventions.
*/

package skytile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"math"
)

// TileSize is the pixel width and height of every pyramid tile.
const TileSize = 256

// ImageKind selects the arm of the TileImage union.
type ImageKind uint8

const (
	// KindNRGBA is 8-bit RGBA display imagery.  Zero alpha is the no-data state.
	KindNRGBA ImageKind = iota

	// KindF32 is float32 scalar scientific data.  NaN is the no-data state.
	KindF32
)

func (k ImageKind) String() string {
	switch k {
	case KindNRGBA:
		return "nrgba"
	case KindF32:
		return "f32"
	default:
		return fmt.Sprintf("unknown image kind %d", uint8(k))
	}
}

// Float32Image is an in-memory scalar image laid out like the standard
// library image types: Pix holds rows top to bottom, Stride is the number
// of float32 samples between vertically adjacent pixels.  NaN samples mark
// pixels with no source coverage.
type Float32Image struct {
	Pix    []float32
	Stride int
	Rect   image.Rectangle
}

// NewFloat32Image returns a NaN-filled scalar image with the given bounds.
func NewFloat32Image(r image.Rectangle) *Float32Image {
	pix := make([]float32, r.Dx()*r.Dy())
	nan := float32(math.NaN())
	for i := range pix {
		pix[i] = nan
	}
	return &Float32Image{Pix: pix, Stride: r.Dx(), Rect: r}
}

func (f *Float32Image) Bounds() image.Rectangle {
	return f.Rect
}

// PixOffset returns the index into Pix of the sample at (x, y).
func (f *Float32Image) PixOffset(x, y int) int {
	return (y-f.Rect.Min.Y)*f.Stride + (x - f.Rect.Min.X)
}

// Value returns the sample at (x, y), NaN outside the bounds.
func (f *Float32Image) Value(x, y int) float32 {
	if !(image.Point{x, y}.In(f.Rect)) {
		return float32(math.NaN())
	}
	return f.Pix[f.PixOffset(x, y)]
}

func (f *Float32Image) SetValue(x, y int, v float32) {
	if !(image.Point{x, y}.In(f.Rect)) {
		return
	}
	f.Pix[f.PixOffset(x, y)] = v
}

// TileImage is the pixel buffer for one pyramid tile.  A union of possible
// image types serializes better than a generic image.Image interface and
// keeps the no-data convention explicit per arm.
type TileImage struct {
	Which ImageKind
	NRGBA *image.NRGBA
	F32   *Float32Image
}

// NewNRGBATile returns a fully transparent (all no-data) color tile.
func NewNRGBATile() *TileImage {
	return &TileImage{
		Which: KindNRGBA,
		NRGBA: image.NewNRGBA(image.Rect(0, 0, TileSize, TileSize)),
	}
}

// NewF32Tile returns a NaN-filled (all no-data) scalar tile.
func NewF32Tile() *TileImage {
	return &TileImage{
		Which: KindF32,
		F32:   NewFloat32Image(image.Rect(0, 0, TileSize, TileSize)),
	}
}

// TileFromNRGBA wraps an existing NRGBA image as a tile image.
func TileFromNRGBA(img *image.NRGBA) *TileImage {
	return &TileImage{Which: KindNRGBA, NRGBA: img}
}

// TileFromF32 wraps an existing scalar image as a tile image.
func TileFromF32(img *Float32Image) *TileImage {
	return &TileImage{Which: KindF32, F32: img}
}

func (t *TileImage) Bounds() image.Rectangle {
	switch t.Which {
	case KindNRGBA:
		return t.NRGBA.Bounds()
	case KindF32:
		return t.F32.Bounds()
	default:
		return image.Rectangle{}
	}
}

// GetImage returns the standard library image underlying an NRGBA tile and
// nil for scalar tiles, which have no stdlib representation.
func (t *TileImage) GetImage() image.Image {
	if t.Which == KindNRGBA {
		return t.NRGBA
	}
	return nil
}

// NoDataAt returns whether the pixel at (x, y) carries no source coverage.
func (t *TileImage) NoDataAt(x, y int) bool {
	switch t.Which {
	case KindNRGBA:
		return t.NRGBA.NRGBAAt(x, y).A == 0
	case KindF32:
		return math.IsNaN(float64(t.F32.Value(x, y)))
	default:
		return true
	}
}

// AllNoData returns true when no pixel of the tile has source coverage.
// Such tiles are skipped by builds rather than persisted.
func (t *TileImage) AllNoData() bool {
	return t.LiveCount() == 0
}

// LiveCount returns the number of pixels carrying source coverage.
func (t *TileImage) LiveCount() int {
	var n int
	b := t.Bounds()
	switch t.Which {
	case KindNRGBA:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			i := t.NRGBA.PixOffset(b.Min.X, y)
			for x := b.Min.X; x < b.Max.X; x++ {
				if t.NRGBA.Pix[i+3] != 0 {
					n++
				}
				i += 4
			}
		}
	case KindF32:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			i := t.F32.PixOffset(b.Min.X, y)
			for x := b.Min.X; x < b.Max.X; x++ {
				if !math.IsNaN(float64(t.F32.Pix[i])) {
					n++
				}
				i++
			}
		}
	}
	return n
}

// ValueRange returns the minimum and maximum live sample of a scalar tile,
// and ok == false when the tile is not scalar or carries no live pixels.
func (t *TileImage) ValueRange() (min, max float64, ok bool) {
	if t.Which != KindF32 {
		return 0, 0, false
	}
	min = math.Inf(1)
	max = math.Inf(-1)
	b := t.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		i := t.F32.PixOffset(b.Min.X, y)
		for x := b.Min.X; x < b.Max.X; x++ {
			v := float64(t.F32.Pix[i])
			i++
			if math.IsNaN(v) {
				continue
			}
			ok = true
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}
	}
	if !ok {
		return 0, 0, false
	}
	return min, max, true
}

// Copy returns a deep copy sharing no pixel storage with the receiver.
func (t *TileImage) Copy() *TileImage {
	dup := &TileImage{Which: t.Which}
	switch t.Which {
	case KindNRGBA:
		pix := make([]uint8, len(t.NRGBA.Pix))
		copy(pix, t.NRGBA.Pix)
		dup.NRGBA = &image.NRGBA{Pix: pix, Stride: t.NRGBA.Stride, Rect: t.NRGBA.Rect}
	case KindF32:
		pix := make([]float32, len(t.F32.Pix))
		copy(pix, t.F32.Pix)
		dup.F32 = &Float32Image{Pix: pix, Stride: t.F32.Stride, Rect: t.F32.Rect}
	}
	return dup
}

// SetGray sets an NRGBA pixel to an opaque gray level.
func (t *TileImage) SetGray(x, y int, v uint8) {
	if t.Which == KindNRGBA {
		t.NRGBA.SetNRGBA(x, y, color.NRGBA{v, v, v, 0xff})
	}
}

// Serialize writes optionally compressed and checksummed bytes representing
// the tile pixel data.
func (t *TileImage) Serialize(compress Compression, checksum Checksum) ([]byte, error) {
	b, err := t.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return SerializeData(b, compress, checksum)
}

// Deserialize restores a tile from a possibly compressed, checksummed byte slice.
func (t *TileImage) Deserialize(b []byte) error {
	if t == nil {
		return fmt.Errorf("attempted to deserialize into nil tile image")
	}
	data, _, err := DeserializeData(b, true)
	if err != nil {
		return err
	}
	return t.UnmarshalBinary(data)
}

// MarshalBinary fulfills the encoding.BinaryMarshaler interface.  Layout is
// one kind byte, then little-endian int32 stride, dx, dy, then the compact
// row-major pixel payload.
func (t *TileImage) MarshalBinary() ([]byte, error) {
	var buffer bytes.Buffer
	if err := buffer.WriteByte(byte(t.Which)); err != nil {
		return nil, err
	}

	var stride int
	var rect image.Rectangle
	var pix []uint8

	switch t.Which {
	case KindNRGBA:
		stride = t.NRGBA.Stride
		rect = t.NRGBA.Rect
		src := t.NRGBA.Pix
		// Make sure the byte slice is compact and not harboring any offsets.
		if stride == 4*rect.Dx() && rect.Min.X == 0 && rect.Min.Y == 0 {
			pix = src
		} else {
			dx, dy := rect.Dx(), rect.Dy()
			rowbytes := 4 * dx
			pix = make([]uint8, rowbytes*dy)
			dstI := 0
			for y := rect.Min.Y; y < rect.Max.Y; y++ {
				srcI := t.NRGBA.PixOffset(rect.Min.X, y)
				copy(pix[dstI:dstI+rowbytes], src[srcI:srcI+rowbytes])
				dstI += rowbytes
			}
			stride = 4 * dx
			rect = image.Rect(0, 0, dx, dy)
		}

	case KindF32:
		rect = t.F32.Rect
		dx, dy := rect.Dx(), rect.Dy()
		pix = make([]uint8, 4*dx*dy)
		dstI := 0
		for y := rect.Min.Y; y < rect.Max.Y; y++ {
			srcI := t.F32.PixOffset(rect.Min.X, y)
			for x := 0; x < dx; x++ {
				binary.LittleEndian.PutUint32(pix[dstI:], math.Float32bits(t.F32.Pix[srcI]))
				srcI++
				dstI += 4
			}
		}
		stride = 4 * dx
		rect = image.Rect(0, 0, dx, dy)

	default:
		return nil, fmt.Errorf("cannot marshal %s tile image", t.Which)
	}

	if err := binary.Write(&buffer, binary.LittleEndian, int32(stride)); err != nil {
		return nil, err
	}
	if err := binary.Write(&buffer, binary.LittleEndian, int32(rect.Dx())); err != nil {
		return nil, err
	}
	if err := binary.Write(&buffer, binary.LittleEndian, int32(rect.Dy())); err != nil {
		return nil, err
	}
	if _, err := buffer.Write(pix); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

// UnmarshalBinary fulfills the encoding.BinaryUnmarshaler interface.
func (t *TileImage) UnmarshalBinary(b []byte) error {
	buffer := bytes.NewBuffer(b)
	kind, err := buffer.ReadByte()
	if err != nil {
		return err
	}
	t.Which = ImageKind(kind)

	var stride, dx, dy int32
	if err = binary.Read(buffer, binary.LittleEndian, &stride); err != nil {
		return err
	}
	if err = binary.Read(buffer, binary.LittleEndian, &dx); err != nil {
		return err
	}
	if err = binary.Read(buffer, binary.LittleEndian, &dy); err != nil {
		return err
	}
	rect := image.Rect(0, 0, int(dx), int(dy))
	pix := buffer.Bytes()

	switch t.Which {
	case KindNRGBA:
		if len(pix) != int(stride)*int(dy) {
			return fmt.Errorf("nrgba tile payload is %d bytes, expected %d", len(pix), int(stride)*int(dy))
		}
		t.NRGBA = &image.NRGBA{Stride: int(stride), Rect: rect, Pix: pix}
		t.F32 = nil

	case KindF32:
		if len(pix) != 4*int(dx)*int(dy) {
			return fmt.Errorf("f32 tile payload is %d bytes, expected %d", len(pix), 4*int(dx)*int(dy))
		}
		fpix := make([]float32, int(dx)*int(dy))
		for i := range fpix {
			fpix[i] = math.Float32frombits(binary.LittleEndian.Uint32(pix[4*i:]))
		}
		t.F32 = &Float32Image{Pix: fpix, Stride: int(dx), Rect: rect}
		t.NRGBA = nil

	default:
		return fmt.Errorf("cannot unmarshal tile image of kind %d", kind)
	}
	return nil
}
