/*
	This file holds the tile metadata sidecar and its helpers.
*/

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/starfield-io/skytile"
	"github.com/starfield-io/skytile/pyramid"
)

// TileMeta is the JSON sidecar persisted next to each tile.  Min and
// Max carry the live sample range of scalar tiles so viewers can pick
// a stretch without touching pixel data; both are zero for color tiles.
type TileMeta struct {
	Min     float64   `json:"min"`
	Max     float64   `json:"max"`
	Live    int       `json:"live"`
	Written time.Time `json:"written"`
	Builder string    `json:"builder,omitempty"`
}

// MetaFor summarizes a tile about to be persisted.
func MetaFor(img *skytile.TileImage, builder string) TileMeta {
	m := TileMeta{
		Live:    img.LiveCount(),
		Written: time.Now().UTC(),
		Builder: builder,
	}
	if min, max, ok := img.ValueRange(); ok {
		m.Min, m.Max = min, max
	}
	return m
}

// MergeRange widens the receiver's value range to cover a child's.
// Children without live samples contribute nothing.  The receiver must
// already summarize its own tile (MetaFor): a zero-Live receiver has
// no range of its own and adopts the child's outright.
func (m *TileMeta) MergeRange(child TileMeta) {
	if child.Live == 0 {
		return
	}
	if m.Live == 0 || child.Min < m.Min {
		m.Min = child.Min
	}
	if m.Live == 0 || child.Max > m.Max {
		m.Max = child.Max
	}
}

// ReadTileMeta loads a coordinate's sidecar.  ErrTileNotFound when the
// sidecar is absent.
func ReadTileMeta(ctx context.Context, s TileStore, c pyramid.Coord) (TileMeta, error) {
	rc, err := s.OpenMetadataForRead(ctx, c)
	if err != nil {
		return TileMeta{}, err
	}
	defer rc.Close()
	var m TileMeta
	if err := json.NewDecoder(rc).Decode(&m); err != nil {
		return TileMeta{}, fmt.Errorf("tile %s metadata: %v", c, err)
	}
	return m, nil
}

// WriteTileMeta publishes a coordinate's sidecar.
func WriteTileMeta(ctx context.Context, s TileStore, c pyramid.Coord, m TileMeta) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	wc, err := s.OpenMetadataForWrite(ctx, c)
	if err != nil {
		return err
	}
	if _, err := wc.Write(b); err != nil {
		wc.Close()
		return err
	}
	return wc.Close()
}
