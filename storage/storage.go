/*
Package storage defines the tiled-storage contract: mapping a tile
coordinate to a physical location under a configurable root, persisting
and retrieving tile pixel data and sidecar metadata, and arbitrating
concurrent writers through advisory lock records.

Engines register themselves on import, so a main package brings in the
backends it wants:

	import (
		_ "github.com/starfield-io/skytile/storage/badgerstore"
		_ "github.com/starfield-io/skytile/storage/blobstore"
		_ "github.com/starfield-io/skytile/storage/tilefile"
	)

and opens one by name through NewStore.
*/
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/blang/semver"

	"github.com/starfield-io/skytile"
	"github.com/starfield-io/skytile/pyramid"
)

var (
	// ErrTileNotFound means the coordinate was never written or was
	// skipped as empty.
	ErrTileNotFound = errors.New("tile not found")

	// ErrTileCorrupt means persisted content exists but cannot be
	// decoded.
	ErrTileCorrupt = errors.New("tile data corrupt")

	// ErrLockContention means another writer held the coordinate's
	// lock past the configured acquisition policy.
	ErrLockContention = errors.New("tile lock contention")
)

// PathScheme is the layout every engine maps coordinates through: one
// directory per depth, then per grid row, then row_column files.
// Stability of this scheme across runs is what makes builds resumable.
const PathScheme = "{depth}/{y}/{y}_{x}.{ext}"

// TilePath renders the standard path scheme for a coordinate with the
// given filename extension.
func TilePath(c pyramid.Coord, ext string) string {
	return fmt.Sprintf("%d/%d/%d_%d.%s", c.Depth, c.Y, c.Y, c.X, ext)
}

// MetaPath is the sidecar location for a tile's metadata.
func MetaPath(c pyramid.Coord, ext string) string {
	return TilePath(c, ext) + ".meta"
}

// TileStore is the storage contract for one pyramid root.  All methods
// are safe for concurrent use; writes to the same coordinate serialize
// through the engine's locking discipline, writes to different
// coordinates need no coordination.
type TileStore interface {
	skytile.Store

	// TilePath returns the location for a coordinate relative to the
	// store root: deterministic, collision-free, stable across runs.
	TilePath(c pyramid.Coord) string

	// ReadImage loads a tile.  ErrTileNotFound when absent,
	// ErrTileCorrupt when undecodable.  Never returns a torn tile:
	// engines publish atomically.
	ReadImage(ctx context.Context, c pyramid.Coord) (*skytile.TileImage, error)

	// WriteImage fully replaces the coordinate's content.  Writing
	// identical data twice leaves the same observable state.
	WriteImage(ctx context.Context, c pyramid.Coord, img *skytile.TileImage) error

	// UpdateImage runs a read-modify-write under the coordinate's
	// lock.  The mutator receives nil when the tile does not exist;
	// returning (nil, nil) leaves the tile unchanged.
	UpdateImage(ctx context.Context, c pyramid.Coord, mut func(*skytile.TileImage) (*skytile.TileImage, error)) error

	// Exists is a cheap presence probe for resume-skip decisions.
	Exists(ctx context.Context, c pyramid.Coord) (bool, error)

	// OpenMetadataForRead opens the coordinate's metadata sidecar,
	// ErrTileNotFound when absent.
	OpenMetadataForRead(ctx context.Context, c pyramid.Coord) (io.ReadCloser, error)

	// OpenMetadataForWrite returns a handle whose Close publishes the
	// sidecar atomically.  A Write error aborts publication, and an
	// abandoned handle publishes nothing.
	OpenMetadataForWrite(ctx context.Context, c pyramid.Coord) (io.WriteCloser, error)

	// CleanLockfiles sweeps lock records older than the threshold,
	// returning how many were removed.  Fresher locks, including any
	// held by live writers, are left alone.
	CleanLockfiles(olderThan time.Duration) (int, error)

	// DefaultFormat is the tile encoding this store was opened with.
	DefaultFormat() Format

	// PathScheme describes the location layout, for callers emitting
	// viewer configuration.
	PathScheme() string

	// VerticalParitySign is +1 when the default format stores rows
	// bottom-up (FITS-like), -1 for top-down (PNG-like).
	VerticalParitySign() int
}

// Alias is a nickname for a store configuration, the key of the
// run configuration's [store.<alias>] sections.
type Alias string

// Engine is a storage backend that can open TileStores.
type Engine interface {
	fmt.Stringer

	GetName() string
	GetDescription() string
	GetSemVer() semver.Version

	// NewStore opens (creating if necessary) the store described by
	// the config.  The bool is true if the store was newly created.
	NewStore(config skytile.StoreConfig) (TileStore, bool, error)
}

var (
	enginesMu sync.Mutex
	engines   = map[string]Engine{}
)

// RegisterEngine makes an engine available to NewStore.  Expected to
// be called from engine package init.
func RegisterEngine(e Engine) {
	enginesMu.Lock()
	defer enginesMu.Unlock()
	name := e.GetName()
	if _, dup := engines[name]; dup {
		skytile.Criticalf("Engine %q registered twice, keeping first registration\n", name)
		return
	}
	engines[name] = e
}

// GetEngine returns a registered engine by name, nil if absent.
func GetEngine(name string) Engine {
	enginesMu.Lock()
	defer enginesMu.Unlock()
	return engines[name]
}

// EnginesAvailable describes the registered engines for log and error
// messages.
func EnginesAvailable() string {
	enginesMu.Lock()
	defer enginesMu.Unlock()
	var s string
	for _, e := range engines {
		if s != "" {
			s += "; "
		}
		s += e.String()
	}
	return s
}

// NewStore opens a store using the engine named in the config.
func NewStore(config skytile.StoreConfig) (TileStore, bool, error) {
	e := GetEngine(config.Engine)
	if e == nil {
		return nil, false, fmt.Errorf("engine %q not available, choices: %s", config.Engine, EnginesAvailable())
	}
	return e.NewStore(config)
}

// LockPolicy bounds how long a writer waits for a coordinate's lock
// record.  Retries < 0 blocks until acquisition or context
// cancellation; otherwise acquisition fails with ErrLockContention
// after Retries failed attempts spaced by Backoff.
type LockPolicy struct {
	Retries int
	Backoff time.Duration
}

// DefaultLockPolicy waits roughly a second before surfacing
// contention.
var DefaultLockPolicy = LockPolicy{Retries: 50, Backoff: 20 * time.Millisecond}

// LockPolicyFromConfig reads the shared lock settings engines accept:
// "lock_retries" and "lock_backoff_ms".
func LockPolicyFromConfig(c skytile.Config) (LockPolicy, error) {
	p := DefaultLockPolicy
	retries, found, err := c.GetInt("lock_retries")
	if err != nil {
		return p, err
	}
	if found {
		p.Retries = retries
	}
	backoff, found, err := c.GetInt("lock_backoff_ms")
	if err != nil {
		return p, err
	}
	if found {
		p.Backoff = time.Duration(backoff) * time.Millisecond
	}
	return p, nil
}

// Wait sleeps one backoff period, honoring cancellation.
func (p LockPolicy) Wait(ctx context.Context) error {
	t := time.NewTimer(p.Backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
