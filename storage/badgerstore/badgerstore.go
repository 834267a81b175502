/*
	Package badgerstore implements a tile store over an embedded BadgerDB.
	One key per tile plus one per metadata sidecar, both under the same
	path-shaped keys the file engines use, so a pyramid can be copied
	between engines without recomputing anything.

	Badger takes an exclusive directory lock, so a store is owned by one
	process at a time and writer arbitration reduces to in-process
	serialization per coordinate.
*/
package badgerstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/blang/semver"
	"github.com/dgraph-io/badger/v3"

	"github.com/starfield-io/skytile"
	"github.com/starfield-io/skytile/pyramid"
	"github.com/starfield-io/skytile/storage"
)

// DefaultSyncWrites is false because a crashed build is rerun anyway;
// a periodic sync bounds the loss window instead.
const DefaultSyncWrites = false

func init() {
	ver, err := semver.Make("0.1.0")
	if err != nil {
		skytile.Errorf("Unable to make semver in badgerstore: %v\n", err)
	}
	e := Engine{"badgerstore", "Embedded BadgerDB tile store", ver}
	storage.RegisterEngine(e)
}

// --- Engine Implementation ------

type Engine struct {
	name   string
	desc   string
	semver semver.Version
}

func (e Engine) GetName() string {
	return e.name
}

func (e Engine) GetDescription() string {
	return e.desc
}

func (e Engine) GetSemVer() semver.Version {
	return e.semver
}

func (e Engine) String() string {
	return fmt.Sprintf("%s [%s]", e.name, e.semver)
}

// NewStore returns a BadgerDB-backed tile store.  The passed Config
// must contain a "path" setting.
func (e Engine) NewStore(config skytile.StoreConfig) (storage.TileStore, bool, error) {
	return e.newStore(config)
}

func parseConfig(config skytile.StoreConfig) (path string, format storage.Format, err error) {
	c := config.GetAll()

	v, found := c["path"]
	if !found {
		err = fmt.Errorf("%q must be specified for badgerstore configuration", "path")
		return
	}
	var ok bool
	path, ok = v.(string)
	if !ok {
		err = fmt.Errorf("%q setting must be a string (%v)", "path", v)
		return
	}

	formatName, _, err := config.GetString("format")
	if err != nil {
		return
	}
	if format, err = storage.FormatByName(formatName); err != nil {
		return
	}

	v, found = c["testing"]
	if found {
		testing, ok := v.(bool)
		if !ok {
			err = fmt.Errorf("%q setting must be a bool (%v)", "testing", v)
			return
		}
		if testing {
			path = filepath.Join(os.TempDir(), path)
		}
	}
	return
}

func getOptions(path string, config skytile.Config) (*badger.Options, error) {
	opts := badger.DefaultOptions(path)

	readOnly, found, err := config.GetBool("ReadOnly")
	if err != nil {
		return nil, err
	}
	if found {
		opts.ReadOnly = readOnly
	}

	valueSizeThresh, found, err := config.GetInt("ValueThreshold")
	if err != nil {
		return nil, err
	}
	if found {
		opts = opts.WithValueThreshold(int64(valueSizeThresh))
	}

	vlogSize, found, err := config.GetInt("ValueLogFileSize")
	if err != nil {
		return nil, err
	}
	if found {
		opts = opts.WithValueLogFileSize(int64(vlogSize))
	}

	opts = opts.WithLoggingLevel(badger.WARNING)
	return &opts, nil
}

// Periodically sync to bound how many buffered writes a crash can lose.
func syncPeriodically(s *badgerStore) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopSyncCh:
			skytile.Infof("Stopping sync goroutine for badgerstore @ %s\n", s.path)
			return
		case <-ticker.C:
			s.db.Sync()
		}
	}
}

type badgerStore struct {
	path       string
	config     skytile.StoreConfig
	format     storage.Format
	db         *badger.DB
	locks      *storage.LockTable
	stopSyncCh chan bool
}

// newStore returns a Badger backend, creating one at path if it
// doesn't exist.
func (e Engine) newStore(config skytile.StoreConfig) (*badgerStore, bool, error) {
	path, format, err := parseConfig(config)
	if err != nil {
		return nil, false, err
	}

	var created bool
	if _, err := os.Stat(path); os.IsNotExist(err) {
		skytile.Infof("Tile database not already at path (%s). Creating directory...\n", path)
		created = true
		if err := os.MkdirAll(path, 0744); err != nil {
			return nil, true, fmt.Errorf("can't make directory at %s: %v", path, err)
		}
	} else {
		skytile.Infof("Found directory at %s (err = %v)\n", path, err)
	}

	opts, err := getOptions(path, config.Config)
	if err != nil {
		return nil, false, err
	}
	opts.NumVersionsToKeep = 1
	opts.SyncWrites = DefaultSyncWrites

	skytile.Infof("Opening badgerstore @ path %s\n", path)
	db, err := badger.Open(*opts)
	if err != nil {
		return nil, false, err
	}

	store := &badgerStore{
		path:       path,
		config:     config,
		format:     format,
		db:         db,
		locks:      storage.NewLockTable(),
		stopSyncCh: make(chan bool),
	}
	go syncPeriodically(store)
	return store, created, nil
}

// ---- Store interface ------

func (s *badgerStore) String() string {
	return fmt.Sprintf("badgerstore @ %s", s.path)
}

func (s *badgerStore) Close() {
	close(s.stopSyncCh)
	if err := s.db.Close(); err != nil {
		skytile.Errorf("Error closing badgerstore @ %s: %v\n", s.path, err)
	}
}

func (s *badgerStore) Equal(config skytile.StoreConfig) bool {
	path, _, err := parseConfig(config)
	if err != nil {
		return false
	}
	return path == s.path
}

// ---- TileStore interface ------

func (s *badgerStore) TilePath(c pyramid.Coord) string {
	return storage.TilePath(c, s.format.Ext())
}

func (s *badgerStore) tileKey(c pyramid.Coord) []byte {
	return []byte(s.TilePath(c))
}

func (s *badgerStore) metaKey(c pyramid.Coord) []byte {
	return []byte(storage.MetaPath(c, s.format.Ext()))
}

// get returns the value for a key, nil with found == false when the
// key is absent.
func (s *badgerStore) get(key []byte) (value []byte, found bool, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		value, err = item.ValueCopy(nil)
		return err
	})
	return
}

func (s *badgerStore) ReadImage(ctx context.Context, c pyramid.Coord) (*skytile.TileImage, error) {
	value, found, err := s.get(s.tileKey(c))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("tile %s: %w", c, storage.ErrTileNotFound)
	}
	img, err := s.format.Decode(bytes.NewReader(value))
	if err != nil {
		return nil, fmt.Errorf("tile %s: %v: %w", c, err, storage.ErrTileCorrupt)
	}
	return img, nil
}

func (s *badgerStore) WriteImage(ctx context.Context, c pyramid.Coord, img *skytile.TileImage) error {
	var buf bytes.Buffer
	if err := s.format.Encode(&buf, img); err != nil {
		return fmt.Errorf("tile %s: %v", c, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.tileKey(c), buf.Bytes())
	})
}

func (s *badgerStore) UpdateImage(ctx context.Context, c pyramid.Coord, mut func(*skytile.TileImage) (*skytile.TileImage, error)) error {
	if err := s.locks.Acquire(ctx, c); err != nil {
		return err
	}
	defer s.locks.Release(c)

	img, err := s.ReadImage(ctx, c)
	if err != nil {
		if !errors.Is(err, storage.ErrTileNotFound) {
			return err
		}
		img = nil
	}
	out, err := mut(img)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return s.WriteImage(ctx, c, out)
}

func (s *badgerStore) Exists(ctx context.Context, c pyramid.Coord) (bool, error) {
	_, found, err := s.get(s.tileKey(c))
	return found, err
}

func (s *badgerStore) OpenMetadataForRead(ctx context.Context, c pyramid.Coord) (io.ReadCloser, error) {
	value, found, err := s.get(s.metaKey(c))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("tile %s metadata: %w", c, storage.ErrTileNotFound)
	}
	return io.NopCloser(bytes.NewReader(value)), nil
}

func (s *badgerStore) OpenMetadataForWrite(ctx context.Context, c pyramid.Coord) (io.WriteCloser, error) {
	return &metaWriter{db: s.db, key: s.metaKey(c)}, nil
}

// CleanLockfiles is a no-op: badger's exclusive directory lock limits
// a store to one process, so there are no durable lock records.
func (s *badgerStore) CleanLockfiles(olderThan time.Duration) (int, error) {
	return 0, nil
}

func (s *badgerStore) DefaultFormat() storage.Format {
	return s.format
}

func (s *badgerStore) PathScheme() string {
	return storage.PathScheme
}

func (s *badgerStore) VerticalParitySign() int {
	return s.format.ParitySign()
}

// metaWriter buffers the sidecar and commits it in one transaction at
// Close.
type metaWriter struct {
	db  *badger.DB
	key []byte
	buf bytes.Buffer
}

func (w *metaWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *metaWriter) Close() error {
	return w.db.Update(func(txn *badger.Txn) error {
		return txn.Set(w.key, w.buf.Bytes())
	})
}
