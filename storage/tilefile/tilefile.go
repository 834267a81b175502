/*
	Package tilefile implements a tile store over a plain directory tree,
	laid out exactly as a static web server would serve it.  Tiles land
	under {depth}/{y}/{y}_{x}.{ext} via atomic rename, so readers never
	observe a torn tile and interrupted builds leave no partial files.

	Concurrent writers on the same coordinate are arbitrated by .lock
	files holding the owner's id, created with O_EXCL.  Locks abandoned
	by crashed builders are swept by CleanLockfiles.
*/
package tilefile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/blang/semver"
	"github.com/coocood/freecache"
	"github.com/google/renameio"
	"github.com/twinj/uuid"

	"github.com/starfield-io/skytile"
	"github.com/starfield-io/skytile/pyramid"
	"github.com/starfield-io/skytile/storage"
)

func init() {
	ver, err := semver.Make("0.1.0")
	if err != nil {
		skytile.Errorf("Unable to make semver in tilefile: %v\n", err)
	}
	e := Engine{"tilefile", "Directory tree of tile files", ver}
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

// NewStore returns a directory-backed tile store.  The passed Config
// must contain a "path" setting.
func (e Engine) NewStore(config skytile.StoreConfig) (storage.TileStore, bool, error) {
	return e.newStore(config)
}

func parseConfig(config skytile.StoreConfig) (path string, format storage.Format, cacheBytes int, policy storage.LockPolicy, err error) {
	c := config.GetAll()

	v, found := c["path"]
	if !found {
		err = fmt.Errorf("%q must be specified for tilefile configuration", "path")
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

	cacheMB, _, err := config.GetInt("cache_mb")
	if err != nil {
		return
	}
	cacheBytes = cacheMB << 20

	policy, err = storage.LockPolicyFromConfig(config.Config)
	if err != nil {
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

type tileStore struct {
	path   string
	config skytile.StoreConfig
	format storage.Format
	policy storage.LockPolicy
	locks  *storage.LockTable
	cache  *freecache.Cache
}

// newStore returns a directory-backed tile store, insuring a directory
// at the path.
func (e Engine) newStore(config skytile.StoreConfig) (*tileStore, bool, error) {
	path, format, cacheBytes, policy, err := parseConfig(config)
	if err != nil {
		return nil, false, err
	}

	var created bool
	if _, err := os.Stat(path); os.IsNotExist(err) {
		skytile.Infof("Tile store not already at path (%s). Creating ...\n", path)
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, false, err
		}
		created = true
	} else {
		skytile.Infof("Found tile store at %s (err = %v)\n", path, err)
	}

	store := &tileStore{
		path:   path,
		config: config,
		format: format,
		policy: policy,
		locks:  storage.NewLockTable(),
	}
	if cacheBytes > 0 {
		store.cache = freecache.NewCache(cacheBytes)
		skytile.Infof("Created tile read cache of ~ %d MB for store @ %s\n", cacheBytes>>20, path)
	}
	return store, created, nil
}

// ---- Store interface ------

func (ts *tileStore) String() string {
	return fmt.Sprintf("tile files @ %s", ts.path)
}

func (ts *tileStore) Close() {}

func (ts *tileStore) Equal(config skytile.StoreConfig) bool {
	path, _, _, _, err := parseConfig(config)
	if err != nil {
		return false
	}
	return path == ts.path
}

// ---- TileStore interface ------

func (ts *tileStore) TilePath(c pyramid.Coord) string {
	return storage.TilePath(c, ts.format.Ext())
}

func (ts *tileStore) abspath(c pyramid.Coord) string {
	return filepath.Join(ts.path, filepath.FromSlash(ts.TilePath(c)))
}

func (ts *tileStore) ReadImage(ctx context.Context, c pyramid.Coord) (*skytile.TileImage, error) {
	key := []byte(ts.TilePath(c))
	if ts.cache != nil {
		if data, err := ts.cache.Get(key); err == nil {
			return ts.decode(c, data)
		} else if err != freecache.ErrNotFound {
			skytile.Errorf("Tile cache get for %s: %v\n", c, err)
		}
	}
	data, err := ts.readDisk(c)
	if err != nil {
		return nil, err
	}
	if ts.cache != nil {
		ts.cache.Set(key, data, 0)
	}
	return ts.decode(c, data)
}

// readDisk loads a tile's bytes straight from the filesystem.
// UpdateImage reads through it while holding the coordinate lock: the
// cache can lag writers in other processes.
func (ts *tileStore) readDisk(c pyramid.Coord) ([]byte, error) {
	data, err := os.ReadFile(ts.abspath(c))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("tile %s: %w", c, storage.ErrTileNotFound)
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (ts *tileStore) decode(c pyramid.Coord, data []byte) (*skytile.TileImage, error) {
	img, err := ts.format.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("tile %s: %v: %w", c, err, storage.ErrTileCorrupt)
	}
	return img, nil
}

func (ts *tileStore) WriteImage(ctx context.Context, c pyramid.Coord, img *skytile.TileImage) error {
	var buf bytes.Buffer
	if err := ts.format.Encode(&buf, img); err != nil {
		return fmt.Errorf("tile %s: %v", c, err)
	}
	abs := ts.abspath(c)
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return err
	}
	if err := renameio.WriteFile(abs, buf.Bytes(), 0644); err != nil {
		return err
	}
	if ts.cache != nil {
		key := []byte(ts.TilePath(c))
		if err := ts.cache.Set(key, buf.Bytes(), 0); err != nil {
			ts.cache.Del(key)
		}
	}
	return nil
}

func (ts *tileStore) UpdateImage(ctx context.Context, c pyramid.Coord, mut func(*skytile.TileImage) (*skytile.TileImage, error)) error {
	if err := ts.locks.Acquire(ctx, c); err != nil {
		return err
	}
	defer ts.locks.Release(c)

	abs := ts.abspath(c)
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return err
	}
	lockPath, err := ts.acquireLockFile(ctx, abs)
	if err != nil {
		return err
	}
	defer os.Remove(lockPath)

	var img *skytile.TileImage
	data, err := ts.readDisk(c)
	switch {
	case err == nil:
		if img, err = ts.decode(c, data); err != nil {
			return err
		}
	case errors.Is(err, storage.ErrTileNotFound):
	default:
		return err
	}
	out, err := mut(img)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return ts.WriteImage(ctx, c, out)
}

func (ts *tileStore) Exists(ctx context.Context, c pyramid.Coord) (bool, error) {
	_, err := os.Stat(ts.abspath(c))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (ts *tileStore) OpenMetadataForRead(ctx context.Context, c pyramid.Coord) (io.ReadCloser, error) {
	f, err := os.Open(ts.abspath(c) + ".meta")
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("tile %s metadata: %w", c, storage.ErrTileNotFound)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (ts *tileStore) OpenMetadataForWrite(ctx context.Context, c pyramid.Coord) (io.WriteCloser, error) {
	abs := ts.abspath(c) + ".meta"
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return nil, err
	}
	pf, err := renameio.TempFile("", abs)
	if err != nil {
		return nil, err
	}
	return &pendingWriter{pf: pf}, nil
}

func (ts *tileStore) CleanLockfiles(olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	var removed int
	err := filepath.WalkDir(ts.path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".lock") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.ModTime().After(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		removed++
		return nil
	})
	return removed, err
}

func (ts *tileStore) DefaultFormat() storage.Format {
	return ts.format
}

func (ts *tileStore) PathScheme() string {
	return storage.PathScheme
}

func (ts *tileStore) VerticalParitySign() int {
	return ts.format.ParitySign()
}

// ---- lock files ------

// lockOwner is the JSON body of a .lock file, identifying who holds a
// coordinate and since when.
type lockOwner struct {
	Owner   string    `json:"owner"`
	Host    string    `json:"host"`
	PID     int       `json:"pid"`
	Created time.Time `json:"created"`
}

func newLockOwner() lockOwner {
	host, _ := os.Hostname()
	return lockOwner{
		Owner:   uuid.NewV4().String(),
		Host:    host,
		PID:     os.Getpid(),
		Created: time.Now().UTC(),
	}
}

// acquireLockFile creates abs+".lock" with O_EXCL, retrying per the
// store's lock policy while another writer holds it.
func (ts *tileStore) acquireLockFile(ctx context.Context, abs string) (string, error) {
	lockPath := abs + ".lock"
	body, err := json.Marshal(newLockOwner())
	if err != nil {
		return "", err
	}
	var attempts int
	for {
		f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			_, werr := f.Write(body)
			if cerr := f.Close(); werr == nil {
				werr = cerr
			}
			if werr != nil {
				os.Remove(lockPath)
				return "", werr
			}
			return lockPath, nil
		}
		if !os.IsExist(err) {
			return "", err
		}
		attempts++
		if ts.policy.Retries >= 0 && attempts > ts.policy.Retries {
			return "", fmt.Errorf("%w: %s after %d attempts", storage.ErrLockContention, lockPath, attempts)
		}
		if err := ts.policy.Wait(ctx); err != nil {
			return "", err
		}
	}
}

// pendingWriter publishes its temp file on Close unless a Write failed
// first.
type pendingWriter struct {
	pf  *renameio.PendingFile
	err error
}

func (w *pendingWriter) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	n, err := w.pf.Write(p)
	if err != nil {
		w.err = err
	}
	return n, err
}

func (w *pendingWriter) Close() error {
	if w.err != nil {
		w.pf.Cleanup()
		return w.err
	}
	return w.pf.CloseAtomicallyReplace()
}
