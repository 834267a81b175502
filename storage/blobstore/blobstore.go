/*
	Package blobstore implements a tile store over an object store bucket
	through the gocloud portable blob API.  Supported references:

		gs://<bucketname>[/<prefix>]
		s3://<bucketname>[/<prefix>]
		file:///<path>?create_dir=true
		mem://

	S3 access relies on AWS credentials discoverable by the SDK and the
	AWS_REGION environment variable.  GCS uses application default
	credentials.

	Object stores expose no create-if-absent primitive through the
	portable API, so writer locks are advisory: a writer claims the lock
	blob and reads it back to confirm ownership.  Same-process writers
	are serialized exactly; cross-process writers with overlapping claim
	windows can race, which is acceptable because overlapping tile
	builds produce identical pixels.
*/
package blobstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/blang/semver"
	"github.com/twinj/uuid"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	"gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"
	"gocloud.dev/gcp"

	"github.com/starfield-io/skytile"
	"github.com/starfield-io/skytile/pyramid"
	"github.com/starfield-io/skytile/storage"
)

func init() {
	ver, err := semver.Make("0.1.0")
	if err != nil {
		skytile.Errorf("Unable to make semver in blobstore: %v\n", err)
	}
	e := Engine{"blobstore", "Object store bucket of tiles", ver}
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

// NewStore returns a bucket-backed tile store.  The passed Config must
// contain a "ref" setting with a bucket reference.
func (e Engine) NewStore(config skytile.StoreConfig) (storage.TileStore, bool, error) {
	return e.newStore(config)
}

func parseConfig(config skytile.StoreConfig) (ref string, format storage.Format, policy storage.LockPolicy, err error) {
	c := config.GetAll()

	v, found := c["ref"]
	if !found {
		err = fmt.Errorf("%q must be specified for blobstore configuration", "ref")
		return
	}
	var ok bool
	ref, ok = v.(string)
	if !ok {
		err = fmt.Errorf("%q setting must be a string (%v)", "ref", v)
		return
	}

	formatName, _, err := config.GetString("format")
	if err != nil {
		return
	}
	if format, err = storage.FormatByName(formatName); err != nil {
		return
	}

	policy, err = storage.LockPolicyFromConfig(config.Config)
	return
}

// splitRef separates an optional key prefix from a bucket reference,
// e.g. "gs://bucket/surveys/dss" into "gs://bucket" and "surveys/dss/".
func splitRef(ref string) (bucketRef, prefix string) {
	i := strings.Index(ref, "://")
	if i < 0 {
		return ref, ""
	}
	rest := ref[i+3:]
	j := strings.IndexByte(rest, '/')
	if j < 0 {
		return ref, ""
	}
	bucketRef = ref[:i+3] + rest[:j]
	prefix = rest[j+1:]
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return
}

// openBucket dials the bucket named by ref.  Prefixed references are
// narrowed with a prefixed bucket view so keys stay pure tile paths.
func openBucket(ctx context.Context, ref string) (*blob.Bucket, error) {
	switch {
	case strings.HasPrefix(ref, "gs://"):
		bucketRef, prefix := splitRef(ref)
		// See https://cloud.google.com/docs/authentication/production
		// for more info on alternatives.
		creds, err := gcp.DefaultCredentials(ctx)
		if err != nil {
			return nil, err
		}
		client, err := gcp.NewHTTPClient(
			gcp.DefaultTransport(),
			gcp.CredentialsTokenSource(creds))
		if err != nil {
			return nil, err
		}
		bucket, err := gcsblob.OpenBucket(ctx, client, strings.TrimPrefix(bucketRef, "gs://"), nil)
		if err != nil {
			skytile.Errorf("Can't open bucket reference @ %q: %v\n", ref, err)
			return nil, err
		}
		if prefix != "" {
			bucket = blob.PrefixedBucket(bucket, prefix)
		}
		return bucket, nil

	case strings.HasPrefix(ref, "s3://"):
		bucketRef, prefix := splitRef(ref)
		bucket, err := blob.OpenBucket(ctx, bucketRef)
		if err != nil {
			skytile.Errorf("Can't open bucket reference @ %q: %v\n", ref, err)
			return nil, err
		}
		if prefix != "" {
			bucket = blob.PrefixedBucket(bucket, prefix)
		}
		return bucket, nil

	default:
		// file://, mem://, and anything else a linked driver claims.
		return blob.OpenBucket(ctx, ref)
	}
}

type blobStore struct {
	ref    string
	config skytile.StoreConfig
	format storage.Format
	policy storage.LockPolicy
	bucket *blob.Bucket
	locks  *storage.LockTable
}

// newStore dials the configured bucket.  Bucket lifecycle is managed
// out of band, so created is always false.
func (e Engine) newStore(config skytile.StoreConfig) (*blobStore, bool, error) {
	ref, format, policy, err := parseConfig(config)
	if err != nil {
		return nil, false, err
	}

	skytile.Infof("Trying to open blob store @ %q ...\n", ref)
	bucket, err := openBucket(context.Background(), ref)
	if err != nil {
		return nil, false, err
	}

	store := &blobStore{
		ref:    ref,
		config: config,
		format: format,
		policy: policy,
		bucket: bucket,
		locks:  storage.NewLockTable(),
	}
	return store, false, nil
}

// ---- Store interface ------

func (s *blobStore) String() string {
	return fmt.Sprintf("blob store @ %s", s.ref)
}

func (s *blobStore) Close() {
	if err := s.bucket.Close(); err != nil {
		skytile.Errorf("Error closing blob store @ %s: %v\n", s.ref, err)
	}
}

func (s *blobStore) Equal(config skytile.StoreConfig) bool {
	ref, _, _, err := parseConfig(config)
	if err != nil {
		return false
	}
	return ref == s.ref
}

// ---- TileStore interface ------

func (s *blobStore) TilePath(c pyramid.Coord) string {
	return storage.TilePath(c, s.format.Ext())
}

func (s *blobStore) ReadImage(ctx context.Context, c pyramid.Coord) (*skytile.TileImage, error) {
	data, err := s.bucket.ReadAll(ctx, s.TilePath(c))
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("tile %s: %w", c, storage.ErrTileNotFound)
		}
		return nil, err
	}
	img, err := s.format.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("tile %s: %v: %w", c, err, storage.ErrTileCorrupt)
	}
	return img, nil
}

func (s *blobStore) WriteImage(ctx context.Context, c pyramid.Coord, img *skytile.TileImage) error {
	var buf bytes.Buffer
	if err := s.format.Encode(&buf, img); err != nil {
		return fmt.Errorf("tile %s: %v", c, err)
	}
	return s.bucket.WriteAll(ctx, s.TilePath(c), buf.Bytes(), nil)
}

func (s *blobStore) UpdateImage(ctx context.Context, c pyramid.Coord, mut func(*skytile.TileImage) (*skytile.TileImage, error)) error {
	if err := s.locks.Acquire(ctx, c); err != nil {
		return err
	}
	defer s.locks.Release(c)

	lockKey := s.TilePath(c) + ".lock"
	if err := s.acquireLockBlob(ctx, lockKey); err != nil {
		return err
	}
	defer func() {
		if err := s.bucket.Delete(context.Background(), lockKey); err != nil {
			skytile.Warningf("Can't remove lock blob %q: %v\n", lockKey, err)
		}
	}()

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

func (s *blobStore) Exists(ctx context.Context, c pyramid.Coord) (bool, error) {
	return s.bucket.Exists(ctx, s.TilePath(c))
}

func (s *blobStore) OpenMetadataForRead(ctx context.Context, c pyramid.Coord) (io.ReadCloser, error) {
	r, err := s.bucket.NewReader(ctx, storage.MetaPath(c, s.format.Ext()), nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("tile %s metadata: %w", c, storage.ErrTileNotFound)
		}
		return nil, err
	}
	return r, nil
}

func (s *blobStore) OpenMetadataForWrite(ctx context.Context, c pyramid.Coord) (io.WriteCloser, error) {
	// A gocloud writer sends nothing until Close and aborts on error,
	// which is exactly the publication contract.
	return s.bucket.NewWriter(ctx, storage.MetaPath(c, s.format.Ext()), nil)
}

func (s *blobStore) CleanLockfiles(olderThan time.Duration) (int, error) {
	ctx := context.Background()
	cutoff := time.Now().Add(-olderThan)
	var removed int
	it := s.bucket.List(&blob.ListOptions{})
	for {
		obj, err := it.Next(ctx)
		if err == io.EOF {
			return removed, nil
		}
		if err != nil {
			return removed, err
		}
		if !strings.HasSuffix(obj.Key, ".lock") || obj.ModTime.After(cutoff) {
			continue
		}
		if err := s.bucket.Delete(ctx, obj.Key); err != nil {
			if gcerrors.Code(err) == gcerrors.NotFound {
				continue
			}
			return removed, err
		}
		removed++
	}
}

func (s *blobStore) DefaultFormat() storage.Format {
	return s.format
}

func (s *blobStore) PathScheme() string {
	return storage.PathScheme
}

func (s *blobStore) VerticalParitySign() int {
	return s.format.ParitySign()
}

// ---- lock blobs ------

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

// acquireLockBlob claims the lock blob and confirms ownership by
// reading the claim back, retrying per the store's lock policy while
// another writer's claim is visible.
func (s *blobStore) acquireLockBlob(ctx context.Context, lockKey string) error {
	body, err := json.Marshal(newLockOwner())
	if err != nil {
		return err
	}
	var attempts int
	for {
		held, err := s.bucket.Exists(ctx, lockKey)
		if err != nil {
			return err
		}
		if !held {
			if err := s.bucket.WriteAll(ctx, lockKey, body, nil); err != nil {
				return err
			}
			claimed, err := s.bucket.ReadAll(ctx, lockKey)
			if err == nil && bytes.Equal(claimed, body) {
				return nil
			}
			if err != nil && gcerrors.Code(err) != gcerrors.NotFound {
				return err
			}
		}
		attempts++
		if s.policy.Retries >= 0 && attempts > s.policy.Retries {
			return fmt.Errorf("%w: %s after %d attempts", storage.ErrLockContention, lockKey, attempts)
		}
		if err := s.policy.Wait(ctx); err != nil {
			return err
		}
	}
}
