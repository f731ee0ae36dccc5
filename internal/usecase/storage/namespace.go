package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/bnema/zerowrap"

	"github.com/bnema/toolshed/internal/boundaries/out"
	"github.com/bnema/toolshed/internal/domain"
)

const (
	defaultArenaTTL     = 10 * time.Minute
	defaultFetchTimeout = 2 * time.Minute
)

// Option configures a Namespace.
type Option func(*Namespace)

// WithTempDir sets the directory used to spool uploads.
func WithTempDir(dir string) Option {
	return func(ns *Namespace) {
		ns.tempDir = dir
	}
}

// WithArenaTTL sets how long resolved blob values stay cached.
func WithArenaTTL(ttl time.Duration) Option {
	return func(ns *Namespace) {
		ns.arenaTTL = ttl
	}
}

// WithFetchTimeout bounds a shared blob fetch, which keeps running after the
// callers waiting on it give up. Zero disables the bound.
func WithFetchTimeout(d time.Duration) Option {
	return func(ns *Namespace) {
		ns.fetchTimeout = d
	}
}

// Namespace is a logical partition of the blob store. It is safe for concurrent use.
type Namespace struct {
	id           domain.NamespaceID
	backend      out.StorageBackend
	arena        *arena
	arenaTTL     time.Duration
	fetchTimeout time.Duration
	tempDir      string
}

// NewNamespace wraps a backend as a namespace.
func NewNamespace(id domain.NamespaceID, backend out.StorageBackend, opts ...Option) *Namespace {
	ns := &Namespace{
		id:           id,
		backend:      backend,
		arenaTTL:     defaultArenaTTL,
		fetchTimeout: defaultFetchTimeout,
	}
	for _, opt := range opts {
		opt(ns)
	}
	ns.arena = newArena(ns.arenaTTL, ns.fetchTimeout)
	return ns
}

// ID returns the namespace id.
func (ns *Namespace) ID() domain.NamespaceID {
	return ns.id
}

// Backend returns the backend serving this namespace.
func (ns *Namespace) Backend() out.StorageBackend {
	return ns.backend
}

// DirectoryRef returns a lazy reference to a directory node. It performs no I/O.
func (ns *Namespace) DirectoryRef(locator domain.BlobLocator) *BlobRef[domain.DirectoryNode] {
	return CreateBlobRef(ns, locator, DirectoryDecoder)
}

// WriteBlob spools r to a temporary file while hashing it, then stores it under
// its locator. Returns the locator and the number of bytes written.
func (ns *Namespace) WriteBlob(ctx context.Context, r io.Reader) (domain.BlobLocator, int64, error) {
	spool, err := Spool(ctx, ns.tempDir, r)
	if err != nil {
		return "", 0, err
	}
	defer spool.Close()

	if err := ns.PutSpool(ctx, spool); err != nil {
		return "", 0, err
	}
	return spool.Locator, spool.Size, nil
}

// PutSpool stores a spooled blob unless the namespace already holds it.
func (ns *Namespace) PutSpool(ctx context.Context, spool *SpoolFile) error {
	exists, err := ns.HasBlob(ctx, spool.Locator)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if err := ns.backend.PutBlob(ctx, spool.Locator, spool.Reader(), spool.Size); err != nil {
		return fmt.Errorf("%w: put blob %s: %w", domain.ErrStorageFailure, spool.Locator, err)
	}
	return nil
}

// WriteBytes stores a small in-memory blob.
func (ns *Namespace) WriteBytes(ctx context.Context, data []byte) (domain.BlobLocator, error) {
	locator := domain.ComputeBlobLocator(data)

	exists, err := ns.HasBlob(ctx, locator)
	if err != nil {
		return "", err
	}
	if exists {
		return locator, nil
	}
	if err := ns.backend.PutBlob(ctx, locator, bytes.NewReader(data), int64(len(data))); err != nil {
		return "", fmt.Errorf("%w: put blob %s: %w", domain.ErrStorageFailure, locator, err)
	}
	return locator, nil
}

// WriteDirectory encodes and stores a directory node.
func (ns *Namespace) WriteDirectory(ctx context.Context, node domain.DirectoryNode) (domain.BlobLocator, error) {
	data, err := domain.EncodeDirectoryNode(node)
	if err != nil {
		return "", err
	}
	return ns.WriteBytes(ctx, data)
}

// HasBlob checks if the namespace holds a blob.
func (ns *Namespace) HasBlob(ctx context.Context, locator domain.BlobLocator) (bool, error) {
	if err := locator.Validate(); err != nil {
		return false, err
	}
	exists, err := ns.backend.HasBlob(ctx, locator)
	if err != nil {
		return false, fmt.Errorf("%w: stat blob %s: %w", domain.ErrStorageFailure, locator, err)
	}
	return exists, nil
}

// OpenBlob streams a blob. The returned reader fails with domain.ErrCorrupt at
// EOF if the content does not hash to the locator.
func (ns *Namespace) OpenBlob(ctx context.Context, locator domain.BlobLocator) (io.ReadCloser, error) {
	if err := locator.Validate(); err != nil {
		return nil, err
	}
	rc, err := ns.backend.GetBlob(ctx, locator)
	if err != nil {
		return nil, ns.mapErr(err, "get blob "+locator.String())
	}
	return newVerifyingReader(rc, locator), nil
}

// ReadBlob reads and verifies a whole blob.
func (ns *Namespace) ReadBlob(ctx context.Context, locator domain.BlobLocator) ([]byte, error) {
	rc, err := ns.OpenBlob(ctx, locator)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		if errors.Is(err, domain.ErrCorrupt) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: read blob %s: %w", domain.ErrStorageFailure, locator, err)
	}
	return data, nil
}

// ReadRef resolves a ref.
func (ns *Namespace) ReadRef(ctx context.Context, name domain.RefName) (domain.BlobLocator, error) {
	if err := name.Validate(); err != nil {
		return "", err
	}
	locator, err := ns.backend.ReadRef(ctx, name)
	if err != nil {
		return "", ns.mapErr(err, "read ref "+string(name))
	}
	return locator, nil
}

// WriteRef points a ref at a blob the namespace already holds.
func (ns *Namespace) WriteRef(ctx context.Context, name domain.RefName, locator domain.BlobLocator) error {
	if err := name.Validate(); err != nil {
		return err
	}
	exists, err := ns.HasBlob(ctx, locator)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", domain.ErrBlobNotFound, locator)
	}
	if err := ns.backend.WriteRef(ctx, name, locator); err != nil {
		return fmt.Errorf("%w: write ref %s: %w", domain.ErrStorageFailure, name, err)
	}

	log := zerowrap.FromCtx(ctx)
	log.Debug().
		Str("namespace", string(ns.id)).
		Str("ref", string(name)).
		Str("locator", locator.String()).
		Msg("ref written")
	return nil
}

// DeleteRef removes a ref.
func (ns *Namespace) DeleteRef(ctx context.Context, name domain.RefName) error {
	if err := name.Validate(); err != nil {
		return err
	}
	if err := ns.backend.DeleteRef(ctx, name); err != nil {
		return ns.mapErr(err, "delete ref "+string(name))
	}
	return nil
}

func (ns *Namespace) mapErr(err error, op string) error {
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrStorageFailure, op, err)
}

func removeQuietly(path string) {
	if path != "" {
		_ = os.Remove(path)
	}
}
