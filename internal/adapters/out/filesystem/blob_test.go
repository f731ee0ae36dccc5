package filesystem

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/bnema/zerowrap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/toolshed/internal/domain"
)

func testLogger() zerowrap.Logger {
	return zerowrap.Default()
}

func newTestStore(t *testing.T) (*BlobStore, string) {
	t.Helper()
	tmpDir := t.TempDir()
	store, err := NewBlobStore(tmpDir, testLogger())
	require.NoError(t, err)
	return store, tmpDir
}

func TestNewBlobStore(t *testing.T) {
	store, tmpDir := newTestStore(t)

	assert.NotNil(t, store)
	assert.DirExists(t, filepath.Join(tmpDir, "blobs"))
	assert.DirExists(t, filepath.Join(tmpDir, "refs"))
}

func TestBlobStore_PutAndGetBlob(t *testing.T) {
	ctx := context.Background()
	store, tmpDir := newTestStore(t)

	blobData := []byte("test blob content")
	locator := domain.ComputeBlobLocator(blobData)

	err := store.PutBlob(ctx, locator, bytes.NewReader(blobData), int64(len(blobData)))
	require.NoError(t, err)

	reader, err := store.GetBlob(ctx, locator.WithHint("local"))
	require.NoError(t, err)
	defer reader.Close()

	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, blobData, data)

	digest := locator.Digest()
	assert.FileExists(t, filepath.Join(tmpDir, "blobs", "sha256", digest[:2], digest))
}

func TestBlobStore_GetBlob_NotFound(t *testing.T) {
	store, _ := newTestStore(t)

	reader, err := store.GetBlob(context.Background(), domain.ComputeBlobLocator([]byte("missing")))

	assert.ErrorIs(t, err, domain.ErrBlobNotFound)
	assert.Nil(t, reader)
}

func TestBlobStore_PutBlob_SizeMismatch(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	locator := domain.ComputeBlobLocator([]byte("short"))

	err := store.PutBlob(ctx, locator, bytes.NewReader([]byte("short")), 100)
	assert.Error(t, err)

	exists, err := store.HasBlob(ctx, locator)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestBlobStore_PutBlob_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store, _ := newTestStore(t)
	locator := domain.ComputeBlobLocator([]byte("data"))

	err := store.PutBlob(ctx, locator, bytes.NewReader([]byte("data")), 4)
	assert.ErrorIs(t, err, context.Canceled)

	exists, err := store.HasBlob(context.Background(), locator)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestBlobStore_HasBlob(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	locator := domain.ComputeBlobLocator([]byte("x"))

	exists, err := store.HasBlob(ctx, locator)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.PutBlob(ctx, locator, bytes.NewReader([]byte("x")), -1))

	exists, err = store.HasBlob(ctx, locator)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestBlobStore_Refs(t *testing.T) {
	ctx := context.Background()
	store, tmpDir := newTestStore(t)
	first := domain.ComputeBlobLocator([]byte("one"))
	second := domain.ComputeBlobLocator([]byte("two"))
	name := domain.RefName("tools/build-tools/d1")

	_, err := store.ReadRef(ctx, name)
	assert.ErrorIs(t, err, domain.ErrRefNotFound)

	require.NoError(t, store.WriteRef(ctx, name, first))
	got, err := store.ReadRef(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, first, got)

	require.NoError(t, store.WriteRef(ctx, name, second))
	got, err = store.ReadRef(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, second, got)

	require.NoError(t, store.DeleteRef(ctx, name))
	require.NoError(t, store.DeleteRef(ctx, name))
	_, err = store.ReadRef(ctx, name)
	assert.ErrorIs(t, err, domain.ErrRefNotFound)

	assert.NoDirExists(t, filepath.Join(tmpDir, "..", "escape"))
	assert.ErrorIs(t, store.WriteRef(ctx, "../escape", first), domain.ErrInvalidRefName)
}

func TestBlobStore_ReadRef_Corrupt(t *testing.T) {
	ctx := context.Background()
	store, tmpDir := newTestStore(t)

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "refs", "broken"), []byte("garbage"), 0600))

	_, err := store.ReadRef(ctx, "broken")
	assert.ErrorIs(t, err, domain.ErrCorrupt)
}
