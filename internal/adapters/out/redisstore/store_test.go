package redisstore

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/bnema/zerowrap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/toolshed/internal/domain"
	"github.com/bnema/toolshed/internal/usecase/storage"
)

func newTestStore(t *testing.T, prefix string) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := New(context.Background(), "redis://"+mr.Addr(), prefix, zerowrap.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestStore_Blobs(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t, "tools:")
	data := []byte("binary")
	loc := domain.ComputeBlobLocator(data)

	_, err := s.GetBlob(ctx, loc)
	assert.ErrorIs(t, err, domain.ErrBlobNotFound)

	require.NoError(t, s.PutBlob(ctx, loc, bytes.NewReader(data), int64(len(data))))
	assert.True(t, mr.Exists("tools:blob:"+loc.Hash()))

	has, err := s.HasBlob(ctx, loc.WithHint("eu"))
	require.NoError(t, err)
	assert.True(t, has)

	rc, err := s.GetBlob(ctx, loc)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	err = s.PutBlob(ctx, loc, bytes.NewReader(data), 1)
	assert.Error(t, err)
}

func TestStore_Refs(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t, "tools:")
	loc := domain.ComputeBlobLocator([]byte("root"))

	_, err := s.ReadRef(ctx, "tools/build-tools/d1")
	assert.ErrorIs(t, err, domain.ErrRefNotFound)

	require.NoError(t, s.WriteRef(ctx, "tools/build-tools/d1", loc))
	got, err := s.ReadRef(ctx, "tools/build-tools/d1")
	require.NoError(t, err)
	assert.Equal(t, loc, got)

	require.NoError(t, s.DeleteRef(ctx, "tools/build-tools/d1"))
	_, err = s.ReadRef(ctx, "tools/build-tools/d1")
	assert.ErrorIs(t, err, domain.ErrRefNotFound)

	require.NoError(t, mr.Set("tools:ref:broken", "garbage"))
	_, err = s.ReadRef(ctx, "broken")
	assert.ErrorIs(t, err, domain.ErrCorrupt)
}

func TestStore_BacksNamespace(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, "shared:")
	ns := storage.NewNamespace("shared", s, storage.WithTempDir(t.TempDir()))

	res, err := storage.ImportStream(ctx, ns, bytes.NewReader([]byte("payload")), "tool.bin")
	require.NoError(t, err)
	require.NoError(t, ns.WriteRef(ctx, "tools/x/1", res.Root))

	node, err := ns.DirectoryRef(res.Root).Resolve(ctx)
	require.NoError(t, err)
	require.Len(t, node.Files, 1)
	assert.Equal(t, "tool.bin", node.Files[0].Name)
}

func TestNew_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := New(context.Background(), "redis://"+addr, "", zerowrap.Default())
	assert.Error(t, err)
}
