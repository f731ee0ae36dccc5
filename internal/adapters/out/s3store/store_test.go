package s3store

import (
	"context"
	"errors"
	"testing"

	"github.com/bnema/zerowrap"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/toolshed/internal/domain"
)

func TestNew_RequiresEndpoint(t *testing.T) {
	_, err := New(context.Background(), Config{}, zerowrap.Default())
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestStore_Keys(t *testing.T) {
	s := newStore(nil, Config{Prefix: "/tools/"}, zerowrap.Default())
	assert.Equal(t, defaultBucket, s.bucket)

	loc := domain.ComputeBlobLocator([]byte("x"))
	digest := loc.Digest()
	assert.Equal(t, "tools/blobs/sha256/"+digest[:2]+"/"+digest, s.blobKey(loc.WithHint("eu")))

	key, err := s.refKey("tools/build-tools/d1")
	require.NoError(t, err)
	assert.Equal(t, "tools/refs/tools/build-tools/d1", key)

	_, err = s.refKey("../escape")
	assert.ErrorIs(t, err, domain.ErrInvalidRefName)
}

func TestStore_KeysWithoutPrefix(t *testing.T) {
	s := newStore(nil, Config{Bucket: "artifacts"}, zerowrap.Default())
	assert.Equal(t, "artifacts", s.bucket)

	key, err := s.refKey("a")
	require.NoError(t, err)
	assert.Equal(t, "refs/a", key)
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(minio.ErrorResponse{Code: "NoSuchKey"}))
	assert.True(t, isNotFound(minio.ErrorResponse{StatusCode: 404}))
	assert.False(t, isNotFound(minio.ErrorResponse{Code: "AccessDenied", StatusCode: 403}))
	assert.False(t, isNotFound(errors.New("boom")))
}

func TestMapErr(t *testing.T) {
	s := newStore(nil, Config{}, zerowrap.Default())

	err := s.mapErr(minio.ErrorResponse{Code: "NoSuchKey"}, domain.ErrBlobNotFound, "sha256:x")
	assert.ErrorIs(t, err, domain.ErrBlobNotFound)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = s.mapErr(errors.New("timeout"), domain.ErrRefNotFound, "r")
	assert.NotErrorIs(t, err, domain.ErrNotFound)
}
