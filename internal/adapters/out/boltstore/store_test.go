package boltstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/bnema/zerowrap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/toolshed/internal/adapters/out/storetest"
	"github.com/bnema/toolshed/internal/boundaries/out"
	"github.com/bnema/toolshed/internal/domain"
)

func openTestStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(path, zerowrap.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore(t *testing.T) {
	storetest.RunToolStore(t, func(t *testing.T) out.ToolStore {
		return openTestStore(t, filepath.Join(t.TempDir(), "tools.db"))
	})
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "tools.db")

	s, err := Open(path, zerowrap.Default())
	require.NoError(t, err)
	require.NoError(t, s.PutTool(ctx, &domain.Tool{ID: "build-tools", Name: "Build Tools"}))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.GetTool(ctx, "build-tools")
	assert.ErrorIs(t, err, ErrStoreClosed)

	reopened := openTestStore(t, path)
	tool, err := reopened.GetTool(ctx, "build-tools")
	require.NoError(t, err)
	assert.Equal(t, "Build Tools", tool.Name)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open("", zerowrap.Default())
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}
