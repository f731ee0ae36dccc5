package sqlitestore

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
		return openTestStore(t, filepath.Join(t.TempDir(), "tools.sqlite"))
	})
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tools.sqlite")

	s, err := Open(path, zerowrap.Default())
	require.NoError(t, err)
	require.NoError(t, s.PutTool(ctx, &domain.Tool{ID: "build-tools", Name: "Build Tools", Platforms: []string{"linux", "win64"}}))
	require.NoError(t, s.Close())

	reopened := openTestStore(t, path)
	tool, err := reopened.GetTool(ctx, "build-tools")
	require.NoError(t, err)
	assert.Equal(t, []string{"linux", "win64"}, tool.Platforms)
	assert.Empty(t, tool.Deployments)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(" ", zerowrap.Default())
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}
