// Package storetest holds conformance tests shared by every out.ToolStore
// implementation.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/toolshed/internal/boundaries/out"
	"github.com/bnema/toolshed/internal/domain"
)

// RunToolStore runs the conformance suite against stores built by newStore.
// Each subtest gets a fresh, empty store.
func RunToolStore(t *testing.T, newStore func(t *testing.T) out.ToolStore) {
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("PutKeepsDeployments", func(t *testing.T) { testPutKeepsDeployments(t, newStore(t)) })
	t.Run("ListSorted", func(t *testing.T) { testListSorted(t, newStore(t)) })
	t.Run("AppendOrder", func(t *testing.T) { testAppendOrder(t, newStore(t)) })
	t.Run("AppendConcurrent", func(t *testing.T) { testAppendConcurrent(t, newStore(t)) })
	t.Run("CompareAndSwap", func(t *testing.T) { testCompareAndSwap(t, newStore(t)) })
}

func deployment(id string, created time.Time) domain.ToolDeployment {
	started := created
	return domain.ToolDeployment{
		ID:        domain.ToolDeploymentID(id),
		Version:   "1.0.0",
		State:     domain.DeploymentStatePending,
		StartedAt: &started,
		Duration:  time.Minute,
		RefName:   domain.DeploymentRefName("build-tools", domain.ToolDeploymentID(id)),
		Locator:   domain.ComputeBlobLocator([]byte(id)),
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func testGetMissing(t *testing.T, s out.ToolStore) {
	ctx := context.Background()

	_, err := s.GetTool(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrToolNotFound)

	err = s.AppendDeployment(ctx, "nope", deployment("d1", time.Now()))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testPutKeepsDeployments(t *testing.T, s out.ToolStore) {
	ctx := context.Background()
	created := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)

	require.NoError(t, s.PutTool(ctx, &domain.Tool{ID: "build-tools", Name: "Build Tools", Public: true, Metadata: map[string]string{"owner": "infra"}}))
	require.NoError(t, s.AppendDeployment(ctx, "build-tools", deployment("d1", created)))
	require.NoError(t, s.PutTool(ctx, &domain.Tool{ID: "build-tools", Name: "Renamed", Deployments: []domain.ToolDeployment{deployment("ignored", created)}}))

	tool, err := s.GetTool(ctx, "build-tools")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", tool.Name)
	assert.False(t, tool.Public)
	require.Len(t, tool.Deployments, 1)

	got := tool.Deployments[0]
	want := deployment("d1", created)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Locator, got.Locator)
	assert.Equal(t, want.RefName, got.RefName)
	assert.Equal(t, want.Duration, got.Duration)
	require.NotNil(t, got.StartedAt)
	assert.True(t, want.StartedAt.Equal(*got.StartedAt))
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
}

func testListSorted(t *testing.T, s out.ToolStore) {
	ctx := context.Background()
	for _, id := range []domain.ToolID{"zeta", "alpha", "mid"} {
		require.NoError(t, s.PutTool(ctx, &domain.Tool{ID: id}))
	}

	ids, err := s.ListToolIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.ToolID{"alpha", "mid", "zeta"}, ids)
}

func testAppendOrder(t *testing.T, s out.ToolStore) {
	ctx := context.Background()
	require.NoError(t, s.PutTool(ctx, &domain.Tool{ID: "build-tools"}))

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	// Ids sort opposite to insertion order.
	ids := []string{"c", "b", "a"}
	for i, id := range ids {
		require.NoError(t, s.AppendDeployment(ctx, "build-tools", deployment(id, base.Add(time.Duration(i)*time.Second))))
	}

	err := s.AppendDeployment(ctx, "build-tools", deployment("b", base))
	assert.ErrorIs(t, err, domain.ErrDeploymentConflict)

	tool, err := s.GetTool(ctx, "build-tools")
	require.NoError(t, err)
	var got []string
	for _, d := range tool.Deployments {
		got = append(got, string(d.ID))
	}
	assert.Equal(t, ids, got)
}

func testAppendConcurrent(t *testing.T, s out.ToolStore) {
	ctx := context.Background()
	require.NoError(t, s.PutTool(ctx, &domain.Tool{ID: "build-tools"}))

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.AppendDeployment(ctx, "build-tools", deployment(fmt.Sprintf("d%02d", i), time.Now()))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	tool, err := s.GetTool(ctx, "build-tools")
	require.NoError(t, err)
	assert.Len(t, tool.Deployments, n)
}

func testCompareAndSwap(t *testing.T, s out.ToolStore) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.PutTool(ctx, &domain.Tool{ID: "build-tools"}))
	d := deployment("d1", now)
	require.NoError(t, s.AppendDeployment(ctx, "build-tools", d))

	active, err := d.Transition(domain.DeploymentStateActive, now.Add(time.Second))
	require.NoError(t, err)
	require.NoError(t, s.CompareAndSwapDeployment(ctx, "build-tools", active, domain.DeploymentStatePending))

	cancelled, err := d.Transition(domain.DeploymentStateCancelled, now.Add(time.Second))
	require.NoError(t, err)
	err = s.CompareAndSwapDeployment(ctx, "build-tools", cancelled, domain.DeploymentStatePending)
	assert.ErrorIs(t, err, domain.ErrDeploymentConflict)

	err = s.CompareAndSwapDeployment(ctx, "build-tools", deployment("missing", now), domain.DeploymentStatePending)
	assert.ErrorIs(t, err, domain.ErrDeploymentNotFound)

	err = s.CompareAndSwapDeployment(ctx, "nope", active, domain.DeploymentStatePending)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	tool, err := s.GetTool(ctx, "build-tools")
	require.NoError(t, err)
	assert.Equal(t, domain.DeploymentStateActive, tool.Deployments[0].State)
}
