package remote

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bnema/toolshed/internal/adapters/in/http/middleware"
	storagehttp "github.com/bnema/toolshed/internal/adapters/in/http/storage"
	toolshttp "github.com/bnema/toolshed/internal/adapters/in/http/tools"
	"github.com/bnema/toolshed/internal/adapters/out/memory"
	"github.com/bnema/toolshed/internal/adapters/out/nsconfig"
	"github.com/bnema/toolshed/internal/boundaries/out/mocks"
	"github.com/bnema/toolshed/internal/domain"
	"github.com/bnema/toolshed/internal/usecase/acl"
	"github.com/bnema/toolshed/internal/usecase/storage"
	"github.com/bnema/toolshed/internal/usecase/tools"
)

func withFastRetry(t *testing.T) {
	t.Helper()
	prevAttempts := retryMaxAttempts
	prevDelay := retryBaseDelay
	retryMaxAttempts = 3
	retryBaseDelay = time.Millisecond
	t.Cleanup(func() {
		retryMaxAttempts = prevAttempts
		retryBaseDelay = prevDelay
	})
}

var principals = map[string]*domain.Principal{
	"uploader-token": domain.NewPrincipal("ci", domain.Claim{Type: domain.ClaimTypeGroup, Value: "uploaders"}),
	"admin-token":    domain.NewPrincipal("root"),
}

// newServer runs the real HTTP adapters over in-memory stores. Bearer tokens
// are mapped to fixed principals.
func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx := zerowrap.WithCtx(context.Background(), zerowrap.Default())

	configs := nsconfig.NewStatic(domain.NamespaceConfig{
		ID: domain.DefaultToolNamespace,
		Acl: []domain.AclEntry{
			{Claim: domain.Claim{Type: domain.ClaimTypeGroup, Value: "uploaders"}, Actions: []domain.AclAction{
				domain.AclActionUploadTool, domain.AclActionDownloadTool, domain.AclActionReadBlobs, domain.AclActionReadRefs,
			}},
			{Claim: domain.Claim{Type: domain.ClaimTypeSubject, Value: "root"}, Actions: []domain.AclAction{domain.AclActionAdminister}},
		},
	})
	client := storage.NewClient(storage.WithTempDir(t.TempDir()))
	_, err := client.Register(domain.DefaultToolNamespace, memory.NewBlobStore())
	require.NoError(t, err)

	store := memory.NewToolStore()
	require.NoError(t, store.PutTool(ctx, &domain.Tool{ID: "build-tools", Name: "Build Tools"}))

	events := &mocks.MockEventPublisher{}
	events.On("Publish", mock.Anything, mock.Anything).Return(nil)
	collection := tools.NewCollection(store, client, configs, events, tools.Config{})

	mux := http.NewServeMux()
	toolshttp.NewHandler(collection, zerowrap.Default()).RegisterRoutes(mux)
	storagehttp.NewHandler(acl.NewService(configs, client), zerowrap.Default()).RegisterRoutes(mux)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := domain.NewPrincipal("")
		if token, ok := bytes.CutPrefix([]byte(r.Header.Get("Authorization")), []byte("Bearer ")); ok {
			if known, ok := principals[string(token)]; ok {
				p = known
			}
		}
		r = r.WithContext(zerowrap.WithCtx(middleware.WithPrincipal(r.Context(), p), zerowrap.Default()))
		mux.ServeHTTP(w, r)
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func zipOf(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestClient_DeploymentRoundTrip(t *testing.T) {
	ctx := context.Background()
	srv := newServer(t)
	uploader := NewClient(srv.URL, WithToken("uploader-token"))

	archive := zipOf(t, map[string]string{"bin/tool.exe": "exe", "README.txt": "docs"})
	dep, err := uploader.CreateDeployment(ctx, "build-tools",
		domain.ToolDeploymentConfig{Version: "1.0.0", Duration: time.Minute}, bytes.NewReader(archive), int64(len(archive)))
	require.NoError(t, err)
	assert.Equal(t, domain.DeploymentStatePending, dep.State)

	_, err = uploader.UpdateDeployment(ctx, "build-tools", dep.ID, domain.DeploymentStateActive)
	require.NoError(t, err)
	_, err = uploader.UpdateDeployment(ctx, "build-tools", dep.ID, domain.DeploymentStatePending)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	tool, err := uploader.GetTool(ctx, "build-tools")
	require.NoError(t, err)
	require.Len(t, tool.Deployments, 1)
	assert.Equal(t, time.Minute, tool.Deployments[0].Duration)

	latest, err := uploader.ResolveDeployment(ctx, "build-tools", "", "^1.0")
	require.NoError(t, err)
	assert.Equal(t, dep.ID, latest.ID)

	rc, err := uploader.OpenDeploymentZip(ctx, "build-tools", "")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	// Directories come back as their own entries.
	var files, dirs []string
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			dirs = append(dirs, f.Name)
			continue
		}
		files = append(files, f.Name)
	}
	assert.ElementsMatch(t, []string{"README.txt", "bin/tool.exe"}, files)
	assert.Equal(t, []string{"bin/"}, dirs)
}

func TestClient_RemoteNamespaceResolvesContent(t *testing.T) {
	ctx := zerowrap.WithCtx(context.Background(), zerowrap.Default())
	srv := newServer(t)
	client := NewClient(srv.URL, WithToken("uploader-token"))

	dep, err := client.CreateDeployment(ctx, "build-tools",
		domain.ToolDeploymentConfig{Version: "2.0.0", FileName: "tool.bin"}, bytes.NewReader([]byte("payload")), -1)
	require.NoError(t, err)

	ns := storage.NewNamespace(domain.DefaultToolNamespace, NewBackend(client, domain.DefaultToolNamespace), storage.WithTempDir(t.TempDir()))
	node, err := ns.DirectoryRef(dep.Locator).Resolve(ctx)
	require.NoError(t, err)
	require.Len(t, node.Files, 1)
	assert.Equal(t, "tool.bin", node.Files[0].Name)

	content, err := ns.ReadBlob(ctx, node.Files[0].Locator)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(content))

	has, err := ns.HasBlob(ctx, domain.ComputeBlobLocator([]byte("absent")))
	require.NoError(t, err)
	assert.False(t, has)

	_, err = ns.ReadRef(ctx, "tools/build-tools/missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.ErrorIs(t, ns.WriteRef(ctx, "x", dep.Locator), domain.ErrForbidden)
}

func TestClient_ErrorKinds(t *testing.T) {
	ctx := context.Background()
	srv := newServer(t)

	anonymous := NewClient(srv.URL)
	list, err := anonymous.ListTools(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = anonymous.GetTool(ctx, "build-tools")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = anonymous.CreateDeployment(ctx, "build-tools", domain.ToolDeploymentConfig{Version: "1"}, bytes.NewReader([]byte("x")), 1)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = anonymous.ListNamespaces(ctx)
	require.NoError(t, err)

	admin := NewClient(srv.URL, WithToken("admin-token"))
	require.NoError(t, admin.PublishTool(ctx, &domain.Tool{ID: "build-tools", Name: "Build Tools", Public: true}))

	list, err = anonymous.ListTools(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Public)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	withFastRetry(t)

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"temporary outage"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"tools":[]}`))
	}))
	defer srv.Close()

	list, err := NewClient(srv.URL).ListTools(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.EqualValues(t, 3, attempts.Load())
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	withFastRetry(t)

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"forbidden"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).ListTools(context.Background())
	assert.ErrorIs(t, err, domain.ErrForbidden)
	assert.EqualValues(t, 1, attempts.Load())

	var se *statusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusForbidden, se.code)
	assert.Contains(t, err.Error(), "forbidden")
}

func TestDeploymentPath(t *testing.T) {
	assert.Equal(t, "/api/v1/tools/a/deployments/latest?version=%5E1.0", deploymentPath("a", "", "^1.0", ""))
	assert.Equal(t, "/api/v1/tools/a/deployments/d1/zip", deploymentPath("a", "d1", "", "/zip"))
}
