package tools

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bnema/toolshed/internal/adapters/dto"
	"github.com/bnema/toolshed/internal/adapters/in/http/middleware"
	inmocks "github.com/bnema/toolshed/internal/boundaries/in/mocks"
	"github.com/bnema/toolshed/internal/domain"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, svc *inmocks.MockToolService, principal *domain.Principal, opts ...Option) *httptest.Server {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	h := NewHandler(svc, zerowrap.Default(), opts...)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	withPrincipal := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mux.ServeHTTP(w, r.WithContext(middleware.WithPrincipal(r.Context(), principal)))
	})
	srv := httptest.NewServer(withPrincipal)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func sampleDeployment(state domain.ToolDeploymentState) *domain.ToolDeployment {
	started := fixedNow.Add(-5 * time.Minute)
	return &domain.ToolDeployment{
		ID:        "d1",
		Version:   "1.2.3",
		State:     state,
		StartedAt: &started,
		Duration:  10 * time.Minute,
		Locator:   domain.ComputeBlobLocator([]byte("root")),
		CreatedAt: started,
		UpdatedAt: started,
	}
}

func TestHandler_ListTools(t *testing.T) {
	svc := &inmocks.MockToolService{}
	principal := domain.NewPrincipal("alice")
	tool := &domain.Tool{ID: "build-tools", Name: "Build Tools", Deployments: []domain.ToolDeployment{*sampleDeployment(domain.DeploymentStateActive)}}
	svc.On("ListTools", mock.Anything, principal).Return([]*domain.Tool{tool}, nil)

	srv := newTestServer(t, svc, principal)
	resp := do(t, http.MethodGet, srv.URL+"/api/v1/tools", nil)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[dto.ToolsResponse](t, resp)
	require.Len(t, body.Tools, 1)
	assert.Equal(t, domain.ToolID("build-tools"), body.Tools[0].ID)
	require.Len(t, body.Tools[0].Deployments, 1)
	assert.InDelta(t, 0.5, body.Tools[0].Deployments[0].Progress, 1e-9)
	assert.Equal(t, "10m0s", body.Tools[0].Deployments[0].Duration)
}

func TestHandler_GetTool_NotFound(t *testing.T) {
	svc := &inmocks.MockToolService{}
	svc.On("GetTool", mock.Anything, mock.Anything, domain.ToolID("ghost")).Return(nil, domain.ErrToolNotFound)

	srv := newTestServer(t, svc, domain.NewPrincipal(""))
	resp := do(t, http.MethodGet, srv.URL+"/api/v1/tools/ghost", nil)

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "tool not found", decode[dto.ErrorResponse](t, resp).Error)
}

func TestHandler_CreateDeployment_Stream(t *testing.T) {
	svc := &inmocks.MockToolService{}
	principal := domain.NewPrincipal("uploader")
	var uploaded []byte
	svc.On("CreateDeployment", mock.Anything, principal, domain.ToolID("build-tools"),
		domain.ToolDeploymentConfig{Version: "1.2.3", Duration: 10 * time.Minute, FileName: "tool.exe"},
		mock.AnythingOfType("domain.StreamContent")).
		Run(func(args mock.Arguments) {
			src := args.Get(4).(domain.StreamContent)
			uploaded, _ = io.ReadAll(src.Reader)
		}).
		Return(sampleDeployment(domain.DeploymentStatePending), nil)

	srv := newTestServer(t, svc, principal)
	resp := do(t, http.MethodPost, srv.URL+"/api/v1/tools/build-tools/deployments?version=1.2.3&duration=10m&file=tool.exe", strings.NewReader("binary"))

	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "/api/v1/tools/build-tools/deployments/d1", resp.Header.Get("Location"))
	assert.Equal(t, []byte("binary"), uploaded)
	dep := decode[dto.DeploymentResponse](t, resp)
	assert.Equal(t, domain.DeploymentStatePending, dep.State)
	assert.Zero(t, dep.Progress)
}

func TestHandler_CreateDeployment_ExistingContent(t *testing.T) {
	svc := &inmocks.MockToolService{}
	loc := domain.ComputeBlobLocator([]byte("root"))
	svc.On("CreateDeployment", mock.Anything, mock.Anything, domain.ToolID("build-tools"), mock.Anything,
		domain.ExistingContent{Locator: loc}).
		Return(sampleDeployment(domain.DeploymentStatePending), nil)

	srv := newTestServer(t, svc, domain.NewPrincipal("uploader"))
	resp := do(t, http.MethodPost, srv.URL+"/api/v1/tools/build-tools/deployments?version=1&locator="+string(loc), nil)

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	svc.AssertExpectations(t)
}

func TestHandler_CreateDeployment_BadInput(t *testing.T) {
	svc := &inmocks.MockToolService{}
	srv := newTestServer(t, svc, domain.NewPrincipal("uploader"))

	resp := do(t, http.MethodPost, srv.URL+"/api/v1/tools/build-tools/deployments?version=1&duration=soon", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodPost, srv.URL+"/api/v1/tools/build-tools/deployments?version=1&locator=nope", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	svc.AssertNotCalled(t, "CreateDeployment", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandler_CreateDeployment_TooLarge(t *testing.T) {
	svc := &inmocks.MockToolService{}
	svc.On("CreateDeployment", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			_, _ = io.ReadAll(args.Get(4).(domain.StreamContent).Reader)
		}).
		Return(nil, fmt.Errorf("spool: %w", &http.MaxBytesError{Limit: 4}))

	srv := newTestServer(t, svc, domain.NewPrincipal("uploader"), WithMaxUploadSize(4))
	resp := do(t, http.MethodPost, srv.URL+"/api/v1/tools/build-tools/deployments?version=1", bytes.NewReader(make([]byte, 64)))

	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestHandler_CreateDeployment_Forbidden(t *testing.T) {
	svc := &inmocks.MockToolService{}
	svc.On("CreateDeployment", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("%w: upload-tool", domain.ErrForbidden))

	srv := newTestServer(t, svc, domain.NewPrincipal("stranger"))
	resp := do(t, http.MethodPost, srv.URL+"/api/v1/tools/build-tools/deployments?version=1", strings.NewReader("x"))

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHandler_UpdateDeployment(t *testing.T) {
	svc := &inmocks.MockToolService{}
	svc.On("UpdateDeployment", mock.Anything, mock.Anything, domain.ToolID("build-tools"), domain.ToolDeploymentID("d1"), domain.DeploymentStateActive).
		Return(sampleDeployment(domain.DeploymentStateActive), nil)
	svc.On("UpdateDeployment", mock.Anything, mock.Anything, domain.ToolID("build-tools"), domain.ToolDeploymentID("d1"), domain.DeploymentStatePending).
		Return(nil, fmt.Errorf("%w: active -> pending", domain.ErrInvalidTransition))

	srv := newTestServer(t, svc, domain.NewPrincipal("uploader"))
	url := srv.URL + "/api/v1/tools/build-tools/deployments/d1"

	resp := do(t, http.MethodPut, url, strings.NewReader(`{"state":"Active"}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, domain.DeploymentStateActive, decode[dto.DeploymentResponse](t, resp).State)

	resp = do(t, http.MethodPut, url, strings.NewReader(`{"state":"pending"}`))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = do(t, http.MethodPut, url, strings.NewReader(`{"state":"paused"}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodPut, url, strings.NewReader(`not json`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandler_GetLatestDeployment(t *testing.T) {
	svc := &inmocks.MockToolService{}
	svc.On("ResolveDeployment", mock.Anything, mock.Anything, domain.ToolID("build-tools"), domain.ToolDeploymentID(""), "^1.0").
		Return(sampleDeployment(domain.DeploymentStateComplete), nil)

	srv := newTestServer(t, svc, domain.NewPrincipal(""))
	resp := do(t, http.MethodGet, srv.URL+"/api/v1/tools/build-tools/deployments/latest?version=%5E1.0", nil)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	dep := decode[dto.DeploymentResponse](t, resp)
	assert.Equal(t, domain.ToolDeploymentID("d1"), dep.ID)
	assert.Equal(t, 1.0, dep.Progress)
}

func TestHandler_Download(t *testing.T) {
	svc := &inmocks.MockToolService{}
	svc.On("ResolveDeployment", mock.Anything, mock.Anything, domain.ToolID("build-tools"), domain.ToolDeploymentID("d1"), "").
		Return(sampleDeployment(domain.DeploymentStateComplete), nil)
	svc.On("OpenDeploymentZip", mock.Anything, mock.Anything, domain.ToolID("build-tools"), domain.ToolDeploymentID("d1")).
		Return(io.NopCloser(strings.NewReader("PK-archive")), nil)

	srv := newTestServer(t, svc, domain.NewPrincipal(""))
	resp := do(t, http.MethodGet, srv.URL+"/api/v1/tools/build-tools/deployments/d1/zip", nil)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/zip", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), `filename="build-tools-1.2.3.zip"`)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "PK-archive", string(body))
}

func TestHandler_Download_Forbidden(t *testing.T) {
	svc := &inmocks.MockToolService{}
	svc.On("ResolveDeployment", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(sampleDeployment(domain.DeploymentStateComplete), nil)
	svc.On("OpenDeploymentZip", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, domain.ErrForbidden)

	srv := newTestServer(t, svc, domain.NewPrincipal(""))
	resp := do(t, http.MethodGet, srv.URL+"/api/v1/tools/build-tools/deployments/d1/zip", nil)

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHandler_Download_Corrupt(t *testing.T) {
	svc := &inmocks.MockToolService{}
	svc.On("ResolveDeployment", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(sampleDeployment(domain.DeploymentStateComplete), nil)
	svc.On("OpenDeploymentZip", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("%w: hash mismatch", domain.ErrCorrupt))

	srv := newTestServer(t, svc, domain.NewPrincipal(""))
	resp := do(t, http.MethodGet, srv.URL+"/api/v1/tools/build-tools/deployments/d1/zip", nil)

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestHandler_Publish(t *testing.T) {
	svc := &inmocks.MockToolService{}
	principal := domain.NewPrincipal("root")
	svc.On("PublishTool", mock.Anything, principal, mock.MatchedBy(func(t *domain.Tool) bool {
		return t.ID == "build-tools" && t.Name == "Build Tools" && t.Public && len(t.Deployments) == 0
	})).Return(nil)

	srv := newTestServer(t, svc, principal)
	body := `{"name":"Build Tools","public":true,"deployments":[{"id":"sneaky","version":"1","state":"complete"}]}`
	resp := do(t, http.MethodPut, srv.URL+"/api/v1/tools/build-tools", strings.NewReader(body))

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	svc.AssertExpectations(t)

	resp = do(t, http.MethodPut, srv.URL+"/api/v1/tools/build-tools", strings.NewReader(`{"id":"other"}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandler_ServiceFailureIsHidden(t *testing.T) {
	svc := &inmocks.MockToolService{}
	svc.On("ListTools", mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("%w: %w", domain.ErrStorageFailure, errors.New("bolt: database not open")))

	srv := newTestServer(t, svc, domain.NewPrincipal(""))
	resp := do(t, http.MethodGet, srv.URL+"/api/v1/tools", nil)

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.NotContains(t, decode[dto.ErrorResponse](t, resp).Error, "bolt")
}

func TestSanitizeFileName(t *testing.T) {
	assert.Equal(t, "1.2.3-rc_1", sanitizeFileName("1.2.3-rc/1"))
	assert.Equal(t, "a_b", sanitizeFileName(`a"b`))
}
