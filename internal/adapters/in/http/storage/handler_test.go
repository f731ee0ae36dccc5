package storage

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bnema/zerowrap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bnema/toolshed/internal/adapters/dto"
	inmocks "github.com/bnema/toolshed/internal/boundaries/in/mocks"
	"github.com/bnema/toolshed/internal/domain"
)

func newTestMux(svc *inmocks.MockNamespaceService) *http.ServeMux {
	mux := http.NewServeMux()
	NewHandler(svc, zerowrap.Default()).RegisterRoutes(mux)
	return mux
}

func serve(mux *http.ServeMux, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestHandler_Namespaces(t *testing.T) {
	svc := &inmocks.MockNamespaceService{}
	svc.On("ListNamespaces", mock.Anything, mock.Anything).Return(nil)

	rec := serve(newTestMux(svc), http.MethodGet, "/api/v1/storage")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"namespaces":[]}`, rec.Body.String())
}

func TestHandler_Blob(t *testing.T) {
	svc := &inmocks.MockNamespaceService{}
	loc := domain.ComputeBlobLocator([]byte("blob"))
	svc.On("OpenBlob", mock.Anything, mock.Anything, domain.NamespaceID("tools"), loc).
		Return(io.NopCloser(strings.NewReader("blob")), nil)

	rec := serve(newTestMux(svc), http.MethodGet, "/api/v1/storage/tools/blobs/"+string(loc))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "blob", rec.Body.String())
	assert.Equal(t, `"`+string(loc)+`"`, rec.Header().Get("ETag"))
}

func TestHandler_Blob_Errors(t *testing.T) {
	svc := &inmocks.MockNamespaceService{}
	loc := domain.ComputeBlobLocator([]byte("blob"))
	svc.On("OpenBlob", mock.Anything, mock.Anything, domain.NamespaceID("secret"), loc).Return(nil, domain.ErrForbidden)
	svc.On("OpenBlob", mock.Anything, mock.Anything, domain.NamespaceID("tools"), loc).Return(nil, domain.ErrBlobNotFound)
	mux := newTestMux(svc)

	assert.Equal(t, http.StatusForbidden, serve(mux, http.MethodGet, "/api/v1/storage/secret/blobs/"+string(loc)).Code)
	assert.Equal(t, http.StatusNotFound, serve(mux, http.MethodGet, "/api/v1/storage/tools/blobs/"+string(loc)).Code)
	assert.Equal(t, http.StatusBadRequest, serve(mux, http.MethodGet, "/api/v1/storage/tools/blobs/md5:abc").Code)
}

func TestHandler_BlobHead(t *testing.T) {
	svc := &inmocks.MockNamespaceService{}
	present := domain.ComputeBlobLocator([]byte("present"))
	absent := domain.ComputeBlobLocator([]byte("absent"))
	svc.On("HasBlob", mock.Anything, mock.Anything, domain.NamespaceID("tools"), present).Return(true, nil)
	svc.On("HasBlob", mock.Anything, mock.Anything, domain.NamespaceID("tools"), absent).Return(false, nil)
	svc.On("HasBlob", mock.Anything, mock.Anything, domain.NamespaceID("secret"), present).Return(false, domain.ErrForbidden)
	mux := newTestMux(svc)

	assert.Equal(t, http.StatusOK, serve(mux, http.MethodHead, "/api/v1/storage/tools/blobs/"+string(present)).Code)
	assert.Equal(t, http.StatusNotFound, serve(mux, http.MethodHead, "/api/v1/storage/tools/blobs/"+string(absent)).Code)
	assert.Equal(t, http.StatusForbidden, serve(mux, http.MethodHead, "/api/v1/storage/secret/blobs/"+string(present)).Code)
}

func TestHandler_Ref(t *testing.T) {
	svc := &inmocks.MockNamespaceService{}
	loc := domain.ComputeBlobLocator([]byte("root"))
	svc.On("ReadRef", mock.Anything, mock.Anything, domain.NamespaceID("tools"), domain.RefName("tools/build-tools/d1")).Return(loc, nil)
	svc.On("ReadRef", mock.Anything, mock.Anything, domain.NamespaceID("tools"), domain.RefName("missing")).Return(domain.BlobLocator(""), domain.ErrRefNotFound)
	mux := newTestMux(svc)

	rec := serve(mux, http.MethodGet, "/api/v1/storage/tools/refs/tools/build-tools/d1")
	require.Equal(t, http.StatusOK, rec.Code)
	var ref dto.RefResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ref))
	assert.Equal(t, loc, ref.Locator)

	assert.Equal(t, http.StatusNotFound, serve(mux, http.MethodGet, "/api/v1/storage/tools/refs/missing").Code)
}
