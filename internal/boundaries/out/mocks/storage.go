package mocks

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"github.com/bnema/toolshed/internal/domain"
)

// MockStorageBackend is a mock implementation of out.StorageBackend
type MockStorageBackend struct {
	mock.Mock
}

// Blob operations
func (m *MockStorageBackend) GetBlob(ctx context.Context, locator domain.BlobLocator) (io.ReadCloser, error) {
	args := m.Called(ctx, locator)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

func (m *MockStorageBackend) PutBlob(ctx context.Context, locator domain.BlobLocator, data io.Reader, size int64) error {
	args := m.Called(ctx, locator, data, size)
	return args.Error(0)
}

func (m *MockStorageBackend) HasBlob(ctx context.Context, locator domain.BlobLocator) (bool, error) {
	args := m.Called(ctx, locator)
	return args.Bool(0), args.Error(1)
}

// Ref operations
func (m *MockStorageBackend) ReadRef(ctx context.Context, name domain.RefName) (domain.BlobLocator, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(domain.BlobLocator), args.Error(1)
}

func (m *MockStorageBackend) WriteRef(ctx context.Context, name domain.RefName, locator domain.BlobLocator) error {
	args := m.Called(ctx, name, locator)
	return args.Error(0)
}

func (m *MockStorageBackend) DeleteRef(ctx context.Context, name domain.RefName) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}

// MockNamespaceConfigProvider is a mock implementation of out.NamespaceConfigProvider
type MockNamespaceConfigProvider struct {
	mock.Mock
}

func (m *MockNamespaceConfigProvider) TryGetNamespace(id domain.NamespaceID) (*domain.NamespaceConfig, bool) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Bool(1)
	}
	return args.Get(0).(*domain.NamespaceConfig), args.Bool(1)
}
