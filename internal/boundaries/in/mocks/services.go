// Package mocks provides testify mocks of the inbound service contracts.
package mocks

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"github.com/bnema/toolshed/internal/domain"
)

// MockToolService is a mock implementation of in.ToolService
type MockToolService struct {
	mock.Mock
}

func (m *MockToolService) ListTools(ctx context.Context, principal *domain.Principal) ([]*domain.Tool, error) {
	args := m.Called(ctx, principal)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Tool), args.Error(1)
}

func (m *MockToolService) GetTool(ctx context.Context, principal *domain.Principal, id domain.ToolID) (*domain.Tool, error) {
	args := m.Called(ctx, principal, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Tool), args.Error(1)
}

func (m *MockToolService) CreateDeployment(ctx context.Context, principal *domain.Principal, id domain.ToolID, cfg domain.ToolDeploymentConfig, source domain.ContentSource) (*domain.ToolDeployment, error) {
	args := m.Called(ctx, principal, id, cfg, source)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ToolDeployment), args.Error(1)
}

func (m *MockToolService) UpdateDeployment(ctx context.Context, principal *domain.Principal, id domain.ToolID, deploymentID domain.ToolDeploymentID, state domain.ToolDeploymentState) (*domain.ToolDeployment, error) {
	args := m.Called(ctx, principal, id, deploymentID, state)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ToolDeployment), args.Error(1)
}

func (m *MockToolService) ResolveDeployment(ctx context.Context, principal *domain.Principal, id domain.ToolID, deploymentID domain.ToolDeploymentID, constraint string) (*domain.ToolDeployment, error) {
	args := m.Called(ctx, principal, id, deploymentID, constraint)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ToolDeployment), args.Error(1)
}

func (m *MockToolService) OpenDeploymentZip(ctx context.Context, principal *domain.Principal, id domain.ToolID, deploymentID domain.ToolDeploymentID) (io.ReadCloser, error) {
	args := m.Called(ctx, principal, id, deploymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

func (m *MockToolService) PublishTool(ctx context.Context, principal *domain.Principal, tool *domain.Tool) error {
	args := m.Called(ctx, principal, tool)
	return args.Error(0)
}

// MockNamespaceService is a mock implementation of in.NamespaceService
type MockNamespaceService struct {
	mock.Mock
}

func (m *MockNamespaceService) HasAccessToNamespace(ctx context.Context, principal *domain.Principal, ns domain.NamespaceID, actions ...domain.AclAction) error {
	args := m.Called(ctx, principal, ns, actions)
	return args.Error(0)
}

func (m *MockNamespaceService) OpenBlob(ctx context.Context, principal *domain.Principal, ns domain.NamespaceID, locator domain.BlobLocator) (io.ReadCloser, error) {
	args := m.Called(ctx, principal, ns, locator)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

func (m *MockNamespaceService) HasBlob(ctx context.Context, principal *domain.Principal, ns domain.NamespaceID, locator domain.BlobLocator) (bool, error) {
	args := m.Called(ctx, principal, ns, locator)
	return args.Bool(0), args.Error(1)
}

func (m *MockNamespaceService) ReadRef(ctx context.Context, principal *domain.Principal, ns domain.NamespaceID, name domain.RefName) (domain.BlobLocator, error) {
	args := m.Called(ctx, principal, ns, name)
	return args.Get(0).(domain.BlobLocator), args.Error(1)
}

func (m *MockNamespaceService) ListNamespaces(ctx context.Context, principal *domain.Principal) []domain.NamespaceID {
	args := m.Called(ctx, principal)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]domain.NamespaceID)
}

// MockAuthService is a mock implementation of in.AuthService
type MockAuthService struct {
	mock.Mock
}

func (m *MockAuthService) IsEnabled() bool {
	return m.Called().Bool(0)
}

func (m *MockAuthService) ValidateToken(ctx context.Context, token string) (*domain.TokenClaims, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.TokenClaims), args.Error(1)
}

func (m *MockAuthService) Anonymous() *domain.Principal {
	return m.Called().Get(0).(*domain.Principal)
}
