package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/bnema/toolshed/internal/domain"
)

// MockToolStore is a mock implementation of out.ToolStore
type MockToolStore struct {
	mock.Mock
}

func (m *MockToolStore) ListToolIDs(ctx context.Context) ([]domain.ToolID, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ToolID), args.Error(1)
}

func (m *MockToolStore) GetTool(ctx context.Context, id domain.ToolID) (*domain.Tool, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Tool), args.Error(1)
}

func (m *MockToolStore) PutTool(ctx context.Context, tool *domain.Tool) error {
	args := m.Called(ctx, tool)
	return args.Error(0)
}

func (m *MockToolStore) AppendDeployment(ctx context.Context, id domain.ToolID, deployment domain.ToolDeployment) error {
	args := m.Called(ctx, id, deployment)
	return args.Error(0)
}

func (m *MockToolStore) CompareAndSwapDeployment(ctx context.Context, id domain.ToolID, deployment domain.ToolDeployment, expected domain.ToolDeploymentState) error {
	args := m.Called(ctx, id, deployment, expected)
	return args.Error(0)
}

func (m *MockToolStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockEventPublisher is a mock implementation of out.EventPublisher
type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(eventType domain.EventType, payload any) error {
	args := m.Called(eventType, payload)
	return args.Error(0)
}
