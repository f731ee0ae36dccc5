package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/bnema/toolshed/internal/domain"
)

// ToolStore implements out.ToolStore in memory. Records are cloned on the way in
// and out so callers never share state with the store.
type ToolStore struct {
	mu    sync.RWMutex
	tools map[domain.ToolID]*domain.Tool
}

// NewToolStore creates an empty in-memory tool store.
func NewToolStore() *ToolStore {
	return &ToolStore{tools: make(map[domain.ToolID]*domain.Tool)}
}

// ListToolIDs returns every tool id, sorted.
func (s *ToolStore) ListToolIDs(_ context.Context) ([]domain.ToolID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]domain.ToolID, 0, len(s.tools))
	for id := range s.tools {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// GetTool returns a copy of a tool.
func (s *ToolStore) GetTool(_ context.Context, id domain.ToolID) (*domain.Tool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tool, ok := s.tools[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrToolNotFound, id)
	}
	return tool.Clone(), nil
}

// PutTool creates or updates tool metadata, keeping stored deployments.
func (s *ToolStore) PutTool(_ context.Context, tool *domain.Tool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := tool.Clone()
	if existing, ok := s.tools[tool.ID]; ok {
		next.Deployments = existing.Deployments
	} else {
		next.Deployments = nil
	}
	s.tools[tool.ID] = next
	return nil
}

// AppendDeployment appends a deployment record.
func (s *ToolStore) AppendDeployment(_ context.Context, id domain.ToolID, deployment domain.ToolDeployment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tool, ok := s.tools[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrToolNotFound, id)
	}
	if _, exists := tool.FindDeployment(deployment.ID); exists {
		return fmt.Errorf("%w: duplicate deployment id %s", domain.ErrDeploymentConflict, deployment.ID)
	}
	tool.Deployments = append(tool.Deployments, deployment.Clone())
	return nil
}

// CompareAndSwapDeployment replaces a deployment if its state equals expected.
func (s *ToolStore) CompareAndSwapDeployment(_ context.Context, id domain.ToolID, deployment domain.ToolDeployment, expected domain.ToolDeploymentState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tool, ok := s.tools[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrToolNotFound, id)
	}
	current, ok := tool.FindDeployment(deployment.ID)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrDeploymentNotFound, deployment.ID)
	}
	if current.State != expected {
		return fmt.Errorf("%w: %s is %s, expected %s", domain.ErrDeploymentConflict, deployment.ID, current.State, expected)
	}
	*current = deployment.Clone()
	return nil
}

// Remove deletes a tool. Used to simulate administrative deletion.
func (s *ToolStore) Remove(id domain.ToolID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tools, id)
}

// Close implements out.ToolStore.
func (s *ToolStore) Close() error {
	return nil
}
