package out

import (
	"context"

	"github.com/bnema/toolshed/internal/domain"
)

// ToolStore defines the contract for persisting tool records and their deployments.
type ToolStore interface {
	// ListToolIDs returns the ids of every stored tool, sorted.
	ListToolIDs(ctx context.Context) ([]domain.ToolID, error)

	// GetTool returns a tool with its deployments in creation order.
	// Returns domain.ErrToolNotFound if it does not exist.
	GetTool(ctx context.Context, id domain.ToolID) (*domain.Tool, error)

	// PutTool creates or updates tool metadata. Existing deployments are preserved.
	PutTool(ctx context.Context, tool *domain.Tool) error

	// AppendDeployment atomically appends a deployment record to a tool.
	AppendDeployment(ctx context.Context, id domain.ToolID, deployment domain.ToolDeployment) error

	// CompareAndSwapDeployment replaces a deployment record if its stored state equals
	// expected. Returns domain.ErrDeploymentConflict otherwise, or
	// domain.ErrDeploymentNotFound if the deployment does not exist.
	CompareAndSwapDeployment(ctx context.Context, id domain.ToolID, deployment domain.ToolDeployment, expected domain.ToolDeploymentState) error

	// Close releases the underlying resources.
	Close() error
}
