package in

import (
	"context"
	"io"

	"github.com/bnema/toolshed/internal/domain"
)

// ToolService defines the contract for tool and deployment operations at the
// request boundary.
type ToolService interface {
	// ListTools returns the tools visible to the principal. Tools that vanish
	// while listing are skipped.
	ListTools(ctx context.Context, principal *domain.Principal) ([]*domain.Tool, error)

	// GetTool returns a tool. Returns domain.ErrToolNotFound if it does not
	// exist or is not visible to the principal.
	GetTool(ctx context.Context, principal *domain.Principal, id domain.ToolID) (*domain.Tool, error)

	// CreateDeployment uploads or adopts content and records a pending deployment.
	// Requires AclActionUploadTool on the tool namespace.
	CreateDeployment(ctx context.Context, principal *domain.Principal, id domain.ToolID, cfg domain.ToolDeploymentConfig, source domain.ContentSource) (*domain.ToolDeployment, error)

	// UpdateDeployment moves a deployment to a new state.
	// Requires AclActionUploadTool on the tool namespace.
	UpdateDeployment(ctx context.Context, principal *domain.Principal, id domain.ToolID, deploymentID domain.ToolDeploymentID, state domain.ToolDeploymentState) (*domain.ToolDeployment, error)

	// ResolveDeployment picks a deployment by id, or by semver constraint when
	// the id is empty. An empty constraint selects the latest usable deployment.
	ResolveDeployment(ctx context.Context, principal *domain.Principal, id domain.ToolID, deploymentID domain.ToolDeploymentID, constraint string) (*domain.ToolDeployment, error)

	// OpenDeploymentZip streams a deployment's content as a zip archive.
	// Public tools need no grant; others require AclActionDownloadTool.
	OpenDeploymentZip(ctx context.Context, principal *domain.Principal, id domain.ToolID, deploymentID domain.ToolDeploymentID) (io.ReadCloser, error)

	// PublishTool creates or updates tool metadata.
	// Requires AclActionAdminister on the tool namespace.
	PublishTool(ctx context.Context, principal *domain.Principal, tool *domain.Tool) error
}
