package tools

import (
	"context"
	"fmt"
	"io"

	"github.com/bnema/zerowrap"

	"github.com/bnema/toolshed/internal/domain"
)

// canView reports whether the principal may see a tool: public tools are
// visible to everyone, others need DownloadTool on the tool namespace.
func canView(t *Tool, principal *domain.Principal) bool {
	return t.record.Public || t.Authorize(domain.AclActionDownloadTool, principal)
}

// ListTools returns the tools visible to the principal.
func (c *Collection) ListTools(ctx context.Context, principal *domain.Principal) ([]*domain.Tool, error) {
	all, err := c.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	visible := make([]*domain.Tool, 0, len(all))
	for _, t := range all {
		if canView(t, principal) {
			visible = append(visible, t.Record())
		}
	}
	return visible, nil
}

// GetTool returns a tool visible to the principal.
func (c *Collection) GetTool(ctx context.Context, principal *domain.Principal, id domain.ToolID) (*domain.Tool, error) {
	t, err := c.visibleTool(ctx, principal, id)
	if err != nil {
		return nil, err
	}
	return t.Record(), nil
}

// CreateDeployment creates a deployment of a tool.
func (c *Collection) CreateDeployment(ctx context.Context, principal *domain.Principal, id domain.ToolID, cfg domain.ToolDeploymentConfig, source domain.ContentSource) (*domain.ToolDeployment, error) {
	t, err := c.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrToolNotFound, id)
	}

	d, err := t.CreateDeployment(ctx, principal, cfg, source)
	if err != nil {
		return nil, err
	}
	rec := d.Record()
	return &rec, nil
}

// UpdateDeployment moves a deployment to a new state.
func (c *Collection) UpdateDeployment(ctx context.Context, principal *domain.Principal, id domain.ToolID, deploymentID domain.ToolDeploymentID, state domain.ToolDeploymentState) (*domain.ToolDeployment, error) {
	t, err := c.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrToolNotFound, id)
	}
	// Deny before revealing whether the deployment exists.
	if !t.Authorize(domain.AclActionUploadTool, principal) {
		return nil, fmt.Errorf("%w: update tool %s", domain.ErrForbidden, id)
	}

	d, ok := t.Deployment(deploymentID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrDeploymentNotFound, deploymentID)
	}

	updated, err := d.Update(ctx, principal, state)
	if err != nil {
		return nil, err
	}
	rec := updated.Record()
	return &rec, nil
}

// ResolveDeployment picks a deployment by id or by version constraint.
func (c *Collection) ResolveDeployment(ctx context.Context, principal *domain.Principal, id domain.ToolID, deploymentID domain.ToolDeploymentID, constraint string) (*domain.ToolDeployment, error) {
	t, err := c.visibleTool(ctx, principal, id)
	if err != nil {
		return nil, err
	}
	d, err := resolveDeployment(t, deploymentID, constraint)
	if err != nil {
		return nil, err
	}
	rec := d.Record()
	return &rec, nil
}

// OpenDeploymentZip streams a deployment as a zip archive.
func (c *Collection) OpenDeploymentZip(ctx context.Context, principal *domain.Principal, id domain.ToolID, deploymentID domain.ToolDeploymentID) (io.ReadCloser, error) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:    "usecase",
		zerowrap.FieldUseCase:  "OpenDeploymentZip",
		"tool_id":              string(id),
		zerowrap.FieldEntityID: string(deploymentID),
	})
	log := zerowrap.FromCtx(ctx)

	ctx, span := c.tracer.Start(ctx, "tools.OpenDeploymentZip")
	defer span.End()

	t, err := c.visibleTool(ctx, principal, id)
	if err != nil {
		return nil, err
	}
	d, err := resolveDeployment(t, deploymentID, "")
	if err != nil {
		return nil, err
	}

	rc, err := d.OpenZipStream(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, log.WrapErr(err, "failed to open deployment archive")
	}
	log.Info().Str("version", d.record.Version).Msg("deployment download started")
	return rc, nil
}

// PublishTool creates or updates tool metadata. Existing deployments are kept.
func (c *Collection) PublishTool(ctx context.Context, principal *domain.Principal, tool *domain.Tool) error {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "PublishTool",
		"tool_id":             string(tool.ID),
	})
	log := zerowrap.FromCtx(ctx)

	if err := tool.ID.Validate(); err != nil {
		return err
	}
	if err := tool.Namespace().Validate(); err != nil {
		return err
	}
	cfg, _ := c.configs.TryGetNamespace(tool.Namespace())
	if !domain.Authorize(principal, cfg, domain.AclActionAdminister) {
		return fmt.Errorf("%w: publish tool %s", domain.ErrForbidden, tool.ID)
	}

	existing, err := c.Get(ctx, tool.ID)
	if err != nil {
		return log.WrapErr(err, "failed to load tool")
	}
	if existing != nil {
		if !existing.Authorize(domain.AclActionAdminister, principal) {
			return fmt.Errorf("%w: publish tool %s", domain.ErrForbidden, tool.ID)
		}
		// Stored deployments reference blobs in the current namespace.
		if current := existing.record.Namespace(); current != tool.Namespace() {
			return fmt.Errorf("%w: tool %s belongs to namespace %s", domain.ErrForbidden, tool.ID, current)
		}
	}

	if err := c.store.PutTool(ctx, tool); err != nil {
		return log.WrapErr(fmt.Errorf("%w: %w", domain.ErrStorageFailure, err), "failed to store tool")
	}

	c.publish(ctx, domain.EventToolPublished, domain.ToolPublishedPayload{ToolID: tool.ID, Subject: principal.Subject})
	log.Info().Msg("tool published")
	return nil
}

// visibleTool loads a tool and hides it from principals who may not see it.
func (c *Collection) visibleTool(ctx context.Context, principal *domain.Principal, id domain.ToolID) (*Tool, error) {
	t, err := c.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil || !canView(t, principal) {
		return nil, fmt.Errorf("%w: %s", domain.ErrToolNotFound, id)
	}
	return t, nil
}

func resolveDeployment(t *Tool, deploymentID domain.ToolDeploymentID, constraint string) (*Deployment, error) {
	if deploymentID != "" {
		d, ok := t.Deployment(deploymentID)
		if !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrDeploymentNotFound, deploymentID)
		}
		return d, nil
	}
	return t.FindDeployment(constraint)
}
