package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/bnema/toolshed/internal/domain"
	"github.com/bnema/toolshed/internal/usecase/storage"
)

// Deployment is a snapshot of one deployment of a tool. Update returns a new
// snapshot and installs it in the owning Tool, so lookups through the tool
// see the new state; an older *Deployment value keeps the state it held.
type Deployment struct {
	tool   *Tool
	record domain.ToolDeployment
}

// ID returns the deployment id.
func (d *Deployment) ID() domain.ToolDeploymentID {
	return d.record.ID
}

// Tool returns the owning tool.
func (d *Deployment) Tool() *Tool {
	return d.tool
}

// State returns the deployment state.
func (d *Deployment) State() domain.ToolDeploymentState {
	return d.record.State
}

// Progress returns the rollout progress at the current time.
func (d *Deployment) Progress() float64 {
	return d.record.ProgressAt(d.tool.collection.config.Now())
}

// Record returns a copy of the deployment record with progress evaluated now.
func (d *Deployment) Record() domain.ToolDeployment {
	rec := d.record.Clone()
	rec.Progress = d.Progress()
	return rec
}

// Content returns the lazily resolved root directory of the deployment,
// bound to the owning tool's namespace.
func (d *Deployment) Content() (*storage.BlobRef[domain.DirectoryNode], error) {
	return d.tool.collection.open(d.tool, d.record.Locator)
}

// Update moves the deployment to next. Concurrent updates of the same
// deployment are serialized by compare-and-swap: of two transitions from the
// same state at most one succeeds, the other is re-validated against the
// winner's state.
func (d *Deployment) Update(ctx context.Context, principal *domain.Principal, next domain.ToolDeploymentState) (*Deployment, error) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:    "usecase",
		zerowrap.FieldUseCase:  "UpdateDeployment",
		"tool_id":              string(d.tool.ID()),
		zerowrap.FieldEntityID: string(d.ID()),
		"state":                string(next),
	})
	log := zerowrap.FromCtx(ctx)

	ctx, span := d.tool.collection.tracer.Start(ctx, "tools.UpdateDeployment")
	defer span.End()
	span.SetAttributes(
		attribute.String("tool.id", string(d.tool.ID())),
		attribute.String("deployment.id", string(d.ID())),
		attribute.String("deployment.state", string(next)),
	)

	updated, previous, err := d.update(ctx, principal, next)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Debug().Err(err).Msg("deployment update rejected")
		return nil, err
	}

	d.tool.collection.publish(ctx, domain.EventDeploymentStateChanged, domain.DeploymentEventPayload{
		ToolID:       d.tool.ID(),
		DeploymentID: d.ID(),
		Version:      updated.Version,
		Previous:     previous,
		State:        updated.State,
		Subject:      principal.Subject,
	})

	log.Info().Str("previous", string(previous)).Msg("deployment state updated")
	snapshot := &Deployment{tool: d.tool, record: updated}
	d.tool.replaceDeployment(snapshot)
	return snapshot, nil
}

func (d *Deployment) update(ctx context.Context, principal *domain.Principal, next domain.ToolDeploymentState) (domain.ToolDeployment, domain.ToolDeploymentState, error) {
	if !d.tool.Authorize(domain.AclActionUploadTool, principal) {
		return domain.ToolDeployment{}, "", fmt.Errorf("%w: update tool %s", domain.ErrForbidden, d.tool.ID())
	}
	if _, err := domain.ParseDeploymentState(string(next)); err != nil {
		return domain.ToolDeployment{}, "", err
	}

	store := d.tool.collection.store
	var updated domain.ToolDeployment
	var previous domain.ToolDeploymentState

	attempt := func() error {
		tool, err := store.GetTool(ctx, d.tool.ID())
		if err != nil {
			return backoff.Permanent(err)
		}
		current, ok := tool.FindDeployment(d.ID())
		if !ok {
			return backoff.Permanent(fmt.Errorf("%w: %s", domain.ErrDeploymentNotFound, d.ID()))
		}

		candidate, err := current.Transition(next, d.tool.collection.config.Now())
		if err != nil {
			return backoff.Permanent(err)
		}

		err = store.CompareAndSwapDeployment(ctx, d.tool.ID(), candidate, current.State)
		switch {
		case err == nil:
			updated, previous = candidate, current.State
			return nil
		case errors.Is(err, domain.ErrDeploymentConflict):
			return err
		case errors.Is(err, domain.ErrNotFound):
			return backoff.Permanent(err)
		default:
			return backoff.Permanent(fmt.Errorf("%w: update deployment: %w", domain.ErrStorageFailure, err))
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 100 * time.Millisecond
	policy := backoff.WithContext(backoff.WithMaxRetries(b, d.tool.collection.config.MaxUpdateRetries), ctx)

	if err := backoff.Retry(attempt, policy); err != nil {
		if errors.Is(err, domain.ErrDeploymentConflict) {
			return domain.ToolDeployment{}, "", fmt.Errorf("%w: %w", domain.ErrStorageFailure, err)
		}
		return domain.ToolDeployment{}, "", err
	}
	return updated, previous, nil
}

// OpenZipStream streams the deployment content as a zip archive.
func (d *Deployment) OpenZipStream(ctx context.Context) (io.ReadCloser, error) {
	ref, err := d.Content()
	if err != nil {
		return nil, err
	}
	// A missing or corrupt root fails here, before any byte is streamed.
	if _, err := ref.Resolve(ctx); err != nil {
		return nil, err
	}
	return storage.OpenZip(ctx, ref.Namespace(), ref.Locator()), nil
}
