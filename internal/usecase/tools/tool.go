package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/bnema/zerowrap"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/bnema/toolshed/internal/boundaries/out"
	"github.com/bnema/toolshed/internal/domain"
	"github.com/bnema/toolshed/internal/usecase/storage"
)

// Tool is a loaded tool together with its deployments in creation order.
type Tool struct {
	collection *Collection
	record     *domain.Tool

	mu          sync.RWMutex
	deployments []*Deployment
}

func newTool(c *Collection, record *domain.Tool) *Tool {
	t := &Tool{collection: c, record: record}
	t.deployments = make([]*Deployment, len(record.Deployments))
	for i, d := range record.Deployments {
		t.deployments[i] = &Deployment{tool: t, record: d}
	}
	return t
}

// ID returns the tool id.
func (t *Tool) ID() domain.ToolID {
	return t.record.ID
}

// Record returns a copy of the tool record, including deployments created
// through this handle.
func (t *Tool) Record() *domain.Tool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec := t.record.Clone()
	rec.Deployments = make([]domain.ToolDeployment, len(t.deployments))
	for i, d := range t.deployments {
		rec.Deployments[i] = d.Record()
	}
	return rec
}

// Authorize reports whether the principal holds action on the tool namespace.
func (t *Tool) Authorize(action domain.AclAction, principal *domain.Principal) bool {
	cfg, ok := t.collection.configs.TryGetNamespace(t.record.Namespace())
	if !ok {
		return false
	}
	return domain.Authorize(principal, cfg, action)
}

// StorageNamespace returns the namespace holding the tool content.
func (t *Tool) StorageNamespace() (*storage.Namespace, bool) {
	return t.collection.storage.TryGetNamespace(t.record.Namespace())
}

// StorageBackend returns the backend serving the tool namespace.
func (t *Tool) StorageBackend() (out.StorageBackend, bool) {
	ns, ok := t.StorageNamespace()
	if !ok {
		return nil, false
	}
	return ns.Backend(), true
}

// Deployments returns the deployments, oldest first.
func (t *Tool) Deployments() []*Deployment {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]*Deployment(nil), t.deployments...)
}

// Deployment returns the deployment with the given id.
func (t *Tool) Deployment(id domain.ToolDeploymentID) (*Deployment, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, d := range t.deployments {
		if d.ID() == id {
			return d, true
		}
	}
	return nil, false
}

// replaceDeployment swaps in a newer snapshot of an existing deployment.
func (t *Tool) replaceDeployment(d *Deployment) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, existing := range t.deployments {
		if existing.ID() == d.ID() {
			t.deployments[i] = d
			return
		}
	}
}

// FindDeployment returns the highest-versioned deployment matching a semver
// constraint, ignoring cancelled and failed deployments. Deployments whose
// version is not semver never match. An empty constraint returns the most
// recent complete or active deployment.
func (t *Tool) FindDeployment(constraint string) (*Deployment, error) {
	deployments := t.Deployments()

	if constraint == "" {
		for i := len(deployments) - 1; i >= 0; i-- {
			switch deployments[i].State() {
			case domain.DeploymentStateComplete, domain.DeploymentStateActive:
				return deployments[i], nil
			}
		}
		return nil, fmt.Errorf("%w: %s has no active or complete deployment", domain.ErrDeploymentNotFound, t.ID())
	}

	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return nil, fmt.Errorf("%w: constraint %q: %v", domain.ErrInvalidVersion, constraint, err)
	}

	type candidate struct {
		version *semver.Version
		d       *Deployment
	}
	var matches []candidate
	for _, d := range deployments {
		if s := d.State(); s == domain.DeploymentStateCancelled || s == domain.DeploymentStateFailed {
			continue
		}
		v, err := semver.NewVersion(d.record.Version)
		if err != nil || !c.Check(v) {
			continue
		}
		matches = append(matches, candidate{version: v, d: d})
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: no deployment of %s matches %q", domain.ErrDeploymentNotFound, t.ID(), constraint)
	}

	// Stable sort keeps the most recent deployment last among equal versions.
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].version.LessThan(matches[j].version) })
	return matches[len(matches)-1].d, nil
}

// CreateDeployment stores the content and appends a pending deployment.
// Authorization is checked before any write. When recording fails, the ref
// written for the deployment is removed and no record is left behind.
func (t *Tool) CreateDeployment(ctx context.Context, principal *domain.Principal, cfg domain.ToolDeploymentConfig, source domain.ContentSource) (*Deployment, error) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "CreateDeployment",
		"tool_id":             string(t.ID()),
		"version":             cfg.Version,
	})
	log := zerowrap.FromCtx(ctx)

	ctx, span := t.collection.tracer.Start(ctx, "tools.CreateDeployment")
	defer span.End()
	span.SetAttributes(attribute.String("tool.id", string(t.ID())), attribute.String("tool.version", cfg.Version))

	deployment, err := t.createDeployment(ctx, principal, cfg, source)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if !errors.Is(err, domain.ErrForbidden) {
			log.Warn().Err(err).Msg("deployment creation failed")
		}
		return nil, err
	}

	span.SetAttributes(attribute.String("deployment.id", string(deployment.ID())))
	log.Info().Str(zerowrap.FieldEntityID, string(deployment.ID())).Msg("deployment created")
	return deployment, nil
}

func (t *Tool) createDeployment(ctx context.Context, principal *domain.Principal, cfg domain.ToolDeploymentConfig, source domain.ContentSource) (*Deployment, error) {
	if !t.Authorize(domain.AclActionUploadTool, principal) {
		return nil, fmt.Errorf("%w: upload to tool %s", domain.ErrForbidden, t.ID())
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ns, ok := t.StorageNamespace()
	if !ok {
		return nil, fmt.Errorf("%w: %w: %s", domain.ErrStorageFailure, domain.ErrNamespaceNotFound, t.record.Namespace())
	}

	root, length, err := t.storeContent(ctx, ns, cfg, source)
	if err != nil {
		return nil, err
	}

	now := t.collection.config.Now()
	record := domain.ToolDeployment{
		ID:        domain.ToolDeploymentID(uuid.NewString()),
		Version:   cfg.Version,
		State:     domain.DeploymentStatePending,
		Progress:  0,
		StartedAt: &now,
		Duration:  cfg.Duration,
		Locator:   root,
		CreatedAt: now,
		UpdatedAt: now,
	}
	record.RefName = domain.DeploymentRefName(t.ID(), record.ID)

	if err := ns.WriteRef(ctx, record.RefName, root); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		t.abortCreation(ctx, ns, record, err)
		return nil, err
	}
	if err := t.collection.store.AppendDeployment(ctx, t.ID(), record); err != nil {
		t.abortCreation(ctx, ns, record, err)
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: record deployment: %w", domain.ErrStorageFailure, err)
	}

	deployment := &Deployment{tool: t, record: record}
	t.mu.Lock()
	t.deployments = append(t.deployments, deployment)
	t.mu.Unlock()

	t.collection.publish(ctx, domain.EventDeploymentCreated, domain.DeploymentEventPayload{
		ToolID:       t.ID(),
		DeploymentID: record.ID,
		Version:      record.Version,
		State:        record.State,
		Subject:      principal.Subject,
		Length:       length,
	})
	return deployment, nil
}

func (t *Tool) storeContent(ctx context.Context, ns *storage.Namespace, cfg domain.ToolDeploymentConfig, source domain.ContentSource) (domain.BlobLocator, int64, error) {
	switch src := source.(type) {
	case domain.StreamContent:
		if src.Reader == nil {
			return "", 0, domain.ErrEmptyContent
		}
		res, err := storage.ImportStream(ctx, ns, src.Reader, cfg.FileName)
		if err != nil {
			return "", 0, err
		}
		return res.Root, res.Length, nil
	case domain.ExistingContent:
		if err := src.Locator.Validate(); err != nil {
			return "", 0, err
		}
		node, err := ns.DirectoryRef(src.Locator).Resolve(ctx)
		if err != nil {
			return "", 0, err
		}
		return src.Locator, node.Length(), nil
	case nil:
		return "", 0, domain.ErrEmptyContent
	default:
		return "", 0, fmt.Errorf("%w: %T", domain.ErrUnknownSource, source)
	}
}

// abortCreation removes the ref of a deployment that was never recorded.
func (t *Tool) abortCreation(ctx context.Context, ns *storage.Namespace, record domain.ToolDeployment, cause error) {
	log := zerowrap.FromCtx(ctx)
	if err := ns.DeleteRef(context.WithoutCancel(ctx), record.RefName); err != nil {
		log.Error().Err(err).Str("ref", string(record.RefName)).Msg("failed to remove ref of aborted deployment")
	}
	t.collection.publish(ctx, domain.EventDeploymentCreationAborted, domain.DeploymentEventPayload{
		ToolID:       t.ID(),
		DeploymentID: record.ID,
		Version:      record.Version,
	})
	log.Debug().Err(cause).Str(zerowrap.FieldEntityID, string(record.ID)).Msg("deployment creation aborted")
}
