// Package tools implements the tool distribution use case: tool lookup,
// deployment creation and the deployment lifecycle.
package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bnema/zerowrap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/bnema/toolshed/internal/boundaries/out"
	"github.com/bnema/toolshed/internal/domain"
	"github.com/bnema/toolshed/internal/usecase/storage"
)

const tracerName = "github.com/bnema/toolshed/internal/usecase/tools"

// Config holds configuration needed by the tool collection.
type Config struct {
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
	// MaxUpdateRetries bounds compare-and-swap retries of a state transition.
	MaxUpdateRetries uint64
}

// Collection is the aggregate root over tools. It implements the ToolService interface.
type Collection struct {
	store    out.ToolStore
	storage  *storage.Client
	configs  out.NamespaceConfigProvider
	eventBus out.EventPublisher
	config   Config
	tracer   trace.Tracer
}

// NewCollection creates a new tool collection.
func NewCollection(
	store out.ToolStore,
	storage *storage.Client,
	configs out.NamespaceConfigProvider,
	eventBus out.EventPublisher,
	config Config,
) *Collection {
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.MaxUpdateRetries == 0 {
		config.MaxUpdateRetries = 5
	}
	return &Collection{
		store:    store,
		storage:  storage,
		configs:  configs,
		eventBus: eventBus,
		config:   config,
		tracer:   otel.Tracer(tracerName),
	}
}

// Get returns a tool, or nil without error if no tool has the given id.
func (c *Collection) Get(ctx context.Context, id domain.ToolID) (*Tool, error) {
	record, err := c.store.GetTool(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: get tool %s: %w", domain.ErrStorageFailure, id, err)
	}
	return newTool(c, record), nil
}

// GetAll returns every tool. Tools that disappear or fail to load between
// listing and fetching are skipped; only cancellation aborts the batch.
func (c *Collection) GetAll(ctx context.Context) ([]*Tool, error) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "GetAll",
	})
	log := zerowrap.FromCtx(ctx)

	ids, err := c.store.ListToolIDs(ctx)
	if err != nil {
		return nil, log.WrapErr(fmt.Errorf("%w: %w", domain.ErrStorageFailure, err), "failed to list tools")
	}

	tools := make([]*Tool, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tool, err := c.Get(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn().Err(err).Str(zerowrap.FieldEntityID, string(id)).Msg("skipping tool that failed to load")
			continue
		}
		if tool == nil {
			log.Debug().Str(zerowrap.FieldEntityID, string(id)).Msg("skipping tool removed while listing")
			continue
		}
		tools = append(tools, tool)
	}

	log.Debug().Int(zerowrap.FieldCount, len(tools)).Msg("tools loaded")
	return tools, nil
}

// open composes a tool's namespace with a locator. It is the only way a
// deployment reaches its content.
func (c *Collection) open(tool *Tool, locator domain.BlobLocator) (*storage.BlobRef[domain.DirectoryNode], error) {
	ns, ok := tool.StorageNamespace()
	if !ok {
		return nil, fmt.Errorf("%w: %w: %s", domain.ErrStorageFailure, domain.ErrNamespaceNotFound, tool.record.Namespace())
	}
	return ns.DirectoryRef(locator), nil
}

func (c *Collection) publish(ctx context.Context, eventType domain.EventType, payload any) {
	if c.eventBus == nil {
		return
	}
	if err := c.eventBus.Publish(eventType, payload); err != nil {
		log := zerowrap.FromCtx(ctx)
		log.Warn().Err(err).Str(zerowrap.FieldEvent, string(eventType)).Msg("failed to publish event")
	}
}
