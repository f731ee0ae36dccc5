package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/bnema/toolshed/internal/domain"
)

// Recorder is an event handler that turns tool and deployment events into metrics.
type Recorder struct {
	metrics *Metrics
}

// NewRecorder creates a recorder writing to the given instruments.
func NewRecorder(m *Metrics) *Recorder {
	return &Recorder{metrics: m}
}

// CanHandle implements out.EventHandler.
func (r *Recorder) CanHandle(eventType domain.EventType) bool {
	switch eventType {
	case domain.EventToolPublished,
		domain.EventDeploymentCreated,
		domain.EventDeploymentStateChanged,
		domain.EventDeploymentCreationAborted:
		return true
	}
	return false
}

// Handle implements out.EventHandler.
func (r *Recorder) Handle(ctx context.Context, event domain.Event) error {
	tool := attribute.String("tool_id", string(event.ToolID))

	switch event.Type {
	case domain.EventToolPublished:
		r.metrics.ToolsPublished.Add(ctx, 1, metric.WithAttributes(tool))
	case domain.EventDeploymentCreated:
		r.metrics.DeploymentsCreated.Add(ctx, 1, metric.WithAttributes(tool))
		if p, ok := event.Data.(domain.DeploymentEventPayload); ok && p.Length > 0 {
			r.metrics.DeploymentUploadBytes.Add(ctx, p.Length, metric.WithAttributes(tool))
		}
	case domain.EventDeploymentStateChanged:
		state := ""
		if p, ok := event.Data.(domain.DeploymentEventPayload); ok {
			state = string(p.State)
		}
		r.metrics.DeploymentTransitions.Add(ctx, 1, metric.WithAttributes(tool, attribute.String("state", state)))
	case domain.EventDeploymentCreationAborted:
		r.metrics.DeploymentsAborted.Add(ctx, 1, metric.WithAttributes(tool))
	}
	return nil
}
