package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "toolshed"

// Metrics holds the tool distribution metric instruments.
type Metrics struct {
	// Deployments
	DeploymentsCreated    metric.Int64Counter
	DeploymentsAborted    metric.Int64Counter
	DeploymentTransitions metric.Int64Counter
	DeploymentUploadBytes metric.Int64Counter

	// Tools
	ToolsPublished metric.Int64Counter

	// Events
	EventsProcessed metric.Int64Counter
	EventsDropped   metric.Int64Counter
}

// NewMetrics creates the metric instruments on the global MeterProvider.
// Instruments are noop until a provider is installed.
func NewMetrics() (*Metrics, error) {
	return NewMetricsFromMeter(otel.Meter(meterName))
}

// NewMetricsFromMeter creates the metric instruments on the given meter.
func NewMetricsFromMeter(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.DeploymentsCreated, err = meter.Int64Counter("toolshed.deployment.created",
		metric.WithDescription("Deployments created")); err != nil {
		return nil, err
	}
	if m.DeploymentsAborted, err = meter.Int64Counter("toolshed.deployment.aborted",
		metric.WithDescription("Deployment creations rolled back")); err != nil {
		return nil, err
	}
	if m.DeploymentTransitions, err = meter.Int64Counter("toolshed.deployment.transitions",
		metric.WithDescription("Deployment state transitions, by target state")); err != nil {
		return nil, err
	}
	if m.DeploymentUploadBytes, err = meter.Int64Counter("toolshed.deployment.upload.bytes",
		metric.WithDescription("Payload bytes uploaded with new deployments"),
		metric.WithUnit("By")); err != nil {
		return nil, err
	}
	if m.ToolsPublished, err = meter.Int64Counter("toolshed.tool.published",
		metric.WithDescription("Tool metadata publications")); err != nil {
		return nil, err
	}
	if m.EventsProcessed, err = meter.Int64Counter("toolshed.events.processed",
		metric.WithDescription("Events processed by the event bus")); err != nil {
		return nil, err
	}
	if m.EventsDropped, err = meter.Int64Counter("toolshed.events.dropped",
		metric.WithDescription("Events dropped by the event bus")); err != nil {
		return nil, err
	}

	return m, nil
}
