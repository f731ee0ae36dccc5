// Package eventbus implements the event bus adapter.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/bnema/toolshed/internal/adapters/out/telemetry"
	"github.com/bnema/toolshed/internal/boundaries/out"
	"github.com/bnema/toolshed/internal/domain"
)

// ErrStopped is returned when publishing to a stopped bus.
var ErrStopped = errors.New("event bus is stopped")

const (
	defaultBufferSize     = 100
	defaultPublishTimeout = 5 * time.Second
	defaultHandlerTimeout = 30 * time.Second
)

// InMemory implements out.EventBus with a buffered channel and one dispatch goroutine.
type InMemory struct {
	handlers       []out.EventHandler
	eventChan      chan domain.Event
	done           chan struct{}
	mu             sync.RWMutex
	ctx            context.Context
	cancel         context.CancelFunc
	bufferSize     int
	publishTimeout time.Duration
	handlerTimeout time.Duration
	log            zerowrap.Logger
	metrics        *telemetry.Metrics
}

// NewInMemory creates a new in-memory event bus.
func NewInMemory(bufferSize int, log zerowrap.Logger) *InMemory {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &InMemory{
		eventChan:      make(chan domain.Event, bufferSize),
		done:           make(chan struct{}),
		ctx:            ctx,
		cancel:         cancel,
		bufferSize:     bufferSize,
		publishTimeout: defaultPublishTimeout,
		handlerTimeout: defaultHandlerTimeout,
		log:            log,
	}
}

// SetMetrics sets the telemetry metrics for the event bus.
// Must be called before Start.
func (bus *InMemory) SetMetrics(m *telemetry.Metrics) {
	bus.mu.Lock()
	bus.metrics = m
	bus.mu.Unlock()
}

// Publish queues an event. It blocks at most the publish timeout when the buffer is full.
func (bus *InMemory) Publish(eventType domain.EventType, payload any) error {
	event := domain.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      payload,
	}

	switch p := payload.(type) {
	case domain.DeploymentEventPayload:
		event.ToolID = p.ToolID
		event.DeploymentID = p.DeploymentID
	case domain.ToolPublishedPayload:
		event.ToolID = p.ToolID
	}

	if bus.ctx.Err() != nil {
		return ErrStopped
	}

	timer := time.NewTimer(bus.publishTimeout)
	defer timer.Stop()

	select {
	case bus.eventChan <- event:
		bus.log.Debug().
			Str(zerowrap.FieldLayer, "adapter").
			Str(zerowrap.FieldAdapter, "eventbus").
			Str("event_id", event.ID).
			Str(zerowrap.FieldEvent, string(event.Type)).
			Str("tool_id", string(event.ToolID)).
			Msg("event published")
		return nil
	case <-bus.ctx.Done():
		return ErrStopped
	case <-timer.C:
		bus.log.Error().
			Str(zerowrap.FieldLayer, "adapter").
			Str(zerowrap.FieldAdapter, "eventbus").
			Str("event_id", event.ID).
			Str(zerowrap.FieldEvent, string(event.Type)).
			Str("tool_id", string(event.ToolID)).
			Dur(zerowrap.FieldDuration, bus.publishTimeout).
			Msg("event channel is full, dropping event")
		bus.record(func(m *telemetry.Metrics) metric.Int64Counter { return m.EventsDropped }, event)
		return fmt.Errorf("event channel is full, dropping event %s", event.ID)
	}
}

// Subscribe adds an event handler to the bus.
func (bus *InMemory) Subscribe(handler out.EventHandler) error {
	bus.mu.Lock()
	defer bus.mu.Unlock()

	bus.handlers = append(bus.handlers, handler)
	bus.log.Debug().
		Str(zerowrap.FieldLayer, "adapter").
		Str(zerowrap.FieldAdapter, "eventbus").
		Str(zerowrap.FieldHandler, fmt.Sprintf("%T", handler)).
		Int("total_handlers", len(bus.handlers)).
		Msg("event handler subscribed")

	return nil
}

// Unsubscribe removes an event handler from the bus.
func (bus *InMemory) Unsubscribe(handler out.EventHandler) error {
	bus.mu.Lock()
	defer bus.mu.Unlock()

	for i, h := range bus.handlers {
		if h == handler {
			bus.handlers = append(bus.handlers[:i], bus.handlers[i+1:]...)
			return nil
		}
	}

	return fmt.Errorf("handler %T not subscribed", handler)
}

// Start starts the dispatch loop.
func (bus *InMemory) Start() error {
	bus.log.Info().
		Str(zerowrap.FieldLayer, "adapter").
		Str(zerowrap.FieldAdapter, "eventbus").
		Int("buffer_size", bus.bufferSize).
		Msg("starting event bus")

	go bus.processEvents()
	return nil
}

// Stop stops the dispatch loop. Queued events that were not dispatched yet are dropped.
func (bus *InMemory) Stop() error {
	bus.cancel()

	select {
	case <-bus.done:
		bus.log.Info().
			Str(zerowrap.FieldLayer, "adapter").
			Str(zerowrap.FieldAdapter, "eventbus").
			Msg("event bus stopped")
		return nil
	case <-time.After(bus.publishTimeout):
		return fmt.Errorf("timeout waiting for event bus to stop")
	}
}

func (bus *InMemory) processEvents() {
	defer close(bus.done)

	for {
		select {
		case event := <-bus.eventChan:
			bus.dispatch(event)
		case <-bus.ctx.Done():
			return
		}
	}
}

func (bus *InMemory) dispatch(event domain.Event) {
	bus.mu.RLock()
	handlers := make([]out.EventHandler, len(bus.handlers))
	copy(handlers, bus.handlers)
	bus.mu.RUnlock()

	for _, h := range handlers {
		if !h.CanHandle(event.Type) {
			continue
		}
		bus.runHandler(h, event)
	}
}

func (bus *InMemory) runHandler(h out.EventHandler, event domain.Event) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(bus.ctx, bus.handlerTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- h.Handle(ctx, event)
	}()

	select {
	case err := <-done:
		if err != nil {
			bus.log.Error().
			Str(zerowrap.FieldLayer, "adapter").
			Str(zerowrap.FieldAdapter, "eventbus").
			Str("event_id", event.ID).
			Str(zerowrap.FieldEvent, string(event.Type)).
			Str("tool_id", string(event.ToolID)).
				Err(err).
				Str(zerowrap.FieldHandler, fmt.Sprintf("%T", h)).
				Msg("error handling event")
			return
		}
		bus.log.Debug().
			Str(zerowrap.FieldLayer, "adapter").
			Str(zerowrap.FieldAdapter, "eventbus").
			Str("event_id", event.ID).
			Str(zerowrap.FieldEvent, string(event.Type)).
			Str("tool_id", string(event.ToolID)).
			Str(zerowrap.FieldHandler, fmt.Sprintf("%T", h)).
			Dur(zerowrap.FieldDuration, time.Since(start)).
			Msg("event handled")
		bus.record(func(m *telemetry.Metrics) metric.Int64Counter { return m.EventsProcessed }, event)
	case <-ctx.Done():
		bus.log.Warn().
			Str(zerowrap.FieldLayer, "adapter").
			Str(zerowrap.FieldAdapter, "eventbus").
			Str("event_id", event.ID).
			Str(zerowrap.FieldEvent, string(event.Type)).
			Str("tool_id", string(event.ToolID)).
			Str(zerowrap.FieldHandler, fmt.Sprintf("%T", h)).
			Dur(zerowrap.FieldDuration, time.Since(start)).
			Msg("handler timed out")
	}
}

func (bus *InMemory) record(counter func(*telemetry.Metrics) metric.Int64Counter, event domain.Event) {
	bus.mu.RLock()
	m := bus.metrics
	bus.mu.RUnlock()
	if m == nil {
		return
	}
	counter(m).Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("event_type", string(event.Type)),
	))
}
