package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/toolshed/internal/domain"
)

type recordingHandler struct {
	mu     sync.Mutex
	types  map[domain.EventType]bool
	events []domain.Event
	seen   chan struct{}
}

func newRecordingHandler(types ...domain.EventType) *recordingHandler {
	h := &recordingHandler{types: make(map[domain.EventType]bool), seen: make(chan struct{}, 16)}
	for _, t := range types {
		h.types[t] = true
	}
	return h
}

func (h *recordingHandler) CanHandle(t domain.EventType) bool {
	return h.types[t]
}

func (h *recordingHandler) Handle(_ context.Context, e domain.Event) error {
	h.mu.Lock()
	h.events = append(h.events, e)
	h.mu.Unlock()
	h.seen <- struct{}{}
	return nil
}

func (h *recordingHandler) wait(t *testing.T) {
	t.Helper()
	select {
	case <-h.seen:
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestInMemory_DispatchesMatchingEvents(t *testing.T) {
	bus := NewInMemory(4, zerowrap.Default())
	created := newRecordingHandler(domain.EventDeploymentCreated)
	require.NoError(t, bus.Subscribe(created))
	require.NoError(t, bus.Start())
	defer bus.Stop()

	require.NoError(t, bus.Publish(domain.EventToolPublished, domain.ToolPublishedPayload{ToolID: "build-tools"}))
	require.NoError(t, bus.Publish(domain.EventDeploymentCreated, domain.DeploymentEventPayload{
		ToolID:       "build-tools",
		DeploymentID: "d1",
		Version:      "1.0.0",
	}))
	created.wait(t)

	created.mu.Lock()
	defer created.mu.Unlock()
	require.Len(t, created.events, 1)
	e := created.events[0]
	assert.Equal(t, domain.EventDeploymentCreated, e.Type)
	assert.Equal(t, domain.ToolID("build-tools"), e.ToolID)
	assert.Equal(t, domain.ToolDeploymentID("d1"), e.DeploymentID)
	assert.NotEmpty(t, e.ID)
}

func TestInMemory_Unsubscribe(t *testing.T) {
	bus := NewInMemory(0, zerowrap.Default())
	h := newRecordingHandler(domain.EventToolPublished)

	require.NoError(t, bus.Subscribe(h))
	require.NoError(t, bus.Unsubscribe(h))
	assert.Error(t, bus.Unsubscribe(h))
}

func TestInMemory_PublishAfterStop(t *testing.T) {
	bus := NewInMemory(1, zerowrap.Default())
	require.NoError(t, bus.Start())
	require.NoError(t, bus.Stop())

	err := bus.Publish(domain.EventToolPublished, nil)

	assert.ErrorIs(t, err, ErrStopped)
}

func TestInMemory_PublishDropsWhenFull(t *testing.T) {
	bus := NewInMemory(1, zerowrap.Default())
	bus.publishTimeout = 10 * time.Millisecond

	require.NoError(t, bus.Publish(domain.EventToolPublished, nil))
	err := bus.Publish(domain.EventToolPublished, nil)

	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrStopped)
}
