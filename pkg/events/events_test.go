package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishDeliversInOrder(t *testing.T) {
	bus := NewBus()

	var order []int
	bus.Subscribe(TopicToolRetry, func(Event) { order = append(order, 1) })
	bus.Subscribe(TopicToolRetry, func(Event) { order = append(order, 2) })

	bus.Publish(TopicToolRetry, "toolkit", nil)
	bus.Publish(TopicToolRetry, "toolkit", nil)

	assert.Equal(t, []int{1, 2, 1, 2}, order)
}

func TestBus_TopicIsolation(t *testing.T) {
	bus := NewBus()

	var got []Topic
	bus.Subscribe(TopicNodePaused, func(e Event) { got = append(got, e.Topic) })

	bus.Publish(TopicNodePaused, "graph", nil)
	bus.Publish(TopicNodeExecutionStart, "graph", nil)

	require.Len(t, got, 1)
	assert.Equal(t, TopicNodePaused, got[0])
}

func TestBus_SubscribeAll(t *testing.T) {
	bus := NewBus()

	var count int
	bus.SubscribeAll(func(Event) { count++ })

	bus.Publish(TopicExecutionStart, "graph", nil)
	bus.Publish(TopicExecutionComplete, "graph", nil)

	assert.Equal(t, 2, count)
}

func TestBus_EventFields(t *testing.T) {
	bus := NewBus()

	var evt Event
	bus.Subscribe(TopicEdgeTraversed, func(e Event) { evt = e })

	bus.Publish(TopicEdgeTraversed, "agent-1", map[string]string{"edge": "e1"})

	assert.NotEmpty(t, evt.ID)
	assert.False(t, evt.Timestamp.IsZero())
	assert.Equal(t, "agent-1", evt.Context)
	assert.Equal(t, map[string]string{"edge": "e1"}, evt.Payload)
}

func TestBus_PublishCustom(t *testing.T) {
	bus := NewBus()

	var evt Event
	bus.Subscribe(TopicCustom, func(e Event) { evt = e })

	bus.PublishCustom("my-event", "node-1", 42)

	payload, ok := evt.Payload.(CustomPayload)
	require.True(t, ok)
	assert.Equal(t, "my-event", payload.Name)
	assert.Equal(t, 42, payload.Payload)
}

func TestBus_NilBusIsNoop(t *testing.T) {
	var bus *Bus
	assert.NotPanics(t, func() { bus.Publish(TopicExecutionStart, "x", nil) })
}
