package events

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus(t *testing.T) {
	bus := NewEventBus()

	var received *Event
	var callCount int

	bus.Subscribe("test_event", func(event *Event) error {
		received = event
		callCount++
		return nil
	})

	require.NoError(t, bus.PublishJSON("test_event", map[string]string{"foo": "bar"}))

	assert.Equal(t, 1, callCount)
	require.NotNil(t, received)
	assert.Equal(t, "test_event", received.Type)
	assert.NotEmpty(t, received.ID)
	assert.False(t, received.CreatedAt.IsZero())

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(received.Payload, &decoded))
	assert.Equal(t, "bar", decoded["foo"])
}

func TestEventBusMultipleSubscribers(t *testing.T) {
	bus := NewEventBus()
	var count1, count2, all int

	bus.Subscribe("event", func(_ *Event) error { count1++; return nil })
	bus.Subscribe("event", func(_ *Event) error { count2++; return nil })
	bus.Subscribe(AllEvents, func(_ *Event) error { all++; return nil })

	bus.Publish(&Event{Type: "event"})
	bus.Publish(&Event{Type: "other"})

	assert.Equal(t, 1, count1)
	assert.Equal(t, 1, count2)
	assert.Equal(t, 2, all)
}

func TestEventBusHandlerErrors(t *testing.T) {
	bus := NewEventBus()
	var failed []string
	bus.OnError(func(event *Event, err error) { failed = append(failed, event.Type+": "+err.Error()) })

	called := false
	bus.Subscribe("event", func(_ *Event) error { return errors.New("down") })
	bus.Subscribe("event", func(_ *Event) error { called = true; return nil })

	bus.Publish(&Event{Type: "event"})
	assert.True(t, called, "a failing handler must not stop the others")
	assert.Equal(t, []string{"event: down"}, failed)
}

func TestEventBusNoSubscribers(t *testing.T) {
	bus := NewEventBus()
	// Should not panic
	bus.Publish(&Event{Type: "unknown"})
	assert.NoError(t, bus.PublishJSON("unknown", nil))

	var nilBus *EventBus
	assert.NoError(t, nilBus.PublishJSON("unknown", nil))
}

func TestNewJSONEvent(t *testing.T) {
	event, err := NewJSONEvent(EventWaitlistSpotAvailable, SpotAvailablePayload{UserID: 5, ClassID: 9})
	require.NoError(t, err)
	assert.Equal(t, EventWaitlistSpotAvailable, event.Type)

	var decoded SpotAvailablePayload
	require.NoError(t, json.Unmarshal(event.Payload, &decoded))
	assert.Equal(t, int64(5), decoded.UserID)

	_, err = NewJSONEvent("bad", make(chan int))
	assert.Error(t, err)
}
