package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusFanOut(t *testing.T) {
	bus := NewBus[int]()
	a, cancelA := bus.Subscribe(4)
	b, cancelB := bus.Subscribe(4)
	defer cancelB()

	bus.Publish(1)
	assert.Equal(t, 1, <-a)
	assert.Equal(t, 1, <-b)

	cancelA()
	cancelA()
	_, open := <-a
	assert.False(t, open)
	assert.Equal(t, 1, bus.Subscribers())
}

func TestBusDropsWhenFull(t *testing.T) {
	bus := NewBus[string]()
	ch, cancel := bus.Subscribe(1)
	defer cancel()

	bus.Publish("first")
	bus.Publish("second")

	assert.Equal(t, "first", <-ch)
	assert.Equal(t, uint64(1), bus.Dropped())
}

func TestBusClose(t *testing.T) {
	bus := NewBus[Event]()
	ch, cancel := bus.Subscribe(0)
	bus.Close()
	cancel()

	_, open := <-ch
	assert.False(t, open)

	late, _ := bus.Subscribe(1)
	_, open = <-late
	assert.False(t, open)
	bus.Publish(NewEvent(EventViewPublished, "test", "ignored", nil))
}

func TestGlobalPublish(t *testing.T) {
	bus := NewBus[Event]()
	SetGlobalEventBus(bus)
	t.Cleanup(func() { SetGlobalEventBus(nil) })

	ch, cancel := bus.Subscribe(1)
	defer cancel()

	Publish(NewEnablementEvent("stream", "a", false))
	e := <-ch
	require.Equal(t, EventExtensionDisabled, e.Type)
	assert.Equal(t, "runtime:stream", e.Source)
	assert.NotEmpty(t, e.ID)
}
