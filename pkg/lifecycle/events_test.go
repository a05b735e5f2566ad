package lifecycle

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_FanOut(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	a, cancelA := bus.Subscribe()
	b, cancelB := bus.Subscribe()
	defer cancelA()
	defer cancelB()

	bus.Publish(Event{Type: EventServiceReady, Service: "db"})

	for _, ch := range []<-chan Event{a, b} {
		ev := <-ch
		assert.Equal(t, EventServiceReady, ev.Type)
		assert.Equal(t, "db", ev.Service)
		assert.False(t, ev.Time.IsZero())
	}
}

func TestBus_ErrStringCopied(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	ch, cancel := bus.Subscribe()
	defer cancel()

	bus.Publish(Event{Type: EventServiceError, Service: "db", Err: fmt.Errorf("boom")})
	ev := <-ch
	assert.Equal(t, "boom", ev.Error)
}

func TestBus_SlowSubscriberDropsEvents(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	ch, cancel := bus.Subscribe()
	defer cancel()

	// Overfill the subscriber buffer; Publish must never block
	for i := 0; i < subscriberBufSize*2; i++ {
		bus.Publish(Event{Type: EventServiceReady})
	}
	assert.Len(t, ch, subscriberBufSize)
}

func TestBus_CancelClosesChannel(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	ch, cancel := bus.Subscribe()
	cancel()
	// Cancel is idempotent
	cancel()

	_, open := <-ch
	assert.False(t, open)

	// Publishing after cancel must not panic
	bus.Publish(Event{Type: EventServiceReady})
}

func TestBus_Close(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	a, _ := bus.Subscribe()
	b, _ := bus.Subscribe()
	bus.Close()

	_, open := <-a
	require.False(t, open)
	_, open = <-b
	require.False(t, open)
}
