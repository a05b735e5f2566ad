package lifecycle

import (
	"sync"
	"time"
)

// EventType names a lifecycle event emitted by the registry.
type EventType string

const (
	EventServiceRegistered   EventType = "service:registered"
	EventServiceInitializing EventType = "service:initializing"
	EventServiceReady        EventType = "service:ready"
	EventServiceError        EventType = "service:error"
	EventServiceStopping     EventType = "service:stopping"
	EventServiceStopped      EventType = "service:stopped"
	EventManagerInitialized  EventType = "manager:initialized"
	EventManagerError        EventType = "manager:error"
	EventManagerShutdown     EventType = "manager:shutdown"
	EventHealthDegraded      EventType = "health:degraded"
	// EventServiceUnhealthy is emitted by the bundle orchestrator's health
	// loop for instances that fail a probe.
	EventServiceUnhealthy EventType = "service:unhealthy"
)

// Event is a single lifecycle notification. Service is empty for
// manager-level events; Err and Health are set only where relevant.
type Event struct {
	Type    EventType     `json:"type"`
	Service string        `json:"service,omitempty"`
	Err     error         `json:"-"`
	Error   string        `json:"error,omitempty"`
	Health  *SystemHealth `json:"health,omitempty"`
	Time    time.Time     `json:"time"`
}

// subscriberBufSize bounds each subscriber channel. Slow subscribers drop
// events rather than stall the registry.
const subscriberBufSize = 64

// Bus fans lifecycle events out to any number of subscribers. The registry
// has no opinion on subscriber count or behavior.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe returns a channel of events and a cancel function. The channel is
// closed when cancel is called.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Event, subscriberBufSize)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers an event to all subscribers without blocking. Events for
// full subscriber channels are dropped.
func (b *Bus) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	if ev.Err != nil {
		ev.Error = ev.Err.Error()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close unsubscribes everyone.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
