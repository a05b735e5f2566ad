package statestore

import (
	"context"
	"time"

	"github.com/cobaltlabs/conductor/pkg/lifecycle"
	"github.com/cobaltlabs/conductor/pkg/logging"
)

// Watcher mirrors lifecycle events and registry snapshots into the store.
type Watcher struct {
	cancel func()
	done   chan struct{}
}

// Watch subscribes to the bus and records every event plus a fresh summary
// snapshot. Write failures are logged and skipped; the store is an
// observability aid, not a source of truth.
func Watch(store *Store, registry *lifecycle.Registry, logger *logging.Logger) *Watcher {
	events, cancel := registry.Events().Subscribe()
	w := &Watcher{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(w.done)
		for ev := range events {
			ctx, cancelWrite := context.WithTimeout(context.Background(), 5*time.Second)
			if err := store.RecordEvent(ctx, ev); err != nil {
				logger.Warn("failed to record lifecycle event", "type", ev.Type, "error", err)
			}
			if err := store.SaveSummaries(ctx, registry.Summary()); err != nil {
				logger.Warn("failed to save registry snapshot", "error", err)
			}
			if ev.Type == lifecycle.EventHealthDegraded && ev.Health != nil {
				if err := store.SaveSystemHealth(ctx, *ev.Health); err != nil {
					logger.Warn("failed to save system health", "error", err)
				}
			}
			cancelWrite()
		}
	}()

	return w
}

// Stop unsubscribes and waits for the watcher goroutine to exit.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}
