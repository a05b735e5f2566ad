package metrics

import (
	"github.com/cobaltlabs/conductor/pkg/lifecycle"
)

// Observer translates registry lifecycle events into metric updates. It keeps
// the lifecycle package free of any metrics dependency; wiring happens at the
// composition root.
type Observer struct {
	metrics *Metrics
	cancel  func()
	done    chan struct{}
}

// Observe subscribes to the bus and updates metrics until Stop is called.
func Observe(m *Metrics, bus *lifecycle.Bus) *Observer {
	events, cancel := bus.Subscribe()
	o := &Observer{metrics: m, cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(o.done)
		for ev := range events {
			o.record(ev)
		}
	}()

	return o
}

func (o *Observer) record(ev lifecycle.Event) {
	switch ev.Type {
	case lifecycle.EventServiceReady:
		o.metrics.ServiceUp.WithLabelValues(ev.Service).Set(1)
		o.metrics.ServiceInitTotal.WithLabelValues(ev.Service).Inc()
	case lifecycle.EventServiceError:
		o.metrics.ServiceUp.WithLabelValues(ev.Service).Set(0)
		o.metrics.ServiceErrorTotal.WithLabelValues(ev.Service).Inc()
	case lifecycle.EventServiceStopped:
		o.metrics.ServiceUp.WithLabelValues(ev.Service).Set(0)
	case lifecycle.EventHealthDegraded:
		o.metrics.SystemDegraded.Set(1)
		if ev.Health != nil {
			for name, res := range ev.Health.Services {
				o.metrics.HealthCheckLatency.WithLabelValues(name).Observe(res.LatencyMs / 1000.0)
				if !res.Healthy {
					o.metrics.HealthCheckFailures.WithLabelValues(name).Inc()
				}
			}
		}
	case lifecycle.EventManagerInitialized:
		o.metrics.SystemDegraded.Set(0)
	}
}

// Stop unsubscribes and waits for the observer goroutine to exit.
func (o *Observer) Stop() {
	o.cancel()
	<-o.done
}
