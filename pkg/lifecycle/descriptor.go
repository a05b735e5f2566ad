// Package lifecycle provides a dependency-ordered service registry. Services
// are registered as descriptors (factory, dependencies, optional hooks); the
// registry computes a deterministic initialization order, drives ordered
// startup and reverse-order shutdown, and polls per-service health.
package lifecycle

import "context"

// Factory constructs a service instance. The returned value is opaque to the
// registry and handed back verbatim from Get/Require.
type Factory func(ctx context.Context) (interface{}, error)

// InitHook runs once after the factory resolves, before the service is
// marked ready.
type InitHook func(ctx context.Context, instance interface{}) error

// HealthHook probes a running instance. The registry measures and stamps
// LatencyMs itself; a hook-supplied value is overwritten.
type HealthHook func(ctx context.Context, instance interface{}) HealthResult

// ShutdownHook releases an instance's resources during registry shutdown.
type ShutdownHook func(ctx context.Context, instance interface{}) error

// HealthResult is the outcome of a single health probe.
type HealthResult struct {
	Healthy   bool                   `json:"healthy"`
	Message   string                 `json:"message,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	LatencyMs float64                `json:"latency_ms"`
}

// Descriptor is the static registration record for a service.
type Descriptor struct {
	// Name uniquely identifies the service within the registry.
	Name string
	// Description is a human-readable summary with no semantic effect.
	Description string
	// Dependencies lists service names that must be ready before this
	// service initializes. Self-reference is invalid.
	Dependencies []string
	// Factory constructs the instance. Required.
	Factory Factory
	// Initialize, HealthCheck and Shutdown are optional hooks.
	Initialize InitHook
	HealthCheck HealthHook
	Shutdown    ShutdownHook
	// Optional marks a service whose initialization failure is recorded
	// but not fatal to the registry. The zero value means required.
	Optional bool
	// Tags are free-form labels used for filtering and reporting only.
	Tags []string
}
