package lifecycle

import "time"

// Status represents the current state of a registered service. A service
// moves monotonically forward through registered -> initializing ->
// {ready | error}, and from ready only to stopping -> stopped (or error if
// its shutdown hook fails).
type Status string

const (
	// StatusRegistered indicates the service is registered but not yet initialized.
	StatusRegistered Status = "registered"
	// StatusInitializing indicates the service's factory or init hook is running.
	StatusInitializing Status = "initializing"
	// StatusReady indicates the service initialized successfully.
	StatusReady Status = "ready"
	// StatusError indicates initialization or shutdown failed.
	StatusError Status = "error"
	// StatusStopping indicates the service's shutdown hook is running.
	StatusStopping Status = "stopping"
	// StatusStopped indicates the service shut down cleanly.
	StatusStopped Status = "stopped"
)

// SystemStatus is the aggregate health of the whole registry.
type SystemStatus string

const (
	// SystemHealthy means every ready service reports healthy.
	SystemHealthy SystemStatus = "healthy"
	// SystemDegraded means at least one service is healthy and at least one is not.
	SystemDegraded SystemStatus = "degraded"
	// SystemUnhealthy means no service is healthy.
	SystemUnhealthy SystemStatus = "unhealthy"
)

// SystemHealth is a point-in-time aggregate health snapshot.
type SystemHealth struct {
	Status    SystemStatus            `json:"status"`
	Services  map[string]HealthResult `json:"services"`
	CheckedAt time.Time               `json:"checked_at"`
}

// Summary describes one registered service for reporting.
type Summary struct {
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	Status          Status    `json:"status"`
	Dependencies    []string  `json:"dependencies,omitempty"`
	Tags            []string  `json:"tags,omitempty"`
	Optional        bool      `json:"optional"`
	Error           string    `json:"error,omitempty"`
	InitializedAt   time.Time `json:"initialized_at,omitempty"`
	LastHealthCheck time.Time `json:"last_health_check,omitempty"`
	Healthy         bool      `json:"healthy"`
}

// serviceState is the mutable runtime record for one descriptor. It is owned
// exclusively by the registry; all access goes through the registry mutex.
type serviceState struct {
	descriptor Descriptor
	status     Status
	instance   interface{}
	err        error

	initializedAt   time.Time
	lastHealthCheck time.Time
	lastHealth      HealthResult
}
