package bundle

import "time"

// InstanceStatus represents the runtime state of one service instance.
type InstanceStatus string

const (
	// InstanceStopped indicates the instance is not running.
	InstanceStopped InstanceStatus = "stopped"
	// InstanceStarting indicates the instance is starting.
	InstanceStarting InstanceStatus = "starting"
	// InstanceRunning indicates the instance is running.
	InstanceRunning InstanceStatus = "running"
	// InstanceError indicates the instance failed to start or run.
	InstanceError InstanceStatus = "error"
)

// BundleStatus mirrors the worst status among a bundle's instances.
type BundleStatus string

const (
	BundleStopped  BundleStatus = "stopped"
	BundleStarting BundleStatus = "starting"
	BundleRunning  BundleStatus = "running"
	BundleError    BundleStatus = "error"
)

// Instance is the runtime record for one service in a bundle. It is owned
// exclusively by the orchestrator; all access goes through its mutex.
type Instance struct {
	// ID is the orchestrator-wide unique instance id.
	ID string `json:"id"`
	// Bundle is the owning bundle's name.
	Bundle string `json:"bundle"`
	// Schema is the embedded static descriptor.
	Schema ServiceSchema `json:"schema"`
	// Status is the current runtime status.
	Status InstanceStatus `json:"status"`
	// Port is the allocated port for api-kind instances, zero otherwise.
	Port int `json:"port,omitempty"`
	// Handle is the runner-owned opaque reference (process handle, worker
	// mailbox, automation session id).
	Handle interface{} `json:"-"`
	// StartedAt is stamped on successful start.
	StartedAt time.Time `json:"started_at,omitempty"`
	// Healthy reflects the most recent health probe.
	Healthy bool `json:"healthy"`
	// Environment is the merged bundle + schema environment.
	Environment map[string]string `json:"-"`

	restarts int
	err      error
}

// InstanceSummary is a read-only snapshot of an instance.
type InstanceSummary struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Kind      Kind           `json:"kind"`
	Status    InstanceStatus `json:"status"`
	Port      int            `json:"port,omitempty"`
	StartedAt time.Time      `json:"started_at,omitempty"`
	Healthy   bool           `json:"healthy"`
	Restarts  int            `json:"restarts"`
	Error     string         `json:"error,omitempty"`
}

// BundleSummary is a read-only snapshot of a bundle and its instances.
type BundleSummary struct {
	Name      string            `json:"name"`
	Status    BundleStatus      `json:"status"`
	Instances []InstanceSummary `json:"instances"`
}

func (i *Instance) summary() InstanceSummary {
	s := InstanceSummary{
		ID:        i.ID,
		Name:      i.Schema.Name,
		Kind:      i.Schema.Kind,
		Status:    i.Status,
		Port:      i.Port,
		StartedAt: i.StartedAt,
		Healthy:   i.Healthy,
		Restarts:  i.restarts,
	}
	if i.err != nil {
		s.Error = i.err.Error()
	}
	return s
}
