// Package bundle groups ad hoc service instances into named bundles that are
// started and stopped together in dependency order. Each instance is driven
// by a per-kind runner; bundles can optionally poll instance health and
// restart failed instances with a bounded backoff policy.
package bundle

import (
	"fmt"
	"time"

	"github.com/cobaltlabs/conductor/pkg/errors"
)

// Kind selects which runner starts, stops and calls an instance. It is an
// explicit, required field on the schema; nothing is inferred from names.
type Kind string

const (
	// KindChrome delegates to an external browser-automation manager.
	KindChrome Kind = "chrome"
	// KindWorker runs an in-process message-loop worker.
	KindWorker Kind = "worker"
	// KindAPI supervises an HTTP API listening on an allocated port.
	KindAPI Kind = "api"
	// KindCustom uses caller-registered hooks.
	KindCustom Kind = "custom"
)

func (k Kind) valid() bool {
	switch k {
	case KindChrome, KindWorker, KindAPI, KindCustom:
		return true
	}
	return false
}

// ServiceSchema describes one service within a bundle.
type ServiceSchema struct {
	// Name uniquely identifies the service within its bundle.
	Name string `json:"name"`
	// Version is informational.
	Version string `json:"version,omitempty"`
	// Kind selects the runner. Required.
	Kind Kind `json:"kind"`
	// Endpoints lists the callable endpoints this service declares. Calls
	// to undeclared endpoints are rejected.
	Endpoints []string `json:"endpoints,omitempty"`
	// Dependencies lists names of other services in the same bundle that
	// must start first.
	Dependencies []string `json:"dependencies,omitempty"`
	// Environment holds per-service environment overrides.
	Environment map[string]string `json:"environment,omitempty"`
}

// HasEndpoint reports whether the schema declares the given endpoint.
func (s ServiceSchema) HasEndpoint(endpoint string) bool {
	for _, ep := range s.Endpoints {
		if ep == endpoint {
			return true
		}
	}
	return false
}

func (s ServiceSchema) validate() error {
	if s.Name == "" {
		return errors.NewBundleError(errors.BundleErrInvalidSchema, "schema name must not be empty", nil)
	}
	if !s.Kind.valid() {
		return errors.NewBundleError(errors.BundleErrInvalidSchema,
			fmt.Sprintf("schema %q has invalid kind %q", s.Name, s.Kind), nil)
	}
	for _, dep := range s.Dependencies {
		if dep == s.Name {
			return errors.NewBundleError(errors.BundleErrInvalidSchema,
				fmt.Sprintf("schema %q depends on itself", s.Name), nil)
		}
	}
	return nil
}

// Config holds per-bundle behavior.
type Config struct {
	// AutoStart starts the bundle immediately after registration.
	AutoStart bool `json:"auto_start"`
	// HealthCheckInterval enables the per-bundle health loop when positive.
	HealthCheckInterval time.Duration `json:"health_check_interval"`
	// RestartOnFailure restarts unhealthy instances from the health loop.
	RestartOnFailure bool `json:"restart_on_failure"`
	// MaxRestarts caps automatic restarts per instance; once exhausted the
	// instance stays in error permanently.
	MaxRestarts int `json:"max_restarts"`
	// RestartBackoff is the base delay before a restart; doubled per
	// attempt. Zero means DefaultRestartBackoff.
	RestartBackoff time.Duration `json:"restart_backoff"`
	// Environment holds bundle-wide environment overrides, merged under
	// each schema's own environment.
	Environment map[string]string `json:"environment,omitempty"`
}

// DefaultRestartBackoff is the base delay between restart attempts.
const DefaultRestartBackoff = 500 * time.Millisecond
