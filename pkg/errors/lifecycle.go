// pkg/errors/lifecycle.go
package errors

// Lifecycle error codes
const (
	// LifecycleErrCircularDependency indicates a dependency cycle was detected
	LifecycleErrCircularDependency = "LIFECYCLE_CIRCULAR_DEPENDENCY"
	// LifecycleErrDependencyNotReady indicates a declared dependency is not ready
	LifecycleErrDependencyNotReady = "LIFECYCLE_DEPENDENCY_NOT_READY"
	// LifecycleErrFactory indicates a service factory failed
	LifecycleErrFactory = "LIFECYCLE_FACTORY"
	// LifecycleErrInitialize indicates an initialize hook failed
	LifecycleErrInitialize = "LIFECYCLE_INITIALIZE"
	// LifecycleErrShutdown indicates a shutdown hook failed
	LifecycleErrShutdown = "LIFECYCLE_SHUTDOWN"
	// LifecycleErrNotReady indicates a service was looked up before it was ready
	LifecycleErrNotReady = "LIFECYCLE_NOT_READY"
	// LifecycleErrUnknownService indicates a service name is not registered
	LifecycleErrUnknownService = "LIFECYCLE_UNKNOWN_SERVICE"
	// LifecycleErrHookTimeout indicates a hook exceeded its deadline
	LifecycleErrHookTimeout = "LIFECYCLE_HOOK_TIMEOUT"
)

// Lifecycle domain name
const LifecycleDomain = "lifecycle"

// NewLifecycleError creates a new lifecycle error
func NewLifecycleError(code string, message string, err error) error {
	return &Error{
		Domain:   LifecycleDomain,
		Code:     code,
		Message:  message,
		Original: err,
	}
}
