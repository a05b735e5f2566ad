package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cobaltlabs/conductor/pkg/errors"
	"github.com/cobaltlabs/conductor/pkg/graph"
	"github.com/cobaltlabs/conductor/pkg/logging"
)

const (
	// DefaultHealthCheckInterval is the period of the background health loop.
	DefaultHealthCheckInterval = 60 * time.Second
	// DefaultHookTimeout bounds each factory/hook invocation so a hung hook
	// cannot stall initialization or shutdown indefinitely.
	DefaultHookTimeout = 30 * time.Second
)

// Options configures a Registry.
type Options struct {
	// Logger receives structured lifecycle logs. Defaults to a no-op logger.
	Logger *logging.Logger
	// HealthCheckInterval is the period of the background health loop.
	// Zero means DefaultHealthCheckInterval; negative disables the loop.
	HealthCheckInterval time.Duration
	// HookTimeout bounds each factory and hook call. Zero means
	// DefaultHookTimeout.
	HookTimeout time.Duration
}

// Registry holds service descriptors and drives their lifecycle: ordered
// initialization, typed lookup, periodic health polling and reverse-order
// shutdown. Construct one per process and inject it where needed; there is
// no package-level singleton.
type Registry struct {
	mu          sync.RWMutex
	services    map[string]*serviceState
	order       []string
	initialized bool

	healthStop chan struct{}
	healthDone chan struct{}

	bus    *Bus
	logger *logging.Logger
	opts   Options
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.HealthCheckInterval == 0 {
		opts.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if opts.HookTimeout == 0 {
		opts.HookTimeout = DefaultHookTimeout
	}
	return &Registry{
		services: make(map[string]*serviceState),
		bus:      NewBus(),
		logger:   opts.Logger,
		opts:     opts,
	}
}

// Events returns the registry's event bus for subscription.
func (r *Registry) Events() *Bus {
	return r.bus
}

// Register adds a descriptor. Registering a name that already exists logs a
// warning and leaves the existing entry untouched; it is not an error and not
// an overwrite.
func (r *Registry) Register(d Descriptor) {
	r.mu.Lock()
	if _, exists := r.services[d.Name]; exists {
		r.mu.Unlock()
		r.logger.Warn("service already registered, ignoring", "name", d.Name)
		return
	}
	r.services[d.Name] = &serviceState{
		descriptor: d,
		status:     StatusRegistered,
	}
	r.mu.Unlock()

	r.logger.Info("service registered", "name", d.Name, "dependencies", d.Dependencies)
	r.bus.Publish(Event{Type: EventServiceRegistered, Service: d.Name})
}

// InitOrder computes the deterministic initialization order. Dependencies on
// names that were never registered are skipped; readiness of declared
// dependencies is re-checked per service during initialization.
func (r *Registry) InitOrder() ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.initOrderLocked()
}

func (r *Registry) initOrderLocked() ([]string, error) {
	nodes := make([]string, 0, len(r.services))
	for name := range r.services {
		nodes = append(nodes, name)
	}
	order, err := graph.Sort(nodes, func(name string) []string {
		return r.services[name].descriptor.Dependencies
	})
	if err != nil {
		return nil, errors.NewLifecycleError(errors.LifecycleErrCircularDependency, "cannot order services", err)
	}
	return order, nil
}

// Initialize starts every registered service in dependency order. It is a
// no-op if the registry already initialized. The first failure of a required
// service aborts the sequence and is returned; already-initialized services
// stay ready. On success the background health loop starts.
func (r *Registry) Initialize(ctx context.Context) error {
	r.mu.Lock()
	if r.initialized {
		r.mu.Unlock()
		return nil
	}
	order, err := r.initOrderLocked()
	if err != nil {
		r.mu.Unlock()
		r.bus.Publish(Event{Type: EventManagerError, Err: err})
		return err
	}
	r.order = order
	r.mu.Unlock()

	r.logger.Info("initializing services", "order", order)

	for _, name := range order {
		if err := r.initializeService(ctx, name); err != nil {
			r.bus.Publish(Event{Type: EventManagerError, Err: err})
			return err
		}
	}

	r.mu.Lock()
	r.initialized = true
	r.mu.Unlock()

	r.bus.Publish(Event{Type: EventManagerInitialized})
	r.logger.Info("all services initialized", "count", len(order))

	r.startHealthLoop()
	return nil
}

// initializeService runs the factory and init hook for one service. A failure
// is recorded on the service record and returned only when the service is
// required; optional-service failures are swallowed after logging.
func (r *Registry) initializeService(ctx context.Context, name string) error {
	r.mu.Lock()
	state, ok := r.services[name]
	if !ok {
		r.mu.Unlock()
		return errors.NewLifecycleError(errors.LifecycleErrUnknownService,
			fmt.Sprintf("service %q is not registered", name), nil)
	}
	d := state.descriptor

	// Declared dependencies must be ready. A dependency that is optional and
	// already failed is tolerated so one broken optional service does not
	// take down everything downstream of it.
	for _, dep := range d.Dependencies {
		depState, known := r.services[dep]
		if !known {
			r.logger.Warn("service depends on unregistered name", "name", name, "dependency", dep)
			continue
		}
		if depState.status != StatusReady {
			if depState.descriptor.Optional && depState.status == StatusError {
				r.logger.Warn("optional dependency failed, continuing without it",
					"name", name, "dependency", dep)
				continue
			}
			err := errors.NewLifecycleError(errors.LifecycleErrDependencyNotReady,
				fmt.Sprintf("service %q dependency %q is %s, not ready", name, dep, depState.status), nil)
			state.status = StatusError
			state.err = err
			r.mu.Unlock()
			r.bus.Publish(Event{Type: EventServiceError, Service: name, Err: err})
			if d.Optional {
				r.logger.Warn("optional service failed to initialize", "name", name, "error", err)
				return nil
			}
			return err
		}
	}
	state.status = StatusInitializing
	r.mu.Unlock()

	r.bus.Publish(Event{Type: EventServiceInitializing, Service: name})
	r.logger.Info("initializing service", "name", name)

	instance, err := r.construct(ctx, d)
	if err != nil {
		r.recordInitFailure(name, state, err)
		if d.Optional {
			r.logger.Warn("optional service failed to initialize", "name", name, "error", err)
			return nil
		}
		return err
	}

	r.mu.Lock()
	state.status = StatusReady
	state.instance = instance
	state.err = nil
	state.initializedAt = time.Now()
	state.lastHealth = HealthResult{Healthy: true}
	r.mu.Unlock()

	r.bus.Publish(Event{Type: EventServiceReady, Service: name})
	r.logger.Info("service ready", "name", name)
	return nil
}

// construct runs the factory and optional init hook under the hook timeout.
func (r *Registry) construct(ctx context.Context, d Descriptor) (interface{}, error) {
	if d.Factory == nil {
		return nil, errors.NewLifecycleError(errors.LifecycleErrFactory,
			fmt.Sprintf("service %q has no factory", d.Name), nil)
	}

	instance, err := r.callWithTimeout(ctx, func(hctx context.Context) (interface{}, error) {
		return d.Factory(hctx)
	})
	if err != nil {
		return nil, errors.NewLifecycleError(errors.LifecycleErrFactory,
			fmt.Sprintf("service %q factory failed", d.Name), err)
	}

	if d.Initialize != nil {
		_, err = r.callWithTimeout(ctx, func(hctx context.Context) (interface{}, error) {
			return nil, d.Initialize(hctx, instance)
		})
		if err != nil {
			return nil, errors.NewLifecycleError(errors.LifecycleErrInitialize,
				fmt.Sprintf("service %q initialize hook failed", d.Name), err)
		}
	}
	return instance, nil
}

// callWithTimeout invokes fn in a goroutine so a hung hook cannot stall the
// caller past the configured hook timeout.
func (r *Registry) callWithTimeout(ctx context.Context, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	hctx, cancel := context.WithTimeout(ctx, r.opts.HookTimeout)
	defer cancel()

	type result struct {
		v   interface{}
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(hctx)
		done <- result{v, err}
	}()

	select {
	case res := <-done:
		return res.v, res.err
	case <-hctx.Done():
		return nil, errors.NewLifecycleError(errors.LifecycleErrHookTimeout,
			fmt.Sprintf("hook did not complete within %s", r.opts.HookTimeout), hctx.Err())
	}
}

func (r *Registry) recordInitFailure(name string, state *serviceState, err error) {
	r.mu.Lock()
	state.status = StatusError
	state.err = err
	r.mu.Unlock()
	r.bus.Publish(Event{Type: EventServiceError, Service: name, Err: err})
}

// Get returns the instance for name if the service is ready, else nil.
func (r *Registry) Get(name string) interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.services[name]
	if !ok || state.status != StatusReady {
		return nil
	}
	return state.instance
}

// Require returns the instance for name or an error naming the service's
// current status.
func (r *Registry) Require(name string) (interface{}, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.services[name]
	if !ok {
		return nil, errors.NewLifecycleError(errors.LifecycleErrUnknownService,
			fmt.Sprintf("service %q is not registered", name), nil)
	}
	if state.status != StatusReady {
		return nil, errors.NewLifecycleError(errors.LifecycleErrNotReady,
			fmt.Sprintf("service %q is %s, not ready", name, state.status), nil)
	}
	return state.instance, nil
}

// CheckHealth probes one service. Services without a health hook are healthy
// by default; services that are not ready are unhealthy. Latency is measured
// by the registry, overwriting any hook-supplied value.
func (r *Registry) CheckHealth(ctx context.Context, name string) HealthResult {
	r.mu.RLock()
	state, ok := r.services[name]
	if !ok {
		r.mu.RUnlock()
		return HealthResult{Healthy: false, Message: fmt.Sprintf("service %q is not registered", name)}
	}
	status := state.status
	instance := state.instance
	hook := state.descriptor.HealthCheck
	r.mu.RUnlock()

	var result HealthResult
	switch {
	case status != StatusReady:
		result = HealthResult{Healthy: false, Message: fmt.Sprintf("service is %s", status)}
	case hook == nil:
		result = HealthResult{Healthy: true, Message: "no health check defined"}
	default:
		start := time.Now()
		res, err := r.callWithTimeout(ctx, func(hctx context.Context) (interface{}, error) {
			return hook(hctx, instance), nil
		})
		latency := time.Since(start)
		if err != nil {
			result = HealthResult{Healthy: false, Message: err.Error()}
		} else {
			result = res.(HealthResult)
		}
		result.LatencyMs = float64(latency.Microseconds()) / 1000.0
	}

	r.mu.Lock()
	state.lastHealthCheck = time.Now()
	state.lastHealth = result
	r.mu.Unlock()
	return result
}

// SystemHealth probes every registered service and aggregates: healthy when
// every service is ready and healthy, unhealthy when none is, degraded
// otherwise. Callers polling while initialization is in flight observe a
// best-effort snapshot of partial state.
func (r *Registry) SystemHealth(ctx context.Context) SystemHealth {
	r.mu.RLock()
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)

	results := make(map[string]HealthResult, len(names))
	healthy := 0
	for _, name := range names {
		res := r.CheckHealth(ctx, name)
		results[name] = res
		if res.Healthy {
			healthy++
		}
	}

	status := SystemHealthy
	switch {
	case len(names) == 0:
		status = SystemHealthy
	case healthy == 0:
		status = SystemUnhealthy
	case healthy < len(names):
		status = SystemDegraded
	}

	return SystemHealth{Status: status, Services: results, CheckedAt: time.Now()}
}

// Shutdown stops every ready service in exact reverse initialization order.
// It is a no-op if Initialize never completed. Shutdown is best-effort: a
// failing shutdown hook marks that service errored and teardown continues;
// the returned error is always nil so the process can exit.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if !r.initialized {
		r.mu.Unlock()
		return nil
	}
	r.initialized = false
	order := graph.Reverse(r.order)
	r.mu.Unlock()

	r.stopHealthLoop()
	r.logger.Info("shutting down services", "order", order)

	for _, name := range order {
		r.shutdownService(ctx, name)
	}

	r.bus.Publish(Event{Type: EventManagerShutdown})
	r.logger.Info("shutdown complete")
	return nil
}

func (r *Registry) shutdownService(ctx context.Context, name string) {
	r.mu.Lock()
	state, ok := r.services[name]
	if !ok || state.status != StatusReady {
		r.mu.Unlock()
		return
	}
	state.status = StatusStopping
	instance := state.instance
	hook := state.descriptor.Shutdown
	r.mu.Unlock()

	r.bus.Publish(Event{Type: EventServiceStopping, Service: name})

	if hook != nil {
		_, err := r.callWithTimeout(ctx, func(hctx context.Context) (interface{}, error) {
			return nil, hook(hctx, instance)
		})
		if err != nil {
			wrapped := errors.NewLifecycleError(errors.LifecycleErrShutdown,
				fmt.Sprintf("service %q shutdown hook failed", name), err)
			r.mu.Lock()
			state.status = StatusError
			state.err = wrapped
			r.mu.Unlock()
			r.logger.Error("shutdown hook failed, continuing", "name", name, "error", err)
			r.bus.Publish(Event{Type: EventServiceError, Service: name, Err: wrapped})
			return
		}
	}

	r.mu.Lock()
	state.status = StatusStopped
	state.instance = nil
	r.mu.Unlock()

	r.bus.Publish(Event{Type: EventServiceStopped, Service: name})
	r.logger.Info("service stopped", "name", name)
}

// startHealthLoop begins periodic background health polling.
func (r *Registry) startHealthLoop() {
	if r.opts.HealthCheckInterval < 0 {
		return
	}

	r.mu.Lock()
	if r.healthStop != nil {
		r.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	r.healthStop = stop
	r.healthDone = done
	r.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(r.opts.HealthCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), r.opts.HookTimeout)
				health := r.SystemHealth(ctx)
				cancel()
				if health.Status != SystemHealthy {
					r.logger.Warn("system health degraded", "status", health.Status)
					h := health
					r.bus.Publish(Event{Type: EventHealthDegraded, Health: &h})
				}
			}
		}
	}()
}

func (r *Registry) stopHealthLoop() {
	r.mu.Lock()
	stop, done := r.healthStop, r.healthDone
	r.healthStop, r.healthDone = nil, nil
	r.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}

// RegisteredServices returns the names of all registered services, sorted.
func (r *Registry) RegisteredServices() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ReadyServices returns the names of all ready services, sorted.
func (r *Registry) ReadyServices() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.services))
	for name, state := range r.services {
		if state.status == StatusReady {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// ServiceStatus returns the status for name. Unknown names report an empty
// status and ok=false.
func (r *Registry) ServiceStatus(name string) (Status, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.services[name]
	if !ok {
		return "", false
	}
	return state.status, true
}

// Summary returns a point-in-time report of every service, sorted by name.
func (r *Registry) Summary() []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Summary, 0, len(r.services))
	for _, state := range r.services {
		d := state.descriptor
		s := Summary{
			Name:            d.Name,
			Description:     d.Description,
			Status:          state.status,
			Dependencies:    d.Dependencies,
			Tags:            d.Tags,
			Optional:        d.Optional,
			InitializedAt:   state.initializedAt,
			LastHealthCheck: state.lastHealthCheck,
			Healthy:         state.lastHealth.Healthy,
		}
		if state.err != nil {
			s.Error = state.err.Error()
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// StatusReport renders a human-readable report grouping services by status.
func (r *Registry) StatusReport() string {
	summaries := r.Summary()

	groups := make(map[Status][]string)
	for _, s := range summaries {
		groups[s.Status] = append(groups[s.Status], s.Name)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("services: %d registered\n", len(summaries)))
	for _, status := range []Status{StatusReady, StatusInitializing, StatusRegistered, StatusStopping, StatusStopped, StatusError} {
		names := groups[status]
		if len(names) == 0 {
			continue
		}
		sb.WriteString(fmt.Sprintf("  %-12s %s\n", status, strings.Join(names, ", ")))
	}
	return sb.String()
}

// Reset tears everything down and clears the registry. Test-only escape
// hatch; production code shuts down and exits instead.
func (r *Registry) Reset() {
	r.stopHealthLoop()
	r.mu.Lock()
	r.services = make(map[string]*serviceState)
	r.order = nil
	r.initialized = false
	r.mu.Unlock()
}
