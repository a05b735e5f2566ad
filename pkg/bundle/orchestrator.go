package bundle

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cobaltlabs/conductor/pkg/errors"
	"github.com/cobaltlabs/conductor/pkg/graph"
	"github.com/cobaltlabs/conductor/pkg/lifecycle"
	"github.com/cobaltlabs/conductor/pkg/logging"
	"github.com/cobaltlabs/conductor/pkg/metrics"
)

// DefaultBasePort is the first port handed out to api-kind instances.
const DefaultBasePort = 9000

// Options configures an Orchestrator.
type Options struct {
	// Logger receives structured logs. Defaults to a no-op logger.
	Logger *logging.Logger
	// Metrics is optional; when set, bundle gauges and restart counters
	// are maintained.
	Metrics *metrics.Metrics
	// Bus is optional; when set, the orchestrator publishes
	// service:unhealthy events from its health loops.
	Bus *lifecycle.Bus
	// Automation backs chrome-kind instances. Optional; chrome instances
	// fail to start without it.
	Automation Automation
	// BasePort seeds the api-kind port allocator. Zero means
	// DefaultBasePort.
	BasePort int
}

type bundleState struct {
	name      string
	config    Config
	instances []*Instance
	byName    map[string]*Instance
	status    BundleStatus
	// startOrder holds instance ids in the order they started, so StopBundle
	// can tear down in exact reverse.
	startOrder []string

	healthStop chan struct{}
	healthDone chan struct{}
}

// Orchestrator manages named bundles of service instances: dependency-ordered
// start, reverse-order stop, schema-validated calls, health polling with a
// bounded restart policy, and linear pipeline coupling.
type Orchestrator struct {
	mu        sync.RWMutex
	bundles   map[string]*bundleState
	instances map[string]*Instance
	runners   map[Kind]Runner
	workers   *WorkerRunner

	logger  *logging.Logger
	metrics *metrics.Metrics
	bus     *lifecycle.Bus
}

// NewOrchestrator creates an orchestrator with default per-kind runners.
func NewOrchestrator(opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.BasePort == 0 {
		opts.BasePort = DefaultBasePort
	}

	workers := NewWorkerRunner()
	o := &Orchestrator{
		bundles:   make(map[string]*bundleState),
		instances: make(map[string]*Instance),
		workers:   workers,
		runners: map[Kind]Runner{
			KindChrome: NewAutomationRunner(opts.Automation),
			KindWorker: workers,
			KindAPI:    NewAPIRunner(opts.BasePort),
			KindCustom: NewCustomRunner(Hooks{}),
		},
		logger:  opts.Logger,
		metrics: opts.Metrics,
		bus:     opts.Bus,
	}
	return o
}

// Workers returns the worker runner so callers can register message handlers.
func (o *Orchestrator) Workers() *WorkerRunner {
	return o.workers
}

// RegisterRunner replaces the runner for a kind. Used to supply custom-kind
// hooks or substitute fakes in tests.
func (o *Orchestrator) RegisterRunner(kind Kind, r Runner) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runners[kind] = r
}

func (o *Orchestrator) runner(kind Kind) Runner {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.runners[kind]
}

// RegisterBundle creates a bundle from schemas. Unlike the lifecycle
// registry's ignore-on-duplicate policy, a duplicate bundle name is an error.
// When cfg.AutoStart is set the bundle is started before returning.
func (o *Orchestrator) RegisterBundle(ctx context.Context, name string, schemas []ServiceSchema, cfg Config) error {
	if name == "" {
		return errors.NewBundleError(errors.BundleErrInvalidSchema, "bundle name must not be empty", nil)
	}
	if len(schemas) == 0 {
		return errors.NewBundleError(errors.BundleErrInvalidSchema,
			fmt.Sprintf("bundle %q has no schemas", name), nil)
	}

	seen := make(map[string]bool, len(schemas))
	for _, s := range schemas {
		if err := s.validate(); err != nil {
			return err
		}
		if seen[s.Name] {
			return errors.NewBundleError(errors.BundleErrInvalidSchema,
				fmt.Sprintf("bundle %q declares schema %q twice", name, s.Name), nil)
		}
		seen[s.Name] = true
	}

	b := &bundleState{
		name:   name,
		config: cfg,
		byName: make(map[string]*Instance, len(schemas)),
		status: BundleStopped,
	}
	for _, s := range schemas {
		inst := &Instance{
			ID:          uuid.NewString(),
			Bundle:      name,
			Schema:      s,
			Status:      InstanceStopped,
			Environment: mergeEnv(cfg.Environment, s.Environment),
		}
		b.instances = append(b.instances, inst)
		b.byName[s.Name] = inst
	}

	o.mu.Lock()
	if _, exists := o.bundles[name]; exists {
		o.mu.Unlock()
		return errors.NewBundleError(errors.BundleErrAlreadyRegistered,
			fmt.Sprintf("bundle %q is already registered", name), nil)
	}
	o.bundles[name] = b
	for _, inst := range b.instances {
		o.instances[inst.ID] = inst
	}
	o.mu.Unlock()

	o.logger.Info("bundle registered", "bundle", name, "services", len(schemas))

	if cfg.AutoStart {
		return o.StartBundle(ctx, name)
	}
	return nil
}

func mergeEnv(bundle, schema map[string]string) map[string]string {
	merged := make(map[string]string, len(bundle)+len(schema))
	for k, v := range bundle {
		merged[k] = v
	}
	for k, v := range schema {
		merged[k] = v
	}
	return merged
}

// StartBundle starts every instance of a bundle in dependency order. The
// first failure marks the bundle errored and is returned; instances started
// so far are left running.
func (o *Orchestrator) StartBundle(ctx context.Context, name string) error {
	o.mu.Lock()
	b, ok := o.bundles[name]
	if !ok {
		o.mu.Unlock()
		return errors.NewBundleError(errors.BundleErrNotFound,
			fmt.Sprintf("bundle %q is not registered", name), nil)
	}
	b.status = BundleStarting
	b.startOrder = nil
	names := make([]string, 0, len(b.instances))
	for _, inst := range b.instances {
		names = append(names, inst.Schema.Name)
	}
	o.mu.Unlock()

	order, err := graph.Sort(names, func(n string) []string {
		o.mu.RLock()
		defer o.mu.RUnlock()
		return b.byName[n].Schema.Dependencies
	})
	if err != nil {
		wrapped := errors.NewBundleError(errors.BundleErrStart,
			fmt.Sprintf("cannot order bundle %q", name), err)
		o.setBundleStatus(b, BundleError)
		return wrapped
	}

	o.logger.Info("starting bundle", "bundle", name, "order", order)

	for _, schemaName := range order {
		o.mu.RLock()
		inst := b.byName[schemaName]
		o.mu.RUnlock()

		if err := o.startInstance(ctx, inst); err != nil {
			o.setBundleStatus(b, BundleError)
			return err
		}
		o.mu.Lock()
		b.startOrder = append(b.startOrder, inst.ID)
		o.mu.Unlock()
	}

	o.setBundleStatus(b, BundleRunning)
	o.logger.Info("bundle running", "bundle", name)

	if b.config.HealthCheckInterval > 0 {
		o.startHealthLoop(b)
	}
	return nil
}

func (o *Orchestrator) setBundleStatus(b *bundleState, status BundleStatus) {
	o.mu.Lock()
	b.status = status
	o.mu.Unlock()
	o.updateBundleMetrics(b)
}

// startInstance transitions one instance starting -> running, or starting ->
// error when the runner fails.
func (o *Orchestrator) startInstance(ctx context.Context, inst *Instance) error {
	o.mu.Lock()
	inst.Status = InstanceStarting
	inst.err = nil
	o.mu.Unlock()

	runner := o.runner(inst.Schema.Kind)
	if err := runner.Start(ctx, inst); err != nil {
		wrapped := errors.NewBundleError(errors.BundleErrStart,
			fmt.Sprintf("failed to start %q in bundle %q", inst.Schema.Name, inst.Bundle), err)
		o.mu.Lock()
		inst.Status = InstanceError
		inst.err = wrapped
		o.mu.Unlock()
		o.logger.Error("instance failed to start",
			"bundle", inst.Bundle, "service", inst.Schema.Name, "error", err)
		return wrapped
	}

	o.mu.Lock()
	inst.Status = InstanceRunning
	inst.StartedAt = time.Now()
	inst.Healthy = true
	o.mu.Unlock()

	o.logger.Info("instance running",
		"bundle", inst.Bundle, "service", inst.Schema.Name, "id", inst.ID, "kind", inst.Schema.Kind)
	return nil
}

// StopBundle stops a bundle's instances in exact reverse start order.
// Teardown is best-effort: runner errors are logged and every instance ends
// stopped.
func (o *Orchestrator) StopBundle(ctx context.Context, name string) error {
	o.mu.Lock()
	b, ok := o.bundles[name]
	if !ok {
		o.mu.Unlock()
		return errors.NewBundleError(errors.BundleErrNotFound,
			fmt.Sprintf("bundle %q is not registered", name), nil)
	}
	order := make([]string, len(b.startOrder))
	copy(order, b.startOrder)
	b.startOrder = nil
	o.mu.Unlock()

	o.stopHealthLoop(b)

	for i := len(order) - 1; i >= 0; i-- {
		o.mu.RLock()
		inst := o.instances[order[i]]
		o.mu.RUnlock()
		if inst != nil {
			o.stopInstance(ctx, inst)
		}
	}

	o.setBundleStatus(b, BundleStopped)
	o.logger.Info("bundle stopped", "bundle", name)
	return nil
}

// stopInstance always leaves the instance stopped, whether or not the runner
// teardown succeeded.
func (o *Orchestrator) stopInstance(ctx context.Context, inst *Instance) {
	runner := o.runner(inst.Schema.Kind)
	if err := runner.Stop(ctx, inst); err != nil {
		o.logger.Warn("instance teardown failed, marking stopped anyway",
			"bundle", inst.Bundle, "service", inst.Schema.Name, "error", err)
	}

	o.mu.Lock()
	inst.Status = InstanceStopped
	inst.Handle = nil
	inst.Healthy = false
	o.mu.Unlock()
}

// Call invokes a declared endpoint on a running instance, dispatching to the
// instance's kind runner.
func (o *Orchestrator) Call(ctx context.Context, instanceID, endpoint string, payload interface{}) (interface{}, error) {
	o.mu.RLock()
	inst, ok := o.instances[instanceID]
	o.mu.RUnlock()
	if !ok {
		return nil, errors.NewBundleError(errors.BundleErrInstanceNotFound,
			fmt.Sprintf("instance %q is not registered", instanceID), nil)
	}

	if !inst.Schema.HasEndpoint(endpoint) {
		return nil, errors.NewBundleError(errors.BundleErrEndpointNotFound,
			fmt.Sprintf("endpoint %q not found on service %q", endpoint, inst.Schema.Name), nil)
	}

	o.mu.RLock()
	status := inst.Status
	o.mu.RUnlock()
	if status != InstanceRunning {
		return nil, errors.NewBundleError(errors.BundleErrStart,
			fmt.Sprintf("service %q is %s, not running", inst.Schema.Name, status), nil)
	}

	return o.runner(inst.Schema.Kind).Call(ctx, inst, endpoint, payload)
}

// startHealthLoop polls each instance of a bundle and, when configured,
// restarts unhealthy instances with exponential backoff up to the restart
// ceiling.
func (o *Orchestrator) startHealthLoop(b *bundleState) {
	o.mu.Lock()
	if b.healthStop != nil {
		o.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	b.healthStop = stop
	b.healthDone = done
	o.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(b.config.HealthCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				o.checkBundleHealth(b, stop)
			}
		}
	}()
}

func (o *Orchestrator) stopHealthLoop(b *bundleState) {
	o.mu.Lock()
	stop, done := b.healthStop, b.healthDone
	b.healthStop, b.healthDone = nil, nil
	o.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}

func (o *Orchestrator) checkBundleHealth(b *bundleState, stop <-chan struct{}) {
	o.mu.RLock()
	instances := make([]*Instance, len(b.instances))
	copy(instances, b.instances)
	o.mu.RUnlock()

	for _, inst := range instances {
		o.mu.RLock()
		status := inst.Status
		o.mu.RUnlock()
		if status != InstanceRunning {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := o.runner(inst.Schema.Kind).Health(ctx, inst)
		cancel()

		o.mu.Lock()
		inst.Healthy = err == nil
		o.mu.Unlock()

		if err == nil {
			continue
		}

		o.logger.Warn("instance unhealthy",
			"bundle", b.name, "service", inst.Schema.Name, "error", err)
		if o.bus != nil {
			o.bus.Publish(lifecycle.Event{
				Type:    lifecycle.EventServiceUnhealthy,
				Service: inst.Schema.Name,
				Err:     err,
			})
		}

		if b.config.RestartOnFailure {
			o.restartInstance(b, inst, stop)
		}
	}
}

// restartInstance applies the bounded-retry policy: backoff doubling per
// attempt, permanent error once MaxRestarts is exhausted.
func (o *Orchestrator) restartInstance(b *bundleState, inst *Instance, stop <-chan struct{}) {
	o.mu.Lock()
	if inst.restarts >= b.config.MaxRestarts {
		inst.Status = InstanceError
		inst.err = errors.NewBundleError(errors.BundleErrRestartExhausted,
			fmt.Sprintf("service %q exhausted %d restarts", inst.Schema.Name, b.config.MaxRestarts), nil)
		o.mu.Unlock()
		o.setBundleStatus(b, BundleError)
		o.logger.Error("restart ceiling reached",
			"bundle", b.name, "service", inst.Schema.Name, "max_restarts", b.config.MaxRestarts)
		return
	}
	inst.restarts++
	attempt := inst.restarts
	o.mu.Unlock()

	backoff := b.config.RestartBackoff
	if backoff <= 0 {
		backoff = DefaultRestartBackoff
	}
	backoff <<= attempt - 1

	o.logger.Info("restarting instance",
		"bundle", b.name, "service", inst.Schema.Name, "attempt", attempt, "backoff", backoff)

	select {
	case <-stop:
		return
	case <-time.After(backoff):
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	o.stopInstance(ctx, inst)
	if err := o.startInstance(ctx, inst); err == nil {
		if o.metrics != nil {
			o.metrics.InstanceRestarts.WithLabelValues(b.name, inst.Schema.Name).Inc()
		}
	}
	o.updateBundleMetrics(b)
}

func (o *Orchestrator) updateBundleMetrics(b *bundleState) {
	if o.metrics == nil {
		return
	}
	o.mu.RLock()
	counts := make(map[InstanceStatus]int)
	for _, inst := range b.instances {
		counts[inst.Status]++
	}
	name := b.name
	o.mu.RUnlock()

	for _, status := range []InstanceStatus{InstanceStopped, InstanceStarting, InstanceRunning, InstanceError} {
		o.metrics.BundleInstances.WithLabelValues(name, string(status)).Set(float64(counts[status]))
	}
}

// Bundles returns the registered bundle names, sorted.
func (o *Orchestrator) Bundles() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	names := make([]string, 0, len(o.bundles))
	for name := range o.bundles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BundleStatus returns a snapshot of one bundle. The aggregate status
// mirrors the worst status among the bundle's instances.
func (o *Orchestrator) BundleStatus(name string) (BundleSummary, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	b, ok := o.bundles[name]
	if !ok {
		return BundleSummary{}, errors.NewBundleError(errors.BundleErrNotFound,
			fmt.Sprintf("bundle %q is not registered", name), nil)
	}

	summary := BundleSummary{Name: name, Status: b.status}
	worst := BundleRunning
	for _, inst := range b.instances {
		summary.Instances = append(summary.Instances, inst.summary())
		worst = worseOf(worst, instanceToBundleStatus(inst.Status))
	}
	if b.status == BundleRunning || b.status == BundleError {
		summary.Status = worst
	}
	return summary, nil
}

// InstanceStatus returns a snapshot of one instance by id.
func (o *Orchestrator) InstanceStatus(instanceID string) (InstanceSummary, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	inst, ok := o.instances[instanceID]
	if !ok {
		return InstanceSummary{}, errors.NewBundleError(errors.BundleErrInstanceNotFound,
			fmt.Sprintf("instance %q is not registered", instanceID), nil)
	}
	return inst.summary(), nil
}

// InstanceID resolves a bundle-local service name to its instance id.
func (o *Orchestrator) InstanceID(bundleName, serviceName string) (string, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	b, ok := o.bundles[bundleName]
	if !ok {
		return "", errors.NewBundleError(errors.BundleErrNotFound,
			fmt.Sprintf("bundle %q is not registered", bundleName), nil)
	}
	inst, ok := b.byName[serviceName]
	if !ok {
		return "", errors.NewBundleError(errors.BundleErrInstanceNotFound,
			fmt.Sprintf("service %q not found in bundle %q", serviceName, bundleName), nil)
	}
	return inst.ID, nil
}

func instanceToBundleStatus(s InstanceStatus) BundleStatus {
	switch s {
	case InstanceError:
		return BundleError
	case InstanceStarting:
		return BundleStarting
	case InstanceStopped:
		return BundleStopped
	default:
		return BundleRunning
	}
}

// worseOf ranks error > starting > stopped > running.
func worseOf(a, b BundleStatus) BundleStatus {
	rank := map[BundleStatus]int{
		BundleRunning:  0,
		BundleStopped:  1,
		BundleStarting: 2,
		BundleError:    3,
	}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
