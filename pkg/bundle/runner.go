package bundle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/cobaltlabs/conductor/pkg/errors"
)

// Runner starts, stops, probes and calls instances of one Kind.
type Runner interface {
	Start(ctx context.Context, inst *Instance) error
	Stop(ctx context.Context, inst *Instance) error
	Call(ctx context.Context, inst *Instance, endpoint string, payload interface{}) (interface{}, error)
	Health(ctx context.Context, inst *Instance) error
}

// Automation is the external browser-automation manager that chrome-kind
// instances delegate to. It is an opaque collaborator; the orchestrator only
// calls through.
type Automation interface {
	Launch(ctx context.Context, schema ServiceSchema, env map[string]string) (handle string, err error)
	Terminate(ctx context.Context, handle string) error
	Execute(ctx context.Context, handle string, endpoint string, payload interface{}) (interface{}, error)
	Ping(ctx context.Context, handle string) error
}

// ---------------------------------------------------------------------------
// chrome

type automationRunner struct {
	automation Automation
}

// NewAutomationRunner returns the runner for chrome-kind instances.
func NewAutomationRunner(automation Automation) Runner {
	return &automationRunner{automation: automation}
}

func (r *automationRunner) Start(ctx context.Context, inst *Instance) error {
	if r.automation == nil {
		return errors.NewBundleError(errors.BundleErrStart,
			"no automation manager configured for chrome instances", nil)
	}
	handle, err := r.automation.Launch(ctx, inst.Schema, inst.Environment)
	if err != nil {
		return err
	}
	inst.Handle = handle
	return nil
}

func (r *automationRunner) Stop(ctx context.Context, inst *Instance) error {
	if r.automation == nil || inst.Handle == nil {
		return nil
	}
	return r.automation.Terminate(ctx, inst.Handle.(string))
}

func (r *automationRunner) Call(ctx context.Context, inst *Instance, endpoint string, payload interface{}) (interface{}, error) {
	if r.automation == nil || inst.Handle == nil {
		return nil, errors.NewBundleError(errors.BundleErrStart, "chrome instance has no automation handle", nil)
	}
	return r.automation.Execute(ctx, inst.Handle.(string), endpoint, payload)
}

func (r *automationRunner) Health(ctx context.Context, inst *Instance) error {
	if r.automation == nil || inst.Handle == nil {
		return fmt.Errorf("chrome instance has no automation handle")
	}
	return r.automation.Ping(ctx, inst.Handle.(string))
}

// ---------------------------------------------------------------------------
// worker

// WorkerHandler processes one message for a worker instance.
type WorkerHandler func(ctx context.Context, endpoint string, payload interface{}) (interface{}, error)

type workerRequest struct {
	ctx      context.Context
	endpoint string
	payload  interface{}
	reply    chan workerReply
}

type workerReply struct {
	result interface{}
	err    error
}

type workerHandle struct {
	requests chan workerRequest
	quit     chan struct{}
	done     chan struct{}
}

// WorkerRunner runs each worker instance as an in-process goroutine with a
// message loop; calls are request/reply messages over its mailbox.
type WorkerRunner struct {
	mu       sync.RWMutex
	handlers map[string]WorkerHandler
}

// NewWorkerRunner returns the runner for worker-kind instances.
func NewWorkerRunner() *WorkerRunner {
	return &WorkerRunner{handlers: make(map[string]WorkerHandler)}
}

// RegisterHandler sets the message handler for worker instances whose schema
// has the given name.
func (r *WorkerRunner) RegisterHandler(schemaName string, h WorkerHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[schemaName] = h
}

func (r *WorkerRunner) handler(schemaName string) WorkerHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[schemaName]
}

func (r *WorkerRunner) Start(ctx context.Context, inst *Instance) error {
	h := &workerHandle{
		requests: make(chan workerRequest, 16),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	handler := r.handler(inst.Schema.Name)

	go func() {
		defer close(h.done)
		for {
			select {
			case <-h.quit:
				return
			case req := <-h.requests:
				if handler == nil {
					req.reply <- workerReply{err: errors.NewBundleError(errors.BundleErrPipeline,
						fmt.Sprintf("no worker handler registered for %q", inst.Schema.Name), nil)}
					continue
				}
				result, err := handler(req.ctx, req.endpoint, req.payload)
				req.reply <- workerReply{result: result, err: err}
			}
		}
	}()

	inst.Handle = h
	return nil
}

func (r *WorkerRunner) Stop(ctx context.Context, inst *Instance) error {
	h, ok := inst.Handle.(*workerHandle)
	if !ok {
		return nil
	}
	close(h.quit)
	select {
	case <-h.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (r *WorkerRunner) Call(ctx context.Context, inst *Instance, endpoint string, payload interface{}) (interface{}, error) {
	h, ok := inst.Handle.(*workerHandle)
	if !ok {
		return nil, errors.NewBundleError(errors.BundleErrStart, "worker instance is not running", nil)
	}

	req := workerRequest{ctx: ctx, endpoint: endpoint, payload: payload, reply: make(chan workerReply, 1)}
	select {
	case h.requests <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case rep := <-req.reply:
		return rep.result, rep.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *WorkerRunner) Health(ctx context.Context, inst *Instance) error {
	h, ok := inst.Handle.(*workerHandle)
	if !ok {
		return fmt.Errorf("worker instance is not running")
	}
	select {
	case <-h.done:
		return fmt.Errorf("worker loop exited")
	default:
		return nil
	}
}

// ---------------------------------------------------------------------------
// api

// APIRunner supervises externally launched HTTP services. Start allocates a
// sequential port for the instance; calls POST JSON to the instance's
// endpoint and health probes GET /healthz.
type APIRunner struct {
	basePort int32
	next     int32
	client   *http.Client
}

// NewAPIRunner returns the runner for api-kind instances. Ports are
// allocated sequentially from basePort.
func NewAPIRunner(basePort int) *APIRunner {
	return &APIRunner{basePort: int32(basePort), client: &http.Client{}}
}

func (r *APIRunner) Start(ctx context.Context, inst *Instance) error {
	port := int(r.basePort + atomic.AddInt32(&r.next, 1) - 1)
	inst.Port = port
	return nil
}

func (r *APIRunner) Stop(ctx context.Context, inst *Instance) error {
	inst.Port = 0
	return nil
}

func (r *APIRunner) Call(ctx context.Context, inst *Instance, endpoint string, payload interface{}) (interface{}, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	url := fmt.Sprintf("http://127.0.0.1:%d/%s", inst.Port, endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("endpoint %s returned status %d", endpoint, resp.StatusCode)
	}

	var result interface{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &result); err != nil {
			// Non-JSON responses are passed through as strings
			result = string(data)
		}
	}
	return result, nil
}

func (r *APIRunner) Health(ctx context.Context, inst *Instance) error {
	url := fmt.Sprintf("http://127.0.0.1:%d/healthz", inst.Port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// ---------------------------------------------------------------------------
// custom

// Hooks supplies the behavior for custom-kind instances.
type Hooks struct {
	Start  func(ctx context.Context, inst *Instance) error
	Stop   func(ctx context.Context, inst *Instance) error
	Call   func(ctx context.Context, inst *Instance, endpoint string, payload interface{}) (interface{}, error)
	Health func(ctx context.Context, inst *Instance) error
}

type customRunner struct {
	hooks Hooks
}

// NewCustomRunner returns a runner backed by caller-supplied hooks. Nil
// hooks default to no-ops (Call without a hook is an error).
func NewCustomRunner(hooks Hooks) Runner {
	return &customRunner{hooks: hooks}
}

func (r *customRunner) Start(ctx context.Context, inst *Instance) error {
	if r.hooks.Start == nil {
		return nil
	}
	return r.hooks.Start(ctx, inst)
}

func (r *customRunner) Stop(ctx context.Context, inst *Instance) error {
	if r.hooks.Stop == nil {
		return nil
	}
	return r.hooks.Stop(ctx, inst)
}

func (r *customRunner) Call(ctx context.Context, inst *Instance, endpoint string, payload interface{}) (interface{}, error) {
	if r.hooks.Call == nil {
		return nil, errors.NewBundleError(errors.BundleErrEndpointNotFound,
			fmt.Sprintf("custom instance %q has no call hook", inst.Schema.Name), nil)
	}
	return r.hooks.Call(ctx, inst, endpoint, payload)
}

func (r *customRunner) Health(ctx context.Context, inst *Instance) error {
	if r.hooks.Health == nil {
		return nil
	}
	return r.hooks.Health(ctx, inst)
}
