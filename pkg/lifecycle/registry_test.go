package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *Registry {
	return NewRegistry(Options{HealthCheckInterval: -1})
}

// value returns a factory producing a fixed instance.
func value(v interface{}) Factory {
	return func(ctx context.Context) (interface{}, error) { return v, nil }
}

func failing(msg string) Factory {
	return func(ctx context.Context) (interface{}, error) { return nil, fmt.Errorf("%s", msg) }
}

func TestRegister_DuplicateIgnored(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	r.Register(Descriptor{Name: "db", Factory: value("first")})
	r.Register(Descriptor{Name: "db", Factory: value("second")})

	require.NoError(t, r.Initialize(context.Background()))
	// The original descriptor's factory stays in effect
	assert.Equal(t, "first", r.Get("db"))
}

func TestInitialize_DependencyOrder(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	var mu sync.Mutex
	var started []string
	track := func(name string) Factory {
		return func(ctx context.Context) (interface{}, error) {
			mu.Lock()
			started = append(started, name)
			mu.Unlock()
			return name, nil
		}
	}

	r.Register(Descriptor{Name: "api", Dependencies: []string{"db", "cache"}, Factory: track("api")})
	r.Register(Descriptor{Name: "cache", Dependencies: []string{"db"}, Factory: track("cache")})
	r.Register(Descriptor{Name: "db", Factory: track("db")})

	require.NoError(t, r.Initialize(context.Background()))
	assert.Equal(t, []string{"db", "cache", "api"}, started)
}

func TestInitialize_CycleFails(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	r.Register(Descriptor{Name: "a", Dependencies: []string{"b"}, Factory: value(1)})
	r.Register(Descriptor{Name: "b", Dependencies: []string{"c"}, Factory: value(2)})
	r.Register(Descriptor{Name: "c", Dependencies: []string{"a"}, Factory: value(3)})

	err := r.Initialize(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestInitialize_RequiredFailurePropagates(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	r.Register(Descriptor{Name: "a", Factory: failing("boom")})
	r.Register(Descriptor{Name: "b", Dependencies: []string{"a"}, Factory: value("b")})

	err := r.Initialize(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	status, ok := r.ServiceStatus("a")
	require.True(t, ok)
	assert.Equal(t, StatusError, status)

	status, ok = r.ServiceStatus("b")
	require.True(t, ok)
	assert.NotEqual(t, StatusReady, status)
}

func TestInitialize_OptionalFailureIsolated(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	r.Register(Descriptor{Name: "a", Optional: true, Factory: failing("boom")})
	r.Register(Descriptor{Name: "b", Dependencies: []string{"a"}, Factory: value("b")})

	require.NoError(t, r.Initialize(context.Background()))

	status, _ := r.ServiceStatus("a")
	assert.Equal(t, StatusError, status)
	status, _ = r.ServiceStatus("b")
	assert.Equal(t, StatusReady, status)

	health := r.SystemHealth(context.Background())
	assert.Equal(t, SystemDegraded, health.Status)
}

func TestInitialize_Idempotent(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	calls := 0
	r.Register(Descriptor{Name: "db", Factory: func(ctx context.Context) (interface{}, error) {
		calls++
		return "db", nil
	}})

	require.NoError(t, r.Initialize(context.Background()))
	require.NoError(t, r.Initialize(context.Background()))
	assert.Equal(t, 1, calls)
}

func TestInitialize_InitHook(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	var hookInstance interface{}
	r.Register(Descriptor{
		Name:    "db",
		Factory: value("instance"),
		Initialize: func(ctx context.Context, instance interface{}) error {
			hookInstance = instance
			return nil
		},
	})
	// Sorts after "db" so the first hook has run by the time this one fails
	r.Register(Descriptor{
		Name:    "migrator",
		Factory: value("x"),
		Initialize: func(ctx context.Context, instance interface{}) error {
			return fmt.Errorf("migration failed")
		},
	})

	err := r.Initialize(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migration failed")

	// The hook receives the factory's instance before the service is ready
	assert.Equal(t, "instance", hookInstance)
	status, _ := r.ServiceStatus("migrator")
	assert.Equal(t, StatusError, status)
}

func TestShutdown_ReverseOrder(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	var mu sync.Mutex
	var stopped []string
	stopTrack := func(name string) ShutdownHook {
		return func(ctx context.Context, instance interface{}) error {
			mu.Lock()
			stopped = append(stopped, name)
			mu.Unlock()
			return nil
		}
	}

	r.Register(Descriptor{Name: "a", Factory: value("a"), Shutdown: stopTrack("a")})
	r.Register(Descriptor{Name: "b", Dependencies: []string{"a"}, Factory: value("b"), Shutdown: stopTrack("b")})
	r.Register(Descriptor{Name: "c", Dependencies: []string{"b"}, Factory: value("c"), Shutdown: stopTrack("c")})

	require.NoError(t, r.Initialize(context.Background()))
	require.NoError(t, r.Shutdown(context.Background()))
	assert.Equal(t, []string{"c", "b", "a"}, stopped)
}

func TestShutdown_HookFailureDoesNotAbort(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	var mu sync.Mutex
	var stopped []string

	r.Register(Descriptor{Name: "a", Factory: value("a"), Shutdown: func(ctx context.Context, _ interface{}) error {
		mu.Lock()
		stopped = append(stopped, "a")
		mu.Unlock()
		return nil
	}})
	r.Register(Descriptor{Name: "b", Dependencies: []string{"a"}, Factory: value("b"), Shutdown: func(ctx context.Context, _ interface{}) error {
		return fmt.Errorf("teardown failed")
	}})

	require.NoError(t, r.Initialize(context.Background()))
	require.NoError(t, r.Shutdown(context.Background()))

	// a's hook still ran after b's failed
	assert.Equal(t, []string{"a"}, stopped)

	status, _ := r.ServiceStatus("b")
	assert.Equal(t, StatusError, status)
	status, _ = r.ServiceStatus("a")
	assert.Equal(t, StatusStopped, status)
}

func TestShutdown_BeforeInitializeIsNoop(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	called := false
	r.Register(Descriptor{Name: "a", Factory: value("a"), Shutdown: func(ctx context.Context, _ interface{}) error {
		called = true
		return nil
	}})

	require.NoError(t, r.Shutdown(context.Background()))
	assert.False(t, called)
}

func TestGetAndRequire(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	r.Register(Descriptor{Name: "db", Factory: value("instance")})

	assert.Nil(t, r.Get("db"))
	_, err := r.Require("db")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registered")

	_, err = r.Require("nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")

	require.NoError(t, r.Initialize(context.Background()))

	assert.Equal(t, "instance", r.Get("db"))
	got, err := r.Require("db")
	require.NoError(t, err)
	assert.Equal(t, "instance", got)
	assert.Nil(t, r.Get("nope"))
}

func healthHook(healthy bool) HealthHook {
	return func(ctx context.Context, instance interface{}) HealthResult {
		return HealthResult{Healthy: healthy, Message: "probe"}
	}
}

func TestSystemHealth_Aggregation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		healths []bool
		want    SystemStatus
	}{
		{"all healthy", []bool{true, true, true}, SystemHealthy},
		{"one unhealthy", []bool{true, true, false}, SystemDegraded},
		{"all unhealthy", []bool{false, false, false}, SystemUnhealthy},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			r := newTestRegistry()
			for i, healthy := range tc.healths {
				r.Register(Descriptor{
					Name:        fmt.Sprintf("svc%d", i),
					Factory:     value(i),
					HealthCheck: healthHook(healthy),
				})
			}
			require.NoError(t, r.Initialize(context.Background()))
			assert.Equal(t, tc.want, r.SystemHealth(context.Background()).Status)
		})
	}
}

func TestCheckHealth_DefaultsAndLatency(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	r.Register(Descriptor{Name: "plain", Factory: value(1)})
	r.Register(Descriptor{Name: "probed", Factory: value(2), HealthCheck: func(ctx context.Context, _ interface{}) HealthResult {
		// A hook-supplied latency must be overwritten by the registry
		return HealthResult{Healthy: true, LatencyMs: 987654}
	}})
	require.NoError(t, r.Initialize(context.Background()))

	res := r.CheckHealth(context.Background(), "plain")
	assert.True(t, res.Healthy)

	res = r.CheckHealth(context.Background(), "probed")
	assert.True(t, res.Healthy)
	assert.Less(t, res.LatencyMs, 10000.0)

	res = r.CheckHealth(context.Background(), "missing")
	assert.False(t, res.Healthy)
}

func TestHookTimeout(t *testing.T) {
	t.Parallel()

	r := NewRegistry(Options{HealthCheckInterval: -1, HookTimeout: 50 * time.Millisecond})
	r.Register(Descriptor{Name: "slow", Factory: func(ctx context.Context) (interface{}, error) {
		select {
		case <-time.After(5 * time.Second):
			return "late", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}})

	err := r.Initialize(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not complete")
}

func TestEvents(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	events, cancel := r.Events().Subscribe()
	defer cancel()

	r.Register(Descriptor{Name: "db", Factory: value("db")})
	require.NoError(t, r.Initialize(context.Background()))
	require.NoError(t, r.Shutdown(context.Background()))

	var types []EventType
	timeout := time.After(time.Second)
collect:
	for {
		select {
		case ev := <-events:
			types = append(types, ev.Type)
			if ev.Type == EventManagerShutdown {
				break collect
			}
		case <-timeout:
			break collect
		}
	}

	assert.Equal(t, []EventType{
		EventServiceRegistered,
		EventServiceInitializing,
		EventServiceReady,
		EventManagerInitialized,
		EventServiceStopping,
		EventServiceStopped,
		EventManagerShutdown,
	}, types)
}

func TestEndToEndScenario(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	var mu sync.Mutex
	var started, stopped []string
	track := func(name string) (Factory, ShutdownHook) {
		factory := func(ctx context.Context) (interface{}, error) {
			mu.Lock()
			started = append(started, name)
			mu.Unlock()
			return name, nil
		}
		stop := func(ctx context.Context, _ interface{}) error {
			mu.Lock()
			stopped = append(stopped, name)
			mu.Unlock()
			return nil
		}
		return factory, stop
	}

	dbFactory, dbStop := track("db")
	r.Register(Descriptor{Name: "db", Factory: dbFactory, Shutdown: dbStop})

	cacheFactory, cacheStop := track("cache")
	r.Register(Descriptor{
		Name:         "cache",
		Dependencies: []string{"db"},
		Optional:     true,
		Factory:      cacheFactory,
		Shutdown:     cacheStop,
		HealthCheck:  healthHook(false),
	})

	apiFactory, apiStop := track("api")
	r.Register(Descriptor{
		Name:         "api",
		Dependencies: []string{"db", "cache"},
		Factory:      apiFactory,
		Shutdown:     apiStop,
	})

	order, err := r.InitOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"db", "cache", "api"}, order)

	require.NoError(t, r.Initialize(context.Background()))
	assert.Equal(t, []string{"db", "cache", "api"}, started)

	for _, name := range []string{"db", "cache", "api"} {
		status, ok := r.ServiceStatus(name)
		require.True(t, ok)
		assert.Equal(t, StatusReady, status, name)
	}
	assert.Equal(t, SystemDegraded, r.SystemHealth(context.Background()).Status)

	require.NoError(t, r.Shutdown(context.Background()))
	assert.Equal(t, []string{"api", "cache", "db"}, stopped)
}

func TestSummaryAndStatusReport(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	r.Register(Descriptor{Name: "db", Factory: value(1), Tags: []string{"storage"}})
	r.Register(Descriptor{Name: "broken", Optional: true, Factory: failing("nope")})
	require.NoError(t, r.Initialize(context.Background()))

	summaries := r.Summary()
	require.Len(t, summaries, 2)
	assert.Equal(t, "broken", summaries[0].Name)
	assert.Equal(t, StatusError, summaries[0].Status)
	assert.Contains(t, summaries[0].Error, "nope")
	assert.Equal(t, "db", summaries[1].Name)
	assert.Equal(t, StatusReady, summaries[1].Status)
	assert.Equal(t, []string{"storage"}, summaries[1].Tags)
	assert.False(t, summaries[1].InitializedAt.IsZero())

	report := r.StatusReport()
	assert.Contains(t, report, "db")
	assert.Contains(t, report, "broken")
	assert.Contains(t, report, "2 registered")
}

func TestReset(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	r.Register(Descriptor{Name: "db", Factory: value(1)})
	require.NoError(t, r.Initialize(context.Background()))
	require.Equal(t, "db", fmt.Sprint(r.RegisteredServices()[0]))

	r.Reset()
	assert.Empty(t, r.RegisteredServices())

	// Registry is usable again after reset
	r.Register(Descriptor{Name: "db", Factory: value(2)})
	require.NoError(t, r.Initialize(context.Background()))
	assert.Equal(t, 2, r.Get("db"))
}
