// Package statestore persists registry snapshots and lifecycle events to
// Redis so operational tooling can inspect the last known state of the
// process, including after a crash.
package statestore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/cobaltlabs/conductor/pkg/config"
	"github.com/cobaltlabs/conductor/pkg/lifecycle"
)

const (
	// Hash holding one field per service with its latest summary
	servicesKey = "conductor:services"

	// List of recent lifecycle events, newest first
	eventsKey = "conductor:events"

	// Key holding the latest aggregate system health snapshot
	systemHealthKey = "conductor:system_health"

	// maxEvents bounds the event list
	maxEvents = 1000
)

// Store is a Redis-backed snapshot store.
type Store struct {
	client *redis.Client
}

// New connects to Redis and verifies the connection.
func New(cfg config.RedisConfig) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{client: client}, nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping verifies the connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// SaveSummaries writes the latest per-service summaries.
func (s *Store) SaveSummaries(ctx context.Context, summaries []lifecycle.Summary) error {
	if len(summaries) == 0 {
		return nil
	}
	fields := make(map[string]interface{}, len(summaries))
	for _, summary := range summaries {
		data, err := json.Marshal(summary)
		if err != nil {
			return fmt.Errorf("failed to encode summary for %s: %w", summary.Name, err)
		}
		fields[summary.Name] = data
	}
	return s.client.HSet(ctx, servicesKey, fields).Err()
}

// LoadSummaries reads the stored per-service summaries.
func (s *Store) LoadSummaries(ctx context.Context) (map[string]lifecycle.Summary, error) {
	raw, err := s.client.HGetAll(ctx, servicesKey).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]lifecycle.Summary, len(raw))
	for name, data := range raw {
		var summary lifecycle.Summary
		if err := json.Unmarshal([]byte(data), &summary); err != nil {
			return nil, fmt.Errorf("failed to decode summary for %s: %w", name, err)
		}
		out[name] = summary
	}
	return out, nil
}

// RecordEvent prepends a lifecycle event to the bounded event list.
func (s *Store) RecordEvent(ctx context.Context, ev lifecycle.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, eventsKey, data)
	pipe.LTrim(ctx, eventsKey, 0, maxEvents-1)
	_, err = pipe.Exec(ctx)
	return err
}

// RecentEvents returns up to n stored events, newest first.
func (s *Store) RecentEvents(ctx context.Context, n int64) ([]lifecycle.Event, error) {
	raw, err := s.client.LRange(ctx, eventsKey, 0, n-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]lifecycle.Event, 0, len(raw))
	for _, data := range raw {
		var ev lifecycle.Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return nil, fmt.Errorf("failed to decode event: %w", err)
		}
		out = append(out, ev)
	}
	return out, nil
}

// SaveSystemHealth writes the latest aggregate health snapshot.
func (s *Store) SaveSystemHealth(ctx context.Context, health lifecycle.SystemHealth) error {
	data, err := json.Marshal(health)
	if err != nil {
		return fmt.Errorf("failed to encode system health: %w", err)
	}
	return s.client.Set(ctx, systemHealthKey, data, 0).Err()
}

// Descriptor returns the lifecycle registration for the statestore service.
func Descriptor(cfg config.RedisConfig) lifecycle.Descriptor {
	return lifecycle.Descriptor{
		Name:        "statestore",
		Description: "Redis-backed registry snapshot store",
		Tags:        []string{"storage", "redis"},
		Factory: func(ctx context.Context) (interface{}, error) {
			return New(cfg)
		},
		HealthCheck: func(ctx context.Context, instance interface{}) lifecycle.HealthResult {
			store := instance.(*Store)
			if err := store.Ping(ctx); err != nil {
				return lifecycle.HealthResult{Healthy: false, Message: err.Error()}
			}
			return lifecycle.HealthResult{Healthy: true}
		},
		Shutdown: func(ctx context.Context, instance interface{}) error {
			return instance.(*Store).Close()
		},
	}
}
