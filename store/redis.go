package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yourusername/tokengate/core"
)

const snapshotKeyPrefix = "tokengate:"

// RedisConfig for creating a snapshot store
type RedisConfig struct {
	Addr     string        // Redis address (e.g., "localhost:6379")
	Password string        // Redis password (empty for no auth)
	DB       int           // Redis database number
	TTL      time.Duration // TTL for persisted snapshots (default: 1 hour)
}

// RedisSnapshots persists bucket snapshots to Redis as JSON. It is a
// best-effort mirror for warm restarts, never consulted on the hot path:
// the in-memory registry stays authoritative and snapshots expire via TTL.
type RedisSnapshots struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSnapshots creates a Redis-backed snapshot store.
func NewRedisSnapshots(cfg RedisConfig) *RedisSnapshots {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ttl := cfg.TTL
	if ttl == 0 {
		ttl = time.Hour
	}

	return &RedisSnapshots{client: client, ttl: ttl}
}

// Save persists a single bucket snapshot.
func (s *RedisSnapshots) Save(ctx context.Context, state core.State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal snapshot for %q: %w", state.Key, err)
	}
	return s.client.Set(ctx, snapshotKeyPrefix+state.Key, data, s.ttl).Err()
}

// SaveAll persists a batch of snapshots in one round trip.
func (s *RedisSnapshots) SaveAll(ctx context.Context, states []core.State) error {
	if len(states) == 0 {
		return nil
	}

	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, state := range states {
			data, err := json.Marshal(state)
			if err != nil {
				return fmt.Errorf("marshal snapshot for %q: %w", state.Key, err)
			}
			pipe.Set(ctx, snapshotKeyPrefix+state.Key, data, s.ttl)
		}
		return nil
	})
	return err
}

// Delete removes the persisted snapshot for key.
func (s *RedisSnapshots) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, snapshotKeyPrefix+key).Err()
}

// Restore loads every persisted snapshot. Entries that fail to decode are
// skipped; a partially restored registry beats an empty one.
func (s *RedisSnapshots) Restore(ctx context.Context) ([]core.State, error) {
	var states []core.State

	iter := s.client.Scan(ctx, 0, snapshotKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		val, err := s.client.Get(ctx, iter.Val()).Result()
		if err != nil {
			continue
		}

		var state core.State
		if err := json.Unmarshal([]byte(val), &state); err != nil {
			continue
		}
		states = append(states, state)
	}
	if err := iter.Err(); err != nil {
		return states, fmt.Errorf("scan snapshots: %w", err)
	}

	return states, nil
}

// Clear removes all persisted snapshots.
func (s *RedisSnapshots) Clear(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, snapshotKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

// Ping checks if the Redis connection is alive.
func (s *RedisSnapshots) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisSnapshots) Close() error {
	return s.client.Close()
}
