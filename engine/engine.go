// Package engine implements the rate-limiting decision core: nine atomic
// operations over a registry of per-key token buckets plus process-wide
// admission metrics.
package engine

import (
	"fmt"
	"time"

	"github.com/yourusername/tokengate/core"
	"github.com/yourusername/tokengate/metrics"
	"github.com/yourusername/tokengate/store"
)

// DefaultPolicy is applied to keys created without explicit configuration.
var DefaultPolicy = core.Config{Capacity: 100, RefillRate: 10}

// Config for creating an Engine. Zero-valued optional fields get defaults.
type Config struct {
	// Defaults is the policy for buckets created on demand.
	Defaults core.Config

	// Policy, when set, resolves a per-key creation policy, overriding
	// Defaults. Useful for prefix-based policy files.
	Policy func(key string) core.Config

	// Registry holds the buckets. Defaults to an in-memory registry.
	Registry store.Registry

	// Metrics receives one RecordCheck per check operation.
	// Defaults to a fresh collector.
	Metrics *metrics.Collector

	// Clock is the time source. Defaults to the system clock.
	Clock core.Clock

	// OnDelete, when set, is invoked after a successful delete. Used to
	// mirror deletions into best-effort persistence; called outside any
	// bucket lock.
	OnDelete func(key string)
}

// Engine orchestrates the registry and the metrics collector to implement
// the operation catalog. Admission and adjustment operations (check,
// penalty, reward, block) create unknown keys on demand; inspection and
// existing-state operations (status, reset, delete, unblock) report
// ErrNotFound instead.
type Engine struct {
	defaults core.Config
	policy   func(key string) core.Config
	registry store.Registry
	metrics  *metrics.Collector
	clock    core.Clock
	onDelete func(key string)
}

// AdjustResult is returned by Penalty and Reward.
type AdjustResult struct {
	Key             string
	RemainingTokens int64
}

// BlockResult is returned by Block.
type BlockResult struct {
	Key          string
	BlockedUntil time.Time
}

// Health reports the engine's liveness and registry size.
type Health struct {
	Status         string
	ActiveLimiters int
}

// New creates an engine. The default policy must have a positive capacity
// and a non-negative refill rate.
func New(cfg Config) (*Engine, error) {
	if cfg.Defaults == (core.Config{}) {
		cfg.Defaults = DefaultPolicy
	}
	if cfg.Defaults.Capacity <= 0 {
		return nil, fmt.Errorf("%w: default capacity must be positive", ErrInvalidArgument)
	}
	if cfg.Defaults.RefillRate < 0 {
		return nil, fmt.Errorf("%w: default refill rate cannot be negative", ErrInvalidArgument)
	}
	if cfg.Clock == nil {
		cfg.Clock = core.SystemClock{}
	}
	if cfg.Registry == nil {
		cfg.Registry = store.NewMemory(cfg.Clock)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewCollector()
	}

	return &Engine{
		defaults: cfg.Defaults,
		policy:   cfg.Policy,
		registry: cfg.Registry,
		metrics:  cfg.Metrics,
		clock:    cfg.Clock,
		onDelete: cfg.OnDelete,
	}, nil
}

// creationConfig resolves the policy a new bucket for key starts with.
// Explicit check overrides beat the policy resolver, which beats defaults.
func (e *Engine) creationConfig(key string, opts core.CheckOptions) core.Config {
	cfg := e.defaults
	if e.policy != nil {
		cfg = e.policy(key)
	}
	if opts.Capacity != nil {
		cfg.Capacity = *opts.Capacity
	}
	if opts.RefillRate != nil {
		cfg.RefillRate = *opts.RefillRate
	}
	return cfg
}

func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: key cannot be empty", ErrInvalidArgument)
	}
	return nil
}

// Check runs token-bucket admission for key, creating the bucket on first
// reference. Exactly one metrics record is made per call. A denied check
// is a successful operation, not an error.
func (e *Engine) Check(key string, opts core.CheckOptions) (core.CheckResult, error) {
	if err := validateKey(key); err != nil {
		return core.CheckResult{}, err
	}
	if opts.Capacity != nil && *opts.Capacity <= 0 {
		return core.CheckResult{}, fmt.Errorf("%w: capacity must be positive", ErrInvalidArgument)
	}
	if opts.RefillRate != nil && *opts.RefillRate < 0 {
		return core.CheckResult{}, fmt.Errorf("%w: refill rate cannot be negative", ErrInvalidArgument)
	}

	bucket := e.registry.GetOrCreate(key, e.creationConfig(key, opts))
	result := bucket.Check(e.clock.Now(), opts)
	e.metrics.RecordCheck(result.Allowed)
	return result, nil
}

// Penalty removes points tokens from key's bucket, creating it on demand.
func (e *Engine) Penalty(key string, points int64) (AdjustResult, error) {
	if err := validateKey(key); err != nil {
		return AdjustResult{}, err
	}
	if points < 0 {
		return AdjustResult{}, fmt.Errorf("%w: points cannot be negative", ErrInvalidArgument)
	}

	bucket := e.registry.GetOrCreate(key, e.creationConfig(key, core.CheckOptions{}))
	remaining := bucket.Penalty(e.clock.Now(), points)
	return AdjustResult{Key: key, RemainingTokens: remaining}, nil
}

// Reward adds points tokens to key's bucket, creating it on demand.
func (e *Engine) Reward(key string, points int64) (AdjustResult, error) {
	if err := validateKey(key); err != nil {
		return AdjustResult{}, err
	}
	if points < 0 {
		return AdjustResult{}, fmt.Errorf("%w: points cannot be negative", ErrInvalidArgument)
	}

	bucket := e.registry.GetOrCreate(key, e.creationConfig(key, core.CheckOptions{}))
	remaining := bucket.Reward(e.clock.Now(), points)
	return AdjustResult{Key: key, RemainingTokens: remaining}, nil
}

// Block denies all of key's requests for the given duration, creating the
// bucket on demand. A new block overwrites any existing one.
func (e *Engine) Block(key string, duration time.Duration) (BlockResult, error) {
	if err := validateKey(key); err != nil {
		return BlockResult{}, err
	}
	if duration < 0 {
		return BlockResult{}, fmt.Errorf("%w: duration cannot be negative", ErrInvalidArgument)
	}

	bucket := e.registry.GetOrCreate(key, e.creationConfig(key, core.CheckOptions{}))
	until := bucket.Block(e.clock.Now(), duration)
	return BlockResult{Key: key, BlockedUntil: until}, nil
}

// Unblock clears key's block window. Idempotent for a known key;
// ErrNotFound for a never-seen one.
func (e *Engine) Unblock(key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	bucket, ok := e.registry.Get(key)
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	bucket.Unblock(e.clock.Now())
	return nil
}

// Status reports key's current bucket state after a refill.
func (e *Engine) Status(key string) (core.Status, error) {
	if err := validateKey(key); err != nil {
		return core.Status{}, err
	}

	bucket, ok := e.registry.Get(key)
	if !ok {
		return core.Status{}, fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	return bucket.Snapshot(e.clock.Now()), nil
}

// Reset restores key's bucket to full capacity and clears any block.
func (e *Engine) Reset(key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	bucket, ok := e.registry.Get(key)
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	bucket.Reset(e.clock.Now())
	return nil
}

// Delete removes key's bucket, reporting whether one existed. Deleting an
// absent key is not an error.
func (e *Engine) Delete(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	deleted := e.registry.Delete(key)
	if deleted && e.onDelete != nil {
		e.onDelete(key)
	}
	return deleted, nil
}

// List returns a status snapshot for every tracked key. Each bucket's lock
// is held only while copying its state.
func (e *Engine) List() []core.Status {
	now := e.clock.Now()
	buckets := e.registry.List()

	statuses := make([]core.Status, 0, len(buckets))
	for _, bucket := range buckets {
		statuses = append(statuses, bucket.Snapshot(now))
	}
	return statuses
}

// Metrics returns the process-wide admission counters.
func (e *Engine) Metrics() metrics.Snapshot {
	return e.metrics.GetSnapshot()
}

// Health reports a status label and the number of tracked keys.
func (e *Engine) Health() Health {
	return Health{
		Status:         "healthy",
		ActiveLimiters: e.registry.Count(),
	}
}
