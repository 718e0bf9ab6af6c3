package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/yourusername/tokengate/core"
)

// JanitorConfig configures periodic registry maintenance.
type JanitorConfig struct {
	// Schedule is a cron expression (with @every shorthand support).
	// Defaults to "@every 1m".
	Schedule string

	// CleanupAge evicts buckets idle longer than this. Zero disables
	// eviction; the registry then grows unbounded by design.
	CleanupAge time.Duration

	// Snapshots, when set, receives a full state flush on every run.
	Snapshots *RedisSnapshots

	// SnapshotTimeout bounds each flush. Defaults to 5s.
	SnapshotTimeout time.Duration

	// Logger for maintenance outcomes. Defaults to slog.Default().
	Logger *slog.Logger
}

// Janitor runs scheduled maintenance over a Memory registry: idle-bucket
// eviction and best-effort snapshot flushes to Redis. It never touches the
// admission hot path.
type Janitor struct {
	registry *Memory
	cfg      JanitorConfig
	cron     *cron.Cron
	log      *slog.Logger
}

// NewJanitor creates a janitor for the given registry.
func NewJanitor(registry *Memory, cfg JanitorConfig) (*Janitor, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 1m"
	}
	if cfg.SnapshotTimeout == 0 {
		cfg.SnapshotTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	j := &Janitor{
		registry: registry,
		cfg:      cfg,
		cron:     cron.New(),
		log:      cfg.Logger,
	}

	if _, err := j.cron.AddFunc(cfg.Schedule, j.RunNow); err != nil {
		return nil, fmt.Errorf("invalid janitor schedule %q: %w", cfg.Schedule, err)
	}
	return j, nil
}

// Start begins scheduled maintenance.
func (j *Janitor) Start() {
	j.cron.Start()
}

// Stop halts scheduling and waits for an in-flight run to finish.
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
}

// RunNow performs one maintenance pass immediately.
func (j *Janitor) RunNow() {
	if j.cfg.CleanupAge > 0 {
		if removed := j.registry.EvictIdle(j.cfg.CleanupAge); removed > 0 {
			j.log.Info("evicted idle buckets", "removed", removed, "remaining", j.registry.Count())
		}
	}

	if j.cfg.Snapshots != nil {
		j.flush()
	}
}

func (j *Janitor) flush() {
	buckets := j.registry.List()
	states := make([]core.State, 0, len(buckets))
	for _, bucket := range buckets {
		states = append(states, bucket.State())
	}

	ctx, cancel := context.WithTimeout(context.Background(), j.cfg.SnapshotTimeout)
	defer cancel()

	if err := j.cfg.Snapshots.SaveAll(ctx, states); err != nil {
		j.log.Warn("snapshot flush failed", "error", err, "buckets", len(states))
		return
	}
	j.log.Debug("snapshot flush complete", "buckets", len(states))
}
