package engine

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/tokengate/core"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestEngine(t *testing.T, defaults core.Config) (*Engine, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	eng, err := New(Config{Defaults: defaults, Clock: clock})
	require.NoError(t, err)
	return eng, clock
}

func intPtr(v int64) *int64 { return &v }

func ratePtr(v float64) *float64 { return &v }

func TestNew_ValidatesDefaults(t *testing.T) {
	_, err := New(Config{Defaults: core.Config{Capacity: -1, RefillRate: 1}})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = New(Config{Defaults: core.Config{Capacity: 10, RefillRate: -1}})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestNew_ZeroConfigUsesDefaultPolicy(t *testing.T) {
	eng, err := New(Config{})
	require.NoError(t, err)

	result, err := eng.Check("user-1", core.CheckOptions{})
	require.NoError(t, err)
	assert.Equal(t, DefaultPolicy.Capacity, result.Capacity)
}

func TestCheck_FreshKeyExhaustsAtCapacity(t *testing.T) {
	eng, _ := newTestEngine(t, core.Config{Capacity: 5, RefillRate: 1})

	for i := 0; i < 5; i++ {
		result, err := eng.Check("user-1", core.CheckOptions{})
		require.NoError(t, err)
		assert.True(t, result.Allowed, "request %d", i+1)
	}

	result, err := eng.Check("user-1", core.CheckOptions{})
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, core.ReasonRateLimited, result.Reason)
}

func TestCheck_PerCallOverridesReconfigure(t *testing.T) {
	eng, _ := newTestEngine(t, core.Config{Capacity: 10, RefillRate: 1})

	result, err := eng.Check("user-1", core.CheckOptions{Capacity: intPtr(3), RefillRate: ratePtr(2)})
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.Capacity)

	// Stored config persists for subsequent calls
	result, err = eng.Check("user-1", core.CheckOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.Capacity)
}

func TestCheck_RejectsInvalidArguments(t *testing.T) {
	eng, _ := newTestEngine(t, core.Config{Capacity: 5, RefillRate: 1})

	_, err := eng.Check("", core.CheckOptions{})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = eng.Check("user-1", core.CheckOptions{Capacity: intPtr(0)})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = eng.Check("user-1", core.CheckOptions{RefillRate: ratePtr(-1)})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestPenaltyAndReward_ClampAndReport(t *testing.T) {
	eng, _ := newTestEngine(t, core.Config{Capacity: 10, RefillRate: 0})

	// Create-on-demand: a fresh bucket starts full
	result, err := eng.Penalty("user-1", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(7), result.RemainingTokens)

	result, err = eng.Penalty("user-1", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.RemainingTokens, "penalty clamps at zero")

	result, err = eng.Reward("user-1", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.RemainingTokens)

	result, err = eng.Reward("user-1", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(10), result.RemainingTokens, "reward clamps at capacity")

	_, err = eng.Penalty("user-1", -1)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = eng.Reward("user-1", -1)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestBlockUnblockFlow(t *testing.T) {
	eng, clock := newTestEngine(t, core.Config{Capacity: 5, RefillRate: 1})

	blocked, err := eng.Block("spammer", 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(30*time.Second), blocked.BlockedUntil)

	result, err := eng.Check("spammer", core.CheckOptions{})
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, core.ReasonBlocked, result.Reason)

	require.NoError(t, eng.Unblock("spammer"))

	result, err = eng.Check("spammer", core.CheckOptions{})
	require.NoError(t, err)
	assert.True(t, result.Allowed, "check after unblock re-evaluates tokens")

	// Unblock is idempotent on a known key
	require.NoError(t, eng.Unblock("spammer"))

	_, err = eng.Block("spammer", -time.Second)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestBlockExpiresOnItsOwn(t *testing.T) {
	eng, clock := newTestEngine(t, core.Config{Capacity: 5, RefillRate: 1})

	_, err := eng.Block("spammer", time.Second)
	require.NoError(t, err)

	clock.Advance(2 * time.Second)
	result, err := eng.Check("spammer", core.CheckOptions{})
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestStatus_ReportsRefreshedState(t *testing.T) {
	eng, clock := newTestEngine(t, core.Config{Capacity: 10, RefillRate: 2})

	for i := 0; i < 10; i++ {
		_, err := eng.Check("user-1", core.CheckOptions{})
		require.NoError(t, err)
	}

	clock.Advance(3 * time.Second)
	status, err := eng.Status("user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(6), status.Tokens)
	assert.Equal(t, int64(10), status.Capacity)
	assert.False(t, status.IsBlocked)
}

func TestNotFoundAsymmetry(t *testing.T) {
	eng, _ := newTestEngine(t, core.Config{Capacity: 5, RefillRate: 1})

	_, err := eng.Status("never-seen")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, eng.Reset("never-seen"), ErrNotFound)
	assert.ErrorIs(t, eng.Unblock("never-seen"), ErrNotFound)

	deleted, err := eng.Delete("never-seen")
	require.NoError(t, err, "delete on absent key is not an error")
	assert.False(t, deleted)

	// Create-on-demand paths never fail for a new key
	_, err = eng.Penalty("new-1", 1)
	assert.NoError(t, err)
	_, err = eng.Reward("new-2", 1)
	assert.NoError(t, err)
	_, err = eng.Block("new-3", time.Second)
	assert.NoError(t, err)
}

func TestDeleteThenStatusIsNotFound(t *testing.T) {
	eng, _ := newTestEngine(t, core.Config{Capacity: 5, RefillRate: 1})

	_, err := eng.Check("user-1", core.CheckOptions{})
	require.NoError(t, err)

	deleted, err := eng.Delete("user-1")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = eng.Status("user-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDelete_FiresOnDeleteHook(t *testing.T) {
	var mirrored atomic.Int64
	clock := newFakeClock()
	eng, err := New(Config{
		Defaults: core.Config{Capacity: 5, RefillRate: 1},
		Clock:    clock,
		OnDelete: func(key string) { mirrored.Add(1) },
	})
	require.NoError(t, err)

	_, err = eng.Check("user-1", core.CheckOptions{})
	require.NoError(t, err)

	_, err = eng.Delete("user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), mirrored.Load())

	// Hook does not fire for absent keys
	_, err = eng.Delete("user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), mirrored.Load())
}

func TestReset_RestoresCapacityAndClearsBlock(t *testing.T) {
	eng, _ := newTestEngine(t, core.Config{Capacity: 5, RefillRate: 0})

	for i := 0; i < 5; i++ {
		_, err := eng.Check("user-1", core.CheckOptions{})
		require.NoError(t, err)
	}
	_, err := eng.Block("user-1", time.Hour)
	require.NoError(t, err)

	require.NoError(t, eng.Reset("user-1"))

	status, err := eng.Status("user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), status.Tokens)
	assert.False(t, status.IsBlocked)
}

func TestList_SnapshotsEveryKey(t *testing.T) {
	eng, _ := newTestEngine(t, core.Config{Capacity: 5, RefillRate: 1})

	for _, key := range []string{"a", "b", "c"} {
		_, err := eng.Check(key, core.CheckOptions{})
		require.NoError(t, err)
	}

	statuses := eng.List()
	require.Len(t, statuses, 3)
	for _, status := range statuses {
		assert.Equal(t, int64(4), status.Tokens)
	}
}

func TestHealth_CountsTrackedKeys(t *testing.T) {
	eng, _ := newTestEngine(t, core.Config{Capacity: 5, RefillRate: 1})

	health := eng.Health()
	assert.Equal(t, "healthy", health.Status)
	assert.Zero(t, health.ActiveLimiters)

	_, err := eng.Check("user-1", core.CheckOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, eng.Health().ActiveLimiters)
}

func TestMetrics_TrackOnlyChecks(t *testing.T) {
	eng, _ := newTestEngine(t, core.Config{Capacity: 2, RefillRate: 0})

	for i := 0; i < 3; i++ {
		_, err := eng.Check("user-1", core.CheckOptions{})
		require.NoError(t, err)
	}

	// Non-check operations leave the counters alone
	_, err := eng.Penalty("user-1", 1)
	require.NoError(t, err)
	_, err = eng.Reward("user-1", 1)
	require.NoError(t, err)
	_, err = eng.Status("user-1")
	require.NoError(t, err)

	snap := eng.Metrics()
	assert.Equal(t, int64(3), snap.TotalRequests)
	assert.Equal(t, int64(2), snap.AllowedRequests)
	assert.Equal(t, int64(1), snap.BlockedRequests)
	assert.InDelta(t, 66.66, snap.SuccessRate, 0.1)
}

func TestPolicyResolver_SetsCreationDefaults(t *testing.T) {
	clock := newFakeClock()
	eng, err := New(Config{
		Defaults: core.Config{Capacity: 100, RefillRate: 10},
		Clock:    clock,
		Policy: func(key string) core.Config {
			if key == "premium" {
				return core.Config{Capacity: 1000, RefillRate: 100}
			}
			return core.Config{Capacity: 10, RefillRate: 1}
		},
	})
	require.NoError(t, err)

	result, err := eng.Check("premium", core.CheckOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), result.Capacity)

	result, err = eng.Check("basic", core.CheckOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(10), result.Capacity)
}

func TestConcurrentChecks_NeverDoubleSpend(t *testing.T) {
	eng, _ := newTestEngine(t, core.Config{Capacity: 50, RefillRate: 0})

	const callers = 200
	var allowed atomic.Int64

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := eng.Check("contested", core.CheckOptions{})
			if err == nil && result.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), allowed.Load(), "admissions must equal available tokens")

	snap := eng.Metrics()
	assert.Equal(t, int64(callers), snap.TotalRequests)
	assert.Equal(t, int64(50), snap.AllowedRequests)
}

func TestConcurrentDistinctKeys_DoNotInterfere(t *testing.T) {
	eng, _ := newTestEngine(t, core.Config{Capacity: 10, RefillRate: 0})

	const keys = 20
	var wg sync.WaitGroup
	for i := 0; i < keys; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := string(rune('a' + n))
			for j := 0; j < 10; j++ {
				result, err := eng.Check(key, core.CheckOptions{})
				assert.NoError(t, err)
				assert.True(t, result.Allowed)
			}
		}(i)
	}
	wg.Wait()

	for _, status := range eng.List() {
		assert.Equal(t, int64(0), status.Tokens)
	}
}
