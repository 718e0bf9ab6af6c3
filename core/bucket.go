package core

import (
	"math"
	"sync"
	"time"
)

// Bucket holds the admission state for a single key and implements the
// token bucket algorithm with lazy refill. All methods are thread-safe;
// the bucket's own mutex is what serializes concurrent operations on a key.
type Bucket struct {
	mu           sync.Mutex
	key          string
	capacity     int64
	tokens       float64 // Fractional accumulation between refills
	refillRate   float64
	lastRefillAt time.Time
	blockedUntil time.Time // Zero value means not blocked
	lastActivity time.Time
}

// NewBucket creates a full bucket for key with the given policy.
func NewBucket(key string, cfg Config, now time.Time) *Bucket {
	return &Bucket{
		key:          key,
		capacity:     cfg.Capacity,
		tokens:       float64(cfg.Capacity),
		refillRate:   cfg.RefillRate,
		lastRefillAt: now,
		lastActivity: now,
	}
}

// FromState rebuilds a bucket from a persisted snapshot.
func FromState(s State) *Bucket {
	b := &Bucket{
		key:          s.Key,
		capacity:     s.Capacity,
		tokens:       math.Min(math.Max(s.Tokens, 0), float64(s.Capacity)),
		refillRate:   s.RefillRate,
		lastRefillAt: s.LastRefillAt,
		blockedUntil: s.BlockedUntil,
		lastActivity: s.LastRefillAt,
	}
	return b
}

// Key returns the bucket's immutable identifier.
func (b *Bucket) Key() string {
	return b.key
}

// refill adds tokens based on elapsed time since the last refill,
// capped at capacity. MUST be called with b.mu held.
func (b *Bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefillAt).Seconds()
	if elapsed <= 0 {
		// Callers can present timestamps out of order; a stale one must
		// not rewind the refill clock or the interval gets credited twice.
		return
	}
	b.tokens = math.Min(b.tokens+elapsed*b.refillRate, float64(b.capacity))
	b.lastRefillAt = now
}

// reconfigure applies per-call policy overrides. A capacity shrink clamps
// tokens down to the new ceiling; a grow never tops tokens up.
// MUST be called with b.mu held.
func (b *Bucket) reconfigure(opts CheckOptions) {
	if opts.Capacity != nil && *opts.Capacity != b.capacity {
		b.capacity = *opts.Capacity
		if b.tokens > float64(b.capacity) {
			b.tokens = float64(b.capacity)
		}
	}
	if opts.RefillRate != nil && *opts.RefillRate != b.refillRate {
		b.refillRate = *opts.RefillRate
	}
}

// Check determines whether a request should be admitted now, consuming
// one token when it is. A blocked bucket denies without refilling.
func (b *Bucket) Check(now time.Time, opts CheckOptions) CheckResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastActivity = now
	b.reconfigure(opts)

	if now.Before(b.blockedUntil) {
		return CheckResult{
			Allowed:      false,
			Tokens:       int64(b.tokens),
			Capacity:     b.capacity,
			Reason:       ReasonBlocked,
			RetryAfterMs: b.blockedUntil.Sub(now).Milliseconds(),
		}
	}

	b.refill(now)

	if b.tokens >= 1 {
		b.tokens--
		return CheckResult{
			Allowed:  true,
			Tokens:   int64(b.tokens),
			Capacity: b.capacity,
		}
	}

	// Time until the deficit to one whole token refills
	var retryAfter int64
	if b.refillRate > 0 {
		retryAfter = int64(math.Ceil((1 - b.tokens) / b.refillRate * 1000))
	}
	return CheckResult{
		Allowed:      false,
		Tokens:       int64(b.tokens),
		Capacity:     b.capacity,
		Reason:       ReasonRateLimited,
		RetryAfterMs: retryAfter,
	}
}

// Penalty removes points tokens, clamped at zero. It never touches the
// block window. Returns the remaining tokens, floored.
func (b *Bucket) Penalty(now time.Time, points int64) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastActivity = now
	b.tokens = math.Max(b.tokens-float64(points), 0)
	return int64(b.tokens)
}

// Reward adds points tokens, clamped at capacity. Returns the remaining
// tokens, floored.
func (b *Bucket) Reward(now time.Time, points int64) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastActivity = now
	b.tokens = math.Min(b.tokens+float64(points), float64(b.capacity))
	return int64(b.tokens)
}

// Block denies all requests until now+duration. An existing block is
// overwritten, last writer wins. Returns the new block expiry.
func (b *Bucket) Block(now time.Time, duration time.Duration) time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastActivity = now
	b.blockedUntil = now.Add(duration)
	return b.blockedUntil
}

// Unblock clears any block window. Safe to call on an unblocked bucket.
func (b *Bucket) Unblock(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastActivity = now
	b.blockedUntil = time.Time{}
}

// Reset restores the bucket to full capacity and clears any block.
func (b *Bucket) Reset(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastActivity = now
	b.tokens = float64(b.capacity)
	b.blockedUntil = time.Time{}
	b.lastRefillAt = now
}

// Snapshot refills the bucket and reports its current status.
func (b *Bucket) Snapshot(now time.Time) Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill(now)

	status := Status{
		Key:        b.key,
		Tokens:     int64(b.tokens),
		Capacity:   b.capacity,
		RefillRate: b.refillRate,
	}
	if now.Before(b.blockedUntil) {
		status.IsBlocked = true
		status.BlockedUntil = b.blockedUntil
	}
	return status
}

// State returns the serializable form of the bucket for persistence.
func (b *Bucket) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	return State{
		Key:          b.key,
		Capacity:     b.capacity,
		Tokens:       b.tokens,
		RefillRate:   b.refillRate,
		LastRefillAt: b.lastRefillAt,
		BlockedUntil: b.blockedUntil,
	}
}

// LastActivity reports when the bucket was last touched by an operation.
// Used by the janitor to find idle buckets.
func (b *Bucket) LastActivity() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastActivity
}

// BlockedUntil reports the current block expiry, zero when none is set.
func (b *Bucket) BlockedUntil() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.blockedUntil
}
