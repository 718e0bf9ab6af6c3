package core

import "time"

// Config defines the rate limiting policy for a bucket
type Config struct {
	Capacity   int64   // Maximum tokens (burst size)
	RefillRate float64 // Tokens added per second
}

// Reasons reported when a check is denied.
const (
	ReasonBlocked     = "blocked"
	ReasonRateLimited = "rate_limited"
)

// CheckOptions carries optional per-call policy overrides for Check.
// A nil field leaves the bucket's stored configuration untouched.
type CheckOptions struct {
	Capacity   *int64
	RefillRate *float64
}

// CheckResult contains the result of an admission check
type CheckResult struct {
	Allowed      bool   // Whether the request is allowed
	Tokens       int64  // Tokens remaining, floored to an integer
	Capacity     int64  // Total capacity
	Reason       string // Denial reason, empty when allowed
	RetryAfterMs int64  // Milliseconds until a retry can succeed; 0 when allowed or unknowable
}

// Status is a point-in-time view of a bucket
type Status struct {
	Key          string
	Tokens       int64
	Capacity     int64
	RefillRate   float64
	IsBlocked    bool
	BlockedUntil time.Time // Zero unless currently blocked
}

// State is the serializable form of a bucket, used by snapshot persistence.
type State struct {
	Key          string    `json:"key"`
	Capacity     int64     `json:"capacity"`
	Tokens       float64   `json:"tokens"`
	RefillRate   float64   `json:"refillRate"`
	LastRefillAt time.Time `json:"lastRefillAt"`
	BlockedUntil time.Time `json:"blockedUntil,omitempty"`
}
