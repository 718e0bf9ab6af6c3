// Package metrics tracks process-wide admission statistics.
package metrics

import "sync/atomic"

// Snapshot represents a point-in-time view of the counters
type Snapshot struct {
	TotalRequests   int64   `json:"totalRequests"`
	AllowedRequests int64   `json:"allowedRequests"`
	BlockedRequests int64   `json:"blockedRequests"`
	SuccessRate     float64 `json:"successRate"`
}

// Collector tracks admission decisions with atomic counters. Counters are
// monotonic within a process lifetime; only check operations feed them.
type Collector struct {
	totalRequests   atomic.Int64
	allowedRequests atomic.Int64
	blockedRequests atomic.Int64

	prom *Prometheus
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithPrometheus mirrors every recorded check into Prometheus counters.
func WithPrometheus(p *Prometheus) CollectorOption {
	return func(c *Collector) {
		c.prom = p
	}
}

// NewCollector creates a new collector with all counters at zero.
func NewCollector(opts ...CollectorOption) *Collector {
	c := &Collector{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RecordCheck records one admission decision.
func (c *Collector) RecordCheck(allowed bool) {
	c.totalRequests.Add(1)
	if allowed {
		c.allowedRequests.Add(1)
	} else {
		c.blockedRequests.Add(1)
	}

	if c.prom != nil {
		c.prom.ObserveCheck(allowed)
	}
}

// GetSnapshot returns a snapshot of current counters. It is eventually
// consistent with concurrent RecordCheck calls, never decreasing.
func (c *Collector) GetSnapshot() Snapshot {
	total := c.totalRequests.Load()
	allowed := c.allowedRequests.Load()

	var successRate float64
	if total > 0 {
		successRate = float64(allowed) / float64(total) * 100
	}

	return Snapshot{
		TotalRequests:   total,
		AllowedRequests: allowed,
		BlockedRequests: c.blockedRequests.Load(),
		SuccessRate:     successRate,
	}
}
