package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus holds the Prometheus instruments mirroring the collector.
type Prometheus struct {
	Requests prometheus.Counter
	Allowed  prometheus.Counter
	Blocked  prometheus.Counter
}

// NewPrometheus registers the engine instruments with reg. When trackedKeys
// is non-nil, a gauge reporting the registry size is registered as well.
func NewPrometheus(reg prometheus.Registerer, trackedKeys func() int) *Prometheus {
	factory := promauto.With(reg)

	p := &Prometheus{
		Requests: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tokengate",
			Subsystem: "engine",
			Name:      "requests_total",
			Help:      "Total number of admission checks",
		}),
		Allowed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tokengate",
			Subsystem: "engine",
			Name:      "allowed_total",
			Help:      "Total number of allowed checks",
		}),
		Blocked: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tokengate",
			Subsystem: "engine",
			Name:      "blocked_total",
			Help:      "Total number of denied checks",
		}),
	}

	if trackedKeys != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "tokengate",
			Subsystem: "engine",
			Name:      "keys_tracked",
			Help:      "Number of keys currently tracked by the registry",
		}, func() float64 {
			return float64(trackedKeys())
		})
	}

	return p
}

// ObserveCheck increments the instruments for one admission decision.
func (p *Prometheus) ObserveCheck(allowed bool) {
	p.Requests.Inc()
	if allowed {
		p.Allowed.Inc()
	} else {
		p.Blocked.Inc()
	}
}
