package prom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/IvanBrykalov/scopecache/scope"
)

// Adapter implements scope.Metrics and exports Prometheus counters/gauges.
// Safe for concurrent use; all Prometheus metric types are goroutine-safe.
//
// Use one Adapter per scoper and tell them apart with const labels
// (e.g. {"scope": "ui"}), since the sessions gauge is set, not summed.
type Adapter struct {
	leases   *prometheus.CounterVec
	releases prometheus.Counter
	discards *prometheus.CounterVec
	resolves *prometheus.CounterVec
	sessions prometheus.Gauge
}

// New constructs a Prometheus metrics adapter.
//   - reg:          registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:      Prometheus namespace and subsystem
//   - constLabels:  static labels applied to all metrics (may be nil)
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &Adapter{
		leases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "pool_leases_total",
			Help:        "Scope caches leased, by origin (reused or fresh)",
			ConstLabels: constLabels,
		}, []string{"origin"}),
		releases: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "pool_releases_total",
			Help:        "Scope caches cleared and returned to the pool",
			ConstLabels: constLabels,
		}),
		discards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "pool_discards_total",
			Help:        "Released scope caches not pooled, by reason",
			ConstLabels: constLabels,
		}, []string{"reason"}),
		resolves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "resolves_total",
			Help:        "Scoped lookups by result (hit or created)",
			ConstLabels: constLabels,
		}, []string{"result"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "sessions",
			Help:        "Live sessions in the registry",
			ConstLabels: constLabels,
		}),
	}
	reg.MustRegister(a.leases, a.releases, a.discards, a.resolves, a.sessions)
	return a
}

// Lease counts a leased cache.
func (a *Adapter) Lease(reused bool) {
	if reused {
		a.leases.WithLabelValues("reused").Inc()
		return
	}
	a.leases.WithLabelValues("fresh").Inc()
}

// Release counts a cache returned to the pool.
func (a *Adapter) Release() { a.releases.Inc() }

// Discard counts a dropped cache with a reason label.
func (a *Adapter) Discard(r scope.DiscardReason) {
	a.discards.WithLabelValues(r.String()).Inc()
}

// Resolve counts a scoped lookup.
func (a *Adapter) Resolve(hit bool) {
	if hit {
		a.resolves.WithLabelValues("hit").Inc()
		return
	}
	a.resolves.WithLabelValues("created").Inc()
}

// Sessions sets the live sessions gauge.
func (a *Adapter) Sessions(n int) { a.sessions.Set(float64(n)) }

// Compile-time check: ensure Adapter implements scope.Metrics.
var _ scope.Metrics = (*Adapter)(nil)
