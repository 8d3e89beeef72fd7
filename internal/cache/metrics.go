package cache

import (
	"github.com/prometheus/client_golang/prometheus"
)

// RegisterMetrics exposes the hot tier statistics of t under namespace.
// The collectors read t on every scrape, so no extra bookkeeping happens on
// the request path.
func RegisterMetrics(reg prometheus.Registerer, namespace string, t *Tiered) error {
	collectors := []prometheus.Collector{
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hot",
			Name:      "hits_total",
			Help:      "Reads served from the in-memory LRU tier",
		}, func() float64 { return float64(t.hits.Load()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hot",
			Name:      "misses_total",
			Help:      "Reads that fell through to the next tier",
		}, func() float64 { return float64(t.misses.Load()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hot",
			Name:      "evictions_total",
			Help:      "Entries evicted from the in-memory LRU tier",
		}, func() float64 { return float64(t.evictions.Load()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hot",
			Name:      "entries",
			Help:      "Entries currently held by the in-memory LRU tier",
		}, func() float64 { return float64(t.hot.Len()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hot",
			Name:      "capacity",
			Help:      "Maximum entries of the in-memory LRU tier",
		}, func() float64 { return float64(t.hot.Cap()) }),
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
