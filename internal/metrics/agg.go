package metrics

import (
	"context"
	"fmt"

	"github.com/AdguardTeam/golibs/container"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Aggregator is the Prometheus-based implementation of the [agg.Metrics]
// interface.
type Aggregator struct {
	// positiveHits and negativeHits count merged-cache hits by entry kind.
	positiveHits prometheus.Counter
	negativeHits prometheus.Counter

	// misses counts merged-cache misses.
	misses prometheus.Counter

	// uniqueIPs is the approximate number of distinct IPs checked since
	// start.
	uniqueIPs prometheus.Gauge
}

// NewAggregator registers the aggregation metrics in reg and returns a
// properly initialized *Aggregator.
func NewAggregator(namespace string, reg prometheus.Registerer) (m *Aggregator, err error) {
	const (
		cacheLookups = "cache_lookups_total"
		uniqueIPs    = "unique_ips"
	)

	lookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:      cacheLookups,
		Subsystem: subsystemAggregator,
		Namespace: namespace,
		Help: "Total number of merged-cache lookups. Label hit is 1 or 0, " +
			"label negative marks negative entries.",
	}, []string{"hit", "negative"})

	m = &Aggregator{
		positiveHits: lookups.WithLabelValues("1", "0"),
		negativeHits: lookups.WithLabelValues("1", "1"),
		misses:       lookups.WithLabelValues("0", "0"),
		uniqueIPs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:      uniqueIPs,
			Subsystem: subsystemAggregator,
			Namespace: namespace,
			Help:      "Approximate number of distinct IPs checked since start.",
		}),
	}

	var errs []error
	collectors := container.KeyValues[string, prometheus.Collector]{{
		Key:   cacheLookups,
		Value: lookups,
	}, {
		Key:   uniqueIPs,
		Value: m.uniqueIPs,
	}}

	for _, c := range collectors {
		err = reg.Register(c.Value)
		if err != nil {
			errs = append(errs, fmt.Errorf("registering metrics %q: %w", c.Key, err))
		}
	}

	if err = errors.Join(errs...); err != nil {
		return nil, err
	}

	return m, nil
}

// IncCacheHit implements the [agg.Metrics] interface for *Aggregator.
func (m *Aggregator) IncCacheHit(_ context.Context, isNegative bool) {
	IncrementCond(isNegative, m.negativeHits, m.positiveHits)
}

// IncCacheMiss implements the [agg.Metrics] interface for *Aggregator.
func (m *Aggregator) IncCacheMiss(_ context.Context) {
	m.misses.Inc()
}

// SetUniqueIPs implements the [agg.Metrics] interface for *Aggregator.
func (m *Aggregator) SetUniqueIPs(_ context.Context, n uint64) {
	m.uniqueIPs.Set(float64(n))
}
