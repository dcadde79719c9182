package metrics

import (
	"context"
	"fmt"

	"github.com/AdguardTeam/golibs/container"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// WebSvc is the Prometheus-based implementation of the [websvc.Metrics]
// interface.
type WebSvc struct {
	// requestDuration is a histogram of handled request durations, labeled
	// by route pattern.
	requestDuration *prometheus.HistogramVec

	// rateLimited counts refused requests.
	rateLimited prometheus.Counter

	// streamEvents counts emitted SSE events by type.
	streamEvents *prometheus.CounterVec
}

// NewWebSvc registers the HTTP API metrics in reg and returns a properly
// initialized *WebSvc.
func NewWebSvc(namespace string, reg prometheus.Registerer) (m *WebSvc, err error) {
	const (
		requestDuration = "request_duration_seconds"
		rateLimited     = "rate_limited_total"
		streamEvents    = "stream_events_total"
	)

	m = &WebSvc{
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:      requestDuration,
			Subsystem: subsystemWebSvc,
			Namespace: namespace,
			Help:      "Duration of a handled HTTP request by route pattern.",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"pattern"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name:      rateLimited,
			Subsystem: subsystemWebSvc,
			Namespace: namespace,
			Help:      "Total number of requests refused by the rate limiter.",
		}),
		streamEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:      streamEvents,
			Subsystem: subsystemWebSvc,
			Namespace: namespace,
			Help:      "Total number of emitted SSE events by type.",
		}, []string{"type"}),
	}

	var errs []error
	collectors := container.KeyValues[string, prometheus.Collector]{{
		Key:   requestDuration,
		Value: m.requestDuration,
	}, {
		Key:   rateLimited,
		Value: m.rateLimited,
	}, {
		Key:   streamEvents,
		Value: m.streamEvents,
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

// IncRateLimited implements the [websvc.Metrics] interface for *WebSvc.
func (m *WebSvc) IncRateLimited(_ context.Context) {
	m.rateLimited.Inc()
}

// ObserveRequest implements the [websvc.Metrics] interface for *WebSvc.
func (m *WebSvc) ObserveRequest(_ context.Context, pattern string, durSec float64) {
	m.requestDuration.WithLabelValues(pattern).Observe(durSec)
}

// IncStreamEvent implements the [websvc.Metrics] interface for *WebSvc.
func (m *WebSvc) IncStreamEvent(_ context.Context, typ string) {
	m.streamEvents.WithLabelValues(typ).Inc()
}
