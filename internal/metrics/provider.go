package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/AdguardTeam/golibs/container"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Provider is the Prometheus-based implementation of the [provider.Metrics]
// interface.
type Provider struct {
	// requestDuration is a histogram of upstream request durations, labeled
	// by source and outcome.
	requestDuration *prometheus.HistogramVec

	// keysExhausted is a counter of requests that ran out of usable API
	// keys, labeled by source.
	keysExhausted *prometheus.CounterVec
}

// NewProvider registers the reputation-provider metrics in reg and returns a
// properly initialized *Provider.
func NewProvider(namespace string, reg prometheus.Registerer) (m *Provider, err error) {
	const (
		requestDuration = "request_duration_seconds"
		keysExhausted   = "keys_exhausted_total"
	)

	m = &Provider{
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:      requestDuration,
			Subsystem: subsystemProvider,
			Namespace: namespace,
			Help: "Duration of a single upstream provider request. " +
				"Label success is either 1 or 0.",
			Buckets: []float64{0.01, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"source", "success"}),
		keysExhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:      keysExhausted,
			Subsystem: subsystemProvider,
			Namespace: namespace,
			Help:      "Total number of requests refused with every API key exhausted.",
		}, []string{"source"}),
	}

	var errs []error
	collectors := container.KeyValues[string, prometheus.Collector]{{
		Key:   requestDuration,
		Value: m.requestDuration,
	}, {
		Key:   keysExhausted,
		Value: m.keysExhausted,
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

// ObserveRequest implements the [provider.Metrics] interface for *Provider.
func (m *Provider) ObserveRequest(
	_ context.Context,
	source string,
	isSuccess bool,
	dur time.Duration,
) {
	m.requestDuration.WithLabelValues(source, BoolString(isSuccess)).Observe(dur.Seconds())
}

// IncKeysExhausted implements the [provider.Metrics] interface for *Provider.
func (m *Provider) IncKeysExhausted(_ context.Context, source string) {
	m.keysExhausted.WithLabelValues(source).Inc()
}
