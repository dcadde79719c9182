// Package metrics contains the prometheus metrics of the IP checking
// service.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace is the default namespace of the prometheus metrics.
const Namespace = "ipcheck"

// Subsystem names.
const (
	subsystemApplication = "app"
	subsystemAggregator  = "agg"
	subsystemProvider    = "provider"
	subsystemStorage     = "storage"
	subsystemWebSvc      = "websvc"
)

// SetUpGauge registers and sets the gauge signaling that the server has been
// started.
func SetUpGauge(
	reg prometheus.Registerer,
	version,
	buildtime,
	branch,
	revision,
	goversion string,
) (err error) {
	upGauge := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name:      "up",
			Namespace: Namespace,
			Subsystem: subsystemApplication,
			Help: `A metric with a constant '1' value labeled by ` +
				`version and goversion from which the program was built.`,
			ConstLabels: prometheus.Labels{
				"version":   version,
				"buildtime": buildtime,
				"branch":    branch,
				"revision":  revision,
				"goversion": goversion,
			},
		},
	)

	err = reg.Register(upGauge)
	if err != nil {
		return fmt.Errorf("registering metrics %q: %w", "up", err)
	}

	upGauge.Set(1)

	return nil
}

// BoolString returns "1" if cond is true and "0" otherwise.
func BoolString(cond bool) (s string) {
	if cond {
		return "1"
	}

	return "0"
}

// IncrementCond increments trueCounter if cond is true and falseCounter
// otherwise.
func IncrementCond(cond bool, trueCounter, falseCounter prometheus.Counter) {
	if cond {
		trueCounter.Inc()
	} else {
		falseCounter.Inc()
	}
}
