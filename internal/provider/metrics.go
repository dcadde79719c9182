package provider

import (
	"context"
	"time"
)

// Metrics is an interface that is used for the collection of the provider
// request statistics.
type Metrics interface {
	// ObserveRequest records one provider request with its duration.
	ObserveRequest(ctx context.Context, source string, isSuccess bool, dur time.Duration)

	// IncKeysExhausted increments the number of requests that ran out of
	// usable API keys.
	IncKeysExhausted(ctx context.Context, source string)
}

// EmptyMetrics is the implementation of the [Metrics] interface that does
// nothing.
type EmptyMetrics struct{}

// type check
var _ Metrics = EmptyMetrics{}

// ObserveRequest implements the [Metrics] interface for EmptyMetrics.
func (EmptyMetrics) ObserveRequest(_ context.Context, _ string, _ bool, _ time.Duration) {}

// IncKeysExhausted implements the [Metrics] interface for EmptyMetrics.
func (EmptyMetrics) IncKeysExhausted(_ context.Context, _ string) {}
