package websvc

import "context"

// Metrics is an interface that is used for the collection of the HTTP API
// statistics.
type Metrics interface {
	// IncRateLimited increments the counter of refused requests.
	IncRateLimited(ctx context.Context)

	// ObserveRequest records the duration of one handled request, in seconds,
	// along the route pattern.
	ObserveRequest(ctx context.Context, pattern string, durSec float64)

	// IncStreamEvent increments the counter of emitted SSE events of the
	// given type.
	IncStreamEvent(ctx context.Context, typ string)
}

// EmptyMetrics is the implementation of the [Metrics] interface that does
// nothing.
type EmptyMetrics struct{}

// type check
var _ Metrics = EmptyMetrics{}

// IncRateLimited implements the [Metrics] interface for EmptyMetrics.
func (EmptyMetrics) IncRateLimited(_ context.Context) {}

// ObserveRequest implements the [Metrics] interface for EmptyMetrics.
func (EmptyMetrics) ObserveRequest(_ context.Context, _ string, _ float64) {}

// IncStreamEvent implements the [Metrics] interface for EmptyMetrics.
func (EmptyMetrics) IncStreamEvent(_ context.Context, _ string) {}
