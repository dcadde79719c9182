package agg

import "context"

// Metrics is an interface that is used for the collection of the
// aggregation statistics.
type Metrics interface {
	// IncCacheHit increments the number of merged-cache hits.
	IncCacheHit(ctx context.Context, isNegative bool)

	// IncCacheMiss increments the number of merged-cache misses.
	IncCacheMiss(ctx context.Context)

	// SetUniqueIPs sets the approximate number of distinct IPs checked.
	SetUniqueIPs(ctx context.Context, n uint64)
}

// EmptyMetrics is the implementation of the [Metrics] interface that does
// nothing.
type EmptyMetrics struct{}

// type check
var _ Metrics = EmptyMetrics{}

// IncCacheHit implements the [Metrics] interface for EmptyMetrics.
func (EmptyMetrics) IncCacheHit(_ context.Context, _ bool) {}

// IncCacheMiss implements the [Metrics] interface for EmptyMetrics.
func (EmptyMetrics) IncCacheMiss(_ context.Context) {}

// SetUniqueIPs implements the [Metrics] interface for EmptyMetrics.
func (EmptyMetrics) SetUniqueIPs(_ context.Context, _ uint64) {}
