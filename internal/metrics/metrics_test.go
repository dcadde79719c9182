package metrics_test

import (
	"github.com/ssfun/ip-check/internal/agg"
	"github.com/ssfun/ip-check/internal/metrics"
	"github.com/ssfun/ip-check/internal/provider"
	"github.com/ssfun/ip-check/internal/websvc"
)

// type check
var (
	_ agg.Metrics      = (*metrics.Aggregator)(nil)
	_ provider.Metrics = (*metrics.Provider)(nil)
	_ websvc.Metrics   = (*metrics.WebSvc)(nil)
)
