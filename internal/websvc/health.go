package websvc

import (
	"net/http"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
)

// Dependency states and aggregate statuses of the health endpoint.
const (
	depOK          = "ok"
	depError       = "error"
	depUnavailable = "unavailable"

	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"
)

// healthProbeKey is the cache key used to probe reachability.  The probe
// only reads, so it never pollutes the cache.
const healthProbeKey = "v1:health:probe"

// healthResponse is the JSON shape of the full health endpoint.
type healthResponse struct {
	Dependencies map[string]string `json:"dependencies"`
	Status       string            `json:"status"`
	UniqueIPs    uint64            `json:"uniqueIps"`
	Timestamp    time.Time         `json:"timestamp"`
}

// probeCache reports the cache dependency state.
func (svc *Service) probeCache(r *http.Request) (state string) {
	ctx := r.Context()
	_, _, err := svc.kv.Get(ctx, healthProbeKey)
	if err != nil {
		svc.logger.WarnContext(ctx, "cache probe", slogutil.KeyError, err)

		return depError
	}

	return depOK
}

// probeLLM reports the LLM dependency state.  A disabled summarizer is
// unavailable, not an error.
func (svc *Service) probeLLM() (state string) {
	if !svc.ai.Enabled() {
		return depUnavailable
	}

	return depOK
}

// probeProviders reports the credential-pool dependency state: error when
// every key of some provider is disabled, ok otherwise.
func (svc *Service) probeProviders() (state string) {
	pools := svc.pools.Status()
	if len(pools) == 0 {
		return depUnavailable
	}

	for _, keys := range pools {
		healthy := 0
		for _, k := range keys {
			if k.IsHealthy {
				healthy++
			}
		}

		if healthy == 0 {
			return depError
		}
	}

	return depOK
}

// aggregateStatus folds dependency states into the overall status.  Cache
// failures only degrade, since the service works fail-open without it.
func aggregateStatus(deps map[string]string) (status string) {
	if deps["providers"] == depError {
		return statusUnhealthy
	}

	for _, state := range deps {
		if state != depOK {
			return statusDegraded
		}
	}

	return statusHealthy
}

// handleHealth serves the full per-dependency health report.
func (svc *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	deps := map[string]string{
		"cache":     svc.probeCache(r),
		"llm":       svc.probeLLM(),
		"providers": svc.probeProviders(),
	}

	svc.writeJSON(r.Context(), w, http.StatusOK, &healthResponse{
		Dependencies: deps,
		Status:       aggregateStatus(deps),
		UniqueIPs:    svc.aggregator.UniqueIPs(),
		Timestamp:    svc.clock.Now(),
	})
}

// liveResponse is the JSON shape of the liveness and readiness answers.
type liveResponse struct {
	Status string `json:"status"`
}

// handleHealthLive answers as soon as the process serves HTTP at all.
func (svc *Service) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	svc.writeJSON(r.Context(), w, http.StatusOK, &liveResponse{Status: depOK})
}

// handleHealthReady answers 503 until the cache is reachable.
func (svc *Service) handleHealthReady(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if svc.probeCache(r) != depOK {
		svc.writeError(ctx, w, http.StatusServiceUnavailable, CodeServiceUnavailable, "cache unreachable")

		return
	}

	svc.writeJSON(ctx, w, http.StatusOK, &liveResponse{Status: depOK})
}
