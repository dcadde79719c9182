package websvc

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/AdguardTeam/golibs/httphdr"
	"github.com/ssfun/ip-check/internal/ipccache"
	"golang.org/x/time/rate"
)

// Extra header names.
const (
	hdrDebugKey     = "X-Debug-Key"
	hdrForwardedFor = "X-Forwarded-For"

	hdrAllowMethods = "Access-Control-Allow-Methods"
	hdrAllowHeaders = "Access-Control-Allow-Headers"
)

// Default rate-limit parameters.
const (
	DefaultRateLimitRPS   = 10
	DefaultRateLimitBurst = 20

	// limiterCacheSize bounds the number of tracked clients.
	limiterCacheSize = 4096
)

// corsMiddleware answers preflight requests and adds the CORS headers for
// allowed origins.
func (svc *Service) corsMiddleware(h http.Handler) (wrapped http.Handler) {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get(httphdr.Origin)
		if origin != "" && svc.originAllowed(origin) {
			hdr := w.Header()
			hdr.Set(httphdr.AccessControlAllowOrigin, origin)
			hdr.Set(hdrAllowMethods, "GET, POST, OPTIONS")
			hdr.Set(hdrAllowHeaders, "Content-Type, "+hdrDebugKey)
			hdr.Add(httphdr.Vary, httphdr.Origin)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)

			return
		}

		h.ServeHTTP(w, r)
	})
}

// originAllowed reports whether origin matches any configured pattern.  A
// "*.example.com" pattern matches the bare domain and one-label subdomains.
func (svc *Service) originAllowed(origin string) (ok bool) {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := strings.ToLower(u.Hostname())
	for _, pat := range svc.origins {
		if originMatches(pat, host, origin) {
			return true
		}
	}

	return false
}

// originMatches reports whether one pattern matches the origin.
func originMatches(pat, host, origin string) (ok bool) {
	pat = strings.ToLower(strings.TrimSpace(pat))
	switch {
	case pat == "*":
		return true
	case strings.HasPrefix(pat, "*."):
		domain := pat[len("*."):]
		if host == domain {
			return true
		}

		sub, rest, found := strings.Cut(host, ".")

		return found && sub != "" && rest == domain
	default:
		// Full-origin patterns compare against the whole origin, bare hosts
		// against the hostname.
		return pat == origin || pat == host
	}
}

// clientLimiter is the per-client token-bucket rate limiter.
type clientLimiter struct {
	cache ipccache.Interface[string, *rate.Limiter]
	rps   rate.Limit
	burst int
}

// clientLimiterConfig is the configuration of a client limiter.
type clientLimiterConfig struct {
	rps   float64
	burst int
}

// newClientLimiter returns a new properly initialized *clientLimiter.
func newClientLimiter(c *clientLimiterConfig) (l *clientLimiter) {
	rps := c.rps
	if rps <= 0 {
		rps = DefaultRateLimitRPS
	}

	burst := c.burst
	if burst <= 0 {
		burst = DefaultRateLimitBurst
	}

	return &clientLimiter{
		cache: ipccache.NewLRU[string, *rate.Limiter](&ipccache.LRUConfig{
			Size: limiterCacheSize,
		}),
		rps:   rate.Limit(rps),
		burst: burst,
	}
}

// allow reports whether a request from client may proceed.
func (l *clientLimiter) allow(client string) (ok bool) {
	lim, found := l.cache.Get(client)
	if !found {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.cache.Set(client, lim)
	}

	return lim.Allow()
}

// retryAfterSec is the suggested pause, in seconds, after a refused request.
func (l *clientLimiter) retryAfterSec() (sec int) {
	sec = int(1 / float64(l.rps))
	if sec < 1 {
		sec = 1
	}

	return sec
}

// rateLimitMiddleware refuses clients that exceed the token bucket.  Health
// endpoints are exempt, so orchestration probes cannot be starved out.
func (svc *Service) rateLimitMiddleware(h http.Handler) (wrapped http.Handler) {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/health") {
			h.ServeHTTP(w, r)

			return
		}

		if svc.limiter.allow(clientIP(r)) {
			h.ServeHTTP(w, r)

			return
		}

		ctx := r.Context()
		svc.metrics.IncRateLimited(ctx)
		svc.writeJSON(ctx, w, http.StatusTooManyRequests, &apiError{
			Code:       CodeTooManyRequests,
			Err:        "rate limit exceeded",
			RetryAfter: svc.limiter.retryAfterSec(),
		})
	})
}

// metricsMiddleware records the duration of every routed request.
func (svc *Service) metricsMiddleware(h http.Handler) (wrapped http.Handler) {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		h.ServeHTTP(w, r)

		pattern := r.Pattern
		if pattern == "" {
			pattern = "UNMATCHED"
		}

		svc.metrics.ObserveRequest(r.Context(), pattern, time.Since(start).Seconds())
	})
}

// requireDebugKey gates privileged handlers behind the debug API key.
func (svc *Service) requireDebugKey(h http.HandlerFunc) (wrapped http.HandlerFunc) {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc.debugAPIKey == "" || r.Header.Get(hdrDebugKey) != svc.debugAPIKey {
			svc.writeError(ctx, w, http.StatusUnauthorized, CodeUnauthorized, "invalid debug key")

			return
		}

		h(w, r)
	}
}
