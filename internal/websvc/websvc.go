// Package websvc contains the public HTTP API of the IP checking service.
package websvc

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/service"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/ssfun/ip-check/internal/agg"
	"github.com/ssfun/ip-check/internal/aisvc"
	"github.com/ssfun/ip-check/internal/batch"
	"github.com/ssfun/ip-check/internal/derive"
	"github.com/ssfun/ip-check/internal/dohres"
	"github.com/ssfun/ip-check/internal/errcoll"
	"github.com/ssfun/ip-check/internal/ipc"
	"github.com/ssfun/ip-check/internal/keypool"
	"github.com/ssfun/ip-check/internal/remotekv"
)

// Environment names.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Hosts are the optional connectivity-probe host names surfaced by the
// config endpoint.  Empty strings render as JSON null.
type Hosts struct {
	IPv4 string
	IPv6 string
	CFv4 string
	CFv6 string
	HE   string
}

// Service is the public HTTP API.
type Service struct {
	logger  *slog.Logger
	clock   timeutil.Clock
	errColl errcoll.Interface
	metrics Metrics

	aggregator *agg.Aggregator
	deriver    *derive.Deriver
	scheduler  *batch.Scheduler
	ai         *aisvc.Service
	resolver   *dohres.Resolver
	pools      *keypool.Registry
	kv         remotekv.Interface

	limiter *clientLimiter
	routes  http.Handler
	server  *http.Server

	hosts       *Hosts
	environment string
	debugAPIKey string
	origins     []string

	frontendTimeout     time.Duration
	connectivityTimeout time.Duration
}

// Config is the configuration structure for [New].  All fields must not be
// empty unless noted otherwise.
type Config struct {
	// Logger is used to log the operation of the service.
	Logger *slog.Logger

	// Clock is used for health timestamps.
	Clock timeutil.Clock

	// ErrColl collects unhandled errors.
	ErrColl errcoll.Interface

	// Metrics collects the HTTP statistics.
	Metrics Metrics

	// Aggregator runs per-IP checks.
	Aggregator *agg.Aggregator

	// Deriver turns aggregation results into derived records.
	Deriver *derive.Deriver

	// AI is the optional LLM summarizer.  When it is not enabled, the
	// analysis endpoint answers 503.
	AI *aisvc.Service

	// Resolver resolves domains for the resolve and polymorphic check
	// endpoints.
	Resolver *dohres.Resolver

	// Pools is the credential-pool registry exposed by the debug endpoint.
	Pools *keypool.Registry

	// KV is the cache, probed by the health endpoints.
	KV remotekv.Interface

	// Hosts are the connectivity-probe hosts.  May hold empty fields.
	Hosts *Hosts

	// Environment is [EnvDevelopment] or [EnvProduction].  Error details are
	// only included in development.
	Environment string

	// DebugAPIKey protects privileged endpoints.  Empty disables them.
	DebugAPIKey string

	// AllowedOrigins are the CORS origin patterns, possibly with "*.domain"
	// wildcards.
	AllowedOrigins []string

	// ListenAddr is the address to serve the API on.
	ListenAddr netip.AddrPort

	// Timeout is the timeout for server reads and writes.  Streaming
	// responses disable the write timeout per request.
	Timeout time.Duration

	// FrontendTimeout and ConnectivityTimeout are surfaced by the config
	// endpoint.
	FrontendTimeout     time.Duration
	ConnectivityTimeout time.Duration

	// RateLimitRPS and RateLimitBurst configure the per-client rate limiter.
	RateLimitRPS   float64
	RateLimitBurst int
}

// New returns a new properly initialized *Service.  c must not be nil.
func New(c *Config) (svc *Service) {
	svc = &Service{
		logger:     c.Logger,
		clock:      c.Clock,
		errColl:    c.ErrColl,
		metrics:    c.Metrics,
		aggregator: c.Aggregator,
		deriver:    c.Deriver,
		ai:         c.AI,
		resolver:   c.Resolver,
		pools:      c.Pools,
		kv:         c.KV,
		limiter: newClientLimiter(&clientLimiterConfig{
			rps:   c.RateLimitRPS,
			burst: c.RateLimitBurst,
		}),
		hosts:               c.Hosts,
		environment:         c.Environment,
		debugAPIKey:         c.DebugAPIKey,
		origins:             c.AllowedOrigins,
		frontendTimeout:     c.FrontendTimeout,
		connectivityTimeout: c.ConnectivityTimeout,
	}

	svc.scheduler = batch.New(&batch.Config{
		Logger:  c.Logger.With("subsvc", "batch"),
		Checker: svc,
	})

	svc.routes = svc.handler()

	svc.server = &http.Server{
		Addr:              c.ListenAddr.String(),
		Handler:           svc,
		ErrorLog:          slog.NewLogLogger(c.Logger.Handler(), slog.LevelDebug),
		ReadTimeout:       c.Timeout,
		WriteTimeout:      c.Timeout,
		IdleTimeout:       c.Timeout,
		ReadHeaderTimeout: c.Timeout,
	}

	return svc
}

// type check
var _ batch.IPChecker = (*Service)(nil)

// CheckDerived implements the [batch.IPChecker] interface for *Service.  It
// runs the full aggregation and derivation pipeline for one IP.
func (svc *Service) CheckDerived(
	ctx context.Context,
	ip string,
	edge *ipc.EdgeSnapshot,
) (rec *ipc.Derived, err error) {
	asnHint := ""
	if edge != nil {
		asnHint = edge.ASN
	}

	res, err := svc.aggregator.Check(ctx, ip, asnHint)
	if err != nil {
		return nil, fmt.Errorf("checking %s: %w", ip, err)
	}

	return svc.deriver.Derive(res, edge), nil
}

// handler builds the full route table with the middleware chain applied.
func (svc *Service) handler() (h http.Handler) {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/config", svc.handleConfig)
	mux.HandleFunc("GET /api/check", svc.handleCheck)
	mux.HandleFunc("POST /api/ai-analysis", svc.handleAIAnalysis)
	mux.HandleFunc("GET /api/resolve", svc.handleResolve)

	mux.HandleFunc("POST /api/check-exits", svc.handleCheckExits)
	mux.HandleFunc("POST /api/check-exits/prepare", svc.handlePrepareExits)
	mux.HandleFunc("POST /api/check-exits/detail", svc.handleExitDetail)
	mux.HandleFunc("POST /api/check-exits/batch-stream", svc.handleExitBatchStream)

	mux.HandleFunc("POST /api/check-ip/detail", svc.handleIPDetail)
	mux.HandleFunc("POST /api/check-ip/batch-stream", svc.handleIPBatchStream)

	mux.HandleFunc("GET /api/health", svc.handleHealth)
	mux.HandleFunc("GET /api/health/live", svc.handleHealthLive)
	mux.HandleFunc("GET /api/health/ready", svc.handleHealthReady)

	mux.HandleFunc("GET /api/debug/keypool", svc.requireDebugKey(svc.handleDebugKeypool))

	h = svc.recoverMiddleware(mux)
	h = svc.metricsMiddleware(h)
	h = svc.rateLimitMiddleware(h)

	return svc.corsMiddleware(h)
}

// type check
var _ http.Handler = (*Service)(nil)

// ServeHTTP implements the [http.Handler] interface for *Service.
func (svc *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	svc.routes.ServeHTTP(w, r)
}

// type check
var _ service.Interface = (*Service)(nil)

// Start implements the [service.Interface] interface for *Service.  It
// starts serving but does not wait for the listener to actually go online.
// err is always nil; if the listener fails, the process panics.
func (svc *Service) Start(ctx context.Context) (err error) {
	svc.logger.InfoContext(ctx, "listening", "addr", svc.server.Addr)

	go func() {
		srvErr := svc.server.ListenAndServe()
		if !errors.Is(srvErr, http.ErrServerClosed) {
			panic(fmt.Errorf("websvc: listening on %s: %w", svc.server.Addr, srvErr))
		}
	}()

	return nil
}

// Shutdown implements the [service.Interface] interface for *Service.
func (svc *Service) Shutdown(ctx context.Context) (err error) {
	err = svc.server.Shutdown(ctx)
	if err != nil {
		return fmt.Errorf("websvc: shutdown: %w", err)
	}

	svc.logger.InfoContext(ctx, "server is shutdown")

	return nil
}

// clientIP extracts the client address of r: the first entry of the
// X-Forwarded-For header when present, the connection peer otherwise.
func clientIP(r *http.Request) (ip string) {
	if fwd := r.Header.Get(hdrForwardedFor); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		first = strings.TrimSpace(first)
		if ipc.IsIP(first) {
			return first
		}
	}

	addrPort, err := netip.ParseAddrPort(r.RemoteAddr)
	if err != nil {
		return ""
	}

	return addrPort.Addr().String()
}
