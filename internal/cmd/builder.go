package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/netutil"
	"github.com/AdguardTeam/golibs/osutil"
	"github.com/AdguardTeam/golibs/redisutil"
	"github.com/AdguardTeam/golibs/service"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/ssfun/ip-check/internal/agg"
	"github.com/ssfun/ip-check/internal/aisvc"
	"github.com/ssfun/ip-check/internal/debugsvc"
	"github.com/ssfun/ip-check/internal/derive"
	"github.com/ssfun/ip-check/internal/dohres"
	"github.com/ssfun/ip-check/internal/errcoll"
	"github.com/ssfun/ip-check/internal/ipchttp"
	"github.com/ssfun/ip-check/internal/keypool"
	"github.com/ssfun/ip-check/internal/metrics"
	"github.com/ssfun/ip-check/internal/provider"
	"github.com/ssfun/ip-check/internal/remotekv"
	"github.com/ssfun/ip-check/internal/remotekv/rediskv"
	"github.com/ssfun/ip-check/internal/websvc"
)

// Timeout constants.
const (
	shutdownTimeout = 5 * time.Second

	redisConnLifetime = 1 * time.Hour
	redisIdleTimeout  = 5 * time.Minute
)

// Redis pool limits.
const (
	redisMaxActive = 10
	redisMaxIdle   = 3
)

// resolverCacheSize is the number of resolutions kept by the DoH resolver.
const resolverCacheSize = 1024

// builderConfig contains the common dependencies for the builder.
type builderConfig struct {
	// envs contains the environment variables.  It must be valid and must not
	// be nil.
	envs *environment

	// baseLogger is used to create loggers for other entities.  It must not
	// be nil.
	baseLogger *slog.Logger

	// errColl is the error collector for the created entities.  It must not
	// be nil.
	errColl errcoll.Interface
}

// builder contains the logic of building the services of the IP checking
// application.
type builder struct {
	// The fields below are initialized immediately on construction.  Keep
	// them sorted.

	baseLogger     *slog.Logger
	clock          timeutil.Clock
	env            *environment
	errColl        errcoll.Interface
	logger         *slog.Logger
	promRegisterer prometheus.Registerer
	sigHdlr        *service.SignalHandler

	// The fields below are initialized later by calling the builder's
	// methods.  Keep them sorted.

	aggregator *agg.Aggregator
	ai         *aisvc.Service
	deriver    *derive.Deriver
	fetcher    *provider.Fetcher
	kv         remotekv.Interface
	pools      *keypool.Registry
	providers  *provider.Registry
	resolver   *dohres.Resolver
	webSvc     *websvc.Service
}

// newBuilder returns a new properly initialized *builder.  c must not be nil.
func newBuilder(c *builderConfig) (b *builder) {
	return &builder{
		baseLogger:     c.baseLogger,
		clock:          timeutil.SystemClock{},
		env:            c.envs,
		errColl:        c.errColl,
		logger:         c.baseLogger.With(slogutil.KeyPrefix, "builder"),
		promRegisterer: prometheus.DefaultRegisterer,
		sigHdlr: service.NewSignalHandler(&service.SignalHandlerConfig{
			Logger:          c.baseLogger.With(slogutil.KeyPrefix, service.SignalHandlerPrefix),
			ShutdownTimeout: shutdownTimeout,
		}),
	}
}

// initKV initializes the aggregation cache: Redis when REDIS_HOST is set and
// the in-process cache otherwise.
func (b *builder) initKV(ctx context.Context) (err error) {
	if b.env.RedisHost == "" {
		b.kv = remotekv.NewCache(&remotekv.CacheConfig{
			CleanupInterval: 1 * time.Minute,
		})

		b.logger.DebugContext(ctx, "initialized kv", "type", "memory")

		return nil
	}

	dialer, err := redisutil.NewDefaultDialer(&redisutil.DefaultDialerConfig{
		Addr: &netutil.HostPort{
			Host: b.env.RedisHost,
			Port: b.env.RedisPort,
		},
		DBIndex: b.env.RedisDB,
	})
	if err != nil {
		return fmt.Errorf("initializing redis dialer: %w", err)
	}

	poolMtrc, err := metrics.NewRedisKV(metrics.Namespace, b.promRegisterer)
	if err != nil {
		return fmt.Errorf("registering redis metrics: %w", err)
	}

	pool, err := redisutil.NewDefaultPool(&redisutil.DefaultPoolConfig{
		Logger:          b.baseLogger.With(slogutil.KeyPrefix, "redis_pool"),
		Dialer:          dialer,
		Metrics:         poolMtrc,
		MaxConnLifetime: redisConnLifetime,
		IdleTimeout:     redisIdleTimeout,
		MaxActive:       redisMaxActive,
		MaxIdle:         redisMaxIdle,
		Wait:            true,
	})
	if err != nil {
		return fmt.Errorf("initializing redis pool: %w", err)
	}

	b.kv = remotekv.NewKeyNamespace(&remotekv.KeyNamespaceConfig{
		KV: rediskv.NewRedisKV(&rediskv.RedisKVConfig{
			Pool: pool,
		}),
		Prefix: b.env.RedisKeyPrefix + ":",
	})

	b.logger.DebugContext(ctx, "initialized kv", "type", "redis")

	return nil
}

// initProviders initializes the credential pools, the provider registry, and
// the fetcher.
func (b *builder) initProviders(ctx context.Context) (err error) {
	b.pools = keypool.NewRegistry(&keypool.RegistryConfig{
		Logger: b.baseLogger.With(slogutil.KeyPrefix, "keypool"),
		Clock:  b.clock,
	})

	b.providers, err = provider.NewRegistry(&provider.RegistryConfig{
		Pools: b.pools,
		Credentials: &provider.Credentials{
			IPQS:        b.env.IPQSKeys,
			AbuseIPDB:   b.env.AbuseIPDBKeys,
			IP2Location: b.env.IP2LocationKeys,
			IPInfo:      b.env.IPInfoTokens,
			Cloudflare:  b.env.CloudflareTokens,
		},
	})
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return err
	}

	provMtrc, err := metrics.NewProvider(metrics.Namespace, b.promRegisterer)
	if err != nil {
		return fmt.Errorf("registering provider metrics: %w", err)
	}

	b.fetcher = provider.NewFetcher(&provider.FetcherConfig{
		Logger: b.baseLogger.With(slogutil.KeyPrefix, "fetcher"),
		Client: ipchttp.NewClient(&ipchttp.ClientConfig{
			Timeout: b.env.apiTimeout(),
		}),
		Metrics:     provMtrc,
		MaxRespSize: b.env.ProviderMaxRespSize,
	})

	b.logger.DebugContext(ctx, "initialized providers")

	return nil
}

// initAggregator initializes the aggregator and the deriver.  It must be
// called after [builder.initKV] and [builder.initProviders].
func (b *builder) initAggregator(ctx context.Context) (err error) {
	aggMtrc, err := metrics.NewAggregator(metrics.Namespace, b.promRegisterer)
	if err != nil {
		return fmt.Errorf("registering aggregator metrics: %w", err)
	}

	b.aggregator = agg.New(&agg.Config{
		Logger:      b.baseLogger.With(slogutil.KeyPrefix, "agg"),
		Clock:       b.clock,
		Fetcher:     b.fetcher,
		Registry:    b.providers,
		KV:          b.kv,
		ErrColl:     b.errColl,
		Metrics:     aggMtrc,
		PositiveTTL: b.env.cacheTTL(),
	})

	b.deriver = derive.New(&derive.Config{
		Clock: b.clock,
	})

	b.logger.DebugContext(ctx, "initialized aggregator")

	return nil
}

// initAI initializes the optional LLM summarizer.  When no API key is
// configured, the summarizer stays nil and the analysis endpoint reports
// unavailability.  It must be called after [builder.initKV].
func (b *builder) initAI(ctx context.Context) (err error) {
	if b.env.LLMAPIKey == "" {
		b.logger.DebugContext(ctx, "ai summarizer disabled")

		return nil
	}

	b.ai = aisvc.New(&aisvc.Config{
		Logger: b.baseLogger.With(slogutil.KeyPrefix, "aisvc"),
		Client: ipchttp.NewClient(&ipchttp.ClientConfig{
			// LLM completions take much longer than provider lookups.
			Timeout: 3 * b.env.apiTimeout(),
		}),
		KV:       b.kv,
		ErrColl:  b.errColl,
		BaseURL:  &b.env.LLMBaseURL.URL,
		APIKey:   b.env.LLMAPIKey,
		Model:    b.env.LLMModel,
		CacheTTL: b.env.cacheTTL(),
	})

	b.logger.DebugContext(ctx, "initialized ai summarizer", "model", b.env.LLMModel)

	return nil
}

// initResolver initializes the DoH resolver.
func (b *builder) initResolver(ctx context.Context) (err error) {
	b.resolver = dohres.New(&dohres.Config{
		Logger: b.baseLogger.With(slogutil.KeyPrefix, "dohres"),
		Client: ipchttp.NewClient(&ipchttp.ClientConfig{
			Timeout: b.env.apiTimeout(),
		}),
		Upstream:  &b.env.DoHURL.URL,
		CacheSize: resolverCacheSize,
	})

	b.logger.DebugContext(ctx, "initialized resolver", "upstream", b.env.DoHURL)

	return nil
}

// initWeb initializes and starts the public HTTP API.  It must be called
// after all the other init methods.
func (b *builder) initWeb(ctx context.Context) (err error) {
	webMtrc, err := metrics.NewWebSvc(metrics.Namespace, b.promRegisterer)
	if err != nil {
		return fmt.Errorf("registering websvc metrics: %w", err)
	}

	b.webSvc = websvc.New(&websvc.Config{
		Logger:     b.baseLogger.With(slogutil.KeyPrefix, "websvc"),
		Clock:      b.clock,
		ErrColl:    b.errColl,
		Metrics:    webMtrc,
		Aggregator: b.aggregator,
		Deriver:    b.deriver,
		AI:         b.ai,
		Resolver:   b.resolver,
		Pools:      b.pools,
		KV:         b.kv,
		Hosts: &websvc.Hosts{
			IPv4: b.env.IPv4Host,
			IPv6: b.env.IPv6Host,
			CFv4: b.env.CFv4Host,
			CFv6: b.env.CFv6Host,
			HE:   b.env.HEHost,
		},
		Environment:         b.env.Environment,
		DebugAPIKey:         b.env.DebugAPIKey,
		AllowedOrigins:      b.env.AllowedOrigins,
		ListenAddr:          b.env.listenAddr(),
		Timeout:             b.env.apiTimeout(),
		FrontendTimeout:     time.Duration(b.env.FrontendTimeoutMs) * time.Millisecond,
		ConnectivityTimeout: time.Duration(b.env.ConnectivityTimeoutMs) * time.Millisecond,
		RateLimitRPS:        b.env.RateLimitRPS,
		RateLimitBurst:      b.env.RateLimitBurst,
	})

	// The web service is considered critical, so its Start method panics
	// instead of returning an error.
	_ = b.webSvc.Start(context.WithoutCancel(ctx))

	b.sigHdlr.AddService(b.webSvc)

	b.logger.DebugContext(ctx, "initialized web")

	return nil
}

// mustInitDebugSvc initializes and starts the debug HTTP service.
func (b *builder) mustInitDebugSvc(ctx context.Context) {
	debugSvc := debugsvc.New(&debugsvc.Config{
		Logger:         b.baseLogger.With(slogutil.KeyPrefix, "debugsvc"),
		APIAddr:        b.env.DebugAddr,
		PprofAddr:      b.env.DebugAddr,
		PrometheusAddr: b.env.DebugAddr,
	})

	// The debug HTTP service is considered critical, so its Start method
	// panics instead of returning an error.
	_ = debugSvc.Start(context.WithoutCancel(ctx))

	b.sigHdlr.AddService(debugSvc)

	b.logger.DebugContext(ctx, "initialized debug")
}

// handleSignals blocks and processes signals from the OS.  status is
// [osutil.ExitCodeSuccess] on success and [osutil.ExitCodeFailure] on error.
//
// handleSignals must not be called concurrently with any other methods.
func (b *builder) handleSignals(ctx context.Context) (code osutil.ExitCode) {
	return b.sigHdlr.Handle(ctx)
}
