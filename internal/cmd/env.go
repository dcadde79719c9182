package cmd

import (
	"fmt"
	"net"
	"net/netip"
	"os"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/netutil/urlutil"
	"github.com/AdguardTeam/golibs/validate"
	"github.com/c2h5oh/datasize"
	"github.com/caarlos0/env/v7"
	"github.com/getsentry/sentry-go"
	"github.com/ssfun/ip-check/internal/errcoll"
	"github.com/ssfun/ip-check/internal/version"
	"github.com/ssfun/ip-check/internal/websvc"
)

// environment represents the configuration that is kept in the environment.
type environment struct {
	DoHURL     *urlutil.URL `env:"DOH_URL" envDefault:"https://cloudflare-dns.com/dns-query"`
	LLMBaseURL *urlutil.URL `env:"LLM_BASE_URL"`

	AllowedOrigins   []string `env:"ALLOWED_ORIGINS" envSeparator:","`
	AbuseIPDBKeys    []string `env:"ABUSEIPDB_KEY" envSeparator:","`
	CloudflareTokens []string `env:"CLOUDFLARE_API_TOKEN" envSeparator:","`
	IP2LocationKeys  []string `env:"IP2LOCATION_KEY" envSeparator:","`
	IPInfoTokens     []string `env:"IPINFO_TOKEN" envSeparator:","`
	IPQSKeys         []string `env:"IPQS_KEY" envSeparator:","`

	CFv4Host       string `env:"CFV4_HOST"`
	CFv6Host       string `env:"CFV6_HOST"`
	DebugAddr      string `env:"DEBUG_ADDR" envDefault:"127.0.0.1:8181"`
	DebugAPIKey    string `env:"DEBUG_API_KEY"`
	Environment    string `env:"ENVIRONMENT" envDefault:"production"`
	HEHost         string `env:"HE_HOST"`
	IPv4Host       string `env:"IPV4_HOST"`
	IPv6Host       string `env:"IPV6_HOST"`
	LLMAPIKey      string `env:"LLM_API_KEY"`
	LLMModel       string `env:"LLM_MODEL" envDefault:"gpt-3.5-turbo"`
	LogFormat      string `env:"LOG_FORMAT" envDefault:"text"`
	RedisHost      string `env:"REDIS_HOST"`
	RedisKeyPrefix string `env:"REDIS_KEY_PREFIX" envDefault:"ipcheck"`
	SentryDSN      string `env:"SENTRY_DSN" envDefault:"stderr"`

	ListenAddr net.IP `env:"LISTEN_ADDR" envDefault:"127.0.0.1"`

	ProviderMaxRespSize datasize.ByteSize `env:"PROVIDER_MAX_RESP_SIZE" envDefault:"1MB"`

	RateLimitRPS float64 `env:"RATE_LIMIT_RPS" envDefault:"10"`

	APITimeoutMs          uint `env:"API_TIMEOUT_MS" envDefault:"5000"`
	CacheTTLSeconds       uint `env:"CACHE_TTL_SECONDS" envDefault:"900"`
	ConnectivityTimeoutMs uint `env:"CONNECTIVITY_TIMEOUT_MS" envDefault:"5000"`
	FrontendTimeoutMs     uint `env:"FRONTEND_TIMEOUT_MS" envDefault:"5000"`

	RateLimitBurst int `env:"RATE_LIMIT_BURST" envDefault:"20"`

	ListenPort uint16 `env:"LISTEN_PORT" envDefault:"8080"`
	RedisPort  uint16 `env:"REDIS_PORT" envDefault:"6379"`

	// RedisDB is parsed as uint8, since that is the full range of database
	// indexes Redis supports.
	RedisDB uint8 `env:"REDIS_DB" envDefault:"0"`

	Verbosity uint8 `env:"VERBOSE" envDefault:"0"`

	LogTimestamp strictBool `env:"LOG_TIMESTAMP" envDefault:"1"`
}

// parseEnvironment reads the configuration.
func parseEnvironment() (envs *environment, err error) {
	envs = &environment{}
	err = env.Parse(envs)
	if err != nil {
		return nil, fmt.Errorf("parsing environments: %w", err)
	}

	return envs, nil
}

// type check
var _ validate.Interface = (*environment)(nil)

// Validate implements the [validate.Interface] interface for *environment.
func (envs *environment) Validate() (err error) {
	errs := []error{
		validate.Positive("RATE_LIMIT_RPS", envs.RateLimitRPS),
		validate.Positive("RATE_LIMIT_BURST", envs.RateLimitBurst),
	}

	switch envs.Environment {
	case websvc.EnvDevelopment, websvc.EnvProduction:
		// Go on.
	default:
		errs = append(errs, fmt.Errorf(
			"ENVIRONMENT: %w: %q, supported: %q, %q",
			errors.ErrBadEnumValue,
			envs.Environment,
			websvc.EnvDevelopment,
			websvc.EnvProduction,
		))
	}

	err = urlutil.ValidateHTTPURL(&envs.DoHURL.URL)
	if err != nil {
		errs = append(errs, fmt.Errorf("DOH_URL: %w", err))
	}

	if envs.LLMAPIKey != "" {
		if envs.LLMBaseURL == nil {
			errs = append(errs, fmt.Errorf("LLM_BASE_URL: %w", errors.ErrNoValue))
		} else if err = urlutil.ValidateHTTPURL(&envs.LLMBaseURL.URL); err != nil {
			errs = append(errs, fmt.Errorf("LLM_BASE_URL: %w", err))
		}
	}

	_, err = slogutil.NewFormat(envs.LogFormat)
	if err != nil {
		errs = append(errs, fmt.Errorf("LOG_FORMAT: %w", err))
	}

	_, err = slogutil.VerbosityToLevel(envs.Verbosity)
	if err != nil {
		errs = append(errs, fmt.Errorf("VERBOSE: %w", err))
	}

	return errors.Join(errs...)
}

// apiTimeout returns the per-provider request timeout.  Values below one
// second are raised to it, since the two-wave fan-out needs room for at
// least two sequential calls.
func (envs *environment) apiTimeout() (d time.Duration) {
	const minTimeout = 1000

	ms := envs.APITimeoutMs
	if ms < minTimeout {
		ms = minTimeout
	}

	return time.Duration(ms) * time.Millisecond
}

// cacheTTL returns the lifetime of a cached positive aggregation.  Values
// below one minute fall back to the default, since such short lifetimes
// defeat the cache.
func (envs *environment) cacheTTL() (d time.Duration) {
	const (
		minTTL     = 60
		defaultTTL = 900
	)

	secs := envs.CacheTTLSeconds
	if secs < minTTL {
		secs = defaultTTL
	}

	return time.Duration(secs) * time.Second
}

// listenAddr returns the public API listen address.
func (envs *environment) listenAddr() (addrPort netip.AddrPort) {
	addr, _ := netip.AddrFromSlice(envs.ListenAddr)

	return netip.AddrPortFrom(addr.Unmap(), envs.ListenPort)
}

// buildErrColl builds and returns an error collector from environment.
func (envs *environment) buildErrColl() (errColl errcoll.Interface, err error) {
	dsn := envs.SentryDSN
	if dsn == "stderr" {
		return errcoll.NewWriterErrorCollector(os.Stderr), nil
	}

	cli, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:              dsn,
		AttachStacktrace: true,
		Release:          version.Version(),
	})
	if err != nil {
		return nil, err
	}

	return errcoll.NewSentryErrorCollector(cli), nil
}

// strictBool is a type for booleans that are parsed from the environment more
// strictly than the usual bool.  It only accepts "0" and "1" as valid values.
type strictBool bool

// UnmarshalText implements the encoding.TextUnmarshaler interface for
// *strictBool.
func (sb *strictBool) UnmarshalText(b []byte) (err error) {
	if len(b) == 1 {
		switch b[0] {
		case '0':
			*sb = false

			return nil
		case '1':
			*sb = true

			return nil
		default:
			// Go on and return an error.
		}
	}

	return fmt.Errorf("invalid value %q, supported: %q, %q", b, "0", "1")
}
