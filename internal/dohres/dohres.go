// Package dohres resolves domain names to IP addresses over DNS-over-HTTPS
// using the binary wireformat.
package dohres

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/netutil"
	"github.com/c2h5oh/datasize"
	"github.com/miekg/dns"
	"github.com/ssfun/ip-check/internal/ipc"
	"github.com/ssfun/ip-check/internal/ipccache"
	"github.com/ssfun/ip-check/internal/ipchttp"
)

// Resolution parameters.
const (
	// DefaultCacheSize is the default number of cached resolutions.
	DefaultCacheSize = 1024

	// defaultCacheTTL bounds how long a resolution is reused.
	defaultCacheTTL = 5 * time.Minute

	// maxRespSize bounds a DoH response body.
	maxRespSize = 64 * datasize.KB
)

// ErrUnresolvable is returned when the domain has no A or AAAA records.
const ErrUnresolvable errors.Error = "domain did not resolve to any address"

// ResolvedIP is one address of a resolution.
type ResolvedIP struct {
	// IP is the textual address.
	IP string `json:"ip"`

	// Type is either [ipc.FamilyIPv4] or [ipc.FamilyIPv6].
	Type ipc.AddrFamily `json:"type"`
}

// Resolver resolves domains over DoH with a small LRU cache in front.
type Resolver struct {
	logger   *slog.Logger
	client   *ipchttp.Client
	cache    ipccache.Interface[string, []*ResolvedIP]
	upstream *url.URL
	cacheTTL time.Duration
}

// Config is the configuration structure for [New].  All fields must not be
// empty.
type Config struct {
	// Logger is used to log the operation of the resolver.
	Logger *slog.Logger

	// Client is the HTTP client for DoH requests.
	Client *ipchttp.Client

	// Upstream is the DoH endpoint URL.
	Upstream *url.URL

	// CacheSize is the number of cached resolutions.
	CacheSize int
}

// New returns a new properly initialized *Resolver.  c must not be nil.
func New(c *Config) (r *Resolver) {
	return &Resolver{
		logger:   c.Logger,
		client:   c.Client,
		cache:    ipccache.NewLRU[string, []*ResolvedIP](&ipccache.LRUConfig{Size: c.CacheSize}),
		upstream: c.Upstream,
		cacheTTL: defaultCacheTTL,
	}
}

// Resolve returns the A and AAAA addresses of domain.  It returns
// [ErrUnresolvable] when the domain exists but has no address records.
func (r *Resolver) Resolve(ctx context.Context, domain string) (ips []*ResolvedIP, err error) {
	defer func() { err = errors.Annotate(err, "resolving %q: %w", domain) }()

	err = netutil.ValidateDomainName(domain)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}

	fqdn := dns.Fqdn(domain)
	if cached, ok := r.cache.Get(fqdn); ok {
		return cached, nil
	}

	v4, err := r.query(ctx, fqdn, dns.TypeA)
	if err != nil {
		return nil, err
	}

	v6, err := r.query(ctx, fqdn, dns.TypeAAAA)
	if err != nil {
		return nil, err
	}

	ips = append(v4, v6...)
	if len(ips) == 0 {
		return nil, ErrUnresolvable
	}

	r.logger.DebugContext(ctx, "resolved", "domain", domain, "addrs", len(ips))
	r.cache.SetWithExpire(fqdn, ips, r.cacheTTL)

	return ips, nil
}

// query performs one wireformat DoH exchange for fqdn and qtype and extracts
// the addresses from the answer.
func (r *Resolver) query(ctx context.Context, fqdn string, qtype uint16) (ips []*ResolvedIP, err error) {
	req := (&dns.Msg{}).SetQuestion(fqdn, qtype)
	packed, err := req.Pack()
	if err != nil {
		return nil, fmt.Errorf("packing %s query: %w", dns.TypeToString[qtype], err)
	}

	resp, err := r.client.Post(
		ctx,
		r.upstream,
		nil,
		ipchttp.HdrValApplicationDNSMessage,
		bytes.NewReader(packed),
	)
	if err != nil {
		return nil, fmt.Errorf("requesting %s: %w", dns.TypeToString[qtype], err)
	}

	body, err := ipchttp.ReadLimited(resp, maxRespSize)
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", dns.TypeToString[qtype], err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &ipchttp.StatusError{
			ServerName: "doh",
			Body:       string(body),
			Expected:   http.StatusOK,
			Got:        resp.StatusCode,
		}
	}

	msg := &dns.Msg{}
	err = msg.Unpack(body)
	if err != nil {
		return nil, fmt.Errorf("unpacking %s response: %w", dns.TypeToString[qtype], err)
	}

	for _, rr := range msg.Answer {
		switch a := rr.(type) {
		case *dns.A:
			ips = append(ips, &ResolvedIP{
				IP:   a.A.String(),
				Type: ipc.FamilyIPv4,
			})
		case *dns.AAAA:
			ips = append(ips, &ResolvedIP{
				IP:   a.AAAA.String(),
				Type: ipc.FamilyIPv6,
			})
		}
	}

	return ips, nil
}
