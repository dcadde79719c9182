// Package agg contains the per-IP aggregation pipeline: the two-wave
// provider fan-out, the merge of the normalized maps, and the merged-record
// cache.
package agg

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/AdguardTeam/golibs/syncutil"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/axiomhq/hyperloglog"
	"github.com/ssfun/ip-check/internal/errcoll"
	"github.com/ssfun/ip-check/internal/ipc"
	"github.com/ssfun/ip-check/internal/provider"
	"github.com/ssfun/ip-check/internal/remotekv"
)

// Default aggregation parameters.
const (
	// DefaultRequestConcurrency bounds the simultaneous outbound provider
	// requests per IP, so that a single IP cannot monopolize the connection
	// budget.
	DefaultRequestConcurrency = 4

	// NegativeTTL is the lifetime of a cache entry written when every
	// provider failed.
	NegativeTTL = 60 * time.Second
)

// mergedKeyPrefix is the cache-key prefix of merged IP bundles.  Bump the
// version to invalidate all entries.
const mergedKeyPrefix = "v1:merged:"

// Fetcher is the interface of the provider fetcher used by the aggregator.
type Fetcher interface {
	Fetch(ctx context.Context, d *provider.Descriptor, target *provider.Target) (res *ipc.ProviderResult)
}

// type check
var _ Fetcher = (*provider.Fetcher)(nil)

// Aggregator orchestrates the per-IP provider fan-out and owns the merged
// cache.
type Aggregator struct {
	logger   *slog.Logger
	clock    timeutil.Clock
	fetcher  Fetcher
	registry *provider.Registry
	kv       remotekv.Interface
	errColl  errcoll.Interface
	metrics  Metrics

	// uniqueMu protects unique.
	uniqueMu *sync.Mutex
	unique   *hyperloglog.Sketch

	posTTL      time.Duration
	concurrency uint
}

// Config is the configuration structure for [New].  All fields must not be
// empty unless noted otherwise.
type Config struct {
	// Logger is used to log the operation of the aggregator.
	Logger *slog.Logger

	// Clock is used to stamp cache bundles.
	Clock timeutil.Clock

	// Fetcher executes the provider requests.
	Fetcher Fetcher

	// Registry is the table of enabled providers.
	Registry *provider.Registry

	// KV is the merged-record cache.  Its failures are never fatal.
	KV remotekv.Interface

	// ErrColl collects non-critical errors, such as cache failures.
	ErrColl errcoll.Interface

	// Metrics collects the aggregation statistics.
	Metrics Metrics

	// PositiveTTL is the lifetime of a cache entry with at least one
	// successful provider.
	PositiveTTL time.Duration

	// RequestConcurrency bounds the simultaneous provider requests per IP.
	// Zero means [DefaultRequestConcurrency].
	RequestConcurrency uint
}

// New returns a new properly initialized *Aggregator.  c must not be nil.
func New(c *Config) (a *Aggregator) {
	concurrency := c.RequestConcurrency
	if concurrency == 0 {
		concurrency = DefaultRequestConcurrency
	}

	return &Aggregator{
		logger:      c.Logger,
		clock:       c.Clock,
		fetcher:     c.Fetcher,
		registry:    c.Registry,
		kv:          c.KV,
		errColl:     c.ErrColl,
		metrics:     c.Metrics,
		uniqueMu:    &sync.Mutex{},
		unique:      hyperloglog.New14(),
		posTTL:      c.PositiveTTL,
		concurrency: concurrency,
	}
}

// cacheBundle is the JSON shape of a merged cache entry.
type cacheBundle struct {
	CachedAt   time.Time             `json:"cachedAt"`
	Merged     ipc.Map               `json:"merged"`
	ASN        string                `json:"asn,omitempty"`
	Successful []*ipc.ProviderResult `json:"successful"`
	Errors     []*ipc.ProviderError  `json:"errors"`
	IsNegative bool                  `json:"isNegativeCache,omitempty"`
}

// Check aggregates all enabled providers for ip.  asnHint, when non-empty,
// is a pre-known ASN from an upstream edge probe that skips ASN discovery.
// err is non-nil only when ctx is canceled; provider failures are folded
// into the result.
func (a *Aggregator) Check(ctx context.Context, ip, asnHint string) (res *ipc.CheckResult, err error) {
	a.recordUnique(ctx, ip)

	if res = a.fromCache(ctx, ip); res != nil {
		return res, nil
	}

	a.metrics.IncCacheMiss(ctx)

	noKey, keyed, asnDep := a.registry.Partition()

	// Wave 1: every no-key and keyed non-ASN-dependent provider.
	wave1 := make([]*provider.Descriptor, 0, len(noKey)+len(keyed))
	wave1 = append(wave1, noKey...)
	wave1 = append(wave1, keyed...)

	sema := syncutil.NewChanSemaphore(a.concurrency)

	successful, provErrs, err := a.fetchWave(ctx, sema, wave1, &provider.Target{IP: ip})
	if err != nil {
		return nil, err
	}

	merged := ipc.Map{}
	for _, pr := range successful {
		merged.Overlay(pr.Data)
	}

	asn := asnHint
	if asn == "" {
		asn, _ = merged.FirstString("asn", "ASN", "as")
	}

	// Wave 2: ASN-dependent providers, only once the ASN is known.
	if asn != "" && len(asnDep) > 0 {
		succ2, errs2, wErr := a.fetchWave(ctx, sema, asnDep, &provider.Target{IP: ip, ASN: asn})
		if wErr != nil {
			return nil, wErr
		}

		for _, pr := range succ2 {
			merged.Overlay(pr.Data)
		}

		successful = append(successful, succ2...)
		provErrs = append(provErrs, errs2...)
	}

	res = &ipc.CheckResult{
		IP:            ip,
		ASN:           asn,
		Merged:        merged,
		Successful:    successful,
		Errors:        provErrs,
		TotalAPICount: len(successful) + len(provErrs),
	}

	a.persist(ctx, res)

	return res, nil
}

// fetchWave issues every provider of one wave concurrently under the
// semaphore and collects the settled results in completion order.
func (a *Aggregator) fetchWave(
	ctx context.Context,
	sema syncutil.Semaphore,
	wave []*provider.Descriptor,
	target *provider.Target,
) (successful []*ipc.ProviderResult, provErrs []*ipc.ProviderError, err error) {
	resCh := make(chan *ipc.ProviderResult, len(wave))
	for _, d := range wave {
		go func() {
			acqErr := sema.Acquire(ctx)
			if acqErr != nil {
				resCh <- &ipc.ProviderResult{
					Source: d.Name,
					Status: ipc.StatusError,
					Err:    acqErr.Error(),
				}

				return
			}
			defer sema.Release()

			resCh <- a.fetcher.Fetch(ctx, d, target)
		}()
	}

	for range wave {
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case res := <-resCh:
			if res.Status == ipc.StatusSuccess {
				successful = append(successful, res)
			} else {
				provErrs = append(provErrs, &ipc.ProviderError{
					Source: res.Source,
					Err:    res.Err,
				})
			}
		}
	}

	return successful, provErrs, nil
}

// fromCache returns the cached result for ip, nil on a miss.  Cache failures
// degrade to a miss.
func (a *Aggregator) fromCache(ctx context.Context, ip string) (res *ipc.CheckResult) {
	val, ok, err := a.kv.Get(ctx, mergedKeyPrefix+ip)
	if err != nil {
		errcoll.Collect(ctx, a.errColl, a.logger, "merged cache get", err)

		return nil
	} else if !ok {
		return nil
	}

	var b cacheBundle
	err = json.Unmarshal(val, &b)
	if err != nil {
		errcoll.Collect(ctx, a.errColl, a.logger, "merged cache decode", err)

		return nil
	}

	a.metrics.IncCacheHit(ctx, b.IsNegative)

	total := len(b.Successful) + len(b.Errors)

	return &ipc.CheckResult{
		IP:             ip,
		ASN:            b.ASN,
		Merged:         b.Merged,
		Successful:     b.Successful,
		Errors:         b.Errors,
		FromCache:      true,
		CachedAPICount: total,
		TotalAPICount:  total,
	}
}

// persist writes res into the cache: positive TTL when any provider
// succeeded, the short negative TTL when all failed, no write when nothing
// was attempted.  Write failures are collected and swallowed.
func (a *Aggregator) persist(ctx context.Context, res *ipc.CheckResult) {
	var ttl time.Duration
	isNegative := false
	switch {
	case len(res.Successful) > 0:
		ttl = a.posTTL
	case len(res.Errors) > 0:
		ttl = NegativeTTL
		isNegative = true
	default:
		return
	}

	b := &cacheBundle{
		CachedAt:   a.clock.Now(),
		Merged:     res.Merged,
		ASN:        res.ASN,
		Successful: res.Successful,
		Errors:     res.Errors,
		IsNegative: isNegative,
	}

	val, err := json.Marshal(b)
	if err != nil {
		errcoll.Collect(ctx, a.errColl, a.logger, "merged cache encode", err)

		return
	}

	err = a.kv.Set(ctx, mergedKeyPrefix+res.IP, val, ttl)
	if err != nil {
		errcoll.Collect(ctx, a.errColl, a.logger, "merged cache set", err)
	}
}

// recordUnique adds ip to the approximate unique-IP sketch and publishes the
// estimate.
func (a *Aggregator) recordUnique(ctx context.Context, ip string) {
	a.uniqueMu.Lock()
	defer a.uniqueMu.Unlock()

	a.unique.Insert([]byte(ip))
	a.metrics.SetUniqueIPs(ctx, a.unique.Estimate())
}

// UniqueIPs returns the approximate number of distinct IPs checked since the
// process started.
func (a *Aggregator) UniqueIPs() (n uint64) {
	a.uniqueMu.Lock()
	defer a.uniqueMu.Unlock()

	return a.unique.Estimate()
}
