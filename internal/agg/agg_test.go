package agg_test

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/AdguardTeam/golibs/testutil/faketime"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/ssfun/ip-check/internal/agg"
	"github.com/ssfun/ip-check/internal/ipc"
	"github.com/ssfun/ip-check/internal/ipctest"
	"github.com/ssfun/ip-check/internal/keypool"
	"github.com/ssfun/ip-check/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// type check
var _ agg.Fetcher = (*ipctest.Fetcher)(nil)

// Common test constants.
const (
	testTimeout = 5 * time.Second

	testIP = "203.0.113.7"

	testPositiveTTL = 900 * time.Second
)

// testLogger is the common logger for tests.
var testLogger = slogutil.NewDiscardLogger()

// testNow is the common fixed time for tests.
var testNow = time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

// newTestRegistry returns a registry with all six providers enabled.
func newTestRegistry(tb testing.TB) (r *provider.Registry) {
	tb.Helper()

	base, err := url.Parse("http://provider.example")
	require.NoError(tb, err)

	baseURLs := map[ipc.Source]*url.URL{}
	for _, src := range []ipc.Source{
		ipc.SourceIPGuide,
		ipc.SourceIPInfo,
		ipc.SourceIPQS,
		ipc.SourceAbuseIPDB,
		ipc.SourceIP2Location,
		ipc.SourceCloudflareASN,
	} {
		baseURLs[src] = base
	}

	r, err = provider.NewRegistry(&provider.RegistryConfig{
		Pools: keypool.NewRegistry(&keypool.RegistryConfig{
			Logger: testLogger,
			Clock:  timeutil.SystemClock{},
		}),
		Credentials: &provider.Credentials{
			IPQS:        []string{"k"},
			AbuseIPDB:   []string{"k"},
			IP2Location: []string{"k"},
			IPInfo:      []string{"k"},
			Cloudflare:  []string{"k"},
		},
		BaseURLs: baseURLs,
	})
	require.NoError(tb, err)

	return r
}

// memKV is a trivial in-memory KV recording the TTL of the last write.
type memKV struct {
	mu      sync.Mutex
	entries map[string][]byte
	lastTTL time.Duration
}

// newMemKV returns an empty *memKV.
func newMemKV() (kv *memKV) {
	return &memKV{
		entries: map[string][]byte{},
	}
}

// Get implements the [remotekv.Interface] interface for *memKV.
func (kv *memKV) Get(_ context.Context, key string) (val []byte, ok bool, err error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	val, ok = kv.entries[key]

	return val, ok, nil
}

// Set implements the [remotekv.Interface] interface for *memKV.
func (kv *memKV) Set(_ context.Context, key string, val []byte, ttl time.Duration) (err error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	kv.entries[key] = val
	kv.lastTTL = ttl

	return nil
}

// successResult returns a successful result for d with data.
func successResult(d *provider.Descriptor, data ipc.Map) (res *ipc.ProviderResult) {
	return &ipc.ProviderResult{
		Source: d.Name,
		Status: ipc.StatusSuccess,
		Data:   data,
	}
}

// errorResult returns a failed result for d with msg.
func errorResult(d *provider.Descriptor, msg string) (res *ipc.ProviderResult) {
	return &ipc.ProviderResult{
		Source: d.Name,
		Status: ipc.StatusError,
		Err:    msg,
	}
}

// newTestAggregator returns an aggregator over the fakes.
func newTestAggregator(
	tb testing.TB,
	f agg.Fetcher,
	kv *memKV,
) (a *agg.Aggregator) {
	tb.Helper()

	return agg.New(&agg.Config{
		Logger: testLogger,
		Clock: &faketime.Clock{
			OnNow: func() (t time.Time) { return testNow },
		},
		Fetcher:     f,
		Registry:    newTestRegistry(tb),
		KV:          kv,
		ErrColl:     ipctest.NewErrorCollector(),
		Metrics:     agg.EmptyMetrics{},
		PositiveTTL: testPositiveTTL,
	})
}

func TestAggregator_Check_waves(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var cfTarget *provider.Target

	f := &ipctest.Fetcher{
		OnFetch: func(
			_ context.Context,
			d *provider.Descriptor,
			target *provider.Target,
		) (res *ipc.ProviderResult) {
			switch d.Name {
			case ipc.SourceIPGuide:
				return successResult(d, ipc.Map{
					"asn":                 "AS64496",
					"ipguide_asn_country": "DE",
				})
			case ipc.SourceCloudflareASN:
				mu.Lock()
				defer mu.Unlock()

				cfTarget = target

				return successResult(d, ipc.Map{"cloudflare_asn_name": "EXAMPLE-NET"})
			default:
				return successResult(d, ipc.Map{"country_code": "DE"})
			}
		},
	}

	a := newTestAggregator(t, f, newMemKV())
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	res, err := a.Check(ctx, testIP, "")
	require.NoError(t, err)

	assert.Equal(t, "AS64496", res.ASN)
	assert.Len(t, res.Successful, 6)
	assert.Empty(t, res.Errors)
	assert.Equal(t, 6, res.TotalAPICount)
	assert.False(t, res.FromCache)

	name, _ := res.Merged.String("cloudflare_asn_name")
	assert.Equal(t, "EXAMPLE-NET", name)

	mu.Lock()
	defer mu.Unlock()

	require.NotNil(t, cfTarget)
	assert.Equal(t, "AS64496", cfTarget.ASN)
}

func TestAggregator_Check_noASNSkipsSecondWave(t *testing.T) {
	t.Parallel()

	f := &ipctest.Fetcher{
		OnFetch: func(
			_ context.Context,
			d *provider.Descriptor,
			_ *provider.Target,
		) (res *ipc.ProviderResult) {
			if d.Name == ipc.SourceCloudflareASN {
				t.Error("ASN-dependent provider called without an ASN")
			}

			// No provider reports an ASN.
			return successResult(d, ipc.Map{"country_code": "FR"})
		},
	}

	a := newTestAggregator(t, f, newMemKV())
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	res, err := a.Check(ctx, testIP, "")
	require.NoError(t, err)

	assert.Empty(t, res.ASN)
	assert.Len(t, res.Successful, 5)
}

func TestAggregator_Check_asnHint(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var cfASN string

	f := &ipctest.Fetcher{
		OnFetch: func(
			_ context.Context,
			d *provider.Descriptor,
			target *provider.Target,
		) (res *ipc.ProviderResult) {
			if d.Name == ipc.SourceCloudflareASN {
				mu.Lock()
				defer mu.Unlock()

				cfASN = target.ASN
			}

			return successResult(d, ipc.Map{})
		},
	}

	a := newTestAggregator(t, f, newMemKV())
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	res, err := a.Check(ctx, testIP, "AS13335")
	require.NoError(t, err)
	assert.Equal(t, "AS13335", res.ASN)

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, "AS13335", cfASN)
}

func TestAggregator_Check_cacheRoundTrip(t *testing.T) {
	t.Parallel()

	kv := newMemKV()

	var calls int
	var mu sync.Mutex

	f := &ipctest.Fetcher{
		OnFetch: func(
			_ context.Context,
			d *provider.Descriptor,
			_ *provider.Target,
		) (res *ipc.ProviderResult) {
			mu.Lock()
			calls++
			mu.Unlock()

			return successResult(d, ipc.Map{"asn": "AS64496"})
		},
	}

	a := newTestAggregator(t, f, kv)
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	first, err := a.Check(ctx, testIP, "")
	require.NoError(t, err)
	require.False(t, first.FromCache)
	assert.Equal(t, testPositiveTTL, kv.lastTTL)

	mu.Lock()
	callsAfterFirst := calls
	mu.Unlock()

	second, err := a.Check(ctx, testIP, "")
	require.NoError(t, err)

	assert.True(t, second.FromCache)
	assert.Equal(t, first.ASN, second.ASN)
	assert.Equal(t, second.TotalAPICount, second.CachedAPICount)
	assert.Len(t, second.Successful, len(first.Successful))

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, callsAfterFirst, calls)
}

func TestAggregator_Check_negativeCache(t *testing.T) {
	t.Parallel()

	kv := newMemKV()

	f := &ipctest.Fetcher{
		OnFetch: func(
			_ context.Context,
			d *provider.Descriptor,
			_ *provider.Target,
		) (res *ipc.ProviderResult) {
			return errorResult(d, "upstream down")
		},
	}

	a := newTestAggregator(t, f, kv)
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	res, err := a.Check(ctx, testIP, "")
	require.NoError(t, err)

	assert.Empty(t, res.Successful)
	assert.Len(t, res.Errors, 5)
	assert.Equal(t, agg.NegativeTTL, kv.lastTTL)

	val, ok, err := kv.Get(ctx, "v1:merged:"+testIP)
	require.NoError(t, err)
	require.True(t, ok)

	var bundle struct {
		IsNegative bool `json:"isNegativeCache"`
	}
	require.NoError(t, json.Unmarshal(val, &bundle))
	assert.True(t, bundle.IsNegative)

	// The short-lived negative entry still serves repeat lookups.
	cached, err := a.Check(ctx, testIP, "")
	require.NoError(t, err)
	assert.True(t, cached.FromCache)
	assert.Len(t, cached.Errors, 5)
}

func TestAggregator_Check_cacheFailOpen(t *testing.T) {
	t.Parallel()

	var collected int
	var mu sync.Mutex

	errColl := &ipctest.ErrorCollector{
		OnCollect: func(_ context.Context, _ error) {
			mu.Lock()
			defer mu.Unlock()

			collected++
		},
	}

	kv := &ipctest.RemoteKV{
		OnGet: func(_ context.Context, _ string) (val []byte, ok bool, err error) {
			return nil, false, assert.AnError
		},
		OnSet: func(_ context.Context, _ string, _ []byte, _ time.Duration) (err error) {
			return assert.AnError
		},
	}

	f := &ipctest.Fetcher{
		OnFetch: func(
			_ context.Context,
			d *provider.Descriptor,
			_ *provider.Target,
		) (res *ipc.ProviderResult) {
			return successResult(d, ipc.Map{"country_code": "NL"})
		},
	}

	a := agg.New(&agg.Config{
		Logger: testLogger,
		Clock: &faketime.Clock{
			OnNow: func() (t time.Time) { return testNow },
		},
		Fetcher:     f,
		Registry:    newTestRegistry(t),
		KV:          kv,
		ErrColl:     errColl,
		Metrics:     agg.EmptyMetrics{},
		PositiveTTL: testPositiveTTL,
	})

	ctx := testutil.ContextWithTimeout(t, testTimeout)

	res, err := a.Check(ctx, testIP, "")
	require.NoError(t, err)

	assert.False(t, res.FromCache)
	assert.Len(t, res.Successful, 5)

	mu.Lock()
	defer mu.Unlock()

	// One Get failure, one Set failure.
	assert.Equal(t, 2, collected)
}

func TestAggregator_Check_mergeLastWriteWins(t *testing.T) {
	t.Parallel()

	f := &ipctest.Fetcher{
		OnFetch: func(
			_ context.Context,
			d *provider.Descriptor,
			_ *provider.Target,
		) (res *ipc.ProviderResult) {
			return successResult(d, ipc.Map{
				"country_code": string(d.Name),
			})
		},
	}

	a := newTestAggregator(t, f, newMemKV())
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	res, err := a.Check(ctx, testIP, "AS1")
	require.NoError(t, err)

	// Whatever provider finished last wrote the key; the value must be one
	// of the participating sources.
	got, ok := res.Merged.String("country_code")
	require.True(t, ok)
	assert.Contains(t, res.SourceIDs(), ipc.Source(got))
}

func TestAggregator_UniqueIPs(t *testing.T) {
	t.Parallel()

	f := &ipctest.Fetcher{
		OnFetch: func(
			_ context.Context,
			d *provider.Descriptor,
			_ *provider.Target,
		) (res *ipc.ProviderResult) {
			return successResult(d, ipc.Map{})
		},
	}

	a := newTestAggregator(t, f, newMemKV())
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	for _, ip := range []string{"192.0.2.1", "192.0.2.2", "192.0.2.1"} {
		_, err := a.Check(ctx, ip, "AS1")
		require.NoError(t, err)
	}

	assert.InDelta(t, 2, a.UniqueIPs(), 1)
}
