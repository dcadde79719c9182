package provider_test

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/c2h5oh/datasize"
	"github.com/ssfun/ip-check/internal/ipc"
	"github.com/ssfun/ip-check/internal/ipchttp"
	"github.com/ssfun/ip-check/internal/keypool"
	"github.com/ssfun/ip-check/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Common test constants.
const (
	testTimeout = 5 * time.Second

	testIP = "8.8.8.8"
)

// testLogger is the common logger for tests.
var testLogger = slogutil.NewDiscardLogger()

// newTestRegistry returns a registry with every provider pointed at base.
func newTestRegistry(tb testing.TB, base *url.URL, creds *provider.Credentials) (r *provider.Registry) {
	tb.Helper()

	pools := keypool.NewRegistry(&keypool.RegistryConfig{
		Logger: testLogger,
		Clock:  timeutil.SystemClock{},
	})

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

	r, err := provider.NewRegistry(&provider.RegistryConfig{
		Pools:       pools,
		Credentials: creds,
		BaseURLs:    baseURLs,
	})
	require.NoError(tb, err)

	return r
}

// newTestFetcher returns a fetcher with a short timeout.
func newTestFetcher(tb testing.TB) (f *provider.Fetcher) {
	tb.Helper()

	return provider.NewFetcher(&provider.FetcherConfig{
		Logger: testLogger,
		Client: ipchttp.NewClient(&ipchttp.ClientConfig{
			Timeout: testTimeout,
		}),
		Metrics:     provider.EmptyMetrics{},
		MaxRespSize: 1 * datasize.MB,
	})
}

// mustParseURL is a helper that parses a URL or fails the test.
func mustParseURL(tb testing.TB, s string) (u *url.URL) {
	tb.Helper()

	u, err := url.Parse(s)
	require.NoError(tb, err)

	return u
}

func TestNewRegistry_partition(t *testing.T) {
	t.Parallel()

	base := mustParseURL(t, "http://provider.example")

	testCases := []struct {
		creds      *provider.Credentials
		name       string
		wantNoKey  int
		wantKeyed  int
		wantASNDep int
	}{{
		creds:      &provider.Credentials{},
		name:       "no_credentials",
		wantNoKey:  1,
		wantKeyed:  0,
		wantASNDep: 0,
	}, {
		creds: &provider.Credentials{
			IPQS:   []string{"k1"},
			IPInfo: []string{"t1"},
		},
		name:       "some_credentials",
		wantNoKey:  1,
		wantKeyed:  2,
		wantASNDep: 0,
	}, {
		creds: &provider.Credentials{
			IPQS:        []string{"k1", "k2"},
			AbuseIPDB:   []string{"a1"},
			IP2Location: []string{"l1"},
			IPInfo:      []string{"t1"},
			Cloudflare:  []string{"c1"},
		},
		name:       "all_credentials",
		wantNoKey:  1,
		wantKeyed:  4,
		wantASNDep: 1,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			r := newTestRegistry(t, base, tc.creds)

			noKey, keyed, asnDep := r.Partition()
			assert.Len(t, noKey, tc.wantNoKey)
			assert.Len(t, keyed, tc.wantKeyed)
			assert.Len(t, asnDep, tc.wantASNDep)
			assert.Equal(t, tc.wantNoKey+tc.wantKeyed, r.FirstWaveCount())
		})
	}
}

func TestDescriptor_Transform_shapeDeviations(t *testing.T) {
	t.Parallel()

	base := mustParseURL(t, "http://provider.example")
	r := newTestRegistry(t, base, &provider.Credentials{
		IPQS:        []string{"k"},
		AbuseIPDB:   []string{"k"},
		IP2Location: []string{"k"},
		IPInfo:      []string{"k"},
		Cloudflare:  []string{"k"},
	})

	noKey, keyed, asnDep := r.Partition()
	all := append(append(noKey, keyed...), asnDep...)
	require.Len(t, all, 6)

	payloads := []map[string]any{
		{},
		{"network": "not an object"},
		{"data": []any{"not", "an", "object"}},
		{"loc": 42.0, "org": true, "privacy": "nope"},
	}

	for _, d := range all {
		for _, p := range payloads {
			assert.NotPanics(t, func() {
				_ = d.Transform(p)
				if d.RawTransform != nil {
					_ = d.RawTransform(p)
				}
			}, "source %s", d.Name)
		}
	}
}

func TestFetcher_Fetch_noKey(t *testing.T) {
	t.Parallel()

	var gotPath atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath.Store(r.URL.Path)

		_, _ = w.Write([]byte(`{
			"network": {"autonomous_system": {
				"asn": 15169, "name": "GOOGLE", "country": "us"
			}},
			"location": {"city": "Mountain View", "timezone": "America/Los_Angeles"}
		}`))
	}))
	t.Cleanup(srv.Close)

	r := newTestRegistry(t, mustParseURL(t, srv.URL), &provider.Credentials{})
	noKey, _, _ := r.Partition()
	require.Len(t, noKey, 1)

	f := newTestFetcher(t)
	ctx := testutil.ContextWithTimeout(t, testTimeout)
	res := f.Fetch(ctx, noKey[0], &provider.Target{IP: testIP})

	require.Equal(t, ipc.StatusSuccess, res.Status)
	assert.Equal(t, "/"+testIP, gotPath.Load())

	asn, _ := res.Data.String("asn")
	assert.Equal(t, "AS15169", asn)

	ctry, _ := res.Data.String("ipguide_asn_country")
	assert.Equal(t, "US", ctry)
}

func TestFetcher_Fetch_keyRotation(t *testing.T) {
	t.Parallel()

	// The IPQS key is the first path element, so the handler can
	// discriminate keys.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/bad/"+testIP:
			w.WriteHeader(http.StatusTooManyRequests)
		case r.URL.Path == "/good/"+testIP:
			_, _ = w.Write([]byte(`{
				"success": true,
				"fraud_score": 12,
				"connection_type": "Residential",
				"country_code": "de"
			}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	r := newTestRegistry(t, mustParseURL(t, srv.URL), &provider.Credentials{
		IPQS: []string{"bad", "good"},
	})
	_, keyed, _ := r.Partition()
	require.Len(t, keyed, 1)

	f := newTestFetcher(t)
	ctx := testutil.ContextWithTimeout(t, testTimeout)
	res := f.Fetch(ctx, keyed[0], &provider.Target{IP: testIP})

	require.Equal(t, ipc.StatusSuccess, res.Status)

	ct, _ := res.Data.String("connection_type")
	assert.Equal(t, "Residential", ct)

	// The failed key has been marked.
	statuses := keyed[0].Pool().Status()
	require.Len(t, statuses, 2)
	assert.Equal(t, 1, statuses[0].FailureCount)
	assert.Equal(t, 1, statuses[1].SuccessCount)
}

func TestFetcher_Fetch_exhausted(t *testing.T) {
	t.Parallel()

	var reqCount atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		reqCount.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"message": "rate limit reached"}`))
	}))
	t.Cleanup(srv.Close)

	r := newTestRegistry(t, mustParseURL(t, srv.URL), &provider.Credentials{
		IPQS: []string{"only"},
	})
	_, keyed, _ := r.Partition()
	require.Len(t, keyed, 1)

	f := newTestFetcher(t)
	ctx := testutil.ContextWithTimeout(t, testTimeout)
	res := f.Fetch(ctx, keyed[0], &provider.Target{IP: testIP})

	require.Equal(t, ipc.StatusError, res.Status)
	assert.Contains(t, res.Err, provider.MsgKeysExhausted)
	assert.Equal(t, int32(1), reqCount.Load())
}

func TestFetcher_Fetch_logicalError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/invalid/"+testIP {
			_, _ = w.Write([]byte(`{"success": false, "message": "Invalid API key"}`))

			return
		}

		_, _ = w.Write([]byte(`{"success": true, "connection_type": "Corporate"}`))
	}))
	t.Cleanup(srv.Close)

	r := newTestRegistry(t, mustParseURL(t, srv.URL), &provider.Credentials{
		IPQS: []string{"invalid", "valid"},
	})
	_, keyed, _ := r.Partition()

	f := newTestFetcher(t)
	ctx := testutil.ContextWithTimeout(t, testTimeout)
	res := f.Fetch(ctx, keyed[0], &provider.Target{IP: testIP})

	// The in-body key error rotated the pool to the valid key.
	require.Equal(t, ipc.StatusSuccess, res.Status)
}

func TestFetcher_Fetch_badJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`not json at all`))
	}))
	t.Cleanup(srv.Close)

	r := newTestRegistry(t, mustParseURL(t, srv.URL), &provider.Credentials{})
	noKey, _, _ := r.Partition()

	f := newTestFetcher(t)
	ctx := testutil.ContextWithTimeout(t, testTimeout)
	res := f.Fetch(ctx, noKey[0], &provider.Target{IP: testIP})

	require.Equal(t, ipc.StatusError, res.Status)
	assert.Contains(t, res.Err, "decoding")
}
