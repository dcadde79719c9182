package dohres_test

import (
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/miekg/dns"
	"github.com/ssfun/ip-check/internal/dohres"
	"github.com/ssfun/ip-check/internal/ipc"
	"github.com/ssfun/ip-check/internal/ipchttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Common test constants.
const (
	testTimeout = 5 * time.Second

	testDomain = "dns.example"
)

// testLogger is the common logger for tests.
var testLogger = slogutil.NewDiscardLogger()

// newDoHHandler returns a wireformat handler answering v4 and v6 for every
// name and counting the queries.
func newDoHHandler(tb testing.TB, count *atomic.Int32, v4, v6 []string) (h http.HandlerFunc) {
	tb.Helper()

	return func(w http.ResponseWriter, r *http.Request) {
		count.Add(1)

		body, err := io.ReadAll(r.Body)
		require.NoError(tb, err)

		req := &dns.Msg{}
		require.NoError(tb, req.Unpack(body))
		require.Len(tb, req.Question, 1)

		resp := (&dns.Msg{}).SetReply(req)
		q := req.Question[0]
		switch q.Qtype {
		case dns.TypeA:
			for _, ip := range v4 {
				resp.Answer = append(resp.Answer, &dns.A{
					Hdr: dns.RR_Header{
						Name:   q.Name,
						Rrtype: dns.TypeA,
						Class:  dns.ClassINET,
						Ttl:    60,
					},
					A: net.ParseIP(ip),
				})
			}
		case dns.TypeAAAA:
			for _, ip := range v6 {
				resp.Answer = append(resp.Answer, &dns.AAAA{
					Hdr: dns.RR_Header{
						Name:   q.Name,
						Rrtype: dns.TypeAAAA,
						Class:  dns.ClassINET,
						Ttl:    60,
					},
					AAAA: net.ParseIP(ip),
				})
			}
		}

		packed, err := resp.Pack()
		require.NoError(tb, err)

		w.Header().Set("Content-Type", ipchttp.HdrValApplicationDNSMessage)
		_, _ = w.Write(packed)
	}
}

// newTestResolver returns a resolver pointed at upstream.
func newTestResolver(tb testing.TB, upstream string) (r *dohres.Resolver) {
	tb.Helper()

	u, err := url.Parse(upstream)
	require.NoError(tb, err)

	return dohres.New(&dohres.Config{
		Logger:    testLogger,
		Client:    ipchttp.NewClient(&ipchttp.ClientConfig{Timeout: testTimeout}),
		Upstream:  u,
		CacheSize: dohres.DefaultCacheSize,
	})
}

func TestResolver_Resolve(t *testing.T) {
	t.Parallel()

	var count atomic.Int32
	srv := httptest.NewServer(newDoHHandler(
		t,
		&count,
		[]string{"192.0.2.1", "192.0.2.2"},
		[]string{"2001:db8::1"},
	))
	t.Cleanup(srv.Close)

	r := newTestResolver(t, srv.URL)
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	ips, err := r.Resolve(ctx, testDomain)
	require.NoError(t, err)
	require.Len(t, ips, 3)

	assert.Equal(t, "192.0.2.1", ips[0].IP)
	assert.Equal(t, ipc.FamilyIPv4, ips[0].Type)
	assert.Equal(t, "2001:db8::1", ips[2].IP)
	assert.Equal(t, ipc.FamilyIPv6, ips[2].Type)

	// One A and one AAAA exchange.
	assert.Equal(t, int32(2), count.Load())

	// The second resolution is served from the cache.
	cached, err := r.Resolve(ctx, testDomain)
	require.NoError(t, err)
	assert.Equal(t, ips, cached)
	assert.Equal(t, int32(2), count.Load())
}

func TestResolver_Resolve_unresolvable(t *testing.T) {
	t.Parallel()

	var count atomic.Int32
	srv := httptest.NewServer(newDoHHandler(t, &count, nil, nil))
	t.Cleanup(srv.Close)

	r := newTestResolver(t, srv.URL)
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	_, err := r.Resolve(ctx, testDomain)
	assert.ErrorIs(t, err, dohres.ErrUnresolvable)
}

func TestResolver_Resolve_badDomain(t *testing.T) {
	t.Parallel()

	r := newTestResolver(t, "http://doh.invalid")
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	_, err := r.Resolve(ctx, "not a domain!")
	assert.Error(t, err)
}
