package batch_test

import (
	"context"
	"testing"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/ssfun/ip-check/internal/batch"
	"github.com/ssfun/ip-check/internal/ipc"
	"github.com/ssfun/ip-check/internal/ipctest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testTimeout is the common timeout for tests.
const testTimeout = 5 * time.Second

// testLogger is the common logger for tests.
var testLogger = slogutil.NewDiscardLogger()

// fakeChecker is an [batch.IPChecker] for tests.
type fakeChecker struct {
	onCheckDerived func(
		ctx context.Context,
		ip string,
		edge *ipc.EdgeSnapshot,
	) (rec *ipc.Derived, err error)
}

// CheckDerived implements the [batch.IPChecker] interface for *fakeChecker.
func (c *fakeChecker) CheckDerived(
	ctx context.Context,
	ip string,
	edge *ipc.EdgeSnapshot,
) (rec *ipc.Derived, err error) {
	return c.onCheckDerived(ctx, ip, edge)
}

// simpleChecker returns a checker that derives a minimal record for any IP.
func simpleChecker() (c *fakeChecker) {
	return &fakeChecker{
		onCheckDerived: func(
			_ context.Context,
			ip string,
			_ *ipc.EdgeSnapshot,
		) (rec *ipc.Derived, err error) {
			return &ipc.Derived{IP: ip}, nil
		},
	}
}

// collectEvents drains the stream into a slice, failing the test if it does
// not close within the timeout.
func collectEvents(tb testing.TB, events <-chan *batch.Event) (got []*batch.Event) {
	tb.Helper()

	timer := time.NewTimer(testTimeout)
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return got
			}

			got = append(got, ev)
		case <-timer.C:
			tb.Fatalf("stream did not close after %s", testTimeout)
		}
	}
}

func TestScheduler_Stream_dedup(t *testing.T) {
	t.Parallel()

	s := batch.New(&batch.Config{
		Logger:  testLogger,
		Checker: simpleChecker(),
	})

	items := []*batch.Item{
		{IP: "8.8.8.8"},
		{IP: "1.1.1.1"},
		{IP: "8.8.8.8"},
		{IP: "9.9.9.9"},
	}

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	got := collectEvents(t, s.Stream(ctx, items))

	require.Len(t, got, 4)

	seen := map[string]bool{}
	for i, ev := range got[:3] {
		assert.Equal(t, batch.EventTypeResult, ev.Type)
		assert.False(t, seen[ev.IP], "duplicate result for %s", ev.IP)
		seen[ev.IP] = true

		require.NotNil(t, ev.Progress)
		assert.Equal(t, i+1, ev.Progress.Completed)
		assert.Equal(t, 3, ev.Progress.Total)
	}

	done := got[3]
	assert.Equal(t, batch.EventTypeDone, done.Type)
	require.NotNil(t, done.Progress)
	assert.Equal(t, 3, done.Progress.Completed)
	assert.Equal(t, 3, done.Progress.Total)
}

func TestScheduler_Stream_itemFailed(t *testing.T) {
	t.Parallel()

	const brokenIP = "192.0.2.66"

	s := batch.New(&batch.Config{
		Logger: testLogger,
		Checker: &fakeChecker{
			onCheckDerived: func(
				_ context.Context,
				ip string,
				_ *ipc.EdgeSnapshot,
			) (rec *ipc.Derived, err error) {
				if ip == brokenIP {
					return nil, errors.Error("checker blew up")
				}

				return &ipc.Derived{IP: ip}, nil
			},
		},
	})

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	got := collectEvents(t, s.Stream(ctx, []*batch.Item{
		{IP: "1.1.1.1"},
		{IP: brokenIP},
	}))

	require.Len(t, got, 3)

	var itemErrs, results int
	for _, ev := range got[:2] {
		switch ev.Type {
		case batch.EventTypeResult:
			results++
		case batch.EventTypeError:
			itemErrs++
			assert.Equal(t, batch.CodeItemFailed, ev.Code)
			assert.Equal(t, brokenIP, ev.IP)
			assert.Contains(t, ev.Err, "blew up")
		}
	}

	assert.Equal(t, 1, results)
	assert.Equal(t, 1, itemErrs)
	assert.Equal(t, batch.EventTypeDone, got[2].Type)
}

func TestScheduler_Stream_cancel(t *testing.T) {
	t.Parallel()

	started := make(chan ipctest.Signal)
	release := make(chan ipctest.Signal)

	s := batch.New(&batch.Config{
		Logger: testLogger,
		Checker: &fakeChecker{
			onCheckDerived: func(
				ctx context.Context,
				ip string,
				_ *ipc.EdgeSnapshot,
			) (rec *ipc.Derived, err error) {
				close(started)

				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-release:
					return &ipc.Derived{IP: ip}, nil
				}
			},
		},
	})

	ctx, cancel := context.WithCancel(testutil.ContextWithTimeout(t, testTimeout))
	events := s.Stream(ctx, []*batch.Item{{IP: "1.1.1.1"}})

	ipctest.RequireReceive(t, started, testTimeout)
	cancel()
	close(release)

	var last *batch.Event
	for ev := range events {
		last = ev
	}

	if last != nil {
		assert.Equal(t, batch.EventTypeError, last.Type)
		assert.Equal(t, batch.CodeStreamError, last.Code)
	}
}

func TestScheduler_Stream_cachedPassThrough(t *testing.T) {
	t.Parallel()

	const cachedIP = "1.1.1.1"

	s := batch.New(&batch.Config{
		Logger: testLogger,
		Checker: &fakeChecker{
			onCheckDerived: func(
				_ context.Context,
				ip string,
				_ *ipc.EdgeSnapshot,
			) (rec *ipc.Derived, err error) {
				rec = &ipc.Derived{IP: ip}
				if ip == cachedIP {
					rec.Meta.Cached = true
					rec.Meta.CachedAPICount = 5
					rec.Meta.TotalAPICount = 5
				}

				return rec, nil
			},
		},
	})

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	got := collectEvents(t, s.Stream(ctx, []*batch.Item{
		{IP: cachedIP},
		{IP: "9.9.9.9"},
	}))

	require.Len(t, got, 3)

	for _, ev := range got[:2] {
		require.Equal(t, batch.EventTypeResult, ev.Type)
		require.NotNil(t, ev.Result)

		if ev.IP == cachedIP {
			assert.True(t, ev.Result.Meta.Cached)
			assert.Equal(t, ev.Result.Meta.TotalAPICount, ev.Result.Meta.CachedAPICount)
		} else {
			assert.False(t, ev.Result.Meta.Cached)
		}
	}
}
