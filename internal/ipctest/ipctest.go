// Package ipctest contains simple mocks for common interfaces and other test
// utilities.
package ipctest

import (
	"context"
	"time"

	"github.com/ssfun/ip-check/internal/errcoll"
	"github.com/ssfun/ip-check/internal/ipc"
	"github.com/ssfun/ip-check/internal/provider"
	"github.com/ssfun/ip-check/internal/remotekv"
)

// type check
var _ errcoll.Interface = (*ErrorCollector)(nil)

// ErrorCollector is an [errcoll.Interface] for tests.
type ErrorCollector struct {
	OnCollect func(ctx context.Context, err error)
}

// NewErrorCollector returns a new *ErrorCollector all methods of which panic.
func NewErrorCollector() (c *ErrorCollector) {
	return &ErrorCollector{
		OnCollect: func(_ context.Context, err error) {
			panic("unexpected call to ErrorCollector.Collect: " + err.Error())
		},
	}
}

// Collect implements the [errcoll.Interface] interface for *ErrorCollector.
func (c *ErrorCollector) Collect(ctx context.Context, err error) {
	c.OnCollect(ctx, err)
}

// type check
var _ remotekv.Interface = (*RemoteKV)(nil)

// RemoteKV is a [remotekv.Interface] for tests.
type RemoteKV struct {
	OnGet func(ctx context.Context, key string) (val []byte, ok bool, err error)
	OnSet func(ctx context.Context, key string, val []byte, ttl time.Duration) (err error)
}

// Get implements the [remotekv.Interface] interface for *RemoteKV.
func (kv *RemoteKV) Get(ctx context.Context, key string) (val []byte, ok bool, err error) {
	return kv.OnGet(ctx, key)
}

// Set implements the [remotekv.Interface] interface for *RemoteKV.
func (kv *RemoteKV) Set(
	ctx context.Context,
	key string,
	val []byte,
	ttl time.Duration,
) (err error) {
	return kv.OnSet(ctx, key, val, ttl)
}

// Fetcher is a provider fetcher for tests.  It mirrors the interface that the
// aggregation layer consumes.
type Fetcher struct {
	OnFetch func(
		ctx context.Context,
		d *provider.Descriptor,
		target *provider.Target,
	) (res *ipc.ProviderResult)
}

// Fetch implements the aggregation fetcher interface for *Fetcher.
func (f *Fetcher) Fetch(
	ctx context.Context,
	d *provider.Descriptor,
	target *provider.Target,
) (res *ipc.ProviderResult) {
	return f.OnFetch(ctx, d, target)
}
