// Package remotekv contains remote key-value storage interfaces, helpers,
// and implementations.
package remotekv

import (
	"context"
	"time"
)

// Interface is the remote key-value storage interface.
type Interface interface {
	// Get returns val by key from the storage.  ok is true if val by key
	// exists.
	Get(ctx context.Context, key string) (val []byte, ok bool, err error)

	// Set sets val into the storage by key.  The entry expires after ttl.
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) (err error)
}

// Empty is the [Interface] implementation that does nothing.
type Empty struct{}

// type check
var _ Interface = Empty{}

// Get implements the [Interface] interface for Empty.  ok is always false.
func (Empty) Get(_ context.Context, _ string) (val []byte, ok bool, err error) {
	return val, false, nil
}

// Set implements the [Interface] interface for Empty.
func (Empty) Set(_ context.Context, _ string, _ []byte, _ time.Duration) (err error) {
	return nil
}
