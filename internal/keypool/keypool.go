// Package keypool contains the per-provider rotating pool of API keys with
// health tracking, cooldown, and failure-class detection.
package keypool

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/timeutil"
)

// Default health-tracking durations and limits.
const (
	// Cooldown is how long an unhealthy key stays hidden before it is given
	// another chance.
	Cooldown = 5 * time.Minute

	// FailureDecay is how long a failure is held against a key before its
	// failure count starts over.
	FailureDecay = 2 * time.Minute

	// UnhealthyAfter is the number of recent failures after which a key is
	// considered unhealthy.
	UnhealthyAfter = 2

	// MaxAttempts is the upper bound on the executor attempts per request,
	// regardless of the pool size.
	MaxAttempts = 3
)

// ErrNoKeys is returned by [Pool.Next] when no healthy key is available.
const ErrNoKeys errors.Error = "no key available"

// keyState is the health state of a single API key.
type keyState struct {
	lastFailureAt time.Time
	value         string
	failureCount  int
	successCount  int
	isHealthy     bool
}

// Key is a handle of a pool key handed out by [Pool.Next].
type Key struct {
	value string
	index int
}

// Value returns the key material.
func (k *Key) Value() (v string) {
	return k.value
}

// Pool is a rotating pool of API keys for one provider.  It hands out the
// next usable key, records outcomes, hides temporarily-failed keys, and
// recovers them after a cooldown.
type Pool struct {
	logger *slog.Logger
	clock  timeutil.Clock

	// mu protects keys and cursor.
	mu   *sync.Mutex
	keys []*keyState

	provider string
	cursor   int
}

// Config is the configuration structure for a [Pool].
type Config struct {
	// Logger is used to log the operation of the pool.  It must not be nil.
	Logger *slog.Logger

	// Clock is used for cooldown and decay arithmetic.  It must not be nil.
	Clock timeutil.Clock

	// Provider is the stable provider identifier the pool belongs to.
	Provider string

	// Keys is the ordered list of API keys.  It must not be empty.
	Keys []string
}

// New returns a new properly initialized *Pool.  c must not be nil.
func New(c *Config) (p *Pool) {
	keys := make([]*keyState, 0, len(c.Keys))
	for _, v := range c.Keys {
		keys = append(keys, &keyState{
			value:     v,
			isHealthy: true,
		})
	}

	return &Pool{
		logger:   c.Logger,
		clock:    c.Clock,
		mu:       &sync.Mutex{},
		keys:     keys,
		provider: c.Provider,
	}
}

// Len returns the number of keys in the pool.
func (p *Pool) Len() (n int) {
	return len(p.keys)
}

// Attempts returns the number of executor attempts appropriate for the pool
// size.
func (p *Pool) Attempts() (n int) {
	return min(len(p.keys), MaxAttempts)
}

// Next returns the next healthy key.  The sweep that precedes the probe is
// idempotent: with no state changes in between, repeated calls cycle through
// the healthy keys uniformly.
func (p *Pool) Next(ctx context.Context) (k *Key, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.sweep()

	n := len(p.keys)
	for range n {
		i := p.cursor
		p.cursor = (p.cursor + 1) % n

		ks := p.keys[i]
		if ks.isHealthy {
			return &Key{
				value: ks.value,
				index: i,
			}, nil
		}
	}

	p.logger.DebugContext(ctx, "no healthy keys", "provider", p.provider)

	return nil, ErrNoKeys
}

// sweep recovers keys whose cooldown has expired and decays stale failure
// counts.  It must be called with p.mu held.
func (p *Pool) sweep() {
	now := p.clock.Now()
	for _, ks := range p.keys {
		if ks.lastFailureAt.IsZero() {
			continue
		}

		since := now.Sub(ks.lastFailureAt)
		if since >= Cooldown {
			ks.isHealthy = true
			ks.failureCount = 0
		} else if since > FailureDecay && ks.failureCount < UnhealthyAfter {
			ks.failureCount = 0
		}
	}
}

// MarkSuccess records a successful use of k.  The first success after
// failures forces the key back to healthy.
func (p *Pool) MarkSuccess(ctx context.Context, k *Key) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ks := p.keys[k.index]
	ks.successCount++
	if ks.failureCount > 0 {
		ks.failureCount = 0
		ks.isHealthy = true
	}
}

// MarkFailure records a failed use of k with a reason for logging.
func (p *Pool) MarkFailure(ctx context.Context, k *Key, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ks := p.keys[k.index]
	now := p.clock.Now()
	if !ks.lastFailureAt.IsZero() && now.Sub(ks.lastFailureAt) > FailureDecay {
		ks.failureCount = 0
	}

	ks.failureCount++
	ks.lastFailureAt = now
	if ks.failureCount >= UnhealthyAfter {
		ks.isHealthy = false

		p.logger.InfoContext(
			ctx,
			"key disabled",
			"provider", p.provider,
			"key_index", k.index,
			"reason", reason,
		)
	}
}

// KeyStatus is a snapshot of the health of one key, for debugging.
type KeyStatus struct {
	// LastFailureAt is the time of the most recent failure, zero if none.
	LastFailureAt time.Time `json:"lastFailureAt"`

	// Index is the position of the key in the pool.
	Index int `json:"index"`

	// FailureCount is the number of recent failures.
	FailureCount int `json:"failureCount"`

	// SuccessCount is the total number of successes.
	SuccessCount int `json:"successCount"`

	// IsHealthy is false while the key is hidden from rotation.
	IsHealthy bool `json:"isHealthy"`
}

// Status returns a snapshot of the health of every key in the pool.
func (p *Pool) Status() (statuses []*KeyStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()

	statuses = make([]*KeyStatus, 0, len(p.keys))
	for i, ks := range p.keys {
		statuses = append(statuses, &KeyStatus{
			LastFailureAt: ks.lastFailureAt,
			Index:         i,
			FailureCount:  ks.failureCount,
			SuccessCount:  ks.successCount,
			IsHealthy:     ks.isHealthy,
		})
	}

	return statuses
}

// keyErrorMarkers are the case-insensitive substrings of response bodies and
// error messages that indicate a key-related failure.
var keyErrorMarkers = []string{
	"rate limit",
	"quota",
	"limit exceeded",
	"request quota",
	"invalid key",
	"invalid api key",
	"unauthorized",
	"too many requests",
	"daily limit",
	"monthly limit",
	"exceeded",
	"throttl",
}

// IsKeyRelatedError reports whether an HTTP status and a body or error
// message point at a bad or exhausted credential rather than at a provider
// outage.
func IsKeyRelatedError(status int, msg string) (ok bool) {
	switch status {
	case 401, 403, 429:
		return true
	}

	msg = strings.ToLower(msg)
	for _, marker := range keyErrorMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}

	return false
}

// ParseKeys splits a comma-separated credential string into the ordered list
// of keys, dropping empty elements.
func ParseKeys(s string) (keys []string) {
	for part := range strings.SplitSeq(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			keys = append(keys, part)
		}
	}

	return keys
}
