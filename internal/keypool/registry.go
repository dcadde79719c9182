package keypool

import (
	"log/slog"
	"sync"

	"github.com/AdguardTeam/golibs/timeutil"
)

// Registry is a process-wide set of pools keyed by provider name.  Pools are
// created lazily on first use and live for the process lifetime.
type Registry struct {
	logger *slog.Logger
	clock  timeutil.Clock

	// mu protects pools.
	mu    *sync.Mutex
	pools map[string]*Pool
}

// RegistryConfig is the configuration structure for a [Registry].
type RegistryConfig struct {
	// Logger is used by the created pools.  It must not be nil.
	Logger *slog.Logger

	// Clock is used by the created pools.  It must not be nil.
	Clock timeutil.Clock
}

// NewRegistry returns a new properly initialized *Registry.  c must not be
// nil.
func NewRegistry(c *RegistryConfig) (r *Registry) {
	return &Registry{
		logger: c.Logger,
		clock:  c.Clock,
		mu:     &sync.Mutex{},
		pools:  map[string]*Pool{},
	}
}

// Pool returns the pool for provider, creating it from keys on the first
// call.  keys are ignored on subsequent calls.
func (r *Registry) Pool(provider string, keys []string) (p *Pool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pools[provider]
	if !ok {
		p = New(&Config{
			Logger:   r.logger,
			Clock:    r.clock,
			Provider: provider,
			Keys:     keys,
		})
		r.pools[provider] = p
	}

	return p
}

// Status returns per-provider snapshots of every pool created so far.
func (r *Registry) Status() (statuses map[string][]*KeyStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()

	statuses = make(map[string][]*KeyStatus, len(r.pools))
	for name, p := range r.pools {
		statuses[name] = p.Status()
	}

	return statuses
}
