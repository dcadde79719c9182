package provider

import (
	"net/url"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/ssfun/ip-check/internal/ipc"
	"github.com/ssfun/ip-check/internal/keypool"
)

// Credentials holds the parsed API keys of every provider.  Empty slices
// disable the corresponding provider.
type Credentials struct {
	IPQS        []string
	AbuseIPDB   []string
	IP2Location []string
	IPInfo      []string
	Cloudflare  []string
}

// RegistryConfig is the configuration structure for [NewRegistry].
type RegistryConfig struct {
	// Pools is the process-wide credential-pool registry.  It must not be
	// nil.
	Pools *keypool.Registry

	// Credentials are the configured provider keys.  It must not be nil.
	Credentials *Credentials

	// BaseURLs optionally overrides the endpoint of a provider, keyed by
	// source.  It is mainly used by tests.
	BaseURLs map[ipc.Source]*url.URL
}

// Registry is the static table of enabled providers, partitioned into the
// fetch groups.  It is read-only after construction.
type Registry struct {
	noKey  []*Descriptor
	keyed  []*Descriptor
	asnDep []*Descriptor
}

// NewRegistry returns a registry of the providers enabled by c.  c must not
// be nil.
func NewRegistry(c *RegistryConfig) (r *Registry, err error) {
	defer func() { err = errors.Annotate(err, "building provider registry: %w") }()

	base := func(name ipc.Source, dflt string) (u *url.URL, err error) {
		if u, ok := c.BaseURLs[name]; ok {
			return u, nil
		}

		return url.Parse(dflt)
	}

	r = &Registry{}

	// The zero-key provider is always enabled.
	u, err := base(ipc.SourceIPGuide, defaultIPGuideURL)
	if err != nil {
		return nil, err
	}

	r.noKey = append(r.noKey, newIPGuide(u))

	keyed := []struct {
		build func(base *url.URL) (d *Descriptor)
		name  ipc.Source
		dflt  string
		keys  []string
	}{{
		build: newIPInfo,
		name:  ipc.SourceIPInfo,
		dflt:  defaultIPInfoURL,
		keys:  c.Credentials.IPInfo,
	}, {
		build: newIPQS,
		name:  ipc.SourceIPQS,
		dflt:  defaultIPQSURL,
		keys:  c.Credentials.IPQS,
	}, {
		build: newAbuseIPDB,
		name:  ipc.SourceAbuseIPDB,
		dflt:  defaultAbuseIPDBURL,
		keys:  c.Credentials.AbuseIPDB,
	}, {
		build: newIP2Location,
		name:  ipc.SourceIP2Location,
		dflt:  defaultIP2LocationURL,
		keys:  c.Credentials.IP2Location,
	}, {
		build: newCloudflareASN,
		name:  ipc.SourceCloudflareASN,
		dflt:  defaultCloudflareURL,
		keys:  c.Credentials.Cloudflare,
	}}

	for _, k := range keyed {
		if len(k.keys) == 0 {
			continue
		}

		u, err = base(k.name, k.dflt)
		if err != nil {
			return nil, err
		}

		d := k.build(u)
		d.pool = c.Pools.Pool(string(k.name), k.keys)

		if d.ASNDependent {
			r.asnDep = append(r.asnDep, d)
		} else {
			r.keyed = append(r.keyed, d)
		}
	}

	return r, nil
}

// Partition returns the three disjoint groups of enabled providers: the
// no-key ones, the keyed non-ASN-dependent ones, and the ASN-dependent
// ones.  Callers must not modify the returned slices.
func (r *Registry) Partition() (noKey, keyed, asnDep []*Descriptor) {
	return r.noKey, r.keyed, r.asnDep
}

// FirstWaveCount returns the number of providers attempted in the first
// wave.
func (r *Registry) FirstWaveCount() (n int) {
	return len(r.noKey) + len(r.keyed)
}

// ASNDependentCount returns the number of enabled ASN-dependent providers.
func (r *Registry) ASNDependentCount() (n int) {
	return len(r.asnDep)
}
