// Package provider contains the declarative registry of reputation and
// geolocation providers and the fetcher that queries them.
package provider

import (
	"net/http"
	"net/url"

	"github.com/ssfun/ip-check/internal/ipc"
	"github.com/ssfun/ip-check/internal/keypool"
)

// Target is the subject of a single provider request.  Exactly one of the
// fields is used, depending on whether the provider is ASN-dependent.
type Target struct {
	// IP is the target IP address.
	IP string

	// ASN is the discovered autonomous system number, in the textual form of
	// the provider that reported it, with an optional "AS" prefix.
	ASN string
}

// Descriptor describes one provider declaratively.  The builder functions
// must be pure; Transform and RawTransform must never panic on shape
// deviations, missing fields simply stay absent from the result.
type Descriptor struct {
	// BaseURL is the endpoint prefix of the provider.  It must not be nil.
	BaseURL *url.URL

	// BuildURL builds the request URL from the base, the target, and the
	// key.  key is empty for no-key providers.  It must not be nil.
	BuildURL func(base *url.URL, target *Target, key string) (u *url.URL)

	// BuildHeader builds extra request headers from the key.  It may be nil
	// when the provider passes its key inside the URL.
	BuildHeader func(key string) (hdr http.Header)

	// CheckError reports whether a 200 response semantically means failure.
	// It may be nil when the provider has no such convention.
	CheckError func(body map[string]any) (isErr bool)

	// ErrorMessage extracts a human-readable message from a semantically
	// failed payload.  It may be nil.
	ErrorMessage func(body map[string]any) (msg string)

	// Transform produces the flat normalized map with namespaced keys.  It
	// must not be nil.
	Transform func(body map[string]any) (data ipc.Map)

	// RawTransform produces the preserved payload projection for the UI.  It
	// may be nil.
	RawTransform func(body map[string]any) (raw map[string]any)

	// pool is the credential pool of the provider, nil for no-key providers.
	pool *keypool.Pool

	// Name is the stable provider identifier.
	Name ipc.Source

	// ASNDependent is true for providers queried in the second wave with the
	// discovered ASN instead of the IP.
	ASNDependent bool
}

// HasKeys reports whether the provider uses credentials.
func (d *Descriptor) HasKeys() (ok bool) {
	return d.pool != nil
}

// Pool returns the credential pool of the provider, nil for no-key
// providers.
func (d *Descriptor) Pool() (p *keypool.Pool) {
	return d.pool
}
