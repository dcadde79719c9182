// Package ipchttp contains common constants, functions, and types for
// working with HTTP.
package ipchttp

import "github.com/ssfun/ip-check/internal/version"

// HTTP header value constants.
const (
	HdrValApplicationJSON       = "application/json"
	HdrValApplicationDNSMessage = "application/dns-message"
	HdrValTextEventStream       = "text/event-stream"
	HdrValTextPlain             = "text/plain"
	HdrValNoCache               = "no-cache"
	HdrValWildcard              = "*"
)

// userAgent is the cached User-Agent string for the service.
var userAgent = version.Name() + "/" + version.Version()

// UserAgent returns the ID of the service as a User-Agent string.  It can
// also be used as the value of the Server HTTP header.
func UserAgent() (ua string) {
	return userAgent
}
