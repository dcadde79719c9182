// Package ipc contains common entities and interfaces of the ip-check
// service.
package ipc

// Common Constants, Types, And Utilities

// Source is the stable identifier of a reputation or geolocation provider.
type Source string

// Provider source identifiers.  Keep in sync with the descriptors in package
// provider.
const (
	SourceAbuseIPDB     Source = "abuseipdb"
	SourceCloudflareASN Source = "cloudflare_asn"
	SourceIP2Location   Source = "ip2location"
	SourceIPGuide       Source = "ipguide"
	SourceIPInfo        Source = "ipinfo"
	SourceIPQS          Source = "ipqs"
)

// unit is a convenient alias for struct{}.
type unit = struct{}
