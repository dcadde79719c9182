package ipc

// ExitType is one of the outbound network paths a client may use.
type ExitType string

// Known exit types.
const (
	ExitIPv4   ExitType = "ipv4"
	ExitIPv6   ExitType = "ipv6"
	ExitWARPv4 ExitType = "warp_v4"
	ExitWARPv6 ExitType = "warp_v6"
	ExitHEv6   ExitType = "he_v6"
)

// exitOrders is the canonical ordering of exit types used when preparing
// batches.  Unknown exit types sort after all known ones.
var exitOrders = map[ExitType]int{
	ExitIPv4:   1,
	ExitIPv6:   2,
	ExitWARPv4: 3,
	ExitWARPv6: 4,
	ExitHEv6:   5,
}

// Order returns the canonical sort order of t.  Unknown exit types get an
// order after all known ones, with ties broken by the type string.
func (t ExitType) Order() (n int) {
	n, ok := exitOrders[t]
	if !ok {
		return len(exitOrders) + 1
	}

	return n
}

// EdgeSnapshot is the pre-computed per-exit record provided by the edge
// layer.  It is authoritative for colo and TLS data but subordinate to
// provider responses for geography and ASN.
type EdgeSnapshot struct {
	IP             string   `json:"ip,omitempty"`
	Colo           string   `json:"colo,omitempty"`
	Country        string   `json:"country,omitempty"`
	City           string   `json:"city,omitempty"`
	Region         string   `json:"region,omitempty"`
	Timezone       string   `json:"timezone,omitempty"`
	ASN            string   `json:"asn,omitempty"`
	ASOrganization string   `json:"asOrganization,omitempty"`
	TLSVersion     string   `json:"tlsVersion,omitempty"`
	HTTPProtocol   string   `json:"httpProtocol,omitempty"`
	Latitude       *float64 `json:"latitude,omitempty"`
	Longitude      *float64 `json:"longitude,omitempty"`
	BotScore       *float64 `json:"botScore,omitempty"`
	IsWARP         bool     `json:"isWarp,omitempty"`
}
