package ipc

import "time"

// IPTypeValue is a normalized IP usage-type category.
type IPTypeValue string

// Normalized IP usage types.
const (
	IPTypeResidential IPTypeValue = "residential"
	IPTypeMobile      IPTypeValue = "mobile"
	IPTypeDatacenter  IPTypeValue = "datacenter"
	IPTypeCommercial  IPTypeValue = "commercial"
	IPTypeEducation   IPTypeValue = "education"
	IPTypeGovernment  IPTypeValue = "government"
	IPTypeUnknown     IPTypeValue = "unknown"
)

// Derived is the user-visible result of a check for one IP.
type Derived struct {
	// IP is the target IP address exactly as requested.
	IP string `json:"ip"`

	// Summary holds the chosen values for the UI summary card.
	Summary Summary `json:"summary"`

	// Fields maps each user-visible field name to its chosen value and the
	// full list of providers that supplied one.
	Fields map[string]*FieldValue `json:"fields"`

	// Providers maps each attempted source to its outcome.
	Providers map[Source]*ProviderOutcome `json:"providers"`

	// Meta describes how the result was produced.
	Meta Meta `json:"meta"`
}

// Summary is the summary part of a derived record.
type Summary struct {
	Location Location  `json:"location"`
	Network  Network   `json:"network"`
	IPType   IPType    `json:"ipType"`
	IPSource IPSource  `json:"ipSource"`
	Risk     Risk      `json:"risk"`
	Edge     *EdgeInfo `json:"edge,omitempty"`
}

// Location is the geographic part of the summary.
type Location struct {
	City        string   `json:"city,omitempty"`
	Region      string   `json:"region,omitempty"`
	Country     string   `json:"country,omitempty"`
	Timezone    string   `json:"timezone,omitempty"`
	LocationStr string   `json:"locationStr,omitempty"`
	Lat         *float64 `json:"lat,omitempty"`
	Lon         *float64 `json:"lon,omitempty"`
}

// Network is the network-ownership part of the summary.
type Network struct {
	ISP          string `json:"isp,omitempty"`
	Organization string `json:"organization,omitempty"`
	ASN          string `json:"asn,omitempty"`
}

// IPType is the voted usage type of the IP.
type IPType struct {
	// Value is the winning normalized category, [IPTypeUnknown] when no
	// provider contributed a non-unknown vote.
	Value IPTypeValue `json:"value"`

	// RawLabel is the raw string of the winning vote, if any.
	RawLabel string `json:"rawLabel,omitempty"`

	// Sources are the per-source votes that participated, in the pinned
	// candidate order.
	Sources []*TypeSourceDetail `json:"sources"`
}

// TypeSourceDetail is one usage-type vote.
type TypeSourceDetail struct {
	Source     Source      `json:"source"`
	RawType    string      `json:"rawType"`
	Normalized IPTypeValue `json:"normalizedType"`
}

// IPSource is the native-vs-broadcast judgment of the IP.
type IPSource struct {
	// GeoCountry is the uppercased geolocation country code, empty when
	// unknown.
	GeoCountry string `json:"geoCountry,omitempty"`

	// RegistryCountry is the uppercased ASN-registry country code, empty when
	// unknown.
	RegistryCountry string `json:"registryCountry,omitempty"`

	// IsNative is true when the registry and geolocation countries match,
	// false when both are known and differ, and nil when either is missing.
	IsNative *bool `json:"isNative"`

	// Reason is the human-readable explanation of the judgment.
	Reason string `json:"reason"`
}

// Risk is the risk part of the summary.
type Risk struct {
	FraudScore     *float64 `json:"fraudScore,omitempty"`
	AbuseScore     *float64 `json:"abuseScore,omitempty"`
	TotalReports   *int64   `json:"totalReports,omitempty"`
	LastReportedAt string   `json:"lastReportedAt,omitempty"`
	IsVPN          bool     `json:"isVpn"`
	IsProxy        bool     `json:"isProxy"`
	IsTor          bool     `json:"isTor"`
	IsHosting      bool     `json:"isHosting"`
}

// EdgeInfo is the optional edge-side metrics part of the summary.
type EdgeInfo struct {
	Colo         string   `json:"colo,omitempty"`
	TLSVersion   string   `json:"tlsVersion,omitempty"`
	HTTPProtocol string   `json:"httpProtocol,omitempty"`
	BotScore     *float64 `json:"botScore,omitempty"`
	IsWARP       bool     `json:"isWarp"`
}

// FieldValue is the chosen value of one user-visible field together with the
// full provenance list.
type FieldValue struct {
	// Value is the final chosen value, the first non-empty one among the
	// sources in their fixed precedence order.
	Value any `json:"value"`

	// Sources lists every provider that supplied a non-empty value.
	Sources []*FieldSource `json:"sources"`
}

// FieldSource is one provenance entry of a user-visible field.
type FieldSource struct {
	Source string `json:"source"`
	Value  any    `json:"value"`
}

// ProviderOutcome is the per-provider view included in a derived record.
type ProviderOutcome struct {
	Data    Map            `json:"data,omitempty"`
	RawData map[string]any `json:"rawData,omitempty"`
	Err     string         `json:"error,omitempty"`
	Status  ResultStatus   `json:"status"`
}

// Meta describes how a derived record was produced.
type Meta struct {
	// Timestamp is the moment the record was derived.
	Timestamp time.Time `json:"timestamp"`

	// Sources are the identifiers of the successful sources, in completion
	// order.
	Sources []Source `json:"sources"`

	// APIErrors are the per-provider failures.
	APIErrors []*ProviderError `json:"apiErrors"`

	// CachedAPICount is the number of provider results served from cache.
	CachedAPICount int `json:"cachedApiCount"`

	// TotalAPICount is the total number of providers attempted.
	TotalAPICount int `json:"totalApiCount"`

	// Cached is true when the merged record was served from the cache.
	Cached bool `json:"cached"`
}
