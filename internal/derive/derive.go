// Package derive turns a merged aggregation result into the user-visible
// derived record: the usage-type vote, the native-vs-broadcast judgment, the
// risk summary, and per-field provenance.
package derive

import (
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/ssfun/ip-check/internal/ipc"
)

// Deriver computes derived records.  Derivation is pure apart from the
// timestamp; it never issues I/O.
type Deriver struct {
	clock timeutil.Clock
}

// Config is the configuration structure for [New].  All fields must not be
// nil.
type Config struct {
	// Clock is used to stamp derived records.
	Clock timeutil.Clock
}

// New returns a new properly initialized *Deriver.  c must not be nil.
func New(c *Config) (d *Deriver) {
	return &Deriver{
		clock: c.Clock,
	}
}

// Derive computes the derived record for res.  edge is the optional per-exit
// edge snapshot; it is authoritative for colo and TLS data but subordinate
// to provider data for geography and ASN.  res must not be nil.
func (d *Deriver) Derive(res *ipc.CheckResult, edge *ipc.EdgeSnapshot) (rec *ipc.Derived) {
	merged := res.Merged
	if merged == nil {
		merged = ipc.Map{}
	}

	ipType := voteType(merged)
	fields := buildFields(merged, ipType)

	rec = &ipc.Derived{
		IP:     res.IP,
		Fields: fields,
		Summary: ipc.Summary{
			Location: buildLocation(merged, fields),
			Network:  buildNetwork(res, fields),
			IPType:   ipType,
			IPSource: judgeNative(merged),
			Risk:     buildRisk(merged, ipType.Value),
		},
		Providers: buildProviders(res),
		Meta: ipc.Meta{
			Timestamp:      d.clock.Now(),
			Sources:        res.SourceIDs(),
			APIErrors:      apiErrors(res),
			CachedAPICount: res.CachedAPICount,
			TotalAPICount:  res.TotalAPICount,
			Cached:         res.FromCache,
		},
	}

	if edge != nil {
		overlayEdge(rec, edge)
	}

	return rec
}

// buildLocation assembles the location summary from the merged map and the
// already-computed provenance fields.
func buildLocation(merged ipc.Map, fields map[string]*ipc.FieldValue) (loc ipc.Location) {
	loc.City, _ = merged.FirstString(
		"ipinfo_city",
		"ipqs_city",
		"ip2location_city",
		"ipguide_city",
	)
	loc.Region, _ = merged.FirstString("ipinfo_region", "ipqs_region", "ip2location_region")
	loc.Country, _ = merged.FirstString(
		"ip2location_country_code",
		"country_code",
		"ipinfo_country",
	)

	if v, ok := fields[FieldTimezone].Value.(string); ok {
		loc.Timezone = v
	}

	if v, ok := fields[FieldLocation].Value.(string); ok {
		loc.LocationStr = v
	}

	if pair, ok := fields[FieldCoordinates].Value.([]float64); ok && len(pair) == 2 {
		loc.Lat = &pair[0]
		loc.Lon = &pair[1]
	}

	return loc
}

// buildNetwork assembles the network summary.
func buildNetwork(res *ipc.CheckResult, fields map[string]*ipc.FieldValue) (n ipc.Network) {
	if v, ok := fields[FieldISP].Value.(string); ok {
		n.ISP = v
	}

	if v, ok := fields[FieldOrganization].Value.(string); ok {
		n.Organization = v
	}

	n.ASN = res.ASN
	if n.ASN == "" {
		n.ASN, _ = res.Merged.NonEmptyString("asn")
	}

	return n
}

// buildRisk assembles the risk summary from the merged map.
func buildRisk(merged ipc.Map, winner ipc.IPTypeValue) (r ipc.Risk) {
	if v, ok := merged.Float64("ipqs_fraud_score"); ok {
		r.FraudScore = &v
	}

	if v, ok := merged.Float64("abuseipdb_abuse_score"); ok {
		r.AbuseScore = &v
	}

	if v, ok := merged.Int64("abuseipdb_total_reports"); ok {
		r.TotalReports = &v
	}

	r.LastReportedAt, _ = merged.NonEmptyString("abuseipdb_last_reported_at")

	r.IsVPN = anyBool(merged, "ipqs_vpn", "ipinfo_privacy_vpn")
	r.IsProxy = anyBool(merged, "ipqs_proxy", "ipinfo_privacy_proxy")
	r.IsTor = anyBool(merged, "ipqs_tor", "ipinfo_privacy_tor", "abuseipdb_tor")
	r.IsHosting = isHostingType(merged, winner)

	return r
}

// anyBool reports whether any of keys holds true in m.
func anyBool(m ipc.Map, keys ...string) (ok bool) {
	for _, k := range keys {
		if v, has := m.Bool(k); has && v {
			return true
		}
	}

	return false
}

// buildProviders assembles the per-provider outcome map.
func buildProviders(res *ipc.CheckResult) (provs map[ipc.Source]*ipc.ProviderOutcome) {
	provs = map[ipc.Source]*ipc.ProviderOutcome{}
	for _, pr := range res.Successful {
		provs[pr.Source] = &ipc.ProviderOutcome{
			Status:  ipc.StatusSuccess,
			Data:    pr.Data,
			RawData: pr.RawData,
		}
	}

	for _, pe := range res.Errors {
		provs[pe.Source] = &ipc.ProviderOutcome{
			Status: ipc.StatusError,
			Err:    pe.Err,
		}
	}

	return provs
}

// apiErrors returns the provider errors of res, never nil.
func apiErrors(res *ipc.CheckResult) (errs []*ipc.ProviderError) {
	if res.Errors == nil {
		return []*ipc.ProviderError{}
	}

	return res.Errors
}

// overlayEdge applies the edge snapshot to rec: edge-only metrics are copied
// verbatim, geography and ASN only fill gaps the providers left.
func overlayEdge(rec *ipc.Derived, edge *ipc.EdgeSnapshot) {
	rec.Summary.Edge = &ipc.EdgeInfo{
		Colo:         edge.Colo,
		TLSVersion:   edge.TLSVersion,
		HTTPProtocol: edge.HTTPProtocol,
		BotScore:     edge.BotScore,
		IsWARP:       edge.IsWARP,
	}

	loc := &rec.Summary.Location
	if loc.City == "" {
		loc.City = edge.City
	}

	if loc.Region == "" {
		loc.Region = edge.Region
	}

	if loc.Country == "" {
		loc.Country = edge.Country
	}

	if loc.Timezone == "" {
		loc.Timezone = edge.Timezone
	}

	if loc.Lat == nil && edge.Latitude != nil {
		loc.Lat, loc.Lon = edge.Latitude, edge.Longitude
	}

	net := &rec.Summary.Network
	if net.ASN == "" {
		net.ASN = edge.ASN
	}

	if net.Organization == "" {
		net.Organization = edge.ASOrganization
	}
}
