package provider

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/AdguardTeam/golibs/httphdr"
	"github.com/ssfun/ip-check/internal/ipc"
	"github.com/ssfun/ip-check/internal/ipchttp"
)

// Default provider endpoints.
const (
	defaultIPGuideURL     = "https://ip.guide"
	defaultIPInfoURL      = "https://ipinfo.io"
	defaultIPQSURL        = "https://www.ipqualityscore.com/api/json/ip"
	defaultAbuseIPDBURL   = "https://api.abuseipdb.com/api/v2/check"
	defaultIP2LocationURL = "https://api.ip2location.io"
	defaultCloudflareURL  = "https://api.cloudflare.com/client/v4/radar/entities/asns"
)

// newIPGuide returns the descriptor of the zero-key ip.guide provider.  It
// is the source of the ASN-registry country used by the native-IP judgment.
func newIPGuide(base *url.URL) (d *Descriptor) {
	return &Descriptor{
		Name:    ipc.SourceIPGuide,
		BaseURL: base,
		BuildURL: func(base *url.URL, target *Target, _ string) (u *url.URL) {
			return base.JoinPath(target.IP)
		},
		Transform: func(body map[string]any) (data ipc.Map) {
			data = ipc.Map{}

			as := digMap(body, "network", "autonomous_system")
			asn := asnString(dig(as, "asn"))
			setStr(data, "asn", asn)
			setStr(data, "ipguide_asn", asn)
			setStr(data, "ipguide_asn_name", digString(as, "name"))
			setStr(data, "ipguide_asn_org", digString(as, "organization"))
			setStr(data, "ipguide_asn_country", strings.ToUpper(digString(as, "country")))

			setStr(data, "ipguide_city", digString(body, "location", "city"))
			setStr(data, "ipguide_timezone", digString(body, "location", "timezone"))

			lat, latOK := digFloat(body, "location", "latitude")
			lon, lonOK := digFloat(body, "location", "longitude")
			setFloat(data, "ipguide_latitude", lat, latOK)
			setFloat(data, "ipguide_longitude", lon, lonOK)

			return data
		},
		RawTransform: func(body map[string]any) (raw map[string]any) {
			return map[string]any{
				"network":  dig(body, "network"),
				"location": dig(body, "location"),
			}
		},
	}
}

// newIPInfo returns the descriptor of the ipinfo.io provider.
func newIPInfo(base *url.URL) (d *Descriptor) {
	return &Descriptor{
		Name:    ipc.SourceIPInfo,
		BaseURL: base,
		BuildURL: func(base *url.URL, target *Target, key string) (u *url.URL) {
			u = base.JoinPath(target.IP)
			u.RawQuery = url.Values{"token": []string{key}}.Encode()

			return u
		},
		CheckError: func(body map[string]any) (isErr bool) {
			return dig(body, "error") != nil || digBool(body, "bogon")
		},
		ErrorMessage: func(body map[string]any) (msg string) {
			if digBool(body, "bogon") {
				return "bogon address"
			}

			msg = digString(body, "error", "message")
			if msg == "" {
				msg = digString(body, "error", "title")
			}

			return msg
		},
		Transform: func(body map[string]any) (data ipc.Map) {
			data = ipc.Map{}

			country := strings.ToUpper(digString(body, "country"))
			setStr(data, "ipinfo_country", country)
			setStr(data, "country_code", country)
			setStr(data, "ipinfo_city", digString(body, "city"))
			setStr(data, "ipinfo_region", digString(body, "region"))
			setStr(data, "ipinfo_timezone", digString(body, "timezone"))

			org := digString(body, "org")
			setStr(data, "ipinfo_org", org)
			if asn, _, found := strings.Cut(org, " "); found && strings.HasPrefix(asn, "AS") {
				setStr(data, "asn", asn)
				setStr(data, "ipinfo_asn", asn)
			}

			if lat, lon, ok := splitLoc(digString(body, "loc")); ok {
				data["ipinfo_latitude"] = lat
				data["ipinfo_longitude"] = lon
			}

			privacy := digMap(body, "privacy")
			if privacy != nil {
				data["ipinfo_privacy_vpn"] = digBool(privacy, "vpn")
				data["ipinfo_privacy_proxy"] = digBool(privacy, "proxy")
				data["ipinfo_privacy_tor"] = digBool(privacy, "tor")
				data["ipinfo_privacy_hosting"] = digBool(privacy, "hosting")
			}

			return data
		},
		RawTransform: func(body map[string]any) (raw map[string]any) {
			raw = map[string]any{}
			for _, k := range []string{"city", "region", "country", "org", "timezone", "loc", "privacy"} {
				if v := dig(body, k); v != nil {
					raw[k] = v
				}
			}

			return raw
		},
	}
}

// newIPQS returns the descriptor of the IPQualityScore provider.  The key is
// a path element of the request URL.
func newIPQS(base *url.URL) (d *Descriptor) {
	return &Descriptor{
		Name:    ipc.SourceIPQS,
		BaseURL: base,
		BuildURL: func(base *url.URL, target *Target, key string) (u *url.URL) {
			u = base.JoinPath(key, target.IP)
			u.RawQuery = url.Values{"strictness": []string{"1"}}.Encode()

			return u
		},
		CheckError: func(body map[string]any) (isErr bool) {
			ok, has := dig(body, "success").(bool)

			return has && !ok
		},
		ErrorMessage: func(body map[string]any) (msg string) {
			return digString(body, "message")
		},
		Transform: func(body map[string]any) (data ipc.Map) {
			data = ipc.Map{}

			fraud, fraudOK := digFloat(body, "fraud_score")
			setFloat(data, "ipqs_fraud_score", fraud, fraudOK)

			setStr(data, "connection_type", digString(body, "connection_type"))

			country := strings.ToUpper(digString(body, "country_code"))
			setStr(data, "country_code", country)
			setStr(data, "ipqs_city", digString(body, "city"))
			setStr(data, "ipqs_region", digString(body, "region"))
			setStr(data, "ipqs_timezone", digString(body, "timezone"))
			setStr(data, "ipqs_isp", digString(body, "ISP"))
			setStr(data, "ipqs_organization", digString(body, "organization"))
			asn := asnString(dig(body, "ASN"))
			setStr(data, "asn", asn)
			setStr(data, "ipqs_asn", asn)

			data["ipqs_vpn"] = digBool(body, "vpn") || digBool(body, "active_vpn")
			data["ipqs_proxy"] = digBool(body, "proxy")
			data["ipqs_tor"] = digBool(body, "tor") || digBool(body, "active_tor")

			lat, latOK := digFloat(body, "latitude")
			lon, lonOK := digFloat(body, "longitude")
			setFloat(data, "ipqs_latitude", lat, latOK)
			setFloat(data, "ipqs_longitude", lon, lonOK)

			return data
		},
		RawTransform: func(body map[string]any) (raw map[string]any) {
			raw = map[string]any{}
			for _, k := range []string{
				"fraud_score", "connection_type", "ISP", "organization",
				"vpn", "proxy", "tor", "recent_abuse", "bot_status",
			} {
				if v := dig(body, k); v != nil {
					raw[k] = v
				}
			}

			return raw
		},
	}
}

// newAbuseIPDB returns the descriptor of the AbuseIPDB provider.  The key is
// passed as a request header.
func newAbuseIPDB(base *url.URL) (d *Descriptor) {
	return &Descriptor{
		Name:    ipc.SourceAbuseIPDB,
		BaseURL: base,
		BuildURL: func(base *url.URL, target *Target, _ string) (u *url.URL) {
			u = cloneURL(base)
			u.RawQuery = url.Values{
				"ipAddress":    []string{target.IP},
				"maxAgeInDays": []string{"90"},
			}.Encode()

			return u
		},
		BuildHeader: func(key string) (hdr http.Header) {
			return http.Header{
				"Key":          []string{key},
				httphdr.Accept: []string{ipchttp.HdrValApplicationJSON},
			}
		},
		CheckError: func(body map[string]any) (isErr bool) {
			return dig(body, "errors") != nil
		},
		ErrorMessage: func(body map[string]any) (msg string) {
			errs, _ := dig(body, "errors").([]any)
			if len(errs) == 0 {
				return ""
			}

			first, _ := errs[0].(map[string]any)

			return digString(first, "detail")
		},
		Transform: func(body map[string]any) (data ipc.Map) {
			data = ipc.Map{}

			d := digMap(body, "data")
			setStr(data, "usageType", digString(d, "usageType"))

			score, scoreOK := digFloat(d, "abuseConfidenceScore")
			setFloat(data, "abuseipdb_abuse_score", score, scoreOK)

			reports, reportsOK := digFloat(d, "totalReports")
			setFloat(data, "abuseipdb_total_reports", reports, reportsOK)

			setStr(data, "abuseipdb_last_reported_at", digString(d, "lastReportedAt"))
			setStr(data, "abuseipdb_isp", digString(d, "isp"))
			setStr(data, "abuseipdb_domain", digString(d, "domain"))
			setStr(data, "country_code", strings.ToUpper(digString(d, "countryCode")))
			data["abuseipdb_tor"] = digBool(d, "isTor")

			return data
		},
		RawTransform: func(body map[string]any) (raw map[string]any) {
			return digMap(body, "data")
		},
	}
}

// newIP2Location returns the descriptor of the ip2location.io provider.  The
// key is a query parameter.
func newIP2Location(base *url.URL) (d *Descriptor) {
	return &Descriptor{
		Name:    ipc.SourceIP2Location,
		BaseURL: base,
		BuildURL: func(base *url.URL, target *Target, key string) (u *url.URL) {
			u = cloneURL(base)
			u.RawQuery = url.Values{
				"key": []string{key},
				"ip":  []string{target.IP},
			}.Encode()

			return u
		},
		CheckError: func(body map[string]any) (isErr bool) {
			return dig(body, "error") != nil
		},
		ErrorMessage: func(body map[string]any) (msg string) {
			return digString(body, "error", "error_message")
		},
		Transform: func(body map[string]any) (data ipc.Map) {
			data = ipc.Map{}

			country := strings.ToUpper(digString(body, "country_code"))
			setStr(data, "ip2location_country_code", country)
			setStr(data, "country_code", country)
			setStr(data, "ip2location_usage", digString(body, "usage_type"))
			setStr(data, "ip2location_region", digString(body, "region_name"))
			setStr(data, "ip2location_city", digString(body, "city_name"))
			setStr(data, "ip2location_timezone", digString(body, "time_zone"))
			setStr(data, "ip2location_as", digString(body, "as"))
			setStr(data, "ip2location_isp", digString(body, "isp"))
			asn := asnString(dig(body, "asn"))
			setStr(data, "asn", asn)
			setStr(data, "ip2location_asn", asn)

			lat, latOK := digFloat(body, "latitude")
			lon, lonOK := digFloat(body, "longitude")
			setFloat(data, "ip2location_latitude", lat, latOK)
			setFloat(data, "ip2location_longitude", lon, lonOK)

			return data
		},
		RawTransform: func(body map[string]any) (raw map[string]any) {
			raw = map[string]any{}
			for _, k := range []string{
				"country_code", "country_name", "region_name", "city_name",
				"asn", "as", "usage_type",
			} {
				if v := dig(body, k); v != nil {
					raw[k] = v
				}
			}

			return raw
		},
	}
}

// newCloudflareASN returns the descriptor of the Cloudflare Radar ASN
// provider.  It is ASN-dependent and only queried in the second wave.
func newCloudflareASN(base *url.URL) (d *Descriptor) {
	return &Descriptor{
		Name:         ipc.SourceCloudflareASN,
		BaseURL:      base,
		ASNDependent: true,
		BuildURL: func(base *url.URL, target *Target, _ string) (u *url.URL) {
			return base.JoinPath(strings.TrimPrefix(target.ASN, "AS"))
		},
		BuildHeader: func(key string) (hdr http.Header) {
			return http.Header{
				httphdr.Authorization: []string{"Bearer " + key},
			}
		},
		CheckError: func(body map[string]any) (isErr bool) {
			ok, has := dig(body, "success").(bool)

			return has && !ok
		},
		ErrorMessage: func(body map[string]any) (msg string) {
			errs, _ := dig(body, "errors").([]any)
			if len(errs) == 0 {
				return ""
			}

			first, _ := errs[0].(map[string]any)

			return digString(first, "message")
		},
		Transform: func(body map[string]any) (data ipc.Map) {
			data = ipc.Map{}

			as := digMap(body, "result", "asn")
			setStr(data, "cloudflare_asn_name", digString(as, "name"))
			setStr(data, "cloudflare_asn_org", digString(as, "orgName"))
			setStr(data, "cloudflare_asn_country", strings.ToUpper(digString(as, "country")))
			setStr(data, "cloudflare_asn_website", digString(as, "website"))

			users, usersOK := digFloat(as, "estimatedUsers", "estimatedUsers")
			setFloat(data, "cloudflare_asn_users", users, usersOK)

			return data
		},
		RawTransform: func(body map[string]any) (raw map[string]any) {
			return digMap(body, "result", "asn")
		},
	}
}

// splitLoc parses an ipinfo-style "lat,lon" string.
func splitLoc(loc string) (lat, lon float64, ok bool) {
	latStr, lonStr, found := strings.Cut(loc, ",")
	if !found {
		return 0, 0, false
	}

	lat, latErr := parseFloat(latStr)
	lon, lonErr := parseFloat(lonStr)
	if latErr != nil || lonErr != nil {
		return 0, 0, false
	}

	return lat, lon, true
}

// cloneURL returns a copy of u.
func cloneURL(u *url.URL) (c *url.URL) {
	cc := *u

	return &cc
}
