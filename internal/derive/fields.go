package derive

import (
	"strings"

	"github.com/ssfun/ip-check/internal/ipc"
)

// User-visible field names with per-source provenance.
const (
	FieldASN          = "asn"
	FieldCoordinates  = "coordinates"
	FieldIPType       = "ipType"
	FieldISP          = "isp"
	FieldLocation     = "location"
	FieldOrganization = "organization"
	FieldTimezone     = "timezone"
)

// fieldKey binds a display source label to its namespaced merged-map key.
type fieldKey struct {
	source string
	key    string
}

// Per-field source precedence.  The first non-empty value becomes the chosen
// one; every non-empty value is listed in the provenance.
var (
	timezoneKeys = []fieldKey{
		{source: "ipinfo", key: "ipinfo_timezone"},
		{source: "ipqs", key: "ipqs_timezone"},
		{source: "ip2location", key: "ip2location_timezone"},
		{source: "ipguide", key: "ipguide_timezone"},
	}

	ispKeys = []fieldKey{
		{source: "ipqs", key: "ipqs_isp"},
		{source: "abuseipdb", key: "abuseipdb_isp"},
		{source: "ip2location", key: "ip2location_isp"},
	}

	orgKeys = []fieldKey{
		{source: "ipqs", key: "ipqs_organization"},
		{source: "ipinfo", key: "ipinfo_org"},
		{source: "cloudflare_asn", key: "cloudflare_asn_org"},
		{source: "ipguide", key: "ipguide_asn_org"},
	}

	asnKeys = []fieldKey{
		{source: "ipqs", key: "ipqs_asn"},
		{source: "ipinfo", key: "ipinfo_asn"},
		{source: "ip2location", key: "ip2location_asn"},
		{source: "ipguide", key: "ipguide_asn"},
	}
)

// coordKey binds a display source label to its latitude and longitude keys.
type coordKey struct {
	source string
	lat    string
	lon    string
}

// coordKeys is the source precedence for the coordinates field.
var coordKeys = []*coordKey{
	{source: "ipinfo", lat: "ipinfo_latitude", lon: "ipinfo_longitude"},
	{source: "ipqs", lat: "ipqs_latitude", lon: "ipqs_longitude"},
	{source: "ip2location", lat: "ip2location_latitude", lon: "ip2location_longitude"},
	{source: "ipguide", lat: "ipguide_latitude", lon: "ipguide_longitude"},
}

// locKey binds a display source label to its location component keys.  Empty
// component keys are skipped.
type locKey struct {
	source  string
	city    string
	region  string
	country string
}

// locKeys is the source precedence for the composed location field.
var locKeys = []*locKey{
	{source: "ipinfo", city: "ipinfo_city", region: "ipinfo_region", country: "ipinfo_country"},
	{source: "ipqs", city: "ipqs_city", region: "ipqs_region", country: "country_code"},
	{
		source:  "ip2location",
		city:    "ip2location_city",
		region:  "ip2location_region",
		country: "ip2location_country_code",
	},
	{source: "ipguide", city: "ipguide_city"},
}

// stringField collects the provenance of one string-valued field.
func stringField(merged ipc.Map, keys []fieldKey) (fv *ipc.FieldValue) {
	fv = &ipc.FieldValue{
		Sources: []*ipc.FieldSource{},
	}

	for _, fk := range keys {
		v, ok := merged.NonEmptyString(fk.key)
		if !ok {
			continue
		}

		fv.Sources = append(fv.Sources, &ipc.FieldSource{
			Source: fk.source,
			Value:  v,
		})

		if fv.Value == nil {
			fv.Value = v
		}
	}

	return fv
}

// coordsField collects the provenance of the coordinates field.  Each value
// is a [lat, lon] pair.
func coordsField(merged ipc.Map) (fv *ipc.FieldValue) {
	fv = &ipc.FieldValue{
		Sources: []*ipc.FieldSource{},
	}

	for _, ck := range coordKeys {
		lat, latOK := merged.Float64(ck.lat)
		lon, lonOK := merged.Float64(ck.lon)
		if !latOK || !lonOK {
			continue
		}

		pair := []float64{lat, lon}
		fv.Sources = append(fv.Sources, &ipc.FieldSource{
			Source: ck.source,
			Value:  pair,
		})

		if fv.Value == nil {
			fv.Value = pair
		}
	}

	return fv
}

// locationField collects the provenance of the composed "City, Region,
// Country" field.
func locationField(merged ipc.Map) (fv *ipc.FieldValue) {
	fv = &ipc.FieldValue{
		Sources: []*ipc.FieldSource{},
	}

	for _, lk := range locKeys {
		var parts []string
		for _, key := range []string{lk.city, lk.region, lk.country} {
			if key == "" {
				continue
			}

			if v, ok := merged.NonEmptyString(key); ok {
				parts = append(parts, v)
			}
		}

		if len(parts) == 0 {
			continue
		}

		s := strings.Join(parts, ", ")
		fv.Sources = append(fv.Sources, &ipc.FieldSource{
			Source: lk.source,
			Value:  s,
		})

		if fv.Value == nil {
			fv.Value = s
		}
	}

	return fv
}

// typeField converts the usage-type vote into a provenance field.
func typeField(t ipc.IPType) (fv *ipc.FieldValue) {
	fv = &ipc.FieldValue{
		Sources: []*ipc.FieldSource{},
	}

	if t.Value != ipc.IPTypeUnknown {
		fv.Value = string(t.Value)
	}

	for _, d := range t.Sources {
		fv.Sources = append(fv.Sources, &ipc.FieldSource{
			Source: string(d.Source),
			Value:  d.RawType,
		})
	}

	return fv
}

// buildFields assembles the full per-field provenance map.
func buildFields(merged ipc.Map, t ipc.IPType) (fields map[string]*ipc.FieldValue) {
	return map[string]*ipc.FieldValue{
		FieldTimezone:     stringField(merged, timezoneKeys),
		FieldISP:          stringField(merged, ispKeys),
		FieldOrganization: stringField(merged, orgKeys),
		FieldASN:          stringField(merged, asnKeys),
		FieldCoordinates:  coordsField(merged),
		FieldLocation:     locationField(merged),
		FieldIPType:       typeField(t),
	}
}
