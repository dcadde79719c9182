package derive

import (
	"fmt"
	"strings"

	"github.com/ssfun/ip-check/internal/ipc"
)

// judgeNative compares the geolocation country against the ASN-registry
// country.  An IP announced from the country where its ASN is registered is
// native; one geolocated elsewhere is a broadcast IP.  The judgment is nil
// when either side is missing.
func judgeNative(merged ipc.Map) (src ipc.IPSource) {
	geo, _ := merged.FirstString(
		"ip2location_country_code",
		"country_code",
		"ipinfo_country",
	)
	geo = strings.ToUpper(geo)

	reg, _ := merged.NonEmptyString("ipguide_asn_country")
	reg = strings.ToUpper(reg)

	src = ipc.IPSource{
		GeoCountry:      geo,
		RegistryCountry: reg,
	}

	switch {
	case geo != "" && reg != "" && geo == reg:
		src.IsNative = newBool(true)
		src.Reason = fmt.Sprintf("registry == geo (%s)", geo)
	case geo != "" && reg != "":
		src.IsNative = newBool(false)
		src.Reason = fmt.Sprintf("registry %s, geo %s", reg, geo)
	case reg != "":
		src.Reason = fmt.Sprintf("geo country unknown, registry %s", reg)
	case geo != "":
		src.Reason = fmt.Sprintf("registry country unknown, geo %s", geo)
	default:
		src.Reason = "insufficient data"
	}

	return src
}

// newBool returns a pointer to v.
func newBool(v bool) (p *bool) {
	return &v
}
