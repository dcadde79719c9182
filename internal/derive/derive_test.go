package derive_test

import (
	"testing"
	"time"

	"github.com/AdguardTeam/golibs/testutil/faketime"
	"github.com/ssfun/ip-check/internal/derive"
	"github.com/ssfun/ip-check/internal/ipc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testNow is the common fixed time for tests.
var testNow = time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

// newTestDeriver returns a deriver with a frozen clock.
func newTestDeriver(tb testing.TB) (d *derive.Deriver) {
	tb.Helper()

	return derive.New(&derive.Config{
		Clock: &faketime.Clock{
			OnNow: func() (t time.Time) { return testNow },
		},
	})
}

func TestNormalizeType(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		raw  string
		want ipc.IPTypeValue
	}{{
		raw:  "Residential",
		want: ipc.IPTypeResidential,
	}, {
		raw:  "Fixed Line ISP",
		want: ipc.IPTypeResidential,
	}, {
		raw:  "ISP",
		want: ipc.IPTypeResidential,
	}, {
		raw:  "Mobile ISP",
		want: ipc.IPTypeMobile,
	}, {
		raw:  "MOB",
		want: ipc.IPTypeMobile,
	}, {
		raw:  "Data Center/Web Hosting/Transit",
		want: ipc.IPTypeDatacenter,
	}, {
		raw:  "DCH",
		want: ipc.IPTypeDatacenter,
	}, {
		raw:  "hosting",
		want: ipc.IPTypeDatacenter,
	}, {
		raw:  "Content Delivery Network",
		want: ipc.IPTypeDatacenter,
	}, {
		raw:  "Corporate",
		want: ipc.IPTypeCommercial,
	}, {
		raw:  "COM",
		want: ipc.IPTypeCommercial,
	}, {
		raw:  "University/College/School",
		want: ipc.IPTypeEducation,
	}, {
		raw:  "Library",
		want: ipc.IPTypeEducation,
	}, {
		raw:  "Government",
		want: ipc.IPTypeGovernment,
	}, {
		raw:  "MIL",
		want: ipc.IPTypeGovernment,
	}, {
		raw:  "Reserved",
		want: ipc.IPTypeUnknown,
	}, {
		raw:  "",
		want: ipc.IPTypeUnknown,
	}}

	for _, tc := range testCases {
		t.Run(tc.raw, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.want, derive.NormalizeType(tc.raw))
		})
	}
}

func TestDeriver_Derive_hostingIP(t *testing.T) {
	t.Parallel()

	// The shape of a well-known public resolver with every provider
	// reporting hosting-class usage.
	res := &ipc.CheckResult{
		IP:  "8.8.8.8",
		ASN: "AS15169",
		Merged: ipc.Map{
			"asn":                      "AS15169",
			"connection_type":          "Data Center",
			"usageType":                "Data Center/Web Hosting/Transit",
			"ip2location_usage":        "DCH",
			"ip2location_country_code": "US",
			"country_code":             "US",
			"ipguide_asn_country":      "US",
			"ipqs_fraud_score":         float64(0),
		},
		Successful: []*ipc.ProviderResult{
			{Source: ipc.SourceIPGuide, Status: ipc.StatusSuccess},
			{Source: ipc.SourceIPInfo, Status: ipc.StatusSuccess},
			{Source: ipc.SourceIPQS, Status: ipc.StatusSuccess},
			{Source: ipc.SourceAbuseIPDB, Status: ipc.StatusSuccess},
			{Source: ipc.SourceIP2Location, Status: ipc.StatusSuccess},
			{Source: ipc.SourceCloudflareASN, Status: ipc.StatusSuccess},
		},
		TotalAPICount: 6,
	}

	rec := newTestDeriver(t).Derive(res, nil)

	assert.Equal(t, "8.8.8.8", rec.IP)
	assert.Equal(t, ipc.IPTypeDatacenter, rec.Summary.IPType.Value)
	assert.True(t, rec.Summary.Risk.IsHosting)

	src := rec.Summary.IPSource
	require.NotNil(t, src.IsNative)
	assert.True(t, *src.IsNative)
	assert.Equal(t, "US", src.GeoCountry)
	assert.Equal(t, "US", src.RegistryCountry)

	assert.Equal(t, []ipc.Source{
		ipc.SourceIPGuide,
		ipc.SourceIPInfo,
		ipc.SourceIPQS,
		ipc.SourceAbuseIPDB,
		ipc.SourceIP2Location,
		ipc.SourceCloudflareASN,
	}, rec.Meta.Sources)
	assert.Equal(t, testNow, rec.Meta.Timestamp)
}

func TestDeriver_Derive_residentialBroadcast(t *testing.T) {
	t.Parallel()

	res := &ipc.CheckResult{
		IP: "198.51.100.1",
		Merged: ipc.Map{
			"ipguide_asn_country":      "DE",
			"ip2location_country_code": "US",
			"connection_type":          "Residential",
			"ip2location_usage":        "ISP",
			"usageType":                "Residential",
		},
	}

	rec := newTestDeriver(t).Derive(res, nil)

	assert.Equal(t, ipc.IPTypeResidential, rec.Summary.IPType.Value)
	assert.False(t, rec.Summary.Risk.IsHosting)

	src := rec.Summary.IPSource
	require.NotNil(t, src.IsNative)
	assert.False(t, *src.IsNative)
	assert.Contains(t, src.Reason, "DE")
	assert.Contains(t, src.Reason, "US")
}

func TestDeriver_Derive_unknownType(t *testing.T) {
	t.Parallel()

	res := &ipc.CheckResult{
		IP: "192.0.2.1",
		Merged: ipc.Map{
			"ip2location_usage": "Reserved",
		},
	}

	rec := newTestDeriver(t).Derive(res, nil)

	assert.Equal(t, ipc.IPTypeUnknown, rec.Summary.IPType.Value)
	assert.Empty(t, rec.Summary.IPType.Sources)
}

func TestDeriver_Derive_nativeJudgment(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		wantNative *bool
		merged     ipc.Map
		name       string
		wantReason string
	}{{
		wantNative: nil,
		merged:     ipc.Map{},
		name:       "no_data",
		wantReason: "insufficient data",
	}, {
		wantNative: nil,
		merged:     ipc.Map{"country_code": "JP"},
		name:       "geo_only",
		wantReason: "registry country unknown, geo JP",
	}, {
		wantNative: nil,
		merged:     ipc.Map{"ipguide_asn_country": "JP"},
		name:       "registry_only",
		wantReason: "geo country unknown, registry JP",
	}, {
		wantNative: newBool(true),
		merged: ipc.Map{
			"country_code":        "JP",
			"ipguide_asn_country": "JP",
		},
		name:       "native",
		wantReason: "registry == geo (JP)",
	}, {
		wantNative: newBool(false),
		merged: ipc.Map{
			"country_code":        "SG",
			"ipguide_asn_country": "JP",
		},
		name:       "broadcast",
		wantReason: "registry JP, geo SG",
	}}

	d := newTestDeriver(t)
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			rec := d.Derive(&ipc.CheckResult{IP: "192.0.2.1", Merged: tc.merged}, nil)

			src := rec.Summary.IPSource
			if tc.wantNative == nil {
				assert.Nil(t, src.IsNative)
			} else {
				require.NotNil(t, src.IsNative)
				assert.Equal(t, *tc.wantNative, *src.IsNative)
			}

			assert.Equal(t, tc.wantReason, src.Reason)
		})
	}
}

func TestDeriver_Derive_hostingFlagOnly(t *testing.T) {
	t.Parallel()

	// No usage-type vote wins datacenter, but the privacy flag forces
	// isHosting.
	res := &ipc.CheckResult{
		IP: "192.0.2.1",
		Merged: ipc.Map{
			"connection_type":        "Residential",
			"usageType":              "Residential",
			"ipinfo_privacy_hosting": true,
		},
	}

	rec := newTestDeriver(t).Derive(res, nil)

	assert.Equal(t, ipc.IPTypeResidential, rec.Summary.IPType.Value)
	assert.True(t, rec.Summary.Risk.IsHosting)
}

func TestDeriver_Derive_fieldProvenance(t *testing.T) {
	t.Parallel()

	res := &ipc.CheckResult{
		IP: "192.0.2.1",
		Merged: ipc.Map{
			"ipqs_isp":         "Example Net",
			"ip2location_isp":  "Example Networks Ltd",
			"ipinfo_timezone":  "Europe/Berlin",
			"ipqs_asn":         "AS64496",
			"ipguide_asn":      "AS64496",
			"ipinfo_latitude":  52.52,
			"ipinfo_longitude": 13.405,
		},
	}

	rec := newTestDeriver(t).Derive(res, nil)

	isp := rec.Fields[derive.FieldISP]
	require.NotNil(t, isp)
	assert.Equal(t, "Example Net", isp.Value)
	require.Len(t, isp.Sources, 2)
	assert.Equal(t, "ipqs", isp.Sources[0].Source)
	assert.Equal(t, "ip2location", isp.Sources[1].Source)

	tz := rec.Fields[derive.FieldTimezone]
	assert.Equal(t, "Europe/Berlin", tz.Value)
	assert.Len(t, tz.Sources, 1)

	asn := rec.Fields[derive.FieldASN]
	assert.Equal(t, "AS64496", asn.Value)
	assert.Len(t, asn.Sources, 2)

	coords := rec.Fields[derive.FieldCoordinates]
	require.NotNil(t, coords.Value)
	assert.Equal(t, []float64{52.52, 13.405}, coords.Value)
}

func TestDeriver_Derive_providersAndErrors(t *testing.T) {
	t.Parallel()

	res := &ipc.CheckResult{
		IP: "192.0.2.1",
		Successful: []*ipc.ProviderResult{{
			Source: ipc.SourceIPGuide,
			Status: ipc.StatusSuccess,
			Data:   ipc.Map{"asn": "AS64496"},
		}},
		Errors: []*ipc.ProviderError{{
			Source: ipc.SourceIPQS,
			Err:    "All API keys exhausted",
		}},
		TotalAPICount: 2,
	}

	rec := newTestDeriver(t).Derive(res, nil)

	require.Len(t, rec.Providers, 2)
	assert.Equal(t, ipc.StatusSuccess, rec.Providers[ipc.SourceIPGuide].Status)
	assert.Equal(t, ipc.StatusError, rec.Providers[ipc.SourceIPQS].Status)

	assert.Equal(t, []ipc.Source{ipc.SourceIPGuide}, rec.Meta.Sources)
	require.Len(t, rec.Meta.APIErrors, 1)
	assert.Equal(t, ipc.SourceIPQS, rec.Meta.APIErrors[0].Source)
	assert.Equal(t, 2, rec.Meta.TotalAPICount)
}

func TestDeriver_Derive_edgeOverlay(t *testing.T) {
	t.Parallel()

	res := &ipc.CheckResult{
		IP: "192.0.2.1",
		Merged: ipc.Map{
			"ipinfo_city":  "Berlin",
			"country_code": "DE",
		},
	}

	bot := 99.0
	edge := &ipc.EdgeSnapshot{
		Colo:         "FRA",
		TLSVersion:   "TLSv1.3",
		HTTPProtocol: "HTTP/2",
		BotScore:     &bot,
		IsWARP:       true,
		City:         "Frankfurt",
		Country:      "DE",
		ASN:          "AS13335",
	}

	rec := newTestDeriver(t).Derive(res, edge)

	require.NotNil(t, rec.Summary.Edge)
	assert.Equal(t, "FRA", rec.Summary.Edge.Colo)
	assert.True(t, rec.Summary.Edge.IsWARP)

	// Provider geography wins over the edge snapshot.
	assert.Equal(t, "Berlin", rec.Summary.Location.City)

	// The edge fills what the providers left empty.
	assert.Equal(t, "AS13335", rec.Summary.Network.ASN)
}

func TestDeriver_Derive_deterministic(t *testing.T) {
	t.Parallel()

	res := &ipc.CheckResult{
		IP: "192.0.2.1",
		Merged: ipc.Map{
			"connection_type":     "Mobile",
			"ip2location_usage":   "MOB",
			"country_code":        "FR",
			"ipguide_asn_country": "FR",
			"ipqs_isp":            "Example Mobile",
		},
	}

	d := newTestDeriver(t)
	first := d.Derive(res, nil)
	second := d.Derive(res, nil)

	assert.Equal(t, first.Summary, second.Summary)
	assert.Equal(t, first.Fields, second.Fields)
}

// newBool returns a pointer to v.
func newBool(v bool) (p *bool) {
	return &v
}
