package derive

import (
	"strings"

	"github.com/ssfun/ip-check/internal/ipc"
)

// typePattern is one normalization rule: a raw usage-type label matches the
// category when it equals one of the exact strings or contains one of the
// substrings.  All matching is done on the uppercased trimmed label.
type typePattern struct {
	value    ipc.IPTypeValue
	exact    []string
	includes []string
}

// typePatterns is the ordered normalization table.  Order matters:
// "Mobile ISP" must match mobile before the ISP substring classifies it as
// residential, and "Data Center/Web Hosting/Transit" must match datacenter
// first.
var typePatterns = []*typePattern{{
	value: ipc.IPTypeDatacenter,
	exact: []string{"DCH", "CDN", "SES"},
	includes: []string{
		"DATA CENTER",
		"DATACENTER",
		"HOSTING",
		"TRANSIT",
		"CONTENT DELIVERY",
		"CLOUD",
		"SERVER",
		"SPIDER",
		"CRAWLER",
	},
}, {
	value:    ipc.IPTypeMobile,
	exact:    []string{"MOB", "ISP/MOB"},
	includes: []string{"MOBILE", "CELLULAR", "WIRELESS"},
}, {
	value: ipc.IPTypeEducation,
	exact: []string{"EDU", "LIB"},
	includes: []string{
		"EDUCATION",
		"UNIVERSITY",
		"COLLEGE",
		"SCHOOL",
		"LIBRARY",
	},
}, {
	value:    ipc.IPTypeGovernment,
	exact:    []string{"GOV", "MIL"},
	includes: []string{"GOVERNMENT", "MILITARY"},
}, {
	value:    ipc.IPTypeCommercial,
	exact:    []string{"COM"},
	includes: []string{"COMMERCIAL", "CORPORATE", "BUSINESS"},
}, {
	value:    ipc.IPTypeResidential,
	exact:    []string{"ISP"},
	includes: []string{"RESIDENTIAL", "ISP", "FIXED LINE"},
}}

// NormalizeType maps a raw provider usage-type label onto a normalized
// category.  Unmatched and empty labels normalize to [ipc.IPTypeUnknown].
func NormalizeType(raw string) (v ipc.IPTypeValue) {
	up := strings.ToUpper(strings.TrimSpace(raw))
	if up == "" {
		return ipc.IPTypeUnknown
	}

	for _, p := range typePatterns {
		for _, e := range p.exact {
			if up == e {
				return p.value
			}
		}
	}

	for _, p := range typePatterns {
		for _, inc := range p.includes {
			if strings.Contains(up, inc) {
				return p.value
			}
		}
	}

	return ipc.IPTypeUnknown
}

// typeCandidate is one raw usage-type label pulled from the merged map.
type typeCandidate struct {
	source ipc.Source
	raw    string
}

// typeCandidates extracts the usage-type labels from merged in the fixed
// candidate order.  The order is the tie-break of the vote, so it must stay
// stable.
func typeCandidates(merged ipc.Map) (cands []*typeCandidate) {
	if v, ok := merged.NonEmptyString("connection_type"); ok {
		cands = append(cands, &typeCandidate{source: ipc.SourceIPQS, raw: v})
	}

	if v, ok := merged.NonEmptyString("usageType"); ok {
		cands = append(cands, &typeCandidate{source: ipc.SourceAbuseIPDB, raw: v})
	}

	if v, ok := merged.NonEmptyString("ip2location_usage"); ok {
		cands = append(cands, &typeCandidate{source: ipc.SourceIP2Location, raw: v})
	}

	if hosting, ok := merged.Bool("ipinfo_privacy_hosting"); ok && hosting {
		cands = append(cands, &typeCandidate{source: ipc.SourceIPInfo, raw: "hosting"})
	}

	return cands
}

// voteType tallies the normalized usage-type candidates of merged.  The
// winner is the category with the most votes; ties break toward the earliest
// candidate.  Candidates that normalize to unknown do not vote and are not
// listed.
func voteType(merged ipc.Map) (t ipc.IPType) {
	t.Value = ipc.IPTypeUnknown
	t.Sources = []*ipc.TypeSourceDetail{}

	counts := map[ipc.IPTypeValue]int{}
	for _, c := range typeCandidates(merged) {
		norm := NormalizeType(c.raw)
		if norm == ipc.IPTypeUnknown {
			continue
		}

		t.Sources = append(t.Sources, &ipc.TypeSourceDetail{
			Source:     c.source,
			RawType:    c.raw,
			Normalized: norm,
		})

		counts[norm]++
	}

	best := 0
	for _, d := range t.Sources {
		if n := counts[d.Normalized]; n > best {
			best = n
			t.Value = d.Normalized
			t.RawLabel = d.RawType
		}
	}

	return t
}

// isHostingType reports whether merged describes a hosting-class IP: the
// vote winner is datacenter, the hosting privacy flag is set, or any raw
// usage-type label individually normalizes to datacenter.
func isHostingType(merged ipc.Map, winner ipc.IPTypeValue) (ok bool) {
	if winner == ipc.IPTypeDatacenter {
		return true
	}

	if hosting, has := merged.Bool("ipinfo_privacy_hosting"); has && hosting {
		return true
	}

	for _, c := range typeCandidates(merged) {
		if NormalizeType(c.raw) == ipc.IPTypeDatacenter {
			return true
		}
	}

	return false
}
