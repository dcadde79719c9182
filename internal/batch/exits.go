package batch

import (
	"cmp"
	"slices"

	"github.com/ssfun/ip-check/internal/ipc"
)

// ExitInput is one exit row of a prepare or exit-check request.
type ExitInput struct {
	// CFData is the edge snapshot of the exit probe.
	CFData *ipc.EdgeSnapshot `json:"cfData"`

	// ExitType names the outbound path.
	ExitType ipc.ExitType `json:"exitType"`
}

// PreparedItem is one row of a prepared exit list.
type PreparedItem struct {
	// CFData is the edge snapshot carried through from the input.
	CFData *ipc.EdgeSnapshot `json:"cfData"`

	// IP is the exit address from the edge snapshot.
	IP string `json:"ip"`

	// ExitType names the outbound path.
	ExitType ipc.ExitType `json:"exitType"`

	// ASN is the pre-known ASN from the edge snapshot, if any.
	ASN string `json:"asn,omitempty"`

	// Order is the canonical sort position of the exit type.
	Order int `json:"order"`
}

// Prepared is the result of [PrepareExits].
type Prepared struct {
	// IPList is the deduplicated, canonically ordered exit list.
	IPList []*PreparedItem `json:"ipList"`

	// UniqueIPCount is the number of distinct IPs in IPList.
	UniqueIPCount int `json:"uniqueIpCount"`
}

// PrepareExits turns raw exit rows into a canonical batch: rows without an
// IP are dropped, the rest are sorted by exit-type order with lexicographic
// ties, and duplicates by IP collapse to the first occurrence.  It is a pure
// function and idempotent, so a prepared list can be fed back unchanged.
func PrepareExits(exits []*ExitInput) (p *Prepared) {
	items := make([]*PreparedItem, 0, len(exits))
	for _, e := range exits {
		if e.CFData == nil || e.CFData.IP == "" {
			continue
		}

		items = append(items, &PreparedItem{
			CFData:   e.CFData,
			IP:       e.CFData.IP,
			ExitType: e.ExitType,
			ASN:      e.CFData.ASN,
			Order:    e.ExitType.Order(),
		})
	}

	slices.SortStableFunc(items, func(a, b *PreparedItem) (c int) {
		return cmp.Or(
			cmp.Compare(a.Order, b.Order),
			cmp.Compare(a.ExitType, b.ExitType),
		)
	})

	deduped := make([]*PreparedItem, 0, len(items))
	seen := map[string]struct{}{}
	for _, item := range items {
		if _, ok := seen[item.IP]; ok {
			continue
		}

		seen[item.IP] = struct{}{}
		deduped = append(deduped, item)
	}

	return &Prepared{
		IPList:        deduped,
		UniqueIPCount: len(deduped),
	}
}

// Items converts a prepared exit list into stream items.
func (p *Prepared) Items() (items []*Item) {
	items = make([]*Item, 0, len(p.IPList))
	for _, pi := range p.IPList {
		items = append(items, &Item{
			Edge:     pi.CFData,
			IP:       pi.IP,
			ExitType: pi.ExitType,
		})
	}

	return items
}
