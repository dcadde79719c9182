package batch_test

import (
	"testing"

	"github.com/ssfun/ip-check/internal/batch"
	"github.com/ssfun/ip-check/internal/ipc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newExit returns an exit input for tests.
func newExit(t ipc.ExitType, ip string) (e *batch.ExitInput) {
	return &batch.ExitInput{
		ExitType: t,
		CFData: &ipc.EdgeSnapshot{
			IP:  ip,
			ASN: "AS64496",
		},
	}
}

func TestPrepareExits_ordering(t *testing.T) {
	t.Parallel()

	p := batch.PrepareExits([]*batch.ExitInput{
		newExit(ipc.ExitHEv6, "2001:db8::5"),
		newExit(ipc.ExitWARPv4, "192.0.2.3"),
		newExit(ipc.ExitIPv4, "192.0.2.1"),
		newExit(ipc.ExitWARPv6, "2001:db8::4"),
		newExit(ipc.ExitIPv6, "2001:db8::2"),
	})

	require.Len(t, p.IPList, 5)
	assert.Equal(t, 5, p.UniqueIPCount)

	gotTypes := make([]ipc.ExitType, 0, len(p.IPList))
	for _, item := range p.IPList {
		gotTypes = append(gotTypes, item.ExitType)
	}

	assert.Equal(t, []ipc.ExitType{
		ipc.ExitIPv4,
		ipc.ExitIPv6,
		ipc.ExitWARPv4,
		ipc.ExitWARPv6,
		ipc.ExitHEv6,
	}, gotTypes)

	first := p.IPList[0]
	assert.Equal(t, "192.0.2.1", first.IP)
	assert.Equal(t, "AS64496", first.ASN)
	assert.Equal(t, 1, first.Order)
}

func TestPrepareExits_dedupStable(t *testing.T) {
	t.Parallel()

	a := newExit(ipc.ExitIPv4, "192.0.2.1")
	b := newExit(ipc.ExitIPv6, "2001:db8::2")

	withDup := batch.PrepareExits([]*batch.ExitInput{a, b, newExit(ipc.ExitIPv4, "192.0.2.1")})
	withoutDup := batch.PrepareExits([]*batch.ExitInput{a, b})

	assert.Equal(t, withoutDup.IPList, withDup.IPList)
	assert.Equal(t, withoutDup.UniqueIPCount, withDup.UniqueIPCount)
}

func TestPrepareExits_idempotent(t *testing.T) {
	t.Parallel()

	once := batch.PrepareExits([]*batch.ExitInput{
		newExit(ipc.ExitWARPv6, "2001:db8::4"),
		newExit(ipc.ExitIPv4, "192.0.2.1"),
		newExit(ipc.ExitIPv4, "192.0.2.1"),
	})

	back := make([]*batch.ExitInput, 0, len(once.IPList))
	for _, item := range once.IPList {
		back = append(back, &batch.ExitInput{
			ExitType: item.ExitType,
			CFData:   item.CFData,
		})
	}

	twice := batch.PrepareExits(back)
	assert.Equal(t, once, twice)
}

func TestPrepareExits_skipsEmpty(t *testing.T) {
	t.Parallel()

	p := batch.PrepareExits([]*batch.ExitInput{
		{ExitType: ipc.ExitIPv4},
		{ExitType: ipc.ExitIPv6, CFData: &ipc.EdgeSnapshot{}},
		newExit(ipc.ExitHEv6, "2001:db8::5"),
	})

	require.Len(t, p.IPList, 1)
	assert.Equal(t, ipc.ExitHEv6, p.IPList[0].ExitType)
}

func TestPrepareExits_unknownTypeSortsLast(t *testing.T) {
	t.Parallel()

	p := batch.PrepareExits([]*batch.ExitInput{
		newExit(ipc.ExitType("zz_custom"), "192.0.2.9"),
		newExit(ipc.ExitType("aa_custom"), "192.0.2.8"),
		newExit(ipc.ExitHEv6, "2001:db8::5"),
	})

	require.Len(t, p.IPList, 3)
	assert.Equal(t, ipc.ExitHEv6, p.IPList[0].ExitType)

	// Unknown types share the same order and tie-break lexicographically.
	assert.Equal(t, ipc.ExitType("aa_custom"), p.IPList[1].ExitType)
	assert.Equal(t, ipc.ExitType("zz_custom"), p.IPList[2].ExitType)
}

func TestPrepared_Items(t *testing.T) {
	t.Parallel()

	p := batch.PrepareExits([]*batch.ExitInput{
		newExit(ipc.ExitIPv4, "192.0.2.1"),
		newExit(ipc.ExitIPv6, "2001:db8::2"),
	})

	items := p.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "192.0.2.1", items[0].IP)
	require.NotNil(t, items[0].Edge)
	assert.Equal(t, ipc.ExitIPv4, items[0].ExitType)
}
