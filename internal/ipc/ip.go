package ipc

import (
	"fmt"
	"net/netip"
	"strings"
)

// AddrFamily is the address family of a validated IP.
type AddrFamily string

// Address families as they appear in API responses.
const (
	FamilyIPv4 AddrFamily = "IPv4"
	FamilyIPv6 AddrFamily = "IPv6"
)

// ValidateIP checks that s is a textual IPv4 or IPv6 address, with an
// optional zone identifier, and returns its family.  The address itself is
// never rewritten, it is only validated and transported.
func ValidateIP(s string) (fam AddrFamily, err error) {
	host := s
	if i := strings.IndexByte(host, '%'); i >= 0 {
		host = host[:i]
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		return "", fmt.Errorf("bad ip %q: %w", s, err)
	}

	if addr.Is4() || addr.Is4In6() {
		return FamilyIPv4, nil
	}

	return FamilyIPv6, nil
}

// IsIP reports whether s is a valid textual IP address.
func IsIP(s string) (ok bool) {
	_, err := ValidateIP(s)

	return err == nil
}
