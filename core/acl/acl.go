package acl

import (
	"fmt"
	"net/netip"
	"strings"
)

// AllowList decides which peers may talk to the server. Matching is by
// subnet; loopback is always allowed and cannot be removed.
type AllowList struct {
	subnets []netip.Prefix
}

// New creates an allow-list pre-seeded with 127.0.0.0/8 and ::1.
func New() *AllowList {
	return &AllowList{
		subnets: []netip.Prefix{
			netip.MustParsePrefix("127.0.0.0/8"),
			netip.MustParsePrefix("::1/128"),
		},
	}
}

// AddSubnet adds a CIDR subnet ("192.168.1.0/24") or a bare address
// ("10.0.0.5", treated as a host subnet). An unparsable spec is a
// configuration error and the server must refuse to start on it.
func (a *AllowList) AddSubnet(spec string) error {
	if strings.Contains(spec, "/") {
		p, err := netip.ParsePrefix(spec)
		if err != nil {
			return fmt.Errorf("invalid allow-list subnet %q: %w", spec, err)
		}
		a.subnets = append(a.subnets, p.Masked())
		return nil
	}

	addr, err := netip.ParseAddr(spec)
	if err != nil {
		return fmt.Errorf("invalid allow-list subnet %q: %w", spec, err)
	}
	addr = addr.Unmap()
	a.subnets = append(a.subnets, netip.PrefixFrom(addr, addr.BitLen()))
	return nil
}

// Allows reports whether addr matches any allowed subnet. Mapped IPv4
// addresses are unmapped first so ::ffff:127.0.0.1 counts as loopback.
func (a *AllowList) Allows(addr netip.Addr) bool {
	if !addr.IsValid() {
		return false
	}
	addr = addr.Unmap()
	for _, s := range a.subnets {
		if s.Contains(addr) {
			return true
		}
	}
	return false
}

// String lists the allowed subnets, space separated, for startup logging.
func (a *AllowList) String() string {
	parts := make([]string, len(a.subnets))
	for i, s := range a.subnets {
		parts[i] = s.String()
	}
	return strings.Join(parts, " ")
}
