package fetcher

import (
	"fmt"
	"net/netip"
)

// defaultDeniedCIDRs covers private, loopback, link-local, carrier-grade NAT,
// multicast, reserved, and cloud metadata ranges.
var defaultDeniedCIDRs = []string{
	"0.0.0.0/8",
	"10.0.0.0/8",
	"100.64.0.0/10",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"172.16.0.0/12",
	"192.0.0.0/24",
	"192.0.2.0/24",
	"192.168.0.0/16",
	"198.18.0.0/15",
	"198.51.100.0/24",
	"203.0.113.0/24",
	"224.0.0.0/4",
	"240.0.0.0/4",
	"::/128",
	"::1/128",
	"64:ff9b::/96",
	"100::/64",
	"2001:db8::/32",
	"fc00::/7",
	"fe80::/10",
	"ff00::/8",
}

// Denylist decides whether a resolved address may be dialed.
type Denylist struct {
	deny  []netip.Prefix
	allow []netip.Prefix
}

// NewDenylist builds the default denylist extended with extraDeny. Addresses
// inside allow are permitted even when a deny prefix covers them.
func NewDenylist(extraDeny, allow []string) (*Denylist, error) {
	d := &Denylist{}

	for _, cidr := range append(append([]string{}, defaultDeniedCIDRs...), extraDeny...) {
		p, err := netip.ParsePrefix(cidr)
		if err != nil {
			return nil, fmt.Errorf("parse deny cidr %q: %w", cidr, err)
		}
		d.deny = append(d.deny, p.Masked())
	}
	for _, cidr := range allow {
		p, err := netip.ParsePrefix(cidr)
		if err != nil {
			return nil, fmt.Errorf("parse allow cidr %q: %w", cidr, err)
		}
		d.allow = append(d.allow, p.Masked())
	}
	return d, nil
}

// DefaultDenylist returns the built-in denylist.
func DefaultDenylist() *Denylist {
	d, err := NewDenylist(nil, nil)
	if err != nil {
		panic(err)
	}
	return d
}

// Blocked reports whether addr must not be dialed.
func (d *Denylist) Blocked(addr netip.Addr) bool {
	addr = addr.Unmap().WithZone("")
	if !addr.IsValid() {
		return true
	}
	for _, p := range d.allow {
		if p.Contains(addr) {
			return false
		}
	}
	for _, p := range d.deny {
		if p.Contains(addr) {
			return true
		}
	}
	return addr.IsLoopback() || addr.IsLinkLocalUnicast() || addr.IsPrivate() || addr.IsUnspecified()
}
