package fetcher_test

import (
	"net/netip"
	"testing"

	"github.com/jonesrussell/north-cloud/harvester/internal/fetcher"
)

func TestDenylist_Blocked(t *testing.T) {
	t.Parallel()

	dl := fetcher.DefaultDenylist()
	tests := map[string]bool{
		"127.0.0.1":        true,
		"10.1.2.3":         true,
		"172.20.0.1":       true,
		"192.168.1.1":      true,
		"169.254.169.254":  true,
		"100.100.100.200":  true,
		"0.0.0.0":          true,
		"::1":              true,
		"fe80::1":          true,
		"fd00:ec2::254":    true,
		"::ffff:127.0.0.1": true,
		"93.184.215.14":    false,
		"8.8.8.8":          false,
		"2606:4700::1111":  false,
	}
	for addr, want := range tests {
		if got := dl.Blocked(netip.MustParseAddr(addr)); got != want {
			t.Errorf("Blocked(%s) = %v, want %v", addr, got, want)
		}
	}
}

func TestDenylist_AllowAndExtraDeny(t *testing.T) {
	t.Parallel()

	dl, err := fetcher.NewDenylist([]string{"8.8.8.0/24"}, []string{"10.5.0.0/16"})
	if err != nil {
		t.Fatalf("NewDenylist() error = %v", err)
	}
	if !dl.Blocked(netip.MustParseAddr("8.8.8.8")) {
		t.Error("expected extra deny range to block 8.8.8.8")
	}
	if dl.Blocked(netip.MustParseAddr("10.5.1.1")) {
		t.Error("expected allow range to permit 10.5.1.1")
	}
	if !dl.Blocked(netip.MustParseAddr("10.6.1.1")) {
		t.Error("expected 10.6.1.1 outside the allow range to stay blocked")
	}
}

func TestNewDenylist_InvalidCIDR(t *testing.T) {
	t.Parallel()

	if _, err := fetcher.NewDenylist([]string{"not-a-cidr"}, nil); err == nil {
		t.Error("expected error for invalid cidr")
	}
}
