package bridge

import (
	"net"
	"net/netip"
	"testing"
)

func TestEui64Address(t *testing.T) {
	prefix := netip.MustParseAddr("2001:db8::")
	mac := net.HardwareAddr{0x02, 0x42, 0xac, 0x11, 0x00, 0x02}

	addr, err := eui64Address(prefix, mac)
	if err != nil {
		t.Fatalf("eui64Address: %v", err)
	}

	want := netip.MustParseAddr("2001:db8::42:acff:fe11:2")
	if addr != want {
		t.Fatalf("eui64Address = %v, want %v", addr, want)
	}
}

func TestEui64Address_RejectsNonSixByteMAC(t *testing.T) {
	prefix := netip.MustParseAddr("2001:db8::")
	if _, err := eui64Address(prefix, net.HardwareAddr{1, 2, 3}); err == nil {
		t.Fatal("expected an error for a non-6-byte MAC")
	}
}
