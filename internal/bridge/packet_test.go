package bridge

import (
	"bytes"
	"testing"
)

func TestContikiPacket_RoundTripBytes(t *testing.T) {
	cases := [][]byte{
		{},
		{0x60, 0x00, 0x00, 0x00},
		bytes.Repeat([]byte{0xAB, 0xCD, 0xEF}, 20),
	}

	for _, raw := range cases {
		pkt := NewContikiPacket(raw)
		decoded, err := DecodeContikiPacket(pkt.Hex())
		if err != nil {
			t.Fatalf("DecodeContikiPacket(%x): %v", raw, err)
		}
		if !bytes.Equal(decoded.Bytes(), raw) {
			t.Fatalf("round trip bytes mismatch: got %x, want %x", decoded.Bytes(), raw)
		}
	}
}

func TestContikiPacket_RoundTripHex(t *testing.T) {
	hexes := []string{"", "6000", "deadbeef00112233"}

	for _, s := range hexes {
		pkt, err := DecodeContikiPacket(s)
		if err != nil {
			t.Fatalf("DecodeContikiPacket(%q): %v", s, err)
		}
		if got := pkt.Hex(); got != s {
			t.Fatalf("round trip hex mismatch: got %q, want %q", got, s)
		}
	}
}

func TestContikiPacket_DecodeRejectsBadHex(t *testing.T) {
	if _, err := DecodeContikiPacket("not-hex"); err == nil {
		t.Fatal("expected error decoding non-hex payload")
	}
}

func TestContikiPacket_Len(t *testing.T) {
	pkt := NewContikiPacket([]byte{1, 2, 3, 4})
	if pkt.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", pkt.Len())
	}
}
