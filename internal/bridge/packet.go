package bridge

import (
	"encoding/hex"
	"fmt"
)

// ContikiPacket is an IPv6 packet carried on the serial line as a hex
// string. The codec round-trips bytes <-> ContikiPacket losslessly: for any
// byte slice b, DecodeContikiPacket(NewContikiPacket(b).Hex()) yields b, and
// for any valid lowercase hex string s, DecodeContikiPacket(s) then Hex()
// yields s. Hex always emits lowercase, so uppercase input does not
// round-trip character for character.
type ContikiPacket struct {
	raw []byte
}

// NewContikiPacket wraps raw IPv6 packet bytes for transmission over serial.
func NewContikiPacket(raw []byte) ContikiPacket {
	return ContikiPacket{raw: append([]byte(nil), raw...)}
}

// DecodeContikiPacket parses the hex payload of a `!p;<hex>` / `?p;<qid>;<hex>`
// line into a ContikiPacket.
func DecodeContikiPacket(s string) (ContikiPacket, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return ContikiPacket{}, fmt.Errorf("contiki packet: bad hex: %w", err)
	}
	return ContikiPacket{raw: raw}, nil
}

// Bytes returns the decoded IPv6 packet bytes.
func (p ContikiPacket) Bytes() []byte { return p.raw }

// Hex renders the packet in the serial line's hex form.
func (p ContikiPacket) Hex() string { return hex.EncodeToString(p.raw) }

// Len reports the number of raw bytes.
func (p ContikiPacket) Len() int { return len(p.raw) }
