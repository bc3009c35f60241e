package avtp

import "encoding/binary"

// PacketView is a non-owning view over one received frame with a cursor
// marking the current parse position. It is created per packet and must not
// be retained after the frame buffer is reused.
type PacketView struct {
	data []byte
	pos  int
}

// NewPacketView wraps b without copying.
func NewPacketView(b []byte) PacketView {
	return PacketView{data: b}
}

func (v *PacketView) Len() int       { return len(v.data) }
func (v *PacketView) Pos() int       { return v.pos }
func (v *PacketView) Remaining() int { return len(v.data) - v.pos }

// Seek moves the cursor to an absolute offset.
func (v *PacketView) Seek(off int) bool {
	if off < 0 || off > len(v.data) {
		return false
	}
	v.pos = off
	return true
}

// Next returns the next n bytes and advances the cursor.
func (v *PacketView) Next(n int) ([]byte, bool) {
	if n < 0 || v.Remaining() < n {
		return nil, false
	}
	b := v.data[v.pos : v.pos+n]
	v.pos += n
	return b, true
}

func (v *PacketView) Uint8() (uint8, bool) {
	b, ok := v.Next(1)
	if !ok {
		return 0, false
	}
	return b[0], true
}

func (v *PacketView) Uint16() (uint16, bool) {
	b, ok := v.Next(2)
	if !ok {
		return 0, false
	}
	return binary.BigEndian.Uint16(b), true
}

func (v *PacketView) Uint32() (uint32, bool) {
	b, ok := v.Next(4)
	if !ok {
		return 0, false
	}
	return binary.BigEndian.Uint32(b), true
}

// Rest returns everything from the cursor to the end of the frame.
func (v *PacketView) Rest() []byte {
	return v.data[v.pos:]
}
