package avtp

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var (
	ErrTooShort         = errors.New("avtp: frame too short")
	ErrDestMACMismatch  = errors.New("avtp: destination MAC mismatch")
	ErrStreamIDMismatch = errors.New("avtp: stream ID mismatch")
	ErrMalformed        = errors.New("avtp: malformed frame")
)

// Header holds the decoded per-packet fields of an accepted frame.
type Header struct {
	Sequence       uint8
	TimestampValid bool
	Timestamp      uint32
	DataLength     uint16
	DBS            uint8
	DBC            uint8
	FDF            uint8
	PCP            uint8
	VID            uint16
}

// Filter accepts only frames for one stream.
type Filter struct {
	DstMAC          [6]byte
	StreamID        [8]byte
	Channels        int
	SamplesPerFrame int
}

// MinFrameSize is the shortest frame the filter will look at.
func (f *Filter) MinFrameSize() int {
	return FrameSize(f.Channels, f.SamplesPerFrame)
}

// Accept checks frame against f in order: length, destination MAC, stream ID,
// then header structure. On success it returns the decoded header and the
// sample payload as a subslice of frame.
func (f *Filter) Accept(frame []byte, h *Header) ([]byte, error) {
	v := NewPacketView(frame)
	if v.Len() < f.MinFrameSize() {
		return nil, ErrTooShort
	}

	dst, _ := v.Next(6)
	if !bytes.Equal(dst, f.DstMAC[:]) {
		return nil, ErrDestMACMismatch
	}

	v.Seek(offStreamID)
	sid, _ := v.Next(StreamIDSize)
	if !bytes.Equal(sid, f.StreamID[:]) {
		return nil, ErrStreamIDMismatch
	}

	if err := decodeHeader(frame, h); err != nil {
		return nil, err
	}
	if int(h.DBS) != f.Channels {
		return nil, fmt.Errorf("%w: DBS %d, want %d channels", ErrMalformed, h.DBS, f.Channels)
	}
	want := IEC61883HeaderSize - 2 + PayloadSize(f.Channels, f.SamplesPerFrame)
	if int(h.DataLength) < want {
		return nil, fmt.Errorf("%w: stream data length %d, want %d", ErrMalformed, h.DataLength, want)
	}

	v.Seek(HeaderSize)
	payload, _ := v.Next(PayloadSize(f.Channels, f.SamplesPerFrame))
	return payload, nil
}

// decodeHeader validates the Ethernet/802.1Q envelope with gopacket and reads
// the AVTP and CIP fields at their fixed offsets.
func decodeHeader(frame []byte, h *Header) error {
	var eth layers.Ethernet
	if err := eth.DecodeFromBytes(frame, gopacket.NilDecodeFeedback); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if eth.EthernetType != layers.EthernetTypeDot1Q {
		return fmt.Errorf("%w: untagged frame, ethertype %#04x", ErrMalformed, uint16(eth.EthernetType))
	}
	var tag layers.Dot1Q
	if err := tag.DecodeFromBytes(eth.Payload, gopacket.NilDecodeFeedback); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if uint16(tag.Type) != EtherType {
		return fmt.Errorf("%w: ethertype %#04x", ErrMalformed, uint16(tag.Type))
	}
	h.PCP = tag.Priority
	h.VID = tag.VLANIdentifier

	v := NewPacketView(frame)
	v.Seek(offSubtype)
	subtype, _ := v.Uint8()
	if subtype&0x7F != Subtype61883 {
		return fmt.Errorf("%w: subtype %#02x", ErrMalformed, subtype)
	}
	flags, _ := v.Uint8()
	if flags&flagSV == 0 {
		return fmt.Errorf("%w: stream ID not valid", ErrMalformed)
	}
	h.TimestampValid = flags&flagTV != 0
	h.Sequence, _ = v.Uint8()

	v.Seek(offTimestamp)
	h.Timestamp, _ = v.Uint32()
	v.Seek(offDataLength)
	h.DataLength, _ = v.Uint16()

	v.Seek(offCIPSID)
	sid, _ := v.Uint8()
	if sid&0xC0 != 0 {
		return fmt.Errorf("%w: CIP quadlet 0 marker", ErrMalformed)
	}
	h.DBS, _ = v.Uint8()
	v.Uint8() // FN, QPC, SPH
	h.DBC, _ = v.Uint8()
	fmtByte, _ := v.Uint8()
	if fmtByte&0xC0 != 0x80 || fmtByte&0x3F != cipFormatAM824 {
		return fmt.Errorf("%w: CIP format %#02x", ErrMalformed, fmtByte)
	}
	h.FDF, _ = v.Uint8()
	return nil
}
