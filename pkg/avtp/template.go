package avtp

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// StreamLayout describes one AM824 stream on the wire.
type StreamLayout struct {
	SrcMAC          net.HardwareAddr
	DstMAC          net.HardwareAddr
	StreamID        [8]byte
	VID             uint16
	PCP             uint8
	Channels        int
	SamplesPerFrame int
	SampleRate      uint32
}

func (l StreamLayout) validate() error {
	if len(l.SrcMAC) != 6 {
		return fmt.Errorf("avtp: invalid source MAC %v", l.SrcMAC)
	}
	if len(l.DstMAC) != 6 {
		return fmt.Errorf("avtp: invalid destination MAC %v", l.DstMAC)
	}
	if l.Channels <= 0 || l.Channels > 0xFF {
		return fmt.Errorf("avtp: channel count %d out of range", l.Channels)
	}
	if l.SamplesPerFrame <= 0 {
		return fmt.Errorf("avtp: samples per frame must be > 0")
	}
	if l.VID > 0xFFF {
		return fmt.Errorf("avtp: VLAN id %d out of range", l.VID)
	}
	if l.PCP > 7 {
		return fmt.Errorf("avtp: priority %d out of range", l.PCP)
	}
	return nil
}

// Template is a pre-built transmit frame. Only sequence, DBC, timestamp and
// samples change between packets, so the static headers are serialised once.
// A Template is owned by a single transmitter.
type Template struct {
	frame       []byte
	samples     int
	channels    int
	payloadSize int
}

// NewTemplate serialises the Ethernet, 802.1Q, AVTP and CIP headers for l.
func NewTemplate(l StreamLayout) (*Template, error) {
	if err := l.validate(); err != nil {
		return nil, err
	}
	fdf, err := FDF(l.SampleRate)
	if err != nil {
		return nil, err
	}

	payloadSize := PayloadSize(l.Channels, l.SamplesPerFrame)
	body := make([]byte, HeaderSize-EthernetHeaderSize+payloadSize)
	writeStreamHeader(body, l, fdf, payloadSize)

	eth := &layers.Ethernet{
		SrcMAC:       l.SrcMAC,
		DstMAC:       l.DstMAC,
		EthernetType: layers.EthernetTypeDot1Q,
	}
	tag := &layers.Dot1Q{
		Priority:       l.PCP,
		VLANIdentifier: l.VID,
		Type:           layers.EthernetType(EtherType),
	}
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, eth, tag, gopacket.Payload(body)); err != nil {
		return nil, fmt.Errorf("avtp: serialise template: %w", err)
	}

	frame := make([]byte, HeaderSize+payloadSize)
	copy(frame, buf.Bytes())
	return &Template{
		frame:       frame,
		samples:     l.SamplesPerFrame,
		channels:    l.Channels,
		payloadSize: payloadSize,
	}, nil
}

// writeStreamHeader fills everything after the Ethernet header. b starts at
// the AVTP subtype byte.
func writeStreamHeader(b []byte, l StreamLayout, fdf uint8, payloadSize int) {
	at := func(off int) int { return off - EthernetHeaderSize }

	b[at(offSubtype)] = Subtype61883
	b[at(offFlags)] = flagSV
	copy(b[at(offStreamID):], l.StreamID[:])
	binary.BigEndian.PutUint16(b[at(offDataLength):], uint16(IEC61883HeaderSize-2+payloadSize))
	b[at(offTagChannel)] = isoTag<<6 | isoChannel
	b[at(offTCodeSY)] = isoTCode << 4
	b[at(offCIPSID)] = cipSID
	b[at(offCIPDBS)] = uint8(l.Channels)
	b[at(offCIPFMT)] = 0x80 | cipFormatAM824
	b[at(offCIPFDF)] = fdf
	binary.BigEndian.PutUint16(b[at(offCIPSYT):], sytNoInfo)
}

// Stamp writes the per-packet header fields. When valid is false the
// timestamp is zeroed and the TV bit cleared.
func (t *Template) Stamp(seq, dbc uint8, timestamp uint32, valid bool) {
	t.frame[offSequence] = seq
	t.frame[offCIPDBC] = dbc
	if valid {
		t.frame[offFlags] |= flagTV
		binary.BigEndian.PutUint32(t.frame[offTimestamp:], timestamp)
		return
	}
	t.frame[offFlags] &^= flagTV
	binary.BigEndian.PutUint32(t.frame[offTimestamp:], 0)
}

// Payload is the sample area of the frame.
func (t *Template) Payload() []byte { return t.frame[HeaderSize:] }

// Frame is the complete frame ready to send.
func (t *Template) Frame() []byte { return t.frame }

func (t *Template) SamplesPerFrame() int { return t.samples }
func (t *Template) Channels() int        { return t.channels }
