// Package avtp maps IEEE 1722 AVTP frames carrying IEC 61883-6 AM824 audio to
// PCM sample blocks and back.
//
// Frame layout (802.1Q tagged, offsets in bytes):
//
//	 0  destination MAC          6
//	 6  source MAC               6
//	12  TPID 0x8100 + TCI        4
//	16  ethertype 0x22F0         2
//	18  subtype, flags, seq, tu  4
//	22  stream ID                8
//	30  avtp timestamp           4
//	34  gateway info             4
//	38  stream data length       2
//	40  tag/channel, tcode/sy    2
//	42  CIP header               8
//	50  samples, 4 bytes each, interleaved by channel
package avtp

import "fmt"

const (
	EthernetHeaderSize = 18
	CommonHeaderSize   = 4
	StreamIDSize       = 8
	StreamHeaderSize   = 10
	IEC61883HeaderSize = 10

	// HeaderSize is everything before the first sample.
	HeaderSize = EthernetHeaderSize + CommonHeaderSize + StreamIDSize + StreamHeaderSize + IEC61883HeaderSize

	SampleSize = 4

	EtherType uint16 = 0x22F0

	Subtype61883 = 0x00

	// AM824 multi-bit linear audio label for 24-bit samples.
	LabelMBLA24 = 0x40

	cipFormatAM824 = 0x10
	cipSID         = 0x3F
	isoTag         = 1
	isoChannel     = 31
	isoTCode       = 0xA
	sytNoInfo      = 0xFFFF
)

// byte offsets within a tagged frame
const (
	offDstMAC     = 0
	offSrcMAC     = 6
	offSubtype    = 18
	offFlags      = 19
	offSequence   = 20
	offTU         = 21
	offStreamID   = 22
	offTimestamp  = 30
	offGateway    = 34
	offDataLength = 38
	offTagChannel = 40
	offTCodeSY    = 41
	offCIPSID     = 42
	offCIPDBS     = 43
	offCIPFN      = 44
	offCIPDBC     = 45
	offCIPFMT     = 46
	offCIPFDF     = 47
	offCIPSYT     = 48
)

const (
	flagSV = 0x80
	flagTV = 0x01
)

// FrameSize returns the full frame length for a stream layout.
func FrameSize(channels, samplesPerFrame int) int {
	return HeaderSize + PayloadSize(channels, samplesPerFrame)
}

// PayloadSize returns the sample area length for a stream layout.
func PayloadSize(channels, samplesPerFrame int) int {
	return channels * samplesPerFrame * SampleSize
}

// FDF returns the 61883-6 format dependent field (sample frequency code) for
// an AM824 stream at rate Hz.
func FDF(rate uint32) (uint8, error) {
	switch rate {
	case 32000:
		return 0x00, nil
	case 44100:
		return 0x01, nil
	case 48000:
		return 0x02, nil
	case 88200:
		return 0x03, nil
	case 96000:
		return 0x04, nil
	case 176400:
		return 0x05, nil
	case 192000:
		return 0x06, nil
	}
	return 0, fmt.Errorf("avtp: unsupported sample rate %d", rate)
}
