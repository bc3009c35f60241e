package avtp

import "encoding/binary"

// MaxSampleValue is the largest positive 32-bit sample; decoded samples are
// normalised by it.
const MaxSampleValue = 1<<31 - 1

// DecodeSample turns a host-order AM824 word into a left-aligned 32-bit PCM
// value. The label byte is dropped and the low 8 bits are zero.
func DecodeSample(word uint32) int32 {
	return int32((word & 0x00FFFFFF) << 8)
}

// EncodeSample packs the upper 24 bits of s behind the MBLA label.
func EncodeSample(s int32) uint32 {
	return uint32(LabelMBLA24)<<24 | (uint32(s)>>8)&0x00FFFFFF
}

// SampleToFloat normalises a left-aligned sample to [-1, 1].
func SampleToFloat(s int32) float32 {
	return float32(s) / float32(MaxSampleValue)
}

// FloatToSample scales f back to a left-aligned sample, clamping to [-1, 1].
func FloatToSample(f float32) int32 {
	switch {
	case f >= 1:
		return MaxSampleValue
	case f <= -1:
		return -MaxSampleValue
	case f != f: // NaN
		return 0
	}
	return int32(float64(f) * MaxSampleValue)
}

// DecodeBlock de-interleaves samplesPerFrame x channels AM824 words from
// payload into out[channel][sample]. payload must hold at least
// PayloadSize(len(out), samplesPerFrame) bytes.
func DecodeBlock(payload []byte, samplesPerFrame int, out [][]float32) {
	channels := len(out)
	for s := 0; s < samplesPerFrame; s++ {
		for c := 0; c < channels; c++ {
			off := (s*channels + c) * SampleSize
			word := binary.BigEndian.Uint32(payload[off : off+SampleSize])
			out[c][s] = SampleToFloat(DecodeSample(word))
		}
	}
}

// EncodeBlock interleaves in[channel][sample] into payload as AM824 words.
func EncodeBlock(in [][]float32, samplesPerFrame int, payload []byte) {
	channels := len(in)
	for s := 0; s < samplesPerFrame; s++ {
		for c := 0; c < channels; c++ {
			off := (s*channels + c) * SampleSize
			binary.BigEndian.PutUint32(payload[off:off+SampleSize], EncodeSample(FloatToSample(in[c][s])))
		}
	}
}
