package services

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync/atomic"
	"time"

	"avbstream/internal/core/domain"
	"avbstream/internal/core/ports"
	"avbstream/pkg/avtp"
	"avbstream/pkg/mediaclock"
	"avbstream/pkg/ringbuffer"

	"go.uber.org/zap"
)

// AdmissionGate reports whether stream admission is currently held.
type AdmissionGate interface {
	Admitted() bool
}

type FramerConfig struct {
	StreamID           domain.StreamID
	SrcMAC             domain.MAC
	DestMAC            domain.MAC
	VID                uint16
	PCP                uint8
	Channels           int
	SamplesPerFrame    int
	SampleRate         uint32
	PresentationOffset time.Duration
	ClockSkewPPB       int32
}

// AvtpFramer translates between AVTP frames and per-channel ring buffers.
// The receive side is the rings' producer and the transmit side their
// consumer; a framer is configured for one of them.
type AvtpFramer struct {
	cfg      FramerConfig
	rings    []*ringbuffer.Ring
	preroll  *ringbuffer.Preroll
	counters *domain.Counters
	gate     AdmissionGate
	sink     ports.FrameSink
	logger   *zap.SugaredLogger

	blockBytes int
	block      [][]float32
	raw        []byte

	filter *avtp.Filter
	header avtp.Header

	tmpl        *avtp.Template
	stamper     mediaclock.Timestamper
	seq         uint8
	sampleCount uint32
	halted      atomic.Bool
}

var _ ports.MediaInterface = (*AvtpFramer)(nil)

func NewAvtpFramer(
	cfg FramerConfig,
	rings []*ringbuffer.Ring,
	preroll *ringbuffer.Preroll,
	counters *domain.Counters,
	gate AdmissionGate,
	sink ports.FrameSink,
	logger *zap.SugaredLogger,
) *AvtpFramer {
	return &AvtpFramer{
		cfg:      cfg,
		rings:    rings,
		preroll:  preroll,
		counters: counters,
		gate:     gate,
		sink:     sink,
		logger:   logger,
	}
}

// Configure sets one stream parameter by name. It must be called before
// InitRx or InitTx.
func (f *AvtpFramer) Configure(key, value string) error {
	switch key {
	case "stream_id":
		id, err := domain.ParseStreamID(value)
		if err != nil {
			return err
		}
		f.cfg.StreamID = id
	case "dest_mac", "src_mac":
		mac, err := domain.ParseMAC(value)
		if err != nil {
			return err
		}
		if key == "dest_mac" {
			f.cfg.DestMAC = mac
		} else {
			f.cfg.SrcMAC = mac
		}
	case "vid":
		n, err := strconv.ParseUint(value, 10, 12)
		if err != nil {
			return fmt.Errorf("vid: %w", err)
		}
		f.cfg.VID = uint16(n)
	case "pcp":
		n, err := strconv.ParseUint(value, 10, 3)
		if err != nil {
			return fmt.Errorf("pcp: %w", err)
		}
		f.cfg.PCP = uint8(n)
	case "channels":
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 || n > len(f.rings) {
			return fmt.Errorf("channels: %q out of range (1..%d)", value, len(f.rings))
		}
		f.cfg.Channels = n
	case "samples_per_frame":
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return fmt.Errorf("samples_per_frame: invalid %q", value)
		}
		f.cfg.SamplesPerFrame = n
	case "sample_rate":
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return fmt.Errorf("sample_rate: %w", err)
		}
		f.cfg.SampleRate = uint32(n)
	case "presentation_offset":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("presentation_offset: %w", err)
		}
		f.cfg.PresentationOffset = d
	case "clock_skew_ppb":
		n, err := strconv.ParseInt(value, 10, 32)
		if err != nil {
			return fmt.Errorf("clock_skew_ppb: %w", err)
		}
		f.cfg.ClockSkewPPB = int32(n)
	default:
		return fmt.Errorf("unknown framer setting %q", key)
	}
	return nil
}

func (f *AvtpFramer) allocBlock() error {
	if f.cfg.Channels <= 0 || f.cfg.Channels > len(f.rings) {
		return fmt.Errorf("framer: %d channels but %d rings", f.cfg.Channels, len(f.rings))
	}
	if f.cfg.SamplesPerFrame <= 0 {
		return fmt.Errorf("framer: samples per frame must be > 0")
	}
	f.blockBytes = f.cfg.SamplesPerFrame * avtp.SampleSize
	f.block = make([][]float32, f.cfg.Channels)
	for c := range f.block {
		f.block[c] = make([]float32, f.cfg.SamplesPerFrame)
	}
	f.raw = make([]byte, f.blockBytes)
	return nil
}

// InitRx installs the receive filter for the configured destination and
// stream ID.
func (f *AvtpFramer) InitRx() error {
	if err := f.allocBlock(); err != nil {
		return err
	}
	f.filter = &avtp.Filter{
		DstMAC:          f.cfg.DestMAC,
		StreamID:        f.cfg.StreamID,
		Channels:        f.cfg.Channels,
		SamplesPerFrame: f.cfg.SamplesPerFrame,
	}
	f.logger.Infow("avtp receive path ready",
		"stream_id", f.cfg.StreamID.String(),
		"dest_mac", f.cfg.DestMAC.String(),
		"frame_size", f.filter.MinFrameSize(),
	)
	return nil
}

// RxStep processes one received frame and reports whether its samples
// reached the rings. Rejections are counted, never returned.
func (f *AvtpFramer) RxStep(frame []byte) bool {
	if f.filter == nil {
		return false
	}
	f.counters.FramesReceived.Add(1)

	switch err := f.receive(frame); {
	case err == nil:
		f.counters.FramesDelivered.Add(1)
		return true
	case errors.Is(err, domain.ErrFrameTooShort):
		f.counters.DropTooShort.Add(1)
	case errors.Is(err, domain.ErrDestMACMismatch):
		f.counters.DropDestMAC.Add(1)
	case errors.Is(err, domain.ErrStreamIDMismatch):
		f.counters.DropStreamID.Add(1)
	case errors.Is(err, domain.ErrNotAdmitted):
		f.counters.DropNotAdmitted.Add(1)
	case errors.Is(err, domain.ErrRingOverrun):
		f.counters.RingOverruns.Add(1)
	default:
		f.counters.DropMalformed.Add(1)
	}
	return false
}

func (f *AvtpFramer) receive(frame []byte) error {
	payload, err := f.filter.Accept(frame, &f.header)
	switch {
	case errors.Is(err, avtp.ErrTooShort):
		return domain.ErrFrameTooShort
	case errors.Is(err, avtp.ErrDestMACMismatch):
		return domain.ErrDestMACMismatch
	case errors.Is(err, avtp.ErrStreamIDMismatch):
		return domain.ErrStreamIDMismatch
	case err != nil:
		return domain.ErrMalformedFrame
	}
	if !f.gate.Admitted() {
		return domain.ErrNotAdmitted
	}

	avtp.DecodeBlock(payload, f.cfg.SamplesPerFrame, f.block)

	// all channels or none, so the rings stay aligned
	for c := 0; c < f.cfg.Channels; c++ {
		if f.rings[c].WriteSpace() < f.blockBytes {
			// a full ring is past any low-water mark
			f.preroll.Update(f.rings[c])
			return domain.ErrRingOverrun
		}
	}
	for c := 0; c < f.cfg.Channels; c++ {
		putFloats(f.raw, f.block[c])
		f.rings[c].Write(f.raw)
	}
	f.preroll.Update(f.rings[0])
	return nil
}

// InitTx builds the transmit template. The default timestamp source is the
// wall clock; EnableFixedTimestamp switches to the media clock synth.
func (f *AvtpFramer) InitTx() error {
	if err := f.allocBlock(); err != nil {
		return err
	}
	if f.sink == nil {
		return fmt.Errorf("framer: transmit path needs a frame sink")
	}
	tmpl, err := avtp.NewTemplate(avtp.StreamLayout{
		SrcMAC:          f.cfg.SrcMAC.HardwareAddr(),
		DstMAC:          f.cfg.DestMAC.HardwareAddr(),
		StreamID:        f.cfg.StreamID,
		VID:             f.cfg.VID,
		PCP:             f.cfg.PCP,
		Channels:        f.cfg.Channels,
		SamplesPerFrame: f.cfg.SamplesPerFrame,
		SampleRate:      f.cfg.SampleRate,
	})
	if err != nil {
		return err
	}
	f.tmpl = tmpl
	if f.stamper == nil {
		f.stamper = mediaclock.NewWallClock(time.Now)
	}
	f.seq = 0
	f.sampleCount = 0
	f.halted.Store(false)

	f.logger.Infow("avtp transmit path ready",
		"stream_id", f.cfg.StreamID.String(),
		"dest_mac", f.cfg.DestMAC.String(),
		"vid", f.cfg.VID,
		"pcp", f.cfg.PCP,
		"frame_size", len(tmpl.Frame()),
	)
	return nil
}

// EnableFixedTimestamp selects synthesised timestamps advancing by
// batch/interval seconds per packet: interval is the sample rate in Hz and
// batch the samples per packet, so the period stays an exact ratio.
func (f *AvtpFramer) EnableFixedTimestamp(enabled bool, interval uint32, batch uint32) error {
	if !enabled {
		f.stamper = mediaclock.NewWallClock(time.Now)
		return nil
	}
	if batch == 0 {
		batch = 1
	}
	p, err := mediaclock.FromSampleRate(batch, interval, f.cfg.ClockSkewPPB)
	if err != nil {
		return err
	}
	synth, err := mediaclock.NewSynth(p)
	if err != nil {
		return err
	}
	synth.Start(time.Now())
	f.stamper = synth
	f.logger.Infow("fixed timestamps enabled",
		"period_ns", p.Period,
		"rem", p.Rem,
		"scale", p.Scale,
		"skew_ppb", f.cfg.ClockSkewPPB,
	)
	return nil
}

// TxStep emits at most one frame. When any channel holds less than one
// packet of audio the transmitter halts for this period and nothing is sent.
func (f *AvtpFramer) TxStep() bool {
	if f.tmpl == nil || !f.gate.Admitted() {
		return false
	}
	for c := 0; c < f.cfg.Channels; c++ {
		if f.rings[c].ReadSpace() < f.blockBytes {
			if !f.halted.Swap(true) {
				f.counters.TxHalts.Add(1)
			}
			return false
		}
	}

	for c := 0; c < f.cfg.Channels; c++ {
		f.rings[c].Read(f.raw)
		getFloats(f.block[c], f.raw)
	}
	avtp.EncodeBlock(f.block, f.cfg.SamplesPerFrame, f.tmpl.Payload())

	ts := f.stamper.Advance() + uint64(f.cfg.PresentationOffset)
	f.tmpl.Stamp(f.seq, uint8(f.sampleCount), uint32(ts), true)
	f.seq++
	f.sampleCount += uint32(f.cfg.SamplesPerFrame)
	f.halted.Store(false)

	if err := f.sink.WriteFrame(f.tmpl.Frame()); err != nil {
		f.counters.SendErrors.Add(1)
		return false
	}
	f.counters.FramesSent.Add(1)
	return true
}

// Halted reports whether the last transmit period was skipped.
func (f *AvtpFramer) Halted() bool { return f.halted.Load() }

// SetDestMAC replaces the destination before InitRx or InitTx, for a
// listener that learned it from the talker advertise.
func (f *AvtpFramer) SetDestMAC(mac domain.MAC) { f.cfg.DestMAC = mac }

// End tears down both paths.
func (f *AvtpFramer) End() error {
	if f.filter == nil && f.tmpl == nil {
		return nil
	}
	f.filter = nil
	f.tmpl = nil
	// both loops have stopped, so the rings may be emptied
	for _, r := range f.rings {
		r.Reset()
	}
	f.preroll.Reset()
	snap := f.counters.Snapshot()
	f.logger.Infow("avtp framer stopped",
		"stream_id", f.cfg.StreamID.String(),
		"frames_delivered", snap.FramesDelivered,
		"frames_sent", snap.FramesSent,
		"drops", snap.Drops(),
		"overruns", snap.RingOverruns,
		"tx_halts", snap.TxHalts,
	)
	return nil
}

// Ring contents are native float32, little endian.
func putFloats(dst []byte, src []float32) {
	for i, v := range src {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(v))
	}
}

func getFloats(dst []float32, src []byte) {
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
	}
}
