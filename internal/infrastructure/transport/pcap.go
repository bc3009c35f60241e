package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"avbstream/internal/core/ports"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

const snapLen = 2048

// Recorder appends frames to a pcap file. It is safe for use from the rx
// and tx paths at the same time.
type Recorder struct {
	mu     sync.Mutex
	file   io.WriteCloser
	w      *pcapgo.Writer
	now    func() time.Time
	frames uint64
}

func NewRecorder(path string) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create capture: %w", err)
	}
	r, err := newRecorder(f, time.Now)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func newRecorder(w io.WriteCloser, now func() time.Time) (*Recorder, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(snapLen, layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("write capture header: %w", err)
	}
	return &Recorder{file: w, w: pw, now: now}, nil
}

func (r *Recorder) Record(frame []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return os.ErrClosed
	}
	ci := gopacket.CaptureInfo{
		Timestamp:     r.now(),
		CaptureLength: len(frame),
		Length:        len(frame),
	}
	if err := r.w.WritePacket(ci, frame); err != nil {
		return err
	}
	r.frames++
	return nil
}

func (r *Recorder) Frames() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return nil
	}
	r.w = nil
	return r.file.Close()
}

// Sink tees every frame written to next into the capture. Capture errors
// never fail the send.
func (r *Recorder) Sink(next ports.FrameSink) ports.FrameSink {
	return &recordingSink{rec: r, next: next}
}

// Source tees every frame read from next into the capture.
func (r *Recorder) Source(next ports.FrameSource) ports.FrameSource {
	return &recordingSource{rec: r, next: next}
}

type recordingSink struct {
	rec  *Recorder
	next ports.FrameSink
}

func (s *recordingSink) WriteFrame(frame []byte) error {
	err := s.next.WriteFrame(frame)
	if err == nil {
		_ = s.rec.Record(frame)
	}
	return err
}

type recordingSource struct {
	rec  *Recorder
	next ports.FrameSource
}

func (s *recordingSource) ReadFrame(ctx context.Context, buf []byte) (int, error) {
	n, err := s.next.ReadFrame(ctx, buf)
	if n > 0 && err == nil {
		_ = s.rec.Record(buf[:n])
	}
	return n, err
}

// ReplayConfig controls a pcap backed frame source.
type ReplayConfig struct {
	Path string
	// Realtime spaces frames by their capture timestamps.
	Realtime bool
	Loop     bool
	// PollTimeout is how long ReadFrame idles once the capture is exhausted.
	PollTimeout time.Duration
}

// Replay is a FrameSource that plays back a pcap file, so a listener can be
// driven offline from a recorded stream.
type Replay struct {
	cfg  ReplayConfig
	file *os.File
	r    *pcapgo.Reader

	mu       sync.Mutex
	prevTS   time.Time
	done     bool
	closed   bool
	replayed uint64
}

var _ ports.FrameSource = (*Replay)(nil)

func OpenReplay(cfg ReplayConfig) (*Replay, error) {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 100 * time.Millisecond
	}
	f, err := os.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open replay: %w", err)
	}
	r, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read replay header: %w", err)
	}
	if r.LinkType() != layers.LinkTypeEthernet {
		f.Close()
		return nil, fmt.Errorf("replay %s: link type %s is not ethernet", cfg.Path, r.LinkType())
	}
	return &Replay{cfg: cfg, file: f, r: r}, nil
}

func (p *Replay) ReadFrame(ctx context.Context, buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, os.ErrClosed
	}

	if !p.done {
		data, ci, err := p.r.ReadPacketData()
		switch {
		case err == nil:
			p.pace(ctx, ci.Timestamp)
			p.replayed++
			return copy(buf, data), nil
		case errors.Is(err, io.EOF) && p.cfg.Loop:
			if err := p.rewind(); err != nil {
				return 0, err
			}
			return 0, nil
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			p.done = true
		default:
			return 0, fmt.Errorf("replay: %w", err)
		}
	}

	// exhausted: behave like an idle link
	t := time.NewTimer(p.cfg.PollTimeout)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-t.C:
		return 0, nil
	}
}

// pace must be called with mu held.
func (p *Replay) pace(ctx context.Context, ts time.Time) {
	prev := p.prevTS
	p.prevTS = ts
	if !p.cfg.Realtime || prev.IsZero() {
		return
	}
	gap := ts.Sub(prev)
	if gap <= 0 {
		return
	}
	if gap > p.cfg.PollTimeout {
		gap = p.cfg.PollTimeout
	}
	t := time.NewTimer(gap)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (p *Replay) rewind() error {
	if _, err := p.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("replay rewind: %w", err)
	}
	r, err := pcapgo.NewReader(p.file)
	if err != nil {
		return fmt.Errorf("replay rewind: %w", err)
	}
	p.r = r
	p.prevTS = time.Time{}
	return nil
}

// Replayed is the number of frames handed out so far.
func (p *Replay) Replayed() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.replayed
}

func (p *Replay) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.file.Close()
}
