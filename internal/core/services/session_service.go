package services

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"avbstream/internal/core/domain"
	"avbstream/internal/core/ports"
	"avbstream/pkg/avtp"
	"avbstream/pkg/mediaclock"
	"avbstream/pkg/ringbuffer"
	"avbstream/pkg/utils"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const framerName = "avtp"

type SessionConfig struct {
	Role               domain.Role
	StreamID           domain.StreamID
	DestMAC            domain.MAC
	SrcMAC             domain.MAC
	Channels           int
	SampleRate         uint32
	SamplesPerFrame    int
	RingCapacity       int
	PrerollLowWater    float64
	PresentationOffset time.Duration
	FixedTimestamp     bool
	ClockSkewPPB       int32
	TxTick             time.Duration
	StatusInterval     time.Duration
	Mrp                MrpConfig
}

// PacketClock is the exact interval between two AVTP frames on the local
// clock: SamplesPerFrame/SampleRate seconds kept as a rational period.
func (c SessionConfig) PacketClock() (mediaclock.Params, error) {
	return mediaclock.FromSampleRate(uint32(c.SamplesPerFrame), c.SampleRate, 0)
}

// SessionDeps are the external collaborators. A talker needs Sink, a
// listener Source; Repo is optional.
type SessionDeps struct {
	Control ports.ControlChannel
	Source  ports.FrameSource
	Sink    ports.FrameSink
	Engine  ports.AudioEngine
	Repo    ports.SessionRepository
}

// Session owns every per-stream object from construction to teardown.
type Session struct {
	id     domain.SessionID
	cfg    SessionConfig
	deps   SessionDeps
	logger *zap.SugaredLogger

	stream   *domain.StreamContext
	counters *domain.Counters
	mrp      *MrpClient
	framer   *AvtpFramer
	host     *MediaHost
	bridge   *AudioBridge

	packetClock mediaclock.Params

	readErrLog *rate.Limiter

	mu        sync.Mutex
	startedAt time.Time
	lastErr   error
}

var _ ports.SessionService = (*Session)(nil)

func NewSession(cfg SessionConfig, deps SessionDeps, logger *zap.SugaredLogger) (*Session, error) {
	if !cfg.Role.Valid() {
		return nil, fmt.Errorf("session: invalid role %q", cfg.Role)
	}
	if deps.Control == nil || deps.Engine == nil {
		return nil, fmt.Errorf("session: control channel and audio engine are required")
	}
	if cfg.Role == domain.RoleTalker && deps.Sink == nil {
		return nil, fmt.Errorf("session: talker needs a frame sink")
	}
	if cfg.Role == domain.RoleListener && deps.Source == nil {
		return nil, fmt.Errorf("session: listener needs a frame source")
	}
	if cfg.SampleRate == 0 || cfg.SamplesPerFrame <= 0 || cfg.Channels <= 0 {
		return nil, fmt.Errorf("session: invalid stream layout")
	}
	packetClock, err := cfg.PacketClock()
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	rings := make([]*ringbuffer.Ring, cfg.Channels)
	for c := range rings {
		r, err := ringbuffer.New(cfg.RingCapacity)
		if err != nil {
			return nil, fmt.Errorf("session: ring %d: %w", c, err)
		}
		rings[c] = r
	}
	preroll, err := ringbuffer.NewPreroll(cfg.RingCapacity, avtp.SampleSize*cfg.SamplesPerFrame, cfg.PrerollLowWater)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	id := domain.SessionID(utils.GenerateSessionID())
	logger = logger.With("session_id", id, "stream_id", cfg.StreamID.String(), "role", cfg.Role)

	counters := &domain.Counters{}
	stream := domain.NewStreamContext(cfg.StreamID, cfg.Role, cfg.DestMAC)

	mrpCfg := cfg.Mrp
	mrpCfg.MaxFrameSize = avtp.FrameSize(cfg.Channels, cfg.SamplesPerFrame) - avtp.EthernetHeaderSize
	mrp := NewMrpClient(deps.Control, stream, mrpCfg, logger)

	framer := NewAvtpFramer(FramerConfig{
		StreamID:           cfg.StreamID,
		SrcMAC:             cfg.SrcMAC,
		DestMAC:            cfg.DestMAC,
		Channels:           cfg.Channels,
		SamplesPerFrame:    cfg.SamplesPerFrame,
		SampleRate:         cfg.SampleRate,
		PresentationOffset: cfg.PresentationOffset,
		ClockSkewPPB:       cfg.ClockSkewPPB,
	}, rings, preroll, counters, mrp, deps.Sink, logger)

	host := NewMediaHost(logger)
	if err := host.Register(framerName, framer); err != nil {
		return nil, err
	}

	return &Session{
		id:          id,
		cfg:         cfg,
		deps:        deps,
		logger:      logger,
		stream:      stream,
		counters:    counters,
		mrp:         mrp,
		framer:      framer,
		host:        host,
		bridge:      NewAudioBridge(rings, preroll, counters, deps.Engine.PeriodFrames(), cfg.SampleRate),
		packetClock: packetClock,
		readErrLog:  rate.NewLimiter(rate.Every(time.Second), 1),
	}, nil
}

func (s *Session) ID() domain.SessionID       { return s.id }
func (s *Session) Counters() *domain.Counters { return s.counters }
func (s *Session) Mrp() *MrpClient            { return s.mrp }
func (s *Session) State() domain.StreamState  { return s.stream.State() }

// Run admits the stream and runs the data plane until ctx is cancelled or
// the peer departs. Leave and media teardown always run. A non-nil error
// means admission failed and no audio flowed.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	s.startedAt = time.Now()
	s.mu.Unlock()

	defer s.teardown(ctx)
	s.publish(ctx)

	if err := s.admit(ctx); err != nil {
		s.setErr(err)
		return err
	}
	s.publish(ctx)

	if err := s.runDataPlane(ctx); err != nil {
		s.setErr(err)
		return err
	}
	return nil
}

func (s *Session) admit(ctx context.Context) error {
	if err := s.mrp.Connect(ctx); err != nil {
		return err
	}
	if err := s.mrp.StartMonitor(ctx); err != nil {
		return err
	}
	attr, err := s.mrp.QueryDomain(ctx)
	if err != nil {
		return err
	}
	if err := s.mrp.ReportDomainStatus(ctx, attr); err != nil {
		return err
	}
	if err := s.mrp.JoinVLAN(ctx, attr); err != nil {
		return err
	}
	if err := s.host.Configure(framerName, map[string]string{
		"vid": strconv.Itoa(int(attr.VID)),
		"pcp": strconv.Itoa(int(attr.Priority)),
	}); err != nil {
		return err
	}

	if s.cfg.Role == domain.RoleListener {
		if err := s.mrp.AwaitTalkerReady(ctx); err != nil {
			return err
		}
		if err := s.host.Configure(framerName, map[string]string{"dest_mac": s.mrp.DestMAC().String()}); err != nil {
			return err
		}
		if err := s.host.InitRx(); err != nil {
			return err
		}
		return s.mrp.SendReady(ctx)
	}

	if err := s.host.InitTx(); err != nil {
		return err
	}
	if err := s.mrp.SendReady(ctx); err != nil {
		return err
	}
	return s.host.EnableFixedTimestamp(s.cfg.FixedTimestamp, s.cfg.SampleRate, uint32(s.cfg.SamplesPerFrame))
}

func (s *Session) runDataPlane(ctx context.Context) error {
	dctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-s.mrp.PeerLost():
			s.logger.Warnw("admission lost, stopping data plane")
			s.setErr(domain.ErrPeerDeparted)
			cancel()
		case <-dctx.Done():
		}
	}()

	process := s.bridge.Playback
	if s.cfg.Role == domain.RoleTalker {
		process = s.bridge.Capture
	}
	if err := s.deps.Engine.Start(dctx, process); err != nil {
		return fmt.Errorf("start audio engine: %w", err)
	}
	defer func() {
		if err := s.deps.Engine.Stop(); err != nil {
			s.logger.Warnw("audio engine stop failed", "error", err)
		}
	}()

	if s.cfg.StatusInterval > 0 {
		go s.statusLoop(dctx)
	}

	s.logger.Infow("data plane running")
	if s.cfg.Role == domain.RoleTalker {
		s.txLoop(dctx)
	} else {
		s.rxLoop(dctx)
	}
	s.logger.Infow("data plane stopped")
	return nil
}

func (s *Session) rxLoop(ctx context.Context) {
	buf := make([]byte, 2048)
	for ctx.Err() == nil {
		n, err := s.deps.Source.ReadFrame(ctx, buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if s.readErrLog.Allow() {
				s.logger.Warnw("frame read failed", "error", err)
			}
			continue
		}
		if n > 0 {
			s.host.RxStep(buf[:n])
		}
	}
}

func (s *Session) txLoop(ctx context.Context) {
	tick := s.cfg.TxTick
	if tick <= 0 {
		tick = time.Millisecond
	}
	pacer := NewTxPacer(s.packetClock, 4*int(tick/s.packetClock.Nominal())+1, time.Now())

	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for due := pacer.Due(now); due > 0; due-- {
				s.host.TxStep()
			}
		}
	}
}

func (s *Session) statusLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.StatusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.publish(ctx)
		}
	}
}

func (s *Session) teardown(ctx context.Context) {
	s.mrp.Leave(ctx)
	_ = s.host.End()
	s.publish(context.WithoutCancel(ctx))

	s.mu.Lock()
	uptime := time.Since(s.startedAt)
	s.mu.Unlock()
	s.logger.Infow("session ended", "uptime", utils.FormatDuration(uptime), "state", s.stream.State().String())
}

// Status implements ports.SessionService.
func (s *Session) Status(context.Context) (*domain.SessionStatus, error) {
	return s.status(), nil
}

// Ready reports whether the stream is admitted.
func (s *Session) Ready() bool { return s.mrp.Admitted() }

func (s *Session) status() *domain.SessionStatus {
	v := s.stream.View()
	s.mu.Lock()
	defer s.mu.Unlock()

	st := &domain.SessionStatus{
		ID:        s.id,
		StreamID:  s.cfg.StreamID.String(),
		Role:      s.cfg.Role,
		State:     v.State.String(),
		DestMAC:   v.DestMAC.String(),
		Counters:  s.counters.Snapshot(),
		StartedAt: s.startedAt,
		UpdatedAt: time.Now(),
	}
	if v.DomainAccepted {
		d := v.Domain
		st.Domain = &d
	}
	if s.lastErr != nil {
		st.Error = s.lastErr.Error()
	}
	return st
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

func (s *Session) publish(ctx context.Context) {
	if s.deps.Repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := s.deps.Repo.Save(ctx, s.status()); err != nil {
		s.logger.Warnw("session status not saved", "error", err)
	}
}
