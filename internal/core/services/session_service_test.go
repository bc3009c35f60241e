package services

import (
	"context"
	"testing"
	"time"

	"avbstream/internal/core/domain"
	"avbstream/pkg/avtp"
	"avbstream/pkg/mediaclock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockSessionRepository is a mock implementation of ports.SessionRepository
type MockSessionRepository struct {
	mock.Mock
}

func (m *MockSessionRepository) Save(ctx context.Context, status *domain.SessionStatus) error {
	args := m.Called(ctx, status)
	return args.Error(0)
}

func (m *MockSessionRepository) GetByID(ctx context.Context, id domain.SessionID) (*domain.SessionStatus, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SessionStatus), args.Error(1)
}

func (m *MockSessionRepository) List(ctx context.Context) ([]*domain.SessionStatus, error) {
	args := m.Called(ctx)
	return args.Get(0).([]*domain.SessionStatus), args.Error(1)
}

func (m *MockSessionRepository) Delete(ctx context.Context, id domain.SessionID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// frameQueue is a FrameSource fed by the test.
type frameQueue chan []byte

func (q frameQueue) ReadFrame(ctx context.Context, buf []byte) (int, error) {
	select {
	case f := <-q:
		return copy(buf, f), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-time.After(2 * time.Millisecond):
		return 0, nil
	}
}

func testSessionConfig(role domain.Role) SessionConfig {
	return SessionConfig{
		Role:            role,
		StreamID:        testStreamID,
		DestMAC:         testDestMAC,
		SrcMAC:          testSrcMAC,
		Channels:        testChannels,
		SampleRate:      48000,
		SamplesPerFrame: testSPF,
		RingCapacity:    64 * blockBytes,
		PrerollLowWater: 0.5,
		FixedTimestamp:  true,
		TxTick:          time.Millisecond,
		StatusInterval:  10 * time.Millisecond,
		Mrp:             testMrpConfig(),
	}
}

func runSession(t *testing.T, s *Session, ctx context.Context) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	return done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("session did not stop")
		return nil
	}
}

func TestSession_TalkerStreams(t *testing.T) {
	fc := newFakeControl().announcesDomains()
	sink := &MockFrameSink{}
	sink.On("WriteFrame", mock.Anything).Return(nil)
	repo := &MockSessionRepository{}
	repo.On("Save", mock.Anything, mock.Anything).Return(nil)
	engine := newFakeEngine(testSPF, 0.5)

	s, err := NewSession(testSessionConfig(domain.RoleTalker), SessionDeps{
		Control: fc,
		Sink:    sink,
		Engine:  engine,
		Repo:    repo,
	}, nopLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := runSession(t, s, ctx)

	require.Eventually(t, func() bool { return len(sink.Frames()) >= 5 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, s.Ready())

	st, err := s.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "admitted", st.State)
	require.NotNil(t, st.Domain)
	assert.Equal(t, classA, *st.Domain)
	assert.Equal(t, testStreamID.String(), st.StreamID)

	cancel()
	require.NoError(t, waitDone(t, done))

	h, payload := sentHeader(t, sink.Frames()[0])
	assert.Equal(t, uint8(0), h.Sequence)
	assert.Equal(t, uint8(3), h.PCP)
	assert.Equal(t, uint16(2), h.VID)
	out := [][]float32{make([]float32, testSPF), make([]float32, testSPF)}
	avtp.DecodeBlock(payload, testSPF, out)
	assert.InDelta(t, 0.5, out[0][0], 1e-6)

	assert.Equal(t, 1, fc.count(domain.RequestUnadvertise))
	assert.Equal(t, 1, fc.count(domain.RequestDisconnect))
	assert.Equal(t, domain.StateIdle, s.Mrp().State())
	assert.False(t, s.Ready())
	repo.AssertCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestSession_ListenerPlaysReceivedAudio(t *testing.T) {
	fc := newFakeControl()
	fc.onSend = func(req domain.Request) {
		if req.Kind == domain.RequestQueryDomain {
			fc.emit(domain.Event{Kind: domain.EventDomain, Domain: classA})
			fc.emit(domain.Event{Kind: domain.EventDomain, Domain: classB})
			fc.emit(domain.Event{Kind: domain.EventTalker, StreamID: testStreamID, DestMAC: testDestMAC})
		}
	}
	source := make(frameQueue, 256)
	engine := newFakeEngine(testSPF, 0)

	cfg := testSessionConfig(domain.RoleListener)
	cfg.DestMAC = domain.MAC{}
	s, err := NewSession(cfg, SessionDeps{Control: fc, Source: source, Engine: engine}, nopLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runSession(t, s, ctx)

	require.Eventually(t, s.Ready, 2*time.Second, 5*time.Millisecond)
	frame := audioFrame(t, testDestMAC, testStreamID, 0.25, -0.25)
	go func() {
		for i := 0; i < 200 && ctx.Err() == nil; i++ {
			source <- frame
			time.Sleep(time.Millisecond)
		}
	}()

	require.Eventually(t, func() bool {
		return s.Counters().Snapshot().FramesDelivered >= 10
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, fc.count(domain.RequestListenerReady))
	assert.Equal(t, testDestMAC, s.Mrp().DestMAC())

	// talker withdraws: the data plane stops on its own
	fc.emit(domain.Event{Kind: domain.EventTalker, Leave: true, StreamID: testStreamID})
	require.NoError(t, waitDone(t, done))

	assert.Equal(t, 1, fc.count(domain.RequestListenerLeave))
	assert.Equal(t, 1, fc.count(domain.RequestDisconnect))
	assert.Zero(t, s.Counters().Snapshot().DropDestMAC)
}

func TestSession_AdmissionFailure(t *testing.T) {
	fc := newFakeControl()
	repo := &MockSessionRepository{}
	var last *domain.SessionStatus
	repo.On("Save", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		last = args.Get(1).(*domain.SessionStatus)
	})

	cfg := testSessionConfig(domain.RoleTalker)
	cfg.Mrp.DomainTimeout = 30 * time.Millisecond
	s, err := NewSession(cfg, SessionDeps{
		Control: fc,
		Sink:    &MockFrameSink{},
		Engine:  newFakeEngine(testSPF, 0),
		Repo:    repo,
	}, nopLogger())
	require.NoError(t, err)

	err = waitDone(t, runSession(t, s, context.Background()))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDomainTimeout)

	assert.Equal(t, 1, fc.count(domain.RequestDisconnect))
	require.NotNil(t, last)
	assert.Equal(t, "failed", last.State)
	assert.NotEmpty(t, last.Error)
	assert.Nil(t, last.Domain)
}

func TestNewSession_Validation(t *testing.T) {
	fc := newFakeControl()
	engine := newFakeEngine(testSPF, 0)

	_, err := NewSession(testSessionConfig(domain.RoleTalker), SessionDeps{Control: fc, Engine: engine}, nopLogger())
	assert.Error(t, err, "talker without sink")

	_, err = NewSession(testSessionConfig(domain.RoleListener), SessionDeps{Control: fc, Engine: engine}, nopLogger())
	assert.Error(t, err, "listener without source")

	cfg := testSessionConfig(domain.RoleTalker)
	cfg.Role = "router"
	_, err = NewSession(cfg, SessionDeps{Control: fc, Engine: engine, Sink: &MockFrameSink{}}, nopLogger())
	assert.Error(t, err)

	cfg = testSessionConfig(domain.RoleTalker)
	cfg.RingCapacity = 0
	_, err = NewSession(cfg, SessionDeps{Control: fc, Engine: engine, Sink: &MockFrameSink{}}, nopLogger())
	assert.Error(t, err)
}

func TestSessionConfig_PacketClock(t *testing.T) {
	cfg := SessionConfig{SampleRate: 48000, SamplesPerFrame: 6}
	p, err := cfg.PacketClock()
	require.NoError(t, err)
	assert.Equal(t, 125*time.Microsecond, p.Nominal())
	assert.Zero(t, p.Rem)

	cfg = SessionConfig{SampleRate: 44100, SamplesPerFrame: 8}
	p, err = cfg.PacketClock()
	require.NoError(t, err)
	assert.Equal(t, mediaclock.Params{Period: 181405, Rem: 39500, Scale: 44100}, p)
}

func TestSession_TalkerFixedTimestampsUseSampleRate(t *testing.T) {
	fc := newFakeControl().announcesDomains()
	sink := &MockFrameSink{}
	sink.On("WriteFrame", mock.Anything).Return(nil)
	engine := newFakeEngine(testSPF, 0.25)

	cfg := testSessionConfig(domain.RoleTalker)
	cfg.SampleRate = 44100
	s, err := NewSession(cfg, SessionDeps{Control: fc, Sink: sink, Engine: engine}, nopLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := runSession(t, s, ctx)
	require.Eventually(t, func() bool { return len(sink.Frames()) >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, waitDone(t, done))

	synth, ok := s.framer.stamper.(*mediaclock.Synth)
	require.True(t, ok, "fixed timestamps enabled")
	want, err := mediaclock.FromSampleRate(testSPF, 44100, 0)
	require.NoError(t, err)
	assert.Equal(t, want, synth.Params())

	for c := range s.framer.rings {
		assert.Zero(t, s.framer.rings[c].ReadSpace(), "ring %d emptied on teardown", c)
	}
}
