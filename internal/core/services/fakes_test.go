package services

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"avbstream/internal/core/domain"

	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

var (
	testStreamID = domain.NewStreamID(0x0e, 0x80)
	testDestMAC  = domain.MulticastMAC(0x0e, 0x80)
	testSrcMAC   = domain.MAC{0x00, 0x1b, 0x21, 0x01, 0x02, 0x03}

	classA = domain.DomainAttribute{Class: domain.ClassA, Priority: 3, VID: 2}
	classB = domain.DomainAttribute{Class: domain.ClassB, Priority: 2, VID: 2}
)

func nopLogger() *zap.SugaredLogger { return zap.NewNop().Sugar() }

// fakeControl plays the registration daemon. Requests are recorded; events
// pushed with emit are returned from RecvEvent.
type fakeControl struct {
	mu      sync.Mutex
	sent    []domain.Request
	openErr error
	sendErr map[domain.RequestKind]error
	onSend  func(req domain.Request)
	opened  int
	closed  int

	events chan domain.Event
}

func newFakeControl() *fakeControl {
	return &fakeControl{
		sendErr: make(map[domain.RequestKind]error),
		events:  make(chan domain.Event, 64),
	}
}

// announcesDomains makes the fake answer a domain query with class A and B.
func (f *fakeControl) announcesDomains() *fakeControl {
	f.onSend = func(req domain.Request) {
		if req.Kind == domain.RequestQueryDomain {
			f.emit(domain.Event{Kind: domain.EventDomain, Domain: classA})
			f.emit(domain.Event{Kind: domain.EventDomain, Domain: classB})
		}
	}
	return f
}

func (f *fakeControl) emit(ev domain.Event) { f.events <- ev }

func (f *fakeControl) Open(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened++
	return f.openErr
}

func (f *fakeControl) Send(ctx context.Context, req domain.Request) error {
	f.mu.Lock()
	f.sent = append(f.sent, req)
	err := f.sendErr[req.Kind]
	hook := f.onSend
	f.mu.Unlock()
	if hook != nil {
		hook(req)
	}
	return err
}

func (f *fakeControl) RecvEvent(ctx context.Context) (domain.Event, error) {
	select {
	case ev := <-f.events:
		return ev, nil
	case <-ctx.Done():
		return domain.Event{}, ctx.Err()
	case <-time.After(5 * time.Millisecond):
		return domain.Event{}, domain.ErrNoEvent
	}
}

func (f *fakeControl) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeControl) kinds() []domain.RequestKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.RequestKind, len(f.sent))
	for i, r := range f.sent {
		out[i] = r.Kind
	}
	return out
}

func (f *fakeControl) count(kind domain.RequestKind) int {
	n := 0
	for _, k := range f.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

func (f *fakeControl) last(kind domain.RequestKind) (domain.Request, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].Kind == kind {
			return f.sent[i], true
		}
	}
	return domain.Request{}, false
}

// MockFrameSink is a mock implementation of ports.FrameSink
type MockFrameSink struct {
	mock.Mock
	mu     sync.Mutex
	frames [][]byte
}

func (m *MockFrameSink) WriteFrame(frame []byte) error {
	m.mu.Lock()
	m.frames = append(m.frames, append([]byte(nil), frame...))
	m.mu.Unlock()
	args := m.Called(frame)
	return args.Error(0)
}

func (m *MockFrameSink) Frames() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.frames...)
}

// MockMediaInterface is a mock implementation of ports.MediaInterface
type MockMediaInterface struct {
	mock.Mock
}

func (m *MockMediaInterface) Configure(key, value string) error {
	args := m.Called(key, value)
	return args.Error(0)
}

func (m *MockMediaInterface) InitTx() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockMediaInterface) TxStep() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockMediaInterface) InitRx() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockMediaInterface) RxStep(frame []byte) bool {
	args := m.Called(frame)
	return args.Bool(0)
}

func (m *MockMediaInterface) End() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockMediaInterface) EnableFixedTimestamp(enabled bool, interval uint32, batch uint32) error {
	args := m.Called(enabled, interval, batch)
	return args.Error(0)
}

type gate struct{ open atomic.Bool }

func openGate() *gate {
	g := &gate{}
	g.open.Store(true)
	return g
}

func (g *gate) Admitted() bool { return g.open.Load() }

// fakeEngine calls process every period with constant-valued buffers.
type fakeEngine struct {
	period int
	value  float32
	tick   time.Duration

	mu      sync.Mutex
	calls   int
	stopped chan struct{}
	done    chan struct{}
}

func newFakeEngine(period int, value float32) *fakeEngine {
	return &fakeEngine{period: period, value: value, tick: time.Millisecond}
}

func (e *fakeEngine) PeriodFrames() int { return e.period }

func (e *fakeEngine) Start(ctx context.Context, process func(buf [][]float32)) error {
	e.stopped = make(chan struct{})
	e.done = make(chan struct{})
	buf := [][]float32{make([]float32, e.period), make([]float32, e.period)}
	go func() {
		defer close(e.done)
		ticker := time.NewTicker(e.tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-e.stopped:
				return
			case <-ticker.C:
				for c := range buf {
					for i := range buf[c] {
						buf[c][i] = e.value
					}
				}
				process(buf)
				e.mu.Lock()
				e.calls++
				e.mu.Unlock()
			}
		}
	}()
	return nil
}

func (e *fakeEngine) Stop() error {
	close(e.stopped)
	<-e.done
	return nil
}

func (e *fakeEngine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}
