package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"avbstream/internal/core/domain"
	"avbstream/internal/core/ports"
	apperrors "avbstream/pkg/errors"
	"avbstream/pkg/retry"
	"avbstream/pkg/tracing"

	"go.uber.org/zap"
)

type MrpConfig struct {
	TrafficClass  domain.TrafficClass
	DomainTimeout time.Duration
	ReadyTimeout  time.Duration
	LeaveTimeout  time.Duration
	PollInterval  time.Duration
	AwaitListener bool
	LatencyNS     uint32
	MaxFrameSize  int
	ConnectRetry  retry.Config
}

func DefaultMrpConfig() MrpConfig {
	return MrpConfig{
		TrafficClass:  domain.ClassA,
		DomainTimeout: 5 * time.Second,
		ReadyTimeout:  60 * time.Second,
		LeaveTimeout:  2 * time.Second,
		PollInterval:  100 * time.Millisecond,
		LatencyNS:     3900,
		ConnectRetry:  retry.Config{Enabled: false},
	}
}

// MrpClient negotiates stream admission with the registration daemon and
// releases it on Leave. All state lives in the StreamContext; the monitor
// goroutine is the only writer of observed peer state.
type MrpClient struct {
	channel ports.ControlChannel
	stream  *domain.StreamContext
	cfg     MrpConfig
	logger  *zap.SugaredLogger

	// destination configured before any talker advertise was seen
	configuredDest domain.MAC

	mu            sync.Mutex
	connected     bool
	left          bool
	monitorCancel context.CancelFunc
	monitorDone   chan struct{}
	peerLost      chan struct{}
	peerLostFired bool
}

func NewMrpClient(channel ports.ControlChannel, stream *domain.StreamContext, cfg MrpConfig, logger *zap.SugaredLogger) *MrpClient {
	return &MrpClient{
		channel:        channel,
		stream:         stream,
		cfg:            cfg,
		logger:         logger,
		configuredDest: stream.View().DestMAC,
		peerLost:       make(chan struct{}),
	}
}

// Connect opens the control channel. Everything learned during a previous
// connection is discarded first.
func (c *MrpClient) Connect(ctx context.Context) error {
	ctx, span := tracing.TraceMrpStep(ctx, "connect", c.stream.StreamID.String(), string(c.stream.Role))
	defer span.End()

	c.mu.Lock()
	if c.connected && !c.left {
		c.mu.Unlock()
		return invalidState("connect while already connected")
	}
	c.stream.ResetHandshake(c.configuredDest)
	c.left = false
	c.connected = false
	c.peerLost = make(chan struct{})
	c.peerLostFired = false
	c.mu.Unlock()

	rc := c.cfg.ConnectRetry
	if rc.OnRetry == nil {
		rc.OnRetry = func(attempt int, err error, delay time.Duration) {
			c.logger.Warnw("mrp connect failed, retrying", "attempt", attempt, "delay", delay, "error", err)
		}
	}
	err := retry.Retry(ctx, rc, func() error {
		return c.channel.Open(ctx)
	})
	if err != nil {
		_ = c.channel.Close()
		return c.fail(ctx, apperrors.NewControlChannelError(fmt.Errorf("%w: %v", domain.ErrControlChannel, err)))
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()

	c.logger.Infow("mrp control channel connected", "stream_id", c.stream.StreamID.String(), "role", c.stream.Role)
	return nil
}

// StartMonitor spawns the event reader. It runs until Leave or ctx is done.
func (c *MrpClient) StartMonitor(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected || c.left {
		return invalidState("monitor requires an open control channel")
	}
	if c.monitorCancel != nil {
		return nil
	}

	mctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.monitorCancel = cancel
	c.monitorDone = done

	c.stream.SetState(domain.StateMonitoring)
	go c.monitor(mctx, done)
	return nil
}

func (c *MrpClient) monitor(ctx context.Context, done chan struct{}) {
	defer close(done)
	for ctx.Err() == nil {
		ev, err := c.channel.RecvEvent(ctx)
		switch {
		case err == nil:
			c.handleEvent(ev)
		case errors.Is(err, domain.ErrNoEvent):
		case errors.Is(err, domain.ErrChannelClosed), ctx.Err() != nil:
			return
		default:
			c.logger.Warnw("mrp event read failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.cfg.PollInterval):
			}
		}
	}
}

func (c *MrpClient) handleEvent(ev domain.Event) {
	switch ev.Kind {
	case domain.EventDomain:
		if ev.Leave {
			c.logger.Debugw("domain withdrawn", "domain", ev.Domain.String())
			return
		}
		attr := ev.Domain
		c.stream.Update(func(v *domain.ContextView) {
			if attr.Class == domain.ClassA {
				v.ClassA = &attr
			} else {
				v.ClassB = &attr
			}
			if v.State == domain.StateMonitoring && v.ClassA != nil && v.ClassB != nil {
				v.State = domain.StateDomainKnown
			}
		})

	case domain.EventTalker:
		if ev.StreamID != c.stream.StreamID || c.stream.Role != domain.RoleListener {
			return
		}
		switch {
		case ev.Leave:
			c.peerDeparted(func(v *domain.ContextView) { v.TalkerReady = false })
		case ev.TalkerFailed:
			c.reject(fmt.Errorf("%w: talker failed for stream %s", domain.ErrAdmissionRejected, ev.StreamID))
		default:
			c.stream.Update(func(v *domain.ContextView) {
				v.TalkerReady = true
				if !ev.DestMAC.IsZero() {
					v.DestMAC = ev.DestMAC
				}
			})
		}

	case domain.EventListener:
		if ev.StreamID != c.stream.StreamID || c.stream.Role != domain.RoleTalker {
			return
		}
		switch {
		case ev.Leave:
			if c.cfg.AwaitListener {
				c.peerDeparted(func(v *domain.ContextView) { v.ListenerReady = false })
				return
			}
			c.stream.Update(func(v *domain.ContextView) { v.ListenerReady = false })
		case ev.Listener == domain.ListenerAskingFailed:
			if c.cfg.AwaitListener {
				c.reject(fmt.Errorf("%w: listener asking failed for stream %s", domain.ErrAdmissionRejected, ev.StreamID))
			}
		case ev.Listener == domain.ListenerReady, ev.Listener == domain.ListenerReadyFailed:
			c.stream.Update(func(v *domain.ContextView) { v.ListenerReady = true })
		}

	case domain.EventDaemonError:
		state := c.stream.State()
		if state == domain.StateDomainKnown || state == domain.StateJoining {
			c.reject(fmt.Errorf("%w: daemon replied %q", domain.ErrAdmissionRejected, ev.Raw))
			return
		}
		c.logger.Warnw("mrp daemon error", "reply", ev.Raw, "state", state.String())

	case domain.EventVLAN:
		c.logger.Debugw("vlan registration", "vid", ev.VID, "leave", ev.Leave)
	}
}

// reject records an admission failure; it only applies before admission.
func (c *MrpClient) reject(err error) {
	c.stream.Update(func(v *domain.ContextView) {
		if v.State != domain.StateAdmitted && v.Rejected == nil {
			v.Rejected = err
		}
	})
}

// peerDeparted drops Admitted back to Joining and fires PeerLost.
func (c *MrpClient) peerDeparted(clear func(v *domain.ContextView)) {
	lost := false
	c.stream.Update(func(v *domain.ContextView) {
		clear(v)
		if v.State == domain.StateAdmitted {
			v.State = domain.StateJoining
			lost = true
		}
	})
	if !lost {
		return
	}

	c.logger.Warnw("peer departed, admission lost", "stream_id", c.stream.StreamID.String())
	c.mu.Lock()
	if !c.peerLostFired {
		c.peerLostFired = true
		close(c.peerLost)
	}
	c.mu.Unlock()
}

// QueryDomain asks the daemon for the SRP domain and waits until both class
// A and class B attributes were announced. It returns the configured class.
func (c *MrpClient) QueryDomain(ctx context.Context) (domain.DomainAttribute, error) {
	ctx, span := tracing.TraceMrpStep(ctx, "query_domain", c.stream.StreamID.String(), string(c.stream.Role))
	defer span.End()

	if err := c.send(ctx, domain.Request{Kind: domain.RequestQueryDomain}); err != nil {
		return domain.DomainAttribute{}, c.fail(ctx, err)
	}

	wctx, cancel := context.WithTimeout(ctx, c.cfg.DomainTimeout)
	defer cancel()
	v, err := c.stream.WaitFor(wctx, func(v domain.ContextView) bool {
		return v.State == domain.StateDomainKnown || v.State == domain.StateLeaving
	})
	if err != nil {
		return domain.DomainAttribute{}, c.fail(ctx, apperrors.NewDomainTimeoutError(
			fmt.Errorf("%w: no class A and B announcement within %s", domain.ErrDomainTimeout, c.cfg.DomainTimeout)))
	}
	if v.State != domain.StateDomainKnown {
		return domain.DomainAttribute{}, c.fail(ctx, stateError("query domain", v.State))
	}

	attr := *v.ClassA
	if c.cfg.TrafficClass == domain.ClassB {
		attr = *v.ClassB
	}
	tracing.AddSpanAttributes(ctx,
		tracing.ClassKey.String(string(attr.Class)),
		tracing.PriorityKey.Int(int(attr.Priority)),
		tracing.VLANKey.Int(int(attr.VID)),
	)
	c.logger.Infow("srp domain known", "stream_id", c.stream.StreamID.String(), "domain", attr.String())
	return attr, nil
}

// ReportDomainStatus declares the domain. Repeating it with the same
// attribute is a no-op; a different attribute is refused.
func (c *MrpClient) ReportDomainStatus(ctx context.Context, attr domain.DomainAttribute) error {
	ctx, span := tracing.TraceMrpStep(ctx, "report_domain", c.stream.StreamID.String(), string(c.stream.Role))
	defer span.End()

	v := c.stream.View()
	if v.DomainAccepted {
		if v.Domain == attr {
			return nil
		}
		return c.fail(ctx, invalidState(fmt.Sprintf("domain %s already accepted, refusing %s", v.Domain, attr)))
	}
	if v.State != domain.StateDomainKnown {
		return c.fail(ctx, stateError("report domain", v.State))
	}

	if err := c.send(ctx, domain.Request{Kind: domain.RequestReportDomain, Domain: attr}); err != nil {
		return c.fail(ctx, err)
	}
	c.stream.Update(func(v *domain.ContextView) {
		v.Domain = attr
		v.DomainAccepted = true
		v.Registrations.DomainReported = true
	})
	return nil
}

// JoinVLAN registers VLAN membership for the accepted domain.
func (c *MrpClient) JoinVLAN(ctx context.Context, attr domain.DomainAttribute) error {
	ctx, span := tracing.TraceMrpStep(ctx, "join_vlan", c.stream.StreamID.String(), string(c.stream.Role))
	defer span.End()

	v := c.stream.View()
	if v.State != domain.StateDomainKnown || !v.DomainAccepted {
		return c.fail(ctx, stateError("join vlan", v.State))
	}
	if err := c.send(ctx, domain.Request{Kind: domain.RequestJoinVLAN, Domain: attr}); err != nil {
		return c.fail(ctx, err)
	}
	c.stream.Update(func(v *domain.ContextView) {
		v.Registrations.VLANJoined = true
		v.State = domain.StateJoining
	})
	return nil
}

// SendReady declares this endpoint's side of the stream. A talker advertises
// the stream; a listener declares ready, which requires the talker advertise
// to have been observed.
func (c *MrpClient) SendReady(ctx context.Context) error {
	ctx, span := tracing.TraceMrpStep(ctx, "send_ready", c.stream.StreamID.String(), string(c.stream.Role))
	defer span.End()

	v := c.stream.View()
	if v.State != domain.StateJoining {
		return c.fail(ctx, stateError("send ready", v.State))
	}

	if c.stream.Role == domain.RoleTalker {
		req := domain.Request{
			Kind:         domain.RequestAdvertise,
			StreamID:     c.stream.StreamID,
			DestMAC:      v.DestMAC,
			Domain:       v.Domain,
			MaxFrameSize: c.cfg.MaxFrameSize,
			Interval:     1,
			LatencyNS:    c.cfg.LatencyNS,
		}
		if err := c.send(ctx, req); err != nil {
			return c.fail(ctx, err)
		}
		c.stream.Update(func(v *domain.ContextView) { v.Registrations.Advertised = true })

		if c.cfg.AwaitListener {
			if err := c.AwaitListenerReady(ctx); err != nil {
				return err
			}
		}
	} else {
		if !v.TalkerReady {
			return c.fail(ctx, invalidState("listener ready before talker advertise"))
		}
		if err := c.send(ctx, domain.Request{Kind: domain.RequestListenerReady, StreamID: c.stream.StreamID}); err != nil {
			return c.fail(ctx, err)
		}
		c.stream.Update(func(v *domain.ContextView) { v.Registrations.ListenerReadySent = true })
	}

	var rejected error
	c.stream.Update(func(v *domain.ContextView) {
		rejected = v.Rejected
		if rejected == nil {
			v.State = domain.StateAdmitted
		}
	})
	if rejected != nil {
		return c.fail(ctx, apperrors.NewAdmissionRejectedError(rejected))
	}

	c.logger.Infow("stream admitted", "stream_id", c.stream.StreamID.String(), "role", c.stream.Role, "domain", v.Domain.String())
	return nil
}

// AwaitTalkerReady blocks a listener until the talker advertise for its
// stream has been observed on this connection.
func (c *MrpClient) AwaitTalkerReady(ctx context.Context) error {
	ctx, span := tracing.TraceMrpStep(ctx, "await_talker", c.stream.StreamID.String(), string(c.stream.Role))
	defer span.End()

	if c.stream.Role != domain.RoleListener {
		return c.fail(ctx, invalidState("only a listener waits for the talker"))
	}
	return c.awaitPeer(ctx, "talker", func(v domain.ContextView) bool { return v.TalkerReady })
}

// AwaitListenerReady blocks a talker until a listener declared ready.
func (c *MrpClient) AwaitListenerReady(ctx context.Context) error {
	ctx, span := tracing.TraceMrpStep(ctx, "await_listener", c.stream.StreamID.String(), string(c.stream.Role))
	defer span.End()

	if c.stream.Role != domain.RoleTalker {
		return c.fail(ctx, invalidState("only a talker waits for a listener"))
	}
	return c.awaitPeer(ctx, "listener", func(v domain.ContextView) bool { return v.ListenerReady })
}

func (c *MrpClient) awaitPeer(ctx context.Context, peer string, ready func(v domain.ContextView) bool) error {
	c.logger.Infow("waiting for peer", "peer", peer, "stream_id", c.stream.StreamID.String())

	wctx, cancel := context.WithTimeout(ctx, c.cfg.ReadyTimeout)
	defer cancel()
	v, err := c.stream.WaitFor(wctx, func(v domain.ContextView) bool {
		return ready(v) || v.Rejected != nil || v.State == domain.StateLeaving
	})
	switch {
	case err != nil && ctx.Err() != nil:
		return c.fail(ctx, ctx.Err())
	case err != nil:
		return c.fail(ctx, apperrors.NewReadyTimeoutError(
			fmt.Errorf("%w: no %s within %s", domain.ErrReadyTimeout, peer, c.cfg.ReadyTimeout)))
	case v.Rejected != nil:
		return c.fail(ctx, apperrors.NewAdmissionRejectedError(v.Rejected))
	case v.State == domain.StateLeaving:
		return c.fail(ctx, stateError("await "+peer, v.State))
	}

	c.logger.Infow("peer ready", "peer", peer, "stream_id", c.stream.StreamID.String(), "dest_mac", v.DestMAC.String())
	return nil
}

// Admitted reports whether the data plane may run.
func (c *MrpClient) Admitted() bool {
	return c.stream.State() == domain.StateAdmitted
}

func (c *MrpClient) State() domain.StreamState { return c.stream.State() }

// Domain returns the accepted domain attribute.
func (c *MrpClient) Domain() (domain.DomainAttribute, bool) {
	v := c.stream.View()
	return v.Domain, v.DomainAccepted
}

// DestMAC is the destination the stream uses, learned from the talker on a
// listener.
func (c *MrpClient) DestMAC() domain.MAC {
	return c.stream.View().DestMAC
}

// PeerLost is closed when admission is lost after being granted on the
// current connection.
func (c *MrpClient) PeerLost() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerLost
}

// Leave withdraws every declaration made on this connection in reverse order
// and closes the channel. It runs once per Connect; later calls return
// immediately. Failures are logged and never returned.
func (c *MrpClient) Leave(ctx context.Context) {
	c.mu.Lock()
	if !c.connected || c.left {
		c.mu.Unlock()
		return
	}
	c.left = true
	cancelMonitor, monitorDone := c.monitorCancel, c.monitorDone
	c.monitorCancel, c.monitorDone = nil, nil
	c.mu.Unlock()

	ctx, span := tracing.TraceMrpStep(context.WithoutCancel(ctx), "leave", c.stream.StreamID.String(), string(c.stream.Role))
	defer span.End()

	wasFailed := c.stream.State() == domain.StateFailed
	c.stream.SetState(domain.StateLeaving)

	if cancelMonitor != nil {
		cancelMonitor()
		<-monitorDone
	}

	v := c.stream.View()
	ctx, cancel := context.WithTimeout(ctx, c.cfg.LeaveTimeout)
	defer cancel()

	steps := make([]domain.Request, 0, 5)
	if v.Registrations.Advertised {
		steps = append(steps, domain.Request{Kind: domain.RequestUnadvertise, StreamID: c.stream.StreamID, DestMAC: v.DestMAC, Domain: v.Domain})
	}
	if v.Registrations.ListenerReadySent {
		steps = append(steps, domain.Request{Kind: domain.RequestListenerLeave, StreamID: c.stream.StreamID})
	}
	if v.Registrations.VLANJoined {
		steps = append(steps, domain.Request{Kind: domain.RequestLeaveVLAN, Domain: v.Domain})
	}
	if v.Registrations.DomainReported {
		steps = append(steps, domain.Request{Kind: domain.RequestWithdrawDomain, Domain: v.Domain})
	}
	steps = append(steps, domain.Request{Kind: domain.RequestDisconnect})

	for _, req := range steps {
		if err := c.channel.Send(ctx, req); err != nil {
			c.logLeaveFailure(ctx, req.Kind.String(), err)
		}
	}
	if err := c.channel.Close(); err != nil {
		c.logLeaveFailure(ctx, "close", err)
	}

	final := domain.StateIdle
	if wasFailed {
		final = domain.StateFailed
	}
	c.stream.Update(func(v *domain.ContextView) {
		v.Registrations = domain.Registrations{}
		v.State = final
	})

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	c.logger.Infow("mrp leave complete", "stream_id", c.stream.StreamID.String(), "state", final.String())
}

func (c *MrpClient) logLeaveFailure(ctx context.Context, step string, err error) {
	appErr := apperrors.NewLeaveFailedError(step, err)
	tracing.RecordError(ctx, appErr)
	c.logger.Errorw("mrp leave step failed",
		"code", appErr.Code,
		"step", step,
		"stream_id", c.stream.StreamID.String(),
		"error", err,
	)
}

func (c *MrpClient) send(ctx context.Context, req domain.Request) error {
	if err := c.channel.Send(ctx, req); err != nil {
		return apperrors.NewControlChannelError(fmt.Errorf("%w: %s: %v", domain.ErrControlChannel, req.Kind, err))
	}
	return nil
}

func stateError(op string, s domain.StreamState) error {
	return apperrors.WrapError(domain.ErrInvalidState, apperrors.ErrCodeInvalidState,
		fmt.Sprintf("%s in state %s", op, s), http.StatusConflict).
		WithContext("state", s.String())
}

func invalidState(msg string) error {
	return apperrors.WrapError(domain.ErrInvalidState, apperrors.ErrCodeInvalidState, msg, http.StatusConflict)
}

func (c *MrpClient) fail(ctx context.Context, err error) error {
	c.stream.Update(func(v *domain.ContextView) {
		if v.State != domain.StateLeaving {
			v.State = domain.StateFailed
		}
	})
	tracing.RecordError(ctx, err)
	c.logger.Errorw("mrp step failed", "stream_id", c.stream.StreamID.String(), "error", err)
	return err
}
