package mrpd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"avbstream/internal/core/domain"
	"avbstream/internal/core/ports"
	"avbstream/pkg/utils"

	"go.uber.org/zap"
)

// DefaultAddress is where mrpd listens for control clients.
const DefaultAddress = "127.0.0.1:7500"

const (
	maxDatagram = 1500
	maxLogLine  = 120
)

// Channel is a ports.ControlChannel over the daemon's UDP control port. One
// datagram may carry several notification lines; they are queued and handed
// out one per RecvEvent.
type Channel struct {
	addr   string
	poll   time.Duration
	logger *zap.SugaredLogger

	mu      sync.Mutex
	conn    *net.UDPConn
	pending []domain.Event
	buf     []byte
}

var _ ports.ControlChannel = (*Channel)(nil)

func NewChannel(addr string, poll time.Duration, logger *zap.SugaredLogger) *Channel {
	if addr == "" {
		addr = DefaultAddress
	}
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	return &Channel{addr: addr, poll: poll, logger: logger, buf: make([]byte, maxDatagram)}
}

func (c *Channel) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", c.addr)
	if err != nil {
		return fmt.Errorf("mrpd: dial %s: %w", c.addr, err)
	}
	c.conn = conn.(*net.UDPConn)
	c.pending = nil
	c.logger.Debugw("mrpd control socket open", "daemon", c.addr, "local", c.conn.LocalAddr().String())
	return nil
}

func (c *Channel) Send(ctx context.Context, req domain.Request) error {
	msg, err := Encode(req)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return domain.ErrChannelClosed
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(time.Second)
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	// the daemon expects NUL terminated commands
	if _, err := conn.Write(append([]byte(msg), 0)); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return domain.ErrChannelClosed
		}
		return fmt.Errorf("mrpd: send %q: %w", msg, err)
	}
	c.logger.Debugw("mrpd command sent", "command", msg)
	return nil
}

// RecvEvent waits at most one poll interval.
func (c *Channel) RecvEvent(ctx context.Context) (domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return domain.Event{}, err
	}

	c.mu.Lock()
	if len(c.pending) > 0 {
		ev := c.pending[0]
		c.pending = c.pending[1:]
		c.mu.Unlock()
		return ev, nil
	}
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return domain.Event{}, domain.ErrChannelClosed
	}

	if err := conn.SetReadDeadline(time.Now().Add(c.poll)); err != nil {
		return domain.Event{}, err
	}
	// only the monitor goroutine reads, so buf is not shared
	n, err := conn.Read(c.buf)
	switch {
	case errors.Is(err, os.ErrDeadlineExceeded):
		return domain.Event{}, domain.ErrNoEvent
	case errors.Is(err, net.ErrClosed):
		return domain.Event{}, domain.ErrChannelClosed
	case err != nil:
		return domain.Event{}, fmt.Errorf("mrpd: receive: %w", err)
	}

	events := c.decodeDatagram(string(c.buf[:n]))
	if len(events) == 0 {
		return domain.Event{}, domain.ErrNoEvent
	}
	if len(events) > 1 {
		c.mu.Lock()
		c.pending = append(c.pending, events[1:]...)
		c.mu.Unlock()
	}
	return events[0], nil
}

func (c *Channel) decodeDatagram(data string) []domain.Event {
	var events []domain.Event
	for _, line := range strings.FieldsFunc(data, func(r rune) bool { return r == '\n' || r == 0 }) {
		ev, err := Decode(line)
		if err != nil {
			c.logger.Warnw("mrpd notification not understood", "line", logLine(line), "error", err)
			continue
		}
		if ev.Kind == domain.EventUnknown {
			c.logger.Debugw("mrpd notification ignored", "line", logLine(line))
			continue
		}
		events = append(events, ev)
	}
	return events
}

func logLine(line string) string {
	return utils.TruncateString(utils.SanitizeString(line), maxLogLine)
}

// Close is idempotent.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.pending = nil
	return err
}
