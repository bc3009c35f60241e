//go:build linux

package rawsock

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"avbstream/internal/core/ports"

	"golang.org/x/sys/unix"
)

// Socket is an AF_PACKET socket bound to one interface. Frames arrive with
// their 802.1Q tag in place, which requires rx VLAN offload to be off on the
// interface.
type Socket struct {
	fd      int
	ifindex int
	poll    int

	mu     sync.Mutex
	closed bool
}

var (
	_ ports.FrameSource = (*Socket)(nil)
	_ ports.FrameSink   = (*Socket)(nil)
)

func htons(v uint16) uint16 { return v<<8 | v>>8 }

// Open binds a socket for 802.1Q frames on cfg.Interface.
func Open(cfg Config) (*Socket, error) {
	ifi, err := net.InterfaceByName(cfg.Interface)
	if err != nil {
		return nil, fmt.Errorf("rawsock: %w", err)
	}

	proto := htons(unix.ETH_P_8021Q)
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW|unix.SOCK_CLOEXEC, int(proto))
	if err != nil {
		return nil, fmt.Errorf("rawsock: socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrLinklayer{Protocol: proto, Ifindex: ifi.Index}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("rawsock: bind %s: %w", cfg.Interface, err)
	}
	if !cfg.Multicast.IsZero() {
		mreq := unix.PacketMreq{
			Ifindex: int32(ifi.Index),
			Type:    unix.PACKET_MR_MULTICAST,
			Alen:    6,
		}
		copy(mreq.Address[:], cfg.Multicast[:])
		if err := unix.SetsockoptPacketMreq(fd, unix.SOL_PACKET, unix.PACKET_ADD_MEMBERSHIP, &mreq); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("rawsock: join %s: %w", cfg.Multicast, err)
		}
	}

	poll := cfg.PollTimeout
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	return &Socket{fd: fd, ifindex: ifi.Index, poll: int(poll / time.Millisecond)}, nil
}

// ReadFrame waits at most one poll timeout and returns (0, nil) when it
// expires.
func (s *Socket) ReadFrame(ctx context.Context, buf []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	fds := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, s.poll)
	switch {
	case errors.Is(err, unix.EINTR):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("rawsock: poll: %w", err)
	case n == 0:
		return 0, nil
	}

	n, _, err = unix.Recvfrom(s.fd, buf, unix.MSG_DONTWAIT)
	if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("rawsock: recv: %w", err)
	}
	return n, nil
}

func (s *Socket) WriteFrame(frame []byte) error {
	if len(frame) < 14 {
		return fmt.Errorf("rawsock: frame of %d bytes", len(frame))
	}
	to := &unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_8021Q),
		Ifindex:  s.ifindex,
		Halen:    6,
	}
	copy(to.Addr[:], frame[:6])
	if err := unix.Sendto(s.fd, frame, 0, to); err != nil {
		return fmt.Errorf("rawsock: send: %w", err)
	}
	return nil
}

// Close is idempotent.
func (s *Socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return unix.Close(s.fd)
}
