//go:build !linux

package rawsock

import (
	"context"
	"errors"
)

var errUnsupported = errors.New("rawsock: raw ethernet sockets need linux")

type Socket struct{}

func Open(cfg Config) (*Socket, error) { return nil, errUnsupported }

func (s *Socket) ReadFrame(ctx context.Context, buf []byte) (int, error) { return 0, errUnsupported }
func (s *Socket) WriteFrame(frame []byte) error                          { return errUnsupported }
func (s *Socket) Close() error                                           { return nil }
