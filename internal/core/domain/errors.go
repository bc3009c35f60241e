package domain

import "errors"

var (
	ErrControlChannel    = errors.New("control channel unavailable")
	ErrDomainTimeout     = errors.New("domain advertisement timeout")
	ErrAdmissionRejected = errors.New("admission rejected")
	ErrReadyTimeout      = errors.New("peer ready timeout")
	ErrPeerDeparted      = errors.New("peer departed")
	ErrInvalidState      = errors.New("invalid state")
	ErrNoEvent           = errors.New("no event")
	ErrChannelClosed     = errors.New("control channel closed")

	ErrFrameTooShort    = errors.New("frame too short")
	ErrDestMACMismatch  = errors.New("destination mac mismatch")
	ErrStreamIDMismatch = errors.New("stream id mismatch")
	ErrMalformedFrame   = errors.New("malformed frame")
	ErrNotAdmitted      = errors.New("stream not admitted")
	ErrRingOverrun      = errors.New("ring overrun")
	ErrSessionNotFound  = errors.New("session not found")
)
