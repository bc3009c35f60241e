package domain

import "time"

type SessionID string

// SessionStatus is the externally visible state of one streaming session.
type SessionStatus struct {
	ID        SessionID        `json:"id"`
	StreamID  string           `json:"stream_id"`
	Role      Role             `json:"role"`
	State     string           `json:"state"`
	Domain    *DomainAttribute `json:"domain,omitempty"`
	DestMAC   string           `json:"dest_mac"`
	Counters  CounterSnapshot  `json:"counters"`
	Error     string           `json:"error,omitempty"`
	StartedAt time.Time        `json:"started_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}
