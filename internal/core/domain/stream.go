package domain

import (
	"encoding/hex"
	"fmt"
	"net"
	"strings"
)

// StreamID is the 64-bit IEEE 1722 stream identifier.
type StreamID [8]byte

// NewStreamID builds the stream ID used by the example endpoints: the
// unique ID and endpoint ID occupy bytes 4 and 5.
func NewStreamID(uid, eid uint8) StreamID {
	return StreamID{0, 0, 0, 0, uid, eid, 0, 0}
}

func ParseStreamID(s string) (StreamID, error) {
	var id StreamID
	s = strings.ReplaceAll(s, ":", "")
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(id) {
		return id, fmt.Errorf("invalid stream id %q", s)
	}
	copy(id[:], b)
	return id, nil
}

// String is the 16 hex digit form mrpd uses.
func (id StreamID) String() string {
	return hex.EncodeToString(id[:])
}

// MAC is an Ethernet hardware address.
type MAC [6]byte

// MulticastMAC is the AVTP destination for a given unique/endpoint ID pair
// within the 91:E0:F0:00 block reserved for MAAP.
func MulticastMAC(uid, eid uint8) MAC {
	return MAC{0x91, 0xE0, 0xF0, 0x00, uid, eid}
}

func ParseMAC(s string) (MAC, error) {
	var m MAC
	if !strings.ContainsAny(s, ":-") && len(s) == 12 {
		b, err := hex.DecodeString(s)
		if err != nil {
			return m, fmt.Errorf("invalid mac %q", s)
		}
		copy(m[:], b)
		return m, nil
	}
	hw, err := net.ParseMAC(s)
	if err != nil || len(hw) != len(m) {
		return m, fmt.Errorf("invalid mac %q", s)
	}
	copy(m[:], hw)
	return m, nil
}

func (m MAC) String() string { return net.HardwareAddr(m[:]).String() }

// Hex is the 12 hex digit form mrpd uses.
func (m MAC) Hex() string { return hex.EncodeToString(m[:]) }

func (m MAC) HardwareAddr() net.HardwareAddr {
	hw := make(net.HardwareAddr, len(m))
	copy(hw, m[:])
	return hw
}

func (m MAC) IsZero() bool { return m == MAC{} }

type Role string

const (
	RoleTalker   Role = "talker"
	RoleListener Role = "listener"
)

func (r Role) Valid() bool { return r == RoleTalker || r == RoleListener }

// TrafficClass is an SRP traffic class.
type TrafficClass string

const (
	ClassA TrafficClass = "A"
	ClassB TrafficClass = "B"
)

// SRP class IDs as carried in the domain attribute.
const (
	ClassIDA = 6
	ClassIDB = 5
)

func (c TrafficClass) ID() int {
	if c == ClassB {
		return ClassIDB
	}
	return ClassIDA
}

func ClassFromID(id int) (TrafficClass, bool) {
	switch id {
	case ClassIDA:
		return ClassA, true
	case ClassIDB:
		return ClassB, true
	}
	return "", false
}

// DomainAttribute identifies a reservable AVB domain.
type DomainAttribute struct {
	Class    TrafficClass `json:"class"`
	Priority uint8        `json:"priority"`
	VID      uint16       `json:"vid"`
}

func (d DomainAttribute) String() string {
	return fmt.Sprintf("class=%s prio=%d vid=%d", d.Class, d.Priority, d.VID)
}

type StreamState int

const (
	StateIdle StreamState = iota
	StateMonitoring
	StateDomainKnown
	StateJoining
	StateAdmitted
	StateLeaving
	StateFailed
)

func (s StreamState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateMonitoring:
		return "monitoring"
	case StateDomainKnown:
		return "domain_known"
	case StateJoining:
		return "joining"
	case StateAdmitted:
		return "admitted"
	case StateLeaving:
		return "leaving"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
