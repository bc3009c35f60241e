package domain

// RequestKind enumerates the declarations the client sends to the
// registration daemon.
type RequestKind int

const (
	RequestQueryDomain RequestKind = iota
	RequestReportDomain
	RequestWithdrawDomain
	RequestJoinVLAN
	RequestLeaveVLAN
	RequestAdvertise
	RequestUnadvertise
	RequestListenerReady
	RequestListenerLeave
	RequestDisconnect
)

func (k RequestKind) String() string {
	switch k {
	case RequestQueryDomain:
		return "query_domain"
	case RequestReportDomain:
		return "report_domain"
	case RequestWithdrawDomain:
		return "withdraw_domain"
	case RequestJoinVLAN:
		return "join_vlan"
	case RequestLeaveVLAN:
		return "leave_vlan"
	case RequestAdvertise:
		return "advertise"
	case RequestUnadvertise:
		return "unadvertise"
	case RequestListenerReady:
		return "listener_ready"
	case RequestListenerLeave:
		return "listener_leave"
	case RequestDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

type Request struct {
	Kind     RequestKind
	StreamID StreamID
	DestMAC  MAC
	Domain   DomainAttribute

	// talker advertise only
	MaxFrameSize int
	Interval     int
	LatencyNS    uint32
}

type EventKind int

const (
	EventUnknown EventKind = iota
	EventDomain
	EventTalker
	EventListener
	EventVLAN
	EventDaemonError
)

// ListenerDeclaration is the MSRP listener declaration type.
type ListenerDeclaration int

const (
	ListenerIgnore ListenerDeclaration = iota
	ListenerAskingFailed
	ListenerReady
	ListenerReadyFailed
)

// Event is one asynchronous notification from the daemon.
type Event struct {
	Kind EventKind
	// Leave marks a deregistration (peer departure) rather than a join.
	Leave bool

	Domain   DomainAttribute
	StreamID StreamID
	DestMAC  MAC
	VID      uint16

	// TalkerFailed is set on a talker-failed declaration.
	TalkerFailed bool
	Listener     ListenerDeclaration

	Raw string
}
