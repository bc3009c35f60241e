// Package mrpd speaks the text protocol of the MRP registration daemon over
// its local UDP control port.
//
// Requests are single commands such as "S+D:C=6,P=3,V=0002". The daemon
// answers with notification lines of the form "<verb> <type>:<k=v,...>",
// for example "SJO D:C=6,P=3,V=0002" or "SNE T:S=...,A=...,V=0002", and
// with lines starting "ER" when a command was refused.
package mrpd

import (
	"fmt"
	"strconv"
	"strings"

	"avbstream/internal/core/domain"
)

// Encode renders req as a daemon command.
func Encode(req domain.Request) (string, error) {
	d := req.Domain
	switch req.Kind {
	case domain.RequestQueryDomain:
		return "S??", nil
	case domain.RequestReportDomain:
		return fmt.Sprintf("S+D:C=%d,P=%d,V=%04x", d.Class.ID(), d.Priority, d.VID), nil
	case domain.RequestWithdrawDomain:
		return fmt.Sprintf("S-D:C=%d,P=%d,V=%04x", d.Class.ID(), d.Priority, d.VID), nil
	case domain.RequestJoinVLAN:
		return fmt.Sprintf("V++:I=%04x", d.VID), nil
	case domain.RequestLeaveVLAN:
		return fmt.Sprintf("V--:I=%04x", d.VID), nil
	case domain.RequestAdvertise:
		return "S++:" + talkerFields(req), nil
	case domain.RequestUnadvertise:
		return "S--:" + talkerFields(req), nil
	case domain.RequestListenerReady:
		return fmt.Sprintf("S+L:L=%s,D=%d", req.StreamID, domain.ListenerReady), nil
	case domain.RequestListenerLeave:
		return fmt.Sprintf("S-L:L=%s,D=%d", req.StreamID, domain.ListenerReadyFailed), nil
	case domain.RequestDisconnect:
		return "BYE", nil
	}
	return "", fmt.Errorf("mrpd: no command for request %s", req.Kind)
}

func talkerFields(req domain.Request) string {
	return fmt.Sprintf("S=%s,A=%s,V=%04X,Z=%d,I=%d,P=%d,L=%d",
		req.StreamID, req.DestMAC.Hex(), req.Domain.VID,
		req.MaxFrameSize, req.Interval, int(req.Domain.Priority)<<5, req.LatencyNS)
}

// Decode parses one notification line. Lines it does not understand come
// back as EventUnknown with Raw set, never as an error; the error is for
// recognised lines with broken fields.
func Decode(line string) (domain.Event, error) {
	line = strings.Trim(line, "\x00\r\n\t ")
	ev := domain.Event{Kind: domain.EventUnknown, Raw: line}
	if strings.HasPrefix(line, "ER") {
		ev.Kind = domain.EventDaemonError
		return ev, nil
	}
	if len(line) < 5 || line[3] != ' ' {
		return ev, nil
	}

	verb := line[:3]
	ev.Leave = verb[1:] == "LE" || verb[1:] == "LV"
	rest := line[4:]

	switch verb[0] {
	case 'S':
		if len(rest) < 2 || rest[1] != ':' {
			return ev, nil
		}
		fields := parseFields(rest[2:])
		switch rest[0] {
		case 'D':
			return decodeDomain(ev, fields)
		case 'T':
			return decodeTalker(ev, fields)
		case 'L':
			return decodeListener(ev, fields)
		}
	case 'V':
		return decodeVLAN(ev, rest)
	}
	return ev, nil
}

func decodeDomain(ev domain.Event, f map[string]string) (domain.Event, error) {
	id, err := strconv.Atoi(f["C"])
	if err != nil {
		return ev, fmt.Errorf("mrpd: domain class in %q: %w", ev.Raw, err)
	}
	class, ok := domain.ClassFromID(id)
	if !ok {
		// other SR classes exist on the wire; they are not ours
		return ev, nil
	}
	prio, err := strconv.ParseUint(f["P"], 10, 3)
	if err != nil {
		return ev, fmt.Errorf("mrpd: domain priority in %q: %w", ev.Raw, err)
	}
	vid, err := strconv.ParseUint(f["V"], 16, 12)
	if err != nil {
		return ev, fmt.Errorf("mrpd: domain vid in %q: %w", ev.Raw, err)
	}
	ev.Kind = domain.EventDomain
	ev.Domain = domain.DomainAttribute{Class: class, Priority: uint8(prio), VID: uint16(vid)}
	return ev, nil
}

func decodeTalker(ev domain.Event, f map[string]string) (domain.Event, error) {
	id, err := domain.ParseStreamID(f["S"])
	if err != nil {
		return ev, fmt.Errorf("mrpd: talker stream in %q: %w", ev.Raw, err)
	}
	ev.Kind = domain.EventTalker
	ev.StreamID = id
	if a, ok := f["A"]; ok {
		mac, err := domain.ParseMAC(a)
		if err != nil {
			return ev, fmt.Errorf("mrpd: talker address in %q: %w", ev.Raw, err)
		}
		ev.DestMAC = mac
	}
	if v, ok := f["V"]; ok {
		if vid, err := strconv.ParseUint(v, 16, 12); err == nil {
			ev.VID = uint16(vid)
		}
	}
	// a talker failed declaration carries failure information: the bridge
	// that failed it and a non-zero failure code
	if code, ok := f["C"]; ok && code != "" && code != "0" {
		ev.TalkerFailed = true
	}
	return ev, nil
}

func decodeListener(ev domain.Event, f map[string]string) (domain.Event, error) {
	sid, ok := f["S"]
	if !ok {
		sid = f["L"]
	}
	id, err := domain.ParseStreamID(sid)
	if err != nil {
		return ev, fmt.Errorf("mrpd: listener stream in %q: %w", ev.Raw, err)
	}
	decl, err := strconv.Atoi(f["D"])
	if err != nil || decl < 0 || decl > int(domain.ListenerReadyFailed) {
		return ev, fmt.Errorf("mrpd: listener declaration in %q", ev.Raw)
	}
	ev.Kind = domain.EventListener
	ev.StreamID = id
	ev.Listener = domain.ListenerDeclaration(decl)
	return ev, nil
}

// VLAN lines come as "VJO 0002" or "VJO I=0002".
func decodeVLAN(ev domain.Event, rest string) (domain.Event, error) {
	tok := strings.Fields(rest)
	if len(tok) == 0 {
		return ev, nil
	}
	v := strings.TrimPrefix(tok[0], "I=")
	vid, err := strconv.ParseUint(v, 16, 12)
	if err != nil {
		return ev, fmt.Errorf("mrpd: vlan id in %q: %w", ev.Raw, err)
	}
	ev.Kind = domain.EventVLAN
	ev.VID = uint16(vid)
	return ev, nil
}

// parseFields splits "k=v,k=v k=v" into a map.
func parseFields(s string) map[string]string {
	out := make(map[string]string)
	for _, tok := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' }) {
		k, v, _ := strings.Cut(tok, "=")
		out[k] = v
	}
	return out
}

