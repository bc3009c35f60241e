package mrpd

import (
	"testing"

	"avbstream/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testStream = domain.NewStreamID(0x0e, 0x80)
	testDest   = domain.MulticastMAC(0x0e, 0x80)
	classA     = domain.DomainAttribute{Class: domain.ClassA, Priority: 3, VID: 2}
)

func TestEncode(t *testing.T) {
	advertise := domain.Request{
		Kind:         domain.RequestAdvertise,
		StreamID:     testStream,
		DestMAC:      testDest,
		Domain:       classA,
		MaxFrameSize: 80,
		Interval:     1,
		LatencyNS:    3900,
	}
	unadvertise := advertise
	unadvertise.Kind = domain.RequestUnadvertise

	tests := []struct {
		name string
		req  domain.Request
		want string
	}{
		{"query", domain.Request{Kind: domain.RequestQueryDomain}, "S??"},
		{"report domain", domain.Request{Kind: domain.RequestReportDomain, Domain: classA}, "S+D:C=6,P=3,V=0002"},
		{"withdraw domain", domain.Request{Kind: domain.RequestWithdrawDomain, Domain: classA}, "S-D:C=6,P=3,V=0002"},
		{"join vlan", domain.Request{Kind: domain.RequestJoinVLAN, Domain: classA}, "V++:I=0002"},
		{"leave vlan", domain.Request{Kind: domain.RequestLeaveVLAN, Domain: classA}, "V--:I=0002"},
		{"advertise", advertise, "S++:S=000000000e800000,A=91e0f0000e80,V=0002,Z=80,I=1,P=96,L=3900"},
		{"unadvertise", unadvertise, "S--:S=000000000e800000,A=91e0f0000e80,V=0002,Z=80,I=1,P=96,L=3900"},
		{"listener ready", domain.Request{Kind: domain.RequestListenerReady, StreamID: testStream}, "S+L:L=000000000e800000,D=2"},
		{"listener leave", domain.Request{Kind: domain.RequestListenerLeave, StreamID: testStream}, "S-L:L=000000000e800000,D=3"},
		{"disconnect", domain.Request{Kind: domain.RequestDisconnect}, "BYE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Encode(domain.Request{Kind: domain.RequestKind(99)})
	assert.Error(t, err)
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		line string
		want domain.Event
	}{
		{
			name: "class A domain",
			line: "SJO D:C=6,P=3,V=0002",
			want: domain.Event{Kind: domain.EventDomain, Domain: classA},
		},
		{
			name: "class B domain with trailing registrar state",
			line: "SNE D:C=5,P=2,V=0002 R=000000000000",
			want: domain.Event{Kind: domain.EventDomain, Domain: domain.DomainAttribute{Class: domain.ClassB, Priority: 2, VID: 2}},
		},
		{
			name: "talker advertise",
			line: "SNE T:S=000000000E800000,A=91E0F0000E80,V=0002,Z=80,I=1,P=96,L=3900",
			want: domain.Event{Kind: domain.EventTalker, StreamID: testStream, DestMAC: testDest, VID: 2},
		},
		{
			name: "talker failed",
			line: "SJO T:S=000000000e800000,A=91e0f0000e80,V=0002,Z=80,I=1,P=96,L=3900,B=001122334455,C=1",
			want: domain.Event{Kind: domain.EventTalker, StreamID: testStream, DestMAC: testDest, VID: 2, TalkerFailed: true},
		},
		{
			name: "talker leave",
			line: "SLE T:S=000000000e800000,A=91e0f0000e80,V=0002",
			want: domain.Event{Kind: domain.EventTalker, Leave: true, StreamID: testStream, DestMAC: testDest, VID: 2},
		},
		{
			name: "listener ready",
			line: "SJO L:D=2,S=000000000e800000",
			want: domain.Event{Kind: domain.EventListener, StreamID: testStream, Listener: domain.ListenerReady},
		},
		{
			name: "listener asking failed",
			line: "SIN L:D=1,S=000000000e800000",
			want: domain.Event{Kind: domain.EventListener, StreamID: testStream, Listener: domain.ListenerAskingFailed},
		},
		{
			name: "vlan join",
			line: "VJO 0002",
			want: domain.Event{Kind: domain.EventVLAN, VID: 2},
		},
		{
			name: "daemon error",
			line: "ERP S++:S=000000000e800000",
			want: domain.Event{Kind: domain.EventDaemonError},
		},
		{
			name: "unrelated output",
			line: "MMRP registrations follow",
			want: domain.Event{Kind: domain.EventUnknown},
		},
		{
			name: "other SR class",
			line: "SJO D:C=4,P=1,V=0003",
			want: domain.Event{Kind: domain.EventUnknown},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.line + "\x00")
			require.NoError(t, err)
			got.Raw = ""
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecode_BrokenFields(t *testing.T) {
	for _, line := range []string{
		"SJO D:C=x,P=3,V=0002",
		"SJO D:C=6,P=9,V=0002",
		"SJO D:C=6,P=3,V=zz",
		"SNE T:S=123,A=91e0f0000e80",
		"SNE T:S=000000000e800000,A=nope",
		"SJO L:D=7,S=000000000e800000",
		"VJO xyz",
	} {
		_, err := Decode(line)
		assert.Error(t, err, line)
	}
}

func TestDecode_KeepsRaw(t *testing.T) {
	ev, err := Decode("ERC unknown command\n")
	require.NoError(t, err)
	assert.Equal(t, "ERC unknown command", ev.Raw)
}
