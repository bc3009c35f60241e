// Package rawsock sends and receives raw Ethernet frames on one interface.
package rawsock

import (
	"fmt"
	"net"
	"time"

	"avbstream/internal/core/domain"
)

// Config selects the interface and the multicast group to join.
type Config struct {
	Interface string
	// Multicast is joined on open so the NIC delivers the stream; zero skips it.
	Multicast   domain.MAC
	PollTimeout time.Duration
}

// InterfaceMAC returns the hardware address of the named interface, used as
// the talker source address.
func InterfaceMAC(name string) (domain.MAC, error) {
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return domain.MAC{}, fmt.Errorf("rawsock: %w", err)
	}
	var mac domain.MAC
	if len(ifi.HardwareAddr) != len(mac) {
		return mac, fmt.Errorf("rawsock: %s has no ethernet address", name)
	}
	copy(mac[:], ifi.HardwareAddr)
	return mac, nil
}
