package validation

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"time"
)

const (
	// MaxTaggedFrameSize is the largest 802.1Q tagged Ethernet frame without FCS.
	MaxTaggedFrameSize = 1518
	// MaxChannels bounds the 61883-6 data block size.
	MaxChannels = 64
	// IFNAMSIZ - 1
	maxInterfaceName = 15
)

var (
	// InterfaceNameRegex validates network interface names
	InterfaceNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)

	// StreamIDRegex validates the 16 hex digit stream ID form
	StreamIDRegex = regexp.MustCompile(`^[0-9a-fA-F]{16}$`)
)

var sampleRates = map[uint32]bool{
	32000:  true,
	44100:  true,
	48000:  true,
	88200:  true,
	96000:  true,
	176400: true,
	192000: true,
}

// ValidateRole validates stream role
func ValidateRole(role string) error {
	switch role {
	case "talker", "listener":
		return nil
	case "":
		return fmt.Errorf("role is required")
	default:
		return fmt.Errorf("invalid role %q (must be talker or listener)", role)
	}
}

// ValidateTrafficClass validates SRP traffic class
func ValidateTrafficClass(class string) error {
	if class != "A" && class != "B" {
		return fmt.Errorf("invalid traffic class %q (must be A or B)", class)
	}
	return nil
}

// ValidateInterfaceName validates a network interface name
func ValidateInterfaceName(name string) error {
	if name == "" {
		return fmt.Errorf("interface name is required")
	}
	if len(name) > maxInterfaceName {
		return fmt.Errorf("interface name is too long (max %d characters)", maxInterfaceName)
	}
	if !InterfaceNameRegex.MatchString(name) {
		return fmt.Errorf("interface name contains invalid characters")
	}
	return nil
}

// ValidateStreamID validates the hex form of a stream ID
func ValidateStreamID(streamID string) error {
	if streamID == "" {
		return fmt.Errorf("stream ID is required")
	}
	if !StreamIDRegex.MatchString(streamID) {
		return fmt.Errorf("invalid stream ID format (want 16 hex digits)")
	}
	return nil
}

// ValidateMulticastMAC checks that s is a group address
func ValidateMulticastMAC(s string) error {
	hw, err := net.ParseMAC(s)
	if err != nil || len(hw) != 6 {
		return fmt.Errorf("invalid MAC address %q", s)
	}
	if hw[0]&0x01 == 0 {
		return fmt.Errorf("MAC address %s is not multicast", s)
	}
	return nil
}

// ValidateChannels validates channel count
func ValidateChannels(channels int) error {
	if channels < 1 {
		return fmt.Errorf("channels must be at least 1")
	}
	if channels > MaxChannels {
		return fmt.Errorf("channels is too high (max %d)", MaxChannels)
	}
	return nil
}

// ValidateSampleRate validates an AM824 sample rate
func ValidateSampleRate(rate uint32) error {
	if !sampleRates[rate] {
		return fmt.Errorf("unsupported sample rate %d Hz", rate)
	}
	return nil
}

// ValidateFrameSize checks that a frame fits a tagged Ethernet frame
func ValidateFrameSize(size int) error {
	if size > MaxTaggedFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds %d", size, MaxTaggedFrameSize)
	}
	return nil
}

// ValidateFraction validates a value in (0, 1]
func ValidateFraction(v float64, fieldName string) error {
	if v <= 0 || v > 1 {
		return fmt.Errorf("%s must be within (0,1]", fieldName)
	}
	return nil
}

// ValidateOpenFraction validates a value in (0, 1)
func ValidateOpenFraction(v float64, fieldName string) error {
	if v <= 0 || v >= 1 {
		return fmt.Errorf("%s must be within (0,1)", fieldName)
	}
	return nil
}

// ValidatePositiveDuration validates that d is > 0
func ValidatePositiveDuration(d time.Duration, fieldName string) error {
	if d <= 0 {
		return fmt.Errorf("%s must be > 0", fieldName)
	}
	return nil
}

// ValidateHostPort validates a host:port address; the host may be empty
func ValidateHostPort(addr string) error {
	if addr == "" {
		return fmt.Errorf("address is required")
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", addr, err)
	}
	p, err := strconv.Atoi(port)
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("invalid port in %q", addr)
	}
	return nil
}

// ValidateURL validates URL format
func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme (must be http or https)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
