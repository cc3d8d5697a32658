package transport

import (
	"fmt"
	"strings"
)

const (
	NetworkTCP  = "tcp"
	NetworkUnix = "unix"
)

// ParseAddress splits "unix:/run/mon.sock", "unix:///run/mon.sock",
// "tcp://host:port" and bare "host:port" into a network and address.
func ParseAddress(address string) (network, addr string, err error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", "", fmt.Errorf("transport: empty address")
	}
	switch {
	case strings.HasPrefix(address, "unix://"):
		network, addr = NetworkUnix, strings.TrimPrefix(address, "unix://")
	case strings.HasPrefix(address, "unix:"):
		network, addr = NetworkUnix, strings.TrimPrefix(address, "unix:")
	case strings.HasPrefix(address, "tcp://"):
		network, addr = NetworkTCP, strings.TrimPrefix(address, "tcp://")
	default:
		network, addr = NetworkTCP, address
	}
	if addr == "" {
		return "", "", fmt.Errorf("transport: empty %s address in %q", network, address)
	}
	return network, addr, nil
}
