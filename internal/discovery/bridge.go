package discovery

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Bridge is a spilink-bridge found on the local network.
type Bridge struct {
	// Instance is the advertised service instance name (e.g., "gpsdo-shack")
	Instance string

	// Hostname is the mDNS hostname (e.g., "raspberrypi.local.")
	Hostname string

	// IP is the IPv4 address, or IPv6 when no IPv4 address was advertised
	IP string

	// Port is the bridge's TCP port
	Port int

	// Metadata holds the TXT records: path, size, device, version
	Metadata map[string]string

	// DiscoveredAt is when the bridge answered
	DiscoveredAt time.Time
}

// String returns a human-readable description of the bridge.
func (b *Bridge) String() string {
	return fmt.Sprintf("%s (%s) at %s", b.Instance, strings.TrimSuffix(b.Hostname, "."), net.JoinHostPort(b.IP, strconv.Itoa(b.Port)))
}

// URL returns the WebSocket exchange endpoint.
func (b *Bridge) URL() string {
	path := b.GetMetadata("path")
	if path == "" {
		path = DefaultPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return "ws://" + net.JoinHostPort(b.IP, strconv.Itoa(b.Port)) + path
}

// ExchangeSize returns the advertised exchange size, or 0 if absent.
func (b *Bridge) ExchangeSize() int {
	n, err := strconv.Atoi(b.GetMetadata("size"))
	if err != nil {
		return 0
	}
	return n
}

// GetMetadata retrieves a metadata value by key, or returns empty string if not found
func (b *Bridge) GetMetadata(key string) string {
	if b.Metadata == nil {
		return ""
	}
	return b.Metadata[key]
}
