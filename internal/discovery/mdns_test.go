package discovery

import (
	"net"
	"testing"

	"github.com/grandcat/zeroconf"
)

func TestParseServiceEntry(t *testing.T) {
	tests := []struct {
		name     string
		entry    *zeroconf.ServiceEntry
		wantNil  bool
		wantIP   string
		wantPort int
		wantURL  string
	}{
		{
			name: "IPv4 bridge",
			entry: &zeroconf.ServiceEntry{
				ServiceRecord: zeroconf.ServiceRecord{Instance: "gpsdo"},
				HostName:      "raspberrypi.local.",
				Port:          8732,
				AddrIPv4:      []net.IP{net.ParseIP("192.168.4.16")},
				Text:          []string{"path=/exchange", "size=32"},
			},
			wantIP:   "192.168.4.16",
			wantPort: 8732,
			wantURL:  "ws://192.168.4.16:8732/exchange",
		},
		{
			name: "no port falls back to default",
			entry: &zeroconf.ServiceEntry{
				ServiceRecord: zeroconf.ServiceRecord{Instance: "gpsdo"},
				AddrIPv4:      []net.IP{net.ParseIP("10.0.0.5")},
			},
			wantIP:   "10.0.0.5",
			wantPort: DefaultPort,
			wantURL:  "ws://10.0.0.5:8732/exchange",
		},
		{
			name: "custom path without slash",
			entry: &zeroconf.ServiceEntry{
				Port:     9000,
				AddrIPv4: []net.IP{net.ParseIP("10.0.0.6")},
				Text:     []string{"path=spi"},
			},
			wantIP:   "10.0.0.6",
			wantPort: 9000,
			wantURL:  "ws://10.0.0.6:9000/spi",
		},
		{
			name: "IPv6 only",
			entry: &zeroconf.ServiceEntry{
				Port:     8732,
				AddrIPv6: []net.IP{net.ParseIP("fe80::1")},
			},
			wantIP:   "fe80::1",
			wantPort: 8732,
			wantURL:  "ws://[fe80::1]:8732/exchange",
		},
		{
			name: "prefers IPv4",
			entry: &zeroconf.ServiceEntry{
				Port:     8732,
				AddrIPv4: []net.IP{net.ParseIP("192.168.1.50")},
				AddrIPv6: []net.IP{net.ParseIP("fe80::2")},
			},
			wantIP:   "192.168.1.50",
			wantPort: 8732,
			wantURL:  "ws://192.168.1.50:8732/exchange",
		},
		{
			name: "no address",
			entry: &zeroconf.ServiceEntry{
				HostName: "raspberrypi.local.",
				Port:     8732,
			},
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bridge := parseServiceEntry(tt.entry)
			if tt.wantNil {
				if bridge != nil {
					t.Errorf("parseServiceEntry() = %v, want nil", bridge)
				}
				return
			}
			if bridge == nil {
				t.Fatal("parseServiceEntry() = nil, want a bridge")
			}
			if bridge.IP != tt.wantIP {
				t.Errorf("IP = %v, want %v", bridge.IP, tt.wantIP)
			}
			if bridge.Port != tt.wantPort {
				t.Errorf("Port = %v, want %v", bridge.Port, tt.wantPort)
			}
			if got := bridge.URL(); got != tt.wantURL {
				t.Errorf("URL() = %v, want %v", got, tt.wantURL)
			}
			if bridge.DiscoveredAt.IsZero() {
				t.Error("DiscoveredAt not set")
			}
		})
	}
}

func TestBridgeMetadata(t *testing.T) {
	b := &Bridge{
		Instance: "gpsdo",
		Hostname: "raspberrypi.local.",
		IP:       "192.168.4.16",
		Port:     8732,
		Metadata: map[string]string{"size": "32", "device": "/dev/spidev0.0", "flag": ""},
	}

	if b.ExchangeSize() != 32 {
		t.Errorf("ExchangeSize() = %d, want 32", b.ExchangeSize())
	}
	if b.GetMetadata("device") != "/dev/spidev0.0" {
		t.Errorf("GetMetadata(device) = %q", b.GetMetadata("device"))
	}
	if b.GetMetadata("missing") != "" {
		t.Error("GetMetadata(missing) should be empty")
	}
	if want := "gpsdo (raspberrypi.local) at 192.168.4.16:8732"; b.String() != want {
		t.Errorf("String() = %q, want %q", b.String(), want)
	}

	if (&Bridge{}).ExchangeSize() != 0 {
		t.Error("ExchangeSize() without metadata should be 0")
	}
}

func TestNewScanner(t *testing.T) {
	if s := NewScanner(); s.Timeout != DefaultScanTimeout {
		t.Errorf("Timeout = %v, want %v", s.Timeout, DefaultScanTimeout)
	}
}
