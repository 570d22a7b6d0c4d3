package transport

import (
	"errors"
	"runtime"
	"testing"
)

func TestParseSpidevPath(t *testing.T) {
	tests := []struct {
		path    string
		bus, cs int
		wantErr bool
	}{
		{path: "/dev/spidev0.0", bus: 0, cs: 0},
		{path: "/dev/spidev1.2", bus: 1, cs: 2},
		{path: "spidev10.1", bus: 10, cs: 1},
		{path: "/dev/ttyUSB0", wantErr: true},
		{path: "/dev/spidev0", wantErr: true},
		{path: "/dev/spidev0.0x", wantErr: true},
		{path: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			bus, cs, err := parseSpidevPath(tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseSpidevPath() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && (bus != tt.bus || cs != tt.cs) {
				t.Errorf("parseSpidevPath() = %d.%d, want %d.%d", bus, cs, tt.bus, tt.cs)
			}
		})
	}
}

func TestOpenSpidevErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "missing device", cfg: Config{Device: "/dev/spidev99.7"}},
		{name: "not a spidev path", cfg: Config{Device: "/dev/null"}},
		{name: "bad mode", cfg: Config{Device: "/dev/spidev0.0", Mode: 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := OpenSpidev(tt.cfg)
			if err == nil {
				s.Close()
				t.Fatal("OpenSpidev() succeeded")
			}
			var terr *Error
			if !errors.As(err, &terr) || terr.Op != "open" || terr.Source != tt.cfg.Device {
				t.Errorf("OpenSpidev() error = %#v, want *Error for open of %s", err, tt.cfg.Device)
			}
			if runtime.GOOS != "linux" && !errors.Is(err, ErrUnsupported) {
				t.Errorf("OpenSpidev() error = %v, want ErrUnsupported off Linux", err)
			}
		})
	}
}
