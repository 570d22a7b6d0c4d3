package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ocxo/spilink/internal/capture"
	"github.com/ocxo/spilink/internal/config"
	"github.com/ocxo/spilink/internal/discovery"
	"github.com/ocxo/spilink/internal/logging"
	"github.com/ocxo/spilink/internal/protocol"
	"github.com/ocxo/spilink/internal/transport"
)

// Global flags
var (
	configPath    string
	transportKind string
	devicePath    string
	speedHz       uint32
	bridgeURL     string
	bridgeName    string
	chunkSize     int
	pollInterval  time.Duration
	logLevel      string
	capturePath   string
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Config file (default: user config dir/spilink/config.yaml)")
	pf.StringVar(&transportKind, "transport", "", "Transport: spidev, websocket or replay")
	pf.StringVar(&devicePath, "device", "", "spidev device path")
	pf.Uint32Var(&speedHz, "speed", 0, "SPI clock in Hz")
	pf.StringVar(&bridgeURL, "url", "", "Bridge URL, e.g. ws://raspberrypi.local:8732/exchange (implies --transport websocket)")
	pf.StringVar(&bridgeName, "bridge", "", "Find a bridge by mDNS instance name and use it (implies --transport websocket)")
	pf.IntVar(&chunkSize, "chunk-size", 0, "Bytes per exchange")
	pf.DurationVar(&pollInterval, "interval", 0, "Idle poll interval")
	pf.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); logs go to stderr")
	pf.StringVar(&capturePath, "capture", "", "Record every exchange to this capture file")
}

// loadConfig reads the config file and applies the flags that were set on
// the command line.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("transport") {
		cfg.Transport.Kind = transportKind
	}
	if flags.Changed("device") {
		cfg.Transport.Device = devicePath
	}
	if flags.Changed("speed") {
		cfg.Transport.SpeedHz = speedHz
	}
	if flags.Changed("url") {
		cfg.Transport.URL = bridgeURL
		if !flags.Changed("transport") {
			cfg.Transport.Kind = string(transport.KindWebSocket)
		}
	}
	if flags.Changed("chunk-size") {
		cfg.Transport.ChunkSize = chunkSize
	}
	if flags.Changed("interval") {
		cfg.Poll.Interval = pollInterval
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	if flags.Changed("capture") {
		cfg.Transport.Capture = capturePath
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	opts := cfg.LoggingOptions()
	if opts.Level == "" {
		opts.Level = os.Getenv(logging.LogLevelEnvVar)
	}
	if err := logging.Setup(opts); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	return cfg, nil
}

// newDecoder builds a decoder from the configured control bytes and catalog.
func newDecoder(cfg *config.Config, sink protocol.Sink) (*protocol.Decoder, error) {
	cat, err := cfg.Catalog()
	if err != nil {
		return nil, err
	}
	return protocol.NewDecoder(cfg.ProtocolControls(), cat, sink)
}

// openTransport opens the configured transport, wrapped in a Recorder when
// a capture file is set.
func openTransport(ctx context.Context, cfg *config.Config) (transport.Transport, string, error) {
	if bridgeName != "" {
		b, err := discovery.NewScanner().Find(ctx, bridgeName)
		if err != nil {
			return nil, "", err
		}
		logging.Info("Using discovered bridge", zap.String("bridge", b.String()))
		cfg.Transport.Kind = string(transport.KindWebSocket)
		cfg.Transport.URL = b.URL()
		if size := b.ExchangeSize(); size > 0 {
			cfg.Transport.ChunkSize = size
		}
	}

	tcfg := cfg.TransportConfig().WithDefaults()
	t, err := transport.Open(ctx, tcfg)
	if err != nil {
		return nil, "", err
	}
	source := tcfg.Source()

	if cfg.Transport.Capture == "" {
		return t, source, nil
	}

	w, err := capture.Create(cfg.Transport.Capture, capture.Header{
		Size:    t.Size(),
		Source:  source,
		Started: time.Now().UTC(),
	})
	if err != nil {
		_ = t.Close()
		return nil, "", err
	}
	logging.Info("Recording exchanges", zap.String("file", cfg.Transport.Capture))
	return transport.NewRecorder(t, w, tcfg.Idle), source, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
