// Spilink-bridge exposes a local SPI bus to spilink over the network.
//
// It runs on the machine wired to the GPSDO microcontroller, opens the
// spidev device and relays one exchange per WebSocket binary message. The
// service is advertised over mDNS so `spilink scan` can find it.
//
// Usage:
//
//	spilink-bridge serve [flags]
//
// See 'spilink-bridge serve --help' for available options.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ocxo/spilink/internal/bridge"
	"github.com/ocxo/spilink/internal/config"
	"github.com/ocxo/spilink/internal/logging"
	"github.com/ocxo/spilink/internal/transport"
	"github.com/ocxo/spilink/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "spilink-bridge",
	Short: "Serve a local SPI bus over WebSocket",
	Long: `A small server that lets spilink on another machine poll the GPSDO
microcontroller wired to this one.

Every WebSocket binary message on /exchange is one SPI exchange. Exchanges
from all clients are serialized.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// Serve command and flags
var (
	configPath  string
	listenAddr  string
	devicePath  string
	speedHz     uint32
	spiMode     uint8
	chunkSize   int
	noAdvertise bool
	instance    string
	logLevel    string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the bridge",
	Long: `Open the spidev device and accept WebSocket clients on /exchange.

Settings default to the bridge and transport sections of the spilink config
file; flags override them.`,
	Example: `  # Serve /dev/spidev0.0 on :8732 and advertise over mDNS
  spilink-bridge serve

  # Different device and port, no mDNS
  spilink-bridge serve --device /dev/spidev1.0 --listen :9000 --no-advertise

  # Log every exchange
  spilink-bridge serve --log-level debug`,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&configPath, "config", "", "Config file (default: user config dir/spilink/config.yaml)")
	f.StringVar(&listenAddr, "listen", "", "Listen address (default from config, :8732)")
	f.StringVar(&devicePath, "device", "", "spidev device path")
	f.Uint32Var(&speedHz, "speed", 0, "SPI clock in Hz")
	f.Uint8Var(&spiMode, "mode", 0, "SPI mode (0-3)")
	f.IntVar(&chunkSize, "chunk-size", 0, "Bytes per exchange")
	f.BoolVar(&noAdvertise, "no-advertise", false, "Do not register an mDNS service")
	f.StringVar(&instance, "instance", "", "mDNS instance name (default: hostname)")
	f.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.Bridge.Listen = listenAddr
	}
	if flags.Changed("device") {
		cfg.Transport.Device = devicePath
	}
	if flags.Changed("speed") {
		cfg.Transport.SpeedHz = speedHz
	}
	if flags.Changed("mode") {
		cfg.Transport.Mode = spiMode
	}
	if flags.Changed("chunk-size") {
		cfg.Transport.ChunkSize = chunkSize
	}
	if noAdvertise {
		cfg.Bridge.Advertise = false
	}
	if flags.Changed("instance") {
		cfg.Bridge.Instance = instance
	}
	if flags.Changed("log-level") || cfg.Logging.Level == "" {
		cfg.Logging.Level = logLevel
	}
	// The bridge always drives the local bus
	cfg.Transport.Kind = string(transport.KindSpidev)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := logging.Setup(cfg.LoggingOptions()); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logging.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return transport.With(ctx, cfg.TransportConfig(), func(t transport.Transport) error {
		srv := bridge.New(&bridge.Config{
			Listen:    cfg.Bridge.Listen,
			Advertise: cfg.Bridge.Advertise,
			Instance:  cfg.Bridge.Instance,
			Device:    cfg.Transport.Device,
			Version:   version.Version,
		}, t)

		if err := srv.ListenAndServe(ctx); err != nil {
			logging.Error("Bridge failed", zap.Error(err))
			return err
		}
		logging.Info("Bridge stopped")
		return nil
	})
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("spilink-bridge %s\n", version.Full())
	},
}
