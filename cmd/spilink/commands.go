package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ocxo/spilink/internal/config"
	"github.com/ocxo/spilink/internal/discovery"
	"github.com/ocxo/spilink/internal/logging"
	"github.com/ocxo/spilink/internal/poller"
	"github.com/ocxo/spilink/internal/protocol"
	"github.com/ocxo/spilink/internal/transport"
	"github.com/ocxo/spilink/internal/ui"
)

func init() {
	rootCmd.AddCommand(pollCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}

var transportTips = []string{
	"Check that the MCU is powered and wired to the SPI pins",
	"Check that the spidev device exists and is readable (dtparam=spi=on)",
	"For a remote bus, check that spilink-bridge is running: spilink scan",
}

// Poll command

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Poll the MCU and print decoded messages",
	Long: `Poll the MCU and print every decoded message on stdout.

Exchanges happen back to back while a frame is partially received and every
--interval otherwise. Stop with Ctrl+C.`,
	Example: `  # Local bus with defaults from the config file
  spilink poll

  # Remote bus through a bridge, recording a capture
  spilink poll --url ws://raspberrypi.local:8732/exchange --capture run.spicap

  # Verbose exchange logging on stderr
  spilink poll --log-level debug`,
	RunE: runPoll,
}

func runPoll(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logging.Sync()

	ctx, stop := signalContext()
	defer stop()

	info := ui.NewPrinter(os.Stderr)
	t, source, err := openTransport(ctx, cfg)
	if err != nil {
		info.PrintError("Cannot open transport", err, transportTips)
		return err
	}
	defer closeTransport(t)

	out := ui.NewPrinter(os.Stdout)
	dec, err := newDecoder(cfg, protocol.MultiSink{out, protocol.LogSink{Source: source}})
	if err != nil {
		return err
	}

	info.PrintHeader("poll", map[string]string{
		"source":        source,
		"exchange size": strconv.Itoa(t.Size()),
		"interval":      cfg.Poll.Interval.String(),
		"message types": strconv.Itoa(dec.Catalog().Len()),
	})

	p := poller.New(t, dec, poller.Options{Interval: cfg.Poll.Interval, Source: source})
	runErr := p.Run(ctx)
	info.PrintSummary("Poll stopped", statsDetails(p.Stats()))
	if runErr != nil {
		info.PrintError("Transport failed", runErr, transportTips)
		return runErr
	}
	return nil
}

// Monitor command

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live view of decoded messages and link counters",
	Long: `Poll the MCU in the background and show decoded messages with live
exchange, resync and drop counters. Press q to quit, c to clear.`,
	RunE: runMonitor,
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logging.Sync()

	ctx, stop := signalContext()
	defer stop()

	t, source, err := openTransport(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeTransport(t)

	ch := make(chan *protocol.Message, 256)
	sink := protocol.NewChannelSink(ch)
	dec, err := newDecoder(cfg, protocol.MultiSink{sink, protocol.LogSink{Source: source}})
	if err != nil {
		return err
	}

	prog := tea.NewProgram(ui.NewMonitorModel(source, ch), tea.WithAltScreen(), tea.WithContext(ctx))

	var p *poller.Poller
	p = poller.New(t, dec, poller.Options{
		Interval: cfg.Poll.Interval,
		Source:   source,
		OnPoll: func(protocol.Result) {
			prog.Send(ui.StatsMsg{Stats: p.Stats(), Dropped: sink.Dropped()})
		},
	})

	pollCtx, cancelPoll := context.WithCancel(ctx)
	defer cancelPoll()
	pollDone := make(chan error, 1)
	go func() {
		err := p.Run(pollCtx)
		prog.Send(ui.DoneMsg{Err: err})
		pollDone <- err
	}()

	_, progErr := prog.Run()
	cancelPoll()
	pollErr := <-pollDone

	if progErr != nil && !errors.Is(progErr, tea.ErrProgramKilled) {
		return fmt.Errorf("monitor failed: %w", progErr)
	}
	return pollErr
}

// Send command

var sendCmd = &cobra.Command{
	Use:   "send <type> <value>...",
	Short: "Send one message to the MCU",
	Long: `Build a message from the catalog, send it to the MCU in the following
exchanges and print anything decoded meanwhile. <type> is the numeric type
ID (decimal or 0x..) or the message name; values are given in field order.`,
	Example: `  spilink send 0x01 10000000 1 -4`,
	Args:    cobra.MinimumNArgs(1),
	RunE:    runSend,
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logging.Sync()

	cat, err := cfg.Catalog()
	if err != nil {
		return err
	}
	mt, err := lookupType(cat, args[0])
	if err != nil {
		return err
	}
	values := make([]int64, 0, len(args)-1)
	for _, a := range args[1:] {
		v, err := strconv.ParseInt(a, 0, 64)
		if err != nil {
			return fmt.Errorf("invalid value %q: %w", a, err)
		}
		values = append(values, v)
	}

	ctx, stop := signalContext()
	defer stop()

	t, source, err := openTransport(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeTransport(t)

	dec, err := protocol.NewDecoder(cfg.ProtocolControls(), cat, ui.NewPrinter(os.Stdout))
	if err != nil {
		return err
	}
	p := poller.New(t, dec, poller.Options{Source: source})
	if err := p.SendMessage(mt, values...); err != nil {
		return err
	}
	for p.Outstanding() > 0 {
		if _, err := p.Poll(ctx); err != nil {
			return err
		}
	}

	fmt.Fprintf(os.Stderr, "%s sent %s in %d exchanges\n", ui.SuccessMarker, mt.Name, p.Stats().Exchanges)
	return nil
}

func lookupType(cat *protocol.Catalog, arg string) (*protocol.MessageType, error) {
	if id, err := strconv.ParseUint(arg, 0, 8); err == nil {
		if mt, ok := cat.Lookup(byte(id)); ok {
			return mt, nil
		}
		return nil, fmt.Errorf("no message type 0x%02x in the catalog", id)
	}
	for _, mt := range cat.Types() {
		if strings.EqualFold(mt.Name, arg) {
			return mt, nil
		}
	}
	return nil, fmt.Errorf("no message type named %q in the catalog", arg)
}

// Replay command

var replayCmd = &cobra.Command{
	Use:   "replay <capture-file>",
	Short: "Decode a recorded capture",
	Long: `Feed the responses stored in a capture file (see --capture) through the
decoder, exactly as they were received, and print the messages.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logging.Sync()

	ctx, stop := signalContext()
	defer stop()

	// Exchange size comes from the capture header
	r, err := transport.OpenReplay(args[0], 0)
	if err != nil {
		return err
	}
	defer closeTransport(r)

	dec, err := newDecoder(cfg, ui.NewPrinter(os.Stdout))
	if err != nil {
		return err
	}

	var t transport.Transport = r
	if replayHex {
		t = &dumpTransport{Transport: r}
	}

	p := poller.New(t, dec, poller.Options{Source: args[0]})
	for ctx.Err() == nil {
		if _, err := p.Poll(ctx); err != nil {
			if errors.Is(err, transport.ErrReplayExhausted) {
				break
			}
			return err
		}
	}

	ui.NewPrinter(os.Stderr).PrintSummary("Replay finished", statsDetails(p.Stats()))
	return nil
}

var replayHex bool

func init() {
	replayCmd.Flags().BoolVar(&replayHex, "hex", false, "Print a hex dump of every exchange before its messages")
}

// dumpTransport prints each response as it is read.
type dumpTransport struct {
	transport.Transport
	seq int
}

func (d *dumpTransport) Exchange(ctx context.Context, req []byte) ([]byte, error) {
	rx, err := d.Transport.Exchange(ctx, req)
	if err != nil {
		return nil, err
	}
	d.seq++
	fmt.Printf("-- exchange %d (%d bytes)\n%s\n", d.seq, len(rx), logging.HexDump(rx))
	return rx, nil
}

// Scan command

var scanTimeout time.Duration

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Find spilink bridges on the local network",
	Long: `Browse mDNS for _spilink._tcp services and print each bridge with the
URL to pass to --url.`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().DurationVar(&scanTimeout, "timeout", discovery.DefaultScanTimeout, "How long to listen for answers")
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	scanner := discovery.NewScanner()
	scanner.Timeout = scanTimeout

	fmt.Fprintf(os.Stderr, "Scanning for bridges (%s)...\n", scanTimeout)
	bridges, err := scanner.Scan(ctx)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	if len(bridges) == 0 {
		fmt.Fprintln(os.Stderr, "No bridges found.")
		return nil
	}

	for _, b := range bridges {
		fmt.Printf("%s\n  url: %s\n", b, b.URL())
		if dev := b.GetMetadata("device"); dev != "" {
			fmt.Printf("  device: %s\n", dev)
		}
		if size := b.ExchangeSize(); size > 0 {
			fmt.Printf("  exchange size: %d\n", size)
		}
	}
	return nil
}

// Config commands

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configForce bool

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with default settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			p, err := config.GetConfigPath()
			if err != nil {
				return err
			}
			path = p
		}
		if _, err := os.Stat(path); err == nil && !configForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := config.Default().Save(path); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long:  `Print the configuration after defaults and command line flags are applied.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		fmt.Print(string(data))
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing file")
}

func statsDetails(st poller.Stats) map[string]string {
	return map[string]string{
		"exchanges":      strconv.FormatUint(st.Exchanges, 10),
		"messages":       strconv.FormatUint(st.Decoder.Frames, 10),
		"resyncs":        strconv.FormatUint(st.Decoder.Resyncs, 10),
		"discarded":      strconv.FormatUint(st.Decoder.DiscardedBytes, 10),
		"unknown types":  strconv.FormatUint(st.Decoder.UnknownTypes, 10),
		"framing errors": strconv.FormatUint(st.Decoder.FramingErrors, 10),
		"escape errors":  strconv.FormatUint(st.Decoder.EscapeErrors, 10),
	}
}

func closeTransport(t transport.Transport) {
	if err := t.Close(); err != nil {
		logging.Warn("Failed to close transport", zap.Error(err))
	}
}
