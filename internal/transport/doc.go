// Package transport moves fixed-size full-duplex exchanges between the host
// and the GPSDO microcontroller.
//
// The host is always the SPI master. Every exchange clocks Size bytes out and
// the same number back; when the host has nothing to say it sends idle bytes
// and the MCU answers with whatever it has queued, or idle bytes.
//
// # Implementations
//
//   - Spidev: Linux /dev/spidevB.C through periph.io full-duplex transfers
//   - WebSocket: a remote spilink-bridge, one binary message per exchange
//   - Replay: responses read back from a capture file
//   - Memory: an in-process emulator of the MCU firmware, used by tests
//
// Recorder wraps any of them and appends each exchange to a capture file.
//
// # Errors
//
// Every error from a Transport is fatal to the poll loop and is returned as
// a *Error carrying the operation and source:
//
//	var terr *transport.Error
//	if errors.As(err, &terr) {
//	    fmt.Println(terr.Op, terr.Source)
//	}
//
// # Lifecycle
//
// With opens a transport for the duration of a callback and closes it on
// every path out:
//
//	err := transport.With(ctx, cfg, func(t transport.Transport) error {
//	    return poller.New(t, dec, opts).Run(ctx)
//	})
package transport
