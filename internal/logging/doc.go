// Package logging provides structured logging for the spilink tools.
//
// This package wraps a global zap logger with convenience functions used by
// the decoder sinks, the poll loop and the bridge server.
//
// # Log Levels
//
//   - Debug: hex dumps of every SPI exchange, raw frame bytes
//   - Info: decoded messages, connections, startup
//   - Warn: resynchronization after corrupt frames, dropped messages
//   - Error: transport failures, shutdown errors
//
// # Silent By Default
//
// The CLIs print decoded messages on stdout. Logging stays silent unless a
// level is passed explicitly or SPILINK_LOG_LEVEL is set:
//
//	SPILINK_LOG_LEVEL=debug spilink poll --device /dev/spidev0.0
//
// # Configuration
//
//	if err := logging.Setup(logging.Options{
//	    Level:     "info",
//	    Format:    "json",
//	    File:      "/var/log/spilink/spilink.log",
//	    MaxSizeMB: 10,
//	}); err != nil {
//	    return err
//	}
//	defer logging.Sync()
//
// Without File, entries go to stderr in console format with colored levels.
// With File, a lumberjack rotating writer is used.
//
// # Specialized Logging
//
//	logging.LogExchange("/dev/spidev0.0", seq, tx, rx)
//	logging.LogResync("/dev/spidev0.0", err, res.Discarded)
//	logging.LogConnection(remoteAddr, "websocket_upgraded")
package logging
