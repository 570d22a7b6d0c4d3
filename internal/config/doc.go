// Package config loads and saves the spilink configuration file.
//
// The file is YAML and holds everything the tools need to talk to the MCU:
// which transport to open, how often to poll, how to log, the framing control
// bytes, and the message catalog. The control bytes and catalog are passed to
// the decoder when it is built; nothing in the protocol package reads global
// settings.
//
// # Configuration File Location
//
//   - Linux: $XDG_CONFIG_HOME/spilink/config.yaml or $HOME/.config/spilink/config.yaml
//   - macOS: $HOME/.config/spilink/config.yaml
//   - Windows: %LOCALAPPDATA%\spilink\config.yaml
//
// # Example
//
//	version: 1
//	transport:
//	  kind: spidev
//	  device: /dev/spidev0.0
//	  speed_hz: 10000
//	  chunk_size: 32
//	poll:
//	  interval: 1s
//	controls: {idle: 0, delimiter: 192, esc: 219, esc_end: 220, esc_esc: 221}
//	messages:
//	  - id: 1
//	    name: Oscillator Interval
//	    layout: "<IBh"
//	    names: [f_cpu, interval, variance]
//
// Message fields may instead be listed with explicit types:
//
//	fields:
//	  - {name: f_cpu, type: u32}
//	  - {name: interval, type: u8}
//	  - {name: variance, type: i16}
//
// A missing file means defaults. Keys left out of the file keep their
// default values, except messages, which replace the default list entirely.
//
// # Thread Safety
//
// Save is serialized by a package mutex and writes through a temporary file
// and rename.
package config
