// Package protocol decodes the framed byte stream sent by the GPSDO
// microcontroller over SPI.
//
// The MCU is an SPI slave. The host clocks fixed-size exchanges (32 bytes)
// and always receives exactly as many bytes as it sends. When the MCU has
// nothing queued it shifts out idle bytes, so real frames arrive interleaved
// with padding and are usually split across several exchanges.
//
// # Wire Format
//
// Frames use SLIP-style byte stuffing:
//   - Idle byte: 0x00 (padding between frames, never content at a frame start)
//   - Delimiter: 0xC0 (always the final byte of a frame)
//   - Escape:    0xDB
//   - 0xDB 0xDC encodes a literal 0xC0 inside content
//   - 0xDB 0xDD encodes a literal 0xDB inside content
//
// After unstuffing, a frame is:
//
//	[0]      type        Message type ID (catalog key)
//	[1..N-2] fields      Little-endian integers per the catalog layout
//	[N-1]    0xC0        Delimiter; N is the fixed length of the type
//
// The reference firmware sends one type:
//
//	0x01 Oscillator Interval, 9 bytes: f_cpu u32, interval u8, variance i16
//
// # Decoding
//
// A Decoder is built from explicit Controls and a Catalog:
//
//	catalog, err := protocol.DefaultCatalog(protocol.DefaultControls())
//	if err != nil {
//	    return err
//	}
//	dec, err := protocol.NewDecoder(protocol.DefaultControls(), catalog, protocol.LogSink{Source: "/dev/spidev0.0"})
//	if err != nil {
//	    return err
//	}
//
//	res, err := dec.Feed(chunk) // err only reports recoverable parse failures
//	if res.More() {
//	    // exchange again right away
//	}
//
// Each Feed call strips leading idle bytes (or prepends the pending partial
// frame), unstuffs, and delivers every complete frame to the type's Handler or
// the decoder's Sink. A short frame is kept, still stuffed, until the next
// call. A dangling escape byte at the end of a chunk is kept the same way.
//
// # Resynchronization
//
// An unknown type byte, a missing terminator at the declared length, or an
// invalid escape pair puts the decoder into resynchronization: the partial
// frame is dropped and bytes are discarded through the next raw delimiter.
// The scan continues over the rest of the current chunk, so a good frame that
// follows a corrupt one in the same exchange is still decoded. Every call
// consumes bytes or returns, so recovery never blocks.
//
// # Thread Safety
//
// A Decoder is meant for the single polling goroutine and does no locking.
// Catalogs and message types are immutable after construction and may be
// shared.
package protocol
