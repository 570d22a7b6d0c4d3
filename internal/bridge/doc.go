// Package bridge serves a local transport to remote hosts over WebSocket.
//
// spilink-bridge runs on the machine wired to the MCU (typically a
// Raspberry Pi) and lets spilink on another machine poll it as if the SPI
// bus were local. The wire contract:
//
//   - GET /exchange upgrades to WebSocket. Every binary message from the
//     client is one request of at most the exchange size; the bridge pads it,
//     performs the exchange and replies with exactly one binary message of
//     the exchange size.
//   - GET /healthz returns a JSON Health document, with status 503 when the
//     last exchange failed.
//
// Exchanges from all connected clients are serialized. A transport failure
// closes the offending connection with code 1011 (internal error); text
// messages get 1003 and oversized requests 1009.
//
// When Advertise is set the bridge registers _spilink._tcp over mDNS with TXT
// records path, size, device and version, which discovery.Scan reads back.
package bridge
