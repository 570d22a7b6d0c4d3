// Package discovery finds spilink bridges on the local network with mDNS.
//
// A bridge (cmd/spilink-bridge) runs on the machine wired to the MCU and
// advertises itself as a "_spilink._tcp" service. TXT records carry the
// WebSocket path, the exchange size and the SPI device being served:
//
//	path=/exchange size=32 device=/dev/spidev0.0 version=v1.2.0
//
// # Usage
//
//	bridges, err := discovery.NewScanner().Scan(ctx)
//	if err != nil {
//	    return err
//	}
//	for _, b := range bridges {
//	    fmt.Println(b, b.URL())
//	}
//
// The bridge side registers with Advertise and withdraws with Shutdown.
//
// Discovery depends on multicast reaching the local segment; on networks that
// filter it, pass the bridge URL directly instead.
package discovery
