// Spilink reads the message stream of the GPSDO microcontroller over SPI.
//
// The host is the SPI master: spilink polls the MCU with fixed-size
// exchanges, decodes the SLIP-framed messages it answers with and prints
// them. The bus can be local (/dev/spidevB.C), remote through a
// spilink-bridge, or a capture file recorded earlier.
//
// Usage:
//
//	spilink [command] [flags]
//
// See 'spilink --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ocxo/spilink/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "spilink",
	Short: "GPSDO SPI message link",
	Long: `Poll the GPSDO microcontroller over SPI and decode its messages.

Messages are SLIP framed and spread across 32-byte full-duplex exchanges.
spilink reassembles and decodes them from a local spidev device, a remote
spilink-bridge, or a capture file.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	// Disable automatic completion command generation
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("spilink %s\n", version.Full())
	},
}
