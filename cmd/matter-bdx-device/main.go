// matter-bdx-device manages and exercises a BDX-capable Matter node: its
// diagnostic log store, its OTA image directory, and simulated log and
// software update transfers against an in-memory peer.
//
// Usage:
//
//	matter-bdx-device [command] [flags]
//
// Example:
//
//	matter-bdx-device config init --config ./device.yaml
//	matter-bdx-device logs put EndUserSupport ./support.log --config ./device.yaml
//	matter-bdx-device simulate logs --intent EndUserSupport --out ./retrieved.log
package main

import (
	"fmt"
	"os"

	"github.com/backkem/matter-bdx/cmd/matter-bdx-device/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
