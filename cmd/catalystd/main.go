// Command catalystd runs one Catalyst mesh node: the RIB Reducer, the
// Peering Engine, the xDS Snapshot Builder, and the Public RPC Surface
// wired together behind a single Dispatcher.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
