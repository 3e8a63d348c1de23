package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the catalystd version and build metadata",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("catalystd %s (commit %s, built %s)\n", version, commit, date)
	},
}
