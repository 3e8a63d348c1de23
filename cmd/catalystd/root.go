package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"

	configPath  string
	logLevel    string
	enablePprof bool
)

var rootCmd = &cobra.Command{
	Use:   "catalystd",
	Short: "Catalyst mesh node agent",
	Long:  "catalystd runs one node of a Catalyst route mesh: RIB reducer, peering engine, and xDS snapshot builder.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "/etc/catalyst/catalyst.yaml", "path to the node configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&enablePprof, "enable-pprof", false, "serve net/http/pprof handlers on the metrics listener")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
