// Package cmd provides the CLI commands for mcpcassette.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mcpcassette/mcpcassette/internal/config"
)

var cfgFile string
var traceFlag bool

var rootCmd = &cobra.Command{
	Use:   "mcpcassette",
	Short: "mcpcassette - record, replay, and verify MCP JSON-RPC interactions",
	Long: `mcpcassette records MCP (Model Context Protocol) JSON-RPC-over-HTTP
traffic into a cassette, replays a cassette back to a client without a live
upstream, and verifies a cassette against a live server to catch drift.

Quick start:
  1. Create a config file: mcpcassette.yaml
  2. Run: mcpcassette record --target http://localhost:3000/mcp --out session.json

Configuration:
  Config is loaded from mcpcassette.yaml in the current directory,
  $HOME/.mcpcassette/, or /etc/mcpcassette/.

  Environment variables can override config values with the MCPCASSETTE_ prefix.
  Example: MCPCASSETTE_SERVER_HTTP_ADDR=:9090

Commands:
  record   Record a live MCP session into a cassette
  replay   Serve a cassette's recorded responses in place of a live server
  verify   Replay a cassette's requests against a live server and diff
  inspect  Print a summary of a cassette's contents
  version  Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./mcpcassette.yaml)")
	rootCmd.PersistentFlags().BoolVar(&traceFlag, "trace", false, "enable stdout OpenTelemetry tracing/metrics for this run")
}

func initConfig() {
	config.InitViper(cfgFile)
}
