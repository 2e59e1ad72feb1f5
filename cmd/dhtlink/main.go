// Package main is the entry point for the dhtlink CLI.
//
// The device logic lives in the dhtlink package; this binary loads a YAML
// configuration and runs it against simulated hardware, or plays the
// collector for local testing.
//
// Usage:
//
//	dhtlink simulate -c dhtlink.yaml   # Run a device on a simulated radio and sensor
//	dhtlink collect --addr :9000       # Accept and log readings
//	dhtlink validate -c dhtlink.yaml   # Validate configuration
//	dhtlink version                    # Show version info
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Version information, set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "dhtlink",
	Short: "Provision a sensor node and relay its readings",
	Long: `dhtlink runs a temperature and humidity sensor node.

The node brings up a setup access point with a web form, joins the network
submitted there, and POSTs a reading to the collector every interval. When
the network goes away it returns to setup.

Quick start:
  1. Create a config file (dhtlink.yaml) with telemetry.url set
  2. Run: dhtlink collect --addr :9000
  3. Run: dhtlink simulate -c dhtlink.yaml --portal-addr 127.0.0.1:8080
  4. Open http://127.0.0.1:8080 and submit any network name

Example config:
  telemetry:
    url: http://127.0.0.1:9000/ping
    interval: 10s`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// cobra already printed the error
		os.Exit(1)
	}
}

func main() {
	Execute()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this dhtlink binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "dhtlink %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn or error")
	rootCmd.AddCommand(versionCmd)
}

// newLogger creates a JSON logger on stderr at the level named by the
// --log-level flag.
func newLogger(cmd *cobra.Command) (*slog.Logger, error) {
	name, _ := cmd.Flags().GetString("log-level")

	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", name, err)
	}
	return slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: level,
	})), nil
}
