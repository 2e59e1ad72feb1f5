package main

import (
	"fmt"

	"github.com/jpalmerr/dhtlink/config"
	"github.com/spf13/cobra"
)

// validateCmd validates a config file without starting the device.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a dhtlink configuration file without starting the device.

This command parses the YAML, expands environment variables, and validates
all fields, including the sensor timings.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  dhtlink validate -c dhtlink.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	security := "open"
	if cfg.AccessPoint.Passphrase != "" {
		security = "WPA2"
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config is valid!\n")
	fmt.Fprintf(out, "  Access point:  %s (%s, channel %d)\n", cfg.AccessPoint.SSID, security, cfg.AccessPoint.Channel)
	fmt.Fprintf(out, "  Portal:        %s (mdns %t)\n", cfg.Portal.Addr, cfg.Portal.MDNS)
	fmt.Fprintf(out, "  Collector:     %s\n", cfg.Telemetry.URL)
	fmt.Fprintf(out, "  Interval:      %s (%s payload)\n", cfg.Telemetry.Interval.Duration(), cfg.Telemetry.Format)
	fmt.Fprintf(out, "  Lease timeout: %s, %d retries\n", cfg.Provisioning.LeaseTimeout.Duration(), *cfg.Provisioning.StationRetries)

	return nil
}
