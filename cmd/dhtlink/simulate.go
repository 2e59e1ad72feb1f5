package main

import (
	"fmt"
	"log/slog"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/dhtlink"
	"github.com/jpalmerr/dhtlink/config"
	"github.com/jpalmerr/dhtlink/internal/clock"
	"github.com/jpalmerr/dhtlink/internal/pulse"
	"github.com/jpalmerr/dhtlink/internal/radio"
	"github.com/jpalmerr/dhtlink/internal/sensor"
	"github.com/spf13/cobra"
)

// simulateCmd runs a device against a simulated radio and sensor.
var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a device on a simulated radio and sensor",
	Long: `Run the full device loop on this machine.

The radio is simulated: the setup access point is the portal listening on
--portal-addr (or portal.addr from the config), and joining a network
succeeds after --lease-delay. The sensor answers every read with the
--temperature and --humidity given, unless --gpio-chip names a Linux GPIO
chip: then a real sensor is read on sensor.pin of that chip.

The device runs until interrupted (Ctrl+C) or receives SIGTERM.

Example:
  dhtlink simulate -c dhtlink.yaml --portal-addr 127.0.0.1:8080
  dhtlink simulate -c dhtlink.yaml --ssid HomeNet --password secret123
  dhtlink simulate -c dhtlink.yaml --network HomeNet=secret123
  dhtlink simulate -c dhtlink.yaml --gpio-chip gpiochip0`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	f := simulateCmd.Flags()
	f.StringP("config", "c", "", "path to config file (required)")
	f.String("portal-addr", "", "override the portal listen address")
	f.Uint8("temperature", 22, "simulated temperature in °C")
	f.Uint8("humidity", 41, "simulated relative humidity in %")
	f.Duration("lease-delay", 2*time.Second, "time from joining to address assignment; negative never assigns one")
	f.StringToString("network", nil, "networks in range as ssid=passphrase; when unset any network joins")
	f.String("ssid", "", "join this network at startup instead of waiting for the setup form")
	f.String("password", "", "passphrase for --ssid")
	f.String("gpio-chip", "", "read a real sensor on sensor.pin of this GPIO chip (linux only)")
	_ = simulateCmd.MarkFlagRequired("config")
}

// simulation holds what runSimulate needs besides the config file.
type simulation struct {
	PortalAddr  string
	Temperature uint8
	Humidity    uint8
	LeaseDelay  time.Duration
	Networks    map[string]string

	// Line replaces the simulated sensor when set.
	Line pulse.Line
}

func runSimulate(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}

	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	var sim simulation
	sim.PortalAddr, _ = cmd.Flags().GetString("portal-addr")
	sim.Temperature, _ = cmd.Flags().GetUint8("temperature")
	sim.Humidity, _ = cmd.Flags().GetUint8("humidity")
	sim.LeaseDelay, _ = cmd.Flags().GetDuration("lease-delay")
	sim.Networks, _ = cmd.Flags().GetStringToString("network")
	ssid, _ := cmd.Flags().GetString("ssid")
	password, _ := cmd.Flags().GetString("password")

	if chip, _ := cmd.Flags().GetString("gpio-chip"); chip != "" {
		gl, err := pulse.OpenGPIO(chip, cfg.Sensor.Pin)
		if err != nil {
			return fmt.Errorf("failed to open sensor line: %w", err)
		}
		defer gl.Close()
		sim.Line = gl
		logger.Info("reading sensor from gpio", "chip", chip, "offset", cfg.Sensor.Pin)
	}

	logger.Info("config loaded",
		"collector", cfg.Telemetry.URL,
		"interval", cfg.Telemetry.Interval.Duration().String(),
		"sensor_pin", cfg.Sensor.Pin,
	)

	dev, err := newSimulatedDevice(cfg, sim, clock.Real{}, logger)
	if err != nil {
		return fmt.Errorf("failed to create device: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if ssid != "" {
		err = dev.RunWithCredentials(ctx, dhtlink.Credentials{SSID: ssid, Passphrase: password})
	} else {
		err = dev.Run(ctx)
	}
	if err != nil {
		return fmt.Errorf("device error: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// newSimulatedDevice builds a device from cfg on a simulated radio and a
// simulated sensor line driven by c.
func newSimulatedDevice(cfg *config.Config, sim simulation, c clock.Clock, logger *slog.Logger, extra ...dhtlink.Option) (*dhtlink.Device, error) {
	r := radio.NewSim(c, radio.SimConfig{
		Networks:   sim.Networks,
		LeaseDelay: sim.LeaseDelay,
	})

	line := sim.Line
	if line == nil {
		sl := pulse.NewSimLine(c, simLineStep(c), pulse.High)
		frame := sensor.Frame(sim.Humidity, sim.Temperature)
		sl.SetSource(func() []pulse.Segment { return sensor.Waveform(frame) })
		line = sl
	}

	opts := append(config.BuildOptions(cfg),
		dhtlink.WithRadio(r),
		dhtlink.WithLine(line),
		dhtlink.WithClock(c),
		dhtlink.WithVersion(version),
		dhtlink.WithLogger(logger),
		dhtlink.WithStateCallback(func(t dhtlink.Transition) {
			logger.Info("state changed", "from", t.From.String(), "to", t.To.String(), "session_id", t.SessionID)
		}),
		dhtlink.WithPortalCallback(func(a net.Addr) {
			logger.Info("setup portal ready", "url", "http://"+a.String())
		}),
	)
	if sim.PortalAddr != "" {
		opts = append(opts, dhtlink.WithPortalAddr(sim.PortalAddr))
	}
	opts = append(opts, extra...)

	return dhtlink.New(opts...)
}

// simLineStep is the simulated cost of a line read. On a fake clock reads
// must advance time; on the wall clock time advances by itself.
func simLineStep(c clock.Clock) time.Duration {
	if _, ok := c.(clock.Advancer); ok {
		return time.Microsecond
	}
	return 0
}
