package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/dhtlink"
	"github.com/jpalmerr/dhtlink/internal/clock"
	"github.com/jpalmerr/dhtlink/internal/pulse"
	"github.com/jpalmerr/dhtlink/internal/radio"
	"github.com/jpalmerr/dhtlink/internal/sensor"
)

func main() {
	// start mock collector (see mock_collector.go)
	go StartMockCollector("127.0.0.1:9999")
	time.Sleep(100 * time.Millisecond)

	c := clock.Real{}

	// one network in range; the lease arrives two seconds after joining
	r := radio.NewSim(c, radio.SimConfig{
		Networks:   map[string]string{"HomeNet": "secret123"},
		LeaseDelay: 2 * time.Second,
	})

	// a sensor drifting around 21°C / 45%
	temperature, humidity := 21, 45
	line := pulse.NewSimLine(c, 0, pulse.High)
	line.SetSource(func() []pulse.Segment {
		temperature = clamp(temperature+rand.Intn(3)-1, 15, 30)
		humidity = clamp(humidity+rand.Intn(5)-2, 20, 80)
		return sensor.Waveform(sensor.Frame(uint8(humidity), uint8(temperature)))
	})

	dev, err := dhtlink.New(
		dhtlink.WithRadio(r),
		dhtlink.WithLine(line),
		dhtlink.WithCollectorURL("http://127.0.0.1:9999/ping"),
		dhtlink.WithReportInterval(5*time.Second),
		dhtlink.WithPortalAddr("127.0.0.1:8080"),
		dhtlink.WithTitle("dhtlink demo"),
		dhtlink.WithStateCallback(func(t dhtlink.Transition) {
			fmt.Printf("  state: %s -> %s\n", t.From, t.To)
		}),
		dhtlink.WithPortalCallback(func(a net.Addr) {
			fmt.Printf("  setup page: http://%s\n", a)
		}),
	)
	if err != nil {
		slog.Error("failed to create device", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("  dhtlink demo")
	fmt.Println()
	fmt.Println("  Open http://127.0.0.1:8080 and join HomeNet / secret123.")
	fmt.Println("  Any other network or passphrase is rejected and the")
	fmt.Println("  setup page comes back explaining why.")
	fmt.Println()
	fmt.Println("  While in setup, status is at http://127.0.0.1:8080/api/status")
	fmt.Println("  Press Ctrl+C to stop")
	fmt.Println()

	// set up context with signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := dev.Run(ctx); err != nil {
		slog.Error("device error", "error", err)
		os.Exit(1)
	}
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
