package main

import (
	"io"
	"log/slog"
	"math/rand"
	"net/http"

	"github.com/jpalmerr/dhtlink/internal/telemetry"
)

// StartMockCollector runs a collector that accepts readings and rejects
// roughly one in ten with a 503, so the device's handling of a refusing
// collector shows up in the logs.
// Call this in a goroutine before starting the device.
func StartMockCollector(addr string) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /ping", func(w http.ResponseWriter, r *http.Request) {
		enc, err := telemetry.EncoderFor(r.Header.Get("Content-Type"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnsupportedMediaType)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, 4<<10))
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}
		payload, err := enc.Decode(body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		if rand.Intn(10) == 0 {
			slog.Info("collector refusing reading", "request_id", r.Header.Get("X-Request-ID"))
			http.Error(w, "try later", http.StatusServiceUnavailable)
			return
		}

		slog.Info("collector stored reading",
			"request_id", r.Header.Get("X-Request-ID"),
			"temperature", payload.Temperature,
			"humidity", payload.Humidity,
		)
		w.WriteHeader(http.StatusNoContent)
	})

	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("mock collector stopped", "error", err)
	}
}
