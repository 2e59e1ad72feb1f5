package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jpalmerr/dhtlink"
	"github.com/jpalmerr/dhtlink/config"
	"github.com/jpalmerr/dhtlink/internal/clock"
	"github.com/jpalmerr/dhtlink/internal/telemetry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// executeCmd runs the root command with args and returns captured stdout
// and any error.
func executeCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	})

	err := rootCmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dhtlink.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestRunValidate_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
access_point:
  ssid: attic-setup
  passphrase: letmein123
telemetry:
  url: http://collector.local/ping
  format: cbor
provisioning:
  station_retries: 1
`)

	output, err := executeCmd(t, "validate", "-c", path)
	if err != nil {
		t.Fatalf("validate command error = %v", err)
	}

	expectedPhrases := []string{
		"Config is valid!",
		"Access point:  attic-setup (WPA2, channel 6)",
		"Collector:     http://collector.local/ping",
		"Interval:      10s (cbor payload)",
		"Lease timeout: 20s, 1 retries",
	}
	for _, phrase := range expectedPhrases {
		if !strings.Contains(output, phrase) {
			t.Errorf("output missing %q\nGot: %s", phrase, output)
		}
	}
}

func TestRunValidate_InvalidConfig(t *testing.T) {
	path := writeConfig(t, `
telemetry:
  url: ftp://collector.local
`)

	_, err := executeCmd(t, "validate", "-c", path)
	if err == nil {
		t.Fatal("validate command expected error for invalid config, got nil")
	}
	if !strings.Contains(err.Error(), "http or https") {
		t.Errorf("error should mention the scheme, got: %v", err)
	}
}

func TestRunValidate_MissingFile(t *testing.T) {
	_, err := executeCmd(t, "validate", "-c", "/nonexistent/path/dhtlink.yaml")
	if err == nil {
		t.Fatal("validate command expected error for missing file, got nil")
	}
	if !strings.Contains(err.Error(), "failed to read") {
		t.Errorf("error should mention 'failed to read', got: %v", err)
	}
}

func TestVersionCmd(t *testing.T) {
	output, err := executeCmd(t, "version")
	if err != nil {
		t.Fatalf("version command error = %v", err)
	}
	if !strings.HasPrefix(output, "dhtlink dev\n") || !strings.Contains(output, "commit: none") {
		t.Errorf("unexpected output: %s", output)
	}
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	_, err := executeCmd(t, "collect", "--log-level", "loud", "--addr", "127.0.0.1:0")
	if err == nil || !strings.Contains(err.Error(), "invalid --log-level") {
		t.Errorf("collect error = %v, want invalid log level", err)
	}
	rootCmd.PersistentFlags().Set("log-level", "info")
}

func TestCollectorHandler(t *testing.T) {
	jsonEnc, _ := telemetry.NewEncoder(telemetry.FormatJSON)
	cborEnc, _ := telemetry.NewEncoder(telemetry.FormatCBOR)
	reading := telemetry.Payload{Ping: true, Temperature: 22, Humidity: 41}
	jsonBody, _ := jsonEnc.Encode(reading)
	cborBody, _ := cborEnc.Encode(reading)

	tests := []struct {
		name        string
		method      string
		contentType string
		body        []byte
		wantStatus  int
	}{
		{"json reading", http.MethodPost, "application/json", jsonBody, http.StatusNoContent},
		{"cbor reading", http.MethodPost, "application/cbor", cborBody, http.StatusNoContent},
		{"get", http.MethodGet, "", nil, http.StatusMethodNotAllowed},
		{"text body", http.MethodPost, "text/plain", []byte("hi"), http.StatusUnsupportedMediaType},
		{"broken json", http.MethodPost, "application/json", []byte(`{"ping":`), http.StatusBadRequest},
		{"no ping", http.MethodPost, "application/json", []byte(`{"temperature":1}`), http.StatusBadRequest},
		{"cbor sent as json", http.MethodPost, "application/json", cborBody, http.StatusBadRequest},
		{"too large", http.MethodPost, "application/json", bytes.Repeat([]byte(" "), collectMaxBody+1), http.StatusRequestEntityTooLarge},
	}

	h := collectorHandler(testLogger())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/ping", bytes.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestNewSimulatedDevice_ReportsToCollector(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var received atomic.Int32
	var logs bytes.Buffer
	handler := collectorHandler(slog.New(slog.NewJSONHandler(&logs, nil)))
	collector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
		if received.Add(1) == 2 {
			cancel()
		}
	}))
	defer collector.Close()

	cfg, err := config.Parse([]byte("telemetry:\n  url: " + collector.URL + "/ping\n  format: cbor\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	sim := simulation{
		PortalAddr:  "127.0.0.1:0",
		Temperature: 19,
		Humidity:    63,
		LeaseDelay:  time.Second,
	}
	dev, err := newSimulatedDevice(cfg, sim, clock.NewFake(time.Unix(0, 0)), testLogger())
	if err != nil {
		t.Fatalf("newSimulatedDevice() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- dev.RunWithCredentials(ctx, dhtlink.Credentials{SSID: "HomeNet"}) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunWithCredentials() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("device did not stop")
	}

	if received.Load() < 2 {
		t.Fatalf("collector received %d readings, want 2", received.Load())
	}
	out := logs.String()
	for _, want := range []string{`"temperature":19`, `"humidity":63`, `"content_type":"application/cbor"`, `"user_agent":"dhtlink/dev"`} {
		if !strings.Contains(out, want) {
			t.Errorf("collector log missing %s: %s", want, out)
		}
	}
}

func TestSimLineStep(t *testing.T) {
	if got := simLineStep(clock.Real{}); got != 0 {
		t.Errorf("simLineStep(Real) = %v, want 0", got)
	}
	if got := simLineStep(clock.NewFake(time.Unix(0, 0))); got != time.Microsecond {
		t.Errorf("simLineStep(Fake) = %v, want 1µs", got)
	}
}
