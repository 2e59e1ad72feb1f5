package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/dhtlink/internal/telemetry"
	"github.com/spf13/cobra"
)

const (
	collectMaxBody  = 64 << 10
	shutdownTimeout = 10 * time.Second
)

// collectCmd runs a minimal collector that logs every reading it receives.
var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Run a collector that logs readings",
	Long: `Run a minimal collector for local testing.

Every POST with a JSON or CBOR reading is decoded and logged, and answered
with 204 No Content. Anything else is rejected.

Example:
  dhtlink collect --addr :9000`,
	RunE: runCollect,
}

func init() {
	rootCmd.AddCommand(collectCmd)

	collectCmd.Flags().String("addr", ":9000", "listen address")
}

func runCollect(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}
	addr, _ := cmd.Flags().GetString("addr")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           collectorHandler(logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Info("collector listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("collector shutdown: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// collectorHandler decodes readings by Content-Type and logs them.
func collectorHandler(logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		enc, err := telemetry.EncoderFor(r.Header.Get("Content-Type"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnsupportedMediaType)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, collectMaxBody+1))
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}
		if len(body) > collectMaxBody {
			http.Error(w, "body too large", http.StatusRequestEntityTooLarge)
			return
		}

		payload, err := enc.Decode(body)
		if err != nil || !payload.Ping {
			logger.Warn("rejected reading",
				"remote_addr", r.RemoteAddr,
				"request_id", r.Header.Get("X-Request-ID"),
				"error", err,
			)
			http.Error(w, "malformed reading", http.StatusBadRequest)
			return
		}

		logger.Info("reading received",
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
			"user_agent", r.UserAgent(),
			"request_id", r.Header.Get("X-Request-ID"),
			"content_type", enc.ContentType(),
			"temperature", payload.Temperature,
			"humidity", payload.Humidity,
		)
		w.WriteHeader(http.StatusNoContent)
	})
}
