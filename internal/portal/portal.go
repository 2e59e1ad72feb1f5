// Package portal serves the setup page while the device hosts its access
// point and hands submitted credentials to the provisioning controller.
//
// Routes:
//   - GET /: the setup form
//   - POST /setup: credential submission (200 accepted, 400 malformed)
//   - GET /api/status: the device status snapshot as JSON
//   - GET /api/events: status snapshots as Server-Sent Events
//
// Other paths answer 404 and known paths with the wrong method 405.
package portal

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jpalmerr/dhtlink/internal/credentials"
	"github.com/jpalmerr/dhtlink/internal/store"
)

const (
	// MaxBodyBytes bounds a setup submission.
	MaxBodyBytes = 4 << 10

	// DefaultTitle is used when no title is configured.
	DefaultTitle = "dhtlink setup"

	// shutdownTimeout bounds the graceful shutdown triggered by ctx.
	shutdownTimeout = 5 * time.Second

	// sseWriteTimeout bounds a single event write so a stalled client cannot
	// hold a handler goroutine.
	sseWriteTimeout = 5 * time.Second

	formContentType = "application/x-www-form-urlencoded"
)

//go:embed assets/*.html
var assets embed.FS

// Portal is the setup HTTP responder.
type Portal struct {
	addr   string
	title  string
	status store.Store
	logger *slog.Logger
	mux    *http.ServeMux

	// setupMu serializes submissions: each is parsed and answered before
	// the next is looked at.
	setupMu sync.Mutex
	creds   chan credentials.Credentials

	noticeMu sync.RWMutex
	notice   string

	httpServer   *http.Server
	listener     net.Listener
	done         chan struct{}
	shutdownOnce sync.Once
	shutdownErr  error
}

// New returns a portal that will listen on addr. status may be nil, in which
// case the /api routes are not served.
func New(addr, title string, status store.Store, logger *slog.Logger) *Portal {
	if title == "" {
		title = DefaultTitle
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Portal{
		addr:   addr,
		title:  title,
		status: status,
		logger: logger,
		creds:  make(chan credentials.Credentials, 1),
		done:   make(chan struct{}),
	}

	p.mux = http.NewServeMux()
	p.mux.HandleFunc("GET /{$}", p.handleIndex)
	p.mux.HandleFunc("POST /setup", p.handleSetup)
	if status != nil {
		p.mux.HandleFunc("GET /api/status", p.handleStatus)
		p.mux.HandleFunc("GET /api/events", p.handleEvents)
	}
	return p
}

// Handler returns the portal's routes.
func (p *Portal) Handler() http.Handler {
	return p.mux
}

// Credentials delivers accepted submissions. It holds at most one pending
// value; a newer submission replaces an unread one.
func (p *Portal) Credentials() <-chan credentials.Credentials {
	return p.creds
}

// SetNotice sets the message shown above the form, typically why the last
// connection attempt failed. Empty clears it.
func (p *Portal) SetNotice(notice string) {
	p.noticeMu.Lock()
	p.notice = notice
	p.noticeMu.Unlock()
}

// Start binds the listener and serves in the background. It returns once the
// port is bound. Cancelling ctx shuts the portal down.
func (p *Portal) Start(ctx context.Context) error {
	// bind first so address errors surface synchronously
	ln, err := net.Listen("tcp", p.addr)
	if err != nil {
		return fmt.Errorf("failed to bind portal to %s: %w", p.addr, err)
	}
	p.listener = ln

	baseCtx, cancel := context.WithCancel(ctx)
	p.httpServer = &http.Server{
		Handler:           p.mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return baseCtx
		},
	}
	// ends SSE streams when Shutdown starts; setup requests never watch
	// their context, so an in-flight 200 still gets written
	p.httpServer.RegisterOnShutdown(cancel)

	go func() {
		if err := p.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.logger.Error("portal server error", "error", err)
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := p.Shutdown(shutdownCtx); err != nil {
				p.logger.Error("portal shutdown error", "error", err)
			}
		case <-p.done:
		}
	}()

	p.logger.Info("setup portal listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or nil before Start.
func (p *Portal) Addr() net.Addr {
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

// Shutdown stops accepting connections and waits for in-flight responses.
// Safe to call more than once; later calls return the first result.
func (p *Portal) Shutdown(ctx context.Context) error {
	p.shutdownOnce.Do(func() {
		close(p.done)
		if p.httpServer != nil {
			p.shutdownErr = p.httpServer.Shutdown(ctx)
		}
	})
	return p.shutdownErr
}

func (p *Portal) handleIndex(w http.ResponseWriter, _ *http.Request) {
	p.noticeMu.RLock()
	notice := p.notice
	p.noticeMu.RUnlock()

	noticeHTML := ""
	if notice != "" {
		noticeHTML = `<p class="notice">` + html.EscapeString(notice) + `</p>`
	}

	p.render(w, http.StatusOK, "index.html", map[string]string{
		"{{.Notice}}": noticeHTML,
	})
}

func (p *Portal) handleSetup(w http.ResponseWriter, r *http.Request) {
	p.setupMu.Lock()
	defer p.setupMu.Unlock()

	creds, err := p.readCredentials(w, r)
	if err != nil {
		p.logger.Warn("rejected setup submission", "remote_addr", r.RemoteAddr, "error", err)
		p.render(w, http.StatusBadRequest, "rejected.html", map[string]string{
			"{{.Error}}": html.EscapeString(err.Error()),
		})
		return
	}

	// last write wins: drop an unread submission
	select {
	case <-p.creds:
	default:
	}
	p.creds <- creds

	p.logger.Info("credentials received", "remote_addr", r.RemoteAddr, "credentials", creds)
	p.render(w, http.StatusOK, "accepted.html", map[string]string{
		"{{.SSID}}": html.EscapeString(creds.SSID),
	})
}

func (p *Portal) readCredentials(w http.ResponseWriter, r *http.Request) (credentials.Credentials, error) {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || mediaType != formContentType {
			return credentials.Credentials{}, fmt.Errorf("%w: content type %q", credentials.ErrMalformedRequest, ct)
		}
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		return credentials.Credentials{}, fmt.Errorf("%w: %w", credentials.ErrMalformedRequest, err)
	}
	return credentials.Parse(body)
}

func (p *Portal) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")

	if err := json.NewEncoder(w).Encode(p.status.Snapshot()); err != nil {
		p.logger.Error("failed to encode status response", "error", err)
	}
}

// handleEvents streams snapshots, starting with the current one.
func (p *Portal) handleEvents(w http.ResponseWriter, r *http.Request) {
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	rc := http.NewResponseController(w)
	deadlinesSupported := true

	send := func(snap store.Snapshot) error {
		data, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		if deadlinesSupported {
			if err := rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil {
				deadlinesSupported = false
			}
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		return rc.Flush()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := p.status.Subscribe()
	defer p.status.Unsubscribe(ch)

	if err := send(p.status.Snapshot()); err != nil {
		return
	}

	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				return
			}
			if err := send(snap); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

// render fills the named asset. Values in fields must already be escaped.
func (p *Portal) render(w http.ResponseWriter, status int, name string, fields map[string]string) {
	content, err := fs.ReadFile(assets, "assets/"+name)
	if err != nil {
		http.Error(w, "page not found", http.StatusInternalServerError)
		return
	}

	page := strings.ReplaceAll(string(content), "{{.Title}}", html.EscapeString(p.title))
	for placeholder, value := range fields {
		page = strings.ReplaceAll(page, placeholder, value)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if _, err := io.WriteString(w, page); err != nil {
		p.logger.Error("failed to write page", "page", name, "error", err)
	}
}
