package portal

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jpalmerr/dhtlink/internal/credentials"
	"github.com/jpalmerr/dhtlink/internal/store"
)

// testLogger returns a logger that discards all output for clean test output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPortal() (*Portal, *store.MemoryStore) {
	st := store.NewMemoryStore("ap_active", nil)
	return New("127.0.0.1:0", "", st, testLogger()), st
}

func postForm(h http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/setup", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIndex(t *testing.T) {
	p, _ := newTestPortal()

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("GET / status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q, want text/html", ct)
	}
	body := rec.Body.String()
	for _, want := range []string{`name="ssid"`, `name="password"`, `action="/setup"`, DefaultTitle} {
		if !strings.Contains(body, want) {
			t.Errorf("form missing %q", want)
		}
	}
	if strings.Contains(body, "{{.") {
		t.Error("form has unfilled placeholder")
	}
	if strings.Contains(body, `class="notice"`) {
		t.Error("form shows a notice without one set")
	}
}

func TestIndex_NoticeIsEscaped(t *testing.T) {
	p, _ := newTestPortal()
	p.SetNotice(`could not join "<b>HomeNet</b>": lease timed out`)

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	body := rec.Body.String()
	if !strings.Contains(body, "&lt;b&gt;HomeNet&lt;/b&gt;") {
		t.Errorf("notice not escaped in: %s", body)
	}
	if !strings.Contains(body, "lease timed out") {
		t.Error("notice missing")
	}

	p.SetNotice("")
	rec = httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if strings.Contains(rec.Body.String(), "lease timed out") {
		t.Error("notice still shown after clearing")
	}
}

func TestIndex_TitleIsEscaped(t *testing.T) {
	p := New("127.0.0.1:0", "<script>alert(1)</script>", nil, testLogger())

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if strings.Contains(rec.Body.String(), "<script>alert(1)</script>") {
		t.Error("title rendered unescaped")
	}
}

func TestSetup_Accepted(t *testing.T) {
	p, _ := newTestPortal()

	rec := postForm(p.Handler(), "ssid=HomeNet&password=secret123")
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /setup status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "HomeNet") {
		t.Error("confirmation page does not name the network")
	}
	if strings.Contains(rec.Body.String(), "secret123") {
		t.Error("confirmation page echoes the passphrase")
	}

	select {
	case got := <-p.Credentials():
		want := credentials.Credentials{SSID: "HomeNet", Passphrase: "secret123"}
		if got != want {
			t.Errorf("Credentials() = %+v, want %+v", got, want)
		}
	default:
		t.Fatal("Credentials() empty after accepted submission")
	}
}

func TestSetup_LastWriteWins(t *testing.T) {
	p, _ := newTestPortal()

	postForm(p.Handler(), "ssid=First&password=one")
	postForm(p.Handler(), "ssid=Second&password=two")

	got := <-p.Credentials()
	if got.SSID != "Second" {
		t.Errorf("Credentials().SSID = %q, want %q", got.SSID, "Second")
	}
	select {
	case extra := <-p.Credentials():
		t.Errorf("unexpected second value %+v", extra)
	default:
	}
}

func TestSetup_Rejected(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		contentType string
	}{
		{"dangling escape", "ssid=abc&password=%", "application/x-www-form-urlencoded"},
		{"missing ssid", "password=x", "application/x-www-form-urlencoded"},
		{"wrong content type", `{"ssid":"abc"}`, "application/json"},
		{"oversized body", "ssid=a&password=" + strings.Repeat("x", MaxBodyBytes), "application/x-www-form-urlencoded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := newTestPortal()

			req := httptest.NewRequest(http.MethodPost, "/setup", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			rec := httptest.NewRecorder()
			p.Handler().ServeHTTP(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			select {
			case c := <-p.Credentials():
				t.Errorf("Credentials() delivered %+v for a rejected submission", c)
			default:
			}
		})
	}
}

func TestSetup_ContentTypeWithCharset(t *testing.T) {
	p, _ := newTestPortal()

	req := httptest.NewRequest(http.MethodPost, "/setup", strings.NewReader("ssid=HomeNet"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")
	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestRouting(t *testing.T) {
	p, _ := newTestPortal()

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/", http.StatusOK},
		{http.MethodGet, "/api/status", http.StatusOK},
		{http.MethodGet, "/generate_204", http.StatusNotFound},
		{http.MethodGet, "/index.html", http.StatusNotFound},
		{http.MethodPost, "/", http.StatusMethodNotAllowed},
		{http.MethodGet, "/setup", http.StatusMethodNotAllowed},
		{http.MethodDelete, "/api/status", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			p.Handler().ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestStatus(t *testing.T) {
	p, st := newTestPortal()
	st.Update(func(s *store.Snapshot) {
		s.State = "lease_timed_out"
		s.SessionID = "abc"
		s.LastError = "lease timed out"
		s.LastSample = &store.Reading{Temperature: 22, Humidity: 41}
	})

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var got store.Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.State != "lease_timed_out" || got.SessionID != "abc" || got.LastError != "lease timed out" {
		t.Errorf("snapshot = %+v", got)
	}
	if got.LastSample == nil || got.LastSample.Temperature != 22 {
		t.Errorf("LastSample = %+v", got.LastSample)
	}
}

func TestStatus_NotServedWithoutStore(t *testing.T) {
	p := New("127.0.0.1:0", "", nil, testLogger())

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestEvents(t *testing.T) {
	p, st := newTestPortal()
	srv := httptest.NewServer(p.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /api/events: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	events := make(chan store.Snapshot, 4)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line, ok := strings.CutPrefix(scanner.Text(), "data: ")
			if !ok {
				continue
			}
			var snap store.Snapshot
			if json.Unmarshal([]byte(line), &snap) == nil {
				events <- snap
			}
		}
	}()

	next := func() store.Snapshot {
		t.Helper()
		select {
		case s := <-events:
			return s
		case <-ctx.Done():
			t.Fatal("timed out waiting for event")
			return store.Snapshot{}
		}
	}

	if first := next(); first.State != "ap_active" {
		t.Errorf("first event State = %q, want ap_active", first.State)
	}

	st.Update(func(s *store.Snapshot) { s.State = "connecting" })
	if second := next(); second.State != "connecting" {
		t.Errorf("second event State = %q, want connecting", second.State)
	}
}

func TestStartAndShutdown(t *testing.T) {
	p, _ := newTestPortal()

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	base := "http://" + p.Addr().String()

	resp, err := http.Post(base+"/setup", "application/x-www-form-urlencoded", strings.NewReader("ssid=HomeNet&password=secret123"))
	if err != nil {
		t.Fatalf("POST /setup: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("POST /setup status = %d, want 200", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if err := p.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}

	if _, err := http.Get(base + "/"); err == nil {
		t.Error("portal still serving after Shutdown")
	}
}

func TestStart_BindFailure(t *testing.T) {
	first, _ := newTestPortal()
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer first.Shutdown(context.Background())

	second := New(first.Addr().String(), "", nil, testLogger())
	if err := second.Start(context.Background()); err == nil {
		second.Shutdown(context.Background())
		t.Fatal("Start() on a bound address succeeded")
	}
}

func TestStart_ContextCancelShutsDown(t *testing.T) {
	p, _ := newTestPortal()

	ctx, cancel := context.WithCancel(context.Background())
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	base := "http://" + p.Addr().String()
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := http.Get(base + "/"); err != nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("portal still serving after context cancellation")
}
