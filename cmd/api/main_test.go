// Package main contains integration tests for the API server.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/accessrecon/internal/config"
	"github.com/onnwee/accessrecon/internal/middleware"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func inMemoryConfig() *config.Config {
	return &config.Config{
		Port:               0,
		Env:                "test",
		TracingExporter:    config.DefaultTracingExporter,
		TracingSampleRate:  config.DefaultTracingSampleRate,
		FlexExpiryInterval: time.Hour,
		LockTTL:            config.DefaultLockTTL,
	}
}

func post(t *testing.T, url, body string, header ...string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s error = %v", url, err)
	}
	return resp
}

// TestNewServer_InMemory drives the fully wired handler chain over the
// in-memory stores.
func TestNewServer_InMemory(t *testing.T) {
	srv, err := newServer(context.Background(), inMemoryConfig(), newTestLogger())
	if err != nil {
		t.Fatalf("newServer() error = %v", err)
	}
	defer srv.close(context.Background())

	if srv.expiry == nil || !srv.expiry.IsRunning() {
		t.Error("expected the flex expiry job to be running")
	}

	ts := httptest.NewServer(srv.handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/ready")
	if err != nil {
		t.Fatalf("GET /ready error = %v", err)
	}
	var ready struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ready); err != nil {
		t.Fatalf("failed to decode readiness: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || ready.Checks["database"] != "not_configured" {
		t.Errorf("ready = %d %+v, want 200 with database not_configured", resp.StatusCode, ready)
	}

	resp = post(t, ts.URL+"/entitlements", `{"unit":"Finance","role":"Analyst","application":"SAP"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST /entitlements status = %d, want 201", resp.StatusCode)
	}

	resp = post(t, ts.URL+"/employees", `{"id":"E1","email":"e1@example.com"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST /employees status = %d, want 201", resp.StatusCode)
	}

	resp = post(t, ts.URL+"/employees/E1/onboard", `{"role":"Analyst","unit":"Finance"}`,
		middleware.ActorHeader, "hr-admin", middleware.RequestIDHeader, "req-42")
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("onboard status = %d, body = %s", resp.StatusCode, body)
	}
	if got := resp.Header.Get(middleware.RequestIDHeader); got != "req-42" {
		t.Errorf("X-Request-ID = %q, want req-42", got)
	}
	if !strings.Contains(string(body), `"actor":"hr-admin"`) {
		t.Errorf("onboard body = %s, want events by hr-admin", body)
	}

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	metrics, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	for _, name := range []string{"http_requests_total", "access_transitions_total", "access_events_created_total", "go_goroutines"} {
		if !strings.Contains(string(metrics), name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
	if !strings.Contains(string(metrics), `path="/employees/{id}/onboard"`) {
		t.Error("expected the onboard route to be recorded by its pattern")
	}
}

func TestNewServer_IdempotentReplay(t *testing.T) {
	cfg := inMemoryConfig()
	cfg.IdempotencyTTL = time.Hour

	srv, err := newServer(context.Background(), cfg, newTestLogger())
	if err != nil {
		t.Fatalf("newServer() error = %v", err)
	}
	defer srv.close(context.Background())

	ts := httptest.NewServer(srv.handler)
	defer ts.Close()

	post(t, ts.URL+"/entitlements", `{"unit":"Sales","role":"Rep","application":"CRM"}`).Body.Close()
	post(t, ts.URL+"/employees", `{"id":"E7","email":"e7@example.com"}`).Body.Close()

	var bodies [2]string
	for i := range bodies {
		resp := post(t, ts.URL+"/employees/E7/onboard", `{"role":"Rep","unit":"Sales"}`,
			middleware.IdempotencyKeyHeader, "onboard-e7")
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("onboard #%d status = %d, body = %s", i+1, resp.StatusCode, b)
		}
		if i == 1 && resp.Header.Get(middleware.IdempotentReplayHeader) != "true" {
			t.Error("second onboard was not replayed")
		}
		bodies[i] = string(b)
	}
	if bodies[0] != bodies[1] {
		t.Errorf("replayed body differs:\n%s\n%s", bodies[0], bodies[1])
	}

	resp, err := http.Get(ts.URL + "/employees/E7/events")
	if err != nil {
		t.Fatalf("GET events error = %v", err)
	}
	var events []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		t.Fatalf("failed to decode events: %v", err)
	}
	resp.Body.Close()
	if len(events) != 1 {
		t.Errorf("events = %d, want 1", len(events))
	}
}

func TestNewServer_ExpiryDisabled(t *testing.T) {
	cfg := inMemoryConfig()
	cfg.FlexExpiryInterval = 0

	srv, err := newServer(context.Background(), cfg, newTestLogger())
	if err != nil {
		t.Fatalf("newServer() error = %v", err)
	}
	defer srv.close(context.Background())

	if srv.expiry != nil {
		t.Error("expected no expiry job when the interval is zero")
	}
}

func TestNewServer_InvalidRedisURL(t *testing.T) {
	cfg := inMemoryConfig()
	cfg.RedisURL = "://not-a-url"

	if _, err := newServer(context.Background(), cfg, newTestLogger()); err == nil {
		t.Fatal("expected an error for an invalid REDIS_URL")
	}
}

func TestNewServer_UnsupportedTracingExporter(t *testing.T) {
	cfg := inMemoryConfig()
	cfg.TracingEnabled = true
	cfg.TracingExporter = "zipkin"

	if _, err := newServer(context.Background(), cfg, newTestLogger()); err == nil {
		t.Fatal("expected an error for an unsupported exporter")
	}
}

// TestGracefulShutdown_InFlightRequests checks that a request in progress
// when shutdown starts still completes.
func TestGracefulShutdown_InFlightRequests(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logBuf, nil))

	started := make(chan struct{})
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		w.WriteHeader(http.StatusOK)
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	server := &http.Server{Handler: middleware.RequestID(middleware.Logging(logger)(mux))}

	serverStopped := make(chan struct{})
	go func() {
		logger.Info("starting server")
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			t.Errorf("server error: %v", err)
		}
		close(serverStopped)
	}()

	var wg sync.WaitGroup
	var status int
	wg.Add(1)
	go func() {
		defer wg.Done()
		resp, err := http.Get("http://" + ln.Addr().String() + "/slow")
		if err != nil {
			t.Errorf("in-flight request failed: %v", err)
			return
		}
		status = resp.StatusCode
		resp.Body.Close()
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("request did not reach the handler")
	}

	logger.Info("shutting down server...")
	shutdownDone := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		shutdownDone <- server.Shutdown(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	close(release)

	if err := <-shutdownDone; err != nil {
		t.Errorf("server shutdown error: %v", err)
	}
	wg.Wait()
	<-serverStopped
	logger.Info("server stopped")

	if status != http.StatusOK {
		t.Errorf("in-flight request status = %d, want 200", status)
	}

	logs := logBuf.String()
	startIdx := strings.Index(logs, "starting server")
	shutdownIdx := strings.Index(logs, "shutting down server")
	stoppedIdx := strings.Index(logs, "server stopped")
	if startIdx == -1 || shutdownIdx == -1 || stoppedIdx == -1 {
		t.Fatalf("missing lifecycle log lines: %s", logs)
	}
	if startIdx >= shutdownIdx || shutdownIdx >= stoppedIdx {
		t.Error("lifecycle log lines out of order")
	}
}
