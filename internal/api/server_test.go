package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nicholastmosher/easycom-sub000/internal/auth"
	"github.com/nicholastmosher/easycom-sub000/internal/connection"
	"github.com/nicholastmosher/easycom-sub000/internal/device"
	"github.com/nicholastmosher/easycom-sub000/internal/history"
	"github.com/nicholastmosher/easycom-sub000/internal/infrastructure/config"
	"github.com/nicholastmosher/easycom-sub000/internal/infrastructure/database"
	"github.com/nicholastmosher/easycom-sub000/internal/infrastructure/logging"
	"github.com/nicholastmosher/easycom-sub000/internal/service"
	"github.com/nicholastmosher/easycom-sub000/internal/statusbus"
	"github.com/nicholastmosher/easycom-sub000/internal/telemetry"
	"github.com/nicholastmosher/easycom-sub000/internal/transport/tcp"
	"github.com/nicholastmosher/easycom-sub000/migrations"
)

const testSecret = "test-secret-at-least-32-bytes-long!!"

// testEnv is a Server wired to a real registry, bus, service and device
// manager over a migrated SQLite database.
type testEnv struct {
	srv      *Server
	router   http.Handler
	registry *connection.Registry
	bus      *statusbus.Bus
	service  *service.Service
	devices  *device.Manager
	history  *history.SQLiteRepository
}

// testServer builds a testEnv. mutate may adjust the dependencies before
// New is called.
func testServer(t *testing.T, mutate ...func(*Deps)) *testEnv {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "easycom.db"),
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	registry := connection.NewRegistry()
	bus := statusbus.New()
	svc, err := service.New(service.Options{
		Registry:   registry,
		Bus:        bus,
		Transports: []connection.Transport{tcp.New(tcp.Config{DialTimeout: time.Second})},
		Config: service.Config{
			MaxRetries:        -1,
			ReadInterval:      5 * time.Millisecond,
			ReaderStopTimeout: time.Second,
		},
	})
	if err != nil {
		t.Fatalf("service.New: %v", err)
	}
	t.Cleanup(func() { svc.Close() })

	devices := device.NewManager(device.NewSQLiteRepository(db.DB), registry)
	events := history.NewSQLiteRepository(db.DB)

	deps := Deps{
		Config: config.APIConfig{Host: "127.0.0.1", Port: 0},
		WS: config.WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:   logging.NewWithWriter(config.LoggingConfig{Level: "error", Format: "text"}, "test", io.Discard),
		Registry: registry,
		Service:  svc,
		Devices:  devices,
		History:  events,
		Version:  "test",
	}
	for _, fn := range mutate {
		fn(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(srv.hub.closeAll)

	return &testEnv{
		srv:      srv,
		router:   srv.buildRouter(),
		registry: registry,
		bus:      bus,
		service:  svc,
		devices:  devices,
		history:  events,
	}
}

// do sends a request through the router and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			r = strings.NewReader(b)
		default:
			raw, err := json.Marshal(b)
			if err != nil {
				t.Fatalf("marshal body: %v", err)
			}
			r = bytes.NewReader(raw)
		}
	}

	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// decode unmarshals a response body into v.
func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding response %q: %v", w.Body.String(), err)
	}
}

// expectStatus fails the test when the response code differs.
func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, want, w.Body.String())
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// peer is a loopback TCP endpoint that records everything written to it.
type peer struct {
	ln net.Listener

	mu   sync.Mutex
	data bytes.Buffer
}

func startPeer(t *testing.T) *peer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	p := &peer{ln: ln}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				buf := make([]byte, 1024)
				for {
					n, err := conn.Read(buf)
					if n > 0 {
						p.mu.Lock()
						p.data.Write(buf[:n])
						p.mu.Unlock()
					}
					if err != nil {
						return
					}
				}
			}()
		}
	}()
	return p
}

func (p *peer) addr() string { return p.ln.Addr().String() }

func (p *peer) received() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.data.String()
}

func token(t *testing.T, role auth.Role) string {
	t.Helper()
	tok, err := auth.GenerateAccessToken("tester", role, testSecret, time.Minute)
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}
	return "Bearer " + tok
}

func withAuth(d *Deps) {
	d.Security = config.SecurityConfig{JWT: config.JWTConfig{Secret: testSecret}}
}

func TestNewRequiresDependencies(t *testing.T) {
	env := testServer(t)
	logger := logging.NewWithWriter(config.LoggingConfig{Level: "error"}, "test", io.Discard)

	tests := []struct {
		name string
		deps Deps
	}{
		{"no logger", Deps{Registry: env.registry, Service: env.service, Devices: env.devices}},
		{"no registry", Deps{Logger: logger, Service: env.service, Devices: env.devices}},
		{"no service", Deps{Logger: logger, Registry: env.registry, Devices: env.devices}},
		{"no devices", Deps{Logger: logger, Registry: env.registry, Service: env.service}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.deps); err == nil {
				t.Error("New() should fail")
			}
		})
	}
}

func TestSendTimeoutDefault(t *testing.T) {
	env := testServer(t)
	if env.srv.sendTimeout != defaultSendTimeout {
		t.Errorf("sendTimeout = %v, want %v", env.srv.sendTimeout, defaultSendTimeout)
	}

	env = testServer(t, func(d *Deps) { d.Config.SendTimeout = 3 })
	if env.srv.sendTimeout != 3*time.Second {
		t.Errorf("sendTimeout = %v, want 3s", env.srv.sendTimeout)
	}
}

func TestHealth(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/health", nil)
	expectStatus(t, w, http.StatusOK)

	var resp map[string]any
	decode(t, w, &resp)
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("version = %v, want test", resp["version"])
	}
	if _, ok := resp["mqtt_connected"]; ok {
		t.Error("mqtt_connected should be absent without an MQTT client")
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}
}

func TestRequestIDEchoed(t *testing.T) {
	env := testServer(t)
	w := env.do(t, http.MethodGet, "/api/v1/health", nil, "X-Request-ID", "abc-123")
	if got := w.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("X-Request-ID = %q, want abc-123", got)
	}
}

func TestCORS(t *testing.T) {
	env := testServer(t, func(d *Deps) {
		d.Config.CORS.AllowedOrigins = []string{"http://panel.local"}
	})

	w := env.do(t, http.MethodOptions, "/api/v1/connections", nil, "Origin", "http://panel.local")
	expectStatus(t, w, http.StatusNoContent)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://panel.local" {
		t.Errorf("Allow-Origin = %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, "PATCH") {
		t.Errorf("Allow-Methods = %q, want default list", got)
	}

	w = env.do(t, http.MethodOptions, "/api/v1/connections", nil, "Origin", "http://evil.local")
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin = %q for a disallowed origin", got)
	}
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{fmt.Errorf("x: %w", connection.ErrNotFound), http.StatusNotFound, ErrCodeNotFound},
		{device.ErrDeviceNotFound, http.StatusNotFound, ErrCodeNotFound},
		{device.ErrConnectionNotFound, http.StatusNotFound, ErrCodeNotFound},
		{connection.ErrNotConnected, http.StatusConflict, ErrCodeConflict},
		{connection.ErrAddressInvalid, http.StatusBadRequest, ErrCodeValidation},
		{device.ErrInvalidName, http.StatusBadRequest, ErrCodeValidation},
		{connection.ErrTransportUnavailable, http.StatusServiceUnavailable, ErrCodeUnavailable},
		{service.ErrClosed, http.StatusServiceUnavailable, ErrCodeUnavailable},
		{fmt.Errorf("write: %w", connection.ErrIOFailure), http.StatusBadGateway, ErrCodeIOFailure},
		{context.DeadlineExceeded, http.StatusGatewayTimeout, ErrCodeTimeout},
		{errors.New("boom"), http.StatusInternalServerError, ErrCodeInternal},
	}
	for _, tc := range tests {
		t.Run(tc.err.Error(), func(t *testing.T) {
			status, code := errorStatus(tc.err)
			if status != tc.wantStatus || code != tc.wantCode {
				t.Errorf("errorStatus() = (%d, %q), want (%d, %q)", status, code, tc.wantStatus, tc.wantCode)
			}
		})
	}
}

func TestAuthentication(t *testing.T) {
	env := testServer(t, withAuth)

	tests := []struct {
		name   string
		header []string
		want   int
	}{
		{"no token", nil, http.StatusUnauthorized},
		{"wrong scheme", []string{"Authorization", "Basic Zm9vOmJhcg=="}, http.StatusUnauthorized},
		{"garbage token", []string{"Authorization", "Bearer not-a-jwt"}, http.StatusUnauthorized},
		{"operator", []string{"Authorization", token(t, auth.RoleOperator)}, http.StatusOK},
		{"admin", []string{"Authorization", token(t, auth.RoleAdmin)}, http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := env.do(t, http.MethodGet, "/api/v1/connections", nil, tc.header...)
			expectStatus(t, w, tc.want)
			if tc.want == http.StatusUnauthorized && w.Header().Get("WWW-Authenticate") == "" {
				t.Error("WWW-Authenticate header missing")
			}
		})
	}

	// Health stays public.
	expectStatus(t, env.do(t, http.MethodGet, "/api/v1/health", nil), http.StatusOK)
}

func TestAuthorization(t *testing.T) {
	env := testServer(t, withAuth)

	d, err := env.devices.CreateDevice("Bench Rig")
	if err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}
	path := "/api/v1/devices/" + d.ID()

	w := env.do(t, http.MethodDelete, path, nil, "Authorization", token(t, auth.RoleOperator))
	expectStatus(t, w, http.StatusForbidden)
	var apiErr Error
	decode(t, w, &apiErr)
	if apiErr.Code != ErrCodeForbidden {
		t.Errorf("code = %q, want %q", apiErr.Code, ErrCodeForbidden)
	}

	w = env.do(t, http.MethodDelete, path, nil, "Authorization", token(t, auth.RoleAdmin))
	expectStatus(t, w, http.StatusNoContent)
}

func TestRateLimit(t *testing.T) {
	env := testServer(t, func(d *Deps) {
		d.Config.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 60, Burst: 2}
	})

	for i := range 2 {
		w := env.do(t, http.MethodGet, "/api/v1/health", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, w.Code)
		}
	}

	w := env.do(t, http.MethodGet, "/api/v1/health", nil)
	expectStatus(t, w, http.StatusTooManyRequests)
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}
}

func TestClientLimiterPrune(t *testing.T) {
	l := newClientLimiter(60, 0)
	if l.burst != 60 {
		t.Errorf("burst = %d, want fallback to 60", l.burst)
	}

	l.allow("10.0.0.1")
	l.allow("10.0.0.2")

	if n := l.prune(time.Now()); n != 0 {
		t.Errorf("prune(now) removed %d, want 0", n)
	}
	if n := l.prune(time.Now().Add(limiterIdleTTL + time.Second)); n != 2 {
		t.Errorf("prune(later) removed %d, want 2", n)
	}
}

func TestStartAndClose(t *testing.T) {
	env := testServer(t)

	if err := env.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := env.srv.Start(context.Background()); err == nil {
		t.Error("second Start() should fail")
	}
	if err := env.srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck: %v", err)
	}
	if err := env.srv.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestSystemMetrics(t *testing.T) {
	env := testServer(t)
	if _, err := env.devices.CreateDevice("Bench Rig"); err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}

	w := env.do(t, http.MethodGet, "/api/v1/system/metrics", nil)
	expectStatus(t, w, http.StatusOK)

	var m SystemMetrics
	decode(t, w, &m)
	if m.Version != "test" {
		t.Errorf("version = %q", m.Version)
	}
	if m.Devices.Total != 1 {
		t.Errorf("devices.total = %d, want 1", m.Devices.Total)
	}
	if m.Runtime.Goroutines == 0 {
		t.Error("runtime.goroutines = 0")
	}
	if m.MQTT != nil {
		t.Error("mqtt section should be omitted without a client")
	}
}

func TestPrometheusDisabled(t *testing.T) {
	env := testServer(t)
	w := env.do(t, http.MethodGet, "/api/v1/metrics", nil)
	expectStatus(t, w, http.StatusServiceUnavailable)
}

func TestPrometheus(t *testing.T) {
	env := testServer(t)
	env.srv.metrics = telemetry.NewMetrics(env.registry, env.service)

	w := env.do(t, http.MethodGet, "/api/v1/metrics", nil)
	expectStatus(t, w, http.StatusOK)
	if body := w.Body.String(); !strings.Contains(body, "easycom_connection_registered") {
		t.Errorf("metrics output missing easycom_connection_registered:\n%s", body)
	}
}

func TestPanelRouting(t *testing.T) {
	console := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "console") //nolint:errcheck // test handler
	})
	env := testServer(t, func(d *Deps) { d.Panel = console })

	w := env.do(t, http.MethodGet, "/", nil)
	expectStatus(t, w, http.StatusOK)
	if w.Body.String() != "console" {
		t.Errorf("GET / body = %q, want console", w.Body.String())
	}

	expectStatus(t, env.do(t, http.MethodGet, "/devices/abc", nil), http.StatusOK)
	expectStatus(t, env.do(t, http.MethodGet, "/api/v1/health", nil), http.StatusOK)
	expectStatus(t, env.do(t, http.MethodGet, "/api/v1/unknown", nil), http.StatusNotFound)

	env = testServer(t)
	expectStatus(t, env.do(t, http.MethodGet, "/", nil), http.StatusNotFound)
}
