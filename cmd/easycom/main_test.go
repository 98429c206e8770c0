package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nicholastmosher/easycom-sub000/internal/auth"
)

const testSecret = "test-secret-for-development-only-32b"

// writeConfig writes a config file and points EASYCOM_CONFIG at it.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv(configEnv, path)
	return path
}

// freePort returns a TCP port that was free a moment ago.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv(configEnv, "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_MissingDatabasePath verifies run fails when database path is empty.
func TestRun_MissingDatabasePath(t *testing.T) {
	writeConfig(t, `
site:
  id: test-site
database:
  path: ""
logging:
  level: error
  format: text
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail with empty database path")
	}
	if !strings.Contains(err.Error(), "database.path") {
		t.Errorf("error = %v, want database.path validation failure", err)
	}
}

// TestRun_StartAndShutdown starts the daemon without a broker, waits for
// the API to answer and shuts it down through the context.
func TestRun_StartAndShutdown(t *testing.T) {
	port := freePort(t)
	dir := t.TempDir()
	writeConfig(t, fmt.Sprintf(`
site:
  id: test-site
database:
  path: %q
mqtt:
  enabled: false
api:
  host: "127.0.0.1"
  port: %d
logging:
  level: error
  format: text
history:
  enabled: true
  retention_days: 1
`, filepath.Join(dir, "easycom.db"), port))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- run(ctx) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/api/v1/health", port)
	deadline := time.Now().Add(10 * time.Second)
	for {
		resp, err := http.Get(url) //nolint:noctx // test polling
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				break
			}
		}
		select {
		case err := <-errCh:
			t.Fatalf("run() exited early: %v", err)
		default:
		}
		if time.Now().After(deadline) {
			t.Fatal("API did not become healthy")
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("run() = %v, want nil on shutdown", err)
		}
	case <-time.After(20 * time.Second):
		t.Fatal("run() did not return after cancel")
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv(configEnv, "")

	path, explicit := getConfigPath()
	if path != defaultConfigPath || explicit {
		t.Errorf("getConfigPath() = (%q, %v), want (%q, false)", path, explicit, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv(configEnv, expected)

	path, explicit := getConfigPath()
	if path != expected || !explicit {
		t.Errorf("getConfigPath() = (%q, %v), want (%q, true)", path, explicit, expected)
	}
}

func TestLoadConfig(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.yaml")

	cfg, err := loadConfig(missing, false)
	if err != nil {
		t.Fatalf("loadConfig(default, missing) error = %v, want built-in config", err)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("API.Port = %d, want built-in 8080", cfg.API.Port)
	}

	if _, err := loadConfig(missing, true); err == nil {
		t.Error("loadConfig(explicit, missing) should fail")
	}
}

func TestRunToken(t *testing.T) {
	writeConfig(t, fmt.Sprintf(`
site:
  id: test-site
database:
  path: /tmp/unused.db
security:
  jwt:
    secret: %q
    access_token_ttl: 5
`, testSecret))

	var out bytes.Buffer
	if err := runToken([]string{"-subject", "alice", "-role", "admin"}, &out); err != nil {
		t.Fatalf("runToken: %v", err)
	}

	claims, err := auth.ParseToken(strings.TrimSpace(out.String()), testSecret)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.Subject != "alice" || claims.Role != auth.RoleAdmin {
		t.Errorf("claims = (%q, %q), want (alice, admin)", claims.Subject, claims.Role)
	}
	ttl := claims.ExpiresAt.Sub(claims.IssuedAt.Time)
	if ttl != 5*time.Minute {
		t.Errorf("ttl = %v, want 5m from config", ttl)
	}

	out.Reset()
	if err := runToken([]string{"-ttl", "30s"}, &out); err != nil {
		t.Fatalf("runToken -ttl: %v", err)
	}
	claims, err = auth.ParseToken(strings.TrimSpace(out.String()), testSecret)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.Role != auth.RoleOperator {
		t.Errorf("default role = %q, want operator", claims.Role)
	}
	if ttl := claims.ExpiresAt.Sub(claims.IssuedAt.Time); ttl != 30*time.Second {
		t.Errorf("ttl = %v, want 30s", ttl)
	}
}

func TestRunTokenErrors(t *testing.T) {
	writeConfig(t, `
site:
  id: test-site
database:
  path: /tmp/unused.db
`)

	var out bytes.Buffer
	if err := runToken(nil, &out); !errors.Is(err, auth.ErrNoSecret) {
		t.Errorf("runToken without secret = %v, want ErrNoSecret", err)
	}
	if err := runToken([]string{"-role", "root"}, &out); !errors.Is(err, auth.ErrInvalidRole) {
		t.Errorf("runToken -role root = %v, want ErrInvalidRole", err)
	}
	if err := runToken([]string{"-bogus"}, &out); err == nil {
		t.Error("runToken with unknown flag should fail")
	}
}
