package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func startHealthServer(t *testing.T) *HealthServer {
	t.Helper()
	hs := NewHealthServer("127.0.0.1:0", nil)
	if err := hs.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { hs.Close() })
	return hs
}

func getStatus(t *testing.T, hs *HealthServer, path string) (int, HealthStatus) {
	t.Helper()
	resp, err := http.Get(fmt.Sprintf("http://%s%s", hs.Addr(), path))
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	defer resp.Body.Close()

	var status HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode %s response: %v", path, err)
	}
	return resp.StatusCode, status
}

func TestHealthz(t *testing.T) {
	hs := startHealthServer(t)

	code, status := getStatus(t, hs, "/healthz")
	if code != http.StatusOK {
		t.Errorf("got %d, want 200", code)
	}
	if status.Status != "ok" {
		t.Errorf("status: got %q, want ok", status.Status)
	}
}

func TestHealthz_ShuttingDown(t *testing.T) {
	hs := startHealthServer(t)
	hs.SetShuttingDown()

	code, status := getStatus(t, hs, "/healthz")
	if code != http.StatusServiceUnavailable {
		t.Errorf("got %d, want 503", code)
	}
	if status.Status != "shutting_down" {
		t.Errorf("status: got %q", status.Status)
	}
}

func TestHealthz_DeadGoroutine(t *testing.T) {
	hs := startHealthServer(t)
	hs.RegisterGoroutine("policy-watcher")
	hs.UnregisterGoroutine("policy-watcher")

	code, status := getStatus(t, hs, "/healthz")
	if code != http.StatusServiceUnavailable {
		t.Errorf("got %d, want 503", code)
	}
	if status.Status != "degraded" {
		t.Errorf("status: got %q, want degraded", status.Status)
	}
}

func TestReadyz(t *testing.T) {
	hs := NewHealthServer("127.0.0.1:0", nil)
	hs.RegisterReadinessCheck(NewFuncChecker("always-ok", func(context.Context) error {
		return nil
	}))
	if err := hs.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer hs.Close()

	code, status := getStatus(t, hs, "/readyz")
	if code != http.StatusOK {
		t.Errorf("got %d, want 200", code)
	}
	if !status.Checks["always-ok"].Healthy {
		t.Error("expected always-ok check to be healthy")
	}
}

func TestReadyz_FailingCheck(t *testing.T) {
	hs := NewHealthServer("127.0.0.1:0", nil)
	hs.RegisterReadinessCheck(NewFuncChecker("broken", func(context.Context) error {
		return errors.New("dependency down")
	}))
	if err := hs.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer hs.Close()

	code, status := getStatus(t, hs, "/readyz")
	if code != http.StatusServiceUnavailable {
		t.Errorf("got %d, want 503", code)
	}
	if status.Status != "not_ready" {
		t.Errorf("status: got %q, want not_ready", status.Status)
	}
	if status.Checks["broken"].Message != "dependency down" {
		t.Errorf("message: got %q", status.Checks["broken"].Message)
	}
}

func TestHealthz_MethodNotAllowed(t *testing.T) {
	hs := startHealthServer(t)

	resp, err := http.Post(fmt.Sprintf("http://%s/healthz", hs.Addr()), "text/plain", nil)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("got %d, want 405", resp.StatusCode)
	}
}
