package main

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"testing"
	"time"
)

func TestMainIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	t.Setenv("SERVER_HTTP_PORT", "8094")
	t.Setenv("STORE_PATH", filepath.Join(t.TempDir(), "focusd.db"))
	t.Setenv("NATS_EMBEDDED", "true")
	t.Setenv("NATS_PORT", "-1")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, "")
	}()

	var resp *http.Response
	var err error
	for i := 0; i < 50; i++ {
		resp, err = http.Get("http://127.0.0.1:8094/health")
		if err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /health status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var health struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Checks["store"] != "ok" || health.Checks["nats"] != "ok" {
		t.Errorf("checks = %v, want store and nats ok", health.Checks)
	}

	tpl, err := http.Get("http://127.0.0.1:8094/api/v1/templates")
	if err != nil {
		t.Fatalf("GET /api/v1/templates failed: %v", err)
	}
	tpl.Body.Close()
	if tpl.StatusCode != http.StatusOK {
		t.Errorf("GET /api/v1/templates status = %d, want %d", tpl.StatusCode, http.StatusOK)
	}

	cancel()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			t.Errorf("run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shutdown in time")
	}
}
