package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vango-go/vai-live-bridge/pkg/gateway/config"
	"github.com/vango-go/vai-live-bridge/pkg/gateway/lifecycle"
)

func readyConfig() config.Config {
	cfg := config.Default()
	cfg.GeminiAPIKey = "test"
	return cfg
}

func TestHealthHandler_ReportsServices(t *testing.T) {
	started := time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC)
	now := started.Add(90 * time.Second)
	h := HealthHandler{
		Config:    readyConfig(),
		Lifecycle: lifecycle.New(started),
		Now:       func() time.Time { return now },
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}

	var resp healthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Status != "ok" || resp.Version != Version {
		t.Fatalf("resp=%+v", resp)
	}
	if resp.Uptime != 90 {
		t.Fatalf("uptime=%v, want 90", resp.Uptime)
	}
	if resp.Timestamp != "2026-01-02T03:05:30Z" {
		t.Fatalf("timestamp=%q", resp.Timestamp)
	}
	if resp.Services.Gemini != "configured" || resp.Services.WebSocket != "active" || resp.Services.FileUpload != "active" {
		t.Fatalf("services=%+v", resp.Services)
	}
}

func TestHealthHandler_NotConfiguredAndDraining(t *testing.T) {
	lc := lifecycle.New(time.Now())
	lc.SetDraining(true)
	h := HealthHandler{Config: config.Default(), Lifecycle: lc}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	var resp healthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Services.Gemini != "not configured" || resp.Services.WebSocket != "draining" {
		t.Fatalf("services=%+v", resp.Services)
	}
}

func TestReadyHandler_RequiredAuthEmptyKeys_NotReady(t *testing.T) {
	cfg := readyConfig()
	cfg.AuthMode = config.AuthModeRequired
	h := ReadyHandler{Config: cfg}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ok, _ := resp["ok"].(bool); ok {
		t.Fatalf("expected ok=false, got ok=true")
	}
	if issues, _ := resp["issues"].([]any); len(issues) == 0 {
		t.Fatalf("expected issues, got %v", resp)
	}
}

func TestReadyHandler_Ready(t *testing.T) {
	h := ReadyHandler{Config: readyConfig(), Lifecycle: lifecycle.New(time.Now())}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestReadyHandler_DrainingIsUnavailable(t *testing.T) {
	lc := lifecycle.New(time.Now())
	lc.SetDraining(true)
	h := ReadyHandler{Config: readyConfig(), Lifecycle: lc}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}
