package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/vango-go/vai-live-bridge/pkg/gateway/config"
	"github.com/vango-go/vai-live-bridge/pkg/gateway/lifecycle"
)

// Version is reported by /health.
const Version = "1.0.0"

type HealthHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
	Now       func() time.Time
}

type healthResponse struct {
	Status    string         `json:"status"`
	Timestamp string         `json:"timestamp"`
	Version   string         `json:"version"`
	Uptime    float64        `json:"uptime"`
	Services  healthServices `json:"services"`
}

type healthServices struct {
	Gemini     string `json:"gemini"`
	WebSocket  string `json:"websocket"`
	FileUpload string `json:"fileUpload"`
}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	ts := now().UTC()

	gemini := "not configured"
	if h.Config.GeminiAPIKey != "" {
		gemini = "configured"
	}
	websocketState := "active"
	if h.Lifecycle != nil && h.Lifecycle.IsDraining() {
		websocketState = "draining"
	}
	var uptime float64
	if h.Lifecycle != nil {
		uptime = h.Lifecycle.Uptime(ts).Seconds()
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: ts.Format(time.RFC3339Nano),
		Version:   Version,
		Uptime:    uptime,
		Services: healthServices{
			Gemini:     gemini,
			WebSocket:  websocketState,
			FileUpload: "active",
		},
	})
}

// ReadyHandler reports whether the loaded configuration can serve traffic.
type ReadyHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK             bool     `json:"ok"`
		AuthMode       string   `json:"auth_mode"`
		MetricsEnabled bool     `json:"metrics_enabled"`
		Draining       bool     `json:"draining"`
		Issues         []string `json:"issues,omitempty"`
	}

	var issues []string
	if err := h.Config.Validate(); err != nil {
		issues = append(issues, err.Error())
	}
	draining := h.Lifecycle != nil && h.Lifecycle.IsDraining()

	status := http.StatusOK
	switch {
	case len(issues) > 0:
		status = http.StatusInternalServerError
	case draining:
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, readyResp{
		OK:             status == http.StatusOK,
		AuthMode:       string(h.Config.AuthMode),
		MetricsEnabled: h.Config.MetricsEnabled,
		Draining:       draining,
		Issues:         issues,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
