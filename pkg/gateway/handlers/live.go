package handlers

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/vango-go/vai-live-bridge/pkg/gateway/apierror"
	"github.com/vango-go/vai-live-bridge/pkg/gateway/auth"
	"github.com/vango-go/vai-live-bridge/pkg/gateway/config"
	"github.com/vango-go/vai-live-bridge/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-live-bridge/pkg/gateway/live/session"
	"github.com/vango-go/vai-live-bridge/pkg/gateway/live/sessions"
	"github.com/vango-go/vai-live-bridge/pkg/gateway/live/upstream"
	"github.com/vango-go/vai-live-bridge/pkg/gateway/metrics"
	"github.com/vango-go/vai-live-bridge/pkg/gateway/mw"
)

// LiveHandler upgrades /ws requests and runs one live session per connection.
type LiveHandler struct {
	Config       config.Config
	Connector    upstream.Connector
	Validator    session.Validator
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
	Lifecycle    *lifecycle.Lifecycle
	LiveSessions *sessions.Tracker

	// NewSessionID overrides the session id generator. Tests only.
	NewSessionID func() string
}

func (h LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromRequest(r)
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r)
		return
	}
	if h.Lifecycle != nil && h.Lifecycle.IsDraining() {
		apierror.Write(w, apierror.StatusOverloaded, reqID, &apierror.Error{
			Type:    apierror.ErrOverloaded,
			Message: "bridge is draining",
			Code:    "draining",
		})
		return
	}
	if !h.originAllowed(r) {
		apierror.Write(w, http.StatusForbidden, reqID, &apierror.Error{
			Type:    apierror.ErrPermission,
			Message: "origin is not allowed",
			Param:   "Origin",
		})
		return
	}
	if apiErr := h.authorize(r); apiErr != nil {
		apierror.Write(w, apierror.StatusFromType(apiErr.Type), reqID, apiErr)
		return
	}

	upgrader := websocket.Upgrader{
		// Origin was checked above against the configured allowlist.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	connID := "c_" + strings.ToLower(ulid.Make().String())
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s, err := session.New(session.Dependencies{
		Conn:         conn,
		Logger:       logger,
		Upstream:     h.Connector,
		Validator:    h.Validator,
		Metrics:      h.Metrics,
		ConnectionID: connID,
		RequestID:    reqID,
		NewSessionID: h.NewSessionID,
		Config:       sessionConfig(h.Config),
	})
	if err != nil {
		logger.Error("live session init failed", "connection_id", connID, "request_id", reqID, "error", err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "failed to initialize live session"),
			time.Now().Add(2*time.Second))
		return
	}

	unregister := h.LiveSessions.Register(connID, sessions.Handle{
		Cancel: s.Cancel,
		Notify: s.Notify,
	})
	defer unregister()

	startedAt := time.Now()
	h.Metrics.RecordConnectionStart()
	defer func() { h.Metrics.RecordConnectionEnd(time.Since(startedAt)) }()

	logger.Info("live connection opened", "connection_id", connID, "request_id", reqID, "remote_addr", r.RemoteAddr)
	if err := s.Run(); err != nil {
		logger.Warn("live connection ended with error", "connection_id", connID, "request_id", reqID, "error", err)
		return
	}
	logger.Info("live connection closed", "connection_id", connID, "request_id", reqID, "duration_ms", time.Since(startedAt).Milliseconds())
}

func sessionConfig(cfg config.Config) session.Config {
	return session.Config{
		MaxMessageBytes:        cfg.LiveMaxMessageBytes,
		MaxMessagesPerSecond:   cfg.LiveMaxMessagesPerSecond,
		MessageBurst:           cfg.LiveMessageBurst,
		OutboundQueueSize:      cfg.LiveOutboundQueueSize,
		PingInterval:           cfg.LiveWSPingInterval,
		WriteTimeout:           cfg.LiveWSWriteTimeout,
		ReadTimeout:            cfg.LiveWSReadTimeout,
		UpstreamConnectTimeout: cfg.LiveUpstreamConnectTimeout,
		AudioInputMIMEType:     cfg.LiveAudioInputMIMEType,
		ScreenShareMaxFPS:      cfg.LiveScreenShareMaxFPS,
	}
}

// originAllowed accepts requests without an Origin header, same-origin
// requests and origins on the CORS allowlist.
func (h LiveHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, r.Host) {
		return true
	}
	return mw.OriginAllowed(h.Config.CORSAllowedOrigins, origin)
}

func (h LiveHandler) authorize(r *http.Request) *apierror.Error {
	switch h.Config.AuthMode {
	case config.AuthModeDisabled:
		return nil
	case config.AuthModeOptional, config.AuthModeRequired:
	default:
		return &apierror.Error{Type: apierror.ErrAPI, Message: "invalid auth_mode"}
	}

	key, ok := auth.APIKeyFrom(r)
	if !ok {
		if h.Config.AuthMode == config.AuthModeRequired {
			return &apierror.Error{
				Type:    apierror.ErrAuthentication,
				Message: "missing api key",
				Param:   auth.QueryParamAPIKey,
			}
		}
		return nil
	}
	if _, ok := h.Config.APIKeys[key]; !ok {
		return &apierror.Error{Type: apierror.ErrAuthentication, Message: "invalid api key"}
	}
	return nil
}

func requestIDFromRequest(r *http.Request) string {
	id, _ := mw.RequestIDFrom(r.Context())
	return id
}
