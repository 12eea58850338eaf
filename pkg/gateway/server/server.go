package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/vango-go/vai-live-bridge/pkg/gateway/config"
	"github.com/vango-go/vai-live-bridge/pkg/gateway/handlers"
	"github.com/vango-go/vai-live-bridge/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-live-bridge/pkg/gateway/live/protocol"
	"github.com/vango-go/vai-live-bridge/pkg/gateway/live/sessions"
	"github.com/vango-go/vai-live-bridge/pkg/gateway/live/upstream"
	"github.com/vango-go/vai-live-bridge/pkg/gateway/media"
	"github.com/vango-go/vai-live-bridge/pkg/gateway/metrics"
	"github.com/vango-go/vai-live-bridge/pkg/gateway/mw"
	"github.com/vango-go/vai-live-bridge/pkg/gateway/validation"
)

const metricsNamespace = "live_bridge"

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	connector    upstream.Connector
	media        media.Processor
	metrics      *metrics.Metrics
	lifecycle    *lifecycle.Lifecycle
	liveSessions *sessions.Tracker
}

// New builds the gateway. connector opens upstream live sessions and store
// receives uploads.
func New(cfg config.Config, logger *slog.Logger, connector upstream.Connector, store media.Processor) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:          cfg,
		logger:       logger,
		mux:          http.NewServeMux(),
		connector:    connector,
		media:        store,
		lifecycle:    lifecycle.New(time.Now()),
		liveSessions: sessions.NewTracker(),
	}
	if cfg.MetricsEnabled {
		s.metrics = metrics.New(metricsNamespace)
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/health", handlers.HealthHandler{Config: s.cfg, Lifecycle: s.lifecycle})
	s.mux.Handle("/readyz", handlers.ReadyHandler{Config: s.cfg, Lifecycle: s.lifecycle})
	if s.metrics != nil {
		s.mux.Handle("/metrics", s.metrics.Handler())
	}

	s.mux.Handle("/api/config", handlers.ConfigHandler{Config: s.cfg})
	s.mux.Handle("/upload", handlers.UploadHandler{
		Processor: s.media,
		MaxBytes:  s.cfg.MaxUploadBytes,
		Metrics:   s.metrics,
		Logger:    s.logger,
	})

	s.mux.Handle("/ws", handlers.LiveHandler{
		Config:       s.cfg,
		Connector:    s.connector,
		Validator:    validation.NewConfigValidator(s.cfg.Models, s.cfg.Voices),
		Logger:       s.logger,
		Metrics:      s.metrics,
		Lifecycle:    s.lifecycle,
		LiveSessions: s.liveSessions,
	})

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Auth(s.cfg, h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// SetDraining makes new live upgrades fail with 529 and flips /readyz.
func (s *Server) SetDraining() {
	s.lifecycle.SetDraining(true)
}

// NotifyLiveSessionsDraining sends a draining error to every open live
// connection and reports how many accepted it.
func (s *Server) NotifyLiveSessionsDraining() int {
	return s.liveSessions.NotifyAll(protocol.CodeDraining, "bridge is shutting down")
}

// WaitLiveSessions blocks until every live connection has ended or ctx is
// done. It reports whether all connections ended.
func (s *Server) WaitLiveSessions(ctx context.Context) bool {
	return s.liveSessions.Wait(ctx)
}

func (s *Server) CancelLiveSessions() int {
	return s.liveSessions.CancelAll()
}

func (s *Server) LiveSessionCount() int {
	return s.liveSessions.Count()
}
