package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-live-bridge/pkg/gateway/live/protocol"
	"github.com/vango-go/vai-live-bridge/pkg/gateway/live/screenshare"
	"github.com/vango-go/vai-live-bridge/pkg/gateway/live/upstream"
	"github.com/vango-go/vai-live-bridge/pkg/gateway/metrics"
	"github.com/vango-go/vai-live-bridge/pkg/gateway/validation"
)

var errBackpressure = errors.New("outbound backpressure")

const (
	outboundPriorityQueueSize = 32
	upstreamEventQueueSize    = 64

	defaultVideoMIMEType = "video/mp4"
)

type Config struct {
	MaxMessageBytes        int64
	MaxMessagesPerSecond   float64
	MessageBurst           int
	OutboundQueueSize      int
	PingInterval           time.Duration
	WriteTimeout           time.Duration
	ReadTimeout            time.Duration
	UpstreamConnectTimeout time.Duration
	AudioInputMIMEType     string
	ScreenShareMaxFPS      int
}

// Validator checks client init overrides before a session is opened.
type Validator interface {
	Validate(cfg *protocol.InitConfig) validation.Result
}

type Dependencies struct {
	Conn         *websocket.Conn
	Logger       *slog.Logger
	Upstream     upstream.Connector
	Validator    Validator
	Metrics      *metrics.Metrics
	ConnectionID string
	RequestID    string
	Config       Config
	Now          func() time.Time
	NewSessionID func() string
}

// LiveSession serves one client websocket. All per-connection state is owned
// by the goroutine running Run; the reader, the writer and upstream callbacks
// talk to it over channels.
type LiveSession struct {
	conn         *websocket.Conn
	logger       *slog.Logger
	connector    upstream.Connector
	validator    Validator
	metrics      *metrics.Metrics
	connectionID string
	cfg          Config
	now          func() time.Time
	newSessionID func() string

	ctx    context.Context
	cancel context.CancelFunc

	outboundPriority chan outboundFrame
	outboundNormal   chan outboundFrame
	upstreamEvents   chan upstreamEvent

	bridge  *BridgeSession
	screen  *screenshare.Coordinator
	limiter *inboundLimiter
}

type inboundFrame struct {
	messageType int
	data        []byte
	err         error
}

// upstreamEvent is one callback from an upstream session. Events from a
// bridge other than the current one are stale and dropped.
type upstreamEvent struct {
	bridge *BridgeSession
	msg    *upstream.Message
	err    error
	closed bool
	reason string
}

func New(deps Dependencies) (*LiveSession, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if deps.Upstream == nil {
		return nil, fmt.Errorf("upstream connector is required")
	}
	if deps.Validator == nil {
		deps.Validator = validation.NewConfigValidator(nil, nil)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Config.OutboundQueueSize <= 0 {
		deps.Config.OutboundQueueSize = 256
	}
	if deps.Config.UpstreamConnectTimeout <= 0 {
		deps.Config.UpstreamConnectTimeout = 15 * time.Second
	}
	if strings.TrimSpace(deps.Config.AudioInputMIMEType) == "" {
		deps.Config.AudioInputMIMEType = "audio/pcm;rate=16000"
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewSessionID == nil {
		deps.NewSessionID = newSessionID
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &LiveSession{
		conn:             deps.Conn,
		logger:           deps.Logger.With("connection_id", deps.ConnectionID, "request_id", deps.RequestID),
		connector:        deps.Upstream,
		validator:        deps.Validator,
		metrics:          deps.Metrics,
		connectionID:     deps.ConnectionID,
		cfg:              deps.Config,
		now:              deps.Now,
		newSessionID:     deps.NewSessionID,
		ctx:              ctx,
		cancel:           cancel,
		outboundPriority: make(chan outboundFrame, max(1, min(deps.Config.OutboundQueueSize, outboundPriorityQueueSize))),
		outboundNormal:   make(chan outboundFrame, deps.Config.OutboundQueueSize),
		upstreamEvents:   make(chan upstreamEvent, upstreamEventQueueSize),
		screen:           screenshare.New(deps.Config.ScreenShareMaxFPS),
		limiter:          newInboundLimiter(deps.Now, deps.Config.MaxMessagesPerSecond, deps.Config.MessageBurst),
	}
	return s, nil
}

func (s *LiveSession) Run() error {
	defer s.cancel()

	if s.cfg.MaxMessageBytes > 0 {
		s.conn.SetReadLimit(s.cfg.MaxMessageBytes)
	}
	if s.cfg.ReadTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		s.conn.SetPongHandler(func(string) error {
			return s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		})
	}

	readCh := make(chan inboundFrame, 64)
	writerErrCh := make(chan error, 1)
	go s.readLoop(readCh)
	go func() {
		w := outboundWriter{
			ws:       s.conn,
			ctx:      s.ctx,
			cfg:      s.cfg,
			priority: s.outboundPriority,
			normal:   s.outboundNormal,
		}
		writerErrCh <- w.Run()
		close(writerErrCh)
	}()
	defer s.teardown()

	flushAndClose := func() {
		s.cancel()
		wait := 100 * time.Millisecond
		if s.cfg.WriteTimeout > 0 && s.cfg.WriteTimeout < wait {
			wait = s.cfg.WriteTimeout
		}
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-writerErrCh:
		case <-timer.C:
		}
	}

	onErr := func(err error) error {
		if errors.Is(err, errBackpressure) {
			s.logger.Warn("live connection closed on backpressure", "queue", cap(s.outboundNormal))
			_ = s.enqueuePriority(s.encode(protocol.NewError(protocol.CodeBackpressure, "client is not reading fast enough")))
			s.metrics.RecordError(protocol.CodeBackpressure)
			flushAndClose()
		}
		return err
	}

	for {
		select {
		case <-s.ctx.Done():
			return nil
		case err := <-writerErrCh:
			if err != nil {
				s.logger.Debug("live writer stopped", "error", err)
			}
			return err
		case ev := <-s.upstreamEvents:
			if err := s.handleUpstreamEvent(ev); err != nil {
				return onErr(err)
			}
		case <-s.screen.C():
			if err := s.sendEvent(s.screen.RequestFrame()); err != nil {
				return onErr(err)
			}
		case frame, ok := <-readCh:
			if !ok {
				return nil
			}
			if frame.err != nil {
				if !websocket.IsCloseError(frame.err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.logger.Debug("live read ended", "error", frame.err)
				}
				return nil
			}
			if err := s.handleFrame(frame); err != nil {
				return onErr(err)
			}
		}
	}
}

// Cancel stops the connection loop. Safe to call from any goroutine.
// newSessionID returns the id reported to the client in session_ready. It is
// an opaque random UUID; server-side ids (connections, requests, artifacts)
// are prefixed ULIDs that sort by creation time in logs.
func newSessionID() string { return uuid.NewString() }

func (s *LiveSession) Cancel() {
	if s == nil || s.cancel == nil {
		return
	}
	s.cancel()
}

// Notify queues an error event ahead of regular traffic. Safe to call from
// any goroutine.
func (s *LiveSession) Notify(code, message string) error {
	if s == nil {
		return nil
	}
	s.metrics.RecordError(code)
	return s.enqueuePriority(s.encode(protocol.NewError(code, message)))
}

func (s *LiveSession) teardown() {
	s.cancel()
	s.screen.Stop()
	if b := s.bridge; b != nil {
		b.resetTurn()
		if err := b.Close(); err != nil {
			s.logger.Debug("upstream close failed", "session_id", b.ID, "error", err)
		}
		if b.MarkClosed() {
			s.metrics.RecordSession("closed")
		}
	}
}

func (s *LiveSession) handleFrame(frame inboundFrame) error {
	if frame.messageType != websocket.TextMessage {
		return s.sendError(protocol.CodeUnsupportedFrame, "only JSON text frames are supported")
	}
	if !s.limiter.Allow() {
		s.metrics.RecordRateLimitHit()
		return s.sendError(protocol.CodeRateLimited, "too many messages; message dropped")
	}

	msg, decErr := protocol.DecodeClientMessage(frame.data)
	if decErr != nil {
		var de *protocol.DecodeError
		if !errors.As(decErr, &de) {
			de = &protocol.DecodeError{Code: protocol.CodeBadRequest, Message: decErr.Error()}
		}
		s.logger.Debug("rejected client message", "code", de.Code, "error", de.Message)
		s.metrics.RecordError(de.Code)
		return s.sendEvent(protocol.ErrorFromDecode(de))
	}

	switch m := msg.(type) {
	case protocol.ClientInit:
		s.metrics.RecordClientMessage(protocol.TypeInit)
		return s.handleInit(m)
	case protocol.ClientText:
		s.metrics.RecordClientMessage(protocol.TypeText)
		return s.handleText(m)
	case protocol.ClientAudio:
		s.metrics.RecordClientMessage(protocol.TypeAudio)
		return s.handleAudio(m)
	case protocol.ClientVideo:
		s.metrics.RecordClientMessage(protocol.TypeVideo)
		return s.handleVideo(m)
	case protocol.ClientURLContext:
		s.metrics.RecordClientMessage(protocol.TypeURLContext)
		return s.handleURLContext(m)
	case protocol.ClientScreenShareStart:
		s.metrics.RecordClientMessage(protocol.TypeScreenShareStart)
		return s.handleScreenShareStart(m)
	case protocol.ClientScreenShareStop:
		s.metrics.RecordClientMessage(protocol.TypeScreenShareStop)
		return s.handleScreenShareStop()
	case protocol.ClientScreenFrame:
		s.metrics.RecordClientMessage(protocol.TypeScreenFrame)
		return s.handleScreenFrame(m)
	case protocol.ClientClose:
		s.metrics.RecordClientMessage(protocol.TypeClose)
		return s.handleClose()
	default:
		return s.sendError(protocol.CodeUnknownType, fmt.Sprintf("unhandled message %T", msg))
	}
}

func (s *LiveSession) handleInit(m protocol.ClientInit) error {
	if res := s.validator.Validate(m.Config); !res.Valid {
		return s.sendError(protocol.CodeInvalidConfig, res.Error)
	}
	if s.bridge != nil && s.bridge.State() != StateClosed {
		return s.sendError(protocol.CodeSessionExists, "a live session is already active on this connection")
	}

	b := NewBridgeSession(s.newSessionID(), upstream.Resolve(overridesFrom(m.Config)))
	s.bridge = b

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.UpstreamConnectTimeout)
	defer cancel()
	if err := b.Connect(ctx, s.connector, s.callbacksFor(b)); err != nil {
		s.metrics.RecordSession("failed")
		s.logger.Warn("upstream connect failed", "session_id", b.ID, "model", b.Config.Model, "error", err)
		return s.sendError(protocol.CodeUpstreamError, "failed to open live session: "+err.Error())
	}

	s.metrics.RecordSession("opened")
	s.logger.Info("live session opened", "session_id", b.ID, "model", b.Config.Model, "voice", b.Config.VoiceName)
	return s.sendEvent(protocol.NewSessionReady(b.ID))
}

func overridesFrom(cfg *protocol.InitConfig) upstream.Overrides {
	if cfg == nil {
		return upstream.Overrides{}
	}
	return upstream.Overrides{
		Model:              cfg.Model,
		ResponseModalities: cfg.ResponseModalities,
		VoiceName:          cfg.VoiceName,
		SystemInstruction:  cfg.SystemInstruction,
		Temperature:        cfg.Temperature,
		MaxOutputTokens:    cfg.MaxOutputTokens,
	}
}

func (s *LiveSession) callbacksFor(b *BridgeSession) upstream.Callbacks {
	return upstream.Callbacks{
		OnOpen: b.MarkOpen,
		OnMessage: func(msg *upstream.Message) {
			s.postUpstream(upstreamEvent{bridge: b, msg: msg})
		},
		OnError: func(err error) {
			s.postUpstream(upstreamEvent{bridge: b, err: err})
		},
		OnClose: func(reason string) {
			s.postUpstream(upstreamEvent{bridge: b, closed: true, reason: reason})
		},
	}
}

func (s *LiveSession) postUpstream(ev upstreamEvent) {
	select {
	case s.upstreamEvents <- ev:
	case <-s.ctx.Done():
	}
}

// activeBridge returns the current session or sends no_session.
func (s *LiveSession) activeBridge() (*BridgeSession, error) {
	if s.bridge == nil {
		return nil, s.sendError(protocol.CodeNoSession, "no live session; send init first")
	}
	return s.bridge, nil
}

func (s *LiveSession) handleText(m protocol.ClientText) error {
	b, err := s.activeBridge()
	if b == nil {
		return err
	}
	return s.forwardResult(b, "text", b.SendText(m.Content))
}

func (s *LiveSession) handleAudio(m protocol.ClientAudio) error {
	b, err := s.activeBridge()
	if b == nil {
		return err
	}
	raw, err := protocol.DecodeBase64("data", m.Data)
	if err != nil {
		return s.sendDecodeError(err)
	}
	s.metrics.RecordAudioInput(len(raw))
	return s.forwardResult(b, "audio", b.SendAudioChunk(raw, s.cfg.AudioInputMIMEType))
}

func (s *LiveSession) handleVideo(m protocol.ClientVideo) error {
	b, err := s.activeBridge()
	if b == nil {
		return err
	}
	raw, err := protocol.DecodeBase64("data", m.Data)
	if err != nil {
		return s.sendDecodeError(err)
	}
	mimeType := strings.TrimSpace(m.MIMEType)
	if mimeType == "" {
		mimeType = defaultVideoMIMEType
	}
	return s.forwardResult(b, "video", b.SendVideoChunk(raw, mimeType))
}

func (s *LiveSession) handleURLContext(m protocol.ClientURLContext) error {
	b, err := s.activeBridge()
	if b == nil {
		return err
	}
	return s.forwardResult(b, "url_context", b.AddURLContext(m.URL))
}

func (s *LiveSession) handleScreenShareStart(m protocol.ClientScreenShareStart) error {
	cfg, err := s.screen.Start(m.Config)
	if err != nil {
		return s.sendError(protocol.CodeScreenShare, err.Error())
	}
	s.logger.Info("screen share started", "quality", cfg.Quality, "frame_rate", cfg.FrameRate)
	return s.sendEvent(protocol.NewScreenShareStarted(cfg))
}

func (s *LiveSession) handleScreenShareStop() error {
	if !s.screen.Active() {
		return s.sendError(protocol.CodeScreenShare, screenshare.ErrNotActive.Error())
	}
	cfg := s.screen.Config()
	frames := s.screen.FramesReceived()
	s.screen.Stop()
	s.logger.Info("screen share stopped", "frames", frames, "quality", cfg.Quality, "frame_rate", cfg.FrameRate)
	return s.sendEvent(protocol.NewScreenShareStopped())
}

func (s *LiveSession) handleScreenFrame(m protocol.ClientScreenFrame) error {
	frame, err := s.screen.HandleFrame(m)
	if err != nil {
		return s.sendError(protocol.CodeScreenShare, err.Error())
	}
	s.metrics.RecordScreenFrame()

	b := s.bridge
	if b == nil || b.State() != StateOpen {
		s.logger.Debug("screen frame dropped; no open session", "frame_id", frame.ID)
		return nil
	}
	raw, err := protocol.DecodeBase64("data", frame.Data)
	if err != nil {
		return s.sendDecodeError(err)
	}
	return s.forwardResult(b, "screen_frame", b.SendVideoChunk(raw, frame.MIMEType()))
}

func (s *LiveSession) handleClose() error {
	b := s.bridge
	if b == nil || b.State() == StateClosed {
		return s.sendError(protocol.CodeNoSession, "no live session to close")
	}
	if err := s.flushTurn(b); err != nil {
		return err
	}
	if err := b.Close(); err != nil {
		s.logger.Debug("upstream close failed", "session_id", b.ID, "error", err)
	}
	if !b.MarkClosed() {
		return nil
	}
	s.metrics.RecordSession("closed")
	s.logger.Info("live session closed", "session_id", b.ID, "reason", "client")
	return s.sendEvent(protocol.NewSessionClosed(b.ID, "closed by client"))
}

// forwardResult reports a failed upstream send to the client. Failures on a
// session that is already shutting down are expected and only logged.
func (s *LiveSession) forwardResult(b *BridgeSession, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrSessionNotOpen) {
		return s.sendError(protocol.CodeSessionNotOpen, fmt.Sprintf("cannot send %s: live session is %s", op, b.State()))
	}
	if st := b.State(); st == StateClosing || st == StateClosed || errors.Is(err, upstream.ErrClosed) {
		s.logger.Debug("upstream send after close", "session_id", b.ID, "op", op, "error", err)
		return nil
	}
	s.logger.Warn("upstream send failed", "session_id", b.ID, "op", op, "error", err)
	return s.sendError(protocol.CodeUpstreamSend, fmt.Sprintf("failed to send %s upstream", op))
}

func (s *LiveSession) handleUpstreamEvent(ev upstreamEvent) error {
	b := ev.bridge
	if b == nil || b != s.bridge {
		return nil
	}

	switch {
	case ev.msg != nil:
		return s.handleUpstreamMessage(b, ev.msg)
	case ev.err != nil:
		s.logger.Warn("upstream session error", "session_id", b.ID, "error", ev.err)
		b.resetTurn()
		if err := b.Close(); err != nil {
			s.logger.Debug("upstream close failed", "session_id", b.ID, "error", err)
		}
		return s.sendError(protocol.CodeUpstreamError, ev.err.Error())
	case ev.closed:
		b.resetTurn()
		if !b.MarkClosed() {
			return nil
		}
		s.metrics.RecordSession("closed")
		s.logger.Info("live session closed", "session_id", b.ID, "reason", ev.reason)
		return s.sendEvent(protocol.NewSessionClosed(b.ID, ev.reason))
	}
	return nil
}

func (s *LiveSession) handleUpstreamMessage(b *BridgeSession, m *upstream.Message) error {
	if m.SetupComplete {
		s.logger.Debug("upstream setup complete", "session_id", b.ID)
	}
	if m.GoAway {
		s.logger.Info("upstream requested disconnect", "session_id", b.ID)
	}

	for _, part := range m.Parts {
		b.beginPart()
		switch {
		case part.Text != "":
			if err := s.sendEvent(protocol.NewTextResponse(part.Text)); err != nil {
				return err
			}
		case part.InlineData != nil && isAudio(part.InlineData.MIMEType):
			b.appendAudio(part.InlineData.MIMEType, part.InlineData.Data)
		case part.FileURI != "":
			if err := s.sendEvent(protocol.NewFileResponse(part.FileURI, part.FileMIMEType)); err != nil {
				return err
			}
		case part.InlineData != nil:
			s.logger.Debug("ignoring inline data", "session_id", b.ID, "mime_type", part.InlineData.MIMEType)
		}
	}

	if t := m.InputTranscription; t != nil && t.Text != "" {
		if err := s.sendEvent(protocol.NewInputTranscription(t.Text, t.Finished)); err != nil {
			return err
		}
	}
	if t := m.OutputTranscription; t != nil && t.Text != "" {
		if err := s.sendEvent(protocol.NewOutputTranscription(t.Text, t.Finished)); err != nil {
			return err
		}
	}
	if len(m.ToolCall) > 0 {
		if err := s.sendEvent(protocol.NewToolCall(m.ToolCall)); err != nil {
			return err
		}
	}

	if m.Interrupted {
		b.resetTurn()
		if err := s.sendEvent(protocol.NewInterrupted()); err != nil {
			return err
		}
	}
	if m.TurnComplete {
		if err := s.flushTurn(b); err != nil {
			return err
		}
		return s.sendEvent(protocol.NewTurnComplete())
	}
	return nil
}

// flushTurn emits the turn's buffered audio as one container and resets the
// turn.
func (s *LiveSession) flushTurn(b *BridgeSession) error {
	container, payloadBytes, ok := b.finishTurn()
	if !ok {
		return nil
	}
	s.metrics.RecordAudioTurn(payloadBytes)
	s.logger.Debug("audio turn flushed", "session_id", b.ID, "bytes", payloadBytes)
	return s.sendEvent(protocol.NewAudioResponse(container))
}

func isAudio(mimeType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mimeType)), "audio/")
}

func (s *LiveSession) sendDecodeError(err error) error {
	var de *protocol.DecodeError
	if errors.As(err, &de) {
		s.metrics.RecordError(de.Code)
		return s.sendEvent(protocol.ErrorFromDecode(de))
	}
	return s.sendError(protocol.CodeBadRequest, err.Error())
}

func (s *LiveSession) sendError(code, message string) error {
	s.metrics.RecordError(code)
	return s.sendEvent(protocol.NewError(code, message))
}

func (s *LiveSession) sendEvent(ev protocol.Event) error {
	return s.enqueueNormal(s.encode(ev))
}

func (s *LiveSession) encode(ev protocol.Event) outboundFrame {
	ev.Stamp(s.now())
	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("encode event failed", "type", ev.EventType(), "error", err)
		return outboundFrame{}
	}
	return outboundFrame{eventType: ev.EventType(), payload: payload}
}

func (s *LiveSession) enqueueNormal(frame outboundFrame) error {
	if len(frame.payload) == 0 {
		return nil
	}
	select {
	case s.outboundNormal <- frame:
		s.metrics.RecordEvent(frame.eventType)
		return nil
	default:
		return errBackpressure
	}
}

// enqueuePriority evicts the oldest priority frames to make room.
func (s *LiveSession) enqueuePriority(frame outboundFrame) error {
	if len(frame.payload) == 0 {
		return nil
	}
	for i := 0; i < 4; i++ {
		select {
		case s.outboundPriority <- frame:
			s.metrics.RecordEvent(frame.eventType)
			return nil
		default:
		}
		select {
		case <-s.outboundPriority:
		default:
		}
	}
	return errBackpressure
}

func (s *LiveSession) readLoop(out chan<- inboundFrame) {
	defer close(out)
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case out <- inboundFrame{err: err}:
			case <-s.ctx.Done():
			}
			return
		}
		select {
		case out <- inboundFrame{messageType: messageType, data: data}:
		case <-s.ctx.Done():
			return
		}
	}
}
