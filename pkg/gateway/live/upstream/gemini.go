package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"
)

// GeminiConnector opens Gemini Live sessions.
type GeminiConnector struct {
	client *genai.Client
	logger *slog.Logger
}

func NewGeminiConnector(ctx context.Context, apiKey string, logger *slog.Logger) (*GeminiConnector, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("gemini api key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiConnector{client: client, logger: logger}, nil
}

func (c *GeminiConnector) Connect(ctx context.Context, cfg SessionConfig, cb Callbacks) (Session, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("gemini connector is not initialized")
	}

	inner, err := c.client.Live.Connect(ctx, cfg.Model, toLiveConnectConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("gemini live connect: %w", err)
	}

	s := &geminiSession{
		inner:  inner,
		cb:     cb,
		logger: c.logger.With("model", cfg.Model),
	}
	if cb.OnOpen != nil {
		cb.OnOpen()
	}
	go s.receiveLoop()
	return s, nil
}

type geminiSession struct {
	inner  *genai.Session
	cb     Callbacks
	logger *slog.Logger

	sendMu    sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func (s *geminiSession) SendTurn(turn Turn) error {
	if s.closed.Load() {
		return ErrClosed
	}
	parts := make([]*genai.Part, 0, len(turn.Texts))
	for _, text := range turn.Texts {
		parts = append(parts, genai.NewPartFromText(text))
	}
	role := turn.Role
	if role == "" {
		role = "user"
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	// TurnComplete left nil: the SDK marks client content as a complete turn.
	return s.inner.SendClientContent(genai.LiveClientContentInput{
		Turns: []*genai.Content{{Role: role, Parts: parts}},
	})
}

func (s *geminiSession) SendRealtimeInput(in RealtimeInput) error {
	if s.closed.Load() {
		return ErrClosed
	}
	var msg genai.LiveRealtimeInput
	switch {
	case in.Audio != nil:
		msg.Audio = &genai.Blob{MIMEType: in.Audio.MIMEType, Data: in.Audio.Data}
	case in.Video != nil:
		msg.Video = &genai.Blob{MIMEType: in.Video.MIMEType, Data: in.Video.Data}
	case in.Text != "":
		msg.Text = in.Text
	default:
		return errors.New("empty realtime input")
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.inner.SendRealtimeInput(msg)
}

func (s *geminiSession) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.inner.Close()
	})
	return s.closeErr
}

func (s *geminiSession) receiveLoop() {
	for {
		msg, err := s.inner.Receive()
		if err != nil {
			s.finish(err)
			return
		}
		if msg == nil {
			continue
		}
		if s.cb.OnMessage != nil {
			s.cb.OnMessage(fromLiveServerMessage(msg))
		}
	}
}

func (s *geminiSession) finish(err error) {
	reason := "upstream closed"
	var closeErr *websocket.CloseError
	switch {
	case s.closed.Load():
		reason = "closed by client"
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		if errors.As(err, &closeErr) && closeErr.Text != "" {
			reason = closeErr.Text
		}
	default:
		s.logger.Warn("gemini live receive failed", "error", err)
		if s.cb.OnError != nil {
			s.cb.OnError(err)
		}
		if errors.As(err, &closeErr) && closeErr.Text != "" {
			reason = closeErr.Text
		}
	}
	s.closed.Store(true)
	if s.cb.OnClose != nil {
		s.cb.OnClose(reason)
	}
}

func toLiveConnectConfig(cfg SessionConfig) *genai.LiveConnectConfig {
	modalities := make([]genai.Modality, 0, len(cfg.ResponseModalities))
	for _, m := range cfg.ResponseModalities {
		modalities = append(modalities, genai.Modality(m))
	}

	out := &genai.LiveConnectConfig{
		ResponseModalities: modalities,
		Temperature:        genai.Ptr(float32(cfg.Temperature)),
		MaxOutputTokens:    int32(cfg.MaxOutputTokens),
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.VoiceName},
			},
		},
		RealtimeInputConfig: &genai.RealtimeInputConfig{
			AutomaticActivityDetection: &genai.AutomaticActivityDetection{
				Disabled:                 cfg.VAD.Disabled,
				StartOfSpeechSensitivity: startSensitivity(cfg.VAD.StartSensitivity),
				EndOfSpeechSensitivity:   endSensitivity(cfg.VAD.EndSensitivity),
				PrefixPaddingMs:          genai.Ptr(int32(cfg.VAD.PrefixPadding.Milliseconds())),
				SilenceDurationMs:        genai.Ptr(int32(cfg.VAD.SilenceDuration.Milliseconds())),
			},
			ActivityHandling: genai.ActivityHandlingStartOfActivityInterrupts,
			TurnCoverage:     genai.TurnCoverageTurnIncludesOnlyActivity,
		},
	}

	if cfg.MediaResolution == MediaResolutionMedium {
		out.MediaResolution = genai.MediaResolutionMedium
	}
	if cfg.SystemInstruction != "" {
		out.SystemInstruction = &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(cfg.SystemInstruction)}}
	}
	if cfg.Compression.TriggerTokens > 0 {
		out.ContextWindowCompression = &genai.ContextWindowCompressionConfig{
			TriggerTokens: genai.Ptr(cfg.Compression.TriggerTokens),
			SlidingWindow: &genai.SlidingWindow{TargetTokens: genai.Ptr(cfg.Compression.TargetTokens)},
		}
	}
	if cfg.InputTranscription {
		out.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	if cfg.OutputTranscription {
		out.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	return out
}

func startSensitivity(v string) genai.StartSensitivity {
	if strings.EqualFold(v, SensitivityLow) {
		return genai.StartSensitivityLow
	}
	return genai.StartSensitivityHigh
}

func endSensitivity(v string) genai.EndSensitivity {
	if strings.EqualFold(v, SensitivityLow) {
		return genai.EndSensitivityLow
	}
	return genai.EndSensitivityHigh
}

func fromLiveServerMessage(msg *genai.LiveServerMessage) *Message {
	out := &Message{
		SetupComplete: msg.SetupComplete != nil,
		GoAway:        msg.GoAway != nil,
	}

	if sc := msg.ServerContent; sc != nil {
		out.TurnComplete = sc.TurnComplete
		out.Interrupted = sc.Interrupted
		out.GenerationComplete = sc.GenerationComplete
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				if p == nil || p.Thought {
					continue
				}
				part := Part{Text: p.Text}
				if p.InlineData != nil {
					part.InlineData = &Blob{MIMEType: p.InlineData.MIMEType, Data: p.InlineData.Data}
				}
				if p.FileData != nil {
					part.FileURI = p.FileData.FileURI
					part.FileMIMEType = p.FileData.MIMEType
				}
				if part.Text == "" && part.InlineData == nil && part.FileURI == "" {
					continue
				}
				out.Parts = append(out.Parts, part)
			}
		}
		if t := sc.InputTranscription; t != nil {
			out.InputTranscription = &Transcription{Text: t.Text, Finished: t.Finished}
		}
		if t := sc.OutputTranscription; t != nil {
			out.OutputTranscription = &Transcription{Text: t.Text, Finished: t.Finished}
		}
	}

	if msg.ToolCall != nil {
		if raw, err := json.Marshal(msg.ToolCall); err == nil {
			out.ToolCall = raw
		}
	}
	return out
}
