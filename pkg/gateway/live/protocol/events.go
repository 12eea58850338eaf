package protocol

import (
	"encoding/json"
	"time"
)

// Outbound event types.
const (
	EventSessionReady       = "session_ready"
	EventSessionClosed      = "session_closed"
	EventTextResponse       = "text_response"
	EventAudioResponse      = "audio_response"
	EventFileResponse       = "file_response"
	EventInputTranscript    = "input_transcription"
	EventOutputTranscript   = "output_transcription"
	EventToolCall           = "tool_call"
	EventInterrupted        = "interrupted"
	EventTurnComplete       = "turn_complete"
	EventError              = "error"
	EventScreenShareStarted = "screen_share_started"
	EventScreenShareStopped = "screen_share_stopped"
	EventRequestScreenFrame = "request_screen_frame"
)

// AudioResponseMIMEType is the container type of every audio_response.
const AudioResponseMIMEType = "audio/wav"

const timestampLayout = "2006-01-02T15:04:05.000Z"

// FormatTimestamp renders t as ISO-8601 UTC with millisecond precision.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// Event is any outbound message. The session stamps each one right before it
// is queued for writing.
type Event interface {
	EventType() string
	Stamp(now time.Time)
}

type Envelope struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

func (e *Envelope) EventType() string { return e.Type }

func (e *Envelope) Stamp(now time.Time) {
	if e.Timestamp == "" {
		e.Timestamp = FormatTimestamp(now)
	}
}

type SessionReady struct {
	Envelope
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

func NewSessionReady(sessionID string) *SessionReady {
	return &SessionReady{
		Envelope:  Envelope{Type: EventSessionReady},
		SessionID: sessionID,
		Message:   "Live session ready",
	}
}

type SessionClosed struct {
	Envelope
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason,omitempty"`
}

func NewSessionClosed(sessionID, reason string) *SessionClosed {
	return &SessionClosed{
		Envelope:  Envelope{Type: EventSessionClosed},
		SessionID: sessionID,
		Reason:    reason,
	}
}

type TextResponse struct {
	Envelope
	Content string `json:"content"`
}

func NewTextResponse(content string) *TextResponse {
	return &TextResponse{Envelope: Envelope{Type: EventTextResponse}, Content: content}
}

type AudioResponse struct {
	Envelope
	Data     string `json:"data"`
	MIMEType string `json:"mimeType"`
}

// NewAudioResponse base64-encodes a finished container.
func NewAudioResponse(container []byte) *AudioResponse {
	return &AudioResponse{
		Envelope: Envelope{Type: EventAudioResponse},
		Data:     encodeBase64(container),
		MIMEType: AudioResponseMIMEType,
	}
}

type FileResponse struct {
	Envelope
	FileURI  string `json:"fileUri"`
	MIMEType string `json:"mimeType,omitempty"`
}

func NewFileResponse(uri, mimeType string) *FileResponse {
	return &FileResponse{Envelope: Envelope{Type: EventFileResponse}, FileURI: uri, MIMEType: mimeType}
}

type Transcription struct {
	Envelope
	Text     string `json:"text"`
	Finished bool   `json:"finished,omitempty"`
}

func NewInputTranscription(text string, finished bool) *Transcription {
	return &Transcription{Envelope: Envelope{Type: EventInputTranscript}, Text: text, Finished: finished}
}

func NewOutputTranscription(text string, finished bool) *Transcription {
	return &Transcription{Envelope: Envelope{Type: EventOutputTranscript}, Text: text, Finished: finished}
}

type ToolCall struct {
	Envelope
	ToolCall json.RawMessage `json:"toolCall"`
}

func NewToolCall(raw json.RawMessage) *ToolCall {
	return &ToolCall{Envelope: Envelope{Type: EventToolCall}, ToolCall: raw}
}

type Signal struct {
	Envelope
}

func NewInterrupted() *Signal {
	return &Signal{Envelope: Envelope{Type: EventInterrupted}}
}

func NewTurnComplete() *Signal {
	return &Signal{Envelope: Envelope{Type: EventTurnComplete}}
}

type Error struct {
	Envelope
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}

func NewError(code, message string) *Error {
	return &Error{Envelope: Envelope{Type: EventError}, Code: code, Message: message}
}

// ErrorFromDecode converts a decode failure into the event sent to the client.
func ErrorFromDecode(de *DecodeError) *Error {
	out := NewError(de.Code, de.Message)
	out.Param = de.Param
	return out
}

type ScreenShareStarted struct {
	Envelope
	Config  ScreenShareConfig `json:"config"`
	Message string            `json:"message"`
}

func NewScreenShareStarted(cfg ScreenShareConfig) *ScreenShareStarted {
	return &ScreenShareStarted{
		Envelope: Envelope{Type: EventScreenShareStarted},
		Config:   cfg,
		Message:  "Screen sharing started successfully",
	}
}

type ScreenShareStopped struct {
	Envelope
	Message string `json:"message"`
}

func NewScreenShareStopped() *ScreenShareStopped {
	return &ScreenShareStopped{
		Envelope: Envelope{Type: EventScreenShareStopped},
		Message:  "Screen sharing stopped",
	}
}

type RequestScreenFrame struct {
	Envelope
	Config ScreenShareConfig `json:"config"`
}

func NewRequestScreenFrame(cfg ScreenShareConfig) *RequestScreenFrame {
	return &RequestScreenFrame{Envelope: Envelope{Type: EventRequestScreenFrame}, Config: cfg}
}
