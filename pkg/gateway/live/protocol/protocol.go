package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Client message types.
const (
	TypeInit             = "init"
	TypeText             = "text"
	TypeAudio            = "audio"
	TypeVideo            = "video"
	TypeURLContext       = "url_context"
	TypeScreenShareStart = "screen_share_start"
	TypeScreenShareStop  = "screen_share_stop"
	TypeScreenFrame      = "screen_frame"
	TypeClose            = "close"
)

// Error codes carried by outbound error events.
const (
	CodeBadRequest       = "bad_request"
	CodeUnknownType      = "unknown_type"
	CodeInvalidConfig    = "invalid_config"
	CodeSessionExists    = "session_exists"
	CodeNoSession        = "no_session"
	CodeSessionNotOpen   = "session_not_open"
	CodeUpstreamError    = "upstream_error"
	CodeUpstreamSend     = "upstream_send_failed"
	CodeScreenShare      = "screen_share"
	CodeRateLimited      = "rate_limited"
	CodeBackpressure     = "backpressure"
	CodeDraining         = "draining"
	CodeUnsupportedFrame = "unsupported_frame"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: CodeBadRequest, Message: message, Param: param}
}

// InitConfig carries the client's session overrides. Every field is optional.
type InitConfig struct {
	Model              string   `json:"model,omitempty"`
	ResponseModalities []string `json:"responseModalities,omitempty"`
	VoiceName          string   `json:"voiceName,omitempty"`
	SystemInstruction  string   `json:"systemInstruction,omitempty"`
	Temperature        *float64 `json:"temperature,omitempty"`
	MaxOutputTokens    *int     `json:"maxOutputTokens,omitempty"`
}

type ClientInit struct {
	Type   string      `json:"type"`
	Config *InitConfig `json:"config,omitempty"`
}

type ClientText struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type ClientAudio struct {
	Type     string `json:"type"`
	Data     string `json:"data"`
	MIMEType string `json:"mimeType,omitempty"`
}

type ClientVideo struct {
	Type     string `json:"type"`
	Data     string `json:"data"`
	MIMEType string `json:"mimeType,omitempty"`
}

type ClientURLContext struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type ScreenShareConfig struct {
	Quality            string `json:"quality,omitempty"`
	FrameRate          int    `json:"frameRate,omitempty"`
	CaptureAudio       bool   `json:"captureAudio"`
	CaptureSystemAudio bool   `json:"captureSystemAudio"`
}

type ClientScreenShareStart struct {
	Type   string             `json:"type"`
	Config *ScreenShareConfig `json:"config,omitempty"`
}

type ClientScreenShareStop struct {
	Type string `json:"type"`
}

type ClientScreenFrame struct {
	Type    string `json:"type"`
	FrameID string `json:"frameId,omitempty"`
	Data    string `json:"data"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
	Format  string `json:"format,omitempty"`
}

type ClientClose struct {
	Type string `json:"type"`
}

// DecodeClientMessage parses one client frame into its typed message. Errors
// are always *DecodeError and never fatal to the connection.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case TypeInit:
		var msg ClientInit
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid init message", "config")
		}
		return msg, nil
	case TypeText:
		var msg ClientText
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("text.content must be a string", "content")
		}
		if strings.TrimSpace(msg.Content) == "" {
			return nil, badRequest("text.content is required", "content")
		}
		return msg, nil
	case TypeAudio:
		var msg ClientAudio
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid audio message", "")
		}
		if strings.TrimSpace(msg.Data) == "" {
			return nil, badRequest("audio.data is required", "data")
		}
		return msg, nil
	case TypeVideo:
		var msg ClientVideo
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid video message", "")
		}
		if strings.TrimSpace(msg.Data) == "" {
			return nil, badRequest("video.data is required", "data")
		}
		return msg, nil
	case TypeURLContext:
		var msg ClientURLContext
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid url_context message", "")
		}
		msg.URL = strings.TrimSpace(msg.URL)
		if err := ValidateURL(msg.URL); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeScreenShareStart:
		var msg ClientScreenShareStart
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid screen_share_start message", "config")
		}
		return msg, nil
	case TypeScreenShareStop:
		return ClientScreenShareStop{Type: typ}, nil
	case TypeScreenFrame:
		var msg ClientScreenFrame
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid screen_frame message", "")
		}
		if strings.TrimSpace(msg.Data) == "" {
			return nil, badRequest("screen_frame.data is required", "data")
		}
		if msg.Width < 0 || msg.Height < 0 {
			return nil, badRequest("screen_frame dimensions must be >= 0", "width")
		}
		return msg, nil
	case TypeClose:
		return ClientClose{Type: typ}, nil
	default:
		return nil, &DecodeError{
			Code:    CodeUnknownType,
			Message: fmt.Sprintf("unknown message type: %s", typ),
			Param:   "type",
		}
	}
}

// ValidateURL accepts absolute URLs with a scheme and host.
func ValidateURL(raw string) error {
	if raw == "" {
		return badRequest("url_context.url is required", "url")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return badRequest("url_context.url must be a valid absolute URL", "url")
	}
	return nil
}

// DecodeBase64 decodes a standard base64 payload field.
func DecodeBase64(field, data string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(data))
	if err != nil {
		return nil, badRequest(fmt.Sprintf("%s is not valid base64", field), field)
	}
	return raw, nil
}

func encodeBase64(raw []byte) string {
	return base64.StdEncoding.EncodeToString(raw)
}
