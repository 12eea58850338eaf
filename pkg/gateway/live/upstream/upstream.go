// Package upstream defines the bridge's view of the upstream AI conversation
// session and resolves per-session configuration against defaults.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// ErrClosed is returned by sends on a session that has been closed.
var ErrClosed = errors.New("upstream session closed")

const (
	DefaultModel           = "models/gemini-2.5-flash-preview-native-audio-dialog"
	DefaultVoice           = "Zephyr"
	DefaultTemperature     = 0.7
	DefaultMaxOutputTokens = 8192

	DefaultCompressionTriggerTokens = 25600
	DefaultCompressionTargetTokens  = 12800

	DefaultVADPrefixPadding   = 300 * time.Millisecond
	DefaultVADSilenceDuration = 1000 * time.Millisecond

	MediaResolutionMedium = "MEDIUM"

	SensitivityHigh = "HIGH"
	SensitivityLow  = "LOW"
)

type Modality string

const (
	ModalityText  Modality = "TEXT"
	ModalityAudio Modality = "AUDIO"
	ModalityVideo Modality = "VIDEO"
	ModalityImage Modality = "IMAGE"
)

// DefaultModalities returns [TEXT, AUDIO].
func DefaultModalities() []Modality {
	return []Modality{ModalityText, ModalityAudio}
}

type CompressionPolicy struct {
	TriggerTokens int64
	TargetTokens  int64
}

type VADConfig struct {
	Disabled         bool
	StartSensitivity string
	EndSensitivity   string
	PrefixPadding    time.Duration
	SilenceDuration  time.Duration
}

// SessionConfig is the fully resolved configuration for one upstream session.
type SessionConfig struct {
	Model               string
	ResponseModalities  []Modality
	VoiceName           string
	SystemInstruction   string
	Temperature         float64
	MaxOutputTokens     int
	MediaResolution     string
	Compression         CompressionPolicy
	VAD                 VADConfig
	InputTranscription  bool
	OutputTranscription bool
}

// Overrides are the client supplied values merged over the defaults. Pointer
// fields distinguish "unset" from an explicit zero.
type Overrides struct {
	Model              string
	ResponseModalities []string
	VoiceName          string
	SystemInstruction  string
	Temperature        *float64
	MaxOutputTokens    *int
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Model:              DefaultModel,
		ResponseModalities: DefaultModalities(),
		VoiceName:          DefaultVoice,
		Temperature:        DefaultTemperature,
		MaxOutputTokens:    DefaultMaxOutputTokens,
		MediaResolution:    MediaResolutionMedium,
		Compression: CompressionPolicy{
			TriggerTokens: DefaultCompressionTriggerTokens,
			TargetTokens:  DefaultCompressionTargetTokens,
		},
		VAD: VADConfig{
			StartSensitivity: SensitivityHigh,
			EndSensitivity:   SensitivityHigh,
			PrefixPadding:    DefaultVADPrefixPadding,
			SilenceDuration:  DefaultVADSilenceDuration,
		},
		InputTranscription:  true,
		OutputTranscription: true,
	}
}

// Resolve merges o over DefaultSessionConfig.
func Resolve(o Overrides) SessionConfig {
	cfg := DefaultSessionConfig()
	if m := strings.TrimSpace(o.Model); m != "" {
		cfg.Model = m
	}
	if len(o.ResponseModalities) > 0 {
		mods := make([]Modality, 0, len(o.ResponseModalities))
		for _, m := range o.ResponseModalities {
			m = strings.ToUpper(strings.TrimSpace(m))
			if m == "" {
				continue
			}
			mods = append(mods, Modality(m))
		}
		if len(mods) > 0 {
			cfg.ResponseModalities = mods
		}
	}
	if v := strings.TrimSpace(o.VoiceName); v != "" {
		cfg.VoiceName = v
	}
	if s := strings.TrimSpace(o.SystemInstruction); s != "" {
		cfg.SystemInstruction = s
	}
	if o.Temperature != nil {
		cfg.Temperature = *o.Temperature
	}
	if o.MaxOutputTokens != nil {
		cfg.MaxOutputTokens = *o.MaxOutputTokens
	}
	return cfg
}

// Blob is raw media with its MIME type. Encoding for the wire is the
// upstream codec's job.
type Blob struct {
	MIMEType string
	Data     []byte
}

type Turn struct {
	Role  string
	Texts []string
}

// RealtimeInput carries streaming media. Exactly one field is expected to be set.
type RealtimeInput struct {
	Audio *Blob
	Video *Blob
	Text  string
}

type Part struct {
	Text         string
	InlineData   *Blob
	FileURI      string
	FileMIMEType string
}

type Transcription struct {
	Text     string
	Finished bool
}

// Message is one normalized upstream server message.
type Message struct {
	SetupComplete       bool
	Parts               []Part
	TurnComplete        bool
	Interrupted         bool
	GenerationComplete  bool
	InputTranscription  *Transcription
	OutputTranscription *Transcription
	ToolCall            json.RawMessage
	GoAway              bool
}

// Callbacks are invoked by the upstream adapter. OnMessage, OnError and
// OnClose run on the adapter's receive goroutine and must not block for long.
type Callbacks struct {
	OnOpen    func()
	OnMessage func(*Message)
	OnError   func(error)
	OnClose   func(reason string)
}

type Session interface {
	SendTurn(Turn) error
	SendRealtimeInput(RealtimeInput) error
	Close() error
}

type Connector interface {
	Connect(ctx context.Context, cfg SessionConfig, cb Callbacks) (Session, error)
}
