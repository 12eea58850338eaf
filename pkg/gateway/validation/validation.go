// Package validation checks client supplied session configuration and
// uploads against the gateway's catalogs.
package validation

import (
	"fmt"
	"slices"
	"strings"

	"github.com/vango-go/vai-live-bridge/pkg/gateway/live/protocol"
	"github.com/vango-go/vai-live-bridge/pkg/gateway/live/upstream"
)

const (
	MinTemperature     = 0.0
	MaxTemperature     = 2.0
	MinOutputTokens    = 1
	MaxOutputTokens    = 8192
	DefaultMaxUploadMB = 100
)

var (
	DefaultModels = []string{
		upstream.DefaultModel,
		"models/gemini-2.0-flash-exp",
		"models/gemini-exp-1206",
	}
	DefaultVoices     = []string{"Zephyr", "Charon", "Kore", "Fenrir"}
	DefaultModalities = []string{"TEXT", "AUDIO", "VIDEO", "IMAGE"}

	AllowedUploadMIMETypes = []string{
		"image/jpeg", "image/png", "image/gif", "image/webp",
		"audio/mpeg", "audio/wav", "audio/ogg", "audio/mp4",
		"video/mp4", "video/webm", "video/quicktime",
		"application/pdf", "text/plain",
	}
)

// Result is the outcome of validating a session config.
type Result struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

func invalid(format string, args ...any) Result {
	return Result{Valid: false, Error: fmt.Sprintf(format, args...)}
}

// ConfigValidator checks init configs against catalogs of allowed values.
type ConfigValidator struct {
	Models     []string
	Voices     []string
	Modalities []string
}

func NewConfigValidator(models, voices []string) ConfigValidator {
	if len(models) == 0 {
		models = DefaultModels
	}
	if len(voices) == 0 {
		voices = DefaultVoices
	}
	return ConfigValidator{Models: models, Voices: voices, Modalities: DefaultModalities}
}

// Validate reports whether cfg may be used to open a session. A nil config
// is valid and means "all defaults".
func (v ConfigValidator) Validate(cfg *protocol.InitConfig) Result {
	if cfg == nil {
		return Result{Valid: true}
	}

	if m := strings.TrimSpace(cfg.Model); m != "" && !slices.Contains(v.models(), m) {
		return invalid("Invalid model. Must be one of: %s", strings.Join(v.models(), ", "))
	}
	if voice := strings.TrimSpace(cfg.VoiceName); voice != "" && !slices.Contains(v.voices(), voice) {
		return invalid("Invalid voice. Must be one of: %s", strings.Join(v.voices(), ", "))
	}
	for _, m := range cfg.ResponseModalities {
		if !slices.Contains(v.modalities(), strings.ToUpper(strings.TrimSpace(m))) {
			return invalid("Invalid modality %q. Must be one of: %s", m, strings.Join(v.modalities(), ", "))
		}
	}
	if t := cfg.Temperature; t != nil && (*t < MinTemperature || *t > MaxTemperature) {
		return invalid("Temperature must be between %g and %g", MinTemperature, MaxTemperature)
	}
	if n := cfg.MaxOutputTokens; n != nil && (*n < MinOutputTokens || *n > MaxOutputTokens) {
		return invalid("Max output tokens must be between %d and %d", MinOutputTokens, MaxOutputTokens)
	}
	return Result{Valid: true}
}

func (v ConfigValidator) models() []string {
	if len(v.Models) == 0 {
		return DefaultModels
	}
	return v.Models
}

func (v ConfigValidator) voices() []string {
	if len(v.Voices) == 0 {
		return DefaultVoices
	}
	return v.Voices
}

func (v ConfigValidator) modalities() []string {
	if len(v.Modalities) == 0 {
		return DefaultModalities
	}
	return v.Modalities
}

// ValidateUpload checks an upload's MIME type and size.
func ValidateUpload(mimeType string, size, maxBytes int64) error {
	base := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(base, ';'); i >= 0 {
		base = strings.TrimSpace(base[:i])
	}
	if !slices.Contains(AllowedUploadMIMETypes, base) {
		return fmt.Errorf("file type %q is not supported", mimeType)
	}
	if maxBytes > 0 && size > maxBytes {
		return fmt.Errorf("file size %d exceeds the %d byte limit", size, maxBytes)
	}
	return nil
}
