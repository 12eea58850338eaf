package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeOptional AuthMode = "optional"
	AuthModeDisabled AuthMode = "disabled"
)

// EnvConfigPath names the env var consulted for a config file when no path is
// passed explicitly.
const EnvConfigPath = "LIVE_BRIDGE_CONFIG"

type Config struct {
	Addr string

	// Upstream credentials. Required.
	GeminiAPIKey string

	AuthMode AuthMode
	APIKeys  map[string]struct{}

	// CORS and websocket origin allowlist. Empty => same-origin only for /ws.
	CORSAllowedOrigins map[string]struct{}

	// Catalogs exposed on /api/config and enforced on init.
	Models []string
	Voices []string

	// Uploads
	UploadDir      string
	MaxUploadBytes int64

	// Live WebSocket mode (/ws).
	LiveMaxMessageBytes        int64
	LiveMaxMessagesPerSecond   float64
	LiveMessageBurst           int
	LiveOutboundQueueSize      int
	LiveWSPingInterval         time.Duration
	LiveWSWriteTimeout         time.Duration
	LiveWSReadTimeout          time.Duration
	LiveUpstreamConnectTimeout time.Duration
	LiveAudioInputMIMEType     string
	LiveScreenShareMaxFPS      int

	MetricsEnabled bool

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration
}

// fileConfig mirrors the TOML file layout. Durations are strings parsed with
// time.ParseDuration.
type fileConfig struct {
	Addr        string   `toml:"addr"`
	AuthMode    string   `toml:"auth_mode"`
	CORSOrigins []string `toml:"cors_origins"`
	Models      []string `toml:"models"`
	Voices      []string `toml:"voices"`
	Metrics     *bool    `toml:"metrics"`

	Upload struct {
		Dir      string `toml:"dir"`
		MaxBytes int64  `toml:"max_bytes"`
	} `toml:"upload"`

	Live struct {
		MaxMessageBytes      int64   `toml:"max_message_bytes"`
		MaxMessagesPerSecond float64 `toml:"max_messages_per_second"`
		MessageBurst         int     `toml:"message_burst"`
		OutboundQueueSize    int     `toml:"outbound_queue_size"`
		PingInterval         string  `toml:"ping_interval"`
		WriteTimeout         string  `toml:"write_timeout"`
		ReadTimeout          string  `toml:"read_timeout"`
		ConnectTimeout       string  `toml:"connect_timeout"`
		AudioInputMIMEType   string  `toml:"audio_input_mime_type"`
		ScreenShareMaxFPS    int     `toml:"screen_share_max_fps"`
	} `toml:"live"`

	Server struct {
		ReadHeaderTimeout   string `toml:"read_header_timeout"`
		ReadTimeout         string `toml:"read_timeout"`
		ShutdownGracePeriod string `toml:"shutdown_grace_period"`
	} `toml:"server"`
}

// Default returns the built-in configuration, before file and env overrides.
func Default() Config {
	return Config{
		Addr:                       ":8080",
		AuthMode:                   AuthModeDisabled,
		APIKeys:                    make(map[string]struct{}),
		CORSAllowedOrigins:         make(map[string]struct{}),
		UploadDir:                  "temp",
		MaxUploadBytes:             100 << 20, // 100 MiB
		LiveMaxMessageBytes:        16 << 20,  // base64 video chunks can be large
		LiveMaxMessagesPerSecond:   200,
		LiveMessageBurst:           400,
		LiveOutboundQueueSize:      256,
		LiveWSPingInterval:         20 * time.Second,
		LiveWSWriteTimeout:         5 * time.Second,
		LiveWSReadTimeout:          0,
		LiveUpstreamConnectTimeout: 15 * time.Second,
		LiveAudioInputMIMEType:     "audio/pcm;rate=16000",
		LiveScreenShareMaxFPS:      60,
		MetricsEnabled:             true,
		ReadHeaderTimeout:          10 * time.Second,
		ReadTimeout:                30 * time.Second,
		ShutdownGracePeriod:        30 * time.Second,
	}
}

// LoadFromEnv loads the file named by LIVE_BRIDGE_CONFIG (if any) and then
// applies environment overrides.
func LoadFromEnv() (Config, error) {
	return Load(os.Getenv(EnvConfigPath))
}

// Load reads an optional TOML file at path, applies LIVE_BRIDGE_* environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path = strings.TrimSpace(path); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config %s: %w", path, err)
	}
	defer f.Close()

	var fc fileConfig
	dec := toml.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&fc); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return fmt.Errorf("parse config %s:%d:%d: %w", path, row, col, err)
		}
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	if fc.Addr != "" {
		cfg.Addr = fc.Addr
	}
	if fc.AuthMode != "" {
		cfg.AuthMode = AuthMode(fc.AuthMode)
	}
	for _, origin := range fc.CORSOrigins {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.CORSAllowedOrigins[origin] = struct{}{}
		}
	}
	if len(fc.Models) > 0 {
		cfg.Models = fc.Models
	}
	if len(fc.Voices) > 0 {
		cfg.Voices = fc.Voices
	}
	if fc.Metrics != nil {
		cfg.MetricsEnabled = *fc.Metrics
	}
	if fc.Upload.Dir != "" {
		cfg.UploadDir = fc.Upload.Dir
	}
	if fc.Upload.MaxBytes != 0 {
		cfg.MaxUploadBytes = fc.Upload.MaxBytes
	}
	if fc.Live.MaxMessageBytes != 0 {
		cfg.LiveMaxMessageBytes = fc.Live.MaxMessageBytes
	}
	if fc.Live.MaxMessagesPerSecond != 0 {
		cfg.LiveMaxMessagesPerSecond = fc.Live.MaxMessagesPerSecond
	}
	if fc.Live.MessageBurst != 0 {
		cfg.LiveMessageBurst = fc.Live.MessageBurst
	}
	if fc.Live.OutboundQueueSize != 0 {
		cfg.LiveOutboundQueueSize = fc.Live.OutboundQueueSize
	}
	if fc.Live.AudioInputMIMEType != "" {
		cfg.LiveAudioInputMIMEType = fc.Live.AudioInputMIMEType
	}
	if fc.Live.ScreenShareMaxFPS != 0 {
		cfg.LiveScreenShareMaxFPS = fc.Live.ScreenShareMaxFPS
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"live.ping_interval", fc.Live.PingInterval, &cfg.LiveWSPingInterval},
		{"live.write_timeout", fc.Live.WriteTimeout, &cfg.LiveWSWriteTimeout},
		{"live.read_timeout", fc.Live.ReadTimeout, &cfg.LiveWSReadTimeout},
		{"live.connect_timeout", fc.Live.ConnectTimeout, &cfg.LiveUpstreamConnectTimeout},
		{"server.read_header_timeout", fc.Server.ReadHeaderTimeout, &cfg.ReadHeaderTimeout},
		{"server.read_timeout", fc.Server.ReadTimeout, &cfg.ReadTimeout},
		{"server.shutdown_grace_period", fc.Server.ShutdownGracePeriod, &cfg.ShutdownGracePeriod},
	}
	for _, d := range durations {
		if strings.TrimSpace(d.raw) == "" {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return fmt.Errorf("config %s: invalid duration %q", d.key, d.raw)
		}
		*d.dst = v
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Addr = envOr("LIVE_BRIDGE_ADDR", cfg.Addr)
	cfg.GeminiAPIKey = envOr("GEMINI_API_KEY", cfg.GeminiAPIKey)
	cfg.AuthMode = AuthMode(envOr("LIVE_BRIDGE_AUTH_MODE", string(cfg.AuthMode)))
	cfg.UploadDir = envOr("LIVE_BRIDGE_UPLOAD_DIR", cfg.UploadDir)
	cfg.MaxUploadBytes = envInt64Or("LIVE_BRIDGE_MAX_UPLOAD_BYTES", cfg.MaxUploadBytes)
	cfg.LiveMaxMessageBytes = envInt64Or("LIVE_BRIDGE_LIVE_MAX_MESSAGE_BYTES", cfg.LiveMaxMessageBytes)
	cfg.LiveMaxMessagesPerSecond = envFloat64Or("LIVE_BRIDGE_LIVE_MAX_MESSAGES_PER_SECOND", cfg.LiveMaxMessagesPerSecond)
	cfg.LiveMessageBurst = envIntOr("LIVE_BRIDGE_LIVE_MESSAGE_BURST", cfg.LiveMessageBurst)
	cfg.LiveOutboundQueueSize = envIntOr("LIVE_BRIDGE_LIVE_OUTBOUND_QUEUE", cfg.LiveOutboundQueueSize)
	cfg.LiveWSPingInterval = envDurationOr("LIVE_BRIDGE_LIVE_WS_PING_INTERVAL", cfg.LiveWSPingInterval)
	cfg.LiveWSWriteTimeout = envDurationOr("LIVE_BRIDGE_LIVE_WS_WRITE_TIMEOUT", cfg.LiveWSWriteTimeout)
	cfg.LiveWSReadTimeout = envDurationOr("LIVE_BRIDGE_LIVE_WS_READ_TIMEOUT", cfg.LiveWSReadTimeout)
	cfg.LiveUpstreamConnectTimeout = envDurationOr("LIVE_BRIDGE_LIVE_CONNECT_TIMEOUT", cfg.LiveUpstreamConnectTimeout)
	cfg.LiveAudioInputMIMEType = envOr("LIVE_BRIDGE_LIVE_AUDIO_INPUT_MIME", cfg.LiveAudioInputMIMEType)
	cfg.LiveScreenShareMaxFPS = envIntOr("LIVE_BRIDGE_LIVE_SCREEN_SHARE_MAX_FPS", cfg.LiveScreenShareMaxFPS)
	cfg.MetricsEnabled = envBoolOr("LIVE_BRIDGE_METRICS", cfg.MetricsEnabled)
	cfg.ReadHeaderTimeout = envDurationOr("LIVE_BRIDGE_READ_HEADER_TIMEOUT", cfg.ReadHeaderTimeout)
	cfg.ReadTimeout = envDurationOr("LIVE_BRIDGE_READ_TIMEOUT", cfg.ReadTimeout)
	cfg.ShutdownGracePeriod = envDurationOr("LIVE_BRIDGE_SHUTDOWN_GRACE_PERIOD", cfg.ShutdownGracePeriod)

	for _, key := range splitCSV(os.Getenv("LIVE_BRIDGE_API_KEYS")) {
		cfg.APIKeys[key] = struct{}{}
	}
	for _, origin := range splitCSV(os.Getenv("LIVE_BRIDGE_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}
	if models := splitCSV(os.Getenv("LIVE_BRIDGE_MODELS")); len(models) > 0 {
		cfg.Models = models
	}
	if voices := splitCSV(os.Getenv("LIVE_BRIDGE_VOICES")); len(voices) > 0 {
		cfg.Voices = voices
	}
}

func (cfg Config) Validate() error {
	if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
		return fmt.Errorf("GEMINI_API_KEY must be set")
	}

	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeOptional, AuthModeDisabled:
	default:
		return fmt.Errorf("LIVE_BRIDGE_AUTH_MODE must be one of required|optional|disabled")
	}
	if cfg.AuthMode == AuthModeRequired && len(cfg.APIKeys) == 0 {
		return fmt.Errorf("LIVE_BRIDGE_API_KEYS must be set when LIVE_BRIDGE_AUTH_MODE=required")
	}

	if strings.TrimSpace(cfg.UploadDir) == "" {
		return fmt.Errorf("LIVE_BRIDGE_UPLOAD_DIR must not be empty")
	}
	if cfg.MaxUploadBytes <= 0 {
		return fmt.Errorf("LIVE_BRIDGE_MAX_UPLOAD_BYTES must be > 0")
	}
	if cfg.LiveMaxMessageBytes <= 0 {
		return fmt.Errorf("LIVE_BRIDGE_LIVE_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.LiveMaxMessagesPerSecond < 0 {
		return fmt.Errorf("LIVE_BRIDGE_LIVE_MAX_MESSAGES_PER_SECOND must be >= 0")
	}
	if cfg.LiveMaxMessagesPerSecond > 0 && cfg.LiveMessageBurst <= 0 {
		return fmt.Errorf("LIVE_BRIDGE_LIVE_MESSAGE_BURST must be > 0")
	}
	if cfg.LiveOutboundQueueSize <= 0 {
		return fmt.Errorf("LIVE_BRIDGE_LIVE_OUTBOUND_QUEUE must be > 0")
	}
	if cfg.LiveWSPingInterval <= 0 {
		return fmt.Errorf("LIVE_BRIDGE_LIVE_WS_PING_INTERVAL must be > 0")
	}
	if cfg.LiveWSWriteTimeout <= 0 {
		return fmt.Errorf("LIVE_BRIDGE_LIVE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.LiveWSReadTimeout < 0 {
		return fmt.Errorf("LIVE_BRIDGE_LIVE_WS_READ_TIMEOUT must be >= 0")
	}
	if cfg.LiveUpstreamConnectTimeout <= 0 {
		return fmt.Errorf("LIVE_BRIDGE_LIVE_CONNECT_TIMEOUT must be > 0")
	}
	if strings.TrimSpace(cfg.LiveAudioInputMIMEType) == "" {
		return fmt.Errorf("LIVE_BRIDGE_LIVE_AUDIO_INPUT_MIME must not be empty")
	}
	if cfg.LiveScreenShareMaxFPS <= 0 {
		return fmt.Errorf("LIVE_BRIDGE_LIVE_SCREEN_SHARE_MAX_FPS must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 || cfg.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeouts must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return fmt.Errorf("LIVE_BRIDGE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	return nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
