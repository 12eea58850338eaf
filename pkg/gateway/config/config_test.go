package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var gatewayEnvKeys = []string{
	EnvConfigPath,
	"GEMINI_API_KEY",
	"LIVE_BRIDGE_ADDR",
	"LIVE_BRIDGE_AUTH_MODE",
	"LIVE_BRIDGE_API_KEYS",
	"LIVE_BRIDGE_CORS_ORIGINS",
	"LIVE_BRIDGE_MODELS",
	"LIVE_BRIDGE_VOICES",
	"LIVE_BRIDGE_UPLOAD_DIR",
	"LIVE_BRIDGE_MAX_UPLOAD_BYTES",
	"LIVE_BRIDGE_LIVE_MAX_MESSAGE_BYTES",
	"LIVE_BRIDGE_LIVE_MAX_MESSAGES_PER_SECOND",
	"LIVE_BRIDGE_LIVE_MESSAGE_BURST",
	"LIVE_BRIDGE_LIVE_OUTBOUND_QUEUE",
	"LIVE_BRIDGE_LIVE_WS_PING_INTERVAL",
	"LIVE_BRIDGE_LIVE_WS_WRITE_TIMEOUT",
	"LIVE_BRIDGE_LIVE_WS_READ_TIMEOUT",
	"LIVE_BRIDGE_LIVE_CONNECT_TIMEOUT",
	"LIVE_BRIDGE_LIVE_AUDIO_INPUT_MIME",
	"LIVE_BRIDGE_LIVE_SCREEN_SHARE_MAX_FPS",
	"LIVE_BRIDGE_METRICS",
	"LIVE_BRIDGE_READ_HEADER_TIMEOUT",
	"LIVE_BRIDGE_READ_TIMEOUT",
	"LIVE_BRIDGE_SHUTDOWN_GRACE_PERIOD",
}

func clearGatewayEnv(t *testing.T) {
	t.Helper()
	for _, key := range gatewayEnvKeys {
		t.Setenv(key, "")
	}
}

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "live-bridge.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("GEMINI_API_KEY", "test-key")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Addr != ":8080" {
		t.Fatalf("Addr = %q, want :8080", cfg.Addr)
	}
	if cfg.AuthMode != AuthModeDisabled {
		t.Fatalf("AuthMode = %q, want %q", cfg.AuthMode, AuthModeDisabled)
	}
	if cfg.MaxUploadBytes != 100<<20 {
		t.Fatalf("MaxUploadBytes = %d, want %d", cfg.MaxUploadBytes, int64(100<<20))
	}
	if cfg.UploadDir != "temp" {
		t.Fatalf("UploadDir = %q, want temp", cfg.UploadDir)
	}
	if cfg.LiveUpstreamConnectTimeout != 15*time.Second {
		t.Fatalf("LiveUpstreamConnectTimeout = %v, want 15s", cfg.LiveUpstreamConnectTimeout)
	}
	if cfg.LiveAudioInputMIMEType != "audio/pcm;rate=16000" {
		t.Fatalf("LiveAudioInputMIMEType = %q", cfg.LiveAudioInputMIMEType)
	}
	if !cfg.MetricsEnabled {
		t.Fatalf("MetricsEnabled = false, want true")
	}
	if cfg.GeminiAPIKey != "test-key" {
		t.Fatalf("GeminiAPIKey not loaded")
	}
}

func TestLoadFromEnv_MissingGeminiKeyIsFatal(t *testing.T) {
	clearGatewayEnv(t)

	_, err := LoadFromEnv()
	if err == nil {
		t.Fatalf("expected error when GEMINI_API_KEY is missing")
	}
	if !strings.Contains(err.Error(), "GEMINI_API_KEY") {
		t.Fatalf("error = %v, want mention of GEMINI_API_KEY", err)
	}
}

func TestLoadFromEnv_RequiredAuthNeedsKeys(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("LIVE_BRIDGE_AUTH_MODE", "required")

	if _, err := LoadFromEnv(); err == nil || !strings.Contains(err.Error(), "LIVE_BRIDGE_API_KEYS") {
		t.Fatalf("err = %v, want LIVE_BRIDGE_API_KEYS error", err)
	}

	t.Setenv("LIVE_BRIDGE_API_KEYS", "k1, k2")
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if len(cfg.APIKeys) != 2 {
		t.Fatalf("APIKeys = %v, want 2 keys", cfg.APIKeys)
	}
}

func TestLoadFromEnv_InvalidAuthMode(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("LIVE_BRIDGE_AUTH_MODE", "sometimes")

	if _, err := LoadFromEnv(); err == nil {
		t.Fatalf("expected invalid auth mode error")
	}
}

func TestLoad_FileThenEnvOverride(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("GEMINI_API_KEY", "test-key")
	path := writeConfigFile(t, `
addr = "127.0.0.1:9090"
cors_origins = ["https://app.example"]
voices = ["Zephyr", "Kore"]
metrics = false

[upload]
dir = "/tmp/uploads"

[live]
ping_interval = "5s"
message_burst = 10
screen_share_max_fps = 15

[server]
shutdown_grace_period = "2s"
`)
	t.Setenv("LIVE_BRIDGE_ADDR", ":7070")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Addr != ":7070" {
		t.Fatalf("Addr = %q, env should win over file", cfg.Addr)
	}
	if _, ok := cfg.CORSAllowedOrigins["https://app.example"]; !ok {
		t.Fatalf("CORS origins = %v", cfg.CORSAllowedOrigins)
	}
	if len(cfg.Voices) != 2 || cfg.Voices[1] != "Kore" {
		t.Fatalf("Voices = %v", cfg.Voices)
	}
	if cfg.MetricsEnabled {
		t.Fatalf("MetricsEnabled = true, want false from file")
	}
	if cfg.UploadDir != "/tmp/uploads" {
		t.Fatalf("UploadDir = %q", cfg.UploadDir)
	}
	if cfg.LiveWSPingInterval != 5*time.Second || cfg.LiveMessageBurst != 10 || cfg.LiveScreenShareMaxFPS != 15 {
		t.Fatalf("live settings = %v/%d/%d", cfg.LiveWSPingInterval, cfg.LiveMessageBurst, cfg.LiveScreenShareMaxFPS)
	}
	if cfg.ShutdownGracePeriod != 2*time.Second {
		t.Fatalf("ShutdownGracePeriod = %v", cfg.ShutdownGracePeriod)
	}
}

func TestLoadFromEnv_UsesConfigPathEnv(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv(EnvConfigPath, writeConfigFile(t, `models = ["models/custom"]`))

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if len(cfg.Models) != 1 || cfg.Models[0] != "models/custom" {
		t.Fatalf("Models = %v", cfg.Models)
	}
}

func TestLoad_FileErrors(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("GEMINI_API_KEY", "test-key")

	cases := map[string]string{
		"unknown key":      `nope = 1`,
		"bad duration":     "[live]\nping_interval = \"soon\"",
		"invalid toml":     `addr = `,
		"negative timeout": "[live]\nread_timeout = \"-1s\"",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfigFile(t, body)); err == nil {
				t.Fatalf("expected error for %s", name)
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadFromEnv_InvalidNumbersFallBack(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("LIVE_BRIDGE_LIVE_MESSAGE_BURST", "many")
	t.Setenv("LIVE_BRIDGE_LIVE_WS_WRITE_TIMEOUT", "later")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.LiveMessageBurst != Default().LiveMessageBurst {
		t.Fatalf("LiveMessageBurst = %d", cfg.LiveMessageBurst)
	}
	if cfg.LiveWSWriteTimeout != 5*time.Second {
		t.Fatalf("LiveWSWriteTimeout = %v", cfg.LiveWSWriteTimeout)
	}
}
