package handlers

import (
	"fmt"
	"net/http"

	"github.com/vango-go/vai-live-bridge/pkg/gateway/config"
	"github.com/vango-go/vai-live-bridge/pkg/gateway/validation"
)

const (
	liveEndpoint   = "/ws"
	liveProtocol   = "gemini-live"
	maxUploadFiles = 10
)

// ConfigHandler serves the client-facing catalog of models, voices and
// limits on /api/config.
type ConfigHandler struct {
	Config config.Config
}

type catalogResponse struct {
	Gemini    geminiCatalog    `json:"gemini"`
	WebSocket websocketCatalog `json:"websocket"`
	Upload    uploadCatalog    `json:"upload"`
}

type geminiCatalog struct {
	Models           []string  `json:"models"`
	Voices           []string  `json:"voices"`
	Modalities       []string  `json:"modalities"`
	MaxTokens        int       `json:"maxTokens"`
	TemperatureRange []float64 `json:"temperatureRange"`
}

type websocketCatalog struct {
	Endpoint  string   `json:"endpoint"`
	Protocols []string `json:"protocols"`
}

type uploadCatalog struct {
	MaxFileSize  string   `json:"maxFileSize"`
	MaxFiles     int      `json:"maxFiles"`
	AllowedTypes []string `json:"allowedTypes"`
}

func (h ConfigHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r)
		return
	}
	v := validation.NewConfigValidator(h.Config.Models, h.Config.Voices)
	writeJSON(w, http.StatusOK, catalogResponse{
		Gemini: geminiCatalog{
			Models:           v.Models,
			Voices:           v.Voices,
			Modalities:       v.Modalities,
			MaxTokens:        validation.MaxOutputTokens,
			TemperatureRange: []float64{validation.MinTemperature, validation.MaxTemperature},
		},
		WebSocket: websocketCatalog{
			Endpoint:  liveEndpoint,
			Protocols: []string{liveProtocol},
		},
		Upload: uploadCatalog{
			MaxFileSize:  formatMB(h.Config.MaxUploadBytes),
			MaxFiles:     maxUploadFiles,
			AllowedTypes: validation.AllowedUploadMIMETypes,
		},
	})
}

func formatMB(n int64) string {
	return fmt.Sprintf("%dMB", n>>20)
}
