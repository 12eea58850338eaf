// Package screenshare paces frame requests for one connection's screen share.
// The coordinator owns no goroutine: the connection loop selects on C() and
// calls RequestFrame on every tick.
package screenshare

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vango-go/vai-live-bridge/pkg/gateway/live/protocol"
)

const (
	QualityLow    = "low"
	QualityMedium = "medium"
	QualityHigh   = "high"

	DefaultQuality   = QualityMedium
	DefaultFrameRate = 30
	MaxFrameRate     = 60
)

var (
	ErrAlreadyActive = errors.New("screen share session already active")
	ErrNotActive     = errors.New("no active screen share session")
)

// Frame is a client frame tagged with the share's quality.
type Frame struct {
	ID         string
	Data       string
	Width      int
	Height     int
	Format     string
	Quality    string
	ReceivedAt time.Time
}

// MIMEType maps the frame format to an image MIME type, defaulting to JPEG.
func (f Frame) MIMEType() string {
	format := strings.ToLower(strings.TrimSpace(f.Format))
	switch {
	case format == "":
		return "image/jpeg"
	case strings.Contains(format, "/"):
		return format
	case format == "jpg":
		return "image/jpeg"
	default:
		return "image/" + format
	}
}

type Coordinator struct {
	maxFrameRate int
	now          func() time.Time
	newTicker    func(time.Duration) *time.Ticker

	active bool
	cfg    protocol.ScreenShareConfig
	ticker *time.Ticker
	frames int
}

func New(maxFrameRate int) *Coordinator {
	if maxFrameRate <= 0 {
		maxFrameRate = MaxFrameRate
	}
	return &Coordinator{
		maxFrameRate: maxFrameRate,
		now:          time.Now,
		newTicker:    time.NewTicker,
	}
}

// Start applies defaults, validates the config and starts pacing. The
// effective config is returned so it can be echoed to the client.
func (c *Coordinator) Start(req *protocol.ScreenShareConfig) (protocol.ScreenShareConfig, error) {
	if c.active {
		return protocol.ScreenShareConfig{}, ErrAlreadyActive
	}

	cfg := protocol.ScreenShareConfig{Quality: DefaultQuality, FrameRate: DefaultFrameRate}
	if req != nil {
		if q := strings.ToLower(strings.TrimSpace(req.Quality)); q != "" {
			cfg.Quality = q
		}
		if req.FrameRate != 0 {
			cfg.FrameRate = req.FrameRate
		}
		cfg.CaptureAudio = req.CaptureAudio
		cfg.CaptureSystemAudio = req.CaptureSystemAudio
	}

	switch cfg.Quality {
	case QualityLow, QualityMedium, QualityHigh:
	default:
		return protocol.ScreenShareConfig{}, fmt.Errorf("quality must be one of low|medium|high, got %q", cfg.Quality)
	}
	if cfg.FrameRate <= 0 || cfg.FrameRate > c.maxFrameRate {
		return protocol.ScreenShareConfig{}, fmt.Errorf("frameRate must be between 1 and %d", c.maxFrameRate)
	}

	c.cfg = cfg
	c.active = true
	c.frames = 0
	c.ticker = c.newTicker(Interval(cfg.FrameRate))
	return cfg, nil
}

// Interval is the pacing period for frameRate frames per second.
func Interval(frameRate int) time.Duration {
	if frameRate <= 0 {
		frameRate = DefaultFrameRate
	}
	return time.Second / time.Duration(frameRate)
}

// Stop halts pacing. It reports whether a share was active.
func (c *Coordinator) Stop() bool {
	if !c.active {
		return false
	}
	c.active = false
	if c.ticker != nil {
		c.ticker.Stop()
		c.ticker = nil
	}
	return true
}

func (c *Coordinator) Active() bool { return c.active }

func (c *Coordinator) Config() protocol.ScreenShareConfig { return c.cfg }

// FramesReceived counts frames accepted since Start.
func (c *Coordinator) FramesReceived() int { return c.frames }

// C returns the tick channel, or nil when no share is active.
func (c *Coordinator) C() <-chan time.Time {
	if !c.active || c.ticker == nil {
		return nil
	}
	return c.ticker.C
}

func (c *Coordinator) RequestFrame() *protocol.RequestScreenFrame {
	return protocol.NewRequestScreenFrame(c.cfg)
}

func (c *Coordinator) HandleFrame(msg protocol.ClientScreenFrame) (Frame, error) {
	if !c.active {
		return Frame{}, ErrNotActive
	}
	c.frames++
	id := msg.FrameID
	if id == "" {
		id = fmt.Sprintf("frame_%d", c.frames)
	}
	return Frame{
		ID:         id,
		Data:       msg.Data,
		Width:      msg.Width,
		Height:     msg.Height,
		Format:     msg.Format,
		Quality:    c.cfg.Quality,
		ReceivedAt: c.now(),
	}, nil
}
