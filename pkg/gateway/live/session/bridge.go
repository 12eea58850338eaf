package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vango-go/vai-live-bridge/pkg/gateway/live/upstream"
	"github.com/vango-go/vai-live-bridge/pkg/gateway/live/wav"
)

// ErrSessionNotOpen is returned by sends issued before the upstream session
// opened or after it started closing.
var ErrSessionNotOpen = errors.New("live session is not open")

type State int

const (
	StateUninitialized State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// BridgeSession is the pairing of one client connection with one upstream
// session. Sends are only forwarded while the session is open; the audio
// accumulator and turn flags are owned by the connection loop.
type BridgeSession struct {
	ID     string
	Config upstream.SessionConfig

	mu     sync.Mutex
	state  State
	handle upstream.Session

	audio           *wav.Accumulator
	audioDescriptor string
	turnActive      bool
	closedNotified  bool
}

func NewBridgeSession(id string, cfg upstream.SessionConfig) *BridgeSession {
	return &BridgeSession{
		ID:     id,
		Config: cfg,
		state:  StateUninitialized,
		audio:  wav.NewAccumulator(),
	}
}

func (b *BridgeSession) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Connect opens the upstream session. The connector invokes cb.OnOpen before
// returning, which moves the session to open; callers wrap OnOpen with
// MarkOpen. A failed connect leaves the session closed.
func (b *BridgeSession) Connect(ctx context.Context, connector upstream.Connector, cb upstream.Callbacks) error {
	b.mu.Lock()
	if b.state != StateUninitialized {
		b.mu.Unlock()
		return fmt.Errorf("connect in state %s", b.state)
	}
	b.state = StateConnecting
	b.mu.Unlock()

	handle, err := connector.Connect(ctx, b.Config, cb)
	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.state = StateClosed
		b.closedNotified = true
		return err
	}
	b.handle = handle
	if b.state == StateConnecting {
		b.state = StateOpen
	}
	return nil
}

// MarkOpen records the upstream open event.
func (b *BridgeSession) MarkOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateConnecting {
		b.state = StateOpen
	}
}

// MarkClosed records an upstream close. It reports whether this is the first
// time the close is observed, so the caller notifies the client once.
func (b *BridgeSession) MarkClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	first := !b.closedNotified
	b.closedNotified = true
	return first
}

func (b *BridgeSession) openHandle() (upstream.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen || b.handle == nil {
		return nil, ErrSessionNotOpen
	}
	return b.handle, nil
}

// SendText sends one complete user turn.
func (b *BridgeSession) SendText(text string) error {
	h, err := b.openHandle()
	if err != nil {
		return err
	}
	return h.SendTurn(upstream.Turn{Role: "user", Texts: []string{text}})
}

func (b *BridgeSession) SendAudioChunk(data []byte, mimeType string) error {
	h, err := b.openHandle()
	if err != nil {
		return err
	}
	return h.SendRealtimeInput(upstream.RealtimeInput{Audio: &upstream.Blob{MIMEType: mimeType, Data: data}})
}

func (b *BridgeSession) SendVideoChunk(data []byte, mimeType string) error {
	h, err := b.openHandle()
	if err != nil {
		return err
	}
	return h.SendRealtimeInput(upstream.RealtimeInput{Video: &upstream.Blob{MIMEType: mimeType, Data: data}})
}

// AddURLContext asks the model to analyze url as a user turn.
func (b *BridgeSession) AddURLContext(url string) error {
	return b.SendText(URLContextPrompt(url))
}

func URLContextPrompt(url string) string {
	return "Please analyze the content from this URL: " + url
}

// Close moves the session to closed and releases the upstream handle. It is
// safe to call repeatedly. A session already closed stays closed while its
// handle is released.
func (b *BridgeSession) Close() error {
	b.mu.Lock()
	if b.state == StateClosed && b.handle == nil {
		b.mu.Unlock()
		return nil
	}
	h := b.handle
	b.handle = nil
	if b.state != StateClosed {
		b.state = StateClosing
	}
	b.mu.Unlock()

	var err error
	if h != nil {
		err = h.Close()
	}

	b.mu.Lock()
	b.state = StateClosed
	b.mu.Unlock()
	if errors.Is(err, upstream.ErrClosed) {
		return nil
	}
	return err
}

// beginPart marks a model turn active, discarding audio left over from an
// unterminated previous turn.
func (b *BridgeSession) beginPart() {
	if !b.turnActive {
		b.audio.Clear()
		b.turnActive = true
	}
}

func (b *BridgeSession) appendAudio(descriptor string, data []byte) {
	b.beginPart()
	b.audio.AppendBytes(data)
	if descriptor != "" {
		b.audioDescriptor = descriptor
	}
}

// finishTurn flushes buffered audio into a container. ok is false when the
// turn carried no audio.
func (b *BridgeSession) finishTurn() (container []byte, payloadBytes int, ok bool) {
	if b.audio.Fragments() > 0 {
		payloadBytes = b.audio.Size()
		container = b.audio.Flush(b.audioDescriptor)
		ok = true
	}
	b.resetTurn()
	return container, payloadBytes, ok
}

func (b *BridgeSession) resetTurn() {
	b.audio.Clear()
	b.audioDescriptor = ""
	b.turnActive = false
}
