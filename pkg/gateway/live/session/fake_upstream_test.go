package session

import (
	"context"
	"sync"

	"github.com/vango-go/vai-live-bridge/pkg/gateway/live/upstream"
)

type fakeUpstream struct {
	cfg upstream.SessionConfig
	cb  upstream.Callbacks

	mu      sync.Mutex
	turns   []upstream.Turn
	inputs  []upstream.RealtimeInput
	closes  int
	sendErr error
}

func (f *fakeUpstream) SendTurn(turn upstream.Turn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.turns = append(f.turns, turn)
	return nil
}

func (f *fakeUpstream) SendRealtimeInput(in upstream.RealtimeInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.inputs = append(f.inputs, in)
	return nil
}

// Close mimics the real adapter: the close callback fires later from the
// receive goroutine.
func (f *fakeUpstream) Close() error {
	f.mu.Lock()
	f.closes++
	first := f.closes == 1
	f.mu.Unlock()
	if first && f.cb.OnClose != nil {
		go f.cb.OnClose("closed by client")
	}
	return nil
}

func (f *fakeUpstream) snapshot() (turns []upstream.Turn, inputs []upstream.RealtimeInput, closes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	turns = append([]upstream.Turn(nil), f.turns...)
	inputs = append([]upstream.RealtimeInput(nil), f.inputs...)
	return turns, inputs, f.closes
}

func (f *fakeUpstream) setSendErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

type fakeConnector struct {
	mu        sync.Mutex
	err       error
	connected chan *fakeUpstream
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{connected: make(chan *fakeUpstream, 8)}
}

func (c *fakeConnector) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

func (c *fakeConnector) Connect(ctx context.Context, cfg upstream.SessionConfig, cb upstream.Callbacks) (upstream.Session, error) {
	c.mu.Lock()
	err := c.err
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := &fakeUpstream{cfg: cfg, cb: cb}
	if cb.OnOpen != nil {
		cb.OnOpen()
	}
	c.connected <- s
	return s, nil
}
