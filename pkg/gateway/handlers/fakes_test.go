package handlers

import (
	"context"
	"sync"

	"github.com/vango-go/vai-live-bridge/pkg/gateway/live/upstream"
)

type fakeUpstream struct {
	cfg upstream.SessionConfig
	cb  upstream.Callbacks

	mu     sync.Mutex
	turns  []upstream.Turn
	closed bool
}

func (f *fakeUpstream) SendTurn(turn upstream.Turn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns = append(f.turns, turn)
	return nil
}

func (f *fakeUpstream) SendRealtimeInput(upstream.RealtimeInput) error { return nil }

func (f *fakeUpstream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeUpstream) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, t := range f.turns {
		out = append(out, t.Texts...)
	}
	return out
}

type fakeConnector struct {
	connected chan *fakeUpstream
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{connected: make(chan *fakeUpstream, 4)}
}

func (c *fakeConnector) Connect(ctx context.Context, cfg upstream.SessionConfig, cb upstream.Callbacks) (upstream.Session, error) {
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
