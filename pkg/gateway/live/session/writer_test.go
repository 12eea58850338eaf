package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type recordedWrite struct {
	messageType int
	data        string
}

type fakeWSWriter struct {
	mu       sync.Mutex
	writes   []recordedWrite
	failWith error
	closed   bool
}

func (f *fakeWSWriter) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeWSWriter) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.writes = append(f.writes, recordedWrite{messageType: messageType, data: string(data)})
	return nil
}

func (f *fakeWSWriter) WriteControl(messageType int, data []byte, deadline time.Time) error {
	_ = deadline
	return f.WriteMessage(messageType, data)
}

func (f *fakeWSWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeWSWriter) snapshot() []recordedWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recordedWrite, len(f.writes))
	copy(out, f.writes)
	return out
}

func textFrame(typ string) outboundFrame {
	return outboundFrame{eventType: typ, payload: []byte(`{"type":"` + typ + `"}`)}
}

func TestOutboundWriter_PriorityBeatsNormal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	priority := make(chan outboundFrame, 1)
	normal := make(chan outboundFrame, 1)

	normal <- textFrame("text_response")
	priority <- textFrame("error")
	close(priority)
	close(normal)

	ws := &fakeWSWriter{}
	w := outboundWriter{
		ws:       ws,
		ctx:      ctx,
		cfg:      Config{PingInterval: time.Hour, WriteTimeout: time.Second},
		priority: priority,
		normal:   normal,
	}

	if err := w.Run(); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	writes := ws.snapshot()
	if len(writes) != 2 {
		t.Fatalf("writes=%d, want 2", len(writes))
	}
	if !strings.Contains(writes[0].data, `"type":"error"`) {
		t.Fatalf("first write was not the error: %q", writes[0].data)
	}
	if writes[0].messageType != websocket.TextMessage || writes[1].messageType != websocket.TextMessage {
		t.Fatalf("expected text frames, got %+v", writes)
	}
}

func TestOutboundWriter_NormalOrderPreserved(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	priority := make(chan outboundFrame)
	normal := make(chan outboundFrame, 4)
	for _, typ := range []string{"text_response", "audio_response", "turn_complete"} {
		normal <- textFrame(typ)
	}
	close(priority)
	close(normal)

	ws := &fakeWSWriter{}
	w := outboundWriter{ws: ws, ctx: ctx, cfg: Config{PingInterval: time.Hour}, priority: priority, normal: normal}
	if err := w.Run(); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	writes := ws.snapshot()
	want := []string{"text_response", "audio_response", "turn_complete"}
	if len(writes) != len(want) {
		t.Fatalf("writes=%d, want %d", len(writes), len(want))
	}
	for i, typ := range want {
		if !strings.Contains(writes[i].data, typ) {
			t.Fatalf("write[%d]=%q, want %s", i, writes[i].data, typ)
		}
	}
}

func TestOutboundWriter_ShutdownFlushesPriorityAndCloses(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	priority := make(chan outboundFrame, 2)
	normal := make(chan outboundFrame, 2)
	priority <- textFrame("error")
	normal <- textFrame("text_response")
	cancel()

	ws := &fakeWSWriter{}
	w := outboundWriter{ws: ws, ctx: ctx, cfg: Config{PingInterval: time.Hour, WriteTimeout: time.Second}, priority: priority, normal: normal}
	if err := w.Run(); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	writes := ws.snapshot()
	if len(writes) != 2 {
		t.Fatalf("writes=%+v, want error then close frame", writes)
	}
	if !strings.Contains(writes[0].data, `"type":"error"`) {
		t.Fatalf("first write=%q, want error", writes[0].data)
	}
	if writes[1].messageType != websocket.CloseMessage {
		t.Fatalf("second write type=%d, want close", writes[1].messageType)
	}
	if !ws.closed {
		t.Fatalf("expected socket to be closed")
	}
}

func TestOutboundWriter_WriteErrorStopsRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	priority := make(chan outboundFrame)
	normal := make(chan outboundFrame, 1)
	normal <- textFrame("text_response")

	boom := errors.New("broken pipe")
	ws := &fakeWSWriter{failWith: boom}
	w := outboundWriter{ws: ws, ctx: ctx, cfg: Config{PingInterval: time.Hour}, priority: priority, normal: normal}
	if err := w.Run(); !errors.Is(err, boom) {
		t.Fatalf("Run() error=%v, want %v", err, boom)
	}
}

func TestOutboundWriter_CancelWhileIdleSendsClose(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	priority := make(chan outboundFrame)
	normal := make(chan outboundFrame)

	ws := &fakeWSWriter{}
	w := outboundWriter{ws: ws, ctx: ctx, cfg: Config{PingInterval: time.Hour}, priority: priority, normal: normal}
	done := make(chan error, 1)
	go func() { done <- w.Run() }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("writer did not stop after cancel")
	}
	writes := ws.snapshot()
	if len(writes) != 1 || writes[0].messageType != websocket.CloseMessage {
		t.Fatalf("writes=%+v, want a single close frame", writes)
	}
}
