package session

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultPingInterval = 20 * time.Second
	defaultWriteTimeout = 5 * time.Second

	shutdownFlushWindow = 100 * time.Millisecond
	shutdownFlushFrames = 8
)

// wsWriter is the write half of a client websocket.
type wsWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// outboundFrame is one encoded JSON event.
type outboundFrame struct {
	eventType string
	payload   []byte
}

// outboundWriter is the only goroutine that writes to the client socket.
// Frames on the priority queue (errors, drain notices) always go out before
// frames on the normal queue; normal frames keep their enqueue order.
type outboundWriter struct {
	ws       wsWriter
	ctx      context.Context
	cfg      Config
	priority <-chan outboundFrame
	normal   <-chan outboundFrame
}

func (w *outboundWriter) Run() error {
	if w == nil || w.ws == nil {
		return nil
	}
	ctx := w.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	pingEvery := w.cfg.PingInterval
	if pingEvery <= 0 {
		pingEvery = defaultPingInterval
	}
	timeout := w.cfg.WriteTimeout
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}

	ping := time.NewTicker(pingEvery)
	defer ping.Stop()

	var pending *outboundFrame
	for {
		if ctx.Err() != nil {
			w.shutdown(timeout)
			return nil
		}

		if frame, ok := w.pollPriority(); ok {
			if err := w.write(frame, timeout); err != nil {
				return err
			}
			continue
		}
		if pending != nil {
			frame := *pending
			pending = nil
			if err := w.write(frame, timeout); err != nil {
				return err
			}
			continue
		}
		if w.priority == nil && w.normal == nil {
			return nil
		}

		select {
		case <-ctx.Done():
		case <-ping.C:
			if err := w.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(timeout)); err != nil {
				return err
			}
		case frame, ok := <-w.priority:
			if !ok {
				w.priority = nil
				continue
			}
			if err := w.write(frame, timeout); err != nil {
				return err
			}
		case frame, ok := <-w.normal:
			if !ok {
				w.normal = nil
				continue
			}
			// Held for one pass so a priority frame that arrived meanwhile
			// still goes first.
			pending = &frame
		}
	}
}

// pollPriority takes a priority frame without blocking. A closed priority
// queue is dropped from the select set.
func (w *outboundWriter) pollPriority() (outboundFrame, bool) {
	if w.priority == nil {
		return outboundFrame{}, false
	}
	select {
	case frame, ok := <-w.priority:
		if !ok {
			w.priority = nil
			return outboundFrame{}, false
		}
		return frame, true
	default:
		return outboundFrame{}, false
	}
}

// shutdown writes what is left on the priority queue within a short window,
// then sends a normal close frame and closes the socket.
func (w *outboundWriter) shutdown(timeout time.Duration) {
	window := min(shutdownFlushWindow, timeout)
	deadline := time.Now().Add(window)
	for i := 0; i < shutdownFlushFrames && time.Now().Before(deadline); i++ {
		frame, ok := w.pollPriority()
		if !ok {
			break
		}
		_ = w.write(frame, timeout)
	}
	_ = w.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(timeout))
	_ = w.ws.Close()
}

func (w *outboundWriter) write(frame outboundFrame, timeout time.Duration) error {
	if len(frame.payload) == 0 {
		return nil
	}
	if err := w.ws.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	return w.ws.WriteMessage(websocket.TextMessage, frame.payload)
}
