// Copyright 2026 The Widgethost Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/widgethost/core/lib/emitter"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingInterval = 54 * time.Second

	// wsMaxMessageSize bounds a single envelope. Widget payloads are
	// event-sized; anything bigger is a misbehaving peer.
	wsMaxMessageSize = 1 << 20
)

// WebSocketTransport carries envelopes over one websocket connection
// to a widget frame. The origin observed at upgrade time is attached
// to every incoming message; Conn enforces the origin check.
type WebSocketTransport struct {
	conn   *websocket.Conn
	origin string
	logger *slog.Logger

	writeMu sync.Mutex
	closed  chan struct{}
	once    sync.Once

	incoming emitter.Emitter[IncomingMessage]
}

// NewWebSocketTransport wraps an upgraded connection and starts its
// read and ping loops. origin is the Origin header presented during
// the upgrade.
func NewWebSocketTransport(conn *websocket.Conn, origin string, logger *slog.Logger) *WebSocketTransport {
	t := &WebSocketTransport{
		conn:   conn,
		origin: origin,
		logger: logger,
		closed: make(chan struct{}),
	}
	conn.SetReadLimit(wsMaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})
	go t.readLoop()
	go t.pingLoop()
	return t
}

// Send writes the envelope as a JSON text message.
func (t *WebSocketTransport) Send(ctx context.Context, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-t.closed:
		return ErrTransportClosed
	default:
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	t.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return t.conn.WriteMessage(websocket.TextMessage, payload)
}

// Subscribe registers a receiver for incoming envelopes.
func (t *WebSocketTransport) Subscribe(receiver func(IncomingMessage)) (cancel func()) {
	return t.incoming.Subscribe(receiver)
}

// Close shuts the connection down. Idempotent.
func (t *WebSocketTransport) Close() error {
	var err error
	t.once.Do(func() {
		close(t.closed)
		t.writeMu.Lock()
		t.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		t.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		t.writeMu.Unlock()
		err = t.conn.Close()
	})
	return err
}

// Done is closed once the peer disconnects or Close runs.
func (t *WebSocketTransport) Done() <-chan struct{} { return t.closed }

func (t *WebSocketTransport) readLoop() {
	defer t.Close()
	for {
		_, payload, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.logger.Warn("widget websocket read failed", "error", err)
			}
			return
		}
		var env Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			t.logger.Warn("dropping malformed widget envelope", "error", err)
			continue
		}
		t.incoming.Emit(IncomingMessage{Origin: t.origin, Envelope: env})
	}
}

func (t *WebSocketTransport) pingLoop() {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.closed:
			return
		case <-ticker.C:
			t.writeMu.Lock()
			t.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			err := t.conn.WriteMessage(websocket.PingMessage, nil)
			t.writeMu.Unlock()
			if err != nil {
				t.Close()
				return
			}
		}
	}
}
