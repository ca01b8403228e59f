// Copyright 2026 The Widgethost Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"errors"
	"sync"

	"github.com/widgethost/core/lib/emitter"
)

// ErrTransportClosed is returned by Send after Close.
var ErrTransportClosed = errors.New("messaging: transport closed")

// MemoryTransport is one end of an in-process transport pair. Sends
// are delivered synchronously to the peer's subscribers, tagged with
// the sender's configured origin.
type MemoryTransport struct {
	mu     sync.Mutex
	origin string
	peer   *MemoryTransport
	closed bool

	incoming emitter.Emitter[IncomingMessage]
}

// MemoryPair returns two connected transports. The host end sees
// messages from the widget end tagged with widgetOrigin, and vice
// versa with hostOrigin.
func MemoryPair(hostOrigin, widgetOrigin string) (hostEnd, widgetEnd *MemoryTransport) {
	hostEnd = &MemoryTransport{origin: hostOrigin}
	widgetEnd = &MemoryTransport{origin: widgetOrigin}
	hostEnd.peer = widgetEnd
	widgetEnd.peer = hostEnd
	return hostEnd, widgetEnd
}

// SetOrigin changes the origin the peer will observe on subsequent
// sends from this end. Tests use it to simulate spoofed traffic.
func (m *MemoryTransport) SetOrigin(origin string) {
	m.mu.Lock()
	m.origin = origin
	m.mu.Unlock()
}

// Send delivers the envelope to the peer's subscribers.
func (m *MemoryTransport) Send(ctx context.Context, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	closed := m.closed
	origin := m.origin
	m.mu.Unlock()
	if closed {
		return ErrTransportClosed
	}
	m.peer.incoming.Emit(IncomingMessage{Origin: origin, Envelope: env})
	return nil
}

// Subscribe registers a receiver for messages from the peer.
func (m *MemoryTransport) Subscribe(receiver func(IncomingMessage)) (cancel func()) {
	return m.incoming.Subscribe(receiver)
}

// Close marks both this end and the peer's view of it as closed.
func (m *MemoryTransport) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
