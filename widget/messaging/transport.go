// Copyright 2026 The Widgethost Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import "context"

// IncomingMessage is an envelope received from a widget, tagged with
// the origin the transport observed it from. Origin checks happen in
// Conn, not in transports.
type IncomingMessage struct {
	Origin   string
	Envelope Envelope
}

// Transport moves envelopes between the host and one widget frame.
// Implementations: the websocket transport for real widget sessions,
// and the in-memory pair for tests.
type Transport interface {
	// Send delivers an envelope to the widget.
	Send(ctx context.Context, env Envelope) error

	// Subscribe registers a receiver for messages arriving from the
	// widget. Receivers run on the transport's read goroutine and must
	// not block. The returned cancel func unregisters the receiver.
	Subscribe(receiver func(IncomingMessage)) (cancel func())

	// Close tears the transport down. Subsequent Sends fail.
	Close() error
}
