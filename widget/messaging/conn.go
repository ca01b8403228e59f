// Copyright 2026 The Widgethost Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/widgethost/core/ref"
)

// Conn correlates requests and replies over a Transport for a single
// widget. Incoming messages whose origin does not exactly match the
// trusted origin are dropped without logging, so unrelated page
// traffic cannot flood the logs.
type Conn struct {
	transport Transport
	widgetID  ref.WidgetID
	origin    string
	logger    *slog.Logger

	mu       sync.Mutex
	pending  map[string]chan Envelope
	handlers map[string]func(Envelope)
	closed   bool

	cancelSubscribe func()
}

// NewConn wraps a transport. trustedOrigin is the only origin this
// conn will accept messages from.
func NewConn(transport Transport, widgetID ref.WidgetID, trustedOrigin string, logger *slog.Logger) *Conn {
	c := &Conn{
		transport: transport,
		widgetID:  widgetID,
		origin:    trustedOrigin,
		logger:    logger,
		pending:   make(map[string]chan Envelope),
		handlers:  make(map[string]func(Envelope)),
	}
	c.cancelSubscribe = transport.Subscribe(c.dispatch)
	return c
}

// Handle registers the handler for an incoming fromWidget action.
// Handlers run on the transport's read goroutine. Actions without a
// handler are ignored.
func (c *Conn) Handle(action string, handler func(Envelope)) {
	c.mu.Lock()
	c.handlers[action] = handler
	c.mu.Unlock()
}

func (c *Conn) dispatch(msg IncomingMessage) {
	if msg.Origin != c.origin {
		return
	}
	env := msg.Envelope
	if env.WidgetID != c.widgetID.String() {
		return
	}

	if env.API == APIToWidget && env.IsReply() {
		c.mu.Lock()
		waiter := c.pending[env.RequestID]
		delete(c.pending, env.RequestID)
		c.mu.Unlock()
		if waiter != nil {
			waiter <- env
		}
		return
	}

	if env.API == APIFromWidget && !env.IsReply() {
		c.mu.Lock()
		handler := c.handlers[env.Action]
		c.mu.Unlock()
		if handler != nil {
			handler(env)
		}
		return
	}
}

// Request sends a toWidget request and waits for the reply, decoding
// its response field into out when out is non-nil.
func (c *Conn) Request(ctx context.Context, action string, data, out any) error {
	env, waiter, err := c.newRequest(action, data)
	if err != nil {
		return err
	}
	defer c.forget(env.RequestID)

	if err := c.transport.Send(ctx, env); err != nil {
		return fmt.Errorf("sending %s request: %w", action, err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case reply := <-waiter:
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(reply.Response, out); err != nil {
			return fmt.Errorf("decoding %s response: %w", action, err)
		}
		return nil
	}
}

// Notify sends a toWidget request without waiting for a reply. Used
// for pushes like theme changes where no acknowledgement is expected.
func (c *Conn) Notify(ctx context.Context, action string, data any) error {
	env, _, err := c.newRequest(action, data)
	if err != nil {
		return err
	}
	c.forget(env.RequestID)
	if err := c.transport.Send(ctx, env); err != nil {
		return fmt.Errorf("sending %s notification: %w", action, err)
	}
	return nil
}

func (c *Conn) newRequest(action string, data any) (Envelope, chan Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, nil, fmt.Errorf("encoding %s request: %w", action, err)
	}
	env := Envelope{
		API:       APIToWidget,
		WidgetID:  c.widgetID.String(),
		RequestID: uuid.NewString(),
		Action:    action,
		Data:      raw,
	}
	waiter := make(chan Envelope, 1)
	c.mu.Lock()
	c.pending[env.RequestID] = waiter
	c.mu.Unlock()
	return env, waiter, nil
}

func (c *Conn) forget(requestID string) {
	c.mu.Lock()
	delete(c.pending, requestID)
	c.mu.Unlock()
}

// Reply answers an incoming fromWidget request by round-tripping its
// envelope with the response attached.
func (c *Conn) Reply(ctx context.Context, request Envelope, response any) error {
	raw, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("encoding %s reply: %w", request.Action, err)
	}
	request.Response = raw
	if err := c.transport.Send(ctx, request); err != nil {
		return fmt.Errorf("sending %s reply: %w", request.Action, err)
	}
	return nil
}

// ReplyError answers with a widget-visible structured error.
func (c *Conn) ReplyError(ctx context.Context, request Envelope, message string) error {
	return c.Reply(ctx, request, NewErrorResponse(message))
}

// Close unhooks the conn from its transport and closes the transport.
// Pending requests are left to their context deadlines.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancelSubscribe()
	return c.transport.Close()
}
