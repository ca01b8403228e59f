// Copyright 2026 The Widgethost Authors
// SPDX-License-Identifier: Apache-2.0

// Package emitter provides a minimal typed publish/subscribe primitive.
// Payloads are closed Go types rather than string-keyed maps, so every
// subscription is checked at compile time.
//
// Emit invokes listeners synchronously on the calling goroutine;
// mutations are a single synchronous step followed by notification, so
// no reader ever observes a half-updated store.
package emitter

import "sync"

// Emitter fans a value out to subscribed listeners.
//
// The zero value is ready to use. Safe for concurrent use; listeners
// must not block and must not call Subscribe or the returned cancel
// func from within their own invocation.
type Emitter[T any] struct {
	mu        sync.Mutex
	nextID    int
	listeners map[int]func(T)
}

// Subscribe registers a listener and returns a cancel func that
// removes it. Cancel is idempotent.
func (e *Emitter[T]) Subscribe(listener func(T)) (cancel func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listeners == nil {
		e.listeners = make(map[int]func(T))
	}
	id := e.nextID
	e.nextID++
	e.listeners[id] = listener

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.listeners, id)
	}
}

// Emit delivers v to every current listener, synchronously, in
// unspecified order. Listeners registered during delivery do not
// receive v.
func (e *Emitter[T]) Emit(v T) {
	e.mu.Lock()
	snapshot := make([]func(T), 0, len(e.listeners))
	for _, listener := range e.listeners {
		snapshot = append(snapshot, listener)
	}
	e.mu.Unlock()

	for _, listener := range snapshot {
		listener(v)
	}
}
