// Copyright 2026 The Widgethost Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"sync"

	"github.com/widgethost/core/lib/emitter"
	"github.com/widgethost/core/ref"
)

// ModalRequest describes a modal widget a source widget asked the
// host to open.
type ModalRequest struct {
	Source ref.Identity
	URL    string
	Name   string
	Data   map[string]any
}

// ModalSlot is the single-flight slot for modal widgets: at most one
// modal is open at a time, owned by the widget that opened it. The
// same source widget may replace its own modal; a different widget is
// refused until the slot is released.
type ModalSlot struct {
	mu    sync.Mutex
	open  bool
	owner ref.Identity

	opened emitter.Emitter[ModalRequest]
	closed emitter.Emitter[ref.Identity]
}

// NewModalSlot creates an empty slot.
func NewModalSlot() *ModalSlot { return &ModalSlot{} }

// SubscribeOpened registers a listener for granted open requests. The
// host UI renders the modal in response.
func (s *ModalSlot) SubscribeOpened(listener func(ModalRequest)) (cancel func()) {
	return s.opened.Subscribe(listener)
}

// SubscribeClosed registers a listener for slot releases.
func (s *ModalSlot) SubscribeClosed(listener func(source ref.Identity)) (cancel func()) {
	return s.closed.Subscribe(listener)
}

// TryOpen claims the slot for req.Source. Returns false when the slot
// is held by a different widget.
func (s *ModalSlot) TryOpen(req ModalRequest) bool {
	s.mu.Lock()
	if s.open && s.owner != req.Source {
		s.mu.Unlock()
		return false
	}
	s.open = true
	s.owner = req.Source
	s.mu.Unlock()

	s.opened.Emit(req)
	return true
}

// Close releases the slot when held by source. Releases by
// non-owners, including after the owner already closed, are no-ops.
func (s *ModalSlot) Close(source ref.Identity) {
	s.mu.Lock()
	if !s.open || s.owner != source {
		s.mu.Unlock()
		return
	}
	s.open = false
	s.owner = ref.Identity{}
	s.mu.Unlock()

	s.closed.Emit(source)
}

// Open reports whether a modal is currently open and who owns it.
func (s *ModalSlot) Open() (ref.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner, s.open
}
