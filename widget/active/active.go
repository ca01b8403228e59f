// Copyright 2026 The Widgethost Authors
// SPDX-License-Identifier: Apache-2.0

// Package active tracks which widget instances are currently live: a
// dock reference model per identity, plus the single system-wide
// persistent slot for always-on-screen widgets.
package active

import (
	"sync"

	"github.com/widgethost/core/lib/emitter"
	"github.com/widgethost/core/ref"
)

// ChannelStopper tears down the messaging channel for a widget
// identity. Implemented by the messaging registry; injected here so
// persistence teardown can force-stop a channel without this package
// depending on messaging.
type ChannelStopper interface {
	StopMessaging(identity ref.Identity, forceDestroy bool)
}

// Tracker is the dock and persistence state for all widgets. At most
// one widget is persistent at a time. Safe for concurrent use.
type Tracker struct {
	mu         sync.Mutex
	docked     map[ref.Identity]bool
	persistent ref.Identity // zero when no widget is persistent

	updates emitter.Emitter[struct{}]
}

// NewTracker creates a tracker with nothing docked and no persistent
// widget.
func NewTracker() *Tracker {
	return &Tracker{docked: make(map[ref.Identity]bool)}
}

// Subscribe registers a listener notified after every state change.
func (t *Tracker) Subscribe(listener func()) (cancel func()) {
	return t.updates.Subscribe(func(struct{}) { listener() })
}

// Dock marks the widget as docked. Docking an already-docked widget is
// a no-op.
func (t *Tracker) Dock(identity ref.Identity) {
	t.mu.Lock()
	if t.docked[identity] {
		t.mu.Unlock()
		return
	}
	t.docked[identity] = true
	t.mu.Unlock()

	t.updates.Emit(struct{}{})
}

// Undock clears the dock mark. Undocking a widget that is not docked
// is a no-op.
func (t *Tracker) Undock(identity ref.Identity) {
	t.mu.Lock()
	if !t.docked[identity] {
		t.mu.Unlock()
		return
	}
	delete(t.docked, identity)
	t.mu.Unlock()

	t.updates.Emit(struct{}{})
}

// IsDocked reports whether the widget is docked.
func (t *Tracker) IsDocked(identity ref.Identity) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.docked[identity]
}

// IsPersistent reports whether the widget holds the persistent slot.
func (t *Tracker) IsPersistent(identity ref.Identity) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.persistent == identity && !identity.IsZero()
}

// IsLive reports whether any consumer still needs the widget mounted:
// docked or persistent.
func (t *Tracker) IsLive(identity ref.Identity) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.docked[identity] || (t.persistent == identity && !identity.IsZero())
}

// Persistent returns the identity holding the persistent slot, and
// whether the slot is occupied.
func (t *Tracker) Persistent() (ref.Identity, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.persistent, !t.persistent.IsZero()
}

// SetPersistence flips the persistent flag for the widget. Setting
// true claims the single slot, displacing any current holder. Setting
// false releases the slot only when this widget holds it. Redundant
// calls are no-ops and do not notify subscribers.
func (t *Tracker) SetPersistence(identity ref.Identity, value bool) {
	t.mu.Lock()
	if value {
		if t.persistent == identity {
			t.mu.Unlock()
			return
		}
		t.persistent = identity
	} else {
		if t.persistent != identity {
			t.mu.Unlock()
			return
		}
		t.persistent = ref.Identity{}
	}
	t.mu.Unlock()

	t.updates.Emit(struct{}{})
}

// DestroyPersistent force-stops the widget's messaging channel and
// releases the persistent slot, when the widget currently holds it.
// No-op for any other widget.
func (t *Tracker) DestroyPersistent(identity ref.Identity, stopper ChannelStopper) {
	t.mu.Lock()
	if t.persistent != identity || identity.IsZero() {
		t.mu.Unlock()
		return
	}
	t.persistent = ref.Identity{}
	t.mu.Unlock()

	if stopper != nil {
		stopper.StopMessaging(identity, true)
	}
	t.updates.Emit(struct{}{})
}
