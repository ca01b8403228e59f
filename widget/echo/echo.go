// Copyright 2026 The Widgethost Authors
// SPDX-License-Identifier: Apache-2.0

// Package echo tracks optimistic local widget mutations that have not
// yet been confirmed by the authoritative room state feed.
//
// The overlay is deliberately one-sided: pending deletions suppress
// the stale authoritative event so a removed widget vanishes at once,
// but pending adds never substitute their own content; the
// authoritative event is eventually consistent and will carry the
// real value. The worst failure mode of this store is a spinner shown
// slightly too long.
package echo

import (
	"sync"

	"github.com/widgethost/core/host"
	"github.com/widgethost/core/lib/emitter"
	"github.com/widgethost/core/ref"
)

// Update identifies the widget whose echo state changed.
type Update struct {
	RoomID   ref.RoomID
	WidgetID ref.WidgetID
}

// Store is the local-echo overlay. The zero value is not usable; use
// NewStore. Safe for concurrent use.
type Store struct {
	mu sync.Mutex
	// pending[roomID][widgetID] is the optimistic content. Removal
	// echoes carry content whose IsRemoval is true.
	pending map[ref.RoomID]map[ref.WidgetID]contentEcho

	updates emitter.Emitter[Update]
}

type contentEcho struct {
	widgetType string
	removal    bool
}

// NewStore creates an empty echo store.
func NewStore() *Store {
	return &Store{pending: make(map[ref.RoomID]map[ref.WidgetID]contentEcho)}
}

// Subscribe registers a listener for echo changes.
func (s *Store) Subscribe(listener func(Update)) (cancel func()) {
	return s.updates.Subscribe(listener)
}

// Set records an optimistic mutation for (roomID, widgetID). Content
// with IsRemoval true records a pending deletion; anything else
// records a pending add or update.
func (s *Store) Set(roomID ref.RoomID, widgetID ref.WidgetID, pendingContent map[string]any) {
	widgetType, _ := pendingContent["type"].(string)
	url, _ := pendingContent["url"].(string)

	s.mu.Lock()
	room := s.pending[roomID]
	if room == nil {
		room = make(map[ref.WidgetID]contentEcho)
		s.pending[roomID] = room
	}
	room[widgetID] = contentEcho{
		widgetType: widgetType,
		removal:    widgetType == "" || url == "",
	}
	s.mu.Unlock()

	s.updates.Emit(Update{RoomID: roomID, WidgetID: widgetID})
}

// Remove clears the echo for (roomID, widgetID). Called when the
// authoritative event confirming (or superseding) the mutation
// arrives, and on failure paths so an aborted mutation never leaves a
// dangling echo. No-op when no echo exists.
func (s *Store) Remove(roomID ref.RoomID, widgetID ref.WidgetID) {
	s.mu.Lock()
	room, ok := s.pending[roomID]
	if !ok {
		s.mu.Unlock()
		return
	}
	if _, ok := room[widgetID]; !ok {
		s.mu.Unlock()
		return
	}
	delete(room, widgetID)
	if len(room) == 0 {
		delete(s.pending, roomID)
	}
	s.mu.Unlock()

	s.updates.Emit(Update{RoomID: roomID, WidgetID: widgetID})
}

// Reconcile overlays the echo state onto the authoritative widget
// events for a room: events whose widget has a pending deletion are
// filtered out. Add/update echoes leave the authoritative event
// untouched. Read-only; the input slice is not mutated.
func (s *Store) Reconcile(roomID ref.RoomID, authoritative []host.Event) []host.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	room := s.pending[roomID]
	if len(room) == 0 {
		return authoritative
	}

	filtered := make([]host.Event, 0, len(authoritative))
	for _, event := range authoritative {
		if event.StateKey != nil {
			if widgetID, err := ref.ParseWidgetID(*event.StateKey); err == nil {
				if pending, ok := room[widgetID]; ok && pending.removal {
					continue
				}
			}
		}
		filtered = append(filtered, event)
	}
	return filtered
}

// HasPendingOfType reports whether the room has an add echo still in
// flight: an echo entry whose widget is absent from the authoritative
// events and, when widgetType is non-empty, whose pending content is
// of that type.
func (s *Store) HasPendingOfType(roomID ref.RoomID, authoritative []host.Event, widgetType string) bool {
	present := make(map[string]bool, len(authoritative))
	for _, event := range authoritative {
		if event.StateKey != nil {
			present[*event.StateKey] = true
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for widgetID, pending := range s.pending[roomID] {
		if pending.removal || present[widgetID.String()] {
			continue
		}
		if widgetType != "" && pending.widgetType != widgetType {
			continue
		}
		return true
	}
	return false
}
