// Copyright 2026 The Widgethost Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry derives the per-room widget lists from room state,
// overlaid with the local-echo store, and answers conference queries.
package registry

import (
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/widgethost/core/host"
	"github.com/widgethost/core/ref"
	"github.com/widgethost/core/widget"
	"github.com/widgethost/core/widget/active"
	"github.com/widgethost/core/widget/echo"
)

var crossRoomCollisions = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "widgethost",
	Subsystem: "registry",
	Name:      "cross_room_collisions_total",
	Help:      "Widget IDs claimed by more than one room; last writer wins.",
})

// Registry is the authoritative view of which widgets exist in which
// rooms. Lists are re-derived from room state whenever the state store
// or the echo store reports a change. Safe for concurrent use.
type Registry struct {
	logger  *slog.Logger
	state   host.StateStore
	echoes  *echo.Store
	tracker *active.Tracker
	local   ref.UserID

	mu    sync.Mutex
	rooms map[ref.RoomID][]widget.Descriptor
	// owner tracks which room currently claims each widget ID, for
	// cross-room collision detection. Last writer wins.
	owner map[ref.WidgetID]ref.RoomID
}

// New creates a registry. Call Start to begin following state changes.
func New(logger *slog.Logger, state host.StateStore, echoes *echo.Store, tracker *active.Tracker, localUser ref.UserID) *Registry {
	return &Registry{
		logger:  logger,
		state:   state,
		echoes:  echoes,
		tracker: tracker,
		local:   localUser,
		rooms:   make(map[ref.RoomID][]widget.Descriptor),
		owner:   make(map[ref.WidgetID]ref.RoomID),
	}
}

// Start subscribes to widget state and echo changes. The returned stop
// func unsubscribes.
func (r *Registry) Start() (stop func()) {
	cancelState := r.state.SubscribeState(func(event host.Event) {
		if event.Type == widget.StateEventType && event.IsState() {
			r.UpdateRoom(event.RoomID)
		}
	})
	cancelEcho := r.echoes.Subscribe(func(update echo.Update) {
		r.UpdateRoom(update.RoomID)
	})
	return func() {
		cancelState()
		cancelEcho()
	}
}

// UpdateRoom re-derives the widget list for a room from its current
// state events, with pending deletions from the echo store filtered
// out. Malformed widget events are skipped with a log line; removal
// events (empty content) drop the widget without complaint.
func (r *Registry) UpdateRoom(roomID ref.RoomID) {
	events := r.state.StateEvents(roomID, widget.StateEventType)
	events = r.echoes.Reconcile(roomID, events)

	descriptors := make([]widget.Descriptor, 0, len(events))
	for _, event := range events {
		desc, err := widget.FromStateEvent(event)
		if err != nil {
			if event.StateKey == nil || !decodedRemoval(event).IsRemoval() {
				r.logger.Warn("skipping malformed widget event",
					"room_id", roomID,
					"event_id", event.ID,
					"error", err)
			}
			continue
		}
		descriptors = append(descriptors, desc)
	}

	r.mu.Lock()
	present := make(map[ref.WidgetID]struct{}, len(descriptors))
	for _, desc := range descriptors {
		present[desc.ID] = struct{}{}
		if prev, ok := r.owner[desc.ID]; ok && prev != roomID {
			crossRoomCollisions.Inc()
			r.logger.Warn("widget ID claimed by multiple rooms",
				"widget_id", desc.ID,
				"previous_room", prev,
				"room_id", roomID)
		}
		r.owner[desc.ID] = roomID
	}
	// Release ownership of IDs this room no longer lists, so a widget
	// removed here and later re-added elsewhere is not a collision.
	for id, room := range r.owner {
		if room == roomID {
			if _, ok := present[id]; !ok {
				delete(r.owner, id)
			}
		}
	}
	if len(descriptors) == 0 {
		delete(r.rooms, roomID)
	} else {
		r.rooms[roomID] = descriptors
	}
	r.mu.Unlock()
}

func decodedRemoval(event host.Event) widget.Content {
	var content widget.Content
	if t, ok := event.Content["type"].(string); ok {
		content.Type = t
	}
	if u, ok := event.Content["url"].(string); ok {
		content.URL = u
	}
	return content
}

// Widgets returns the current widget descriptors for a room. The
// returned slice is a copy.
func (r *Registry) Widgets(roomID ref.RoomID) []widget.Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	current := r.rooms[roomID]
	if len(current) == 0 {
		return nil
	}
	out := make([]widget.Descriptor, len(current))
	copy(out, current)
	return out
}

// HasConferenceWidget reports whether the room has a conference widget,
// counting adds still pending in the echo store.
func (r *Registry) HasConferenceWidget(roomID ref.RoomID) bool {
	r.mu.Lock()
	for _, desc := range r.rooms[roomID] {
		if desc.IsType(widget.TypeConference) {
			r.mu.Unlock()
			return true
		}
	}
	r.mu.Unlock()

	events := r.state.StateEvents(roomID, widget.StateEventType)
	return r.echoes.HasPendingOfType(roomID, events, widget.TypeConference.Preferred)
}

// IsJoinedToConference reports whether the user is in the room's
// conference: the persistent widget belongs to this room and is a
// conference widget.
func (r *Registry) IsJoinedToConference(roomID ref.RoomID) bool {
	persistent, ok := r.tracker.Persistent()
	if !ok || persistent.Room != roomID {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, desc := range r.rooms[roomID] {
		if desc.ID == persistent.Widget && desc.IsType(widget.TypeConference) {
			return true
		}
	}
	return false
}
