// Copyright 2026 The Widgethost Authors
// SPDX-License-Identifier: Apache-2.0

package widget

import (
	"fmt"

	"github.com/widgethost/core/host"
	"github.com/widgethost/core/ref"
)

// StateEventType is the room state event type carrying widget
// definitions. One state key per widget; the state key is the widget
// ID and empty content means "removed".
const StateEventType = "im.vector.modular.widgets"

// AccountDataKey is the account-data key holding the map of
// account-scoped widgets, keyed by widget ID.
const AccountDataKey = "m.widgets"

// Content is the wire shape of a widget definition: the content of a
// widget state event, or one entry of the account-data widget map.
//
// The zero value (in particular an empty URL) is the removal marker.
type Content struct {
	ID            string         `json:"id,omitempty"`
	Type          string         `json:"type,omitempty"`
	URL           string         `json:"url,omitempty"`
	Name          string         `json:"name,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
	AvatarURL     string         `json:"avatar_url,omitempty"`
	CreatorUserID string         `json:"creatorUserId,omitempty"`
}

// IsRemoval reports whether the content marks a widget as removed.
// A widget needs both a type and a URL to exist; anything less is a
// tombstone.
func (c Content) IsRemoval() bool { return c.Type == "" || c.URL == "" }

// Descriptor is a fully resolved widget: Content plus the identity
// facts that locate it (room, backing event, creator).
//
// A Descriptor with a zero EventID is virtual: it has no backing
// state event (e.g. a conference widget rendered locally without
// being persisted to room state).
type Descriptor struct {
	ID            ref.WidgetID
	Type          string
	URL           string
	Name          string
	Data          map[string]any
	AvatarURL     string
	CreatorUserID ref.UserID

	// RoomID is zero for account-scoped widgets.
	RoomID ref.RoomID

	// EventID is the backing state event, zero for virtual widgets.
	EventID ref.EventID
}

// Virtual reports whether the widget has no backing state event.
func (d Descriptor) Virtual() bool { return d.EventID.IsZero() }

// Identity returns the process-unique identity of this widget
// instance. localUser disambiguates account-scoped widgets and is
// ignored for room-scoped ones.
func (d Descriptor) Identity(localUser ref.UserID) (ref.Identity, error) {
	if d.RoomID.IsZero() {
		return ref.AccountIdentity(d.ID, localUser)
	}
	return ref.RoomIdentity(d.ID, d.RoomID)
}

// IsType reports whether the descriptor's wire type matches t.
func (d Descriptor) IsType(t Type) bool { return t.Matches(d.Type) }

// NewDescriptor validates a content blob into a Descriptor.
// Malformed input (missing id, type, or url) is a construction-time
// error: callers render an inline error state instead of mounting the
// widget.
//
// fallbackCreator fills CreatorUserID for old events that predate the
// field.
func NewDescriptor(content Content, roomID ref.RoomID, eventID ref.EventID, fallbackCreator ref.UserID) (Descriptor, error) {
	if content.IsRemoval() {
		return Descriptor{}, fmt.Errorf("widget content for %q has no type or url", content.ID)
	}
	widgetID, err := ref.ParseWidgetID(content.ID)
	if err != nil {
		return Descriptor{}, fmt.Errorf("widget descriptor: %w", err)
	}

	creator := fallbackCreator
	if content.CreatorUserID != "" {
		parsed, err := ref.ParseUserID(content.CreatorUserID)
		if err != nil {
			return Descriptor{}, fmt.Errorf("widget %q creator: %w", content.ID, err)
		}
		creator = parsed
	}

	name := content.Name
	if name == "" {
		name = content.Type
	}

	return Descriptor{
		ID:            widgetID,
		Type:          content.Type,
		URL:           content.URL,
		Name:          name,
		Data:          content.Data,
		AvatarURL:     content.AvatarURL,
		CreatorUserID: creator,
		RoomID:        roomID,
		EventID:       eventID,
	}, nil
}

// FromStateEvent resolves a widget state event into a Descriptor. The
// state key is authoritative for the widget ID; content that names a
// different ID is normalized to the state key.
func FromStateEvent(event host.Event) (Descriptor, error) {
	if event.StateKey == nil {
		return Descriptor{}, fmt.Errorf("widget event %s has no state key", event.ID)
	}
	content := decodeContent(event.Content)
	content.ID = *event.StateKey
	return NewDescriptor(content, event.RoomID, event.ID, event.Sender)
}

// FromAccountEntry resolves one entry of the account-data widget map.
// Account widgets have no backing room state event, so the resulting
// descriptor is virtual and account-scoped.
func FromAccountEntry(widgetID string, entry map[string]any, owner ref.UserID) (Descriptor, error) {
	// Account entries wrap the content in a pseudo-event shape
	// {content: {...}, sender, state_key, type, id}.
	inner, ok := entry["content"].(map[string]any)
	if !ok {
		return Descriptor{}, fmt.Errorf("account widget %q has no content", widgetID)
	}
	content := decodeContent(inner)
	content.ID = widgetID
	return NewDescriptor(content, ref.RoomID{}, ref.EventID{}, owner)
}

// decodeContent picks the widget fields out of a generic content map.
// Non-string values for string fields are treated as absent rather
// than erroring, matching how permissive the original events are.
func decodeContent(raw map[string]any) Content {
	stringField := func(key string) string {
		value, _ := raw[key].(string)
		return value
	}
	content := Content{
		ID:            stringField("id"),
		Type:          stringField("type"),
		URL:           stringField("url"),
		Name:          stringField("name"),
		AvatarURL:     stringField("avatar_url"),
		CreatorUserID: stringField("creatorUserId"),
	}
	if data, ok := raw["data"].(map[string]any); ok {
		content.Data = data
	}
	return content
}
