// Copyright 2026 The Widgethost Authors
// SPDX-License-Identifier: Apache-2.0

package host

import (
	"github.com/widgethost/core/ref"
)

// Membership values for the local user's state in a room.
const (
	MembershipJoin   = "join"
	MembershipInvite = "invite"
	MembershipLeave  = "leave"
)

// Event is a room event as delivered by the embedding client. It
// covers timeline and state events; StateKey is non-nil exactly for
// state events.
type Event struct {
	ID             ref.EventID    `json:"event_id"`
	Type           string         `json:"type"`
	Sender         ref.UserID     `json:"sender"`
	RoomID         ref.RoomID     `json:"room_id,omitempty"`
	StateKey       *string        `json:"state_key,omitempty"`
	OriginServerTS int64          `json:"origin_server_ts"`
	Content        map[string]any `json:"content"`

	// Encrypted is true when the event arrived encrypted, whether or
	// not it has been decrypted yet.
	Encrypted bool `json:"-"`

	// Decrypting is true while the client's crypto layer is still
	// working on the event. Such events are parked by the feed and
	// retried when the client re-delivers them decrypted.
	Decrypting bool `json:"-"`

	// DecryptionFailed is true when decryption definitively failed.
	// Failed events are never forwarded to widgets.
	DecryptionFailed bool `json:"-"`
}

// IsState reports whether the event is a state event.
func (e Event) IsState() bool { return e.StateKey != nil }

// RelatesTo extracts the parent event ID from an m.relates_to content
// block. Returns the zero EventID when the event has no relation or
// the relation is malformed.
func (e Event) RelatesTo() ref.EventID {
	relation, ok := e.Content["m.relates_to"].(map[string]any)
	if !ok {
		return ref.EventID{}
	}
	raw, ok := relation["event_id"].(string)
	if !ok {
		return ref.EventID{}
	}
	parent, err := ref.ParseEventID(raw)
	if err != nil {
		return ref.EventID{}
	}
	return parent
}

// ToDeviceEvent is a direct device-to-device message delivered by the
// embedding client outside any room.
type ToDeviceEvent struct {
	Type    string         `json:"type"`
	Sender  ref.UserID     `json:"sender"`
	Content map[string]any `json:"content"`

	// Encrypted is true when the message arrived over an encrypted
	// channel.
	Encrypted bool `json:"-"`

	// DecryptionFailed is true when decryption definitively failed.
	DecryptionFailed bool `json:"-"`
}
