// Copyright 2026 The Widgethost Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "fmt"

// Identity is the process-unique key for one widget instance: the
// widget ID plus its scope. Room-scoped widgets carry the room they
// were added in; account-scoped widgets (no room) carry the local
// user ID as the scope disambiguator instead.
//
// Identity is the sole key for messaging-channel lookup and
// persistence tracking. It is stable for the lifetime of a widget
// instance and equality is plain struct equality, so Identity is
// usable directly as a map key.
type Identity struct {
	Widget WidgetID

	// Room is set for room-scoped widgets and zero for account-scoped
	// ones. Exactly one of Room and User is set.
	Room RoomID

	// User is set for account-scoped widgets: the local user whose
	// account data names the widget.
	User UserID
}

// RoomIdentity builds the identity of a room-scoped widget.
func RoomIdentity(widgetID WidgetID, roomID RoomID) (Identity, error) {
	if widgetID.IsZero() {
		return Identity{}, fmt.Errorf("room identity requires a widget ID")
	}
	if roomID.IsZero() {
		return Identity{}, fmt.Errorf("room identity for widget %q requires a room ID", widgetID)
	}
	return Identity{Widget: widgetID, Room: roomID}, nil
}

// AccountIdentity builds the identity of an account-scoped widget.
func AccountIdentity(widgetID WidgetID, userID UserID) (Identity, error) {
	if widgetID.IsZero() {
		return Identity{}, fmt.Errorf("account identity requires a widget ID")
	}
	if userID.IsZero() {
		return Identity{}, fmt.Errorf("account identity for widget %q requires a user ID", widgetID)
	}
	return Identity{Widget: widgetID, User: userID}, nil
}

// IsZero reports whether the Identity is the zero value.
func (i Identity) IsZero() bool { return i.Widget.IsZero() }

// IsAccount reports whether the widget is account-scoped (no room).
func (i Identity) IsAccount() bool { return i.Room.IsZero() }

// Key returns the deterministic, collision-free string form of the
// identity. The scope kind is part of the key, so a room-scoped and
// an account-scoped widget sharing a widget ID never collide, and two
// rooms claiming the same widget ID produce distinct keys:
//
//	room_!abc:example.org_mywidget
//	user_@alice:example.org_mywidget
//
// Pure function of the identity; no failure modes.
func (i Identity) Key() string {
	if i.Room.IsZero() {
		return "user_" + i.User.String() + "_" + i.Widget.String()
	}
	return "room_" + i.Room.String() + "_" + i.Widget.String()
}

// String returns the identity key. Identities log as their key form.
func (i Identity) String() string { return i.Key() }
