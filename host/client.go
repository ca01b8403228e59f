// Copyright 2026 The Widgethost Authors
// SPDX-License-Identifier: Apache-2.0

package host

import (
	"context"

	"github.com/widgethost/core/ref"
)

// TimelineSource exposes the client's room timelines to the event
// feed. Implementations are expected to be cheap: RecentEvents is
// called on every candidate event during the read-up-to marker scan.
type TimelineSource interface {
	// Rooms returns all rooms the client currently knows about,
	// regardless of membership.
	Rooms() []ref.RoomID

	// RecentEvents returns up to limit events from the live timeline
	// of a room, most recent last (the server delivery order). An
	// unknown room returns nil.
	RecentEvents(roomID ref.RoomID, limit int) []Event

	// Membership returns the local user's membership in the room
	// ("join", "invite", "leave"), or "" when unknown.
	Membership(roomID ref.RoomID) string

	// HasEvent reports whether the event is present in the room's
	// live timeline. Used to detect unresolved parent relations.
	HasEvent(roomID ref.RoomID, eventID ref.EventID) bool
}

// StateStore persists and observes room state events. The widget
// registry and the store only ever touch widget state events through
// this interface; the host owns the underlying sync machinery.
type StateStore interface {
	// SendStateEvent writes a state event and returns the event ID
	// assigned by the server.
	SendStateEvent(ctx context.Context, roomID ref.RoomID, eventType, stateKey string, content any) (ref.EventID, error)

	// StateEvents returns the current state events of the given type
	// in a room, one per state key.
	StateEvents(roomID ref.RoomID, eventType string) []Event

	// SubscribeState registers a listener for state event changes
	// across all rooms. The returned cancel func unregisters it.
	// Listeners are invoked synchronously on the host's dispatch
	// goroutine and must not block.
	SubscribeState(listener func(Event)) (cancel func())
}

// AccountStore persists and observes per-account key-value data,
// where account-scoped widgets live.
type AccountStore interface {
	// AccountData returns the content stored under key, or ok=false
	// when the key has never been written.
	AccountData(key string) (content map[string]any, ok bool)

	// SetAccountData replaces the content stored under key.
	SetAccountData(ctx context.Context, key string, content any) error

	// SubscribeAccountData registers a listener for account data
	// changes. Same delivery contract as SubscribeState.
	SubscribeAccountData(listener func(key string, content map[string]any)) (cancel func())
}

// Setting keys the core reads from the Settings store.
const (
	// SettingScreenshots enables the screenshot capability for
	// widgets in a room when set to "true".
	SettingScreenshots = "widget_screenshots"

	// SettingTheme is the host's effective theme name.
	SettingTheme = "theme"

	// SettingLanguage is the user's language tag (e.g. "en").
	SettingLanguage = "language"
)

// Settings is a scoped key-value settings store. A zero RoomID scopes
// the lookup to the account.
type Settings interface {
	Value(key string, roomID ref.RoomID) (value string, ok bool)
	SetValue(key string, roomID ref.RoomID, value string) error
}

// IntegrationManager is the external widget marketplace the store and
// channels talk to for auxiliary tokens and configuration screens.
type IntegrationManager interface {
	// APIBase returns the manager's API base URL, used to recognize
	// manager-hosted widget URLs.
	APIBase() string

	// Token fetches (or returns a cached) auth token for
	// manager-hosted widgets.
	Token(ctx context.Context) (string, error)

	// Open asks the host UI to open the manager at the screen for the
	// given integration.
	Open(ctx context.Context, roomID ref.RoomID, screen, integrationID string) error
}

// ThemeWatcher reports the host's effective theme and changes to it.
type ThemeWatcher interface {
	Current() string
	Subscribe(listener func(theme string)) (cancel func())
}

// ViewedRoomSource reports which room the user is currently viewing.
// Account-scoped channels follow it; room-scoped channels ignore it.
type ViewedRoomSource interface {
	Current() ref.RoomID
	Subscribe(listener func(roomID ref.RoomID)) (cancel func())
}
