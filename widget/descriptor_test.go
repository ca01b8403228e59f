// Copyright 2026 The Widgethost Authors
// SPDX-License-Identifier: Apache-2.0

package widget

import (
	"testing"

	"github.com/widgethost/core/host"
	"github.com/widgethost/core/ref"
)

func stateKey(s string) *string { return &s }

func TestFromStateEvent(t *testing.T) {
	event := host.Event{
		ID:       ref.MustParseEventID("$ev1"),
		Type:     StateEventType,
		Sender:   ref.MustParseUserID("@bob:example.org"),
		RoomID:   ref.MustParseRoomID("!room:example.org"),
		StateKey: stateKey("mywidget"),
		Content: map[string]any{
			"type": "m.custom",
			"url":  "https://w.example/?u=$matrix_user_id",
			"name": "My Widget",
			"data": map[string]any{"title": "hello"},
		},
	}

	descriptor, err := FromStateEvent(event)
	if err != nil {
		t.Fatalf("FromStateEvent: %v", err)
	}
	if descriptor.ID.String() != "mywidget" {
		t.Errorf("ID = %q", descriptor.ID)
	}
	if descriptor.Virtual() {
		t.Error("state-backed widget reported virtual")
	}
	if descriptor.CreatorUserID.String() != "@bob:example.org" {
		t.Errorf("creator = %q, want sender fallback", descriptor.CreatorUserID)
	}
	if descriptor.Data["title"] != "hello" {
		t.Errorf("data lost: %v", descriptor.Data)
	}

	identity, err := descriptor.Identity(ref.MustParseUserID("@alice:example.org"))
	if err != nil {
		t.Fatalf("Identity: %v", err)
	}
	if identity.IsAccount() {
		t.Error("room widget produced account identity")
	}
}

func TestFromStateEventMalformed(t *testing.T) {
	base := host.Event{
		ID:       ref.MustParseEventID("$ev1"),
		Sender:   ref.MustParseUserID("@bob:example.org"),
		RoomID:   ref.MustParseRoomID("!room:example.org"),
		StateKey: stateKey("w"),
	}

	t.Run("empty content is removal, not a widget", func(t *testing.T) {
		event := base
		event.Content = map[string]any{}
		if _, err := FromStateEvent(event); err == nil {
			t.Error("expected error for tombstone content")
		}
	})

	t.Run("missing url", func(t *testing.T) {
		event := base
		event.Content = map[string]any{"type": "m.custom"}
		if _, err := FromStateEvent(event); err == nil {
			t.Error("expected error for missing url")
		}
	})

	t.Run("no state key", func(t *testing.T) {
		event := base
		event.StateKey = nil
		event.Content = map[string]any{"type": "m.custom", "url": "https://w"}
		if _, err := FromStateEvent(event); err == nil {
			t.Error("expected error for missing state key")
		}
	})
}

func TestFromAccountEntry(t *testing.T) {
	owner := ref.MustParseUserID("@alice:example.org")
	entry := map[string]any{
		"content": map[string]any{
			"type": TypeStickerpicker.Preferred,
			"url":  "https://stickers.example/picker",
			"name": "Stickers",
		},
		"sender":    "@alice:example.org",
		"state_key": "picker1",
	}

	descriptor, err := FromAccountEntry("picker1", entry, owner)
	if err != nil {
		t.Fatalf("FromAccountEntry: %v", err)
	}
	if !descriptor.Virtual() {
		t.Error("account widget should be virtual")
	}
	if !descriptor.IsType(TypeStickerpicker) {
		t.Errorf("type = %q", descriptor.Type)
	}
	identity, err := descriptor.Identity(owner)
	if err != nil {
		t.Fatalf("Identity: %v", err)
	}
	if !identity.IsAccount() {
		t.Error("account widget produced room identity")
	}
}

func TestTypeMatches(t *testing.T) {
	if !TypeConference.Matches("jitsi") || !TypeConference.Matches("m.jitsi") {
		t.Error("conference type must match legacy and preferred names")
	}
	if TypeConference.Matches("m.custom") {
		t.Error("conference type matched unrelated name")
	}
}

func TestCapabilityParsing(t *testing.T) {
	if ParseCapability("m.always_on_screen") != CapabilityAlwaysOnScreen {
		t.Error("known capability did not parse")
	}
	if ParseCapability("org.example.made_up") != CapabilityUnknown {
		t.Error("unknown capability did not map to CapabilityUnknown")
	}

	allowed := NewCapabilitySet(CapabilityAlwaysOnScreen, CapabilityReceiveTerminate)
	granted := allowed.Intersect([]string{
		"m.always_on_screen",
		"m.sticker",              // requested but not allowed
		"org.example.made_up",    // unknown: inert
	})
	if !granted.Has(CapabilityAlwaysOnScreen) {
		t.Error("allowed+requested capability not granted")
	}
	if granted.Has(CapabilityStickerSending) {
		t.Error("granted exceeds allow-list")
	}
	if granted.Has(CapabilityReceiveTerminate) {
		t.Error("granted exceeds requested set")
	}
	if len(granted.Strings()) != 1 {
		t.Errorf("granted strings = %v", granted.Strings())
	}
}
