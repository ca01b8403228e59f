// Copyright 2026 The Widgethost Authors
// SPDX-License-Identifier: Apache-2.0

package echo

import (
	"testing"

	"github.com/widgethost/core/host"
	"github.com/widgethost/core/ref"
)

func widgetEvent(t *testing.T, widgetID string, content map[string]any) host.Event {
	t.Helper()
	stateKey := widgetID
	return host.Event{
		ID:       ref.MustParseEventID("$" + widgetID + ":example.org"),
		Type:     "im.vector.modular.widgets",
		Sender:   ref.MustParseUserID("@alice:example.org"),
		StateKey: &stateKey,
		Content:  content,
	}
}

func TestReconcileFiltersPendingDeletion(t *testing.T) {
	store := NewStore()
	roomID := ref.MustParseRoomID("!room:example.org")

	authoritative := []host.Event{
		widgetEvent(t, "w1", map[string]any{"type": "m.custom", "url": "https://w.example"}),
	}

	// Empty content is a pending removal.
	store.Set(roomID, ref.MustParseWidgetID("w1"), map[string]any{})

	got := store.Reconcile(roomID, authoritative)
	if len(got) != 0 {
		t.Fatalf("Reconcile returned %d events, want 0", len(got))
	}
}

func TestReconcileKeepsPendingAdd(t *testing.T) {
	store := NewStore()
	roomID := ref.MustParseRoomID("!room:example.org")

	authoritative := []host.Event{
		widgetEvent(t, "w1", map[string]any{"type": "m.custom", "url": "https://w.example"}),
	}

	// An add echo whose authoritative event already exists must not
	// hide it.
	store.Set(roomID, ref.MustParseWidgetID("w1"), map[string]any{
		"type": "m.custom",
		"url":  "https://w.example/v2",
	})

	got := store.Reconcile(roomID, authoritative)
	if len(got) != 1 {
		t.Fatalf("Reconcile returned %d events, want 1", len(got))
	}
	if got[0].Content["url"] != "https://w.example" {
		t.Fatalf("Reconcile substituted echo content: %v", got[0].Content)
	}
}

func TestReconcileScopedToRoom(t *testing.T) {
	store := NewStore()
	roomA := ref.MustParseRoomID("!a:example.org")
	roomB := ref.MustParseRoomID("!b:example.org")

	store.Set(roomA, ref.MustParseWidgetID("w1"), map[string]any{})

	authoritative := []host.Event{
		widgetEvent(t, "w1", map[string]any{"type": "m.custom", "url": "https://w.example"}),
	}
	if got := store.Reconcile(roomB, authoritative); len(got) != 1 {
		t.Fatalf("echo in room A filtered events in room B")
	}
}

func TestRemoveClearsEcho(t *testing.T) {
	store := NewStore()
	roomID := ref.MustParseRoomID("!room:example.org")
	widgetID := ref.MustParseWidgetID("w1")

	store.Set(roomID, widgetID, map[string]any{})
	store.Remove(roomID, widgetID)

	authoritative := []host.Event{
		widgetEvent(t, "w1", map[string]any{"type": "m.custom", "url": "https://w.example"}),
	}
	if got := store.Reconcile(roomID, authoritative); len(got) != 1 {
		t.Fatalf("removed echo still filtering events")
	}
}

func TestHasPendingOfType(t *testing.T) {
	store := NewStore()
	roomID := ref.MustParseRoomID("!room:example.org")

	store.Set(roomID, ref.MustParseWidgetID("sticker1"), map[string]any{
		"type": "m.stickerpicker",
		"url":  "https://picker.example",
	})

	if !store.HasPendingOfType(roomID, nil, "m.stickerpicker") {
		t.Fatal("pending stickerpicker add not reported")
	}
	if store.HasPendingOfType(roomID, nil, "m.custom") {
		t.Fatal("pending add reported for wrong type")
	}

	// Once the authoritative event lands the echo no longer counts as
	// pending, even before Remove runs.
	authoritative := []host.Event{
		widgetEvent(t, "sticker1", map[string]any{"type": "m.stickerpicker", "url": "https://picker.example"}),
	}
	if store.HasPendingOfType(roomID, authoritative, "m.stickerpicker") {
		t.Fatal("confirmed echo still reported as pending")
	}
}

func TestSubscribeEmitsOnSetAndRemove(t *testing.T) {
	store := NewStore()
	roomID := ref.MustParseRoomID("!room:example.org")
	widgetID := ref.MustParseWidgetID("w1")

	var updates []Update
	cancel := store.Subscribe(func(u Update) { updates = append(updates, u) })
	defer cancel()

	store.Set(roomID, widgetID, map[string]any{})
	store.Remove(roomID, widgetID)
	store.Remove(roomID, widgetID) // no echo left, must not emit

	if len(updates) != 2 {
		t.Fatalf("got %d updates, want 2", len(updates))
	}
	for _, u := range updates {
		if u.RoomID != roomID || u.WidgetID != widgetID {
			t.Fatalf("unexpected update %+v", u)
		}
	}
}
