// Copyright 2026 The Widgethost Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"log/slog"
	"testing"

	"github.com/widgethost/core/ref"
	"github.com/widgethost/core/widget"
	"github.com/widgethost/core/widget/active"
)

func newTestChannel(t *testing.T, widgetID, roomID string, tracker *active.Tracker) *Channel {
	t.Helper()
	channel, err := NewChannel(ChannelConfig{
		Descriptor: widget.Descriptor{
			ID:            ref.MustParseWidgetID(widgetID),
			Type:          "m.custom",
			URL:           "https://widget.example/app",
			CreatorUserID: ref.MustParseUserID("@alice:example.org"),
			RoomID:        ref.MustParseRoomID(roomID),
		},
		LocalUser:     ref.MustParseUserID("@alice:example.org"),
		TrustedOrigin: testWidgetOrigin,
		Logger:        slog.New(slog.DiscardHandler),
		Timeline:      newFakeTimeline(),
		Tracker:       tracker,
		Modals:        NewModalSlot(),
	})
	if err != nil {
		t.Fatalf("NewChannel: %v", err)
	}
	return channel
}

func TestRegistryKeysByIdentity(t *testing.T) {
	registry := NewRegistry(slog.New(slog.DiscardHandler))
	tracker := active.NewTracker()

	// Same widget ID in two rooms: two distinct identities, two
	// channels, neither lookup returns the other.
	chA := newTestChannel(t, "w", "!a:example.org", tracker)
	chB := newTestChannel(t, "w", "!b:example.org", tracker)
	registry.Store(chA)
	registry.Store(chB)

	if got := registry.Get(chA.Identity()); got != chA {
		t.Fatal("lookup for room A returned the wrong channel")
	}
	if got := registry.Get(chB.Identity()); got != chB {
		t.Fatal("lookup for room B returned the wrong channel")
	}
}

func TestRegistryStopMessaging(t *testing.T) {
	registry := NewRegistry(slog.New(slog.DiscardHandler))
	tracker := active.NewTracker()
	channel := newTestChannel(t, "w", "!r:example.org", tracker)
	registry.Store(channel)

	hostEnd, _ := MemoryPair(testHostOrigin, testWidgetOrigin)
	channel.StartMessaging(hostEnd)

	// Persistent widgets survive a soft stop and stay registered.
	tracker.SetPersistence(channel.Identity(), true)
	registry.StopMessaging(channel.Identity(), false)
	if registry.Get(channel.Identity()) != channel {
		t.Fatal("persistent channel deregistered by soft stop")
	}

	registry.StopMessaging(channel.Identity(), true)
	if registry.Get(channel.Identity()) != nil {
		t.Fatal("channel still registered after forced stop")
	}
	if channel.State() != StateStopped {
		t.Fatalf("state %v after forced stop", channel.State())
	}
}

func TestRegistryStoreReplaces(t *testing.T) {
	registry := NewRegistry(slog.New(slog.DiscardHandler))
	tracker := active.NewTracker()
	first := newTestChannel(t, "w", "!r:example.org", tracker)
	second := newTestChannel(t, "w", "!r:example.org", tracker)

	registry.Store(first)
	registry.Store(second)
	if got := registry.Get(first.Identity()); got != second {
		t.Fatal("store did not replace the prior channel")
	}
}

func TestDestroyPersistentStopsChannel(t *testing.T) {
	registry := NewRegistry(slog.New(slog.DiscardHandler))
	tracker := active.NewTracker()
	channel := newTestChannel(t, "w", "!r:example.org", tracker)
	registry.Store(channel)

	hostEnd, _ := MemoryPair(testHostOrigin, testWidgetOrigin)
	channel.StartMessaging(hostEnd)
	tracker.SetPersistence(channel.Identity(), true)

	tracker.DestroyPersistent(channel.Identity(), registry)

	if channel.State() != StateStopped {
		t.Fatalf("state %v, want stopped", channel.State())
	}
	if registry.Get(channel.Identity()) != nil {
		t.Fatal("channel still registered")
	}
	if tracker.IsPersistent(channel.Identity()) {
		t.Fatal("persistent slot not cleared")
	}
}

func TestRegistryStopAll(t *testing.T) {
	registry := NewRegistry(slog.New(slog.DiscardHandler))
	tracker := active.NewTracker()
	channel := newTestChannel(t, "w", "!r:example.org", tracker)
	registry.Store(channel)
	hostEnd, _ := MemoryPair(testHostOrigin, testWidgetOrigin)
	channel.StartMessaging(hostEnd)

	registry.StopAll()
	if registry.Get(channel.Identity()) != nil {
		t.Fatal("channel survived StopAll")
	}
	if channel.State() != StateStopped {
		t.Fatalf("state %v after StopAll", channel.State())
	}
}
