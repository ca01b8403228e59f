// Copyright 2026 The Widgethost Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/widgethost/core/host"
	"github.com/widgethost/core/ref"
)

type recordingSender struct {
	notifications []struct {
		action string
		data   any
	}
}

func (r *recordingSender) Notify(ctx context.Context, action string, data any) error {
	r.notifications = append(r.notifications, struct {
		action string
		data   any
	}{action, data})
	return nil
}

func (r *recordingSender) forwardedEventIDs() []ref.EventID {
	var ids []ref.EventID
	for _, n := range r.notifications {
		if n.action != ActionSendEvent {
			continue
		}
		ids = append(ids, n.data.(host.Event).ID)
	}
	return ids
}

type fakeTimeline struct {
	events     map[ref.RoomID][]host.Event
	membership map[ref.RoomID]string
}

func newFakeTimeline() *fakeTimeline {
	return &fakeTimeline{
		events:     make(map[ref.RoomID][]host.Event),
		membership: make(map[ref.RoomID]string),
	}
}

func (f *fakeTimeline) Rooms() []ref.RoomID {
	rooms := make([]ref.RoomID, 0, len(f.events))
	for roomID := range f.events {
		rooms = append(rooms, roomID)
	}
	return rooms
}

func (f *fakeTimeline) RecentEvents(roomID ref.RoomID, limit int) []host.Event {
	events := f.events[roomID]
	if len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events
}

func (f *fakeTimeline) Membership(roomID ref.RoomID) string {
	if m, ok := f.membership[roomID]; ok {
		return m
	}
	return host.MembershipJoin
}

func (f *fakeTimeline) HasEvent(roomID ref.RoomID, eventID ref.EventID) bool {
	for _, event := range f.events[roomID] {
		if event.ID == eventID {
			return true
		}
	}
	return false
}

func (f *fakeTimeline) append(roomID ref.RoomID, event host.Event) host.Event {
	event.RoomID = roomID
	f.events[roomID] = append(f.events[roomID], event)
	return event
}

func timelineEvent(id string) host.Event {
	return host.Event{
		ID:      ref.MustParseEventID("$" + id + ":example.org"),
		Type:    "m.room.message",
		Sender:  ref.MustParseUserID("@alice:example.org"),
		Content: map[string]any{"body": id},
	}
}

func TestFeedMarkerMonotonic(t *testing.T) {
	ctx := context.Background()
	timeline := newFakeTimeline()
	roomID := ref.MustParseRoomID("!r:example.org")
	sender := &recordingSender{}
	feed := NewFeed(sender, timeline, slog.New(slog.DiscardHandler))

	e1 := timeline.append(roomID, timelineEvent("e1"))
	e2 := timeline.append(roomID, timelineEvent("e2"))

	feed.OnTimelineEvent(ctx, e1)
	feed.OnTimelineEvent(ctx, e2)

	forwarded := sender.forwardedEventIDs()
	if len(forwarded) != 2 || forwarded[0] != e1.ID || forwarded[1] != e2.ID {
		t.Fatalf("forwarded %v, want [e1 e2]", forwarded)
	}

	// Behind the marker now; must not be forwarded again.
	feed.OnTimelineEvent(ctx, e1)
	if got := sender.forwardedEventIDs(); len(got) != 2 {
		t.Fatalf("stale event re-forwarded: %v", got)
	}
}

func TestFeedSkipsBacklogFromSeeding(t *testing.T) {
	ctx := context.Background()
	timeline := newFakeTimeline()
	roomID := ref.MustParseRoomID("!r:example.org")
	backlog := timeline.append(roomID, timelineEvent("old"))

	sender := &recordingSender{}
	feed := NewFeed(sender, timeline, slog.New(slog.DiscardHandler))

	feed.OnTimelineEvent(ctx, backlog)
	if got := sender.forwardedEventIDs(); len(got) != 0 {
		t.Fatalf("backlog replayed: %v", got)
	}

	fresh := timeline.append(roomID, timelineEvent("fresh"))
	feed.OnTimelineEvent(ctx, fresh)
	if got := sender.forwardedEventIDs(); len(got) != 1 || got[0] != fresh.ID {
		t.Fatalf("fresh event not forwarded: %v", got)
	}
}

func TestFeedOutOfOrderDecryption(t *testing.T) {
	ctx := context.Background()
	timeline := newFakeTimeline()
	roomID := ref.MustParseRoomID("!r:example.org")
	sender := &recordingSender{}
	feed := NewFeed(sender, timeline, slog.New(slog.DiscardHandler))

	e1 := timelineEvent("e1")
	e1.RoomID = roomID
	e1.Encrypted = true
	e1.Decrypting = true
	e2 := timelineEvent("e2")
	e2.RoomID = roomID
	e2.Encrypted = true
	e2.Decrypting = true

	feed.OnTimelineEvent(ctx, e1)
	feed.OnTimelineEvent(ctx, e2)
	if got := sender.forwardedEventIDs(); len(got) != 0 {
		t.Fatalf("mid-decryption events forwarded: %v", got)
	}

	// e2 decrypts first and goes out first; e1 follows later, still
	// forwarded rather than dropped.
	e2.Decrypting = false
	feed.OnDecrypted(ctx, e2)
	e1.Decrypting = false
	feed.OnDecrypted(ctx, e1)

	forwarded := sender.forwardedEventIDs()
	if len(forwarded) != 2 || forwarded[0] != e2.ID || forwarded[1] != e1.ID {
		t.Fatalf("forwarded %v, want [e2 e1]", forwarded)
	}
}

func TestFeedFailsOpenBeyondScanWindow(t *testing.T) {
	ctx := context.Background()
	timeline := newFakeTimeline()
	roomID := ref.MustParseRoomID("!r:example.org")
	sender := &recordingSender{}
	feed := NewFeed(sender, timeline, slog.New(slog.DiscardHandler))

	first := timeline.append(roomID, timelineEvent("e0"))
	feed.OnTimelineEvent(ctx, first)

	// Push the marker out of the scan window, then feed an event that
	// is not in the window either. The scan exhausts without a verdict
	// and the feed forwards.
	for i := 0; i < markerScanLimit+5; i++ {
		timeline.append(roomID, timelineEvent(fmt.Sprintf("burst%d", i)))
	}
	offWindow := timelineEvent("offwindow")
	offWindow.RoomID = roomID
	feed.OnTimelineEvent(ctx, offWindow)

	forwarded := sender.forwardedEventIDs()
	if len(forwarded) != 2 || forwarded[1] != offWindow.ID {
		t.Fatalf("fail-open forwarding broken: %v", forwarded)
	}
}

func TestFeedInviteRoomBypassesMarker(t *testing.T) {
	ctx := context.Background()
	timeline := newFakeTimeline()
	roomID := ref.MustParseRoomID("!invite:example.org")
	timeline.membership[roomID] = host.MembershipInvite

	sender := &recordingSender{}
	feed := NewFeed(sender, timeline, slog.New(slog.DiscardHandler))

	event := timeline.append(roomID, timelineEvent("preview"))
	feed.OnTimelineEvent(ctx, event)
	feed.OnTimelineEvent(ctx, event)

	// Invite previews always forward and never advance the marker.
	if got := sender.forwardedEventIDs(); len(got) != 2 {
		t.Fatalf("invite preview events filtered: %v", got)
	}
}

func TestFeedStateEventsBypassMarker(t *testing.T) {
	ctx := context.Background()
	timeline := newFakeTimeline()
	roomID := ref.MustParseRoomID("!r:example.org")
	sender := &recordingSender{}
	feed := NewFeed(sender, timeline, slog.New(slog.DiscardHandler))

	stateKey := ""
	event := timeline.append(roomID, host.Event{
		ID:       ref.MustParseEventID("$topic:example.org"),
		Type:     "m.room.topic",
		Sender:   ref.MustParseUserID("@alice:example.org"),
		StateKey: &stateKey,
		Content:  map[string]any{"topic": "hello"},
	})
	feed.OnStateEvent(ctx, event)
	if got := sender.forwardedEventIDs(); len(got) != 1 {
		t.Fatalf("state event not forwarded: %v", got)
	}
}

func TestFeedToDevice(t *testing.T) {
	ctx := context.Background()
	sender := &recordingSender{}
	feed := NewFeed(sender, newFakeTimeline(), slog.New(slog.DiscardHandler))

	feed.OnToDevice(ctx, host.ToDeviceEvent{
		Type:   "m.call.invite",
		Sender: ref.MustParseUserID("@alice:example.org"),
	})
	feed.OnToDevice(ctx, host.ToDeviceEvent{
		Type:             "m.call.invite",
		Sender:           ref.MustParseUserID("@alice:example.org"),
		DecryptionFailed: true,
	})

	if len(sender.notifications) != 1 || sender.notifications[0].action != ActionSendToDevice {
		t.Fatalf("to-device forwarding wrong: %+v", sender.notifications)
	}
}
