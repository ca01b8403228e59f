// Copyright 2026 The Widgethost Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/widgethost/core/host"
	"github.com/widgethost/core/ref"
)

var (
	eventsForwarded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "widgethost",
		Subsystem: "feed",
		Name:      "events_forwarded_total",
		Help:      "Events forwarded to widgets across all feeds.",
	})
	eventsSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "widgethost",
		Subsystem: "feed",
		Name:      "events_suppressed_total",
		Help:      "Events dropped as already-seen by the read-up-to marker.",
	})
)

// markerScanLimit caps the backward timeline scan when deciding
// whether an event is behind the read-up-to marker. When the marker
// has scrolled past this window the feed fails open and forwards,
// which at worst duplicates an event to the widget.
const markerScanLimit = 100

// eventSender is the part of Conn the feed needs.
type eventSender interface {
	Notify(ctx context.Context, action string, data any) error
}

// Feed forwards client events to one widget, deduplicating timeline
// events with a per-room read-up-to marker so a widget that starts
// messaging mid-session does not receive replayed backlog.
//
// Nothing in the feed ever propagates an error to the host's event
// dispatch: a single bad widget must not break delivery to the rest.
type Feed struct {
	sender   eventSender
	timeline host.TimelineSource
	logger   *slog.Logger

	mu sync.Mutex
	// readUpTo[room] is the newest event already forwarded (or skipped
	// as backlog) for that room.
	readUpTo map[ref.RoomID]ref.EventID
	// parked holds events still mid-decryption, retried in the order
	// decryption completes.
	parked map[ref.EventID]struct{}
}

// NewFeed seeds the read-up-to marker of every known room to its most
// recent timeline event, so forwarding starts from "now".
func NewFeed(sender eventSender, timeline host.TimelineSource, logger *slog.Logger) *Feed {
	f := &Feed{
		sender:   sender,
		timeline: timeline,
		logger:   logger,
		readUpTo: make(map[ref.RoomID]ref.EventID),
		parked:   make(map[ref.EventID]struct{}),
	}
	for _, roomID := range timeline.Rooms() {
		recent := timeline.RecentEvents(roomID, 1)
		if len(recent) > 0 {
			f.readUpTo[roomID] = recent[len(recent)-1].ID
		}
	}
	return f
}

// OnTimelineEvent handles one observed timeline event. Mid-decryption
// events are parked for OnDecrypted; everything else goes through the
// marker check.
func (f *Feed) OnTimelineEvent(ctx context.Context, event host.Event) {
	if event.Encrypted && event.Decrypting {
		f.mu.Lock()
		f.parked[event.ID] = struct{}{}
		f.mu.Unlock()
		return
	}
	if event.DecryptionFailed {
		return
	}

	f.mu.Lock()
	if _, wasParked := f.parked[event.ID]; wasParked {
		// Already deferred once; decryption resolved elsewhere. Forward
		// without re-running the marker check.
		delete(f.parked, event.ID)
		f.mu.Unlock()
		f.forward(ctx, event)
		return
	}
	f.mu.Unlock()

	if f.shouldForward(event) {
		f.forward(ctx, event)
	} else {
		eventsSuppressed.Inc()
	}
}

// OnDecrypted handles an event whose decryption just completed. Parked
// events are forwarded immediately, in decryption-completion order,
// so one slow decryption never blocks the rest of the queue.
func (f *Feed) OnDecrypted(ctx context.Context, event host.Event) {
	f.mu.Lock()
	_, wasParked := f.parked[event.ID]
	delete(f.parked, event.ID)
	f.mu.Unlock()

	if !wasParked {
		f.OnTimelineEvent(ctx, event)
		return
	}
	if event.DecryptionFailed {
		return
	}
	f.forward(ctx, event)
}

// OnStateEvent forwards a room state change. State events bypass the
// marker entirely.
func (f *Feed) OnStateEvent(ctx context.Context, event host.Event) {
	f.forward(ctx, event)
}

// OnToDevice forwards a to-device message unless its decryption
// definitively failed.
func (f *Feed) OnToDevice(ctx context.Context, event host.ToDeviceEvent) {
	if event.DecryptionFailed {
		return
	}
	if err := f.sender.Notify(ctx, ActionSendToDevice, event); err != nil {
		f.logger.Warn("forwarding to-device message to widget failed",
			"type", event.Type,
			"error", err)
	}
}

// shouldForward runs the read-up-to marker algorithm and advances the
// marker when the event is new.
func (f *Feed) shouldForward(event host.Event) bool {
	roomID := event.RoomID
	if roomID.IsZero() {
		return true
	}

	membership := f.timeline.Membership(roomID)

	// Invite-preview timelines are backfilled and unreliable for
	// marker comparisons. Events with an unresolved parent relation
	// are not in timeline order either. Both skip the check.
	if membership == host.MembershipInvite {
		return true
	}
	if parent := event.RelatesTo(); !parent.IsZero() && !f.timeline.HasEvent(roomID, parent) {
		return true
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	marker := f.readUpTo[roomID]
	if marker == event.ID {
		return false
	}

	// Walk the timeline backwards. Finding the candidate before the
	// marker means the event is newer than everything forwarded so
	// far; finding the marker first means the candidate was already
	// seen. Exhausting the window fails open.
	recent := f.timeline.RecentEvents(roomID, markerScanLimit)
	for i := len(recent) - 1; i >= 0; i-- {
		switch recent[i].ID {
		case event.ID:
			f.advance(roomID, event.ID, membership)
			return true
		case marker:
			return false
		}
	}
	f.advance(roomID, event.ID, membership)
	return true
}

// advance moves the marker. Only joined rooms advance: marker state
// from a preview or a parted room would poison the scan after a later
// join.
func (f *Feed) advance(roomID ref.RoomID, eventID ref.EventID, membership string) {
	if membership == host.MembershipJoin {
		f.readUpTo[roomID] = eventID
	}
}

func (f *Feed) forward(ctx context.Context, event host.Event) {
	if err := f.sender.Notify(ctx, ActionSendEvent, event); err != nil {
		f.logger.Warn("forwarding event to widget failed",
			"event_id", event.ID,
			"room_id", event.RoomID,
			"error", err)
		return
	}
	eventsForwarded.Inc()
}
