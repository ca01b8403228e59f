// Copyright 2026 The Widgethost Authors
// SPDX-License-Identifier: Apache-2.0

package host

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"

	"github.com/widgethost/core/lib/emitter"
	"github.com/widgethost/core/ref"
)

// Compile-time interface checks.
var (
	_ TimelineSource   = (*MemoryClient)(nil)
	_ StateStore       = (*MemoryClient)(nil)
	_ AccountStore     = (*MemoryClient)(nil)
	_ Settings         = (*MemoryClient)(nil)
	_ ThemeWatcher     = (*MemoryClient)(nil)
	_ ViewedRoomSource = viewedRoomView{}
)

// MemoryClient is an in-process implementation of every host
// interface. It backs the daemon's standalone mode and the tests of
// the layers above; a real deployment substitutes the embedding
// client's own implementations.
type MemoryClient struct {
	mu         sync.Mutex
	timelines  map[ref.RoomID][]Event
	membership map[ref.RoomID]string
	state      map[ref.RoomID]map[string]map[string]Event // type -> state key
	account    map[string]map[string]any
	settings   map[string]string
	theme      string
	viewedRoom ref.RoomID
	nextEvent  int

	timelineEvents emitter.Emitter[Event]
	stateEvents    emitter.Emitter[Event]
	accountEvents  emitter.Emitter[accountChange]
	themeChanges   emitter.Emitter[string]
	viewedChanges  emitter.Emitter[ref.RoomID]
}

type accountChange struct {
	key     string
	content map[string]any
}

// NewMemoryClient creates an empty client with the light theme and no
// rooms.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		timelines:  make(map[ref.RoomID][]Event),
		membership: make(map[ref.RoomID]string),
		state:      make(map[ref.RoomID]map[string]map[string]Event),
		account:    make(map[string]map[string]any),
		settings:   make(map[string]string),
		theme:      "light",
	}
}

// JoinRoom registers a room with "join" membership.
func (m *MemoryClient) JoinRoom(roomID ref.RoomID) {
	m.mu.Lock()
	if _, ok := m.timelines[roomID]; !ok {
		m.timelines[roomID] = nil
	}
	m.membership[roomID] = MembershipJoin
	m.mu.Unlock()
}

// SetMembership overrides the local user's membership in a room.
func (m *MemoryClient) SetMembership(roomID ref.RoomID, membership string) {
	m.mu.Lock()
	m.membership[roomID] = membership
	m.mu.Unlock()
}

// AddTimelineEvent appends an event to a room's live timeline and
// notifies timeline subscribers.
func (m *MemoryClient) AddTimelineEvent(roomID ref.RoomID, event Event) {
	event.RoomID = roomID
	m.mu.Lock()
	m.timelines[roomID] = append(m.timelines[roomID], event)
	m.mu.Unlock()
	m.timelineEvents.Emit(event)
}

// SubscribeTimeline registers a listener for new timeline events. Not
// part of TimelineSource; the daemon uses it to drive channel feeds.
func (m *MemoryClient) SubscribeTimeline(listener func(Event)) (cancel func()) {
	return m.timelineEvents.Subscribe(listener)
}

// Rooms implements TimelineSource.
func (m *MemoryClient) Rooms() []ref.RoomID {
	m.mu.Lock()
	defer m.mu.Unlock()
	rooms := make([]ref.RoomID, 0, len(m.timelines))
	for roomID := range m.timelines {
		rooms = append(rooms, roomID)
	}
	return rooms
}

// RecentEvents implements TimelineSource.
func (m *MemoryClient) RecentEvents(roomID ref.RoomID, limit int) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := m.timelines[roomID]
	if len(events) > limit {
		events = events[len(events)-limit:]
	}
	out := make([]Event, len(events))
	copy(out, events)
	return out
}

// Membership implements TimelineSource.
func (m *MemoryClient) Membership(roomID ref.RoomID) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.membership[roomID]
}

// HasEvent implements TimelineSource.
func (m *MemoryClient) HasEvent(roomID ref.RoomID, eventID ref.EventID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, event := range m.timelines[roomID] {
		if event.ID == eventID {
			return true
		}
	}
	return false
}

// SendStateEvent implements StateStore. The event is assigned a
// locally unique ID, applied to current state, appended to the room
// timeline, and fanned out to state subscribers.
func (m *MemoryClient) SendStateEvent(ctx context.Context, roomID ref.RoomID, eventType, stateKey string, content any) (ref.EventID, error) {
	if err := ctx.Err(); err != nil {
		return ref.EventID{}, err
	}

	body, ok := content.(map[string]any)
	if !ok {
		body = structToMap(content)
	}

	m.mu.Lock()
	m.nextEvent++
	event := Event{
		ID:       ref.MustParseEventID(eventIDForSeq(m.nextEvent)),
		Type:     eventType,
		RoomID:   roomID,
		StateKey: &stateKey,
		Content:  body,
	}
	if m.state[roomID] == nil {
		m.state[roomID] = make(map[string]map[string]Event)
	}
	if m.state[roomID][eventType] == nil {
		m.state[roomID][eventType] = make(map[string]Event)
	}
	m.state[roomID][eventType][stateKey] = event
	m.timelines[roomID] = append(m.timelines[roomID], event)
	m.mu.Unlock()

	m.stateEvents.Emit(event)
	return event.ID, nil
}

// StateEvents implements StateStore.
func (m *MemoryClient) StateEvents(roomID ref.RoomID, eventType string) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	byKey := m.state[roomID][eventType]
	events := make([]Event, 0, len(byKey))
	for _, event := range byKey {
		events = append(events, event)
	}
	return events
}

// SubscribeState implements StateStore.
func (m *MemoryClient) SubscribeState(listener func(Event)) (cancel func()) {
	return m.stateEvents.Subscribe(listener)
}

// AccountData implements AccountStore.
func (m *MemoryClient) AccountData(key string) (map[string]any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	content, ok := m.account[key]
	return content, ok
}

// SetAccountData implements AccountStore.
func (m *MemoryClient) SetAccountData(ctx context.Context, key string, content any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, ok := content.(map[string]any)
	if !ok {
		body = structToMap(content)
	}
	m.mu.Lock()
	m.account[key] = body
	m.mu.Unlock()
	m.accountEvents.Emit(accountChange{key: key, content: body})
	return nil
}

// SubscribeAccountData implements AccountStore.
func (m *MemoryClient) SubscribeAccountData(listener func(key string, content map[string]any)) (cancel func()) {
	return m.accountEvents.Subscribe(func(change accountChange) {
		listener(change.key, change.content)
	})
}

// Value implements Settings. Room-scoped values are stored under
// "key/room" and fall back to the account scope.
func (m *MemoryClient) Value(key string, roomID ref.RoomID) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !roomID.IsZero() {
		if value, ok := m.settings[key+"/"+roomID.String()]; ok {
			return value, true
		}
	}
	value, ok := m.settings[key]
	return value, ok
}

// SetValue implements Settings.
func (m *MemoryClient) SetValue(key string, roomID ref.RoomID, value string) error {
	scoped := key
	if !roomID.IsZero() {
		scoped = key + "/" + roomID.String()
	}
	m.mu.Lock()
	m.settings[scoped] = value
	m.mu.Unlock()
	return nil
}

// Current implements ThemeWatcher.
func (m *MemoryClient) Current() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.theme
}

// SetTheme changes the theme and notifies subscribers.
func (m *MemoryClient) SetTheme(theme string) {
	m.mu.Lock()
	m.theme = theme
	m.mu.Unlock()
	m.themeChanges.Emit(theme)
}

// Subscribe implements ThemeWatcher.
func (m *MemoryClient) Subscribe(listener func(theme string)) (cancel func()) {
	return m.themeChanges.Subscribe(listener)
}

// ViewedRoom returns a ViewedRoomSource view of the client.
func (m *MemoryClient) ViewedRoom() ViewedRoomSource { return viewedRoomView{m} }

// SetViewedRoom changes which room the user is viewing.
func (m *MemoryClient) SetViewedRoom(roomID ref.RoomID) {
	m.mu.Lock()
	m.viewedRoom = roomID
	m.mu.Unlock()
	m.viewedChanges.Emit(roomID)
}

// viewedRoomView separates the ViewedRoomSource methods from the
// ThemeWatcher ones, which share the Current/Subscribe names.
type viewedRoomView struct{ client *MemoryClient }

func (v viewedRoomView) Current() ref.RoomID {
	v.client.mu.Lock()
	defer v.client.mu.Unlock()
	return v.client.viewedRoom
}

func (v viewedRoomView) Subscribe(listener func(ref.RoomID)) (cancel func()) {
	return v.client.viewedChanges.Subscribe(listener)
}

func eventIDForSeq(seq int) string {
	return "$local-" + strconv.Itoa(seq) + ":widgethost.local"
}

// structToMap converts struct content to the generic event content
// shape through a JSON round-trip.
func structToMap(content any) map[string]any {
	raw, err := json.Marshal(content)
	if err != nil {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	return out
}
