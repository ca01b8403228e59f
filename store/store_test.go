// Copyright 2026 The Widgethost Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"encoding/base32"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/widgethost/core/host"
	"github.com/widgethost/core/lib/clock"
	"github.com/widgethost/core/lib/testutil"
	"github.com/widgethost/core/ref"
	"github.com/widgethost/core/widget"
	"github.com/widgethost/core/widget/echo"
)

// fakeState is a state store whose writes echo back synchronously
// unless silent is set.
type fakeState struct {
	silent    bool
	events    map[ref.RoomID]map[string]host.Event
	listeners []func(host.Event)
	sends     int
}

func newFakeState() *fakeState {
	return &fakeState{events: make(map[ref.RoomID]map[string]host.Event)}
}

func (f *fakeState) SendStateEvent(ctx context.Context, roomID ref.RoomID, eventType, stateKey string, content any) (ref.EventID, error) {
	f.sends++
	if f.silent {
		return ref.MustParseEventID("$lost:example.org"), nil
	}
	body, _ := content.(widget.Content)
	event := host.Event{
		ID:       ref.MustParseEventID("$" + stateKey + ":example.org"),
		Type:     eventType,
		Sender:   ref.MustParseUserID("@alice:example.org"),
		RoomID:   roomID,
		StateKey: &stateKey,
		Content:  map[string]any{"type": body.Type, "url": body.URL, "name": body.Name},
	}
	if f.events[roomID] == nil {
		f.events[roomID] = make(map[string]host.Event)
	}
	f.events[roomID][stateKey] = event
	for _, listener := range f.listeners {
		listener(event)
	}
	return event.ID, nil
}

func (f *fakeState) StateEvents(roomID ref.RoomID, eventType string) []host.Event {
	var events []host.Event
	for _, event := range f.events[roomID] {
		if event.Type == eventType {
			events = append(events, event)
		}
	}
	return events
}

func (f *fakeState) SubscribeState(listener func(host.Event)) func() {
	f.listeners = append(f.listeners, listener)
	return func() {}
}

// fakeAccount echoes SetAccountData back synchronously unless silent.
type fakeAccount struct {
	silent    bool
	data      map[string]map[string]any
	listeners []func(string, map[string]any)
}

func newFakeAccount() *fakeAccount {
	return &fakeAccount{data: make(map[string]map[string]any)}
}

func (f *fakeAccount) AccountData(key string) (map[string]any, bool) {
	content, ok := f.data[key]
	return content, ok
}

func (f *fakeAccount) SetAccountData(ctx context.Context, key string, content any) error {
	if f.silent {
		return nil
	}
	m, _ := content.(map[string]any)
	f.data[key] = m
	for _, listener := range f.listeners {
		listener(key, m)
	}
	return nil
}

func (f *fakeAccount) SubscribeAccountData(listener func(string, map[string]any)) func() {
	f.listeners = append(f.listeners, listener)
	return func() {}
}

func newTestStore(t *testing.T, state *fakeState, account *fakeAccount, fc *clock.FakeClock) (*Store, *echo.Store) {
	t.Helper()
	echoes := echo.NewStore()
	s := New(Config{
		Logger:       slog.New(slog.DiscardHandler),
		Clock:        fc,
		State:        state,
		Account:      account,
		Echoes:       echoes,
		LocalUser:    ref.MustParseUserID("@alice:example.org"),
		ManagerBases: []string{"https://scalar.example/api"},
	})
	return s, echoes
}

func TestSetRoomWidget(t *testing.T) {
	state := newFakeState()
	s, echoes := newTestStore(t, state, newFakeAccount(), clock.Fake(time.Unix(1700000000, 0)))
	roomID := ref.MustParseRoomID("!r:example.org")
	widgetID := ref.MustParseWidgetID("w1")

	err := s.SetRoomWidget(context.Background(), roomID, widgetID, widget.Content{
		Type: "m.custom",
		URL:  "https://widget.example",
		Name: "Notes",
	})
	if err != nil {
		t.Fatalf("SetRoomWidget: %v", err)
	}

	widgets := s.RoomWidgets(roomID)
	if len(widgets) != 1 || widgets[0].ID != widgetID {
		t.Fatalf("widgets after set: %+v", widgets)
	}
	if echoes.HasPendingOfType(roomID, state.StateEvents(roomID, widget.StateEventType), "") {
		t.Fatal("echo left behind after confirmed write")
	}

	if err := s.RemoveRoomWidget(context.Background(), roomID, widgetID); err != nil {
		t.Fatalf("RemoveRoomWidget: %v", err)
	}
	if got := s.RoomWidgets(roomID); len(got) != 0 {
		t.Fatalf("widgets after remove: %+v", got)
	}
}

func TestSetRoomWidgetEchoTimeout(t *testing.T) {
	state := newFakeState()
	state.silent = true
	fc := clock.Fake(time.Unix(1700000000, 0))
	s, echoes := newTestStore(t, state, newFakeAccount(), fc)
	roomID := ref.MustParseRoomID("!r:example.org")
	widgetID := ref.MustParseWidgetID("w1")

	result := make(chan error, 1)
	go func() {
		result <- s.SetRoomWidget(context.Background(), roomID, widgetID, widget.Content{
			Type: "m.custom",
			URL:  "https://widget.example",
		})
	}()

	for fc.Waiters() == 0 {
		time.Sleep(time.Millisecond)
	}
	fc.Advance(DefaultEchoTimeout + time.Second)

	err := testutil.RequireReceive(t, result, 5*time.Second, "waiting for timeout")
	if !errors.Is(err, ErrEchoTimeout) {
		t.Fatalf("err = %v, want ErrEchoTimeout", err)
	}
	if echoes.HasPendingOfType(roomID, nil, "") {
		t.Fatal("dangling echo after timeout")
	}
}

func TestUserWidgets(t *testing.T) {
	account := newFakeAccount()
	s, _ := newTestStore(t, newFakeState(), account, clock.Fake(time.Unix(1700000000, 0)))
	ctx := context.Background()

	err := s.SetUserWidget(ctx, ref.MustParseWidgetID("picker"), widget.Content{
		Type: "m.stickerpicker",
		URL:  "https://picker.example",
	})
	if err != nil {
		t.Fatalf("SetUserWidget: %v", err)
	}
	err = s.SetUserWidget(ctx, ref.MustParseWidgetID("manager"), widget.Content{
		Type: "m.integration_manager",
		URL:  "https://scalar.example/api/widget",
	})
	if err != nil {
		t.Fatalf("SetUserWidget: %v", err)
	}

	if got := s.UserWidgets(); len(got) != 2 {
		t.Fatalf("user widgets: %+v", got)
	}
	if got := s.Stickerpickers(); len(got) != 1 || got[0].ID.String() != "picker" {
		t.Fatalf("stickerpickers: %+v", got)
	}
	if got := s.IntegrationManagers(); len(got) != 1 || got[0].ID.String() != "manager" {
		t.Fatalf("integration managers: %+v", got)
	}

	if err := s.RemoveStickerpickers(ctx); err != nil {
		t.Fatalf("RemoveStickerpickers: %v", err)
	}
	if got := s.Stickerpickers(); len(got) != 0 {
		t.Fatalf("stickerpickers after removal: %+v", got)
	}
	if got := s.IntegrationManagers(); len(got) != 1 {
		t.Fatalf("integration managers clobbered: %+v", got)
	}
}

func TestIsManagedByManager(t *testing.T) {
	s, _ := newTestStore(t, newFakeState(), newFakeAccount(), clock.Fake(time.Unix(1700000000, 0)))

	if !s.IsManagedByManager("https://scalar.example/api/widgets/v2?id=x") {
		t.Fatal("manager widget not recognized")
	}
	if s.IsManagedByManager("https://widget.example/app") {
		t.Fatal("unrelated widget flagged as manager-owned")
	}
}

func TestAddConferenceWidget(t *testing.T) {
	state := newFakeState()
	s, _ := newTestStore(t, state, newFakeAccount(), clock.Fake(time.Unix(1700000000, 0)))
	roomID := ref.MustParseRoomID("!r:example.org")

	widgetID, err := s.AddConferenceWidget(context.Background(), roomID, ConferenceOptions{
		BaseURL:   "https://chat.example",
		RoomName:  "Weekly sync",
		TokenAuth: true,
	})
	if err != nil {
		t.Fatalf("AddConferenceWidget: %v", err)
	}
	if widgetID.IsZero() {
		t.Fatal("empty widget id")
	}

	second, err := s.AddConferenceWidget(context.Background(), roomID, ConferenceOptions{
		BaseURL: "https://chat.example",
	})
	if err != nil {
		t.Fatalf("second AddConferenceWidget: %v", err)
	}
	if second == widgetID {
		t.Fatal("conference widget ids not unique")
	}

	wantConfID := base32.StdEncoding.WithPadding(base32.NoPadding).
		EncodeToString([]byte(roomID.String()))
	if strings.Contains(wantConfID, "=") {
		t.Fatalf("conference id %q not unpadded", wantConfID)
	}
}
