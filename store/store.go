// Copyright 2026 The Widgethost Authors
// SPDX-License-Identifier: Apache-2.0

// Package store writes widget definitions to room state and account
// data. Mutations record an optimistic echo, send the write, and wait
// a bounded time for the change to come back on the authoritative
// feed before resolving; callers get a timeout error when the server
// never reflects the write.
package store

import (
	"context"
	"encoding/base32"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/widgethost/core/host"
	"github.com/widgethost/core/lib/clock"
	"github.com/widgethost/core/ref"
	"github.com/widgethost/core/widget"
	"github.com/widgethost/core/widget/echo"
)

// DefaultEchoTimeout bounds the wait for a widget write to appear on
// the authoritative feed.
const DefaultEchoTimeout = 20 * time.Second

// ErrEchoTimeout is returned when a widget add or remove was accepted
// by the server but never observed back on the sync feed in time.
var ErrEchoTimeout = errors.New("store: timed out waiting for widget change to be reflected")

// Store mutates and queries room and account widgets.
type Store struct {
	logger  *slog.Logger
	clock   clock.Clock
	state   host.StateStore
	account host.AccountStore
	echoes  *echo.Store
	local   ref.UserID

	// managerBases are the integration manager API base URLs used to
	// recognize manager-owned widgets.
	managerBases []string

	echoTimeout time.Duration
}

// Config carries the store's collaborators.
type Config struct {
	Logger       *slog.Logger
	Clock        clock.Clock
	State        host.StateStore
	Account      host.AccountStore
	Echoes       *echo.Store
	LocalUser    ref.UserID
	ManagerBases []string

	// EchoTimeout defaults to DefaultEchoTimeout when zero.
	EchoTimeout time.Duration
}

// New creates a store.
func New(cfg Config) *Store {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.EchoTimeout <= 0 {
		cfg.EchoTimeout = DefaultEchoTimeout
	}
	return &Store{
		logger:       cfg.Logger,
		clock:        cfg.Clock,
		state:        cfg.State,
		account:      cfg.Account,
		echoes:       cfg.Echoes,
		local:        cfg.LocalUser,
		managerBases: cfg.ManagerBases,
		echoTimeout:  cfg.EchoTimeout,
	}
}

// SetRoomWidget writes a widget definition into room state and waits
// for the authoritative event. Content with IsRemoval true removes
// the widget. The optimistic echo is recorded before the write and
// cleared on every exit path, success or not.
func (s *Store) SetRoomWidget(ctx context.Context, roomID ref.RoomID, widgetID ref.WidgetID, content widget.Content) error {
	content.ID = widgetID.String()
	removal := content.IsRemoval()
	if removal {
		content = widget.Content{}
	}

	pending := map[string]any{"type": content.Type, "url": content.URL}
	s.echoes.Set(roomID, widgetID, pending)
	defer s.echoes.Remove(roomID, widgetID)

	confirmed := make(chan struct{}, 1)
	cancel := s.state.SubscribeState(func(event host.Event) {
		if event.RoomID != roomID || event.Type != widget.StateEventType {
			return
		}
		if event.StateKey == nil || *event.StateKey != widgetID.String() {
			return
		}
		if removal == stateContentIsRemoval(event.Content) {
			select {
			case confirmed <- struct{}{}:
			default:
			}
		}
	})
	defer cancel()

	if _, err := s.state.SendStateEvent(ctx, roomID, widget.StateEventType, widgetID.String(), content); err != nil {
		return fmt.Errorf("writing widget %s in %s: %w", widgetID, roomID, err)
	}

	return s.awaitEcho(ctx, confirmed)
}

// RemoveRoomWidget tombstones a room widget and waits for the echo.
func (s *Store) RemoveRoomWidget(ctx context.Context, roomID ref.RoomID, widgetID ref.WidgetID) error {
	return s.SetRoomWidget(ctx, roomID, widgetID, widget.Content{})
}

func stateContentIsRemoval(content map[string]any) bool {
	widgetType, _ := content["type"].(string)
	url, _ := content["url"].(string)
	return widgetType == "" || url == ""
}

func (s *Store) awaitEcho(ctx context.Context, confirmed <-chan struct{}) error {
	select {
	case <-confirmed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.clock.After(s.echoTimeout):
		return ErrEchoTimeout
	}
}

// SetUserWidget writes one entry of the account-data widget map and
// waits for the map to come back with the change applied. Content
// with IsRemoval true deletes the entry.
func (s *Store) SetUserWidget(ctx context.Context, widgetID ref.WidgetID, content widget.Content) error {
	content.ID = widgetID.String()
	removal := content.IsRemoval()

	widgets, _ := s.account.AccountData(widget.AccountDataKey)
	next := make(map[string]any, len(widgets)+1)
	for key, value := range widgets {
		next[key] = value
	}
	if removal {
		delete(next, widgetID.String())
	} else {
		// Account entries carry a pseudo-event wrapper around the
		// content so they decode the same way state events do.
		next[widgetID.String()] = map[string]any{
			"id":        widgetID.String(),
			"type":      widget.StateEventType,
			"state_key": widgetID.String(),
			"sender":    s.local.String(),
			"content":   contentMap(content),
		}
	}

	confirmed := make(chan struct{}, 1)
	cancel := s.account.SubscribeAccountData(func(key string, data map[string]any) {
		if key != widget.AccountDataKey {
			return
		}
		_, present := data[widgetID.String()]
		if present != removal {
			select {
			case confirmed <- struct{}{}:
			default:
			}
		}
	})
	defer cancel()

	if err := s.account.SetAccountData(ctx, widget.AccountDataKey, next); err != nil {
		return fmt.Errorf("writing account widget %s: %w", widgetID, err)
	}

	return s.awaitEcho(ctx, confirmed)
}

// RemoveUserWidget deletes an account widget and waits for the echo.
func (s *Store) RemoveUserWidget(ctx context.Context, widgetID ref.WidgetID) error {
	return s.SetUserWidget(ctx, widgetID, widget.Content{})
}

func contentMap(content widget.Content) map[string]any {
	m := map[string]any{
		"id":   content.ID,
		"type": content.Type,
		"url":  content.URL,
	}
	if content.Name != "" {
		m["name"] = content.Name
	}
	if content.Data != nil {
		m["data"] = content.Data
	}
	if content.AvatarURL != "" {
		m["avatar_url"] = content.AvatarURL
	}
	if content.CreatorUserID != "" {
		m["creatorUserId"] = content.CreatorUserID
	}
	return m
}

// RoomWidgets returns the widgets defined in a room's state, with
// pending deletions filtered out. Malformed entries are skipped.
func (s *Store) RoomWidgets(roomID ref.RoomID) []widget.Descriptor {
	events := s.state.StateEvents(roomID, widget.StateEventType)
	events = s.echoes.Reconcile(roomID, events)

	descriptors := make([]widget.Descriptor, 0, len(events))
	for _, event := range events {
		desc, err := widget.FromStateEvent(event)
		if err != nil {
			continue
		}
		descriptors = append(descriptors, desc)
	}
	return descriptors
}

// UserWidgets returns all account-scoped widgets.
func (s *Store) UserWidgets() []widget.Descriptor {
	widgets, ok := s.account.AccountData(widget.AccountDataKey)
	if !ok {
		return nil
	}
	descriptors := make([]widget.Descriptor, 0, len(widgets))
	for widgetID, raw := range widgets {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		desc, err := widget.FromAccountEntry(widgetID, entry, s.local)
		if err != nil {
			s.logger.Warn("skipping malformed account widget",
				"widget_id", widgetID,
				"error", err)
			continue
		}
		descriptors = append(descriptors, desc)
	}
	return descriptors
}

// Stickerpickers returns the account's stickerpicker widgets.
func (s *Store) Stickerpickers() []widget.Descriptor {
	return s.userWidgetsOfType(widget.TypeStickerpicker)
}

// IntegrationManagers returns account widgets declaring an
// integration manager.
func (s *Store) IntegrationManagers() []widget.Descriptor {
	return s.userWidgetsOfType(widget.TypeIntegrationManager)
}

func (s *Store) userWidgetsOfType(t widget.Type) []widget.Descriptor {
	var matched []widget.Descriptor
	for _, desc := range s.UserWidgets() {
		if desc.IsType(t) {
			matched = append(matched, desc)
		}
	}
	return matched
}

// RemoveStickerpickers deletes every stickerpicker account widget,
// waiting for each removal's echo in turn.
func (s *Store) RemoveStickerpickers(ctx context.Context) error {
	for _, desc := range s.Stickerpickers() {
		if err := s.RemoveUserWidget(ctx, desc.ID); err != nil {
			return err
		}
	}
	return nil
}

// RemoveIntegrationManagers deletes every integration manager account
// widget.
func (s *Store) RemoveIntegrationManagers(ctx context.Context) error {
	for _, desc := range s.IntegrationManagers() {
		if err := s.RemoveUserWidget(ctx, desc.ID); err != nil {
			return err
		}
	}
	return nil
}

// IsManagedByManager reports whether the widget URL belongs to one of
// the configured integration managers.
func (s *Store) IsManagedByManager(widgetURL string) bool {
	for _, base := range s.managerBases {
		if base != "" && strings.HasPrefix(widgetURL, base) {
			return true
		}
	}
	return false
}

// ConferenceOptions configures AddConferenceWidget.
type ConferenceOptions struct {
	// Domain of the conference server; DefaultConferenceDomain when
	// empty.
	Domain string

	// BaseURL hosts the local conference wrapper page.
	BaseURL string

	RoomName  string
	AudioOnly bool

	// TokenAuth derives the conference ID deterministically from the
	// room ID, so every participant lands in the same conference. When
	// unset the ID is random.
	TokenAuth bool
}

// AddConferenceWidget creates a conference widget in the room and
// waits for its echo. The new widget's ID is unique per call.
func (s *Store) AddConferenceWidget(ctx context.Context, roomID ref.RoomID, opts ConferenceOptions) (ref.WidgetID, error) {
	domain := opts.Domain
	if domain == "" {
		domain = widget.DefaultConferenceDomain
	}

	var confID string
	var auth string
	if opts.TokenAuth {
		confID = base32.StdEncoding.WithPadding(base32.NoPadding).
			EncodeToString([]byte(roomID.String()))
		auth = "openidtoken-jwt"
	} else {
		confID = strings.ReplaceAll(uuid.NewString(), "-", "")
	}

	widgetID, err := ref.ParseWidgetID("conference_" + uuid.NewString())
	if err != nil {
		return ref.WidgetID{}, err
	}

	data := map[string]any{
		"conferenceId": confID,
		"domain":       domain,
		"isAudioOnly":  opts.AudioOnly,
		"roomName":     opts.RoomName,
	}
	if auth != "" {
		data["auth"] = auth
	}

	content := widget.Content{
		Type: widget.TypeConference.Preferred,
		URL:  widget.ConferenceWrapperURL(opts.BaseURL, auth),
		Name: "Conference",
		Data: data,
	}
	if err := s.SetRoomWidget(ctx, roomID, widgetID, content); err != nil {
		return ref.WidgetID{}, err
	}
	return widgetID, nil
}
