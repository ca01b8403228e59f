// Copyright 2026 The Widgethost Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/widgethost/core/host"
	"github.com/widgethost/core/lib/config"
	"github.com/widgethost/core/ref"
	"github.com/widgethost/core/store"
	"github.com/widgethost/core/widget"
	"github.com/widgethost/core/widget/active"
	"github.com/widgethost/core/widget/echo"
	"github.com/widgethost/core/widget/gate"
	"github.com/widgethost/core/widget/messaging"
	"github.com/widgethost/core/widget/registry"
)

// server wires the widget core together around an in-memory host
// client and exposes it over HTTP: a management API for widget
// definitions and a websocket endpoint widgets attach to.
type server struct {
	cfg    *config.Config
	logger *slog.Logger
	local  ref.UserID

	client   *host.MemoryClient
	manager  host.IntegrationManager
	echoes   *echo.Store
	tracker  *active.Tracker
	widgets  *registry.Registry
	gate     *gate.Gate
	channels *messaging.Registry
	modals   *messaging.ModalSlot
	store    *store.Store

	upgrader websocket.Upgrader

	stopRegistry   func()
	cancelTimeline func()
	cancelState    func()
}

func newServer(cfg *config.Config, logger *slog.Logger, local ref.UserID) *server {
	client := host.NewMemoryClient()
	echoes := echo.NewStore()
	tracker := active.NewTracker()

	s := &server{
		cfg:      cfg,
		logger:   logger,
		local:    local,
		client:   client,
		echoes:   echoes,
		tracker:  tracker,
		widgets:  registry.New(logger, client, echoes, tracker, local),
		gate:     gate.NewGate(client),
		channels: messaging.NewRegistry(logger),
		modals:   messaging.NewModalSlot(),
		store: store.New(store.Config{
			Logger:       logger,
			State:        client,
			Account:      client,
			Echoes:       echoes,
			LocalUser:    local,
			ManagerBases: cfg.ManagerBases(),
			EchoTimeout:  cfg.EchoTimeoutDuration(),
		}),
		// Widgets are served cross-origin by design; the channel's
		// origin check happens per message against the origin captured
		// here at upgrade time.
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}

	if managers := cfg.IntegrationManagers; len(managers) > 0 {
		s.manager = host.NewScalarClient(managers[0].APIBase, managers[0].UIBase)
	}

	s.stopRegistry = s.widgets.Start()
	s.cancelTimeline = client.SubscribeTimeline(s.dispatchTimeline)
	s.cancelState = client.SubscribeState(s.dispatchState)
	return s
}

// Close stops every channel and unhooks the dispatch subscriptions.
func (s *server) Close() {
	s.cancelTimeline()
	s.cancelState()
	s.stopRegistry()
	s.channels.StopAll()
}

// dispatchTimeline fans a new timeline event out to every live feed.
// State events also arrive here (they are part of the timeline) but
// are forwarded through dispatchState instead.
func (s *server) dispatchTimeline(event host.Event) {
	if event.IsState() {
		return
	}
	for _, channel := range s.channels.Channels() {
		if feed := channel.Feed(); feed != nil {
			feed.OnTimelineEvent(context.Background(), event)
		}
	}
}

func (s *server) dispatchState(event host.Event) {
	for _, channel := range s.channels.Channels() {
		if feed := channel.Feed(); feed != nil {
			feed.OnStateEvent(context.Background(), event)
		}
	}
}

// Handler returns the daemon's HTTP API.
func (s *server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /api/v1/rooms/{room}/widgets", s.handleListWidgets)
	mux.HandleFunc("PUT /api/v1/rooms/{room}/widgets/{widget}", s.handleSetWidget)
	mux.HandleFunc("DELETE /api/v1/rooms/{room}/widgets/{widget}", s.handleRemoveWidget)
	mux.HandleFunc("POST /api/v1/rooms/{room}/conference", s.handleAddConference)
	mux.HandleFunc("GET /api/v1/user/widgets", s.handleListUserWidgets)
	mux.HandleFunc("GET /api/v1/rooms/{room}/widgets/{widget}/attach", s.handleAttach)
	return mux
}

type widgetSummary struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	URL     string `json:"url"`
	Creator string `json:"creator,omitempty"`
}

func summarize(descriptors []widget.Descriptor) []widgetSummary {
	out := make([]widgetSummary, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, widgetSummary{
			ID:      d.ID.String(),
			Type:    d.Type,
			Name:    d.Name,
			URL:     d.URL,
			Creator: d.CreatorUserID.String(),
		})
	}
	return out
}

func (s *server) handleListWidgets(w http.ResponseWriter, r *http.Request) {
	roomID, err := ref.ParseRoomID(r.PathValue("room"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, summarize(s.widgets.Widgets(roomID)))
}

func (s *server) handleListUserWidgets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, summarize(s.store.UserWidgets()))
}

func (s *server) handleSetWidget(w http.ResponseWriter, r *http.Request) {
	roomID, err := ref.ParseRoomID(r.PathValue("room"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	widgetID, err := ref.ParseWidgetID(r.PathValue("widget"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var content widget.Content
	if err := json.NewDecoder(r.Body).Decode(&content); err != nil {
		http.Error(w, "invalid widget content: "+err.Error(), http.StatusBadRequest)
		return
	}
	if content.CreatorUserID == "" {
		content.CreatorUserID = s.local.String()
	}

	if err := s.store.SetRoomWidget(r.Context(), roomID, widgetID, content); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleRemoveWidget(w http.ResponseWriter, r *http.Request) {
	roomID, err := ref.ParseRoomID(r.PathValue("room"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	widgetID, err := ref.ParseWidgetID(r.PathValue("widget"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.store.RemoveRoomWidget(r.Context(), roomID, widgetID); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleAddConference(w http.ResponseWriter, r *http.Request) {
	roomID, err := ref.ParseRoomID(r.PathValue("room"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var opts struct {
		RoomName  string `json:"room_name"`
		AudioOnly bool   `json:"audio_only"`
		TokenAuth bool   `json:"token_auth"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
			http.Error(w, "invalid conference options: "+err.Error(), http.StatusBadRequest)
			return
		}
	}

	widgetID, err := s.store.AddConferenceWidget(r.Context(), roomID, store.ConferenceOptions{
		Domain:    s.cfg.Widgets.ConferenceDomain,
		BaseURL:   s.cfg.Widgets.BaseURL,
		RoomName:  opts.RoomName,
		AudioOnly: opts.AudioOnly,
		TokenAuth: opts.TokenAuth,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, map[string]string{"widget_id": widgetID.String()})
}

// handleAttach upgrades the request to a websocket and runs a
// messaging channel over it. The widget speaks the normal toWidget /
// fromWidget envelope protocol on the socket.
func (s *server) handleAttach(w http.ResponseWriter, r *http.Request) {
	roomID, err := ref.ParseRoomID(r.PathValue("room"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	widgetID, err := ref.ParseWidgetID(r.PathValue("widget"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	descriptor, ok := s.findWidget(roomID, widgetID)
	if !ok {
		http.Error(w, "unknown widget", http.StatusNotFound)
		return
	}
	if !s.gate.MayLoad(descriptor, nil, s.local) {
		http.Error(w, "widget is not approved to load", http.StatusForbidden)
		return
	}

	channel, err := messaging.NewChannel(messaging.ChannelConfig{
		Descriptor:           descriptor,
		LocalUser:            s.local,
		WaitForContentLoaded: s.cfg.Widgets.WaitForContentLoaded,
		Allowed:              s.gate.AllowList(descriptor.Type, roomID),
		TrustedOrigin:        r.Header.Get("Origin"),
		Params: widget.TemplateParams{
			UserID:   s.local,
			RoomID:   roomID,
			BaseURL:  s.cfg.Widgets.BaseURL,
			ClientID: "widgethostd",
			Theme:    s.client.Current(),
		},
		Logger:   s.logger,
		Timeline: s.client,
		Manager:  s.manager,
		Themes:   s.client,
		Viewed:   s.client.ViewedRoom(),
		Tracker:  s.tracker,
		Modals:   s.modals,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	origin := r.Header.Get("Origin")
	transport := messaging.NewWebSocketTransport(conn, origin, s.logger)

	channel.Prepare(r.Context())
	s.channels.Store(channel)
	channel.StartMessaging(transport)
	s.tracker.Dock(channel.Identity())

	go func() {
		<-transport.Done()
		s.tracker.Undock(channel.Identity())
		s.channels.StopMessaging(channel.Identity(), false)
	}()
}

// findWidget resolves a descriptor from room state, falling back to
// the account-scoped widgets when the widget is not in the room.
func (s *server) findWidget(roomID ref.RoomID, widgetID ref.WidgetID) (widget.Descriptor, bool) {
	for _, d := range s.widgets.Widgets(roomID) {
		if d.ID == widgetID {
			return d, true
		}
	}
	for _, d := range s.store.UserWidgets() {
		if d.ID == widgetID {
			return d, true
		}
	}
	return widget.Descriptor{}, false
}

func writeJSON(w http.ResponseWriter, value any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(value); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
