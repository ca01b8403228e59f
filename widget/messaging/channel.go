// Copyright 2026 The Widgethost Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/widgethost/core/host"
	"github.com/widgethost/core/lib/clock"
	"github.com/widgethost/core/lib/emitter"
	"github.com/widgethost/core/ref"
	"github.com/widgethost/core/widget"
	"github.com/widgethost/core/widget/active"
)

// State is the channel lifecycle. Stopped is terminal and reachable
// from every state after Constructed. The MessagingStarted to Ready
// transition is never skipped: capability negotiation always precedes
// event forwarding.
type State int

const (
	StateConstructed State = iota
	StatePreparing
	StateMessagingStarted
	StateReady
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateConstructed:
		return "constructed"
	case StatePreparing:
		return "preparing"
	case StateMessagingStarted:
		return "messaging_started"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// EventKind tags channel lifecycle notifications consumed by the host
// UI for its spinner / iframe / error transitions.
type EventKind int

const (
	EventPreparing EventKind = iota
	EventPreparingFailed
	EventReady
	EventCapabilitiesNotified
	EventStopped
)

// ChannelEvent is emitted on every lifecycle transition and for
// widget actions the host UI must act on.
type ChannelEvent struct {
	Kind EventKind
	Err  error
}

// StickerEvent is re-emitted when a capability-approved widget posts
// a sticker.
type StickerEvent struct {
	Source  ref.Identity
	Content map[string]any
}

// ViewRoomEvent asks the host UI to switch to a room.
type ViewRoomEvent struct {
	Source ref.Identity
	RoomID ref.RoomID
}

// HangupError surfaces a conference widget's fatal error to the host
// UI as a dialog.
type HangupError struct {
	Source  ref.Identity
	Message string
}

// ChannelConfig carries a channel's construction inputs and host
// collaborators.
type ChannelConfig struct {
	Descriptor widget.Descriptor
	LocalUser  ref.UserID

	// WaitForContentLoaded delays capability negotiation until the
	// widget sends content_loaded.
	WaitForContentLoaded bool

	// Allowed is the capability allow-list negotiated grants are
	// intersected with.
	Allowed widget.CapabilitySet

	// StickyPromise, when non-nil, is awaited before the channel
	// claims the persistent slot, giving the currently-sticky widget
	// time to clean up. Turning persistence off never waits.
	StickyPromise func(ctx context.Context) error

	// TrustedOrigin is the only origin widget messages are accepted
	// from. Mismatches are dropped silently.
	TrustedOrigin string

	// Params renders the descriptor's URL template.
	Params widget.TemplateParams

	Logger   *slog.Logger
	Clock    clock.Clock
	Timeline host.TimelineSource
	Manager  host.IntegrationManager
	Themes   host.ThemeWatcher
	Viewed   host.ViewedRoomSource
	Tracker  *active.Tracker
	Modals   *ModalSlot
}

// Channel drives the RPC session with one widget: prepare, capability
// negotiation, action bridges, event forwarding, teardown.
type Channel struct {
	cfg      ChannelConfig
	identity ref.Identity
	logger   *slog.Logger

	mu       sync.Mutex
	state    State
	prepared bool
	started  bool
	granted  widget.CapabilitySet
	conn     *Conn
	feed     *Feed
	token    string
	unhooks  []func()

	contentLoaded chan struct{}

	// stopHandshake cancels the negotiate goroutine; handshakeDone is
	// closed when it returns.
	stopHandshake context.CancelFunc
	handshakeDone chan struct{}

	events   emitter.Emitter[ChannelEvent]
	stickers emitter.Emitter[StickerEvent]
	viewRoom emitter.Emitter[ViewRoomEvent]
	hangups  emitter.Emitter[HangupError]
}

// NewChannel validates the descriptor and builds a channel in the
// Constructed state. A malformed descriptor fails here, at
// construction, never later in the messaging hot path.
func NewChannel(cfg ChannelConfig) (*Channel, error) {
	if cfg.Descriptor.ID.IsZero() || cfg.Descriptor.URL == "" {
		return nil, fmt.Errorf("widget %q has no id or url", cfg.Descriptor.ID)
	}
	identity, err := cfg.Descriptor.Identity(cfg.LocalUser)
	if err != nil {
		return nil, fmt.Errorf("widget %q: %w", cfg.Descriptor.ID, err)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Channel{
		cfg:      cfg,
		identity: identity,
		logger: cfg.Logger.With(
			"widget_id", cfg.Descriptor.ID,
			"room_id", cfg.Descriptor.RoomID),
		state:         StateConstructed,
		granted:       widget.NewCapabilitySet(),
		contentLoaded: make(chan struct{}),
	}, nil
}

// Identity returns the channel's widget identity.
func (c *Channel) Identity() ref.Identity { return c.identity }

// State returns the current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Granted returns the negotiated capability set. Empty until the
// channel reaches Ready.
func (c *Channel) Granted() widget.CapabilitySet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.granted
}

// Subscribe registers a lifecycle listener.
func (c *Channel) Subscribe(listener func(ChannelEvent)) (cancel func()) {
	return c.events.Subscribe(listener)
}

// SubscribeStickers registers a listener for approved sticker posts.
func (c *Channel) SubscribeStickers(listener func(StickerEvent)) (cancel func()) {
	return c.stickers.Subscribe(listener)
}

// SubscribeViewRoom registers a listener for room-switch requests.
func (c *Channel) SubscribeViewRoom(listener func(ViewRoomEvent)) (cancel func()) {
	return c.viewRoom.Subscribe(listener)
}

// SubscribeHangups registers a listener for conference error dialogs.
func (c *Channel) SubscribeHangups(listener func(HangupError)) (cancel func()) {
	return c.hangups.Subscribe(listener)
}

// Prepare fetches the integration-manager auth token the widget URL
// template may reference. Idempotent; never fails the load. A token
// fetch error is logged and the widget loads without the token.
func (c *Channel) Prepare(ctx context.Context) {
	c.mu.Lock()
	if c.prepared || c.state == StateStopped {
		c.mu.Unlock()
		return
	}
	c.state = StatePreparing
	c.mu.Unlock()
	c.events.Emit(ChannelEvent{Kind: EventPreparing})

	var token string
	if c.cfg.Manager != nil && c.needsManagerToken() {
		var err error
		token, err = c.cfg.Manager.Token(ctx)
		if err != nil {
			c.logger.Warn("integration manager token fetch failed, loading widget without it",
				"error", err)
			c.events.Emit(ChannelEvent{Kind: EventPreparingFailed, Err: err})
		}
	}

	c.mu.Lock()
	c.prepared = true
	c.token = token
	c.mu.Unlock()
}

func (c *Channel) needsManagerToken() bool {
	base := c.cfg.Manager.APIBase()
	return base != "" && strings.HasPrefix(c.cfg.Descriptor.URL, base)
}

// StartMessaging binds the channel to a transport and begins the
// capability handshake. No-op when already started. The handshake
// runs asynchronously; subscribe for EventCapabilitiesNotified to
// learn when the channel is Running.
func (c *Channel) StartMessaging(transport Transport) {
	c.mu.Lock()
	if c.started || c.state == StateStopped {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.state = StateMessagingStarted
	conn := NewConn(transport, c.cfg.Descriptor.ID, c.cfg.TrustedOrigin, c.logger)
	c.conn = conn
	ctx, cancel := context.WithCancel(context.Background())
	c.stopHandshake = cancel
	done := make(chan struct{})
	c.handshakeDone = done
	c.mu.Unlock()

	c.bindHandlers(conn)
	c.hookPushes(conn)

	go func() {
		defer close(done)
		c.negotiate(ctx, conn)
	}()
}

func (c *Channel) bindHandlers(conn *Conn) {
	conn.Handle(ActionSupportedVersions, c.handleSupportedVersions)
	conn.Handle(ActionContentLoaded, c.handleContentLoaded)
	conn.Handle(ActionOpenModal, c.handleOpenModal)
	conn.Handle(ActionCloseModal, c.handleCloseModal)
	conn.Handle(ActionSetAlwaysOnScreen, c.handleSetAlwaysOnScreen)
	conn.Handle(ActionSendSticker, c.handleSticker)
	conn.Handle(ActionViewRoom, c.handleViewRoom)
	if c.cfg.Descriptor.IsType(widget.TypeStickerpicker) {
		conn.Handle(ActionOpenIntegrationManager, c.handleOpenIntegrationManager)
	}
	if c.cfg.Descriptor.IsType(widget.TypeConference) {
		conn.Handle(ActionHangup, c.handleHangup)
	}
}

// hookPushes wires host-side change sources to widget notifications.
func (c *Channel) hookPushes(conn *Conn) {
	ctx := context.Background()

	if c.cfg.Themes != nil {
		cancel := c.cfg.Themes.Subscribe(func(theme string) {
			err := conn.Notify(ctx, ActionThemeChange, map[string]string{"name": theme})
			if err != nil {
				c.logger.Warn("theme push failed", "error", err)
			}
		})
		c.addUnhook(cancel)
	}

	// Room channels are fixed to their own room at construction.
	// Account channels follow the host's viewed room.
	if c.identity.IsAccount() && c.cfg.Viewed != nil {
		cancel := c.cfg.Viewed.Subscribe(func(roomID ref.RoomID) {
			err := conn.Notify(ctx, ActionViewedRoomChange, map[string]string{
				"room_id": roomID.String(),
			})
			if err != nil {
				c.logger.Warn("viewed room push failed", "error", err)
			}
		})
		c.addUnhook(cancel)
	}
}

func (c *Channel) addUnhook(cancel func()) {
	c.mu.Lock()
	c.unhooks = append(c.unhooks, cancel)
	c.mu.Unlock()
}

// negotiate runs the capability handshake, then attaches the event
// feed. Event forwarding strictly follows a completed negotiation.
// The context is cancelled by StopMessaging, so a widget that never
// answers the handshake does not pin this goroutine past teardown.
func (c *Channel) negotiate(ctx context.Context, conn *Conn) {
	if c.cfg.WaitForContentLoaded {
		select {
		case <-c.contentLoaded:
		case <-ctx.Done():
			return
		}
	}

	var requested CapabilitiesResponse
	if err := conn.Request(ctx, ActionCapabilities, map[string]any{}, &requested); err != nil {
		c.mu.Lock()
		stopped := c.state == StateStopped
		c.mu.Unlock()
		if !stopped {
			c.logger.Warn("capability request failed", "error", err)
		}
		return
	}

	granted := c.cfg.Allowed.Intersect(requested.Capabilities)

	c.mu.Lock()
	if c.state == StateStopped {
		c.mu.Unlock()
		return
	}
	c.granted = granted
	c.state = StateReady
	c.mu.Unlock()
	c.events.Emit(ChannelEvent{Kind: EventReady})

	notify := NotifyCapabilitiesData{
		Requested: requested.Capabilities,
		Approved:  granted.Strings(),
	}
	if err := conn.Notify(ctx, ActionNotifyCapabilities, notify); err != nil {
		c.logger.Warn("capability notification failed", "error", err)
	}

	c.mu.Lock()
	if c.state == StateStopped {
		c.mu.Unlock()
		return
	}
	c.feed = NewFeed(conn, c.cfg.Timeline, c.logger)
	c.state = StateRunning
	c.mu.Unlock()
	c.events.Emit(ChannelEvent{Kind: EventCapabilitiesNotified})
}

// Feed returns the event feed, or nil before the channel is Running.
func (c *Channel) Feed() *Feed {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.feed
}

// StopMessaging tears the session down. No-op when not started, and
// when the widget holds the persistent slot unless forceDestroy is
// set. Returns whether teardown actually ran; the caller deregisters
// the channel only then.
func (c *Channel) StopMessaging(forceDestroy bool) bool {
	if !forceDestroy && c.cfg.Tracker != nil && c.cfg.Tracker.IsPersistent(c.identity) {
		return false
	}

	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return false
	}
	c.started = false
	c.state = StateStopped
	conn := c.conn
	c.conn = nil
	c.feed = nil
	unhooks := c.unhooks
	c.unhooks = nil
	cancelHandshake := c.stopHandshake
	c.stopHandshake = nil
	c.mu.Unlock()

	if cancelHandshake != nil {
		cancelHandshake()
	}
	for _, unhook := range unhooks {
		unhook()
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			c.logger.Warn("closing widget transport failed", "error", err)
		}
	}
	c.events.Emit(ChannelEvent{Kind: EventStopped})
	return true
}

func (c *Channel) handleSupportedVersions(request Envelope) {
	c.reply(context.Background(), request, VersionsResponse{
		SupportedVersions: SupportedAPIVersions,
		CurrentVersion:    CurrentAPIVersion,
	})
}

func (c *Channel) handleContentLoaded(request Envelope) {
	select {
	case <-c.contentLoaded:
	default:
		close(c.contentLoaded)
	}
	c.reply(context.Background(), request, map[string]any{})
}

func (c *Channel) handleOpenModal(request Envelope) {
	ctx := context.Background()
	var data struct {
		URL  string         `json:"url"`
		Name string         `json:"name"`
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(request.Data, &data); err != nil || data.URL == "" {
		c.replyError(ctx, request, "Invalid modal request")
		return
	}

	ok := c.cfg.Modals.TryOpen(ModalRequest{
		Source: c.identity,
		URL:    data.URL,
		Name:   data.Name,
		Data:   data.Data,
	})
	if !ok {
		c.replyError(ctx, request, "Unable to open modal at this time")
		return
	}
	c.reply(ctx, request, map[string]any{})
}

func (c *Channel) handleCloseModal(request Envelope) {
	c.cfg.Modals.Close(c.identity)
	c.reply(context.Background(), request, map[string]any{})
}

// handleSetAlwaysOnScreen flips the persistent slot. Requests from
// widgets without the capability are silently ignored, matching the
// no-reply contract for ungranted actions.
func (c *Channel) handleSetAlwaysOnScreen(request Envelope) {
	if !c.Granted().Has(widget.CapabilityAlwaysOnScreen) {
		return
	}
	ctx := context.Background()

	var data struct {
		Value bool `json:"value"`
	}
	if err := json.Unmarshal(request.Data, &data); err != nil {
		c.replyError(ctx, request, "Invalid always-on-screen request")
		return
	}

	if data.Value && c.cfg.StickyPromise != nil {
		// The outgoing sticky widget (an active call, usually) cleans
		// up before this one displaces it.
		if err := c.cfg.StickyPromise(ctx); err != nil {
			c.logger.Warn("sticky gate failed, claiming persistence anyway", "error", err)
		}
	}
	// The gate may have parked this handler across a teardown. A
	// stopped channel must not claim the persistent slot.
	if c.State() == StateStopped {
		return
	}
	c.cfg.Tracker.SetPersistence(c.identity, data.Value)
	c.reply(ctx, request, map[string]any{"success": true})
}

func (c *Channel) handleSticker(request Envelope) {
	ctx := context.Background()
	if !c.Granted().Has(widget.CapabilityStickerSending) {
		c.replyError(ctx, request, "Missing capability")
		return
	}
	var content map[string]any
	if err := json.Unmarshal(request.Data, &content); err != nil {
		c.replyError(ctx, request, "Invalid sticker")
		return
	}
	c.stickers.Emit(StickerEvent{Source: c.identity, Content: content})
	c.reply(ctx, request, map[string]any{})
}

// handleViewRoom answers missing-room and missing-capability cases
// with structured error replies the widget can render, never a
// protocol-level rejection.
func (c *Channel) handleViewRoom(request Envelope) {
	ctx := context.Background()
	var data struct {
		RoomID string `json:"room_id"`
	}
	if err := json.Unmarshal(request.Data, &data); err != nil || data.RoomID == "" {
		c.replyError(ctx, request, "Room ID not supplied")
		return
	}
	if !c.Granted().Has(widget.CapabilityViewRoom) {
		c.replyError(ctx, request, "This widget does not have permission to change rooms")
		return
	}
	roomID, err := ref.ParseRoomID(data.RoomID)
	if err != nil {
		c.replyError(ctx, request, "Invalid room ID")
		return
	}
	c.viewRoom.Emit(ViewRoomEvent{Source: c.identity, RoomID: roomID})
	c.reply(ctx, request, map[string]any{})
}

func (c *Channel) handleOpenIntegrationManager(request Envelope) {
	ctx := context.Background()
	var data struct {
		IntegType string `json:"integType"`
		IntegID   string `json:"integId"`
	}
	if err := json.Unmarshal(request.Data, &data); err != nil {
		c.replyError(ctx, request, "Invalid request")
		return
	}
	if c.cfg.Manager != nil {
		err := c.cfg.Manager.Open(ctx, c.identity.Room, data.IntegType, data.IntegID)
		if err != nil {
			c.logger.Warn("integration manager open failed", "error", err)
		}
	}
	c.reply(ctx, request, map[string]any{})
}

func (c *Channel) handleHangup(request Envelope) {
	ctx := context.Background()
	var data struct {
		ErrorMessage string `json:"errorMessage"`
	}
	if err := json.Unmarshal(request.Data, &data); err == nil && data.ErrorMessage != "" {
		c.hangups.Emit(HangupError{Source: c.identity, Message: data.ErrorMessage})
	}
	c.reply(ctx, request, map[string]any{})
}

// reply answers a fromWidget request. Handlers can outlive teardown
// (a blocked sticky gate, a request in flight across StopMessaging),
// so the connection is re-read under the lock and a nilled one makes
// the reply a no-op instead of a panic on the dispatch goroutine.
func (c *Channel) reply(ctx context.Context, request Envelope, response any) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.Reply(ctx, request, response); err != nil {
		c.logger.Warn("widget reply failed", "action", request.Action, "error", err)
	}
}

func (c *Channel) replyError(ctx context.Context, request Envelope, message string) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.ReplyError(ctx, request, message); err != nil {
		c.logger.Warn("widget error reply failed", "action", request.Action, "error", err)
	}
}

// Terminate asks the widget to shut down gracefully, waiting up to
// timeout for its acknowledgement. Only meaningful for widgets
// granted the receive-terminate capability; others are not asked.
func (c *Channel) Terminate(ctx context.Context, timeout time.Duration) {
	if !c.Granted().Has(widget.CapabilityReceiveTerminate) {
		return
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}

	done := make(chan struct{})
	go func() {
		if err := conn.Request(ctx, ActionTerminate, map[string]any{}, nil); err != nil {
			c.logger.Debug("terminate request not acknowledged", "error", err)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-c.cfg.Clock.After(timeout):
	case <-ctx.Done():
	}
}

// TakeScreenshot asks the widget for a rendering of its content,
// returned as a data URI. The widget must hold the screenshot
// capability. Failures are logged, never propagated: the caller gets
// ok=false and moves on.
func (c *Channel) TakeScreenshot(ctx context.Context) (dataURI string, ok bool) {
	if !c.Granted().Has(widget.CapabilityScreenshot) {
		return "", false
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return "", false
	}

	var response struct {
		Screenshot string `json:"screenshot"`
	}
	if err := conn.Request(ctx, ActionTakeScreenshot, map[string]any{}, &response); err != nil {
		c.logger.Warn("widget screenshot failed", "error", err)
		return "", false
	}
	return response.Screenshot, response.Screenshot != ""
}

// EmbedURL renders the URL loaded inside the widget frame.
func (c *Channel) EmbedURL() string {
	return c.renderURL(false)
}

// PopoutURL renders the URL for opening the widget in its own tab.
// Popouts drop the parent URL sprinkle since there is no embedding
// frame to report.
func (c *Channel) PopoutURL() string {
	return c.renderURL(true)
}

func (c *Channel) renderURL(popout bool) string {
	desc := c.cfg.Descriptor
	params := c.cfg.Params

	if desc.IsType(widget.TypeConference) {
		data := widget.ConferenceData(desc, params.Theme)
		auth, _ := data["auth"].(string)
		wrapper := widget.ConferenceWrapperURL(params.BaseURL, auth)
		return widget.RenderURL(wrapper, data, params)
	}

	rendered := widget.RenderURL(desc.URL, desc.Data, params)
	return c.appendLegacySprinkles(rendered, popout)
}

// appendLegacySprinkles adds the query parameters older widgets read
// instead of template placeholders.
func (c *Channel) appendLegacySprinkles(rendered string, popout bool) string {
	parsed, err := url.Parse(rendered)
	if err != nil {
		return rendered
	}
	query := parsed.Query()
	query.Set("widgetId", c.cfg.Descriptor.ID.String())
	if !popout {
		query.Set("parentUrl", c.cfg.Params.BaseURL)
	}
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" {
		query.Set("scalar_token", token)
	}
	parsed.RawQuery = query.Encode()
	return parsed.String()
}
