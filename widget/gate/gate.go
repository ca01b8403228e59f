// Copyright 2026 The Widgethost Authors
// SPDX-License-Identifier: Apache-2.0

// Package gate decides whether a widget may load and which
// capabilities the host is willing to grant it.
package gate

import (
	"strconv"
	"sync"

	"github.com/widgethost/core/host"
	"github.com/widgethost/core/ref"
	"github.com/widgethost/core/widget"
)

// LoadCheck is passed to registered load hooks. A hook approves the
// widget by setting Approved; hooks never veto an approval made by an
// earlier hook or by the built-in rules.
type LoadCheck struct {
	Descriptor widget.Descriptor
	RoomID     ref.RoomID
	Approved   bool
}

// LoadHook is a policy extension point consulted by MayLoad.
type LoadHook func(*LoadCheck)

// Gate evaluates widget load permission and capability allow-lists.
// Safe for concurrent use.
type Gate struct {
	settings host.Settings

	mu    sync.Mutex
	hooks []LoadHook
}

// NewGate creates a gate reading per-room settings from settings.
func NewGate(settings host.Settings) *Gate {
	return &Gate{settings: settings}
}

// AddLoadHook registers a policy hook. The returned cancel removes it.
func (g *Gate) AddLoadHook(hook LoadHook) (cancel func()) {
	g.mu.Lock()
	g.hooks = append(g.hooks, hook)
	index := len(g.hooks) - 1
	g.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			g.hooks[index] = nil
			g.mu.Unlock()
		})
	}
}

// MayLoad reports whether the widget may be rendered. Grants is the
// set of widget state event IDs the user has explicitly approved in
// the widget's room.
func (g *Gate) MayLoad(desc widget.Descriptor, grants map[ref.EventID]bool, currentUser ref.UserID) bool {
	// Conference widgets are rendered by a trusted local wrapper, not
	// the raw third-party URL.
	if desc.IsType(widget.TypeConference) {
		return true
	}
	// Account widgets have no room to be granted in.
	if desc.RoomID.IsZero() {
		return true
	}

	check := LoadCheck{Descriptor: desc, RoomID: desc.RoomID}
	g.mu.Lock()
	hooks := make([]LoadHook, len(g.hooks))
	copy(hooks, g.hooks)
	g.mu.Unlock()
	for _, hook := range hooks {
		if hook != nil {
			hook(&check)
		}
	}
	if check.Approved {
		return true
	}

	if !desc.EventID.IsZero() && grants[desc.EventID] {
		return true
	}
	return desc.CreatorUserID == currentUser && !currentUser.IsZero()
}

// AllowList returns the capabilities the host will grant a widget of
// the given type in the given room, before intersecting with what the
// widget actually requests.
func (g *Gate) AllowList(widgetType string, roomID ref.RoomID) widget.CapabilitySet {
	capabilities := []widget.Capability{widget.CapabilityReceiveTerminate}
	if g.screenshotsEnabled(roomID) {
		capabilities = append(capabilities, widget.CapabilityScreenshot)
	}
	if widget.TypeConference.Matches(widgetType) {
		capabilities = append(capabilities, widget.CapabilityAlwaysOnScreen)
	}
	return widget.NewCapabilitySet(capabilities...)
}

func (g *Gate) screenshotsEnabled(roomID ref.RoomID) bool {
	if g.settings == nil {
		return false
	}
	raw, ok := g.settings.Value(host.SettingScreenshots, roomID)
	if !ok {
		return false
	}
	enabled, err := strconv.ParseBool(raw)
	return err == nil && enabled
}
