// Copyright 2026 The Widgethost Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"log/slog"
	"sync"

	"github.com/widgethost/core/ref"
)

// Registry holds at most one live channel per widget identity. It is
// the single mutator of the identity to channel map; consumers only
// read through Get.
type Registry struct {
	logger *slog.Logger

	mu       sync.Mutex
	channels map[ref.Identity]*Channel
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:   logger,
		channels: make(map[ref.Identity]*Channel),
	}
}

// Get returns the live channel for an identity, or nil.
func (r *Registry) Get(identity ref.Identity) *Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.channels[identity]
}

// Store registers a channel under its identity, replacing any prior
// one. The caller is responsible for having stopped the old channel;
// a replacement of a still-started channel is logged.
func (r *Registry) Store(channel *Channel) {
	identity := channel.Identity()

	r.mu.Lock()
	prior := r.channels[identity]
	r.channels[identity] = channel
	r.mu.Unlock()

	if prior != nil && prior.State() != StateStopped {
		r.logger.Warn("replacing a channel that was never stopped",
			"identity", identity)
	}
}

// Channels returns a snapshot of all registered channels. The event
// dispatch layer uses it to fan timeline traffic out to every live
// feed.
func (r *Registry) Channels() []*Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	channels := make([]*Channel, 0, len(r.channels))
	for _, channel := range r.channels {
		channels = append(channels, channel)
	}
	return channels
}

// StopMessaging stops and deregisters the channel for an identity.
// The channel stays registered when teardown is skipped for a
// persistent widget, so a later forced stop can still find it.
// Implements the persistence tracker's ChannelStopper.
func (r *Registry) StopMessaging(identity ref.Identity, forceDestroy bool) {
	r.mu.Lock()
	channel := r.channels[identity]
	r.mu.Unlock()
	if channel == nil {
		return
	}
	if !channel.StopMessaging(forceDestroy) {
		return
	}

	r.mu.Lock()
	if r.channels[identity] == channel {
		delete(r.channels, identity)
	}
	r.mu.Unlock()
}

// StopAll force-stops every channel. Used at session logout.
func (r *Registry) StopAll() {
	r.mu.Lock()
	channels := make([]*Channel, 0, len(r.channels))
	for _, channel := range r.channels {
		channels = append(channels, channel)
	}
	r.channels = make(map[ref.Identity]*Channel)
	r.mu.Unlock()

	for _, channel := range channels {
		channel.StopMessaging(true)
	}
}
