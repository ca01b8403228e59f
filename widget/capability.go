// Copyright 2026 The Widgethost Authors
// SPDX-License-Identifier: Apache-2.0

package widget

// Capability is a permission a widget must be granted before the host
// honors the corresponding action.
//
// On the wire capabilities are open strings (third-party widgets may
// request anything) but they are parsed into this closed enum at the
// transport boundary. Unrecognized strings map to CapabilityUnknown,
// which no allow-list ever contains, so they are inert rather than an
// error.
type Capability int

const (
	// CapabilityUnknown is any capability string the host does not
	// recognize. Never granted.
	CapabilityUnknown Capability = iota

	// CapabilityAlwaysOnScreen lets the widget pin itself persistent
	// (keep running when its container unmounts).
	CapabilityAlwaysOnScreen

	// CapabilityStickerSending lets the widget post stickers into the
	// viewed room.
	CapabilityStickerSending

	// CapabilityScreenshot lets the host request screenshots of the
	// widget.
	CapabilityScreenshot

	// CapabilityReceiveTerminate grants the widget a graceful
	// terminate notification before teardown.
	CapabilityReceiveTerminate

	// CapabilityViewRoom lets the widget change which room the host
	// is viewing.
	CapabilityViewRoom

	// CapabilityRequiresClient marks widgets that only function
	// embedded in a full client (hides popout affordances).
	CapabilityRequiresClient
)

// Wire strings for the known capabilities.
const (
	wireAlwaysOnScreen   = "m.always_on_screen"
	wireStickerSending   = "m.sticker"
	wireScreenshot       = "m.capability.screenshot"
	wireReceiveTerminate = "im.vector.receive_terminate"
	wireViewRoom         = "io.element.view_room"
	wireRequiresClient   = "io.element.requires_client"
)

// ParseCapability maps a wire string onto the closed enum.
// Unrecognized strings return CapabilityUnknown.
func ParseCapability(raw string) Capability {
	switch raw {
	case wireAlwaysOnScreen:
		return CapabilityAlwaysOnScreen
	case wireStickerSending:
		return CapabilityStickerSending
	case wireScreenshot:
		return CapabilityScreenshot
	case wireReceiveTerminate:
		return CapabilityReceiveTerminate
	case wireViewRoom:
		return CapabilityViewRoom
	case wireRequiresClient:
		return CapabilityRequiresClient
	default:
		return CapabilityUnknown
	}
}

// String returns the wire form of the capability, or "unknown" for
// CapabilityUnknown (which must never be written to the wire).
func (c Capability) String() string {
	switch c {
	case CapabilityAlwaysOnScreen:
		return wireAlwaysOnScreen
	case CapabilityStickerSending:
		return wireStickerSending
	case CapabilityScreenshot:
		return wireScreenshot
	case CapabilityReceiveTerminate:
		return wireReceiveTerminate
	case CapabilityViewRoom:
		return wireViewRoom
	case CapabilityRequiresClient:
		return wireRequiresClient
	default:
		return "unknown"
	}
}

// CapabilitySet is an unordered set of granted or allowed capabilities.
type CapabilitySet map[Capability]struct{}

// NewCapabilitySet builds a set from the given capabilities, dropping
// CapabilityUnknown.
func NewCapabilitySet(capabilities ...Capability) CapabilitySet {
	set := make(CapabilitySet, len(capabilities))
	for _, capability := range capabilities {
		if capability != CapabilityUnknown {
			set[capability] = struct{}{}
		}
	}
	return set
}

// Has reports whether the capability is in the set.
func (s CapabilitySet) Has(capability Capability) bool {
	_, ok := s[capability]
	return ok
}

// Intersect returns the capabilities from the requested wire strings
// that are present in the set: the granted subset is never larger
// than what was requested.
func (s CapabilitySet) Intersect(requested []string) CapabilitySet {
	granted := make(CapabilitySet)
	for _, raw := range requested {
		capability := ParseCapability(raw)
		if capability == CapabilityUnknown {
			continue
		}
		if s.Has(capability) {
			granted[capability] = struct{}{}
		}
	}
	return granted
}

// Strings returns the wire strings of the set, for the capability
// grant reply. Order is unspecified.
func (s CapabilitySet) Strings() []string {
	out := make([]string, 0, len(s))
	for capability := range s {
		out = append(out, capability.String())
	}
	return out
}
