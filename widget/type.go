// Copyright 2026 The Widgethost Authors
// SPDX-License-Identifier: Apache-2.0

package widget

// Type is a widget type with a preferred and a legacy wire name.
// Older clients wrote the legacy name into widget events, so matching
// always accepts both.
type Type struct {
	// Preferred is the namespaced type written by current clients.
	Preferred string
	// Legacy is the historical unnamespaced (or differently named)
	// type still found in old events.
	Legacy string
}

// Well-known widget types. Anything else is a generic custom widget.
var (
	// TypeConference is the video-conferencing bridge widget. It is
	// rendered from a local wrapper and allowed to go persistent.
	TypeConference = Type{Preferred: "m.jitsi", Legacy: "jitsi"}

	// TypeStickerpicker is the account-scoped sticker picker.
	TypeStickerpicker = Type{Preferred: "m.stickerpicker", Legacy: "m.stickerpicker"}

	// TypeIntegrationManager marks the widget entry describing an
	// integration manager in account data.
	TypeIntegrationManager = Type{Preferred: "m.integration_manager", Legacy: "m.integration_manager"}

	// TypeCustom is the catch-all for third-party widgets.
	TypeCustom = Type{Preferred: "m.custom", Legacy: "m.custom"}
)

// Matches reports whether the raw wire type names this widget type.
func (t Type) Matches(raw string) bool {
	return raw == t.Preferred || raw == t.Legacy
}
