// Copyright 2026 The Widgethost Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging implements the widget RPC protocol: the envelope
// wire format, per-widget transports, the channel state machine that
// negotiates capabilities and bridges widget actions to host services,
// and the event feed with its read-up-to marker.
package messaging

import "encoding/json"

// Envelope direction markers.
const (
	APIToWidget   = "toWidget"
	APIFromWidget = "fromWidget"
)

// Actions initiated by the host.
const (
	ActionCapabilities       = "capabilities"
	ActionNotifyCapabilities = "notify_capabilities"
	ActionSendEvent          = "send_event"
	ActionSendToDevice       = "send_to_device"
	ActionThemeChange        = "theme_change"
	ActionViewedRoomChange   = "io.element.viewed_room"
	ActionTakeScreenshot     = "screenshot"
	ActionTerminate          = "im.vector.terminate"
)

// Actions initiated by the widget.
const (
	ActionSupportedVersions      = "supported_api_versions"
	ActionContentLoaded          = "content_loaded"
	ActionSetAlwaysOnScreen      = "set_always_on_screen"
	ActionSendSticker            = "m.sticker"
	ActionOpenModal              = "open_modal"
	ActionCloseModal             = "close_modal"
	ActionHangup                 = "im.vector.hangup"
	ActionViewRoom               = "io.element.view_room"
	ActionOpenIntegrationManager = "integration_manager_open"
)

// SupportedAPIVersions is the fixed list advertised to widgets that
// ask, oldest first. CurrentAPIVersion is reported separately.
var SupportedAPIVersions = []string{
	"0.0.1",
	"0.0.2",
	"org.matrix.msc2762",
	"org.matrix.msc2871",
	"org.matrix.msc3819",
}

// CurrentAPIVersion is the newest version this host implements.
const CurrentAPIVersion = "0.0.2"

// Envelope is the postMessage wire format. Requests carry Data; the
// receiver replies by round-tripping the same envelope with Response
// attached. Correlation is purely by RequestID.
type Envelope struct {
	API       string          `json:"api"`
	WidgetID  string          `json:"widgetId"`
	RequestID string          `json:"requestId"`
	Action    string          `json:"action"`
	Data      json.RawMessage `json:"data,omitempty"`
	Response  json.RawMessage `json:"response,omitempty"`
}

// IsReply reports whether the envelope is a response to an earlier
// request rather than a new request.
func (e Envelope) IsReply() bool { return len(e.Response) > 0 }

// ErrorResponse is the widget-visible structured error reply shape.
// Protocol errors are answered with this on the same transport, never
// surfaced to the host UI.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Message string `json:"message"`
}

// NewErrorResponse builds a structured error reply.
func NewErrorResponse(message string) ErrorResponse {
	return ErrorResponse{Error: ErrorBody{Message: message}}
}

// VersionsResponse answers a supported_api_versions request.
type VersionsResponse struct {
	SupportedVersions []string `json:"supported_versions"`
	CurrentVersion    string   `json:"current_version"`
}

// CapabilitiesResponse is the widget's answer to the capabilities
// request: the raw capability strings it wants.
type CapabilitiesResponse struct {
	Capabilities []string `json:"capabilities"`
}

// NotifyCapabilitiesData tells the widget which subset of its request
// was approved.
type NotifyCapabilitiesData struct {
	Requested []string `json:"requested"`
	Approved  []string `json:"approved"`
}
