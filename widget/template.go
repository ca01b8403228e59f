// Copyright 2026 The Widgethost Authors
// SPDX-License-Identifier: Apache-2.0

package widget

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/widgethost/core/ref"
)

// TemplateParams are the host-supplied values substituted into widget
// URL templates. Zero-valued fields are treated as unresolved and
// their placeholders are removed from the rendered URL rather than
// left as literal text.
type TemplateParams struct {
	UserID      ref.UserID
	RoomID      ref.RoomID
	DisplayName string
	AvatarURL   string
	DeviceID    string
	BaseURL     string
	ClientID    string
	Theme       string
	Language    string
}

// Placeholder names understood by the renderer, in the order they are
// substituted. Longer names must come before their prefixes so that a
// naive sequential ReplaceAll never mangles a longer placeholder.
var templatePlaceholders = []struct {
	token string
	value func(TemplateParams) string
}{
	{"$org.matrix.msc3819.matrix_device_id", func(p TemplateParams) string { return p.DeviceID }},
	{"$org.matrix.msc4039.matrix_base_url", func(p TemplateParams) string { return p.BaseURL }},
	{"$org.matrix.msc2873.client_language", func(p TemplateParams) string { return p.Language }},
	{"$org.matrix.msc2873.client_theme", func(p TemplateParams) string { return p.Theme }},
	{"$org.matrix.msc2873.client_id", func(p TemplateParams) string { return p.ClientID }},
	{"$matrix_display_name", func(p TemplateParams) string { return p.DisplayName }},
	{"$matrix_avatar_url", func(p TemplateParams) string { return p.AvatarURL }},
	{"$matrix_user_id", func(p TemplateParams) string { return p.UserID.String() }},
	{"$matrix_room_id", func(p TemplateParams) string { return p.RoomID.String() }},
}

// RenderURL substitutes a widget URL template.
//
// Widget data keys are substituted first ($conferenceId, $domain and
// friends come from the widget's own data map), then the host
// placeholders. Unresolved placeholders from the supported set are
// removed; unrecognized $-tokens belong to the widget and pass
// through untouched. All substituted values are query-escaped.
func RenderURL(template string, data map[string]any, params TemplateParams) string {
	rendered := template

	for key, value := range data {
		token := "$" + key
		if !strings.Contains(rendered, token) {
			continue
		}
		rendered = strings.ReplaceAll(rendered, token, url.QueryEscape(fmt.Sprint(value)))
	}

	for _, placeholder := range templatePlaceholders {
		value := placeholder.value(params)
		rendered = strings.ReplaceAll(rendered, placeholder.token, url.QueryEscape(value))
	}

	return rendered
}

// DefaultConferenceDomain is used for legacy conference widgets whose
// data carries no domain of their own.
const DefaultConferenceDomain = "meet.element.io"

// CollapseTheme reduces an arbitrary host theme name to the binary
// light/dark choice conference wrappers understand. Anything that is
// not recognizably light (including custom themes) is dark, which was
// historically the only state.
func CollapseTheme(theme string) string {
	if strings.Contains(theme, "light") {
		return "light"
	}
	return "dark"
}

// ConferenceData returns the widget's data map augmented with the
// derived conference fields: conferenceId recovered from the legacy
// "confId" URL query parameter when the structured data lacks it, the
// default conference domain, and the collapsed theme. The input map
// is not mutated.
func ConferenceData(d Descriptor, theme string) map[string]any {
	data := make(map[string]any, len(d.Data)+3)
	for key, value := range d.Data {
		data[key] = value
	}

	if _, ok := data["conferenceId"]; !ok {
		if parsed, err := url.Parse(d.URL); err == nil {
			if confID := parsed.Query().Get("confId"); confID != "" {
				data["conferenceId"] = confID
			}
		}
	}
	if _, ok := data["domain"]; !ok {
		data["domain"] = DefaultConferenceDomain
	}
	data["theme"] = CollapseTheme(theme)
	return data
}

// ConferenceWrapperURL builds the local wrapper URL used to render
// conference widgets instead of the URL stored in the event. The
// wrapper page reads its configuration from $-placeholders in the
// fragment, which are rendered by RenderURL like any other template.
func ConferenceWrapperURL(base string, auth string) string {
	queryParts := []string{
		"conferenceDomain=$domain",
		"conferenceId=$conferenceId",
		"isAudioOnly=$isAudioOnly",
		"isVideoChannel=$isVideoChannel",
		"displayName=$matrix_display_name",
		"avatarUrl=$matrix_avatar_url",
		"userId=$matrix_user_id",
		"roomId=$matrix_room_id",
		"theme=$theme",
		"roomName=$roomName",
		"language=$org.matrix.msc2873.client_language",
	}
	if auth != "" {
		queryParts = append(queryParts, "auth="+auth)
	}
	return strings.TrimSuffix(base, "/") + "/conference.html#" + strings.Join(queryParts, "&")
}
