// Copyright 2026 The Widgethost Authors
// SPDX-License-Identifier: Apache-2.0

// Package widget defines the widget value types shared by the rest of
// the core: the state-event content shape, the resolved Descriptor,
// widget type matching, the closed capability enum, and URL template
// rendering.
//
// Everything here is passive data and pure functions. Stores and
// channels live in the subpackages.
package widget
