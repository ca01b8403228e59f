// Copyright 2026 The Widgethost Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides strongly typed, immutable identity references
// for the widget host: user IDs, room IDs, event IDs, widget IDs, and
// the composite widget Identity that keys messaging channels and
// persistence tracking.
//
// All constructors validate their inputs and return errors for invalid
// values. Once constructed, a ref is immutable. The zero value of
// every type is "unset" and reports true from IsZero.
//
// JSON marshaling uses the canonical string form via
// encoding.TextMarshaler, so maps keyed by these types round-trip
// through encoding/json with validation at the boundary.
package ref
