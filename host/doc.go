// Copyright 2026 The Widgethost Authors
// SPDX-License-Identifier: Apache-2.0

// Package host defines the contract between the widget core and the
// embedding chat client. The core never talks to a homeserver itself;
// it consumes these interfaces and leaves their implementation (sync
// loops, crypto, HTTP) to the host application.
//
// Events cross this boundary in both directions: the host feeds
// timeline, state, and to-device events into messaging channels, and
// the store writes widget state events and account data back through
// StateStore and AccountStore.
package host
