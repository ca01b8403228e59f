// Copyright 2026 The Widgethost Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "fmt"

// WidgetID is a validated widget identifier.
//
// Widget IDs are chosen by whoever adds the widget (an integration
// manager, the conference widget factory, a third-party client) and
// double as the state key of the backing room state event. They are
// opaque to the host; the only requirements are that they are
// non-empty and contain no whitespace or control characters, since
// they travel inside URLs, state keys, and identity keys.
//
// WidgetID is an immutable value type. The zero value is not valid;
// use IsZero to check.
type WidgetID struct {
	id string
}

// ParseWidgetID validates and wraps a raw widget ID string.
func ParseWidgetID(raw string) (WidgetID, error) {
	if raw == "" {
		return WidgetID{}, fmt.Errorf("empty widget ID")
	}
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c <= ' ' || c == 0x7f {
			return WidgetID{}, fmt.Errorf("widget ID contains whitespace or control character at index %d: %q", i, raw)
		}
	}
	return WidgetID{id: raw}, nil
}

// MustParseWidgetID is like ParseWidgetID but panics on error. Use in
// tests and static initialization where the input is known-valid.
func MustParseWidgetID(raw string) WidgetID {
	w, err := ParseWidgetID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseWidgetID(%q): %v", raw, err))
	}
	return w
}

// String returns the widget ID string.
func (w WidgetID) String() string { return w.id }

// IsZero reports whether the WidgetID is the zero value (uninitialized).
func (w WidgetID) IsZero() bool { return w.id == "" }

// MarshalText implements encoding.TextMarshaler.
func (w WidgetID) MarshalText() ([]byte, error) {
	if w.id == "" {
		return []byte{}, nil
	}
	return []byte(w.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Validates the
// widget ID format. An empty input produces the zero value.
func (w *WidgetID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*w = WidgetID{}
		return nil
	}
	parsed, err := ParseWidgetID(string(data))
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}
