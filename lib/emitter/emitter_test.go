// Copyright 2026 The Widgethost Authors
// SPDX-License-Identifier: Apache-2.0

package emitter

import "testing"

func TestEmitterDeliversToAllListeners(t *testing.T) {
	var e Emitter[int]
	var a, b []int
	cancelA := e.Subscribe(func(v int) { a = append(a, v) })
	e.Subscribe(func(v int) { b = append(b, v) })

	e.Emit(1)
	e.Emit(2)
	if len(a) != 2 || len(b) != 2 {
		t.Fatalf("delivery counts: a=%d b=%d, want 2 each", len(a), len(b))
	}

	cancelA()
	cancelA() // idempotent
	e.Emit(3)
	if len(a) != 2 {
		t.Errorf("cancelled listener received %d values, want 2", len(a))
	}
	if len(b) != 3 || b[2] != 3 {
		t.Errorf("remaining listener values = %v", b)
	}
}

func TestEmitterZeroValue(t *testing.T) {
	var e Emitter[string]
	e.Emit("nobody listening") // must not panic
}
