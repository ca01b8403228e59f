// Copyright 2026 The Widgethost Authors
// SPDX-License-Identifier: Apache-2.0

package host

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/widgethost/core/ref"
)

func TestScalarClientTokenCached(t *testing.T) {
	registrations := 0
	manager := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasPrefix(r.URL.Path, "/register") {
			http.NotFound(w, r)
			return
		}
		registrations++
		fmt.Fprintf(w, `{"scalar_token": "tok-%d"}`, registrations)
	}))
	defer manager.Close()

	client := NewScalarClient(manager.URL, manager.URL)
	token, err := client.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if token != "tok-1" {
		t.Fatalf("token = %q, want tok-1", token)
	}

	again, err := client.Token(context.Background())
	if err != nil {
		t.Fatalf("Token (cached): %v", err)
	}
	if again != token {
		t.Errorf("second token = %q, want the cached %q", again, token)
	}
	if registrations != 1 {
		t.Errorf("manager saw %d registrations, want 1", registrations)
	}
}

func TestScalarClientOpen(t *testing.T) {
	manager := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"scalar_token": "tok"}`)
	}))
	defer manager.Close()

	client := NewScalarClient(manager.URL, "https://scalar.example.org")
	var opened string
	client.OnOpen = func(uiURL string) { opened = uiURL }

	roomID := ref.MustParseRoomID("!r:example.org")
	if err := client.Open(context.Background(), roomID, "type_m.stickerpicker", "sticker-1"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	for _, want := range []string{"https://scalar.example.org/?", "scalar_token=tok", "screen=type_m.stickerpicker", "integ_id=sticker-1"} {
		if !strings.Contains(opened, want) {
			t.Errorf("opened URL %q missing %q", opened, want)
		}
	}
}

func TestScalarClientOpenWithoutUI(t *testing.T) {
	manager := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"scalar_token": "tok"}`)
	}))
	defer manager.Close()

	client := NewScalarClient(manager.URL, manager.URL)
	if err := client.Open(context.Background(), ref.RoomID{}, "", ""); err == nil {
		t.Fatal("Open succeeded with no UI attached")
	}
}
