// Copyright 2026 The Widgethost Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "testing"

func TestIdentityKeyUniqueAcrossScopes(t *testing.T) {
	widgetID := MustParseWidgetID("shared")
	roomA := MustParseRoomID("!a:example.org")
	roomB := MustParseRoomID("!b:example.org")
	alice := MustParseUserID("@alice:example.org")

	inRoomA, err := RoomIdentity(widgetID, roomA)
	if err != nil {
		t.Fatalf("RoomIdentity: %v", err)
	}
	inRoomB, err := RoomIdentity(widgetID, roomB)
	if err != nil {
		t.Fatalf("RoomIdentity: %v", err)
	}
	onAccount, err := AccountIdentity(widgetID, alice)
	if err != nil {
		t.Fatalf("AccountIdentity: %v", err)
	}

	keys := map[string]Identity{
		inRoomA.Key():   inRoomA,
		inRoomB.Key():   inRoomB,
		onAccount.Key(): onAccount,
	}
	if len(keys) != 3 {
		t.Fatalf("expected 3 distinct keys, got %d: %v", len(keys), keys)
	}

	if inRoomA == inRoomB {
		t.Error("identities in different rooms compare equal")
	}
	if inRoomA.Key() != "room_!a:example.org_shared" {
		t.Errorf("room key = %q", inRoomA.Key())
	}
	if onAccount.Key() != "user_@alice:example.org_shared" {
		t.Errorf("account key = %q", onAccount.Key())
	}
	if !onAccount.IsAccount() || inRoomA.IsAccount() {
		t.Error("IsAccount misreports scope")
	}
}

func TestIdentityConstructorValidation(t *testing.T) {
	if _, err := RoomIdentity(WidgetID{}, MustParseRoomID("!a:example.org")); err == nil {
		t.Error("RoomIdentity accepted zero widget ID")
	}
	if _, err := RoomIdentity(MustParseWidgetID("w"), RoomID{}); err == nil {
		t.Error("RoomIdentity accepted zero room ID")
	}
	if _, err := AccountIdentity(MustParseWidgetID("w"), UserID{}); err == nil {
		t.Error("AccountIdentity accepted zero user ID")
	}
}
