package domain

import (
	"strings"
	"testing"
)

func TestRoomIDForHostIsStable(t *testing.T) {
	a := RoomIDForHost("host-1")
	b := RoomIDForHost("host-1")
	if a != b {
		t.Errorf("same host produced different IDs: %s vs %s", a, b)
	}
	if a == RoomIDForHost("host-2") {
		t.Error("different hosts produced the same ID")
	}
}

func TestRoomIDForHostShape(t *testing.T) {
	id := RoomIDForHost("host-1")
	if !strings.HasPrefix(id, "room-") {
		t.Errorf("ID missing room- prefix: %s", id)
	}
	hexPart := strings.TrimPrefix(id, "room-")
	if len(hexPart) != 12 {
		t.Errorf("expected 12 hex chars, got %d (%s)", len(hexPart), hexPart)
	}
	for _, c := range hexPart {
		if !strings.ContainsRune("0123456789abcdef", c) {
			t.Errorf("non-hex character %q in %s", c, id)
			break
		}
	}
}

func TestNewRoom(t *testing.T) {
	r := NewRoom("host-1")

	if r.ID != RoomIDForHost("host-1") {
		t.Errorf("room ID not derived from host: %s", r.ID)
	}
	if r.HostID != "host-1" {
		t.Errorf("HostID = %q", r.HostID)
	}
	if len(r.Members) != 1 || r.Members[0] != "host-1" {
		t.Errorf("host not sole member: %v", r.Members)
	}
	if r.Theme != ThemeNone {
		t.Errorf("new room theme = %q", r.Theme)
	}
}

func TestMemberSetSemantics(t *testing.T) {
	r := NewRoom("host-1")

	r.AddMember("viewer-1")
	r.AddMember("viewer-2")
	r.AddMember("viewer-1")

	want := []string{"host-1", "viewer-1", "viewer-2"}
	if len(r.Members) != len(want) {
		t.Fatalf("members = %v, want %v", r.Members, want)
	}
	for i, m := range want {
		if r.Members[i] != m {
			t.Errorf("members[%d] = %q, want %q", i, r.Members[i], m)
		}
	}

	r.RemoveMember("viewer-1")
	if r.HasMember("viewer-1") {
		t.Error("viewer-1 still present after removal")
	}
	if r.Members[0] != "host-1" || r.Members[1] != "viewer-2" {
		t.Errorf("removal did not preserve order: %v", r.Members)
	}

	// Removing an absent member is a no-op.
	r.RemoveMember("viewer-1")
}

func TestMemberSnapshotIsACopy(t *testing.T) {
	r := NewRoom("host-1")
	r.AddMember("viewer-1")

	snap := r.MemberSnapshot()
	snap[0] = "mallory"
	if r.Members[0] != "host-1" {
		t.Error("snapshot mutation leaked into the room")
	}
}

func TestValidTheme(t *testing.T) {
	for _, theme := range []Theme{ThemeNone, ThemeChristmas, ThemeLunarNewYear} {
		if !ValidTheme(theme) {
			t.Errorf("ValidTheme(%q) = false", theme)
		}
	}
	if ValidTheme("halloween") {
		t.Error("unknown theme accepted")
	}
}
