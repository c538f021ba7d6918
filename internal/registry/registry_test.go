package registry

import (
	"fmt"
	"testing"

	"github.com/stagecast/stagecast/internal/domain"
)

func TestCreateRoomIsIdempotent(t *testing.T) {
	r := New()

	first := r.CreateRoom("host-1")
	second := r.CreateRoom("host-1")

	if first.ID != second.ID {
		t.Errorf("room ID changed across creates: %s vs %s", first.ID, second.ID)
	}
	if r.RoomCount() != 1 {
		t.Errorf("expected 1 room, got %d", r.RoomCount())
	}
	if len(second.Members) != 1 || second.Members[0] != "host-1" {
		t.Errorf("unexpected members: %v", second.Members)
	}
}

func TestCreateRoomReaddsMissingHost(t *testing.T) {
	r := New()

	room := r.CreateRoom("host-1")
	r.RemoveMemberFromRoom(room.ID, "host-1")

	room = r.CreateRoom("host-1")
	if !room.HasMember("host-1") {
		t.Error("host not re-added on recreate")
	}
}

func TestMemberOperations(t *testing.T) {
	r := New()
	room := r.CreateRoom("host-1")

	if !r.AddMemberToRoom(room.ID, "viewer-1") {
		t.Fatal("AddMemberToRoom failed for existing room")
	}
	if r.AddMemberToRoom("room-nope", "viewer-1") {
		t.Error("AddMemberToRoom succeeded for missing room")
	}

	// No duplicates.
	r.AddMemberToRoom(room.ID, "viewer-1")
	if got := r.FindRoomByID(room.ID); len(got.Members) != 2 {
		t.Errorf("expected 2 members, got %v", got.Members)
	}

	r.RemoveMemberFromRoom(room.ID, "viewer-1")
	if r.FindRoomByID(room.ID).HasMember("viewer-1") {
		t.Error("member still present after removal")
	}
}

func TestSocketBindingsMaintainReverseIndex(t *testing.T) {
	r := New()

	r.SetUserSocket("user-1", "sock-a")
	if got := r.FindUserIDBySocketID("sock-a"); got != "user-1" {
		t.Errorf("reverse lookup = %q, want user-1", got)
	}

	// Rebinding must drop the stale reverse entry; this is what keeps a
	// reconnect's old disconnect from resolving to the user.
	r.SetUserSocket("user-1", "sock-b")
	if got := r.FindUserIDBySocketID("sock-a"); got != "" {
		t.Errorf("stale socket still resolves to %q", got)
	}
	if got := r.GetUserSocket("user-1"); got != "sock-b" {
		t.Errorf("forward lookup = %q, want sock-b", got)
	}

	r.DeleteUserSocket("user-1")
	if r.GetUserSocket("user-1") != "" || r.FindUserIDBySocketID("sock-b") != "" {
		t.Error("bindings survived DeleteUserSocket")
	}
}

func TestUserRoomBindings(t *testing.T) {
	r := New()

	r.SetUserRoom("user-1", "room-x")
	if got := r.GetUserRoom("user-1"); got != "room-x" {
		t.Errorf("GetUserRoom = %q", got)
	}
	r.DeleteUserRoom("user-1")
	if r.GetUserRoom("user-1") != "" {
		t.Error("binding survived DeleteUserRoom")
	}
}

func TestPresenceCRUD(t *testing.T) {
	r := New()

	r.UpsertPresence(domain.Presence{UserID: "u1", Name: "Alice", RoomID: "room-x", SocketID: "s1"})
	r.UpsertPresence(domain.Presence{UserID: "u2", Name: "Bob", RoomID: "room-x", SocketID: "s2"})
	r.UpsertPresence(domain.Presence{UserID: "u3", Name: "Eve", RoomID: "room-y", SocketID: "s3"})

	p := r.GetPresence("u1")
	if p == nil || p.Name != "Alice" {
		t.Fatalf("unexpected presence: %+v", p)
	}

	// Returned records are copies.
	p.Name = "Mallory"
	if r.GetPresence("u1").Name != "Alice" {
		t.Error("presence mutated through a returned copy")
	}

	inRoom := r.PresenceInRoom("room-x")
	if len(inRoom) != 2 {
		t.Errorf("expected 2 presences in room-x, got %d", len(inRoom))
	}

	r.DeletePresence("u1")
	if r.GetPresence("u1") != nil {
		t.Error("presence survived delete")
	}
}

func TestSetRoomTheme(t *testing.T) {
	r := New()
	room := r.CreateRoom("host-1")

	if !r.SetRoomTheme(room.ID, domain.ThemeLunarNewYear) {
		t.Fatal("SetRoomTheme failed for existing room")
	}
	if r.FindRoomByID(room.ID).Theme != domain.ThemeLunarNewYear {
		t.Error("theme not committed")
	}
	if r.SetRoomTheme("room-nope", domain.ThemeNone) {
		t.Error("SetRoomTheme succeeded for missing room")
	}
}

func TestDeleteRoom(t *testing.T) {
	r := New()
	room := r.CreateRoom("host-1")

	r.DeleteRoom(room.ID)
	if r.FindRoomByID(room.ID) != nil {
		t.Error("room survived delete")
	}
	// Deleting again is a no-op.
	r.DeleteRoom(room.ID)
}

func TestFindRoomByIDReturnsSnapshot(t *testing.T) {
	r := New()
	room := r.CreateRoom("host-1")

	// Mutating a returned room must not touch the stored record.
	got := r.FindRoomByID(room.ID)
	got.Members = append(got.Members, "intruder")
	got.Theme = domain.ThemeChristmas

	fresh := r.FindRoomByID(room.ID)
	if fresh.HasMember("intruder") {
		t.Error("mutation of a snapshot leaked into the registry")
	}
	if fresh.Theme != domain.ThemeNone {
		t.Errorf("theme mutated through a snapshot: %q", fresh.Theme)
	}
}

func TestConcurrentMembershipAndReads(t *testing.T) {
	r := New()
	room := r.CreateRoom("host-1")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			member := fmt.Sprintf("viewer-%d", i)
			r.AddMemberToRoom(room.ID, member)
			r.RemoveMemberFromRoom(room.ID, member)
		}
	}()

	// Readers on other goroutines see consistent copies while the member
	// list churns.
	for i := 0; i < 500; i++ {
		if got := r.FindRoomByID(room.ID); got != nil {
			_ = got.MemberSnapshot()
			_ = got.HasMember("host-1")
		}
		_ = r.Members(room.ID)
	}
	<-done

	members := r.Members(room.ID)
	if len(members) != 1 || members[0] != "host-1" {
		t.Errorf("unexpected final members: %v", members)
	}
}
