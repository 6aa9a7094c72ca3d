package session

import (
	"errors"
	"testing"

	"github.com/retroplay/netplay/pkg/api"
)

func mustRoom(t *testing.T, players int) *Room {
	t.Helper()
	r, err := NewRoom("nes", "host-key", players)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestRoomInvalidCapacity(t *testing.T) {
	for _, players := range []int{0, -1} {
		if _, err := NewRoom("nes", "host-key", players); !errors.Is(err, ErrInvalidCapacity) {
			t.Errorf("NewRoom(%d) = %v, want ErrInvalidCapacity", players, err)
		}
	}
	if _, err := NewRoom("nes", "host-key", 1); err != nil {
		t.Errorf("solo room refused: %v", err)
	}
}

func TestRoomLifecycle(t *testing.T) {
	r := mustRoom(t, 2)
	if got := r.Status(); got != api.RoomCreating {
		t.Fatalf("fresh room = %v", got)
	}
	if api.GameOf(r.Id()) != "nes" {
		t.Errorf("game not derivable from id %q", r.Id())
	}
	if err := r.Join("guest1"); !errors.Is(err, ErrRoomNotOpen) {
		t.Errorf("join before open = %v, want ErrRoomNotOpen", err)
	}
	r.Open()
	if got := r.Status(); got != api.RoomAvailable {
		t.Fatalf("opened room = %v", got)
	}
	if err := r.Join("guest1"); err != nil {
		t.Fatal(err)
	}
	if err := r.Admit("guest1"); err != nil {
		t.Fatal(err)
	}
	if got := r.Status(); got != api.RoomFull {
		t.Errorf("room with all slots connected = %v, want full", got)
	}
	r.Evict("guest1")
	if got := r.Status(); got != api.RoomAvailable {
		t.Errorf("room after eviction = %v, want available", got)
	}
	s := r.Snapshot()
	if len(s.Guests) != 0 || len(s.Connected) != 0 {
		t.Errorf("eviction left traces: %+v", s)
	}
	r.Close()
	if got := r.Status(); got != api.RoomIdle {
		t.Errorf("closed room = %v", got)
	}
}

func TestRoomJoinIdempotent(t *testing.T) {
	r := mustRoom(t, 2)
	r.Open()
	for i := 0; i < 3; i++ {
		if err := r.Join("guest1"); err != nil {
			t.Fatalf("redelivered join %d refused: %v", i, err)
		}
	}
	if s := r.Snapshot(); len(s.Guests) != 1 {
		t.Errorf("redelivered joins multiplied the guest: %v", s.Guests)
	}
	if err := r.Join("guest2"); !errors.Is(err, ErrRoomFull) {
		t.Errorf("join past capacity = %v, want refusal", err)
	}
}

func TestRoomAdmitIdempotent(t *testing.T) {
	r := mustRoom(t, 3)
	r.Open()
	if err := r.Join("guest1"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := r.Admit("guest1"); err != nil {
			t.Fatalf("redelivered admit %d refused: %v", i, err)
		}
	}
	s := r.Snapshot()
	if len(s.Connected) != 1 {
		t.Errorf("redelivered admits multiplied the player: %v", s.Connected)
	}
	if s.Status != api.RoomAvailable {
		t.Errorf("room full with a free slot left: %v", s.Status)
	}
}

func TestRoomAdmitWithoutReservation(t *testing.T) {
	r := mustRoom(t, 2)
	r.Open()
	if err := r.Admit("guest1"); err != nil {
		t.Fatalf("admit without prior join = %v", err)
	}
	s := r.Snapshot()
	if !s.HasGuest("guest1") || !s.IsConnected("guest1") {
		t.Errorf("admit did not reserve: %+v", s)
	}
}

func TestRoomHostNeverJoins(t *testing.T) {
	r := mustRoom(t, 2)
	r.Open()
	if err := r.Join("host-key"); err != nil {
		t.Fatalf("host echo join = %v", err)
	}
	if s := r.Snapshot(); len(s.Guests) != 0 {
		t.Errorf("host landed in its own guest list: %v", s.Guests)
	}
}

func TestRoomSnapshotIsolated(t *testing.T) {
	r := mustRoom(t, 3)
	r.Open()
	_ = r.Join("guest1")
	s := r.Snapshot()
	s.Guests[0] = "mutated"
	if got := r.Snapshot().Guests[0]; got != "guest1" {
		t.Errorf("snapshot shares backing array with the room: %v", got)
	}
}
