package session

import (
	"sync"
	"time"

	"github.com/retroplay/netplay/pkg/api"
	"github.com/retroplay/netplay/pkg/com"
)

// Room is the host's authoritative record of one session. Everything
// the rest of the swarm learns about the room is a published snapshot
// of this struct; the relay never holds state the room can't rebuild.
//
// Join and Admit are idempotent on purpose: the signaling layer
// delivers at least once, so the same guest announcement can arrive
// any number of times and must land in the same place.
type Room struct {
	mu sync.Mutex
	s  api.Session
}

// NewRoom opens a fresh room record in the creating state. The id is
// derived from the game, so discovery by game id is a tag lookup.
// Capacity counts the host, so it must be at least 1.
func NewRoom(gameId, host string, maxPlayers int) (*Room, error) {
	if maxPlayers < 1 {
		return nil, ErrInvalidCapacity
	}
	return &Room{s: api.Session{
		Id:         gameId + ":room:" + com.NewUid().String(),
		GameId:     gameId,
		HostPubKey: host,
		MaxPlayers: maxPlayers,
		Status:     api.RoomCreating,
		At:         time.Now().Unix(),
	}}, nil
}

func (r *Room) Id() string { return r.id() }

func (r *Room) id() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.s.Id
}

// Open marks the room joinable. Called once the first snapshot is on
// the relay.
func (r *Room) Open() {
	r.mu.Lock()
	if r.s.Status == api.RoomCreating {
		r.s.Status = api.RoomAvailable
		r.s.At = time.Now().Unix()
	}
	r.mu.Unlock()
}

// Join reserves a slot for the guest. Re-joining an already reserved
// slot is a no-op; the room only rejects when every guest slot is
// taken by someone else.
func (r *Room) Join(guest string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if guest == r.s.HostPubKey || r.s.HasGuest(guest) {
		return nil
	}
	switch r.s.Status {
	case api.RoomAvailable:
	case api.RoomFull:
		return ErrRoomFull
	default:
		return ErrRoomNotOpen
	}
	if len(r.s.Guests) >= r.s.MaxPlayers-1 {
		return ErrRoomFull
	}
	r.s.Guests = append(r.s.Guests, guest)
	r.s.At = time.Now().Unix()
	return nil
}

// Admit marks a reserved guest as connected. Admitting a guest with no
// reservation reserves and admits in one step, which covers the host
// restarting mid-handshake. The room flips to full when the last slot
// connects.
func (r *Room) Admit(guest string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.s.IsConnected(guest) {
		return nil
	}
	if !r.s.HasGuest(guest) {
		if len(r.s.Guests) >= r.s.MaxPlayers-1 {
			return ErrRoomFull
		}
		r.s.Guests = append(r.s.Guests, guest)
	}
	r.s.Connected = append(r.s.Connected, guest)
	if len(r.s.Connected) >= r.s.MaxPlayers-1 {
		r.s.Status = api.RoomFull
	}
	r.s.At = time.Now().Unix()
	return nil
}

// Evict drops the guest entirely. A full room reopens.
func (r *Room) Evict(guest string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s.Guests = remove(r.s.Guests, guest)
	r.s.Connected = remove(r.s.Connected, guest)
	if r.s.Status == api.RoomFull {
		r.s.Status = api.RoomAvailable
	}
	r.s.At = time.Now().Unix()
}

// Close retires the room.
func (r *Room) Close() {
	r.mu.Lock()
	r.s.Status = api.RoomIdle
	r.s.At = time.Now().Unix()
	r.mu.Unlock()
}

// Fail marks the room broken; joiners should look elsewhere.
func (r *Room) Fail() {
	r.mu.Lock()
	r.s.Status = api.RoomError
	r.s.At = time.Now().Unix()
	r.mu.Unlock()
}

func (r *Room) Status() api.RoomStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.s.Status
}

// Snapshot is the publishable copy of the current state.
func (r *Room) Snapshot() api.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.s.Clone()
}

func remove(list []string, v string) []string {
	out := list[:0]
	for _, x := range list {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
