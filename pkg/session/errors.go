package session

import "errors"

var (
	// ErrNotAuthenticated means the local party has no public key to
	// publish events under, so nothing can be signed onto the relay.
	ErrNotAuthenticated = errors.New("no identity configured")
	// ErrSessionNotFound means no room snapshot exists on the relay.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionFull is the guest-side rejection: the fetched snapshot
	// already shows a full room.
	ErrSessionFull = errors.New("session is full")
	// ErrRoomFull is the host-side rejection of one more join.
	ErrRoomFull = errors.New("room is at capacity")
	// ErrRoomNotOpen refuses a join while the room is not accepting,
	// which is not the same condition as being out of slots.
	ErrRoomNotOpen = errors.New("room is not open")
	// ErrInvalidCapacity rejects a room sized below one player.
	ErrInvalidCapacity = errors.New("invalid player capacity")
	// ErrTransportFailed means the direct connection could not be
	// established or was lost beyond recovery.
	ErrTransportFailed = errors.New("peer transport failed")
	// ErrNotRunning means the controller was asked to act outside an
	// active session.
	ErrNotRunning = errors.New("no active session")
)
