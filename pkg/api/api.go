// Package api defines the domain and wire types shared between the
// session controller, the signaling codec, and the connection manager.
//
// Parties are identified by opaque public keys supplied by an external
// identity provider; this package treats them as plain strings usable
// for equality comparison and tag filtering.
package api

import "strings"

// RoomStatus is the lifecycle state of a session room.
type RoomStatus string

const (
	RoomIdle      RoomStatus = "idle"
	RoomCreating  RoomStatus = "creating"
	RoomAvailable RoomStatus = "available"
	RoomFull      RoomStatus = "full"
	RoomError     RoomStatus = "error"
)

// SignalType is the kind of a point-to-point signaling message.
type SignalType string

const (
	SignalJoin      SignalType = "join"
	SignalOffer     SignalType = "offer"
	SignalAnswer    SignalType = "answer"
	SignalCandidate SignalType = "candidate"
)

func (t SignalType) Valid() bool {
	switch t {
	case SignalJoin, SignalOffer, SignalAnswer, SignalCandidate:
		return true
	}
	return false
}

// PeerState is the observable state of one remote party's transport.
type PeerState uint8

const (
	PeerConnecting PeerState = iota
	PeerConnected
	PeerReady
	PeerDisconnected
	PeerFailed
)

func (s PeerState) String() string {
	switch s {
	case PeerConnecting:
		return "connecting"
	case PeerConnected:
		return "connected"
	case PeerReady:
		return "ready"
	case PeerDisconnected:
		return "disconnected"
	case PeerFailed:
		return "failed"
	}
	return "unknown"
}

// Session is the host's published room descriptor. The host is the only
// writer; every mutation is republished as a whole new snapshot.
type Session struct {
	Id         string
	GameId     string
	HostPubKey string
	MaxPlayers int
	Status     RoomStatus
	Guests     []string
	Connected  []string
	At         int64 // unix seconds of the snapshot
}

// GameOf extracts the game id from a session id of the form
// <gameId>:room:<random>. Returns an empty string when the id
// doesn't follow the scheme.
func GameOf(sessionId string) string {
	if i := strings.Index(sessionId, ":room:"); i > 0 {
		return sessionId[:i]
	}
	return ""
}

func (s *Session) HasGuest(id string) bool    { return contains(s.Guests, id) }
func (s *Session) IsConnected(id string) bool { return contains(s.Connected, id) }

// Clone returns a deep copy, so published snapshots stay immutable
// while the room record keeps mutating.
func (s *Session) Clone() Session {
	c := *s
	c.Guests = append([]string(nil), s.Guests...)
	c.Connected = append([]string(nil), s.Connected...)
	return c
}

// SignalMessage is one point-to-point exchange message. To is required
// for every type except the initial join, which targets the known host.
type SignalMessage struct {
	Type      SignalType
	SessionId string
	From      string
	To        string
	Payload   string // base64 JSON (SDP description or ICE candidate)
	At        int64  // relay timestamp, unix seconds
}

// AddressedTo reports whether the message targets the given identity.
// A join with an empty To is implicitly addressed to the host.
func (m *SignalMessage) AddressedTo(self string, isHost bool) bool {
	if m.To == self {
		return true
	}
	return m.To == "" && m.Type == SignalJoin && isHost
}

// ConnectedPlayer is the roster view of one remote party.
type ConnectedPlayer struct {
	PubKey string
	Status PeerState
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
