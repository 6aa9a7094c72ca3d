// Package signal maps domain messages onto relay events and back, and
// keeps redelivery from leaking into the rest of the system.
//
// Two event shapes exist on the wire. Session snapshots are addressable
// events written only by the host; the whole room state rides in tags,
// so any party can reconstruct it without the content body. Signaling
// messages are plain events with the SDP or ICE payload in the content,
// base64-wrapped the same way browser peers do it.
package signal

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/retroplay/netplay/pkg/api"
	"github.com/retroplay/netplay/pkg/relay"
)

const (
	tagD         = "d"
	tagType      = "type"
	tagFrom      = "from"
	tagTo        = "to"
	tagHost      = "host"
	tagPlayers   = "players"
	tagStatus    = "status"
	tagGuest     = "guest"
	tagConnected = "connected"

	typeSession = "session"
)

var (
	ErrMalformedEvent = errors.New("malformed signaling event")
	ErrUnknownType    = errors.New("unknown signaling message type")
)

// Encode wraps a value as base64 JSON for transport inside an event.
func Encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// Decode unwraps a base64 JSON value produced by Encode.
func Decode(data string, obj any) error {
	b, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, obj)
}

// EncodeSession packs a room snapshot into an addressable event keyed
// by the session id, so the relay keeps only the newest snapshot.
func EncodeSession(s *api.Session) relay.Event {
	ev := relay.NewEvent(s.HostPubKey, relay.KindSession)
	ev.AddTag(tagD, s.Id)
	ev.AddTag(tagType, typeSession)
	ev.AddTag(tagHost, s.HostPubKey)
	ev.AddTag(tagPlayers, strconv.Itoa(s.MaxPlayers))
	ev.AddTag(tagStatus, string(s.Status))
	for _, g := range s.Guests {
		ev.AddTag(tagGuest, g)
	}
	for _, c := range s.Connected {
		ev.AddTag(tagConnected, c)
	}
	return ev
}

// DecodeSession reconstructs a room snapshot from its event.
func DecodeSession(ev *relay.Event) (api.Session, error) {
	id, ok := ev.TagValue(tagD)
	if !ok || id == "" {
		return api.Session{}, ErrMalformedEvent
	}
	host, _ := ev.TagValue(tagHost)
	if host == "" {
		host = ev.PubKey
	}
	players := 0
	if p, ok := ev.TagValue(tagPlayers); ok {
		players, _ = strconv.Atoi(p)
	}
	status, _ := ev.TagValue(tagStatus)
	return api.Session{
		Id:         id,
		GameId:     api.GameOf(id),
		HostPubKey: host,
		MaxPlayers: players,
		Status:     api.RoomStatus(status),
		Guests:     ev.TagValues(tagGuest),
		Connected:  ev.TagValues(tagConnected),
		At:         ev.CreatedAt,
	}, nil
}

// EncodeSignal packs a point-to-point message. The payload is carried
// opaque; routing lives in tags so relays can filter without parsing.
func EncodeSignal(m *api.SignalMessage) relay.Event {
	ev := relay.NewEvent(m.From, relay.KindSignal)
	ev.AddTag(tagD, m.SessionId)
	ev.AddTag(tagType, string(m.Type))
	ev.AddTag(tagFrom, m.From)
	if m.To != "" {
		ev.AddTag(tagTo, m.To)
	}
	ev.Content = m.Payload
	return ev
}

// DecodeSignal reconstructs a point-to-point message, rejecting events
// with a missing session or an unrecognized type.
func DecodeSignal(ev *relay.Event) (api.SignalMessage, error) {
	id, ok := ev.TagValue(tagD)
	if !ok || id == "" {
		return api.SignalMessage{}, ErrMalformedEvent
	}
	t, _ := ev.TagValue(tagType)
	st := api.SignalType(t)
	if !st.Valid() {
		return api.SignalMessage{}, ErrUnknownType
	}
	from, _ := ev.TagValue(tagFrom)
	if from == "" {
		from = ev.PubKey
	}
	to, _ := ev.TagValue(tagTo)
	return api.SignalMessage{
		Type:      st,
		SessionId: id,
		From:      from,
		To:        to,
		Payload:   ev.Content,
		At:        ev.CreatedAt,
	}, nil
}
