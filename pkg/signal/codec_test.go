package signal

import (
	"reflect"
	"testing"

	"github.com/retroplay/netplay/pkg/api"
	"github.com/retroplay/netplay/pkg/relay"
)

func TestSessionCodec(t *testing.T) {
	s := api.Session{
		Id:         "nes:room:abc123",
		GameId:     "nes",
		HostPubKey: "host-key",
		MaxPlayers: 4,
		Status:     api.RoomAvailable,
		Guests:     []string{"guest1", "guest2"},
		Connected:  []string{"guest1"},
	}
	ev := EncodeSession(&s)
	if !ev.Addressable() {
		t.Fatalf("session event is not addressable, kind %d", ev.Kind)
	}
	if d, _ := ev.TagValue("d"); d != s.Id {
		t.Errorf("d tag = %q", d)
	}
	got, err := DecodeSession(&ev)
	if err != nil {
		t.Fatal(err)
	}
	s.At = ev.CreatedAt
	if !reflect.DeepEqual(got, s) {
		t.Errorf("decoded %+v, want %+v", got, s)
	}
}

func TestSignalCodec(t *testing.T) {
	payload, err := Encode(map[string]string{"sdp": "v=0..."})
	if err != nil {
		t.Fatal(err)
	}
	m := api.SignalMessage{
		Type:      api.SignalOffer,
		SessionId: "nes:room:abc123",
		From:      "host-key",
		To:        "guest-key",
		Payload:   payload,
	}
	ev := EncodeSignal(&m)
	got, err := DecodeSignal(&ev)
	if err != nil {
		t.Fatal(err)
	}
	m.At = ev.CreatedAt
	if !reflect.DeepEqual(got, m) {
		t.Errorf("decoded %+v, want %+v", got, m)
	}
	var body map[string]string
	if err := Decode(got.Payload, &body); err != nil {
		t.Fatal(err)
	}
	if body["sdp"] != "v=0..." {
		t.Errorf("payload round trip = %v", body)
	}
}

func TestSignalCodecJoinWithoutTo(t *testing.T) {
	m := api.SignalMessage{Type: api.SignalJoin, SessionId: "nes:room:x", From: "guest-key"}
	ev := EncodeSignal(&m)
	if _, ok := ev.TagValue("to"); ok {
		t.Errorf("empty To must not produce a to tag")
	}
	got, err := DecodeSignal(&ev)
	if err != nil {
		t.Fatal(err)
	}
	if !got.AddressedTo("whoever", true) {
		t.Errorf("join without To must address the host")
	}
	if got.AddressedTo("whoever", false) {
		t.Errorf("join without To must not address non-hosts")
	}
}

func TestSignalCodecRejectsBadEvents(t *testing.T) {
	noSession := relay.NewEvent("x", relay.KindSignal)
	noSession.AddTag("type", "offer")
	if _, err := DecodeSignal(&noSession); err == nil {
		t.Errorf("accepted event without session id")
	}

	badType := relay.NewEvent("x", relay.KindSignal)
	badType.AddTag("d", "nes:room:x")
	badType.AddTag("type", "launch-missiles")
	if _, err := DecodeSignal(&badType); err == nil {
		t.Errorf("accepted unknown message type")
	}
}

func TestDeduplicatorWindow(t *testing.T) {
	d := NewDeduplicator(3)
	for _, id := range []string{"a", "b", "c"} {
		if d.Seen(id) {
			t.Errorf("fresh id %q reported as seen", id)
		}
	}
	if !d.Seen("a") {
		t.Errorf("known id not recognized")
	}
	// push "a" out of the window
	d.Seen("d")
	if d.Seen("a") {
		t.Errorf("evicted id still recognized")
	}
	if d.Len() != 3 {
		t.Errorf("window len = %d, want 3", d.Len())
	}
	d.Reset()
	if d.Seen("b") {
		t.Errorf("id survived reset")
	}
}
