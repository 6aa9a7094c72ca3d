package webrtc

import (
	"testing"

	"github.com/retroplay/netplay/pkg/api"
)

func TestLinkChannelAloneIsNotReady(t *testing.T) {
	var l link
	l.onChannelOpen()
	if got := l.state(); got != api.PeerConnecting {
		t.Errorf("open channel without transport = %v, want connecting", got)
	}
}

func TestLinkPromotion(t *testing.T) {
	var l link
	if got := l.state(); got != api.PeerConnecting {
		t.Fatalf("initial state = %v", got)
	}
	l.onTransportUp()
	if got := l.state(); got != api.PeerConnected {
		t.Errorf("transport up = %v, want connected", got)
	}
	l.onChannelOpen()
	if got := l.state(); got != api.PeerReady {
		t.Errorf("transport + channel = %v, want ready", got)
	}
}

func TestLinkOrderIndependent(t *testing.T) {
	var l link
	l.onChannelOpen()
	l.onTransportUp()
	if got := l.state(); got != api.PeerReady {
		t.Errorf("channel before transport = %v, want ready", got)
	}
}

func TestLinkFailureDominates(t *testing.T) {
	var l link
	l.onTransportUp()
	l.onChannelOpen()
	l.onFailed()
	if got := l.state(); got != api.PeerFailed {
		t.Errorf("after failure = %v, want failed", got)
	}
	// late channel events must not resurrect the link
	l.onChannelOpen()
	if got := l.state(); got != api.PeerFailed {
		t.Errorf("channel event resurrected a failed link: %v", got)
	}
}

func TestLinkTransportLost(t *testing.T) {
	var l link
	l.onTransportUp()
	l.onChannelOpen()
	l.onTransportLost()
	if got := l.state(); got != api.PeerDisconnected {
		t.Errorf("after transport loss = %v, want disconnected", got)
	}
	if l.ready() {
		t.Errorf("lost link reports ready")
	}
}

func TestLinkNotifyOnChangeOnly(t *testing.T) {
	var got []api.PeerState
	l := link{notify: func(st api.PeerState) { got = append(got, st) }}
	l.onTransportUp()
	l.onTransportUp() // no-op, same state
	l.onChannelOpen()
	l.onChannelClose()
	want := []api.PeerState{api.PeerConnected, api.PeerReady, api.PeerConnected}
	if len(got) != len(want) {
		t.Fatalf("notifications = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("notification %d = %v, want %v", i, got[i], want[i])
		}
	}
}
