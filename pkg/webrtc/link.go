package webrtc

import (
	"sync"

	"github.com/retroplay/netplay/pkg/api"
)

// link folds the two independent readiness signals of one peer into a
// single observable state. The transport signal is authoritative: an
// open data channel over a transport that never reported connected
// stays in connecting, because channel callbacks can fire on half-dead
// DTLS transports and a player admitted on that alone would hang the
// room.
type link struct {
	mu          sync.Mutex
	transportUp bool
	channelOpen bool
	failed      bool
	closed      bool
	last        api.PeerState
	notify      func(api.PeerState)
}

func (l *link) current() api.PeerState {
	switch {
	case l.failed:
		return api.PeerFailed
	case l.closed:
		return api.PeerDisconnected
	case l.transportUp && l.channelOpen:
		return api.PeerReady
	case l.transportUp:
		return api.PeerConnected
	}
	return api.PeerConnecting
}

// set applies one mutation and fires the notify callback outside the
// lock when the observable state changed.
func (l *link) set(fn func(*link)) {
	l.mu.Lock()
	fn(l)
	st := l.current()
	changed := st != l.last
	l.last = st
	cb := l.notify
	l.mu.Unlock()
	if changed && cb != nil {
		cb(st)
	}
}

func (l *link) onTransportUp()   { l.set(func(l *link) { l.transportUp = true }) }
func (l *link) onTransportLost() { l.set(func(l *link) { l.transportUp = false; l.closed = true }) }
func (l *link) onChannelOpen()   { l.set(func(l *link) { l.channelOpen = true }) }
func (l *link) onChannelClose()  { l.set(func(l *link) { l.channelOpen = false }) }
func (l *link) onFailed()        { l.set(func(l *link) { l.failed = true }) }

func (l *link) state() api.PeerState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current()
}

func (l *link) ready() bool { return l.state() == api.PeerReady }
