package webrtc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/retroplay/netplay/pkg/api"
	"github.com/retroplay/netplay/pkg/com"
	"github.com/retroplay/netplay/pkg/config"
	"github.com/retroplay/netplay/pkg/logger"
	"github.com/retroplay/netplay/pkg/signal"
)

var ErrGatherTimeout = errors.New("ICE gathering timed out")

// Manager owns every peer connection of one local party, keyed by the
// remote identity. It speaks payloads, not events: offers, answers,
// and candidates go in and out as the base64 blobs the signaling layer
// carries verbatim.
type Manager struct {
	factory *ApiFactory
	conf    config.Webrtc
	log     *logger.Logger
	peers   com.Map[string, *Peer]

	onState     func(remote string, st api.PeerState)
	onMessage   func(remote string, data []byte)
	onCandidate func(remote string, payload string)
	onTrack     func(remote string, track *webrtc.TrackRemote)
}

func NewManager(conf config.Webrtc, log *logger.Logger) (*Manager, error) {
	factory, err := NewApiFactory(conf, log, nil)
	if err != nil {
		return nil, err
	}
	return &Manager{
		factory: factory,
		conf:    conf,
		log:     log.Wrap(log.With().Str("d", "webrtc")),
		peers:   com.NewMap[string, *Peer](),
	}, nil
}

// OnState registers the observer of peer state changes. Must be set
// before the first offer or answer.
func (m *Manager) OnState(fn func(remote string, st api.PeerState)) { m.onState = fn }

// OnMessage registers the input sink for data channel traffic.
func (m *Manager) OnMessage(fn func(remote string, data []byte)) { m.onMessage = fn }

// OnCandidate registers the sender used when trickle ICE is on.
func (m *Manager) OnCandidate(fn func(remote string, payload string)) { m.onCandidate = fn }

// OnTrack registers the receiver of incoming media. Without it tracks
// are drained and discarded.
func (m *Manager) OnTrack(fn func(remote string, track *webrtc.TrackRemote)) { m.onTrack = fn }

// Offer starts a fresh connection to the remote and returns the local
// description payload. A previous connection to the same remote is torn
// down first, which is what makes reconnects plain re-offers.
func (m *Manager) Offer(ctx context.Context, remote string) (string, error) {
	p, err := m.newPeer(remote)
	if err != nil {
		return "", err
	}
	// the offerer opens the channel; media flows host to guest
	if m.conf.Media.Stream {
		if err := p.addTracks(m.conf.Media.VideoCodec, m.conf.Media.AudioCodec); err != nil {
			m.Close(remote)
			return "", err
		}
	}
	ch, err := p.conn.CreateDataChannel("input", nil)
	if err != nil {
		m.Close(remote)
		return "", err
	}
	p.bindChannel(ch, func(data []byte) {
		if m.onMessage != nil {
			m.onMessage(remote, data)
		}
	})

	offer, err := p.conn.CreateOffer(nil)
	if err != nil {
		m.Close(remote)
		return "", err
	}
	if err = p.conn.SetLocalDescription(offer); err != nil {
		m.Close(remote)
		return "", err
	}
	return m.localDescription(ctx, p)
}

// Answer accepts a remote offer and returns the local answer payload.
func (m *Manager) Answer(ctx context.Context, remote string, offer string) (string, error) {
	p, err := m.newPeer(remote)
	if err != nil {
		return "", err
	}
	p.conn.OnDataChannel(func(ch *webrtc.DataChannel) {
		p.bindChannel(ch, func(data []byte) {
			if m.onMessage != nil {
				m.onMessage(remote, data)
			}
		})
	})
	p.conn.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		p.log.Debug().Msgf("Got [%s] track", track.Codec().MimeType)
		if m.onTrack != nil {
			m.onTrack(remote, track)
			return
		}
		go func() {
			for {
				if _, _, err := track.ReadRTP(); err != nil {
					return
				}
			}
		}()
	})

	var desc webrtc.SessionDescription
	if err := signal.Decode(offer, &desc); err != nil {
		m.Close(remote)
		return "", fmt.Errorf("bad offer: %w", err)
	}
	if err := p.conn.SetRemoteDescription(desc); err != nil {
		m.Close(remote)
		return "", err
	}
	answer, err := p.conn.CreateAnswer(nil)
	if err != nil {
		m.Close(remote)
		return "", err
	}
	if err = p.conn.SetLocalDescription(answer); err != nil {
		m.Close(remote)
		return "", err
	}
	return m.localDescription(ctx, p)
}

// SetAnswer applies the remote answer to a pending offer. Answers that
// arrive twice, or after the negotiation moved on, are dropped without
// error: the event log redelivers and every copy past the first is
// stale by definition.
func (m *Manager) SetAnswer(remote string, answer string) error {
	p, err := m.peers.Find(remote)
	if err != nil {
		m.log.Debug().Str("peer", remote).Msg("answer for unknown peer dropped")
		return nil
	}
	if p.conn.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		p.log.Debug().Str("state", p.conn.SignalingState().String()).Msg("stale answer dropped")
		return nil
	}
	var desc webrtc.SessionDescription
	if err := signal.Decode(answer, &desc); err != nil {
		return fmt.Errorf("bad answer: %w", err)
	}
	if err := p.conn.SetRemoteDescription(desc); err != nil {
		p.log.Error().Err(err).Msg("Set remote description from peer failed")
		return err
	}
	return nil
}

// AddCandidate feeds one trickled remote candidate in. Failures are
// logged only: candidates race teardown and negotiation restarts, and
// a lost candidate costs a connectivity option, not the connection.
func (m *Manager) AddCandidate(remote string, payload string) {
	p, err := m.peers.Find(remote)
	if err != nil {
		m.log.Debug().Str("peer", remote).Msg("candidate for unknown peer dropped")
		return
	}
	var candidate webrtc.ICECandidateInit
	if err := signal.Decode(payload, &candidate); err != nil {
		p.log.Warn().Err(err).Msg("bad candidate dropped")
		return
	}
	if err := p.conn.AddICECandidate(candidate); err != nil {
		p.log.Warn().Err(err).Msg("candidate not added")
		return
	}
	p.log.Debug().Str("candidate", candidate.Candidate).Msg("Ice")
}

func (m *Manager) State(remote string) api.PeerState {
	if p, err := m.peers.Find(remote); err == nil {
		return p.link.state()
	}
	return api.PeerDisconnected
}

// SendInput forwards one input frame to the remote's data channel.
func (m *Manager) SendInput(remote string, data []byte) error {
	p, err := m.peers.Find(remote)
	if err != nil {
		return fmt.Errorf("no peer %v", remote)
	}
	return p.SendData(data)
}

// BroadcastVideo writes one video sample to every ready peer.
func (m *Manager) BroadcastVideo(data []byte, dur int32) {
	m.peers.ForEach(func(_ string, p *Peer) {
		if p.v != nil && p.link.ready() {
			p.SendVideo(data, dur)
		}
	})
}

// BroadcastAudio writes one audio sample to every ready peer.
func (m *Manager) BroadcastAudio(data []byte, dur int32) {
	m.peers.ForEach(func(_ string, p *Peer) {
		if p.a != nil && p.link.ready() {
			p.SendAudio(data, dur)
		}
	})
}

func (m *Manager) Close(remote string) {
	if p, ok := m.peers.Pop(remote); ok {
		p.Disconnect()
	}
}

func (m *Manager) CloseAll() {
	m.peers.Drain(func(_ string, p *Peer) { p.Disconnect() })
}

// newPeer replaces any existing connection to the remote with a fresh
// one and wires the state plumbing.
func (m *Manager) newPeer(remote string) (*Peer, error) {
	m.Close(remote)
	conn, err := m.factory.NewPeer()
	if err != nil {
		return nil, err
	}
	p := &Peer{
		remote: remote,
		conn:   conn,
		log:    m.log.Wrap(m.log.With().Str("peer", remote)),
	}
	p.link.notify = func(st api.PeerState) {
		p.log.Debug().Str(".state", st.String()).Msg("Link")
		if m.onState != nil {
			m.onState(remote, st)
		}
	}
	conn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.log.Debug().Str(".state", state.String()).Msg("WebRTC")
		switch state {
		case webrtc.PeerConnectionStateConnected:
			p.link.onTransportUp()
		case webrtc.PeerConnectionStateFailed:
			p.log.Error().Msgf("WebRTC connection fail! ice: %v, gathering: %v, signalling: %v",
				conn.ICEConnectionState(), conn.ICEGatheringState(), conn.SignalingState())
			p.link.onFailed()
			p.Disconnect()
		case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateClosed:
			p.link.onTransportLost()
		}
	})
	if m.conf.TrickleIce {
		conn.OnICECandidate(func(ice *webrtc.ICECandidate) {
			if ice == nil || m.onCandidate == nil {
				return
			}
			candidate := ice.ToJSON()
			payload, err := signal.Encode(&candidate)
			if err != nil {
				p.log.Error().Err(err).Msg("candidate encode fail")
				return
			}
			m.onCandidate(remote, payload)
		})
	}
	m.peers.Put(remote, p)
	return p, nil
}

// localDescription waits for the description to be complete and returns
// it encoded. With trickle ICE off the wait covers full gathering, so
// the published SDP already carries every candidate.
func (m *Manager) localDescription(ctx context.Context, p *Peer) (string, error) {
	if !m.conf.TrickleIce {
		gathered := webrtc.GatheringCompletePromise(p.conn)
		select {
		case <-gathered:
		case <-time.After(m.conf.GatherTimeout):
			m.Close(p.remote)
			return "", ErrGatherTimeout
		case <-ctx.Done():
			m.Close(p.remote)
			return "", ctx.Err()
		}
	}
	desc := p.conn.LocalDescription()
	if desc == nil {
		m.Close(p.remote)
		return "", errors.New("no local description")
	}
	return signal.Encode(desc)
}
