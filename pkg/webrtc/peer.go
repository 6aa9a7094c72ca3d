package webrtc

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/retroplay/netplay/pkg/logger"
)

// Peer is one direct connection to a remote party.
type Peer struct {
	remote string
	conn   *webrtc.PeerConnection
	log    *logger.Logger
	link   link

	a *webrtc.TrackLocalStaticSample
	v *webrtc.TrackLocalStaticSample

	dmu sync.Mutex
	d   *webrtc.DataChannel
}

var samplePool sync.Pool

func (p *Peer) Remote() string { return p.remote }

func (p *Peer) SendAudio(dat []byte, dur int32) {
	if err := p.send(dat, int64(dur), p.a.WriteSample); err != nil {
		p.log.Error().Err(err).Send()
	}
}

func (p *Peer) SendVideo(data []byte, dur int32) {
	if err := p.send(data, int64(dur), p.v.WriteSample); err != nil {
		p.log.Error().Err(err).Send()
	}
}

func (p *Peer) SendData(data []byte) error {
	p.dmu.Lock()
	d := p.d
	p.dmu.Unlock()
	if d == nil || !p.link.ready() {
		return fmt.Errorf("no open channel to %v", p.remote)
	}
	return d.Send(data)
}

func (p *Peer) send(data []byte, duration int64, fn func(media.Sample) error) error {
	sample, _ := samplePool.Get().(*media.Sample)
	if sample == nil {
		sample = new(media.Sample)
	}
	sample.Data = data
	sample.Duration = time.Duration(duration)
	err := fn(*sample)
	if err != nil {
		return err
	}
	samplePool.Put(sample)
	return nil
}

func (p *Peer) Disconnect() {
	p.link.set(func(l *link) { l.closed = true })
	if p.conn == nil {
		return
	}
	if p.conn.ConnectionState() < webrtc.PeerConnectionStateDisconnected {
		// ignore this due to DTLS fatal: conn is closed
		_ = p.conn.Close()
	}
	p.log.Debug().Msg("WebRTC stop")
}

// addTracks plugs the outgoing media tracks in. The host is the sample
// source; guests never call this.
func (p *Peer) addTracks(vCodec, aCodec string) error {
	video, err := newTrack("video", "video", vCodec)
	if err != nil {
		return err
	}
	vs, err := p.conn.AddTrack(video)
	if err != nil {
		return err
	}
	go drainRTCP(vs)
	p.v = video
	p.log.Debug().Msgf("Added [%s] track", video.Codec().MimeType)

	audio, err := newTrack("audio", "audio", aCodec)
	if err != nil {
		return err
	}
	as, err := p.conn.AddTrack(audio)
	if err != nil {
		return err
	}
	go drainRTCP(as)
	p.a = audio
	p.log.Debug().Msgf("Added [%s] track", audio.Codec().MimeType)
	return nil
}

// Read incoming RTCP packets
func drainRTCP(s *webrtc.RTPSender) {
	rtcpBuf := make([]byte, 1500)
	for {
		if _, _, err := s.Read(rtcpBuf); err != nil {
			return
		}
	}
}

func newTrack(id string, label string, codec string) (*webrtc.TrackLocalStaticSample, error) {
	codec = strings.ToLower(codec)
	var mime string
	switch id {
	case "audio":
		switch codec {
		case "opus":
			mime = webrtc.MimeTypeOpus
		}
	case "video":
		switch codec {
		case "h264":
			mime = webrtc.MimeTypeH264
		case "vpx", "vp8":
			mime = webrtc.MimeTypeVP8
		case "vp9":
			mime = webrtc.MimeTypeVP9
		}
	}
	if mime == "" {
		return nil, fmt.Errorf("unsupported codec %s:%s", id, codec)
	}
	return webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, id, label)
}

// bindChannel wires one data channel into the link and the message
// callback. Used for both locally created and remotely announced
// channels.
func (p *Peer) bindChannel(ch *webrtc.DataChannel, onMessage func(data []byte)) {
	ch.OnOpen(func() {
		p.log.Debug().Str("label", ch.Label()).Msg("Data channel opened")
		p.link.onChannelOpen()
	})
	ch.OnClose(func() {
		p.log.Debug().Str("label", ch.Label()).Msg("Data channel closed")
		p.link.onChannelClose()
	})
	ch.OnError(func(err error) { p.log.Error().Err(err).Msg("data channel fail") })
	ch.OnMessage(func(m webrtc.DataChannelMessage) {
		if len(m.Data) == 0 {
			return
		}
		if onMessage != nil {
			onMessage(m.Data)
		}
	})
	p.dmu.Lock()
	p.d = ch
	p.dmu.Unlock()
}
