package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/retroplay/netplay/pkg/api"
	"github.com/retroplay/netplay/pkg/config"
	"github.com/retroplay/netplay/pkg/logger"
	"github.com/retroplay/netplay/pkg/signal"
)

// Connector is the transport side of the controller: it negotiates and
// owns direct peer connections, speaking opaque payloads. Offer and
// Answer block until the local description is complete.
type Connector interface {
	Offer(ctx context.Context, remote string) (string, error)
	Answer(ctx context.Context, remote string, offer string) (string, error)
	SetAnswer(remote string, answer string) error
	AddCandidate(remote string, payload string)
	State(remote string) api.PeerState
	Close(remote string)
	CloseAll()
}

// Controller drives one session end to end: host or guest, decided by
// which of StartSession and JoinSession runs.
//
// All signaling side effects happen on one goroutine. Inbound messages
// and transport state changes funnel into the same loop, so handlers
// always observe the state left by the previous handler and never race
// each other. A handler reads current state when it runs, not when the
// message arrived, which is what makes redelivered messages harmless.
type Controller struct {
	self string
	conf config.Netplay
	ch   *signal.Channel
	conn Connector
	log  *logger.Logger

	tasks chan func()

	// hmu guards the loop handle: rewritten on every (re)start while
	// late transport callbacks may still be reading it
	hmu     sync.Mutex
	stopped chan struct{}
	cancel  context.CancelFunc

	// loop-owned state
	isHost     bool
	room       *Room
	loopCtx    context.Context
	feed       <-chan signal.Inbound
	feedCancel context.CancelFunc
	ready      chan error
	sentry     bool // ready already signalled

	smu     sync.Mutex
	session api.Session // guest's last received snapshot

	onPlayers func([]api.ConnectedPlayer)
}

func NewController(conf config.Netplay, ch *signal.Channel, conn Connector, log *logger.Logger) *Controller {
	return &Controller{
		self:  conf.PubKey,
		conf:  conf,
		ch:    ch,
		conn:  conn,
		log:   log.Wrap(log.With().Str("d", "session")),
		tasks: make(chan func(), 64),
		ready: make(chan error, 1),
	}
}

// OnPlayers registers the roster observer, called on the event loop
// after every membership change. Host side only.
func (c *Controller) OnPlayers(fn func([]api.ConnectedPlayer)) { c.onPlayers = fn }

// StartSession opens a room and starts serving joins. Returns the
// session id other parties use to find it.
func (c *Controller) StartSession(ctx context.Context) (string, error) {
	if c.self == "" {
		return "", ErrNotAuthenticated
	}
	room, err := NewRoom(c.conf.GameId, c.self, c.conf.MaxPlayers)
	if err != nil {
		return "", err
	}
	c.isHost = true
	c.room = room
	s := c.room.Snapshot()
	if err := c.ch.PublishSession(ctx, &s); err != nil {
		return "", err
	}

	if err := c.openFeed(ctx, c.room.Id()); err != nil {
		return "", err
	}
	go c.run(c.loopCtx)

	c.room.Open()
	s = c.room.Snapshot()
	if err := c.ch.PublishSession(ctx, &s); err != nil {
		c.shutdown()
		return "", err
	}
	c.log.Info().Str("session", c.room.Id()).Int("players", c.conf.MaxPlayers).Msg("Room open")
	return c.room.Id(), nil
}

// JoinSession finds the room, announces the join, and blocks until the
// direct connection to the host is up or ctx expires.
func (c *Controller) JoinSession(ctx context.Context, sessionId string) error {
	if c.self == "" {
		return ErrNotAuthenticated
	}
	s, err := c.ch.FetchSession(ctx, sessionId)
	if err != nil {
		if errors.Is(err, signal.ErrNoSession) {
			return fmt.Errorf("%w: %v", ErrSessionNotFound, sessionId)
		}
		return err
	}
	if s.Status == api.RoomFull && !s.HasGuest(c.self) {
		return ErrSessionFull
	}
	if s.Status != api.RoomAvailable && s.Status != api.RoomFull {
		return fmt.Errorf("%w: room is %v", ErrSessionNotFound, s.Status)
	}
	c.setSession(s)

	if err := c.openFeed(ctx, sessionId); err != nil {
		return err
	}
	go c.run(c.loopCtx)

	if err := c.announceJoin(ctx); err != nil {
		c.shutdown()
		return err
	}
	c.log.Info().Str("session", sessionId).Str("host", s.HostPubKey).Msg("Joining")

	select {
	case err := <-c.ready:
		if err != nil {
			c.shutdown()
		}
		return err
	case <-ctx.Done():
		c.shutdown()
		return ctx.Err()
	}
}

// openFeed prepares the loop context and the first subscription.
func (c *Controller) openFeed(ctx context.Context, sessionId string) error {
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	fctx, fcancel := context.WithCancel(loopCtx)
	feed, err := c.ch.Subscribe(fctx, sessionId)
	if err != nil {
		fcancel()
		cancel()
		return err
	}
	c.loopCtx = loopCtx
	c.feed = feed
	c.feedCancel = fcancel
	c.hmu.Lock()
	c.cancel = cancel
	c.stopped = make(chan struct{})
	c.hmu.Unlock()
	return nil
}

// pauseFeed drops the relay subscription; the loop stays alive on
// tasks alone. Runs on the event loop.
func (c *Controller) pauseFeed() {
	if c.feedCancel != nil {
		c.feedCancel()
		c.feedCancel = nil
	}
	c.feed = nil
	c.log.Debug().Msg("signaling feed paused")
}

// resumeFeed reopens the subscription after a slot freed up. The
// lookback window replays anything missed while paused; the dedup
// absorbs what was already processed. Runs on the event loop.
func (c *Controller) resumeFeed() {
	if c.feed != nil {
		return
	}
	fctx, fcancel := context.WithCancel(c.loopCtx)
	feed, err := c.ch.Subscribe(fctx, c.room.Id())
	if err != nil {
		fcancel()
		c.log.Error().Err(err).Msg("feed resume fail")
		return
	}
	c.feed = feed
	c.feedCancel = fcancel
	c.log.Debug().Msg("signaling feed resumed")
}

func (c *Controller) announceJoin(ctx context.Context) error {
	s := c.snapshot()
	return c.ch.PublishSignal(ctx, &api.SignalMessage{
		Type:      api.SignalJoin,
		SessionId: s.Id,
		From:      c.self,
		To:        s.HostPubKey,
	})
}

func (c *Controller) setSession(s api.Session) {
	c.smu.Lock()
	c.session = s
	c.smu.Unlock()
}

func (c *Controller) snapshot() api.Session {
	c.smu.Lock()
	defer c.smu.Unlock()
	return c.session
}

// PeerStateChanged feeds one transport state transition into the event
// loop. Wire it to the connector's state observer.
func (c *Controller) PeerStateChanged(remote string, st api.PeerState) {
	c.enqueue(func() {
		if c.isHost {
			c.hostPeerState(remote, st)
		} else {
			c.guestPeerState(remote, st)
		}
	})
}

// RetryConnection discards the peer connection, the feed, and the
// dedup window, then re-runs the whole join flow from a fresh snapshot
// fetch. No residual state is assumed valid. Guest side only; a host
// renegotiates a guest when that guest announces its join again.
func (c *Controller) RetryConnection(ctx context.Context) error {
	if c.isHost {
		return fmt.Errorf("%w: retry is guest-side", ErrNotRunning)
	}
	s := c.snapshot()
	if s.Id == "" {
		return ErrNotRunning
	}
	c.shutdown()
	c.ch.Reset()
	c.drainTasks()
	select {
	case <-c.ready:
	default:
	}
	c.sentry = false
	return c.JoinSession(ctx, s.Id)
}

// drainTasks discards work queued against the torn-down session.
func (c *Controller) drainTasks() {
	for {
		select {
		case <-c.tasks:
		default:
			return
		}
	}
}

// Session is the current room view: the live record for the host, the
// last received snapshot for a guest.
func (c *Controller) Session() api.Session {
	if c.isHost && c.room != nil {
		return c.room.Snapshot()
	}
	return c.snapshot()
}

// Leave tears the session down: peers closed, feed cancelled, and for
// the host a final retired snapshot on the relay.
func (c *Controller) Leave(ctx context.Context) error {
	c.hmu.Lock()
	running := c.stopped != nil
	c.hmu.Unlock()
	if !running {
		return ErrNotRunning
	}
	var err error
	if c.isHost && c.room != nil {
		c.room.Close()
		s := c.room.Snapshot()
		err = c.ch.PublishSession(ctx, &s)
	}
	c.shutdown()
	c.ch.Reset()
	return err
}

func (c *Controller) shutdown() {
	c.conn.CloseAll()
	c.hmu.Lock()
	cancel, stopped := c.cancel, c.stopped
	c.hmu.Unlock()
	if cancel != nil {
		cancel()
	}
	if stopped != nil {
		<-stopped
	}
}

func (c *Controller) enqueue(fn func()) {
	c.hmu.Lock()
	stopped := c.stopped
	c.hmu.Unlock()
	if stopped == nil {
		return
	}
	select {
	case c.tasks <- fn:
	case <-stopped:
	}
}

// run is the event loop. Blocking, must be called as goroutine.
// A nil feed (paused, or closed by the relay) blocks forever in the
// select; tasks and cancellation keep working.
func (c *Controller) run(ctx context.Context) {
	defer close(c.stopped)
	for {
		select {
		case in, ok := <-c.feed:
			if !ok {
				c.feed = nil
				continue
			}
			c.handle(ctx, &in)
		case fn := <-c.tasks:
			fn()
		case <-ctx.Done():
			return
		}
	}
}

func (c *Controller) handle(ctx context.Context, in *signal.Inbound) {
	if in.Session != nil {
		// the host is the single writer of the room record; a snapshot
		// under the same session id claiming another host is forged
		if !c.isHost && in.Session.HostPubKey == c.snapshot().HostPubKey {
			c.setSession(*in.Session)
		}
		return
	}
	m := in.Msg
	if m.From == c.self || !m.AddressedTo(c.self, c.isHost) {
		return
	}
	if c.isHost {
		c.hostHandle(ctx, m)
	} else {
		c.guestHandle(ctx, m)
	}
}

func (c *Controller) hostHandle(ctx context.Context, m *api.SignalMessage) {
	switch m.Type {
	case api.SignalJoin:
		// a re-join of a known guest restarts its negotiation; the
		// room record does not change
		if err := c.room.Join(m.From); err != nil {
			c.log.Info().Str("guest", m.From).Err(err).Msg("join refused")
			return
		}
		c.publishRoom(ctx)
		c.sendOffer(ctx, m.From)
	case api.SignalAnswer:
		if err := c.conn.SetAnswer(m.From, m.Payload); err != nil {
			c.log.Error().Err(err).Str("guest", m.From).Msg("answer fail")
		}
	case api.SignalCandidate:
		c.conn.AddCandidate(m.From, m.Payload)
	}
}

func (c *Controller) sendOffer(ctx context.Context, guest string) {
	offer, err := c.conn.Offer(ctx, guest)
	if err != nil {
		c.log.Error().Err(err).Str("guest", guest).Msg("offer fail")
		c.room.Evict(guest)
		c.publishRoom(ctx)
		return
	}
	err = c.ch.PublishSignal(ctx, &api.SignalMessage{
		Type:      api.SignalOffer,
		SessionId: c.room.Id(),
		From:      c.self,
		To:        guest,
		Payload:   offer,
	})
	if err != nil {
		c.log.Error().Err(err).Str("guest", guest).Msg("offer publish fail")
	}
}

func (c *Controller) hostPeerState(remote string, st api.PeerState) {
	ctx := context.Background()
	switch st {
	case api.PeerReady:
		if err := c.room.Admit(remote); err != nil {
			c.log.Warn().Err(err).Str("guest", remote).Msg("admit refused")
			c.conn.Close(remote)
			return
		}
		c.log.Info().Str("guest", remote).Msg("Player connected")
		c.publishRoom(ctx)
		c.notifyPlayers()
		// a full room takes no more joins, so the feed can go
		if c.room.Status() == api.RoomFull {
			c.pauseFeed()
		}
	case api.PeerFailed, api.PeerDisconnected:
		c.room.Evict(remote)
		c.conn.Close(remote)
		c.log.Info().Str("guest", remote).Str("state", st.String()).Msg("Player gone")
		c.publishRoom(ctx)
		c.notifyPlayers()
		if c.room.Status() == api.RoomAvailable {
			c.resumeFeed()
		}
	}
}

func (c *Controller) guestHandle(ctx context.Context, m *api.SignalMessage) {
	s := c.snapshot()
	switch m.Type {
	case api.SignalOffer:
		if m.From != s.HostPubKey {
			c.log.Warn().Str("from", m.From).Msg("offer from non-host dropped")
			return
		}
		answer, err := c.conn.Answer(ctx, m.From, m.Payload)
		if err != nil {
			c.log.Error().Err(err).Msg("answer fail")
			return
		}
		err = c.ch.PublishSignal(ctx, &api.SignalMessage{
			Type:      api.SignalAnswer,
			SessionId: s.Id,
			From:      c.self,
			To:        m.From,
			Payload:   answer,
		})
		if err != nil {
			c.log.Error().Err(err).Msg("answer publish fail")
		}
	case api.SignalCandidate:
		c.conn.AddCandidate(m.From, m.Payload)
	}
}

func (c *Controller) guestPeerState(remote string, st api.PeerState) {
	if remote != c.snapshot().HostPubKey {
		return
	}
	switch st {
	case api.PeerReady:
		c.signalReady(nil)
	case api.PeerFailed:
		c.signalReady(ErrTransportFailed)
	}
}

// signalReady resolves the join wait exactly once.
func (c *Controller) signalReady(err error) {
	if c.sentry {
		return
	}
	c.sentry = true
	c.ready <- err
}

func (c *Controller) publishRoom(ctx context.Context) {
	s := c.room.Snapshot()
	if err := c.ch.PublishSession(ctx, &s); err != nil {
		c.log.Error().Err(err).Msg("snapshot publish fail")
	}
}

func (c *Controller) notifyPlayers() {
	if c.onPlayers == nil {
		return
	}
	s := c.room.Snapshot()
	players := make([]api.ConnectedPlayer, 0, len(s.Guests))
	for _, g := range s.Guests {
		st := c.conn.State(g)
		players = append(players, api.ConnectedPlayer{PubKey: g, Status: st})
	}
	c.onPlayers(players)
}
