package signal

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/retroplay/netplay/pkg/api"
	"github.com/retroplay/netplay/pkg/config"
	"github.com/retroplay/netplay/pkg/logger"
	"github.com/retroplay/netplay/pkg/relay"
)

var ErrNoSession = errors.New("no session snapshot on the relay")

// Inbound is one decoded message off the feed. Exactly one of Msg and
// Session is set.
type Inbound struct {
	EventId string
	At      int64
	Msg     *api.SignalMessage
	Session *api.Session
}

// Channel is the signaling pipe of one local party: publish side stamps
// and encodes, subscribe side decodes, orders the replayed backlog, and
// drops redeliveries. One Channel serves one identity and any number of
// session feeds, all sharing the dedup window.
type Channel struct {
	relay relay.Log
	dedup *Deduplicator
	conf  config.Relay
	log   *logger.Logger
}

func NewChannel(rel relay.Log, conf config.Relay, log *logger.Logger) *Channel {
	return &Channel{
		relay: rel,
		dedup: NewDeduplicator(conf.DedupSize),
		conf:  conf,
		log:   log.Wrap(log.With().Str("d", "signal")),
	}
}

// Reset clears the dedup window. Call between sessions, so a fresh
// join does not mistake new traffic for redeliveries.
func (c *Channel) Reset() { c.dedup.Reset() }

// PublishSignal sends one point-to-point message. The event id goes
// into the dedup window first, so the relay echoing our own write back
// is absorbed like any other redelivery.
func (c *Channel) PublishSignal(ctx context.Context, m *api.SignalMessage) error {
	ev := EncodeSignal(m)
	c.dedup.Seen(ev.Id)
	if err := c.relay.Publish(ctx, ev); err != nil {
		return fmt.Errorf("publish %v signal: %w", m.Type, err)
	}
	metricPublished.WithLabelValues(string(m.Type)).Inc()
	c.log.Debug().Str("to", m.To).Msgf("sent %v", m.Type)
	return nil
}

// PublishSession writes the room snapshot. Addressable, so the relay
// replaces the previous snapshot of the same session.
func (c *Channel) PublishSession(ctx context.Context, s *api.Session) error {
	ev := EncodeSession(s)
	c.dedup.Seen(ev.Id)
	if err := c.relay.Publish(ctx, ev); err != nil {
		return fmt.Errorf("publish session snapshot: %w", err)
	}
	metricPublished.WithLabelValues(typeSession).Inc()
	return nil
}

// FetchSession is a one-shot read of the newest room snapshot.
func (c *Channel) FetchSession(ctx context.Context, sessionId string) (api.Session, error) {
	qctx, cancel := context.WithTimeout(ctx, c.conf.QueryTimeout)
	defer cancel()
	events, err := c.relay.Query(qctx, relay.Filter{
		Kinds: []int{relay.KindSession},
		Tags:  map[string][]string{tagD: {sessionId}},
	})
	if err != nil {
		return api.Session{}, fmt.Errorf("session lookup: %w", err)
	}
	// chronological order, the last decodable one is the current state
	for i := len(events) - 1; i >= 0; i-- {
		if s, err := DecodeSession(&events[i]); err == nil {
			return s, nil
		}
	}
	return api.Session{}, ErrNoSession
}

// Subscribe opens the decoded feed of one session: the lookback window
// replayed in timestamp order first, then live traffic. The returned
// channel closes when ctx is cancelled or the relay feed ends.
func (c *Channel) Subscribe(ctx context.Context, sessionId string) (<-chan Inbound, error) {
	sub, err := c.relay.Subscribe(ctx, relay.Filter{
		Kinds: []int{relay.KindSession, relay.KindSignal},
		Tags:  map[string][]string{tagD: {sessionId}},
		Since: time.Now().Add(-c.conf.Lookback).Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("session feed: %w", err)
	}
	out := make(chan Inbound, 64)
	go c.pump(ctx, sub, out)
	return out, nil
}

// pump orders the backlog, then streams. Blocking, must be called as
// goroutine.
func (c *Channel) pump(ctx context.Context, sub *relay.Subscription, out chan<- Inbound) {
	defer close(out)

	var backlog []relay.Event
	live := false
	for !live {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			backlog = append(backlog, ev)
		case <-sub.Backlog():
			live = true
		case <-ctx.Done():
			return
		}
	}
	// replayed events arrive in relay order, which is not necessarily
	// timestamp order when several parties wrote concurrently
	sort.SliceStable(backlog, func(i, j int) bool { return backlog[i].CreatedAt < backlog[j].CreatedAt })
	for i := range backlog {
		if !c.emit(ctx, &backlog[i], out) {
			return
		}
	}

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if !c.emit(ctx, &ev, out) {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// emit decodes and forwards one event; false means the feed should end.
func (c *Channel) emit(ctx context.Context, ev *relay.Event, out chan<- Inbound) bool {
	if c.dedup.Seen(ev.Id) {
		metricDuplicates.Inc()
		return true
	}
	in := Inbound{EventId: ev.Id, At: ev.CreatedAt}
	if t, _ := ev.TagValue(tagType); t == typeSession || ev.Kind == relay.KindSession {
		s, err := DecodeSession(ev)
		if err != nil {
			metricDropped.Inc()
			c.log.Warn().Err(err).Str("event", ev.Id).Msg("bad session event")
			return true
		}
		in.Session = &s
		metricReceived.WithLabelValues(typeSession).Inc()
	} else {
		m, err := DecodeSignal(ev)
		if err != nil {
			metricDropped.Inc()
			c.log.Warn().Err(err).Str("event", ev.Id).Msg("bad signal event")
			return true
		}
		in.Msg = &m
		metricReceived.WithLabelValues(string(m.Type)).Inc()
	}
	select {
	case out <- in:
		return true
	case <-ctx.Done():
		return false
	}
}
