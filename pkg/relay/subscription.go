package relay

import (
	"context"
	"sync"
)

// Log is the pub/sub surface shared by the websocket client and the
// in-process relay.
type Log interface {
	// Publish sends the event and returns once the relay accepts the
	// write (not once every peer has observed it).
	Publish(ctx context.Context, ev Event) error
	// Subscribe opens a filtered feed: stored events within the filter
	// window first, then live events. Cancelling ctx stops delivery
	// deterministically and closes Events.
	Subscribe(ctx context.Context, f Filter) (*Subscription, error)
	// Query is a one-shot read: stored matching events, chronological.
	Query(ctx context.Context, f Filter) ([]Event, error)
	Close()
}

// Subscription is one live feed of events.
//
// Delivery goes through an unbounded internal queue, so publishers are
// never blocked by a slow consumer and per-subscription ordering is
// kept. The end-of-backlog marker travels through the same queue,
// which guarantees Backlog closes only after every stored event was
// handed to the consumer.
type Subscription struct {
	Id string

	mu     sync.Mutex
	queue  []item
	wake   chan struct{}
	closed bool

	done    chan struct{}
	events  chan Event
	eose    chan struct{}
	eoseOne sync.Once
}

type item struct {
	ev   Event
	eose bool
}

func newSubscription(id string) *Subscription {
	s := &Subscription{
		Id:     id,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		events: make(chan Event),
		eose:   make(chan struct{}),
	}
	go s.pump()
	return s
}

// Events is the feed output. Closed after cancellation, with no
// further delivery.
func (s *Subscription) Events() <-chan Event { return s.events }

// Backlog is closed once every stored (pre-subscription) event has
// been delivered; everything after it is live.
func (s *Subscription) Backlog() <-chan struct{} { return s.eose }

func (s *Subscription) deliver(ev Event) { s.push(item{ev: ev}) }
func (s *Subscription) markBacklogDone() { s.push(item{eose: true}) }

func (s *Subscription) push(it item) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, it)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.eoseOne.Do(func() { close(s.eose) })
	close(s.done)
}

func (s *Subscription) pump() {
	for {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()
		for _, it := range batch {
			if it.eose {
				s.eoseOne.Do(func() { close(s.eose) })
				continue
			}
			select {
			case s.events <- it.ev:
			case <-s.done:
				close(s.events)
				return
			}
		}
		select {
		case <-s.wake:
		case <-s.done:
			close(s.events)
			return
		}
	}
}
