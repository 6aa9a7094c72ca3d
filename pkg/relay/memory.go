package relay

import (
	"context"
	"sort"
	"sync"

	"github.com/retroplay/netplay/pkg/com"
)

// Memory is an in-process relay. It backs tests and single-machine
// setups with the exact Log contract the websocket client provides:
// at-least-once fan-out, addressable-event replacement, chronological
// backlog.
type Memory struct {
	mu     sync.Mutex
	events []Event
	byAddr map[string]int // address → index into events
	subs   map[string]*Subscription
	filter map[string]Filter
}

func NewMemory() *Memory {
	return &Memory{
		byAddr: make(map[string]int),
		subs:   make(map[string]*Subscription),
		filter: make(map[string]Filter),
	}
}

func (m *Memory) Publish(_ context.Context, ev Event) error {
	m.mu.Lock()
	if ev.Addressable() {
		addr := ev.Address()
		if i, ok := m.byAddr[addr]; ok {
			// a stale rewrite loses silently, the newest snapshot stays
			if m.events[i].CreatedAt <= ev.CreatedAt {
				m.events[i] = ev
				m.fanout(ev)
			}
			m.mu.Unlock()
			return nil
		}
		m.byAddr[addr] = len(m.events)
	}
	m.events = append(m.events, ev)
	m.fanout(ev)
	m.mu.Unlock()
	return nil
}

// fanout delivers to live subscriptions. Callers hold m.mu.
func (m *Memory) fanout(ev Event) {
	for id, sub := range m.subs {
		f := m.filter[id]
		if f.Matches(&ev) {
			sub.deliver(ev)
		}
	}
}

func (m *Memory) Subscribe(ctx context.Context, f Filter) (*Subscription, error) {
	sub := newSubscription(com.NewUid().String())
	m.mu.Lock()
	for _, ev := range m.stored(f) {
		sub.deliver(ev)
	}
	sub.markBacklogDone()
	m.subs[sub.Id] = sub
	m.filter[sub.Id] = f
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.subs, sub.Id)
		delete(m.filter, sub.Id)
		m.mu.Unlock()
		sub.stop()
	}()
	return sub, nil
}

func (m *Memory) Query(ctx context.Context, f Filter) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stored(f), nil
}

// stored returns matching events in chronological order. Callers hold
// m.mu.
func (m *Memory) stored(f Filter) (out []Event) {
	for i := range m.events {
		if f.Matches(&m.events[i]) {
			out = append(out, m.events[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:] // newest wins the limit cut
	}
	return
}

func (m *Memory) Close() {
	m.mu.Lock()
	subs := m.subs
	m.subs = make(map[string]*Subscription)
	m.filter = make(map[string]Filter)
	m.mu.Unlock()
	for _, sub := range subs {
		sub.stop()
	}
}
