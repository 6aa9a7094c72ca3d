package relay

import (
	"context"
	"testing"
	"time"
)

func waitEvent(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		if !ok {
			t.Fatalf("subscription closed early")
		}
		return ev
	case <-time.After(3 * time.Second):
		t.Fatalf("no event delivered")
	}
	return Event{}
}

func waitBacklog(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case <-sub.Backlog():
	case <-time.After(3 * time.Second):
		t.Fatalf("backlog never completed")
	}
}

func TestMemoryBacklogThenLive(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	old := NewEvent("alice", KindSignal)
	old.CreatedAt = time.Now().Unix() - 10
	old.AddTag("d", "room1")
	if err := m.Publish(ctx, old); err != nil {
		t.Fatal(err)
	}

	sub, err := m.Subscribe(ctx, Filter{Kinds: []int{KindSignal}, Tags: map[string][]string{"d": {"room1"}}})
	if err != nil {
		t.Fatal(err)
	}
	if got := waitEvent(t, sub); got.Id != old.Id {
		t.Errorf("backlog event = %v, want %v", got.Id, old.Id)
	}
	waitBacklog(t, sub)

	live := NewEvent("bob", KindSignal)
	live.AddTag("d", "room1")
	if err := m.Publish(ctx, live); err != nil {
		t.Fatal(err)
	}
	if got := waitEvent(t, sub); got.Id != live.Id {
		t.Errorf("live event = %v, want %v", got.Id, live.Id)
	}
}

func TestMemoryBacklogClosesAfterDelivery(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 5; i++ {
		ev := NewEvent("alice", KindSignal)
		ev.CreatedAt = int64(100 + i)
		if err := m.Publish(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}
	sub, err := m.Subscribe(ctx, Filter{Kinds: []int{KindSignal}})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		select {
		case <-sub.Backlog():
			t.Fatalf("backlog closed before event %d was delivered", i)
		default:
		}
		if ev := waitEvent(t, sub); ev.CreatedAt != int64(100+i) {
			t.Errorf("event %d out of order: created_at %d", i, ev.CreatedAt)
		}
	}
	waitBacklog(t, sub)
}

func TestMemoryFilter(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	a := NewEvent("alice", KindSignal)
	a.AddTag("to", "bob")
	b := NewEvent("carol", KindSignal)
	b.AddTag("to", "dave")
	c := NewEvent("alice", KindSession)
	c.AddTag("d", "room1")
	for _, ev := range []Event{a, b, c} {
		if err := m.Publish(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}

	got, err := m.Query(ctx, Filter{Kinds: []int{KindSignal}, Tags: map[string][]string{"to": {"bob"}}})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Id != a.Id {
		t.Errorf("query = %v, want only %v", got, a.Id)
	}

	got, err = m.Query(ctx, Filter{Authors: []string{"alice"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("author query returned %d events, want 2", len(got))
	}
}

func TestMemoryAddressableReplace(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	v1 := NewEvent("host", KindSession)
	v1.CreatedAt = 100
	v1.AddTag("d", "room1")
	v1.Content = "v1"
	v2 := NewEvent("host", KindSession)
	v2.CreatedAt = 200
	v2.AddTag("d", "room1")
	v2.Content = "v2"
	if err := m.Publish(ctx, v1); err != nil {
		t.Fatal(err)
	}
	if err := m.Publish(ctx, v2); err != nil {
		t.Fatal(err)
	}

	got, err := m.Query(ctx, Filter{Kinds: []int{KindSession}, Tags: map[string][]string{"d": {"room1"}}})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("addressable query returned %d events, want 1", len(got))
	}
	if got[0].Content != "v2" {
		t.Errorf("kept %q, want the newer snapshot", got[0].Content)
	}

	// a stale rewrite must not win
	v0 := NewEvent("host", KindSession)
	v0.CreatedAt = 50
	v0.AddTag("d", "room1")
	v0.Content = "v0"
	if err := m.Publish(ctx, v0); err != nil {
		t.Fatal(err)
	}
	got, _ = m.Query(ctx, Filter{Kinds: []int{KindSession}})
	if len(got) != 1 || got[0].Content != "v2" {
		t.Errorf("stale snapshot replaced the newer one: %+v", got)
	}
}

func TestMemoryQueryLimit(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		ev := NewEvent("alice", KindSignal)
		ev.CreatedAt = int64(i)
		if err := m.Publish(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}
	got, err := m.Query(ctx, Filter{Limit: 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("limit query returned %d events", len(got))
	}
	if got[0].CreatedAt != 7 || got[2].CreatedAt != 9 {
		t.Errorf("limit cut did not keep the newest: %v..%v", got[0].CreatedAt, got[2].CreatedAt)
	}
}

func TestMemorySince(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()
	old := NewEvent("alice", KindSignal)
	old.CreatedAt = 100
	fresh := NewEvent("alice", KindSignal)
	fresh.CreatedAt = 200
	_ = m.Publish(ctx, old)
	_ = m.Publish(ctx, fresh)

	got, err := m.Query(ctx, Filter{Since: 150})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Id != fresh.Id {
		t.Errorf("since filter = %v", got)
	}
}

func TestMemorySubscribeCancel(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := m.Subscribe(ctx, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	waitBacklog(t, sub)
	cancel()

	select {
	case _, ok := <-sub.Events():
		if ok {
			t.Errorf("event delivered after cancel")
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("feed not closed after cancel")
	}
}
