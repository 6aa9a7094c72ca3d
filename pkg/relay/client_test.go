package relay

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/retroplay/netplay/pkg/logger"
)

func testRelay(t *testing.T) (*Client, *Client) {
	t.Helper()
	log := logger.Default()
	srv := NewServer("", log)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	addr := "ws" + strings.TrimPrefix(ts.URL, "http")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	a, err := Dial(ctx, addr, log)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(a.Close)
	b, err := Dial(ctx, addr, log)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(b.Close)
	return a, b
}

func TestClientPublishSubscribe(t *testing.T) {
	a, b := testRelay(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := b.Subscribe(ctx, Filter{Kinds: []int{KindSignal}, Tags: map[string][]string{"d": {"room1"}}})
	if err != nil {
		t.Fatal(err)
	}
	waitBacklog(t, sub)

	ev := NewEvent("alice", KindSignal)
	ev.AddTag("d", "room1")
	ev.Content = "hello"
	if err := a.Publish(ctx, ev); err != nil {
		t.Fatal(err)
	}

	got := waitEvent(t, sub)
	if got.Id != ev.Id || got.Content != "hello" {
		t.Errorf("delivered %+v, want %+v", got, ev)
	}
}

func TestClientQueryBacklog(t *testing.T) {
	a, b := testRelay(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := 0; i < 3; i++ {
		ev := NewEvent("alice", KindSignal)
		ev.CreatedAt = int64(100 + i)
		ev.AddTag("d", "room1")
		if err := a.Publish(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}

	got, err := b.Query(ctx, Filter{Kinds: []int{KindSignal}, Tags: map[string][]string{"d": {"room1"}}})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("query returned %d events, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i-1].CreatedAt > got[i].CreatedAt {
			t.Errorf("query result out of order at %d", i)
		}
	}
}

func TestClientUnsubscribe(t *testing.T) {
	a, b := testRelay(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	subCtx, stop := context.WithCancel(ctx)
	sub, err := b.Subscribe(subCtx, Filter{Kinds: []int{KindSignal}})
	if err != nil {
		t.Fatal(err)
	}
	waitBacklog(t, sub)
	stop()

	select {
	case _, ok := <-sub.Events():
		if ok {
			t.Errorf("event delivered after unsubscribe")
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("feed not closed after unsubscribe")
	}

	// relay still serves the other client
	ev := NewEvent("alice", KindSignal)
	if err := a.Publish(ctx, ev); err != nil {
		t.Fatal(err)
	}
}
