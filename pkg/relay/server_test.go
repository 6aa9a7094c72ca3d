package relay

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/retroplay/netplay/pkg/logger"
)

// Subscribers dropping mid-fanout must not take the relay down: serve
// goroutines keep forwarding events while the connection tears down.
func TestServerSubscriberChurnUnderTraffic(t *testing.T) {
	log := logger.Default()
	srv := NewServer("", log)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	addr := "ws" + strings.TrimPrefix(ts.URL, "http")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pub, err := Dial(ctx, addr, log)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pub.Close)

	stop := make(chan struct{})
	flooded := make(chan struct{})
	go func() {
		defer close(flooded)
		for {
			select {
			case <-stop:
				return
			default:
			}
			ev := NewEvent("alice", KindSignal)
			ev.AddTag("d", "room1")
			_ = pub.Publish(ctx, ev)
		}
	}()

	for i := 0; i < 50; i++ {
		c, err := Dial(ctx, addr, log)
		if err != nil {
			t.Fatal(err)
		}
		subCtx, subStop := context.WithCancel(ctx)
		if _, err := c.Subscribe(subCtx, Filter{Kinds: []int{KindSignal}}); err != nil {
			t.Fatal(err)
		}
		// drop the connection while its feed is mid-stream
		c.Close()
		subStop()
	}
	close(stop)
	<-flooded

	ev := NewEvent("alice", KindSignal)
	ev.AddTag("d", "room1")
	if err := pub.Publish(ctx, ev); err != nil {
		t.Fatalf("relay unusable after subscriber churn: %v", err)
	}
}
