package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/retroplay/netplay/pkg/com"
	"github.com/retroplay/netplay/pkg/logger"
)

const (
	maxMessageSize = 512 * 1024
	writeWait      = 10 * time.Second
	pongTime       = 60 * time.Second
	pingTime       = pongTime * 9 / 10
	ackWait        = 10 * time.Second
)

var errClosed = errors.New("relay connection is closed")

// Client talks to one relay over a websocket.
type Client struct {
	conn *websocket.Conn
	log  *logger.Logger

	send chan []byte
	subs com.Map[string, *Subscription]
	acks com.Map[string, chan error]

	done     chan struct{}
	doneOnce sync.Once
}

// Dial connects to the relay at the given websocket address.
func Dial(ctx context.Context, address string, log *logger.Logger) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, address, nil)
	if err != nil {
		return nil, fmt.Errorf("relay dial %v: %w", address, err)
	}
	c := &Client{
		conn: conn,
		log:  log.Wrap(log.With().Str("d", "relay")),
		send: make(chan []byte, 16),
		subs: com.NewMap[string, *Subscription](),
		acks: com.NewMap[string, chan error](),
		done: make(chan struct{}),
	}
	go c.reader()
	go c.writer()
	return c, nil
}

func (c *Client) Publish(ctx context.Context, ev Event) error {
	frame, err := json.Marshal([]any{"EVENT", ev})
	if err != nil {
		return err
	}
	ack := make(chan error, 1)
	c.acks.Put(ev.Id, ack)
	defer c.acks.RemoveByKey(ev.Id)
	if err := c.enqueue(ctx, frame); err != nil {
		return err
	}
	select {
	case err := <-ack:
		return err
	case <-time.After(ackWait):
		return fmt.Errorf("relay did not ack event in %v", ackWait)
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return errClosed
	}
}

func (c *Client) Subscribe(ctx context.Context, f Filter) (*Subscription, error) {
	sub := newSubscription(com.NewUid().String())
	frame, err := json.Marshal([]any{"REQ", sub.Id, f})
	if err != nil {
		return nil, err
	}
	c.subs.Put(sub.Id, sub)
	if err := c.enqueue(ctx, frame); err != nil {
		c.subs.RemoveByKey(sub.Id)
		sub.stop()
		return nil, err
	}
	go func() {
		select {
		case <-ctx.Done():
			c.unsubscribe(sub)
		case <-c.done:
			sub.stop()
		}
	}()
	return sub, nil
}

func (c *Client) unsubscribe(sub *Subscription) {
	c.subs.RemoveByKey(sub.Id)
	if frame, err := json.Marshal([]any{"CLOSE", sub.Id}); err == nil {
		select {
		case c.send <- frame:
		case <-c.done:
		default:
		}
	}
	sub.stop()
}

func (c *Client) Query(ctx context.Context, f Filter) ([]Event, error) {
	qctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sub, err := c.Subscribe(qctx, f)
	if err != nil {
		return nil, err
	}
	var out []Event
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return nil, errClosed
			}
			out = append(out, ev)
		case <-sub.Backlog():
			sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
			return out, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *Client) Close() {
	c.doneOnce.Do(func() {
		close(c.done)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		_ = c.conn.Close()
		c.subs.Drain(func(_ string, sub *Subscription) { sub.stop() })
	})
}

func (c *Client) enqueue(ctx context.Context, frame []byte) error {
	select {
	case c.send <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return errClosed
	}
}

// reader pumps relay frames to subscriptions and publish acks.
// Blocking, must be called as goroutine. Serializes all reads.
func (c *Client) reader() {
	defer c.Close()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongTime))
	c.conn.SetPongHandler(func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongTime)) })
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Error().Err(err).Msg("read fail")
			}
			return
		}
		c.dispatch(message)
	}
}

func (c *Client) dispatch(message []byte) {
	var frame []json.RawMessage
	if err := json.Unmarshal(message, &frame); err != nil || len(frame) < 2 {
		c.log.Warn().Msg("malformed relay frame")
		return
	}
	var label string
	if json.Unmarshal(frame[0], &label) != nil {
		return
	}
	switch label {
	case "EVENT":
		if len(frame) < 3 {
			return
		}
		var subId string
		var ev Event
		if json.Unmarshal(frame[1], &subId) != nil || json.Unmarshal(frame[2], &ev) != nil {
			return
		}
		if sub, err := c.subs.Find(subId); err == nil {
			sub.deliver(ev)
		}
	case "EOSE":
		var subId string
		if json.Unmarshal(frame[1], &subId) != nil {
			return
		}
		if sub, err := c.subs.Find(subId); err == nil {
			sub.markBacklogDone()
		}
	case "OK":
		var evId string
		ok := false
		reason := ""
		if json.Unmarshal(frame[1], &evId) != nil {
			return
		}
		if len(frame) > 2 {
			_ = json.Unmarshal(frame[2], &ok)
		}
		if len(frame) > 3 {
			_ = json.Unmarshal(frame[3], &reason)
		}
		if ack, err := c.acks.Find(evId); err == nil {
			if ok {
				ack <- nil
			} else {
				ack <- fmt.Errorf("relay rejected event: %v", reason)
			}
		}
	default:
		c.log.Debug().Str("frame", label).Msg("unhandled relay frame")
	}
}

// writer pumps frames from the send channel to the websocket.
// Blocking, must be called as goroutine. Serializes all writes.
func (c *Client) writer() {
	ticker := time.NewTicker(pingTime)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
