package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/retroplay/netplay/pkg/logger"
)

// Server is a minimal relay: a Memory store exposed over websockets.
// It exists for single-host setups and integration tests; any relay
// speaking the same frame protocol works in its place.
type Server struct {
	store *Memory
	log   *logger.Logger
	http  *http.Server
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	WriteBufferPool: &sync.Pool{},
	CheckOrigin:     func(*http.Request) bool { return true },
}

func NewServer(addr string, log *logger.Logger) *Server {
	s := &Server{store: NewMemory(), log: log.Wrap(log.With().Str("d", "relay"))}
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	s.http = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Handler exposes the websocket endpoint for tests (httptest.Server).
func (s *Server) Handler() http.Handler { return s.http.Handler }

func (s *Server) Run() {
	s.log.Info().Msgf("Relay server starts at %v", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.log.Error().Err(err).Msg("relay server fail")
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.store.Close()
	return s.http.Shutdown(ctx)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("upgrade fail")
		return
	}
	client := &serverConn{
		conn:  conn,
		store: s.store,
		log:   s.log,
		send:  make(chan []byte, 16),
		done:  make(chan struct{}),
	}
	go client.writer()
	client.reader()
}

// serverConn is one connected relay client. The send channel is never
// closed: serve goroutines may still be forwarding fanned-out events
// when the connection dies, so teardown is signalled through done and
// the channel is simply abandoned.
type serverConn struct {
	conn  *websocket.Conn
	store *Memory
	log   *logger.Logger
	send  chan []byte
	done  chan struct{}
	once  sync.Once

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func (c *serverConn) reader() {
	defer c.close()
	c.conn.SetReadLimit(maxMessageSize)
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.dispatch(message)
	}
}

func (c *serverConn) dispatch(message []byte) {
	var frame []json.RawMessage
	if err := json.Unmarshal(message, &frame); err != nil || len(frame) < 2 {
		return
	}
	var label string
	if json.Unmarshal(frame[0], &label) != nil {
		return
	}
	switch label {
	case "EVENT":
		var ev Event
		if json.Unmarshal(frame[1], &ev) != nil || ev.Id == "" {
			return
		}
		_ = c.store.Publish(context.Background(), ev)
		c.reply("OK", ev.Id, true, "")
	case "REQ":
		if len(frame) < 3 {
			return
		}
		var subId string
		var f Filter
		if json.Unmarshal(frame[1], &subId) != nil || json.Unmarshal(frame[2], &f) != nil {
			return
		}
		c.serve(subId, f)
	case "CLOSE":
		var subId string
		if json.Unmarshal(frame[1], &subId) != nil {
			return
		}
		c.mu.Lock()
		if cancel, ok := c.cancels[subId]; ok {
			cancel()
			delete(c.cancels, subId)
		}
		c.mu.Unlock()
	}
}

func (c *serverConn) serve(subId string, f Filter) {
	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	if c.cancels == nil {
		c.cancels = make(map[string]context.CancelFunc)
	}
	if old, ok := c.cancels[subId]; ok {
		old()
	}
	c.cancels[subId] = cancel
	c.mu.Unlock()

	sub, err := c.store.Subscribe(ctx, f)
	if err != nil {
		cancel()
		return
	}
	go func() {
		backlog := sub.Backlog()
		for {
			select {
			case ev, ok := <-sub.Events():
				if !ok {
					return
				}
				c.reply("EVENT", subId, ev)
			case <-backlog:
				c.reply("EOSE", subId)
				backlog = nil // closed channels fire forever
			}
		}
	}()
}

func (c *serverConn) reply(parts ...any) {
	frame, err := json.Marshal(parts)
	if err != nil {
		return
	}
	select {
	case c.send <- frame:
	case <-c.done:
	case <-time.After(writeWait):
	}
}

func (c *serverConn) writer() {
	defer c.close()
	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *serverConn) close() {
	c.once.Do(func() { close(c.done) })
	c.mu.Lock()
	for _, cancel := range c.cancels {
		cancel()
	}
	c.cancels = nil
	c.mu.Unlock()
	_ = c.conn.Close()
}
