package hub

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"stocks-watcher/internal/engine"
)

const (
	outBuffer    = 64
	maxDrops     = 3
	pingInterval = 45 * time.Second
	readDeadline = 90 * time.Second
)

// envelope is the wire framing for live updates.
type envelope struct {
	Type string          `json:"type"`
	Data []engine.Status `json:"data"`
}

type client struct {
	conn *websocket.Conn
	out  chan envelope
	done chan struct{}

	// dropped counts consecutive missed snapshots; guarded by Hub.mu.
	dropped int
}

// Hub fans the latest status snapshot out to connected subscribers. Publish
// never blocks: a subscriber that cannot keep up misses intermediate
// snapshots, and one that misses maxDrops in a row is disconnected.
type Hub struct {
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu       sync.RWMutex
	clients  map[*client]struct{}
	snapshot []engine.Status
}

// New constructs a Hub. Origins are checked by the caller's CORS layer.
func New(logger zerolog.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin:       func(*http.Request) bool { return true },
			EnableCompression: true,
		},
		logger:  logger.With().Str("component", "hub").Logger(),
		clients: make(map[*client]struct{}),
	}
}

// Publish replaces the retained snapshot and broadcasts it. Called once per
// cycle; fire-and-forget per subscriber.
func (h *Hub) Publish(statuses []engine.Status) {
	msg := envelope{Type: "status", Data: statuses}

	h.mu.Lock()
	h.snapshot = statuses
	for c := range h.clients {
		select {
		case c.out <- msg:
			c.dropped = 0
		default:
			c.dropped++
			if c.dropped >= maxDrops {
				// Closing the conn unblocks the client's read loop, which
				// handles the rest of the teardown.
				delete(h.clients, c)
				_ = c.conn.Close()
				h.logger.Warn().Msg("dropping slow subscriber")
			}
		}
	}
	h.mu.Unlock()
}

// Subscribers reports the number of connected clients.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and streams snapshots. The current snapshot
// is sent immediately on connect; there is no history replay.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	cl := &client{conn: conn, out: make(chan envelope, outBuffer), done: make(chan struct{})}

	h.mu.Lock()
	h.clients[cl] = struct{}{}
	current := h.snapshot
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, cl)
		h.mu.Unlock()
	}()

	go h.writeLoop(cl)
	defer close(cl.done)

	if current != nil {
		select {
		case cl.out <- envelope{Type: "status", Data: current}:
		default:
		}
	}

	_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(cl *client) {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case msg := <-cl.out:
			if err := cl.conn.WriteJSON(msg); err != nil {
				_ = cl.conn.Close()
				return
			}
		case <-ping.C:
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = cl.conn.Close()
				return
			}
		case <-cl.done:
			return
		}
	}
}

var _ engine.StatusSink = (*Hub)(nil)
