package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sprintpulse/sprintpulse/internal/metrics"
	"github.com/sprintpulse/sprintpulse/internal/store"
)

// EventReports is the event name of every message the hub sends.
const EventReports = "reports"

const (
	writeWait    = 10 * time.Second
	readWait     = 60 * time.Second
	pingInterval = readWait * 9 / 10 // must stay below readWait
	outboxSize   = 16
	maxFrameSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 8192,
	// Dashboards are served from other origins; restrict at the proxy.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Message is the JSON frame sent to subscribers.
type Message struct {
	Event string            `json:"event"`
	Data  []*metrics.Report `json:"data"`
}

// Hub fans the stored team reports out to WebSocket subscribers.
type Hub struct {
	reports  *store.Store
	interval time.Duration

	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	conn   *websocket.Conn
	outbox chan []byte
}

// New returns a Hub serving the reports in st, re-sent every interval.
func New(st *store.Store, interval time.Duration) *Hub {
	return &Hub{
		reports:  st,
		interval: interval,
		subs:     make(map[*subscriber]struct{}),
	}
}

// Run re-sends the reports on every tick until ctx is done, then disconnects
// every subscriber.
func (h *Hub) Run(ctx context.Context) {
	tick := time.NewTicker(h.interval)
	defer tick.Stop()

	for {
		select {
		case <-tick.C:
			h.Broadcast()
		case <-ctx.Done():
			h.mu.Lock()
			for s := range h.subs {
				delete(h.subs, s)
				close(s.outbox)
			}
			h.mu.Unlock()
			return
		}
	}
}

// ServeHTTP upgrades the request and streams reports until the peer goes
// away. The current reports are queued before anything else.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("ws: upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	s := &subscriber{conn: conn, outbox: make(chan []byte, outboxSize)}
	if frame, err := h.frame(); err == nil {
		s.outbox <- frame
	}

	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	defer h.drop(s)

	go s.writeLoop()
	s.readLoop()
}

// Count returns the number of connected subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Broadcast queues the current reports for every subscriber. Subscribers
// whose outbox is full are disconnected.
func (h *Hub) Broadcast() {
	frame, err := h.frame()
	if err != nil {
		slog.Error("ws: encode reports", "err", err)
		return
	}

	var lagging []*subscriber
	h.mu.RLock()
	for s := range h.subs {
		select {
		case s.outbox <- frame:
		default:
			lagging = append(lagging, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range lagging {
		slog.Debug("ws: dropping slow subscriber", "remote", s.conn.RemoteAddr().String())
		h.drop(s)
	}
}

// drop removes s; its outbox is closed exactly once.
func (h *Hub) drop(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.outbox)
	}
}

func (h *Hub) frame() ([]byte, error) {
	return json.Marshal(Message{Event: EventReports, Data: h.reports.Reports()})
}

// writeLoop owns all writes to the connection.
func (s *subscriber) writeLoop() {
	ping := time.NewTicker(pingInterval)
	defer func() {
		ping.Stop()
		s.conn.Close()
	}()

	for {
		var (
			kind = websocket.PingMessage
			data []byte
		)
		select {
		case frame, open := <-s.outbox:
			if !open {
				s.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
				s.conn.WriteMessage(websocket.CloseMessage, nil)   //nolint:errcheck
				return
			}
			kind, data = websocket.TextMessage, frame
		case <-ping.C:
		}

		s.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
		if err := s.conn.WriteMessage(kind, data); err != nil {
			return
		}
	}
}

// readLoop discards inbound frames and keeps the read deadline alive on
// pongs. It returns when the connection fails or closes.
func (s *subscriber) readLoop() {
	defer s.conn.Close()
	s.conn.SetReadLimit(maxFrameSize)
	s.conn.SetReadDeadline(time.Now().Add(readWait)) //nolint:errcheck
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(readWait))
	})
	for {
		if _, _, err := s.conn.NextReader(); err != nil {
			return
		}
	}
}
