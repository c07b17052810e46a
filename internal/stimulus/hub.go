package stimulus

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ErrNoSubscribers is returned when a frame is published on a channel nobody
// listens to.
var ErrNoSubscribers = errors.New("stimulus: no subscribers")

// ErrHubClosed is returned after Close.
var ErrHubClosed = errors.New("stimulus: hub closed")

const (
	defaultSendBuffer = 64
	writeWait         = 2 * time.Second
)

// Stats counts frames per channel.
type Stats struct {
	Published   int64 `json:"published"`
	Dropped     int64 `json:"dropped"`
	Subscribers int   `json:"subscribers"`
}

type counters struct {
	published atomic.Int64
	dropped   atomic.Int64
}

// Hub serves websocket subscribers on each channel path and fans published
// frames out to them.
type Hub struct {
	upgrader   websocket.Upgrader
	logger     *slog.Logger
	sendBuffer int

	mu     sync.RWMutex
	subs   map[Channel]map[*subscriber]struct{}
	closed bool

	counters map[Channel]*counters
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithHubLogger sets the hub's logger.
func WithHubLogger(l *slog.Logger) HubOption {
	return func(h *Hub) { h.logger = l }
}

// WithSendBuffer sets the per-subscriber queue length. Frames beyond it are dropped.
func WithSendBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

// NewHub creates an empty hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:     slog.Default(),
		sendBuffer: defaultSendBuffer,
		subs:       make(map[Channel]map[*subscriber]struct{}),
		counters:   make(map[Channel]*counters),
	}
	for _, c := range Channels {
		h.subs[c] = make(map[*subscriber]struct{})
		h.counters[c] = &counters{}
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts a subscribe endpoint for every channel on mux.
func (h *Hub) Register(mux *http.ServeMux) {
	for _, c := range Channels {
		mux.HandleFunc(c.Path(), h.HandleSubscribe(c))
	}
}

// HandleSubscribe upgrades the request and adds the connection as a
// subscriber of ch until it disconnects.
func (h *Hub) HandleSubscribe(ch Channel) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warn("bus upgrade failed", "channel", ch, "remote", r.RemoteAddr, "error", err)
			return
		}
		sub := &subscriber{conn: conn, send: make(chan []byte, h.sendBuffer)}

		h.mu.Lock()
		if h.closed {
			h.mu.Unlock()
			_ = conn.Close()
			return
		}
		h.subs[ch][sub] = struct{}{}
		n := len(h.subs[ch])
		h.mu.Unlock()

		h.logger.Info("bus subscriber connected", "channel", ch, "remote", r.RemoteAddr, "subscribers", n)
		go h.writeLoop(ch, sub)
		go h.readLoop(ch, sub)
	}
}

// Send publishes payload to every subscriber of ch without blocking.
func (h *Hub) Send(ch Channel, payload []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return ErrHubClosed
	}
	c := h.counters[ch]
	subs := h.subs[ch]
	if c == nil {
		return errors.New("stimulus: unknown channel " + string(ch))
	}
	if len(subs) == 0 {
		c.dropped.Add(1)
		return ErrNoSubscribers
	}

	c.published.Add(1)
	for sub := range subs {
		select {
		case sub.send <- payload:
		default:
			c.dropped.Add(1)
			h.logger.Debug("bus subscriber lagging, frame dropped", "channel", ch)
		}
	}
	return nil
}

// Subscribers returns the number of live subscribers on ch.
func (h *Hub) Subscribers(ch Channel) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[ch])
}

// Stats returns per-channel counters.
func (h *Hub) Stats() map[Channel]Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[Channel]Stats, len(Channels))
	for _, ch := range Channels {
		c := h.counters[ch]
		out[ch] = Stats{
			Published:   c.published.Load(),
			Dropped:     c.dropped.Load(),
			Subscribers: len(h.subs[ch]),
		}
	}
	return out
}

// Close disconnects every subscriber. Later sends return ErrHubClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	var all []*subscriber
	for ch, subs := range h.subs {
		for sub := range subs {
			all = append(all, sub)
		}
		h.subs[ch] = make(map[*subscriber]struct{})
	}
	h.mu.Unlock()

	for _, sub := range all {
		sub.close()
	}
	h.logger.Info("bus closed", "subscribers", len(all))
}

func (h *Hub) writeLoop(ch Channel, sub *subscriber) {
	defer h.remove(ch, sub)
	for payload := range sub.send {
		_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := sub.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.logger.Debug("bus write failed", "channel", ch, "error", err)
			return
		}
	}
	_ = sub.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}

// readLoop discards inbound frames and detects disconnects.
func (h *Hub) readLoop(ch Channel, sub *subscriber) {
	defer h.remove(ch, sub)
	for {
		if _, _, err := sub.conn.NextReader(); err != nil {
			return
		}
	}
}

func (h *Hub) remove(ch Channel, sub *subscriber) {
	h.mu.Lock()
	_, present := h.subs[ch][sub]
	delete(h.subs[ch], sub)
	n := len(h.subs[ch])
	h.mu.Unlock()

	sub.close()
	if present {
		h.logger.Info("bus subscriber disconnected", "channel", ch, "subscribers", n)
	}
}

func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.send)
		_ = s.conn.Close()
	})
}
