package sensor

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/agency/internal/experiment"
)

// ErrNotConnected is returned by stream control when no bridge is attached.
var ErrNotConnected = errors.New("sensor: no bridge connected")

// BridgePath is where bridge processes connect.
const BridgePath = "/sensors"

// SampleFrame is the JSON a bridge sends for each reading.
type SampleFrame struct {
	Limb experiment.Limb `json:"limb"`
	X    float64         `json:"x"`
	Y    float64         `json:"y"`
	Z    float64         `json:"z"`
	T    float64         `json:"t"`
}

// ControlFrame is the JSON the core sends to bridges.
type ControlFrame struct {
	Type    string          `json:"type"`
	Limb    experiment.Limb `json:"limb"`
	Enabled bool            `json:"enabled"`
}

// Bridge accepts websocket connections from the processes bound to the BLE
// sensors. Inbound sample frames are delivered to the router; stream on/off
// control is broadcast to every connected bridge and replayed to late joiners.
type Bridge struct {
	router   *Router
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu        sync.Mutex
	conns     map[*bridgeConn]struct{}
	streaming map[experiment.Limb]bool
}

type bridgeConn struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

func (c *bridgeConn) writeJSON(v any) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	return c.conn.WriteJSON(v)
}

// NewBridge creates a bridge delivering to router.
func NewBridge(router *Router, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		router: router,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:    logger,
		conns:     make(map[*bridgeConn]struct{}),
		streaming: make(map[experiment.Limb]bool),
	}
}

// Register mounts the bridge endpoint on mux.
func (b *Bridge) Register(mux *http.ServeMux) {
	mux.HandleFunc(BridgePath, b.ServeHTTP)
}

func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("sensor bridge upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	bc := &bridgeConn{conn: conn}

	b.mu.Lock()
	b.conns[bc] = struct{}{}
	var replay []ControlFrame
	for limb, on := range b.streaming {
		if on {
			replay = append(replay, ControlFrame{Type: "stream", Limb: limb, Enabled: true})
		}
	}
	b.mu.Unlock()

	b.logger.Info("sensor bridge connected", "remote", r.RemoteAddr)
	for _, f := range replay {
		if err := bc.writeJSON(f); err != nil {
			b.logger.Warn("sensor bridge replay failed", "error", err)
		}
	}
	go b.readLoop(bc)
}

// Connected returns the number of attached bridges.
func (b *Bridge) Connected() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

// StartStreaming asks bridges to stream raw samples for limb.
func (b *Bridge) StartStreaming(limb experiment.Limb) error {
	return b.setStreaming(limb, true)
}

// StopStreaming asks bridges to stop streaming limb.
func (b *Bridge) StopStreaming(limb experiment.Limb) error {
	return b.setStreaming(limb, false)
}

// Streaming reports the requested stream state for limb.
func (b *Bridge) Streaming(limb experiment.Limb) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.streaming[limb]
}

func (b *Bridge) setStreaming(limb experiment.Limb, on bool) error {
	b.mu.Lock()
	b.streaming[limb] = on
	conns := make([]*bridgeConn, 0, len(b.conns))
	for c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	if len(conns) == 0 {
		return ErrNotConnected
	}
	frame := ControlFrame{Type: "stream", Limb: limb, Enabled: on}
	var errs []error
	for _, c := range conns {
		if err := c.writeJSON(frame); err != nil {
			errs = append(errs, err)
			go b.drop(c)
		}
	}
	return errors.Join(errs...)
}

// Close disconnects every bridge.
func (b *Bridge) Close() {
	b.mu.Lock()
	conns := b.conns
	b.conns = make(map[*bridgeConn]struct{})
	b.mu.Unlock()
	for c := range conns {
		_ = c.conn.Close()
	}
}

func (b *Bridge) readLoop(c *bridgeConn) {
	defer b.drop(c)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			b.logger.Debug("sensor bridge read ended", "error", err)
			return
		}
		var f SampleFrame
		if err := json.Unmarshal(data, &f); err != nil {
			b.logger.Debug("malformed sensor frame ignored", "error", err)
			continue
		}
		if f.Limb == experiment.LimbNone {
			b.logger.Debug("sensor frame without limb ignored")
			continue
		}
		b.router.Deliver(experiment.NewSample(f.Limb, f.X, f.Y, f.Z, f.T))
	}
}

func (b *Bridge) drop(c *bridgeConn) {
	b.mu.Lock()
	_, ok := b.conns[c]
	delete(b.conns, c)
	b.mu.Unlock()
	_ = c.conn.Close()
	if ok {
		b.logger.Info("sensor bridge disconnected")
	}
}
