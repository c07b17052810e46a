// Package marker sends 8-bit event codes to a USB TTL module so eye-tracker
// recordings can be aligned with the event log.
//
// Each code is written as two upper-case hex ASCII characters at 115200 8N1.
// "RR" resets the module's output lines and is sent on open and close.
package marker

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/roach88/agency/internal/experiment"
)

// BaudRate is fixed by the TTL module.
const BaudRate = 115200

var resetCommand = []byte("RR")

// Marker writes event codes. With no port it runs simulated and only logs.
type Marker struct {
	logger *slog.Logger
	port   string

	mu   sync.Mutex
	w    io.WriteCloser
	sent int
	last byte
}

// Open connects to the TTL module on port. If the port cannot be opened the
// returned marker is simulated; Open never fails.
func Open(port string, logger *slog.Logger) *Marker {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Marker{logger: logger, port: port}
	if port == "" {
		logger.Info("ttl marker simulated: no port configured")
		return m
	}

	p, err := serial.Open(port, &serial.Mode{
		BaudRate: BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		logger.Warn("ttl marker unavailable, switching to simulated mode", "port", port, "error", err)
		return m
	}
	// the module needs a moment after enumeration before it accepts commands
	time.Sleep(100 * time.Millisecond)
	m.w = p
	if _, err := p.Write(resetCommand); err != nil {
		logger.Warn("ttl marker reset failed", "port", port, "error", err)
	}
	logger.Info("ttl marker connected", "port", port)
	return m
}

// New wraps an already open writer. Used with fake ports in tests.
func New(w io.WriteCloser, logger *slog.Logger) *Marker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Marker{logger: logger, w: w, port: "custom"}
}

// Simulated reports whether codes are only logged.
func (m *Marker) Simulated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.w == nil
}

// Send writes one code.
func (m *Marker) Send(code byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.last = code
	m.sent++
	if m.w == nil {
		m.logger.Debug("ttl marker (simulated)", "code", fmt.Sprintf("0x%02X", code))
		return nil
	}
	n, err := m.w.Write([]byte(fmt.Sprintf("%02X", code)))
	if err != nil {
		return fmt.Errorf("ttl marker write: %w", err)
	}
	if n != 2 {
		return fmt.Errorf("ttl marker write: incomplete (%d/2 bytes)", n)
	}
	return nil
}

// Mark sends the code for an event-log entry, if it has one. Failures are
// logged; markers never interrupt a run.
func (m *Marker) Mark(e experiment.EventLogEntry) {
	code, ok := CodeFor(e.Subject, e.Phase)
	if !ok {
		return
	}
	if err := m.Send(code); err != nil {
		m.logger.Warn("ttl marker failed", "subject", e.Subject, "phase", e.Phase, "error", err)
	}
}

// Sent returns the number of codes sent and the last one.
func (m *Marker) Sent() (int, byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent, m.last
}

// Close resets the module and releases the port.
func (m *Marker) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.w == nil {
		return nil
	}
	w := m.w
	m.w = nil
	if _, err := w.Write(resetCommand); err != nil {
		m.logger.Warn("ttl marker reset on close failed", "error", err)
	}
	return w.Close()
}
