// Package window implements the edge-side sliding-window credit manager
// that governs how many Frames may be in flight to the inference worker
// before the feeder must start dropping under LATEST_WINS.
package window

import "sync"

// Manager tracks window_size and inflight for one connection. It is owned
// by the single-reactor feeder loop; the mutex exists only because the TCP
// client's read and write goroutines both touch it (Results arrive on the
// read side, Frames are sent on whichever goroutine drives the feeder).
type Manager struct {
	mu         sync.Mutex
	windowSize uint32
	inflight   uint32
}

// New returns a Manager in its pre-Initialize zero state (no credits).
func New() *Manager {
	return &Manager{}
}

// Initialize sets window_size from the worker's InitOk.initial_credits,
// coercing zero or negative values up to 1 (the edge substitutes 1
// defensively per the wire contract).
func (m *Manager) Initialize(initialCredits uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if initialCredits < 1 {
		initialCredits = 1
	}
	m.windowSize = initialCredits
	m.inflight = 0
}

// HasCredits reports whether another Frame may be sent right now.
func (m *Manager) HasCredits() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inflight < m.windowSize
}

// OnFrameSent records that a Frame was just sent. Callers must only call
// this after HasCredits returned true for the same decision.
func (m *Manager) OnFrameSent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inflight++
}

// OnResultReceived records that a Result arrived, freeing one credit.
func (m *Manager) OnResultReceived() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inflight > 0 {
		m.inflight--
	}
}

// OnWindowUpdate replaces window_size with an authoritative absolute value
// (never a delta). inflight is left untouched; if the new size is smaller
// than inflight, no further credits are available until Results drain.
func (m *Manager) OnWindowUpdate(newSize uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if newSize < 1 {
		newSize = 1
	}
	m.windowSize = newSize
}

// Snapshot returns the current (windowSize, inflight) pair for metrics/tests.
func (m *Manager) Snapshot() (windowSize, inflight uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.windowSize, m.inflight
}
