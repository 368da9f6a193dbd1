// Package degrade implements the edge-side codec degradation manager: when
// the worker rejects frames as too large or in an unsupported format, this
// tracks a bounded number of attempts to renegotiate toward JPEG, each
// separated by a cooldown, without ever stopping capture.
package degrade

import (
	"sync"
	"time"
)

const (
	// MaxAttempts is the number of renegotiation attempts allowed before
	// degradation gives up and logs.
	MaxAttempts = 3
	// Cooldown is the minimum time between triggers, during which further
	// triggers are ignored.
	Cooldown = 5 * time.Second
)

// Manager tracks degradation attempt count and cooldown state for one
// connection. It is reset whenever a connection is (re)established.
type Manager struct {
	mu          sync.Mutex
	attempts    int
	lastTrigger time.Time
	exhausted   bool
}

func New() *Manager {
	return &Manager{}
}

// Trigger reports whether the caller should perform a degradation attempt
// now (build a new Init with prefer_jpeg=true and send it). It returns
// false if the cooldown has not elapsed or the attempt limit was reached.
func (m *Manager) Trigger(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.exhausted {
		return false
	}
	if !m.lastTrigger.IsZero() && now.Sub(m.lastTrigger) < Cooldown {
		return false
	}
	if m.attempts >= MaxAttempts {
		m.exhausted = true
		return false
	}

	m.attempts++
	m.lastTrigger = now
	return true
}

// Exhausted reports whether a Trigger call has been refused because
// MaxAttempts attempts had already been made.
func (m *Manager) Exhausted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exhausted
}

// Attempts returns the number of attempts made so far.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Reset clears attempt count and cooldown state, for use on reconnect.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = 0
	m.lastTrigger = time.Time{}
	m.exhausted = false
}
