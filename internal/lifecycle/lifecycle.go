// Package lifecycle tracks foreground/background transitions and fans them
// out to subscribers so realtime resources are released while the app cannot
// render updates anyway.
package lifecycle

import (
	"log/slog"
	"sync"
)

// Phase is the process visibility state.
type Phase int

const (
	Foreground Phase = iota
	Background
)

func (p Phase) String() string {
	if p == Background {
		return "background"
	}
	return "foreground"
}

// Manager fans out phase transitions. Callbacks run synchronously in
// registration order, so teardown completes before the transition call
// returns.
type Manager struct {
	mu       sync.Mutex
	phase    Phase
	handlers []func(Phase)
	logger   *slog.Logger
}

// NewManager starts in the foreground phase.
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{phase: Foreground, logger: logger}
}

// OnTransition registers a phase observer.
func (m *Manager) OnTransition(fn func(Phase)) {
	m.mu.Lock()
	m.handlers = append(m.handlers, fn)
	m.mu.Unlock()
}

// Phase returns the current phase.
func (m *Manager) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Background transitions to the background phase.
func (m *Manager) Background() { m.transition(Background) }

// Foreground transitions to the foreground phase.
func (m *Manager) Foreground() { m.transition(Foreground) }

func (m *Manager) transition(to Phase) {
	m.mu.Lock()
	if m.phase == to {
		m.mu.Unlock()
		return
	}
	m.phase = to
	handlers := make([]func(Phase), len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	if m.logger != nil {
		m.logger.Info("lifecycle transition", "phase", to.String())
	}
	for _, fn := range handlers {
		fn(to)
	}
}
