// Package status tracks the sync orchestrator's visible state. The machine
// enforces the allowed transitions and publishes a status-change event on
// every move, so the UI can render a transient sync indicator without
// polling.
package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/syncbox/internal/bus"
)

// State represents a sync orchestrator runtime state.
type State string

const (
	Idle    State = "IDLE"
	Syncing State = "SYNCING"
	Error   State = "ERROR"
	Offline State = "OFFLINE"
)

// validTransitions defines allowed state transitions. Every state may drop
// to Offline the moment connectivity is lost; Offline only returns to Idle
// when connectivity is restored.
var validTransitions = map[State][]State{
	Idle:    {Syncing, Offline},
	Syncing: {Idle, Error, Offline},
	Error:   {Syncing, Offline},
	Offline: {Idle},
}

// Machine tracks and enforces sync state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Offline state. The
// orchestrator moves it to Idle once the connectivity collaborator reports
// the network is up.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Offline,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Moving to the current state
// is a no-op. Returns an error if the transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if to == m.current {
		return nil
	}
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindSyncStatusChanged,
			Timestamp: time.Now(),
			Payload: StatusChange{
				From: from,
				To:   to,
			},
		})
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
