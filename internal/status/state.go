package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rbarbosa/chatsync/internal/bus"
)

// State represents the connection lifecycle state.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
	Reconnecting State = "RECONNECTING"
	Failed       State = "FAILED"
)

// validTransitions defines allowed state transitions. Failed is terminal
// until a manual reconnect is requested.
var validTransitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Connected, Reconnecting, Failed, Disconnected},
	Connected:    {Reconnecting, Disconnected},
	Reconnecting: {Connecting, Failed, Disconnected},
	Failed:       {Connecting},
}

// Machine tracks and enforces connection state transitions, publishing
// change events so the UI can show a persistent, non-blocking indicator.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Disconnected state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Disconnected,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindConnStatus,
			Timestamp: time.Now(),
			Payload: StatusChange{
				From: from,
				To:   to,
			},
		})
	}
	return nil
}

// StatusChange is the payload for connection status change events.
type StatusChange struct {
	From State
	To   State
}
