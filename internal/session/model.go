// Package session holds the per-monitor console settings.
package session

import (
	"sync"

	"pkt.systems/serialmon/schema"
)

// State is a snapshot of a Model.
type State struct {
	BaudRate   schema.BaudRate   `cbor:"1,keyasint"`
	LineEnding schema.LineEnding `cbor:"2,keyasint"`
	Timestamp  bool              `cbor:"3,keyasint"`
	Autoscroll bool              `cbor:"4,keyasint"`
}

// DefaultState returns the settings of a freshly created monitor.
func DefaultState() State {
	return State{
		BaudRate:   schema.DefaultBaudRate,
		LineEnding: schema.DefaultLineEnding,
		Timestamp:  false,
		Autoscroll: true,
	}
}

// Model is the shared, validated settings holder. Setters coerce values
// outside the supported sets to their defaults instead of failing.
type Model struct {
	mu        sync.Mutex
	state     State
	listeners map[int]func(State)
	nextID    int
}

// New returns a Model with defaults applied.
func New() *Model {
	return &Model{state: DefaultState()}
}

// NewFromState returns a Model restored from state.
func NewFromState(state State) *Model {
	m := New()
	m.state = state
	return m
}

// BaudRate returns the configured line speed.
func (m *Model) BaudRate() schema.BaudRate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.BaudRate
}

// SetBaudRate stores rate, or the default when rate is unsupported.
func (m *Model) SetBaudRate(rate schema.BaudRate) {
	m.update(func(s *State) { s.BaudRate = schema.NormalizeBaudRate(rate) })
}

// LineEnding returns the suffix appended to sent text.
func (m *Model) LineEnding() schema.LineEnding {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.LineEnding
}

// SetLineEnding stores eol, or the default when eol is unsupported.
func (m *Model) SetLineEnding(eol schema.LineEnding) {
	m.update(func(s *State) { s.LineEnding = schema.NormalizeLineEnding(eol) })
}

// Timestamp reports whether framed lines are stamped.
func (m *Model) Timestamp() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Timestamp
}

// SetTimestamp toggles line timestamps.
func (m *Model) SetTimestamp(enabled bool) {
	m.update(func(s *State) { s.Timestamp = enabled })
}

// Autoscroll reports whether the display follows new output.
func (m *Model) Autoscroll() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Autoscroll
}

// SetAutoscroll toggles display follow mode.
func (m *Model) SetAutoscroll(enabled bool) {
	m.update(func(s *State) { s.Autoscroll = enabled })
}

// Store returns a snapshot of the current settings.
func (m *Model) Store() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Restore replaces the settings with a previously stored snapshot.
func (m *Model) Restore(state State) {
	m.update(func(s *State) { *s = state })
}

// OnChange registers fn to run after each mutation. The returned func
// removes the listener.
func (m *Model) OnChange(fn func(State)) func() {
	if fn == nil {
		return func() {}
	}
	m.mu.Lock()
	if m.listeners == nil {
		m.listeners = make(map[int]func(State))
	}
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

func (m *Model) update(mutate func(*State)) {
	m.mu.Lock()
	before := m.state
	mutate(&m.state)
	after := m.state
	listeners := make([]func(State), 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()
	if before == after {
		return
	}
	for _, fn := range listeners {
		fn(after)
	}
}
