package core

import (
	"fmt"

	"pkt.systems/serialmon/schema"
)

// lifecycle tracks the connection state of one monitor. The handle is set
// only while connected.
type lifecycle struct {
	state  schema.State
	handle schema.ConnectionID
	config schema.MonitorConfig
	notify func(from schema.State, l *lifecycle)
}

func newLifecycle(notify func(from schema.State, l *lifecycle)) *lifecycle {
	return &lifecycle{state: schema.StateIdle, notify: notify}
}

// inFlight reports whether a connect or disconnect request is outstanding.
func (l *lifecycle) inFlight() bool {
	return l.state == schema.StateConnecting || l.state == schema.StateDisconnecting
}

func (l *lifecycle) toConnecting(cfg schema.MonitorConfig) error {
	if l.state != schema.StateIdle {
		return l.invalid(schema.StateConnecting)
	}
	l.config = cfg
	l.move(schema.StateConnecting)
	return nil
}

func (l *lifecycle) toConnected(id schema.ConnectionID) error {
	if l.state != schema.StateConnecting {
		return l.invalid(schema.StateConnected)
	}
	l.handle = id
	l.move(schema.StateConnected)
	return nil
}

func (l *lifecycle) toDisconnecting() error {
	if l.state != schema.StateConnected {
		return l.invalid(schema.StateDisconnecting)
	}
	l.move(schema.StateDisconnecting)
	return nil
}

// toIdle settles a connect failure or a completed disconnect.
func (l *lifecycle) toIdle() error {
	if !l.inFlight() {
		return l.invalid(schema.StateIdle)
	}
	l.handle = ""
	l.move(schema.StateIdle)
	l.config = schema.MonitorConfig{}
	return nil
}

func (l *lifecycle) move(to schema.State) {
	from := l.state
	l.state = to
	if l.notify != nil {
		l.notify(from, l)
	}
}

func (l *lifecycle) invalid(to schema.State) error {
	return fmt.Errorf("invalid transition %s -> %s", l.state, to)
}
