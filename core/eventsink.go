package core

import "pkt.systems/serialmon/schema"

// EventSink receives display and messaging events from a monitor.
type EventSink interface {
	OnLines(event schema.LinesEvent)
	OnMessage(event schema.MessageEvent)
	OnState(event schema.StateEvent)
	OnClear(event schema.ClearEvent)
}

type nopSink struct{}

func (nopSink) OnLines(schema.LinesEvent)     {}
func (nopSink) OnMessage(schema.MessageEvent) {}
func (nopSink) OnState(schema.StateEvent)     {}
func (nopSink) OnClear(schema.ClearEvent)     {}
