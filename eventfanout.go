package serialmon

import (
	"pkt.systems/serialmon/core"
	"pkt.systems/serialmon/schema"
)

type eventFanout struct {
	sinks []core.EventSink
}

func (f eventFanout) OnLines(event schema.LinesEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnLines(event)
	}
}

func (f eventFanout) OnMessage(event schema.MessageEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnMessage(event)
	}
}

func (f eventFanout) OnState(event schema.StateEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnState(event)
	}
}

func (f eventFanout) OnClear(event schema.ClearEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnClear(event)
	}
}
