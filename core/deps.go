package core

import (
	"context"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/serialmon/internal/session"
	"pkt.systems/serialmon/schema"
)

// Transport talks to devices. Connect and Disconnect may block until the
// device settles; the monitor never calls them concurrently for one monitor.
type Transport interface {
	Connect(ctx context.Context, cfg schema.MonitorConfig) (schema.ConnectionID, error)
	Disconnect(ctx context.Context, id schema.ConnectionID) error
	Send(ctx context.Context, id schema.ConnectionID, text string) error
	// OnRead registers fn for fragments read from any connection and returns
	// a func that removes the registration.
	OnRead(fn func(schema.ReadEvent)) (cancel func())
}

// Discovery reports attached devices and the current board/port selection.
type Discovery interface {
	AttachedDevices(ctx context.Context) ([]schema.AttachedDevice, error)
	Selection() schema.DeviceSelection
}

// SessionStore persists opaque session blobs.
type SessionStore interface {
	Load(id schema.MonitorID) ([]byte, bool, error)
	Save(id schema.MonitorID, data []byte) error
}

// MonitorDeps captures collaborators of a Monitor. Transport and Discovery
// are required.
type MonitorDeps struct {
	Transport Transport
	Discovery Discovery
	EventSink EventSink
	Store     SessionStore
	Session   *session.Model
	Logger    pslog.Logger
	Clock     func() time.Time
}
