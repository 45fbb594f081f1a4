package schema

// State names a connection lifecycle state.
type State string

const (
	// StateIdle means no connection and nothing in flight.
	StateIdle State = "idle"
	// StateConnecting means a connect request is in flight.
	StateConnecting State = "connecting"
	// StateConnected means a connection handle is alive.
	StateConnected State = "connected"
	// StateDisconnecting means a disconnect request is in flight.
	StateDisconnecting State = "disconnecting"
)

// MessageLevel classifies user-visible messages.
type MessageLevel string

const (
	// MessageInfo is informational.
	MessageInfo MessageLevel = "info"
	// MessageWarn is a recoverable warning.
	MessageWarn MessageLevel = "warn"
	// MessageError reports a failed operation.
	MessageError MessageLevel = "error"
)

// LinesEvent carries newly framed lines.
type LinesEvent struct {
	MonitorID MonitorID
	Lines     []FramedLine
	// Autoscroll mirrors the session flag at the time the lines were appended.
	Autoscroll bool
}

// MessageEvent carries a user-visible warning or error.
type MessageEvent struct {
	MonitorID MonitorID
	Level     MessageLevel
	Text      string
}

// StateEvent reports a lifecycle transition.
type StateEvent struct {
	MonitorID    MonitorID
	From         State
	To           State
	ConnectionID ConnectionID
	Config       MonitorConfig
}

// ClearEvent reports that the console was emptied.
type ClearEvent struct {
	MonitorID MonitorID
}
