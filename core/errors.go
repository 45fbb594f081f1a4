package core

import "fmt"

// MonitorErrorKind classifies transport failures for user-facing messages.
type MonitorErrorKind string

const (
	// MonitorErrorConnect indicates the transport could not open the port.
	MonitorErrorConnect MonitorErrorKind = "connect"
	// MonitorErrorDisconnect indicates the transport failed to close the port.
	MonitorErrorDisconnect MonitorErrorKind = "disconnect"
	// MonitorErrorSend indicates a write to the device failed.
	MonitorErrorSend MonitorErrorKind = "send"
	// MonitorErrorDiscovery indicates the attached device list was unavailable.
	MonitorErrorDiscovery MonitorErrorKind = "discovery"
)

// MonitorError wraps transport failures with a stable classification.
type MonitorError struct {
	Kind    MonitorErrorKind
	Port    string
	Message string
	Err     error
}

// NewMonitorError constructs a classified monitor error.
func NewMonitorError(kind MonitorErrorKind, port string, err error) *MonitorError {
	return &MonitorError{Kind: kind, Port: port, Err: err}
}

func (e *MonitorError) Error() string {
	if e == nil {
		return "monitor error"
	}
	if e.Message != "" {
		return e.Message
	}
	var action string
	switch e.Kind {
	case MonitorErrorConnect:
		action = "connect to"
	case MonitorErrorDisconnect:
		action = "disconnect from"
	case MonitorErrorSend:
		action = "send to"
	case MonitorErrorDiscovery:
		action = "list devices for"
	default:
		action = "use"
	}
	target := e.Port
	if target == "" {
		target = "port"
	} else {
		target = fmt.Sprintf("port '%s'", target)
	}
	if e.Err != nil {
		return fmt.Sprintf("failed to %s %s: %v", action, target, e.Err)
	}
	return fmt.Sprintf("failed to %s %s", action, target)
}

func (e *MonitorError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
