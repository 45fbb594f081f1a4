package schema

import "errors"

var (
	// ErrNoBoardSelected indicates the selection has no board.
	ErrNoBoardSelected = errors.New("no board selected")
	// ErrNoPortSelected indicates the selection has a board but no port.
	ErrNoPortSelected = errors.New("no port selected")
	// ErrDeviceUnavailable indicates the selection matches no attached device.
	ErrDeviceUnavailable = errors.New("device unavailable")
	// ErrNotConnected indicates there is no active connection.
	ErrNotConnected = errors.New("not connected")
	// ErrUnknownConnection indicates a connection id the transport does not own.
	ErrUnknownConnection = errors.New("unknown connection")
	// ErrMonitorClosed indicates the monitor event loop has stopped.
	ErrMonitorClosed = errors.New("monitor closed")
	// ErrInvalidMonitor indicates an invalid monitor identifier.
	ErrInvalidMonitor = errors.New("invalid monitor")
)
