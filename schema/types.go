package schema

import (
	"fmt"
	"time"
)

// MonitorID identifies a serial monitor instance.
type MonitorID string

// ConnectionID identifies an active transport session.
type ConnectionID string

// BaudRate is a serial line speed in bits per second.
type BaudRate int

// LineEnding is appended to text sent to the device.
type LineEnding string

// ProtocolSerial marks a port reachable over a serial line.
const ProtocolSerial = "serial"

// Board identifies a board type.
type Board struct {
	Name string `mapstructure:"name" yaml:"name" json:"name"`
	FQBN string `mapstructure:"fqbn" yaml:"fqbn" json:"fqbn,omitempty"`
}

// Port identifies a host port.
type Port struct {
	Address  string `mapstructure:"address" yaml:"address" json:"address"`
	Protocol string `mapstructure:"protocol" yaml:"protocol" json:"protocol"`
}

// DeviceSelection is the user's board and port choice. Either side may be nil.
type DeviceSelection struct {
	Board *Board
	Port  *Port
}

// AttachedDevice is a device currently visible to the host.
type AttachedDevice struct {
	Board Board
	Port  Port
	// Description is informational only and never compared.
	Description string
}

// IsSerial reports whether the device can be opened as a serial monitor.
func (d AttachedDevice) IsSerial() bool {
	return d.Port.Protocol == ProtocolSerial
}

// MonitorConfig is the request handed to the transport on connect.
type MonitorConfig struct {
	BaudRate BaudRate
	Board    Board
	Port     Port
}

// ReadEvent is one fragment of text read from a connection.
type ReadEvent struct {
	ConnectionID ConnectionID
	Data         string
}

// FramedLine is one line reconstructed from the incoming stream.
// Text keeps its terminating newline when present.
type FramedLine struct {
	Stamp time.Time
	Text  string
}

// Stamped reports whether the line carries a timestamp.
func (l FramedLine) Stamped() bool {
	return !l.Stamp.IsZero()
}

// Prefix returns the formatted timestamp prefix, or "" when unstamped.
func (l FramedLine) Prefix() string {
	if l.Stamp.IsZero() {
		return ""
	}
	return FormatTimestamp(l.Stamp) + " -> "
}

// String renders the line as displayed.
func (l FramedLine) String() string {
	return l.Prefix() + l.Text
}

// FormatTimestamp renders t as H:M:ss.lll (hours and minutes unpadded).
func FormatTimestamp(t time.Time) string {
	return fmt.Sprintf("%d:%d:%02d.%03d", t.Hour(), t.Minute(), t.Second(), t.Nanosecond()/int(time.Millisecond))
}
