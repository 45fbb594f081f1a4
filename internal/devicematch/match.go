// Package devicematch decides whether a board and port selection refers to a
// device that is currently attached.
package devicematch

import "pkt.systems/serialmon/schema"

// Matches reports whether sel has both a board and a port and at least one
// serial-capable device in attached has the same board and port identity.
func Matches(sel schema.DeviceSelection, attached []schema.AttachedDevice) bool {
	_, ok := Find(sel, attached)
	return ok
}

// Find returns the first attached device matching sel.
func Find(sel schema.DeviceSelection, attached []schema.AttachedDevice) (schema.AttachedDevice, bool) {
	if sel.Board == nil || sel.Port == nil {
		return schema.AttachedDevice{}, false
	}
	for _, device := range attached {
		if !device.IsSerial() {
			continue
		}
		if SameBoard(*sel.Board, device.Board) && SamePort(*sel.Port, device.Port) {
			return device, true
		}
	}
	return schema.AttachedDevice{}, false
}

// Check classifies why sel cannot be connected. It returns nil when a
// matching device is attached.
func Check(sel schema.DeviceSelection, attached []schema.AttachedDevice) error {
	switch {
	case sel.Board == nil:
		return schema.ErrNoBoardSelected
	case sel.Port == nil:
		return schema.ErrNoPortSelected
	case !Matches(sel, attached):
		return schema.ErrDeviceUnavailable
	}
	return nil
}

// SameBoard compares board identity. The FQBN decides when both sides carry
// one; otherwise the names must match.
func SameBoard(a, b schema.Board) bool {
	if a.FQBN != "" && b.FQBN != "" {
		return a.FQBN == b.FQBN
	}
	return a.Name == b.Name
}

// SamePort compares port identity by address and protocol.
func SamePort(a, b schema.Port) bool {
	return a.Address == b.Address && a.Protocol == b.Protocol
}
