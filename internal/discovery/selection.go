package discovery

import (
	"context"
	"strings"
	"sync"

	"pkt.systems/serialmon/internal/devicematch"
	"pkt.systems/serialmon/schema"
)

// Selection holds the board and port the user picked.
type Selection struct {
	mu      sync.Mutex
	sel     schema.DeviceSelection
	subs    map[int]func(schema.DeviceSelection)
	nextSub int
}

// NewSelection builds a selection from optional board and port values. An
// empty board name with an empty FQBN, or an empty address, leaves that part
// unselected.
func NewSelection(boardName, fqbn, address string) *Selection {
	s := &Selection{subs: make(map[int]func(schema.DeviceSelection))}
	s.sel = buildSelection(boardName, fqbn, address)
	return s
}

func buildSelection(boardName, fqbn, address string) schema.DeviceSelection {
	var sel schema.DeviceSelection
	boardName = strings.TrimSpace(boardName)
	fqbn = strings.TrimSpace(fqbn)
	if boardName != "" || fqbn != "" {
		if boardName == "" {
			boardName = fqbn
		}
		sel.Board = &schema.Board{Name: boardName, FQBN: fqbn}
	}
	if address = strings.TrimSpace(address); address != "" {
		sel.Port = &schema.Port{Address: address, Protocol: schema.ProtocolSerial}
	}
	return sel
}

// Selection returns a copy of the current selection.
func (s *Selection) Selection() schema.DeviceSelection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copySelection(s.sel)
}

// Set replaces the selection and notifies subscribers when it changed.
func (s *Selection) Set(sel schema.DeviceSelection) {
	sel = copySelection(sel)
	s.mu.Lock()
	if sameSelection(s.sel, sel) {
		s.mu.Unlock()
		return
	}
	s.sel = sel
	subs := make([]func(schema.DeviceSelection), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()
	for _, fn := range subs {
		fn(copySelection(sel))
	}
}

// OnChange subscribes fn to selection changes.
func (s *Selection) OnChange(fn func(schema.DeviceSelection)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

func copySelection(sel schema.DeviceSelection) schema.DeviceSelection {
	var out schema.DeviceSelection
	if sel.Board != nil {
		board := *sel.Board
		out.Board = &board
	}
	if sel.Port != nil {
		port := *sel.Port
		out.Port = &port
	}
	return out
}

func sameSelection(a, b schema.DeviceSelection) bool {
	if (a.Board == nil) != (b.Board == nil) || (a.Port == nil) != (b.Port == nil) {
		return false
	}
	if a.Board != nil && *a.Board != *b.Board {
		return false
	}
	if a.Port != nil && *a.Port != *b.Port {
		return false
	}
	return true
}

// Service combines a Scanner with a Selection.
type Service struct {
	scanner   *Scanner
	selection *Selection
}

// NewService constructs a Service.
func NewService(scanner *Scanner, selection *Selection) *Service {
	if selection == nil {
		selection = NewSelection("", "", "")
	}
	return &Service{scanner: scanner, selection: selection}
}

// AttachedDevices lists the devices currently attached.
func (s *Service) AttachedDevices(ctx context.Context) ([]schema.AttachedDevice, error) {
	return s.scanner.AttachedDevices(ctx)
}

// Selection returns the current board and port selection.
func (s *Service) Selection() schema.DeviceSelection {
	return s.selection.Selection()
}

// Selector exposes the mutable selection.
func (s *Service) Selector() *Selection {
	return s.selection
}

// Scanner exposes the device scanner.
func (s *Service) Scanner() *Scanner {
	return s.scanner
}

// AutoSelectBoard fills in the board of a port-only selection from the
// attached device on that port. It returns false when nothing changed.
func (s *Service) AutoSelectBoard(ctx context.Context) (bool, error) {
	sel := s.selection.Selection()
	if sel.Board != nil || sel.Port == nil {
		return false, nil
	}
	attached, err := s.scanner.AttachedDevices(ctx)
	if err != nil {
		return false, err
	}
	for _, device := range attached {
		if device.IsSerial() && devicematch.SamePort(*sel.Port, device.Port) {
			board := device.Board
			sel.Board = &board
			s.selection.Set(sel)
			return true, nil
		}
	}
	return false, nil
}
