package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"pkt.systems/serialmon/schema"
)

var (
	testBoard = schema.Board{Name: "Arduino Uno", FQBN: "arduino:avr:uno"}
	testPort  = schema.Port{Address: "/dev/ttyACM0", Protocol: schema.ProtocolSerial}
	otherPort = schema.Port{Address: "/dev/ttyACM1", Protocol: schema.ProtocolSerial}
)

// journal records transport calls and sink events in one ordered log.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(format string, args ...any) {
	j.mu.Lock()
	j.entries = append(j.entries, fmt.Sprintf(format, args...))
	j.mu.Unlock()
}

func (j *journal) snapshot() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

type fakeTransport struct {
	log *journal

	mu             sync.Mutex
	connectGate    chan struct{}
	disconnectGate chan struct{}
	connectErr     error
	disconnectErr  error
	sendErr        error
	delay          func() time.Duration
	sent           []string
	open           map[schema.ConnectionID]bool
	outstanding    int
	maxOutstanding int
	maxOpen        int
	unknownClose   int
	nextID         int
	readers        map[int]func(schema.ReadEvent)
	nextReader     int
}

func newFakeTransport(log *journal) *fakeTransport {
	return &fakeTransport{
		log:     log,
		open:    make(map[schema.ConnectionID]bool),
		readers: make(map[int]func(schema.ReadEvent)),
	}
}

func (f *fakeTransport) begin() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outstanding++
	if f.outstanding > f.maxOutstanding {
		f.maxOutstanding = f.outstanding
	}
	if f.delay != nil {
		return f.delay()
	}
	return 0
}

func (f *fakeTransport) end() {
	f.mu.Lock()
	f.outstanding--
	f.mu.Unlock()
}

func (f *fakeTransport) Connect(ctx context.Context, cfg schema.MonitorConfig) (schema.ConnectionID, error) {
	delay := f.begin()
	defer f.end()
	f.log.add("connect %s %d", cfg.Port.Address, cfg.BaudRate)
	f.mu.Lock()
	gate := f.connectGate
	f.mu.Unlock()
	if err := wait(ctx, gate, delay); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return "", f.connectErr
	}
	f.nextID++
	id := schema.ConnectionID(fmt.Sprintf("conn-%d", f.nextID))
	f.open[id] = true
	if len(f.open) > f.maxOpen {
		f.maxOpen = len(f.open)
	}
	return id, nil
}

func (f *fakeTransport) Disconnect(ctx context.Context, id schema.ConnectionID) error {
	delay := f.begin()
	defer f.end()
	f.log.add("disconnect %s", id)
	f.mu.Lock()
	gate := f.disconnectGate
	f.mu.Unlock()
	if err := wait(ctx, gate, delay); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open[id] {
		f.unknownClose++
	}
	delete(f.open, id)
	return f.disconnectErr
}

func (f *fakeTransport) Send(_ context.Context, id schema.ConnectionID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	if !f.open[id] {
		return schema.ErrUnknownConnection
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeTransport) OnRead(fn func(schema.ReadEvent)) func() {
	f.mu.Lock()
	id := f.nextReader
	f.nextReader++
	f.readers[id] = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.readers, id)
		f.mu.Unlock()
	}
}

func (f *fakeTransport) emit(id schema.ConnectionID, data string) {
	f.mu.Lock()
	readers := make([]func(schema.ReadEvent), 0, len(f.readers))
	for _, fn := range f.readers {
		readers = append(readers, fn)
	}
	f.mu.Unlock()
	for _, fn := range readers {
		fn(schema.ReadEvent{ConnectionID: id, Data: data})
	}
}

func (f *fakeTransport) stats() (maxOutstanding, maxOpen, open, unknownClose int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxOutstanding, f.maxOpen, len(f.open), f.unknownClose
}

func (f *fakeTransport) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func wait(ctx context.Context, gate chan struct{}, delay time.Duration) error {
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

type fakeDiscovery struct {
	mu       sync.Mutex
	sel      schema.DeviceSelection
	attached []schema.AttachedDevice
	err      error
}

func newFakeDiscovery(board *schema.Board, port *schema.Port, attached ...schema.AttachedDevice) *fakeDiscovery {
	return &fakeDiscovery{sel: schema.DeviceSelection{Board: board, Port: port}, attached: attached}
}

func (d *fakeDiscovery) AttachedDevices(context.Context) ([]schema.AttachedDevice, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	return append([]schema.AttachedDevice(nil), d.attached...), nil
}

func (d *fakeDiscovery) Selection() schema.DeviceSelection {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sel
}

func (d *fakeDiscovery) set(board *schema.Board, port *schema.Port, attached ...schema.AttachedDevice) {
	d.mu.Lock()
	d.sel = schema.DeviceSelection{Board: board, Port: port}
	d.attached = attached
	d.mu.Unlock()
}

type recordingSink struct {
	log *journal

	mu       sync.Mutex
	messages []schema.MessageEvent
	lines    []schema.FramedLine
	states   []schema.StateEvent
}

func (s *recordingSink) OnLines(event schema.LinesEvent) {
	s.mu.Lock()
	s.lines = append(s.lines, event.Lines...)
	s.mu.Unlock()
}

func (s *recordingSink) OnMessage(event schema.MessageEvent) {
	s.mu.Lock()
	s.messages = append(s.messages, event)
	s.mu.Unlock()
}

func (s *recordingSink) OnState(event schema.StateEvent) {
	s.mu.Lock()
	s.states = append(s.states, event)
	s.mu.Unlock()
}

func (s *recordingSink) OnClear(schema.ClearEvent) {
	s.log.add("clear")
}

func (s *recordingSink) messageTexts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.messages))
	for _, msg := range s.messages {
		out = append(out, string(msg.Level)+": "+msg.Text)
	}
	return out
}

type memoryStore struct {
	mu    sync.Mutex
	blobs map[schema.MonitorID][]byte
	saves int
}

func (s *memoryStore) Load(id schema.MonitorID) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blobs[id]
	return data, ok, nil
}

func (s *memoryStore) Save(id schema.MonitorID, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blobs == nil {
		s.blobs = make(map[schema.MonitorID][]byte)
	}
	s.blobs[id] = append([]byte(nil), data...)
	s.saves++
	return nil
}

type harness struct {
	t         *testing.T
	log       *journal
	transport *fakeTransport
	discovery *fakeDiscovery
	sink      *recordingSink
	monitor   *Monitor
	ctx       context.Context
	stop      func()
}

func newHarness(t *testing.T, discovery *fakeDiscovery, deps MonitorDeps) *harness {
	t.Helper()
	log := &journal{}
	h := &harness{
		t:         t,
		log:       log,
		transport: newFakeTransport(log),
		discovery: discovery,
		sink:      &recordingSink{log: log},
		ctx:       context.Background(),
	}
	deps.Transport = h.transport
	deps.Discovery = discovery
	deps.EventSink = h.sink
	m, err := NewMonitor(Config{ID: "test-monitor"}, deps)
	if err != nil {
		t.Fatalf("new monitor: %v", err)
	}
	h.monitor = m
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	var once sync.Once
	h.stop = func() {
		once.Do(func() {
			cancel()
			select {
			case err := <-done:
				if err != nil {
					t.Errorf("run: %v", err)
				}
			case <-time.After(5 * time.Second):
				t.Errorf("monitor did not stop")
			}
		})
	}
	t.Cleanup(h.stop)
	return h
}

func newConnectedHarness(t *testing.T) *harness {
	t.Helper()
	board, port := testBoard, testPort
	h := newHarness(t, newFakeDiscovery(&board, &port, schema.AttachedDevice{Board: testBoard, Port: testPort}), MonitorDeps{})
	h.must(h.monitor.Attach(h.ctx))
	h.waitState(schema.StateConnected)
	return h
}

func (h *harness) must(err error) {
	h.t.Helper()
	if err != nil {
		h.t.Fatalf("unexpected error: %v", err)
	}
}

func (h *harness) status() Status {
	h.t.Helper()
	status, err := h.monitor.Status(h.ctx)
	if err != nil {
		h.t.Fatalf("status: %v", err)
	}
	return status
}

func (h *harness) waitState(want schema.State) Status {
	h.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		status := h.status()
		if status.State == want {
			return status
		}
		if time.Now().After(deadline) {
			h.t.Fatalf("timed out waiting for state %s, last %s", want, status.State)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func (h *harness) waitLines(n int) ConsoleView {
	h.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		view, err := h.monitor.Lines(h.ctx, 0)
		if err != nil {
			h.t.Fatalf("lines: %v", err)
		}
		if view.TotalLines >= n {
			return view
		}
		if time.Now().After(deadline) {
			h.t.Fatalf("timed out waiting for %d lines, have %d", n, view.TotalLines)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

var errBoom = errors.New("boom")

func (f *fakeTransport) configure(fn func(*fakeTransport)) {
	f.mu.Lock()
	fn(f)
	f.mu.Unlock()
}
