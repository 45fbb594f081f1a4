package serialmon

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"pkt.systems/serialmon/core"
	"pkt.systems/serialmon/internal/discovery"
	"pkt.systems/serialmon/internal/eventbus"
	"pkt.systems/serialmon/schema"
)

type stubTransport struct {
	mu     sync.Mutex
	open   map[schema.ConnectionID]schema.MonitorConfig
	closed int
	next   int
}

func (s *stubTransport) Connect(_ context.Context, cfg schema.MonitorConfig) (schema.ConnectionID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open == nil {
		s.open = make(map[schema.ConnectionID]schema.MonitorConfig)
	}
	s.next++
	id := schema.ConnectionID("stub-" + string(rune('0'+s.next)))
	s.open[id] = cfg
	return id, nil
}

func (s *stubTransport) Disconnect(_ context.Context, id schema.ConnectionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.open, id)
	s.closed++
	return nil
}

func (s *stubTransport) Send(context.Context, schema.ConnectionID, string) error { return nil }

func (s *stubTransport) OnRead(func(schema.ReadEvent)) func() { return func() {} }

func (s *stubTransport) openCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.open)
}

type countingSink struct {
	mu     sync.Mutex
	states int
}

func (c *countingSink) OnLines(schema.LinesEvent)     {}
func (c *countingSink) OnMessage(schema.MessageEvent) {}
func (c *countingSink) OnClear(schema.ClearEvent)     {}
func (c *countingSink) OnState(schema.StateEvent) {
	c.mu.Lock()
	c.states++
	c.mu.Unlock()
}

func newTestConsole(t *testing.T, transport core.Transport, sink core.EventSink) (Console, string, string) {
	t.Helper()
	dev := t.TempDir()
	state := t.TempDir()
	port := filepath.Join(dev, "ttyACM0")
	if err := os.WriteFile(port, nil, 0o600); err != nil {
		t.Fatalf("write device: %v", err)
	}
	console, err := New(ConsoleConfig{
		Monitor:   core.Config{ID: "bench"},
		StateDir:  state,
		Scanner:   discovery.ScannerConfig{Patterns: []string{filepath.Join(dev, "ttyACM*")}, SysfsRoot: t.TempDir()},
		Watcher:   WatchConfig{Dir: dev, Debounce: 20 * time.Millisecond},
		Selection: SelectionConfig{Port: port, AutoBoard: true},
	}, ConsoleDeps{Transport: transport, EventSink: sink})
	if err != nil {
		t.Fatalf("new console: %v", err)
	}
	return console, dev, state
}

func waitFor(t *testing.T, events <-chan eventbus.Event, want schema.State) eventbus.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == eventbus.EventState && ev.State.To == want {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for state %s", want)
		}
	}
}

func TestConsoleConnectsAutoSelectedBoard(t *testing.T) {
	transport := &stubTransport{}
	sink := &countingSink{}
	console, dev, _ := newTestConsole(t, transport, sink)
	events, cancel := console.Bus().Subscribe("bench")
	defer cancel()

	ctx := context.Background()
	if err := console.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := console.Monitor().Attach(ctx); err != nil {
		t.Fatalf("attach: %v", err)
	}
	ev := waitFor(t, events, schema.StateConnected)
	if ev.State.Config.Board != discovery.GenericBoard {
		t.Fatalf("expected auto-selected generic board, got %+v", ev.State.Config.Board)
	}
	if ev.State.Config.Port.Address != filepath.Join(dev, "ttyACM0") {
		t.Fatalf("unexpected port %+v", ev.State.Config.Port)
	}

	stopCtx, stopCancel := context.WithTimeout(ctx, 2*time.Second)
	defer stopCancel()
	if err := console.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := console.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if transport.openCount() != 0 {
		t.Fatalf("expected stop to close the connection")
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.states == 0 {
		t.Fatalf("expected extra sink to receive state events")
	}
}

func TestConsoleReconnectsOnHotplug(t *testing.T) {
	transport := &stubTransport{}
	console, dev, _ := newTestConsole(t, transport, nil)
	port := filepath.Join(dev, "ttyACM0")
	if err := os.Remove(port); err != nil {
		t.Fatalf("remove device: %v", err)
	}
	events, cancel := console.Bus().Subscribe("bench")
	defer cancel()
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	if err := console.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	// The board cannot be auto-selected while the port is absent.
	board := discovery.GenericBoard
	sel := console.Discovery().Selection()
	sel.Board = &board
	console.Discovery().Selector().Set(sel)
	if err := console.Monitor().Attach(ctx); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := os.WriteFile(port, nil, 0o600); err != nil {
		t.Fatalf("write device: %v", err)
	}
	waitFor(t, events, schema.StateConnected)
}

func TestConsolePersistsSession(t *testing.T) {
	transport := &stubTransport{}
	console, _, state := newTestConsole(t, transport, nil)
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	if err := console.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := console.Monitor().SetTimestamp(ctx, true); err != nil {
		t.Fatalf("set timestamp: %v", err)
	}
	if _, err := os.Stat(filepath.Join(state, "bench.session")); err != nil {
		t.Fatalf("expected session file: %v", err)
	}
}

func TestNewRequiresTransport(t *testing.T) {
	if _, err := New(ConsoleConfig{}, ConsoleDeps{}); err == nil {
		t.Fatalf("expected transport error")
	}
}
