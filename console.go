// Package serialmon composes a serial console from its transport, device
// discovery, session persistence and display event bus.
package serialmon

import (
	"context"
	"errors"
	"sync"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/serialmon/core"
	"pkt.systems/serialmon/internal/discovery"
	"pkt.systems/serialmon/internal/eventbus"
	"pkt.systems/serialmon/internal/persist"
	"pkt.systems/serialmon/internal/session"
	"pkt.systems/serialmon/schema"
)

// Console runs one serial monitor together with device watching.
type Console interface {
	Start(ctx context.Context) error
	Wait() error
	Stop(ctx context.Context) error
	Monitor() *core.Monitor
	Bus() *eventbus.Bus
	Discovery() *discovery.Service
}

// ConsoleConfig configures the compositor.
type ConsoleConfig struct {
	Monitor core.Config
	// StateDir enables session persistence when set.
	StateDir  string
	Scanner   discovery.ScannerConfig
	Watcher   WatchConfig
	Selection SelectionConfig
	// Defaults seeds the session before any stored state is restored.
	Defaults session.State
}

// WatchConfig controls hot-plug watching. An empty Dir disables it.
type WatchConfig struct {
	Dir      string
	Debounce time.Duration
}

// SelectionConfig is the initial board and port selection.
type SelectionConfig struct {
	BoardName string
	FQBN      string
	Port      string
	// AutoBoard selects the board attached on Port when no board is named.
	AutoBoard bool
}

// ConsoleDeps captures dependencies required to build a console.
type ConsoleDeps struct {
	Transport core.Transport
	// EventSink receives events in addition to the bus.
	EventSink core.EventSink
	// Store overrides the on-disk session store.
	Store  core.SessionStore
	Logger pslog.Logger
}

// New constructs a Console.
func New(cfg ConsoleConfig, deps ConsoleDeps) (Console, error) {
	if deps.Transport == nil {
		return nil, errors.New("transport dependency is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}

	scanCfg := cfg.Scanner
	if scanCfg.Logger == nil {
		scanCfg.Logger = logger
	}
	scanner, err := discovery.NewScanner(scanCfg)
	if err != nil {
		return nil, err
	}
	selection := discovery.NewSelection(cfg.Selection.BoardName, cfg.Selection.FQBN, cfg.Selection.Port)
	disc := discovery.NewService(scanner, selection)

	store := deps.Store
	if store == nil && cfg.StateDir != "" {
		fileStore, err := persist.NewStoreWithLogger(cfg.StateDir, logger)
		if err != nil {
			return nil, err
		}
		store = fileStore
	}

	bus := eventbus.New(logger)
	var sink core.EventSink = bus
	if deps.EventSink != nil {
		sink = eventFanout{sinks: []core.EventSink{bus, deps.EventSink}}
	}

	defaults := cfg.Defaults
	if defaults == (session.State{}) {
		defaults = session.DefaultState()
	}
	monitor, err := core.NewMonitor(cfg.Monitor, core.MonitorDeps{
		Transport: deps.Transport,
		Discovery: disc,
		EventSink: sink,
		Store:     store,
		Session:   session.NewFromState(defaults),
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	var watcher *discovery.Watcher
	if cfg.Watcher.Dir != "" {
		watcher, err = discovery.NewWatcher(discovery.WatcherConfig{
			Dir:      cfg.Watcher.Dir,
			Covers:   scanner.Covers,
			Debounce: cfg.Watcher.Debounce,
			Logger:   logger,
		})
		if err != nil {
			logger.Warn("discovery watch unavailable", "dir", cfg.Watcher.Dir, "err", err)
			watcher = nil
		}
	}

	return &console{
		cfg:       cfg,
		monitor:   monitor,
		bus:       bus,
		discovery: disc,
		watcher:   watcher,
		logger:    logger,
	}, nil
}

type console struct {
	cfg       ConsoleConfig
	monitor   *core.Monitor
	bus       *eventbus.Bus
	discovery *discovery.Service
	watcher   *discovery.Watcher
	logger    pslog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	errCh   chan error
	runDone chan struct{}
	started bool
}

func (c *console) Monitor() *core.Monitor        { return c.monitor }
func (c *console) Bus() *eventbus.Bus            { return c.bus }
func (c *console) Discovery() *discovery.Service { return c.discovery }

func (c *console) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		c.logger.Warn("console start rejected", "reason", "already started")
		return errors.New("console already started")
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.errCh = make(chan error, 2)
	c.runDone = make(chan struct{})
	c.started = true
	runCtx := c.ctx
	c.mu.Unlock()

	log := c.logger
	log.Info("console start", "monitor", c.monitor.ID(), "watch", c.watcher != nil, "persist", c.cfg.StateDir != "")

	if c.cfg.Selection.AutoBoard {
		if changed, err := c.discovery.AutoSelectBoard(runCtx); err != nil {
			log.Warn("console board auto-select failed", "err", err)
		} else if changed {
			sel := c.discovery.Selection()
			log.Info("console board auto-selected", "board", sel.Board.Name, "fqbn", sel.Board.FQBN)
		}
	}

	go func() {
		defer close(c.runDone)
		if err := c.monitor.Run(runCtx); err != nil {
			log.Error("monitor failed", "err", err)
			c.errCh <- err
		}
	}()

	cancelSel := c.discovery.Selector().OnChange(func(schema.DeviceSelection) {
		if err := c.monitor.SelectionChanged(runCtx); err != nil && runCtx.Err() == nil {
			log.Warn("console selection change failed", "err", err)
		}
	})
	go func() {
		<-runCtx.Done()
		cancelSel()
	}()

	if c.watcher != nil {
		go func() {
			err := c.watcher.Run(runCtx, func() {
				if err := c.monitor.DevicesChanged(runCtx); err != nil && runCtx.Err() == nil {
					log.Warn("console device change failed", "err", err)
				}
			})
			if err != nil {
				log.Error("discovery watch failed", "err", err)
				c.errCh <- err
			}
		}()
	}
	return nil
}

func (c *console) Wait() error {
	c.mu.Lock()
	ctx := c.ctx
	errCh := c.errCh
	runDone := c.runDone
	started := c.started
	c.mu.Unlock()
	if !started {
		return errors.New("console not started")
	}

	select {
	case <-ctx.Done():
		<-runDone
		return nil
	case err := <-errCh:
		if err != nil {
			c.logger.Error("console stopped", "err", err)
			_ = c.Stop(context.Background())
			return err
		}
		return nil
	}
}

func (c *console) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel := c.cancel
	runDone := c.runDone
	started := c.started
	c.mu.Unlock()
	if !started {
		return nil
	}
	c.logger.Info("console stop requested")
	if cancel != nil {
		cancel()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-ctx.Done():
		c.logger.Warn("console stop timed out", "err", ctx.Err())
		return ctx.Err()
	case <-runDone:
		c.logger.Info("console stopped")
		return nil
	}
}
