package core

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/serialmon/internal/devicematch"
	"pkt.systems/serialmon/internal/framer"
	"pkt.systems/serialmon/internal/logx"
	"pkt.systems/serialmon/internal/session"
	"pkt.systems/serialmon/schema"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultDisconnectTimeout = 5 * time.Second
	defaultSendTimeout       = 5 * time.Second
	defaultDiscoveryTimeout  = 5 * time.Second
	defaultQueueDepth        = 256
)

// Config tunes a Monitor.
type Config struct {
	ID                schema.MonitorID
	BufferMaxLines    int
	MaxPendingBytes   int
	HistoryMax        int
	ConnectTimeout    time.Duration
	DisconnectTimeout time.Duration
	SendTimeout       time.Duration
	DiscoveryTimeout  time.Duration
	QueueDepth        int
}

// Status describes the monitor's connection state.
type Status struct {
	State        schema.State
	ConnectionID schema.ConnectionID
	Config       schema.MonitorConfig
	Visible      bool
}

type settleKind int

const (
	settleConnect settleKind = iota
	settleDisconnect
)

// settlement is the outcome of a connect or disconnect run off the loop.
type settlement struct {
	kind settleKind
	cfg  schema.MonitorConfig
	id   schema.ConnectionID
	err  error
}

// Monitor is one serial console. All state below the queue is owned by the
// goroutine running Run; public methods hand work to it.
type Monitor struct {
	cfg       Config
	id        schema.MonitorID
	transport Transport
	discovery Discovery
	sink      EventSink
	store     SessionStore
	model     *session.Model
	logger    pslog.Logger

	queue   chan func()
	settled chan settlement
	done    chan struct{}
	started atomic.Bool

	runCtx  context.Context
	lc      *lifecycle
	framer  *framer.Framer
	console *console
	history *historyBuffer
	visible bool
	// retry reconnects once the in-flight operation settles.
	retry bool
	// pendingBaud is applied once the in-flight operation settles.
	pendingBaud *schema.BaudRate
	closing     bool
}

// NewMonitor constructs a Monitor. Call Run to start processing events.
func NewMonitor(cfg Config, deps MonitorDeps) (*Monitor, error) {
	if cfg.ID == "" {
		cfg.ID = "serial-monitor"
	}
	if err := schema.ValidateMonitorID(cfg.ID); err != nil {
		return nil, err
	}
	if deps.Transport == nil {
		return nil, errors.New("transport dependency is required")
	}
	if deps.Discovery == nil {
		return nil, errors.New("discovery dependency is required")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.DisconnectTimeout <= 0 {
		cfg.DisconnectTimeout = defaultDisconnectTimeout
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if cfg.DiscoveryTimeout <= 0 {
		cfg.DiscoveryTimeout = defaultDiscoveryTimeout
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = defaultQueueDepth
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	logger = logger.With("monitor", cfg.ID)
	sink := deps.EventSink
	if sink == nil {
		sink = nopSink{}
	}
	model := deps.Session
	if model == nil {
		model = session.New()
	}

	m := &Monitor{
		cfg:       cfg,
		id:        cfg.ID,
		transport: deps.Transport,
		discovery: deps.Discovery,
		sink:      sink,
		store:     deps.Store,
		model:     model,
		logger:    logger,
		queue:     make(chan func(), cfg.QueueDepth),
		settled:   make(chan settlement),
		done:      make(chan struct{}),
		console:   newConsole(cfg.BufferMaxLines),
		history:   newHistory(cfg.HistoryMax),
	}
	m.lc = newLifecycle(m.onTransition)
	opts := []framer.Option{
		framer.WithTimestamp(model.Timestamp),
		framer.WithMaxPending(cfg.MaxPendingBytes),
	}
	if deps.Clock != nil {
		opts = append(opts, framer.WithClock(deps.Clock))
	}
	m.framer = framer.New(opts...)

	if m.store != nil {
		m.loadSession()
		m.loadHistory()
		model.OnChange(m.persistSession)
	}
	return m, nil
}

// ID returns the monitor identifier.
func (m *Monitor) ID() schema.MonitorID {
	return m.id
}

// Session returns the shared settings model.
func (m *Monitor) Session() *session.Model {
	return m.model
}

// Run processes events until ctx is canceled. On return any open connection
// has been closed and every in-flight transport call has settled.
func (m *Monitor) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.New("missing context")
	}
	if !m.started.CompareAndSwap(false, true) {
		return errors.New("monitor already running")
	}
	m.runCtx = logx.ContextWithMonitorLogger(ctx, m.logger, m.id)
	cancelRead := m.transport.OnRead(m.enqueueRead)
	defer cancelRead()

	m.logger.Info("monitor start", "baud", m.model.BaudRate())
	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			m.logger.Info("monitor stopped")
			return nil
		case fn := <-m.queue:
			fn()
		case s := <-m.settled:
			m.settle(s)
		}
	}
}

// Attach marks the console visible, clears it and tries to connect.
func (m *Monitor) Attach(ctx context.Context) error {
	return m.do(ctx, func() {
		m.visible = true
		m.clearConsole()
		if m.lc.state == schema.StateDisconnecting {
			m.retry = true
		}
		m.attemptConnect("attach")
	})
}

// Detach marks the console hidden and closes any live connection. A connect
// still in flight is closed as soon as it settles.
func (m *Monitor) Detach(ctx context.Context) error {
	return m.do(ctx, func() {
		m.visible = false
		m.retry = false
		m.framer.Reset()
		if m.lc.state == schema.StateConnected {
			m.startDisconnect("detach")
		}
	})
}

// DevicesChanged reacts to an updated attached-device list.
func (m *Monitor) DevicesChanged(ctx context.Context) error {
	return m.do(ctx, func() { m.reconsider("devices") })
}

// SelectionChanged reacts to a new board/port selection. A live connection
// to a different board or port is closed and re-opened on the new target.
func (m *Monitor) SelectionChanged(ctx context.Context) error {
	return m.do(ctx, func() {
		if m.lc.state == schema.StateConnected && !m.targetsSelection(m.lc.config) {
			m.retry = m.visible
			m.startDisconnect("selection")
			return
		}
		m.reconsider("selection")
	})
}

// ChangeBaudRate disconnects, applies the new rate, clears the console and
// reconnects, in that order. Unsupported rates fall back to the default.
func (m *Monitor) ChangeBaudRate(ctx context.Context, rate schema.BaudRate) error {
	rate = schema.NormalizeBaudRate(rate)
	return m.do(ctx, func() {
		switch m.lc.state {
		case schema.StateIdle:
			m.applyBaudRate(rate)
			if m.visible {
				m.attemptConnect("baud")
			}
		case schema.StateConnected:
			m.pendingBaud = &rate
			m.startDisconnect("baud")
		default:
			m.pendingBaud = &rate
		}
	})
}

// SetLineEnding changes the suffix appended to sent text.
func (m *Monitor) SetLineEnding(ctx context.Context, eol schema.LineEnding) error {
	return m.do(ctx, func() { m.model.SetLineEnding(eol) })
}

// SetTimestamp toggles timestamps on lines framed from now on.
func (m *Monitor) SetTimestamp(ctx context.Context, enabled bool) error {
	return m.do(ctx, func() { m.model.SetTimestamp(enabled) })
}

// SetAutoscroll toggles display follow mode.
func (m *Monitor) SetAutoscroll(ctx context.Context, enabled bool) error {
	return m.do(ctx, func() {
		m.model.SetAutoscroll(enabled)
		if enabled {
			m.console.ResetScroll()
		}
	})
}

// Send writes text plus the configured line ending to the device.
func (m *Monitor) Send(ctx context.Context, text string) error {
	var sendErr error
	if err := m.do(ctx, func() { sendErr = m.send(text) }); err != nil {
		return err
	}
	return sendErr
}

// ClearConsole empties the pending fragment and the displayed lines together.
func (m *Monitor) ClearConsole(ctx context.Context) error {
	return m.do(ctx, m.clearConsole)
}

// Scroll moves the console view; positive delta shows older lines.
func (m *Monitor) Scroll(ctx context.Context, delta, limit int) error {
	return m.do(ctx, func() { m.console.Scroll(delta, limit) })
}

// Lines returns a view of the console limited to the viewport height.
func (m *Monitor) Lines(ctx context.Context, limit int) (ConsoleView, error) {
	var view ConsoleView
	err := m.do(ctx, func() { view = m.console.Snapshot(limit) })
	return view, err
}

// Status returns the current connection state.
func (m *Monitor) Status(ctx context.Context) (Status, error) {
	var status Status
	err := m.do(ctx, func() {
		status = Status{
			State:        m.lc.state,
			ConnectionID: m.lc.handle,
			Config:       m.lc.config,
			Visible:      m.visible,
		}
	})
	return status, err
}

// History returns previously sent text, oldest first.
func (m *Monitor) History(ctx context.Context) ([]string, error) {
	var entries []string
	err := m.do(ctx, func() { entries = m.history.Entries() })
	return entries, err
}

// StoreState returns the session settings as an opaque blob.
func (m *Monitor) StoreState() ([]byte, error) {
	return m.model.Store().MarshalBinary()
}

// RestoreState replaces the session settings with a blob from StoreState.
func (m *Monitor) RestoreState(ctx context.Context, blob []byte) error {
	var state session.State
	if err := state.UnmarshalBinary(blob); err != nil {
		return err
	}
	return m.do(ctx, func() { m.model.Restore(state) })
}

// do runs fn on the event loop and waits for it to finish.
func (m *Monitor) do(ctx context.Context, fn func()) error {
	if ctx == nil {
		return errors.New("missing context")
	}
	finished := make(chan struct{})
	if !m.post(ctx, func() {
		fn()
		close(finished)
	}) {
		if err := ctx.Err(); err != nil {
			return err
		}
		return schema.ErrMonitorClosed
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return schema.ErrMonitorClosed
	}
}

func (m *Monitor) post(ctx context.Context, fn func()) bool {
	select {
	case <-m.done:
		return false
	default:
	}
	select {
	case m.queue <- fn:
		return true
	case <-ctx.Done():
		return false
	case <-m.done:
		return false
	}
}

func (m *Monitor) enqueueRead(event schema.ReadEvent) {
	m.post(context.Background(), func() { m.handleRead(event) })
}

func (m *Monitor) handleRead(event schema.ReadEvent) {
	if m.lc.state != schema.StateConnected || event.ConnectionID != m.lc.handle {
		m.logger.Trace("monitor read dropped", "connection", event.ConnectionID, "bytes", len(event.Data))
		return
	}
	lines := m.framer.Feed(event.Data)
	if len(lines) == 0 {
		return
	}
	autoscroll := m.model.Autoscroll()
	m.console.Append(autoscroll, lines...)
	m.sink.OnLines(schema.LinesEvent{MonitorID: m.id, Lines: lines, Autoscroll: autoscroll})
}

func (m *Monitor) send(text string) error {
	if m.lc.state != schema.StateConnected {
		m.message(schema.MessageWarn, "Not connected. Select a board and a port to send.")
		return schema.ErrNotConnected
	}
	payload := text + string(m.model.LineEnding())
	ctx, cancel := context.WithTimeout(m.runCtx, m.cfg.SendTimeout)
	defer cancel()
	log := logx.WithConnection(m.logger, m.lc.handle)
	if err := m.transport.Send(ctx, m.lc.handle, payload); err != nil {
		merr := NewMonitorError(MonitorErrorSend, m.lc.config.Port.Address, err)
		log.Warn("monitor send failed", "err", err)
		m.message(schema.MessageError, merr.Error())
		return merr
	}
	if m.history.Append(text) && m.store != nil {
		m.persistHistory()
	}
	log.Trace("monitor send ok", "bytes", len(payload))
	return nil
}

func (m *Monitor) clearConsole() {
	m.framer.Reset()
	m.console.Clear()
	m.sink.OnClear(schema.ClearEvent{MonitorID: m.id})
}

func (m *Monitor) applyBaudRate(rate schema.BaudRate) {
	m.model.SetBaudRate(rate)
	m.clearConsole()
}

// reconsider connects when a complete selection became available while the
// console is visible and idle. It never warns.
func (m *Monitor) reconsider(reason string) {
	if !m.visible || m.lc.state != schema.StateIdle {
		return
	}
	sel := m.discovery.Selection()
	if sel.Board == nil || sel.Port == nil {
		return
	}
	m.attemptConnect(reason)
}

func (m *Monitor) attemptConnect(reason string) {
	if m.closing {
		return
	}
	if m.lc.state != schema.StateIdle {
		m.logger.Debug("monitor connect skipped", "reason", reason, "state", m.lc.state)
		return
	}
	cfg, ok := m.connectionConfig()
	if !ok {
		return
	}
	m.startConnect(reason, cfg)
}

// connectionConfig builds a connect request from the session and the
// current selection. Incomplete selections warn; unmatched ones are silent.
func (m *Monitor) connectionConfig() (schema.MonitorConfig, bool) {
	sel := m.discovery.Selection()
	if sel.Board == nil {
		m.message(schema.MessageWarn, "No boards selected.")
		return schema.MonitorConfig{}, false
	}
	if sel.Port == nil {
		m.message(schema.MessageWarn, fmt.Sprintf("No ports selected for board: '%s'.", sel.Board.Name))
		return schema.MonitorConfig{}, false
	}
	ctx, cancel := context.WithTimeout(m.runCtx, m.cfg.DiscoveryTimeout)
	defer cancel()
	attached, err := m.discovery.AttachedDevices(ctx)
	if err != nil {
		merr := NewMonitorError(MonitorErrorDiscovery, sel.Port.Address, err)
		m.logger.Warn("monitor discovery failed", "err", err)
		m.message(schema.MessageError, merr.Error())
		return schema.MonitorConfig{}, false
	}
	if !devicematch.Matches(sel, attached) {
		logx.WithPort(m.logger, *sel.Board, *sel.Port).Debug("monitor device unavailable", "attached", len(attached))
		return schema.MonitorConfig{}, false
	}
	return schema.MonitorConfig{
		BaudRate: m.model.BaudRate(),
		Board:    *sel.Board,
		Port:     *sel.Port,
	}, true
}

func (m *Monitor) targetsSelection(cfg schema.MonitorConfig) bool {
	sel := m.discovery.Selection()
	if sel.Board == nil || sel.Port == nil {
		return false
	}
	return devicematch.SameBoard(*sel.Board, cfg.Board) && devicematch.SamePort(*sel.Port, cfg.Port)
}

func (m *Monitor) startConnect(reason string, cfg schema.MonitorConfig) {
	if err := m.lc.toConnecting(cfg); err != nil {
		m.logger.Warn("monitor connect rejected", "err", err)
		return
	}
	logx.WithPort(m.logger, cfg.Board, cfg.Port).Info("monitor connect start", "reason", reason, "baud", cfg.BaudRate)
	ctx, cancel := context.WithTimeout(m.runCtx, m.cfg.ConnectTimeout)
	go func() {
		defer cancel()
		id, err := m.transport.Connect(ctx, cfg)
		m.settled <- settlement{kind: settleConnect, cfg: cfg, id: id, err: err}
	}()
}

func (m *Monitor) startDisconnect(reason string) {
	id := m.lc.handle
	port := m.lc.config.Port.Address
	if err := m.lc.toDisconnecting(); err != nil {
		m.logger.Warn("monitor disconnect rejected", "err", err)
		return
	}
	logx.WithConnection(m.logger, id).Info("monitor disconnect start", "reason", reason, "port", port)
	ctx, cancel := context.WithTimeout(context.WithoutCancel(m.runCtx), m.cfg.DisconnectTimeout)
	go func() {
		defer cancel()
		err := m.transport.Disconnect(ctx, id)
		m.settled <- settlement{kind: settleDisconnect, cfg: schema.MonitorConfig{Port: schema.Port{Address: port}}, id: id, err: err}
	}()
}

func (m *Monitor) settle(s settlement) {
	switch s.kind {
	case settleConnect:
		if s.err != nil {
			_ = m.lc.toIdle()
			merr := NewMonitorError(MonitorErrorConnect, s.cfg.Port.Address, s.err)
			m.logger.Warn("monitor connect failed", "port", s.cfg.Port.Address, "err", s.err)
			m.message(schema.MessageError, merr.Error())
			m.afterSettle()
			return
		}
		_ = m.lc.toConnected(s.id)
		logx.WithConnection(m.logger, s.id).Info("monitor connect ok", "port", s.cfg.Port.Address, "baud", s.cfg.BaudRate)
		switch {
		case m.closing || !m.visible:
			m.startDisconnect("detached")
		case m.pendingBaud != nil:
			m.startDisconnect("baud")
		case !m.targetsSelection(s.cfg):
			m.retry = true
			m.startDisconnect("selection")
		}
	case settleDisconnect:
		_ = m.lc.toIdle()
		if s.err != nil {
			merr := NewMonitorError(MonitorErrorDisconnect, s.cfg.Port.Address, s.err)
			logx.WithConnection(m.logger, s.id).Warn("monitor disconnect failed", "err", s.err)
			m.message(schema.MessageError, merr.Error())
		} else {
			logx.WithConnection(m.logger, s.id).Info("monitor disconnect ok")
		}
		m.afterSettle()
	}
}

// afterSettle runs deferred work once the lifecycle is idle again.
func (m *Monitor) afterSettle() {
	if m.closing {
		return
	}
	reconnect := m.retry
	m.retry = false
	if m.pendingBaud != nil {
		rate := *m.pendingBaud
		m.pendingBaud = nil
		m.applyBaudRate(rate)
		reconnect = true
	}
	if reconnect && m.visible {
		m.attemptConnect("reconnect")
	}
}

// shutdown closes the live connection and waits for in-flight calls.
func (m *Monitor) shutdown() {
	close(m.done)
	m.closing = true
	m.visible = false
	m.retry = false
	m.pendingBaud = nil
	if m.lc.state == schema.StateConnected {
		m.startDisconnect("shutdown")
	}
	for m.lc.inFlight() {
		m.settle(<-m.settled)
	}
}

func (m *Monitor) onTransition(from schema.State, l *lifecycle) {
	m.logger.Debug("monitor state", "from", from, "to", l.state)
	m.sink.OnState(schema.StateEvent{
		MonitorID:    m.id,
		From:         from,
		To:           l.state,
		ConnectionID: l.handle,
		Config:       l.config,
	})
}

func (m *Monitor) message(level schema.MessageLevel, text string) {
	switch level {
	case schema.MessageError:
		m.logger.Warn("monitor message", "level", level, "text", text)
	default:
		m.logger.Info("monitor message", "level", level, "text", text)
	}
	m.sink.OnMessage(schema.MessageEvent{MonitorID: m.id, Level: level, Text: text})
}

func (m *Monitor) loadSession() {
	data, ok, err := m.store.Load(m.id)
	if err != nil {
		m.logger.Warn("monitor session load failed", "err", err)
		return
	}
	if !ok {
		return
	}
	var state session.State
	if err := state.UnmarshalBinary(data); err != nil {
		m.logger.Warn("monitor session decode failed", "err", err)
		return
	}
	m.model.Restore(state)
	m.logger.Debug("monitor session restored", "baud", state.BaudRate, "timestamp", state.Timestamp)
}

func (m *Monitor) persistSession(state session.State) {
	data, err := state.MarshalBinary()
	if err != nil {
		m.logger.Warn("monitor session encode failed", "err", err)
		return
	}
	if err := m.store.Save(m.id, data); err != nil {
		m.logger.Warn("monitor session save failed", "err", err)
	}
}

// historyKey names the stored blob holding sent-text history.
func historyKey(id schema.MonitorID) schema.MonitorID {
	return id + ".history"
}

func (m *Monitor) loadHistory() {
	data, ok, err := m.store.Load(historyKey(m.id))
	if err != nil || !ok {
		if err != nil {
			m.logger.Warn("monitor history load failed", "err", err)
		}
		return
	}
	entries, err := session.UnmarshalHistory(data)
	if err != nil {
		m.logger.Warn("monitor history decode failed", "err", err)
		return
	}
	m.history.Restore(entries)
	m.logger.Debug("monitor history restored", "entries", len(entries))
}

func (m *Monitor) persistHistory() {
	data, err := session.MarshalHistory(m.history.Entries())
	if err != nil {
		m.logger.Warn("monitor history encode failed", "err", err)
		return
	}
	if err := m.store.Save(historyKey(m.id), data); err != nil {
		m.logger.Warn("monitor history save failed", "err", err)
	}
}
