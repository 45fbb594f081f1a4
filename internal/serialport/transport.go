// Package serialport implements the monitor transport on top of local serial
// TTY devices.
package serialport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tarm/serial"

	"pkt.systems/pslog"
	"pkt.systems/serialmon/internal/logx"
	"pkt.systems/serialmon/schema"
)

const (
	defaultReadTimeout    = 100 * time.Millisecond
	defaultReadBufferSize = 1024

	// idleBackoff paces reads when a timed-out read reports io.EOF.
	idleBackoff = 10 * time.Millisecond
)

// Port is an open serial device.
type Port = io.ReadWriteCloser

// Opener opens the device described by cfg.
type Opener func(ctx context.Context, cfg schema.MonitorConfig, readTimeout time.Duration) (Port, error)

// OpenTTY opens a local TTY with 8N1 framing.
func OpenTTY(_ context.Context, cfg schema.MonitorConfig, readTimeout time.Duration) (Port, error) {
	return serial.OpenPort(&serial.Config{
		Name:        cfg.Port.Address,
		Baud:        int(cfg.BaudRate),
		ReadTimeout: readTimeout,
	})
}

// Options configures a Transport.
type Options struct {
	Opener         Opener
	ReadTimeout    time.Duration
	ReadBufferSize int
	Logger         pslog.Logger
}

// Transport tracks open serial connections by handle and fans their output
// out to read subscribers.
type Transport struct {
	opener      Opener
	readTimeout time.Duration
	bufSize     int
	log         pslog.Logger

	mu      sync.Mutex
	conns   map[schema.ConnectionID]*conn
	readers map[int]func(schema.ReadEvent)
	nextSub int
}

type conn struct {
	id      schema.ConnectionID
	port    Port
	cfg     schema.MonitorConfig
	writeMu sync.Mutex
	closed  chan struct{}
	done    chan struct{}
	once    sync.Once
}

// New constructs a Transport.
func New(opts Options) *Transport {
	if opts.Opener == nil {
		opts.Opener = OpenTTY
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaultReadTimeout
	}
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = defaultReadBufferSize
	}
	if opts.Logger == nil {
		opts.Logger = pslog.Ctx(context.Background())
	}
	return &Transport{
		opener:      opts.Opener,
		readTimeout: opts.ReadTimeout,
		bufSize:     opts.ReadBufferSize,
		log:         opts.Logger,
		conns:       make(map[schema.ConnectionID]*conn),
		readers:     make(map[int]func(schema.ReadEvent)),
	}
}

// Connect opens the configured port and starts delivering its output.
func (t *Transport) Connect(ctx context.Context, cfg schema.MonitorConfig) (schema.ConnectionID, error) {
	if cfg.Port.Address == "" {
		return "", errors.New("port address is required")
	}
	if cfg.Port.Protocol != "" && cfg.Port.Protocol != schema.ProtocolSerial {
		return "", fmt.Errorf("unsupported port protocol %q", cfg.Port.Protocol)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	port, err := t.opener(ctx, cfg, t.readTimeout)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", cfg.Port.Address, err)
	}
	if err := ctx.Err(); err != nil {
		_ = port.Close()
		return "", err
	}
	c := &conn{
		id:     schema.ConnectionID(uuid.NewString()),
		port:   port,
		cfg:    cfg,
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	t.mu.Lock()
	t.conns[c.id] = c
	t.mu.Unlock()

	log := logx.WithConnection(logx.WithPort(t.log, cfg.Board, cfg.Port), c.id)
	log.Info("serial open", "baud", cfg.BaudRate)
	go t.readLoop(c, log)
	return c.id, nil
}

// Disconnect closes the connection and waits for its reader to exit.
func (t *Transport) Disconnect(ctx context.Context, id schema.ConnectionID) error {
	t.mu.Lock()
	c, ok := t.conns[id]
	delete(t.conns, id)
	t.mu.Unlock()
	if !ok {
		return schema.ErrUnknownConnection
	}
	err := c.close()
	select {
	case <-c.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	logx.WithConnection(t.log, id).Info("serial close", "port", c.cfg.Port.Address)
	return err
}

// Send writes text to the connection.
func (t *Transport) Send(ctx context.Context, id schema.ConnectionID, text string) error {
	t.mu.Lock()
	c, ok := t.conns[id]
	t.mu.Unlock()
	if !ok {
		return schema.ErrUnknownConnection
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := io.WriteString(c.port, text); err != nil {
		return fmt.Errorf("write %s: %w", c.cfg.Port.Address, err)
	}
	return nil
}

// OnRead subscribes fn to output from every connection.
func (t *Transport) OnRead(fn func(schema.ReadEvent)) func() {
	t.mu.Lock()
	id := t.nextSub
	t.nextSub++
	t.readers[id] = fn
	t.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.readers, id)
			t.mu.Unlock()
		})
	}
}

// Close closes every open connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	conns := make([]*conn, 0, len(t.conns))
	for id, c := range t.conns {
		conns = append(conns, c)
		delete(t.conns, id)
	}
	t.mu.Unlock()
	var errs []error
	for _, c := range conns {
		if err := c.close(); err != nil {
			errs = append(errs, err)
		}
		<-c.done
	}
	return errors.Join(errs...)
}

func (t *Transport) readLoop(c *conn, log pslog.Logger) {
	defer close(c.done)
	buf := make([]byte, t.bufSize)
	for {
		n, err := c.port.Read(buf)
		if n > 0 {
			t.deliver(schema.ReadEvent{ConnectionID: c.id, Data: string(buf[:n])})
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			select {
			case <-c.closed:
				return
			case <-time.After(idleBackoff):
				continue
			}
		}
		select {
		case <-c.closed:
		default:
			log.Warn("serial read failed", "err", err)
		}
		return
	}
}

func (t *Transport) deliver(event schema.ReadEvent) {
	t.mu.Lock()
	readers := make([]func(schema.ReadEvent), 0, len(t.readers))
	for _, fn := range t.readers {
		readers = append(readers, fn)
	}
	t.mu.Unlock()
	for _, fn := range readers {
		fn(event)
	}
}

func (c *conn) close() error {
	var err error
	c.once.Do(func() {
		close(c.closed)
		err = c.port.Close()
	})
	return err
}
