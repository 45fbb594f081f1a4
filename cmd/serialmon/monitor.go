package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/serialmon"
	"pkt.systems/serialmon/core"
	"pkt.systems/serialmon/internal/appconfig"
	"pkt.systems/serialmon/internal/discovery"
	"pkt.systems/serialmon/internal/format"
	"pkt.systems/serialmon/internal/serialport"
	"pkt.systems/serialmon/internal/session"
	"pkt.systems/serialmon/schema"
)

type monitorFlags struct {
	cfgPath   string
	port      string
	board     string
	fqbn      string
	baud      int
	eol       string
	timestamp bool
	noWatch   bool
}

func newMonitorCmd() *cobra.Command {
	var flags monitorFlags
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Open an interactive serial console",
		Long: "Open an interactive serial console. Lines typed on stdin are sent to the device " +
			"with the configured line ending. Lines starting with ~ are console commands; ~help lists them.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(flags.cfgPath)
			if err != nil {
				return err
			}
			overrides := applyMonitorFlags(cmd, &cfg, flags)
			return runMonitor(cmd.Context(), cfg, overrides, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&flags.cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVarP(&flags.port, "port", "p", "", "serial port address, e.g. /dev/ttyACM0")
	cmd.Flags().StringVarP(&flags.board, "board", "b", "", "board name")
	cmd.Flags().StringVar(&flags.fqbn, "fqbn", "", "fully qualified board name")
	cmd.Flags().IntVar(&flags.baud, "baud", int(schema.DefaultBaudRate), "baud rate")
	cmd.Flags().StringVar(&flags.eol, "eol", "nl", "line ending for sent text: none, nl, cr or crlf")
	cmd.Flags().BoolVar(&flags.timestamp, "timestamp", false, "prefix received lines with a timestamp")
	cmd.Flags().BoolVar(&flags.noWatch, "no-watch", false, "do not watch for hot-plugged devices")
	return cmd
}

// sessionOverrides are session settings given on the command line. They
// replace whatever the stored session restored.
type sessionOverrides struct {
	baud      *schema.BaudRate
	eol       *schema.LineEnding
	timestamp *bool
}

func (o sessionOverrides) apply(model *session.Model) {
	if o.baud != nil {
		model.SetBaudRate(*o.baud)
	}
	if o.eol != nil {
		model.SetLineEnding(*o.eol)
	}
	if o.timestamp != nil {
		model.SetTimestamp(*o.timestamp)
	}
}

// applyMonitorFlags copies explicitly set flags over the loaded config.
func applyMonitorFlags(cmd *cobra.Command, cfg *appconfig.Config, flags monitorFlags) sessionOverrides {
	var overrides sessionOverrides
	changed := cmd.Flags().Changed
	if changed("port") {
		cfg.Selection.Port = flags.port
	}
	if changed("board") {
		cfg.Selection.BoardName = flags.board
	}
	if changed("fqbn") {
		cfg.Selection.FQBN = flags.fqbn
	}
	if changed("baud") {
		rate := schema.NormalizeBaudRate(schema.BaudRate(flags.baud))
		cfg.Monitor.BaudRate = int(rate)
		overrides.baud = &rate
	}
	if changed("eol") {
		eol := schema.ParseLineEnding(flags.eol)
		cfg.Monitor.LineEnding = flags.eol
		overrides.eol = &eol
	}
	if changed("timestamp") {
		enabled := flags.timestamp
		cfg.Monitor.Timestamp = enabled
		overrides.timestamp = &enabled
	}
	if flags.noWatch {
		cfg.Discovery.WatchDir = ""
	}
	return overrides
}

func scannerConfig(ctx context.Context, cfg appconfig.DiscoveryConfig) discovery.ScannerConfig {
	boards := make([]discovery.BoardRule, 0, len(cfg.Boards))
	for _, board := range cfg.Boards {
		boards = append(boards, discovery.BoardRule{VID: board.VID, PID: board.PID, Name: board.Name, FQBN: board.FQBN})
	}
	return discovery.ScannerConfig{
		Patterns:  cfg.Patterns,
		SysfsRoot: cfg.SysfsRoot,
		Boards:    boards,
		Logger:    pslog.Ctx(ctx),
	}
}

func consoleConfig(ctx context.Context, cfg appconfig.Config) serialmon.ConsoleConfig {
	return serialmon.ConsoleConfig{
		Monitor: core.Config{
			ID:                schema.MonitorID(cfg.Monitor.ID),
			BufferMaxLines:    cfg.Monitor.BufferMaxLines,
			MaxPendingBytes:   cfg.Monitor.MaxPendingBytes,
			HistoryMax:        cfg.Monitor.HistoryMax,
			ConnectTimeout:    cfg.Monitor.ConnectTimeout(),
			DisconnectTimeout: cfg.Monitor.DisconnectTimeout(),
		},
		StateDir: cfg.StateDir,
		Scanner:  scannerConfig(ctx, cfg.Discovery),
		Watcher: serialmon.WatchConfig{
			Dir:      cfg.Discovery.WatchDir,
			Debounce: cfg.Discovery.WatchDebounce(),
		},
		Selection: serialmon.SelectionConfig{
			BoardName: cfg.Selection.BoardName,
			FQBN:      cfg.Selection.FQBN,
			Port:      cfg.Selection.Port,
			AutoBoard: true,
		},
		Defaults: session.State{
			BaudRate:   cfg.Monitor.Baud(),
			LineEnding: cfg.Monitor.EOL(),
			Timestamp:  cfg.Monitor.Timestamp,
			Autoscroll: cfg.Monitor.Autoscroll,
		},
	}
}

func runMonitor(ctx context.Context, cfg appconfig.Config, overrides sessionOverrides, in io.Reader, out io.Writer) error {
	logger := pslog.Ctx(ctx)
	transport := serialport.New(serialport.Options{
		ReadTimeout: cfg.Monitor.ReadTimeout(),
		Logger:      logger,
	})
	defer func() { _ = transport.Close() }()

	console, err := serialmon.New(consoleConfig(ctx, cfg), serialmon.ConsoleDeps{
		Transport: transport,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	monitor := console.Monitor()
	overrides.apply(monitor.Session())

	events, cancelEvents := console.Bus().Subscribe(monitor.ID())
	defer cancelEvents()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := console.Start(runCtx); err != nil {
		return err
	}

	var outMu sync.Mutex
	write := func(chunks ...string) {
		outMu.Lock()
		defer outMu.Unlock()
		for _, chunk := range chunks {
			_, _ = io.WriteString(out, chunk)
		}
	}
	renderer := format.NewPlainRenderer()
	renderDone := make(chan struct{})
	go func() {
		defer close(renderDone)
		for {
			select {
			case <-runCtx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				write(renderer.FormatEvent(ev)...)
			}
		}
	}()

	if err := monitor.Attach(runCtx); err != nil {
		return err
	}

	inputDone := make(chan error, 1)
	go func() { inputDone <- readInput(runCtx, monitor, in, write) }()

	var inputErr error
	select {
	case <-runCtx.Done():
	case inputErr = <-inputDone:
	}
	if err := monitor.Detach(context.Background()); err != nil {
		logger.Debug("monitor detach skipped", "err", err)
	}
	cancel()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Monitor.DisconnectTimeout()+time.Second)
	defer stopCancel()
	if err := console.Stop(stopCtx); err != nil {
		return err
	}
	<-renderDone
	return inputErr
}

func readInput(ctx context.Context, monitor *core.Monitor, in io.Reader, write func(...string)) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := scanner.Text()
		cmd, ok := parseConsoleCommand(line)
		if !ok {
			if err := monitor.Send(ctx, outgoingText(line)); err != nil {
				pslog.Ctx(ctx).Debug("monitor send rejected", "err", err)
			}
			continue
		}
		quit, err := cmd.apply(ctx, monitor, write)
		if err != nil {
			write(fmt.Sprintf("[error] %v\n", err))
		}
		if quit {
			return nil
		}
	}
	return scanner.Err()
}

// outgoingText unescapes a leading "~~" to a literal "~".
func outgoingText(line string) string {
	if strings.HasPrefix(line, "~~") {
		return line[1:]
	}
	return line
}

type consoleCommand struct {
	name string
	arg  string
}

// parseConsoleCommand recognises lines of the form "~name [arg]". A line
// starting with "~~" sends a literal "~".
func parseConsoleCommand(line string) (consoleCommand, bool) {
	if !strings.HasPrefix(line, "~") || strings.HasPrefix(line, "~~") {
		return consoleCommand{}, false
	}
	fields := strings.Fields(strings.TrimPrefix(line, "~"))
	if len(fields) == 0 {
		return consoleCommand{}, false
	}
	cmd := consoleCommand{name: strings.ToLower(fields[0])}
	if len(fields) > 1 {
		cmd.arg = strings.Join(fields[1:], " ")
	}
	return cmd, true
}

const consoleHelp = `console commands:
  ~.              quit
  ~clear          clear the console
  ~baud <rate>    change the baud rate
  ~eol <ending>   none, nl, cr or crlf
  ~ts on|off      toggle timestamps
  ~history        list sent lines
  ~status         show connection state
  ~~text          send text starting with ~
`

func (c consoleCommand) apply(ctx context.Context, monitor *core.Monitor, write func(...string)) (bool, error) {
	switch c.name {
	case ".", "quit", "exit":
		return true, nil
	case "help", "?":
		write(consoleHelp)
	case "clear":
		return false, monitor.ClearConsole(ctx)
	case "baud":
		rate := schema.ParseBaudRate(c.arg)
		if err := monitor.ChangeBaudRate(ctx, rate); err != nil {
			return false, err
		}
		write(fmt.Sprintf("[info] baud rate %d\n", rate))
	case "eol":
		eol, ok := schema.LookupLineEnding(c.arg)
		if !ok {
			return false, fmt.Errorf("unknown line ending %q; expected none, nl, cr or crlf", c.arg)
		}
		if err := monitor.SetLineEnding(ctx, eol); err != nil {
			return false, err
		}
		write(fmt.Sprintf("[info] line ending %s\n", eol.Label()))
	case "ts", "timestamp":
		enabled, err := parseToggle(c.arg)
		if err != nil {
			return false, err
		}
		return false, monitor.SetTimestamp(ctx, enabled)
	case "history":
		entries, err := monitor.History(ctx)
		if err != nil {
			return false, err
		}
		for i, entry := range entries {
			write(fmt.Sprintf("%3d  %s\n", i+1, entry))
		}
	case "status":
		status, err := monitor.Status(ctx)
		if err != nil {
			return false, err
		}
		write(formatStatus(status, monitor.Session()))
	default:
		return false, fmt.Errorf("unknown console command %q; try ~help", c.name)
	}
	return false, nil
}

func parseToggle(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "on", "true", "yes", "1":
		return true, nil
	case "off", "false", "no", "0":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", value)
}

func formatStatus(status core.Status, model *session.Model) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[info] state %s", status.State)
	if status.ConnectionID != "" {
		fmt.Fprintf(&b, " on %s", status.Config.Port.Address)
	}
	fmt.Fprintf(&b, ", %d baud, %s, timestamps %t\n", model.BaudRate(), model.LineEnding().Label(), model.Timestamp())
	return b.String()
}
