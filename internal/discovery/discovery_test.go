package discovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pkt.systems/serialmon/schema"
)

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// fakeSysfs lays out class/tty/<name>/device -> devices/.../<iface> with
// USB attributes on the interface's parent.
func fakeSysfs(t *testing.T, root, name, vid, pid, product string) {
	t.Helper()
	usb := filepath.Join(root, "devices", "usb1", "1-1")
	iface := filepath.Join(usb, "1-1:1.0")
	if err := os.MkdirAll(iface, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeFile(t, filepath.Join(usb, "idVendor"), vid+"\n")
	writeFile(t, filepath.Join(usb, "idProduct"), pid+"\n")
	if product != "" {
		writeFile(t, filepath.Join(usb, "product"), product+"\n")
	}
	class := filepath.Join(root, "class", "tty", name)
	if err := os.MkdirAll(class, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.Symlink(iface, filepath.Join(class, "device")); err != nil {
		t.Fatalf("symlink: %v", err)
	}
}

func TestScannerIdentifiesBoards(t *testing.T) {
	dev := t.TempDir()
	sysfs := t.TempDir()
	writeFile(t, filepath.Join(dev, "ttyACM0"), "")
	writeFile(t, filepath.Join(dev, "ttyUSB0"), "")
	writeFile(t, filepath.Join(dev, "null"), "")
	fakeSysfs(t, sysfs, "ttyACM0", "2341", "0043", "Arduino Uno")

	scanner, err := NewScanner(ScannerConfig{
		Patterns:  []string{filepath.Join(dev, "ttyACM*"), filepath.Join(dev, "ttyUSB*")},
		SysfsRoot: sysfs,
		Boards:    []BoardRule{{VID: "2341", PID: "0043", Name: "Arduino Uno", FQBN: "arduino:avr:uno"}},
	})
	if err != nil {
		t.Fatalf("new scanner: %v", err)
	}
	devices, err := scanner.AttachedDevices(context.Background())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("expected 2 devices, got %+v", devices)
	}
	uno := devices[0]
	if uno.Port.Address != filepath.Join(dev, "ttyACM0") || !uno.IsSerial() {
		t.Fatalf("unexpected first device %+v", uno)
	}
	if uno.Board.FQBN != "arduino:avr:uno" {
		t.Fatalf("expected uno fqbn, got %+v", uno.Board)
	}
	if uno.Description != "Arduino Uno (2341:0043)" {
		t.Fatalf("unexpected description %q", uno.Description)
	}
	if devices[1].Board != GenericBoard {
		t.Fatalf("expected generic board for unidentified device, got %+v", devices[1].Board)
	}
}

func TestScannerFallsBackToProductName(t *testing.T) {
	dev := t.TempDir()
	sysfs := t.TempDir()
	writeFile(t, filepath.Join(dev, "ttyUSB3"), "")
	fakeSysfs(t, sysfs, "ttyUSB3", "1a86", "7523", "USB Serial")
	scanner, err := NewScanner(ScannerConfig{Patterns: []string{filepath.Join(dev, "ttyUSB*")}, SysfsRoot: sysfs})
	if err != nil {
		t.Fatalf("new scanner: %v", err)
	}
	devices, err := scanner.AttachedDevices(context.Background())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(devices) != 1 || devices[0].Board.Name != "USB Serial" || devices[0].Board.FQBN != "" {
		t.Fatalf("unexpected devices %+v", devices)
	}
}

func TestScannerRejectsBadPattern(t *testing.T) {
	if _, err := NewScanner(ScannerConfig{Patterns: []string{"/dev/[tty"}}); err == nil {
		t.Fatalf("expected pattern error")
	}
}

func TestScannerCovers(t *testing.T) {
	scanner, err := NewScanner(ScannerConfig{})
	if err != nil {
		t.Fatalf("new scanner: %v", err)
	}
	if !scanner.Covers("/dev/ttyACM0") || scanner.Covers("/dev/sda") {
		t.Fatalf("unexpected default coverage")
	}
}

func TestSelectionNotifiesOnChangeOnly(t *testing.T) {
	sel := NewSelection("Arduino Uno", "arduino:avr:uno", "")
	if got := sel.Selection(); got.Board == nil || got.Port != nil {
		t.Fatalf("unexpected initial selection %+v", got)
	}
	calls := 0
	cancel := sel.OnChange(func(schema.DeviceSelection) { calls++ })
	port := schema.Port{Address: "/dev/ttyACM0", Protocol: schema.ProtocolSerial}
	next := sel.Selection()
	next.Port = &port
	sel.Set(next)
	sel.Set(next)
	if calls != 1 {
		t.Fatalf("expected one notification, got %d", calls)
	}
	cancel()
	sel.Set(schema.DeviceSelection{})
	if calls != 1 {
		t.Fatalf("expected no notification after cancel, got %d", calls)
	}
}

func TestSelectionReturnsCopies(t *testing.T) {
	sel := NewSelection("Uno", "", "/dev/ttyACM0")
	got := sel.Selection()
	got.Port.Address = "/dev/mutated"
	if sel.Selection().Port.Address != "/dev/ttyACM0" {
		t.Fatalf("selection leaked internal state")
	}
}

func TestAutoSelectBoardFromPort(t *testing.T) {
	dev := t.TempDir()
	sysfs := t.TempDir()
	writeFile(t, filepath.Join(dev, "ttyACM0"), "")
	fakeSysfs(t, sysfs, "ttyACM0", "2341", "0043", "")
	scanner, err := NewScanner(ScannerConfig{
		Patterns:  []string{filepath.Join(dev, "ttyACM*")},
		SysfsRoot: sysfs,
		Boards:    []BoardRule{{VID: "2341", PID: "0043", Name: "Arduino Uno", FQBN: "arduino:avr:uno"}},
	})
	if err != nil {
		t.Fatalf("new scanner: %v", err)
	}
	svc := NewService(scanner, NewSelection("", "", filepath.Join(dev, "ttyACM0")))
	changed, err := svc.AutoSelectBoard(context.Background())
	if err != nil || !changed {
		t.Fatalf("expected board auto-selected, changed=%v err=%v", changed, err)
	}
	if got := svc.Selection(); got.Board == nil || got.Board.FQBN != "arduino:avr:uno" {
		t.Fatalf("unexpected selection %+v", got)
	}
	if changed, _ := svc.AutoSelectBoard(context.Background()); changed {
		t.Fatalf("expected no change once a board is selected")
	}
}

func TestWatchDirFor(t *testing.T) {
	if got := WatchDirFor(DefaultPatterns); got != "/dev" {
		t.Fatalf("expected /dev, got %q", got)
	}
	if got := WatchDirFor([]string{"/dev/ttyACM*", "/dev/serial/by-id/*"}); got != "" {
		t.Fatalf("expected no common dir, got %q", got)
	}
}

func TestWatcherCoalescesDeviceEvents(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher(WatcherConfig{
		Dir:      dir,
		Covers:   func(path string) bool { return filepath.Base(path) != "ignored" },
		Debounce: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := make(chan struct{}, 8)
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, func() { changes <- struct{}{} }) }()

	writeFile(t, filepath.Join(dir, "ttyACM0"), "")
	writeFile(t, filepath.Join(dir, "ttyACM1"), "")
	select {
	case <-changes:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for change")
	}
	select {
	case <-changes:
		t.Fatalf("expected burst to coalesce into one change")
	case <-time.After(100 * time.Millisecond):
	}

	writeFile(t, filepath.Join(dir, "ignored"), "")
	select {
	case <-changes:
		t.Fatalf("expected uncovered path to be ignored")
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("watcher did not stop")
	}
}
