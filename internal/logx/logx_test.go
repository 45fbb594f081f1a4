package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"pkt.systems/pslog"
	"pkt.systems/serialmon/schema"
)

func TestWithPortPrefersFQBN(t *testing.T) {
	capture := &logCapture{}
	logger := newCaptureLogger(capture)
	log := WithPort(logger, schema.Board{Name: "Uno", FQBN: "arduino:avr:uno"}, schema.Port{Address: "/dev/ttyACM0"})
	log.Info("hello")

	entry := capture.firstEntry(t)
	if entry["fqbn"] != "arduino:avr:uno" {
		t.Fatalf("expected fqbn field, got %+v", entry)
	}
	if _, ok := entry["board"]; ok {
		t.Fatalf("did not expect board name when fqbn is set")
	}
	if entry["port"] != "/dev/ttyACM0" {
		t.Fatalf("expected port field, got %+v", entry)
	}
}

func TestWithConnectionSkipsEmpty(t *testing.T) {
	capture := &logCapture{}
	log := WithConnection(newCaptureLogger(capture), "")
	log.Info("hello")

	entry := capture.firstEntry(t)
	if _, ok := entry["connection"]; ok {
		t.Fatalf("did not expect connection field, got %+v", entry)
	}
}

func TestWithMonitorDeduplicates(t *testing.T) {
	capture := &logCapture{}
	logger := newCaptureLogger(capture)
	ctx := ContextWithMonitorLogger(context.Background(), logger.With("monitor", "serial-monitor"), "serial-monitor")
	log := WithMonitor(ctx, "serial-monitor")
	log.Info("hello")

	data := capture.buf.String()
	if bytes.Count([]byte(data), []byte(`"monitor"`)) != 1 {
		t.Fatalf("expected single monitor field, got %s", data)
	}
}

func newCaptureLogger(capture *logCapture) pslog.Logger {
	return pslog.NewWithOptions(capture, pslog.Options{
		Mode:          pslog.ModeStructured,
		NoColor:       true,
		MinLevel:      pslog.InfoLevel,
		VerboseFields: true,
	})
}

type logCapture struct {
	buf bytes.Buffer
}

func (c *logCapture) Write(p []byte) (int, error) {
	return c.buf.Write(p)
}

func (c *logCapture) firstEntry(t *testing.T) map[string]any {
	t.Helper()
	data := c.buf.Bytes()
	idx := bytes.IndexByte(data, '\n')
	if idx == -1 {
		idx = len(data)
	}
	line := bytes.TrimSpace(data[:idx])
	entry := map[string]any{}
	if err := json.Unmarshal(line, &entry); err != nil {
		t.Fatalf("parse log entry: %v", err)
	}
	return entry
}
