package appconfig

import (
	"testing"

	"pkt.systems/serialmon/schema"
)

func TestDefaultConfigMonitorDefaults(t *testing.T) {
	cfg, err := DefaultConfig()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	if cfg.Monitor.Baud() != schema.DefaultBaudRate {
		t.Fatalf("expected default baud %d, got %d", schema.DefaultBaudRate, cfg.Monitor.Baud())
	}
	if cfg.Monitor.EOL() != schema.LineEndingNL {
		t.Fatalf("expected newline default, got %q", cfg.Monitor.EOL())
	}
	if !cfg.Monitor.Autoscroll || cfg.Monitor.Timestamp {
		t.Fatalf("expected autoscroll on and timestamps off")
	}
	if len(cfg.Discovery.Boards) == 0 {
		t.Fatalf("expected default board table")
	}
}
