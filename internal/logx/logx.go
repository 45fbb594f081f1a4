package logx

import (
	"context"

	"pkt.systems/pslog"
	"pkt.systems/serialmon/schema"
)

type contextKey int

const (
	monitorKey contextKey = iota
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithMonitor annotates the logger with the monitor id if present.
func WithMonitor(ctx context.Context, id schema.MonitorID) pslog.Logger {
	log := pslog.Ctx(ctx)
	if id != "" {
		if current, ok := ctx.Value(monitorKey).(schema.MonitorID); ok && current == id {
			return log
		}
		log = log.With("monitor", id)
	}
	return log
}

// WithPort annotates the logger with board and port identity when available.
func WithPort(log pslog.Logger, board schema.Board, port schema.Port) pslog.Logger {
	if board.FQBN != "" {
		log = log.With("fqbn", board.FQBN)
	} else if board.Name != "" {
		log = log.With("board", board.Name)
	}
	if port.Address != "" {
		log = log.With("port", port.Address)
	}
	return log
}

// WithConnection annotates the logger with a connection id when available.
func WithConnection(log pslog.Logger, id schema.ConnectionID) pslog.Logger {
	if id != "" {
		log = log.With("connection", id)
	}
	return log
}

// ContextWithMonitor stores the monitor marker on the context for log de-duplication.
func ContextWithMonitor(ctx context.Context, id schema.MonitorID) context.Context {
	if ctx == nil || id == "" {
		return ctx
	}
	return context.WithValue(ctx, monitorKey, id)
}

// ContextWithMonitorLogger attaches the logger and monitor marker to the context.
func ContextWithMonitorLogger(ctx context.Context, log pslog.Logger, id schema.MonitorID) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithMonitor(ctx, id)
}
