// Package framer reconstructs newline-terminated lines from an unaligned
// text stream.
package framer

import (
	"bytes"
	"time"
	"unicode/utf8"

	"pkt.systems/serialmon/schema"
)

// Framer accumulates fragments and emits complete lines. It always splits on
// '\n' regardless of the configured outgoing line ending, so '\r'-only
// devices never produce a framed line. A Framer is not safe for concurrent use.
type Framer struct {
	// pending never contains '\n' between calls to Feed.
	pending   []byte
	now       func() time.Time
	timestamp func() bool
	// maxPending caps the unterminated suffix in bytes; 0 means unlimited.
	maxPending int
}

// Option configures a Framer.
type Option func(*Framer)

// WithClock overrides the wall clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(f *Framer) {
		if now != nil {
			f.now = now
		}
	}
}

// WithTimestamp sets the source consulted at extraction time to decide
// whether a line is stamped.
func WithTimestamp(enabled func() bool) Option {
	return func(f *Framer) {
		if enabled != nil {
			f.timestamp = enabled
		}
	}
}

// WithMaxPending caps buffered bytes without a newline. When exceeded, the
// leading bytes are emitted as an unterminated line, cut back to a rune
// boundary. Nothing is dropped; over-long lines are split.
func WithMaxPending(n int) Option {
	return func(f *Framer) {
		if n > 0 {
			f.maxPending = n
		}
	}
}

// New returns an empty Framer.
func New(opts ...Option) *Framer {
	f := &Framer{
		now:       time.Now,
		timestamp: func() bool { return false },
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Feed appends fragment and returns every line it completes, in order.
// Only the new bytes are scanned for newlines.
func (f *Framer) Feed(fragment string) []schema.FramedLine {
	if fragment == "" {
		return nil
	}
	scan := len(f.pending)
	f.pending = append(f.pending, fragment...)

	var lines []schema.FramedLine
	start := 0
	for {
		idx := bytes.IndexByte(f.pending[scan:], '\n')
		if idx == -1 {
			break
		}
		end := scan + idx + 1
		lines = append(lines, f.line(string(f.pending[start:end])))
		start, scan = end, end
	}
	for f.maxPending > 0 && len(f.pending)-start > f.maxPending {
		cut := runeBoundary(f.pending[start:], f.maxPending)
		lines = append(lines, f.line(string(f.pending[start:start+cut])))
		start += cut
	}
	if start > 0 {
		n := copy(f.pending, f.pending[start:])
		f.pending = f.pending[:n]
	}
	return lines
}

// Reset discards the buffered remainder.
func (f *Framer) Reset() {
	f.pending = f.pending[:0]
}

// Pending returns the buffered text not yet terminated by a newline.
func (f *Framer) Pending() string {
	return string(f.pending)
}

func (f *Framer) line(text string) schema.FramedLine {
	line := schema.FramedLine{Text: text}
	if f.timestamp() {
		line.Stamp = f.now()
	}
	return line
}

// runeBoundary returns the largest cut <= limit that does not split a rune.
// A limit inside a run of invalid bytes is returned unchanged.
func runeBoundary(s []byte, limit int) int {
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if cut == 0 {
		return limit
	}
	return cut
}
