package format

import (
	"fmt"
	"strings"

	"pkt.systems/serialmon/internal/eventbus"
	"pkt.systems/serialmon/schema"
)

// PlainRenderer formats monitor events as terminal text. Returned chunks
// carry their own line terminators and are written verbatim.
type PlainRenderer struct {
	// Timestamps forces the timestamp prefix off when false, even for
	// stamped lines.
	Timestamps bool
}

// NewPlainRenderer returns a default plain-text renderer.
func NewPlainRenderer() *PlainRenderer {
	return &PlainRenderer{Timestamps: true}
}

// FormatEvent converts a bus event into output chunks. Lines the
// subscriber lost are announced before the event itself.
func (p *PlainRenderer) FormatEvent(event eventbus.Event) []string {
	out := p.formatEvent(event)
	if event.LostLines > 0 {
		gap := fmt.Sprintf("--- %d lines lost ---\n", event.LostLines)
		out = append([]string{gap}, out...)
	}
	return out
}

func (p *PlainRenderer) formatEvent(event eventbus.Event) []string {
	switch event.Type {
	case eventbus.EventLines:
		return p.FormatLines(event.Lines.Lines)
	case eventbus.EventMessage:
		return []string{formatMessage(event.Message)}
	case eventbus.EventState:
		if line := formatState(event.State); line != "" {
			return []string{line}
		}
		return nil
	default:
		return nil
	}
}

// FormatLines renders framed lines with control characters removed.
func (p *PlainRenderer) FormatLines(lines []schema.FramedLine) []string {
	if len(lines) == 0 {
		return nil
	}
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		text := Sanitize(line.Text)
		if p.Timestamps && line.Stamped() {
			text = line.Prefix() + text
		}
		out = append(out, text)
	}
	return out
}

func formatMessage(msg schema.MessageEvent) string {
	level := string(msg.Level)
	if level == "" {
		level = string(schema.MessageInfo)
	}
	return fmt.Sprintf("[%s] %s\n", level, msg.Text)
}

func formatState(ev schema.StateEvent) string {
	switch ev.To {
	case schema.StateConnected:
		return fmt.Sprintf("--- connected to %s at %d baud ---\n", ev.Config.Port.Address, ev.Config.BaudRate)
	case schema.StateIdle:
		if ev.From == schema.StateDisconnecting {
			return "--- disconnected ---\n"
		}
		return ""
	default:
		return ""
	}
}

// Sanitize drops control characters other than tab, carriage return and
// newline so device noise cannot drive the terminal.
func Sanitize(text string) string {
	clean := true
	for _, r := range text {
		if isControl(r) {
			clean = false
			break
		}
	}
	if clean {
		return text
	}
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if isControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isControl(r rune) bool {
	switch r {
	case '\t', '\r', '\n':
		return false
	}
	return r < 0x20 || r == 0x7f || (r >= 0x80 && r < 0xa0)
}
