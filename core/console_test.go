package core

import (
	"fmt"
	"testing"

	"pkt.systems/serialmon/schema"
)

func lines(n int) []schema.FramedLine {
	out := make([]schema.FramedLine, n)
	for i := range out {
		out[i] = schema.FramedLine{Text: fmt.Sprintf("line %d\n", i)}
	}
	return out
}

func TestConsoleTrimsToMaxLines(t *testing.T) {
	c := newConsole(3)
	c.Append(true, lines(5)...)
	view := c.Snapshot(0)
	if view.TotalLines != 3 {
		t.Fatalf("expected 3 lines, got %d", view.TotalLines)
	}
	if view.Lines[0].Text != "line 2\n" || view.Lines[2].Text != "line 4\n" {
		t.Fatalf("expected newest lines kept, got %+v", view.Lines)
	}
}

func TestConsoleAutoscrollSnapsToBottom(t *testing.T) {
	c := newConsole(100)
	c.Append(true, lines(10)...)
	c.Scroll(4, 3)
	if view := c.Snapshot(3); view.AtBottom {
		t.Fatalf("expected scrolled view")
	}
	c.Append(true, lines(1)...)
	view := c.Snapshot(3)
	if !view.AtBottom || view.ScrollOffset != 0 {
		t.Fatalf("expected autoscroll to reset offset, got %d", view.ScrollOffset)
	}
}

func TestConsoleWithoutAutoscrollKeepsAnchor(t *testing.T) {
	c := newConsole(100)
	c.Append(false, lines(10)...)
	c.Scroll(2, 3)
	before := c.Snapshot(3)
	c.Append(false, lines(4)...)
	after := c.Snapshot(3)
	if after.ScrollOffset != before.ScrollOffset+4 {
		t.Fatalf("expected offset to grow by appended lines, got %d -> %d", before.ScrollOffset, after.ScrollOffset)
	}
	for i := range before.Lines {
		if before.Lines[i] != after.Lines[i] {
			t.Fatalf("expected anchored view, got %+v then %+v", before.Lines, after.Lines)
		}
	}
}

func TestConsoleScrollClamps(t *testing.T) {
	c := newConsole(100)
	c.Append(true, lines(5)...)
	c.Scroll(50, 2)
	if view := c.Snapshot(2); view.ScrollOffset != 3 {
		t.Fatalf("expected clamp to 3, got %d", view.ScrollOffset)
	}
	c.Scroll(-50, 2)
	if view := c.Snapshot(2); view.ScrollOffset != 0 {
		t.Fatalf("expected clamp to 0, got %d", view.ScrollOffset)
	}
}

func TestConsoleClear(t *testing.T) {
	c := newConsole(0)
	c.Append(true, lines(4)...)
	c.Scroll(1, 2)
	c.Clear()
	view := c.Snapshot(0)
	if view.TotalLines != 0 || !view.AtBottom || len(view.Lines) != 0 {
		t.Fatalf("expected empty console, got %+v", view)
	}
}
