package core

import "pkt.systems/serialmon/schema"

// ConsoleView is a snapshot of the console's visible state.
type ConsoleView struct {
	Lines        []schema.FramedLine
	TotalLines   int
	ScrollOffset int
	AtBottom     bool
}

// console stores framed lines and scroll state.
// scrollOffset is the number of lines from the bottom; 0 means at bottom.
type console struct {
	lines        []schema.FramedLine
	scrollOffset int
	maxLines     int
}

func newConsole(maxLines int) *console {
	if maxLines <= 0 {
		maxLines = schema.DefaultBufferMaxLines
	}
	return &console{maxLines: maxLines}
}

// Append adds lines. With autoscroll the view snaps to the bottom; without
// it a scrolled-up view stays anchored on the lines it shows.
func (c *console) Append(autoscroll bool, lines ...schema.FramedLine) {
	if len(lines) == 0 {
		return
	}
	c.lines = append(c.lines, lines...)
	if autoscroll {
		c.scrollOffset = 0
	} else if c.scrollOffset > 0 {
		c.scrollOffset += len(lines)
	}
	if len(c.lines) > c.maxLines {
		trim := len(c.lines) - c.maxLines
		c.lines = append([]schema.FramedLine(nil), c.lines[trim:]...)
		if c.scrollOffset > len(c.lines) {
			c.scrollOffset = len(c.lines)
		}
	}
}

// Clear empties the console.
func (c *console) Clear() {
	c.lines = nil
	c.scrollOffset = 0
}

// ResetScroll returns the view to the bottom.
func (c *console) ResetScroll() {
	c.scrollOffset = 0
}

// Scroll adjusts the scroll offset by delta. Positive delta scrolls up (older lines),
// negative delta scrolls down. Limit is the viewport height.
func (c *console) Scroll(delta, limit int) {
	c.scrollOffset = clampScroll(c.scrollOffset+delta, len(c.lines), limit)
}

// Snapshot returns a view of the console for the given viewport limit.
func (c *console) Snapshot(limit int) ConsoleView {
	total := len(c.lines)
	if limit <= 0 || limit > total {
		limit = total
	}

	if max := maxScroll(total, limit); c.scrollOffset > max {
		c.scrollOffset = max
	}

	end := total - c.scrollOffset
	if end < 0 {
		end = 0
	}
	start := end - limit
	if start < 0 {
		start = 0
	}

	lines := make([]schema.FramedLine, end-start)
	copy(lines, c.lines[start:end])

	return ConsoleView{
		Lines:        lines,
		TotalLines:   total,
		ScrollOffset: c.scrollOffset,
		AtBottom:     c.scrollOffset == 0,
	}
}

func maxScroll(total, limit int) int {
	if total <= 0 || limit <= 0 || total <= limit {
		return 0
	}
	return total - limit
}

func clampScroll(offset, total, limit int) int {
	max := maxScroll(total, limit)
	if offset < 0 {
		return 0
	}
	if offset > max {
		return max
	}
	return offset
}
