package core

import "strings"

const defaultHistoryMax = 200

// historyBuffer remembers text sent to the device, oldest first. It is
// owned by the monitor loop and persisted beside the session settings.
type historyBuffer struct {
	entries []string
	max     int
}

func newHistory(max int) *historyBuffer {
	if max <= 0 {
		max = defaultHistoryMax
	}
	return &historyBuffer{max: max}
}

// Restore replaces the entries with stored ones, applying the same rules
// as Append so a hand-edited or older blob cannot exceed the cap.
func (h *historyBuffer) Restore(entries []string) {
	h.entries = h.entries[:0]
	for _, entry := range entries {
		h.Append(entry)
	}
}

// Append records sent text. Blank text and an immediate repeat are not
// recorded; it reports whether the history changed.
func (h *historyBuffer) Append(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	if n := len(h.entries); n > 0 && h.entries[n-1] == text {
		return false
	}
	if len(h.entries) == h.max {
		copy(h.entries, h.entries[1:])
		h.entries[len(h.entries)-1] = text
		return true
	}
	h.entries = append(h.entries, text)
	return true
}

func (h *historyBuffer) Entries() []string {
	return append([]string(nil), h.entries...)
}
