package browser

// History is the list of visited URLs. The last entry is the current page.
type History struct {
	entries []string
}

func (h *History) Push(u string) { h.entries = append(h.entries, u) }

func (h *History) Len() int { return len(h.entries) }

// Entries returns a copy of the visited URLs, oldest first.
func (h *History) Entries() []string {
	return append([]string(nil), h.entries...)
}

// Current returns the last visited URL.
func (h *History) Current() (string, bool) {
	if len(h.entries) == 0 {
		return "", false
	}
	return h.entries[len(h.entries)-1], true
}

// Back pops the current and previous entries. The caller navigates to
// previous, which pushes it again, or calls Restore when that fails.
func (h *History) Back() (previous, current string, err error) {
	n := len(h.entries)
	if n < 2 {
		return "", "", ErrHistoryUnderflow
	}
	previous, current = h.entries[n-2], h.entries[n-1]
	h.entries = h.entries[:n-2]
	return previous, current, nil
}

// Restore undoes a Back.
func (h *History) Restore(previous, current string) {
	h.entries = append(h.entries, previous, current)
}
